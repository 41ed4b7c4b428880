package invoices

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/mailer"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

// Repository defines persistence operations for invoices and their send-state.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, invoice *models.Invoice) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Invoice, error)
	RecordDelivery(ctx context.Context, id uuid.UUID, sendErr error, at time.Time) error
	MarkAdminNotified(ctx context.Context, id uuid.UUID, at time.Time) error
	ListResendable(ctx context.Context, lastAttemptBefore time.Time, maxAttempts, limit int) ([]models.Invoice, error)
}

// Mailer delivers the rendered invoice.
type Mailer interface {
	Send(ctx context.Context, msg mailer.Message) error
}

// AdminAlerter raises an operator-facing alert about an order.
type AdminAlerter interface {
	Notify(ctx context.Context, summary types.OrderSummary) error
}
