package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/pagination"
)

// Repository defines persistence operations for the order-of-record table.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Claim(ctx context.Context, paymentRef, eventID string) (*models.Order, bool, error)
	FindByPaymentRef(ctx context.Context, paymentRef string) (*models.Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	LockByPaymentRef(ctx context.Context, paymentRef string) (*models.Order, error)
	UpdateIfStatus(ctx context.Context, order *models.Order, expected enums.OrderStatus, columns ...string) (bool, error)
	ListStaleProcessing(ctx context.Context, before time.Time, limit int) ([]models.Order, error)
	ListPaidWithoutInvoice(ctx context.Context, before time.Time, limit int) ([]models.Order, error)
	List(ctx context.Context, filter ListFilter, params pagination.Params) (pagination.Page[models.Order], error)
}

// ListFilter narrows the admin order listing. A nil Status lists every order.
type ListFilter struct {
	Status *enums.OrderStatus
}
