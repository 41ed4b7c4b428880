package fulfillment

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/internal/clients"
	"github.com/angelmondragon/fulfillment-backend/internal/inventory"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

// Gateway verifies and re-reads payment events.
type Gateway interface {
	VerifySignature(payload []byte, header string) (*stripe.Event, error)
	RetrieveEvent(ctx context.Context, id string) (*stripe.Event, error)
}

type StockDecrementer interface {
	DecrementAll(ctx context.Context, tx *gorm.DB, reqs []inventory.Request) ([]types.StockChange, error)
}

type IdentityResolver interface {
	Resolve(ctx context.Context, tx *gorm.DB, sig clients.Signals) (*models.Client, error)
}

// InvoiceDispatcher takes over a paid order once its transaction committed.
type InvoiceDispatcher interface {
	Enqueue(ctx context.Context, order models.Order, eventID string)
}

type AdminAlerter interface {
	Notify(ctx context.Context, summary types.OrderSummary) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}
