package refunds

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/mailer"
	stripeclient "github.com/angelmondragon/fulfillment-backend/pkg/stripe"
)

// Gateway issues refunds against the original payment.
type Gateway interface {
	CreateRefund(ctx context.Context, req stripeclient.RefundRequest) (*stripeclient.RefundResult, error)
}

// Mailer delivers the customer refund confirmation.
type Mailer interface {
	Send(ctx context.Context, msg mailer.Message) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}
