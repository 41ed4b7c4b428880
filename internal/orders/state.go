package orders

import (
	"context"
	"time"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

// Failure codes recorded in order metadata.
const (
	FailureOutOfStock   = "out_of_stock"
	FailureInvalid      = "invalid_payload"
	FailurePayment      = "payment_failed"
	FailureClaimExpired = "claim_expired"
)

// MarkFailed moves a processing order to failed with the reason. It is a no-op
// returning false when the order has already left processing.
func MarkFailed(ctx context.Context, repo Repository, order *models.Order, code, reason string, at time.Time) (bool, error) {
	at = at.UTC()
	order.Status = enums.OrderStatusFailed
	order.FailedAt = &at
	order.Metadata.FailureCode = code
	order.Metadata.FailureReason = reason
	return repo.UpdateIfStatus(ctx, order, enums.OrderStatusProcessing, "status", "failed_at", "metadata")
}

// RecordAttempt appends a retryable failure to a processing order's metadata.
func RecordAttempt(ctx context.Context, repo Repository, order *models.Order, attempt types.ProcessingAttempt) (bool, error) {
	order.Metadata.ProcessingAttempts = append(order.Metadata.ProcessingAttempts, attempt)
	if attempt.EventID != "" {
		order.Metadata.EventID = attempt.EventID
	}
	return repo.UpdateIfStatus(ctx, order, enums.OrderStatusProcessing, "metadata")
}

// RecordPaymentFailure notes a declined charge on a processing claim. The
// claim stays processing since the customer may retry the same payment.
func RecordPaymentFailure(ctx context.Context, repo Repository, order *models.Order, failure types.ProcessingAttempt) (bool, error) {
	order.Metadata.PaymentFailures = append(order.Metadata.PaymentFailures, failure)
	return repo.UpdateIfStatus(ctx, order, enums.OrderStatusProcessing, "metadata")
}

// LastPaymentFailure returns the most recent declined charge, if any.
func LastPaymentFailure(order *models.Order) (types.ProcessingAttempt, bool) {
	n := len(order.Metadata.PaymentFailures)
	if n == 0 {
		return types.ProcessingAttempt{}, false
	}
	return order.Metadata.PaymentFailures[n-1], true
}
