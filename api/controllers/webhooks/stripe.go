package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/angelmondragon/fulfillment-backend/api/responses"
	"github.com/angelmondragon/fulfillment-backend/internal/fulfillment"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

const maxWebhookBody = 1 << 20

type StripeWebhookService interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (fulfillment.Outcome, error)
}

// StripeWebhook verifies and reconciles payment events. Anything the service
// classifies as retryable is answered with a 5xx so the gateway redelivers;
// every other outcome is acknowledged.
func StripeWebhook(svc StripeWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}
		if len(payload) > maxWebhookBody {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "payload too large"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}

		outcome, err := svc.HandleWebhook(ctx, payload, sigHeader)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if pkgerrors.IsRetryable(err) {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "event not reconciled"))
				return
			}
			if logg != nil {
				logg.Error(ctx, "stripe.webhook.acknowledged_with_error", err)
			}
		}

		responses.WriteSuccess(w, responses.Ack{Received: true, Outcome: string(outcome)})
	}
}
