package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/event"
	"github.com/stripe/stripe-go/v84/refund"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/fulfillment-backend/pkg/config"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// RefundRequest describes a refund against a payment intent. Amount is in
// the currency's minor units.
type RefundRequest struct {
	PaymentRef     string
	Amount         int64
	Metadata       map[string]string
	IdempotencyKey string
}

// RefundResult is the subset of the gateway response kept in the ledger.
type RefundResult struct {
	ID     string
	Status string
	Amount int64
}

// Client wraps Stripe's API plus env-specific metadata.
type Client struct {
	environment   string
	signingSecret string
}

// NewClient initializes Stripe once with the configured secrets and env.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}

	signingSecret := strings.TrimSpace(cfg.Secret)
	if signingSecret == "" {
		return nil, errSecretRequired
	}

	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}

	stripe.Key = apiKey

	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_env", env), "stripe client initialized")
	}

	return &Client{
		environment:   env,
		signingSecret: signingSecret,
	}, nil
}

// Environment reports the normalized Stripe environment in use.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// VerifySignature checks the Stripe-Signature header against the raw payload
// and decodes the event. API version drift between the account and the SDK is
// tolerated because only metadata and ids are read from the payload.
func (c *Client) VerifySignature(payload []byte, header string) (*stripe.Event, error) {
	if c == nil || c.signingSecret == "" {
		return nil, errSecretRequired
	}
	evt, err := webhook.ConstructEventWithOptions(payload, header, c.signingSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, err
	}
	return &evt, nil
}

// RetrieveEvent re-fetches the authoritative copy of an event.
func (c *Client) RetrieveEvent(ctx context.Context, id string) (*stripe.Event, error) {
	params := &stripe.EventParams{}
	params.Context = ctx
	return event.Get(id, params)
}

// CreateRefund issues a refund for the payment intent. The idempotency key is
// forwarded so a retried request never refunds twice at the gateway.
func (c *Client) CreateRefund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if strings.TrimSpace(req.PaymentRef) == "" {
		return nil, errors.New("payment reference is required")
	}
	if req.Amount <= 0 {
		return nil, errors.New("refund amount must be positive")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentRef),
		Amount:        stripe.Int64(req.Amount),
	}
	params.Context = ctx
	for key, value := range req.Metadata {
		params.AddMetadata(key, value)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	res, err := refund.New(params)
	if err != nil {
		return nil, err
	}
	return &RefundResult{
		ID:     res.ID,
		Status: string(res.Status),
		Amount: res.Amount,
	}, nil
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

func validateAPIKey(env, key string) error {
	switch env {
	case testEnv:
		if strings.HasPrefix(key, "sk_test") || strings.HasPrefix(key, "rk_test") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a test secret key (sk_test/rk_test)", testEnv)
	case liveEnv:
		if strings.HasPrefix(key, "sk_live") || strings.HasPrefix(key, "rk_live") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a live secret key (sk_live/rk_live)", liveEnv)
	default:
		return errInvalidStripeEnv
	}
}
