package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/mailer"
	"github.com/angelmondragon/fulfillment-backend/pkg/money"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

var errNoChannel = errors.New("no admin alert channel configured")

// Publisher pushes alerts onto the admin topic.
type Publisher interface {
	PublishAdminAlert(ctx context.Context, summary types.OrderSummary) error
}

// Mailer sends the admin alert email.
type Mailer interface {
	Send(ctx context.Context, msg mailer.Message) error
}

type AlerterParams struct {
	Publisher  Publisher
	Mailer     Mailer
	AdminEmail string
	Logger     *logger.Logger
}

// Alerter fans an order summary out to every configured admin channel.
type Alerter struct {
	publisher  Publisher
	mailer     Mailer
	adminEmail string
	logg       *logger.Logger
}

func NewAlerter(params AlerterParams) (*Alerter, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	a := &Alerter{
		publisher:  params.Publisher,
		logg:       params.Logger,
		adminEmail: strings.TrimSpace(params.AdminEmail),
	}
	if a.adminEmail != "" {
		a.mailer = params.Mailer
	}
	return a, nil
}

// Notify delivers summary on every channel. It succeeds when at least one
// channel accepted the alert; failures on the others are only logged.
func (a *Alerter) Notify(ctx context.Context, summary types.OrderSummary) error {
	ctx = a.logg.WithFields(ctx, map[string]any{
		"alert_kind":  summary.Kind.String(),
		"payment_ref": summary.PaymentRef,
	})

	var errs error
	delivered := 0
	if a.publisher != nil {
		if err := a.publisher.PublishAdminAlert(ctx, summary); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("pubsub: %w", err))
		} else {
			delivered++
		}
	}
	if a.mailer != nil {
		if err := a.mailer.Send(ctx, adminMessage(a.adminEmail, summary)); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("email: %w", err))
		} else {
			delivered++
		}
	}

	switch {
	case delivered == 0 && errs == nil:
		return errNoChannel
	case delivered == 0:
		return errs
	case errs != nil:
		a.logg.Warn(ctx, fmt.Sprintf("admin alert partially delivered: %v", errs))
	}
	return nil
}

func adminMessage(to string, s types.OrderSummary) mailer.Message {
	lines := []string{
		fmt.Sprintf("Kind: %s", s.Kind),
		fmt.Sprintf("Order: %s", s.OrderID),
		fmt.Sprintf("Payment reference: %s", s.PaymentRef),
		fmt.Sprintf("Status: %s", s.Status),
		fmt.Sprintf("Total: %s", money.Format(s.Total, s.Currency)),
		fmt.Sprintf("Items: %d", s.ItemCount),
	}
	if s.Customer != "" {
		lines = append(lines, fmt.Sprintf("Customer: %s", s.Customer))
	}
	if s.Reason != "" {
		lines = append(lines, fmt.Sprintf("Reason: %s", s.Reason))
	}
	return mailer.Message{
		To:      to,
		Subject: fmt.Sprintf("[orders] %s %s", s.Kind, s.PaymentRef),
		Text:    strings.Join(lines, "\n"),
	}
}
