package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

const (
	defaultResendBackoff = 30 * time.Minute
	defaultMaxAttempts   = 5
)

type resendableInvoiceLister interface {
	ListResendable(ctx context.Context, lastAttemptBefore time.Time, maxAttempts, limit int) ([]models.Invoice, error)
}

type paidOrderLister interface {
	ListPaidWithoutInvoice(ctx context.Context, before time.Time, limit int) ([]models.Order, error)
}

type invoiceDispatcher interface {
	Dispatch(ctx context.Context, order *models.Order, eventID string) error
	Resend(ctx context.Context, invoiceID uuid.UUID) error
}

// InvoiceResendJobParams configure invoice redelivery.
type InvoiceResendJobParams struct {
	Logger      *logger.Logger
	Invoices    resendableInvoiceLister
	Orders      paidOrderLister
	Dispatcher  invoiceDispatcher
	Backoff     time.Duration
	MaxAttempts int
	BatchSize   int
}

// NewInvoiceResendJob builds the job that retries failed invoice deliveries
// and creates invoices for paid orders whose dispatch never ran.
func NewInvoiceResendJob(params InvoiceResendJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Invoices == nil {
		return nil, fmt.Errorf("invoice repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Dispatcher == nil {
		return nil, fmt.Errorf("invoice dispatcher required")
	}
	backoff := params.Backoff
	if backoff <= 0 {
		backoff = defaultResendBackoff
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &invoiceResendJob{
		logg:        params.Logger,
		invoices:    params.Invoices,
		orders:      params.Orders,
		dispatcher:  params.Dispatcher,
		backoff:     backoff,
		maxAttempts: maxAttempts,
		batch:       batch,
		now:         time.Now,
	}, nil
}

type invoiceResendJob struct {
	logg        *logger.Logger
	invoices    resendableInvoiceLister
	orders      paidOrderLister
	dispatcher  invoiceDispatcher
	backoff     time.Duration
	maxAttempts int
	batch       int
	now         func() time.Time
}

func (j *invoiceResendJob) Name() string { return "invoice-resend" }

func (j *invoiceResendJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.backoff)
	return multierr.Combine(
		j.createMissing(ctx, cutoff),
		j.resendFailed(ctx, cutoff),
	)
}

func (j *invoiceResendJob) createMissing(ctx context.Context, cutoff time.Time) error {
	paid, err := j.orders.ListPaidWithoutInvoice(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("query paid orders without invoice: %w", err)
	}
	var errs error
	for i := range paid {
		order := &paid[i]
		if err := j.dispatcher.Dispatch(j.logg.WithOrderID(ctx, order.ID.String()), order, order.Metadata.EventID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("dispatch invoice for %s: %w", order.PaymentRef, err))
		}
	}
	if len(paid) > 0 {
		j.logg.Info(ctx, fmt.Sprintf("created %d missing invoices", len(paid)))
	}
	return errs
}

func (j *invoiceResendJob) resendFailed(ctx context.Context, cutoff time.Time) error {
	pending, err := j.invoices.ListResendable(ctx, cutoff, j.maxAttempts, j.batch)
	if err != nil {
		return fmt.Errorf("query resendable invoices: %w", err)
	}
	var errs error
	sent := 0
	for _, invoice := range pending {
		if err := j.dispatcher.Resend(ctx, invoice.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("resend invoice %s: %w", invoice.Number, err))
			continue
		}
		sent++
	}
	j.logg.Info(ctx, fmt.Sprintf("invoice resend: %d pending, %d delivered", len(pending), sent))
	return errs
}
