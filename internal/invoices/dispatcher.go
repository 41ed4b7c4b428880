package invoices

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/pkg/db"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/mailer"
	"github.com/angelmondragon/fulfillment-backend/pkg/metrics"
)

const defaultTimeout = 60 * time.Second

var errNoRecipient = errors.New("order has no recipient email")

type DispatcherParams struct {
	Repository Repository
	Mailer     Mailer
	Alerter    AdminAlerter
	Logger     *logger.Logger
	Metrics    *metrics.FulfillmentMetrics
	StoreName  string
	Timeout    time.Duration
	Clock      func() time.Time
}

// Dispatcher creates invoices for paid orders and delivers them. Delivery
// state lives on the invoice and never touches the order's status.
type Dispatcher struct {
	repo      Repository
	mailer    Mailer
	alerter   AdminAlerter
	logg      *logger.Logger
	metrics   *metrics.FulfillmentMetrics
	storeName string
	timeout   time.Duration
	now       func() time.Time
	wg        sync.WaitGroup
}

func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Repository == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "invoice repository required")
	}
	if params.Mailer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "mailer required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		repo:      params.Repository,
		mailer:    params.Mailer,
		alerter:   params.Alerter,
		logg:      params.Logger,
		metrics:   params.Metrics,
		storeName: params.StoreName,
		timeout:   timeout,
		now:       now,
	}, nil
}

// Prepare persists the invoice for a paid order. An invoice that already
// exists for the order is returned as is.
func (d *Dispatcher) Prepare(ctx context.Context, order *models.Order, eventID string) (*models.Invoice, error) {
	if order == nil || order.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	if order.Status == enums.OrderStatusProcessing || order.Status == enums.OrderStatusFailed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not paid").
			WithDetails(map[string]any{"status": order.Status})
	}

	issuedAt := d.now().UTC()
	snapshot := BuildSnapshot(order, issuedAt)
	artifact, err := Render(d.storeName, snapshot)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "render invoice")
	}

	invoice := &models.Invoice{
		OrderID:     order.ID,
		EventID:     eventID,
		Number:      snapshot.Number,
		Recipient:   snapshot.RecipientEmail,
		Snapshot:    snapshot,
		Artifact:    artifact,
		ContentType: ContentTypeHTML,
	}
	if err := d.repo.Create(ctx, invoice); err != nil {
		if !db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create invoice")
		}
		existing, findErr := d.repo.FindByOrderID(ctx, order.ID)
		if findErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load existing invoice")
		}
		return existing, nil
	}
	return invoice, nil
}

// Deliver sends the invoice and records the outcome. A failed send raises an
// admin alert and, when that works, flags the invoice as admin-notified. The
// returned error is the send error.
func (d *Dispatcher) Deliver(ctx context.Context, invoice *models.Invoice) error {
	ctx = d.logg.WithFields(ctx, map[string]any{
		"invoice_id":  invoice.ID.String(),
		"order_id":    invoice.OrderID.String(),
		"payment_ref": invoice.Snapshot.PaymentRef,
	})

	sendErr := d.send(ctx, invoice)
	at := d.now().UTC()
	if err := d.repo.RecordDelivery(ctx, invoice.ID, sendErr, at); err != nil {
		d.logg.Error(ctx, "failed to record invoice delivery", err)
	}
	if sendErr == nil {
		d.metrics.IncInvoice(metrics.ResultSuccess)
		d.logg.Info(ctx, "invoice delivered")
		return nil
	}

	d.metrics.IncInvoice(metrics.ResultError)
	d.logg.Warn(ctx, fmt.Sprintf("invoice delivery failed: %v", sendErr))
	d.alertAdmin(ctx, invoice, sendErr, at)
	return sendErr
}

func (d *Dispatcher) send(ctx context.Context, invoice *models.Invoice) error {
	if invoice.Recipient == "" {
		return errNoRecipient
	}
	snapshot := invoice.Snapshot
	return d.mailer.Send(ctx, mailer.Message{
		To:      invoice.Recipient,
		ToName:  snapshot.RecipientName,
		Subject: fmt.Sprintf("Your invoice %s", invoice.Number),
		HTML:    string(invoice.Artifact),
		Text:    fmt.Sprintf("Thank you for your order %s. Your invoice %s is attached.", snapshot.PaymentRef, invoice.Number),
		Attachments: []mailer.Attachment{{
			Filename:    fmt.Sprintf("invoice-%s.html", invoice.Number),
			ContentType: invoice.ContentType,
			Content:     invoice.Artifact,
		}},
	})
}

func (d *Dispatcher) alertAdmin(ctx context.Context, invoice *models.Invoice, sendErr error, at time.Time) {
	if d.alerter == nil {
		return
	}
	summary := Summary(invoice.Snapshot, sendErr.Error(), at)
	summary.Kind = enums.NotificationAdminFailure
	summary.Status = enums.OrderStatusPaid
	if err := d.alerter.Notify(ctx, summary); err != nil {
		d.logg.Error(ctx, "failed to alert admin about invoice delivery", err)
		return
	}
	if err := d.repo.MarkAdminNotified(ctx, invoice.ID, d.now().UTC()); err != nil {
		d.logg.Error(ctx, "failed to flag invoice admin notification", err)
	}
}

// Dispatch prepares and delivers synchronously. Already-sent invoices are
// not sent again.
func (d *Dispatcher) Dispatch(ctx context.Context, order *models.Order, eventID string) error {
	invoice, err := d.Prepare(ctx, order, eventID)
	if err != nil {
		return err
	}
	if invoice.Sent {
		return nil
	}
	return d.Deliver(ctx, invoice)
}

// Enqueue runs Dispatch on a detached context bounded by the dispatcher
// timeout. The caller's cancellation does not stop it; Wait does drain it.
func (d *Dispatcher) Enqueue(ctx context.Context, order models.Order, eventID string) {
	detached := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		taskCtx, cancel := context.WithTimeout(detached, d.timeout)
		defer cancel()
		if err := d.Dispatch(taskCtx, &order, eventID); err != nil {
			d.logg.Error(d.logg.WithOrderID(taskCtx, order.ID.String()), "invoice dispatch failed", err)
		}
	}()
}

// Resend retries delivery of a stored invoice.
func (d *Dispatcher) Resend(ctx context.Context, invoiceID uuid.UUID) error {
	invoice, err := d.repo.FindByID(ctx, invoiceID)
	if err != nil {
		if db.IsNotFound(err) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice")
	}
	if invoice.Sent {
		return nil
	}
	return d.Deliver(ctx, invoice)
}

// Wait blocks until every enqueued dispatch has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
