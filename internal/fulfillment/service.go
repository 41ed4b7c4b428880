package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/internal/orders"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/metrics"
	"github.com/angelmondragon/fulfillment-backend/pkg/money"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

const (
	payloadSourceGateway   = "gateway"
	payloadSourceDelivered = "delivered"

	alertTimeout = 15 * time.Second
)

var errAlreadyResolved = errors.New("order already resolved")

// Outcome describes what handling an event did.
type Outcome string

const (
	OutcomeProcessed Outcome = metrics.OutcomeProcessed
	OutcomeDuplicate Outcome = metrics.OutcomeDuplicate
	OutcomeRejected  Outcome = metrics.OutcomeRejected
	OutcomeFailed    Outcome = metrics.OutcomeFailed
	OutcomeRetry     Outcome = metrics.OutcomeRetry
	OutcomeIgnored   Outcome = metrics.OutcomeIgnored
	OutcomeRecorded  Outcome = metrics.OutcomeRecorded
)

type ServiceParams struct {
	Orders            orders.Repository
	Stock             StockDecrementer
	Identity          IdentityResolver
	Invoices          InvoiceDispatcher
	Alerter           AdminAlerter
	Gateway           Gateway
	TransactionRunner txRunner
	Logger            *logger.Logger
	Metrics           *metrics.FulfillmentMetrics
	DefaultCurrency   string
	Tolerance         decimal.Decimal
	Clock             func() time.Time
}

// Service reconciles payment events into paid or failed orders.
type Service struct {
	orders          orders.Repository
	stock           StockDecrementer
	identity        IdentityResolver
	invoices        InvoiceDispatcher
	alerter         AdminAlerter
	gateway         Gateway
	txRunner        txRunner
	logg            *logger.Logger
	metrics         *metrics.FulfillmentMetrics
	defaultCurrency string
	tolerance       decimal.Decimal
	now             func() time.Time
	wg              sync.WaitGroup
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	}
	if params.Stock == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stock decrementer required")
	}
	if params.Identity == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "identity resolver required")
	}
	if params.Invoices == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "invoice dispatcher required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	currency := params.DefaultCurrency
	if currency == "" {
		currency = "GBP"
	}
	tolerance := params.Tolerance
	if !tolerance.IsPositive() {
		tolerance = money.DefaultTolerance
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		orders:          params.Orders,
		stock:           params.Stock,
		identity:        params.Identity,
		invoices:        params.Invoices,
		alerter:         params.Alerter,
		gateway:         params.Gateway,
		txRunner:        params.TransactionRunner,
		logg:            params.Logger,
		metrics:         params.Metrics,
		defaultCurrency: currency,
		tolerance:       tolerance,
		now:             now,
	}, nil
}

// HandleWebhook verifies the signed payload and processes the event. A
// signature failure is a validation error; only retryable errors should make
// the caller ask for redelivery.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	if strings.TrimSpace(signature) == "" {
		return OutcomeRejected, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing")
	}
	event, err := s.gateway.VerifySignature(payload, signature)
	if err != nil {
		s.metrics.IncEvent("unverified", metrics.OutcomeRejected)
		return OutcomeRejected, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "verify signature")
	}
	return s.HandleEvent(ctx, event)
}

// HandleEvent processes an already verified event.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (Outcome, error) {
	return s.handle(ctx, event, true)
}

// Reprocess loads the stored event from the gateway and runs it again. A
// resolved order makes it a no-op.
func (s *Service) Reprocess(ctx context.Context, eventID string) (Outcome, error) {
	if strings.TrimSpace(eventID) == "" {
		return OutcomeRejected, pkgerrors.New(pkgerrors.CodeValidation, "event id required")
	}
	event, err := s.gateway.RetrieveEvent(ctx, eventID)
	if err != nil {
		return OutcomeRetry, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retrieve stripe event")
	}
	return s.handle(ctx, event, false)
}

// Wait blocks until detached admin alerts have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) handle(ctx context.Context, event *stripe.Event, refetch bool) (outcome Outcome, err error) {
	if event == nil || event.Data == nil {
		return OutcomeRejected, pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	ctx = s.logg.WithEventID(ctx, event.ID)
	defer func() {
		s.metrics.IncEvent(string(event.Type), string(outcome))
	}()

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		return s.handleSucceeded(ctx, event, refetch)
	case stripe.EventTypePaymentIntentPaymentFailed:
		return s.handlePaymentFailed(ctx, event)
	default:
		s.logg.Info(ctx, fmt.Sprintf("ignoring stripe event type %s", event.Type))
		return OutcomeIgnored, nil
	}
}

func (s *Service) handleSucceeded(ctx context.Context, event *stripe.Event, refetch bool) (Outcome, error) {
	pi, err := decodePaymentIntent(event)
	if err != nil {
		return OutcomeRejected, err
	}
	ctx = s.logg.WithPaymentRef(ctx, pi.ID)

	order, created, err := s.orders.Claim(ctx, pi.ID, event.ID)
	if err != nil {
		return OutcomeRetry, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim order")
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	if order.Status.IsResolved() {
		s.logg.Info(ctx, fmt.Sprintf("order already %s, nothing to do", order.Status))
		return OutcomeDuplicate, nil
	}
	if !created {
		s.logg.Info(ctx, "resuming processing claim")
	}

	source := payloadSourceDelivered
	if refetch {
		if fresh := s.refetch(ctx, event); fresh != nil {
			pi = fresh
			source = payloadSourceGateway
		}
	} else {
		source = payloadSourceGateway
	}

	payload, err := ParsePayload(pi, s.defaultCurrency, s.tolerance)
	if err != nil {
		return s.reject(ctx, order, err)
	}

	paid, err := s.commitPaid(ctx, payload, event, source)
	if err != nil {
		return s.handleTxFailure(ctx, order.PaymentRef, event.ID, err)
	}

	s.logg.Info(ctx, "order paid")
	s.invoices.Enqueue(ctx, *paid, event.ID)
	s.alertPaid(ctx, *paid)
	return OutcomeProcessed, nil
}

// refetch returns the payment intent from a fresh copy of the event, or nil
// when the gateway cannot be reached.
func (s *Service) refetch(ctx context.Context, event *stripe.Event) *stripe.PaymentIntent {
	fresh, err := s.gateway.RetrieveEvent(ctx, event.ID)
	if err != nil || fresh == nil || fresh.Data == nil {
		s.logg.Warn(ctx, fmt.Sprintf("event re-fetch failed, using delivered payload: %v", err))
		return nil
	}
	pi, err := decodePaymentIntent(fresh)
	if err != nil {
		s.logg.Warn(ctx, fmt.Sprintf("re-fetched event unreadable, using delivered payload: %v", err))
		return nil
	}
	return pi
}

func (s *Service) commitPaid(ctx context.Context, payload *Payload, event *stripe.Event, source string) (*models.Order, error) {
	var paid *models.Order
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		order, err := repo.LockByPaymentRef(ctx, payload.PaymentRef)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
		}
		if order.Status.IsResolved() {
			return errAlreadyResolved
		}

		changes, err := s.stock.DecrementAll(ctx, tx, payload.StockRequests())
		if err != nil {
			return err
		}

		client, err := s.identity.Resolve(ctx, tx, payload.Identity)
		if err != nil {
			return err
		}

		at := s.now().UTC()
		order.Items = payload.Items
		order.Subtotal = payload.Subtotal
		order.Shipping = payload.Shipping
		order.Total = payload.Total
		order.Currency = payload.Currency
		order.ShippingAddress = payload.ShippingAddress
		order.BillingAddress = payload.BillingAddress
		if payload.CustomerEmail != "" {
			email := payload.CustomerEmail
			order.CustomerEmail = &email
		}
		if client != nil {
			order.ClientID = &client.ID
		}
		order.Status = enums.OrderStatusPaid
		order.PaidAt = &at
		order.Metadata.EventID = event.ID
		order.Metadata.EventType = string(event.Type)
		order.Metadata.PayloadSource = source
		order.Metadata.StockChanges = append(order.Metadata.StockChanges, changes...)

		updated, err := repo.UpdateIfStatus(ctx, order, enums.OrderStatusProcessing,
			"items", "subtotal", "shipping", "total", "currency", "shipping_address",
			"billing_address", "customer_email", "client_id", "status", "paid_at", "metadata")
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
		}
		if !updated {
			return errAlreadyResolved
		}
		paid = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// handleTxFailure records a rolled back attempt outside the transaction.
// Stock and validation failures fail the order; anything retryable leaves it
// processing so a redelivery can finish it.
func (s *Service) handleTxFailure(ctx context.Context, paymentRef, eventID string, txErr error) (Outcome, error) {
	if errors.Is(txErr, errAlreadyResolved) {
		s.logg.Info(ctx, "order resolved by a concurrent delivery")
		return OutcomeDuplicate, nil
	}

	order, err := s.orders.FindByPaymentRef(ctx, paymentRef)
	if err != nil {
		s.logg.Error(ctx, "failed to reload order after rollback", err)
		return OutcomeRetry, pkgerrors.Wrap(pkgerrors.CodeDependency, errors.Join(txErr, err), "reload order")
	}

	if pkgerrors.IsRetryable(txErr) {
		s.logg.Error(ctx, "order processing failed, awaiting redelivery", txErr)
		if _, err := orders.RecordAttempt(ctx, s.orders, order, types.ProcessingAttempt{
			EventID: eventID,
			Error:   txErr.Error(),
			At:      s.now().UTC(),
		}); err != nil {
			s.logg.Error(ctx, "failed to record processing attempt", err)
		}
		return OutcomeRetry, txErr
	}

	code := orders.FailureInvalid
	if pkgerrors.IsCode(txErr, pkgerrors.CodeOutOfStock) {
		code = orders.FailureOutOfStock
	}
	return s.fail(ctx, order, code, txErr.Error())
}

func (s *Service) reject(ctx context.Context, order *models.Order, cause error) (Outcome, error) {
	s.logg.Warn(ctx, fmt.Sprintf("payment payload rejected: %v", cause))
	outcome, err := s.fail(ctx, order, orders.FailureInvalid, cause.Error())
	if outcome == OutcomeFailed {
		outcome = OutcomeRejected
	}
	return outcome, err
}

func (s *Service) fail(ctx context.Context, order *models.Order, code, reason string) (Outcome, error) {
	updated, err := orders.MarkFailed(ctx, s.orders, order, code, reason, s.now())
	if err != nil {
		return OutcomeRetry, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order failed")
	}
	if !updated {
		return OutcomeDuplicate, nil
	}
	s.logg.Warn(ctx, fmt.Sprintf("order failed: %s", reason))
	return OutcomeFailed, nil
}

// handlePaymentFailed records a declined charge without resolving the claim.
// A later success on the same payment intent still pays the order; a claim
// that never succeeds is expired by the stale-claims sweep.
func (s *Service) handlePaymentFailed(ctx context.Context, event *stripe.Event) (Outcome, error) {
	pi, err := decodePaymentIntent(event)
	if err != nil {
		return OutcomeRejected, err
	}
	ctx = s.logg.WithPaymentRef(ctx, pi.ID)

	order, _, err := s.orders.Claim(ctx, pi.ID, "")
	if err != nil {
		return OutcomeRetry, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim order")
	}
	if order.Status.IsResolved() {
		return OutcomeDuplicate, nil
	}

	reason := "payment failed"
	if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
		reason = pi.LastPaymentError.Msg
	}
	updated, err := orders.RecordPaymentFailure(ctx, s.orders, order, types.ProcessingAttempt{
		EventID: event.ID,
		Error:   reason,
		At:      s.now().UTC(),
	})
	if err != nil {
		return OutcomeRetry, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment failure")
	}
	if !updated {
		return OutcomeDuplicate, nil
	}
	s.logg.Warn(ctx, fmt.Sprintf("payment attempt failed: %s", reason))
	return OutcomeRecorded, nil
}

func (s *Service) alertPaid(ctx context.Context, order models.Order) {
	if s.alerter == nil {
		return
	}
	summary := order.Summary(enums.NotificationAdminOrderPaid, "", s.now().UTC())
	detached := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		alertCtx, cancel := context.WithTimeout(detached, alertTimeout)
		defer cancel()
		if err := s.alerter.Notify(alertCtx, summary); err != nil {
			s.logg.Error(alertCtx, "failed to alert admin about paid order", err)
		}
	}()
}

func decodePaymentIntent(event *stripe.Event) (*stripe.PaymentIntent, error) {
	if event == nil || event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
	}
	if strings.TrimSpace(pi.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id missing")
	}
	return &pi, nil
}
