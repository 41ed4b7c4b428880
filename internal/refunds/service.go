package refunds

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/internal/orders"
	"github.com/angelmondragon/fulfillment-backend/pkg/db"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/mailer"
	"github.com/angelmondragon/fulfillment-backend/pkg/metrics"
	"github.com/angelmondragon/fulfillment-backend/pkg/money"
	stripeclient "github.com/angelmondragon/fulfillment-backend/pkg/stripe"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

const maxIdempotencyKeyLength = 255

type ServiceParams struct {
	Orders            orders.Repository
	Gateway           Gateway
	Mailer            Mailer
	TransactionRunner txRunner
	Logger            *logger.Logger
	Metrics           *metrics.FulfillmentMetrics
	Tolerance         decimal.Decimal
	Clock             func() time.Time
}

// Service applies refunds to paid orders and keeps the per-order ledger.
type Service struct {
	orders    orders.Repository
	gateway   Gateway
	mailer    Mailer
	txRunner  txRunner
	logg      *logger.Logger
	metrics   *metrics.FulfillmentMetrics
	tolerance decimal.Decimal
	now       func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "refund gateway required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
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
		orders:    params.Orders,
		gateway:   params.Gateway,
		mailer:    params.Mailer,
		txRunner:  params.TransactionRunner,
		logg:      params.Logger,
		metrics:   params.Metrics,
		tolerance: tolerance,
		now:       now,
	}, nil
}

// Request asks for amount to be returned to the customer.
type Request struct {
	OrderID        uuid.UUID
	Amount         decimal.Decimal
	Reason         string
	IdempotencyKey string
	Actor          string
}

// Result is the ledger entry written (or replayed) and the order balance
// after it.
type Result struct {
	Entry         types.RefundEntry `json:"entry"`
	Status        enums.OrderStatus `json:"status"`
	RefundedTotal decimal.Decimal   `json:"refundedTotal"`
	Refundable    decimal.Decimal   `json:"refundable"`
	Replayed      bool              `json:"replayed"`
}

// Refund applies req to the order. A pending ledger entry is reserved under
// the row lock, the gateway is called after that commit, and a second write
// settles the entry and the order status. A known idempotency key returns the
// stored entry, or finishes it while still pending. A gateway failure is
// written to the ledger and then reported as a dependency error carrying the
// entry.
func (s *Service) Refund(ctx context.Context, req Request) (*Result, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.Reason = strings.TrimSpace(req.Reason)
	if err := s.validate(req); err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(ctx, req.OrderID.String())
	if req.Actor != "" {
		ctx = s.logg.WithActor(ctx, req.Actor)
	}

	reserved, err := s.reserve(ctx, req)
	if err != nil {
		s.metrics.IncRefund(refundResult(err))
		return nil, err
	}
	if reserved.replay != nil {
		s.metrics.IncRefund(metrics.ResultReplay)
		s.logg.Info(ctx, "refund replayed for idempotency key")
		return reserved.replay, nil
	}

	entry := reserved.entry
	refund, gatewayErr := s.gateway.CreateRefund(ctx, stripeclient.RefundRequest{
		PaymentRef:     reserved.paymentRef,
		Amount:         reserved.minor,
		IdempotencyKey: entry.GatewayKey,
		Metadata: map[string]string{
			"order_id":        req.OrderID.String(),
			"refund_entry_id": entry.ID.String(),
			"reason":          entry.Reason,
		},
	})
	entry.Pending = false
	if gatewayErr != nil {
		entry.Error = gatewayErr.Error()
	} else {
		entry.Succeeded = true
		entry.Error = ""
		entry.GatewayRefundID = refund.ID
		entry.GatewayStatus = refund.Status
	}

	order, result, err := s.settle(ctx, req.OrderID, entry)
	if err != nil {
		s.metrics.IncRefund(metrics.ResultError)
		s.logg.Error(ctx, "failed to settle refund entry, it stays pending", err)
		return nil, err
	}

	if gatewayErr != nil {
		s.metrics.IncRefund(metrics.ResultError)
		s.logg.Error(ctx, "gateway refund failed, attempt recorded", gatewayErr)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, gatewayErr, "gateway refund failed").
			WithDetails(map[string]any{"entry": result.Entry})
	}

	s.metrics.IncRefund(metrics.ResultSuccess)
	s.logg.Info(ctx, fmt.Sprintf("refund %s applied, order %s", result.Entry.Amount, result.Status))
	s.notifyCustomer(ctx, order, result)
	return result, nil
}

type reservation struct {
	entry      types.RefundEntry
	paymentRef string
	minor      int64
	replay     *Result
}

// reserve validates the request against the locked order and appends a
// pending entry, or returns the stored result for a known key.
func (s *Service) reserve(ctx context.Context, req Request) (*reservation, error) {
	var out *reservation
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		locked, err := repo.LockByID(ctx, req.OrderID)
		if err != nil {
			if db.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
		}
		if !locked.Status.IsRefundable() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not refundable").
				WithDetails(map[string]any{"status": locked.Status})
		}

		ledger := Ledger(locked)
		refunded := Refunded(ledger)

		if prior, ok := findByKey(ledger, req.IdempotencyKey); ok {
			if !prior.Amount.Equal(req.Amount) {
				return pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key already used for a different amount").
					WithDetails(map[string]any{"amount": prior.Amount.String()})
			}
			if !prior.Pending {
				out = &reservation{replay: &Result{
					Entry:         prior,
					Status:        locked.Status,
					RefundedTotal: refunded,
					Refundable:    locked.Total.Sub(refunded),
					Replayed:      true,
				}}
				return nil
			}
			minor, err := s.minorUnits(prior.Amount, prior.Currency)
			if err != nil {
				return err
			}
			s.logg.Info(ctx, "resuming pending refund entry")
			out = &reservation{entry: prior, paymentRef: locked.PaymentRef, minor: minor}
			return nil
		}

		minor, err := s.minorUnits(req.Amount, locked.Currency)
		if err != nil {
			return err
		}

		refundable := locked.Total.Sub(refunded).Sub(Reserved(ledger))
		if req.Amount.GreaterThan(refundable.Add(s.tolerance)) {
			return pkgerrors.New(pkgerrors.CodeConflict, "refund exceeds refundable balance").
				WithDetails(map[string]any{
					"refundable": refundable.String(),
					"requested":  req.Amount.String(),
				})
		}

		entry := types.RefundEntry{
			ID:             uuid.New(),
			Amount:         req.Amount,
			Currency:       locked.Currency,
			Reason:         req.Reason,
			IdempotencyKey: req.IdempotencyKey,
			GatewayKey:     gatewayKey(locked.ID, req.IdempotencyKey, len(ledger)+1),
			Actor:          req.Actor,
			Pending:        true,
			CreatedAt:      s.now().UTC(),
		}
		locked.Metadata.Refunds = append(ledger, entry)
		locked.Metadata.LegacyRefund = nil

		updated, err := repo.UpdateIfStatus(ctx, locked, locked.Status, "metadata")
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve refund")
		}
		if !updated {
			return pkgerrors.New(pkgerrors.CodeConflict, "order changed during refund")
		}
		out = &reservation{entry: entry, paymentRef: locked.PaymentRef, minor: minor}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// settle writes the gateway outcome into the pending entry and recomputes the
// refunded total and status. An entry another request already settled is
// returned as stored.
func (s *Service) settle(ctx context.Context, orderID uuid.UUID, entry types.RefundEntry) (*models.Order, *Result, error) {
	var (
		order  *models.Order
		result *Result
	)
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		locked, err := repo.LockByID(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
		}
		ledger := locked.Metadata.Refunds
		index, ok := findByID(ledger, entry.ID)
		if !ok {
			return pkgerrors.New(pkgerrors.CodeInternal, "reserved refund entry missing from ledger")
		}
		if !ledger[index].Pending {
			refunded := Refunded(ledger)
			order = locked
			result = &Result{Entry: ledger[index], Status: locked.Status, RefundedTotal: refunded, Refundable: locked.Total.Sub(refunded)}
			return nil
		}

		ledger[index] = entry
		refunded := Refunded(ledger)
		previous := locked.Status
		locked.Metadata.Refunds = ledger
		locked.AmountRefunded = refunded
		locked.Status = s.statusAfter(locked, refunded)

		updated, err := repo.UpdateIfStatus(ctx, locked, previous, "status", "amount_refunded", "metadata")
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist refund")
		}
		if !updated {
			return pkgerrors.New(pkgerrors.CodeConflict, "order changed during refund")
		}
		order = locked
		result = &Result{Entry: entry, Status: locked.Status, RefundedTotal: refunded, Refundable: locked.Total.Sub(refunded)}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return order, result, nil
}

func (s *Service) validate(req Request) error {
	details := map[string]string{}
	if req.OrderID == uuid.Nil {
		details["orderId"] = "is required"
	}
	if !req.Amount.IsPositive() {
		details["amount"] = "must be greater than zero"
	}
	if len(req.IdempotencyKey) > maxIdempotencyKeyLength {
		details["idempotencyKey"] = fmt.Sprintf("must be at most %d characters", maxIdempotencyKeyLength)
	}
	if len(details) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}
	return nil
}

// minorUnits converts amount for the gateway, rejecting precision the
// currency cannot carry so the ledger and the gateway record the same value.
func (s *Service) minorUnits(amount decimal.Decimal, currency string) (int64, error) {
	fits, err := money.FitsMinorUnits(amount, currency)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "convert refund amount")
	}
	if !fits {
		scale, _ := money.Scale(currency)
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "refund amount has too many decimal places").
			WithDetails(map[string]any{"amount": amount.String(), "maxDecimals": scale})
	}
	minor, err := money.ToMinorUnits(amount, currency)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "convert refund amount")
	}
	if minor <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "refund amount is below the currency's smallest unit")
	}
	return minor, nil
}

// statusAfter is refunded once successful refunds cover the total within
// tolerance and partially_refunded while some but not all of it is back. An
// order with no successful refund keeps its status.
func (s *Service) statusAfter(order *models.Order, refunded decimal.Decimal) enums.OrderStatus {
	switch {
	case refunded.GreaterThanOrEqual(order.Total.Sub(s.tolerance)):
		return enums.OrderStatusRefunded
	case refunded.IsPositive():
		return enums.OrderStatusPartiallyRefunded
	default:
		return order.Status
	}
}

func gatewayKey(orderID uuid.UUID, clientKey string, sequence int) string {
	if clientKey != "" {
		return fmt.Sprintf("refund:%s:%s", orderID, clientKey)
	}
	return fmt.Sprintf("refund:%s:%d", orderID, sequence)
}

func refundResult(err error) string {
	if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		return metrics.ResultInsufficient
	}
	return metrics.ResultError
}

// notifyCustomer emails the refund confirmation and records the outcome on
// the order in its own write.
func (s *Service) notifyCustomer(ctx context.Context, order *models.Order, result *Result) {
	outcome := types.NotificationOutcome{
		Kind:      enums.NotificationRefundCustomer,
		Recipient: order.Recipient(),
	}
	switch {
	case s.mailer == nil:
		outcome.Error = "mailer not configured"
	case outcome.Recipient == "":
		outcome.Error = "order has no recipient email"
	default:
		if err := s.mailer.Send(ctx, refundMessage(order, result)); err != nil {
			outcome.Error = err.Error()
		} else {
			outcome.Sent = true
		}
	}
	outcome.At = s.now().UTC()
	if !outcome.Sent {
		s.logg.Warn(ctx, fmt.Sprintf("refund notification not sent: %s", outcome.Error))
	}

	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		locked, err := repo.LockByID(ctx, order.ID)
		if err != nil {
			return err
		}
		locked.Metadata.Notifications = append(locked.Metadata.Notifications, outcome)
		_, err = repo.UpdateIfStatus(ctx, locked, locked.Status, "metadata")
		return err
	})
	if err != nil {
		s.logg.Error(ctx, "failed to record refund notification outcome", err)
	}
}

func refundMessage(order *models.Order, result *Result) mailer.Message {
	amount := money.Format(result.Entry.Amount, result.Entry.Currency)
	text := fmt.Sprintf("We have refunded %s for your order %s.", amount, order.PaymentRef)
	if result.Status == enums.OrderStatusPartiallyRefunded {
		text += fmt.Sprintf(" %s of the order remains charged.", money.Format(result.Refundable, order.Currency))
	}
	return mailer.Message{
		To:      order.Recipient(),
		Subject: fmt.Sprintf("Refund of %s for order %s", amount, order.PaymentRef),
		Text:    text,
	}
}
