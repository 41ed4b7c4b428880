package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/internal/clients"
	"github.com/angelmondragon/fulfillment-backend/internal/inventory"
	"github.com/angelmondragon/fulfillment-backend/internal/orders"
	"github.com/angelmondragon/fulfillment-backend/pkg/db"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

type stubGateway struct {
	verified    *stripe.Event
	verifyErr   error
	events      map[string]*stripe.Event
	retrieveErr error
}

func (g *stubGateway) VerifySignature([]byte, string) (*stripe.Event, error) {
	return g.verified, g.verifyErr
}

func (g *stubGateway) RetrieveEvent(_ context.Context, id string) (*stripe.Event, error) {
	if g.retrieveErr != nil {
		return nil, g.retrieveErr
	}
	if evt, ok := g.events[id]; ok {
		return evt, nil
	}
	return nil, errors.New("no such event")
}

type stubDispatcher struct {
	mu     sync.Mutex
	orders []models.Order
}

func (d *stubDispatcher) Enqueue(_ context.Context, order models.Order, _ string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.orders = append(d.orders, order)
}

func (d *stubDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.orders)
}

type stubAlerter struct {
	mu        sync.Mutex
	summaries []types.OrderSummary
}

func (a *stubAlerter) Notify(_ context.Context, summary types.OrderSummary) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.summaries = append(a.summaries, summary)
	return nil
}

type failingResolver struct{ err error }

func (r failingResolver) Resolve(context.Context, *gorm.DB, clients.Signals) (*models.Client, error) {
	return nil, r.err
}

type harness struct {
	db         *gorm.DB
	svc        *Service
	gateway    *stubGateway
	dispatcher *stubDispatcher
	alerter    *stubAlerter
	now        time.Time
}

func newHarness(t *testing.T, resolver IdentityResolver) *harness {
	t.Helper()
	dsn := "file:fulfillment_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(models.All()...))

	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	if resolver == nil {
		clientSvc, err := clients.NewService(clients.ServiceParams{
			Repository: clients.NewRepository(conn),
			Clock:      func() time.Time { return now },
		})
		require.NoError(t, err)
		resolver = clientSvc
	}

	h := &harness{
		db:         conn,
		gateway:    &stubGateway{events: map[string]*stripe.Event{}},
		dispatcher: &stubDispatcher{},
		alerter:    &stubAlerter{},
		now:        now,
	}
	h.svc, err = NewService(ServiceParams{
		Orders:            orders.NewRepository(conn),
		Stock:             inventory.NewEngine(nil),
		Identity:          resolver,
		Invoices:          h.dispatcher,
		Alerter:           h.alerter,
		Gateway:           h.gateway,
		TransactionRunner: db.NewFromConn(conn),
		Logger:            logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		DefaultCurrency:   "GBP",
		Clock:             func() time.Time { return now },
	})
	require.NoError(t, err)
	return h
}

type line struct {
	ID       string `json:"id"`
	Source   string `json:"source,omitempty"`
	Name     string `json:"name,omitempty"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price"`
}

func paymentEvent(t *testing.T, eventID string, eventType stripe.EventType, pi map[string]any) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(pi)
	require.NoError(t, err)
	return &stripe.Event{ID: eventID, Type: eventType, Data: &stripe.EventData{Raw: raw}}
}

func intent(t *testing.T, id string, amount int64, lines []line, extra map[string]string) map[string]any {
	t.Helper()
	items, err := json.Marshal(lines)
	require.NoError(t, err)
	meta := map[string]string{"items": string(items)}
	for k, v := range extra {
		meta[k] = v
	}
	return map[string]any{
		"id":       id,
		"object":   "payment_intent",
		"amount":   amount,
		"currency": "gbp",
		"metadata": meta,
	}
}

func (h *harness) coffee(t *testing.T, slug string, stock int) models.Coffee {
	t.Helper()
	c := models.Coffee{Name: slug, Slug: slug, Stock: stock}
	require.NoError(t, h.db.Create(&c).Error)
	return c
}

func (h *harness) order(t *testing.T, ref string) models.Order {
	t.Helper()
	var order models.Order
	require.NoError(t, h.db.Where("payment_ref = ?", ref).Take(&order).Error)
	return order
}

func (h *harness) stock(t *testing.T, id uuid.UUID) int {
	t.Helper()
	var c models.Coffee
	require.NoError(t, h.db.Where("id = ?", id).Take(&c).Error)
	return c.Stock
}

func TestHandleEventPaysOrder(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	beans := h.coffee(t, "ethiopia", 5)

	evt := paymentEvent(t, "evt_1", stripe.EventTypePaymentIntentSucceeded, intent(t, "pi_1", 2400,
		[]line{{ID: beans.ID.String(), Source: "coffee", Name: "Ethiopia", Quantity: 2, Price: "12.00"}},
		map[string]string{"customer_email": " Buyer@Example.com ", "customer_name": "Ada"}))
	h.gateway.events["evt_1"] = evt

	outcome, err := h.svc.HandleEvent(ctx, evt)
	require.NoError(t, err)
	h.svc.Wait()
	assert.Equal(t, OutcomeProcessed, outcome)

	order := h.order(t, "pi_1")
	assert.Equal(t, enums.OrderStatusPaid, order.Status)
	assert.True(t, order.Total.Equal(decimal.RequireFromString("24")))
	assert.Equal(t, "GBP", order.Currency)
	require.NotNil(t, order.PaidAt)
	require.NotNil(t, order.ClientID)
	require.NotNil(t, order.CustomerEmail)
	assert.Equal(t, "buyer@example.com", *order.CustomerEmail)
	require.Len(t, order.Metadata.StockChanges, 1)
	assert.Equal(t, 5, order.Metadata.StockChanges[0].Before)
	assert.Equal(t, 3, order.Metadata.StockChanges[0].After)
	assert.Equal(t, payloadSourceGateway, order.Metadata.PayloadSource)
	assert.Equal(t, 3, h.stock(t, beans.ID))

	assert.Equal(t, 1, h.dispatcher.count())
	require.Len(t, h.alerter.summaries, 1)
	assert.Equal(t, enums.NotificationAdminOrderPaid, h.alerter.summaries[0].Kind)
}

func TestHandleEventResolvesIdentityFromShippingEmail(t *testing.T) {
	h := newHarness(t, nil)
	beans := h.coffee(t, "guatemala", 3)
	evt := paymentEvent(t, "evt_1", stripe.EventTypePaymentIntentSucceeded, intent(t, "pi_1", 900,
		[]line{{ID: beans.ID.String(), Quantity: 1, Price: "9"}},
		map[string]string{
			"shipping_address": `{"line1":"4 Quay St","city":"Bristol","postal_code":"BS1","country":"GB","email":"Ship@Example.com"}`,
		}))

	outcome, err := h.svc.HandleEvent(context.Background(), evt)
	require.NoError(t, err)
	h.svc.Wait()
	assert.Equal(t, OutcomeProcessed, outcome)

	order := h.order(t, "pi_1")
	require.NotNil(t, order.ClientID)
	var client models.Client
	require.NoError(t, h.db.Where("id = ?", *order.ClientID).Take(&client).Error)
	require.NotNil(t, client.Email)
	assert.Equal(t, "ship@example.com", *client.Email)
	assert.Equal(t, "ship@example.com", order.Recipient())
}

func TestHandleEventReplayIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	beans := h.coffee(t, "kenya", 5)
	evt := paymentEvent(t, "evt_1", stripe.EventTypePaymentIntentSucceeded, intent(t, "pi_1", 1000,
		[]line{{ID: beans.ID.String(), Quantity: 1, Price: "10.00"}}, nil))

	_, err := h.svc.HandleEvent(ctx, evt)
	require.NoError(t, err)
	before := h.order(t, "pi_1")

	outcome, err := h.svc.HandleEvent(ctx, evt)
	require.NoError(t, err)
	h.svc.Wait()
	assert.Equal(t, OutcomeDuplicate, outcome)

	after := h.order(t, "pi_1")
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Equal(t, 4, h.stock(t, beans.ID))
	assert.Equal(t, 1, h.dispatcher.count())
}

func TestHandleEventFallsBackToDeliveredPayload(t *testing.T) {
	h := newHarness(t, nil)
	h.gateway.retrieveErr = errors.New("stripe down")
	beans := h.coffee(t, "peru", 2)
	evt := paymentEvent(t, "evt_1", stripe.EventTypePaymentIntentSucceeded, intent(t, "pi_1", 500,
		[]line{{ID: beans.ID.String(), Quantity: 1, Price: "5"}}, nil))

	outcome, err := h.svc.HandleEvent(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
	assert.Equal(t, payloadSourceDelivered, h.order(t, "pi_1").Metadata.PayloadSource)
}

func TestHandleEventInsufficientStockRollsBack(t *testing.T) {
	h := newHarness(t, nil)
	a := h.coffee(t, "item-a", 5)
	b := h.coffee(t, "item-b", 0)
	evt := paymentEvent(t, "evt_1", stripe.EventTypePaymentIntentSucceeded, intent(t, "pi_1", 3000,
		[]line{
			{ID: a.ID.String(), Quantity: 2, Price: "10"},
			{ID: b.ID.String(), Quantity: 1, Price: "10"},
		}, nil))

	outcome, err := h.svc.HandleEvent(context.Background(), evt)
	require.NoError(t, err)
	h.svc.Wait()
	assert.Equal(t, OutcomeFailed, outcome)

	order := h.order(t, "pi_1")
	assert.Equal(t, enums.OrderStatusFailed, order.Status)
	assert.Equal(t, orders.FailureOutOfStock, order.Metadata.FailureCode)
	assert.Contains(t, order.Metadata.FailureReason, b.ID.String())
	assert.Empty(t, order.Metadata.StockChanges)
	assert.Equal(t, 5, h.stock(t, a.ID))
	assert.Equal(t, 0, h.dispatcher.count())
	assert.Empty(t, h.alerter.summaries)
}

func TestHandleEventInvalidPayloadFailsOrder(t *testing.T) {
	h := newHarness(t, nil)
	evt := paymentEvent(t, "evt_1", stripe.EventTypePaymentIntentSucceeded, intent(t, "pi_1", 1000,
		[]line{{ID: "x", Quantity: 0, Price: "10"}}, nil))

	outcome, err := h.svc.HandleEvent(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, outcome)

	order := h.order(t, "pi_1")
	assert.Equal(t, enums.OrderStatusFailed, order.Status)
	assert.Equal(t, orders.FailureInvalid, order.Metadata.FailureCode)
	assert.Contains(t, order.Metadata.FailureReason, "quantity")
}

func TestHandleEventRetryableFailureKeepsClaim(t *testing.T) {
	h := newHarness(t, failingResolver{err: pkgerrors.New(pkgerrors.CodeDependency, "connection reset")})
	beans := h.coffee(t, "brazil", 3)
	evt := paymentEvent(t, "evt_1", stripe.EventTypePaymentIntentSucceeded, intent(t, "pi_1", 1000,
		[]line{{ID: beans.ID.String(), Quantity: 1, Price: "10"}},
		map[string]string{"customer_email": "a@example.com"}))

	outcome, err := h.svc.HandleEvent(context.Background(), evt)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsRetryable(err))
	assert.Equal(t, OutcomeRetry, outcome)

	order := h.order(t, "pi_1")
	assert.Equal(t, enums.OrderStatusProcessing, order.Status)
	require.Len(t, order.Metadata.ProcessingAttempts, 1)
	assert.Contains(t, order.Metadata.ProcessingAttempts[0].Error, "connection reset")
	assert.Equal(t, 3, h.stock(t, beans.ID))
}

func TestHandlePaymentFailedKeepsClaimOpen(t *testing.T) {
	h := newHarness(t, nil)
	evt := paymentEvent(t, "evt_9", stripe.EventTypePaymentIntentPaymentFailed, map[string]any{
		"id":                 "pi_9",
		"object":             "payment_intent",
		"last_payment_error": map[string]any{"message": "card declined"},
	})

	outcome, err := h.svc.HandleEvent(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, outcome)

	order := h.order(t, "pi_9")
	assert.Equal(t, enums.OrderStatusProcessing, order.Status)
	assert.Empty(t, order.Metadata.EventID)
	require.Len(t, order.Metadata.PaymentFailures, 1)
	assert.Equal(t, "card declined", order.Metadata.PaymentFailures[0].Error)
	assert.Equal(t, "evt_9", order.Metadata.PaymentFailures[0].EventID)
}

func TestHandleEventPaysAfterDeclinedAttempt(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	beans := h.coffee(t, "rwanda", 5)

	declined := paymentEvent(t, "evt_fail", stripe.EventTypePaymentIntentPaymentFailed, map[string]any{
		"id":                 "pi_1",
		"object":             "payment_intent",
		"last_payment_error": map[string]any{"message": "insufficient funds"},
	})
	_, err := h.svc.HandleEvent(ctx, declined)
	require.NoError(t, err)

	succeeded := paymentEvent(t, "evt_ok", stripe.EventTypePaymentIntentSucceeded, intent(t, "pi_1", 1200,
		[]line{{ID: beans.ID.String(), Quantity: 1, Price: "12"}},
		map[string]string{"customer_email": "retry@example.com"}))
	h.gateway.events["evt_ok"] = succeeded

	outcome, err := h.svc.HandleEvent(ctx, succeeded)
	require.NoError(t, err)
	h.svc.Wait()
	assert.Equal(t, OutcomeProcessed, outcome)

	order := h.order(t, "pi_1")
	assert.Equal(t, enums.OrderStatusPaid, order.Status)
	assert.Equal(t, "evt_ok", order.Metadata.EventID)
	assert.Len(t, order.Metadata.PaymentFailures, 1)
	assert.Equal(t, 4, h.stock(t, beans.ID))
	assert.Equal(t, 1, h.dispatcher.count())

	outcome, err = h.svc.HandleEvent(ctx, declined)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, enums.OrderStatusPaid, h.order(t, "pi_1").Status)
}

func TestHandleEventIgnoresOtherTypes(t *testing.T) {
	h := newHarness(t, nil)
	evt := &stripe.Event{ID: "evt_x", Type: "charge.refunded", Data: &stripe.EventData{Raw: []byte(`{}`)}}
	outcome, err := h.svc.HandleEvent(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	h := newHarness(t, nil)
	h.gateway.verifyErr = errors.New("signature mismatch")

	_, err := h.svc.HandleWebhook(context.Background(), []byte(`{}`), "t=1,v1=bad")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = h.svc.HandleWebhook(context.Background(), []byte(`{}`), "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestReprocessCompletesStaleClaim(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	beans := h.coffee(t, "colombia", 2)
	evt := paymentEvent(t, "evt_1", stripe.EventTypePaymentIntentSucceeded, intent(t, "pi_1", 800,
		[]line{{ID: beans.ID.String(), Quantity: 1, Price: "8"}}, nil))
	h.gateway.events["evt_1"] = evt

	_, _, err := orders.NewRepository(h.db).Claim(ctx, "pi_1", "evt_1")
	require.NoError(t, err)

	outcome, err := h.svc.Reprocess(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
	assert.Equal(t, enums.OrderStatusPaid, h.order(t, "pi_1").Status)

	_, err = h.svc.Reprocess(ctx, "evt_missing")
	assert.True(t, pkgerrors.IsRetryable(err))
}
