package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/api/middleware"
	internalorders "github.com/angelmondragon/fulfillment-backend/internal/orders"
	"github.com/angelmondragon/fulfillment-backend/internal/refunds"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/pagination"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

type stubRefundService struct {
	got    refunds.Request
	calls  int
	result *refunds.Result
	err    error
}

func (s *stubRefundService) Refund(ctx context.Context, req refunds.Request) (*refunds.Result, error) {
	s.calls++
	s.got = req
	return s.result, s.err
}

func refundRouter(svc RefundService) http.Handler {
	r := chi.NewRouter()
	r.Post("/orders/{orderID}/refunds", AdminRefund(svc, nil))
	return r
}

func newRefundRequest(orderID, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/orders/"+orderID+"/refunds", strings.NewReader(body))
	return req.WithContext(middleware.WithActor(req.Context(), "ops@example.com", "admin"))
}

func TestAdminRefundForwardsRequest(t *testing.T) {
	orderID := uuid.New()
	svc := &stubRefundService{result: &refunds.Result{
		Entry:         types.RefundEntry{Amount: decimal.RequireFromString("20"), Succeeded: true},
		Status:        enums.OrderStatusPartiallyRefunded,
		RefundedTotal: decimal.RequireFromString("20"),
		Refundable:    decimal.RequireFromString("30"),
	}}

	req := newRefundRequest(orderID.String(), `{"amount":"20.00","reason":"damaged"}`)
	req.Header.Set("Idempotency-Key", "header-key")
	rec := httptest.NewRecorder()
	refundRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.got.OrderID != orderID {
		t.Fatalf("expected order %s, got %s", orderID, svc.got.OrderID)
	}
	if !svc.got.Amount.Equal(decimal.RequireFromString("20")) {
		t.Fatalf("unexpected amount %s", svc.got.Amount)
	}
	if svc.got.IdempotencyKey != "header-key" {
		t.Fatalf("expected header idempotency key, got %q", svc.got.IdempotencyKey)
	}
	if svc.got.Actor != "ops@example.com" {
		t.Fatalf("expected actor from context, got %q", svc.got.Actor)
	}

	var body struct {
		Data refunds.Result `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Data.Status != enums.OrderStatusPartiallyRefunded {
		t.Fatalf("unexpected status %s", body.Data.Status)
	}
}

func TestAdminRefundBodyKeyWins(t *testing.T) {
	svc := &stubRefundService{result: &refunds.Result{}}
	req := newRefundRequest(uuid.NewString(), `{"amount":5,"idempotencyKey":"body-key"}`)
	req.Header.Set("Idempotency-Key", "header-key")
	rec := httptest.NewRecorder()
	refundRouter(svc).ServeHTTP(rec, req)

	if svc.got.IdempotencyKey != "body-key" {
		t.Fatalf("expected body key, got %q", svc.got.IdempotencyKey)
	}
}

func TestAdminRefundRejections(t *testing.T) {
	cases := []struct {
		name    string
		orderID string
		body    string
		svcErr  error
		status  int
		called  bool
	}{
		{name: "bad order id", orderID: "nope", body: `{"amount":1}`, status: http.StatusBadRequest},
		{name: "unknown field", orderID: uuid.NewString(), body: `{"amount":1,"extra":true}`, status: http.StatusBadRequest},
		{name: "malformed json", orderID: uuid.NewString(), body: `{"amount":`, status: http.StatusBadRequest},
		{
			name:    "over refund",
			orderID: uuid.NewString(),
			body:    `{"amount":100}`,
			svcErr:  pkgerrors.New(pkgerrors.CodeConflict, "refund exceeds refundable amount"),
			status:  http.StatusConflict,
			called:  true,
		},
		{
			name:    "gateway down",
			orderID: uuid.NewString(),
			body:    `{"amount":1}`,
			svcErr:  pkgerrors.New(pkgerrors.CodeDependency, "refund gateway failed"),
			status:  http.StatusServiceUnavailable,
			called:  true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubRefundService{err: tc.svcErr}
			rec := httptest.NewRecorder()
			refundRouter(svc).ServeHTTP(rec, newRefundRequest(tc.orderID, tc.body))
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d (%s)", tc.status, rec.Code, rec.Body.String())
			}
			if (svc.calls > 0) != tc.called {
				t.Fatalf("unexpected service call count %d", svc.calls)
			}
		})
	}
}

func TestAdminRefundRequiresActor(t *testing.T) {
	svc := &stubRefundService{}
	req := httptest.NewRequest(http.MethodPost, "/orders/"+uuid.NewString()+"/refunds", strings.NewReader(`{"amount":1}`))
	rec := httptest.NewRecorder()
	refundRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

type stubOrderReader struct {
	order *models.Order
}

func (s stubOrderReader) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if s.order == nil || s.order.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	return s.order, nil
}

func (s stubOrderReader) List(ctx context.Context, filter internalorders.ListFilter, params pagination.Params) (pagination.Page[models.Order], error) {
	if s.order == nil {
		return pagination.Page[models.Order]{}, nil
	}
	if filter.Status != nil && *filter.Status != s.order.Status {
		return pagination.Page[models.Order]{}, nil
	}
	return pagination.Page[models.Order]{Items: []models.Order{*s.order}, NextCursor: "next"}, nil
}

func TestAdminOrderDetailIncludesLegacyLedger(t *testing.T) {
	order := &models.Order{
		ID:             uuid.New(),
		PaymentRef:     "pi_legacy",
		Status:         enums.OrderStatusPartiallyRefunded,
		Total:          decimal.RequireFromString("50"),
		AmountRefunded: decimal.RequireFromString("10"),
		Currency:       "GBP",
		Metadata: types.OrderMetadata{
			LegacyRefund: &types.LegacyRefund{
				Amount:    decimal.RequireFromString("10"),
				RefundID:  "re_legacy",
				CreatedAt: time.Now().UTC(),
			},
		},
	}
	r := chi.NewRouter()
	r.Get("/orders/{orderID}", AdminOrderDetail(stubOrderReader{order: order}, nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/"+order.ID.String(), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Data orderView `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Data.Refunds) != 1 || !body.Data.Refunds[0].Legacy {
		t.Fatalf("expected one legacy ledger entry, got %+v", body.Data.Refunds)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/"+uuid.NewString(), nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAdminOrderList(t *testing.T) {
	order := &models.Order{ID: uuid.New(), PaymentRef: "pi_list", Status: enums.OrderStatusFailed, Currency: "GBP"}
	r := chi.NewRouter()
	r.Get("/orders", AdminOrderList(stubOrderReader{order: order}, nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders?status=FAILED&limit=10", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Data pagination.Page[orderView] `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Data.Items) != 1 || body.Data.Items[0].PaymentRef != "pi_list" || body.Data.NextCursor != "next" {
		t.Fatalf("unexpected page %+v", body.Data)
	}

	for _, query := range []string{"?status=bogus", "?limit=0", "?limit=abc", "?limit=1000"} {
		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders"+query, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("query %s: expected 400, got %d", query, rec.Code)
		}
	}
}
