package orders

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fulfillment-backend/api/responses"
	"github.com/angelmondragon/fulfillment-backend/api/validators"
	internalorders "github.com/angelmondragon/fulfillment-backend/internal/orders"
	"github.com/angelmondragon/fulfillment-backend/internal/refunds"
	"github.com/angelmondragon/fulfillment-backend/pkg/db"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/pagination"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

type OrderReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	List(ctx context.Context, filter internalorders.ListFilter, params pagination.Params) (pagination.Page[models.Order], error)
}

type orderView struct {
	ID              uuid.UUID           `json:"id"`
	PaymentRef      string              `json:"paymentRef"`
	Status          enums.OrderStatus   `json:"status"`
	Items           []types.OrderItem   `json:"items"`
	Subtotal        decimal.Decimal     `json:"subtotal"`
	Shipping        decimal.Decimal     `json:"shipping"`
	Total           decimal.Decimal     `json:"total"`
	Currency        string              `json:"currency"`
	AmountRefunded  decimal.Decimal     `json:"amountRefunded"`
	CustomerEmail   *string             `json:"customerEmail,omitempty"`
	ClientID        *uuid.UUID          `json:"clientId,omitempty"`
	ShippingAddress *types.Address      `json:"shippingAddress,omitempty"`
	Refunds         []types.RefundEntry `json:"refunds"`
	PaidAt          *time.Time          `json:"paidAt,omitempty"`
	FailedAt        *time.Time          `json:"failedAt,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
}

// AdminOrderDetail returns the order with its refund ledger.
func AdminOrderDetail(repo OrderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders repository unavailable"))
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := repo.FindByID(r.Context(), orderID)
		if err != nil {
			if db.IsNotFound(err) {
				err = pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderView(order))
	}
}

// AdminOrderList pages through orders newest first, optionally filtered by
// status.
func AdminOrderList(repo OrderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders repository unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var filter internalorders.ListFilter
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status := enums.OrderStatus(strings.ToLower(raw))
			if !status.IsValid() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter").WithDetails(map[string]any{"field": "status"}))
				return
			}
			filter.Status = &status
		}

		page, err := repo.List(r.Context(), filter, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			if pkgerrors.As(err) == nil {
				err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, pagination.Page[orderView]{
			Items:      lo.Map(page.Items, func(o models.Order, _ int) orderView { return newOrderView(&o) }),
			NextCursor: page.NextCursor,
		})
	}
}

func newOrderView(order *models.Order) orderView {
	ledger := refunds.Ledger(order)
	if ledger == nil {
		ledger = []types.RefundEntry{}
	}
	return orderView{
		ID:              order.ID,
		PaymentRef:      order.PaymentRef,
		Status:          order.Status,
		Items:           order.Items,
		Subtotal:        order.Subtotal,
		Shipping:        order.Shipping,
		Total:           order.Total,
		Currency:        order.Currency,
		AmountRefunded:  order.AmountRefunded,
		CustomerEmail:   order.CustomerEmail,
		ClientID:        order.ClientID,
		ShippingAddress: order.ShippingAddress,
		Refunds:         ledger,
		PaidAt:          order.PaidAt,
		FailedAt:        order.FailedAt,
		CreatedAt:       order.CreatedAt,
	}
}
