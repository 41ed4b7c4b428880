package invoices

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

// Number derives the human-facing invoice number from the order.
func Number(order *models.Order, at time.Time) string {
	short := strings.ToUpper(strings.ReplaceAll(order.ID.String(), "-", "")[:8])
	return fmt.Sprintf("INV-%s-%s", at.UTC().Format("20060102"), short)
}

// BuildSnapshot freezes the paid order into the document data.
func BuildSnapshot(order *models.Order, issuedAt time.Time) types.InvoiceSnapshot {
	paidAt := issuedAt
	if order.PaidAt != nil {
		paidAt = *order.PaidAt
	}
	snapshot := types.InvoiceSnapshot{
		Number:         Number(order, paidAt),
		OrderID:        order.ID.String(),
		PaymentRef:     order.PaymentRef,
		RecipientEmail: order.Recipient(),
		Lines: lo.Map(order.Items, func(item types.OrderItem, _ int) types.InvoiceLine {
			return types.InvoiceLine{
				Name:      lo.Ternary(item.Name != "", item.Name, item.ProductID),
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice,
				LineTotal: item.LineTotal,
			}
		}),
		Subtotal:        order.Subtotal,
		Shipping:        order.Shipping,
		Total:           order.Total,
		Currency:        order.Currency,
		ShippingAddress: order.ShippingAddress,
		BillingAddress:  order.BillingAddress,
		PaidAt:          paidAt.UTC(),
		IssuedAt:        issuedAt.UTC(),
	}
	switch {
	case order.BillingAddress != nil && order.BillingAddress.Name != "":
		snapshot.RecipientName = order.BillingAddress.Name
	case order.ShippingAddress != nil:
		snapshot.RecipientName = order.ShippingAddress.Name
	}
	return snapshot
}

// Summary is the admin alert view of an invoice snapshot.
func Summary(snapshot types.InvoiceSnapshot, reason string, at time.Time) types.OrderSummary {
	summary := types.OrderSummary{
		PaymentRef: snapshot.PaymentRef,
		Total:      snapshot.Total,
		Currency:   snapshot.Currency,
		Customer:   snapshot.RecipientEmail,
		ItemCount:  len(snapshot.Lines),
		Reason:     reason,
		OccurredAt: at.UTC(),
	}
	if id, err := uuid.Parse(snapshot.OrderID); err == nil {
		summary.OrderID = id
	}
	return summary
}
