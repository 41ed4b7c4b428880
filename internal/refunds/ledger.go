package refunds

import (
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

// Ledger returns the order's refund entries. Orders refunded before the
// ledger existed only carry the single legacy field, which is returned as one
// synthetic succeeded entry.
func Ledger(order *models.Order) []types.RefundEntry {
	if len(order.Metadata.Refunds) > 0 || order.Metadata.LegacyRefund == nil {
		return order.Metadata.Refunds
	}
	legacy := order.Metadata.LegacyRefund
	return []types.RefundEntry{{
		Amount:          legacy.Amount,
		Currency:        order.Currency,
		Reason:          legacy.Reason,
		GatewayRefundID: legacy.RefundID,
		Succeeded:       true,
		Legacy:          true,
		CreatedAt:       legacy.CreatedAt,
	}}
}

// Refunded sums the amounts of entries the gateway accepted.
func Refunded(entries []types.RefundEntry) decimal.Decimal {
	return lo.Reduce(entries, func(sum decimal.Decimal, entry types.RefundEntry, _ int) decimal.Decimal {
		if !entry.Succeeded {
			return sum
		}
		return sum.Add(entry.Amount)
	}, decimal.Zero)
}

// Reserved sums entries still waiting on the gateway. Their amounts are held
// back from the refundable balance until they settle.
func Reserved(entries []types.RefundEntry) decimal.Decimal {
	return lo.Reduce(entries, func(sum decimal.Decimal, entry types.RefundEntry, _ int) decimal.Decimal {
		if !entry.Pending {
			return sum
		}
		return sum.Add(entry.Amount)
	}, decimal.Zero)
}

func findByKey(entries []types.RefundEntry, key string) (types.RefundEntry, bool) {
	if key == "" {
		return types.RefundEntry{}, false
	}
	return lo.Find(entries, func(entry types.RefundEntry) bool {
		return entry.IdempotencyKey == key
	})
}

func findByID(entries []types.RefundEntry, id uuid.UUID) (int, bool) {
	_, index, ok := lo.FindIndexOf(entries, func(entry types.RefundEntry) bool {
		return entry.ID == id
	})
	return index, ok
}
