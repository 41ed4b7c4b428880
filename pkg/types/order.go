package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

// OrderItem is one purchased line as captured at payment time.
type OrderItem struct {
	ProductID string              `json:"product_id"`
	Source    enums.CatalogSource `json:"source"`
	Name      string              `json:"name"`
	Quantity  int                 `json:"quantity"`
	UnitPrice decimal.Decimal     `json:"unit_price"`
	LineTotal decimal.Decimal     `json:"line_total"`
}

// StockChange records one successful conditional decrement.
type StockChange struct {
	ProductID     string              `json:"product_id"`
	Source        enums.CatalogSource `json:"source"`
	Quantity      int                 `json:"quantity"`
	Before        int                 `json:"before"`
	After         int                 `json:"after"`
	ParentID      *uuid.UUID          `json:"parent_id,omitempty"`
	ParentBefore  *int                `json:"parent_before,omitempty"`
	ParentAfter   *int                `json:"parent_after,omitempty"`
	MatchedBySlug bool                `json:"matched_by_slug,omitempty"`
	At            time.Time           `json:"at"`
}

// RefundEntry is one append-only record in an order's refund ledger.
type RefundEntry struct {
	ID              uuid.UUID       `json:"id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Reason          string          `json:"reason,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	GatewayKey      string          `json:"gateway_key,omitempty"`
	GatewayRefundID string          `json:"gateway_refund_id,omitempty"`
	GatewayStatus   string          `json:"gateway_status,omitempty"`
	Succeeded       bool            `json:"succeeded"`
	Pending         bool            `json:"pending,omitempty"`
	Error           string          `json:"error,omitempty"`
	Legacy          bool            `json:"legacy,omitempty"`
	Actor           string          `json:"actor,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// LegacyRefund is the single-refund field written before the ledger existed.
type LegacyRefund struct {
	Amount    decimal.Decimal `json:"amount"`
	RefundID  string          `json:"refund_id,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NotificationOutcome records the result of a best-effort message.
type NotificationOutcome struct {
	Kind      enums.NotificationKind `json:"kind"`
	Recipient string                 `json:"recipient,omitempty"`
	Sent      bool                   `json:"sent"`
	Error     string                 `json:"error,omitempty"`
	At        time.Time              `json:"at"`
}

// ProcessingAttempt records a retryable failure that left the order claimable.
type ProcessingAttempt struct {
	EventID string    `json:"event_id,omitempty"`
	Error   string    `json:"error"`
	At      time.Time `json:"at"`
}

// OrderMetadata is the audit ledger attached to each order.
type OrderMetadata struct {
	EventID            string                `json:"event_id,omitempty"`
	EventType          string                `json:"event_type,omitempty"`
	StockChanges       []StockChange         `json:"stock_changes,omitempty"`
	Refunds            []RefundEntry         `json:"refunds,omitempty"`
	LegacyRefund       *LegacyRefund         `json:"legacy_refund,omitempty"`
	Notifications      []NotificationOutcome `json:"notifications,omitempty"`
	FailureReason      string                `json:"failure_reason,omitempty"`
	FailureCode        string                `json:"failure_code,omitempty"`
	ProcessingAttempts []ProcessingAttempt   `json:"processing_attempts,omitempty"`
	PaymentFailures    []ProcessingAttempt   `json:"payment_failures,omitempty"`
	PayloadSource      string                `json:"payload_source,omitempty"`
}

// OrderSummary is the compact view handed to admin alert channels.
type OrderSummary struct {
	Kind       enums.NotificationKind `json:"kind"`
	OrderID    uuid.UUID              `json:"order_id"`
	PaymentRef string                 `json:"payment_ref"`
	Status     enums.OrderStatus      `json:"status"`
	Total      decimal.Decimal        `json:"total"`
	Currency   string                 `json:"currency"`
	Customer   string                 `json:"customer,omitempty"`
	ItemCount  int                    `json:"item_count"`
	Reason     string                 `json:"reason,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}
