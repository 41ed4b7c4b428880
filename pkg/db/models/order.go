package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

// Order is the order-of-record for one payment attempt, keyed by the gateway
// payment reference.
type Order struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	PaymentRef      string              `gorm:"column:payment_ref;not null;uniqueIndex:orders_payment_ref_key"`
	Status          enums.OrderStatus   `gorm:"column:status;type:text;not null;default:'processing';index"`
	Items           []types.OrderItem   `gorm:"column:items;type:jsonb;serializer:json"`
	Subtotal        decimal.Decimal     `gorm:"column:subtotal;type:numeric(15,3);not null;default:0"`
	Shipping        decimal.Decimal     `gorm:"column:shipping;type:numeric(15,3);not null;default:0"`
	Total           decimal.Decimal     `gorm:"column:total;type:numeric(15,3);not null;default:0"`
	AmountRefunded  decimal.Decimal     `gorm:"column:amount_refunded;type:numeric(15,3);not null;default:0"`
	Currency        string              `gorm:"column:currency;type:text;not null;default:'GBP'"`
	ShippingAddress *types.Address      `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	BillingAddress  *types.Address      `gorm:"column:billing_address;type:jsonb;serializer:json"`
	CustomerEmail   *string             `gorm:"column:customer_email"`
	ClientID        *uuid.UUID          `gorm:"column:client_id;type:uuid;index"`
	Metadata        types.OrderMetadata `gorm:"column:metadata;type:jsonb;serializer:json"`
	PaidAt          *time.Time          `gorm:"column:paid_at"`
	FailedAt        *time.Time          `gorm:"column:failed_at"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// Recipient returns the best known email address for customer messages.
func (o *Order) Recipient() string {
	if o == nil {
		return ""
	}
	if o.CustomerEmail != nil && *o.CustomerEmail != "" {
		return *o.CustomerEmail
	}
	if o.ShippingAddress != nil && o.ShippingAddress.Email != "" {
		return o.ShippingAddress.Email
	}
	if o.BillingAddress != nil {
		return o.BillingAddress.Email
	}
	return ""
}

// Summary builds the compact admin view of the order.
func (o *Order) Summary(kind enums.NotificationKind, reason string, at time.Time) types.OrderSummary {
	summary := types.OrderSummary{
		Kind:       kind,
		OrderID:    o.ID,
		PaymentRef: o.PaymentRef,
		Status:     o.Status,
		Total:      o.Total,
		Currency:   o.Currency,
		Customer:   o.Recipient(),
		ItemCount:  len(o.Items),
		Reason:     reason,
		OccurredAt: at,
	}
	return summary
}
