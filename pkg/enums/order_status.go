package enums

import "fmt"

// OrderStatus tracks where an order sits in the fulfillment lifecycle.
type OrderStatus string

const (
	OrderStatusProcessing        OrderStatus = "processing"
	OrderStatusPaid              OrderStatus = "paid"
	OrderStatusFailed            OrderStatus = "failed"
	OrderStatusShipped           OrderStatus = "shipped"
	OrderStatusRefunded          OrderStatus = "refunded"
	OrderStatusPartiallyRefunded OrderStatus = "partially_refunded"
	OrderStatusCancelled         OrderStatus = "cancelled"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusProcessing,
	OrderStatusPaid,
	OrderStatusFailed,
	OrderStatusShipped,
	OrderStatusRefunded,
	OrderStatusPartiallyRefunded,
	OrderStatusCancelled,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsResolved reports whether payment reconciliation already finished for the
// order. Every status other than processing is resolved.
func (s OrderStatus) IsResolved() bool {
	return s != OrderStatusProcessing && s.IsValid()
}

// IsRefundable reports whether refunds may be recorded against the order.
func (s OrderStatus) IsRefundable() bool {
	switch s {
	case OrderStatusPaid, OrderStatusShipped, OrderStatusPartiallyRefunded, OrderStatusRefunded:
		return true
	}
	return false
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
