package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceLine is a rendered line on the invoice document.
type InvoiceLine struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// InvoiceSnapshot freezes the order data an invoice was generated from.
type InvoiceSnapshot struct {
	Number          string          `json:"number"`
	OrderID         string          `json:"order_id"`
	PaymentRef      string          `json:"payment_ref"`
	RecipientName   string          `json:"recipient_name,omitempty"`
	RecipientEmail  string          `json:"recipient_email,omitempty"`
	Lines           []InvoiceLine   `json:"lines"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Shipping        decimal.Decimal `json:"shipping"`
	Total           decimal.Decimal `json:"total"`
	Currency        string          `json:"currency"`
	ShippingAddress *Address        `json:"shipping_address,omitempty"`
	BillingAddress  *Address        `json:"billing_address,omitempty"`
	PaidAt          time.Time       `json:"paid_at"`
	IssuedAt        time.Time       `json:"issued_at"`
}
