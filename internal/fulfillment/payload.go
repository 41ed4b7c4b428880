package fulfillment

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/fulfillment-backend/internal/clients"
	"github.com/angelmondragon/fulfillment-backend/internal/inventory"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/money"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

// Payment intent metadata keys written by checkout.
const (
	metaItems           = "items"
	metaSubtotal        = "subtotal"
	metaShipping        = "shipping"
	metaTotal           = "total"
	metaShippingAddress = "shipping_address"
	metaBillingAddress  = "billing_address"
	metaCustomer        = "customer"
	metaCustomerName    = "customer_name"
	metaCustomerEmail   = "customer_email"
	metaCustomerPhone   = "customer_phone"
	metaSource          = "source"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

type lineInput struct {
	ProductID string          `json:"id" validate:"required,max=100"`
	Source    string          `json:"source" validate:"omitempty,max=20"`
	Name      string          `json:"name" validate:"omitempty,max=200"`
	Quantity  int             `json:"quantity" validate:"required,gt=0,lte=1000"`
	UnitPrice decimal.Decimal `json:"price"`
}

type customerInput struct {
	Name  string `json:"name" validate:"omitempty,max=200"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"omitempty,max=40"`
}

// InvalidPayloadError explains why a payment intent could not be turned into
// an order. It is never retried.
type InvalidPayloadError struct {
	Field  string
	Reason string
}

func (e *InvalidPayloadError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &InvalidPayloadError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Payload is the order content carried by a payment intent.
type Payload struct {
	PaymentRef      string
	Items           []types.OrderItem
	Subtotal        decimal.Decimal
	Shipping        decimal.Decimal
	Total           decimal.Decimal
	Currency        string
	ShippingAddress *types.Address
	BillingAddress  *types.Address
	CustomerEmail   string
	Identity        clients.Signals
}

// StockRequests lists the decrements for the payload in submitted order.
func (p *Payload) StockRequests() []inventory.Request {
	return lo.Map(p.Items, func(item types.OrderItem, _ int) inventory.Request {
		return inventory.Request{ProductID: item.ProductID, Source: item.Source, Quantity: item.Quantity}
	})
}

// ParsePayload validates the line items, totals, addresses and customer
// hints found on pi. defaultCurrency is used when the intent carries none.
func ParsePayload(pi *stripe.PaymentIntent, defaultCurrency string, tolerance decimal.Decimal) (*Payload, error) {
	if pi == nil || strings.TrimSpace(pi.ID) == "" {
		return nil, invalid("payment_intent", "missing")
	}
	meta := pi.Metadata

	currencyCode := string(pi.Currency)
	if currencyCode == "" {
		currencyCode = defaultCurrency
	}
	currencyCode, err := money.Currency(currencyCode)
	if err != nil {
		return nil, invalid("currency", "%v", err)
	}

	items, err := parseItems(meta[metaItems])
	if err != nil {
		return nil, err
	}

	lineSum := decimal.Zero
	for _, item := range items {
		lineSum = lineSum.Add(item.LineTotal)
	}
	subtotal, err := optionalAmount(meta, metaSubtotal, lineSum)
	if err != nil {
		return nil, err
	}
	if !money.WithinTolerance(subtotal, lineSum, tolerance) {
		return nil, invalid(metaSubtotal, "%s does not match line items %s", subtotal, lineSum)
	}
	shipping, err := optionalAmount(meta, metaShipping, decimal.Zero)
	if err != nil {
		return nil, err
	}
	total, err := optionalAmount(meta, metaTotal, subtotal.Add(shipping))
	if err != nil {
		return nil, err
	}
	if !money.WithinTolerance(total, subtotal.Add(shipping), tolerance) {
		return nil, invalid(metaTotal, "%s does not equal subtotal plus shipping", total)
	}
	if pi.Amount > 0 {
		charged, err := money.FromMinorUnits(pi.Amount, currencyCode)
		if err != nil {
			return nil, invalid("amount", "%v", err)
		}
		if !money.WithinTolerance(total, charged, tolerance) {
			return nil, invalid(metaTotal, "%s does not match charged amount %s", total, charged)
		}
	}

	shippingAddr, err := parseAddress(meta, metaShippingAddress)
	if err != nil {
		return nil, err
	}
	if shippingAddr == nil {
		shippingAddr = addressFromStripe(pi.Shipping)
	}
	billingAddr, err := parseAddress(meta, metaBillingAddress)
	if err != nil {
		return nil, err
	}

	signals, err := parseIdentity(meta)
	if err != nil {
		return nil, err
	}
	signals.FallbackEmail = lo.CoalesceOrEmpty(
		addressContact(shippingAddr, emailOf),
		addressContact(billingAddr, emailOf),
		strings.TrimSpace(pi.ReceiptEmail),
	)
	if strings.TrimSpace(signals.Phone) == "" {
		signals.Phone = lo.CoalesceOrEmpty(
			addressContact(shippingAddr, phoneOf),
			addressContact(billingAddr, phoneOf),
		)
	}
	signals.OrderRef = pi.ID
	signals.Address = lo.Ternary(shippingAddr != nil, shippingAddr, billingAddr)
	if signals.Name == "" && shippingAddr != nil {
		signals.Name = shippingAddr.Name
	}
	if source := strings.TrimSpace(meta[metaSource]); source != "" {
		signals.Sources = []string{source}
	}

	customerEmail := clients.NormalizeEmail(signals.Email)
	if customerEmail == "" {
		customerEmail = clients.NormalizeEmail(signals.FallbackEmail)
	}

	return &Payload{
		PaymentRef:      pi.ID,
		Items:           items,
		Subtotal:        subtotal,
		Shipping:        shipping,
		Total:           total,
		Currency:        currencyCode,
		ShippingAddress: shippingAddr,
		BillingAddress:  billingAddr,
		CustomerEmail:   customerEmail,
		Identity:        signals,
	}, nil
}

func parseItems(raw string) ([]types.OrderItem, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, invalid(metaItems, "missing")
	}
	var lines []lineInput
	if err := json.Unmarshal([]byte(raw), &lines); err != nil {
		return nil, invalid(metaItems, "malformed: %v", err)
	}
	if len(lines) == 0 {
		return nil, invalid(metaItems, "empty")
	}

	items := make([]types.OrderItem, 0, len(lines))
	for i, line := range lines {
		field := fmt.Sprintf("%s[%d]", metaItems, i)
		if err := validate.Struct(line); err != nil {
			return nil, invalid(field, "%s", validationReason(err))
		}
		source, err := enums.ParseCatalogSource(line.Source)
		if err != nil {
			return nil, invalid(field, "%v", err)
		}
		if line.UnitPrice.IsNegative() {
			return nil, invalid(field, "price must not be negative")
		}
		items = append(items, types.OrderItem{
			ProductID: strings.TrimSpace(line.ProductID),
			Source:    source,
			Name:      strings.TrimSpace(line.Name),
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))),
		})
	}
	return items, nil
}

func optionalAmount(meta map[string]string, key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	raw := strings.TrimSpace(meta[key])
	if raw == "" {
		return fallback, nil
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, invalid(key, "not a number")
	}
	if amount.IsNegative() {
		return decimal.Zero, invalid(key, "must not be negative")
	}
	return amount, nil
}

func parseAddress(meta map[string]string, key string) (*types.Address, error) {
	raw := strings.TrimSpace(meta[key])
	if raw == "" {
		return nil, nil
	}
	var addr types.Address
	if err := json.Unmarshal([]byte(raw), &addr); err != nil {
		return nil, invalid(key, "malformed: %v", err)
	}
	if addr.IsZero() {
		return nil, nil
	}
	if err := validate.Struct(addr); err != nil {
		return nil, invalid(key, "%s", validationReason(err))
	}
	return &addr, nil
}

func addressFromStripe(details *stripe.ShippingDetails) *types.Address {
	if details == nil || details.Address == nil {
		return nil
	}
	addr := types.Address{
		Name:       details.Name,
		Line1:      details.Address.Line1,
		Line2:      details.Address.Line2,
		City:       details.Address.City,
		County:     details.Address.State,
		PostalCode: details.Address.PostalCode,
		Country:    details.Address.Country,
		Phone:      details.Phone,
	}
	if addr.IsZero() {
		return nil
	}
	return &addr
}

func emailOf(a *types.Address) string { return a.Email }

func phoneOf(a *types.Address) string { return a.Phone }

// addressContact reads a trimmed contact field from an optional address.
func addressContact(a *types.Address, field func(*types.Address) string) string {
	if a == nil {
		return ""
	}
	return strings.TrimSpace(field(a))
}

func parseIdentity(meta map[string]string) (clients.Signals, error) {
	var sig clients.Signals
	if raw := strings.TrimSpace(meta[metaCustomer]); raw != "" {
		var block customerInput
		if err := json.Unmarshal([]byte(raw), &block); err != nil {
			return sig, invalid(metaCustomer, "malformed: %v", err)
		}
		if err := validate.Struct(block); err != nil {
			return sig, invalid(metaCustomer, "%s", validationReason(err))
		}
		sig.Explicit = true
		sig.Name = block.Name
		sig.Email = block.Email
		sig.Phone = block.Phone
	}

	flat := customerInput{
		Name:  strings.TrimSpace(meta[metaCustomerName]),
		Email: strings.TrimSpace(meta[metaCustomerEmail]),
		Phone: strings.TrimSpace(meta[metaCustomerPhone]),
	}
	if err := validate.Struct(flat); err != nil {
		return sig, invalid(metaCustomer, "%s", validationReason(err))
	}
	sig.Name = lo.Ternary(sig.Name != "", sig.Name, flat.Name)
	sig.Email = lo.Ternary(sig.Email != "", sig.Email, flat.Email)
	sig.Phone = lo.Ternary(sig.Phone != "", sig.Phone, flat.Phone)
	return sig, nil
}

func validationReason(err error) string {
	errs, ok := err.(validator.ValidationErrors)
	if !ok || len(errs) == 0 {
		return err.Error()
	}
	fe := errs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email", fe.Field())
	case "gt", "min":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}
