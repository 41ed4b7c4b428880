package invoices

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fulfillment-backend/pkg/money"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

const ContentTypeHTML = "text/html; charset=utf-8"

var documentTemplate = template.Must(template.New("invoice").Funcs(template.FuncMap{
	"money": func(amount decimal.Decimal, code string) string { return money.Format(amount, code) },
	"date":  func(t time.Time) string { return t.Format("2 January 2006") },
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Invoice {{.Snapshot.Number}}</title></head>
<body>
<h1>{{.StoreName}}</h1>
<h2>Invoice {{.Snapshot.Number}}</h2>
<p>Order reference: {{.Snapshot.PaymentRef}}<br>Paid: {{date .Snapshot.PaidAt}}</p>
{{with .Snapshot.BillingAddress}}<p><strong>Bill to</strong><br>{{range .Lines}}{{.}}<br>{{end}}</p>{{end}}
{{with .Snapshot.ShippingAddress}}<p><strong>Ship to</strong><br>{{range .Lines}}{{.}}<br>{{end}}</p>{{end}}
<table>
<thead><tr><th>Item</th><th>Qty</th><th>Unit</th><th>Total</th></tr></thead>
<tbody>
{{- $cur := .Snapshot.Currency}}
{{range .Snapshot.Lines}}<tr><td>{{.Name}}</td><td>{{.Quantity}}</td><td>{{money .UnitPrice $cur}}</td><td>{{money .LineTotal $cur}}</td></tr>
{{end}}</tbody>
</table>
<p>Subtotal: {{money .Snapshot.Subtotal $cur}}<br>
Shipping: {{money .Snapshot.Shipping $cur}}<br>
<strong>Total: {{money .Snapshot.Total $cur}}</strong></p>
</body>
</html>
`))

type documentData struct {
	StoreName string
	Snapshot  types.InvoiceSnapshot
}

// Render produces the HTML invoice document for the snapshot.
func Render(storeName string, snapshot types.InvoiceSnapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, documentData{StoreName: storeName, Snapshot: snapshot}); err != nil {
		return nil, fmt.Errorf("render invoice %s: %w", snapshot.Number, err)
	}
	return buf.Bytes(), nil
}
