package types

import "strings"

// Address is the postal snapshot stored on orders, invoices and clients.
type Address struct {
	Name       string `json:"name,omitempty" validate:"omitempty,max=200"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2,omitempty" validate:"omitempty,max=200"`
	City       string `json:"city" validate:"required,max=100"`
	County     string `json:"county,omitempty" validate:"omitempty,max=100"`
	PostalCode string `json:"postal_code" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,len=2"`
	Email      string `json:"email,omitempty" validate:"omitempty,email"`
	Phone      string `json:"phone,omitempty" validate:"omitempty,max=40"`
}

// IsZero reports whether no postal field was provided.
func (a Address) IsZero() bool {
	return strings.TrimSpace(a.Line1) == "" &&
		strings.TrimSpace(a.City) == "" &&
		strings.TrimSpace(a.PostalCode) == ""
}

// Lines renders the address for documents, skipping empty parts.
func (a Address) Lines() []string {
	lines := make([]string, 0, 6)
	for _, part := range []string{a.Name, a.Line1, a.Line2, a.City, a.County, a.PostalCode, a.Country} {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}
