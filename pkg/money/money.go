package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// DefaultTolerance absorbs rounding noise when comparing monetary sums.
var DefaultTolerance = decimal.New(1, -4)

// Currency parses and normalizes an ISO 4217 code.
func Currency(code string) (string, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return "", fmt.Errorf("invalid currency %q: %w", code, err)
	}
	return unit.String(), nil
}

// Scale returns the number of minor-unit digits for the currency, 0 for
// zero-decimal currencies such as JPY.
func Scale(code string) (int32, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return 0, fmt.Errorf("invalid currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale), nil
}

// ToMinorUnits converts a major-unit amount into the gateway's integer amount.
func ToMinorUnits(amount decimal.Decimal, code string) (int64, error) {
	scale, err := Scale(code)
	if err != nil {
		return 0, err
	}
	return amount.Shift(scale).Round(0).IntPart(), nil
}

// FitsMinorUnits reports whether amount has no precision beyond the
// currency's minor unit.
func FitsMinorUnits(amount decimal.Decimal, code string) (bool, error) {
	scale, err := Scale(code)
	if err != nil {
		return false, err
	}
	return amount.Equal(amount.Round(scale)), nil
}

// FromMinorUnits converts a gateway integer amount back into major units.
func FromMinorUnits(amount int64, code string) (decimal.Decimal, error) {
	scale, err := Scale(code)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.New(amount, -scale), nil
}

// WithinTolerance reports whether a and b differ by at most tolerance.
func WithinTolerance(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}

// Format renders an amount with the currency's minor-unit precision.
func Format(amount decimal.Decimal, code string) string {
	scale, err := Scale(code)
	if err != nil {
		scale = 2
	}
	return fmt.Sprintf("%s %s", strings.ToUpper(code), amount.StringFixed(scale))
}
