package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMinorUnits(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		want     int64
	}{
		{name: "two decimal", amount: "20.00", currency: "GBP", want: 2000},
		{name: "rounds half cents", amount: "19.995", currency: "usd", want: 2000},
		{name: "zero decimal", amount: "1500", currency: "JPY", want: 1500},
		{name: "three decimal", amount: "1.234", currency: "KWD", want: 1234},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToMinorUnits(decimal.RequireFromString(tt.amount), tt.currency)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromMinorUnits(t *testing.T) {
	got, err := FromMinorUnits(4999, "GBP")
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("49.99")))

	got, err = FromMinorUnits(500, "JPY")
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(500)))
}

func TestFitsMinorUnits(t *testing.T) {
	tests := []struct {
		amount   string
		currency string
		want     bool
	}{
		{amount: "20.00", currency: "GBP", want: true},
		{amount: "20.1", currency: "GBP", want: true},
		{amount: "20.005", currency: "GBP", want: false},
		{amount: "1200", currency: "JPY", want: true},
		{amount: "1200.5", currency: "JPY", want: false},
		{amount: "1.234", currency: "KWD", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.amount+" "+tt.currency, func(t *testing.T) {
			got, err := FitsMinorUnits(decimal.RequireFromString(tt.amount), tt.currency)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCurrencyValidation(t *testing.T) {
	code, err := Currency(" gbp ")
	require.NoError(t, err)
	assert.Equal(t, "GBP", code)

	_, err = Currency("XXQ")
	assert.Error(t, err)
}

func TestWithinTolerance(t *testing.T) {
	a := decimal.RequireFromString("50.00")
	assert.True(t, WithinTolerance(a, decimal.RequireFromString("49.99995"), DefaultTolerance))
	assert.False(t, WithinTolerance(a, decimal.RequireFromString("49.99"), DefaultTolerance))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "GBP 20.00", Format(decimal.NewFromInt(20), "gbp"))
	assert.Equal(t, "JPY 1500", Format(decimal.NewFromInt(1500), "JPY"))
}
