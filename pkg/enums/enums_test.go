package enums

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatusResolution(t *testing.T) {
	assert.False(t, OrderStatusProcessing.IsResolved())
	for _, status := range []OrderStatus{
		OrderStatusPaid,
		OrderStatusFailed,
		OrderStatusShipped,
		OrderStatusRefunded,
		OrderStatusPartiallyRefunded,
		OrderStatusCancelled,
	} {
		assert.True(t, status.IsResolved(), status)
	}
	assert.False(t, OrderStatus("bogus").IsResolved())

	assert.True(t, OrderStatusPaid.IsRefundable())
	assert.False(t, OrderStatusFailed.IsRefundable())
	assert.False(t, OrderStatusProcessing.IsRefundable())

	parsed, err := ParseOrderStatus("partially_refunded")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusPartiallyRefunded, parsed)
	_, err = ParseOrderStatus("lost")
	assert.Error(t, err)
}

func TestParseCatalogSource(t *testing.T) {
	src, err := ParseCatalogSource(" Equipment ")
	require.NoError(t, err)
	assert.Equal(t, CatalogSourceEquipment, src)

	src, err = ParseCatalogSource("")
	require.NoError(t, err)
	assert.Equal(t, CatalogSourceCoffee, src)

	_, err = ParseCatalogSource("merch")
	assert.Error(t, err)
}
