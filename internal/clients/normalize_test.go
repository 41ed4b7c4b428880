package clients

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "jo@example.com", NormalizeEmail("  Jo@Example.COM "))
	assert.Equal(t, "", NormalizeEmail("   "))
	assert.Equal(t, "+44 20 7946 0000", NormalizePhone(" +44 20 7946 0000\t"))
}
