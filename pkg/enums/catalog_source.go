package enums

import (
	"fmt"
	"strings"
)

// CatalogSource identifies which product collection a line item belongs to.
type CatalogSource string

const (
	CatalogSourceVariant   CatalogSource = "variant"
	CatalogSourceCoffee    CatalogSource = "coffee"
	CatalogSourceEquipment CatalogSource = "equipment"
)

var validCatalogSources = []CatalogSource{
	CatalogSourceVariant,
	CatalogSourceCoffee,
	CatalogSourceEquipment,
}

func (c CatalogSource) String() string {
	return string(c)
}

func (c CatalogSource) IsValid() bool {
	for _, candidate := range validCatalogSources {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCatalogSource accepts the tag case-insensitively. An empty tag maps to
// the simple product catalog, which is what older checkouts omitted.
func ParseCatalogSource(value string) (CatalogSource, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return CatalogSourceCoffee, nil
	}
	for _, candidate := range validCatalogSources {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid catalog source %q", value)
}
