package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/metrics"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

// ErrInsufficientStock is wrapped by every failed conditional decrement. A
// missing product and a product without enough stock are reported the same way.
var ErrInsufficientStock = errors.New("insufficient stock")

// Request is one line to take out of stock.
type Request struct {
	ProductID string
	Source    enums.CatalogSource
	Quantity  int
}

// Decrementer performs a conditional decrement against one catalog.
type Decrementer interface {
	Decrement(ctx context.Context, tx *gorm.DB, req Request) (*types.StockChange, error)
}

// Engine routes each request to the decrementer for its catalog source.
type Engine struct {
	catalogs map[enums.CatalogSource]Decrementer
	metrics  *metrics.FulfillmentMetrics
	now      func() time.Time
}

// NewEngine wires the variant, coffee and equipment catalogs.
func NewEngine(m *metrics.FulfillmentMetrics) *Engine {
	return &Engine{
		catalogs: map[enums.CatalogSource]Decrementer{
			enums.CatalogSourceVariant:   variantCatalog{},
			enums.CatalogSourceCoffee:    coffeeCatalog{},
			enums.CatalogSourceEquipment: equipmentCatalog{},
		},
		metrics: m,
		now:     time.Now,
	}
}

// Decrement takes req.Quantity units out of stock inside tx. The caller owns
// the transaction; nothing is committed here.
func (e *Engine) Decrement(ctx context.Context, tx *gorm.DB, req Request) (*types.StockChange, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if req.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
			WithDetails(map[string]any{"product_id": req.ProductID, "quantity": req.Quantity})
	}
	source, err := enums.ParseCatalogSource(string(req.Source))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown catalog source").
			WithDetails(map[string]any{"product_id": req.ProductID, "source": req.Source})
	}
	req.Source = source

	catalog, ok := e.catalogs[source]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("catalog %s not supported", source))
	}

	change, err := catalog.Decrement(ctx, tx.WithContext(ctx), req)
	switch {
	case err == nil:
		change.At = e.now().UTC()
		e.metrics.IncDecrement(source.String(), metrics.ResultSuccess)
	case errors.Is(err, ErrInsufficientStock):
		e.metrics.IncDecrement(source.String(), metrics.ResultInsufficient)
	default:
		e.metrics.IncDecrement(source.String(), metrics.ResultError)
	}
	return change, err
}

// DecrementAll applies the requests in order and stops at the first failure.
// The caller rolls back the transaction to undo earlier lines.
func (e *Engine) DecrementAll(ctx context.Context, tx *gorm.DB, reqs []Request) ([]types.StockChange, error) {
	changes := make([]types.StockChange, 0, len(reqs))
	for _, req := range reqs {
		change, err := e.Decrement(ctx, tx, req)
		if err != nil {
			return nil, err
		}
		changes = append(changes, *change)
	}
	return changes, nil
}

func insufficient(req Request) error {
	return pkgerrors.Wrap(pkgerrors.CodeOutOfStock, ErrInsufficientStock,
		fmt.Sprintf("insufficient stock for %s %s", req.Source, req.ProductID)).
		WithDetails(map[string]any{
			"product_id": req.ProductID,
			"source":     req.Source,
			"requested":  req.Quantity,
		})
}

func dbFailure(err error, op string) error {
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}
