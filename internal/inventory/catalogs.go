package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

// conditionalDecrement runs UPDATE ... SET stock = stock - q WHERE <key> AND
// stock >= q and reports whether a row matched.
func conditionalDecrement(tx *gorm.DB, model any, column string, key any, qty int) (bool, error) {
	res := tx.Model(model).
		Where(column+" = ? AND stock >= ?", key, qty).
		UpdateColumns(map[string]any{
			"stock":      gorm.Expr("stock - ?", qty),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func readStock(tx *gorm.DB, model any, column string, key any) (int, error) {
	var stock int
	err := tx.Model(model).Select("stock").Where(column+" = ?", key).Scan(&stock).Error
	return stock, err
}

func change(req Request, after int) *types.StockChange {
	return &types.StockChange{
		ProductID: req.ProductID,
		Source:    req.Source,
		Quantity:  req.Quantity,
		Before:    after + req.Quantity,
		After:     after,
	}
}

type coffeeCatalog struct{}

func (coffeeCatalog) Decrement(_ context.Context, tx *gorm.DB, req Request) (*types.StockChange, error) {
	id, err := uuid.Parse(req.ProductID)
	if err != nil {
		return nil, insufficient(req)
	}
	ok, err := conditionalDecrement(tx, &models.Coffee{}, "id", id, req.Quantity)
	if err != nil {
		return nil, dbFailure(err, "decrement coffee stock")
	}
	if !ok {
		return nil, insufficient(req)
	}
	after, err := readStock(tx, &models.Coffee{}, "id", id)
	if err != nil {
		return nil, dbFailure(err, "read coffee stock")
	}
	return change(req, after), nil
}

type equipmentCatalog struct{}

func (equipmentCatalog) Decrement(_ context.Context, tx *gorm.DB, req Request) (*types.StockChange, error) {
	if id, err := uuid.Parse(req.ProductID); err == nil {
		ok, err := conditionalDecrement(tx, &models.Equipment{}, "id", id, req.Quantity)
		if err != nil {
			return nil, dbFailure(err, "decrement equipment stock")
		}
		if ok {
			after, err := readStock(tx, &models.Equipment{}, "id", id)
			if err != nil {
				return nil, dbFailure(err, "read equipment stock")
			}
			return change(req, after), nil
		}
	}

	ok, err := conditionalDecrement(tx, &models.Equipment{}, "slug", req.ProductID, req.Quantity)
	if err != nil {
		return nil, dbFailure(err, "decrement equipment stock by slug")
	}
	if !ok {
		return nil, insufficient(req)
	}
	after, err := readStock(tx, &models.Equipment{}, "slug", req.ProductID)
	if err != nil {
		return nil, dbFailure(err, "read equipment stock")
	}
	c := change(req, after)
	c.MatchedBySlug = true
	return c, nil
}

type variantCatalog struct{}

func (variantCatalog) Decrement(_ context.Context, tx *gorm.DB, req Request) (*types.StockChange, error) {
	id, err := uuid.Parse(req.ProductID)
	if err != nil {
		return nil, insufficient(req)
	}
	ok, err := conditionalDecrement(tx, &models.ProductVariant{}, "id", id, req.Quantity)
	if err != nil {
		return nil, dbFailure(err, "decrement variant stock")
	}
	if !ok {
		return nil, insufficient(req)
	}

	var variant models.ProductVariant
	if err := tx.Select("id", "product_id", "stock").Where("id = ?", id).Take(&variant).Error; err != nil {
		return nil, dbFailure(err, "read variant stock")
	}
	c := change(req, variant.Stock)

	before, after, found, err := decrementParent(tx, variant.ProductID, req.Quantity)
	if err != nil {
		return nil, dbFailure(err, "decrement product total stock")
	}
	if found {
		parentID := variant.ProductID
		c.ParentID = &parentID
		c.ParentBefore = &before
		c.ParentAfter = &after
	}
	return c, nil
}

// decrementParent keeps the product's rolled-up total in step with its
// variants. The aggregate floors at zero instead of failing the order.
func decrementParent(tx *gorm.DB, productID uuid.UUID, qty int) (before, after int, found bool, err error) {
	var product models.Product
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "total_stock").
		Where("id = ?", productID).
		Take(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, 0, false, nil
		}
		return 0, 0, false, err
	}

	res := tx.Model(&models.Product{}).
		Where("id = ?", productID).
		UpdateColumns(map[string]any{
			"total_stock": gorm.Expr("CASE WHEN total_stock >= ? THEN total_stock - ? ELSE 0 END", qty, qty),
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, 0, false, res.Error
	}

	after = product.TotalStock - qty
	if after < 0 {
		after = 0
	}
	return product.TotalStock, after, true, nil
}
