package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/metrics"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:inventory_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func stockOf(t *testing.T, db *gorm.DB, model any, id uuid.UUID) int {
	t.Helper()
	var stock int
	require.NoError(t, db.Model(model).Select("stock").Where("id = ?", id).Scan(&stock).Error)
	return stock
}

func TestDecrementCoffee(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	coffee := models.Coffee{Name: "House blend", Slug: "house-blend", Stock: 5}
	require.NoError(t, db.Create(&coffee).Error)

	engine := NewEngine(nil)
	change, err := engine.Decrement(ctx, db, Request{ProductID: coffee.ID.String(), Source: enums.CatalogSourceCoffee, Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, change.Before)
	assert.Equal(t, 3, change.After)
	assert.False(t, change.At.IsZero())
	assert.Equal(t, 3, stockOf(t, db, &models.Coffee{}, coffee.ID))
}

func TestDecrementDefaultsToCoffeeCatalog(t *testing.T) {
	db := newTestDB(t)
	coffee := models.Coffee{Name: "Decaf", Slug: "decaf", Stock: 1}
	require.NoError(t, db.Create(&coffee).Error)

	change, err := NewEngine(nil).Decrement(context.Background(), db, Request{ProductID: coffee.ID.String(), Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, enums.CatalogSourceCoffee, change.Source)
	assert.Equal(t, 0, change.After)
}

func TestDecrementNeverGoesNegative(t *testing.T) {
	db := newTestDB(t)
	coffee := models.Coffee{Name: "Single origin", Slug: "single-origin", Stock: 1}
	require.NoError(t, db.Create(&coffee).Error)

	_, err := NewEngine(nil).Decrement(context.Background(), db, Request{ProductID: coffee.ID.String(), Source: enums.CatalogSourceCoffee, Quantity: 2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientStock))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeOutOfStock))
	assert.Contains(t, err.Error(), coffee.ID.String())
	assert.Equal(t, 1, stockOf(t, db, &models.Coffee{}, coffee.ID))
}

func TestDecrementMissingProductLooksInsufficient(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(nil)

	_, err := engine.Decrement(context.Background(), db, Request{ProductID: uuid.NewString(), Source: enums.CatalogSourceVariant, Quantity: 1})
	assert.ErrorIs(t, err, ErrInsufficientStock)

	_, err = engine.Decrement(context.Background(), db, Request{ProductID: "not-a-uuid", Source: enums.CatalogSourceCoffee, Quantity: 1})
	assert.ErrorIs(t, err, ErrInsufficientStock)
}

func TestDecrementEquipmentByIDThenSlug(t *testing.T) {
	db := newTestDB(t)
	grinder := models.Equipment{Name: "Grinder", Slug: "burr-grinder", Stock: 3}
	require.NoError(t, db.Create(&grinder).Error)
	engine := NewEngine(nil)
	ctx := context.Background()

	byID, err := engine.Decrement(ctx, db, Request{ProductID: grinder.ID.String(), Source: enums.CatalogSourceEquipment, Quantity: 1})
	require.NoError(t, err)
	assert.False(t, byID.MatchedBySlug)
	assert.Equal(t, 3, byID.Before)
	assert.Equal(t, 2, byID.After)

	bySlug, err := engine.Decrement(ctx, db, Request{ProductID: "burr-grinder", Source: enums.CatalogSourceEquipment, Quantity: 2})
	require.NoError(t, err)
	assert.True(t, bySlug.MatchedBySlug)
	assert.Equal(t, 0, bySlug.After)

	_, err = engine.Decrement(ctx, db, Request{ProductID: "burr-grinder", Source: enums.CatalogSourceEquipment, Quantity: 1})
	assert.ErrorIs(t, err, ErrInsufficientStock)
}

func TestDecrementVariantUpdatesParentAggregate(t *testing.T) {
	db := newTestDB(t)
	product := models.Product{Name: "Espresso", Slug: "espresso", TotalStock: 4}
	require.NoError(t, db.Create(&product).Error)
	variant := models.ProductVariant{ProductID: product.ID, SKU: "ESP-1KG", Name: "1kg", Stock: 10}
	require.NoError(t, db.Create(&variant).Error)

	change, err := NewEngine(nil).Decrement(context.Background(), db, Request{ProductID: variant.ID.String(), Source: enums.CatalogSourceVariant, Quantity: 6})
	require.NoError(t, err)
	assert.Equal(t, 10, change.Before)
	assert.Equal(t, 4, change.After)
	require.NotNil(t, change.ParentID)
	assert.Equal(t, product.ID, *change.ParentID)
	assert.Equal(t, 4, *change.ParentBefore)
	assert.Equal(t, 0, *change.ParentAfter)

	var reloaded models.Product
	require.NoError(t, db.First(&reloaded, "id = ?", product.ID).Error)
	assert.Equal(t, 0, reloaded.TotalStock)
}

func TestDecrementValidatesRequest(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(nil)
	ctx := context.Background()

	_, err := engine.Decrement(ctx, db, Request{ProductID: "", Quantity: 1})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = engine.Decrement(ctx, db, Request{ProductID: uuid.NewString(), Quantity: 0})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = engine.Decrement(ctx, db, Request{ProductID: uuid.NewString(), Source: "gift-card", Quantity: 1})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.False(t, pkgerrors.IsRetryable(err))

	_, err = engine.Decrement(ctx, nil, Request{ProductID: uuid.NewString(), Quantity: 1})
	assert.Error(t, err)
}

func TestDecrementAllRollsBackWithTransaction(t *testing.T) {
	db := newTestDB(t)
	first := models.Coffee{Name: "A", Slug: "a", Stock: 5}
	second := models.Coffee{Name: "B", Slug: "b", Stock: 1}
	require.NoError(t, db.Create(&first).Error)
	require.NoError(t, db.Create(&second).Error)

	reg := prometheus.NewRegistry()
	engine := NewEngine(metrics.NewFulfillmentMetrics(reg))

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := engine.DecrementAll(context.Background(), tx, []Request{
			{ProductID: first.ID.String(), Source: enums.CatalogSourceCoffee, Quantity: 2},
			{ProductID: second.ID.String(), Source: enums.CatalogSourceCoffee, Quantity: 2},
		})
		return err
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	assert.Equal(t, 5, stockOf(t, db, &models.Coffee{}, first.ID))
	assert.Equal(t, 1, stockOf(t, db, &models.Coffee{}, second.ID))

	count, err := testutil.GatherAndCount(reg, "fulfillment_stock_decrements_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestDecrementAllReturnsChangesInOrder(t *testing.T) {
	db := newTestDB(t)
	coffee := models.Coffee{Name: "A", Slug: "a", Stock: 5}
	kettle := models.Equipment{Name: "Kettle", Slug: "kettle", Stock: 2}
	require.NoError(t, db.Create(&coffee).Error)
	require.NoError(t, db.Create(&kettle).Error)

	changes, err := NewEngine(nil).DecrementAll(context.Background(), db, []Request{
		{ProductID: coffee.ID.String(), Source: enums.CatalogSourceCoffee, Quantity: 1},
		{ProductID: "kettle", Source: enums.CatalogSourceEquipment, Quantity: 1},
	})
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, enums.CatalogSourceCoffee, changes[0].Source)
	assert.Equal(t, enums.CatalogSourceEquipment, changes[1].Source)
	assert.True(t, changes[1].MatchedBySlug)
}
