package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fulfillment-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	require.NoError(t, err)
	require.Len(t, matches, 1, "expected one %s migration", suffix)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	return string(data)
}

func assertContainsAll(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, sub := range checks {
		assert.True(t, strings.Contains(content, sub), "missing expected statement %q", sub)
	}
}

func TestMigrationsDirIsValid(t *testing.T) {
	require.NoError(t, migrate.ValidateDir("migrations"))
}

func TestCatalogMigrationGuardsStock(t *testing.T) {
	assertContainsAll(t, readMigration(t, "create_catalog"), []string{
		"CREATE TABLE IF NOT EXISTS product_variants",
		"CONSTRAINT product_variants_stock_check CHECK (stock >= 0)",
		"CONSTRAINT coffees_stock_check CHECK (stock >= 0)",
		"CONSTRAINT equipment_stock_check CHECK (stock >= 0)",
		"CONSTRAINT equipment_slug_key UNIQUE (slug)",
		"FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE CASCADE",
		"DROP TABLE IF EXISTS products",
	})
}

func TestClientsMigrationHasPartialUniqueIndexes(t *testing.T) {
	assertContainsAll(t, readMigration(t, "create_clients"), []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS clients_email_key ON clients (email) WHERE email IS NOT NULL",
		"CREATE UNIQUE INDEX IF NOT EXISTS clients_phone_key ON clients (phone) WHERE phone IS NOT NULL",
	})
}

func TestOrdersMigrationKeysOnPaymentRef(t *testing.T) {
	assertContainsAll(t, readMigration(t, "create_orders"), []string{
		"CONSTRAINT orders_payment_ref_key UNIQUE (payment_ref)",
		"FOREIGN KEY (client_id) REFERENCES clients(id) ON DELETE SET NULL",
		"'partially_refunded'",
	})
}

func TestInvoicesMigrationOnePerOrder(t *testing.T) {
	assertContainsAll(t, readMigration(t, "create_invoices"), []string{
		"CONSTRAINT invoices_order_id_key UNIQUE (order_id)",
		"FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE",
	})
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Refund Index!")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "_add_refund_index.sql"))
	require.NoError(t, migrate.ValidateDir(dir))

	_, err = migrate.CreateSQLMigration(dir, "!!!")
	assert.Error(t, err)
}

func TestValidateDirRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644))
	assert.Error(t, migrate.ValidateDir(dir))
}

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	require.NoError(t, migrate.ValidateEmbedded())
}
