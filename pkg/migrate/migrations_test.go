package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/marketsettle-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestInventoryBatchMigrationContainsConstraints(t *testing.T) {
	assertContains(t, readMigration(t, "create_products_and_inventory_batches"), []string{
		"CREATE TABLE IF NOT EXISTS inventory_batches",
		"FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE CASCADE",
		"CHECK (quantity_remaining >= 0)",
		"CHECK (quantity_remaining <= quantity_received)",
		"ON inventory_batches (product_id, received_at)",
		"DROP TABLE IF EXISTS inventory_batches",
	})
}

func TestOrdersMigrationEnforcesTotals(t *testing.T) {
	assertContains(t, readMigration(t, "create_orders"), []string{
		"CHECK (final_amount = subtotal + shipping_fee + tip)",
		"CHECK (payment_amount = final_amount)",
		"settlement_is_paid BOOLEAN NOT NULL DEFAULT FALSE",
		"WHERE settlement_is_paid = FALSE",
		"CHECK (line_total = unit_price * quantity)",
	})
}

func TestLedgerMigrationGuardsDuplicatePayouts(t *testing.T) {
	assertContains(t, readMigration(t, "create_seller_ledger_entries"), []string{
		"code TEXT NOT NULL UNIQUE",
		"ux_seller_ledger_order_payment",
		"WHERE type = 'ORDER_PAYMENT'",
		"ux_seller_ledger_reversal_of",
	})
}

func TestReturnMigrationAllowsOneActiveReturn(t *testing.T) {
	assertContains(t, readMigration(t, "create_return_requests"), []string{
		"ux_return_requests_active_order",
		"WHERE status IN ('requested', 'approved', 'item_returned')",
		"CHECK (refund_amount >= 0)",
	})
}

func TestValidateDirRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad-name.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatal("expected invalid filename error")
	}
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Payout Holds!")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_payout_holds.sql") {
		t.Fatalf("unexpected path %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}
}

func TestDialect(t *testing.T) {
	cases := map[string]string{"": "postgres", "postgres": "postgres", "sqlite": "sqlite3"}
	for driver, want := range cases {
		got, err := migrate.Dialect(driver)
		if err != nil {
			t.Fatalf("dialect %q: %v", driver, err)
		}
		if got != want {
			t.Fatalf("dialect %q: want %s got %s", driver, want, got)
		}
	}
	if _, err := migrate.Dialect("mysql"); err == nil {
		t.Fatal("expected unsupported driver error")
	}
}
