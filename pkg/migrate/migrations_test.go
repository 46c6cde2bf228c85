package migrate_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/migrate"
)

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	require.NoError(t, migrate.Validate(migrate.Migrations()))
	onDisk, err := fs.Glob(os.DirFS("migrations"), "*.sql")
	require.NoError(t, err)
	embedded, err := fs.Glob(migrate.Migrations(), "*.sql")
	require.NoError(t, err)
	assert.Equal(t, onDisk, embedded)
}

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := fs.Glob(migrate.Migrations(), "*_"+suffix+".sql")
	require.NoError(t, err)
	require.Len(t, matches, 1, "expected one %s migration", suffix)

	data, err := fs.ReadFile(migrate.Migrations(), matches[0])
	require.NoError(t, err)
	return string(data)
}

func TestReconciliationConstraintsArePresent(t *testing.T) {
	cases := map[string][]string{
		"create_catalog": {
			"CREATE TABLE IF NOT EXISTS product_variants",
			"CHECK (stock >= 0)",
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_product_variants_sku",
			"DROP TABLE IF EXISTS products",
		},
		"create_orders": {
			"paid_at timestamptz",
			"backordered_qty integer NOT NULL DEFAULT 0",
			"ux_payments_one_completed_per_order",
			"WHERE status = 'completed'",
		},
		"create_webhook_events": {
			"CREATE UNIQUE INDEX IF NOT EXISTS ux_webhook_events_gateway_event ON webhook_events (gateway, event_id)",
			"'received', 'applying', 'applied', 'failed', 'ignored'",
		},
		"create_carts": {
			"chk_carts_single_owner",
		},
	}

	for suffix, checks := range cases {
		t.Run(suffix, func(t *testing.T) {
			content := readMigration(t, suffix)
			for _, sub := range checks {
				assert.Contains(t, content, sub)
			}
		})
	}
}

func TestNewFile(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 4, 1, 8, 30, 0, 0, time.UTC)

	path, err := migrate.NewFile(dir, "Add Gift Cards!", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20260401083000_add_gift_cards.sql"), path)
	require.NoError(t, migrate.Validate(os.DirFS(dir)))

	_, err = migrate.NewFile(dir, "add gift cards", now)
	require.Error(t, err, "same version must not be overwritten")

	_, err = migrate.NewFile(dir, "!!!", now)
	require.Error(t, err)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	fsys := fstest.MapFS{
		"001_bad.sql":                {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"20260101000000_a.sql":       {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"20260101000000_b.sql":       {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"20260102000000_no_down.sql": {Data: []byte("-- +goose Up\n")},
		"README.md":                  {Data: []byte("ignored")},
	}
	err := migrate.Validate(fsys)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "001_bad.sql: invalid migration filename")
	assert.Contains(t, msg, "already used by 20260101000000_a.sql")
	assert.True(t, strings.Contains(msg, `20260102000000_no_down.sql: missing "-- +goose Down"`), msg)
}
