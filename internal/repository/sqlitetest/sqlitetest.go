// Package sqlitetest opens migrated SQLite stores for tests.
package sqlitetest

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/eaglebank/ledger/internal/repository"
	"github.com/eaglebank/ledger/migrations"
)

// Open returns a fresh store in t's temp dir with all migrations applied.
func Open(t testing.TB) *repository.DB {
	t.Helper()

	url := "sqlite://" + filepath.Join(t.TempDir(), "ledger.db")
	if err := repository.RunMigrations(repository.DriverSQLite, url, migrations.FS, slog.New(slog.DiscardHandler)); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	db, err := repository.Open(context.Background(), repository.DriverSQLite, url)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
