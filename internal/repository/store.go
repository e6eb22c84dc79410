package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	sqliteScheme = "sqlite://"
)

// DB is a connection pool that knows its SQL dialect. Queries are written with
// "?" placeholders and rebound for Postgres.
type DB struct {
	*sql.DB
	driver string
}

// Open connects to databaseURL and verifies the connection. For sqlite the URL
// has the form sqlite://path/to/file.db.
func Open(ctx context.Context, driver, databaseURL string) (*DB, error) {
	var (
		conn *sql.DB
		err  error
	)
	switch driver {
	case DriverPostgres:
		conn, err = sql.Open("postgres", databaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(30 * time.Minute)
	case DriverSQLite:
		path := strings.TrimPrefix(databaseURL, sqliteScheme)
		conn, err = sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		// SQLite allows one writer; a single connection serializes transactions.
		conn.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{DB: conn, driver: driver}, nil
}

// Driver names the SQL dialect the pool speaks.
func (db *DB) Driver() string { return db.driver }

// rebind rewrites "?" placeholders to "$1", "$2", ... for Postgres.
func (db *DB) rebind(query string) string {
	return rebind(db.driver, query)
}

func rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// RunMigrations applies the migrations under the driver's directory of migrationsFS.
func RunMigrations(driver, databaseURL string, migrationsFS fs.FS, logger *slog.Logger) error {
	sub, err := fs.Sub(migrationsFS, driver)
	if err != nil {
		return fmt.Errorf("select %s migrations: %w", driver, err)
	}

	d, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, databaseURL)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("migrations applied", "driver", driver, "version", version, "dirty", dirty)
	return nil
}

// uniqueViolation reports whether err is a unique constraint failure and, if
// so, whether it was the account number constraint.
func uniqueViolation(err error) (isUnique, onAccountNumber bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code != "23505" {
			return false, false
		}
		return true, pqErr.Constraint == "accounts_account_number_key"
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		unique := code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE"))
		if !unique {
			return false, false
		}
		return true, strings.Contains(liteErr.Error(), "account_number")
	}
	return false, false
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// lockConflict reports whether the database aborted the transaction to break a
// lock cycle or a serialization conflict. Rerunning the transaction from a fresh
// read may succeed.
func lockConflict(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40P01" || pqErr.Code == "40001"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code()&0xff == sqlite3.SQLITE_BUSY
	}
	return false
}
