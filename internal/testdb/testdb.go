// Package testdb provides helpers for integration tests that need a real
// PostgreSQL database. The suite is opt-in: tests skip unless DATABASE_URL
// (or STRIDE_TEST_DB_URL) points at a disposable test database.
package testdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	// Registers the pgx stdlib driver under the "pgx" name.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/stride-app/stride-api/migrations"
)

// connectTimeout bounds the initial ping so a misconfigured URL fails fast
// instead of hanging the suite.
const connectTimeout = 5 * time.Second

// URL returns the test database URL, or "" when integration tests are
// disabled.
func URL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	return os.Getenv("STRIDE_TEST_DB_URL")
}

// Connect opens the test database, applies the embedded migrations and
// registers cleanup of the connection. Tests without a configured database
// are skipped, so the suite is a no-op in environments without Postgres.
func Connect(t *testing.T) *sql.DB {
	t.Helper()

	url := URL()
	if url == "" {
		t.Skip("Skipping integration test - DATABASE_URL environment variable required")
	}

	db, err := sql.Open("pgx", url)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("failed to ping test database: %v", err)
	}

	if err := migrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

// migrate applies the embedded migrations, the same set the server applies
// at startup. Goose records applied versions, so repeated calls re-apply
// nothing.
func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Truncate empties the given tables so a test starts from a known state.
func Truncate(t *testing.T, db *sql.DB, tables ...string) {
	t.Helper()

	query := "TRUNCATE TABLE " + strings.Join(tables, ", ") + " CASCADE"
	if _, err := db.Exec(query); err != nil {
		t.Fatalf("failed to truncate tables %v: %v", tables, err)
	}
}
