// Package database provides the SQL persistence layer for the gateway:
// rate-limit windows and usage counters, backed by SQLite by default with
// optional PostgreSQL and MySQL support behind build tags.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// DB represents the database connection.
type DB struct {
	db     *sql.DB
	driver DriverType
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.db != nil {
		_ = d.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Driver returns the driver type backing this connection.
func (d *DB) Driver() DriverType {
	return d.driver
}

// SQLDB exposes the underlying *sql.DB, used by the migration runner.
func (d *DB) SQLDB() *sql.DB {
	return d.db
}

// Transaction runs fn inside a transaction, committing on success and
// rolling back on error or panic.
func (d *DB) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ensureDirExists creates the directory if it doesn't exist.
func ensureDirExists(dir string) error {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return os.MkdirAll(dir, 0755)
	} else if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path %s exists and is not a directory", dir)
	}
	return nil
}

// initSQLiteSchema initializes the SQLite database with the necessary schema.
// PostgreSQL and MySQL use goose migrations instead; SQLite creates its
// tables inline so a fresh file or :memory: database is usable immediately.
func initSQLiteSchema(db *sql.DB) error {
	_, err := db.Exec(`
	-- Per-identity daily rate-limit windows
	CREATE TABLE IF NOT EXISTS rate_windows (
		window_key TEXT PRIMARY KEY,
		day_key TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Per-subject usage counters, bucketed by period
	CREATE TABLE IF NOT EXISTS usage_counters (
		subject TEXT NOT NULL,
		metric TEXT NOT NULL,
		period_key TEXT NOT NULL,
		value INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (subject, metric, period_key)
	);

	CREATE INDEX IF NOT EXISTS idx_usage_counters_subject ON usage_counters(subject);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
