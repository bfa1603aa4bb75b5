// Package migrations provides database migration functionality using goose.
// Only PostgreSQL and MySQL use migrations; SQLite initializes its schema
// inline when the connection is opened.
package migrations

import (
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
)

// migrationLockID identifies the advisory lock guarding concurrent
// migrations across gateway instances sharing one database.
const migrationLockID = 874021

// Runner manages database migrations using goose.
type Runner struct {
	db             *sql.DB
	migrationsPath string
	dialect        string
}

// NewRunner creates a migration runner. dialect is the goose dialect name,
// "postgres" or "mysql".
func NewRunner(db *sql.DB, migrationsPath, dialect string) *Runner {
	return &Runner{
		db:             db,
		migrationsPath: migrationsPath,
		dialect:        dialect,
	}
}

func (r *Runner) validate() error {
	if r.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	if r.migrationsPath == "" {
		return fmt.Errorf("migrations path is empty")
	}
	if r.dialect != "postgres" && r.dialect != "mysql" {
		return fmt.Errorf("unsupported migration dialect: %s", r.dialect)
	}
	return nil
}

// Up applies all pending migrations. Each migration runs in a transaction,
// and an advisory lock prevents concurrent migrations when multiple
// instances start simultaneously.
func (r *Runner) Up() error {
	if err := r.validate(); err != nil {
		return err
	}

	release, err := r.acquireLock()
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer release()

	if err := goose.SetDialect(r.dialect); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(r.db, r.migrationsPath); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (r *Runner) Down() error {
	if err := r.validate(); err != nil {
		return err
	}

	release, err := r.acquireLock()
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer release()

	if err := goose.SetDialect(r.dialect); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Down(r.db, r.migrationsPath); err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	return nil
}

// Status returns the current migration version, or 0 when no migrations
// have been applied.
func (r *Runner) Status() (int64, error) {
	if err := r.validate(); err != nil {
		return 0, err
	}

	if err := goose.SetDialect(r.dialect); err != nil {
		return 0, fmt.Errorf("failed to set goose dialect: %w", err)
	}

	version, err := goose.GetDBVersion(r.db)
	if err != nil {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, nil
}

// acquireLock takes a database-level advisory lock and returns a release
// function. PostgreSQL uses pg_advisory_lock, MySQL uses GET_LOCK.
func (r *Runner) acquireLock() (func(), error) {
	switch r.dialect {
	case "postgres":
		if _, err := r.db.Exec("SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
			return nil, err
		}
		return func() {
			_, _ = r.db.Exec("SELECT pg_advisory_unlock($1)", migrationLockID)
		}, nil
	case "mysql":
		var acquired sql.NullInt64
		err := r.db.QueryRow("SELECT GET_LOCK(?, 30)", fmt.Sprintf("gateway_migrations_%d", migrationLockID)).Scan(&acquired)
		if err != nil {
			return nil, err
		}
		if !acquired.Valid || acquired.Int64 != 1 {
			return nil, fmt.Errorf("migration lock held by another instance")
		}
		return func() {
			_, _ = r.db.Exec("SELECT RELEASE_LOCK(?)", fmt.Sprintf("gateway_migrations_%d", migrationLockID))
		}, nil
	default:
		return nil, fmt.Errorf("unsupported migration dialect: %s", r.dialect)
	}
}
