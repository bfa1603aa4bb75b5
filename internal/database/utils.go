package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// RebindQuery converts a query from ? placeholders to the placeholder style
// of the active driver. SQLite and MySQL use ?; PostgreSQL uses $1, $2, etc.
func (d *DB) RebindQuery(query string) string {
	if d.driver != DriverPostgres {
		return query
	}

	var builder strings.Builder
	builder.Grow(len(query) + 10)
	count := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			count++
			builder.WriteString(fmt.Sprintf("$%d", count))
		} else {
			builder.WriteByte(query[i])
		}
	}
	return builder.String()
}

// ExecContextRebound executes a query with automatic placeholder rebinding.
func (d *DB) ExecContextRebound(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return d.db.ExecContext(ctx, d.RebindQuery(query), args...)
}

// QueryRowContextRebound queries a single row with automatic placeholder rebinding.
func (d *DB) QueryRowContextRebound(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return d.db.QueryRowContext(ctx, d.RebindQuery(query), args...)
}

// QueryContextRebound queries rows with automatic placeholder rebinding.
func (d *DB) QueryContextRebound(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, d.RebindQuery(query), args...)
}
