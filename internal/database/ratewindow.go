package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/promptgate/enhance-gateway/internal/ratelimit"
)

// GetWindow retrieves the rate-limit window for the given identity key.
// The second return value is false when no window has been stored yet.
func (d *DB) GetWindow(ctx context.Context, key string) (ratelimit.Window, bool, error) {
	query := `
	SELECT day_key, count
	FROM rate_windows
	WHERE window_key = ?
	`

	var w ratelimit.Window
	err := d.QueryRowContextRebound(ctx, query, key).Scan(&w.DayKey, &w.Count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ratelimit.Window{}, false, nil
		}
		return ratelimit.Window{}, false, fmt.Errorf("failed to get rate window: %w", err)
	}

	return w, true, nil
}

// PutWindow stores the rate-limit window for the given identity key,
// replacing any existing row.
func (d *DB) PutWindow(ctx context.Context, key string, w ratelimit.Window) error {
	var query string
	if d.driver == DriverMySQL {
		query = `
		INSERT INTO rate_windows (window_key, day_key, count, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON DUPLICATE KEY UPDATE day_key = VALUES(day_key), count = VALUES(count), updated_at = CURRENT_TIMESTAMP
		`
	} else {
		query = `
		INSERT INTO rate_windows (window_key, day_key, count, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (window_key) DO UPDATE SET day_key = excluded.day_key, count = excluded.count, updated_at = CURRENT_TIMESTAMP
		`
	}

	if _, err := d.ExecContextRebound(ctx, query, key, w.DayKey, w.Count); err != nil {
		return fmt.Errorf("failed to store rate window: %w", err)
	}
	return nil
}
