package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// IncrementUsage adds delta to the counter identified by (subject, metric,
// periodKey), creating the row on first use.
func (d *DB) IncrementUsage(ctx context.Context, subject, metric, periodKey string, delta int64) error {
	var query string
	if d.driver == DriverMySQL {
		query = `
		INSERT INTO usage_counters (subject, metric, period_key, value, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON DUPLICATE KEY UPDATE value = value + VALUES(value), updated_at = CURRENT_TIMESTAMP
		`
	} else {
		query = `
		INSERT INTO usage_counters (subject, metric, period_key, value, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (subject, metric, period_key) DO UPDATE SET value = usage_counters.value + excluded.value, updated_at = CURRENT_TIMESTAMP
		`
	}

	if _, err := d.ExecContextRebound(ctx, query, subject, metric, periodKey, delta); err != nil {
		return fmt.Errorf("failed to increment usage counter: %w", err)
	}
	return nil
}

// GetUsage returns the counter value for (subject, metric, periodKey).
// Missing counters read as zero.
func (d *DB) GetUsage(ctx context.Context, subject, metric, periodKey string) (int64, error) {
	query := `
	SELECT value
	FROM usage_counters
	WHERE subject = ? AND metric = ? AND period_key = ?
	`

	var value int64
	err := d.QueryRowContextRebound(ctx, query, subject, metric, periodKey).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get usage counter: %w", err)
	}
	return value, nil
}

// GetUsageForSubject returns all counters stored for a subject, keyed by
// metric and then period key.
func (d *DB) GetUsageForSubject(ctx context.Context, subject string) (map[string]map[string]int64, error) {
	query := `
	SELECT metric, period_key, value
	FROM usage_counters
	WHERE subject = ?
	`

	rows, err := d.QueryContextRebound(ctx, query, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage counters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make(map[string]map[string]int64)
	for rows.Next() {
		var metric, periodKey string
		var value int64
		if err := rows.Scan(&metric, &periodKey, &value); err != nil {
			return nil, fmt.Errorf("failed to scan usage counter: %w", err)
		}
		if result[metric] == nil {
			result[metric] = make(map[string]int64)
		}
		result[metric][periodKey] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate usage counters: %w", err)
	}
	return result, nil
}
