// Package usage aggregates per-subject call and token counters across
// daily, monthly, and all-time buckets.
package usage

import "time"

// Metrics tracked per subject.
const (
	MetricCalls  = "calls"
	MetricTokens = "tokens"
)

// PeriodTotal is the period key for the all-time bucket.
const PeriodTotal = "all"

// DailyKey returns the daily period key for t in UTC, e.g. "2026-08-31".
func DailyKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// MonthlyKey returns the monthly period key for t in UTC, e.g. "2026-08".
func MonthlyKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// PeriodKeys returns the bucket keys an event at t contributes to.
func PeriodKeys(t time.Time) []string {
	return []string{DailyKey(t), MonthlyKey(t), PeriodTotal}
}
