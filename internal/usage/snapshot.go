package usage

import (
	"context"
	"time"
)

// Snapshot is the per-subject usage view served to clients. Buckets with no
// recorded activity report zero.
type Snapshot struct {
	Subject string        `json:"subject"`
	Daily   PeriodMetrics `json:"daily"`
	Monthly PeriodMetrics `json:"monthly"`
	Total   PeriodMetrics `json:"total"`
}

// PeriodMetrics holds the counters of a single bucket.
type PeriodMetrics struct {
	Period string `json:"period"`
	Calls  int64  `json:"calls"`
	Tokens int64  `json:"tokens"`
}

// SnapshotFor reads the current usage counters for a subject at time now.
func SnapshotFor(ctx context.Context, store Store, subject string, now time.Time) (Snapshot, error) {
	counters, err := store.GetUsageForSubject(ctx, subject)
	if err != nil {
		return Snapshot{}, err
	}

	bucket := func(period string) PeriodMetrics {
		return PeriodMetrics{
			Period: period,
			Calls:  counters[MetricCalls][period],
			Tokens: counters[MetricTokens][period],
		}
	}

	return Snapshot{
		Subject: subject,
		Daily:   bucket(DailyKey(now)),
		Monthly: bucket(MonthlyKey(now)),
		Total:   bucket(PeriodTotal),
	}, nil
}
