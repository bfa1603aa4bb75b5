// Package ratelimit implements the per-identity daily rate limiter. Every
// (subject, client IP) key owns one actor; all checks against the same key
// are processed strictly one at a time, in arrival order, which is what makes
// the read-then-increment on the quota counter safe under concurrency.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window is a single identity's counter for one UTC day.
type Window struct {
	DayKey string `json:"day_key"`
	Count  int    `json:"count"`
}

// DayKey formats the UTC calendar-day key for a point in time.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// NextMidnightUnix returns the next UTC midnight after t, as epoch seconds.
// This is the reset timestamp reported to clients.
func NextMidnightUnix(t time.Time) int64 {
	u := t.UTC()
	midnight := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return midnight.Unix()
}

// WindowStore is the persistence behind the rate limiter actors. Get and Put
// for one key are only ever called from that key's actor, so implementations
// need no per-key concurrency control of their own.
type WindowStore interface {
	// GetWindow retrieves the window for a key. found is false when the key
	// has never been written.
	GetWindow(ctx context.Context, key string) (w Window, found bool, err error)

	// PutWindow persists the window for a key.
	PutWindow(ctx context.Context, key string, w Window) error
}

// MemoryWindowStore is an in-memory WindowStore used in tests and as a
// single-process fallback.
type MemoryWindowStore struct {
	mu      sync.Mutex
	windows map[string]Window
}

// NewMemoryWindowStore creates an empty in-memory store.
func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{windows: make(map[string]Window)}
}

// GetWindow retrieves the window for a key.
func (s *MemoryWindowStore) GetWindow(ctx context.Context, key string) (Window, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	return w, ok, nil
}

// PutWindow persists the window for a key.
func (s *MemoryWindowStore) PutWindow(ctx context.Context, key string, w Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[key] = w
	return nil
}
