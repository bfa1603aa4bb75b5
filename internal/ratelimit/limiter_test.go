package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayKey(t *testing.T) {
	at := time.Date(2025, 3, 1, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, "2025-03-01", DayKey(at))

	// Local-zone times are normalized to UTC.
	loc := time.FixedZone("UTC+9", 9*3600)
	assert.Equal(t, "2025-03-02", DayKey(time.Date(2025, 3, 2, 8, 0, 0, 0, loc)))
}

func TestNextMidnightUnix(t *testing.T) {
	at := time.Date(2025, 3, 1, 15, 30, 0, 0, time.UTC)
	want := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC).Unix()
	assert.Equal(t, want, NextMidnightUnix(at))
}

func TestConsumeSequence(t *testing.T) {
	const limit = 5
	l := NewLimiter(NewMemoryWindowStore(), limit, nil)
	ctx := context.Background()

	for i := 1; i <= limit; i++ {
		res, err := l.Check(ctx, "sub:ip", Consume)
		require.NoError(t, err)
		assert.True(t, res.Success, "call %d", i)
		assert.Equal(t, limit-i, res.Remaining, "call %d", i)
		assert.Equal(t, i, res.Count, "call %d", i)
	}

	res, err := l.Check(ctx, "sub:ip", Consume)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, limit, res.Count)
}

func TestPeekNeverMutates(t *testing.T) {
	l := NewLimiter(NewMemoryWindowStore(), 3, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		res, err := l.Check(ctx, "k", Peek)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, 3, res.Remaining)
	}

	res, err := l.Check(ctx, "k", Consume)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Remaining)

	// Interleaved peeks observe the committed count without changing it.
	for i := 0; i < 5; i++ {
		peeked, err := l.Check(ctx, "k", Peek)
		require.NoError(t, err)
		assert.Equal(t, 2, peeked.Remaining)
		assert.Equal(t, 1, peeked.Count)
	}
}

func TestDayRolloverResets(t *testing.T) {
	store := NewMemoryWindowStore()
	day1 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	now := day1
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	l := NewLimiter(store, 2, nil).WithClock(clock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := l.Check(ctx, "k", Consume)
		require.NoError(t, err)
		require.True(t, res.Success)
	}
	res, err := l.Check(ctx, "k", Consume)
	require.NoError(t, err)
	require.False(t, res.Success)

	mu.Lock()
	now = day1.AddDate(0, 0, 1)
	mu.Unlock()

	res, err = l.Check(ctx, "k", Consume)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, 1, res.Remaining)

	w, found, err := store.GetWindow(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2025-03-02", w.DayKey)
	assert.Equal(t, 1, w.Count)
}

func TestPeekAfterRolloverDoesNotPersistReset(t *testing.T) {
	store := NewMemoryWindowStore()
	day1 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	now := day1
	var mu sync.Mutex
	l := NewLimiter(store, 2, nil).WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})
	ctx := context.Background()

	_, err := l.Check(ctx, "k", Consume)
	require.NoError(t, err)

	mu.Lock()
	now = day1.AddDate(0, 0, 1)
	mu.Unlock()

	res, err := l.Check(ctx, "k", Peek)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Remaining)

	// Peek must not have rewritten the stored window.
	w, _, err := store.GetWindow(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01", w.DayKey)
}

func TestConcurrentConsumeNeverOverruns(t *testing.T) {
	const (
		limit = 10
		calls = 50
	)
	l := NewLimiter(NewMemoryWindowStore(), limit, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan bool, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Check(ctx, "hot-key", Consume)
			if err != nil {
				t.Error(err)
				return
			}
			results <- res.Success
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for ok := range results {
		if ok {
			successes++
		}
	}
	assert.Equal(t, limit, successes, "exactly limit consumes must succeed")
}

func TestIndependentKeys(t *testing.T) {
	l := NewLimiter(NewMemoryWindowStore(), 1, nil)
	ctx := context.Background()

	a, err := l.Check(ctx, "subject-a:1.2.3.4", Consume)
	require.NoError(t, err)
	assert.True(t, a.Success)

	// Same subject from a different IP is a different identity.
	b, err := l.Check(ctx, "subject-a:5.6.7.8", Consume)
	require.NoError(t, err)
	assert.True(t, b.Success)

	a2, err := l.Check(ctx, "subject-a:1.2.3.4", Consume)
	require.NoError(t, err)
	assert.False(t, a2.Success)
}

type failingWindowStore struct {
	getErr error
	putErr error
}

func (s *failingWindowStore) GetWindow(ctx context.Context, key string) (Window, bool, error) {
	if s.getErr != nil {
		return Window{}, false, s.getErr
	}
	return Window{}, false, nil
}

func (s *failingWindowStore) PutWindow(ctx context.Context, key string, w Window) error {
	return s.putErr
}

func TestStoreErrorsPropagate(t *testing.T) {
	boom := errors.New("storage down")

	l := NewLimiter(&failingWindowStore{getErr: boom}, 5, nil)
	_, err := l.Check(context.Background(), "k", Consume)
	assert.ErrorIs(t, err, boom)

	l = NewLimiter(&failingWindowStore{putErr: boom}, 5, nil)
	_, err = l.Check(context.Background(), "k", Consume)
	assert.ErrorIs(t, err, boom)

	// Peek does not write, so a put failure cannot affect it.
	res, err := l.Check(context.Background(), "k", Peek)
	require.NoError(t, err)
	assert.True(t, res.Success)
}
