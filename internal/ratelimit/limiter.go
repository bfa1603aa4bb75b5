package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Mode selects between a read-only quota check and a consuming one.
type Mode int

const (
	// Peek never mutates the counter. Used for UI polling and for bypassed
	// identities.
	Peek Mode = iota
	// Consume atomically increments the counter when under the limit.
	Consume
)

// Result is the outcome of a quota check.
type Result struct {
	Limit     int
	Remaining int
	Reset     int64 // next UTC midnight, epoch seconds
	Success   bool
	Count     int // committed count after the check (usage header)
}

// actorIdleTimeout is how long a key's actor lingers without traffic before
// its goroutine exits. The window itself persists in the store.
const actorIdleTimeout = time.Minute

type checkRequest struct {
	ctx   context.Context
	mode  Mode
	reply chan checkReply
}

type checkReply struct {
	result Result
	err    error
}

type actor struct {
	mu     sync.Mutex
	closed bool
	ch     chan checkRequest
}

// Limiter owns one actor per identity key and funnels every check for a key
// through its actor's mailbox. Different keys never contend.
type Limiter struct {
	store  WindowStore
	limit  int
	logger *zap.Logger
	now    func() time.Time
	actors sync.Map // key -> *actor
}

// NewLimiter creates a Limiter enforcing the given daily limit over the store.
func NewLimiter(store WindowStore, limit int, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		store:  store,
		limit:  limit,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the limiter's time source. Used by tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Check runs a quota check for the identity key. Requests for the same key
// are totally ordered by arrival; a store failure surfaces as an error and
// must be treated as INTERNAL_ERROR by the caller, never as fail-open.
func (l *Limiter) Check(ctx context.Context, key string, mode Mode) (Result, error) {
	req := checkRequest{ctx: ctx, mode: mode, reply: make(chan checkReply, 1)}

	for {
		a := l.acquire(key)
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			l.actors.CompareAndDelete(key, a)
			continue
		}
		// Enqueue under the actor lock so the worker cannot observe an empty
		// mailbox and exit between our closed-check and the send.
		a.ch <- req
		a.mu.Unlock()
		break
	}

	select {
	case reply := <-req.reply:
		return reply.result, reply.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (l *Limiter) acquire(key string) *actor {
	if v, ok := l.actors.Load(key); ok {
		return v.(*actor)
	}
	a := &actor{ch: make(chan checkRequest, 64)}
	if v, loaded := l.actors.LoadOrStore(key, a); loaded {
		return v.(*actor)
	}
	go l.run(key, a)
	return a
}

// run is the single-threaded owner of one key's window. It processes requests
// in arrival order and exits after an idle period.
func (l *Limiter) run(key string, a *actor) {
	idle := time.NewTimer(actorIdleTimeout)
	defer idle.Stop()

	for {
		select {
		case req := <-a.ch:
			result, err := l.check(req.ctx, req.mode, key)
			req.reply <- checkReply{result: result, err: err}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(actorIdleTimeout)
		case <-idle.C:
			// TryLock: a sender holding the lock is about to enqueue, so the
			// actor is not idle. Never block here while owning the mailbox.
			if !a.mu.TryLock() {
				idle.Reset(actorIdleTimeout)
				continue
			}
			if len(a.ch) > 0 {
				a.mu.Unlock()
				idle.Reset(actorIdleTimeout)
				continue
			}
			a.closed = true
			a.mu.Unlock()
			l.actors.CompareAndDelete(key, a)
			return
		}
	}
}

// check performs the read-modify-write for one request. It only ever runs on
// the key's actor goroutine.
func (l *Limiter) check(ctx context.Context, mode Mode, key string) (Result, error) {
	now := l.now()
	today := DayKey(now)
	reset := NextMidnightUnix(now)

	w, found, err := l.store.GetWindow(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit window load failed: %w", err)
	}
	if !found || w.DayKey != today {
		w = Window{DayKey: today, Count: 0}
		if mode == Consume {
			// The day rollover is itself a committed mutation: persist the
			// reset before honoring the increment.
			if err := l.store.PutWindow(ctx, key, w); err != nil {
				return Result{}, fmt.Errorf("rate limit window reset failed: %w", err)
			}
		}
	}

	remaining := l.limit - w.Count
	if remaining < 0 {
		remaining = 0
	}

	if mode == Peek {
		return Result{Limit: l.limit, Remaining: remaining, Reset: reset, Success: true, Count: w.Count}, nil
	}

	if w.Count >= l.limit {
		return Result{Limit: l.limit, Remaining: 0, Reset: reset, Success: false, Count: w.Count}, nil
	}

	w.Count++
	if err := l.store.PutWindow(ctx, key, w); err != nil {
		return Result{}, fmt.Errorf("rate limit window commit failed: %w", err)
	}
	return Result{Limit: l.limit, Remaining: l.limit - w.Count, Reset: reset, Success: true, Count: w.Count}, nil
}
