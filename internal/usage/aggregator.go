package usage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/promptgate/enhance-gateway/internal/eventbus"
)

// Store defines the interface for persisting usage counters.
type Store interface {
	// IncrementUsage adds delta to the (subject, metric, periodKey) counter.
	IncrementUsage(ctx context.Context, subject, metric, periodKey string, delta int64) error
	// GetUsage returns the counter value; missing counters read as zero.
	GetUsage(ctx context.Context, subject, metric, periodKey string) (int64, error)
	// GetUsageForSubject returns all counters for a subject keyed by metric
	// and period key.
	GetUsageForSubject(ctx context.Context, subject string) (map[string]map[string]int64, error)
}

// AggregatorConfig holds configuration for the usage aggregator.
type AggregatorConfig struct {
	FlushInterval time.Duration // How often to flush deltas (default: 5s)
	BatchSize     int           // Max events before flush (default: 100)
}

// DefaultAggregatorConfig returns default config.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		FlushInterval: 5 * time.Second,
		BatchSize:     100,
	}
}

type counterKey struct {
	subject   string
	metric    string
	periodKey string
}

// Aggregator consumes completion events from the bus and periodically
// flushes accumulated counter deltas to the store. Accounting is best
// effort: flush errors are logged and never surface to request handling.
type Aggregator struct {
	config  AggregatorConfig
	store   Store
	bus     eventbus.EventBus
	logger  *zap.Logger
	now     func() time.Time
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	stopped bool
}

// NewAggregator creates a usage aggregator reading from bus.
func NewAggregator(config AggregatorConfig, store Store, bus eventbus.EventBus, logger *zap.Logger) *Aggregator {
	cfg := config
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Aggregator{
		config: cfg,
		store:  store,
		bus:    bus,
		logger: logger,
		now:    time.Now,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// WithClock overrides the aggregator's time source. Test hook.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Start begins the background aggregation worker.
func (a *Aggregator) Start() {
	go a.run()
}

// Stop shuts down the aggregator, draining queued events and flushing
// pending deltas.
func (a *Aggregator) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	a.mu.Unlock()

	close(a.stopCh)

	select {
	case <-a.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// apply folds one completion event into the delta map. Each event counts
// one call and its prompt tokens into the daily, monthly, and total buckets.
func (a *Aggregator) apply(deltas map[counterKey]int64, evt eventbus.CompletionEvent) {
	if evt.Subject == "" {
		return
	}
	at := evt.OccurredAt
	if at.IsZero() {
		at = a.now()
	}
	for _, period := range PeriodKeys(at) {
		deltas[counterKey{evt.Subject, MetricCalls, period}]++
		if evt.PromptTokens > 0 {
			deltas[counterKey{evt.Subject, MetricTokens, period}] += int64(evt.PromptTokens)
		}
	}
}

func (a *Aggregator) run() {
	defer close(a.doneCh)

	events := a.bus.Subscribe()
	ticker := time.NewTicker(a.config.FlushInterval)
	defer ticker.Stop()

	deltas := make(map[counterKey]int64)
	eventCount := 0

	flush := func() {
		if eventCount == 0 {
			return
		}

		snapshot := deltas
		deltas = make(map[counterKey]int64)
		eventCount = 0

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for key, delta := range snapshot {
			if err := a.store.IncrementUsage(ctx, key.subject, key.metric, key.periodKey, delta); err != nil {
				a.logger.Error("failed to flush usage counter",
					zap.String("metric", key.metric),
					zap.String("period", key.periodKey),
					zap.Error(err))
			}
		}
	}

	for {
		select {
		case <-a.stopCh:
			// Drain queued events before the final flush so events that were
			// enqueued but not yet processed are not lost.
			for {
				select {
				case evt := <-events:
					a.apply(deltas, evt)
					eventCount++
				default:
					flush()
					return
				}
			}
		case <-ticker.C:
			flush()
		case evt := <-events:
			a.apply(deltas, evt)
			eventCount++
			if eventCount >= a.config.BatchSize {
				flush()
			}
		}
	}
}
