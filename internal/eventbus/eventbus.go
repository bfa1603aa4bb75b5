// Package eventbus decouples request handling from usage accounting.
// Handlers publish completion events fire-and-forget; the usage aggregator
// consumes them asynchronously so accounting never delays a response.
package eventbus

import (
	"context"
	"time"
)

// CompletionEvent describes one finished enhance call.
type CompletionEvent struct {
	RequestID    string
	Subject      string
	Model        string
	Status       int
	Duration     time.Duration
	PromptChars  int
	PromptTokens int
	OccurredAt   time.Time
}

// EventBus is a simple interface for publishing completion events to subscribers.
type EventBus interface {
	Publish(ctx context.Context, evt CompletionEvent)
	Subscribe() <-chan CompletionEvent
}

// InMemoryEventBus is a basic EventBus implementation backed by a buffered channel.
type InMemoryEventBus struct {
	ch chan CompletionEvent
}

// NewInMemoryEventBus creates a new in-memory event bus with the given buffer size.
func NewInMemoryEventBus(bufferSize int) *InMemoryEventBus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &InMemoryEventBus{ch: make(chan CompletionEvent, bufferSize)}
}

// Publish sends an event to the bus without blocking if the buffer is full.
func (b *InMemoryEventBus) Publish(ctx context.Context, evt CompletionEvent) {
	select {
	case b.ch <- evt:
	default:
		// drop event if buffer is full
	}
}

// Subscribe returns a channel that receives events published to the bus.
func (b *InMemoryEventBus) Subscribe() <-chan CompletionEvent {
	return b.ch
}
