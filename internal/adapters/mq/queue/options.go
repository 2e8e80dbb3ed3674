package queue

import (
	"time"

	"github.com/okian/ascent/internal/domain/dedupe"
)

// Option applies a configuration option to the InMemoryQueue.
type Option func(*InMemoryQueue)

// WithCapacity sets the maximum number of pending jobs.
func WithCapacity(capacity int) Option {
	return func(q *InMemoryQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// WithDeduper replaces the pending-member set used for coalescing.
func WithDeduper(d dedupe.Deduper) Option {
	return func(q *InMemoryQueue) {
		if d != nil {
			q.pending = d
		}
	}
}

// WithClock overrides the time source for EnqueuedAt.
func WithClock(now func() time.Time) Option {
	return func(q *InMemoryQueue) {
		if now != nil {
			q.now = now
		}
	}
}
