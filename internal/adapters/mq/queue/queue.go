// Package queue holds pending member evaluations. Jobs for a member that is
// already waiting are coalesced into the pending job.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/ascent/internal/domain/dedupe"
	"github.com/okian/ascent/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 10_000
)

// Job asks for one member to be re-evaluated and promoted if eligible.
type Job struct {
	GuildID    string    `json:"guild_id"`
	MemberID   string    `json:"member_id"`
	DryRun     bool      `json:"dry_run"`
	Reason     string    `json:"reason,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Key identifies the member a job is for.
func (j Job) Key() string {
	return j.GuildID + ":" + j.MemberID
}

// Result tells the caller what Enqueue did with a job.
type Result string

// Enqueue results.
const (
	Queued    Result = "queued"
	Coalesced Result = "coalesced"
)

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a job. A job for a member that is already pending is
	// coalesced and reports Coalesced.
	Enqueue(ctx context.Context, j Job) (Result, error)

	// Dequeue returns a channel that will receive jobs as they become available.
	// The channel will be closed when the queue is closed.
	Dequeue(ctx context.Context) <-chan Job

	// Len returns the current number of queued jobs.
	Len(ctx context.Context) int

	// Close gracefully shuts down the queue.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	jobs     chan Job
	capacity int
	pending  dedupe.Deduper
	now      func() time.Time

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultQueueCapacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.pending == nil {
		q.pending = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(q.capacity))
	}
	q.jobs = make(chan Job, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	return q
}

// Enqueue adds a job to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, j Job) (Result, error) {
	if j.MemberID == "" {
		return "", ErrMemberRequired
	}
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueRejected()
		metrics.RecordErrorByComponent("queue", "closed")
		return "", ErrClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueRejected()
		return "", err
	}

	key := j.Key()
	if q.pending.SeenAndRecord(ctx, key) {
		metrics.RecordQueueCoalesced()
		return Coalesced, nil
	}
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = q.now()
	}

	select {
	case q.jobs <- j:
		metrics.RecordQueueEnqueue()
		metrics.UpdateQueueSize(len(q.jobs))
		return Queued, nil
	default:
		q.pending.Unrecord(ctx, key)
		metrics.RecordQueueRejected()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return "", ErrFull
	}
}

// Dequeue returns a channel that will receive jobs as they become available.
// A member stops counting as pending once its job is handed out, so changes
// during processing queue a fresh evaluation.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Job {
	out := make(chan Job)
	go func() {
		defer close(out)
		for j := range q.jobs {
			q.pending.Unrecord(ctx, j.Key())
			metrics.UpdateQueueSize(len(q.jobs))
			select {
			case out <- j:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued jobs.
func (q *InMemoryQueue) Len(_ context.Context) int {
	size := len(q.jobs)
	metrics.UpdateQueueSize(size)
	return size
}

// Close gracefully shuts down the queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.jobs)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
