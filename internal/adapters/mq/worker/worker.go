// Package worker runs member evaluations taken off the queue: resolve the
// highest eligible role, then ask the grant coordinator to apply it.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/ascent/internal/adapters/mq/queue"
	"github.com/okian/ascent/internal/domain/eligibility"
	"github.com/okian/ascent/internal/domain/model"
	"github.com/okian/ascent/pkg/logger"
	"github.com/okian/ascent/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()
	poolShutdownTimeout     = 30 * time.Second
)

// Members fetches member snapshots.
type Members interface {
	FetchMember(ctx context.Context, guildID, memberID string) (*model.Member, error)
}

// Resolver picks the highest role a member is eligible for.
type Resolver interface {
	ResolveHighest(ctx context.Context, m *model.Member) (*model.Role, eligibility.Result, error)
}

// Granter applies a role decision.
type Granter interface {
	Grant(ctx context.Context, req model.GrantRequest) model.GrantOutcome
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// Counters aggregates what a pool has done.
type Counters struct {
	processed atomic.Int64
	promoted  atomic.Int64
	failed    atomic.Int64
}

// Stats is a snapshot of Counters.
type Stats struct {
	Workers   int   `json:"workers"`
	Processed int64 `json:"processed"`
	Promoted  int64 `json:"promoted"`
	Failed    int64 `json:"failed"`
}

// Worker processes evaluation jobs.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown gracefully stops the worker.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue    Queue
	members  Members
	resolver Resolver
	granter  Granter
	counters *Counters
	name     string

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, members Members, resolver Resolver, granter Granter, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		members:  members,
		resolver: resolver,
		granter:  granter,
		counters: &Counters{},
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop. A failed job is logged and counted; it never
// stops the loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			if err := w.process(ctx, job); err != nil {
				w.counters.failed.Add(1)
				w.logger.Error(ctx, "member evaluation failed",
					logger.String("member", job.MemberID),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	close(w.shutdown)
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, job queue.Job) error {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()
	w.counters.processed.Add(1)
	metrics.RecordMemberEvaluated()

	member, err := w.members.FetchMember(ctx, job.GuildID, job.MemberID)
	if err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "fetch_member")
		return fmt.Errorf("fetch member: %w", err)
	}

	role, res, err := w.resolver.ResolveHighest(ctx, member)
	if err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "resolve")
		return fmt.Errorf("resolve highest role: %w", err)
	}
	if role == nil {
		w.logger.Debug(ctx, "member not eligible for a new role",
			logger.String("member", job.MemberID),
			logger.String("note", res.Note),
		)
		return nil
	}

	out := w.granter.Grant(ctx, model.GrantRequest{
		GuildID:  job.GuildID,
		MemberID: job.MemberID,
		RoleName: role.Name,
		DryRun:   job.DryRun,
		Action:   model.ActionGrant,
	})
	if out.Success {
		w.counters.promoted.Add(1)
		metrics.RecordMemberPromoted()
		return nil
	}
	if out.Status >= 500 {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "grant")
		return fmt.Errorf("grant %s: %s", role.Name, out.Reason)
	}
	w.logger.Info(ctx, "eligible role not granted",
		logger.String("member", job.MemberID),
		logger.String("role", role.Name),
		logger.Int("status", out.Status),
		logger.String("reason", out.Reason),
	)
	return nil
}

// Pool manages multiple workers sharing one queue.
type Pool struct {
	workers  []*InMemoryWorker
	queue    Queue
	counters *Counters
	logger   logger.Logger
}

// NewPool creates a new worker pool.
func NewPool(workerCount int, q Queue, members Members, resolver Resolver, granter Granter) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}
	pool := &Pool{
		workers:  make([]*InMemoryWorker, workerCount),
		queue:    q,
		counters: &Counters{},
		logger:   logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		pool.workers[i] = NewInMemoryWorker(q, members, resolver, granter,
			WithName("worker-"+strconv.Itoa(i)),
			withCounters(pool.counters),
		)
	}
	metrics.UpdateWorkerCount(workerCount)
	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Stats returns the pool's counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   len(p.workers),
		Processed: p.counters.processed.Load(),
		Promoted:  p.counters.promoted.Load(),
		Failed:    p.counters.failed.Load(),
	}
}

// Shutdown closes the queue, then waits for every worker to drain.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	metrics.UpdateWorkerCount(0)
	return nil
}
