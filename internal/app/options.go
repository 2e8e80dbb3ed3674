package service

import (
	"time"

	"github.com/okian/ascent/internal/domain/voting"
	"github.com/okian/ascent/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the durable store. It is required.
func WithStore(store Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithVoteCache replaces the in-process voted cache.
func WithVoteCache(c voting.VoteCache) Option {
	return func(s *Service) {
		if c != nil {
			s.voteCache = c
		}
	}
}

// WithFundingChecker sets the check run on claimed accounts during Verify.
func WithFundingChecker(f FundingChecker) Option {
	return func(s *Service) {
		if f != nil {
			s.funding = f
		}
	}
}

// WithWorkerCount sets the number of evaluation workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the evaluation queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many pending members the queue can coalesce.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithRequirementTimeout bounds each requirement check.
func WithRequirementTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.requirementTimeout = d
		}
	}
}

// WithEvalConcurrency bounds concurrent requirement checks per group.
func WithEvalConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.evalConcurrency = n
		}
	}
}

// WithProjectRole names the role that upgrades an entry-tier grant.
func WithProjectRole(name string) Option {
	return func(s *Service) {
		s.projectRole = name
	}
}

// WithGuildID sets the guild used when a request names none.
func WithGuildID(id string) Option {
	return func(s *Service) {
		s.guildID = id
	}
}

// WithExpirySweepInterval sets how often stale threads are expired.
// Zero disables the sweeper.
func WithExpirySweepInterval(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.sweepInterval = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
