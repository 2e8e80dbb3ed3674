package voting

import (
	"time"

	"github.com/okian/ascent/pkg/logger"
)

const defaultCacheSize = 100_000

// Option applies a configuration option to the Machine.
type Option func(*Machine)

// WithVoteCache replaces the process-local voted cache.
func WithVoteCache(c VoteCache) Option {
	return func(m *Machine) {
		if c != nil {
			m.cache = c
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets a custom logger for the machine.
func WithLogger(l logger.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}
