package grant

import (
	"time"

	"github.com/okian/ascent/pkg/logger"
)

// DefaultProjectRole is the role that upgrades an entry-tier grant.
const DefaultProjectRole = "Project"

// Option applies a configuration option to the Coordinator.
type Option func(*Coordinator)

// WithDecisionLog persists every decision to log.
func WithDecisionLog(log DecisionLog) Option {
	return func(c *Coordinator) {
		c.decisions = log
	}
}

// WithProjectRole sets the role whose holders skip the entry tier.
func WithProjectRole(name string) Option {
	return func(c *Coordinator) {
		if name != "" {
			c.projectRole = name
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets a custom logger for the coordinator.
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}
