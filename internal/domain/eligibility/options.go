// Package eligibility combines requirement results into group and role
// decisions and resolves the highest role a member qualifies for.
package eligibility

import (
	"time"

	"github.com/okian/ascent/pkg/logger"
)

// Option applies a configuration option to the Evaluator.
type Option func(*Evaluator)

// WithRequirementTimeout bounds each requirement check.
func WithRequirementTimeout(d time.Duration) Option {
	return func(e *Evaluator) {
		if d > 0 {
			e.requirementTimeout = d
		}
	}
}

// WithConcurrency caps concurrent requirement checks per group.
func WithConcurrency(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithLogger sets a custom logger for the evaluator.
func WithLogger(l logger.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}
