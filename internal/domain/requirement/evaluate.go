package requirement

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/ascent/internal/domain/model"
)

type outcome struct {
	res model.RequirementResult
	err error
}

// Evaluate runs one requirement for one member. It never returns an error and
// never panics: lookups that fail, time out or panic are reported as not met
// with the failure as the reason. Evaluate returns as soon as ctx is done even
// if the fact source ignores cancellation.
func Evaluate(ctx context.Context, req model.Requirement, role *model.Role, m *model.Member, facts model.Facts) model.RequirementResult {
	if req == nil {
		return notMet("", "nil requirement")
	}
	kind := req.Kind()
	if m == nil {
		return notMet(kind, "no member to evaluate")
	}
	if err := ctx.Err(); err != nil {
		return transient(kind, err)
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("%w: %s requirement panicked: %v", model.ErrInternal, kind, p)}
			}
		}()
		res, err := req.Evaluate(ctx, role, m, facts)
		done <- outcome{res: res, err: err}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-ctx.Done():
		return transient(kind, ctx.Err())
	}

	if o.err != nil {
		if errors.Is(o.err, context.DeadlineExceeded) || errors.Is(o.err, context.Canceled) || errors.Is(o.err, model.ErrTransient) {
			return transient(kind, o.err)
		}
		return notMet(kind, o.err.Error())
	}
	o.res.Kind = kind
	if o.res.Reason == "" {
		if o.res.Met {
			o.res.Reason = string(kind) + " satisfied"
		} else {
			o.res.Reason = string(kind) + " not satisfied"
		}
	}
	return o.res
}

func transient(kind model.RequirementKind, err error) model.RequirementResult {
	reason := "lookup failed: " + err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "timed out: " + err.Error()
	} else if errors.Is(err, context.Canceled) {
		reason = "cancelled: " + err.Error()
	}
	return model.RequirementResult{Kind: kind, Met: false, Reason: reason, Transient: true}
}
