package eligibility

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/ascent/internal/domain/model"
	"github.com/okian/ascent/internal/domain/requirement"
	"github.com/okian/ascent/pkg/logger"
	"github.com/okian/ascent/pkg/metrics"
)

const (
	defaultRequirementTimeout = 5 * time.Second
	defaultConcurrency        = 8
)

// GroupResult is the outcome of one requirement group. Requirements holds
// every requirement's result in definition order, even when moot.
type GroupResult struct {
	GroupID      string                    `json:"group_id"`
	Name         string                    `json:"name"`
	Mode         model.GroupMode           `json:"mode"`
	Met          bool                      `json:"met"`
	MetCount     int                       `json:"met_count"`
	Requirements []model.RequirementResult `json:"requirements"`
}

// Result is the eligibility of one member for one role. It is derived on
// demand and never stored as a source of truth.
type Result struct {
	RoleID   string                 `json:"role_id,omitempty"`
	RoleName string                 `json:"role_name,omitempty"`
	Tier     model.Tier             `json:"tier"`
	Mode     model.RequirementsMode `json:"mode,omitempty"`
	Eligible bool                   `json:"eligible"`
	Groups   []GroupResult          `json:"groups,omitempty"`
	// Note carries a summary when no role was evaluated.
	Note string `json:"note,omitempty"`
}

// Reason renders a human readable explanation naming every failed requirement.
func (r Result) Reason() string {
	if r.Note != "" {
		return r.Note
	}
	var b strings.Builder
	if r.Eligible {
		fmt.Fprintf(&b, "eligible for %s", r.RoleName)
	} else {
		fmt.Fprintf(&b, "not eligible for %s (%s)", r.RoleName, r.Mode)
	}
	for _, g := range r.Groups {
		fmt.Fprintf(&b, "\n  group %q (%s): %d/%d met", g.Name, g.Mode, g.MetCount, len(g.Requirements))
		for _, req := range g.Requirements {
			mark := "ok"
			if !req.Met {
				mark = "FAILED"
			}
			fmt.Fprintf(&b, "\n    [%s] %s: %s", mark, req.Kind, req.Reason)
		}
	}
	return b.String()
}

// Failed returns every requirement result that was not met.
func (r Result) Failed() []model.RequirementResult {
	var out []model.RequirementResult
	for _, g := range r.Groups {
		for _, req := range g.Requirements {
			if !req.Met {
				out = append(out, req)
			}
		}
	}
	return out
}

// Evaluator evaluates groups and roles against a fact source. It holds no
// per-member state and is safe for concurrent use.
type Evaluator struct {
	facts              model.Facts
	requirementTimeout time.Duration
	concurrency        int
	logger             logger.Logger
}

// NewEvaluator creates an evaluator reading external facts from facts.
func NewEvaluator(facts model.Facts, opts ...Option) *Evaluator {
	e := &Evaluator{
		facts:              facts,
		requirementTimeout: defaultRequirementTimeout,
		concurrency:        defaultConcurrency,
		logger:             logger.Get().Named("eligibility"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EvaluateGroup evaluates all requirements of g concurrently and combines
// them per the group mode.
func (e *Evaluator) EvaluateGroup(ctx context.Context, role *model.Role, g *model.RequirementGroup, m *model.Member) GroupResult {
	results := make([]model.RequirementResult, len(g.Requirements))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(e.concurrency)
	for i, req := range g.Requirements {
		eg.Go(func() error {
			rctx, cancel := context.WithTimeout(gctx, e.requirementTimeout)
			defer cancel()
			results[i] = requirement.Evaluate(rctx, req, role, m, e.facts)
			metrics.RecordRequirementEvaluation(string(results[i].Kind), results[i].Met, results[i].Transient)
			return nil
		})
	}
	_ = eg.Wait() // workers never return errors

	metCount := 0
	for _, r := range results {
		if r.Met {
			metCount++
		}
	}

	out := GroupResult{
		GroupID:      g.ID,
		Name:         g.Name,
		Mode:         g.Mode,
		MetCount:     metCount,
		Requirements: results,
	}
	switch g.Mode {
	case model.GroupAll:
		out.Met = metCount == len(results)
	case model.GroupAny:
		out.Met = metCount > 0
	}
	return out
}

// Evaluate decides whether m is eligible for role. Definition defects,
// including a role without groups, are returned as errors wrapping
// model.ErrValidation; a "no" answer is not an error.
func (e *Evaluator) Evaluate(ctx context.Context, role *model.Role, m *model.Member) (Result, error) {
	if err := role.Validate(); err != nil {
		metrics.RecordErrorByComponent("eligibility", "invalid_role")
		return Result{}, err
	}
	if m == nil {
		return Result{}, fmt.Errorf("%w: no member to evaluate", model.ErrValidation)
	}

	res := Result{
		RoleID:   role.ID,
		RoleName: role.Name,
		Tier:     role.Tier,
		Mode:     role.RequirementsMode,
		Groups:   make([]GroupResult, len(role.Groups)),
	}
	metGroups := 0
	for i := range role.Groups {
		res.Groups[i] = e.EvaluateGroup(ctx, role, &role.Groups[i], m)
		if res.Groups[i].Met {
			metGroups++
		}
	}

	switch role.RequirementsMode {
	case model.AnyGroup:
		res.Eligible = metGroups > 0
	case model.AllGroups:
		res.Eligible = metGroups == len(res.Groups)
	}

	metrics.RecordEligibilityEvaluation(role.Name, res.Eligible)
	e.logger.Debug(ctx, "evaluated eligibility",
		logger.String("member", m.DiscordID),
		logger.String("role", role.Name),
		logger.Bool("eligible", res.Eligible),
		logger.Int("groupsMet", metGroups),
	)
	return res, nil
}
