package eligibility

import (
	"context"
	"fmt"
	"sort"

	"github.com/okian/ascent/internal/domain/model"
)

// RoleSource lists the role definitions known to the system.
type RoleSource interface {
	ListRoles(ctx context.Context) ([]model.Role, error)
}

// Resolver selects the single highest tier role a member qualifies for.
type Resolver struct {
	roles RoleSource
	eval  *Evaluator
}

// NewResolver creates a resolver over roles.
func NewResolver(roles RoleSource, eval *Evaluator) *Resolver {
	return &Resolver{roles: roles, eval: eval}
}

// Evaluator returns the underlying evaluator.
func (r *Resolver) Evaluator() *Evaluator {
	return r.eval
}

const notEligibleForAny = "not eligible for any role"

// ResolveHighest walks tier roles in descending order, skipping roles the
// member already holds, and returns the first one the member is eligible
// for. When none qualifies it returns a nil role and a result explaining so.
func (r *Resolver) ResolveHighest(ctx context.Context, m *model.Member) (*model.Role, Result, error) {
	roles, err := r.roles.ListRoles(ctx)
	if err != nil {
		return nil, Result{}, fmt.Errorf("list roles: %w", err)
	}
	candidates := Candidates(roles, m)

	var last Result
	for i := range candidates {
		role := &candidates[i]
		res, err := r.eval.Evaluate(ctx, role, m)
		if err != nil {
			return nil, Result{}, fmt.Errorf("evaluate role %q: %w", role.Name, err)
		}
		if res.Eligible {
			return role, res, nil
		}
		last = res
	}
	note := notEligibleForAny
	if len(candidates) > 0 {
		note = notEligibleForAny + "; lowest candidate " + last.Reason()
	}
	return nil, Result{Eligible: false, Note: note}, nil
}

// Candidates returns the live tier roles m does not hold, highest tier first.
func Candidates(roles []model.Role, m *model.Member) []model.Role {
	out := make([]model.Role, 0, len(roles))
	for _, role := range roles {
		if role.Deleted() || !role.Tier.Valid() || m.HoldsRole(role.Name) {
			continue
		}
		out = append(out, role)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Tier > out[j].Tier })
	return out
}
