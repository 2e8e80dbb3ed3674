// Package requirement implements the atomic eligibility checks. Every
// requirement kind is its own type carrying only its own fields; Evaluate is
// the single entry point and never lets a failure escape as an error or panic.
package requirement

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/okian/ascent/internal/domain/model"
)

// Discord is met once a member record exists.
type Discord struct{}

// Kind implements model.Requirement.
func (Discord) Kind() model.RequirementKind { return model.KindDiscord }

// Validate implements model.Requirement.
func (Discord) Validate() error { return nil }

// Evaluate implements model.Requirement.
func (Discord) Evaluate(_ context.Context, _ *model.Role, m *model.Member, _ model.Facts) (model.RequirementResult, error) {
	if m.DiscordID == "" {
		return notMet(model.KindDiscord, "member has no Discord identity"), nil
	}
	return met(model.KindDiscord, "member "+m.DiscordID+" is in the Discord server"), nil
}

// SocialVerification requires a verified identity with Provider.
type SocialVerification struct {
	Provider string
}

// Kind implements model.Requirement.
func (SocialVerification) Kind() model.RequirementKind { return model.KindSocialVerification }

// Validate implements model.Requirement.
func (r SocialVerification) Validate() error {
	if strings.TrimSpace(r.Provider) == "" {
		return fmt.Errorf("%w: social verification requires a provider", model.ErrValidation)
	}
	return nil
}

// Evaluate implements model.Requirement.
func (r SocialVerification) Evaluate(_ context.Context, _ *model.Role, m *model.Member, _ model.Facts) (model.RequirementResult, error) {
	if m.HasSocial(r.Provider) {
		return met(r.Kind(), "verified with "+r.Provider), nil
	}
	return notMet(r.Kind(), "no verified "+r.Provider+" account"), nil
}

// StellarAccount requires a linked, known account key.
type StellarAccount struct{}

// Kind implements model.Requirement.
func (StellarAccount) Kind() model.RequirementKind { return model.KindStellarAccount }

// Validate implements model.Requirement.
func (StellarAccount) Validate() error { return nil }

// Evaluate implements model.Requirement.
func (StellarAccount) Evaluate(_ context.Context, _ *model.Role, m *model.Member, _ model.Facts) (model.RequirementResult, error) {
	if m.HasKnownAccount() {
		return met(model.KindStellarAccount, fmt.Sprintf("%d linked Stellar account(s)", len(m.Accounts))), nil
	}
	return notMet(model.KindStellarAccount, "no linked Stellar account on record"), nil
}

// BadgeCount requires at least MinCount badges. Category labels the
// requirement; the threshold applies to the total badge count.
type BadgeCount struct {
	Category string
	MinCount int
}

// Kind implements model.Requirement.
func (BadgeCount) Kind() model.RequirementKind { return model.KindBadgeCount }

// Validate implements model.Requirement.
func (r BadgeCount) Validate() error {
	if r.MinCount < 0 {
		return fmt.Errorf("%w: badge count min_count must not be negative, got %d", model.ErrValidation, r.MinCount)
	}
	return nil
}

// Evaluate implements model.Requirement.
func (r BadgeCount) Evaluate(ctx context.Context, _ *model.Role, m *model.Member, facts model.Facts) (model.RequirementResult, error) {
	badges, err := facts.Badges(ctx, m)
	if err != nil {
		return model.RequirementResult{}, fmt.Errorf("fetch badges: %w", err)
	}
	counts := make(map[string]int)
	for _, b := range badges {
		counts[b.CategoryName()]++
	}
	res := model.RequirementResult{
		Kind:           r.Kind(),
		Met:            len(badges) >= r.MinCount,
		CategoryCounts: counts,
	}
	res.Reason = fmt.Sprintf("%d badge(s) of %d required (%s)", len(badges), r.MinCount, histogram(counts))
	if r.Category != "" {
		res.Reason = r.Category + ": " + res.Reason
	}
	return res, nil
}

// ConcurrentRole requires the member to hold RoleName at the same time.
type ConcurrentRole struct {
	RoleName string
}

// Kind implements model.Requirement.
func (ConcurrentRole) Kind() model.RequirementKind { return model.KindConcurrentRole }

// Validate implements model.Requirement.
func (r ConcurrentRole) Validate() error { return validateRoleName(r.Kind(), r.RoleName) }

// Evaluate implements model.Requirement.
func (r ConcurrentRole) Evaluate(_ context.Context, _ *model.Role, m *model.Member, _ model.Facts) (model.RequirementResult, error) {
	return holdsRole(r.Kind(), m, r.RoleName), nil
}

// ExistingRole requires the member to have held RoleName. Held roles are not
// pruned historically, so this checks current possession like ConcurrentRole.
type ExistingRole struct {
	RoleName string
}

// Kind implements model.Requirement.
func (ExistingRole) Kind() model.RequirementKind { return model.KindExistingRole }

// Validate implements model.Requirement.
func (r ExistingRole) Validate() error { return validateRoleName(r.Kind(), r.RoleName) }

// Evaluate implements model.Requirement.
func (r ExistingRole) Evaluate(_ context.Context, _ *model.Role, m *model.Member, _ model.Facts) (model.RequirementResult, error) {
	return holdsRole(r.Kind(), m, r.RoleName), nil
}

// Nomination requires a nomination thread for the evaluated role to reach
// RequiredVotes. When RequiredVotes is zero the role's quorum applies.
type Nomination struct {
	EligibleVoterRoles []string
	RequiredVotes      int
}

// Kind implements model.Requirement.
func (Nomination) Kind() model.RequirementKind { return model.KindNomination }

// Validate implements model.Requirement.
func (r Nomination) Validate() error {
	if r.RequiredVotes < 0 {
		return fmt.Errorf("%w: nomination required_votes must not be negative, got %d", model.ErrValidation, r.RequiredVotes)
	}
	return nil
}

// Evaluate implements model.Requirement.
func (r Nomination) Evaluate(ctx context.Context, role *model.Role, m *model.Member, facts model.Facts) (model.RequirementResult, error) {
	if role == nil {
		return model.RequirementResult{}, fmt.Errorf("%w: nomination requirement evaluated without a role", model.ErrValidation)
	}
	quorum := r.RequiredVotes
	if quorum == 0 {
		quorum = role.VotesRequired
	}
	tally, err := facts.NominationTally(ctx, m.DiscordID, role.Name, quorum)
	if err != nil {
		return model.RequirementResult{}, fmt.Errorf("tally nominations: %w", err)
	}
	summary := fmt.Sprintf("%d nomination(s) with %d total vote(s)", tally.Nominations, tally.TotalVotes)
	if tally.Winner == nil {
		return notMet(r.Kind(), fmt.Sprintf("%s; no nomination reached %d vote(s)", summary, quorum)), nil
	}
	return met(r.Kind(), fmt.Sprintf("%s; winning nomination has %d vote(s) from nominator %s",
		summary, tally.Winner.VoteCount, tally.Winner.NominatorID)), nil
}

// CommunityVote requires participation in ParticipationRounds community votes.
type CommunityVote struct {
	ParticipationRounds int
}

// Kind implements model.Requirement.
func (CommunityVote) Kind() model.RequirementKind { return model.KindCommunityVote }

// Validate implements model.Requirement.
func (r CommunityVote) Validate() error {
	if r.ParticipationRounds < 0 {
		return fmt.Errorf("%w: community vote rounds must not be negative, got %d", model.ErrValidation, r.ParticipationRounds)
	}
	return nil
}

// Evaluate implements model.Requirement.
func (r CommunityVote) Evaluate(ctx context.Context, _ *model.Role, m *model.Member, facts model.Facts) (model.RequirementResult, error) {
	ok, err := facts.CommunityParticipation(ctx, m, r.ParticipationRounds)
	if err != nil {
		return model.RequirementResult{}, fmt.Errorf("community participation: %w", err)
	}
	if !ok {
		return notMet(r.Kind(), fmt.Sprintf("has not participated in %d community vote round(s)", r.ParticipationRounds)), nil
	}
	return met(r.Kind(), fmt.Sprintf("participated in %d community vote round(s)", r.ParticipationRounds)), nil
}

// Unknown holds a definition whose kind this build does not recognise.
type Unknown struct {
	Type string
}

// Kind implements model.Requirement.
func (r Unknown) Kind() model.RequirementKind { return model.RequirementKind(r.Type) }

// Validate implements model.Requirement. Unknown kinds are reported at
// evaluation time so that sibling requirements still run.
func (Unknown) Validate() error { return nil }

// Evaluate implements model.Requirement.
func (r Unknown) Evaluate(context.Context, *model.Role, *model.Member, model.Facts) (model.RequirementResult, error) {
	return notMet(r.Kind(), fmt.Sprintf("unknown requirement type %q", r.Type)), nil
}

func validateRoleName(kind model.RequirementKind, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: %s requires a role_name", model.ErrValidation, kind)
	}
	return nil
}

func holdsRole(kind model.RequirementKind, m *model.Member, name string) model.RequirementResult {
	if m.HoldsRole(name) {
		return met(kind, "holds role "+name)
	}
	return notMet(kind, "does not hold role "+name)
}

func met(kind model.RequirementKind, reason string) model.RequirementResult {
	return model.RequirementResult{Kind: kind, Met: true, Reason: reason}
}

func notMet(kind model.RequirementKind, reason string) model.RequirementResult {
	return model.RequirementResult{Kind: kind, Met: false, Reason: reason}
}

// histogram renders category counts in a stable order.
func histogram(counts map[string]int) string {
	if len(counts) == 0 {
		return "no badges"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[k])
	}
	return strings.Join(parts, ", ")
}
