package model

import (
	"context"
	"fmt"
	"time"
)

// RequirementsMode combines group results for a role.
type RequirementsMode string

// Role combinators.
const (
	AnyGroup  RequirementsMode = "ANY_GROUP"
	AllGroups RequirementsMode = "ALL_GROUPS"
)

// GroupMode combines requirement results inside a group.
type GroupMode string

// Group combinators.
const (
	GroupAll GroupMode = "ALL"
	GroupAny GroupMode = "ANY"
)

// RequirementKind is the discriminant of the requirement sum type.
type RequirementKind string

// Known requirement kinds.
const (
	KindDiscord            RequirementKind = "discord"
	KindSocialVerification RequirementKind = "social_verification"
	KindStellarAccount     RequirementKind = "stellar_account"
	KindBadgeCount         RequirementKind = "badge_count"
	KindConcurrentRole     RequirementKind = "concurrent_role"
	KindExistingRole       RequirementKind = "existing_role"
	KindNomination         RequirementKind = "nomination"
	KindCommunityVote      RequirementKind = "community_vote"
)

// Requirement is one atomic eligibility check. Each variant carries only its own
// fields; see package requirement for the implementations.
type Requirement interface {
	Kind() RequirementKind
	// Validate reports malformed definitions wrapped in ErrValidation.
	Validate() error
	// Evaluate decides the requirement for one member. Returned errors are
	// folded into a not-met result by the caller.
	Evaluate(ctx context.Context, role *Role, m *Member, facts Facts) (RequirementResult, error)
}

// RequirementResult is the outcome of one requirement check.
type RequirementResult struct {
	Kind   RequirementKind `json:"kind"`
	Met    bool            `json:"met"`
	Reason string          `json:"reason"`
	// CategoryCounts is the badge histogram reported by badge requirements.
	CategoryCounts map[string]int `json:"category_counts,omitempty"`
	// Transient is set when the check failed on an external lookup.
	Transient bool `json:"transient,omitempty"`
}

// RequirementGroup is a named bundle of requirements combined by Mode.
type RequirementGroup struct {
	ID           string
	Name         string
	Mode         GroupMode
	Requirements []Requirement
}

// Role is a community role with its eligibility rules.
type Role struct {
	ID                 string
	Name               string
	Tier               Tier
	RequirementsMode   RequirementsMode
	Groups             []RequirementGroup
	NominationEnabled  bool
	VotesRequired      int
	EligibleNominators []string
	DeletedAt          *time.Time
}

// Validate checks the role definition itself. A role without groups is a
// configuration defect.
func (r *Role) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil role", ErrValidation)
	}
	if r.Name == "" {
		return fmt.Errorf("%w: role %q has no name", ErrValidation, r.ID)
	}
	switch r.RequirementsMode {
	case AnyGroup, AllGroups:
	default:
		return fmt.Errorf("%w: role %q has unknown requirements mode %q", ErrValidation, r.Name, r.RequirementsMode)
	}
	if len(r.Groups) == 0 {
		return fmt.Errorf("%w: role %q has no requirement groups", ErrValidation, r.Name)
	}
	for i := range r.Groups {
		g := &r.Groups[i]
		switch g.Mode {
		case GroupAll, GroupAny:
		default:
			return fmt.Errorf("%w: group %q of role %q has unknown mode %q", ErrValidation, g.Name, r.Name, g.Mode)
		}
		if len(g.Requirements) == 0 {
			return fmt.Errorf("%w: group %q of role %q has no requirements", ErrValidation, g.Name, r.Name)
		}
		for _, req := range g.Requirements {
			if req == nil {
				return fmt.Errorf("%w: group %q of role %q has a nil requirement", ErrValidation, g.Name, r.Name)
			}
			if err := req.Validate(); err != nil {
				return fmt.Errorf("group %q of role %q: %w", g.Name, r.Name, err)
			}
		}
	}
	if r.NominationEnabled && r.VotesRequired <= 0 {
		return fmt.Errorf("%w: role %q enables nominations without a vote quorum", ErrValidation, r.Name)
	}
	return nil
}

// Deleted reports whether the role is soft-deleted.
func (r *Role) Deleted() bool {
	return r.DeletedAt != nil
}

// CanNominate reports whether a member holding roles may nominate for r.
func (r *Role) CanNominate(m *Member) bool {
	for _, name := range r.EligibleNominators {
		if m.HoldsRole(name) {
			return true
		}
	}
	return false
}
