package model

import "time"

// Decision actions written to the decision log.
const (
	ActionGrant   = "grant"
	ActionRevoke  = "revoke"
	ActionPromote = "promote"
	ActionExpire  = "expire"
)

// GrantOutcome is the structured result of applying a role decision.
type GrantOutcome struct {
	Success bool `json:"success"`
	// Status is an HTTP-style status code classifying the outcome.
	Status int    `json:"status"`
	Err    error  `json:"-"`
	Reason string `json:"reason,omitempty"`
	// Requested is the role the caller asked for; Role is the role actually applied.
	Requested string `json:"requested"`
	Role      string `json:"role"`
	Removed   string `json:"removed,omitempty"`
	DryRun    bool   `json:"dry_run"`
}

// Error returns the outcome error message, if any.
func (o GrantOutcome) Error() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// DecisionRecord is one persisted entry of the decision log.
type DecisionRecord struct {
	ID        string    `json:"id"`
	GuildID   string    `json:"guild_id"`
	MemberID  string    `json:"member_id"`
	Action    string    `json:"action"`
	Requested string    `json:"requested"`
	Role      string    `json:"role"`
	Success   bool      `json:"success"`
	Status    int       `json:"status"`
	Reason    string    `json:"reason"`
	DryRun    bool      `json:"dry_run"`
	Override  bool      `json:"override"`
	CreatedAt time.Time `json:"created_at"`
}

// GrantRequest asks the grant coordinator to apply a role to a member.
// DryRun is carried per call so concurrent callers never share the mode.
type GrantRequest struct {
	GuildID  string `json:"guild_id"`
	MemberID string `json:"member_id"`
	RoleName string `json:"role"`
	Override bool   `json:"override"`
	DryRun   bool   `json:"dry_run"`
	// Action labels the decision log entry; defaults to ActionGrant.
	Action string `json:"-"`
}
