package model

import "context"

// Facts is the read-only view of external facts used by requirement checks.
// Implementations may block and must honour ctx.
type Facts interface {
	// Badges returns the member's precomputed badge set.
	Badges(ctx context.Context, m *Member) ([]Badge, error)
	// NominationTally summarises threads nominating nomineeID for roleName
	// against the given quorum.
	NominationTally(ctx context.Context, nomineeID, roleName string, requiredVotes int) (Tally, error)
	// CommunityParticipation reports whether the member took part in rounds votes.
	CommunityParticipation(ctx context.Context, m *Member, rounds int) (bool, error)
}
