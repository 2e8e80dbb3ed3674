// Package voting owns the lifecycle of nomination threads: creation, vote
// recording, expiry, quorum evaluation and winner selection.
package voting

import (
	"context"
	"time"

	"github.com/okian/ascent/internal/domain/model"
)

// Store is the durable source of truth for threads and votes.
type Store interface {
	CreateThread(ctx context.Context, t *model.NominationThread) error
	// GetThread returns model.ErrNotFound for unknown ids.
	GetThread(ctx context.Context, id string) (*model.NominationThread, error)
	// ListThreads returns threads for a nominee and role, oldest first.
	ListThreads(ctx context.Context, nomineeID, roleName string) ([]model.NominationThread, error)
	// ListOpenThreads returns every thread still accepting votes.
	ListOpenThreads(ctx context.Context) ([]model.NominationThread, error)
	// RecordVote stores v and increments the thread's vote count in one
	// transaction, returning the new count. A second vote for the same
	// (thread, voter) fails with model.ErrAlreadyVoted.
	RecordVote(ctx context.Context, v *model.Vote) (int, error)
	// Voters lists everyone who voted on a thread.
	Voters(ctx context.Context, threadID string) ([]string, error)
	// CloseThread closes an open thread. It reports false when the thread
	// was already closed.
	CloseThread(ctx context.Context, id string, reason model.CloseReason, at time.Time) (bool, error)
}

// VoteCache is a non-authoritative record of who voted. It may forget
// entries at any time; Store remains the source of truth.
type VoteCache interface {
	Has(ctx context.Context, threadID, voterID string) (bool, error)
	Add(ctx context.Context, threadID, voterID string) error
}

// Roles resolves role definitions.
type Roles interface {
	GetRoleByName(ctx context.Context, name string) (*model.Role, error)
}

// Members fetches member snapshots.
type Members interface {
	FetchMember(ctx context.Context, guildID, memberID string) (*model.Member, error)
}

// Granter applies a promotion decision.
type Granter interface {
	Grant(ctx context.Context, req model.GrantRequest) model.GrantOutcome
}
