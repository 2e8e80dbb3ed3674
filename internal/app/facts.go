package service

import (
	"context"
	"fmt"

	"github.com/okian/ascent/internal/domain/model"
	"github.com/okian/ascent/internal/domain/voting"
)

// facts answers requirement lookups from the store and the voting machine.
type facts struct {
	store   Store
	machine *voting.Machine
}

var _ model.Facts = (*facts)(nil)

func (f *facts) Badges(ctx context.Context, m *model.Member) ([]model.Badge, error) {
	badges, err := f.store.Badges(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("%w: badges: %w", model.ErrTransient, err)
	}
	return badges, nil
}

func (f *facts) NominationTally(ctx context.Context, nomineeID, roleName string, requiredVotes int) (model.Tally, error) {
	return f.machine.Tally(ctx, nomineeID, roleName, requiredVotes)
}

// CommunityParticipation counts the distinct threads the member voted on.
func (f *facts) CommunityParticipation(ctx context.Context, m *model.Member, rounds int) (bool, error) {
	n, err := f.store.Participation(ctx, m.DiscordID)
	if err != nil {
		return false, fmt.Errorf("%w: participation: %w", model.ErrTransient, err)
	}
	return n >= rounds, nil
}
