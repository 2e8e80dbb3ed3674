package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/okian/ascent/internal/domain/model"
)

var openStatuses = []string{string(model.ThreadOpen), string(model.ThreadUnset)} //nolint:gochecknoglobals // fixed status set

// CreateThread stores a new nomination thread.
func (s *Store) CreateThread(ctx context.Context, t *model.NominationThread) error {
	rec := threadToRecord(t)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("create thread %s: %w", t.ID, err)
	}
	return nil
}

// GetThread loads a thread by id.
func (s *Store) GetThread(ctx context.Context, id string) (*model.NominationThread, error) {
	var rec threadRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: thread %s", model.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get thread %s: %w", id, err)
	}
	t := rec.toModel()
	return &t, nil
}

// ListThreads returns the threads nominating nomineeID for roleName, oldest first.
func (s *Store) ListThreads(ctx context.Context, nomineeID, roleName string) ([]model.NominationThread, error) {
	var recs []threadRecord
	if err := s.db.WithContext(ctx).
		Where("nominee_id = ? AND LOWER(role_name) = LOWER(?)", nomineeID, roleName).
		Order("created_at").Order("id").
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list threads of %s: %w", nomineeID, err)
	}
	return threadsToModel(recs), nil
}

// ListOpenThreads returns every thread still accepting votes, oldest first.
func (s *Store) ListOpenThreads(ctx context.Context) ([]model.NominationThread, error) {
	var recs []threadRecord
	if err := s.db.WithContext(ctx).Where("status IN ?", openStatuses).Order("created_at").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list open threads: %w", err)
	}
	return threadsToModel(recs), nil
}

// RecordVote inserts the vote and increments the thread count in one
// transaction. The (thread, voter) unique index rejects duplicates and a
// thread closed by another process rejects the vote with ErrThreadClosed.
func (s *Store) RecordVote(ctx context.Context, v *model.Vote) (int, error) {
	var count int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := voteRecord{ID: v.ID, ThreadID: v.ThreadID, VoterID: v.VoterID, CreatedAt: v.CreatedAt}
		if err := tx.Create(&rec).Error; err != nil {
			if isDuplicate(err) {
				return model.ErrAlreadyVoted
			}
			return fmt.Errorf("insert vote: %w", err)
		}
		res := tx.Model(&threadRecord{}).Where("id = ? AND status IN ?", v.ThreadID, openStatuses).Updates(map[string]any{
			"vote_count": gorm.Expr("vote_count + 1"),
			"updated_at": s.now(),
		})
		if res.Error != nil {
			return fmt.Errorf("increment votes: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&threadRecord{}).Where("id = ?", v.ThreadID).Count(&n).Error; err != nil {
				return fmt.Errorf("find thread %s: %w", v.ThreadID, err)
			}
			if n == 0 {
				return fmt.Errorf("%w: thread %s", model.ErrNotFound, v.ThreadID)
			}
			return fmt.Errorf("%w: thread %s", model.ErrThreadClosed, v.ThreadID)
		}
		var counts []int
		if err := tx.Model(&threadRecord{}).Where("id = ?", v.ThreadID).Pluck("vote_count", &counts).Error; err != nil {
			return fmt.Errorf("read votes: %w", err)
		}
		if len(counts) == 1 {
			count = counts[0]
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Voters lists the voters of a thread.
func (s *Store) Voters(ctx context.Context, threadID string) ([]string, error) {
	var voters []string
	if err := s.db.WithContext(ctx).Model(&voteRecord{}).Where("thread_id = ?", threadID).
		Order("created_at").Pluck("voter_id", &voters).Error; err != nil {
		return nil, fmt.Errorf("list voters of %s: %w", threadID, err)
	}
	return voters, nil
}

// Participation counts the distinct threads a member voted on.
func (s *Store) Participation(ctx context.Context, memberID string) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&voteRecord{}).Where("voter_id = ?", memberID).
		Distinct("thread_id").Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count participation of %s: %w", memberID, err)
	}
	return int(n), nil
}

// CloseThread closes an open thread. It reports false when the thread was
// already closed.
func (s *Store) CloseThread(ctx context.Context, id string, reason model.CloseReason, at time.Time) (bool, error) {
	db := s.db.WithContext(ctx)
	res := db.Model(&threadRecord{}).Where("id = ? AND status IN ?", id, openStatuses).Updates(map[string]any{
		"status":       string(model.ThreadClosed),
		"close_reason": string(reason),
		"updated_at":   at,
	})
	if res.Error != nil {
		return false, fmt.Errorf("close thread %s: %w", id, res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	if _, err := s.GetThread(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func threadsToModel(recs []threadRecord) []model.NominationThread {
	out := make([]model.NominationThread, len(recs))
	for i, r := range recs {
		out[i] = r.toModel()
	}
	return out
}
