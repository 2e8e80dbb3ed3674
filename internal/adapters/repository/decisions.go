package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/okian/ascent/internal/domain/model"
)

// AppendDecision persists one decision log entry.
func (s *Store) AppendDecision(ctx context.Context, d *model.DecisionRecord) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	rec := decisionRecord{
		ID:        d.ID,
		GuildID:   d.GuildID,
		MemberID:  d.MemberID,
		Action:    d.Action,
		Requested: d.Requested,
		Role:      d.Role,
		Success:   d.Success,
		Status:    d.Status,
		Reason:    d.Reason,
		DryRun:    d.DryRun,
		Override:  d.Override,
		CreatedAt: d.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("append decision: %w", err)
	}
	return nil
}

// ListDecisions returns the newest decisions, optionally for one member.
func (s *Store) ListDecisions(ctx context.Context, memberID string, limit int) ([]model.DecisionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("created_at DESC").Order("id").Limit(limit)
	if memberID != "" {
		q = q.Where("member_id = ?", memberID)
	}
	var recs []decisionRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	out := make([]model.DecisionRecord, len(recs))
	for i, r := range recs {
		out[i] = r.toModel()
	}
	return out, nil
}
