// Package repository persists roles, members, badges, nomination threads,
// votes and decisions with gorm. It is the durable source of truth behind
// the voting machine and the local mirror used as the member client.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/okian/ascent/internal/domain/eligibility"
	"github.com/okian/ascent/internal/domain/grant"
	"github.com/okian/ascent/internal/domain/voting"
	"github.com/okian/ascent/pkg/logger"
)

var (
	_ voting.Store           = (*Store)(nil)
	_ voting.Roles           = (*Store)(nil)
	_ voting.Members         = (*Store)(nil)
	_ eligibility.RoleSource = (*Store)(nil)
	_ grant.MemberClient     = (*Store)(nil)
	_ grant.DecisionLog      = (*Store)(nil)
)

// Store is the gorm-backed repository.
type Store struct {
	db     *gorm.DB
	now    func() time.Time
	logger logger.Logger
}

// New wraps an open, migrated database.
func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.Get().Named("repository"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats counts the stored entities.
type Stats struct {
	Roles       int64 `json:"roles"`
	Members     int64 `json:"members"`
	OpenThreads int64 `json:"open_threads"`
	Threads     int64 `json:"threads"`
	Votes       int64 `json:"votes"`
	Decisions   int64 `json:"decisions"`
}

// Stats returns entity counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	db := s.db.WithContext(ctx)
	counts := []struct {
		dst   *int64
		query *gorm.DB
	}{
		{&st.Roles, db.Model(&roleRecord{}).Where("deleted_at IS NULL")},
		{&st.Members, db.Model(&memberRecord{})},
		{&st.OpenThreads, db.Model(&threadRecord{}).Where("status IN ?", openStatuses)},
		{&st.Threads, db.Model(&threadRecord{})},
		{&st.Votes, db.Model(&voteRecord{})},
		{&st.Decisions, db.Model(&decisionRecord{})},
	}
	for _, c := range counts {
		if err := c.query.Count(c.dst).Error; err != nil {
			return Stats{}, fmt.Errorf("count: %w", err)
		}
	}
	return st, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key")
}
