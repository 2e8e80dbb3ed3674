package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/okian/ascent/internal/domain/model"
)

// UpsertMember stores a member snapshot, replacing its held roles, linked
// accounts and social identities.
func (s *Store) UpsertMember(ctx context.Context, m *model.Member) error {
	if m.DiscordID == "" {
		return fmt.Errorf("%w: member has no discord id", model.ErrValidation)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := memberRecord{
			DiscordID:     m.DiscordID,
			GuildID:       m.GuildID,
			Username:      m.Username,
			JoinedAt:      m.JoinedAt,
			GuildJoinedAt: m.GuildJoinedAt,
		}
		if err := tx.Save(&rec).Error; err != nil {
			return fmt.Errorf("save member %s: %w", m.DiscordID, err)
		}

		for _, child := range []any{&heldRoleRecord{}, &socialRecord{}} {
			if err := tx.Where("member_id = ?", m.DiscordID).Delete(child).Error; err != nil {
				return fmt.Errorf("clear member %s: %w", m.DiscordID, err)
			}
		}
		for _, r := range m.Roles {
			held := heldRoleRecord{MemberID: m.DiscordID, RoleName: r.Name, RoleID: r.ID, ShortName: r.ShortName, ObtainedAt: r.ObtainedAt}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&held).Error; err != nil {
				return fmt.Errorf("save role %s of %s: %w", r.Name, m.DiscordID, err)
			}
		}
		for _, soc := range m.Socials {
			rec := socialRecord{MemberID: m.DiscordID, Provider: strings.ToLower(soc.Provider), Handle: soc.Handle}
			if err := tx.Create(&rec).Error; err != nil {
				return fmt.Errorf("save %s identity of %s: %w", soc.Provider, m.DiscordID, err)
			}
		}
		for _, a := range m.Accounts {
			if err := linkAccount(tx, m.DiscordID, a); err != nil {
				return err
			}
		}
		return nil
	})
}

// FetchMember loads a member snapshot. Members are keyed by discord id
// alone; guildID is accepted for the member client contract.
func (s *Store) FetchMember(ctx context.Context, _ string, memberID string) (*model.Member, error) {
	db := s.db.WithContext(ctx)
	var rec memberRecord
	err := db.Where("discord_id = ?", memberID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: member %s", model.ErrNotFound, memberID)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch member %s: %w", memberID, err)
	}

	m := &model.Member{
		DiscordID:     rec.DiscordID,
		GuildID:       rec.GuildID,
		Username:      rec.Username,
		JoinedAt:      rec.JoinedAt,
		GuildJoinedAt: rec.GuildJoinedAt,
	}
	var roles []heldRoleRecord
	if err := db.Where("member_id = ?", memberID).Order("id").Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("load roles of %s: %w", memberID, err)
	}
	for _, r := range roles {
		m.Roles = append(m.Roles, model.HeldRole{ID: r.RoleID, Name: r.RoleName, ShortName: r.ShortName, ObtainedAt: r.ObtainedAt})
	}
	var accounts []accountRecord
	if err := db.Where("member_id = ?", memberID).Order("linked_at").Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("load accounts of %s: %w", memberID, err)
	}
	for _, a := range accounts {
		m.Accounts = append(m.Accounts, model.LinkedAccount{Key: a.Key, Funded: a.Funded, LinkedAt: a.LinkedAt})
	}
	var socials []socialRecord
	if err := db.Where("member_id = ?", memberID).Order("provider").Find(&socials).Error; err != nil {
		return nil, fmt.Errorf("load identities of %s: %w", memberID, err)
	}
	for _, soc := range socials {
		m.Socials = append(m.Socials, model.SocialAccount{Provider: soc.Provider, Handle: soc.Handle})
	}
	return m, nil
}

// AddRole assigns a role. Assigning a held role is a no-op.
func (s *Store) AddRole(ctx context.Context, _ string, memberID string, role *model.Role) error {
	db := s.db.WithContext(ctx)
	if err := s.memberExists(db, memberID); err != nil {
		return err
	}
	short := ""
	if role.Tier.Valid() {
		short = strings.ToLower(role.Tier.String()[:3])
	}
	held := heldRoleRecord{MemberID: memberID, RoleName: role.Name, RoleID: role.ID, ShortName: short, ObtainedAt: s.now()}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&held).Error; err != nil {
		return fmt.Errorf("add role %s to %s: %w", role.Name, memberID, err)
	}
	return nil
}

// RemoveRole unassigns a role. Removing a role that is not held is a no-op.
func (s *Store) RemoveRole(ctx context.Context, _ string, memberID, roleName string) error {
	db := s.db.WithContext(ctx)
	if err := s.memberExists(db, memberID); err != nil {
		return err
	}
	if err := db.Where("member_id = ? AND LOWER(role_name) = LOWER(?)", memberID, roleName).
		Delete(&heldRoleRecord{}).Error; err != nil {
		return fmt.Errorf("remove role %s from %s: %w", roleName, memberID, err)
	}
	return nil
}

// LinkAccount records a proven account key for a member. A key already
// linked to another member is a conflict.
func (s *Store) LinkAccount(ctx context.Context, memberID string, a model.LinkedAccount) error {
	db := s.db.WithContext(ctx)
	if err := s.memberExists(db, memberID); err != nil {
		return err
	}
	if a.LinkedAt.IsZero() {
		a.LinkedAt = s.now()
	}
	return db.Transaction(func(tx *gorm.DB) error {
		return linkAccount(tx, memberID, a)
	})
}

func linkAccount(tx *gorm.DB, memberID string, a model.LinkedAccount) error {
	if strings.TrimSpace(a.Key) == "" {
		return fmt.Errorf("%w: account key is required", model.ErrValidation)
	}
	var existing accountRecord
	err := tx.Where("account_key = ?", a.Key).First(&existing).Error
	switch {
	case err == nil && existing.MemberID != memberID:
		return fmt.Errorf("%w: account %s is linked to another member", model.ErrConflict, a.Key)
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("find account %s: %w", a.Key, err)
	}
	rec := accountRecord{Key: a.Key, MemberID: memberID, Funded: a.Funded, LinkedAt: a.LinkedAt}
	if err := tx.Save(&rec).Error; err != nil {
		return fmt.Errorf("link account %s: %w", a.Key, err)
	}
	return nil
}

// AddBadges stores badges earned by a member. A badge already stored for the
// same member, account and code is skipped, so a snapshot can be re-posted.
func (s *Store) AddBadges(ctx context.Context, memberID string, badges ...model.Badge) error {
	if len(badges) == 0 {
		return nil
	}
	recs := make([]badgeRecord, len(badges))
	for i, b := range badges {
		recs[i] = badgeRecord{MemberID: memberID, AccountKey: b.AccountKey, Code: b.Code, Category: b.Category, EarnedAt: b.EarnedAt}
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&recs).Error; err != nil {
		return fmt.Errorf("add badges to %s: %w", memberID, err)
	}
	return nil
}

// Badges returns badges keyed to the member or to any of its linked accounts.
func (s *Store) Badges(ctx context.Context, m *model.Member) ([]model.Badge, error) {
	q := s.db.WithContext(ctx).Where("member_id = ?", m.DiscordID)
	keys := make([]string, 0, len(m.Accounts))
	for _, a := range m.Accounts {
		if a.Key != "" {
			keys = append(keys, a.Key)
		}
	}
	if len(keys) > 0 {
		q = q.Or("account_key IN ?", keys)
	}
	var recs []badgeRecord
	if err := q.Order("earned_at").Order("id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("load badges of %s: %w", m.DiscordID, err)
	}
	out := make([]model.Badge, len(recs))
	for i, r := range recs {
		out[i] = model.Badge{Code: r.Code, Category: r.Category, AccountKey: r.AccountKey, EarnedAt: r.EarnedAt}
	}
	return out, nil
}

func (s *Store) memberExists(db *gorm.DB, memberID string) error {
	var n int64
	if err := db.Model(&memberRecord{}).Where("discord_id = ?", memberID).Count(&n).Error; err != nil {
		return fmt.Errorf("find member %s: %w", memberID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: member %s", model.ErrNotFound, memberID)
	}
	return nil
}
