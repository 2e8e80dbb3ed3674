package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/okian/ascent/internal/domain/model"
)

// UpsertRole validates and stores a role, matching existing rows by name.
func (s *Store) UpsertRole(ctx context.Context, r *model.Role) error {
	if err := r.Validate(); err != nil {
		return err
	}
	rec, err := roleToRecord(r)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing roleRecord
		err := tx.Where("LOWER(name) = LOWER(?)", r.Name).First(&existing).Error
		switch {
		case err == nil:
			rec.ID = existing.ID
			rec.CreatedAt = existing.CreatedAt
		case errors.Is(err, gorm.ErrRecordNotFound):
			if rec.ID == "" {
				rec.ID = uuid.NewString()
			}
		default:
			return fmt.Errorf("find role %s: %w", r.Name, err)
		}
		if err := tx.Save(&rec).Error; err != nil {
			return fmt.Errorf("save role %s: %w", r.Name, err)
		}
		r.ID = rec.ID
		return nil
	})
}

// ListRoles returns every role, highest tier first, including soft-deleted ones.
func (s *Store) ListRoles(ctx context.Context) ([]model.Role, error) {
	var recs []roleRecord
	if err := s.db.WithContext(ctx).Order("tier DESC").Order("name").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	out := make([]model.Role, 0, len(recs))
	for _, rec := range recs {
		r, err := rec.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// GetRoleByName looks a role up case-insensitively.
func (s *Store) GetRoleByName(ctx context.Context, name string) (*model.Role, error) {
	var rec roleRecord
	err := s.db.WithContext(ctx).Where("LOWER(name) = LOWER(?)", name).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: role %q", model.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("get role %s: %w", name, err)
	}
	r, err := rec.toModel()
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// DeleteRole soft-deletes a role.
func (s *Store) DeleteRole(ctx context.Context, name string) error {
	at := s.now()
	res := s.db.WithContext(ctx).Model(&roleRecord{}).
		Where("LOWER(name) = LOWER(?) AND deleted_at IS NULL", name).
		Update("deleted_at", &at)
	if res.Error != nil {
		return fmt.Errorf("delete role %s: %w", name, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: role %q", model.ErrNotFound, name)
	}
	return nil
}

