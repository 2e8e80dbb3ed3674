// Package grant applies role decisions to members while keeping at most one
// tier role per member.
package grant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/okian/ascent/internal/domain/model"
	"github.com/okian/ascent/pkg/logger"
	"github.com/okian/ascent/pkg/metrics"
)

// MemberClient reads and mutates members on the chat platform. AddRole and
// RemoveRole are idempotent; an unknown member yields model.ErrNotFound.
type MemberClient interface {
	FetchMember(ctx context.Context, guildID, memberID string) (*model.Member, error)
	AddRole(ctx context.Context, guildID, memberID string, role *model.Role) error
	RemoveRole(ctx context.Context, guildID, memberID, roleName string) error
}

// RoleSource resolves role definitions by name.
type RoleSource interface {
	GetRoleByName(ctx context.Context, name string) (*model.Role, error)
}

// DecisionLog persists applied and rejected decisions.
type DecisionLog interface {
	AppendDecision(ctx context.Context, rec *model.DecisionRecord) error
}

// RevokeRequest removes RoleName from a member.
type RevokeRequest struct {
	GuildID  string `json:"guild_id"`
	MemberID string `json:"member_id"`
	RoleName string `json:"role"`
	DryRun   bool   `json:"dry_run"`
}

// Coordinator applies grants and revocations. Outcomes are returned, never
// raised, so batch callers can continue past a failed member.
type Coordinator struct {
	members     MemberClient
	roles       RoleSource
	decisions   DecisionLog
	projectRole string
	now         func() time.Time
	logger      logger.Logger
}

// New creates a grant coordinator.
func New(members MemberClient, roles RoleSource, opts ...Option) *Coordinator {
	c := &Coordinator{
		members:     members,
		roles:       roles,
		projectRole: DefaultProjectRole,
		now:         time.Now,
		logger:      logger.Get().Named("grant"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Grant applies req.RoleName to the member. Checks run in order and each
// one short-circuits: override, project upgrade, already held, higher tier
// held, then apply.
func (c *Coordinator) Grant(ctx context.Context, req model.GrantRequest) model.GrantOutcome {
	start := c.now()
	if req.Action == "" {
		req.Action = model.ActionGrant
	}
	out := c.grant(ctx, req)
	out.Requested = req.RoleName
	out.DryRun = req.DryRun

	metrics.RecordGrant(req.Action, out.Status)
	metrics.RecordGrantLatency(float64(c.now().Sub(start).Milliseconds()))
	c.record(ctx, req.GuildID, req.MemberID, req.Action, req.Override, out)
	return out
}

func (c *Coordinator) grant(ctx context.Context, req model.GrantRequest) model.GrantOutcome {
	if err := validate(req.MemberID, req.RoleName); err != nil {
		return failure(err)
	}
	target, err := c.liveRole(ctx, req.RoleName)
	if err != nil {
		return failure(err)
	}
	member, err := c.members.FetchMember(ctx, req.GuildID, req.MemberID)
	if err != nil {
		return failure(fmt.Errorf("fetch member %s: %w", req.MemberID, err))
	}

	if req.Override {
		if err := c.add(ctx, req, target); err != nil {
			return failure(err)
		}
		return success(target.Name, "", "override applied")
	}

	if target.Tier == model.TierVerified && member.HoldsRole(c.projectRole) {
		upgraded, err := c.liveRole(ctx, model.TierPathfinder.String())
		if err != nil {
			return failure(fmt.Errorf("resolve %s upgrade: %w", model.TierPathfinder, err))
		}
		c.logger.Info(ctx, "project member upgraded past entry tier",
			logger.String("member", member.DiscordID),
			logger.String("requested", target.Name),
			logger.String("role", upgraded.Name),
		)
		target = upgraded
	}

	if member.HoldsRole(target.Name) {
		return conflict(target.Name, fmt.Sprintf("%s already holds %s", member.DiscordID, target.Name))
	}
	if held := member.CurrentTier(); target.Tier.Valid() && held > target.Tier {
		return conflict(target.Name, fmt.Sprintf("%s holds %s which is above %s", member.DiscordID, held, target.Name))
	}

	removed, err := c.apply(ctx, req, member, target)
	if err != nil {
		out := failure(err)
		out.Role = target.Name
		out.Removed = removed
		return out
	}
	return success(target.Name, removed, "")
}

// apply swaps the member's lower tier role for target. The two steps are
// not atomic; a failed add after a successful remove is logged and counted
// as a partial failure.
func (c *Coordinator) apply(ctx context.Context, req model.GrantRequest, member *model.Member, target *model.Role) (string, error) {
	var removed string
	if target.Tier.Valid() {
		for _, held := range member.TierRoles() {
			if model.TierOfRoleName(held.Name) >= target.Tier {
				continue
			}
			if !req.DryRun {
				if err := c.members.RemoveRole(ctx, req.GuildID, req.MemberID, held.Name); err != nil {
					return removed, fmt.Errorf("remove %s: %w", held.Name, err)
				}
			}
			removed = held.Name
		}
	}

	if err := c.add(ctx, req, target); err != nil {
		if removed != "" {
			metrics.RecordGrantPartialFailure()
			c.logger.Error(ctx, "partial grant: previous tier removed but new role not added",
				logger.String("member", req.MemberID),
				logger.String("removed", removed),
				logger.String("role", target.Name),
				logger.Error(err),
			)
		}
		return removed, err
	}
	return removed, nil
}

func (c *Coordinator) add(ctx context.Context, req model.GrantRequest, target *model.Role) error {
	if req.DryRun {
		return nil
	}
	if err := c.members.AddRole(ctx, req.GuildID, req.MemberID, target); err != nil {
		return fmt.Errorf("add %s: %w", target.Name, err)
	}
	return nil
}

// Revoke removes a role without re-checking requirements.
func (c *Coordinator) Revoke(ctx context.Context, req RevokeRequest) model.GrantOutcome {
	out := c.revoke(ctx, req)
	out.Requested = req.RoleName
	out.DryRun = req.DryRun

	metrics.RecordGrant(model.ActionRevoke, out.Status)
	c.record(ctx, req.GuildID, req.MemberID, model.ActionRevoke, false, out)
	return out
}

func (c *Coordinator) revoke(ctx context.Context, req RevokeRequest) model.GrantOutcome {
	if err := validate(req.MemberID, req.RoleName); err != nil {
		return failure(err)
	}
	name := req.RoleName
	if role, err := c.roles.GetRoleByName(ctx, req.RoleName); err == nil {
		name = role.Name
	} else if !errors.Is(err, model.ErrNotFound) {
		return failure(fmt.Errorf("get role %s: %w", req.RoleName, err))
	}
	if !req.DryRun {
		if err := c.members.RemoveRole(ctx, req.GuildID, req.MemberID, name); err != nil {
			return failure(fmt.Errorf("remove %s: %w", name, err))
		}
	}
	return success("", name, "")
}

func (c *Coordinator) liveRole(ctx context.Context, name string) (*model.Role, error) {
	role, err := c.roles.GetRoleByName(ctx, name)
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown role %q", model.ErrValidation, name)
	}
	if err != nil {
		return nil, fmt.Errorf("get role %s: %w", name, err)
	}
	if role.Deleted() {
		return nil, fmt.Errorf("%w: role %q was deleted", model.ErrValidation, name)
	}
	return role, nil
}

func (c *Coordinator) record(ctx context.Context, guildID, memberID, action string, override bool, out model.GrantOutcome) {
	fields := []logger.Field{
		logger.String("action", action),
		logger.String("member", memberID),
		logger.String("requested", out.Requested),
		logger.String("role", out.Role),
		logger.Int("status", out.Status),
		logger.Bool("dry_run", out.DryRun),
	}
	switch {
	case out.Success:
		c.logger.Info(ctx, "role decision applied", fields...)
	case out.Status >= http.StatusInternalServerError:
		c.logger.Error(ctx, "role decision failed", append(fields, logger.String("reason", out.Reason))...)
	default:
		c.logger.Info(ctx, "role decision rejected", append(fields, logger.String("reason", out.Reason))...)
	}

	if c.decisions == nil {
		return
	}
	rec := &model.DecisionRecord{
		ID:        uuid.NewString(),
		GuildID:   guildID,
		MemberID:  memberID,
		Action:    action,
		Requested: out.Requested,
		Role:      firstNonEmpty(out.Role, out.Removed),
		Success:   out.Success,
		Status:    out.Status,
		Reason:    out.Reason,
		DryRun:    out.DryRun,
		Override:  override,
		CreatedAt: c.now(),
	}
	if err := c.decisions.AppendDecision(ctx, rec); err != nil {
		c.logger.Error(ctx, "decision log append failed", logger.String("member", memberID), logger.Error(err))
	}
}

func validate(memberID, roleName string) error {
	if memberID == "" {
		return ErrMemberRequired
	}
	if roleName == "" {
		return ErrRoleRequired
	}
	return nil
}

func success(role, removed, reason string) model.GrantOutcome {
	return model.GrantOutcome{Success: true, Status: http.StatusOK, Role: role, Removed: removed, Reason: reason}
}

func conflict(role, reason string) model.GrantOutcome {
	return model.GrantOutcome{
		Status: http.StatusConflict,
		Err:    fmt.Errorf("%w: %s", model.ErrConflict, reason),
		Reason: reason,
		Role:   role,
	}
}

// failure classifies err; anything outside the taxonomy is internal.
func failure(err error) model.GrantOutcome {
	status := model.StatusOf(err)
	if status == http.StatusInternalServerError && !errors.Is(err, model.ErrInternal) {
		err = fmt.Errorf("%w: %w", model.ErrInternal, err)
	}
	return model.GrantOutcome{Status: status, Err: err, Reason: err.Error()}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
