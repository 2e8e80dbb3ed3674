package grant_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okian/ascent/internal/domain/grant"
	"github.com/okian/ascent/internal/domain/model"
	"github.com/okian/ascent/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

type fakeClient struct {
	members   map[string]*model.Member
	addErr    error
	removeErr error
	mutations []string
}

func (c *fakeClient) FetchMember(_ context.Context, _ string, id string) (*model.Member, error) {
	m, ok := c.members[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return m, nil
}

func (c *fakeClient) AddRole(_ context.Context, _ string, id string, role *model.Role) error {
	if c.addErr != nil {
		return c.addErr
	}
	m, ok := c.members[id]
	if !ok {
		return model.ErrNotFound
	}
	c.mutations = append(c.mutations, "+"+role.Name)
	if !m.HoldsRole(role.Name) {
		m.Roles = append(m.Roles, model.HeldRole{ID: role.ID, Name: role.Name})
	}
	return nil
}

func (c *fakeClient) RemoveRole(_ context.Context, _ string, id, name string) error {
	if c.removeErr != nil {
		return c.removeErr
	}
	m, ok := c.members[id]
	if !ok {
		return model.ErrNotFound
	}
	c.mutations = append(c.mutations, "-"+name)
	kept := m.Roles[:0]
	for _, r := range m.Roles {
		if !strings.EqualFold(r.Name, name) {
			kept = append(kept, r)
		}
	}
	m.Roles = kept
	return nil
}

type roleTable map[string]*model.Role

func (t roleTable) GetRoleByName(_ context.Context, name string) (*model.Role, error) {
	r, ok := t[name]
	if !ok {
		return nil, model.ErrNotFound
	}
	return r, nil
}

type memoryLog struct {
	mu      sync.Mutex
	records []model.DecisionRecord
}

func (l *memoryLog) AppendDecision(_ context.Context, rec *model.DecisionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, *rec)
	return nil
}

func tierRoles() roleTable {
	t := roleTable{}
	for _, tier := range model.Tiers {
		t[tier.String()] = &model.Role{ID: "role-" + strings.ToLower(tier.String()), Name: tier.String(), Tier: tier}
	}
	t["Project"] = &model.Role{ID: "role-project", Name: "Project"}
	return t
}

func holding(id string, roles ...string) *model.Member {
	m := &model.Member{DiscordID: id}
	for _, r := range roles {
		m.Roles = append(m.Roles, model.HeldRole{Name: r})
	}
	return m
}

func TestGrant(t *testing.T) {
	Convey("Given a coordinator over the four tier roles", t, func() {
		ctx := context.Background()
		client := &fakeClient{members: map[string]*model.Member{
			"nav":     holding("nav", "Navigator"),
			"ver":     holding("ver", "Verified"),
			"new":     holding("new"),
			"builder": holding("builder", "Project"),
		}}
		roles := tierRoles()
		log := &memoryLog{}
		c := grant.New(client, roles, grant.WithDecisionLog(log),
			grant.WithClock(func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }))

		Convey("When a Navigator is granted Pathfinder", func() {
			out := c.Grant(ctx, model.GrantRequest{MemberID: "nav", RoleName: "Pathfinder"})

			Convey("Then it is a conflict and nothing changes", func() {
				So(out.Success, ShouldBeFalse)
				So(out.Status, ShouldEqual, http.StatusConflict)
				So(errors.Is(out.Err, model.ErrConflict), ShouldBeTrue)
				So(out.Reason, ShouldContainSubstring, "Navigator")
				So(client.mutations, ShouldBeEmpty)
			})
		})

		Convey("When a member is granted a role they hold", func() {
			out := c.Grant(ctx, model.GrantRequest{MemberID: "ver", RoleName: "Verified"})

			Convey("Then it is a conflict", func() {
				So(out.Status, ShouldEqual, http.StatusConflict)
			})
		})

		Convey("When a Verified member is promoted to Pathfinder", func() {
			out := c.Grant(ctx, model.GrantRequest{MemberID: "ver", RoleName: "Pathfinder"})

			Convey("Then the old tier is removed before the new one is added", func() {
				So(out.Success, ShouldBeTrue)
				So(out.Role, ShouldEqual, "Pathfinder")
				So(out.Removed, ShouldEqual, "Verified")
				So(client.mutations, ShouldResemble, []string{"-Verified", "+Pathfinder"})
				So(client.members["ver"].CurrentTier(), ShouldEqual, model.TierPathfinder)
				So(len(client.members["ver"].TierRoles()), ShouldEqual, 1)
			})

			Convey("And the decision is logged", func() {
				So(log.records, ShouldHaveLength, 1)
				So(log.records[0].Action, ShouldEqual, model.ActionGrant)
				So(log.records[0].Success, ShouldBeTrue)
			})
		})

		Convey("When a member without a tier is granted Verified", func() {
			out := c.Grant(ctx, model.GrantRequest{MemberID: "new", RoleName: "Verified"})

			Convey("Then the role is simply added", func() {
				So(out.Success, ShouldBeTrue)
				So(client.mutations, ShouldResemble, []string{"+Verified"})
			})
		})

		Convey("When a project member is granted the entry tier", func() {
			out := c.Grant(ctx, model.GrantRequest{MemberID: "builder", RoleName: "Verified"})

			Convey("Then they receive Pathfinder instead", func() {
				So(out.Success, ShouldBeTrue)
				So(out.Requested, ShouldEqual, "Verified")
				So(out.Role, ShouldEqual, "Pathfinder")
			})
		})

		Convey("When the grant is a dry run", func() {
			out := c.Grant(ctx, model.GrantRequest{MemberID: "ver", RoleName: "Pathfinder", DryRun: true})

			Convey("Then success is reported without mutations", func() {
				So(out.Success, ShouldBeTrue)
				So(out.DryRun, ShouldBeTrue)
				So(out.Removed, ShouldEqual, "Verified")
				So(client.mutations, ShouldBeEmpty)
				So(client.members["ver"].HoldsRole("Verified"), ShouldBeTrue)
			})
		})

		Convey("When an override grants a lower tier", func() {
			out := c.Grant(ctx, model.GrantRequest{MemberID: "nav", RoleName: "Pathfinder", Override: true})

			Convey("Then the checks are bypassed", func() {
				So(out.Success, ShouldBeTrue)
				So(client.mutations, ShouldResemble, []string{"+Pathfinder"})
				So(log.records[0].Override, ShouldBeTrue)
			})
		})

		Convey("When the member is unknown", func() {
			out := c.Grant(ctx, model.GrantRequest{MemberID: "ghost", RoleName: "Verified"})

			Convey("Then the outcome is not found", func() {
				So(out.Status, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When the role is unknown", func() {
			out := c.Grant(ctx, model.GrantRequest{MemberID: "new", RoleName: "Admiral"})

			Convey("Then the outcome is a validation failure", func() {
				So(out.Status, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When adding fails after the old tier was removed", func() {
			client.addErr = errors.New("platform unavailable")
			out := c.Grant(ctx, model.GrantRequest{MemberID: "ver", RoleName: "Pathfinder"})

			Convey("Then an internal failure reports the removed role", func() {
				So(out.Success, ShouldBeFalse)
				So(out.Status, ShouldEqual, http.StatusInternalServerError)
				So(errors.Is(out.Err, model.ErrInternal), ShouldBeTrue)
				So(out.Removed, ShouldEqual, "Verified")
			})
		})

		Convey("When the member left between fetch and apply", func() {
			client.addErr = model.ErrNotFound
			out := c.Grant(ctx, model.GrantRequest{MemberID: "new", RoleName: "Verified"})

			Convey("Then the outcome is not found", func() {
				So(out.Status, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}

func TestRevoke(t *testing.T) {
	Convey("Given a member holding Navigator", t, func() {
		ctx := context.Background()
		client := &fakeClient{members: map[string]*model.Member{"nav": holding("nav", "Navigator")}}
		c := grant.New(client, tierRoles())

		Convey("When the role is revoked", func() {
			out := c.Revoke(ctx, grant.RevokeRequest{MemberID: "nav", RoleName: "Navigator"})

			Convey("Then it is removed unconditionally", func() {
				So(out.Success, ShouldBeTrue)
				So(out.Removed, ShouldEqual, "Navigator")
				So(client.members["nav"].Roles, ShouldBeEmpty)
			})
		})

		Convey("When the member is gone", func() {
			out := c.Revoke(ctx, grant.RevokeRequest{MemberID: "ghost", RoleName: "Navigator"})

			Convey("Then the outcome is not found", func() {
				So(out.Status, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When no role is named", func() {
			out := c.Revoke(ctx, grant.RevokeRequest{MemberID: "nav"})

			Convey("Then it is a validation failure", func() {
				So(errors.Is(out.Err, model.ErrValidation), ShouldBeTrue)
			})
		})
	})
}
