package service_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/ascent/internal/adapters/mq/queue"
	"github.com/okian/ascent/internal/adapters/repository"
	service "github.com/okian/ascent/internal/app"
	"github.com/okian/ascent/internal/config"
	"github.com/okian/ascent/internal/domain/grant"
	"github.com/okian/ascent/internal/domain/model"
	"github.com/okian/ascent/internal/domain/requirement"
	"github.com/okian/ascent/internal/domain/voting"
	"github.com/okian/ascent/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

const account = "GAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

type funding map[string]bool

func (f funding) IsFunded(_ context.Context, key string) (bool, error) {
	return f[key], nil
}

func roles() []*model.Role {
	return []*model.Role{
		{
			Name: "Verified", Tier: model.TierVerified, RequirementsMode: model.AnyGroup,
			Groups: []model.RequirementGroup{{Name: "account", Mode: model.GroupAll,
				Requirements: []model.Requirement{requirement.StellarAccount{}}}},
		},
		{
			Name: "Pathfinder", Tier: model.TierPathfinder, RequirementsMode: model.AnyGroup,
			Groups: []model.RequirementGroup{{Name: "badges", Mode: model.GroupAll,
				Requirements: []model.Requirement{requirement.StellarAccount{}, requirement.BadgeCount{Category: "SSQ", MinCount: 3}}}},
		},
		{
			Name: "Navigator", Tier: model.TierNavigator, RequirementsMode: model.AnyGroup,
			Groups: []model.RequirementGroup{{Name: "peers", Mode: model.GroupAll,
				Requirements: []model.Requirement{requirement.Nomination{EligibleVoterRoles: []string{"Pilot"}}}}},
			NominationEnabled: true, VotesRequired: 2, EligibleNominators: []string{"Pilot"},
		},
		{
			Name: "Pilot", Tier: model.TierPilot, RequirementsMode: model.AnyGroup,
			Groups: []model.RequirementGroup{{Name: "votes", Mode: model.GroupAll,
				Requirements: []model.Requirement{requirement.CommunityVote{ParticipationRounds: 50}}}},
		},
	}
}

type fixture struct {
	ctx   context.Context
	store *repository.Store
	svc   *service.Service
}

func newFixture(t *testing.T, opts ...service.Option) *fixture {
	t.Helper()
	db, err := repository.Open(repository.DBConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "ascent.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := repository.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := repository.New(db)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	base := []service.Option{
		service.WithStore(store),
		service.WithFundingChecker(funding{account: true}),
		service.WithWorkerCount(2),
		service.WithExpirySweepInterval(0),
		service.WithGuildID("guild"),
	}
	svc := service.New(append(base, opts...)...)
	if err := svc.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := svc.SeedRoles(ctx, roles()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for _, m := range []*model.Member{
		{DiscordID: "alice", Username: "alice"},
		{DiscordID: "bob", Username: "bob", Roles: []model.HeldRole{{Name: "Pathfinder"}}},
		{DiscordID: "pilot-1", Roles: []model.HeldRole{{Name: "Pilot"}}},
		{DiscordID: "pilot-2", Roles: []model.HeldRole{{Name: "Pilot"}}},
	} {
		if err := store.UpsertMember(ctx, m); err != nil {
			t.Fatalf("member: %v", err)
		}
	}
	return &fixture{ctx: ctx, store: store, svc: svc}
}

func (f *fixture) holds(id, role string) bool {
	m, err := f.store.FetchMember(f.ctx, "guild", id)
	So(err, ShouldBeNil)
	return m.HoldsRole(role)
}

func TestService_New(t *testing.T) {
	Convey("Given a service without a store", t, func() {
		svc := service.New()

		Convey("Then Init fails", func() {
			err := svc.Init(context.Background())
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
		})

		Convey("And operations report it is not initialized", func() {
			_, err := svc.ExpireStale(context.Background())
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
		})
	})
}

func TestService_SeedRoles(t *testing.T) {
	Convey("Given an initialized service", t, func() {
		f := newFixture(t)

		Convey("When seeding an invalid role", func() {
			err := f.svc.SeedRoles(f.ctx, []*model.Role{{Name: "Broken", Tier: model.TierPilot, RequirementsMode: "SOME"}})

			Convey("Then nothing is stored and the error is a validation error", func() {
				So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
				_, err := f.store.GetRoleByName(f.ctx, "Broken")
				So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestService_Verify(t *testing.T) {
	Convey("Given a member with no roles", t, func() {
		f := newFixture(t)

		Convey("When the claimed account is not funded", func() {
			_, err := f.svc.Verify(f.ctx, service.VerifyRequest{MemberID: "alice", AccountKey: "GUNFUNDED"})

			Convey("Then verification is refused", func() {
				So(errors.Is(err, service.ErrNotFunded), ShouldBeTrue)
				So(model.StatusOf(err), ShouldEqual, 422)
			})
		})

		Convey("When a funded account is verified", func() {
			res, err := f.svc.Verify(f.ctx, service.VerifyRequest{MemberID: "alice", AccountKey: account})

			Convey("Then the account is linked and Verified is granted", func() {
				So(err, ShouldBeNil)
				So(res.Linked, ShouldBeTrue)
				So(res.Eligibility.Role, ShouldEqual, "Verified")
				So(res.Grant, ShouldNotBeNil)
				So(res.Grant.Success, ShouldBeTrue)
				So(f.holds("alice", "Verified"), ShouldBeTrue)
			})
		})

		Convey("When the verification is a dry run", func() {
			res, err := f.svc.Verify(f.ctx, service.VerifyRequest{MemberID: "alice", AccountKey: account, DryRun: true})

			Convey("Then the grant is simulated and nothing is stored", func() {
				So(err, ShouldBeNil)
				So(res.Linked, ShouldBeFalse)
				So(res.Grant.Success, ShouldBeTrue)
				So(res.Grant.DryRun, ShouldBeTrue)
				So(f.holds("alice", "Verified"), ShouldBeFalse)
				m, _ := f.store.FetchMember(f.ctx, "guild", "alice")
				So(m.Accounts, ShouldBeEmpty)
			})
		})

		Convey("When the member is unknown", func() {
			_, err := f.svc.Verify(f.ctx, service.VerifyRequest{MemberID: "ghost", AccountKey: account})

			Convey("Then it is not found", func() {
				So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestService_Eligibility(t *testing.T) {
	Convey("Given a verified member with badges", t, func() {
		f := newFixture(t)
		_, err := f.svc.Verify(f.ctx, service.VerifyRequest{MemberID: "alice", AccountKey: account})
		So(err, ShouldBeNil)
		for _, code := range []string{"SSQ01", "SSQ02", "SSQ03"} {
			So(f.store.AddBadges(f.ctx, "alice", model.Badge{Code: code, AccountKey: account}), ShouldBeNil)
		}

		Convey("When resolving the highest eligible role", func() {
			rep, err := f.svc.Eligibility(f.ctx, "", "alice", "")

			Convey("Then Pathfinder is reported with reputation", func() {
				So(err, ShouldBeNil)
				So(rep.Eligible, ShouldBeTrue)
				So(rep.Role, ShouldEqual, "Pathfinder")
				So(rep.CurrentTier, ShouldEqual, model.TierVerified)
				So(rep.Badges, ShouldEqual, 3)
				So(rep.Reputation, ShouldEqual, 15)
			})
		})

		Convey("When evaluating a named role the member does not meet", func() {
			rep, err := f.svc.Eligibility(f.ctx, "", "alice", "Pilot")

			Convey("Then the failed requirement is explained", func() {
				So(err, ShouldBeNil)
				So(rep.Eligible, ShouldBeFalse)
				So(rep.Reason, ShouldContainSubstring, "50 community vote round(s)")
			})
		})

		Convey("When the role is unknown", func() {
			_, err := f.svc.Eligibility(f.ctx, "", "alice", "Admiral")

			Convey("Then it is not found", func() {
				So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestService_Nominations(t *testing.T) {
	Convey("Given a Pathfinder nominated for Navigator", t, func() {
		f := newFixture(t)
		thread, err := f.svc.Nominate(f.ctx, voting.NominateRequest{NominatorID: "pilot-1", NomineeID: "bob", RoleName: "Navigator"})
		So(err, ShouldBeNil)
		So(thread.GuildID, ShouldEqual, "guild")

		Convey("When two pilots vote", func() {
			first, err := f.svc.Vote(f.ctx, voting.VoteRequest{ThreadID: thread.ID, VoterID: "pilot-1"})
			So(err, ShouldBeNil)
			So(first.Status, ShouldEqual, voting.StatusRecorded)
			second, err := f.svc.Vote(f.ctx, voting.VoteRequest{ThreadID: thread.ID, VoterID: "pilot-2"})

			Convey("Then bob is promoted and the thread closes", func() {
				So(err, ShouldBeNil)
				So(second.Status, ShouldEqual, voting.StatusPromoted)
				So(second.Thread.Status, ShouldEqual, model.ThreadClosed)
				So(f.holds("bob", "Navigator"), ShouldBeTrue)
				So(f.holds("bob", "Pathfinder"), ShouldBeFalse)
			})

			Convey("And the promotion is in the decision log", func() {
				ds, err := f.svc.Decisions(f.ctx, "bob", 0)
				So(err, ShouldBeNil)
				So(ds, ShouldNotBeEmpty)
				So(ds[0].Action, ShouldEqual, model.ActionPromote)
			})
		})

		Convey("When the same pilot votes twice", func() {
			_, err := f.svc.Vote(f.ctx, voting.VoteRequest{ThreadID: thread.ID, VoterID: "pilot-1"})
			So(err, ShouldBeNil)
			res, err := f.svc.Vote(f.ctx, voting.VoteRequest{ThreadID: thread.ID, VoterID: "pilot-1"})

			Convey("Then the second vote is reported as already voted", func() {
				So(errors.Is(err, model.ErrAlreadyVoted), ShouldBeTrue)
				So(res.Status, ShouldEqual, voting.StatusAlreadyVoted)
				So(res.Thread.VoteCount, ShouldEqual, 1)
			})
		})
	})
}

func TestService_GrantRevoke(t *testing.T) {
	Convey("Given a member holding Pathfinder", t, func() {
		f := newFixture(t)

		Convey("When granting Navigator", func() {
			out := f.svc.Grant(f.ctx, model.GrantRequest{MemberID: "bob", RoleName: "Navigator"})

			Convey("Then Pathfinder is replaced", func() {
				So(out.Success, ShouldBeTrue)
				So(out.Removed, ShouldEqual, "Pathfinder")
				So(f.holds("bob", "Navigator"), ShouldBeTrue)
			})
		})

		Convey("When revoking Pathfinder", func() {
			out := f.svc.Revoke(f.ctx, grant.RevokeRequest{MemberID: "bob", RoleName: "Pathfinder"})

			Convey("Then the role is gone", func() {
				So(out.Success, ShouldBeTrue)
				So(f.holds("bob", "Pathfinder"), ShouldBeFalse)
			})
		})
	})
}

func TestService_Evaluations(t *testing.T) {
	Convey("Given a started service", t, func() {
		f := newFixture(t)
		So(f.store.LinkAccount(f.ctx, "alice", model.LinkedAccount{Key: account, Funded: true}), ShouldBeNil)
		So(f.svc.Start(f.ctx), ShouldBeNil)
		defer f.svc.Stop(f.ctx)

		Convey("When a member is queued for evaluation", func() {
			res, err := f.svc.EnqueueEvaluation(f.ctx, queue.Job{MemberID: "alice"})
			So(err, ShouldBeNil)
			So(res, ShouldEqual, queue.Queued)

			Convey("Then a worker grants the eligible role", func() {
				deadline := time.Now().Add(5 * time.Second)
				for time.Now().Before(deadline) && !f.holds("alice", "Verified") {
					time.Sleep(10 * time.Millisecond)
				}
				So(f.holds("alice", "Verified"), ShouldBeTrue)
			})
		})

		Convey("Then stats report the store and pool", func() {
			stats := f.svc.GetStats()
			So(stats["started"], ShouldBeTrue)
			So(stats["roles"], ShouldEqual, int64(4))
			So(stats["members"], ShouldEqual, int64(4))
			So(stats, ShouldContainKey, "queueLength")
		})
	})
}

func TestService_ExpireStale(t *testing.T) {
	Convey("Given a nomination older than its lifetime", t, func() {
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		clock := func() time.Time { return now }
		f := newFixture(t, service.WithClock(clock))
		thread, err := f.svc.Nominate(f.ctx, voting.NominateRequest{NominatorID: "pilot-1", NomineeID: "bob", RoleName: "Navigator"})
		So(err, ShouldBeNil)
		now = now.Add(model.ThreadTTL + time.Minute)

		Convey("When stale threads are expired", func() {
			n, err := f.svc.ExpireStale(f.ctx)

			Convey("Then the thread closes as expired", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)
				got, err := f.store.GetThread(f.ctx, thread.ID)
				So(err, ShouldBeNil)
				So(got.CloseReason, ShouldEqual, model.ClosedExpired)
			})
		})
	})
}

func TestService_FromConfig(t *testing.T) {
	Convey("Given a configuration with a roles file", t, func() {
		dir := t.TempDir()
		rolesFile := filepath.Join(dir, "roles.yaml")
		So(os.WriteFile(rolesFile, []byte(`roles:
  - name: Verified
    tier: verified
    groups:
      - name: account
        requirements:
          - type: stellar_account
`), 0o600), ShouldBeNil)

		cfg := config.New()
		cfg.DBDSN = filepath.Join(dir, "ascent.db")
		cfg.RolesFile = rolesFile
		cfg.HorizonURL = ""

		Convey("When the service is built", func() {
			svc, closeFn, err := service.FromConfig(context.Background(), cfg)
			So(err, ShouldBeNil)
			defer func() { _ = closeFn() }()

			Convey("Then the roles are seeded and the store is reachable", func() {
				So(svc.Ping(context.Background()), ShouldBeNil)
				So(svc.GetStats()["roles"], ShouldEqual, int64(1))
			})
		})

		Convey("When the roles file is missing", func() {
			cfg.RolesFile = filepath.Join(dir, "missing.yaml")
			_, _, err := service.FromConfig(context.Background(), cfg)

			Convey("Then building fails", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}
