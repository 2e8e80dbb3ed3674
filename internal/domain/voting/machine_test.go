package voting_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/okian/ascent/internal/domain/model"
	"github.com/okian/ascent/internal/domain/voting"
	"github.com/okian/ascent/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

type memStore struct {
	mu          sync.Mutex
	threads     map[string]*model.NominationThread
	order       []string
	votes       map[string]map[string]bool
	recordCalls int
	// beforeRecord runs inside RecordVote, standing in for another process.
	beforeRecord func(t *model.NominationThread)
}

func newMemStore() *memStore {
	return &memStore{threads: map[string]*model.NominationThread{}, votes: map[string]map[string]bool{}}
}

func (s *memStore) CreateThread(_ context.Context, t *model.NominationThread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *t
	s.threads[t.ID] = &c
	s.order = append(s.order, t.ID)
	return nil
}

func (s *memStore) GetThread(_ context.Context, id string) (*model.NominationThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (s *memStore) ListThreads(_ context.Context, nomineeID, roleName string) ([]model.NominationThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.NominationThread
	for _, id := range s.order {
		t := s.threads[id]
		if t.NomineeID == nomineeID && t.RoleName == roleName {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *memStore) ListOpenThreads(context.Context) ([]model.NominationThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.NominationThread
	for _, id := range s.order {
		if t := s.threads[id]; t.IsOpen() {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *memStore) RecordVote(_ context.Context, v *model.Vote) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordCalls++
	if s.beforeRecord != nil {
		s.beforeRecord(s.threads[v.ThreadID])
	}
	if !s.threads[v.ThreadID].IsOpen() {
		return 0, model.ErrThreadClosed
	}
	if s.votes[v.ThreadID] == nil {
		s.votes[v.ThreadID] = map[string]bool{}
	}
	if s.votes[v.ThreadID][v.VoterID] {
		return 0, model.ErrAlreadyVoted
	}
	s.votes[v.ThreadID][v.VoterID] = true
	s.threads[v.ThreadID].VoteCount++
	return s.threads[v.ThreadID].VoteCount, nil
}

func (s *memStore) Voters(_ context.Context, threadID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for v := range s.votes[threadID] {
		out = append(out, v)
	}
	return out, nil
}

func (s *memStore) CloseThread(_ context.Context, id string, reason model.CloseReason, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.threads[id]
	if !t.IsOpen() {
		return false, nil
	}
	t.Status, t.CloseReason, t.UpdatedAt = model.ThreadClosed, reason, at
	return true, nil
}

func (s *memStore) voteCount(threadID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.votes[threadID])
}

type roleBook map[string]*model.Role

func (r roleBook) GetRoleByName(_ context.Context, name string) (*model.Role, error) {
	role, ok := r[name]
	if !ok {
		return nil, model.ErrNotFound
	}
	return role, nil
}

type memberBook map[string]*model.Member

func (b memberBook) FetchMember(_ context.Context, _ string, id string) (*model.Member, error) {
	m, ok := b[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return m, nil
}

type recordingGranter struct {
	mu       sync.Mutex
	requests []model.GrantRequest
	fail     bool
}

func (g *recordingGranter) Grant(_ context.Context, req model.GrantRequest) model.GrantOutcome {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.fail {
		return model.GrantOutcome{Status: http.StatusNotFound, Reason: "member left", Requested: req.RoleName}
	}
	return model.GrantOutcome{Success: true, Status: http.StatusOK, Requested: req.RoleName, Role: req.RoleName, DryRun: req.DryRun}
}

func (g *recordingGranter) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

type fixture struct {
	store   *memStore
	granter *recordingGranter
	members memberBook
	machine *voting.Machine
	now     time.Time
}

func newFixture(quorum int) *fixture {
	f := &fixture{
		store:   newMemStore(),
		granter: &recordingGranter{},
		members: memberBook{
			"nominee":   {DiscordID: "nominee", Roles: []model.HeldRole{{Name: "Pathfinder"}}},
			"nominator": {DiscordID: "nominator", Roles: []model.HeldRole{{Name: "Pilot"}}},
			"outsider":  {DiscordID: "outsider", Roles: []model.HeldRole{{Name: "Verified"}}},
		},
		now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("voter-%d", i)
		f.members[id] = &model.Member{DiscordID: id, Roles: []model.HeldRole{{Name: "Navigator"}}}
	}
	roles := roleBook{"Navigator": {
		ID:                 "role-nav",
		Name:               "Navigator",
		Tier:               model.TierNavigator,
		NominationEnabled:  true,
		VotesRequired:      quorum,
		EligibleNominators: []string{"Navigator", "Pilot"},
	}}
	f.machine = voting.New(f.store, roles, f.members, f.granter, voting.WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) nominate() *model.NominationThread {
	t, err := f.machine.Nominate(context.Background(), voting.NominateRequest{
		NominatorID: "nominator", NomineeID: "nominee", RoleName: "Navigator",
	})
	So(err, ShouldBeNil)
	return t
}

func (f *fixture) vote(threadID, voter string) (voting.VoteResult, error) {
	return f.machine.CastVote(context.Background(), voting.VoteRequest{ThreadID: threadID, VoterID: voter})
}

func TestNominate(t *testing.T) {
	Convey("Given a role open to nominations", t, func() {
		f := newFixture(5)
		ctx := context.Background()

		Convey("When an eligible member nominates another", func() {
			thread := f.nominate()

			Convey("Then an open thread with no votes is created", func() {
				So(thread.Status, ShouldEqual, model.ThreadOpen)
				So(thread.VoteCount, ShouldEqual, 0)
				So(thread.RoleID, ShouldEqual, "role-nav")
			})

			Convey("And the same nominator cannot open a second thread", func() {
				_, err := f.machine.Nominate(ctx, voting.NominateRequest{NominatorID: "nominator", NomineeID: "nominee", RoleName: "Navigator"})
				So(errors.Is(err, model.ErrConflict), ShouldBeTrue)
			})
		})

		Convey("When the nominator lacks an eligible role", func() {
			_, err := f.machine.Nominate(ctx, voting.NominateRequest{NominatorID: "outsider", NomineeID: "nominee", RoleName: "Navigator"})

			Convey("Then the nomination is forbidden", func() {
				So(errors.Is(err, model.ErrForbidden), ShouldBeTrue)
			})
		})

		Convey("When the nominee already holds the role", func() {
			f.members["nominee"].Roles = []model.HeldRole{{Name: "Navigator"}}
			_, err := f.machine.Nominate(ctx, voting.NominateRequest{NominatorID: "nominator", NomineeID: "nominee", RoleName: "Navigator"})

			Convey("Then it is a conflict", func() {
				So(errors.Is(err, model.ErrConflict), ShouldBeTrue)
			})
		})

		Convey("When a member nominates themselves", func() {
			_, err := f.machine.Nominate(ctx, voting.NominateRequest{NominatorID: "nominator", NomineeID: "nominator", RoleName: "Navigator"})

			Convey("Then it is rejected", func() {
				So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			})
		})
	})
}

func TestCastVote(t *testing.T) {
	Convey("Given an open nomination thread with quorum 5", t, func() {
		f := newFixture(5)
		thread := f.nominate()

		Convey("When a voter votes twice", func() {
			first, err1 := f.vote(thread.ID, "voter-1")
			second, err2 := f.vote(thread.ID, "voter-1")

			Convey("Then exactly one vote is recorded and the second reports already voted", func() {
				So(err1, ShouldBeNil)
				So(first.Status, ShouldEqual, voting.StatusRecorded)
				So(first.Thread.VoteCount, ShouldEqual, 1)
				So(errors.Is(err2, model.ErrAlreadyVoted), ShouldBeTrue)
				So(second.Status, ShouldEqual, voting.StatusAlreadyVoted)
				So(f.store.voteCount(thread.ID), ShouldEqual, 1)
			})
		})

		Convey("When the nominee votes for themselves", func() {
			_, err := f.vote(thread.ID, "nominee")

			Convey("Then the vote is forbidden", func() {
				So(errors.Is(err, model.ErrForbidden), ShouldBeTrue)
			})
		})

		Convey("When a member without a voting role votes", func() {
			_, err := f.vote(thread.ID, "outsider")

			Convey("Then the vote is forbidden", func() {
				So(errors.Is(err, model.ErrForbidden), ShouldBeTrue)
			})
		})

		Convey("When the fifth vote arrives", func() {
			var res voting.VoteResult
			for i := 0; i < 5; i++ {
				var err error
				res, err = f.vote(thread.ID, fmt.Sprintf("voter-%d", i))
				So(err, ShouldBeNil)
			}

			Convey("Then the nominee is promoted and the thread closes", func() {
				So(res.Status, ShouldEqual, voting.StatusPromoted)
				So(res.Thread.CloseReason, ShouldEqual, model.ClosedPromoted)
				So(f.granter.calls(), ShouldEqual, 1)
				So(f.granter.requests[0].MemberID, ShouldEqual, "nominee")
			})

			Convey("And further votes are rejected as closed", func() {
				_, err := f.vote(thread.ID, "voter-9")
				So(errors.Is(err, model.ErrThreadClosed), ShouldBeTrue)
			})
		})

		Convey("When quorum is reached but the grant fails", func() {
			f.granter.fail = true
			var res voting.VoteResult
			for i := 0; i < 5; i++ {
				res, _ = f.vote(thread.ID, fmt.Sprintf("voter-%d", i))
			}

			Convey("Then the thread stays open with its votes and asks for a retry", func() {
				So(res.Status, ShouldEqual, voting.StatusRecorded)
				So(res.Retry, ShouldBeTrue)
				So(res.Grant.Status, ShouldEqual, http.StatusNotFound)
				stored, _ := f.store.GetThread(context.Background(), thread.ID)
				So(stored.IsOpen(), ShouldBeTrue)
				So(stored.VoteCount, ShouldEqual, 5)
			})

			Convey("And a refresh after recovery promotes", func() {
				f.granter.fail = false
				res, err := f.machine.Refresh(context.Background(), thread.ID, false)
				So(err, ShouldBeNil)
				So(res.Status, ShouldEqual, voting.StatusPromoted)
			})
		})

		Convey("When quorum is reached in dry-run mode", func() {
			var res voting.VoteResult
			for i := 0; i < 5; i++ {
				res, _ = f.machine.CastVote(context.Background(), voting.VoteRequest{
					ThreadID: thread.ID, VoterID: fmt.Sprintf("voter-%d", i), DryRun: true,
				})
			}

			Convey("Then the promotion is simulated and the thread is left open", func() {
				So(res.Status, ShouldEqual, voting.StatusPromoted)
				So(res.Grant.DryRun, ShouldBeTrue)
				stored, _ := f.store.GetThread(context.Background(), thread.ID)
				So(stored.IsOpen(), ShouldBeTrue)
			})
		})
	})
}

func TestExpiry(t *testing.T) {
	Convey("Given a thread that reached quorum votes but is older than five days", t, func() {
		f := newFixture(3)
		thread := f.nominate()
		f.granter.fail = true
		for i := 0; i < 3; i++ {
			_, _ = f.vote(thread.ID, fmt.Sprintf("voter-%d", i))
		}
		f.granter.fail = false
		calls := f.granter.calls()
		f.now = f.now.Add(model.ThreadTTL + time.Minute)

		Convey("When it is refreshed", func() {
			res, err := f.machine.Refresh(context.Background(), thread.ID, false)

			Convey("Then it closes as expired and quorum is never evaluated", func() {
				So(errors.Is(err, model.ErrThreadClosed), ShouldBeTrue)
				So(res.Status, ShouldEqual, voting.StatusExpired)
				So(f.granter.calls(), ShouldEqual, calls)
				stored, _ := f.store.GetThread(context.Background(), thread.ID)
				So(stored.CloseReason, ShouldEqual, model.ClosedExpired)
			})
		})

		Convey("When a vote arrives", func() {
			res, err := f.vote(thread.ID, "voter-10")

			Convey("Then the vote is not recorded", func() {
				So(errors.Is(err, model.ErrThreadClosed), ShouldBeTrue)
				So(res.Status, ShouldEqual, voting.StatusExpired)
				So(f.store.voteCount(thread.ID), ShouldEqual, 3)
			})
		})

		Convey("When the sweeper runs", func() {
			n, err := f.machine.ExpireStale(context.Background())

			Convey("Then the stale thread is closed", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)
			})
		})
	})
}

func TestConcurrentVotes(t *testing.T) {
	Convey("Given an open thread with a high quorum", t, func() {
		f := newFixture(100)
		thread := f.nominate()

		Convey("When different voters vote concurrently", func() {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, _ = f.vote(thread.ID, fmt.Sprintf("voter-%d", i))
				}(i)
			}
			wg.Wait()

			Convey("Then every vote is counted exactly once", func() {
				stored, _ := f.store.GetThread(context.Background(), thread.ID)
				So(stored.VoteCount, ShouldEqual, 20)
				So(f.store.voteCount(thread.ID), ShouldEqual, 20)
			})
		})

		Convey("When the same voter votes concurrently", func() {
			var wg sync.WaitGroup
			var mu sync.Mutex
			already := 0
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := f.vote(thread.ID, "voter-1"); errors.Is(err, model.ErrAlreadyVoted) {
						mu.Lock()
						already++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			Convey("Then exactly one vote is recorded", func() {
				So(f.store.voteCount(thread.ID), ShouldEqual, 1)
				So(already, ShouldEqual, 9)
			})
		})
	})
}

func TestCacheReload(t *testing.T) {
	Convey("Given a vote recorded by a previous process", t, func() {
		f := newFixture(5)
		thread := f.nominate()
		_, err := f.vote(thread.ID, "voter-1")
		So(err, ShouldBeNil)

		restarted := voting.New(f.store, roleBook{"Navigator": {
			Name: "Navigator", NominationEnabled: true, VotesRequired: 5, EligibleNominators: []string{"Navigator"},
		}}, f.members, f.granter, voting.WithClock(func() time.Time { return f.now }))
		calls := f.store.recordCalls

		Convey("When the same voter votes through the new process", func() {
			_, err := restarted.CastVote(context.Background(), voting.VoteRequest{ThreadID: thread.ID, VoterID: "voter-1"})

			Convey("Then the durable voters are loaded and the duplicate is caught", func() {
				So(errors.Is(err, model.ErrAlreadyVoted), ShouldBeTrue)
				So(f.store.recordCalls, ShouldEqual, calls)
			})
		})
	})
}

func TestSelectWinner(t *testing.T) {
	Convey("Given two threads meeting quorum with 6 and 9 votes", t, func() {
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		threads := []model.NominationThread{
			{ID: "a", NominatorID: "alice", VoteCount: 6, Status: model.ThreadOpen, CreatedAt: now},
			{ID: "b", NominatorID: "bob", VoteCount: 9, Status: model.ThreadOpen, CreatedAt: now},
			{ID: "c", NominatorID: "carol", VoteCount: 2, Status: model.ThreadOpen, CreatedAt: now},
		}

		Convey("When selecting the winner", func() {
			tally := voting.SelectWinner(threads, 5, now)

			Convey("Then the 9-vote thread's nominator wins", func() {
				So(tally.Winner.NominatorID, ShouldEqual, "bob")
				So(tally.Successful, ShouldEqual, 2)
				So(tally.Nominations, ShouldEqual, 3)
				So(tally.TotalVotes, ShouldEqual, 17)
			})
		})

		Convey("When vote counts tie", func() {
			tied := []model.NominationThread{
				{NominatorID: "first", VoteCount: 7, CreatedAt: now},
				{NominatorID: "second", VoteCount: 7, CreatedAt: now},
			}

			Convey("Then the first maximum encountered wins", func() {
				So(voting.SelectWinner(tied, 5, now).Winner.NominatorID, ShouldEqual, "first")
			})
		})

		Convey("When the best thread expired", func() {
			threads[1].Status = model.ThreadClosed
			threads[1].CloseReason = model.ClosedExpired

			Convey("Then it cannot win", func() {
				So(voting.SelectWinner(threads, 5, now).Winner.NominatorID, ShouldEqual, "alice")
			})
		})

		Convey("When the best thread is still open but older than the thread TTL", func() {
			threads[1].CreatedAt = now.Add(-model.ThreadTTL - time.Hour)

			Convey("Then it is not counted as successful", func() {
				tally := voting.SelectWinner(threads, 5, now)
				So(tally.Winner.NominatorID, ShouldEqual, "alice")
				So(tally.Successful, ShouldEqual, 1)
			})
		})

		Convey("When an old thread was promoted before it expired", func() {
			threads[1].Status = model.ThreadClosed
			threads[1].CloseReason = model.ClosedPromoted
			threads[1].CreatedAt = now.Add(-30 * 24 * time.Hour)

			Convey("Then it still wins", func() {
				So(voting.SelectWinner(threads, 5, now).Winner.NominatorID, ShouldEqual, "bob")
			})
		})
	})
}

func TestVoteOnThreadClosedElsewhere(t *testing.T) {
	Convey("Given an open thread that another process closes while a vote is in flight", t, func() {
		f := newFixture(5)
		thread := f.nominate()
		f.store.beforeRecord = func(t *model.NominationThread) {
			t.Status, t.CloseReason = model.ThreadClosed, model.ClosedPromoted
		}

		Convey("When a vote is cast", func() {
			res, err := f.vote(thread.ID, "voter-1")

			Convey("Then it is refused as closed and not counted", func() {
				So(errors.Is(err, model.ErrThreadClosed), ShouldBeTrue)
				So(res.Status, ShouldEqual, voting.StatusClosed)
				So(f.store.voteCount(thread.ID), ShouldEqual, 0)
				So(f.granter.calls(), ShouldEqual, 0)
			})
		})
	})
}

func TestTallyIgnoresUnsweptStaleThreads(t *testing.T) {
	Convey("Given an open thread with 6 votes and a quorum of 10", t, func() {
		f := newFixture(10)
		thread := f.nominate()
		for i := 0; i < 6; i++ {
			_, err := f.vote(thread.ID, fmt.Sprintf("voter-%d", i))
			So(err, ShouldBeNil)
		}

		Convey("When six days pass without a sweep and the tally asks for 5 votes", func() {
			f.now = f.now.Add(6 * 24 * time.Hour)
			tally, err := f.machine.Tally(context.Background(), "nominee", "Navigator", 5)

			Convey("Then the stale thread does not win", func() {
				So(err, ShouldBeNil)
				So(tally.Winner, ShouldBeNil)
				So(tally.Successful, ShouldEqual, 0)
				So(tally.Nominations, ShouldEqual, 1)
			})
		})

		Convey("When the tally runs within the TTL", func() {
			tally, err := f.machine.Tally(context.Background(), "nominee", "Navigator", 5)

			Convey("Then the thread wins", func() {
				So(err, ShouldBeNil)
				So(tally.Winner, ShouldNotBeNil)
				So(tally.Winner.ID, ShouldEqual, thread.ID)
			})
		})
	})
}
