package voting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/ascent/internal/domain/model"
	"github.com/okian/ascent/internal/domain/requirement"
	"github.com/okian/ascent/pkg/logger"
	"github.com/okian/ascent/pkg/metrics"
)

// VoteStatus describes what a vote or refresh did to a thread.
type VoteStatus string

// Vote statuses.
const (
	StatusRecorded     VoteStatus = "recorded"
	StatusAlreadyVoted VoteStatus = "already_voted"
	StatusExpired      VoteStatus = "expired"
	StatusClosed       VoteStatus = "closed"
	StatusPromoted     VoteStatus = "promoted"
	StatusOpen         VoteStatus = "open"
)

// NominateRequest proposes NomineeID for RoleName.
type NominateRequest struct {
	GuildID     string `json:"guild_id"`
	NominatorID string `json:"nominator_id"`
	NomineeID   string `json:"nominee_id"`
	RoleName    string `json:"role"`
}

// VoteRequest casts VoterID's vote on ThreadID.
type VoteRequest struct {
	GuildID  string `json:"guild_id"`
	ThreadID string `json:"thread_id"`
	VoterID  string `json:"voter_id"`
	DryRun   bool   `json:"dry_run"`
}

// VoteResult reports the thread state after a vote or refresh.
type VoteResult struct {
	Status VoteStatus             `json:"status"`
	Thread model.NominationThread `json:"thread"`
	Quorum int                    `json:"quorum"`
	Grant  *model.GrantOutcome    `json:"grant,omitempty"`
	// Retry is set when quorum was reached but the grant failed; the thread
	// stays open and keeps its votes.
	Retry bool `json:"retry,omitempty"`
}

// Machine runs nomination threads. It is safe for concurrent use; votes on
// one thread are serialised in-process and deduplicated by the store.
type Machine struct {
	store   Store
	cache   VoteCache
	roles   Roles
	members Members
	granter Granter
	now     func() time.Time
	logger  logger.Logger

	locks  *threadLocks
	loaded sync.Map // thread ids whose voters were loaded into cache
}

// New creates a voting machine.
func New(store Store, roles Roles, members Members, granter Granter, opts ...Option) *Machine {
	m := &Machine{
		store:   store,
		roles:   roles,
		members: members,
		granter: granter,
		cache:   NewMemoryCache(defaultCacheSize),
		now:     time.Now,
		logger:  logger.Get().Named("voting"),
		locks:   newThreadLocks(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Nominate opens a thread nominating a member for a role.
func (m *Machine) Nominate(ctx context.Context, req NominateRequest) (*model.NominationThread, error) {
	if req.NominatorID == "" || req.NomineeID == "" || req.RoleName == "" {
		return nil, fmt.Errorf("%w: nominator, nominee and role are required", model.ErrValidation)
	}
	if req.NominatorID == req.NomineeID {
		return nil, fmt.Errorf("%w: members cannot nominate themselves", model.ErrValidation)
	}
	role, err := m.liveRole(ctx, req.RoleName)
	if err != nil {
		return nil, err
	}
	if !role.NominationEnabled {
		return nil, fmt.Errorf("%w: role %q does not accept nominations", model.ErrValidation, role.Name)
	}

	nominee, err := m.members.FetchMember(ctx, req.GuildID, req.NomineeID)
	if err != nil {
		return nil, fmt.Errorf("fetch nominee: %w", err)
	}
	if nominee.HoldsRole(role.Name) {
		return nil, fmt.Errorf("%w: %s already holds %s", model.ErrConflict, nominee.DiscordID, role.Name)
	}
	nominator, err := m.members.FetchMember(ctx, req.GuildID, req.NominatorID)
	if err != nil {
		return nil, fmt.Errorf("fetch nominator: %w", err)
	}
	if !role.CanNominate(nominator) {
		return nil, fmt.Errorf("%w: nominating for %s requires one of %s", model.ErrForbidden,
			role.Name, strings.Join(role.EligibleNominators, ", "))
	}

	existing, err := m.store.ListThreads(ctx, req.NomineeID, role.Name)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	for i := range existing {
		t := &existing[i]
		if t.NominatorID == req.NominatorID && t.IsOpen() && !t.Expired(m.now()) {
			return nil, fmt.Errorf("%w: %s already has an open nomination for %s", model.ErrConflict, req.NominatorID, req.NomineeID)
		}
	}

	now := m.now()
	t := &model.NominationThread{
		ID:          uuid.NewString(),
		GuildID:     req.GuildID,
		NominatorID: req.NominatorID,
		NomineeID:   req.NomineeID,
		RoleID:      role.ID,
		RoleName:    role.Name,
		Status:      model.ThreadOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.CreateThread(ctx, t); err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	m.loaded.Store(t.ID, struct{}{}) // a new thread has no voters to load

	metrics.RecordNominationCreated()
	m.logger.Info(ctx, "nomination opened",
		logger.String("thread", t.ID),
		logger.String("nominator", t.NominatorID),
		logger.String("nominee", t.NomineeID),
		logger.String("role", t.RoleName),
	)
	return t, nil
}

// CastVote records a vote and, when quorum is reached, asks the granter to
// promote the nominee. Duplicate votes return model.ErrAlreadyVoted and
// closed or expired threads return model.ErrThreadClosed; the result is
// populated in both cases.
func (m *Machine) CastVote(ctx context.Context, req VoteRequest) (VoteResult, error) {
	if req.ThreadID == "" || req.VoterID == "" {
		return VoteResult{}, fmt.Errorf("%w: thread and voter are required", model.ErrValidation)
	}
	unlock := m.locks.lock(req.ThreadID)
	defer unlock()

	thread, role, res, err := m.openThread(ctx, req.ThreadID)
	if err != nil || res.Status != StatusOpen {
		if res.Status != "" {
			metrics.RecordVote(string(res.Status))
		}
		return res, err
	}

	if req.VoterID == thread.NomineeID {
		return res, fmt.Errorf("%w: nominees cannot vote on their own nomination", model.ErrForbidden)
	}
	voter, err := m.members.FetchMember(ctx, firstNonEmpty(req.GuildID, thread.GuildID), req.VoterID)
	if err != nil {
		return res, fmt.Errorf("fetch voter: %w", err)
	}
	if allowed := voterRoles(role); !holdsAny(voter, allowed) {
		return res, fmt.Errorf("%w: voting on %s nominations requires one of %s", model.ErrForbidden,
			role.Name, strings.Join(allowed, ", "))
	}

	if err := m.ensureLoaded(ctx, thread.ID); err != nil {
		return res, err
	}
	hit, err := m.cache.Has(ctx, thread.ID, req.VoterID)
	if err != nil {
		m.logger.Warn(ctx, "vote cache lookup failed", logger.String("thread", thread.ID), logger.Error(err))
	}
	metrics.RecordVoteCacheLookup(hit)
	if hit {
		res.Status = StatusAlreadyVoted
		metrics.RecordVote(string(res.Status))
		return res, model.ErrAlreadyVoted
	}

	count, err := m.store.RecordVote(ctx, &model.Vote{
		ID:        uuid.NewString(),
		ThreadID:  thread.ID,
		VoterID:   req.VoterID,
		CreatedAt: m.now(),
	})
	if errors.Is(err, model.ErrAlreadyVoted) {
		m.cacheVote(ctx, thread.ID, req.VoterID)
		res.Status = StatusAlreadyVoted
		metrics.RecordVote(string(res.Status))
		return res, err
	}
	if errors.Is(err, model.ErrThreadClosed) {
		res.Status = StatusClosed
		metrics.RecordVote(string(res.Status))
		return res, err
	}
	if err != nil {
		return res, fmt.Errorf("record vote: %w", err)
	}
	m.cacheVote(ctx, thread.ID, req.VoterID)

	thread.VoteCount = count
	thread.UpdatedAt = m.now()
	res.Thread = *thread
	res.Status = StatusRecorded
	metrics.RecordVote(string(res.Status))
	m.logger.Info(ctx, "vote recorded",
		logger.String("thread", thread.ID),
		logger.String("voter", req.VoterID),
		logger.Int("votes", count),
		logger.Int("quorum", role.VotesRequired),
	)

	return m.checkQuorum(ctx, thread, role, res, req.DryRun), nil
}

// Refresh re-evaluates expiry and quorum without casting a vote.
func (m *Machine) Refresh(ctx context.Context, threadID string, dryRun bool) (VoteResult, error) {
	unlock := m.locks.lock(threadID)
	defer unlock()

	thread, role, res, err := m.openThread(ctx, threadID)
	if err != nil || res.Status != StatusOpen {
		return res, err
	}
	return m.checkQuorum(ctx, thread, role, res, dryRun), nil
}

// ExpireStale closes every open thread older than model.ThreadTTL and
// returns how many it closed.
func (m *Machine) ExpireStale(ctx context.Context) (int, error) {
	open, err := m.store.ListOpenThreads(ctx)
	if err != nil {
		return 0, fmt.Errorf("list open threads: %w", err)
	}
	closed := 0
	for i := range open {
		if err := ctx.Err(); err != nil {
			return closed, err
		}
		if !open[i].Expired(m.now()) {
			continue
		}
		ok, err := m.expire(ctx, &open[i])
		if err != nil {
			return closed, err
		}
		if ok {
			closed++
		}
	}
	return closed, nil
}

// Tally summarises the threads nominating nomineeID for roleName. Threads
// at or above requiredVotes are successful; the winner is the one with the
// strictly greatest vote count, the earliest such thread on ties. Expired
// threads never win, including open ones past model.ThreadTTL that have not
// been swept yet.
func (m *Machine) Tally(ctx context.Context, nomineeID, roleName string, requiredVotes int) (model.Tally, error) {
	threads, err := m.store.ListThreads(ctx, nomineeID, roleName)
	if err != nil {
		return model.Tally{}, fmt.Errorf("list threads: %w", err)
	}
	return SelectWinner(threads, requiredVotes, m.now()), nil
}

// SelectWinner computes a tally over threads in the order given as of now.
func SelectWinner(threads []model.NominationThread, requiredVotes int, now time.Time) model.Tally {
	var t model.Tally
	for i := range threads {
		th := threads[i]
		t.Nominations++
		t.TotalVotes += th.VoteCount
		if th.CloseReason == model.ClosedExpired || (th.IsOpen() && th.Expired(now)) {
			continue
		}
		if requiredVotes <= 0 || th.VoteCount < requiredVotes {
			continue
		}
		t.Successful++
		if t.Winner == nil || th.VoteCount > t.Winner.VoteCount {
			w := th
			t.Winner = &w
		}
	}
	return t
}

// openThread loads a thread and its role and applies expiry. The returned
// result has StatusOpen only when the thread can still take votes.
func (m *Machine) openThread(ctx context.Context, id string) (*model.NominationThread, *model.Role, VoteResult, error) {
	thread, err := m.store.GetThread(ctx, id)
	if err != nil {
		return nil, nil, VoteResult{}, fmt.Errorf("get thread %s: %w", id, err)
	}
	res := VoteResult{Status: StatusOpen, Thread: *thread}
	if !thread.IsOpen() {
		res.Status = StatusClosed
		if thread.CloseReason == model.ClosedExpired {
			res.Status = StatusExpired
		}
		reason := string(thread.CloseReason)
		if reason == "" {
			reason = "closed"
		}
		return thread, nil, res, fmt.Errorf("%w: thread %s was %s", model.ErrThreadClosed, id, reason)
	}

	if thread.Expired(m.now()) {
		if _, err := m.expire(ctx, thread); err != nil {
			return thread, nil, res, err
		}
		res.Status = StatusExpired
		res.Thread = *thread
		return thread, nil, res, fmt.Errorf("%w: thread %s expired", model.ErrThreadClosed, id)
	}

	role, err := m.roles.GetRoleByName(ctx, thread.RoleName)
	if err != nil {
		return thread, nil, res, fmt.Errorf("get role %s: %w", thread.RoleName, err)
	}
	res.Quorum = role.VotesRequired
	return thread, role, res, nil
}

// checkQuorum promotes the nominee when the thread reached quorum. A failed
// grant leaves the thread open for a retry.
func (m *Machine) checkQuorum(ctx context.Context, thread *model.NominationThread, role *model.Role, res VoteResult, dryRun bool) VoteResult {
	if role.VotesRequired <= 0 || thread.VoteCount < role.VotesRequired {
		return res
	}

	outcome := m.granter.Grant(ctx, model.GrantRequest{
		GuildID:  thread.GuildID,
		MemberID: thread.NomineeID,
		RoleName: role.Name,
		DryRun:   dryRun,
		Action:   model.ActionPromote,
	})
	res.Grant = &outcome
	if !outcome.Success {
		res.Retry = true
		m.logger.Warn(ctx, "quorum reached but promotion failed; thread stays open",
			logger.String("thread", thread.ID),
			logger.Int("status", outcome.Status),
			logger.String("reason", outcome.Reason),
		)
		return res
	}

	res.Status = StatusPromoted
	if dryRun {
		return res
	}
	closedAt := m.now()
	if _, err := m.store.CloseThread(ctx, thread.ID, model.ClosedPromoted, closedAt); err != nil {
		m.logger.Error(ctx, "promotion applied but thread could not be closed",
			logger.String("thread", thread.ID), logger.Error(err))
		return res
	}
	thread.Status = model.ThreadClosed
	thread.CloseReason = model.ClosedPromoted
	thread.UpdatedAt = closedAt
	res.Thread = *thread
	metrics.RecordThreadClosed(string(model.ClosedPromoted))
	m.logger.Info(ctx, "nomination promoted",
		logger.String("thread", thread.ID),
		logger.String("nominee", thread.NomineeID),
		logger.String("role", outcome.Role),
	)
	return res
}

func (m *Machine) expire(ctx context.Context, thread *model.NominationThread) (bool, error) {
	at := m.now()
	ok, err := m.store.CloseThread(ctx, thread.ID, model.ClosedExpired, at)
	if err != nil {
		return false, fmt.Errorf("expire thread %s: %w", thread.ID, err)
	}
	thread.Status = model.ThreadClosed
	thread.CloseReason = model.ClosedExpired
	thread.UpdatedAt = at
	if ok {
		metrics.RecordThreadClosed(string(model.ClosedExpired))
		m.logger.Info(ctx, "nomination expired",
			logger.String("thread", thread.ID),
			logger.Int("votes", thread.VoteCount),
		)
	}
	return ok, nil
}

// ensureLoaded seeds the cache with the thread's durable voters the first
// time this process touches the thread.
func (m *Machine) ensureLoaded(ctx context.Context, threadID string) error {
	if _, ok := m.loaded.Load(threadID); ok {
		return nil
	}
	voters, err := m.store.Voters(ctx, threadID)
	if err != nil {
		return fmt.Errorf("load voters: %w", err)
	}
	for _, v := range voters {
		m.cacheVote(ctx, threadID, v)
	}
	m.loaded.Store(threadID, struct{}{})
	return nil
}

func (m *Machine) cacheVote(ctx context.Context, threadID, voterID string) {
	if err := m.cache.Add(ctx, threadID, voterID); err != nil {
		m.logger.Warn(ctx, "vote cache update failed", logger.String("thread", threadID), logger.Error(err))
	}
}

func (m *Machine) liveRole(ctx context.Context, name string) (*model.Role, error) {
	role, err := m.roles.GetRoleByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get role %s: %w", name, err)
	}
	if role.Deleted() {
		return nil, fmt.Errorf("%w: role %s was deleted", model.ErrNotFound, name)
	}
	return role, nil
}

// voterRoles returns who may vote on nominations for role: the voter roles
// of its nomination requirement when set, else its eligible nominators.
func voterRoles(role *model.Role) []string {
	for _, g := range role.Groups {
		for _, r := range g.Requirements {
			if n, ok := r.(requirement.Nomination); ok && len(n.EligibleVoterRoles) > 0 {
				return n.EligibleVoterRoles
			}
		}
	}
	return role.EligibleNominators
}

func holdsAny(m *model.Member, names []string) bool {
	for _, n := range names {
		if m.HoldsRole(n) {
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
