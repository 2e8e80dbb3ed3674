// Package service wires the eligibility, voting and grant components into
// the operations exposed by the HTTP API and the operator CLI.
package service

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/okian/ascent/internal/adapters/horizon"
	"github.com/okian/ascent/internal/adapters/mq/queue"
	"github.com/okian/ascent/internal/adapters/mq/worker"
	"github.com/okian/ascent/internal/adapters/repository"
	"github.com/okian/ascent/internal/domain/dedupe"
	"github.com/okian/ascent/internal/domain/eligibility"
	"github.com/okian/ascent/internal/domain/grant"
	"github.com/okian/ascent/internal/domain/model"
	"github.com/okian/ascent/internal/domain/voting"
	"github.com/okian/ascent/pkg/logger"
	"github.com/okian/ascent/pkg/metrics"
)

const (
	defaultQueueSize     = 10_000
	defaultDedupeSize    = 50_000
	defaultSweepInterval = 10 * time.Minute
	defaultDecisionLimit = 50
)

// Store is everything the service needs from durable storage.
type Store interface {
	voting.Store
	grant.MemberClient
	grant.DecisionLog
	eligibility.RoleSource
	GetRoleByName(ctx context.Context, name string) (*model.Role, error)
	UpsertRole(ctx context.Context, r *model.Role) error
	UpsertMember(ctx context.Context, m *model.Member) error
	AddBadges(ctx context.Context, memberID string, badges ...model.Badge) error
	LinkAccount(ctx context.Context, memberID string, a model.LinkedAccount) error
	Badges(ctx context.Context, m *model.Member) ([]model.Badge, error)
	Participation(ctx context.Context, memberID string) (int, error)
	ListDecisions(ctx context.Context, memberID string, limit int) ([]model.DecisionRecord, error)
	Stats(ctx context.Context) (repository.Stats, error)
	Ping(ctx context.Context) error
}

// FundingChecker reports whether a claimed account exists on the ledger.
type FundingChecker interface {
	IsFunded(ctx context.Context, accountKey string) (bool, error)
}

// EligibilityReport is the eligibility of a member, ready for display.
type EligibilityReport struct {
	MemberID    string             `json:"member_id"`
	CurrentTier model.Tier         `json:"current_tier"`
	Role        string             `json:"role,omitempty"`
	Eligible    bool               `json:"eligible"`
	Reason      string             `json:"reason"`
	Badges      int                `json:"badges"`
	Reputation  int                `json:"reputation"`
	Result      eligibility.Result `json:"result"`
}

// VerifyRequest is a proven account-ownership claim.
type VerifyRequest struct {
	GuildID    string `json:"guild_id"`
	MemberID   string `json:"member_id"`
	AccountKey string `json:"account_key"`
	DryRun     bool   `json:"dry_run"`
}

// VerifyResult reports what a verification did.
type VerifyResult struct {
	Funded      bool                `json:"funded"`
	Linked      bool                `json:"linked"`
	Eligibility EligibilityReport   `json:"eligibility"`
	Grant       *model.GrantOutcome `json:"grant,omitempty"`
}

// Service implements the API dependencies for the promotion engine.
type Service struct {
	mu sync.RWMutex

	// Core components
	store       Store
	voteCache   voting.VoteCache
	funding     FundingChecker
	coordinator *grant.Coordinator
	machine     *voting.Machine
	evaluator   *eligibility.Evaluator
	resolver    *eligibility.Resolver
	queue       *queue.InMemoryQueue
	pool        *worker.Pool
	flight      singleflight.Group

	// Configuration
	workerCount        int
	queueSize          int
	dedupeSize         int
	requirementTimeout time.Duration
	evalConcurrency    int
	projectRole        string
	guildID            string
	sweepInterval      time.Duration
	now                func() time.Time

	// State
	initialized bool
	started     bool
	stopCh      chan struct{}
	sweepDone   chan struct{}

	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		funding:       horizon.Trusting{},
		workerCount:   runtime.NumCPU() * 2,
		queueSize:     defaultQueueSize,
		dedupeSize:    defaultDedupeSize,
		projectRole:   grant.DefaultProjectRole,
		sweepInterval: defaultSweepInterval,
		now:           time.Now,
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	return s
}

// Init builds the components without starting background work. It is
// enough for one-shot callers such as the CLI.
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.init(ctx)
}

func (s *Service) init(ctx context.Context) error {
	if s.initialized {
		return nil
	}
	if s.store == nil {
		return fmt.Errorf("%w: store is required", model.ErrValidation)
	}

	s.coordinator = grant.New(s.store, s.store,
		grant.WithDecisionLog(s.store),
		grant.WithProjectRole(s.projectRole),
		grant.WithClock(s.now),
	)
	machineOpts := []voting.Option{voting.WithClock(s.now)}
	if s.voteCache != nil {
		machineOpts = append(machineOpts, voting.WithVoteCache(s.voteCache))
	}
	s.machine = voting.New(s.store, s.store, s.store, s.coordinator, machineOpts...)

	evalOpts := []eligibility.Option{}
	if s.requirementTimeout > 0 {
		evalOpts = append(evalOpts, eligibility.WithRequirementTimeout(s.requirementTimeout))
	}
	if s.evalConcurrency > 0 {
		evalOpts = append(evalOpts, eligibility.WithConcurrency(s.evalConcurrency))
	}
	s.evaluator = eligibility.NewEvaluator(&facts{store: s.store, machine: s.machine}, evalOpts...)
	s.resolver = eligibility.NewResolver(s.store, s.evaluator)

	s.queue = queue.NewInMemoryQueue(
		queue.WithCapacity(s.queueSize),
		queue.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))),
	)
	s.pool = worker.NewPool(s.workerCount, s.queue, s.store, &coalescingResolver{s: s}, s.coordinator)

	s.initialized = true
	s.logger.Debug(ctx, "service components initialized")
	return nil
}

// Start initializes the components and starts the worker pool and the
// expiry sweeper.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting promotion service...")
	if err := s.init(ctx); err != nil {
		return err
	}

	s.pool.Start(ctx)
	if s.sweepInterval > 0 {
		s.sweepDone = make(chan struct{})
		go s.sweep(ctx)
	}

	s.started = true
	s.logger.Info(ctx, "promotion service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Duration("sweepInterval", s.sweepInterval),
	)
	return nil
}

// Stop gracefully shuts down the background work.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.logger.Info(ctx, "stopping promotion service...")

	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	if s.sweepDone != nil {
		<-s.sweepDone
	}
	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Error(ctx, "worker pool shutdown failed", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "promotion service stopped")
}

func (s *Service) sweep(ctx context.Context) {
	defer close(s.sweepDone)
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.machine.ExpireStale(ctx); err != nil {
				s.logger.Warn(ctx, "expiry sweep failed", logger.Error(err))
			}
		}
	}
}

func (s *Service) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return ErrNotStarted
	}
	return nil
}

func (s *Service) guild(id string) string {
	if id != "" {
		return id
	}
	return s.guildID
}

// coalescingResolver shares one in-flight resolution per member. The shared
// resolution ignores any single caller's cancellation; each caller stops
// waiting when its own ctx is done.
type coalescingResolver struct {
	s *Service
}

func (r *coalescingResolver) ResolveHighest(ctx context.Context, m *model.Member) (*model.Role, eligibility.Result, error) {
	type resolved struct {
		role *model.Role
		res  eligibility.Result
	}
	flightCtx := context.WithoutCancel(ctx)
	ch := r.s.flight.DoChan(m.GuildID+":"+m.DiscordID, func() (interface{}, error) {
		role, res, err := r.s.resolver.ResolveHighest(flightCtx, m)
		return resolved{role: role, res: res}, err
	})
	select {
	case <-ctx.Done():
		return nil, eligibility.Result{}, ctx.Err()
	case out := <-ch:
		if out.Err != nil {
			return nil, eligibility.Result{}, out.Err
		}
		v := out.Val.(resolved)
		return v.role, v.res, nil
	}
}

// Eligibility reports the member's eligibility. With no role named it
// resolves the highest tier role the member qualifies for.
func (s *Service) Eligibility(ctx context.Context, guildID, memberID, roleName string) (EligibilityReport, error) {
	if err := s.ready(); err != nil {
		return EligibilityReport{}, err
	}
	if strings.TrimSpace(memberID) == "" {
		return EligibilityReport{}, ErrMemberRequired
	}
	member, err := s.store.FetchMember(ctx, s.guild(guildID), memberID)
	if err != nil {
		return EligibilityReport{}, err
	}
	if roleName == "" {
		role, res, err := (&coalescingResolver{s: s}).ResolveHighest(ctx, member)
		if err != nil {
			return EligibilityReport{}, err
		}
		return s.report(ctx, member, role, res), nil
	}
	role, err := s.store.GetRoleByName(ctx, roleName)
	if err != nil {
		return EligibilityReport{}, err
	}
	res, err := s.evaluator.Evaluate(ctx, role, member)
	if err != nil {
		return EligibilityReport{}, err
	}
	return s.report(ctx, member, role, res), nil
}

func (s *Service) report(ctx context.Context, m *model.Member, role *model.Role, res eligibility.Result) EligibilityReport {
	rep := EligibilityReport{
		MemberID:    m.DiscordID,
		CurrentTier: m.CurrentTier(),
		Eligible:    res.Eligible,
		Reason:      res.Reason(),
		Result:      res,
	}
	if role != nil {
		rep.Role = role.Name
	}
	badges, err := s.store.Badges(ctx, m)
	if err != nil {
		s.logger.Warn(ctx, "badge count unavailable", logger.String("member", m.DiscordID), logger.Error(err))
		return rep
	}
	rep.Badges = len(badges)
	rep.Reputation = model.Reputation(len(badges))
	return rep
}

// Verify handles a proven account claim: it checks the account is funded,
// links it to the member, resolves the highest eligible role and grants it.
// A dry run links nothing and mutates no roles.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (VerifyResult, error) {
	if err := s.ready(); err != nil {
		return VerifyResult{}, err
	}
	if strings.TrimSpace(req.MemberID) == "" {
		return VerifyResult{}, ErrMemberRequired
	}
	if strings.TrimSpace(req.AccountKey) == "" {
		return VerifyResult{}, ErrAccountRequired
	}
	guildID := s.guild(req.GuildID)

	funded, err := s.funding.IsFunded(ctx, req.AccountKey)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("funding check: %w", err)
	}
	if !funded {
		return VerifyResult{}, ErrNotFunded
	}
	out := VerifyResult{Funded: true}

	member, err := s.store.FetchMember(ctx, guildID, req.MemberID)
	if err != nil {
		return out, err
	}
	account := model.LinkedAccount{Key: req.AccountKey, Funded: true, LinkedAt: s.now()}
	if req.DryRun {
		member.Accounts = append(member.Accounts, account)
	} else {
		if err := s.store.LinkAccount(ctx, req.MemberID, account); err != nil {
			return out, err
		}
		out.Linked = true
		if member, err = s.store.FetchMember(ctx, guildID, req.MemberID); err != nil {
			return out, err
		}
	}

	// The snapshot may carry an unpersisted account, so it is not coalesced.
	role, res, err := s.resolver.ResolveHighest(ctx, member)
	if err != nil {
		return out, err
	}
	out.Eligibility = s.report(ctx, member, role, res)
	if role == nil {
		return out, nil
	}
	outcome := s.coordinator.Grant(ctx, model.GrantRequest{
		GuildID:  guildID,
		MemberID: req.MemberID,
		RoleName: role.Name,
		DryRun:   req.DryRun,
		Action:   model.ActionGrant,
	})
	out.Grant = &outcome
	return out, nil
}

// Nominate opens a nomination thread.
func (s *Service) Nominate(ctx context.Context, req voting.NominateRequest) (*model.NominationThread, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	req.GuildID = s.guild(req.GuildID)
	return s.machine.Nominate(ctx, req)
}

// Vote casts a vote on a nomination thread.
func (s *Service) Vote(ctx context.Context, req voting.VoteRequest) (voting.VoteResult, error) {
	if err := s.ready(); err != nil {
		return voting.VoteResult{}, err
	}
	req.GuildID = s.guild(req.GuildID)
	return s.machine.CastVote(ctx, req)
}

// Refresh re-checks a thread for expiry and quorum.
func (s *Service) Refresh(ctx context.Context, threadID string, dryRun bool) (voting.VoteResult, error) {
	if err := s.ready(); err != nil {
		return voting.VoteResult{}, err
	}
	return s.machine.Refresh(ctx, threadID, dryRun)
}

// Grant applies a role to a member.
func (s *Service) Grant(ctx context.Context, req model.GrantRequest) model.GrantOutcome {
	if err := s.ready(); err != nil {
		return model.GrantOutcome{Status: model.StatusOf(err), Err: err, Reason: err.Error(), Requested: req.RoleName}
	}
	req.GuildID = s.guild(req.GuildID)
	return s.coordinator.Grant(ctx, req)
}

// Revoke removes a role from a member.
func (s *Service) Revoke(ctx context.Context, req grant.RevokeRequest) model.GrantOutcome {
	if err := s.ready(); err != nil {
		return model.GrantOutcome{Status: model.StatusOf(err), Err: err, Reason: err.Error(), Requested: req.RoleName}
	}
	req.GuildID = s.guild(req.GuildID)
	return s.coordinator.Revoke(ctx, req)
}

// EnqueueEvaluation schedules a member for asynchronous evaluation and
// promotion.
func (s *Service) EnqueueEvaluation(ctx context.Context, job queue.Job) (queue.Result, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	job.GuildID = s.guild(job.GuildID)
	return s.queue.Enqueue(ctx, job)
}

// ExpireStale closes every open thread past its lifetime.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	return s.machine.ExpireStale(ctx)
}

// Decisions lists the most recent decisions for a member, or for everyone
// when memberID is empty.
func (s *Service) Decisions(ctx context.Context, memberID string, limit int) ([]model.DecisionRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultDecisionLimit
	}
	return s.store.ListDecisions(ctx, memberID, limit)
}

// SeedRoles validates and stores role definitions.
func (s *Service) SeedRoles(ctx context.Context, roles []*model.Role) error {
	if err := s.ready(); err != nil {
		return err
	}
	for _, r := range roles {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("role %q: %w", r.Name, err)
		}
	}
	for _, r := range roles {
		if err := s.store.UpsertRole(ctx, r); err != nil {
			return fmt.Errorf("seed role %q: %w", r.Name, err)
		}
	}
	s.logger.Info(ctx, "roles seeded", logger.Int("count", len(roles)))
	return nil
}

// SyncMember replaces the mirrored snapshot of a member, as last seen on
// the chat platform.
func (s *Service) SyncMember(ctx context.Context, m *model.Member) error {
	if err := s.ready(); err != nil {
		return err
	}
	if m == nil || strings.TrimSpace(m.DiscordID) == "" {
		return ErrMemberRequired
	}
	m.GuildID = s.guild(m.GuildID)
	if err := s.store.UpsertMember(ctx, m); err != nil {
		return err
	}
	s.logger.Debug(ctx, "member synced", logger.String("member", m.DiscordID), logger.Int("roles", len(m.Roles)))
	return nil
}

// AddBadges records badges earned by a member.
func (s *Service) AddBadges(ctx context.Context, memberID string, badges ...model.Badge) error {
	if err := s.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(memberID) == "" {
		return ErrMemberRequired
	}
	return s.store.AddBadges(ctx, memberID, badges...)
}

// Ping checks the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.store.Ping(ctx)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
	}
	if !s.initialized {
		return stats
	}

	queueLen := s.queue.Len(ctx)
	stats["queueLength"] = queueLen
	metrics.UpdateQueueSize(queueLen)

	ps := s.pool.Stats()
	stats["processed"] = ps.Processed
	stats["promoted"] = ps.Promoted
	stats["failed"] = ps.Failed

	st, err := s.store.Stats(ctx)
	if err != nil {
		s.logger.Warn(ctx, "store stats unavailable", logger.Error(err))
		return stats
	}
	stats["roles"] = st.Roles
	stats["members"] = st.Members
	stats["openThreads"] = st.OpenThreads
	stats["threads"] = st.Threads
	stats["votes"] = st.Votes
	stats["decisions"] = st.Decisions
	return stats
}
