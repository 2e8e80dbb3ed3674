package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/ascent/internal/adapters/cache"
	"github.com/okian/ascent/internal/adapters/horizon"
	"github.com/okian/ascent/internal/adapters/repository"
	"github.com/okian/ascent/internal/config"
	"github.com/okian/ascent/internal/domain/voting"
	"github.com/okian/ascent/pkg/logger"
)

// FromConfig opens and migrates the database, picks the vote cache and
// funding checker, initializes a Service and seeds roles_file when set.
// The returned close function releases the database and cache.
func FromConfig(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, func() error, error) {
	db, err := repository.Open(repository.DBConfig{
		Driver: cfg.DBDriver,
		DSN:    cfg.DBDSN,
		Debug:  cfg.DBDebug,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := repository.Migrate(db); err != nil {
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	store := repository.New(db)
	closers := []func() error{store.Close}
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}

	var voteCache voting.VoteCache = voting.NewMemoryCache(cfg.VoteCacheSize)
	if cfg.VoteCache == config.VoteCacheValkey {
		vc, err := cache.NewVoteCache(ctx, cfg.ValkeyAddr)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("connect vote cache: %w", err)
		}
		closers = append(closers, func() error { vc.Close(); return nil })
		voteCache = vc
	}

	var funding FundingChecker = horizon.Trusting{}
	if cfg.HorizonURL != "" {
		funding = horizon.New(cfg.HorizonURL)
	}

	base := []Option{
		WithStore(store),
		WithVoteCache(voteCache),
		WithFundingChecker(funding),
		WithWorkerCount(cfg.WorkerCount),
		WithQueueSize(cfg.EvaluationQueueSize),
		WithDedupeSize(cfg.DedupeSize),
		WithRequirementTimeout(cfg.RequirementTimeout),
		WithEvalConcurrency(cfg.EvalConcurrency),
		WithProjectRole(cfg.ProjectRole),
		WithGuildID(cfg.GuildID),
		WithExpirySweepInterval(cfg.ExpirySweepInterval),
	}
	svc := New(append(base, opts...)...)
	if err := svc.Init(ctx); err != nil {
		_ = closeAll()
		return nil, nil, err
	}

	if cfg.RolesFile != "" {
		roles, err := config.LoadRoles(cfg.RolesFile)
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		if err := svc.SeedRoles(ctx, roles); err != nil {
			_ = closeAll()
			return nil, nil, err
		}
	}
	svc.logger.Info(ctx, "service configured",
		logger.String("db_driver", cfg.DBDriver),
		logger.String("vote_cache", cfg.VoteCache),
		logger.Bool("dry_run_default", cfg.DryRun),
	)
	return svc, closeAll, nil
}
