// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/okian/ascent/internal/adapters/mq/queue"
	service "github.com/okian/ascent/internal/app"
	"github.com/okian/ascent/internal/domain/grant"
	"github.com/okian/ascent/internal/domain/model"
	"github.com/okian/ascent/internal/domain/voting"
)

const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	Eligibility(ctx context.Context, guildID, memberID, roleName string) (service.EligibilityReport, error)
	Decisions(ctx context.Context, memberID string, limit int) ([]model.DecisionRecord, error)
	Verify(ctx context.Context, req service.VerifyRequest) (service.VerifyResult, error)
	SyncMember(ctx context.Context, m *model.Member) error
	AddBadges(ctx context.Context, memberID string, badges ...model.Badge) error

	Nominate(ctx context.Context, req voting.NominateRequest) (*model.NominationThread, error)
	Vote(ctx context.Context, req voting.VoteRequest) (voting.VoteResult, error)
	Refresh(ctx context.Context, threadID string, dryRun bool) (voting.VoteResult, error)

	Grant(ctx context.Context, req model.GrantRequest) model.GrantOutcome
	Revoke(ctx context.Context, req grant.RevokeRequest) model.GrantOutcome
	EnqueueEvaluation(ctx context.Context, job queue.Job) (queue.Result, error)

	Ping(ctx context.Context) error
}

// Server wires HTTP routes for the business API.
type Server struct {
	deps          Dependencies
	statsHandler  *StatsHandler
	healthHandler *HealthHandler
	// dryRun is applied to mutating requests that do not set dry_run.
	dryRun bool
}

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithDefaultDryRun sets the dry-run mode for requests that omit dry_run.
func WithDefaultDryRun(dryRun bool) Option {
	return func(s *Server) {
		s.dryRun = dryRun
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{
		deps:          deps,
		statsHandler:  NewStatsHandler(statsProvider),
		healthHandler: NewHealthHandler(deps),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("GET /members/{id}/eligibility", MetricsMiddleware(s.handleEligibility, "eligibility"))
	mux.HandleFunc("GET /members/{id}/decisions", MetricsMiddleware(s.handleDecisions, "decisions"))
	mux.HandleFunc("PUT /members/{id}", MetricsMiddleware(s.handleSyncMember, "members"))
	mux.HandleFunc("POST /members/{id}/badges", MetricsMiddleware(s.handleAddBadges, "badges"))
	mux.HandleFunc("POST /verify", MetricsMiddleware(s.handleVerify, "verify"))

	mux.HandleFunc("POST /nominations", MetricsMiddleware(s.handleNominate, "nominations"))
	mux.HandleFunc("POST /nominations/{id}/votes", MetricsMiddleware(s.handleVote, "votes"))
	mux.HandleFunc("POST /nominations/{id}/refresh", MetricsMiddleware(s.handleRefresh, "refresh"))

	mux.HandleFunc("POST /grants", MetricsMiddleware(s.handleGrant, "grants"))
	mux.HandleFunc("POST /revocations", MetricsMiddleware(s.handleRevoke, "revocations"))
	mux.HandleFunc("POST /evaluations", MetricsMiddleware(s.handleEvaluation, "evaluations"))
}

func (s *Server) dryRunOr(v *bool) bool {
	if v == nil {
		return s.dryRun
	}
	return *v
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure classifies err with the domain taxonomy.
func writeFailure(w http.ResponseWriter, err error) {
	status := model.StatusOf(err)
	if errors.Is(err, queue.ErrFull) {
		status = http.StatusTooManyRequests
	}
	writeError(w, status, errorCode(status), err)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}
