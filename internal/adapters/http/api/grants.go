package api

import (
	"net/http"
	"time"

	"github.com/okian/ascent/internal/adapters/mq/queue"
	"github.com/okian/ascent/internal/domain/grant"
	"github.com/okian/ascent/internal/domain/model"
)

type grantRequest struct {
	GuildID  string `json:"guild_id"`
	MemberID string `json:"member_id"`
	Role     string `json:"role"`
	Override bool   `json:"override"`
	DryRun   *bool  `json:"dry_run"`
}

// handleGrant handles POST /grants.
func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	out := s.deps.Grant(r.Context(), model.GrantRequest{
		GuildID:  req.GuildID,
		MemberID: req.MemberID,
		RoleName: req.Role,
		Override: req.Override,
		DryRun:   s.dryRunOr(req.DryRun),
		Action:   model.ActionGrant,
	})
	writeOutcome(w, out)
}

// handleRevoke handles POST /revocations.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	out := s.deps.Revoke(r.Context(), grant.RevokeRequest{
		GuildID:  req.GuildID,
		MemberID: req.MemberID,
		RoleName: req.Role,
		DryRun:   s.dryRunOr(req.DryRun),
	})
	writeOutcome(w, out)
}

func writeOutcome(w http.ResponseWriter, out model.GrantOutcome) {
	status := out.Status
	if status == 0 {
		status = http.StatusOK
		if !out.Success {
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, out)
}

type evaluationRequest struct {
	GuildID  string `json:"guild_id"`
	MemberID string `json:"member_id"`
	Reason   string `json:"reason"`
	DryRun   *bool  `json:"dry_run"`
}

type evaluationResponse struct {
	Status queue.Result `json:"status"`
}

// handleEvaluation handles POST /evaluations by queueing the member for an
// asynchronous evaluation and promotion.
func (s *Server) handleEvaluation(w http.ResponseWriter, r *http.Request) {
	var req evaluationRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	res, err := s.deps.EnqueueEvaluation(r.Context(), queue.Job{
		GuildID:    req.GuildID,
		MemberID:   req.MemberID,
		Reason:     req.Reason,
		DryRun:     s.dryRunOr(req.DryRun),
		EnqueuedAt: time.Now(),
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, evaluationResponse{Status: res})
}
