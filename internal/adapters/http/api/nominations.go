package api

import (
	"errors"
	"net/http"

	"github.com/okian/ascent/internal/domain/model"
	"github.com/okian/ascent/internal/domain/voting"
)

// handleNominate handles POST /nominations.
func (s *Server) handleNominate(w http.ResponseWriter, r *http.Request) {
	var req voting.NominateRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	thread, err := s.deps.Nominate(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, thread)
}

type voteRequest struct {
	GuildID string `json:"guild_id"`
	VoterID string `json:"voter_id"`
	DryRun  *bool  `json:"dry_run"`
}

type refreshRequest struct {
	DryRun *bool `json:"dry_run"`
}

// voteResponse carries the thread state even when the vote was refused.
type voteResponse struct {
	voting.VoteResult
	Error string `json:"error,omitempty"`
}

// handleVote handles POST /nominations/{id}/votes.
func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	res, err := s.deps.Vote(r.Context(), voting.VoteRequest{
		GuildID:  req.GuildID,
		ThreadID: r.PathValue("id"),
		VoterID:  req.VoterID,
		DryRun:   s.dryRunOr(req.DryRun),
	})
	writeVoteResult(w, res, err)
}

// handleRefresh handles POST /nominations/{id}/refresh.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeFailure(w, err)
			return
		}
	}
	res, err := s.deps.Refresh(r.Context(), r.PathValue("id"), s.dryRunOr(req.DryRun))
	writeVoteResult(w, res, err)
}

func writeVoteResult(w http.ResponseWriter, res voting.VoteResult, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, voteResponse{VoteResult: res})
		return
	}
	if errors.Is(err, model.ErrAlreadyVoted) || errors.Is(err, model.ErrThreadClosed) {
		writeJSON(w, http.StatusConflict, voteResponse{VoteResult: res, Error: err.Error()})
		return
	}
	writeFailure(w, err)
}
