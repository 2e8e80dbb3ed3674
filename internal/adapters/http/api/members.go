package api

import (
	"net/http"
	"strconv"
	"strings"

	service "github.com/okian/ascent/internal/app"
	"github.com/okian/ascent/internal/domain/model"
)

// handleEligibility handles GET /members/{id}/eligibility. The optional
// role query parameter evaluates one named role instead of resolving the
// highest.
func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rep, err := s.deps.Eligibility(r.Context(), q.Get("guild_id"), r.PathValue("id"), q.Get("role"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleDecisions handles GET /members/{id}/decisions.
func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
			return
		}
		limit = n
	}
	ds, err := s.deps.Decisions(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

type verifyRequest struct {
	GuildID    string `json:"guild_id"`
	MemberID   string `json:"member_id"`
	AccountKey string `json:"account_key"`
	DryRun     *bool  `json:"dry_run"`
}

// handleVerify handles POST /verify with a proven account claim.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	res, err := s.deps.Verify(r.Context(), service.VerifyRequest{
		GuildID:    req.GuildID,
		MemberID:   strings.TrimSpace(req.MemberID),
		AccountKey: strings.TrimSpace(req.AccountKey),
		DryRun:     s.dryRunOr(req.DryRun),
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	status := http.StatusOK
	if res.Grant != nil && !res.Grant.Success {
		status = res.Grant.Status
	}
	writeJSON(w, status, res)
}

// handleSyncMember handles PUT /members/{id} with the member's current
// snapshot from the chat platform.
func (s *Server) handleSyncMember(w http.ResponseWriter, r *http.Request) {
	var m model.Member
	if err := decode(r, &m); err != nil {
		writeFailure(w, err)
		return
	}
	m.DiscordID = r.PathValue("id")
	if err := s.deps.SyncMember(r.Context(), &m); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type badgesRequest struct {
	Badges []model.Badge `json:"badges"`
}

// handleAddBadges handles POST /members/{id}/badges.
func (s *Server) handleAddBadges(w http.ResponseWriter, r *http.Request) {
	var req badgesRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	if err := s.deps.AddBadges(r.Context(), r.PathValue("id"), req.Badges...); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}
