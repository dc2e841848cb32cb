package httpapi

import (
	"net/http"
	"strings"
	"time"

	"scoreboard/internal/verifier"
)

const maxUpdateBodyBytes = 2 << 10

// handleGetScoreboard serves GET /scoreboard: the top-K ranking, unauthenticated.
func (s *Server) handleGetScoreboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ranking, err := s.engine.Top(r.Context(), s.cfg.K)
	if err != nil {
		writeAPIError(w, "scoreboard.top", err)
		return
	}
	total, err := s.engine.TotalUsers(r.Context())
	if err != nil {
		writeAPIError(w, "scoreboard.top", err)
		return
	}

	lastUpdated := time.Time{}
	if len(ranking) > 0 {
		lastUpdated = ranking[0].LastUpdated
	}

	writeData(w, http.StatusOK, map[string]any{
		"scoreboard":  ranking,
		"totalUsers":  total,
		"lastUpdated": lastUpdated,
	})
}

type generateActionRequest struct {
	Increment int64 `json:"increment"`
}

// handleGenerateAction serves POST /scoreboard/generate-action: issues a
// fresh ActionToken bound to the caller's requested increment.
func (s *Server) handleGenerateAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req generateActionRequest
	if err := decodeJSON(w, r, maxUpdateBodyBytes, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "MISSING_FIELDS", "invalid request body", 0)
		return
	}

	tok, err := s.verifier.Issue(req.Increment)
	if err != nil {
		writeAPIError(w, "scoreboard.generate_action", err)
		return
	}

	writeData(w, http.StatusOK, tok)
}

type updateRequest struct {
	Nonce     string    `json:"nonce"`
	Increment int64     `json:"increment"`
	IssuedAt  time.Time `json:"issued_at"`
	MAC       string    `json:"mac"`
}

// handleUpdate serves POST /scoreboard/update: the write path, delegating
// verification, persistence, cache refill, and broadcast to ScoreEngine.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	p, ok := principalFrom(r)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "INVALID_TOKEN", "missing principal", 0)
		return
	}

	var req updateRequest
	if err := decodeJSON(w, r, maxUpdateBodyBytes, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "MISSING_FIELDS", "invalid request body", 0)
		return
	}

	tok := verifier.ActionToken{
		Nonce:     req.Nonce,
		Increment: req.Increment,
		IssuedAt:  req.IssuedAt,
		MAC:       req.MAC,
	}

	result, err := s.engine.Apply(r.Context(), p.Identity, tok, clientAddr(r))
	if err != nil {
		writeAPIError(w, "scoreboard.update", err)
		return
	}

	writeData(w, http.StatusOK, map[string]any{
		"identity":  p.Identity,
		"new_score": result.NewScore,
		"rank":      result.Rank,
	})
}

// handleUserRank serves GET /scoreboard/user/:identity.
func (s *Server) handleUserRank(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	identity := strings.TrimPrefix(r.URL.Path, "/scoreboard/user/")
	if identity == "" {
		writeErr(w, http.StatusBadRequest, "MISSING_FIELDS", "identity path segment is required", 0)
		return
	}

	p, ok := principalFrom(r)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "INVALID_TOKEN", "missing principal", 0)
		return
	}
	_ = p // any authenticated caller may query any identity's public rank

	ur, err := s.engine.UserRank(r.Context(), identity)
	if err != nil {
		writeAPIError(w, "scoreboard.user_rank", err)
		return
	}

	username, err := s.usernames.Username(r.Context(), identity)
	if err != nil {
		s.log.Warn("httpapi.user_rank.username_lookup_failed", "identity", identity, "err", err)
	}

	writeData(w, http.StatusOK, map[string]any{
		"identity":   identity,
		"username":   username,
		"score":      ur.Score,
		"rank":       ur.Rank,
		"totalUsers": ur.Total,
	})
}
