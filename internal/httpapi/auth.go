package httpapi

import (
	"context"
	"net/http"
	"time"

	"scoreboard/internal/broadcaster"
	"scoreboard/internal/errs"
)

const maxAuthBodyBytes = 4 << 10

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userView struct {
	Identity string `json:"identity"`
	Username string `json:"username"`
}

// handleRegister creates an identity, provisions its zero ScoreRecord, and
// triggers a Broadcaster.emit of the refreshed ranking before returning the
// bearer token.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := s.verifier.CheckAuthRateLimit(r.Context(), clientAddr(r)); err != nil {
		writeAPIError(w, "register", err)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, maxAuthBodyBytes, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "MISSING_FIELDS", "invalid request body", 0)
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		writeErr(w, http.StatusBadRequest, "MISSING_FIELDS", "username, email, and password are required", 0)
		return
	}

	ctx := r.Context()
	identity, token, err := s.identity.Register(ctx, req.Username, req.Email, req.Password)
	if err != nil {
		writeAPIError(w, "register", err)
		return
	}

	if err := s.store.CreateIdentity(ctx, identity); err != nil {
		s.log.Warn("httpapi.register.create_score_record_failed", "identity", identity, "err", err)
	}

	s.emitRefreshedRanking(ctx)

	writeData(w, http.StatusCreated, map[string]any{
		"token": token,
		"user":  userView{Identity: identity, Username: req.Username},
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := s.verifier.CheckAuthRateLimit(r.Context(), clientAddr(r)); err != nil {
		writeAPIError(w, "login", err)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, maxAuthBodyBytes, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "MISSING_FIELDS", "invalid request body", 0)
		return
	}
	if req.Email == "" || req.Password == "" {
		writeErr(w, http.StatusBadRequest, "MISSING_FIELDS", "email and password are required", 0)
		return
	}

	token, err := s.identity.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errs.IsUserNotFound(err) {
			writeErr(w, http.StatusUnauthorized, "INVALID_TOKEN", "invalid email or password", 0)
			return
		}
		writeAPIError(w, "login", err)
		return
	}

	identity, username, err := s.identity.VerifyBearer(r.Context(), token)
	if err != nil {
		writeAPIError(w, "login", err)
		return
	}

	writeData(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  userView{Identity: identity, Username: username},
	})
}

// emitRefreshedRanking is used by /auth/register: cheap total-user-count
// refresh, not a ranking-driving mutation. Best-effort: failures are logged,
// never surfaced to the caller.
func (s *Server) emitRefreshedRanking(ctx context.Context) {
	ranking, err := s.engine.Top(ctx, s.cfg.K)
	if err != nil {
		s.log.Warn("httpapi.register.ranking_refresh_failed", "err", err)
		ranking = []broadcaster.RankingEntry{}
	}
	total, err := s.engine.TotalUsers(ctx)
	if err != nil {
		s.log.Warn("httpapi.register.total_users_failed", "err", err)
	}
	s.broadcast.Emit(ranking, total, time.Now().UTC())
}
