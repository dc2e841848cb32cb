package httpapi

import (
	"net/http"
	"time"

	"scoreboard/internal/cache"
)

// requireAdminRateLimit enforces rl:admin:<identity> ahead of the wrapped
// handler; requireBearer must run first so a principal is on the context.
func (s *Server) requireAdminRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalFrom(r)
		if !ok {
			writeErr(w, http.StatusUnauthorized, "INVALID_TOKEN", "missing principal", 0)
			return
		}
		if err := s.verifier.CheckAdminRateLimit(r.Context(), p.Identity); err != nil {
			writeAPIError(w, "admin", err)
			return
		}
		next(w, r)
	}
}

// handleHealth serves GET /health: aggregate status, no auth required.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	stats := s.cache.Stats()
	writeData(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"subscribers": s.broadcast.Count(),
		"cache": map[string]any{
			"status":      "ok",
			"hitRate":     stats.HitRate,
			"memoryUsage": stats.L1Entries,
		},
	})
}

// handleCacheStats serves GET /cache/stats: bearer + admin rate limit.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeData(w, http.StatusOK, s.cache.Stats())
}

// handleCacheWarm serves POST /cache/warm: pre-populates top:K and
// total:users so the next reads are cache hits.
func (s *Server) handleCacheWarm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	ctx := r.Context()
	itemsCached := 0

	if _, err := s.engine.Top(ctx, s.cfg.K); err != nil {
		s.log.Warn("httpapi.cache_warm.top_failed", "err", err)
	} else {
		itemsCached++
	}
	if _, err := s.engine.TotalUsers(ctx); err != nil {
		s.log.Warn("httpapi.cache_warm.total_users_failed", "err", err)
	} else {
		itemsCached++
	}

	writeData(w, http.StatusOK, map[string]any{
		"itemsCached": itemsCached,
		"duration":    time.Since(start).String(),
	})
}

// handleCacheClear serves DELETE /cache/clear: drops top:K and total:users.
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.cache.Clear(r.Context(), cache.TopKKey(s.cfg.K), cache.TotalUsersKey())
	writeData(w, http.StatusOK, map[string]any{"cleared": true})
}
