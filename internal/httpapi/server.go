package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"scoreboard/internal/broadcaster"
	"scoreboard/internal/cache"
	"scoreboard/internal/metrics"
	"scoreboard/internal/scoreengine"
	"scoreboard/internal/store"
	"scoreboard/internal/verifier"
)

// Identity is the subset of internal/identity.Service the HTTP layer needs.
type Identity interface {
	Register(ctx context.Context, username, email, credential string) (identity, token string, err error)
	Authenticate(ctx context.Context, email, credential string) (token string, err error)
	VerifyBearer(ctx context.Context, token string) (identity, username string, err error)
}

// Config controls Server-level bounds not already owned by a component.
type Config struct {
	K int
}

// Server wires every scoreboard component into the HTTP surface: one
// struct holding every collaborator, a Register(mux) method, and
// package-level json helpers shared by every handler.
type Server struct {
	log *slog.Logger
	cfg Config

	identity  Identity
	store     store.Store
	cache     *cache.Cache
	verifier  *verifier.Verifier
	engine    *scoreengine.Engine
	broadcast *broadcaster.Broadcaster
	gateway   *broadcaster.Gateway
	usernames scoreengine.UsernameLookup
	metrics   *metrics.Metrics
}

func New(
	log *slog.Logger,
	cfg Config,
	identity Identity,
	st store.Store,
	c *cache.Cache,
	v *verifier.Verifier,
	engine *scoreengine.Engine,
	b *broadcaster.Broadcaster,
	gw *broadcaster.Gateway,
	usernames scoreengine.UsernameLookup,
	m *metrics.Metrics,
) *Server {
	return &Server{
		log:       log,
		cfg:       cfg,
		identity:  identity,
		store:     st,
		cache:     c,
		verifier:  v,
		engine:    engine,
		broadcast: b,
		gateway:   gw,
		usernames: usernames,
		metrics:   m,
	}
}

// MetricsRegistry exposes the Prometheus registry so the caller can mount
// promhttp's handler outside Register (health/readiness probes and /metrics
// are process-lifecycle routes, not scoreboard routes).
func (s *Server) MetricsRegistry() *prometheus.Registry {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.Registry
}

// Register wires every route onto mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/auth/register", s.handleRegister)
	mux.HandleFunc("/auth/login", s.handleLogin)

	mux.HandleFunc("/scoreboard", s.handleGetScoreboard)
	mux.HandleFunc("/scoreboard/generate-action", s.requireBearer(s.handleGenerateAction))
	mux.HandleFunc("/scoreboard/update", s.requireBearer(s.handleUpdate))
	mux.HandleFunc("/scoreboard/user/", s.requireBearer(s.handleUserRank))

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/cache/stats", s.requireBearer(s.requireAdminRateLimit(s.handleCacheStats)))
	mux.HandleFunc("/cache/warm", s.requireBearer(s.requireAdminRateLimit(s.handleCacheWarm)))
	mux.HandleFunc("/cache/clear", s.requireBearer(s.requireAdminRateLimit(s.handleCacheClear)))

	mux.HandleFunc("/ws", s.gateway.ServeHTTP)
}
