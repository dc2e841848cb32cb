package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"scoreboard/internal/broadcaster"
	"scoreboard/internal/cache"
	"scoreboard/internal/httpapi"
	"scoreboard/internal/identity"
	"scoreboard/internal/metrics"
	"scoreboard/internal/scoreengine"
	"scoreboard/internal/store"
	"scoreboard/internal/verifier"
)

// closer is a small app-level lifecycle abstraction so DB-backed resources
// can be released gracefully.
type closer interface {
	Close(ctx context.Context) error
}

type nopCloser struct{}

func (nopCloser) Close(_ context.Context) error { return nil }

type poolCloser struct{ pool *pgxpool.Pool }

func (c poolCloser) Close(_ context.Context) error {
	if c.pool != nil {
		c.pool.Close()
	}
	return nil
}

// App is the scoreboard server runtime: it owns HTTP server wiring and every
// component's constructed instance.
type App struct {
	cfg Config
	log Logger

	closer closer

	dbPool    *pgxpool.Pool
	dbEnabled bool

	server *httpapi.Server
}

// New constructs a fully wired App instance from config and logger, choosing
// between the Postgres-backed and in-memory backends per cfg.DatabaseURL.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}
	if cfg.HMACKey == "" || cfg.BearerSecret == "" {
		return nil, errors.New("app: SCOREBOARD_HMAC_KEY and SCOREBOARD_JWT_SECRET are required")
	}

	ctx := context.Background()

	var (
		st        store.Store
		idStore   identity.Store
		l2        cache.L2
		dbPool    *pgxpool.Pool
		dbEnabled bool
		cl        closer = nopCloser{}
	)

	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		st = store.NewMemoryStore()
		idStore = identity.NewMemoryStore()
		l2 = cache.NewMemoryL2()
	} else {
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		log.Info("db.enabled.postgres_store")

		pgStore, err := store.NewPostgresStore(pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		pgIdentity, err := identity.NewPostgresStore(pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		pgL2, err := cache.NewPostgresL2(pool)
		if err != nil {
			pool.Close()
			return nil, err
		}

		st, idStore, l2 = pgStore, pgIdentity, pgL2
		dbPool, dbEnabled = pool, true
		cl = poolCloser{pool: pool}
	}

	m := metrics.New()
	c := cache.New(log, l2, m)

	idSvc, err := identity.New(log, idStore, identity.Config{
		HMACSecret: []byte(cfg.BearerSecret),
		Argon2:     identity.DefaultArgon2Params(),
	})
	if err != nil {
		return nil, err
	}

	v := verifier.New(log, verifier.Config{
		HMACKey:              []byte(cfg.HMACKey),
		MaxIncrement:         int64(cfg.MaxIncrement),
		FreshnessWindow:      cfg.FreshnessWindow,
		NonceGrace:           cfg.NonceGrace,
		RateLimitScoreMax:    cfg.RateLimitScoreMax,
		RateLimitScoreWindow: cfg.RateLimitScoreWindow,
		RateLimitAuthMax:     cfg.RateLimitAuthMax,
		RateLimitAuthWindow:  cfg.RateLimitAuthWindow,
		RateLimitAdminMax:    cfg.RateLimitAdminMax,
		RateLimitAdminWindow: cfg.RateLimitAdminWindow,
	}, c, idSvc, m)

	b := broadcaster.New(log, broadcaster.Config{BufferCapacity: cfg.SubscriberBufferCapacity}, m)
	gw := broadcaster.NewGateway(log, b, broadcaster.GatewayConfig{
		WriteTimeout:   cfg.SubscriberWriteTimeout,
		OriginRequired: false,
		AllowedOrigins: []string{"*"},
	})

	engine := scoreengine.New(log, scoreengine.Config{
		K:             cfg.K,
		TopKTTL:       cfg.CacheL2TopKTTL,
		TopKL1TTL:     cfg.CacheL1TopKTTL,
		ScoreTTL:      cfg.CacheScoreTTL,
		TotalUsersTTL: cfg.CacheScoreTTL,
	}, st, c, v, b, idSvc, m)

	server := httpapi.New(log, httpapi.Config{K: cfg.K}, idSvc, st, c, v, engine, b, gw, idSvc, m)

	return &App{
		cfg:       cfg,
		log:       log,
		closer:    cl,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		server:    server,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or a
// fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.server)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.closer.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
