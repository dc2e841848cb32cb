package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless a database is configured and reachable.
	ReadinessRequireDB bool

	// K is the ranking surface size (top-K).
	K int

	// MaxIncrement bounds a single action token's increment.
	MaxIncrement int

	// FreshnessWindow (W_fresh) bounds how long an issued action token is accepted.
	FreshnessWindow time.Duration
	// NonceGrace extends the nonce-seen marker beyond FreshnessWindow.
	NonceGrace time.Duration

	// RateLimitScoreMax / RateLimitScoreWindow govern rl:score:<identity>.
	RateLimitScoreMax    int
	RateLimitScoreWindow time.Duration
	// RateLimitAuthMax / RateLimitAuthWindow govern rl:auth:<addr>.
	RateLimitAuthMax    int
	RateLimitAuthWindow time.Duration
	// RateLimitAdminMax / RateLimitAdminWindow govern rl:admin:<identity>.
	RateLimitAdminMax    int
	RateLimitAdminWindow time.Duration

	// CacheL1TopKTTL / CacheL2TopKTTL bound the top:K cache entry.
	CacheL1TopKTTL time.Duration
	CacheL2TopKTTL time.Duration
	// CacheScoreTTL bounds the score:<identity> cache entry (shared L1/L2).
	CacheScoreTTL time.Duration

	// SubscriberBufferCapacity bounds a Broadcaster subscriber's outbound queue.
	SubscriberBufferCapacity int

	// SubscriberWriteTimeout bounds each WebSocket write. StoreTimeout and
	// L2Timeout are loaded from the environment but are not applied to store
	// or L2 calls.
	StoreTimeout           time.Duration
	L2Timeout              time.Duration
	SubscriberWriteTimeout time.Duration

	// HMACKey signs ActionTokens (server secret). Injected configuration, never a global.
	HMACKey string

	// BearerSecret signs identity access tokens.
	BearerSecret string
}

// LoadConfig loads Config from environment variables, falling back to
// documented defaults for anything unset.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("SCOREBOARD_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("SCOREBOARD_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("SCOREBOARD_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("SCOREBOARD_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("SCOREBOARD_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("SCOREBOARD_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("SCOREBOARD_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("SCOREBOARD_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("SCOREBOARD_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("SCOREBOARD_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("SCOREBOARD_READINESS_REQUIRE_DB", false),

		K:            EnvInt("SCOREBOARD_K", 10),
		MaxIncrement: EnvInt("SCOREBOARD_MAX_INCREMENT", 1000),

		FreshnessWindow: EnvDuration("SCOREBOARD_W_FRESH", 5*time.Minute),
		NonceGrace:      EnvDuration("SCOREBOARD_NONCE_GRACE", 1*time.Minute),

		RateLimitScoreMax:    EnvInt("SCOREBOARD_RL_SCORE_MAX", 10),
		RateLimitScoreWindow: EnvDuration("SCOREBOARD_RL_SCORE_WINDOW", 60*time.Second),
		RateLimitAuthMax:     EnvInt("SCOREBOARD_RL_AUTH_MAX", 20),
		RateLimitAuthWindow:  EnvDuration("SCOREBOARD_RL_AUTH_WINDOW", 60*time.Second),
		RateLimitAdminMax:    EnvInt("SCOREBOARD_RL_ADMIN_MAX", 30),
		RateLimitAdminWindow: EnvDuration("SCOREBOARD_RL_ADMIN_WINDOW", 60*time.Second),

		CacheL1TopKTTL: EnvDuration("SCOREBOARD_CACHE_L1_TOPK_TTL", 1*time.Second),
		CacheL2TopKTTL: EnvDuration("SCOREBOARD_CACHE_L2_TOPK_TTL", 30*time.Second),
		CacheScoreTTL:  EnvDuration("SCOREBOARD_CACHE_SCORE_TTL", 5*time.Minute),

		SubscriberBufferCapacity: EnvInt("SCOREBOARD_WS_SEND_QUEUE", 64),

		StoreTimeout:           EnvDuration("SCOREBOARD_STORE_TIMEOUT", 2*time.Second),
		L2Timeout:              EnvDuration("SCOREBOARD_L2_TIMEOUT", 500*time.Millisecond),
		SubscriberWriteTimeout: EnvDuration("SCOREBOARD_WS_WRITE_TIMEOUT", 100*time.Millisecond),

		HMACKey:      EnvString("SCOREBOARD_HMAC_KEY", ""),
		BearerSecret: EnvString("SCOREBOARD_JWT_SECRET", ""),
	}
}
