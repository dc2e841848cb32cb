package verifier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"scoreboard/internal/cache"
	"scoreboard/internal/errs"
)

// Config holds ActionVerifier tuning, all overridable per deployment
// (see internal/app.Config for the environment-variable bindings).
type Config struct {
	HMACKey      []byte
	MaxIncrement int64

	FreshnessWindow time.Duration // W_fresh
	NonceGrace      time.Duration // extends the nonce:seen marker past W_fresh

	RateLimitScoreMax    int
	RateLimitScoreWindow time.Duration
	RateLimitAuthMax     int
	RateLimitAuthWindow  time.Duration
	RateLimitAdminMax    int
	RateLimitAdminWindow time.Duration
}

// BearerVerifier delegates bearer-credential verification to the identity
// collaborator: a pure function from token to principal.
type BearerVerifier interface {
	VerifyBearer(ctx context.Context, token string) (identity string, username string, err error)
}

// Recorder receives per-outcome admission counters. Satisfied by
// *metrics.Metrics; nil is a valid Verifier value (no metrics recorded).
type Recorder interface {
	IncAdmission(outcome string)
}

// Verifier is the ActionVerifier component.
type Verifier struct {
	log    *slog.Logger
	cfg    Config
	cache  *cache.Cache
	bearer BearerVerifier
	rec    Recorder
}

// New constructs a Verifier. rec may be nil.
func New(log *slog.Logger, cfg Config, c *cache.Cache, bearer BearerVerifier, rec Recorder) *Verifier {
	return &Verifier{log: log, cfg: cfg, cache: c, bearer: bearer, rec: rec}
}

func (v *Verifier) record(outcome string) {
	if v.rec != nil {
		v.rec.IncAdmission(outcome)
	}
}

var errInvalidIncrement = errs.OpError{Op: "verifier.Issue", Kind: errs.ErrInvalidIncrement}

// VerifyBearer delegates to the identity collaborator.
func (v *Verifier) VerifyBearer(ctx context.Context, token string) (string, string, error) {
	identity, username, err := v.bearer.VerifyBearer(ctx, token)
	if err != nil {
		return "", "", errs.OpError{Op: "verifier.VerifyBearer", Kind: errs.ErrInvalidToken, Msg: err.Error()}
	}
	return identity, username, nil
}

// Verify runs the five ordered checks from the component contract,
// short-circuiting on the first failure. A true nonce-novelty rejection
// here is a best-effort optimization only; the store transaction remains
// the authoritative duplicate check.
func (v *Verifier) Verify(ctx context.Context, identity string, tok ActionToken) error {
	const op = "verifier.Verify"

	// 1. Shape.
	if tok.Nonce == "" || tok.MAC == "" || tok.IssuedAt.IsZero() {
		v.record("missing_fields")
		return errs.OpError{Op: op, Kind: errs.ErrMissingFields}
	}
	if tok.Increment < 1 || tok.Increment > v.cfg.MaxIncrement {
		v.record("invalid_increment")
		return errs.OpError{Op: op, Kind: errs.ErrInvalidIncrement}
	}

	// 2. MAC (constant-time).
	if !verifyMAC(v.cfg.HMACKey, tok) {
		v.record("invalid_action_hash")
		return errs.OpError{Op: op, Kind: errs.ErrInvalidActionHash, Msg: "mac mismatch"}
	}

	// 3. Freshness.
	if age := absDuration(time.Since(tok.IssuedAt)); age > v.cfg.FreshnessWindow {
		v.record("invalid_action_hash")
		return errs.OpError{Op: op, Kind: errs.ErrInvalidActionHash, Msg: "stale issued_at"}
	}

	// 4. Rate limit: rl:score:<identity>.
	n, err := v.cache.Incr(ctx, cache.RateLimitKey("score", identity), v.cfg.RateLimitScoreWindow)
	if err != nil {
		v.log.Warn("verifier.rate_limit_check_failed", "identity", identity, "err", err)
	} else if n > int64(v.cfg.RateLimitScoreMax) {
		v.record("rate_limited")
		return errs.RateLimitedError{Op: op, RetryAfter: v.cfg.RateLimitScoreWindow.Seconds()}
	}

	// 5. Nonce novelty fast path (best-effort; store is authoritative).
	if v.cache.Seen(ctx, cache.NonceSeenKey(tok.Nonce)) {
		v.record("duplicate_action")
		return errs.OpError{Op: op, Kind: errs.ErrDuplicateAction, Msg: "nonce already seen"}
	}

	v.record("accepted")
	return nil
}

// CheckAuthRateLimit enforces rl:auth:<addr> for authentication attempts.
func (v *Verifier) CheckAuthRateLimit(ctx context.Context, addr string) error {
	n, err := v.cache.Incr(ctx, cache.RateLimitKey("auth", addr), v.cfg.RateLimitAuthWindow)
	if err != nil {
		v.log.Warn("verifier.auth_rate_limit_check_failed", "addr", addr, "err", err)
		return nil
	}
	if n > int64(v.cfg.RateLimitAuthMax) {
		return errs.RateLimitedError{Op: "verifier.CheckAuthRateLimit", RetryAfter: v.cfg.RateLimitAuthWindow.Seconds()}
	}
	return nil
}

// CheckAdminRateLimit enforces rl:admin:<identity> for administrative ops
// (/cache/stats, /cache/warm, /cache/clear).
func (v *Verifier) CheckAdminRateLimit(ctx context.Context, identity string) error {
	n, err := v.cache.Incr(ctx, cache.RateLimitKey("admin", identity), v.cfg.RateLimitAdminWindow)
	if err != nil {
		v.log.Warn("verifier.admin_rate_limit_check_failed", "identity", identity, "err", err)
		return nil
	}
	if n > int64(v.cfg.RateLimitAdminMax) {
		return errs.RateLimitedError{Op: "verifier.CheckAdminRateLimit", RetryAfter: v.cfg.RateLimitAdminWindow.Seconds()}
	}
	return nil
}

// MarkAccepted records the nonce as seen with TTL = W_fresh + grace, called
// by ScoreEngine after the store commit succeeds.
func (v *Verifier) MarkAccepted(ctx context.Context, nonce string) error {
	ttl := v.cfg.FreshnessWindow + v.cfg.NonceGrace
	if err := v.cache.MarkSeen(ctx, cache.NonceSeenKey(nonce), ttl); err != nil {
		return fmt.Errorf("mark nonce seen: %w", err)
	}
	return nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
