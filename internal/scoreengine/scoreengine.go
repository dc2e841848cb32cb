// Package scoreengine implements the ScoreEngine component: the write path
// that verifies an action, applies it to the store, and refills/broadcasts
// the ranking, plus the read paths for top-K and a single identity's rank.
package scoreengine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"scoreboard/internal/broadcaster"
	"scoreboard/internal/cache"
	"scoreboard/internal/errs"
	"scoreboard/internal/store"
	"scoreboard/internal/verifier"
)

// UsernameLookup resolves a display username for a ranking row. Backed by
// the identity collaborator's Store, kept as a narrow interface so this
// package does not depend on internal/identity directly.
type UsernameLookup interface {
	Username(ctx context.Context, identity string) (string, error)
}

// Recorder receives Apply's end-to-end latency. Satisfied by *metrics.Metrics;
// nil is a valid Engine value (no metrics recorded).
type Recorder interface {
	ObserveApply(start time.Time) func()
}

// Config controls K and cache TTLs used by the engine's own read paths.
type Config struct {
	K int

	// TopKTTL is the L2 (shared) TTL for the top:K key.
	TopKTTL time.Duration
	// TopKL1TTL is the L1 (process-local) TTL for the top:K key. It must be
	// kept small relative to TopKTTL so a reader that populates L1 just
	// before a concurrent write's invalidation stays stale for at most one
	// L1 TTL rather than a full L2 TTL.
	TopKL1TTL time.Duration

	ScoreTTL      time.Duration
	TotalUsersTTL time.Duration
}

// Result is the outcome of a successful apply.
type Result struct {
	NewScore int64
	Rank     int
}

// UserRank is the outcome of a successful user_rank query.
type UserRank struct {
	Score int64
	Rank  int
	Total int64
}

// Engine is the ScoreEngine component.
type Engine struct {
	log       *slog.Logger
	cfg       Config
	store     store.Store
	cache     *cache.Cache
	verifier  *verifier.Verifier
	broadcast *broadcaster.Broadcaster
	usernames UsernameLookup
	rec       Recorder
}

// New constructs an Engine. rec may be nil.
func New(log *slog.Logger, cfg Config, st store.Store, c *cache.Cache, v *verifier.Verifier, b *broadcaster.Broadcaster, usernames UsernameLookup, rec Recorder) *Engine {
	if cfg.K <= 0 {
		cfg.K = 10
	}
	if cfg.TopKL1TTL <= 0 {
		cfg.TopKL1TTL = time.Second
	}
	return &Engine{log: log, cfg: cfg, store: st, cache: c, verifier: v, broadcast: b, usernames: usernames, rec: rec}
}

// Apply verifies and applies a single increment action, refills the top-K
// cache, broadcasts the refreshed ranking, and returns the caller's new
// score and rank.
func (e *Engine) Apply(ctx context.Context, identity string, tok verifier.ActionToken, sourceAddress string) (Result, error) {
	const op = "scoreengine.apply"

	if e.rec != nil {
		defer e.rec.ObserveApply(time.Now())()
	}

	if err := e.verifier.Verify(ctx, identity, tok); err != nil {
		return Result{}, err
	}

	now := time.Now().UTC()
	entry := store.ActionLogEntry{
		Nonce:         tok.Nonce,
		Identity:      identity,
		Increment:     tok.Increment,
		IssuedAt:      tok.IssuedAt,
		AcceptedAt:    now,
		SourceAddress: sourceAddress,
	}

	newScore, lastUpdated, err := e.store.Increment(ctx, identity, tok.Increment, entry)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateNonce) {
			return Result{}, errs.OpError{Op: op, Kind: errs.ErrDuplicateAction, Msg: "nonce already accepted"}
		}
		if errors.Is(err, store.ErrUnknownIdentity) {
			return Result{}, errs.OpError{Op: op, Kind: errs.ErrUserNotFound}
		}
		return Result{}, errs.OpError{Op: op, Kind: errs.ErrBackendUnavailable, Msg: err.Error()}
	}

	// From here the write is authoritative regardless of what follows;
	// cache/broadcast failures are logged, never surfaced to the caller.
	if err := e.verifier.MarkAccepted(ctx, tok.Nonce); err != nil {
		e.log.Warn("scoreengine.mark_accepted_failed", "identity", identity, "err", err)
	}

	e.cache.Invalidate(ctx, cache.TopKKey(e.cfg.K), cache.ScoreKey(identity))

	ranking, refillErr := e.refillTopK(ctx)
	if refillErr != nil {
		e.log.Warn("scoreengine.refill_failed", "err", refillErr)
	}

	rank, rankErr := e.rankFor(ctx, identity, newScore, lastUpdated, ranking)
	if rankErr != nil {
		e.log.Warn("scoreengine.rank_compute_failed", "identity", identity, "err", rankErr)
	}

	total, err := e.totalUsers(ctx)
	if err != nil {
		e.log.Warn("scoreengine.total_users_failed", "err", err)
	}

	// Broadcaster is notified even if refill failed, so subscribers still
	// receive a signal to reconcile via their own top(K) request.
	e.broadcast.Emit(ranking, total, lastUpdated)

	return Result{NewScore: newScore, Rank: rank}, nil
}

// Top serves the top-K ranking from cache, bypassing cache entirely for a
// k that does not match the configured K.
func (e *Engine) Top(ctx context.Context, k int) ([]broadcaster.RankingEntry, error) {
	if k != e.cfg.K {
		recs, err := e.store.GetTopK(ctx, k)
		if err != nil {
			return nil, errs.OpError{Op: "scoreengine.top", Kind: errs.ErrBackendUnavailable, Msg: err.Error()}
		}
		return e.toRanking(ctx, recs), nil
	}

	raw, err := e.cache.GetOrLoad(ctx, cache.TopKKey(k), e.cfg.TopKL1TTL, e.cfg.TopKTTL, func(ctx context.Context) ([]byte, error) {
		recs, err := e.store.GetTopK(ctx, k)
		if err != nil {
			return nil, err
		}
		return json.Marshal(e.toRanking(ctx, recs))
	})
	if err != nil {
		return nil, errs.OpError{Op: "scoreengine.top", Kind: errs.ErrBackendUnavailable, Msg: err.Error()}
	}

	var ranking []broadcaster.RankingEntry
	if err := json.Unmarshal(raw, &ranking); err != nil {
		return nil, errs.OpError{Op: "scoreengine.top", Kind: errs.ErrInternal, Msg: err.Error()}
	}
	return ranking, nil
}

// UserRank answers { score, rank, total } for a single identity.
func (e *Engine) UserRank(ctx context.Context, identity string) (UserRank, error) {
	const op = "scoreengine.user_rank"

	raw, err := e.cache.GetOrLoad(ctx, cache.ScoreKey(identity), e.cfg.ScoreTTL, e.cfg.ScoreTTL, func(ctx context.Context) ([]byte, error) {
		rec, ok, err := e.store.GetScore(ctx, identity)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, store.ErrUnknownIdentity
		}
		return json.Marshal(rec)
	})
	if err != nil {
		if errors.Is(err, store.ErrUnknownIdentity) {
			return UserRank{}, errs.OpError{Op: op, Kind: errs.ErrUserNotFound}
		}
		return UserRank{}, errs.OpError{Op: op, Kind: errs.ErrBackendUnavailable, Msg: err.Error()}
	}

	var rec store.ScoreRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return UserRank{}, errs.OpError{Op: op, Kind: errs.ErrInternal, Msg: err.Error()}
	}

	rank, err := e.rankByCount(ctx, rec.Score, rec.LastUpdated)
	if err != nil {
		return UserRank{}, errs.OpError{Op: op, Kind: errs.ErrBackendUnavailable, Msg: err.Error()}
	}

	total, err := e.totalUsers(ctx)
	if err != nil {
		return UserRank{}, errs.OpError{Op: op, Kind: errs.ErrBackendUnavailable, Msg: err.Error()}
	}

	return UserRank{Score: rec.Score, Rank: rank, Total: total}, nil
}

// TotalUsers is the exported form of the cached identity-count lookup, used
// by the registration handler's cheap ranking-refresh broadcast.
func (e *Engine) TotalUsers(ctx context.Context) (int64, error) {
	return e.totalUsers(ctx)
}

func (e *Engine) refillTopK(ctx context.Context) ([]broadcaster.RankingEntry, error) {
	recs, err := e.store.GetTopK(ctx, e.cfg.K)
	if err != nil {
		return nil, err
	}
	ranking := e.toRanking(ctx, recs)

	encoded, err := json.Marshal(ranking)
	if err != nil {
		return ranking, err
	}
	e.cache.Set(ctx, cache.TopKKey(e.cfg.K), encoded, e.cfg.TopKL1TTL, e.cfg.TopKTTL)
	return ranking, nil
}

// rankFor uses the just-refilled ranking when the identity appears in it,
// otherwise falls back to a targeted rank-count query against the
// identity's own (score, last_updated) — the corrected tie-break comparand.
func (e *Engine) rankFor(ctx context.Context, identity string, score int64, lastUpdated time.Time, ranking []broadcaster.RankingEntry) (int, error) {
	for _, r := range ranking {
		if r.Identity == identity {
			return r.Rank, nil
		}
	}
	return e.rankByCount(ctx, score, lastUpdated)
}

func (e *Engine) rankByCount(ctx context.Context, score int64, lastUpdated time.Time) (int, error) {
	n, err := e.store.RankCount(ctx, score, lastUpdated)
	if err != nil {
		return 0, err
	}
	return int(n) + 1, nil
}

func (e *Engine) totalUsers(ctx context.Context) (int64, error) {
	raw, err := e.cache.GetOrLoad(ctx, cache.TotalUsersKey(), e.cfg.TotalUsersTTL, e.cfg.TotalUsersTTL, func(ctx context.Context) ([]byte, error) {
		n, err := e.store.CountIdentities(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(n)
	})
	if err != nil {
		return 0, err
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (e *Engine) toRanking(ctx context.Context, recs []store.ScoreRecord) []broadcaster.RankingEntry {
	out := make([]broadcaster.RankingEntry, 0, len(recs))
	for i, r := range recs {
		username := ""
		if e.usernames != nil {
			name, err := e.usernames.Username(ctx, r.Identity)
			if err != nil {
				e.log.Warn("scoreengine.username_lookup_failed", "identity", r.Identity, "err", err)
			} else {
				username = name
			}
		}
		out = append(out, broadcaster.RankingEntry{
			Rank:        i + 1,
			Identity:    r.Identity,
			Username:    username,
			Score:       r.Score,
			LastUpdated: r.LastUpdated,
		})
	}
	return out
}
