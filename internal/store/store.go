// Package store implements the scoreboard's durable Store component: the
// identity -> (score, last_updated) mapping and the append-only,
// nonce-keyed action log that backs replay suppression.
package store

import (
	"context"
	"errors"
	"time"
)

// ScoreRecord is the durable per-identity counter row.
type ScoreRecord struct {
	Identity    string
	Score       int64
	LastUpdated time.Time
}

// ActionLogEntry is the append-only duplicate-suppression ledger row.
type ActionLogEntry struct {
	Nonce         string
	Identity      string
	Increment     int64
	IssuedAt      time.Time
	AcceptedAt    time.Time
	SourceAddress string
}

// Sentinel errors returned by Increment; wrapped by internal/errs at the
// ScoreEngine boundary.
var (
	ErrDuplicateNonce = errors.New("store: duplicate nonce")
	ErrUnknownIdentity = errors.New("store: unknown identity")
)

// Store is the durable persistence contract. Implementations must serialize
// concurrent increments for the same identity and leave distinct identities
// free to proceed in parallel.
type Store interface {
	// CreateIdentity is idempotent; it initializes a ScoreRecord at 0 if one
	// does not already exist.
	CreateIdentity(ctx context.Context, identity string) error

	// Increment executes the score mutation and the ActionLogEntry insertion
	// in a single transaction. entry.Nonce/Identity/Increment/IssuedAt must be
	// pre-populated by the caller; AcceptedAt and SourceAddress are used as
	// given. Returns ErrDuplicateNonce or ErrUnknownIdentity on failure.
	Increment(ctx context.Context, identity string, delta int64, entry ActionLogEntry) (newScore int64, lastUpdated time.Time, err error)

	// GetScore returns the current record, or ok=false if none exists.
	GetScore(ctx context.Context, identity string) (rec ScoreRecord, ok bool, err error)

	// GetTopK returns up to k records ordered by (score DESC, last_updated ASC).
	GetTopK(ctx context.Context, k int) ([]ScoreRecord, error)

	// HasNonce is an existence probe with no side effect.
	HasNonce(ctx context.Context, nonce string) (bool, error)

	// CountIdentities returns the total number of provisioned identities.
	CountIdentities(ctx context.Context) (int64, error)

	// RankCount returns the number of records that would rank strictly above
	// a hypothetical record with the given score and last_updated, using the
	// tie-break rule (score DESC, last_updated ASC). The caller adds 1 to
	// obtain a 1-based rank.
	RankCount(ctx context.Context, score int64, lastUpdated time.Time) (int64, error)
}
