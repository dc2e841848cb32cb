package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// PostgresStore is a Store backed by PostgreSQL: per-key transactional
// advisory locks serialize writes without a process-wide mutex, and
// pgx.Identifier.Sanitize keeps the configurable schema name
// injection-safe.
//
// PostgresStore does not own the pool; Close is a no-op.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// Option configures PostgresStore behavior.
type Option func(*PostgresStore) error

// WithSchema sets the schema used by this store (default "scoreboard").
func WithSchema(schema string) Option {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("store: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("store: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...Option) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "scoreboard"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("store: nil pool")
	}
	return st, nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(v string) bool { return pgIdentRE.MatchString(v) }

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

func (s *PostgresStore) tables() (scoreRecords, actionLog, clockState string) {
	return pgIdent(s.schema, "score_records"),
		pgIdent(s.schema, "action_log"),
		pgIdent(s.schema, "clock_state")
}

func (s *PostgresStore) CreateIdentity(ctx context.Context, identity string) error {
	scoreRecords, _, _ := s.tables()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+scoreRecords+` (identity, score, last_updated)
		 VALUES ($1, 0, clock_timestamp())
		 ON CONFLICT (identity) DO NOTHING`,
		identity,
	)
	return err
}

// Increment mutates the score and inserts the ActionLogEntry within one
// transaction, serialized per-identity via pg_advisory_xact_lock and using a
// second advisory lock to serialize logical-clock advancement so
// last_updated is strictly increasing across the whole table (required by
// the tie-break rule).
func (s *PostgresStore) Increment(ctx context.Context, identity string, delta int64, entry ActionLogEntry) (int64, time.Time, error) {
	scoreRecords, actionLog, clockState := s.tables()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return 0, time.Time{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, identity); err != nil {
		return 0, time.Time{}, fmt.Errorf("identity advisory lock: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM `+scoreRecords+` WHERE identity = $1 FOR UPDATE)`,
		identity,
	).Scan(&exists); err != nil {
		return 0, time.Time{}, err
	}
	if !exists {
		return 0, time.Time{}, ErrUnknownIdentity
	}

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended('scoreboard_clock', 1))`); err != nil {
		return 0, time.Time{}, fmt.Errorf("clock advisory lock: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+clockState+` (id, last_ts) VALUES (1, clock_timestamp())
		 ON CONFLICT (id) DO NOTHING`,
	); err != nil {
		return 0, time.Time{}, err
	}

	var ts time.Time
	if err := tx.QueryRow(ctx,
		`UPDATE `+clockState+`
		    SET last_ts = GREATEST(clock_timestamp(), last_ts + interval '1 microsecond')
		  WHERE id = 1
		RETURNING last_ts`,
	).Scan(&ts); err != nil {
		return 0, time.Time{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+actionLog+` (nonce, identity, increment, issued_at, accepted_at, source_address)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.Nonce, entry.Identity, entry.Increment, entry.IssuedAt, entry.AcceptedAt, entry.SourceAddress,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, time.Time{}, ErrDuplicateNonce
		}
		return 0, time.Time{}, fmt.Errorf("insert action log: %w", err)
	}

	var newScore int64
	if err := tx.QueryRow(ctx,
		`UPDATE `+scoreRecords+`
		    SET score = score + $1,
		        last_updated = $2
		  WHERE identity = $3
		RETURNING score`,
		delta, ts, identity,
	).Scan(&newScore); err != nil {
		return 0, time.Time{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, time.Time{}, err
	}
	return newScore, ts, nil
}

func (s *PostgresStore) GetScore(ctx context.Context, identity string) (ScoreRecord, bool, error) {
	scoreRecords, _, _ := s.tables()
	var rec ScoreRecord
	rec.Identity = identity
	err := s.pool.QueryRow(ctx,
		`SELECT score, last_updated FROM `+scoreRecords+` WHERE identity = $1`,
		identity,
	).Scan(&rec.Score, &rec.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return ScoreRecord{}, false, nil
	}
	if err != nil {
		return ScoreRecord{}, false, err
	}
	return rec, true, nil
}

func (s *PostgresStore) GetTopK(ctx context.Context, k int) ([]ScoreRecord, error) {
	scoreRecords, _, _ := s.tables()
	rows, err := s.pool.Query(ctx,
		`SELECT identity, score, last_updated FROM `+scoreRecords+`
		  ORDER BY score DESC, last_updated ASC
		  LIMIT $1`,
		k,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ScoreRecord, 0, k)
	for rows.Next() {
		var rec ScoreRecord
		if err := rows.Scan(&rec.Identity, &rec.Score, &rec.LastUpdated); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) HasNonce(ctx context.Context, nonce string) (bool, error) {
	_, actionLog, _ := s.tables()
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM `+actionLog+` WHERE nonce = $1)`,
		nonce,
	).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) CountIdentities(ctx context.Context) (int64, error) {
	scoreRecords, _, _ := s.tables()
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+scoreRecords).Scan(&n)
	return n, err
}

func (s *PostgresStore) RankCount(ctx context.Context, score int64, lastUpdated time.Time) (int64, error) {
	scoreRecords, _, _ := s.tables()
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+scoreRecords+`
		  WHERE score > $1 OR (score = $1 AND last_updated < $2)`,
		score, lastUpdated,
	).Scan(&n)
	return n, err
}
