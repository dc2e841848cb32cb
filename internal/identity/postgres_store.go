package identity

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// PostgresStore is a Store backed by PostgreSQL, using schema-qualified
// table access so multiple deployments can share one database.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// Option configures PostgresStore behavior.
type Option func(*PostgresStore) error

var identPGIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the schema used by this store (default "scoreboard").
func WithSchema(schema string) Option {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("identity: empty schema")
		}
		if !identPGIdentRE.MatchString(schema) {
			return errors.New("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...Option) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("identity: nil pool")
	}
	s := &PostgresStore{pool: pool, schema: "scoreboard"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *PostgresStore) identities() string {
	return pgx.Identifier{s.schema, "identities"}.Sanitize()
}

func (s *PostgresStore) CreateUser(ctx context.Context, u User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.identities()+` (identity, username, email, credential_hash)
		 VALUES ($1, $2, $3, $4)`,
		u.Identity, NormalizeUsername(u.Username), NormalizeEmail(u.Email), u.PasswordHash,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			field := "email"
			if pgErr.ConstraintName != "" && strings.Contains(pgErr.ConstraintName, "username") {
				field = "username"
			}
			return ConflictError{Field: field}
		}
		return err
	}
	return nil
}

func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (User, bool, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT identity, username, email, credential_hash FROM `+s.identities()+` WHERE email = $1`,
		NormalizeEmail(email),
	).Scan(&u.Identity, &u.Username, &u.Email, &u.PasswordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	return u, true, nil
}

func (s *PostgresStore) GetByIdentity(ctx context.Context, identity string) (User, bool, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT identity, username, email, credential_hash FROM `+s.identities()+` WHERE identity = $1`,
		identity,
	).Scan(&u.Identity, &u.Username, &u.Email, &u.PasswordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	return u, true, nil
}
