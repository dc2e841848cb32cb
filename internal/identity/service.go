package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"scoreboard/internal/errs"
	"scoreboard/internal/idgen"
)

// Config controls the identity collaborator's cost/secret parameters.
type Config struct {
	HMACSecret []byte
	Argon2     Argon2Params
}

// Service ties the persistence Store together with password hashing and
// bearer-token issuance into the identity collaborator's three operations:
// register, authenticate, verify_bearer.
type Service struct {
	log   *slog.Logger
	store Store
	cfg   Config
	dummy string // precomputed hash checked against on unknown-email login, to keep timing uniform
}

func New(log *slog.Logger, store Store, cfg Config) (*Service, error) {
	if store == nil {
		return nil, errs.OpError{Op: "identity.new", Kind: errs.ErrInternal, Msg: "nil store"}
	}
	if len(cfg.HMACSecret) == 0 {
		return nil, errs.OpError{Op: "identity.new", Kind: errs.ErrInternal, Msg: "empty hmac secret"}
	}
	if cfg.Argon2 == (Argon2Params{}) {
		cfg.Argon2 = DefaultArgon2Params()
	}

	// A fixed dummy password is hashed once so a lookup miss still pays
	// the argon2 cost, keeping the branch non-distinguishable by timing.
	dummy, err := hashPassword(cfg.Argon2, "scoreboard-dummy-credential")
	if err != nil {
		return nil, errs.OpError{Op: "identity.new", Kind: errs.ErrInternal, Msg: err.Error()}
	}

	return &Service{log: log, store: store, cfg: cfg, dummy: dummy}, nil
}

// Register creates a new identity and returns its bearer access token.
func (s *Service) Register(ctx context.Context, username, email, credential string) (identity, token string, err error) {
	username = NormalizeUsername(username)
	email = NormalizeEmail(email)
	if username == "" || email == "" || credential == "" {
		return "", "", errs.OpError{Op: "identity.register", Kind: errs.ErrMissingFields}
	}

	now := time.Now().UTC()
	id, err := idgen.New(now)
	if err != nil {
		return "", "", errs.OpError{Op: "identity.register", Kind: errs.ErrInternal, Msg: err.Error()}
	}

	hash, err := hashPassword(s.cfg.Argon2, credential)
	if err != nil {
		return "", "", errs.OpError{Op: "identity.register", Kind: errs.ErrInternal, Msg: err.Error()}
	}

	u := User{Identity: id, Username: username, Email: email, PasswordHash: hash}
	if err := s.store.CreateUser(ctx, u); err != nil {
		var conflict ConflictError
		if errors.As(err, &conflict) {
			return "", "", errs.OpError{Op: "identity.register", Kind: errs.ErrConflict, Msg: conflict.Field}
		}
		return "", "", errs.OpError{Op: "identity.register", Kind: errs.ErrBackendUnavailable, Msg: err.Error()}
	}

	tok, err := signBearerToken(s.cfg.HMACSecret, id, username)
	if err != nil {
		return "", "", errs.OpError{Op: "identity.register", Kind: errs.ErrInternal, Msg: err.Error()}
	}

	s.log.Info("identity.registered", "identity", id, "username", username)
	return id, tok, nil
}

// Authenticate verifies email+credential and returns a fresh bearer token.
func (s *Service) Authenticate(ctx context.Context, email, credential string) (token string, err error) {
	email = NormalizeEmail(email)

	u, ok, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return "", errs.OpError{Op: "identity.authenticate", Kind: errs.ErrBackendUnavailable, Msg: err.Error()}
	}
	if !ok {
		// Pay the same argon2 cost as a real verification so a missing
		// account isn't distinguishable from a wrong password by timing.
		_, _ = verifyPassword(s.dummy, credential)
		return "", errs.OpError{Op: "identity.authenticate", Kind: errs.ErrUserNotFound}
	}

	valid, err := verifyPassword(u.PasswordHash, credential)
	if err != nil {
		return "", errs.OpError{Op: "identity.authenticate", Kind: errs.ErrInternal, Msg: err.Error()}
	}
	if !valid {
		return "", errs.OpError{Op: "identity.authenticate", Kind: errs.ErrUserNotFound}
	}

	tok, err := signBearerToken(s.cfg.HMACSecret, u.Identity, u.Username)
	if err != nil {
		return "", errs.OpError{Op: "identity.authenticate", Kind: errs.ErrInternal, Msg: err.Error()}
	}
	return tok, nil
}

// VerifyBearer satisfies internal/verifier.BearerVerifier.
func (s *Service) VerifyBearer(ctx context.Context, token string) (identity, username string, err error) {
	claims, err := parseBearerToken(s.cfg.HMACSecret, token)
	if err != nil {
		return "", "", errs.OpError{Op: "identity.verify_bearer", Kind: errs.ErrInvalidToken, Msg: err.Error()}
	}

	if _, ok, err := s.store.GetByIdentity(ctx, claims.Identity); err != nil {
		return "", "", errs.OpError{Op: "identity.verify_bearer", Kind: errs.ErrBackendUnavailable, Msg: err.Error()}
	} else if !ok {
		return "", "", errs.OpError{Op: "identity.verify_bearer", Kind: errs.ErrInvalidToken, Msg: "unknown identity"}
	}

	return claims.Identity, claims.Username, nil
}

// Username satisfies internal/scoreengine.UsernameLookup, resolving a
// ranking row's display name from the identity collaborator's own store.
func (s *Service) Username(ctx context.Context, identity string) (string, error) {
	u, ok, err := s.store.GetByIdentity(ctx, identity)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotFound
	}
	return u.Username, nil
}
