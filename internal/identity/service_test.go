package identity

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"scoreboard/internal/errs"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := Config{
		HMACSecret: []byte("test-secret"),
		Argon2:     Argon2Params{MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32},
	}
	svc, err := New(discardLogger(), NewMemoryStore(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func TestServiceRegisterAndAuthenticate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	identity, token, err := svc.Register(ctx, "Alice", "Alice@Example.com", "hunter2000")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if identity == "" || token == "" {
		t.Fatalf("expected non-empty identity and token")
	}

	gotIdentity, gotUsername, err := svc.VerifyBearer(ctx, token)
	if err != nil {
		t.Fatalf("VerifyBearer: %v", err)
	}
	if gotIdentity != identity {
		t.Fatalf("VerifyBearer identity = %q, want %q", gotIdentity, identity)
	}
	if gotUsername != "alice" {
		t.Fatalf("VerifyBearer username = %q, want %q", gotUsername, "alice")
	}

	loginTok, err := svc.Authenticate(ctx, "alice@example.com", "hunter2000")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if loginTok == "" {
		t.Fatalf("expected non-empty login token")
	}
}

func TestServiceRegisterRejectsMissingFields(t *testing.T) {
	svc := newTestService(t)
	_, _, err := svc.Register(context.Background(), "", "a@b.com", "pw")
	if !errs.IsMissingFields(err) {
		t.Fatalf("err = %v, want IsMissingFields", err)
	}
}

func TestServiceRegisterRejectsDuplicateEmail(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "alice", "dup@example.com", "pw1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, _, err := svc.Register(ctx, "someone-else", "dup@example.com", "pw2")
	if !errs.IsConflict(err) {
		t.Fatalf("err = %v, want IsConflict", err)
	}
}

func TestServiceAuthenticateRejectsUnknownEmail(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Authenticate(context.Background(), "nobody@example.com", "whatever")
	if !errs.IsUserNotFound(err) {
		t.Fatalf("err = %v, want IsUserNotFound", err)
	}
}

func TestServiceAuthenticateRejectsWrongPassword(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "alice", "alice@example.com", "correct-password"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err := svc.Authenticate(ctx, "alice@example.com", "wrong-password")
	if !errs.IsUserNotFound(err) {
		t.Fatalf("err = %v, want IsUserNotFound", err)
	}
}

func TestServiceVerifyBearerRejectsInvalidToken(t *testing.T) {
	svc := newTestService(t)
	_, _, err := svc.VerifyBearer(context.Background(), "garbage")
	if !errs.IsInvalidToken(err) {
		t.Fatalf("err = %v, want IsInvalidToken", err)
	}
}

func TestServiceUsernameLookup(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	identity, _, err := svc.Register(ctx, "alice", "alice@example.com", "hunter2000")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	username, err := svc.Username(ctx, identity)
	if err != nil {
		t.Fatalf("Username: %v", err)
	}
	if username != "alice" {
		t.Fatalf("Username = %q, want %q", username, "alice")
	}

	if _, err := svc.Username(ctx, "unknown-identity"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
