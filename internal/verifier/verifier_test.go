package verifier

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"scoreboard/internal/cache"
	"scoreboard/internal/errs"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubBearer struct {
	identity string
	username string
	err      error
}

func (b stubBearer) VerifyBearer(ctx context.Context, token string) (string, string, error) {
	if b.err != nil {
		return "", "", b.err
	}
	return b.identity, b.username, nil
}

func newTestVerifier(cfg Config, bearer BearerVerifier) *Verifier {
	if cfg.HMACKey == nil {
		cfg.HMACKey = []byte("test-secret")
	}
	if cfg.MaxIncrement == 0 {
		cfg.MaxIncrement = 100
	}
	if cfg.FreshnessWindow == 0 {
		cfg.FreshnessWindow = 5 * time.Minute
	}
	if cfg.NonceGrace == 0 {
		cfg.NonceGrace = time.Minute
	}
	if cfg.RateLimitScoreMax == 0 {
		cfg.RateLimitScoreMax = 10
	}
	if cfg.RateLimitScoreWindow == 0 {
		cfg.RateLimitScoreWindow = time.Minute
	}
	if cfg.RateLimitAuthMax == 0 {
		cfg.RateLimitAuthMax = 10
	}
	if cfg.RateLimitAuthWindow == 0 {
		cfg.RateLimitAuthWindow = time.Minute
	}
	if cfg.RateLimitAdminMax == 0 {
		cfg.RateLimitAdminMax = 10
	}
	if cfg.RateLimitAdminWindow == 0 {
		cfg.RateLimitAdminWindow = time.Minute
	}
	c := cache.New(discardLogger(), cache.NewMemoryL2(), nil)
	return New(discardLogger(), cfg, c, bearer, nil)
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	v := newTestVerifier(Config{}, stubBearer{})

	tok, err := v.Issue(5)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if tok.Increment != 5 {
		t.Fatalf("Increment = %d, want 5", tok.Increment)
	}

	if err := v.Verify(context.Background(), "alice", tok); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestIssueRejectsOutOfRangeIncrement(t *testing.T) {
	v := newTestVerifier(Config{MaxIncrement: 10}, stubBearer{})

	if _, err := v.Issue(0); !errs.IsInvalidIncrement(err) {
		t.Fatalf("Issue(0) err = %v, want IsInvalidIncrement", err)
	}
	if _, err := v.Issue(11); !errs.IsInvalidIncrement(err) {
		t.Fatalf("Issue(11) err = %v, want IsInvalidIncrement", err)
	}
}

func TestVerifyRejectsMissingFields(t *testing.T) {
	v := newTestVerifier(Config{}, stubBearer{})
	err := v.Verify(context.Background(), "alice", ActionToken{})
	if !errs.IsMissingFields(err) {
		t.Fatalf("err = %v, want IsMissingFields", err)
	}
}

func TestVerifyRejectsTamperedMAC(t *testing.T) {
	v := newTestVerifier(Config{}, stubBearer{})
	tok, err := v.Issue(1)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	tok.Increment = 99 // mutate a signed field without recomputing the MAC

	err = v.Verify(context.Background(), "alice", tok)
	if !errs.IsInvalidActionHash(err) {
		t.Fatalf("err = %v, want IsInvalidActionHash", err)
	}
}

func TestVerifyRejectsStaleToken(t *testing.T) {
	v := newTestVerifier(Config{FreshnessWindow: 10 * time.Millisecond}, stubBearer{})
	tok, err := v.Issue(1)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	err = v.Verify(context.Background(), "alice", tok)
	if !errs.IsInvalidActionHash(err) {
		t.Fatalf("err = %v, want IsInvalidActionHash (stale)", err)
	}
}

func TestVerifyEnforcesScoreRateLimit(t *testing.T) {
	v := newTestVerifier(Config{RateLimitScoreMax: 2, RateLimitScoreWindow: time.Minute}, stubBearer{})

	for i := 0; i < 2; i++ {
		tok, err := v.Issue(1)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if err := v.Verify(context.Background(), "alice", tok); err != nil {
			t.Fatalf("Verify(%d): %v", i, err)
		}
	}

	tok, err := v.Issue(1)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	err = v.Verify(context.Background(), "alice", tok)
	if !errs.IsRateLimited(err) {
		t.Fatalf("err = %v, want IsRateLimited", err)
	}
}

func TestVerifyDetectsDuplicateNonceFastPath(t *testing.T) {
	v := newTestVerifier(Config{}, stubBearer{})
	tok, err := v.Issue(1)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := v.MarkAccepted(context.Background(), tok.Nonce); err != nil {
		t.Fatalf("MarkAccepted: %v", err)
	}

	err = v.Verify(context.Background(), "alice", tok)
	if !errs.IsDuplicateAction(err) {
		t.Fatalf("err = %v, want IsDuplicateAction", err)
	}
}

func TestVerifyBearerDelegatesAndWrapsError(t *testing.T) {
	ok := newTestVerifier(Config{}, stubBearer{identity: "id-1", username: "alice"})
	identity, username, err := ok.VerifyBearer(context.Background(), "sometoken")
	if err != nil {
		t.Fatalf("VerifyBearer: %v", err)
	}
	if identity != "id-1" || username != "alice" {
		t.Fatalf("got (%q, %q), want (%q, %q)", identity, username, "id-1", "alice")
	}

	failing := newTestVerifier(Config{}, stubBearer{err: errors.New("bad token")})
	_, _, err = failing.VerifyBearer(context.Background(), "sometoken")
	if !errs.IsInvalidToken(err) {
		t.Fatalf("err = %v, want IsInvalidToken", err)
	}
}

func TestCheckAuthAndAdminRateLimits(t *testing.T) {
	v := newTestVerifier(Config{RateLimitAuthMax: 1, RateLimitAdminMax: 1}, stubBearer{})

	if err := v.CheckAuthRateLimit(context.Background(), "1.2.3.4"); err != nil {
		t.Fatalf("CheckAuthRateLimit (first): %v", err)
	}
	if err := v.CheckAuthRateLimit(context.Background(), "1.2.3.4"); !errs.IsRateLimited(err) {
		t.Fatalf("CheckAuthRateLimit (second) err = %v, want IsRateLimited", err)
	}

	if err := v.CheckAdminRateLimit(context.Background(), "alice"); err != nil {
		t.Fatalf("CheckAdminRateLimit (first): %v", err)
	}
	if err := v.CheckAdminRateLimit(context.Background(), "alice"); !errs.IsRateLimited(err) {
		t.Fatalf("CheckAdminRateLimit (second) err = %v, want IsRateLimited", err)
	}
}
