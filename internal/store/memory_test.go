package store

import (
	"context"
	"testing"
)

func TestMemoryStoreCreateIdentityIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.CreateIdentity(ctx, "alice"); err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}
	if err := s.CreateIdentity(ctx, "alice"); err != nil {
		t.Fatalf("CreateIdentity (repeat): %v", err)
	}

	rec, ok, err := s.GetScore(ctx, "alice")
	if err != nil {
		t.Fatalf("GetScore: %v", err)
	}
	if !ok {
		t.Fatalf("expected record to exist")
	}
	if rec.Score != 0 {
		t.Fatalf("Score = %d, want 0", rec.Score)
	}
}

func TestMemoryStoreIncrementUnknownIdentity(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, _, err := s.Increment(ctx, "ghost", 5, ActionLogEntry{Nonce: "n1"})
	if err != ErrUnknownIdentity {
		t.Fatalf("err = %v, want ErrUnknownIdentity", err)
	}
}

func TestMemoryStoreIncrementDuplicateNonceRejectedExactlyOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.CreateIdentity(ctx, "alice"); err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}

	entry := ActionLogEntry{Nonce: "n1", Identity: "alice", Increment: 10}
	score, _, err := s.Increment(ctx, "alice", 10, entry)
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if score != 10 {
		t.Fatalf("score = %d, want 10", score)
	}

	_, _, err = s.Increment(ctx, "alice", 10, entry)
	if err != ErrDuplicateNonce {
		t.Fatalf("err = %v, want ErrDuplicateNonce", err)
	}

	rec, _, err := s.GetScore(ctx, "alice")
	if err != nil {
		t.Fatalf("GetScore: %v", err)
	}
	if rec.Score != 10 {
		t.Fatalf("score after duplicate rejection = %d, want 10 (exactly-once)", rec.Score)
	}
}

func TestMemoryStoreIncrementConcurrentNoncesAppliedExactlyOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.CreateIdentity(ctx, "alice"); err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}

	const n = 50
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			entry := ActionLogEntry{Nonce: string(rune('a' + i)), Identity: "alice", Increment: 1}
			_, _, _ = s.Increment(ctx, "alice", 1, entry)
		}(i)
	}
	for i := 0; i < n; i++ {
		<-done
	}

	rec, _, err := s.GetScore(ctx, "alice")
	if err != nil {
		t.Fatalf("GetScore: %v", err)
	}
	if rec.Score != n {
		t.Fatalf("score = %d, want %d (each concurrent nonce applied exactly once)", rec.Score, n)
	}
}

func TestMemoryStoreNextTickStrictlyIncreasing(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.CreateIdentity(ctx, "alice"); err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}
	if err := s.CreateIdentity(ctx, "bob"); err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}

	_, t1, err := s.Increment(ctx, "alice", 1, ActionLogEntry{Nonce: "a1"})
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	_, t2, err := s.Increment(ctx, "bob", 1, ActionLogEntry{Nonce: "b1"})
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if !t2.After(t1) {
		t.Fatalf("t2 (%v) must be strictly after t1 (%v)", t2, t1)
	}
}

func TestMemoryStoreGetTopKOrderingAndBound(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	names := []string{"alice", "bob", "carol", "dave"}
	for _, name := range names {
		if err := s.CreateIdentity(ctx, name); err != nil {
			t.Fatalf("CreateIdentity(%s): %v", name, err)
		}
	}

	scores := map[string]int64{"alice": 30, "bob": 30, "carol": 20, "dave": 10}
	for _, name := range names {
		if _, _, err := s.Increment(ctx, name, scores[name], ActionLogEntry{Nonce: name + "-n"}); err != nil {
			t.Fatalf("Increment(%s): %v", name, err)
		}
	}

	top, err := s.GetTopK(ctx, 2)
	if err != nil {
		t.Fatalf("GetTopK: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("len(top) = %d, want 2", len(top))
	}
	if top[0].Score != 30 || top[1].Score != 30 {
		t.Fatalf("expected the two tied 30-point identities first, got %+v", top)
	}
	// alice was incremented before bob, so on a tie alice (earlier last_updated) ranks first.
	if top[0].Identity != "alice" {
		t.Fatalf("top[0].Identity = %s, want alice (earlier last_updated wins tie)", top[0].Identity)
	}
}

func TestMemoryStoreRankCountUsesTieBreak(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, name := range []string{"alice", "bob"} {
		if err := s.CreateIdentity(ctx, name); err != nil {
			t.Fatalf("CreateIdentity(%s): %v", name, err)
		}
	}

	_, aliceTS, err := s.Increment(ctx, "alice", 100, ActionLogEntry{Nonce: "a1"})
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if _, _, err := s.Increment(ctx, "bob", 100, ActionLogEntry{Nonce: "b1"}); err != nil {
		t.Fatalf("Increment: %v", err)
	}

	// A hypothetical record with alice's exact (score, last_updated) ranks
	// strictly above nothing but itself; bob arrived later at the same score
	// so bob must count as ranking below, not above.
	n, err := s.RankCount(ctx, 100, aliceTS)
	if err != nil {
		t.Fatalf("RankCount: %v", err)
	}
	if n != 0 {
		t.Fatalf("RankCount = %d, want 0 (alice is the earliest holder of the top score)", n)
	}
}

func TestMemoryStoreHasNonceAndCountIdentities(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.CreateIdentity(ctx, "alice"); err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}
	if _, _, err := s.Increment(ctx, "alice", 1, ActionLogEntry{Nonce: "n1"}); err != nil {
		t.Fatalf("Increment: %v", err)
	}

	ok, err := s.HasNonce(ctx, "n1")
	if err != nil {
		t.Fatalf("HasNonce: %v", err)
	}
	if !ok {
		t.Fatalf("expected nonce n1 to be recorded")
	}

	ok, err = s.HasNonce(ctx, "unseen")
	if err != nil {
		t.Fatalf("HasNonce: %v", err)
	}
	if ok {
		t.Fatalf("expected unseen nonce to be absent")
	}

	count, err := s.CountIdentities(ctx)
	if err != nil {
		t.Fatalf("CountIdentities: %v", err)
	}
	if count != 1 {
		t.Fatalf("CountIdentities = %d, want 1", count)
	}
}

func TestMemoryStoreContextCancellation(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.CreateIdentity(ctx, "alice"); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}
