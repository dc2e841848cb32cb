package broadcaster

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubRecorder struct {
	queueDepths []int
	evictions   atomic.Int64
}

func (r *stubRecorder) ObserveQueueDepth(n int) { r.queueDepths = append(r.queueDepths, n) }
func (r *stubRecorder) IncEviction()            { r.evictions.Add(1) }

func TestSubscribeSendsInitialConnectionStatus(t *testing.T) {
	b := New(discardLogger(), Config{BufferCapacity: 4}, nil)

	var closed atomic.Bool
	sub, err := b.Subscribe(func() { closed.Store(true) })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case payload := <-sub.Send:
		var msg ConnectionStatus
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Type != TypeConnectionStatus || msg.Status != StatusConnected {
			t.Fatalf("got %+v, want connected connection_status", msg)
		}
		if msg.SubscriberID != sub.ID {
			t.Fatalf("SubscriberID = %q, want %q", msg.SubscriberID, sub.ID)
		}
	default:
		t.Fatalf("expected an initial connection_status message on Subscribe")
	}

	if b.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", b.Count())
	}
}

func TestUnsubscribeIsIdempotentAndClosesConn(t *testing.T) {
	b := New(discardLogger(), Config{BufferCapacity: 4}, nil)

	var closes atomic.Int64
	sub, err := b.Subscribe(func() { closes.Add(1) })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	<-sub.Send // drain the initial connection_status

	b.Unsubscribe(sub.ID)
	b.Unsubscribe(sub.ID) // must not panic or double-close

	if closes.Load() != 1 {
		t.Fatalf("closeConn called %d times, want 1", closes.Load())
	}
	if b.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", b.Count())
	}

	select {
	case <-sub.Done():
	default:
		t.Fatalf("expected Done() to be closed after Unsubscribe")
	}
}

func TestEmitDeliversToAllSubscribers(t *testing.T) {
	b := New(discardLogger(), Config{BufferCapacity: 4}, nil)

	sub1, err := b.Subscribe(func() {})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	<-sub1.Send
	sub2, err := b.Subscribe(func() {})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	<-sub2.Send

	ranking := []RankingEntry{{Rank: 1, Identity: "alice", Score: 100}}
	b.Emit(ranking, 1, time.Now().UTC())

	for _, sub := range []*Subscriber{sub1, sub2} {
		select {
		case payload := <-sub.Send:
			var msg ScoreboardUpdate
			if err := json.Unmarshal(payload, &msg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if msg.Type != TypeScoreboardUpdate {
				t.Fatalf("Type = %q, want %q", msg.Type, TypeScoreboardUpdate)
			}
			if len(msg.Scoreboard) != 1 || msg.Scoreboard[0].Identity != "alice" {
				t.Fatalf("Scoreboard = %+v, want alice entry", msg.Scoreboard)
			}
		default:
			t.Fatalf("expected subscriber %s to receive the scoreboard_update", sub.ID)
		}
	}
}

func TestEmitEvictsSlowSubscriberOnFullBuffer(t *testing.T) {
	rec := &stubRecorder{}
	b := New(discardLogger(), Config{BufferCapacity: 1}, rec)

	var closed atomic.Bool
	sub, err := b.Subscribe(func() { closed.Store(true) })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	// Leave the initial connection_status message in the buffer (capacity 1)
	// so the very next Emit finds it full.

	b.Emit([]RankingEntry{{Rank: 1, Identity: "alice", Score: 1}}, 1, time.Now().UTC())

	select {
	case <-sub.Done():
	default:
		t.Fatalf("expected the slow subscriber to be evicted (Done closed)")
	}
	if !closed.Load() {
		t.Fatalf("expected closeConn to run on eviction")
	}
	if b.Count() != 0 {
		t.Fatalf("Count() = %d, want 0 after eviction", b.Count())
	}
	if rec.evictions.Load() != 1 {
		t.Fatalf("evictions = %d, want 1", rec.evictions.Load())
	}
}

func TestEmitSkipsAlreadyDoneSubscribers(t *testing.T) {
	b := New(discardLogger(), Config{BufferCapacity: 4}, nil)

	sub, err := b.Subscribe(func() {})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	<-sub.Send
	sub.Close()

	// Must not panic sending to a subscriber whose Send is unclosed but Done.
	b.Emit([]RankingEntry{{Rank: 1, Identity: "alice", Score: 1}}, 1, time.Now().UTC())
}
