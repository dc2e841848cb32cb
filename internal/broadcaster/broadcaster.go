// Package broadcaster implements the scoreboard's Broadcaster component: a
// subscriber set with bounded per-subscriber buffers and slow-consumer
// eviction.
//
// A subscriber whose buffer overflows is evicted outright (unsubscribe +
// connection close) rather than having the message silently dropped, so a
// stuck consumer cannot fall behind forever.
package broadcaster

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"scoreboard/internal/idgen"
)

// Config holds Broadcaster tuning.
type Config struct {
	BufferCapacity int
}

// Recorder receives queue-depth and eviction observations. Satisfied by
// *metrics.Metrics; nil is a valid Broadcaster value.
type Recorder interface {
	ObserveQueueDepth(n int)
	IncEviction()
}

// Broadcaster owns the live subscriber set. The lock is held only for O(1)
// map operations and snapshot iteration setup; it is never held across a
// network write.
type Broadcaster struct {
	log *slog.Logger
	cfg Config
	rec Recorder

	mu   sync.RWMutex
	subs map[string]*Subscriber
}

// New constructs a Broadcaster. rec may be nil.
func New(log *slog.Logger, cfg Config, rec Recorder) *Broadcaster {
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = 64
	}
	return &Broadcaster{log: log, cfg: cfg, rec: rec, subs: make(map[string]*Subscriber)}
}

// Subscribe allocates a subscriber_id, creates its bounded outbound buffer,
// registers it, and immediately enqueues a connection_status{connected}
// message. closeConn is invoked at most once, when this subscriber is
// unsubscribed or evicted, to tear down the underlying connection.
func (b *Broadcaster) Subscribe(closeConn func()) (*Subscriber, error) {
	id, err := idgen.NewSubscriberID(time.Now())
	if err != nil {
		return nil, err
	}

	sub := newSubscriber(id, b.cfg.BufferCapacity, closeConn)

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	status, _ := json.Marshal(ConnectionStatus{
		Type:         TypeConnectionStatus,
		Status:       StatusConnected,
		SubscriberID: id,
		Timestamp:    time.Now().UTC(),
	})
	// The buffer was just created and is empty; this send cannot block.
	sub.Send <- status

	return sub, nil
}

// Unsubscribe removes a subscriber and closes it. Safe to call more than
// once or with an id that was already evicted.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()

	if ok {
		sub.Close()
	}
}

// Count returns the number of live subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Emit builds the scoreboard_update message once and enqueues the same
// encoded bytes into every subscriber's buffer. A subscriber whose buffer is
// full is classified slow and evicted; Emit never blocks on subscriber I/O
// and never holds the subscriber-set lock while enqueueing.
func (b *Broadcaster) Emit(ranking []RankingEntry, totalUsers int64, lastUpdated time.Time) {
	msg := ScoreboardUpdate{
		Type:        TypeScoreboardUpdate,
		Scoreboard:  ranking,
		TotalUsers:  totalUsers,
		LastUpdated: lastUpdated,
		EmittedAt:   time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		b.log.Error("broadcaster.marshal_failed", "err", err)
		return
	}

	b.mu.RLock()
	snapshot := make([]*Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		snapshot = append(snapshot, sub)
	}
	b.mu.RUnlock()

	if b.rec != nil {
		b.rec.ObserveQueueDepth(len(snapshot))
	}

	for _, sub := range snapshot {
		select {
		case <-sub.Done():
			continue
		default:
		}

		select {
		case sub.Send <- payload:
		default:
			b.log.Info("broadcaster.slow_subscriber_evicted", "subscriber_id", sub.ID)
			if b.rec != nil {
				b.rec.IncEviction()
			}
			b.Unsubscribe(sub.ID)
		}
	}
}
