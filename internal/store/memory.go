package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used when no database is configured
// (development / testing). It trades the Postgres implementation's
// per-identity parallelism for a single mutex; correctness (serialized
// writes, a global
// strictly-increasing logical clock) matters more than throughput here.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*ScoreRecord
	nonces  map[string]struct{}
	lastTS  time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*ScoreRecord),
		nonces:  make(map[string]struct{}),
	}
}

// nextTick returns a timestamp strictly after the previously issued one,
// advancing the wall clock by one tick if it has not moved.
func (s *MemoryStore) nextTick() time.Time {
	now := time.Now().UTC()
	if !now.After(s.lastTS) {
		now = s.lastTS.Add(time.Nanosecond)
	}
	s.lastTS = now
	return now
}

func (s *MemoryStore) CreateIdentity(ctx context.Context, identity string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[identity]; ok {
		return nil
	}
	s.records[identity] = &ScoreRecord{
		Identity:    identity,
		Score:       0,
		LastUpdated: s.nextTick(),
	}
	return nil
}

func (s *MemoryStore) Increment(ctx context.Context, identity string, delta int64, entry ActionLogEntry) (int64, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return 0, time.Time{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[identity]
	if !ok {
		return 0, time.Time{}, ErrUnknownIdentity
	}
	if _, dup := s.nonces[entry.Nonce]; dup {
		return 0, time.Time{}, ErrDuplicateNonce
	}

	ts := s.nextTick()
	rec.Score += delta
	rec.LastUpdated = ts
	s.nonces[entry.Nonce] = struct{}{}

	return rec.Score, ts, nil
}

func (s *MemoryStore) GetScore(ctx context.Context, identity string) (ScoreRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return ScoreRecord{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[identity]
	if !ok {
		return ScoreRecord{}, false, nil
	}
	return *rec, true, nil
}

func (s *MemoryStore) GetTopK(ctx context.Context, k int) ([]ScoreRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]ScoreRecord, 0, len(s.records))
	for _, rec := range s.records {
		all = append(all, *rec)
	}
	sortRanking(all)

	if k > len(all) {
		k = len(all)
	}
	return all[:k], nil
}

func (s *MemoryStore) HasNonce(ctx context.Context, nonce string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.nonces[nonce]
	return ok, nil
}

func (s *MemoryStore) CountIdentities(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.records)), nil
}

func (s *MemoryStore) RankCount(ctx context.Context, score int64, lastUpdated time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, rec := range s.records {
		if rec.Score > score || (rec.Score == score && rec.LastUpdated.Before(lastUpdated)) {
			n++
		}
	}
	return n, nil
}

// sortRanking orders records by (score DESC, last_updated ASC), the tie-break
// rule: older stable holders rank above newer arrivals at the same score.
func sortRanking(recs []ScoreRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Score != recs[j].Score {
			return recs[i].Score > recs[j].Score
		}
		return recs[i].LastUpdated.Before(recs[j].LastUpdated)
	})
}
