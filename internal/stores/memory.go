package stores

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

const shardCount = 32

func shardIndex(k string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k))
	return int(h.Sum32() % shardCount)
}

/*
====================================
MEMORY CHALLENGE STORE
====================================
*/

type challengeShard struct {
	mu      sync.Mutex
	records map[string]*ChallengeRecord
}

// MemoryChallengeStore is the default volatile challenge backend: sharded
// maps with per-shard locking and a periodic expiry sweep. The sweep takes
// the same shard locks as in-flight operations, so it can never remove a
// record mid-verification.
type MemoryChallengeStore struct {
	shards [shardCount]*challengeShard
	now    func() int64
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewMemoryChallengeStore creates the store and starts its sweeper. now
// reports Unix milliseconds; sweepInterval must be positive.
func NewMemoryChallengeStore(sweepInterval time.Duration, now func() int64) *MemoryChallengeStore {
	s := &MemoryChallengeStore{
		now:  now,
		done: make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &challengeShard{records: make(map[string]*ChallengeRecord)}
	}

	s.wg.Add(1)
	go s.sweep(sweepInterval)

	return s
}

func (s *MemoryChallengeStore) sweep(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := s.now()
			for _, shard := range s.shards {
				shard.mu.Lock()
				for k, rec := range shard.records {
					if now >= rec.ExpiresAt {
						delete(shard.records, k)
					}
				}
				shard.mu.Unlock()
			}
		case <-s.done:
			return
		}
	}
}

func (s *MemoryChallengeStore) shard(k string) *challengeShard {
	return s.shards[shardIndex(k)]
}

// Upsert implements [ChallengeStore].
func (s *MemoryChallengeStore) Upsert(_ context.Context, principal, action string, now int64, create func() (*ChallengeRecord, error), refresh func(*ChallengeRecord) bool) (*ChallengeRecord, error) {
	k := key(principal, action)
	shard := s.shard(k)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec, ok := shard.records[k]
	if ok && now < rec.ExpiresAt && refresh(rec) {
		return rec.Clone(), nil
	}

	fresh, err := create()
	if err != nil {
		return nil, err
	}
	shard.records[k] = fresh
	return fresh.Clone(), nil
}

// Get implements [ChallengeStore].
func (s *MemoryChallengeStore) Get(_ context.Context, principal, action string, now int64) (*ChallengeRecord, error) {
	k := key(principal, action)
	shard := s.shard(k)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec, ok := shard.records[k]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	if now >= rec.ExpiresAt {
		delete(shard.records, k)
		return nil, ErrChallengeExpired
	}
	return rec.Clone(), nil
}

// Update implements [ChallengeStore].
func (s *MemoryChallengeStore) Update(_ context.Context, principal, action string, now int64, fn func(*ChallengeRecord) (Outcome, error)) (*ChallengeRecord, error) {
	k := key(principal, action)
	shard := s.shard(k)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec, ok := shard.records[k]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	if now >= rec.ExpiresAt {
		delete(shard.records, k)
		return nil, ErrChallengeExpired
	}

	working := rec.Clone()
	outcome, fnErr := fn(working)
	switch outcome {
	case OutcomeSave:
		shard.records[k] = working
	case OutcomeDelete:
		delete(shard.records, k)
	}

	return working.Clone(), fnErr
}

// Delete implements [ChallengeStore].
func (s *MemoryChallengeStore) Delete(_ context.Context, principal, action string) (bool, error) {
	k := key(principal, action)
	shard := s.shard(k)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if _, ok := shard.records[k]; !ok {
		return false, nil
	}
	delete(shard.records, k)
	return true, nil
}

// Close stops the sweeper. Idempotent.
func (s *MemoryChallengeStore) Close() {
	s.once.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

/*
====================================
MEMORY GRANT STORE
====================================
*/

type grantShard struct {
	mu      sync.Mutex
	records map[string]*GrantRecord
}

// MemoryGrantStore is the default volatile grant backend. Same sharding and
// sweep discipline as [MemoryChallengeStore].
type MemoryGrantStore struct {
	shards [shardCount]*grantShard
	now    func() int64
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewMemoryGrantStore creates the store and starts its sweeper.
func NewMemoryGrantStore(sweepInterval time.Duration, now func() int64) *MemoryGrantStore {
	s := &MemoryGrantStore{
		now:  now,
		done: make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &grantShard{records: make(map[string]*GrantRecord)}
	}

	s.wg.Add(1)
	go s.sweep(sweepInterval)

	return s
}

func (s *MemoryGrantStore) sweep(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := s.now()
			for _, shard := range s.shards {
				shard.mu.Lock()
				for k, rec := range shard.records {
					if now >= rec.ExpiresAt {
						delete(shard.records, k)
					}
				}
				shard.mu.Unlock()
			}
		case <-s.done:
			return
		}
	}
}

func (s *MemoryGrantStore) shard(k string) *grantShard {
	return s.shards[shardIndex(k)]
}

// Put implements [GrantStore].
func (s *MemoryGrantStore) Put(_ context.Context, rec *GrantRecord) error {
	k := key(rec.Principal, rec.Action)
	shard := s.shard(k)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	shard.records[k] = rec.Clone()
	return nil
}

// Get implements [GrantStore].
func (s *MemoryGrantStore) Get(_ context.Context, principal, action string, now int64) (*GrantRecord, error) {
	k := key(principal, action)
	shard := s.shard(k)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec, ok := shard.records[k]
	if !ok {
		return nil, ErrGrantNotFound
	}
	if now >= rec.ExpiresAt {
		delete(shard.records, k)
		return nil, ErrGrantExpired
	}
	return rec.Clone(), nil
}

// Consume implements [GrantStore]. The check and the tombstone write happen
// under one shard lock, so exactly one of any number of concurrent callers
// spends a single-use grant.
func (s *MemoryGrantStore) Consume(_ context.Context, principal, action string, now int64) (*GrantRecord, error) {
	k := key(principal, action)
	shard := s.shard(k)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec, ok := shard.records[k]
	if !ok {
		return nil, ErrGrantNotFound
	}
	if now >= rec.ExpiresAt {
		delete(shard.records, k)
		return nil, ErrGrantExpired
	}
	if rec.Consumed {
		return nil, ErrGrantConsumed
	}
	if rec.SingleUse {
		rec.Consumed = true
	}
	return rec.Clone(), nil
}

// Delete implements [GrantStore].
func (s *MemoryGrantStore) Delete(_ context.Context, principal, action string) (bool, error) {
	k := key(principal, action)
	shard := s.shard(k)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if _, ok := shard.records[k]; !ok {
		return false, nil
	}
	delete(shard.records, k)
	return true, nil
}

// DeleteAll implements [GrantStore].
func (s *MemoryGrantStore) DeleteAll(_ context.Context, principal string) (int, error) {
	prefix := principal + "\x1f"
	removed := 0

	for _, shard := range s.shards {
		shard.mu.Lock()
		for k := range shard.records {
			if strings.HasPrefix(k, prefix) {
				delete(shard.records, k)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed, nil
}

// Close stops the sweeper. Idempotent.
func (s *MemoryGrantStore) Close() {
	s.once.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}
