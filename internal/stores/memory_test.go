package stores

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newChallengeRecord(now int64) *ChallengeRecord {
	return &ChallengeRecord{
		Principal: "alice",
		Action:    "terminal-access",
		Codes:     map[string]string{"discord": "AABBCCDDEEFF0011", "email": "123456"},
		Handles:   map[string]string{},
		IssuedAt:  now,
		ExpiresAt: now + 300_000,
	}
}

func newMemoryStores(t *testing.T) (*MemoryChallengeStore, *MemoryGrantStore, func() int64, func(time.Duration)) {
	t.Helper()

	var (
		mu  sync.Mutex
		now int64 = 1_000_000
	)
	clock := func() int64 {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now += d.Milliseconds()
	}

	cs := NewMemoryChallengeStore(time.Hour, clock)
	gs := NewMemoryGrantStore(time.Hour, clock)
	t.Cleanup(func() {
		cs.Close()
		gs.Close()
	})
	return cs, gs, clock, advance
}

func TestMemoryChallengeUpsertCreateThenRefresh(t *testing.T) {
	cs, _, clock, _ := newMemoryStores(t)
	ctx := context.Background()

	created, err := cs.Upsert(ctx, "alice", "terminal-access", clock(),
		func() (*ChallengeRecord, error) { return newChallengeRecord(clock()), nil },
		func(*ChallengeRecord) bool { return true },
	)
	if err != nil {
		t.Fatalf("Upsert create failed: %v", err)
	}

	refreshed, err := cs.Upsert(ctx, "alice", "terminal-access", clock(),
		func() (*ChallengeRecord, error) { t.Fatal("create must not run on refresh"); return nil, nil },
		func(rec *ChallengeRecord) bool {
			rec.ExpiresAt += 60_000
			return true
		},
	)
	if err != nil {
		t.Fatalf("Upsert refresh failed: %v", err)
	}
	if refreshed.Codes["discord"] != created.Codes["discord"] {
		t.Fatal("refresh must keep the stored codes")
	}
	if refreshed.ExpiresAt != created.ExpiresAt+60_000 {
		t.Fatal("refresh mutation was not persisted")
	}
}

func TestMemoryChallengeUpsertReplacesWhenRefreshDeclines(t *testing.T) {
	cs, _, clock, _ := newMemoryStores(t)
	ctx := context.Background()

	first, err := cs.Upsert(ctx, "alice", "terminal-access", clock(),
		func() (*ChallengeRecord, error) { return newChallengeRecord(clock()), nil },
		func(*ChallengeRecord) bool { return true },
	)
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	replacement := newChallengeRecord(clock())
	replacement.Codes = map[string]string{"discord": "FRESHFRESHFRESH1"}
	second, err := cs.Upsert(ctx, "alice", "terminal-access", clock(),
		func() (*ChallengeRecord, error) { return replacement, nil },
		func(*ChallengeRecord) bool { return false },
	)
	if err != nil {
		t.Fatalf("Upsert replace failed: %v", err)
	}
	if second.Codes["discord"] == first.Codes["discord"] {
		t.Fatal("declined refresh must fall back to create")
	}
}

func TestMemoryChallengeExpiryIsLazy(t *testing.T) {
	cs, _, clock, advance := newMemoryStores(t)
	ctx := context.Background()

	if _, err := cs.Upsert(ctx, "alice", "terminal-access", clock(),
		func() (*ChallengeRecord, error) { return newChallengeRecord(clock()), nil },
		func(*ChallengeRecord) bool { return true },
	); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	advance(5*time.Minute + time.Millisecond)

	if _, err := cs.Get(ctx, "alice", "terminal-access", clock()); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}
	// the expired record was deleted on first observation
	if _, err := cs.Get(ctx, "alice", "terminal-access", clock()); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}
}

func TestMemoryChallengeUpdateOutcomes(t *testing.T) {
	cs, _, clock, _ := newMemoryStores(t)
	ctx := context.Background()

	if _, err := cs.Update(ctx, "alice", "terminal-access", clock(), nil); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}

	if _, err := cs.Upsert(ctx, "alice", "terminal-access", clock(),
		func() (*ChallengeRecord, error) { return newChallengeRecord(clock()), nil },
		func(*ChallengeRecord) bool { return true },
	); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	sentinel := errors.New("mismatch")

	// OutcomeSave persists the mutation even when fn reports an error
	rec, err := cs.Update(ctx, "alice", "terminal-access", clock(), func(r *ChallengeRecord) (Outcome, error) {
		r.Attempts++
		return OutcomeSave, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected fn error to pass through, got %v", err)
	}
	if rec.Attempts != 1 {
		t.Fatalf("expected persisted attempt count 1, got %d", rec.Attempts)
	}

	after, err := cs.Get(ctx, "alice", "terminal-access", clock())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if after.Attempts != 1 {
		t.Fatal("OutcomeSave mutation was lost")
	}

	// OutcomeKeep leaves the stored record untouched
	if _, err := cs.Update(ctx, "alice", "terminal-access", clock(), func(r *ChallengeRecord) (Outcome, error) {
		r.Attempts = 99
		return OutcomeKeep, nil
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	after, _ = cs.Get(ctx, "alice", "terminal-access", clock())
	if after.Attempts != 1 {
		t.Fatal("OutcomeKeep must not persist mutations")
	}

	// OutcomeDelete removes the record
	if _, err := cs.Update(ctx, "alice", "terminal-access", clock(), func(r *ChallengeRecord) (Outcome, error) {
		return OutcomeDelete, nil
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if _, err := cs.Get(ctx, "alice", "terminal-access", clock()); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound after delete, got %v", err)
	}
}

func TestMemoryChallengeUpdateSerializesPerKey(t *testing.T) {
	cs, _, clock, _ := newMemoryStores(t)
	ctx := context.Background()

	if _, err := cs.Upsert(ctx, "alice", "terminal-access", clock(),
		func() (*ChallengeRecord, error) { return newChallengeRecord(clock()), nil },
		func(*ChallengeRecord) bool { return true },
	); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	const racers = 32
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cs.Update(ctx, "alice", "terminal-access", clock(), func(r *ChallengeRecord) (Outcome, error) {
				r.Attempts++
				return OutcomeSave, nil
			})
		}()
	}
	wg.Wait()

	rec, err := cs.Get(ctx, "alice", "terminal-access", clock())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if int(rec.Attempts) != racers {
		t.Fatalf("expected %d attempts, got %d: lost update", racers, rec.Attempts)
	}
}

func TestMemoryGrantConsumeSingleUse(t *testing.T) {
	_, gs, clock, _ := newMemoryStores(t)
	ctx := context.Background()

	if _, err := gs.Consume(ctx, "alice", "leaderboard-reset", clock()); !errors.Is(err, ErrGrantNotFound) {
		t.Fatalf("expected ErrGrantNotFound, got %v", err)
	}

	if err := gs.Put(ctx, &GrantRecord{
		Principal: "alice",
		Action:    "leaderboard-reset",
		GrantedAt: clock(),
		ExpiresAt: clock() + 600_000,
		SingleUse: true,
	}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	const racers = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := gs.Consume(ctx, "alice", "leaderboard-reset", clock()); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one successful consume, got %d", successes)
	}

	// the tombstone distinguishes consumed from absent
	if _, err := gs.Consume(ctx, "alice", "leaderboard-reset", clock()); !errors.Is(err, ErrGrantConsumed) {
		t.Fatalf("expected ErrGrantConsumed, got %v", err)
	}
}

func TestMemoryGrantConsumeReusable(t *testing.T) {
	_, gs, clock, _ := newMemoryStores(t)
	ctx := context.Background()

	if err := gs.Put(ctx, &GrantRecord{
		Principal: "alice",
		Action:    "terminal-access",
		GrantedAt: clock(),
		ExpiresAt: clock() + 3_600_000,
	}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := gs.Consume(ctx, "alice", "terminal-access", clock()); err != nil {
			t.Fatalf("consume %d failed: %v", i, err)
		}
	}
}

func TestMemoryGrantExpiry(t *testing.T) {
	_, gs, clock, advance := newMemoryStores(t)
	ctx := context.Background()

	if err := gs.Put(ctx, &GrantRecord{
		Principal: "alice",
		Action:    "vps-monitor-access",
		GrantedAt: clock(),
		ExpiresAt: clock() + 300_000,
	}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	advance(299 * time.Second)
	if _, err := gs.Get(ctx, "alice", "vps-monitor-access", clock()); err != nil {
		t.Fatalf("expected live grant at 299s: %v", err)
	}

	advance(2 * time.Second)
	if _, err := gs.Get(ctx, "alice", "vps-monitor-access", clock()); !errors.Is(err, ErrGrantExpired) {
		t.Fatalf("expected ErrGrantExpired at 301s, got %v", err)
	}
}

func TestMemoryGrantDeleteAll(t *testing.T) {
	_, gs, clock, _ := newMemoryStores(t)
	ctx := context.Background()

	for _, action := range []string{"terminal-access", "vps-monitor-access", "leaderboard-reset"} {
		if err := gs.Put(ctx, &GrantRecord{
			Principal: "alice",
			Action:    action,
			GrantedAt: clock(),
			ExpiresAt: clock() + 600_000,
		}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	if err := gs.Put(ctx, &GrantRecord{
		Principal: "bob",
		Action:    "terminal-access",
		GrantedAt: clock(),
		ExpiresAt: clock() + 600_000,
	}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	removed, err := gs.DeleteAll(ctx, "alice")
	if err != nil {
		t.Fatalf("DeleteAll failed: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removed grants, got %d", removed)
	}
	if _, err := gs.Get(ctx, "bob", "terminal-access", clock()); err != nil {
		t.Fatalf("bob's grant must survive: %v", err)
	}
}

func TestMemorySweepRemovesExpired(t *testing.T) {
	var (
		mu  sync.Mutex
		now int64 = 1_000_000
	)
	clock := func() int64 {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	cs := NewMemoryChallengeStore(10*time.Millisecond, clock)
	defer cs.Close()

	ctx := context.Background()
	if _, err := cs.Upsert(ctx, "alice", "terminal-access", clock(),
		func() (*ChallengeRecord, error) { return newChallengeRecord(clock()), nil },
		func(*ChallengeRecord) bool { return true },
	); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	mu.Lock()
	now += 600_000
	mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := cs.Get(ctx, "alice", "terminal-access", 0); errors.Is(err, ErrChallengeNotFound) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("sweeper did not remove the expired record")
}
