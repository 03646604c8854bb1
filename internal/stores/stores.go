package stores

import (
	"context"
	"errors"
)

var (
	// ErrChallengeNotFound indicates no live challenge exists for the key.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrChallengeExpired indicates the challenge exists but its lifetime elapsed.
	ErrChallengeExpired = errors.New("challenge expired")
	// ErrGrantNotFound indicates no grant exists for the key.
	ErrGrantNotFound = errors.New("grant not found")
	// ErrGrantExpired indicates the grant exists but its window elapsed.
	ErrGrantExpired = errors.New("grant expired")
	// ErrGrantConsumed indicates a single-use grant was already spent.
	ErrGrantConsumed = errors.New("grant consumed")
	// ErrBackend indicates the store backend is unreachable or corrupt.
	ErrBackend = errors.New("store backend unavailable")
	// ErrConflict indicates an atomic update lost its optimistic-concurrency
	// retries against the Redis backend.
	ErrConflict = errors.New("store update conflict")
)

// ChallengeRecord is the stored state of one in-flight challenge. Timestamps
// are Unix milliseconds.
type ChallengeRecord struct {
	Principal string
	Action    string
	Codes     map[string]string // channel -> secret, generated eagerly for the whole policy
	Handles   map[string]string // channel -> message handle, set on successful dispatch
	IssuedAt  int64
	ExpiresAt int64
	Attempts  uint8
	Used      bool
}

// Clone returns a deep copy so callers never alias store-owned maps.
func (r *ChallengeRecord) Clone() *ChallengeRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Codes = make(map[string]string, len(r.Codes))
	for k, v := range r.Codes {
		out.Codes[k] = v
	}
	out.Handles = make(map[string]string, len(r.Handles))
	for k, v := range r.Handles {
		out.Handles[k] = v
	}
	return &out
}

// GrantRecord is the stored state of one elevated-access grant. Timestamps
// are Unix milliseconds.
type GrantRecord struct {
	Principal string
	Action    string
	GrantedAt int64
	ExpiresAt int64
	SingleUse bool
	Consumed  bool
}

// Clone returns a copy of the record.
func (r *GrantRecord) Clone() *GrantRecord {
	if r == nil {
		return nil
	}
	out := *r
	return &out
}

// Outcome tells the store what to do with a record after an Update callback
// ran.
type Outcome uint8

const (
	// OutcomeKeep leaves the stored record untouched.
	OutcomeKeep Outcome = iota
	// OutcomeSave persists the callback's mutations.
	OutcomeSave
	// OutcomeDelete removes the record.
	OutcomeDelete
)

// ChallengeStore is the contract of the challenge state backend.
//
// All methods that read or mutate a record take now (Unix milliseconds) and
// treat records past ExpiresAt as absent, deleting them lazily. Update and
// Upsert run their callbacks inside the per-key critical section: callbacks
// must not block or perform I/O. The callback's mutations and its returned
// Outcome are applied even when it also returns an error; the error is
// passed through to the caller.
type ChallengeStore interface {
	// Upsert implements issue-or-refresh. When no usable record exists
	// (absent, expired, or refresh returned false), create supplies a
	// fresh one. When a live record exists, refresh may mutate it in
	// place and returns true to keep it; returning false discards it and
	// falls back to create. Returns a copy of the stored record.
	Upsert(ctx context.Context, principal, action string, now int64, create func() (*ChallengeRecord, error), refresh func(*ChallengeRecord) bool) (*ChallengeRecord, error)

	// Get returns a copy of the live record, ErrChallengeNotFound, or
	// ErrChallengeExpired.
	Get(ctx context.Context, principal, action string, now int64) (*ChallengeRecord, error)

	// Update runs fn on the live record under the per-key critical
	// section and applies the returned Outcome atomically. Returns a copy
	// of the record as fn left it.
	Update(ctx context.Context, principal, action string, now int64, fn func(*ChallengeRecord) (Outcome, error)) (*ChallengeRecord, error)

	// Delete removes the record if present.
	Delete(ctx context.Context, principal, action string) (bool, error)

	// Close releases background resources (the memory backend's sweeper).
	Close()
}

// GrantStore is the contract of the grant state backend.
type GrantStore interface {
	// Put stores the grant, replacing any previous grant for the key.
	Put(ctx context.Context, rec *GrantRecord) error

	// Get returns a copy of the record, ErrGrantNotFound, or
	// ErrGrantExpired. Consumed tombstones are returned as stored;
	// callers decide how to report them.
	Get(ctx context.Context, principal, action string, now int64) (*GrantRecord, error)

	// Consume atomically spends the grant. For single-use grants the
	// record is tombstoned so a second Consume reports ErrGrantConsumed
	// until the tombstone expires; only one concurrent caller observes
	// success. Grants that are not single-use are validated but left
	// untouched.
	Consume(ctx context.Context, principal, action string, now int64) (*GrantRecord, error)

	// Delete removes the record if present (explicit revoke).
	Delete(ctx context.Context, principal, action string) (bool, error)

	// DeleteAll removes every grant held by the principal and reports how
	// many were removed.
	DeleteAll(ctx context.Context, principal string) (int, error)

	// Close releases background resources.
	Close()
}

func key(principal, action string) string {
	return principal + "\x1f" + action
}
