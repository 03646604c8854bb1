package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const updateMaxRetries = 4

// RedisChallengeStore keeps challenge state in Redis. Atomic
// read-modify-write runs inside WATCH/EXEC retry loops; lifetimes ride on
// key TTLs, so no sweeper is needed.
type RedisChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisChallengeStore creates a Redis-backed challenge store under the
// given key prefix.
func NewRedisChallengeStore(client redis.UniversalClient, prefix string) *RedisChallengeStore {
	if prefix == "" {
		prefix = "su"
	}
	return &RedisChallengeStore{redis: client, prefix: prefix}
}

func (s *RedisChallengeStore) key(principal, action string) string {
	return s.prefix + ":c:" + principal + ":" + action
}

func remainingTTL(expiresAt, now int64) time.Duration {
	ms := expiresAt - now
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// Upsert implements [ChallengeStore].
func (s *RedisChallengeStore) Upsert(ctx context.Context, principal, action string, now int64, create func() (*ChallengeRecord, error), refresh func(*ChallengeRecord) bool) (*ChallengeRecord, error) {
	k := s.key(principal, action)

	for i := 0; i < updateMaxRetries; i++ {
		var stored *ChallengeRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			var rec *ChallengeRecord

			data, err := tx.Get(ctx, k).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
				// no live record
			case err != nil:
				return fmt.Errorf("%w: %v", ErrBackend, err)
			default:
				decoded, decodeErr := decodeChallengeRecord(data)
				if decodeErr == nil && now < decoded.ExpiresAt && refresh(decoded) {
					rec = decoded
				}
			}

			if rec == nil {
				fresh, createErr := create()
				if createErr != nil {
					return createErr
				}
				rec = fresh
			}

			encoded, err := encodeChallengeRecord(rec)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, k, encoded, remainingTTL(rec.ExpiresAt, now))
				return nil
			})
			if err != nil {
				return err
			}

			stored = rec
			return nil
		}, k)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return stored.Clone(), nil
	}

	return nil, ErrConflict
}

// Get implements [ChallengeStore].
func (s *RedisChallengeStore) Get(ctx context.Context, principal, action string, now int64) (*ChallengeRecord, error) {
	k := s.key(principal, action)

	data, err := s.redis.Get(ctx, k).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	rec, err := decodeChallengeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if now >= rec.ExpiresAt {
		_, _ = s.redis.Del(ctx, k).Result()
		return nil, ErrChallengeExpired
	}
	return rec, nil
}

// Update implements [ChallengeStore].
func (s *RedisChallengeStore) Update(ctx context.Context, principal, action string, now int64, fn func(*ChallengeRecord) (Outcome, error)) (*ChallengeRecord, error) {
	k := s.key(principal, action)

	for i := 0; i < updateMaxRetries; i++ {
		var (
			working *ChallengeRecord
			fnErr   error
		)

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, k).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrChallengeNotFound
				}
				return fmt.Errorf("%w: %v", ErrBackend, err)
			}

			rec, err := decodeChallengeRecord(data)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrBackend, err)
			}
			if now >= rec.ExpiresAt {
				_, delErr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, k)
					return nil
				})
				if delErr != nil {
					return delErr
				}
				return ErrChallengeExpired
			}

			var outcome Outcome
			outcome, fnErr = fn(rec)
			working = rec

			switch outcome {
			case OutcomeSave:
				encoded, encErr := encodeChallengeRecord(rec)
				if encErr != nil {
					return encErr
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, k, encoded, remainingTTL(rec.ExpiresAt, now))
					return nil
				})
				return err
			case OutcomeDelete:
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, k)
					return nil
				})
				return err
			default:
				return nil
			}
		}, k)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return working.Clone(), fnErr
	}

	return nil, ErrConflict
}

// Delete implements [ChallengeStore].
func (s *RedisChallengeStore) Delete(ctx context.Context, principal, action string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(principal, action)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return n > 0, nil
}

// Close implements [ChallengeStore]. The Redis client is owned by the
// caller.
func (s *RedisChallengeStore) Close() {}

/*
====================================
REDIS GRANT STORE
====================================
*/

// RedisGrantStore keeps grant state in Redis.
type RedisGrantStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisGrantStore creates a Redis-backed grant store under the given key
// prefix.
func NewRedisGrantStore(client redis.UniversalClient, prefix string) *RedisGrantStore {
	if prefix == "" {
		prefix = "su"
	}
	return &RedisGrantStore{redis: client, prefix: prefix}
}

func (s *RedisGrantStore) key(principal, action string) string {
	return s.prefix + ":g:" + principal + ":" + action
}

// Put implements [GrantStore].
func (s *RedisGrantStore) Put(ctx context.Context, rec *GrantRecord) error {
	encoded, err := encodeGrantRecord(rec)
	if err != nil {
		return err
	}
	ttl := remainingTTL(rec.ExpiresAt, rec.GrantedAt)
	if err := s.redis.Set(ctx, s.key(rec.Principal, rec.Action), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// Get implements [GrantStore].
func (s *RedisGrantStore) Get(ctx context.Context, principal, action string, now int64) (*GrantRecord, error) {
	data, err := s.redis.Get(ctx, s.key(principal, action)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrGrantNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	rec, err := decodeGrantRecord(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if now >= rec.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(principal, action)).Result()
		return nil, ErrGrantExpired
	}
	return rec, nil
}

// Consume implements [GrantStore]. Check-and-tombstone runs inside a
// WATCH/EXEC transaction, so concurrent consumers race on the key version
// and exactly one wins.
func (s *RedisGrantStore) Consume(ctx context.Context, principal, action string, now int64) (*GrantRecord, error) {
	k := s.key(principal, action)

	for i := 0; i < updateMaxRetries; i++ {
		var consumed *GrantRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, k).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrGrantNotFound
				}
				return fmt.Errorf("%w: %v", ErrBackend, err)
			}

			rec, err := decodeGrantRecord(data)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrBackend, err)
			}
			if now >= rec.ExpiresAt {
				_, delErr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, k)
					return nil
				})
				if delErr != nil {
					return delErr
				}
				return ErrGrantExpired
			}
			if rec.Consumed {
				return ErrGrantConsumed
			}

			if rec.SingleUse {
				rec.Consumed = true
				encoded, encErr := encodeGrantRecord(rec)
				if encErr != nil {
					return encErr
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, k, encoded, remainingTTL(rec.ExpiresAt, now))
					return nil
				})
				if err != nil {
					return err
				}
			}

			consumed = rec
			return nil
		}, k)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return consumed.Clone(), nil
	}

	return nil, ErrConflict
}

// Delete implements [GrantStore].
func (s *RedisGrantStore) Delete(ctx context.Context, principal, action string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(principal, action)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return n > 0, nil
}

// DeleteAll implements [GrantStore].
func (s *RedisGrantStore) DeleteAll(ctx context.Context, principal string) (int, error) {
	pattern := s.prefix + ":g:" + principal + ":*"
	removed := 0

	iter := s.redis.Scan(ctx, 0, pattern, 64).Iterator()
	for iter.Next(ctx) {
		n, err := s.redis.Del(ctx, iter.Val()).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrBackend, err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return removed, nil
}

// Close implements [GrantStore]. The Redis client is owned by the caller.
func (s *RedisGrantStore) Close() {}
