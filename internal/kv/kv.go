// Package kv abstracts the key-value store that holds transient auth state:
// sessions, token revocation marks, rate-limit counters, and the sliding
// activity indices. The production implementation is Redis.
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("kv: not found")
	// ErrConflict is returned by Update when the key changed concurrently.
	ErrConflict = errors.New("kv: concurrent modification")
)

type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX sets the key only if it does not exist. Returns true when set.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	// Update atomically read-modify-writes the value at key: fn maps the
	// current value to its replacement. Fails with ErrConflict when the key
	// changed between read and write, ErrNotFound when it is absent.
	Update(ctx context.Context, key string, ttl time.Duration, fn func(current string) (string, error)) error
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	ZAdd(ctx context.Context, key string, score float64, member string) error
	// ZTrimToLast keeps only the n highest-scored members.
	ZTrimToLast(ctx context.Context, key string, n int64) error
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)
}
