// Package ratelimit implements fixed-window request limits keyed by tenant,
// client ip, and route class, with counters in the key-value store so every
// replica shares the same windows.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"authgate/internal/kv"
)

type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type Limiter struct {
	kv        kv.Store
	window    time.Duration
	max       int
	overrides map[string]int
}

// New builds a limiter with a default per-window maximum. overrides caps
// individual route classes (e.g. "login") differently.
func New(store kv.Store, window time.Duration, max int, overrides map[string]int) *Limiter {
	return &Limiter{kv: store, window: window, max: max, overrides: overrides}
}

func key(tenantID uint, ip, class string) string {
	tenant := "default"
	if tenantID != 0 {
		tenant = fmt.Sprintf("%d", tenantID)
	}
	return fmt.Sprintf("%s:%s:%s", tenant, ip, class)
}

// Allow counts the request against its window. Buckets are disjoint across
// tenants: the same ip gets a fresh window under every tenant.
func (l *Limiter) Allow(ctx context.Context, tenantID uint, ip, class string) (Result, error) {
	max := l.max
	if o, ok := l.overrides[class]; ok {
		max = o
	}
	k := key(tenantID, ip, class)
	n, err := l.kv.Incr(ctx, k)
	if err != nil {
		return Result{}, err
	}
	if n == 1 {
		if err := l.kv.Expire(ctx, k, l.window); err != nil {
			return Result{}, err
		}
	}
	if n > int64(max) {
		ttl, err := l.kv.TTL(ctx, k)
		if err != nil || ttl <= 0 {
			ttl = l.window
		}
		return Result{Allowed: false, RetryAfter: ttl}, nil
	}
	return Result{Allowed: true, Remaining: max - int(n)}, nil
}
