// Package nonce holds pending wallet challenges in process memory.
// A replica-scaled deployment would move this to redis under
// wallet_nonce:{tenant}:{address} with SetNX; the single-process registry
// keeps the hot path allocation-free.
package nonce

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("nonce: no pending challenge")
	ErrExpired  = errors.New("nonce: challenge expired")
	ErrMismatch = errors.New("nonce: mismatch")
)

// Challenge is a pending wallet challenge keyed by lowercase address.
type Challenge struct {
	Nonce    string
	IssuedAt time.Time
	TenantID uint
}

// Issued is returned to the client on challenge issuance.
type Issued struct {
	Nonce     string
	Message   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type Registry struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]Challenge
	now     func() time.Time
}

func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		ttl:     ttl,
		entries: make(map[string]Challenge),
		now:     time.Now,
	}
}

// Issue generates a fresh challenge for the address, replacing any prior
// entry. Expired entries for other addresses are swept on the way.
func (r *Registry) Issue(address string, tenantID uint) (Issued, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return Issued{}, fmt.Errorf("nonce: %w", err)
	}
	n := hex.EncodeToString(buf)

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.sweepLocked(now)
	r.entries[strings.ToLower(address)] = Challenge{Nonce: n, IssuedAt: now, TenantID: tenantID}

	expires := now.Add(r.ttl)
	return Issued{
		Nonce:     n,
		Message:   Message(address, n, now, expires),
		IssuedAt:  now,
		ExpiresAt: expires,
	}, nil
}

// Consume removes the pending challenge for the address and returns it.
// Consumption is one-shot: a second call for the same challenge returns
// ErrNotFound even if the first verification failed downstream.
func (r *Registry) Consume(address, providedNonce string) (Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(address)
	c, ok := r.entries[key]
	if !ok {
		return Challenge{}, ErrNotFound
	}
	if r.now().Sub(c.IssuedAt) >= r.ttl {
		delete(r.entries, key)
		return Challenge{}, ErrExpired
	}
	if c.Nonce != providedNonce {
		return Challenge{}, ErrMismatch
	}
	delete(r.entries, key)
	return c, nil
}

// ConsumeCurrent removes and returns whatever challenge is pending for the
// address, for verify requests that do not echo the nonce back. The caller
// verifies the signature against the returned nonce, so a stale client
// still fails verification.
func (r *Registry) ConsumeCurrent(address string) (Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(address)
	c, ok := r.entries[key]
	if !ok {
		return Challenge{}, ErrNotFound
	}
	delete(r.entries, key)
	if r.now().Sub(c.IssuedAt) >= r.ttl {
		return Challenge{}, ErrExpired
	}
	return c, nil
}

// TTL reports the configured challenge lifetime.
func (r *Registry) TTL() time.Duration { return r.ttl }

func (r *Registry) sweepLocked(now time.Time) {
	for k, c := range r.entries {
		if now.Sub(c.IssuedAt) >= r.ttl {
			delete(r.entries, k)
		}
	}
}

// Message builds the canonical signed-message template. The bytes are part
// of the wire protocol: any change breaks signature verification.
func Message(address, nonce string, issuedAt, expiresAt time.Time) string {
	return fmt.Sprintf(
		"Sign this message to authenticate with our service.\n\nWallet: %s\nNonce: %s\nTimestamp: %s\nExpires: %s",
		address, nonce,
		issuedAt.UTC().Format(time.RFC3339),
		expiresAt.UTC().Format(time.RFC3339),
	)
}
