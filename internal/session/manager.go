// Package session manages per-(tenant, user) sessions in the key-value
// store. One session is live per user and tenant; opening a new one
// replaces the previous (multi-device replacement policy).
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"authgate/internal/kv"
)

var (
	ErrNotFound = errors.New("session: not found")
	ErrMismatch = errors.New("session: id mismatch")
)

const DefaultTTL = time.Hour

// Snapshot is the user state captured when the session opened.
type Snapshot struct {
	UserID        uint   `json:"user_id"`
	Email         string `json:"email,omitempty"`
	Name          string `json:"name,omitempty"`
	WalletAddress string `json:"wallet_address,omitempty"`
}

type Session struct {
	ID           string    `json:"session_id"`
	IssuedAt     time.Time `json:"issued_at"`
	LastActivity time.Time `json:"last_activity"`
	User         Snapshot  `json:"user"`
}

// Summary is the listing view of a session.
type Summary struct {
	ID           string    `json:"session_id"`
	UserID       uint      `json:"user_id"`
	IssuedAt     time.Time `json:"issued_at"`
	LastActivity time.Time `json:"last_activity"`
	Current      bool      `json:"current"`
}

type Manager struct {
	kv  kv.Store
	ttl time.Duration
	now func() time.Time
}

func NewManager(store kv.Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{kv: store, ttl: ttl, now: time.Now}
}

func sessionKey(tenantID, userID uint) string {
	return fmt.Sprintf("tenant:%d:user_session:%d", tenantID, userID)
}

func indexKey(tenantID uint) string {
	return fmt.Sprintf("tenant:%d:sessions", tenantID)
}

func indexMember(userID uint, sessionID string) string {
	return fmt.Sprintf("%d:%s", userID, sessionID)
}

// Open creates a session for (tenant, user), replacing any existing one,
// and registers it in the per-tenant index.
func (m *Manager) Open(ctx context.Context, userID, tenantID uint, snap Snapshot) (string, error) {
	if prev, err := m.Get(ctx, userID, tenantID); err == nil {
		_ = m.kv.SRem(ctx, indexKey(tenantID), indexMember(userID, prev.ID))
	}
	now := m.now()
	sess := Session{
		ID:           uuid.NewString(),
		IssuedAt:     now,
		LastActivity: now,
		User:         snap,
	}
	if err := m.write(ctx, tenantID, userID, sess); err != nil {
		return "", err
	}
	if err := m.kv.SAdd(ctx, indexKey(tenantID), indexMember(userID, sess.ID)); err != nil {
		return "", err
	}
	return sess.ID, nil
}

// Get returns the live session for (tenant, user).
func (m *Manager) Get(ctx context.Context, userID, tenantID uint) (*Session, error) {
	raw, err := m.kv.Get(ctx, sessionKey(tenantID, userID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("session decode: %w", err)
	}
	return &sess, nil
}

// Touch refreshes lastActivity and the TTL inside an optimistic kv
// transaction, so concurrent touches cannot persist an older timestamp
// over a newer one. Fails with ErrMismatch when the stored session id
// differs (the session was replaced or revoked).
func (m *Manager) Touch(ctx context.Context, sessionID string, userID, tenantID uint) error {
	key := sessionKey(tenantID, userID)
	for attempt := 0; attempt < 3; attempt++ {
		err := m.kv.Update(ctx, key, m.ttl, func(current string) (string, error) {
			var sess Session
			if err := json.Unmarshal([]byte(current), &sess); err != nil {
				return "", fmt.Errorf("session decode: %w", err)
			}
			if sess.ID != sessionID {
				return "", ErrMismatch
			}
			if now := m.now(); now.After(sess.LastActivity) {
				sess.LastActivity = now
			}
			raw, err := json.Marshal(sess)
			if err != nil {
				return "", fmt.Errorf("session encode: %w", err)
			}
			return string(raw), nil
		})
		switch {
		case errors.Is(err, kv.ErrConflict):
			continue
		case errors.Is(err, kv.ErrNotFound):
			return ErrNotFound
		default:
			return err
		}
	}
	// Every attempt lost to a concurrent writer, whose state is newer.
	return nil
}

// List returns the sessions for (tenant, user). currentID marks which entry
// belongs to the presented token.
func (m *Manager) List(ctx context.Context, userID, tenantID uint, currentID string) ([]Summary, error) {
	sess, err := m.Get(ctx, userID, tenantID)
	if errors.Is(err, ErrNotFound) {
		return []Summary{}, nil
	}
	if err != nil {
		return nil, err
	}
	return []Summary{{
		ID:           sess.ID,
		UserID:       userID,
		IssuedAt:     sess.IssuedAt,
		LastActivity: sess.LastActivity,
		Current:      sess.ID == currentID,
	}}, nil
}

// Revoke deletes the session if sessionID matches the live one.
func (m *Manager) Revoke(ctx context.Context, userID, tenantID uint, sessionID string) error {
	sess, err := m.Get(ctx, userID, tenantID)
	if err != nil {
		return err
	}
	if sess.ID != sessionID {
		return ErrMismatch
	}
	return m.remove(ctx, tenantID, userID, sessionID)
}

// RevokeOthers deletes every session of (tenant, user) except keep and
// returns how many were removed.
func (m *Manager) RevokeOthers(ctx context.Context, userID, tenantID uint, keep string) (int, error) {
	sess, err := m.Get(ctx, userID, tenantID)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if sess.ID == keep {
		return 0, nil
	}
	if err := m.remove(ctx, tenantID, userID, sess.ID); err != nil {
		return 0, err
	}
	return 1, nil
}

// Delete removes the live session regardless of id (logout path).
func (m *Manager) Delete(ctx context.Context, userID, tenantID uint) error {
	sess, err := m.Get(ctx, userID, tenantID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return m.remove(ctx, tenantID, userID, sess.ID)
}

// TenantSessions enumerates the live "userID:sessionID" index entries for a
// tenant.
func (m *Manager) TenantSessions(ctx context.Context, tenantID uint) (map[uint]string, error) {
	members, err := m.kv.SMembers(ctx, indexKey(tenantID))
	if err != nil {
		return nil, err
	}
	out := make(map[uint]string, len(members))
	for _, mem := range members {
		uidStr, sid, ok := strings.Cut(mem, ":")
		if !ok {
			continue
		}
		uid, err := strconv.ParseUint(uidStr, 10, 64)
		if err != nil {
			continue
		}
		out[uint(uid)] = sid
	}
	return out, nil
}

func (m *Manager) write(ctx context.Context, tenantID, userID uint, sess Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session encode: %w", err)
	}
	return m.kv.Set(ctx, sessionKey(tenantID, userID), string(raw), m.ttl)
}

func (m *Manager) remove(ctx context.Context, tenantID, userID uint, sessionID string) error {
	if err := m.kv.Del(ctx, sessionKey(tenantID, userID)); err != nil {
		return err
	}
	return m.kv.SRem(ctx, indexKey(tenantID), indexMember(userID, sessionID))
}
