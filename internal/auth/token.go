package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"authgate/internal/kv"
	"authgate/internal/models"
)

var (
	ErrTokenMalformed = errors.New("auth: malformed token")
	ErrTokenSignature = errors.New("auth: bad token signature")
	ErrTokenExpired   = errors.New("auth: token expired")
	ErrTenantMismatch = errors.New("auth: token issued for another tenant")
	ErrTokenRevoked   = errors.New("auth: token revoked")
)

const (
	MethodPassword = "password"
	MethodWallet   = "wallet"

	markBlacklisted = "blacklisted"
)

// Claims is the verified content of a bearer token.
type Claims struct {
	jwt.RegisteredClaims
	UserID        uint   `json:"uid"`
	Email         string `json:"email,omitempty"`
	WalletAddress string `json:"wallet,omitempty"`
	TenantID      uint   `json:"tid"`
	AuthMethod    string `json:"method"`
	SessionID     string `json:"sid,omitempty"`
}

// TokenService mints and verifies HS256 bearer tokens and tracks
// revocation marks in the key-value store.
type TokenService struct {
	secret   []byte
	lifetime time.Duration
	kv       kv.Store
	now      func() time.Time
}

func NewTokenService(secret string, lifetime time.Duration, store kv.Store) *TokenService {
	return &TokenService{secret: []byte(secret), lifetime: lifetime, kv: store, now: time.Now}
}

// Mint issues a token for the user within tenantID. sessionID binds the
// token to the session opened alongside it.
func (s *TokenService) Mint(u *models.User, tenantID uint, method, sessionID string) (string, *Claims, error) {
	now := s.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
		},
		UserID:     u.ID,
		TenantID:   tenantID,
		AuthMethod: method,
		SessionID:  sessionID,
	}
	if u.Email != nil {
		claims.Email = *u.Email
	}
	if u.WalletAddress != nil {
		claims.WalletAddress = *u.WalletAddress
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("mint token: %w", err)
	}
	return tok, claims, nil
}

// Verify checks signature, expiry, optional tenant match, and the
// revocation mark. expectedTenant 0 accepts any tenant. A blacklisted mark
// rejects the token even while it is otherwise valid.
func (s *TokenService) Verify(ctx context.Context, tokenStr string, expectedTenant uint) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, ErrTokenSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	default:
		return nil, ErrTokenMalformed
	}

	revoked, err := s.revoked(ctx, claims.UserID, tokenStr)
	if err != nil {
		return nil, fmt.Errorf("revocation check: %w", err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	if expectedTenant != 0 && claims.TenantID != expectedTenant {
		return nil, ErrTenantMismatch
	}
	return claims, nil
}

// Revoke blacklists the token for at least its remaining lifetime.
func (s *TokenService) Revoke(ctx context.Context, userID uint, tokenStr string) error {
	ttl := s.lifetime
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err == nil && claims.ExpiresAt != nil {
		if rem := claims.ExpiresAt.Sub(s.now()); rem > 0 {
			ttl = rem
		}
	}
	return s.kv.Set(ctx, markKey(userID, tokenStr), markBlacklisted, ttl)
}

func (s *TokenService) revoked(ctx context.Context, userID uint, tokenStr string) (bool, error) {
	v, err := s.kv.Get(ctx, markKey(userID, tokenStr))
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == markBlacklisted, nil
}

// markKey keys revocation marks by user id plus the signature tail. Tail
// collisions are tolerated: they stay inside one user's namespace, and the
// worst case is another token of the same user reading as revoked.
func markKey(userID uint, tokenStr string) string {
	sig := tokenStr
	if i := strings.LastIndexByte(tokenStr, '.'); i >= 0 {
		sig = tokenStr[i+1:]
	}
	if len(sig) > 16 {
		sig = sig[len(sig)-16:]
	}
	return fmt.Sprintf("jwt:%d:%s", userID, sig)
}
