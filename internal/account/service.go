// Package account orchestrates the authentication flows: registration,
// password login, wallet challenge/verify, logout, and profile access. It
// composes the credential verifier, token service, session manager, nonce
// registry, and audit pipeline; handlers translate its errors to HTTP.
package account

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"authgate/internal/audit"
	"authgate/internal/auth"
	"authgate/internal/models"
	"authgate/internal/nonce"
	"authgate/internal/session"
	"authgate/internal/store"
)

var (
	// ErrInvalidCredentials covers unknown user, wrong password, and
	// wallet-only accounts alike so responses cannot leak which one it was.
	ErrInvalidCredentials = errors.New("account: invalid credentials")
	ErrDuplicate          = errors.New("account: identity already registered")
	ErrInvalidChallenge   = errors.New("account: invalid or expired challenge")
	ErrSignatureInvalid   = errors.New("account: wallet signature rejected")
	ErrNotFound           = errors.New("account: not found")
)

var (
	emailPattern   = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// ValidationError carries field-level messages for the 400 envelope.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "account: validation failed: " + strings.Join(e.Fields, "; ")
}

// Meta is the request context attached to audit events.
type Meta struct {
	IP        string
	UserAgent string
}

// Result is a successful authentication outcome.
type Result struct {
	User      *models.User
	Token     string
	SessionID string
	Claims    *auth.Claims
}

type Service struct {
	users      store.UserStore
	activities store.ActivityStore
	tokens     *auth.TokenService
	sessions   *session.Manager
	nonces     *nonce.Registry
	audit      *audit.Pipeline
	lg         *zap.SugaredLogger
	now        func() time.Time
}

func NewService(users store.UserStore, activities store.ActivityStore, tokens *auth.TokenService,
	sessions *session.Manager, nonces *nonce.Registry, pipeline *audit.Pipeline, lg *zap.SugaredLogger) *Service {
	return &Service{
		users:      users,
		activities: activities,
		tokens:     tokens,
		sessions:   sessions,
		nonces:     nonces,
		audit:      pipeline,
		lg:         lg,
		now:        time.Now,
	}
}

// Register creates a password user inside the tenant and authenticates it.
func (s *Service) Register(ctx context.Context, tenantID uint, email, password, name string, meta Meta) (*Result, error) {
	var fields []string
	email = strings.TrimSpace(strings.ToLower(email))
	if !emailPattern.MatchString(email) {
		fields = append(fields, "email must be a valid address")
	}
	if len(password) < 8 {
		fields = append(fields, "password must be at least 8 characters")
	}
	if strings.TrimSpace(name) == "" {
		fields = append(fields, "name is required")
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &models.User{
		TenantID:     tenantID,
		Email:        &email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(name),
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	res, err := s.openFor(ctx, u, tenantID, auth.MethodPassword)
	if err != nil {
		return nil, err
	}
	s.audit.Log(audit.Event{
		UserID:    u.ID,
		TenantID:  tenantID,
		Action:    audit.ActionUserRegistered,
		SessionID: res.SessionID,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		TableName: "users",
		RecordID:  fmt.Sprint(u.ID),
		NewValues: map[string]any{"email": email, "name": u.Name},
	})
	return res, nil
}

// Login authenticates email+password inside the tenant. Every failure mode
// returns the same ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, tenantID uint, email, password string, meta Meta) (*Result, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	u, err := s.users.FindByEmail(ctx, tenantID, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.auditLoginFailure(tenantID, email, "unknown user", meta)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	// Wallet-only accounts have no password; refuse before bcrypt runs.
	if u.PasswordHash == "" {
		s.auditLoginFailure(tenantID, email, "password login disabled", meta)
		return nil, ErrInvalidCredentials
	}
	if err := auth.CheckPassword(u.PasswordHash, password); err != nil {
		s.auditLoginFailure(tenantID, email, "bad password", meta)
		return nil, ErrInvalidCredentials
	}

	res, err := s.openFor(ctx, u, tenantID, auth.MethodPassword)
	if err != nil {
		return nil, err
	}
	s.audit.Log(audit.Event{
		UserID:    u.ID,
		TenantID:  tenantID,
		Action:    audit.ActionUserLogin,
		SessionID: res.SessionID,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		Details:   map[string]any{"method": auth.MethodPassword},
	})
	return res, nil
}

// Challenge issues a wallet nonce for the address.
func (s *Service) Challenge(ctx context.Context, tenantID uint, address string, meta Meta) (*nonce.Issued, error) {
	if !addressPattern.MatchString(address) {
		return nil, &ValidationError{Fields: []string{"walletAddress must be a 0x-prefixed 20-byte hex address"}}
	}
	issued, err := s.nonces.Issue(address, tenantID)
	if err != nil {
		return nil, fmt.Errorf("issue challenge: %w", err)
	}
	s.audit.Log(audit.Event{
		TenantID:  tenantID,
		Action:    audit.ActionChallengeRequest,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		Details:   map[string]any{"wallet_address": strings.ToLower(address)},
	})
	return &issued, nil
}

// WalletVerify consumes the pending challenge, verifies the signature, and
// authenticates the wallet, creating the user on first success.
// providedNonce may be empty; the pending challenge then supplies it.
func (s *Service) WalletVerify(ctx context.Context, tenantID uint, address, signature, providedNonce string, meta Meta) (*Result, error) {
	if !addressPattern.MatchString(address) {
		return nil, &ValidationError{Fields: []string{"walletAddress must be a 0x-prefixed 20-byte hex address"}}
	}

	var ch nonce.Challenge
	var err error
	if providedNonce != "" {
		ch, err = s.nonces.Consume(address, providedNonce)
	} else {
		ch, err = s.nonces.ConsumeCurrent(address)
	}
	if err != nil {
		s.auditWalletFailure(tenantID, address, "challenge: "+err.Error(), meta)
		return nil, ErrInvalidChallenge
	}
	if ch.TenantID != tenantID {
		s.auditWalletFailure(tenantID, address, "challenge issued for another tenant", meta)
		return nil, ErrInvalidChallenge
	}

	err = auth.VerifyWalletSignature(address, signature, ch.Nonce, ch.IssuedAt, s.nonces.TTL(), s.now())
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrChallengeExpired):
		s.auditWalletFailure(tenantID, address, "challenge expired", meta)
		return nil, ErrInvalidChallenge
	default:
		s.auditWalletFailure(tenantID, address, "signature rejected", meta)
		return nil, ErrSignatureInvalid
	}

	lower := strings.ToLower(address)
	u, err := s.users.FindByWallet(ctx, tenantID, lower)
	created := false
	if errors.Is(err, store.ErrNotFound) {
		u = &models.User{
			TenantID:      tenantID,
			WalletAddress: &lower,
			Name:          walletName(lower),
			Verified:      true,
		}
		if err := s.users.Create(ctx, u); err != nil && !errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("create wallet user: %w", err)
		} else if errors.Is(err, store.ErrDuplicate) {
			// Raced another verify for the same wallet; re-read.
			if u, err = s.users.FindByWallet(ctx, tenantID, lower); err != nil {
				return nil, fmt.Errorf("lookup wallet user: %w", err)
			}
		} else {
			created = true
		}
	} else if err != nil {
		return nil, fmt.Errorf("lookup wallet user: %w", err)
	}

	res, err := s.openFor(ctx, u, tenantID, auth.MethodWallet)
	if err != nil {
		return nil, err
	}
	e := audit.Event{
		UserID:    u.ID,
		TenantID:  tenantID,
		Action:    audit.ActionWalletAuthSuccess,
		SessionID: res.SessionID,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		Details:   map[string]any{"wallet_address": lower, "created": created},
	}
	if created {
		e.TableName = "users"
		e.RecordID = fmt.Sprint(u.ID)
		e.NewValues = map[string]any{"wallet_address": lower, "name": u.Name}
	}
	s.audit.Log(e)
	return res, nil
}

// Logout revokes the presented token and deletes the session.
func (s *Service) Logout(ctx context.Context, claims *auth.Claims, token string, meta Meta) error {
	if err := s.tokens.Revoke(ctx, claims.UserID, token); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if err := s.sessions.Delete(ctx, claims.UserID, claims.TenantID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	s.audit.Log(audit.Event{
		UserID:    claims.UserID,
		TenantID:  claims.TenantID,
		Action:    audit.ActionUserLogout,
		SessionID: claims.SessionID,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
	})
	return nil
}

// Profile loads the current user.
func (s *Service) Profile(ctx context.Context, userID uint) (*models.User, error) {
	u, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return u, err
}

// UpdateProfile changes the display name, recording old and new values
// through the relational audit stream.
func (s *Service) UpdateProfile(ctx context.Context, claims *auth.Claims, name string, meta Meta) (*models.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Fields: []string{"name is required"}}
	}
	u, err := s.Profile(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	old := u.Name
	u.Name = name
	if err := s.users.Update(ctx, u); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	s.audit.Log(audit.Event{
		UserID:    u.ID,
		TenantID:  claims.TenantID,
		Action:    audit.ActionProfileUpdated,
		SessionID: claims.SessionID,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		TableName: "users",
		RecordID:  fmt.Sprint(u.ID),
		OldValues: map[string]any{"name": old},
		NewValues: map[string]any{"name": name},
	})
	return u, nil
}

// Activity returns the user's recent activity records.
func (s *Service) Activity(ctx context.Context, tenantID, userID uint, limit int) ([]models.ActivityRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.activities.RecentByUser(ctx, tenantID, userID, limit)
}

func (s *Service) openFor(ctx context.Context, u *models.User, tenantID uint, method string) (*Result, error) {
	snap := session.Snapshot{UserID: u.ID, Name: u.Name}
	if u.Email != nil {
		snap.Email = *u.Email
	}
	if u.WalletAddress != nil {
		snap.WalletAddress = *u.WalletAddress
	}
	sid, err := s.sessions.Open(ctx, u.ID, tenantID, snap)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	token, claims, err := s.tokens.Mint(u, tenantID, method, sid)
	if err != nil {
		return nil, err
	}
	if err := s.users.TouchLastLogin(ctx, u.ID, s.now()); err != nil {
		s.lg.Warnw("last-login update failed", "user_id", u.ID, "error", err)
	}
	return &Result{User: u, Token: token, SessionID: sid, Claims: claims}, nil
}

func (s *Service) auditLoginFailure(tenantID uint, email, reason string, meta Meta) {
	s.audit.Log(audit.Event{
		TenantID:  tenantID,
		Action:    audit.ActionFailedLogin,
		Severity:  audit.SeverityHigh,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		Details:   map[string]any{"email": email, "reason": reason},
	})
}

func (s *Service) auditWalletFailure(tenantID uint, address, reason string, meta Meta) {
	s.audit.Log(audit.Event{
		TenantID:  tenantID,
		Action:    audit.ActionWalletAuthFailed,
		Severity:  audit.SeverityHigh,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		Details:   map[string]any{"wallet_address": strings.ToLower(address), "reason": reason},
	})
}

// walletName derives a display name from the address prefix.
func walletName(address string) string {
	if len(address) > 10 {
		return "Wallet " + address[:10]
	}
	return "Wallet " + address
}
