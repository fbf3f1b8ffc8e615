package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"authgate/internal/account"
	"authgate/internal/audit"
	"authgate/internal/auth"
	"authgate/internal/kv"
	"authgate/internal/models"
	"authgate/internal/nonce"
	"authgate/internal/ratelimit"
	"authgate/internal/session"
	"authgate/internal/store"
)

type memUsers struct {
	mu     sync.Mutex
	nextID uint
	users  map[uint]*models.User
}

func newMemUsers() *memUsers { return &memUsers{nextID: 1, users: map[uint]*models.User{}} }

func (m *memUsers) Create(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.users {
		if e.TenantID != u.TenantID {
			continue
		}
		if u.Email != nil && e.Email != nil && *e.Email == *u.Email {
			return store.ErrDuplicate
		}
		if u.WalletAddress != nil && e.WalletAddress != nil && *e.WalletAddress == *u.WalletAddress {
			return store.ErrDuplicate
		}
	}
	u.ID = m.nextID
	m.nextID++
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) FindByID(_ context.Context, id uint) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (m *memUsers) FindByEmail(_ context.Context, tenantID uint, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.TenantID == tenantID && u.Email != nil && *u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memUsers) FindByWallet(_ context.Context, tenantID uint, address string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.TenantID == tenantID && u.WalletAddress != nil && *u.WalletAddress == address {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memUsers) Update(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) TouchLastLogin(_ context.Context, id uint, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.LastLoginAt = &at
	}
	return nil
}

type memTenants struct {
	mu      sync.Mutex
	tenants map[uint]*models.Tenant
}

func newMemTenants(slugs ...string) *memTenants {
	m := &memTenants{tenants: map[uint]*models.Tenant{}}
	for i, slug := range slugs {
		id := uint(i + 1)
		m.tenants[id] = &models.Tenant{ID: id, Slug: slug, Status: "active"}
	}
	return m
}

func (m *memTenants) FindByID(_ context.Context, id uint) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tenants[id]; ok {
		return t, nil
	}
	return nil, store.ErrNotFound
}

func (m *memTenants) FindBySlug(_ context.Context, slug string) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		if t.Slug == slug {
			return t, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memTenants) EnsureDefault(ctx context.Context, slug string) (*models.Tenant, error) {
	if t, err := m.FindBySlug(ctx, slug); err == nil {
		return t, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uint(len(m.tenants) + 1)
	t := &models.Tenant{ID: id, Slug: slug, Status: "active"}
	m.tenants[id] = t
	return t, nil
}

type memActivities struct {
	mu      sync.Mutex
	records []models.ActivityRecord
}

func (m *memActivities) InsertBatch(_ context.Context, records []models.ActivityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	return nil
}

func (m *memActivities) RecentByUser(_ context.Context, tenantID, userID uint, limit int) ([]models.ActivityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ActivityRecord
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		r := m.records[i]
		if r.TenantID == tenantID && r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memActivities) snapshot() []models.ActivityRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ActivityRecord(nil), m.records...)
}

type memAudits struct {
	mu   sync.Mutex
	rows []models.AuditRecord
}

func (m *memAudits) InsertBatch(_ context.Context, rows []models.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, rows...)
	return nil
}

type env struct {
	srv        *httptest.Server
	mr         *miniredis.Miniredis
	users      *memUsers
	activities *memActivities
	tokens     *auth.TokenService
	sessions   *session.Manager
}

func newEnv(t *testing.T, loginLimit int) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	kvStore := kv.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	lg := zap.NewNop().Sugar()

	users := newMemUsers()
	tenants := newMemTenants("default", "acme")
	activities := &memActivities{}
	audits := &memAudits{}

	pipeline := audit.NewPipeline(activities, audits, kvStore, lg, 1, time.Second)
	t.Cleanup(pipeline.Close)

	tokens := auth.NewTokenService("router-test-secret", time.Hour, kvStore)
	sessions := session.NewManager(kvStore, time.Hour)
	nonces := nonce.NewRegistry(5 * time.Minute)
	svc := account.NewService(users, activities, tokens, sessions, nonces, pipeline, lg)
	limiter := ratelimit.New(kvStore, 15*time.Minute, 100, map[string]int{"login": loginLimit})

	router := NewRouter(Deps{
		Accounts:      svc,
		Tokens:        tokens,
		Sessions:      sessions,
		Tenants:       tenants,
		Limiter:       limiter,
		Pipeline:      pipeline,
		Log:           lg,
		DefaultTenant: 1,
		SlowRequest:   time.Second,
		LargeResponse: 1 << 20,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &env{srv: srv, mr: mr, users: users, activities: activities, tokens: tokens, sessions: sessions}
}

func (e *env) do(t *testing.T, method, path, token string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func registerUser(t *testing.T, e *env, email string) (token string) {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": email, "password": "Passw0rd!", "name": "Tester",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	tok, _ := body["token"].(string)
	require.NotEmpty(t, tok)
	return tok
}

func waitForActivity(t *testing.T, acts *memActivities, match func(models.ActivityRecord) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, rec := range acts.snapshot() {
			if match(rec) {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no matching activity record; saw %+v", acts.snapshot())
}

func TestHealthz(t *testing.T) {
	e := newEnv(t, 10)
	resp, body := e.do(t, http.MethodGet, "/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestRegisterLoginProfile(t *testing.T) {
	e := newEnv(t, 10)
	registerUser(t, e, "a@x.io")

	resp, body := e.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "a@x.io", "password": "Passw0rd!",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := body["token"].(string)
	assert.NotEmpty(t, body["sessionId"])

	resp, body = e.do(t, http.MethodGet, "/auth/profile", token, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	profile := body["profile"].(map[string]any)
	assert.Equal(t, "a@x.io", profile["email"])
}

func TestLoginFailureBodiesIdentical(t *testing.T) {
	e := newEnv(t, 10)
	registerUser(t, e, "a@x.io")

	resp1, body1 := e.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "a@x.io", "password": "wrong-password",
	}, nil)
	resp2, body2 := e.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "missing@x.io", "password": "whatever",
	}, nil)

	assert.Equal(t, http.StatusUnauthorized, resp1.StatusCode)
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
	assert.Equal(t, map[string]any{"error": "Invalid email or password"}, body1)
	assert.Equal(t, body1, body2)
}

func TestRegisterValidationAndDuplicate(t *testing.T) {
	e := newEnv(t, 10)

	resp, body := e.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "nope", "password": "x", "name": "",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Validation failed", body["error"])
	assert.Len(t, body["details"], 3)

	registerUser(t, e, "a@x.io")
	resp, body = e.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "a@x.io", "password": "Passw0rd!", "name": "Again",
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "Email already registered", body["error"])
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	e := newEnv(t, 10)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/auth/profile"},
		{http.MethodPost, "/auth/logout"},
		{http.MethodGet, "/auth/sessions"},
		{http.MethodGet, "/auth/activity"},
	} {
		resp, body := e.do(t, tc.method, tc.path, "", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "%s %s", tc.method, tc.path)
		assert.Equal(t, "Authentication required", body["error"])
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	e := newEnv(t, 10)
	token := registerUser(t, e, "a@x.io")

	resp, body := e.do(t, http.MethodPost, "/auth/logout", token, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Logged out successfully", body["message"])

	resp, body = e.do(t, http.MethodGet, "/auth/profile", token, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid or expired token", body["error"])
}

func TestVerifyIntrospection(t *testing.T) {
	e := newEnv(t, 10)
	token := registerUser(t, e, "a@x.io")

	resp, body := e.do(t, http.MethodGet, "/auth/verify", token, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "a@x.io", body["email"])
	assert.Equal(t, auth.MethodPassword, body["authMethod"])
}

func TestTenantMismatchForbidden(t *testing.T) {
	e := newEnv(t, 10)
	token := registerUser(t, e, "a@x.io") // default tenant 1

	resp, body := e.do(t, http.MethodGet, "/auth/profile", token, nil, map[string]string{
		"X-Tenant-ID": "acme",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Token not valid for this tenant", body["error"])
}

func TestUnknownTenantRejected(t *testing.T) {
	e := newEnv(t, 10)
	resp, body := e.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "a@x.io", "password": "x",
	}, map[string]string{"X-Tenant-ID": "ghost"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Unknown tenant", body["error"])
}

func TestTenantIsolationByEmail(t *testing.T) {
	e := newEnv(t, 10)
	registerUser(t, e, "a@x.io")

	// The same email registers cleanly under another tenant.
	resp, _ := e.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "a@x.io", "password": "Passw0rd!", "name": "Other",
	}, map[string]string{"X-Tenant-ID": "acme"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// Logging into the wrong tenant fails like a bad password.
	resp, body := e.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "a@x.io", "password": "Passw0rd!",
	}, map[string]string{"X-Tenant-ID": "3"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Unknown tenant", body["error"])
}

func TestRateLimitOnLoginClass(t *testing.T) {
	e := newEnv(t, 3)

	var last *http.Response
	var body map[string]any
	for i := 0; i < 4; i++ {
		last, body = e.do(t, http.MethodPost, "/auth/login", "", map[string]string{
			"email": "a@x.io", "password": "wrong",
		}, nil)
	}
	require.Equal(t, http.StatusTooManyRequests, last.StatusCode)
	assert.Equal(t, "Too many requests", body["error"])
	assert.Greater(t, body["retryAfter"].(float64), float64(0))
	assert.NotEmpty(t, last.Header.Get("Retry-After"))

	// A different tenant keeps its own window.
	resp, _ := e.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "a@x.io", "password": "wrong",
	}, map[string]string{"X-Tenant-ID": "acme"})
	assert.NotEqual(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestWalletAuthFlowOverHTTP(t *testing.T) {
	e := newEnv(t, 10)

	resp, body := e.do(t, http.MethodPost, "/auth/wallet-auth", "", map[string]string{
		"walletAddress": "0x1111111111111111111111111111111111111111",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["nonce"])
	msg, _ := body["message"].(string)
	assert.True(t, strings.Contains(msg, "Nonce: "+body["nonce"].(string)))

	// A garbage signature consumes the challenge and is rejected.
	resp, body = e.do(t, http.MethodPost, "/auth/verify", "", map[string]string{
		"walletAddress": "0x1111111111111111111111111111111111111111",
		"signature":     "0xdeadbeef",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid wallet signature", body["error"])

	// Replaying after consumption reports an expired challenge.
	resp, body = e.do(t, http.MethodPost, "/auth/verify", "", map[string]string{
		"walletAddress": "0x1111111111111111111111111111111111111111",
		"signature":     "0xdeadbeef",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid or expired challenge", body["error"])
}

func TestSessionEndpoints(t *testing.T) {
	e := newEnv(t, 10)
	token := registerUser(t, e, "a@x.io")

	resp, body := e.do(t, http.MethodGet, "/auth/sessions", token, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessions := body["sessions"].([]any)
	require.Len(t, sessions, 1)
	current := sessions[0].(map[string]any)
	assert.Equal(t, true, current["current"])
	sid := current["session_id"].(string)

	resp, body = e.do(t, http.MethodDelete, "/auth/sessions/unknown-id", token, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Session not found", body["error"])

	resp, _ = e.do(t, http.MethodDelete, "/auth/sessions", token, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Revoking the current session kills the token binding.
	resp, _ = e.do(t, http.MethodDelete, fmt.Sprintf("/auth/sessions/%s", sid), token, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = e.do(t, http.MethodGet, "/auth/profile", token, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUpdateProfileAndActivity(t *testing.T) {
	e := newEnv(t, 10)
	token := registerUser(t, e, "a@x.io")

	resp, body := e.do(t, http.MethodPut, "/auth/profile", token, map[string]string{"name": "Renamed"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Renamed", body["profile"].(map[string]any)["name"])

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, body = e.do(t, http.MethodGet, "/auth/activity", token, nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		if acts, ok := body["activities"].([]any); ok && len(acts) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no activity records surfaced")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAPIEventsCarryResolvedTenant(t *testing.T) {
	e := newEnv(t, 10)

	// Tenant named via header: the failed-login API event belongs to it.
	resp, _ := e.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "ghost@x.io", "password": "wrong",
	}, map[string]string{"X-Tenant-ID": "2"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	waitForActivity(t, e.activities, func(rec models.ActivityRecord) bool {
		return rec.Action == audit.ActionLoginFailed && rec.TenantID == 2
	})
	assert.True(t, e.mr.Exists("activity:tenant:2"))

	// No header: the default tenant is attributed, never tenant 0.
	resp, _ = e.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "ghost@x.io", "password": "wrong",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	waitForActivity(t, e.activities, func(rec models.ActivityRecord) bool {
		return rec.Action == audit.ActionLoginFailed && rec.TenantID == 1
	})
}

func TestSessionExpiryInvalidatesToken(t *testing.T) {
	e := newEnv(t, 10)
	token := registerUser(t, e, "a@x.io")

	e.mr.FastForward(2 * time.Hour)
	resp, body := e.do(t, http.MethodGet, "/auth/profile", token, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid or expired token", body["error"])
}
