package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"placement/internal/config"
	"placement/internal/models"
	"placement/internal/repository/repotest"
	"placement/internal/security"
	"placement/internal/service"
	"placement/internal/tasks"
)

type countingLimiter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[key]++
	if l.counts[key] > limit {
		return false, window, nil
	}
	return true, 0, nil
}

type memoryNonces struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func (n *memoryNonces) Claim(_ context.Context, key string, _ time.Duration) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.seen[key]; ok {
		return false, nil
	}
	n.seen[key] = struct{}{}
	return true, nil
}

type discardQueue struct{}

func (discardQueue) Enqueue(context.Context, tasks.Task) error { return nil }

type testAPI struct {
	t      *testing.T
	db     *repotest.DB
	router *gin.Engine
	nonce  int
}

type session struct {
	AccessToken string `json:"accessToken"`
	SessionID   string `json:"sessionId"`
	SigningKey  string `json:"signingKey"`
	Credential  struct {
		ID    string `json:"credentialId"`
		Email string `json:"email"`
	} `json:"credential"`
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.AppConfig{
		Environment: "test",
		Security: config.SecurityConfig{
			JWTAccessSecret: "access-secret",
			JWTAccessTTL:    time.Hour,
			SignatureSecret: "signature-secret",
			SignatureSkew:   5 * time.Minute,
			MaxSessions:     5,
		},
		RateLimit: config.RateLimitConfig{LoginAttempts: 3, LoginWindow: time.Minute},
	}
	db := repotest.New()
	log := zerolog.Nop()

	h := HandlerSet{
		log:      log,
		cfg:      cfg,
		auth:     service.NewAuthService(db.Credentials(), db.Sessions(), db.Accounts(), cfg, log),
		records:  service.NewRecordService(db.Accounts(), db.Profiles(), db.Credentials(), nil, discardQueue{}, log),
		accounts: db.Accounts(),
		limiter:  &countingLimiter{counts: make(map[string]int)},
		nonces:   &memoryNonces{seen: make(map[string]struct{})},
		checks: []healthCheck{
			{name: "database", check: func(context.Context) error { return nil }},
		},
	}

	router := gin.New()
	h.Register(router.Group("/api"))
	return &testAPI{t: t, db: db, router: router}
}

func (a *testAPI) do(method, path string, body any, sess *session) *httptest.ResponseRecorder {
	a.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(a.t, err)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if sess != nil {
		a.nonce++
		req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
		security.SignRequest(req, sess.SigningKey, sess.SessionID, payload, fmt.Sprintf("nonce-%d", a.nonce), time.Now())
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) createCredential(email string) *session {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/v1/credentials", map[string]string{"email": email, "password": "secret1"}, nil)
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())

	var sess session
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &sess))
	return &sess
}

// account signs up email and stores its account record directly.
func (a *testAPI) account(email string, role models.Role, status models.Status) *session {
	a.t.Helper()
	sess := a.createCredential(email)
	require.NoError(a.t, a.db.Accounts().Put(context.Background(), models.Account{
		ID:               sess.Credential.ID,
		Name:             email,
		Email:            email,
		Role:             role,
		Status:           status,
		CredentialLinked: true,
	}))
	return sess
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestCredentialFlow(t *testing.T) {
	api := newTestAPI(t)
	sess := api.createCredential("ana@example.com")
	assert.NotEmpty(t, sess.SigningKey)

	rec := api.do(http.MethodPost, "/api/v1/credentials", map[string]string{"email": "ana@example.com", "password": "secret1"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeEmailTaken, errorCode(t, rec))

	rec = api.do(http.MethodGet, "/api/v1/credentials/me", nil, sess)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), sess.Credential.ID)

	rec = api.do(http.MethodPost, "/api/v1/credentials/sign-out", nil, sess)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(http.MethodGet, "/api/v1/credentials/me", nil, sess)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeInvalidToken, errorCode(t, rec))

	rec = api.do(http.MethodPost, "/api/v1/credentials/sign-in", map[string]string{"email": "ana@example.com", "password": "wrong1"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeInvalidCredentials, errorCode(t, rec))

	rec = api.do(http.MethodPost, "/api/v1/credentials/sign-in", map[string]string{"email": "ana@example.com", "password": "secret1"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSignedRoutesRejectBadSignatures(t *testing.T) {
	api := newTestAPI(t)
	sess := api.createCredential("ana@example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/credentials/me", nil)
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "signature_required", errorCode(t, rec))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/credentials/me", nil)
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	security.SignRequest(req, "wrong-key", sess.SessionID, nil, "n-1", time.Now())
	rec = httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	assert.Equal(t, "invalid_signature", errorCode(t, rec))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/credentials/me", nil)
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	security.SignRequest(req, sess.SigningKey, sess.SessionID, nil, "n-2", time.Now())
	rec = httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	assert.Equal(t, "replay_detected", errorCode(t, rec))
}

func TestSignInIsRateLimited(t *testing.T) {
	api := newTestAPI(t)
	body := map[string]string{"email": "nobody@example.com", "password": "secret1"}

	for i := 0; i < 3; i++ {
		rec := api.do(http.MethodPost, "/api/v1/credentials/sign-in", body, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := api.do(http.MethodPost, "/api/v1/credentials/sign-in", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRecordRoutes(t *testing.T) {
	api := newTestAPI(t)
	student := api.createCredential("stu@example.com")
	coordinator := api.account("coord@example.com", models.RoleCoordinator, models.StatusApproved)

	rec := api.do(http.MethodPut, "/api/v1/records/accounts/"+student.Credential.ID, models.Account{
		Name:   "Stu",
		Role:   models.RoleStudent,
		Status: models.StatusApproved,
	}, student)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var put struct {
		Account models.Account `json:"account"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &put))
	assert.Equal(t, models.StatusPending, put.Account.Status)
	assert.Equal(t, "stu@example.com", put.Account.Email)

	rec = api.do(http.MethodGet, "/api/v1/records/accounts?role=student", nil, student)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodGet, "/api/v1/records/accounts?role=student", nil, coordinator)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Accounts []models.Account `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Accounts, 1)

	rec = api.do(http.MethodGet, "/api/v1/records/accounts?role=manager", nil, coordinator)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidRequest, errorCode(t, rec))

	rec = api.do(http.MethodPatch, "/api/v1/records/accounts/"+student.Credential.ID, map[string]string{"status": "approved"}, coordinator)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(http.MethodGet, "/api/v1/records/accounts/"+student.Credential.ID, nil, student)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"approved"`)

	rec = api.do(http.MethodGet, "/api/v1/records/profiles/"+student.Credential.ID, nil, coordinator)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(http.MethodPut, "/api/v1/records/profiles/"+student.Credential.ID, models.StudentProfile{Branch: "CSE"}, student)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(http.MethodDelete, "/api/v1/records/accounts/"+student.Credential.ID, nil, coordinator)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodPost, "/api/v1/credentials/"+student.Credential.ID+"/reconcile", map[string]string{"reason": "test"}, student)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHealthReportsFailingComponent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := HandlerSet{
		log: zerolog.Nop(),
		cfg: &config.AppConfig{Environment: "test"},
		checks: []healthCheck{
			{name: "database", check: func(context.Context) error { return nil }},
			{name: "cache", check: func(context.Context) error { return errors.New("down") }},
		},
	}
	router := gin.New()
	router.GET("/healthz", h.Health)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, map[string]string{"database": "ok", "cache": "error"}, body.Components)
}
