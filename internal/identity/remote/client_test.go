package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"placement/internal/core"
	"placement/internal/identity"
	"placement/internal/models"
	"placement/internal/security"
)

type fakeSession struct {
	token        string
	credentialID string
	email        string
	sessionID    string
	signingKey   string
}

// fakeAPI mimics the credential and record routes of the hosted API closely
// enough to exercise the client: bearer tokens, request signatures and the
// error body.
type fakeAPI struct {
	t *testing.T

	mu         sync.Mutex
	passwords  map[string]string
	sessions   map[string]fakeSession
	accounts   map[string]models.Account
	reconciles []string
	signOutErr bool
	requests   int
	issued     int
	signedOut  []string
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	api := &fakeAPI{
		t:         t,
		passwords: map[string]string{"ana@example.com": "secret1", "rita@example.com": "secret2"},
		sessions:  make(map[string]fakeSession),
		accounts:  make(map[string]models.Account),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/credentials/sign-in", api.signIn)
	mux.HandleFunc("POST /api/v1/credentials/sign-out", api.authed(api.signOut))
	mux.HandleFunc("GET /api/v1/credentials/me", api.authed(api.me))
	mux.HandleFunc("POST /api/v1/credentials/{id}/reconcile", api.authed(api.reconcile))
	mux.HandleFunc("GET /api/v1/records/accounts/{id}", api.authed(api.getAccount))
	mux.HandleFunc("PUT /api/v1/records/accounts/{id}", api.authed(api.putAccount))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		api.requests++
		api.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return api, srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *fakeAPI) signIn(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	require.NoError(a.t, json.NewDecoder(r.Body).Decode(&req))

	a.mu.Lock()
	defer a.mu.Unlock()
	if req.Email == "record@example.com" {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "credential_not_provisioned", "message": "credential not provisioned"})
		return
	}
	if a.passwords[req.Email] != req.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_credentials", "message": "invalid credentials"})
		return
	}

	a.issued++
	n := strconv.Itoa(a.issued)
	sess := fakeSession{
		token:        "token-" + n,
		credentialID: "cred-" + strings.TrimSuffix(req.Email, "@example.com"),
		email:        req.Email,
		sessionID:    "sess-" + n,
		signingKey:   "key-" + n,
	}
	a.sessions[sess.token] = sess
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken": sess.token,
		"sessionId":   sess.sessionID,
		"signingKey":  sess.signingKey,
		"expiresAt":   time.Now().Add(time.Hour),
		"credential":  map[string]string{"credentialId": sess.credentialID, "email": sess.email},
	})
}

func (a *fakeAPI) authed(next func(http.ResponseWriter, *http.Request, fakeSession)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		a.mu.Lock()
		sess, ok := a.sessions[token]
		a.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
			return
		}

		body, err := io.ReadAll(r.Body)
		require.NoError(a.t, err)
		date, nonce, sig, err := security.ExtractSignatureHeaders(r.Header)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "signature_required"})
			return
		}
		path, query := security.CanonicalPath(r)
		if !security.ValidateSignature(sess.signingKey, sess.sessionID, sig, r.Method, path, query, body, date, nonce) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_signature"})
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next(w, r, sess)
	}
}

func (a *fakeAPI) signOut(w http.ResponseWriter, _ *http.Request, sess fakeSession) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.signOutErr {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	delete(a.sessions, sess.token)
	a.signedOut = append(a.signedOut, sess.sessionID)
	w.WriteHeader(http.StatusNoContent)
}

func (a *fakeAPI) me(w http.ResponseWriter, _ *http.Request, sess fakeSession) {
	writeJSON(w, http.StatusOK, map[string]any{
		"credential": map[string]string{"credentialId": sess.credentialID, "email": sess.email},
	})
}

func (a *fakeAPI) reconcile(w http.ResponseWriter, r *http.Request, _ fakeSession) {
	var req struct {
		Reason string `json:"reason"`
	}
	require.NoError(a.t, json.NewDecoder(r.Body).Decode(&req))
	a.mu.Lock()
	a.reconciles = append(a.reconciles, r.PathValue("id")+":"+req.Reason)
	a.mu.Unlock()
	w.WriteHeader(http.StatusAccepted)
}

func (a *fakeAPI) getAccount(w http.ResponseWriter, r *http.Request, _ fakeSession) {
	a.mu.Lock()
	acc, ok := a.accounts[r.PathValue("id")]
	a.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "message": "record not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": acc})
}

func (a *fakeAPI) putAccount(w http.ResponseWriter, r *http.Request, _ fakeSession) {
	var acc models.Account
	require.NoError(a.t, json.NewDecoder(r.Body).Decode(&acc))
	if acc.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request", "message": "name is required"})
		return
	}
	a.mu.Lock()
	a.accounts[r.PathValue("id")] = acc
	a.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"account": acc})
}

func (a *fakeAPI) requestCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests
}

func newTestStore(t *testing.T, srv *httptest.Server, credFile string) *Store {
	t.Helper()
	store, err := New(srv.URL, WithHTTPClient(srv.Client()), WithCredentialFile(credFile), WithTimeout(5*time.Second))
	require.NoError(t, err)
	return store
}

func recvEvent(t *testing.T, ch <-chan identity.CredentialEvent) identity.CredentialEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no credential event")
		return identity.CredentialEvent{}
	}
}

func TestSignInPersistsAndRestores(t *testing.T) {
	_, srv := newFakeAPI(t)
	credFile := filepath.Join(t.TempDir(), "portal", "credential.json")
	ctx := context.Background()

	store := newTestStore(t, srv, credFile)
	cred, err := store.SignIn(ctx, "ana@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "cred-ana", cred.ID)

	info, err := os.Stat(credFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	restored := newTestStore(t, srv, credFile)
	events := restored.Watch(t.Context())
	assert.False(t, recvEvent(t, events).SignedIn())

	require.NoError(t, restored.Restore(ctx))
	ev := recvEvent(t, events)
	require.True(t, ev.SignedIn())
	assert.Equal(t, "cred-ana", ev.Credential.ID)
	assert.Equal(t, "ana@example.com", ev.Credential.Email)
}

func TestSignInErrorsMapToIdentityErrors(t *testing.T) {
	_, srv := newFakeAPI(t)
	store := newTestStore(t, srv, "")

	_, err := store.SignIn(context.Background(), "ana@example.com", "wrong")
	require.ErrorIs(t, err, identity.ErrInvalidCredentials)

	_, err = store.SignIn(context.Background(), "record@example.com", "whatever")
	require.ErrorIs(t, err, identity.ErrCredentialNotProvisioned)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Nil(t, store.Current())
}

func TestSignedRecordsRoundTrip(t *testing.T) {
	_, srv := newFakeAPI(t)
	store := newTestStore(t, srv, "")
	ctx := context.Background()

	_, err := store.SignIn(ctx, "ana@example.com", "secret1")
	require.NoError(t, err)

	_, err = store.GetAccount(ctx, "cred-ana")
	require.ErrorIs(t, err, identity.ErrNotFound)

	err = store.PutAccount(ctx, models.Account{ID: "cred-ana", Role: models.RoleStudent})
	require.ErrorIs(t, err, core.ErrValidation)

	require.NoError(t, store.PutAccount(ctx, models.Account{ID: "cred-ana", Name: "Ana", Role: models.RoleStudent}))
	acc, err := store.GetAccount(ctx, "cred-ana")
	require.NoError(t, err)
	assert.Equal(t, "Ana", acc.Name)
}

func TestReconcileSendsReason(t *testing.T) {
	api, srv := newFakeAPI(t)
	store := newTestStore(t, srv, "")
	ctx := context.Background()

	_, err := store.SignIn(ctx, "ana@example.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, store.Reconcile(ctx, "cred-x", "account write failed"))

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, []string{"cred-x:account write failed"}, api.reconciles)
}

func TestSignedCallsRequireSession(t *testing.T) {
	api, srv := newFakeAPI(t)
	store := newTestStore(t, srv, "")

	_, err := store.GetAccount(context.Background(), "cred-ana")
	require.ErrorIs(t, err, identity.ErrNotSignedIn)
	assert.Zero(t, api.requestCount())

	require.NoError(t, store.SignOut(context.Background()))
	assert.Zero(t, api.requestCount())
}

func TestSignOutDropsLocalSessionOnServerFailure(t *testing.T) {
	api, srv := newFakeAPI(t)
	credFile := filepath.Join(t.TempDir(), "credential.json")
	store := newTestStore(t, srv, credFile)
	ctx := context.Background()

	_, err := store.SignIn(ctx, "ana@example.com", "secret1")
	require.NoError(t, err)

	api.mu.Lock()
	api.signOutErr = true
	api.mu.Unlock()

	err = store.SignOut(ctx)
	require.Error(t, err)
	assert.Nil(t, store.Current())
	_, statErr := os.Stat(credFile)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestSignInEndsPreviousSession(t *testing.T) {
	api, srv := newFakeAPI(t)
	credFile := filepath.Join(t.TempDir(), "credential.json")
	store := newTestStore(t, srv, credFile)
	ctx := context.Background()

	_, err := store.SignIn(ctx, "ana@example.com", "secret1")
	require.NoError(t, err)
	cred, err := store.SignIn(ctx, "rita@example.com", "secret2")
	require.NoError(t, err)
	assert.Equal(t, "cred-rita", cred.ID)
	assert.Equal(t, "cred-rita", store.Current().ID)

	api.mu.Lock()
	assert.Equal(t, []string{"sess-1"}, api.signedOut)
	assert.Len(t, api.sessions, 1)
	assert.Contains(t, api.sessions, "token-2")
	api.signOutErr = true
	api.mu.Unlock()

	// A failed revoke does not undo the new sign-in.
	cred, err = store.SignIn(ctx, "ana@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "cred-ana", cred.ID)

	restored := newTestStore(t, srv, credFile)
	require.NoError(t, restored.Restore(ctx))
	require.NotNil(t, restored.Current())
	assert.Equal(t, "cred-ana", restored.Current().ID)
}

func TestRestoreDropsRejectedSession(t *testing.T) {
	api, srv := newFakeAPI(t)
	credFile := filepath.Join(t.TempDir(), "credential.json")
	ctx := context.Background()

	store := newTestStore(t, srv, credFile)
	_, err := store.SignIn(ctx, "ana@example.com", "secret1")
	require.NoError(t, err)

	api.mu.Lock()
	delete(api.sessions, "token-1")
	api.mu.Unlock()

	restored := newTestStore(t, srv, credFile)
	require.NoError(t, restored.Restore(ctx))
	assert.Nil(t, restored.Current())
	_, statErr := os.Stat(credFile)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestRestoreSkipsExpiredSession(t *testing.T) {
	api, srv := newFakeAPI(t)
	credFile := filepath.Join(t.TempDir(), "credential.json")

	data, err := json.Marshal(savedSession{
		CredentialID: "cred-ana",
		Email:        "ana@example.com",
		AccessToken:  "token-1",
		SessionID:    "sess-1",
		SigningKey:   "key-1",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(credFile, data, 0o600))

	store := newTestStore(t, srv, credFile)
	require.NoError(t, store.Restore(context.Background()))
	assert.Nil(t, store.Current())
	assert.Zero(t, api.requestCount())
}

func TestAPIErrorUnwrap(t *testing.T) {
	tests := []struct {
		name string
		err  *APIError
		want error
	}{
		{name: "email taken", err: &APIError{Status: 409, Code: "email_taken"}, want: identity.ErrEmailTaken},
		{name: "forbidden", err: &APIError{Status: 403, Code: "forbidden"}, want: identity.ErrForbidden},
		{name: "rate limited", err: &APIError{Status: 429, Code: "rate_limited"}, want: identity.ErrRateLimited},
		{name: "bad signature", err: &APIError{Status: 401, Code: "invalid_signature"}, want: identity.ErrNotSignedIn},
		{name: "bare 404", err: &APIError{Status: 404}, want: identity.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.want)
		})
	}

	assert.NoError(t, (&APIError{Status: 500, Code: "internal_error"}).Unwrap())
}
