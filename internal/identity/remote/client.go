// Package remote is the identity store backed by the hosted API served by
// cmd/api. The signed-in session is kept in a credential file so that a later
// process can restore it.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"

	"placement/internal/identity"
	"placement/internal/security"
)

const apiPrefix = "/api/v1"

type Store struct {
	baseURL    string
	httpClient *http.Client
	credFile   string
	log        zerolog.Logger

	mu      sync.Mutex
	session *savedSession
	current *identity.Broadcaster

	now   func() time.Time
	nonce func() string
}

var (
	_ identity.Store      = (*Store)(nil)
	_ identity.Reconciler = (*Store)(nil)
)

type Option func(*Store)

func WithHTTPClient(h *http.Client) Option {
	return func(s *Store) {
		if h != nil {
			s.httpClient = h
		}
	}
}

// WithTimeout bounds every request made by the store.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.httpClient.Timeout = d
		}
	}
}

// WithCredentialFile persists the session at path. Without it the session
// lives in memory only.
func WithCredentialFile(path string) Option {
	return func(s *Store) {
		s.credFile = strings.TrimSpace(path)
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

// New builds a store talking to the API at base.
func New(base string, opts ...Option) (*Store, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://127.0.0.1:8080"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}

	s := &Store{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        zerolog.Nop(),
		current:    identity.NewBroadcaster(),
		now:        time.Now,
		nonce:      func() string { return ksuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type request struct {
	method  string
	path    string
	query   url.Values
	body    any
	signed  bool
	session *savedSession // signs instead of the active session
}

// do sends one API request and decodes a JSON response into v when v is not
// nil. Signed requests carry the session's bearer token and signature.
func (s *Store) do(ctx context.Context, r request, v any) error {
	var payload []byte
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		payload = data
	}

	endpoint := s.baseURL + apiPrefix + r.path
	if len(r.query) > 0 {
		endpoint += "?" + r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	var sess *savedSession
	if r.signed {
		sess = r.session
		if sess == nil {
			sess = s.activeSession()
		}
		if sess == nil {
			return identity.ErrNotSignedIn
		}
		req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
		security.SignRequest(req, sess.SigningKey, sess.SessionID, payload, s.nonce(), s.now())
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := decodeError(resp)
		if sess != nil && apiErr.sessionGone() {
			s.dropSession(sess, "session rejected by server")
		}
		return apiErr
	}

	if v == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(data) == 0 {
		return apiErr
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}
	apiErr.Code = payload.Error
	apiErr.Message = payload.Message
	return apiErr
}

func (s *Store) activeSession() *savedSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	sess := *s.session
	return &sess
}
