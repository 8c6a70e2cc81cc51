package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"placement/internal/identity"
)

// savedSession is the content of the credential file.
type savedSession struct {
	CredentialID string    `json:"credentialId"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"accessToken"`
	SessionID    string    `json:"sessionId"`
	SigningKey   string    `json:"signingKey"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

func (s savedSession) credential() *identity.Credential {
	return &identity.Credential{ID: s.CredentialID, Email: s.Email}
}

type sessionResponse struct {
	AccessToken string              `json:"accessToken"`
	SessionID   string              `json:"sessionId"`
	SigningKey  string              `json:"signingKey"`
	ExpiresAt   time.Time           `json:"expiresAt"`
	Credential  identity.Credential `json:"credential"`
}

type credentialRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	DeviceName string `json:"deviceName,omitempty"`
}

// Restore loads the credential file and checks the saved session with the
// server. A missing, expired or rejected session leaves the store signed out.
// Transport failures are returned and the file is kept.
func (s *Store) Restore(ctx context.Context) error {
	sess, err := s.readCredentialFile()
	if err != nil {
		return err
	}
	if sess == nil {
		s.current.Set(nil)
		return nil
	}
	if !sess.ExpiresAt.IsZero() && !s.now().Before(sess.ExpiresAt) {
		s.log.Info().Str("credential_id", sess.CredentialID).Msg("saved session expired")
		s.dropSession(sess, "saved session expired")
		return nil
	}

	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()

	var resp struct {
		Credential identity.Credential `json:"credential"`
	}
	if err := s.do(ctx, request{method: http.MethodGet, path: "/credentials/me", signed: true}, &resp); err != nil {
		if errors.Is(err, identity.ErrNotSignedIn) {
			s.dropSession(sess, "saved session rejected")
			return nil
		}
		s.mu.Lock()
		s.session = nil
		s.mu.Unlock()
		return fmt.Errorf("restore session: %w", err)
	}

	s.current.Set(sess.credential())
	return nil
}

func (s *Store) CreateCredential(ctx context.Context, email, password string) (identity.Credential, error) {
	return s.startSession(ctx, "/credentials", email, password)
}

func (s *Store) SignIn(ctx context.Context, email, password string) (identity.Credential, error) {
	return s.startSession(ctx, "/credentials/sign-in", email, password)
}

func (s *Store) startSession(ctx context.Context, path, email, password string) (identity.Credential, error) {
	var resp sessionResponse
	err := s.do(ctx, request{
		method: http.MethodPost,
		path:   path,
		body:   credentialRequest{Email: email, Password: password, DeviceName: deviceName()},
	}, &resp)
	if err != nil {
		return identity.Credential{}, err
	}

	sess := &savedSession{
		CredentialID: resp.Credential.ID,
		Email:        resp.Credential.Email,
		AccessToken:  resp.AccessToken,
		SessionID:    resp.SessionID,
		SigningKey:   resp.SigningKey,
		ExpiresAt:    resp.ExpiresAt,
	}
	s.mu.Lock()
	previous := s.session
	s.session = sess
	s.mu.Unlock()

	if err := s.writeCredentialFile(sess); err != nil {
		s.log.Warn().Err(err).Str("path", s.credFile).Msg("persist credential failed")
	}
	s.current.Set(sess.credential())

	if previous != nil && previous.SessionID != sess.SessionID {
		s.revoke(ctx, previous)
	}
	return *sess.credential(), nil
}

// revoke ends a replaced session on the server. It is no longer held locally,
// so a failure is only logged.
func (s *Store) revoke(ctx context.Context, sess *savedSession) {
	err := s.do(ctx, request{method: http.MethodPost, path: "/credentials/sign-out", signed: true, session: sess}, nil)
	if err != nil && !errors.Is(err, identity.ErrNotSignedIn) {
		s.log.Warn().Err(err).Str("credential_id", sess.CredentialID).Msg("end replaced session failed")
	}
}

// SignOut ends the session on the server and forgets it locally. The local
// session is dropped even when the server call fails.
func (s *Store) SignOut(ctx context.Context) error {
	sess := s.activeSession()
	if sess == nil {
		return nil
	}

	err := s.do(ctx, request{method: http.MethodPost, path: "/credentials/sign-out", signed: true}, nil)
	s.dropSession(sess, "signed out")
	if err != nil && !errors.Is(err, identity.ErrNotSignedIn) {
		return err
	}
	return nil
}

// DeleteCredential removes a credential on the server. Deleting the signed-in
// credential also ends the local session.
func (s *Store) DeleteCredential(ctx context.Context, credentialID string) error {
	sess := s.activeSession()
	err := s.do(ctx, request{method: http.MethodDelete, path: "/credentials/" + escape(credentialID), signed: true}, nil)
	if err != nil {
		return err
	}
	if sess != nil && sess.CredentialID == credentialID {
		s.dropSession(sess, "credential deleted")
	}
	return nil
}

func (s *Store) Watch(ctx context.Context) <-chan identity.CredentialEvent {
	return s.current.Watch(ctx)
}

func (s *Store) Current() *identity.Credential {
	return s.current.Current()
}

// dropSession forgets sess if it is still the active one.
func (s *Store) dropSession(sess *savedSession, reason string) {
	s.mu.Lock()
	if s.session != nil && sess != nil && s.session.SessionID != sess.SessionID {
		s.mu.Unlock()
		return
	}
	s.session = nil
	s.mu.Unlock()

	if err := s.removeCredentialFile(); err != nil {
		s.log.Warn().Err(err).Str("path", s.credFile).Msg("remove credential file failed")
	}
	if sess != nil {
		s.log.Debug().Str("credential_id", sess.CredentialID).Str("reason", reason).Msg("session dropped")
	}
	s.current.Set(nil)
}

func (s *Store) readCredentialFile() (*savedSession, error) {
	if s.credFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.credFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credential file: %w", err)
	}

	var sess savedSession
	if err := json.Unmarshal(data, &sess); err != nil || sess.AccessToken == "" || sess.SessionID == "" {
		s.log.Warn().Str("path", s.credFile).Msg("credential file unreadable, ignoring")
		return nil, nil
	}
	return &sess, nil
}

// writeCredentialFile replaces the credential file atomically with mode 0600.
func (s *Store) writeCredentialFile(sess *savedSession) error {
	if s.credFile == "" {
		return nil
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.credFile)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".credential-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.credFile)
}

func (s *Store) removeCredentialFile() error {
	if s.credFile == "" {
		return nil
	}
	err := os.Remove(s.credFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func deviceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "placement-portal"
	}
	return "placement-portal@" + host
}
