package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"placement/internal/config"
	"placement/internal/core"
	"placement/internal/identity"
	"placement/internal/ids"
	"placement/internal/models"
	"placement/internal/repository"
	"placement/internal/security"
)

type CredentialRepository interface {
	Create(ctx context.Context, cred models.Credential) error
	FindByEmail(ctx context.Context, email string) (models.Credential, error)
	GetByID(ctx context.Context, id string) (models.Credential, error)
	Delete(ctx context.Context, id string) error
}

type SessionRepository interface {
	Create(ctx context.Context, session models.CredentialSession, limit int) error
	GetByID(ctx context.Context, id string) (models.CredentialSession, error)
	DeleteByID(ctx context.Context, id string) error
	Touch(ctx context.Context, sessionID string, ip string, userAgent string) error
}

// Principal is the credential behind an authenticated request.
type Principal struct {
	CredentialID string
	SessionID    string
	Email        string
}

type AuthService struct {
	credentials CredentialRepository
	sessions    SessionRepository
	accounts    AccountRepository
	cfg         *config.AppConfig
	log         zerolog.Logger
	now         func() time.Time
}

func NewAuthService(
	credentials CredentialRepository,
	sessions SessionRepository,
	accounts AccountRepository,
	cfg *config.AppConfig,
	log zerolog.Logger,
) *AuthService {
	return &AuthService{
		credentials: credentials,
		sessions:    sessions,
		accounts:    accounts,
		cfg:         cfg,
		log:         log,
		now:         time.Now,
	}
}

type CredentialInput struct {
	Email      string
	Password   string
	DeviceName string
	IPAddress  string
	UserAgent  string
}

// SessionResult is handed to the client after a credential signs in. The
// signing key authenticates request signatures for this session only.
type SessionResult struct {
	AccessToken string
	SessionID   string
	SigningKey  string
	ExpiresAt   time.Time
	Credential  identity.Credential
}

func (s *AuthService) CreateCredential(ctx context.Context, input CredentialInput) (SessionResult, error) {
	input.Email = models.NormalizeEmail(input.Email)
	if input.Email == "" || input.Password == "" {
		return SessionResult{}, core.ErrCredentialsRequired
	}
	if len(input.Password) < core.MinPasswordLength {
		return SessionResult{}, core.ErrPasswordTooShort
	}

	passwordHash, err := security.HashPassword(input.Password)
	if err != nil {
		return SessionResult{}, err
	}

	cred := models.Credential{
		ID:           ids.New(),
		Email:        input.Email,
		PasswordHash: passwordHash,
	}
	if err := s.credentials.Create(ctx, cred); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return SessionResult{}, identity.ErrEmailTaken
		}
		return SessionResult{}, fmt.Errorf("create credential: %w", err)
	}

	s.log.Info().Str("credential_id", cred.ID).Msg("credential created")
	return s.createSession(ctx, cred, input)
}

func (s *AuthService) SignIn(ctx context.Context, input CredentialInput) (SessionResult, error) {
	input.Email = models.NormalizeEmail(input.Email)
	cred, err := s.credentials.FindByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			return SessionResult{}, s.unknownEmail(ctx, input.Email)
		}
		return SessionResult{}, err
	}

	ok, err := security.VerifyPassword(input.Password, cred.PasswordHash)
	if err != nil || !ok {
		return SessionResult{}, identity.ErrInvalidCredentials
	}

	return s.createSession(ctx, cred, input)
}

// unknownEmail distinguishes a manually entered account that never got a
// credential from a plain authentication failure.
func (s *AuthService) unknownEmail(ctx context.Context, email string) error {
	acc, err := s.accounts.FindByEmail(ctx, email)
	if err == nil && acc.RecordOnly() {
		return identity.ErrCredentialNotProvisioned
	}
	if err != nil && !errors.Is(err, repository.ErrAccountNotFound) {
		s.log.Warn().Err(err).Msg("lookup account for unknown credential failed")
	}
	return identity.ErrInvalidCredentials
}

func (s *AuthService) createSession(ctx context.Context, cred models.Credential, input CredentialInput) (SessionResult, error) {
	deviceName := input.DeviceName
	if deviceName == "" {
		deviceName = "Unknown Device"
	}

	session := models.CredentialSession{
		ID:           ids.New(),
		CredentialID: cred.ID,
		DeviceName:   deviceName,
		IPAddress:    input.IPAddress,
		UserAgent:    input.UserAgent,
		ExpiresAt:    s.now().Add(s.cfg.Security.JWTAccessTTL),
	}

	accessToken, err := security.GenerateAccessToken(
		s.cfg.Security.JWTAccessSecret,
		cred.ID,
		session.ID,
		cred.Email,
		s.cfg.Security.JWTAccessTTL,
	)
	if err != nil {
		return SessionResult{}, err
	}

	if err := s.sessions.Create(ctx, session, s.cfg.Security.MaxSessions); err != nil {
		return SessionResult{}, fmt.Errorf("create session: %w", err)
	}

	return SessionResult{
		AccessToken: accessToken,
		SessionID:   session.ID,
		SigningKey:  s.SigningKey(session.ID),
		ExpiresAt:   session.ExpiresAt,
		Credential:  identity.Credential{ID: cred.ID, Email: cred.Email},
	}, nil
}

// SigningKey derives the request signing key of a session.
func (s *AuthService) SigningKey(sessionID string) string {
	return security.SessionSigningKey(s.cfg.Security.SignatureSecret, sessionID)
}

// Authenticate resolves a bearer token to its live session.
func (s *AuthService) Authenticate(ctx context.Context, token string, ip string, userAgent string) (Principal, error) {
	claims, err := security.ParseAccessToken(token, s.cfg.Security.JWTAccessSecret)
	if err != nil {
		return Principal{}, identity.ErrNotSignedIn
	}

	session, err := s.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return Principal{}, identity.ErrNotSignedIn
		}
		return Principal{}, err
	}
	if session.CredentialID != claims.CredentialID || session.ExpiresAt.Before(s.now()) {
		return Principal{}, identity.ErrNotSignedIn
	}

	if err := s.sessions.Touch(ctx, session.ID, ip, userAgent); err != nil {
		s.log.Debug().Err(err).Str("session_id", session.ID).Msg("touch session failed")
	}

	return Principal{
		CredentialID: claims.CredentialID,
		SessionID:    session.ID,
		Email:        claims.Email,
	}, nil
}

func (s *AuthService) SignOut(ctx context.Context, sessionID string) error {
	err := s.sessions.DeleteByID(ctx, sessionID)
	if err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		return err
	}
	return nil
}

// DeleteCredential removes the credential with all its sessions. Only the
// credential itself or an admitted admin may do so.
func (s *AuthService) DeleteCredential(ctx context.Context, caller Principal, id string) error {
	if id != caller.CredentialID {
		if _, err := requireRole(ctx, s.accounts, caller, models.RoleAdmin); err != nil {
			return err
		}
	}

	if err := s.credentials.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			return identity.ErrNotFound
		}
		return err
	}
	s.log.Info().Str("credential_id", id).Str("by", caller.CredentialID).Msg("credential deleted")
	return nil
}
