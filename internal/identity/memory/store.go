// Package memory is an in-process identity store used by tests and by the
// portal's offline mode.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"placement/internal/identity"
	"placement/internal/ids"
	"placement/internal/models"
	"placement/internal/security"
)

// Cheap argon2 parameters; the memory store never holds real passwords.
var hashParams = security.Argon2Params{
	Time:    1,
	Memory:  8 * 1024,
	Threads: 1,
	KeyLen:  32,
	SaltLen: 16,
}

type ReconcileRequest struct {
	CredentialID string
	Reason       string
}

type Store struct {
	mu         sync.Mutex
	creds      map[string]models.Credential
	byEmail    map[string]string
	accounts   map[string]models.Account
	profiles   map[string]models.StudentProfile
	reconciles []ReconcileRequest
	current    *identity.Broadcaster
	now        func() time.Time
}

var (
	_ identity.Store      = (*Store)(nil)
	_ identity.Reconciler = (*Store)(nil)
)

func New() *Store {
	return &Store{
		creds:    make(map[string]models.Credential),
		byEmail:  make(map[string]string),
		accounts: make(map[string]models.Account),
		profiles: make(map[string]models.StudentProfile),
		current:  identity.NewBroadcaster(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) CreateCredential(ctx context.Context, email, password string) (identity.Credential, error) {
	email = models.NormalizeEmail(email)
	hash, err := security.HashPasswordWithParams(password, hashParams)
	if err != nil {
		return identity.Credential{}, err
	}

	s.mu.Lock()
	if _, ok := s.byEmail[email]; ok {
		s.mu.Unlock()
		return identity.Credential{}, identity.ErrEmailTaken
	}
	now := s.now()
	cred := models.Credential{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.creds[cred.ID] = cred
	s.byEmail[email] = cred.ID
	s.mu.Unlock()

	out := identity.Credential{ID: cred.ID, Email: cred.Email}
	s.current.Set(&out)
	return out, nil
}

func (s *Store) SignIn(ctx context.Context, email, password string) (identity.Credential, error) {
	email = models.NormalizeEmail(email)

	s.mu.Lock()
	id, ok := s.byEmail[email]
	if !ok {
		recordOnly := s.recordOnlyLocked(email)
		s.mu.Unlock()
		if recordOnly {
			return identity.Credential{}, identity.ErrCredentialNotProvisioned
		}
		return identity.Credential{}, identity.ErrInvalidCredentials
	}
	cred := s.creds[id]
	s.mu.Unlock()

	valid, err := security.VerifyPassword(password, cred.PasswordHash)
	if err != nil || !valid {
		return identity.Credential{}, identity.ErrInvalidCredentials
	}

	out := identity.Credential{ID: cred.ID, Email: cred.Email}
	s.current.Set(&out)
	return out, nil
}

func (s *Store) recordOnlyLocked(email string) bool {
	for _, acc := range s.accounts {
		if acc.Email == email && acc.RecordOnly() {
			return true
		}
	}
	return false
}

func (s *Store) SignOut(ctx context.Context) error {
	s.current.Set(nil)
	return nil
}

func (s *Store) DeleteCredential(ctx context.Context, credentialID string) error {
	s.mu.Lock()
	cred, ok := s.creds[credentialID]
	if !ok {
		s.mu.Unlock()
		return identity.ErrNotFound
	}
	delete(s.creds, credentialID)
	delete(s.byEmail, cred.Email)
	s.mu.Unlock()

	if cur := s.current.Current(); cur != nil && cur.ID == credentialID {
		s.current.Set(nil)
	}
	return nil
}

func (s *Store) Watch(ctx context.Context) <-chan identity.CredentialEvent {
	return s.current.Watch(ctx)
}

// Current returns the signed-in credential, or nil.
func (s *Store) Current() *identity.Credential {
	return s.current.Current()
}

func (s *Store) GetAccount(ctx context.Context, id string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return models.Account{}, identity.ErrNotFound
	}
	return acc, nil
}

func (s *Store) PutAccount(ctx context.Context, account models.Account) error {
	if account.ID == "" {
		return fmt.Errorf("put account: empty id")
	}
	account.Email = models.NormalizeEmail(account.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, other := range s.accounts {
		if id != account.ID && other.Email == account.Email {
			return identity.ErrEmailTaken
		}
	}
	now := s.now()
	if prev, ok := s.accounts[account.ID]; ok {
		// Role is fixed at creation; status and blocked change only by patch.
		account.Role = prev.Role
		account.Status = prev.Status
		account.Blocked = prev.Blocked
		account.CreatedAt = prev.CreatedAt
	} else if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	s.accounts[account.ID] = account
	return nil
}

func (s *Store) PatchAccount(ctx context.Context, id string, patch models.AccountPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return identity.ErrNotFound
	}
	if patch.Status != nil {
		acc.Status = *patch.Status
	}
	if patch.Blocked != nil {
		acc.Blocked = *patch.Blocked
	}
	acc.UpdatedAt = s.now()
	s.accounts[id] = acc
	return nil
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; !ok {
		return identity.ErrNotFound
	}
	delete(s.accounts, id)
	return nil
}

func (s *Store) ListAccounts(ctx context.Context, role models.Role) ([]models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts := make([]models.Account, 0)
	for _, acc := range s.accounts {
		if acc.Role == role {
			accounts = append(accounts, acc)
		}
	}
	return accounts, nil
}

func (s *Store) GetProfile(ctx context.Context, accountID string) (models.StudentProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[accountID]
	if !ok {
		return models.StudentProfile{}, identity.ErrNotFound
	}
	return profile, nil
}

func (s *Store) PutProfile(ctx context.Context, profile models.StudentProfile) error {
	if profile.AccountID == "" {
		return fmt.Errorf("put profile: empty account id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if prev, ok := s.profiles[profile.AccountID]; ok {
		profile.CreatedAt = prev.CreatedAt
	} else if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now
	s.profiles[profile.AccountID] = profile
	return nil
}

func (s *Store) Reconcile(ctx context.Context, credentialID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reconciles = append(s.reconciles, ReconcileRequest{CredentialID: credentialID, Reason: reason})
	return nil
}

// Reconciles returns the credentials handed over for reconciliation.
func (s *Store) Reconciles() []ReconcileRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]ReconcileRequest(nil), s.reconciles...)
}

// HasCredential reports whether a credential exists for email.
func (s *Store) HasCredential(email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.byEmail[models.NormalizeEmail(email)]
	return ok
}
