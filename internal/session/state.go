// Package session holds who is signed in to the running application
// instance. A State is constructed once at process start and handed to the
// components that need the current identity; setters never perform I/O.
package session

import (
	"sync"

	"placement/internal/models"
)

// Session is a point-in-time copy of the State.
type Session struct {
	AccountID string
	Role      models.Role
	Name      string
	Email     string
	Loading   bool
	Err       error
}

func (s Session) Authenticated() bool {
	return s.AccountID != ""
}

// Account identifies the signed-in account.
type Account struct {
	ID    string
	Name  string
	Email string
}

type State struct {
	mu      sync.RWMutex
	account Account
	role    models.Role
	loading bool
	err     error
}

// New returns an empty State that is loading until the bootstrap check
// resolves.
func New() *State {
	return &State{loading: true}
}

func (s *State) SetAccount(account Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = account
}

func (s *State) SetRole(role models.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = role
}

func (s *State) SetLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = loading
}

func (s *State) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Clear forgets the account, role and error. Loading is left as is.
// SignedOut is the variant that keeps the error.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = Account{}
	s.role = ""
	s.err = nil
}

// SignedOut forgets the account and role but keeps the last error, so a
// session that was dropped for a reason still reports it after the store
// announces the sign-out. Loading is left as is.
func (s *State) SignedOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = Account{}
	s.role = ""
}

func (s *State) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Session{
		AccountID: s.account.ID,
		Role:      s.role,
		Name:      s.account.Name,
		Email:     s.account.Email,
		Loading:   s.loading,
		Err:       s.err,
	}
}
