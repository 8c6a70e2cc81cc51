// Package repotest provides in-memory versions of the repositories that
// behave like the PostgreSQL ones, for service and handler tests.
package repotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"placement/internal/models"
	"placement/internal/repository"
)

// DB is the shared state behind the repositories returned by its methods.
type DB struct {
	mu          sync.Mutex
	credentials map[string]models.Credential
	sessions    map[string]models.CredentialSession
	accounts    map[string]models.Account
	profiles    map[string]models.StudentProfile
	now         func() time.Time
}

func New() *DB {
	return &DB{
		credentials: make(map[string]models.Credential),
		sessions:    make(map[string]models.CredentialSession),
		accounts:    make(map[string]models.Account),
		profiles:    make(map[string]models.StudentProfile),
		now:         time.Now,
	}
}

type Credentials struct{ db *DB }
type Sessions struct{ db *DB }
type Accounts struct{ db *DB }
type Profiles struct{ db *DB }

func (db *DB) Credentials() *Credentials { return &Credentials{db: db} }
func (db *DB) Sessions() *Sessions       { return &Sessions{db: db} }
func (db *DB) Accounts() *Accounts       { return &Accounts{db: db} }
func (db *DB) Profiles() *Profiles       { return &Profiles{db: db} }

func (r *Credentials) Create(_ context.Context, cred models.Credential) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, c := range r.db.credentials {
		if c.Email == cred.Email {
			return repository.ErrEmailTaken
		}
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = r.db.now()
	}
	cred.UpdatedAt = cred.CreatedAt
	r.db.credentials[cred.ID] = cred
	return nil
}

func (r *Credentials) FindByEmail(_ context.Context, email string) (models.Credential, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, c := range r.db.credentials {
		if c.Email == email {
			return c, nil
		}
	}
	return models.Credential{}, repository.ErrCredentialNotFound
}

func (r *Credentials) GetByID(_ context.Context, id string) (models.Credential, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.credentials[id]
	if !ok {
		return models.Credential{}, repository.ErrCredentialNotFound
	}
	return c, nil
}

// Delete removes the credential and, like the foreign key, its sessions.
func (r *Credentials) Delete(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.credentials[id]; !ok {
		return repository.ErrCredentialNotFound
	}
	r.db.deleteCredentialLocked(id)
	return nil
}

func (r *Credentials) DeleteIfOrphaned(_ context.Context, id string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.credentials[id]; !ok {
		return false, nil
	}
	if _, ok := r.db.accounts[id]; ok {
		return false, nil
	}
	r.db.deleteCredentialLocked(id)
	return true, nil
}

func (r *Credentials) ListOrphaned(_ context.Context, cutoff time.Time, limit int) ([]models.Credential, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Credential
	for _, c := range r.db.credentials {
		if _, ok := r.db.accounts[c.ID]; ok || !c.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (db *DB) deleteCredentialLocked(id string) {
	delete(db.credentials, id)
	for sid, s := range db.sessions {
		if s.CredentialID == id {
			delete(db.sessions, sid)
		}
	}
}

func (r *Sessions) Create(_ context.Context, s models.CredentialSession, limit int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	now := r.db.now()
	s.CreatedAt = now
	s.LastSeenAt = now
	r.db.sessions[s.ID] = s
	if limit <= 0 {
		return nil
	}

	var owned []models.CredentialSession
	for _, other := range r.db.sessions {
		if other.CredentialID == s.CredentialID && other.ID != s.ID {
			owned = append(owned, other)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].LastSeenAt.After(owned[j].LastSeenAt) })
	for i := limit - 1; i < len(owned); i++ {
		delete(r.db.sessions, owned[i].ID)
	}
	return nil
}

func (r *Sessions) GetByID(_ context.Context, id string) (models.CredentialSession, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.sessions[id]
	if !ok {
		return models.CredentialSession{}, repository.ErrSessionNotFound
	}
	return s, nil
}

func (r *Sessions) DeleteByID(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.sessions[id]; !ok {
		return repository.ErrSessionNotFound
	}
	delete(r.db.sessions, id)
	return nil
}

func (r *Sessions) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for id, s := range r.db.sessions {
		if s.ExpiresAt.Before(now) {
			delete(r.db.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *Sessions) Touch(_ context.Context, sessionID string, ip string, userAgent string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.sessions[sessionID]
	if !ok {
		return repository.ErrSessionNotFound
	}
	s.IPAddress = ip
	s.UserAgent = userAgent
	s.LastSeenAt = r.db.now()
	r.db.sessions[sessionID] = s
	return nil
}

func (r *Accounts) Put(_ context.Context, acc models.Account) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for id, a := range r.db.accounts {
		if id != acc.ID && a.Email == acc.Email {
			return repository.ErrEmailTaken
		}
	}
	now := r.db.now()
	if existing, ok := r.db.accounts[acc.ID]; ok {
		acc.CreatedAt = existing.CreatedAt
	} else {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now
	r.db.accounts[acc.ID] = acc
	return nil
}

func (r *Accounts) GetByID(_ context.Context, id string) (models.Account, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.accounts[id]
	if !ok {
		return models.Account{}, repository.ErrAccountNotFound
	}
	return a, nil
}

func (r *Accounts) FindByEmail(_ context.Context, email string) (models.Account, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, a := range r.db.accounts {
		if a.Email == email {
			return a, nil
		}
	}
	return models.Account{}, repository.ErrAccountNotFound
}

func (r *Accounts) Patch(_ context.Context, id string, patch models.AccountPatch) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.accounts[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	if patch.Status != nil {
		a.Status = *patch.Status
	}
	if patch.Blocked != nil {
		a.Blocked = *patch.Blocked
	}
	a.UpdatedAt = r.db.now()
	r.db.accounts[id] = a
	return nil
}

func (r *Accounts) Delete(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.accounts[id]; !ok {
		return repository.ErrAccountNotFound
	}
	delete(r.db.accounts, id)
	return nil
}

func (r *Accounts) ListByRole(_ context.Context, role models.Role) ([]models.Account, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []models.Account{}
	for _, a := range r.db.accounts {
		if a.Role == role {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *Profiles) Put(_ context.Context, p models.StudentProfile) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	now := r.db.now()
	if existing, ok := r.db.profiles[p.AccountID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	r.db.profiles[p.AccountID] = p
	return nil
}

func (r *Profiles) Get(_ context.Context, accountID string) (models.StudentProfile, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.profiles[accountID]
	if !ok {
		return models.StudentProfile{}, repository.ErrProfileNotFound
	}
	return p, nil
}

// SessionCount reports the number of stored sessions.
func (db *DB) SessionCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.sessions)
}
