// Package identity defines the boundary to the identity store: credential
// verification plus the account and profile records kept next to it.
// Implementations live in the memory and remote subpackages; the hosted
// backend in cmd/api serves the remote one.
package identity

import (
	"context"
	"errors"

	"placement/internal/models"
)

var (
	ErrInvalidCredentials       = errors.New("invalid credentials")
	ErrCredentialNotProvisioned = errors.New("credential not provisioned")
	ErrEmailTaken               = errors.New("email already registered")
	ErrNotFound                 = errors.New("record not found")
	ErrNotSignedIn              = errors.New("no credential signed in")
	ErrForbidden                = errors.New("forbidden")
	ErrRateLimited              = errors.New("too many attempts")
)

// Credential is the authenticated identity held by a store after sign-in.
type Credential struct {
	ID    string `json:"credentialId"`
	Email string `json:"email"`
}

// CredentialEvent reports the current credential of a store. A nil
// Credential means nobody is signed in.
type CredentialEvent struct {
	Credential *Credential
}

func (e CredentialEvent) SignedIn() bool {
	return e.Credential != nil
}

type Credentials interface {
	// CreateCredential registers email/password and signs the new credential in.
	CreateCredential(ctx context.Context, email, password string) (Credential, error)
	SignIn(ctx context.Context, email, password string) (Credential, error)
	// SignOut ends the current credential session. Signing out with no
	// session is not an error.
	SignOut(ctx context.Context) error
	DeleteCredential(ctx context.Context, credentialID string) error
	// Watch delivers the current credential immediately and then every
	// change until ctx is done, after which the channel is closed.
	Watch(ctx context.Context) <-chan CredentialEvent
}

type Records interface {
	GetAccount(ctx context.Context, id string) (models.Account, error)
	PutAccount(ctx context.Context, account models.Account) error
	PatchAccount(ctx context.Context, id string, patch models.AccountPatch) error
	DeleteAccount(ctx context.Context, id string) error
	ListAccounts(ctx context.Context, role models.Role) ([]models.Account, error)
	GetProfile(ctx context.Context, accountID string) (models.StudentProfile, error)
	PutProfile(ctx context.Context, profile models.StudentProfile) error
}

// Reconciler takes credentials left without an account record for later
// cleanup.
type Reconciler interface {
	Reconcile(ctx context.Context, credentialID string, reason string) error
}

type Store interface {
	Credentials
	Records
}
