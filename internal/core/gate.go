package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"placement/internal/identity"
	"placement/internal/models"
	"placement/internal/session"
)

// Identity is the outcome of an accepted login.
type Identity struct {
	AccountID string
	Role      models.Role
	Name      string
	Email     string
}

// Destination is the landing path for the identity's role.
func (i Identity) Destination() string {
	return i.Role.Destination()
}

func identityOf(account models.Account) Identity {
	return Identity{
		AccountID: account.ID,
		Role:      account.Role,
		Name:      account.Name,
		Email:     account.Email,
	}
}

type Gate struct {
	creds   identity.Credentials
	records identity.Records
	log     zerolog.Logger
}

func NewGate(creds identity.Credentials, records identity.Records, log zerolog.Logger) *Gate {
	return &Gate{
		creds:   creds,
		records: records,
		log:     log,
	}
}

// Admit applies the login rules to an account record. Admins are exempt from
// both the blocked and the approval check.
func Admit(account models.Account) error {
	if account.Role == models.RoleAdmin {
		return nil
	}
	if account.Blocked {
		return ErrAccountBlocked
	}
	if account.Status != models.StatusApproved {
		return ErrPendingApproval
	}
	return nil
}

// AttemptLogin verifies the credentials and the account state. It does not
// touch session state; on every failure after sign-in the credential session
// is ended before returning.
func (g *Gate) AttemptLogin(ctx context.Context, email, password string) (Identity, error) {
	email = models.NormalizeEmail(email)
	if email == "" || password == "" {
		return Identity{}, ErrCredentialsRequired
	}

	cred, err := g.creds.SignIn(ctx, email, password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidCredentials):
			return Identity{}, ErrAuthenticationFailed
		case errors.Is(err, identity.ErrCredentialNotProvisioned):
			return Identity{}, ErrNoCredential
		}
		return Identity{}, fmt.Errorf("sign in: %w", err)
	}

	account, err := g.records.GetAccount(ctx, cred.ID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			g.log.Error().
				Str("credential_id", cred.ID).
				Msg("authenticated credential has no account record")
			return Identity{}, g.deny(ctx, cred, ErrAccountMissing)
		}
		return Identity{}, g.deny(ctx, cred, fmt.Errorf("get account: %w", err))
	}

	if err := Admit(account); err != nil {
		g.log.Info().
			Str("account_id", account.ID).
			Str("role", string(account.Role)).
			Str("reason", err.Error()).
			Msg("login denied")
		return Identity{}, g.deny(ctx, cred, err)
	}

	g.log.Info().
		Str("account_id", account.ID).
		Str("role", string(account.Role)).
		Msg("login accepted")
	return identityOf(account), nil
}

func (g *Gate) deny(ctx context.Context, cred identity.Credential, cause error) error {
	if err := g.creds.SignOut(ctx); err != nil {
		g.log.Error().Err(err).Str("credential_id", cred.ID).Msg("sign out after denied login failed")
		return errors.Join(cause, fmt.Errorf("sign out: %w", err))
	}
	return cause
}

// Logout ends the current credential session.
func (g *Gate) Logout(ctx context.Context) error {
	if err := g.creds.SignOut(ctx); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// Bootstrap follows the store's credential for the life of the process and
// mirrors it into state.
type Bootstrap struct {
	cancel context.CancelFunc
	done   chan struct{}
	ready  chan struct{}
}

// Bootstrap starts watching the current credential. The first event, whatever
// it carries, flips state out of loading and closes Ready.
func (g *Gate) Bootstrap(ctx context.Context, state *session.State) *Bootstrap {
	ctx, cancel := context.WithCancel(ctx)
	b := &Bootstrap{
		cancel: cancel,
		done:   make(chan struct{}),
		ready:  make(chan struct{}),
	}

	events := g.creds.Watch(ctx)
	go b.run(ctx, g, state, events)

	return b
}

// Ready is closed once the initial credential check has resolved.
func (b *Bootstrap) Ready() <-chan struct{} {
	return b.ready
}

// Stop cancels the subscription. No state is touched after Stop returns.
func (b *Bootstrap) Stop() {
	b.cancel()
	<-b.done
}

func (b *Bootstrap) run(ctx context.Context, g *Gate, state *session.State, events <-chan identity.CredentialEvent) {
	defer close(b.done)

	var once sync.Once
	settle := func() {
		once.Do(func() {
			state.SetLoading(false)
			close(b.ready)
		})
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				// A stream that ends on its own leaves the process signed out.
				if ctx.Err() == nil {
					g.resolve(ctx, state, identity.CredentialEvent{})
					settle()
				}
				return
			}
			g.resolve(ctx, state, ev)
			if ctx.Err() != nil {
				return
			}
			settle()
		}
	}
}

func (g *Gate) resolve(ctx context.Context, state *session.State, ev identity.CredentialEvent) {
	if !ev.SignedIn() {
		state.SignedOut()
		return
	}

	cred := *ev.Credential
	account, err := g.records.GetAccount(ctx, cred.ID)
	if ctx.Err() != nil {
		return
	}

	switch {
	case err == nil:
		if err := Admit(account); err != nil {
			g.log.Warn().
				Str("account_id", account.ID).
				Str("reason", err.Error()).
				Msg("restored credential no longer admitted")
			g.dropSession(ctx, state, cred, err)
			return
		}
		state.SetAccount(session.Account{ID: account.ID, Name: account.Name, Email: account.Email})
		state.SetRole(account.Role)
		state.SetError(nil)
	case errors.Is(err, identity.ErrNotFound):
		g.log.Error().
			Str("credential_id", cred.ID).
			Msg("restored credential has no account record")
		g.dropSession(ctx, state, cred, ErrAccountMissing)
	default:
		g.log.Warn().Err(err).Str("credential_id", cred.ID).Msg("restore session failed")
		state.Clear()
		state.SetError(fmt.Errorf("get account: %w", err))
	}
}

func (g *Gate) dropSession(ctx context.Context, state *session.State, cred identity.Credential, cause error) {
	state.Clear()
	state.SetError(cause)
	if err := g.creds.SignOut(ctx); err != nil {
		g.log.Error().Err(err).Str("credential_id", cred.ID).Msg("sign out failed")
	}
}
