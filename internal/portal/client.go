// Package portal is the caller-facing side of the placement portal: one
// Client per running application instance, owning its session state.
package portal

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"placement/internal/core"
	"placement/internal/identity"
	"placement/internal/models"
	"placement/internal/session"
)

var (
	ErrForbidden = errors.New("not permitted")
	// ErrNotSignedIn also matches ErrForbidden.
	ErrNotSignedIn = fmt.Errorf("%w: not signed in", ErrForbidden)
)

type Client struct {
	store   identity.Store
	gate    *core.Gate
	manager *core.Manager
	state   *session.State
	log     zerolog.Logger

	boot *core.Bootstrap
}

// New builds a Client over store. reconciler may be nil.
func New(store identity.Store, reconciler identity.Reconciler, state *session.State, log zerolog.Logger) *Client {
	if state == nil {
		state = session.New()
	}
	return &Client{
		store:   store,
		gate:    core.NewGate(store, store, log),
		manager: core.NewManager(store, store, reconciler, log),
		state:   state,
		log:     log,
	}
}

// Bootstrap starts following the store's credential. The returned channel is
// closed once the initial check has resolved.
func (c *Client) Bootstrap(ctx context.Context) <-chan struct{} {
	if c.boot == nil {
		c.boot = c.gate.Bootstrap(ctx, c.state)
	}
	return c.boot.Ready()
}

// Close stops the bootstrap subscription.
func (c *Client) Close() {
	if c.boot != nil {
		c.boot.Stop()
		c.boot = nil
	}
}

func (c *Client) Session() session.Session {
	return c.state.Snapshot()
}

// Destination is the landing path of the signed-in role, or "/".
func (c *Client) Destination() string {
	return c.state.Snapshot().Role.Destination()
}

// Login runs the session gate and, on success, records the identity in the
// session state.
func (c *Client) Login(ctx context.Context, email, password string) Result[core.Identity] {
	return run(c.log, "login", func() (core.Identity, error) {
		id, err := c.gate.AttemptLogin(ctx, email, password)
		if err != nil {
			return core.Identity{}, err
		}
		c.state.SetAccount(session.Account{ID: id.AccountID, Name: id.Name, Email: id.Email})
		c.state.SetRole(id.Role)
		c.state.SetError(nil)
		return id, nil
	})
}

func (c *Client) Logout(ctx context.Context) Result[None] {
	return run(c.log, "logout", func() (None, error) {
		err := c.gate.Logout(ctx)
		c.state.Clear()
		return None{}, err
	})
}

func (c *Client) Register(ctx context.Context, in core.RegisterInput) Result[models.Account] {
	return run(c.log, "register", func() (models.Account, error) {
		return c.manager.Register(ctx, in)
	})
}

func (c *Client) ListByRole(ctx context.Context, role models.Role) Result[[]models.Account] {
	return run(c.log, "list accounts", func() ([]models.Account, error) {
		if err := c.authorize(role); err != nil {
			return nil, err
		}
		return c.manager.ListByRole(ctx, role)
	})
}

func (c *Client) SetStatus(ctx context.Context, id string, status models.Status) Result[None] {
	return run(c.log, "set status", func() (None, error) {
		if err := c.authorizeTarget(ctx, id); err != nil {
			return None{}, err
		}
		return None{}, c.manager.SetStatus(ctx, id, status)
	})
}

func (c *Client) SetBlocked(ctx context.Context, id string, blocked bool) Result[None] {
	return run(c.log, "set blocked", func() (None, error) {
		if err := c.authorizeTarget(ctx, id); err != nil {
			return None{}, err
		}
		return None{}, c.manager.SetBlocked(ctx, id, blocked)
	})
}

func (c *Client) CreateManual(ctx context.Context, in core.ManualInput) Result[models.Account] {
	return run(c.log, "create account", func() (models.Account, error) {
		if err := c.requireAdmin(); err != nil {
			return models.Account{}, err
		}
		return c.manager.CreateManual(ctx, in)
	})
}

func (c *Client) Delete(ctx context.Context, id string) Result[None] {
	return run(c.log, "delete account", func() (None, error) {
		if err := c.requireAdmin(); err != nil {
			return None{}, err
		}
		return None{}, c.manager.Delete(ctx, id)
	})
}

func (c *Client) requireAdmin() error {
	snap := c.state.Snapshot()
	if !snap.Authenticated() {
		return ErrNotSignedIn
	}
	if snap.Role != models.RoleAdmin {
		return ErrForbidden
	}
	return nil
}

// authorize allows admins on any role and coordinators on students.
func (c *Client) authorize(target models.Role) error {
	snap := c.state.Snapshot()
	if !snap.Authenticated() {
		return ErrNotSignedIn
	}
	switch snap.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleCoordinator:
		if target == models.RoleStudent {
			return nil
		}
	}
	return ErrForbidden
}

func (c *Client) authorizeTarget(ctx context.Context, id string) error {
	if err := c.requireAdmin(); err == nil || errors.Is(err, ErrNotSignedIn) {
		return err
	}
	if c.state.Snapshot().Role != models.RoleCoordinator {
		return ErrForbidden
	}

	target, err := c.store.GetAccount(ctx, id)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	return c.authorize(target.Role)
}
