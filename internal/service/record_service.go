package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"placement/internal/core"
	"placement/internal/identity"
	"placement/internal/models"
	"placement/internal/repository"
	"placement/internal/tasks"
)

type AccountRepository interface {
	Put(ctx context.Context, acc models.Account) error
	GetByID(ctx context.Context, id string) (models.Account, error)
	FindByEmail(ctx context.Context, email string) (models.Account, error)
	Patch(ctx context.Context, id string, patch models.AccountPatch) error
	Delete(ctx context.Context, id string) error
	ListByRole(ctx context.Context, role models.Role) ([]models.Account, error)
}

type ProfileRepository interface {
	Put(ctx context.Context, p models.StudentProfile) error
	Get(ctx context.Context, accountID string) (models.StudentProfile, error)
}

// Archiver keeps a copy of account records before they are deleted.
type Archiver interface {
	ArchiveAccount(ctx context.Context, acc models.Account, profile *models.StudentProfile) error
}

type TaskQueue interface {
	Enqueue(ctx context.Context, task tasks.Task) error
}

// RecordService serves account and profile records to authenticated
// credentials and enforces who may read or write which record.
type RecordService struct {
	accounts    AccountRepository
	profiles    ProfileRepository
	credentials CredentialRepository
	archive     Archiver
	queue       TaskQueue
	log         zerolog.Logger
}

func NewRecordService(
	accounts AccountRepository,
	profiles ProfileRepository,
	credentials CredentialRepository,
	archive Archiver,
	queue TaskQueue,
	log zerolog.Logger,
) *RecordService {
	return &RecordService{
		accounts:    accounts,
		profiles:    profiles,
		credentials: credentials,
		archive:     archive,
		queue:       queue,
		log:         log,
	}
}

// requireRole loads the caller's own account and checks that it is admitted
// and holds one of roles.
func requireRole(ctx context.Context, accounts AccountRepository, caller Principal, roles ...models.Role) (models.Account, error) {
	acc, err := accounts.GetByID(ctx, caller.CredentialID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return models.Account{}, identity.ErrForbidden
		}
		return models.Account{}, err
	}
	if core.Admit(acc) != nil {
		return models.Account{}, identity.ErrForbidden
	}
	for _, role := range roles {
		if acc.Role == role {
			return acc, nil
		}
	}
	return models.Account{}, identity.ErrForbidden
}

func (s *RecordService) GetAccount(ctx context.Context, caller Principal, id string) (models.Account, error) {
	if id != caller.CredentialID {
		if _, err := requireRole(ctx, s.accounts, caller, models.RoleAdmin, models.RoleCoordinator); err != nil {
			return models.Account{}, err
		}
	}

	acc, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return models.Account{}, translate(err)
	}
	return acc, nil
}

// PutAccount writes an account record. A credential writing its own record
// can set its profile fields and, on first write, its role; status, blocked
// and the credential link are decided here. Admins write other records as
// given when creating them; rewriting an existing record keeps its role,
// status and blocked flag, which only PatchAccount changes.
func (s *RecordService) PutAccount(ctx context.Context, caller Principal, acc models.Account) (models.Account, error) {
	acc.Email = models.NormalizeEmail(acc.Email)
	acc.Name = strings.TrimSpace(acc.Name)
	if acc.ID == "" {
		return models.Account{}, core.ErrAccountIDRequired
	}

	if acc.ID == caller.CredentialID {
		return s.putOwnAccount(ctx, caller, acc)
	}

	if _, err := requireRole(ctx, s.accounts, caller, models.RoleAdmin); err != nil {
		return models.Account{}, err
	}
	if acc.Email == "" {
		return models.Account{}, core.ErrEmailRequired
	}

	existing, err := s.accounts.GetByID(ctx, acc.ID)
	switch {
	case err == nil:
		acc.Role = existing.Role
		acc.Status = existing.Status
		acc.Blocked = existing.Blocked
	case errors.Is(err, repository.ErrAccountNotFound):
		if !acc.Role.Valid() {
			return models.Account{}, core.ErrInvalidRole
		}
		if _, ok := models.ParseStatus(string(acc.Status)); !ok {
			return models.Account{}, core.ErrInvalidStatus
		}
	default:
		return models.Account{}, err
	}

	_, err = s.credentials.GetByID(ctx, acc.ID)
	switch {
	case err == nil:
		acc.CredentialLinked = true
	case errors.Is(err, repository.ErrCredentialNotFound):
		acc.CredentialLinked = false
	default:
		return models.Account{}, err
	}

	if err := s.accounts.Put(ctx, acc); err != nil {
		return models.Account{}, translate(err)
	}
	s.log.Info().Str("account_id", acc.ID).Str("by", caller.CredentialID).Msg("account written")
	return s.accounts.GetByID(ctx, acc.ID)
}

func (s *RecordService) putOwnAccount(ctx context.Context, caller Principal, acc models.Account) (models.Account, error) {
	acc.Email = caller.Email
	acc.CredentialLinked = true

	existing, err := s.accounts.GetByID(ctx, acc.ID)
	switch {
	case err == nil:
		acc.Role = existing.Role
		acc.Status = existing.Status
		acc.Blocked = existing.Blocked
	case errors.Is(err, repository.ErrAccountNotFound):
		if !acc.Role.Valid() {
			return models.Account{}, core.ErrInvalidRole
		}
		acc.Status = models.StatusPending
		if acc.Role == models.RoleAdmin {
			acc.Status = models.StatusApproved
		}
		acc.Blocked = false
	default:
		return models.Account{}, err
	}

	if err := s.accounts.Put(ctx, acc); err != nil {
		return models.Account{}, translate(err)
	}
	return s.accounts.GetByID(ctx, acc.ID)
}

// PatchAccount changes status or blocked. Coordinators may only touch
// student accounts.
func (s *RecordService) PatchAccount(ctx context.Context, caller Principal, id string, patch models.AccountPatch) error {
	if patch.Empty() {
		return fmt.Errorf("%w: nothing to change", core.ErrValidation)
	}
	if patch.Status != nil && *patch.Status != models.StatusApproved && *patch.Status != models.StatusRejected {
		return core.ErrInvalidStatus
	}

	actor, err := requireRole(ctx, s.accounts, caller, models.RoleAdmin, models.RoleCoordinator)
	if err != nil {
		return err
	}

	target, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return translate(err)
	}
	if actor.Role == models.RoleCoordinator && target.Role != models.RoleStudent {
		return identity.ErrForbidden
	}

	if err := s.accounts.Patch(ctx, id, patch); err != nil {
		return translate(err)
	}
	s.log.Info().Str("account_id", id).Str("by", actor.ID).Msg("account patched")
	return nil
}

// DeleteAccount archives and removes an account record. Credentials and
// profiles are kept.
func (s *RecordService) DeleteAccount(ctx context.Context, caller Principal, id string) error {
	if id != caller.CredentialID {
		if _, err := requireRole(ctx, s.accounts, caller, models.RoleAdmin); err != nil {
			return err
		}
	}

	acc, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return translate(err)
	}

	if s.archive != nil {
		var profile *models.StudentProfile
		if p, err := s.profiles.Get(ctx, id); err == nil {
			profile = &p
		}
		if err := s.archive.ArchiveAccount(ctx, acc, profile); err != nil {
			s.log.Warn().Err(err).Str("account_id", id).Msg("archive account failed")
		}
	}

	if err := s.accounts.Delete(ctx, id); err != nil {
		return translate(err)
	}
	s.log.Info().Str("account_id", id).Str("by", caller.CredentialID).Msg("account deleted")
	return nil
}

func (s *RecordService) ListAccounts(ctx context.Context, caller Principal, role models.Role) ([]models.Account, error) {
	if !role.Valid() {
		return nil, core.ErrInvalidRole
	}
	actor, err := requireRole(ctx, s.accounts, caller, models.RoleAdmin, models.RoleCoordinator)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleCoordinator && role != models.RoleStudent {
		return nil, identity.ErrForbidden
	}

	return s.accounts.ListByRole(ctx, role)
}

func (s *RecordService) GetProfile(ctx context.Context, caller Principal, id string) (models.StudentProfile, error) {
	if id != caller.CredentialID {
		if _, err := requireRole(ctx, s.accounts, caller, models.RoleAdmin, models.RoleCoordinator); err != nil {
			return models.StudentProfile{}, err
		}
	}

	p, err := s.profiles.Get(ctx, id)
	if err != nil {
		return models.StudentProfile{}, translate(err)
	}
	return p, nil
}

func (s *RecordService) PutProfile(ctx context.Context, caller Principal, p models.StudentProfile) error {
	if p.AccountID == "" {
		return core.ErrAccountIDRequired
	}
	if p.AccountID != caller.CredentialID {
		if _, err := requireRole(ctx, s.accounts, caller, models.RoleAdmin); err != nil {
			return err
		}
	}
	if p.ApprovalStatus == "" {
		p.ApprovalStatus = models.StatusPending
	}

	if err := s.profiles.Put(ctx, p); err != nil {
		return translate(err)
	}
	return nil
}

// Reconcile queues a credential for the orphan check of the worker.
func (s *RecordService) Reconcile(ctx context.Context, caller Principal, credentialID string, reason string) error {
	if credentialID != caller.CredentialID {
		if _, err := requireRole(ctx, s.accounts, caller, models.RoleAdmin); err != nil {
			return err
		}
	}
	if s.queue == nil {
		return errors.New("reconciliation queue unavailable")
	}

	if err := s.queue.Enqueue(ctx, tasks.Task{
		Type:         tasks.TypeReconcileCredential,
		CredentialID: credentialID,
		Reason:       reason,
	}); err != nil {
		return fmt.Errorf("enqueue reconcile: %w", err)
	}
	s.log.Warn().Str("credential_id", credentialID).Str("reason", reason).Msg("credential queued for reconciliation")
	return nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, repository.ErrAccountNotFound),
		errors.Is(err, repository.ErrProfileNotFound),
		errors.Is(err, repository.ErrCredentialNotFound):
		return identity.ErrNotFound
	case errors.Is(err, repository.ErrEmailTaken):
		return identity.ErrEmailTaken
	}
	return err
}
