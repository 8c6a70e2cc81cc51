package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"placement/internal/identity"
	"placement/internal/ids"
	"placement/internal/models"
)

type StudentDetails struct {
	RegisterNumber string
	PassoutYear    string
	Branch         string
	Gender         string
	DateOfBirth    *time.Time
}

type RegisterInput struct {
	Name            string
	Email           string
	Phone           string
	Password        string
	ConfirmPassword string
	Role            models.Role
	Student         StudentDetails
}

type ManualInput struct {
	Name       string
	Email      string
	Phone      string
	Role       models.Role
	Department string
	Company    string
	Status     models.Status
}

// Manager creates accounts and moves them through their lifecycle.
type Manager struct {
	creds      identity.Credentials
	records    identity.Records
	reconciler identity.Reconciler
	log        zerolog.Logger
	now        func() time.Time
}

// NewManager wires a Manager. reconciler may be nil, in which case credentials
// that could not be rolled back are only reported.
func NewManager(creds identity.Credentials, records identity.Records, reconciler identity.Reconciler, log zerolog.Logger) *Manager {
	return &Manager{
		creds:      creds,
		records:    records,
		reconciler: reconciler,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ValidateRegistration checks the input without calling the identity store.
func ValidateRegistration(in RegisterInput) error {
	if in.Password != in.ConfirmPassword {
		return ErrPasswordMismatch
	}
	if len(in.Password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if models.NormalizeEmail(in.Email) == "" {
		return ErrEmailRequired
	}
	if !in.Role.Valid() {
		return ErrInvalidRole
	}
	return nil
}

// Register creates the credential, the account record and, for students, the
// profile. A failed write rolls back the earlier ones; whatever cannot be
// rolled back is handed to the reconciler and reported in the error.
func (m *Manager) Register(ctx context.Context, in RegisterInput) (models.Account, error) {
	if err := ValidateRegistration(in); err != nil {
		return models.Account{}, err
	}

	cred, err := m.creds.CreateCredential(ctx, in.Email, in.Password)
	if err != nil {
		return models.Account{}, fmt.Errorf("create credential: %w", err)
	}

	now := m.now()
	account := models.Account{
		ID:               cred.ID,
		Name:             strings.TrimSpace(in.Name),
		Email:            cred.Email,
		Phone:            strings.TrimSpace(in.Phone),
		Role:             in.Role,
		Status:           models.StatusPending,
		CredentialLinked: true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if in.Role == models.RoleAdmin {
		account.Status = models.StatusApproved
	}

	if err := m.records.PutAccount(ctx, account); err != nil {
		return models.Account{}, m.rollback(ctx, cred, false, fmt.Errorf("save account: %w", err))
	}

	if in.Role == models.RoleStudent {
		profile := newStudentProfile(account.ID, in.Student, now)
		if err := m.records.PutProfile(ctx, profile); err != nil {
			return models.Account{}, m.rollback(ctx, cred, true, fmt.Errorf("save student profile: %w", err))
		}
	}

	if err := m.creds.SignOut(ctx); err != nil {
		m.log.Warn().Err(err).Str("account_id", account.ID).Msg("sign out after registration failed")
	}

	m.log.Info().
		Str("account_id", account.ID).
		Str("role", string(account.Role)).
		Str("status", string(account.Status)).
		Msg("account registered")
	return account, nil
}

func newStudentProfile(accountID string, d StudentDetails, now time.Time) models.StudentProfile {
	return models.StudentProfile{
		AccountID:      accountID,
		RegisterNumber: strings.TrimSpace(d.RegisterNumber),
		PassoutYear:    strings.TrimSpace(d.PassoutYear),
		Branch:         strings.TrimSpace(d.Branch),
		Gender:         strings.TrimSpace(d.Gender),
		DateOfBirth:    d.DateOfBirth,
		LateralEntry:   "no",
		CGPA:           0,
		Skills:         []string{},
		ApprovalStatus: models.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (m *Manager) rollback(ctx context.Context, cred identity.Credential, accountWritten bool, cause error) error {
	var failures []error
	if accountWritten {
		if err := m.records.DeleteAccount(ctx, cred.ID); err != nil && !errors.Is(err, identity.ErrNotFound) {
			failures = append(failures, fmt.Errorf("delete account: %w", err))
		}
	}
	if err := m.creds.DeleteCredential(ctx, cred.ID); err != nil && !errors.Is(err, identity.ErrNotFound) {
		failures = append(failures, fmt.Errorf("delete credential: %w", err))
	}

	if len(failures) == 0 {
		if err := m.creds.SignOut(ctx); err != nil {
			m.log.Warn().Err(err).Str("credential_id", cred.ID).Msg("sign out after rollback failed")
		}
		m.log.Warn().Err(cause).Str("credential_id", cred.ID).Msg("registration rolled back")
		return fmt.Errorf("%w: %w", ErrRegistrationIncomplete, cause)
	}

	leftover := errors.Join(failures...)
	if m.reconciler != nil {
		if err := m.reconciler.Reconcile(ctx, cred.ID, cause.Error()); err != nil {
			leftover = errors.Join(leftover, fmt.Errorf("queue reconciliation: %w", err))
		}
	}
	if err := m.creds.SignOut(ctx); err != nil {
		m.log.Warn().Err(err).Str("credential_id", cred.ID).Msg("sign out after rollback failed")
	}

	m.log.Error().
		Err(cause).
		AnErr("rollback_error", leftover).
		Str("credential_id", cred.ID).
		Msg("registration left an orphaned credential")
	return fmt.Errorf("%w: %w; credential %s left for reconciliation: %w", ErrRegistrationIncomplete, cause, cred.ID, leftover)
}

// ListByRole returns the accounts of role in no particular order.
func (m *Manager) ListByRole(ctx context.Context, role models.Role) ([]models.Account, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}

	accounts, err := m.records.ListAccounts(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	out := make([]models.Account, 0, len(accounts))
	for _, acc := range accounts {
		if acc.Role == role {
			out = append(out, acc)
		}
	}
	return out, nil
}

// SetStatus overwrites the approval status. Only approved and rejected are
// accepted; the previous status is not checked.
func (m *Manager) SetStatus(ctx context.Context, id string, status models.Status) error {
	if id == "" {
		return ErrAccountIDRequired
	}
	if status != models.StatusApproved && status != models.StatusRejected {
		return ErrInvalidStatus
	}

	if err := m.records.PatchAccount(ctx, id, models.AccountPatch{Status: &status}); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	m.log.Info().Str("account_id", id).Str("status", string(status)).Msg("account status changed")
	return nil
}

func (m *Manager) SetBlocked(ctx context.Context, id string, blocked bool) error {
	if id == "" {
		return ErrAccountIDRequired
	}

	if err := m.records.PatchAccount(ctx, id, models.AccountPatch{Blocked: &blocked}); err != nil {
		return fmt.Errorf("set blocked: %w", err)
	}
	m.log.Info().Str("account_id", id).Bool("blocked", blocked).Msg("account block changed")
	return nil
}

// CreateManual stores an account record without a login credential. The
// account cannot sign in until a credential is established for its email.
func (m *Manager) CreateManual(ctx context.Context, in ManualInput) (models.Account, error) {
	email := models.NormalizeEmail(in.Email)
	if email == "" {
		return models.Account{}, ErrEmailRequired
	}
	if in.Role != models.RoleRecruiter && in.Role != models.RoleCoordinator {
		return models.Account{}, fmt.Errorf("%w: manual accounts must be recruiters or coordinators", ErrValidation)
	}
	status := in.Status
	if status == "" {
		status = models.StatusApproved
	}
	if _, ok := models.ParseStatus(string(status)); !ok {
		return models.Account{}, ErrInvalidStatus
	}

	now := m.now()
	account := models.Account{
		ID:               ids.New(),
		Name:             strings.TrimSpace(in.Name),
		Email:            email,
		Phone:            strings.TrimSpace(in.Phone),
		Role:             in.Role,
		Status:           status,
		CredentialLinked: false,
		Department:       strings.TrimSpace(in.Department),
		Company:          strings.TrimSpace(in.Company),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := m.records.PutAccount(ctx, account); err != nil {
		return models.Account{}, fmt.Errorf("save account: %w", err)
	}

	m.log.Info().Str("account_id", account.ID).Str("role", string(account.Role)).Msg("manual account created")
	return account, nil
}

// Delete removes the account record. The credential and any student profile
// are left in place.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrAccountIDRequired
	}

	if err := m.records.DeleteAccount(ctx, id); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	m.log.Info().Str("account_id", id).Msg("account deleted")
	return nil
}
