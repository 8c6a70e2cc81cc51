package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"placement/internal/database"
	"placement/internal/models"
)

type AccountRepository struct {
	db database.DBTX
}

func NewAccountRepository(db database.DBTX) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, name, email, phone, role, status, blocked, credential_linked, department, company, created_at, updated_at`

// Put inserts the account or overwrites every field except created_at.
func (r *AccountRepository) Put(ctx context.Context, acc models.Account) error {
	const query = `
		INSERT INTO accounts (
			id, name, email, phone, role, status, blocked, credential_linked, department, company, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW()
		)
		ON CONFLICT (id)
		DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			role = EXCLUDED.role,
			status = EXCLUDED.status,
			blocked = EXCLUDED.blocked,
			credential_linked = EXCLUDED.credential_linked,
			department = EXCLUDED.department,
			company = EXCLUDED.company,
			updated_at = NOW()
	`

	_, err := r.db.Exec(ctx, query,
		acc.ID,
		acc.Name,
		acc.Email,
		acc.Phone,
		acc.Role,
		acc.Status,
		acc.Blocked,
		acc.CredentialLinked,
		acc.Department,
		acc.Company,
	)
	if isUniqueViolation(err) {
		return ErrEmailTaken
	}
	return err
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.QueryRow(ctx, query, id))
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return scanAccount(r.db.QueryRow(ctx, query, email))
}

func (r *AccountRepository) Patch(ctx context.Context, id string, patch models.AccountPatch) error {
	const query = `
		UPDATE accounts
		SET status = COALESCE($2, status),
		    blocked = COALESCE($3, blocked),
		    updated_at = NOW()
		WHERE id = $1
	`
	cmd, err := r.db.Exec(ctx, query, id, patch.Status, patch.Blocked)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM accounts WHERE id = $1`
	cmd, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *AccountRepository) ListByRole(ctx context.Context, role models.Role) ([]models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE role = $1`

	rows, err := r.db.Query(ctx, query, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]models.Account, 0)
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

func scanAccount(row pgx.Row) (models.Account, error) {
	var acc models.Account
	if err := row.Scan(
		&acc.ID,
		&acc.Name,
		&acc.Email,
		&acc.Phone,
		&acc.Role,
		&acc.Status,
		&acc.Blocked,
		&acc.CredentialLinked,
		&acc.Department,
		&acc.Company,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, ErrAccountNotFound
		}
		return models.Account{}, err
	}
	return acc, nil
}
