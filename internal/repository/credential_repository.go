package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"placement/internal/database"
	"placement/internal/models"
)

type CredentialRepository struct {
	db database.DBTX
}

func NewCredentialRepository(db database.DBTX) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) Create(ctx context.Context, cred models.Credential) error {
	const query = `
		INSERT INTO credentials (id, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
	`

	if _, err := r.db.Exec(ctx, query, cred.ID, cred.Email, cred.PasswordHash); err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return err
	}
	return nil
}

func (r *CredentialRepository) FindByEmail(ctx context.Context, email string) (models.Credential, error) {
	const query = `
		SELECT id, email, password_hash, created_at, updated_at
		FROM credentials WHERE email = $1
	`
	return scanCredential(r.db.QueryRow(ctx, query, email))
}

func (r *CredentialRepository) GetByID(ctx context.Context, id string) (models.Credential, error) {
	const query = `
		SELECT id, email, password_hash, created_at, updated_at
		FROM credentials WHERE id = $1
	`
	return scanCredential(r.db.QueryRow(ctx, query, id))
}

// Delete removes the credential; its sessions go with it.
func (r *CredentialRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM credentials WHERE id = $1`
	cmd, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// DeleteIfOrphaned removes the credential only when no account record uses
// its id. It reports whether a row was deleted.
func (r *CredentialRepository) DeleteIfOrphaned(ctx context.Context, id string) (bool, error) {
	const query = `
		DELETE FROM credentials c
		WHERE c.id = $1
		  AND NOT EXISTS (SELECT 1 FROM accounts a WHERE a.id = c.id)
	`
	cmd, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

// ListOrphaned returns credentials created before cutoff that have no
// account record.
func (r *CredentialRepository) ListOrphaned(ctx context.Context, cutoff time.Time, limit int) ([]models.Credential, error) {
	const query = `
		SELECT c.id, c.email, c.password_hash, c.created_at, c.updated_at
		FROM credentials c
		LEFT JOIN accounts a ON a.id = c.id
		WHERE a.id IS NULL AND c.created_at < $1
		ORDER BY c.created_at
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []models.Credential
	for rows.Next() {
		var cred models.Credential
		if err := rows.Scan(&cred.ID, &cred.Email, &cred.PasswordHash, &cred.CreatedAt, &cred.UpdatedAt); err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

func scanCredential(row pgx.Row) (models.Credential, error) {
	var cred models.Credential
	if err := row.Scan(&cred.ID, &cred.Email, &cred.PasswordHash, &cred.CreatedAt, &cred.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Credential{}, ErrCredentialNotFound
		}
		return models.Credential{}, err
	}
	return cred, nil
}
