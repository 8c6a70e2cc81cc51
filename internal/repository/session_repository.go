package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"placement/internal/database"
	"placement/internal/models"
)

type SessionRepository struct {
	db database.DBTX
}

func NewSessionRepository(db database.DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, credential_id, device_name, ip_address, user_agent, created_at, last_seen_at, expires_at`

// Create stores the session. With a positive limit the credential's oldest
// sessions beyond limit are removed in the same transaction.
func (r *SessionRepository) Create(ctx context.Context, session models.CredentialSession, limit int) error {
	if limit <= 0 {
		return insertSession(ctx, r.db, session)
	}

	beginner, ok := r.db.(database.TxBeginner)
	if !ok {
		if err := insertSession(ctx, r.db, session); err != nil {
			return err
		}
		return trimSessions(ctx, r.db, session.CredentialID, limit)
	}

	return database.WithTx(ctx, beginner, func(ctx context.Context, tx database.DBTX) error {
		if err := insertSession(ctx, tx, session); err != nil {
			return err
		}
		return trimSessions(ctx, tx, session.CredentialID, limit)
	})
}

func insertSession(ctx context.Context, db database.DBTX, session models.CredentialSession) error {
	const query = `
		INSERT INTO credential_sessions (
			id, credential_id, device_name, ip_address, user_agent, created_at, last_seen_at, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, NOW(), NOW(), $6
		)
	`

	_, err := db.Exec(ctx, query,
		session.ID,
		session.CredentialID,
		session.DeviceName,
		session.IPAddress,
		session.UserAgent,
		session.ExpiresAt,
	)
	return err
}

// trimSessions keeps the keepLatest most recently seen sessions of the
// credential and removes the rest.
func trimSessions(ctx context.Context, db database.DBTX, credentialID string, keepLatest int) error {
	const query = `
		DELETE FROM credential_sessions
		WHERE id IN (
			SELECT id FROM credential_sessions
			WHERE credential_id = $1
			ORDER BY last_seen_at DESC, created_at DESC
			OFFSET $2
		)
	`
	_, err := db.Exec(ctx, query, credentialID, keepLatest)
	return err
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (models.CredentialSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM credential_sessions WHERE id = $1`

	var session models.CredentialSession
	if err := r.db.QueryRow(ctx, query, id).Scan(
		&session.ID,
		&session.CredentialID,
		&session.DeviceName,
		&session.IPAddress,
		&session.UserAgent,
		&session.CreatedAt,
		&session.LastSeenAt,
		&session.ExpiresAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.CredentialSession{}, ErrSessionNotFound
		}
		return models.CredentialSession{}, err
	}
	return session, nil
}

func (r *SessionRepository) DeleteByID(ctx context.Context, id string) error {
	const query = `DELETE FROM credential_sessions WHERE id = $1`
	cmd, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteExpired removes sessions that expired before now and returns how many
// were removed.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM credential_sessions WHERE expires_at < $1`
	cmd, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *SessionRepository) Touch(ctx context.Context, sessionID string, ip string, userAgent string) error {
	const query = `
		UPDATE credential_sessions
		SET last_seen_at = NOW(),
		    ip_address = COALESCE(NULLIF($2, ''), ip_address),
		    user_agent = COALESCE(NULLIF($3, ''), user_agent)
		WHERE id = $1
	`
	_, err := r.db.Exec(ctx, query, sessionID, ip, userAgent)
	return err
}
