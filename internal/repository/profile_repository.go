package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"placement/internal/database"
	"placement/internal/models"
)

type ProfileRepository struct {
	db database.DBTX
}

func NewProfileRepository(db database.DBTX) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func (r *ProfileRepository) Put(ctx context.Context, p models.StudentProfile) error {
	const query = `
		INSERT INTO student_profiles (
			account_id, register_number, passout_year, branch, gender, date_of_birth,
			lateral_entry, cgpa, skills, resume_url, coordinator_id, approval_status,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW()
		)
		ON CONFLICT (account_id)
		DO UPDATE SET
			register_number = EXCLUDED.register_number,
			passout_year = EXCLUDED.passout_year,
			branch = EXCLUDED.branch,
			gender = EXCLUDED.gender,
			date_of_birth = EXCLUDED.date_of_birth,
			lateral_entry = EXCLUDED.lateral_entry,
			cgpa = EXCLUDED.cgpa,
			skills = EXCLUDED.skills,
			resume_url = EXCLUDED.resume_url,
			coordinator_id = EXCLUDED.coordinator_id,
			approval_status = EXCLUDED.approval_status,
			updated_at = NOW()
	`

	skills := p.Skills
	if skills == nil {
		skills = []string{}
	}

	_, err := r.db.Exec(ctx, query,
		p.AccountID,
		p.RegisterNumber,
		p.PassoutYear,
		p.Branch,
		p.Gender,
		p.DateOfBirth,
		p.LateralEntry,
		p.CGPA,
		skills,
		p.ResumeURL,
		p.CoordinatorID,
		p.ApprovalStatus,
	)
	return err
}

func (r *ProfileRepository) Get(ctx context.Context, accountID string) (models.StudentProfile, error) {
	const query = `
		SELECT account_id, register_number, passout_year, branch, gender, date_of_birth,
		       lateral_entry, cgpa, skills, resume_url, coordinator_id, approval_status,
		       created_at, updated_at
		FROM student_profiles WHERE account_id = $1
	`

	var p models.StudentProfile
	if err := r.db.QueryRow(ctx, query, accountID).Scan(
		&p.AccountID,
		&p.RegisterNumber,
		&p.PassoutYear,
		&p.Branch,
		&p.Gender,
		&p.DateOfBirth,
		&p.LateralEntry,
		&p.CGPA,
		&p.Skills,
		&p.ResumeURL,
		&p.CoordinatorID,
		&p.ApprovalStatus,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.StudentProfile{}, ErrProfileNotFound
		}
		return models.StudentProfile{}, err
	}
	return p, nil
}
