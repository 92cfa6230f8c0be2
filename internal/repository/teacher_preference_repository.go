package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable/internal/models"
)

// TeacherPreferenceRepository persists subject preferences of teachers.
type TeacherPreferenceRepository struct {
	db *sqlx.DB
}

// NewTeacherPreferenceRepository constructs the repository.
func NewTeacherPreferenceRepository(db *sqlx.DB) *TeacherPreferenceRepository {
	return &TeacherPreferenceRepository{db: db}
}

// List returns every preference ordered by creation time.
func (r *TeacherPreferenceRepository) List(ctx context.Context) ([]models.SubjectPreference, error) {
	const query = `SELECT id, teacher_id, subject_id, score, created_at, updated_at FROM subject_preferences ORDER BY created_at ASC, id ASC`
	var prefs []models.SubjectPreference
	if err := r.db.SelectContext(ctx, &prefs, query); err != nil {
		return nil, fmt.Errorf("list subject preferences: %w", err)
	}
	return prefs, nil
}

// Upsert creates or updates the preference of a teacher for a subject.
func (r *TeacherPreferenceRepository) Upsert(ctx context.Context, pref *models.SubjectPreference) error {
	if pref.ID == "" {
		pref.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if pref.CreatedAt.IsZero() {
		pref.CreatedAt = now
	}
	pref.UpdatedAt = now

	const query = `INSERT INTO subject_preferences (id, teacher_id, subject_id, score, created_at, updated_at)
		VALUES (:id, :teacher_id, :subject_id, :score, :created_at, :updated_at)
		ON CONFLICT (teacher_id, subject_id) DO UPDATE
		SET score = EXCLUDED.score,
		    updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, pref); err != nil {
		return fmt.Errorf("upsert subject preference: %w", err)
	}
	return nil
}
