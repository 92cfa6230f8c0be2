package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable/internal/models"
)

// TimetableEntryRepository manages the placed sessions of a timetable.
type TimetableEntryRepository struct {
	db *sqlx.DB
}

// NewTimetableEntryRepository builds repository.
func NewTimetableEntryRepository(db *sqlx.DB) *TimetableEntryRepository {
	return &TimetableEntryRepository{db: db}
}

func (r *TimetableEntryRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// InsertBatch inserts entries. Uniqueness of (timetable, slot) per division, teacher and
// classroom is enforced by the schema.
func (r *TimetableEntryRepository) InsertBatch(ctx context.Context, exec sqlx.ExtContext, entries []models.TimetableEntry) error {
	if len(entries) == 0 {
		return nil
	}
	target := r.exec(exec)
	now := time.Now().UTC()

	const query = `
INSERT INTO timetable_entries (id, timetable_id, division_id, subject_id, teacher_id, classroom_id, time_slot, session_type, generated, created_at)
VALUES (:id, :timetable_id, :division_id, :subject_id, :teacher_id, :classroom_id, :time_slot, :session_type, :generated, :created_at)`

	for i := range entries {
		entry := &entries[i]
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}
		if _, err := sqlx.NamedExecContext(ctx, target, query, entry); err != nil {
			return fmt.Errorf("insert timetable entry: %w", err)
		}
	}
	return nil
}

// ListByTimetable returns entries ordered by slot. A non-empty divisionID filters the result.
func (r *TimetableEntryRepository) ListByTimetable(ctx context.Context, timetableID, divisionID string) ([]models.TimetableEntry, error) {
	query := `SELECT id, timetable_id, division_id, subject_id, teacher_id, classroom_id, time_slot, session_type, generated, created_at
FROM timetable_entries WHERE timetable_id = $1`
	args := []interface{}{timetableID}
	if divisionID != "" {
		query += ` AND division_id = $2`
		args = append(args, divisionID)
	}
	query += ` ORDER BY time_slot ASC, division_id ASC`

	var entries []models.TimetableEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("list timetable entries: %w", err)
	}
	return entries, nil
}
