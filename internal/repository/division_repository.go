package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-timetable/internal/models"
)

// DivisionRepository provides access to divisions and their subject lists.
type DivisionRepository struct {
	db *sqlx.DB
}

// NewDivisionRepository constructs a DivisionRepository.
func NewDivisionRepository(db *sqlx.DB) *DivisionRepository {
	return &DivisionRepository{db: db}
}

// List returns divisions ordered by id, optionally restricted to ids.
func (r *DivisionRepository) List(ctx context.Context, ids []string) ([]models.Division, error) {
	query := `SELECT id, name, semester, availability, created_at, updated_at FROM divisions`
	var args []interface{}
	if len(ids) > 0 {
		query += ` WHERE id = ANY($1)`
		args = append(args, pq.Array(ids))
	}
	query += ` ORDER BY id ASC`

	var divisions []models.Division
	if err := r.db.SelectContext(ctx, &divisions, query, args...); err != nil {
		return nil, fmt.Errorf("list divisions: %w", err)
	}
	return divisions, nil
}

// ListSubjects returns the subject links of the given divisions ordered by division then subject.
func (r *DivisionRepository) ListSubjects(ctx context.Context, divisionIDs []string) ([]models.DivisionSubject, error) {
	if len(divisionIDs) == 0 {
		return nil, nil
	}
	const query = `SELECT division_id, subject_id FROM division_subjects
WHERE division_id = ANY($1) ORDER BY division_id ASC, subject_id ASC`
	var links []models.DivisionSubject
	if err := r.db.SelectContext(ctx, &links, query, pq.Array(divisionIDs)); err != nil {
		return nil, fmt.Errorf("list division subjects: %w", err)
	}
	return links, nil
}
