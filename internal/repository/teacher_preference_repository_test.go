package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable/internal/models"
)

func TestTeacherPreferenceRepositoryListAndUpsert(t *testing.T) {
	db, mock, cleanup := newTimetableRepoMock(t)
	defer cleanup()
	repo := NewTeacherPreferenceRepository(db)

	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(24 * time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("FROM subject_preferences ORDER BY created_at ASC, id ASC")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "teacher_id", "subject_id", "score", "created_at", "updated_at"}).
			AddRow("p1", "teacher-1", "phy", 5, older, older).
			AddRow("p2", "teacher-2", "phy", -2, newer, newer))

	prefs, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, prefs, 2)
	assert.Equal(t, -2, prefs[1].Score)

	mock.ExpectExec(`(?s)INSERT INTO subject_preferences.*ON CONFLICT \(teacher_id, subject_id\) DO UPDATE`).
		WithArgs(sqlmock.AnyArg(), "teacher-1", "bio", 7, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	pref := &models.SubjectPreference{TeacherID: "teacher-1", SubjectID: "bio", Score: 7}
	require.NoError(t, repo.Upsert(context.Background(), pref))
	assert.NotEmpty(t, pref.ID)
	assert.False(t, pref.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
