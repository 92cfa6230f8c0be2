package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable/internal/models"
)

func newTimetableRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestTimetableRepositoryCreateInsertsInactive(t *testing.T) {
	db, mock, cleanup := newTimetableRepoMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO timetables")).
		WithArgs(sqlmock.AnyArg(), false, int64(42), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	payload := &models.Timetable{Seed: 42, Active: true}
	require.NoError(t, repo.Create(context.Background(), nil, payload))
	assert.NotEmpty(t, payload.ID)
	assert.False(t, payload.Active)
	assert.Equal(t, types.JSONText(`{}`), payload.Meta)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableRepositoryActivate(t *testing.T) {
	db, mock, cleanup := newTimetableRepoMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE timetables SET active = (id = $1)")).
		WithArgs("tt-2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	require.NoError(t, repo.Activate(context.Background(), nil, "tt-2"))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE timetables SET active = (id = $1)")).
		WithArgs("missing", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.Activate(context.Background(), nil, "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableRepositoryFindActive(t *testing.T) {
	db, mock, cleanup := newTimetableRepoMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "active", "seed", "meta", "created_at", "updated_at"}).
		AddRow("tt-1", true, 7, `{"outcome":"SUCCESS"}`, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, active, seed, meta, created_at, updated_at FROM timetables WHERE active = TRUE")).
		WillReturnRows(rows)

	timetable, err := repo.FindActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tt-1", timetable.ID)
	assert.Equal(t, int64(7), timetable.Seed)
	assert.True(t, timetable.Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableEntryRepositoryInsertAndList(t *testing.T) {
	db, mock, cleanup := newTimetableRepoMock(t)
	defer cleanup()
	repo := NewTimetableEntryRepository(db)

	entries := []models.TimetableEntry{
		{TimetableID: "tt-1", DivisionID: "d1", SubjectID: "s1", TeacherID: "t1", ClassroomID: "r1", TimeSlot: 0, SessionType: models.SessionTypeLecture, Generated: true},
		{TimetableID: "tt-1", DivisionID: "d1", SubjectID: "s2", TeacherID: "t2", ClassroomID: "r1", TimeSlot: 12, SessionType: models.SessionTypeLab, Generated: true},
	}
	for _, e := range entries {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO timetable_entries")).
			WithArgs(sqlmock.AnyArg(), "tt-1", "d1", e.SubjectID, e.TeacherID, "r1", e.TimeSlot, string(e.SessionType), true, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}
	require.NoError(t, repo.InsertBatch(context.Background(), nil, entries))
	for _, e := range entries {
		assert.NotEmpty(t, e.ID)
	}

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "timetable_id", "division_id", "subject_id", "teacher_id", "classroom_id", "time_slot", "session_type", "generated", "created_at"}).
		AddRow("e-1", "tt-1", "d1", "s1", "t1", "r1", 0, "LECTURE", true, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM timetable_entries WHERE timetable_id = $1 AND division_id = $2")).
		WithArgs("tt-1", "d1").
		WillReturnRows(rows)

	list, err := repo.ListByTimetable(context.Background(), "tt-1", "d1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.SessionTypeLecture, list[0].SessionType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableEntryRepositoryInsertUsesTransaction(t *testing.T) {
	db, mock, cleanup := newTimetableRepoMock(t)
	defer cleanup()
	repo := NewTimetableEntryRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO timetable_entries")).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	err = repo.InsertBatch(context.Background(), tx, []models.TimetableEntry{{TimetableID: "tt-1"}})
	require.Error(t, err)
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}
