package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable/internal/dto"
	"github.com/noah-isme/sma-timetable/internal/engine"
	"github.com/noah-isme/sma-timetable/internal/models"
)

func TestBuildSnapshotAppliesDefaultsAndGroupsSubjects(t *testing.T) {
	dept := "science"
	snap, err := BuildSnapshot(SnapshotSource{
		Teachers: []models.Teacher{
			{ID: "t1", FullName: "Ana", DepartmentID: &dept, MaxWorkload: 12},
			{ID: "t2", Availability: "SHIFT_1"},
		},
		Subjects:  []models.Subject{{ID: "phy", DepartmentID: &dept, LecturesPerWeek: 2, LabsPerWeek: 1}},
		Divisions: []models.Division{{ID: "d1"}, {ID: "d2", Availability: strings.Repeat("1", engine.TotalSlots)}},
		DivisionSubjects: []models.DivisionSubject{
			{DivisionID: "d2", SubjectID: "phy"},
			{DivisionID: "d1", SubjectID: "phy"},
		},
		Classrooms: []models.Classroom{{ID: "r1"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "science", snap.Teachers[0].DepartmentID)
	assert.Equal(t, engine.DefaultTeacherAvailability, snap.Teachers[0].Availability)
	assert.Equal(t, engine.Shift1, snap.Teachers[1].Availability)
	assert.Equal(t, []string{"phy"}, snap.Divisions[0].SubjectIDs)
	assert.Equal(t, engine.BothShifts, snap.Divisions[1].Availability)
	assert.Equal(t, engine.DefaultClassroomAvailability, snap.Classrooms[0].Availability)
}

func TestBuildSnapshotRejectsBadAvailability(t *testing.T) {
	_, err := BuildSnapshot(SnapshotSource{Classrooms: []models.Classroom{{ID: "r1", Availability: "NIGHT"}}})
	assert.ErrorIs(t, err, engine.ErrInvalidSnapshot)
}

func TestSnapshotFromFileDefaultsWorkload(t *testing.T) {
	snap, err := SnapshotFromFile(dto.SnapshotFile{
		Teachers:  []dto.TeacherRecord{{ID: "t1"}, {ID: "t2", MaxWorkload: 6}},
		Subjects:  []dto.SubjectRecord{{ID: "math", LecturesPerWeek: 3}},
		Divisions: []dto.DivisionRecord{{ID: "d1", Subjects: []string{"math"}}},
		Preferences: []dto.PreferenceRecord{
			{Teacher: "t2", Subject: "math", Score: 4},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultMaxWorkload, snap.Teachers[0].MaxWorkload)
	assert.Equal(t, 6, snap.Teachers[1].MaxWorkload)
	assert.Equal(t, []string{"math"}, snap.Divisions[0].SubjectIDs)
	assert.Equal(t, []engine.Preference{{TeacherID: "t2", SubjectID: "math", Score: 4}}, snap.Preferences)
	assert.NoError(t, snap.Validate())
}
