package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable/pkg/optimizer"
)

func newTestSolver() *AssignmentSolver {
	return NewAssignmentSolver(optimizer.NewBranchBound(nil), nil)
}

func assignmentOf(result *AssignmentResult, subjectID, divisionID string) string {
	for _, a := range result.Assignments {
		if a.SubjectID == subjectID && a.DivisionID == divisionID {
			return a.TeacherID
		}
	}
	return ""
}

func TestSolveRespectsWorkloadCap(t *testing.T) {
	snap := Snapshot{
		Teachers: []Teacher{
			{ID: "star", MaxWorkload: 4},
			{ID: "backup", MaxWorkload: 18},
		},
		Subjects: []Subject{{ID: "math", LecturesPerWeek: 2}},
		Divisions: []Division{
			{ID: "d1", SubjectIDs: []string{"math"}},
			{ID: "d2", SubjectIDs: []string{"math"}},
			{ID: "d3", SubjectIDs: []string{"math"}},
		},
		Preferences: []Preference{
			{TeacherID: "star", SubjectID: "math", Score: 10},
			{TeacherID: "backup", SubjectID: "math", Score: 1},
		},
	}

	result, err := newTestSolver().Solve(context.Background(), snap, AssignmentOptions{RequirePreference: true})
	require.NoError(t, err)
	require.Equal(t, AssignmentOptimal, result.Status)
	require.Len(t, result.Assignments, 3)

	assert.Equal(t, TeacherStat{Workload: 4, UnusedCapacity: 0, MaxWorkload: 4}, result.TeacherStats["star"])
	assert.Equal(t, TeacherStat{Workload: 2, UnusedCapacity: 16, MaxWorkload: 18}, result.TeacherStats["backup"])
	assert.Equal(t, 21, result.TotalSatisfaction)
	assert.Equal(t, "Optimal", result.SolverStatus)

	stat := result.SubjectStats["math"]
	assert.Equal(t, 6, stat.HoursNeeded)
	assert.Equal(t, 6, stat.HoursAssigned)
	assert.Equal(t, 0, stat.Shortage)
	assert.Equal(t, 22-6, stat.UnusedCapacity)
	assert.Equal(t, 2, stat.TeachersAssignedCount)
	assert.Equal(t, 3, stat.DivisionsNeeded)
	assert.Equal(t, []SubjectHours{{SubjectID: "math", Hours: 16}}, result.TopUnusedCapacity)
	assert.Empty(t, result.TopShortages)
}

func TestSolvePrefersOlderPreferenceOnTie(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Teachers:  []Teacher{{ID: "newer", MaxWorkload: 18}, {ID: "older", MaxWorkload: 18}},
		Subjects:  []Subject{{ID: "art", LecturesPerWeek: 1}},
		Divisions: []Division{{ID: "d1", SubjectIDs: []string{"art"}}},
		Preferences: []Preference{
			{TeacherID: "newer", SubjectID: "art", Score: 5, CreatedAt: base.Add(48 * time.Hour)},
			{TeacherID: "older", SubjectID: "art", Score: 5, CreatedAt: base},
		},
	}

	result, err := newTestSolver().Solve(context.Background(), snap, AssignmentOptions{RequirePreference: true})
	require.NoError(t, err)
	assert.Equal(t, "older", assignmentOf(result, "art", "d1"))
	assert.InDelta(t, 5+RecencyWeight-PeakLoadWeight, result.ObjectiveValue, 1e-9)
}

func TestSolveSpreadsLoadOnScoreTie(t *testing.T) {
	snap := Snapshot{
		Teachers:  []Teacher{{ID: "a", MaxWorkload: 18}, {ID: "b", MaxWorkload: 18}},
		Subjects:  []Subject{{ID: "pe", LecturesPerWeek: 3}},
		Divisions: []Division{{ID: "d1", SubjectIDs: []string{"pe"}}, {ID: "d2", SubjectIDs: []string{"pe"}}},
	}

	result, err := newTestSolver().Solve(context.Background(), snap, AssignmentOptions{MissingScore: 1})
	require.NoError(t, err)
	require.True(t, result.Status.Solved())
	assert.NotEqual(t, assignmentOf(result, "pe", "d1"), assignmentOf(result, "pe", "d2"))
	assert.Equal(t, 2, result.TotalSatisfaction)
	for _, a := range result.Assignments {
		assert.False(t, a.Preferred)
	}
}

func TestSolveAllowsAnyTeacherWithoutPreferenceRequirement(t *testing.T) {
	snap := Snapshot{
		Teachers:    []Teacher{{ID: "a", MaxWorkload: 18}, {ID: "b", MaxWorkload: 18}},
		Subjects:    []Subject{{ID: "music", LecturesPerWeek: 2}},
		Divisions:   []Division{{ID: "d1", SubjectIDs: []string{"music"}}},
		Preferences: []Preference{{TeacherID: "b", SubjectID: "music", Score: 1}},
	}

	strict, err := newTestSolver().Solve(context.Background(), snap, AssignmentOptions{RequirePreference: true})
	require.NoError(t, err)
	assert.Equal(t, "b", assignmentOf(strict, "music", "d1"))

	relaxed, err := newTestSolver().Solve(context.Background(), snap, AssignmentOptions{MissingScore: 3})
	require.NoError(t, err)
	assert.Equal(t, "a", assignmentOf(relaxed, "music", "d1"))
}

func TestSolveReportsSolverInfeasibility(t *testing.T) {
	// Capacity adds up, but no single teacher can carry the four-hour pair.
	snap := Snapshot{
		Teachers:  []Teacher{{ID: "a", MaxWorkload: 3}, {ID: "b", MaxWorkload: 3}},
		Subjects:  []Subject{{ID: "lab", LecturesPerWeek: 2, LabsPerWeek: 1}},
		Divisions: []Division{{ID: "d1", SubjectIDs: []string{"lab"}}},
	}

	result, err := newTestSolver().Solve(context.Background(), snap, AssignmentOptions{})
	require.NoError(t, err)
	assert.Equal(t, AssignmentSolverFailed, result.Status)
	assert.Equal(t, "Infeasible", result.SolverStatus)
	assert.Equal(t, []string{"Solver failed with status: Infeasible"}, result.InfeasibilityReasons)
	assert.Equal(t, 4, result.SubjectStats["lab"].HoursNeeded)
	assert.Zero(t, result.SubjectStats["lab"].TeachersAssignedCount)
	assert.Empty(t, result.Assignments)
}

func TestSolveSplitsDivisionsAcrossTeachers(t *testing.T) {
	snap := Snapshot{
		Teachers: []Teacher{{ID: "a", MaxWorkload: 10}, {ID: "b", MaxWorkload: 18}},
		Subjects: []Subject{{ID: "bio", LecturesPerWeek: 3, LabsPerWeek: 1}},
		Divisions: []Division{
			{ID: "d1", SubjectIDs: []string{"bio"}},
			{ID: "d2", SubjectIDs: []string{"bio"}},
			{ID: "d3", SubjectIDs: []string{"bio"}},
		},
		Preferences: []Preference{
			{TeacherID: "a", SubjectID: "bio", Score: 9},
			{TeacherID: "b", SubjectID: "bio", Score: 2},
		},
	}

	result, err := newTestSolver().Solve(context.Background(), snap, AssignmentOptions{RequirePreference: true})
	require.NoError(t, err)
	require.Equal(t, AssignmentOptimal, result.Status)
	assert.Equal(t, []Assignment{
		{TeacherID: "a", SubjectID: "bio", DivisionID: "d1", Score: 9, Preferred: true},
		{TeacherID: "a", SubjectID: "bio", DivisionID: "d2", Score: 9, Preferred: true},
		{TeacherID: "b", SubjectID: "bio", DivisionID: "d3", Score: 2, Preferred: true},
	}, result.Assignments)
	assert.Equal(t, 10, result.TeacherStats["a"].Workload)
	assert.Equal(t, 2, result.SubjectStats["bio"].TeachersAssignedCount)
}

func TestSolveProvesOptimalityOnTightSchool(t *testing.T) {
	// Twelve teachers cover six five-hour subjects in six divisions. Each teacher holds three
	// preferences and can carry three pairs, so every teacher must end up full.
	const subjects, divisions, teachers = 6, 6, 12
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{}
	ids := make([]string, subjects)
	for s := 0; s < subjects; s++ {
		ids[s] = fmt.Sprintf("s%d", s)
		snap.Subjects = append(snap.Subjects, Subject{ID: ids[s], LecturesPerWeek: 3, LabsPerWeek: 1})
	}
	for d := 0; d < divisions; d++ {
		snap.Divisions = append(snap.Divisions, Division{ID: fmt.Sprintf("d%d", d), SubjectIDs: ids})
	}
	for tc := 0; tc < teachers; tc++ {
		id := fmt.Sprintf("t%02d", tc)
		snap.Teachers = append(snap.Teachers, Teacher{ID: id, MaxWorkload: DefaultMaxWorkload})
		for k := 0; k < 3; k++ {
			s := (tc + k) % subjects
			snap.Preferences = append(snap.Preferences, Preference{
				TeacherID: id,
				SubjectID: ids[s],
				Score:     1 + (3*tc+5*s)%10,
				CreatedAt: base.Add(time.Duration(tc*subjects+s) * time.Hour),
			})
		}
	}
	scores := map[[2]string]int{}
	for _, pref := range snap.Preferences {
		scores[[2]string{pref.TeacherID, pref.SubjectID}] = pref.Score
	}

	result, err := newTestSolver().Solve(context.Background(), snap, AssignmentOptions{
		RequirePreference: true,
		TimeLimit:         10 * time.Second,
	})
	require.NoError(t, err)
	require.Equal(t, AssignmentOptimal, result.Status)
	require.Len(t, result.Assignments, subjects*divisions)

	seen := map[[2]string]bool{}
	for _, a := range result.Assignments {
		key := [2]string{a.SubjectID, a.DivisionID}
		assert.False(t, seen[key], "pair %v assigned twice", key)
		seen[key] = true
		assert.Equal(t, scores[[2]string{a.TeacherID, a.SubjectID}], a.Score)
	}
	for _, teacher := range snap.Teachers {
		assert.Equal(t, 15, result.TeacherStats[teacher.ID].Workload, teacher.ID)
	}

	// One division of each preferred subject per teacher is feasible; the optimum cannot
	// score below it.
	spread := 0
	for _, pref := range snap.Preferences {
		spread += pref.Score
	}
	assert.GreaterOrEqual(t, result.TotalSatisfaction, spread)
}

func TestTopSubjectHoursCapsAndOrders(t *testing.T) {
	stats := map[string]SubjectStat{}
	for i := 0; i < 12; i++ {
		stats[string(rune('a'+i))] = SubjectStat{Shortage: i % 4}
	}
	shortages, unused := topSubjectHours(stats)
	require.Len(t, shortages, 9)
	assert.Empty(t, unused)
	assert.Equal(t, SubjectHours{SubjectID: "d", Hours: 3}, shortages[0])
	for i := 1; i < len(shortages); i++ {
		assert.GreaterOrEqual(t, shortages[i-1].Hours, shortages[i].Hours)
	}

	for i := 0; i < 12; i++ {
		stats[string(rune('a'+i))] = SubjectStat{UnusedCapacity: i + 1}
	}
	_, unused = topSubjectHours(stats)
	require.Len(t, unused, topStatsLimit)
	assert.Equal(t, 12, unused[0].Hours)
}
