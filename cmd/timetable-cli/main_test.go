package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable/internal/dto"
	"github.com/noah-isme/sma-timetable/internal/models"
	"github.com/noah-isme/sma-timetable/internal/service"
)

const schoolYAML = `
teachers:
  - id: t1
    name: Ana
    availability: BOTH
  - id: t2
    name: Budi
subjects:
  - id: phy
    name: Physics
    lectures_per_week: 2
    labs_per_week: 1
divisions:
  - id: d1
    name: X-A
    subjects: [phy]
classrooms:
  - id: r1
    number: "101"
preferences:
  - teacher: t1
    subject: phy
    score: 5
    created_at: "2024-03-01T08:00:00Z"
`

func writeSnapshot(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "school.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("SCHEDULER_BACKEND", "branchbound")
	t.Setenv("SCHEDULER_REQUIRE_PREFERENCE", "true")
	t.Setenv("JWT_SECRET", "cli-secret")
	root := newRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.Execute()
	return out.String(), err
}

func TestGenerateCommandPrintsTimetable(t *testing.T) {
	path := writeSnapshot(t, schoolYAML)

	out, err := runCLI(t, "generate", "--snapshot", path, "--seed", "7")
	require.NoError(t, err)

	var resp dto.GenerateTimetableResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "SUCCESS", resp.Outcome)
	assert.Equal(t, int64(7), resp.Seed)
	assert.Equal(t, 3, resp.Sessions)
	require.Len(t, resp.Entries, 3)
	for _, e := range resp.Entries {
		assert.Equal(t, "t1", e.TeacherID)
		assert.Equal(t, "r1", e.ClassroomID)
	}
	assert.Equal(t, 4, resp.Stats.TeacherWorkloads["t1"])
}

func TestGenerateCommandSameSeedSameTimetable(t *testing.T) {
	path := writeSnapshot(t, schoolYAML)

	first, err := runCLI(t, "generate", "--snapshot", path, "--seed", "42")
	require.NoError(t, err)
	second, err := runCLI(t, "generate", "--snapshot", path, "--seed", "42")
	require.NoError(t, err)

	var a, b dto.GenerateTimetableResponse
	require.NoError(t, json.Unmarshal([]byte(first), &a))
	require.NoError(t, json.Unmarshal([]byte(second), &b))
	assert.Equal(t, a.Entries, b.Entries)
}

func TestGenerateCommandExportsDivisionGrid(t *testing.T) {
	path := writeSnapshot(t, schoolYAML)
	target := filepath.Join(t.TempDir(), "x-a.csv")

	_, err := runCLI(t, "generate", "--snapshot", path, "--seed", "1", "--export", target, "--export-division", "d1")
	require.NoError(t, err)

	body, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Monday")
	assert.Contains(t, string(body), "phy (lab)")
}

func TestGenerateCommandReportsInfeasibleAssignment(t *testing.T) {
	path := writeSnapshot(t, `
teachers:
  - id: t1
subjects:
  - id: phy
    lectures_per_week: 2
divisions:
  - id: d1
    subjects: [phy]
classrooms:
  - id: r1
`)

	out, err := runCLI(t, "generate", "--snapshot", path, "--seed", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ASSIGNMENT_INFEASIBLE")

	var resp dto.GenerateTimetableResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ASSIGNMENT_INFEASIBLE", resp.Outcome)
	assert.NotEmpty(t, resp.Reasons)
	assert.Empty(t, resp.Entries)

	out, err = runCLI(t, "generate", "--snapshot", path, "--seed", "1", "--allow-missing-preference")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "SUCCESS", resp.Outcome)
}

func TestGenerateCommandRejectsUnknownUniverseID(t *testing.T) {
	path := writeSnapshot(t, schoolYAML)

	_, err := runCLI(t, "generate", "--snapshot", path, "--divisions", "d9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "d9")
}

func TestGenerateCommandRequiresSnapshot(t *testing.T) {
	_, err := runCLI(t, "generate")
	require.Error(t, err)
}

func TestAssignCommand(t *testing.T) {
	path := writeSnapshot(t, schoolYAML)

	out, err := runCLI(t, "assign", "--snapshot", path)
	require.NoError(t, err)

	var report dto.AssignmentReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "Optimal", report.Status)
	require.Len(t, report.Assignments, 1)
	assert.Equal(t, dto.AssignmentView{SubjectID: "phy", DivisionID: "d1", TeacherID: "t1", Score: 5, Preferred: true}, report.Assignments[0])
	assert.Equal(t, 5, report.TotalSatisfaction)
}

func TestTokenCommand(t *testing.T) {
	out, err := runCLI(t, "token", "--user", "t1", "--role", "teacher")
	require.NoError(t, err)

	claims, err := service.NewTokenService("cli-secret").ValidateToken(string(bytes.TrimSpace([]byte(out))))
	require.NoError(t, err)
	assert.Equal(t, "t1", claims.UserID)
	assert.Equal(t, models.RoleTeacher, claims.Role)

	_, err = runCLI(t, "token", "--user", "t1", "--role", "student")
	require.Error(t, err)
}
