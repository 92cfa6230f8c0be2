package dto

import "time"

// GenerateTimetableRequest starts a generation run. Empty id lists select every active record.
type GenerateTimetableRequest struct {
	Seed                   *int64   `json:"seed"`
	TeacherIDs             []string `json:"teacherIds" validate:"omitempty,dive,required"`
	ClassroomIDs           []string `json:"classroomIds" validate:"omitempty,dive,required"`
	DivisionIDs            []string `json:"divisionIds" validate:"omitempty,dive,required"`
	TimeoutSeconds         int      `json:"timeoutSeconds" validate:"min=0,max=86400"`
	AllowMissingPreference bool     `json:"allowMissingPreference"`
	MissingScore           *int     `json:"missingScore"`
	// DryRun skips persistence; the response still carries the entries.
	DryRun bool `json:"dryRun"`
}

// TimetableEntryView is a placed session as returned by the API.
type TimetableEntryView struct {
	DivisionID    string `json:"divisionId"`
	SubjectID     string `json:"subjectId"`
	TeacherID     string `json:"teacherId"`
	ClassroomID   string `json:"classroomId"`
	TimeSlot      int    `json:"timeSlot"`
	Day           int    `json:"day"`
	Period        int    `json:"period"`
	SessionType   string `json:"sessionType"`
	SoftViolation bool   `json:"softViolation,omitempty"`
}

// SubjectHoursView pairs a subject with an hour figure.
type SubjectHoursView struct {
	SubjectID string `json:"subjectId"`
	Hours     int    `json:"hours"`
}

// GenerationStats summarises both phases of a run.
type GenerationStats struct {
	SolverStatus      string             `json:"solverStatus"`
	TotalSatisfaction int                `json:"totalSatisfaction"`
	ObjectiveValue    float64            `json:"objectiveValue"`
	TeacherWorkloads  map[string]int     `json:"teacherWorkloads"`
	TopShortages      []SubjectHoursView `json:"topShortages"`
	TopUnusedCapacity []SubjectHoursView `json:"topUnusedCapacity"`
	SearchNodes       int                `json:"searchNodes"`
	Backtracks        int                `json:"backtracks"`
	SoftViolations    int                `json:"softViolations"`
	ElapsedMs         int64              `json:"elapsedMs"`
}

// GenerateTimetableResponse reports a finished run. TimetableID is empty unless the run
// succeeded and was persisted.
type GenerateTimetableResponse struct {
	TimetableID string               `json:"timetableId,omitempty"`
	Outcome     string               `json:"outcome"`
	Reasons     []string             `json:"reasons,omitempty"`
	Seed        int64                `json:"seed"`
	Sessions    int                  `json:"sessions"`
	Entries     []TimetableEntryView `json:"entries,omitempty"`
	Stats       GenerationStats      `json:"stats"`
}

// JobStatus tracks an asynchronous generation.
type JobStatus string

const (
	JobStatusQueued  JobStatus = "QUEUED"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusDone    JobStatus = "DONE"
	JobStatusFailed  JobStatus = "FAILED"
)

// GenerationJob is the pollable record of an asynchronous generation.
type GenerationJob struct {
	ID        string                     `json:"id"`
	Status    JobStatus                  `json:"status"`
	Request   GenerateTimetableRequest   `json:"request"`
	Result    *GenerateTimetableResponse `json:"result,omitempty"`
	Error     string                     `json:"error,omitempty"`
	CreatedAt time.Time                  `json:"createdAt"`
	UpdatedAt time.Time                  `json:"updatedAt"`
}

// UpsertPreferenceRequest records how much a teacher wants to teach a subject.
type UpsertPreferenceRequest struct {
	SubjectID string `json:"subjectId" validate:"required"`
	Score     int    `json:"score" validate:"min=1,max=10"`
}

// ExportFormat selects the export renderer.
type ExportFormat string

const (
	ExportCSV ExportFormat = "csv"
	ExportPDF ExportFormat = "pdf"
)

// ExportFile is a rendered timetable download.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// AssignmentView binds a (subject, division) pair to its teacher.
type AssignmentView struct {
	SubjectID  string `json:"subjectId"`
	DivisionID string `json:"divisionId"`
	TeacherID  string `json:"teacherId"`
	Score      int    `json:"score"`
	Preferred  bool   `json:"preferred"`
}

// AssignmentReport is the outcome of the assignment phase on its own.
type AssignmentReport struct {
	Status            string             `json:"status"`
	SolverStatus      string             `json:"solverStatus"`
	Assignments       []AssignmentView   `json:"assignments"`
	TeacherWorkloads  map[string]int     `json:"teacherWorkloads"`
	TopShortages      []SubjectHoursView `json:"topShortages"`
	TopUnusedCapacity []SubjectHoursView `json:"topUnusedCapacity"`
	TotalSatisfaction int                `json:"totalSatisfaction"`
	ObjectiveValue    float64            `json:"objectiveValue"`
	Reasons           []string           `json:"reasons,omitempty"`
}
