package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// SessionType distinguishes single lectures from double labs.
type SessionType string

const (
	SessionTypeLecture SessionType = "LECTURE"
	SessionTypeLab     SessionType = "LAB"
)

// Timetable is a generated weekly schedule. At most one timetable is active.
type Timetable struct {
	ID        string         `db:"id" json:"id"`
	Active    bool           `db:"active" json:"active"`
	Seed      int64          `db:"seed" json:"seed"`
	Meta      types.JSONText `db:"meta" json:"meta"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// TimetableEntry is one placed session. A lab is stored once at its first slot.
type TimetableEntry struct {
	ID          string      `db:"id" json:"id"`
	TimetableID string      `db:"timetable_id" json:"timetable_id"`
	DivisionID  string      `db:"division_id" json:"division_id"`
	SubjectID   string      `db:"subject_id" json:"subject_id"`
	TeacherID   string      `db:"teacher_id" json:"teacher_id"`
	ClassroomID string      `db:"classroom_id" json:"classroom_id"`
	TimeSlot    int         `db:"time_slot" json:"time_slot"`
	SessionType SessionType `db:"session_type" json:"session_type"`
	Generated   bool        `db:"generated" json:"generated"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
}

// TimetableMeta is the statistics document stored with a timetable.
type TimetableMeta struct {
	Outcome           string         `json:"outcome"`
	TotalSatisfaction int            `json:"total_satisfaction"`
	ObjectiveValue    float64        `json:"objective_value"`
	SolverStatus      string         `json:"solver_status"`
	Sessions          int            `json:"sessions"`
	SoftViolations    int            `json:"soft_violations"`
	SearchNodes       int            `json:"search_nodes"`
	ElapsedMillis     int64          `json:"elapsed_ms"`
	TopShortages      []SubjectHours `json:"top_shortages"`
	TopUnusedCapacity []SubjectHours `json:"top_unused_capacity"`
}

// SubjectHours pairs a subject with an hour figure.
type SubjectHours struct {
	SubjectID string `json:"subject_id"`
	Hours     int    `json:"hours"`
}
