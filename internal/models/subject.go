package models

import "time"

// Subject represents an academic subject with its weekly load.
type Subject struct {
	ID              string    `db:"id" json:"id"`
	Code            string    `db:"code" json:"code"`
	Name            string    `db:"name" json:"name"`
	DepartmentID    *string   `db:"department_id" json:"department_id,omitempty"`
	LecturesPerWeek int       `db:"lectures_per_week" json:"lectures_per_week"`
	LabsPerWeek     int       `db:"labs_per_week" json:"labs_per_week"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}
