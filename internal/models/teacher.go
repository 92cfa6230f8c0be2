package models

import "time"

// Teacher represents an instructor record.
type Teacher struct {
	ID           string    `db:"id" json:"id"`
	FullName     string    `db:"full_name" json:"full_name"`
	DepartmentID *string   `db:"department_id" json:"department_id,omitempty"`
	MaxWorkload  int       `db:"max_workload" json:"max_workload"`
	Availability string    `db:"availability" json:"availability"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
