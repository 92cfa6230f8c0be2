package models

import "time"

// Division represents a student cohort that attends subjects together.
type Division struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Semester     int       `db:"semester" json:"semester"`
	Availability string    `db:"availability" json:"availability"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// DivisionSubject links a division to a subject it must take.
type DivisionSubject struct {
	DivisionID string `db:"division_id" json:"division_id"`
	SubjectID  string `db:"subject_id" json:"subject_id"`
}

// Classroom is a room that hosts sessions.
type Classroom struct {
	ID           string    `db:"id" json:"id"`
	Number       string    `db:"number" json:"number"`
	Availability string    `db:"availability" json:"availability"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
