package dto

import "time"

// SnapshotFile is the on-disk description of a school used for offline runs. Availability
// fields accept a shift name (SHIFT_1, SHIFT_2, BOTH) or a 48 character bitset; empty means
// the entity default.
type SnapshotFile struct {
	Teachers    []TeacherRecord    `mapstructure:"teachers"`
	Subjects    []SubjectRecord    `mapstructure:"subjects"`
	Divisions   []DivisionRecord   `mapstructure:"divisions"`
	Classrooms  []ClassroomRecord  `mapstructure:"classrooms"`
	Preferences []PreferenceRecord `mapstructure:"preferences"`
}

type TeacherRecord struct {
	ID           string `mapstructure:"id"`
	Name         string `mapstructure:"name"`
	Department   string `mapstructure:"department"`
	MaxWorkload  int    `mapstructure:"max_workload"`
	Availability string `mapstructure:"availability"`
}

type SubjectRecord struct {
	ID              string `mapstructure:"id"`
	Name            string `mapstructure:"name"`
	Department      string `mapstructure:"department"`
	LecturesPerWeek int    `mapstructure:"lectures_per_week"`
	LabsPerWeek     int    `mapstructure:"labs_per_week"`
}

type DivisionRecord struct {
	ID           string   `mapstructure:"id"`
	Name         string   `mapstructure:"name"`
	Semester     int      `mapstructure:"semester"`
	Subjects     []string `mapstructure:"subjects"`
	Availability string   `mapstructure:"availability"`
}

type ClassroomRecord struct {
	ID           string `mapstructure:"id"`
	Number       string `mapstructure:"number"`
	Availability string `mapstructure:"availability"`
}

type PreferenceRecord struct {
	Teacher   string    `mapstructure:"teacher"`
	Subject   string    `mapstructure:"subject"`
	Score     int       `mapstructure:"score"`
	CreatedAt time.Time `mapstructure:"created_at"`
}
