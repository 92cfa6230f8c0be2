package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
)

// ErrInvalidSnapshot marks a malformed entity snapshot. It is a configuration fault and is
// never retried.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// Teacher is an instructor that can be assigned to (subject, division) pairs.
type Teacher struct {
	ID           string
	Name         string
	DepartmentID string
	MaxWorkload  int
	Availability Bitset
}

// Subject is a course with a weekly load of single lectures and double labs.
type Subject struct {
	ID              string
	Name            string
	DepartmentID    string
	LecturesPerWeek int
	LabsPerWeek     int
}

// HoursPerWeek counts a lab as two hours.
func (s Subject) HoursPerWeek() int {
	return s.LecturesPerWeek + 2*s.LabsPerWeek
}

// Division is a cohort of students that takes a set of subjects.
type Division struct {
	ID           string
	Name         string
	Semester     int
	SubjectIDs   []string
	Availability Bitset
}

// Classroom is a room that hosts at most one session per slot.
type Classroom struct {
	ID           string
	Number       string
	Availability Bitset
}

// Bounds of a preference score.
const (
	MinPreferenceScore = 1
	MaxPreferenceScore = 10
)

// Preference scores how much a teacher wants to teach a subject.
type Preference struct {
	TeacherID string
	SubjectID string
	Score     int
	CreatedAt time.Time
}

// Snapshot is the point-in-time input of a generation run. Slice order is significant:
// teachers, classrooms and divisions are visited in the order given.
type Snapshot struct {
	Teachers    []Teacher
	Subjects    []Subject
	Divisions   []Division
	Classrooms  []Classroom
	Preferences []Preference
}

// Universe restricts a run to subsets of entities. Empty lists keep every entity.
type Universe struct {
	TeacherIDs   []string
	ClassroomIDs []string
	DivisionIDs  []string
}

// Validate checks referential integrity of the snapshot.
func (s Snapshot) Validate() error {
	if err := uniqueIDs("teacher", lo.Map(s.Teachers, func(t Teacher, _ int) string { return t.ID })); err != nil {
		return err
	}
	if err := uniqueIDs("subject", lo.Map(s.Subjects, func(sub Subject, _ int) string { return sub.ID })); err != nil {
		return err
	}
	if err := uniqueIDs("division", lo.Map(s.Divisions, func(d Division, _ int) string { return d.ID })); err != nil {
		return err
	}
	if err := uniqueIDs("classroom", lo.Map(s.Classrooms, func(c Classroom, _ int) string { return c.ID })); err != nil {
		return err
	}

	for _, t := range s.Teachers {
		if t.MaxWorkload < 0 {
			return fmt.Errorf("%w: teacher %s has negative max workload", ErrInvalidSnapshot, t.ID)
		}
	}
	subjects := make(map[string]struct{}, len(s.Subjects))
	for _, sub := range s.Subjects {
		if sub.LecturesPerWeek < 0 || sub.LabsPerWeek < 0 {
			return fmt.Errorf("%w: subject %s has a negative weekly load", ErrInvalidSnapshot, sub.ID)
		}
		subjects[sub.ID] = struct{}{}
	}
	for _, d := range s.Divisions {
		if dup, ok := firstDuplicate(d.SubjectIDs); ok {
			return fmt.Errorf("%w: division %s lists subject %s twice", ErrInvalidSnapshot, d.ID, dup)
		}
		for _, subjectID := range d.SubjectIDs {
			if _, ok := subjects[subjectID]; !ok {
				return fmt.Errorf("%w: division %s references unknown subject %s", ErrInvalidSnapshot, d.ID, subjectID)
			}
		}
	}
	teachers := lo.SliceToMap(s.Teachers, func(t Teacher) (string, struct{}) { return t.ID, struct{}{} })
	for _, p := range s.Preferences {
		if _, ok := teachers[p.TeacherID]; !ok {
			return fmt.Errorf("%w: preference references unknown teacher %s", ErrInvalidSnapshot, p.TeacherID)
		}
		if _, ok := subjects[p.SubjectID]; !ok {
			return fmt.Errorf("%w: preference references unknown subject %s", ErrInvalidSnapshot, p.SubjectID)
		}
		if p.Score < MinPreferenceScore || p.Score > MaxPreferenceScore {
			return fmt.Errorf("%w: preference of teacher %s for subject %s scores %d outside [%d,%d]",
				ErrInvalidSnapshot, p.TeacherID, p.SubjectID, p.Score, MinPreferenceScore, MaxPreferenceScore)
		}
	}
	return nil
}

// Restrict keeps only the entities named by u. Preferences of dropped teachers are dropped
// with them.
func (s Snapshot) Restrict(u Universe) (Snapshot, error) {
	out := s
	if len(u.TeacherIDs) > 0 {
		teachers, err := pick("teacher", s.Teachers, u.TeacherIDs, func(t Teacher) string { return t.ID })
		if err != nil {
			return Snapshot{}, err
		}
		out.Teachers = teachers
		keep := lo.SliceToMap(teachers, func(t Teacher) (string, struct{}) { return t.ID, struct{}{} })
		out.Preferences = lo.Filter(s.Preferences, func(p Preference, _ int) bool {
			_, ok := keep[p.TeacherID]
			return ok
		})
	}
	if len(u.ClassroomIDs) > 0 {
		rooms, err := pick("classroom", s.Classrooms, u.ClassroomIDs, func(c Classroom) string { return c.ID })
		if err != nil {
			return Snapshot{}, err
		}
		out.Classrooms = rooms
	}
	if len(u.DivisionIDs) > 0 {
		divisions, err := pick("division", s.Divisions, u.DivisionIDs, func(d Division) string { return d.ID })
		if err != nil {
			return Snapshot{}, err
		}
		out.Divisions = divisions
	}
	return out, nil
}

// pick keeps items named by ids, preserving the snapshot order.
func pick[T any](kind string, items []T, ids []string, key func(T) string) ([]T, error) {
	wanted := lo.SliceToMap(ids, func(id string) (string, struct{}) { return id, struct{}{} })
	out := lo.Filter(items, func(item T, _ int) bool {
		_, ok := wanted[key(item)]
		return ok
	})
	if len(out) != len(wanted) {
		known := lo.SliceToMap(items, func(item T) (string, struct{}) { return key(item), struct{}{} })
		for _, id := range ids {
			if _, ok := known[id]; !ok {
				return nil, fmt.Errorf("%w: unknown %s %s", ErrInvalidSnapshot, kind, id)
			}
		}
	}
	return out, nil
}

func uniqueIDs(kind string, ids []string) error {
	for _, id := range ids {
		if id == "" {
			return fmt.Errorf("%w: %s with empty id", ErrInvalidSnapshot, kind)
		}
	}
	if dup, ok := firstDuplicate(ids); ok {
		return fmt.Errorf("%w: duplicate %s %s", ErrInvalidSnapshot, kind, dup)
	}
	return nil
}

func firstDuplicate(ids []string) (string, bool) {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return id, true
		}
		seen[id] = struct{}{}
	}
	return "", false
}
