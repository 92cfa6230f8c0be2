package service

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/noah-isme/sma-timetable/internal/dto"
	"github.com/noah-isme/sma-timetable/internal/engine"
	"github.com/noah-isme/sma-timetable/internal/models"
)

// SnapshotSource is the raw school data a generation is built from.
type SnapshotSource struct {
	Teachers         []models.Teacher
	Subjects         []models.Subject
	Divisions        []models.Division
	DivisionSubjects []models.DivisionSubject
	Classrooms       []models.Classroom
	Preferences      []models.SubjectPreference
}

// parseAvailability accepts a 48 character bitset or a shift name. Empty input yields def.
func parseAvailability(raw string, def engine.Bitset) (engine.Bitset, error) {
	if len(raw) == engine.TotalSlots {
		return engine.ParseBitset(raw)
	}
	return engine.ShiftByName(raw, def)
}

// BuildSnapshot converts stored records into an engine snapshot, keeping the record order.
func BuildSnapshot(src SnapshotSource) (engine.Snapshot, error) {
	var snap engine.Snapshot

	for _, t := range src.Teachers {
		avail, err := parseAvailability(t.Availability, engine.DefaultTeacherAvailability)
		if err != nil {
			return engine.Snapshot{}, fmt.Errorf("%w: teacher %s: %v", engine.ErrInvalidSnapshot, t.ID, err)
		}
		snap.Teachers = append(snap.Teachers, engine.Teacher{
			ID:           t.ID,
			Name:         t.FullName,
			DepartmentID: lo.FromPtr(t.DepartmentID),
			MaxWorkload:  t.MaxWorkload,
			Availability: avail,
		})
	}

	for _, s := range src.Subjects {
		snap.Subjects = append(snap.Subjects, engine.Subject{
			ID:              s.ID,
			Name:            s.Name,
			DepartmentID:    lo.FromPtr(s.DepartmentID),
			LecturesPerWeek: s.LecturesPerWeek,
			LabsPerWeek:     s.LabsPerWeek,
		})
	}

	subjectsByDivision := lo.GroupBy(src.DivisionSubjects, func(ds models.DivisionSubject) string { return ds.DivisionID })
	for _, d := range src.Divisions {
		avail, err := parseAvailability(d.Availability, engine.DefaultDivisionAvailability)
		if err != nil {
			return engine.Snapshot{}, fmt.Errorf("%w: division %s: %v", engine.ErrInvalidSnapshot, d.ID, err)
		}
		snap.Divisions = append(snap.Divisions, engine.Division{
			ID:       d.ID,
			Name:     d.Name,
			Semester: d.Semester,
			SubjectIDs: lo.Map(subjectsByDivision[d.ID], func(ds models.DivisionSubject, _ int) string {
				return ds.SubjectID
			}),
			Availability: avail,
		})
	}

	for _, c := range src.Classrooms {
		avail, err := parseAvailability(c.Availability, engine.DefaultClassroomAvailability)
		if err != nil {
			return engine.Snapshot{}, fmt.Errorf("%w: classroom %s: %v", engine.ErrInvalidSnapshot, c.ID, err)
		}
		snap.Classrooms = append(snap.Classrooms, engine.Classroom{ID: c.ID, Number: c.Number, Availability: avail})
	}

	snap.Preferences = lo.Map(src.Preferences, func(p models.SubjectPreference, _ int) engine.Preference {
		return engine.Preference{TeacherID: p.TeacherID, SubjectID: p.SubjectID, Score: p.Score, CreatedAt: p.CreatedAt}
	})

	return snap, nil
}

// SnapshotFromFile converts an offline snapshot description. A missing max workload falls back
// to the default cap.
func SnapshotFromFile(file dto.SnapshotFile) (engine.Snapshot, error) {
	src := SnapshotSource{}
	for _, t := range file.Teachers {
		maxWorkload := t.MaxWorkload
		if maxWorkload == 0 {
			maxWorkload = engine.DefaultMaxWorkload
		}
		src.Teachers = append(src.Teachers, models.Teacher{
			ID:           t.ID,
			FullName:     t.Name,
			DepartmentID: lo.EmptyableToPtr(t.Department),
			MaxWorkload:  maxWorkload,
			Availability: t.Availability,
			Active:       true,
		})
	}
	for _, s := range file.Subjects {
		src.Subjects = append(src.Subjects, models.Subject{
			ID:              s.ID,
			Name:            s.Name,
			DepartmentID:    lo.EmptyableToPtr(s.Department),
			LecturesPerWeek: s.LecturesPerWeek,
			LabsPerWeek:     s.LabsPerWeek,
		})
	}
	for _, d := range file.Divisions {
		src.Divisions = append(src.Divisions, models.Division{ID: d.ID, Name: d.Name, Semester: d.Semester, Availability: d.Availability})
		for _, subjectID := range d.Subjects {
			src.DivisionSubjects = append(src.DivisionSubjects, models.DivisionSubject{DivisionID: d.ID, SubjectID: subjectID})
		}
	}
	for _, c := range file.Classrooms {
		src.Classrooms = append(src.Classrooms, models.Classroom{ID: c.ID, Number: c.Number, Availability: c.Availability})
	}
	for _, p := range file.Preferences {
		src.Preferences = append(src.Preferences, models.SubjectPreference{
			TeacherID: p.Teacher,
			SubjectID: p.Subject,
			Score:     p.Score,
			CreatedAt: p.CreatedAt,
		})
	}
	return BuildSnapshot(src)
}
