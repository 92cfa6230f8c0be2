package service

import (
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/samber/lo"

	"github.com/noah-isme/sma-timetable/internal/dto"
	"github.com/noah-isme/sma-timetable/internal/engine"
	"github.com/noah-isme/sma-timetable/internal/models"
)

func sessionType(kind engine.SessionKind) models.SessionType {
	if kind == engine.SessionDouble {
		return models.SessionTypeLab
	}
	return models.SessionTypeLecture
}

func subjectHoursViews(items []engine.SubjectHours) []dto.SubjectHoursView {
	return lo.Map(items, func(h engine.SubjectHours, _ int) dto.SubjectHoursView {
		return dto.SubjectHoursView{SubjectID: h.SubjectID, Hours: h.Hours}
	})
}

func entryView(p engine.Placement) dto.TimetableEntryView {
	return dto.TimetableEntryView{
		DivisionID:    p.DivisionID,
		SubjectID:     p.SubjectID,
		TeacherID:     p.TeacherID,
		ClassroomID:   p.ClassroomID,
		TimeSlot:      p.TimeSlot,
		Day:           engine.DayClass(p.TimeSlot),
		Period:        engine.Period(p.TimeSlot),
		SessionType:   string(sessionType(p.Kind)),
		SoftViolation: p.SoftViolation,
	}
}

func storedEntryView(e models.TimetableEntry) dto.TimetableEntryView {
	return dto.TimetableEntryView{
		DivisionID:  e.DivisionID,
		SubjectID:   e.SubjectID,
		TeacherID:   e.TeacherID,
		ClassroomID: e.ClassroomID,
		TimeSlot:    e.TimeSlot,
		Day:         engine.DayClass(e.TimeSlot),
		Period:      engine.Period(e.TimeSlot),
		SessionType: string(e.SessionType),
	}
}

// ResponseFromResult renders a run for API and CLI consumers.
func ResponseFromResult(result *engine.Result) *dto.GenerateTimetableResponse {
	stats := dto.GenerationStats{
		SearchNodes:    result.Search.Nodes,
		Backtracks:     result.Search.Backtracks,
		SoftViolations: result.Search.SoftViolations,
		ElapsedMs:      result.Elapsed.Milliseconds(),
	}
	if a := result.Assignment; a != nil {
		stats.SolverStatus = a.SolverStatus
		stats.TotalSatisfaction = a.TotalSatisfaction
		stats.ObjectiveValue = a.ObjectiveValue
		stats.TopShortages = subjectHoursViews(a.TopShortages)
		stats.TopUnusedCapacity = subjectHoursViews(a.TopUnusedCapacity)
		stats.TeacherWorkloads = lo.MapValues(a.TeacherStats, func(s engine.TeacherStat, _ string) int { return s.Workload })
	}
	return &dto.GenerateTimetableResponse{
		Outcome:  string(result.Outcome),
		Reasons:  result.Reasons,
		Seed:     result.Seed,
		Sessions: result.Sessions,
		Entries:  lo.Map(result.Placements, func(p engine.Placement, _ int) dto.TimetableEntryView { return entryView(p) }),
		Stats:    stats,
	}
}

// toEntries maps placements of a successful run to rows of timetableID. A lab is stored once,
// at its first slot.
func toEntries(timetableID string, placements []engine.Placement, now time.Time) []models.TimetableEntry {
	return lo.Map(placements, func(p engine.Placement, _ int) models.TimetableEntry {
		return models.TimetableEntry{
			TimetableID: timetableID,
			DivisionID:  p.DivisionID,
			SubjectID:   p.SubjectID,
			TeacherID:   p.TeacherID,
			ClassroomID: p.ClassroomID,
			TimeSlot:    p.TimeSlot,
			SessionType: sessionType(p.Kind),
			Generated:   true,
			CreatedAt:   now,
		}
	})
}

func timetableMeta(result *engine.Result) (types.JSONText, error) {
	meta := models.TimetableMeta{
		Outcome:        string(result.Outcome),
		Sessions:       result.Sessions,
		SoftViolations: result.Search.SoftViolations,
		SearchNodes:    result.Search.Nodes,
		ElapsedMillis:  result.Elapsed.Milliseconds(),
	}
	if a := result.Assignment; a != nil {
		meta.TotalSatisfaction = a.TotalSatisfaction
		meta.ObjectiveValue = a.ObjectiveValue
		meta.SolverStatus = a.SolverStatus
		meta.TopShortages = lo.Map(a.TopShortages, func(h engine.SubjectHours, _ int) models.SubjectHours {
			return models.SubjectHours{SubjectID: h.SubjectID, Hours: h.Hours}
		})
		meta.TopUnusedCapacity = lo.Map(a.TopUnusedCapacity, func(h engine.SubjectHours, _ int) models.SubjectHours {
			return models.SubjectHours{SubjectID: h.SubjectID, Hours: h.Hours}
		})
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	return types.JSONText(raw), nil
}

// AssignmentReportFromResult renders the assignment phase on its own.
func AssignmentReportFromResult(result *engine.AssignmentResult) *dto.AssignmentReport {
	return &dto.AssignmentReport{
		Status:       string(result.Status),
		SolverStatus: result.SolverStatus,
		Assignments: lo.Map(result.Assignments, func(a engine.Assignment, _ int) dto.AssignmentView {
			return dto.AssignmentView{
				SubjectID:  a.SubjectID,
				DivisionID: a.DivisionID,
				TeacherID:  a.TeacherID,
				Score:      a.Score,
				Preferred:  a.Preferred,
			}
		}),
		TeacherWorkloads:  lo.MapValues(result.TeacherStats, func(s engine.TeacherStat, _ string) int { return s.Workload }),
		TopShortages:      subjectHoursViews(result.TopShortages),
		TopUnusedCapacity: subjectHoursViews(result.TopUnusedCapacity),
		TotalSatisfaction: result.TotalSatisfaction,
		ObjectiveValue:    result.ObjectiveValue,
		Reasons:           result.InfeasibilityReasons,
	}
}
