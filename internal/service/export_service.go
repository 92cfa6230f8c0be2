package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable/internal/dto"
	"github.com/noah-isme/sma-timetable/internal/engine"
	"github.com/noah-isme/sma-timetable/internal/models"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
	"github.com/noah-isme/sma-timetable/pkg/export"
)

var weekdayNames = [engine.WorkdayCount]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

var entryHeaders = []string{"day", "period", "time_slot", "division", "subject", "teacher", "classroom", "session_type"}

type entriesReader interface {
	Entries(ctx context.Context, timetableID, divisionID string) ([]dto.TimetableEntryView, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
	RenderGrid(grid export.Grid) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
	RenderGrid(grid export.Grid) ([]byte, error)
}

// ExportLookups resolve display names. Any of them may be nil, in which case ids are shown.
type ExportLookups struct {
	Teachers   teacherLister
	Subjects   subjectLister
	Divisions  divisionLister
	Classrooms classroomLister
}

// ExportService renders stored timetables as CSV or PDF. With a division the output is the
// weekly grid of that division; without one it is a flat list of every entry.
type ExportService struct {
	entries entriesReader
	lookups ExportLookups
	csv     csvRenderer
	pdf     pdfRenderer
	logger  *zap.Logger
	now     func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(entries entriesReader, lookups ExportLookups, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{entries: entries, lookups: lookups, csv: csv, pdf: pdf, logger: logger, now: time.Now}
}

// Export renders timetableID in format.
func (s *ExportService) Export(ctx context.Context, timetableID, divisionID string, format dto.ExportFormat) (*dto.ExportFile, error) {
	if format == "" {
		format = dto.ExportCSV
	}
	if format != dto.ExportCSV && format != dto.ExportPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	entries, err := s.entries.Entries(ctx, timetableID, divisionID)
	if err != nil {
		return nil, err
	}
	names, err := s.loadNames(ctx)
	if err != nil {
		return nil, err
	}

	var body []byte
	if divisionID != "" {
		grid := buildGrid(entries, names)
		grid.Title = "Timetable " + names.division(divisionID)
		if format == dto.ExportPDF {
			body, err = s.pdf.RenderGrid(grid)
		} else {
			body, err = s.csv.RenderGrid(grid)
		}
	} else {
		data := buildDataset(entries, names)
		if format == dto.ExportPDF {
			body, err = s.pdf.Render(data, "Timetable "+timetableID)
		} else {
			body, err = s.csv.Render(data)
		}
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render timetable export")
	}

	s.logger.Debug("timetable exported",
		zap.String("timetable_id", timetableID),
		zap.String("division_id", divisionID),
		zap.String("format", string(format)),
		zap.Int("bytes", len(body)),
	)
	contentType := "text/csv"
	if format == dto.ExportPDF {
		contentType = "application/pdf"
	}
	return &dto.ExportFile{
		Filename:    s.buildFilename(timetableID, divisionID, format),
		ContentType: contentType,
		Body:        body,
	}, nil
}

func (s *ExportService) buildFilename(timetableID, divisionID string, format dto.ExportFormat) string {
	timestamp := s.now().UTC().Format("20060102_150405")
	parts := []string{"timetable", sanitizeFilename(timetableID)}
	if divisionID != "" {
		parts = append(parts, sanitizeFilename(divisionID))
	}
	return fmt.Sprintf("%s_%s.%s", strings.Join(parts, "_"), timestamp, format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

type displayNames struct {
	teachers   map[string]string
	subjects   map[string]string
	divisions  map[string]string
	classrooms map[string]string
}

func lookup(names map[string]string, id string) string {
	if name, ok := names[id]; ok && name != "" {
		return name
	}
	return id
}

func (n displayNames) teacher(id string) string   { return lookup(n.teachers, id) }
func (n displayNames) subject(id string) string   { return lookup(n.subjects, id) }
func (n displayNames) division(id string) string  { return lookup(n.divisions, id) }
func (n displayNames) classroom(id string) string { return lookup(n.classrooms, id) }

func (s *ExportService) loadNames(ctx context.Context) (displayNames, error) {
	names := displayNames{}
	wrap := func(err error) error {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export labels")
	}
	if s.lookups.Teachers != nil {
		teachers, err := s.lookups.Teachers.ListActive(ctx, nil)
		if err != nil {
			return names, wrap(err)
		}
		names.teachers = lo.SliceToMap(teachers, func(t models.Teacher) (string, string) { return t.ID, t.FullName })
	}
	if s.lookups.Subjects != nil {
		subjects, err := s.lookups.Subjects.List(ctx)
		if err != nil {
			return names, wrap(err)
		}
		names.subjects = lo.SliceToMap(subjects, func(sub models.Subject) (string, string) { return sub.ID, sub.Name })
	}
	if s.lookups.Divisions != nil {
		divisions, err := s.lookups.Divisions.List(ctx, nil)
		if err != nil {
			return names, wrap(err)
		}
		names.divisions = lo.SliceToMap(divisions, func(d models.Division) (string, string) { return d.ID, d.Name })
	}
	if s.lookups.Classrooms != nil {
		rooms, err := s.lookups.Classrooms.List(ctx, nil)
		if err != nil {
			return names, wrap(err)
		}
		names.classrooms = lo.SliceToMap(rooms, func(c models.Classroom) (string, string) { return c.ID, c.Number })
	}
	return names, nil
}

// buildGrid lays entries out by period and weekday. A lab fills its slot and the one a period
// later.
func buildGrid(entries []dto.TimetableEntryView, names displayNames) export.Grid {
	grid := export.Grid{
		Columns: weekdayNames[:],
		Rows:    make([]string, engine.PeriodsPerDay),
		Cells:   make([][]string, engine.PeriodsPerDay),
	}
	for p := range grid.Rows {
		grid.Rows[p] = "Period " + strconv.Itoa(p+1)
		grid.Cells[p] = make([]string, engine.WorkdayCount)
	}
	for _, e := range entries {
		subject := names.subject(e.SubjectID)
		slots := []int{e.TimeSlot}
		if e.SessionType == string(models.SessionTypeLab) {
			subject += " (lab)"
			slots = append(slots, e.TimeSlot+engine.DayLength)
		}
		text := fmt.Sprintf("%s\n%s / %s", subject, names.teacher(e.TeacherID), names.classroom(e.ClassroomID))
		for _, slot := range slots {
			if slot < 0 || slot >= engine.TotalSlots {
				continue
			}
			grid.Cells[engine.Period(slot)][engine.DayClass(slot)] = text
		}
	}
	return grid
}

func buildDataset(entries []dto.TimetableEntryView, names displayNames) export.Dataset {
	sorted := append([]dto.TimetableEntryView(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].DivisionID != sorted[j].DivisionID {
			return sorted[i].DivisionID < sorted[j].DivisionID
		}
		return sorted[i].TimeSlot < sorted[j].TimeSlot
	})
	rows := lo.Map(sorted, func(e dto.TimetableEntryView, _ int) map[string]string {
		return map[string]string{
			"day":          weekdayNames[e.Day],
			"period":       strconv.Itoa(e.Period + 1),
			"time_slot":    strconv.Itoa(e.TimeSlot),
			"division":     names.division(e.DivisionID),
			"subject":      names.subject(e.SubjectID),
			"teacher":      names.teacher(e.TeacherID),
			"classroom":    names.classroom(e.ClassroomID),
			"session_type": e.SessionType,
		}
	})
	return export.Dataset{Headers: entryHeaders, Rows: rows}
}
