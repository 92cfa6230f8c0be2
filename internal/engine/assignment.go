package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable/pkg/optimizer"
)

// AssignmentStatus is the outcome of the assignment phase.
type AssignmentStatus string

const (
	AssignmentOptimal      AssignmentStatus = "Optimal"
	AssignmentFeasible     AssignmentStatus = "Feasible"
	AssignmentInfeasible   AssignmentStatus = "Infeasible"
	AssignmentSolverFailed AssignmentStatus = "SolverFailed"
)

// Solved reports whether the assignment can feed the placement phase.
func (s AssignmentStatus) Solved() bool {
	return s == AssignmentOptimal || s == AssignmentFeasible
}

// Objective weights. Preference score dominates, recency breaks ties, and the peak workload
// is flattened last.
const (
	RecencyWeight  = 1e-3
	PeakLoadWeight = 1e-4

	topStatsLimit = 10
)

// AssignmentOptions tune the assignment phase.
type AssignmentOptions struct {
	// RequirePreference limits candidates of a subject to teachers holding a preference for it.
	RequirePreference bool
	// MissingScore is the score of a candidate without a preference row.
	MissingScore int
	// TimeLimit caps the solver; zero means no limit.
	TimeLimit time.Duration
}

// Assignment binds one (subject, division) pair to a teacher.
type Assignment struct {
	TeacherID  string
	SubjectID  string
	DivisionID string
	Score      int
	Preferred  bool
}

// TeacherStat describes a teacher's load after assignment.
type TeacherStat struct {
	Workload       int
	UnusedCapacity int
	MaxWorkload    int
}

// SubjectStat describes supply and demand of teaching hours for a subject.
type SubjectStat struct {
	HoursNeeded           int
	HoursAvailable        int
	HoursAssigned         int
	Shortage              int
	UnusedCapacity        int
	TeachersAssignedCount int
	DivisionsNeeded       int
}

// SubjectHours pairs a subject with an hour figure.
type SubjectHours struct {
	SubjectID string
	Hours     int
}

// AssignmentResult is the full output of the assignment phase. Statistics are populated for
// every status.
type AssignmentResult struct {
	Status               AssignmentStatus
	SolverStatus         string
	Assignments          []Assignment
	TeacherStats         map[string]TeacherStat
	SubjectStats         map[string]SubjectStat
	TopShortages         []SubjectHours
	TopUnusedCapacity    []SubjectHours
	TotalSatisfaction    int
	ObjectiveValue       float64
	InfeasibilityReasons []string
	SolverNodes          int
}

// AssignmentSolver maps every required (subject, division) pair to exactly one teacher.
type AssignmentSolver struct {
	backend optimizer.Backend
	logger  *zap.Logger
}

// NewAssignmentSolver wires a solver to an optimizer backend.
func NewAssignmentSolver(backend optimizer.Backend, logger *zap.Logger) *AssignmentSolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentSolver{backend: backend, logger: logger}
}

type subjectDivision struct {
	subject  Subject
	division Division
}

type candidate struct {
	teacher Teacher
	score   int
	pref    bool
	recency float64
	column  optimizer.Var
}

type assignmentProblem struct {
	snapshot  Snapshot
	opts      AssignmentOptions
	subjects  map[string]Subject
	pairs     []subjectDivision
	prefs     map[[2]string]Preference
	allowed   map[string][]Teacher
	divisions map[string]int
	recency   func(Preference) float64
}

func newAssignmentProblem(s Snapshot, opts AssignmentOptions) *assignmentProblem {
	p := &assignmentProblem{
		snapshot:  s,
		opts:      opts,
		subjects:  lo.SliceToMap(s.Subjects, func(sub Subject) (string, Subject) { return sub.ID, sub }),
		prefs:     make(map[[2]string]Preference, len(s.Preferences)),
		allowed:   make(map[string][]Teacher, len(s.Subjects)),
		divisions: make(map[string]int, len(s.Subjects)),
	}
	for _, pref := range s.Preferences {
		key := [2]string{pref.TeacherID, pref.SubjectID}
		if existing, ok := p.prefs[key]; ok && existing.Score >= pref.Score {
			continue
		}
		p.prefs[key] = pref
	}
	for _, d := range s.Divisions {
		for _, subjectID := range d.SubjectIDs {
			p.pairs = append(p.pairs, subjectDivision{subject: p.subjects[subjectID], division: d})
			p.divisions[subjectID]++
		}
	}
	for _, sub := range s.Subjects {
		p.allowed[sub.ID] = lo.Filter(s.Teachers, func(t Teacher, _ int) bool {
			if !opts.RequirePreference {
				return true
			}
			_, ok := p.prefs[[2]string{t.ID, sub.ID}]
			return ok
		})
	}
	p.recency = recencyScale(lo.Values(p.prefs))
	return p
}

// recencyScale maps creation time onto [0,1], 1 for the oldest preference.
func recencyScale(prefs []Preference) func(Preference) float64 {
	if len(prefs) == 0 {
		return func(Preference) float64 { return 0 }
	}
	oldest := lo.MinBy(prefs, func(a, b Preference) bool { return a.CreatedAt.Before(b.CreatedAt) }).CreatedAt
	newest := lo.MaxBy(prefs, func(a, b Preference) bool { return a.CreatedAt.After(b.CreatedAt) }).CreatedAt
	span := newest.Sub(oldest)
	if span <= 0 {
		return func(Preference) float64 { return 0 }
	}
	return func(p Preference) float64 {
		return float64(newest.Sub(p.CreatedAt)) / float64(span)
	}
}

// precheck lists reasons the instance is infeasible before any solving.
func (p *assignmentProblem) precheck() []string {
	var reasons []string
	required := 0
	for _, pair := range p.pairs {
		required += pair.subject.HoursPerWeek()
		if len(p.allowed[pair.subject.ID]) == 0 {
			reasons = append(reasons, fmt.Sprintf("No available teachers for subject %s (name: %s) in division %s (name: %s)",
				pair.subject.ID, pair.subject.Name, pair.division.ID, pair.division.Name))
		}
	}
	capacity := lo.SumBy(p.snapshot.Teachers, func(t Teacher) int { return t.MaxWorkload })
	if capacity < required {
		reasons = append(reasons, fmt.Sprintf("Total teacher capacity (%d hours) is less than required (%d hours)", capacity, required))
	}
	return reasons
}

func (p *assignmentProblem) candidates(sub Subject) []candidate {
	out := make([]candidate, 0, len(p.allowed[sub.ID]))
	for _, t := range p.allowed[sub.ID] {
		c := candidate{teacher: t, score: p.opts.MissingScore}
		if pref, ok := p.prefs[[2]string{t.ID, sub.ID}]; ok {
			c.score, c.pref, c.recency = pref.Score, true, p.recency(pref)
		}
		out = append(out, c)
	}
	return out
}

// subjectDemand lists the divisions taking one subject, in snapshot order.
type subjectDemand struct {
	subject    Subject
	divisions  []Division
	candidates []candidate
}

// demands groups the required pairs by subject. Divisions of one subject are interchangeable
// in the model, so the solver decides how many of them each teacher takes.
func (p *assignmentProblem) demands() []*subjectDemand {
	var out []*subjectDemand
	index := make(map[string]*subjectDemand, len(p.subjects))
	for _, pair := range p.pairs {
		d, ok := index[pair.subject.ID]
		if !ok {
			d = &subjectDemand{subject: pair.subject, candidates: p.candidates(pair.subject)}
			index[pair.subject.ID] = d
			out = append(out, d)
		}
		d.divisions = append(d.divisions, pair.division)
	}
	return out
}

// Solve runs the pre-check and, when it passes, the integer program.
func (s *AssignmentSolver) Solve(ctx context.Context, snapshot Snapshot, opts AssignmentOptions) (*AssignmentResult, error) {
	p := newAssignmentProblem(snapshot, opts)

	if reasons := p.precheck(); len(reasons) > 0 {
		result := p.unsolved(AssignmentInfeasible, "", reasons)
		s.logger.Info("assignment pre-check failed", zap.Int("reasons", len(reasons)))
		return result, nil
	}

	model := optimizer.NewModel("teacher_assignment", optimizer.Maximize)
	demands := p.demands()
	byTeacher := make(map[string][]optimizer.Term, len(snapshot.Teachers))
	for _, d := range demands {
		hours := d.subject.HoursPerWeek()
		terms := make([]optimizer.Term, 0, len(d.candidates))
		for j := range d.candidates {
			c := &d.candidates[j]
			limit := len(d.divisions)
			if hours > 0 {
				limit = min(limit, c.teacher.MaxWorkload/hours)
			}
			if limit <= 0 {
				c.column = -1
				continue
			}
			c.column = model.AddInteger(fmt.Sprintf("y_%s_%s", c.teacher.ID, d.subject.ID), 0, float64(limit))
			model.SetObjective(c.column, float64(c.score)+RecencyWeight*c.recency)
			terms = append(terms, optimizer.Term{Var: c.column, Coef: 1})
			byTeacher[c.teacher.ID] = append(byTeacher[c.teacher.ID], optimizer.Term{Var: c.column, Coef: float64(hours)})
		}
		if err := model.AddConstraint("assign_"+d.subject.ID, terms, optimizer.Equal, float64(len(d.divisions))); err != nil {
			return nil, err
		}
	}

	peakCap := float64(lo.Max(lo.Map(snapshot.Teachers, func(t Teacher, _ int) int { return t.MaxWorkload })))
	peak := model.AddContinuous("max_workload_used", 0, peakCap)
	model.SetObjective(peak, -PeakLoadWeight)
	for _, t := range snapshot.Teachers {
		load := byTeacher[t.ID]
		if len(load) == 0 {
			continue
		}
		if err := model.AddConstraint("max_workload_"+t.ID, load, optimizer.LessEqual, float64(t.MaxWorkload)); err != nil {
			return nil, err
		}
		covers := make([]optimizer.Term, 0, len(load)+1)
		covers = append(covers, optimizer.Term{Var: peak, Coef: 1})
		for _, term := range load {
			covers = append(covers, optimizer.Term{Var: term.Var, Coef: -term.Coef})
		}
		if err := model.AddConstraint("peak_"+t.ID, covers, optimizer.GreaterEqual, 0); err != nil {
			return nil, err
		}
	}

	solution, err := s.backend.Solve(ctx, model, optimizer.Params{TimeLimit: opts.TimeLimit})
	if err != nil {
		return nil, fmt.Errorf("solve assignment: %w", err)
	}
	if err := ctx.Err(); err != nil && !solution.Status.HasSolution() {
		return nil, err
	}
	if !solution.Status.HasSolution() {
		result := p.unsolved(AssignmentSolverFailed, string(solution.Status),
			[]string{fmt.Sprintf("Solver failed with status: %s", solution.Status)})
		result.SolverNodes = solution.Nodes
		return result, nil
	}

	result := &AssignmentResult{
		Status:         AssignmentOptimal,
		SolverStatus:   string(solution.Status),
		ObjectiveValue: solution.Objective,
		SolverNodes:    solution.Nodes,
	}
	if solution.Status == optimizer.StatusFeasible {
		result.Status = AssignmentFeasible
	}
	for _, d := range demands {
		if err := d.assign(solution, result); err != nil {
			return nil, err
		}
	}
	p.sortAssignments(result.Assignments)
	p.solvedStats(result)

	s.logger.Info("assignment solved",
		zap.String("status", string(result.Status)),
		zap.Int("pairs", len(p.pairs)),
		zap.Int("columns", model.NumVariables()),
		zap.Int("nodes", solution.Nodes),
		zap.Float64("objective", solution.Objective),
	)
	return result, nil
}

// assign hands the divisions of d, in order, to the candidates the solution gave them to.
func (d *subjectDemand) assign(solution *optimizer.Solution, result *AssignmentResult) error {
	next := 0
	for _, c := range d.candidates {
		if c.column < 0 {
			continue
		}
		count := int(math.Round(solution.Value(c.column)))
		if next+count > len(d.divisions) {
			return fmt.Errorf("solve assignment: backend gave subject %s more teachers than divisions", d.subject.ID)
		}
		for _, division := range d.divisions[next : next+count] {
			result.Assignments = append(result.Assignments, Assignment{
				TeacherID:  c.teacher.ID,
				SubjectID:  d.subject.ID,
				DivisionID: division.ID,
				Score:      c.score,
				Preferred:  c.pref,
			})
			result.TotalSatisfaction += c.score
		}
		next += count
	}
	if next < len(d.divisions) {
		return fmt.Errorf("solve assignment: backend returned no teacher for subject %s in division %s",
			d.subject.ID, d.divisions[next].ID)
	}
	return nil
}

// sortAssignments restores division order.
func (p *assignmentProblem) sortAssignments(assignments []Assignment) {
	rank := make(map[[2]string]int, len(p.pairs))
	for i, pair := range p.pairs {
		rank[[2]string{pair.subject.ID, pair.division.ID}] = i
	}
	sort.SliceStable(assignments, func(i, j int) bool {
		return rank[[2]string{assignments[i].SubjectID, assignments[i].DivisionID}] <
			rank[[2]string{assignments[j].SubjectID, assignments[j].DivisionID}]
	})
}

// --- Statistics ---

func (p *assignmentProblem) available(subjectID string) int {
	return lo.SumBy(p.allowed[subjectID], func(t Teacher) int { return t.MaxWorkload })
}

func (p *assignmentProblem) unsolved(status AssignmentStatus, solverStatus string, reasons []string) *AssignmentResult {
	result := &AssignmentResult{
		Status:               status,
		SolverStatus:         solverStatus,
		InfeasibilityReasons: reasons,
		TeacherStats:         make(map[string]TeacherStat, len(p.snapshot.Teachers)),
		SubjectStats:         make(map[string]SubjectStat, len(p.snapshot.Subjects)),
	}
	for _, t := range p.snapshot.Teachers {
		result.TeacherStats[t.ID] = TeacherStat{UnusedCapacity: t.MaxWorkload, MaxWorkload: t.MaxWorkload}
	}
	for _, sub := range p.snapshot.Subjects {
		needed := sub.HoursPerWeek() * p.divisions[sub.ID]
		available := p.available(sub.ID)
		result.SubjectStats[sub.ID] = SubjectStat{
			HoursNeeded:     needed,
			HoursAvailable:  available,
			Shortage:        max(0, needed-available),
			UnusedCapacity:  max(0, available-needed),
			DivisionsNeeded: p.divisions[sub.ID],
		}
	}
	result.TopShortages, result.TopUnusedCapacity = topSubjectHours(result.SubjectStats)
	return result
}

func (p *assignmentProblem) solvedStats(result *AssignmentResult) {
	workload := make(map[string]int, len(p.snapshot.Teachers))
	assigned := make(map[string]int, len(p.snapshot.Subjects))
	teachers := make(map[string]map[string]struct{}, len(p.snapshot.Subjects))
	for _, a := range result.Assignments {
		hours := p.subjects[a.SubjectID].HoursPerWeek()
		workload[a.TeacherID] += hours
		assigned[a.SubjectID] += hours
		if teachers[a.SubjectID] == nil {
			teachers[a.SubjectID] = make(map[string]struct{})
		}
		teachers[a.SubjectID][a.TeacherID] = struct{}{}
	}

	result.TeacherStats = make(map[string]TeacherStat, len(p.snapshot.Teachers))
	for _, t := range p.snapshot.Teachers {
		result.TeacherStats[t.ID] = TeacherStat{
			Workload:       workload[t.ID],
			UnusedCapacity: t.MaxWorkload - workload[t.ID],
			MaxWorkload:    t.MaxWorkload,
		}
	}
	result.SubjectStats = make(map[string]SubjectStat, len(p.snapshot.Subjects))
	for _, sub := range p.snapshot.Subjects {
		needed := sub.HoursPerWeek() * p.divisions[sub.ID]
		available := p.available(sub.ID)
		result.SubjectStats[sub.ID] = SubjectStat{
			HoursNeeded:           needed,
			HoursAvailable:        available,
			HoursAssigned:         assigned[sub.ID],
			Shortage:              needed - assigned[sub.ID],
			UnusedCapacity:        available - assigned[sub.ID],
			TeachersAssignedCount: len(teachers[sub.ID]),
			DivisionsNeeded:       p.divisions[sub.ID],
		}
	}
	result.TopShortages, result.TopUnusedCapacity = topSubjectHours(result.SubjectStats)
}

func topSubjectHours(stats map[string]SubjectStat) ([]SubjectHours, []SubjectHours) {
	shortages := make([]SubjectHours, 0, len(stats))
	unused := make([]SubjectHours, 0, len(stats))
	for id, st := range stats {
		if st.Shortage > 0 {
			shortages = append(shortages, SubjectHours{SubjectID: id, Hours: st.Shortage})
		}
		if st.UnusedCapacity > 0 {
			unused = append(unused, SubjectHours{SubjectID: id, Hours: st.UnusedCapacity})
		}
	}
	return topN(shortages), topN(unused)
}

func topN(items []SubjectHours) []SubjectHours {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Hours != items[j].Hours {
			return items[i].Hours > items[j].Hours
		}
		return items[i].SubjectID < items[j].SubjectID
	})
	if len(items) > topStatsLimit {
		items = items[:topStatsLimit]
	}
	return items
}
