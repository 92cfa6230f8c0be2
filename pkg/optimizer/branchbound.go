package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
)

// BranchBound is the registry name of the built-in backend.
const BranchBound = "branchbound"

const (
	feasibilityTol = 1e-7
	boundTol       = 1e-9
	maxPasses      = 64

	rootIterations = 300
	nodeIterations = 12
	stallLimit     = 4
	minStepScale   = 1e-4
	targetGap      = 0.05
)

func init() {
	Register(BranchBound, func(logger *zap.Logger) Backend { return NewBranchBound(logger) })
}

// BranchBoundBackend is an exact depth-first branch and bound solver.
//
// Rows of the form sum(x) == k over integral columns with unit coefficients are kept as
// distribution groups. Every other row is relaxed with Lagrange multipliers that are tuned
// by projected subgradient steps at each node and inherited by its children, so the node
// bound prices capacity rows instead of ignoring them. A relaxed optimum that satisfies
// every row is taken as an incumbent.
//
// Continuous columns are never branched on: their bounds are tightened by row propagation
// and each one takes its objective-preferred bound at a leaf, so models must pin continuous
// columns through their rows.
type BranchBoundBackend struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewBranchBound builds the built-in backend.
func NewBranchBound(logger *zap.Logger) *BranchBoundBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BranchBoundBackend{logger: logger, now: time.Now}
}

// Name implements Backend.
func (b *BranchBoundBackend) Name() string { return BranchBound }

// Solve implements Backend.
func (b *BranchBoundBackend) Solve(ctx context.Context, model *Model, params Params) (*Solution, error) {
	if model == nil {
		return nil, errors.New("optimizer: nil model")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	started := b.now()
	search, err := newSearch(ctx, model, b.now)
	if err != nil {
		return nil, err
	}
	if params.TimeLimit > 0 {
		search.deadline = started.Add(params.TimeLimit)
		search.hasDeadline = true
	}

	search.branch(search.root())

	solution := &Solution{Nodes: search.nodes}
	switch {
	case search.stopped && search.hasBest:
		solution.Status = StatusFeasible
	case search.stopped:
		solution.Status = StatusNotSolved
	case search.hasBest:
		solution.Status = StatusOptimal
	default:
		solution.Status = StatusInfeasible
	}
	if search.hasBest {
		solution.values = search.best
		solution.Objective = search.bestObj
		if model.Sense == Minimize {
			solution.Objective = -solution.Objective
		}
	}

	b.logger.Debug("branch and bound finished",
		zap.String("model", model.Name),
		zap.String("status", string(solution.Status)),
		zap.Int("nodes", search.nodes),
		zap.Int("groups", len(search.groups)),
		zap.Int("relaxed_rows", len(search.relaxed)),
		zap.Duration("elapsed", b.now().Sub(started)),
	)
	return solution, nil
}

type nodeState struct {
	lo   []float64
	hi   []float64
	mult []float64
}

func (n *nodeState) clone() *nodeState {
	return &nodeState{
		lo:   append([]float64(nil), n.lo...),
		hi:   append([]float64(nil), n.hi...),
		mult: append([]float64(nil), n.mult...),
	}
}

type group struct {
	members []int
	rhs     float64
}

type search struct {
	ctx         context.Context
	now         func() time.Time
	deadline    time.Time
	hasDeadline bool

	vars    []Variable
	rows    []Constraint
	obj     []float64
	groups  []group
	groupOf []int
	relaxed []int

	reduced []float64
	order   []int

	nodes   int
	stopped bool
	hasBest bool
	best    []float64
	bestObj float64
}

func newSearch(ctx context.Context, model *Model, now func() time.Time) (*search, error) {
	n := model.NumVariables()
	s := &search{
		ctx:     ctx,
		now:     now,
		vars:    model.Variables(),
		obj:     make([]float64, n),
		groupOf: make([]int, n),
		reduced: make([]float64, n),
	}
	for i, v := range s.vars {
		if v.Kind == Integer && (math.IsInf(v.Lower, 0) || math.IsInf(v.Upper, 0)) {
			return nil, fmt.Errorf("optimizer: integer column %s needs finite bounds", v.Name)
		}
		s.obj[i] = model.Objective(Var(i))
		if model.Sense == Minimize {
			s.obj[i] = -s.obj[i]
		}
		s.groupOf[i] = -1
	}
	for _, row := range model.Constraints() {
		terms := make([]Term, 0, len(row.Terms))
		for _, t := range row.Terms {
			if t.Coef != 0 {
				terms = append(terms, t)
			}
		}
		row.Terms = terms
		row = s.roundIntegerRow(row)
		if !s.detectGroup(row) {
			s.relaxed = append(s.relaxed, len(s.rows))
		}
		s.rows = append(s.rows, row)
	}
	return s, nil
}

// detectGroup registers sum(x) == k rows over integral columns not yet owned by another
// group.
func (s *search) detectGroup(row Constraint) bool {
	if row.Relation != Equal || len(row.Terms) == 0 || row.RHS != math.Trunc(row.RHS) {
		return false
	}
	for _, t := range row.Terms {
		if !s.vars[t.Var].Kind.Integral() || t.Coef != 1 || s.groupOf[t.Var] != -1 {
			return false
		}
	}
	members := make([]int, len(row.Terms))
	for i, t := range row.Terms {
		members[i] = int(t.Var)
	}
	sort.SliceStable(members, func(i, j int) bool { return s.obj[members[i]] > s.obj[members[j]] })
	for _, v := range members {
		s.groupOf[v] = len(s.groups)
	}
	s.groups = append(s.groups, group{members: members, rhs: row.RHS})
	return true
}

// roundIntegerRow divides an inequality over integral columns with whole coefficients by
// their greatest common divisor and rounds the right-hand side inwards.
func (s *search) roundIntegerRow(row Constraint) Constraint {
	if row.Relation == Equal || len(row.Terms) == 0 || math.IsInf(row.RHS, 0) {
		return row
	}
	var divisor int64
	for _, t := range row.Terms {
		if !s.vars[t.Var].Kind.Integral() || t.Coef != math.Trunc(t.Coef) || math.Abs(t.Coef) > 1<<40 {
			return row
		}
		divisor = gcd(divisor, int64(math.Abs(t.Coef)))
	}
	d := float64(divisor)
	terms := make([]Term, len(row.Terms))
	for i, t := range row.Terms {
		terms[i] = Term{Var: t.Var, Coef: t.Coef / d}
	}
	row.Terms = terms
	if row.Relation == LessEqual {
		row.RHS = math.Floor(row.RHS/d + feasibilityTol)
	} else {
		row.RHS = math.Ceil(row.RHS/d - feasibilityTol)
	}
	return row
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func (s *search) root() *nodeState {
	n := len(s.vars)
	st := &nodeState{lo: make([]float64, n), hi: make([]float64, n), mult: make([]float64, len(s.relaxed))}
	for i, v := range s.vars {
		lo, hi := v.Lower, v.Upper
		if v.Kind.Integral() {
			lo, hi = math.Ceil(lo-feasibilityTol), math.Floor(hi+feasibilityTol)
		}
		st.lo[i], st.hi[i] = lo, hi
	}
	return st
}

func (s *search) expired() bool {
	if s.ctx.Err() != nil {
		return true
	}
	return s.hasDeadline && s.now().After(s.deadline)
}

func (s *search) branch(st *nodeState) {
	s.nodes++
	if s.expired() {
		s.stopped = true
		return
	}
	if !s.propagate(st) {
		return
	}
	iterations := nodeIterations
	if s.nodes == 1 {
		iterations = rootIterations
	}
	bound, relaxed := s.relax(st, iterations)
	if math.IsInf(bound, -1) {
		return
	}
	if s.hasBest && bound <= s.bestObj+boundTol {
		return
	}

	v := s.branchVariable(st, relaxed)
	if v < 0 {
		s.evaluateLeaf(st)
		return
	}
	for _, value := range branchValues(st.lo[v], st.hi[v], relaxed[v]) {
		child := st.clone()
		child.lo[v], child.hi[v] = value, value
		s.branch(child)
		if s.stopped {
			return
		}
		if s.hasBest && bound <= s.bestObj+boundTol {
			return
		}
	}
}

// branchVariable picks the open column the relaxation favours in the group with the fewest
// open members, then the first open ungrouped integral column. It returns -1 at a leaf.
func (s *search) branchVariable(st *nodeState, relaxed []float64) int {
	pick, fewest := -1, math.MaxInt
	for _, g := range s.groups {
		open, lead := 0, -1
		for _, v := range g.members {
			if st.hi[v]-st.lo[v] < 0.5 {
				continue
			}
			open++
			if lead == -1 || relaxed[v] > relaxed[lead]+feasibilityTol {
				lead = v
			}
		}
		if open > 0 && open < fewest {
			pick, fewest = lead, open
		}
	}
	if pick >= 0 {
		return pick
	}
	for v, variable := range s.vars {
		if variable.Kind.Integral() && s.groupOf[v] == -1 && st.hi[v]-st.lo[v] >= 0.5 {
			return v
		}
	}
	return -1
}

// branchValues orders the whole values of [lo, hi] by distance from the relaxed value,
// larger values first on ties.
func branchValues(lo, hi, relaxed float64) []float64 {
	values := make([]float64, 0, int(hi-lo)+1)
	for v := hi; v >= lo; v-- {
		values = append(values, v)
	}
	sort.SliceStable(values, func(i, j int) bool {
		return math.Abs(values[i]-relaxed) < math.Abs(values[j]-relaxed)
	})
	return values
}

func (s *search) evaluateLeaf(st *nodeState) {
	values := make([]float64, len(s.vars))
	for i, v := range s.vars {
		if v.Kind.Integral() {
			values[i] = st.lo[i]
			continue
		}
		values[i] = pickContinuous(s.obj[i], st.lo[i], st.hi[i])
	}
	s.record(values)
}

// record keeps values as the incumbent when they satisfy every row and improve on it.
func (s *search) record(values []float64) {
	for i := range s.rows {
		row := &s.rows[i]
		if !satisfied(row.Relation, activityOf(row, values), row.RHS) {
			return
		}
	}
	var objective float64
	for i, c := range s.obj {
		objective += c * values[i]
	}
	if !s.hasBest || objective > s.bestObj+boundTol {
		s.hasBest = true
		s.best = append([]float64(nil), values...)
		s.bestObj = objective
	}
}

func activityOf(row *Constraint, values []float64) float64 {
	var sum float64
	for _, t := range row.Terms {
		sum += t.Coef * values[t.Var]
	}
	return sum
}

func pickContinuous(coef, lo, hi float64) float64 {
	loFinite, hiFinite := !math.IsInf(lo, 0), !math.IsInf(hi, 0)
	switch {
	case coef > 0 && hiFinite:
		return hi
	case loFinite:
		return lo
	case hiFinite:
		return hi
	default:
		return 0
	}
}

func satisfied(rel Relation, sum, rhs float64) bool {
	switch rel {
	case LessEqual:
		return sum <= rhs+feasibilityTol
	case GreaterEqual:
		return sum >= rhs-feasibilityTol
	default:
		return math.Abs(sum-rhs) <= feasibilityTol
	}
}

// --- Lagrangian bound ---

// relax returns the best Lagrangian bound found for st and the relaxed solution attaining
// it, leaving the best multipliers in st.mult. A bound of -Inf marks an infeasible node.
func (s *search) relax(st *nodeState, iterations int) (float64, []float64) {
	n := len(s.vars)
	x := make([]float64, n)
	best := make([]float64, n)
	grad := make([]float64, len(s.relaxed))
	mult := append([]float64(nil), st.mult...)
	bestBound := math.Inf(1)
	scale, stall := 2.0, 0

	for it := 0; it < iterations; it++ {
		value := s.lagrangian(st, mult, x)
		if math.IsInf(value, -1) {
			return value, nil
		}
		if math.IsInf(value, 1) {
			if math.IsInf(bestBound, 1) {
				copy(best, x)
				break
			}
			copy(mult, st.mult)
			scale /= 2
			continue
		}
		if value < bestBound-boundTol {
			bestBound = value
			copy(best, x)
			copy(st.mult, mult)
			stall = 0
		} else if stall++; stall >= stallLimit {
			scale /= 2
			stall = 0
		}
		s.consider(x)
		if s.hasBest && bestBound <= s.bestObj+boundTol || scale < minStepScale {
			break
		}

		var norm float64
		for j, r := range s.relaxed {
			row := &s.rows[r]
			g := row.RHS - activityOf(row, x)
			switch {
			case row.Relation == LessEqual && mult[j] <= 0 && g > 0:
				g = 0
			case row.Relation == GreaterEqual && mult[j] >= 0 && g < 0:
				g = 0
			}
			grad[j] = g
			norm += g * g
		}
		if norm <= feasibilityTol*feasibilityTol {
			break
		}
		target := bestBound - targetGap*math.Max(1, math.Abs(bestBound))
		if s.hasBest {
			target = s.bestObj
		}
		step := scale * (value - target) / norm
		for j, r := range s.relaxed {
			u := mult[j] - step*grad[j]
			switch s.rows[r].Relation {
			case LessEqual:
				u = math.Max(u, 0)
			case GreaterEqual:
				u = math.Min(u, 0)
			}
			mult[j] = u
		}
	}
	return bestBound, best
}

// lagrangian maximises the objective penalised by mult over the node box and the group
// rows, writing the maximiser into x.
func (s *search) lagrangian(st *nodeState, mult, x []float64) float64 {
	rc := s.reduced
	copy(rc, s.obj)
	var value float64
	for j, r := range s.relaxed {
		u := mult[j]
		if u == 0 {
			continue
		}
		row := &s.rows[r]
		value += u * row.RHS
		for _, t := range row.Terms {
			rc[t.Var] -= u * t.Coef
		}
	}

	unbounded := false
	for v := range s.vars {
		if s.groupOf[v] != -1 {
			continue
		}
		switch lo, hi := st.lo[v], st.hi[v]; {
		case rc[v] > 0:
			x[v] = hi
		case rc[v] < 0:
			x[v] = lo
		default:
			x[v] = pickContinuous(0, lo, hi)
		}
		if math.IsInf(x[v], 0) {
			unbounded = true
			continue
		}
		value += rc[v] * x[v]
	}
	for i := range s.groups {
		part, ok := s.distribute(st, &s.groups[i], rc, x)
		if !ok {
			return math.Inf(-1)
		}
		value += part
	}
	if unbounded {
		return math.Inf(1)
	}
	return value
}

// distribute hands the units of a group left over by the member lower bounds to the
// members with the highest penalised cost.
func (s *search) distribute(st *nodeState, g *group, rc, x []float64) (float64, bool) {
	order := s.order[:0]
	remaining := g.rhs
	var value float64
	for _, v := range g.members {
		x[v] = st.lo[v]
		remaining -= st.lo[v]
		value += rc[v] * st.lo[v]
		if st.hi[v] > st.lo[v] {
			order = append(order, v)
		}
	}
	for i := 1; i < len(order); i++ {
		for k := i; k > 0 && rc[order[k]] > rc[order[k-1]]; k-- {
			order[k], order[k-1] = order[k-1], order[k]
		}
	}
	for _, v := range order {
		if remaining <= feasibilityTol {
			break
		}
		amount := math.Min(st.hi[v]-st.lo[v], remaining)
		x[v] += amount
		remaining -= amount
		value += rc[v] * amount
	}
	s.order = order
	return value, math.Abs(remaining) <= feasibilityTol
}

// consider offers a relaxed solution as an incumbent.
func (s *search) consider(x []float64) {
	for v, variable := range s.vars {
		if math.IsInf(x[v], 0) {
			return
		}
		if variable.Kind.Integral() && math.Abs(x[v]-math.Round(x[v])) > feasibilityTol {
			return
		}
	}
	s.record(x)
}

// --- Propagation ---

func (s *search) propagate(st *nodeState) bool {
	for v := range s.vars {
		if st.lo[v] > st.hi[v]+feasibilityTol {
			return false
		}
	}
	for pass := 0; pass < maxPasses; pass++ {
		changed := false
		for i := range s.rows {
			ok, rowChanged := s.propagateRow(st, &s.rows[i])
			if !ok {
				return false
			}
			changed = changed || rowChanged
		}
		if !changed {
			return true
		}
	}
	return true
}

func contribution(st *nodeState, t Term) (float64, float64) {
	a, b := t.Coef*st.lo[t.Var], t.Coef*st.hi[t.Var]
	if t.Coef < 0 {
		a, b = b, a
	}
	return a, b
}

type activity struct {
	finite float64
	inf    int
}

func (a *activity) add(v float64) {
	if math.IsInf(v, 0) {
		a.inf++
		return
	}
	a.finite += v
}

// without returns the activity of the row excluding one contribution and whether it is finite.
func (a activity) without(v float64) (float64, bool) {
	if math.IsInf(v, 0) {
		return a.finite, a.inf == 1
	}
	return a.finite - v, a.inf == 0
}

func (s *search) propagateRow(st *nodeState, row *Constraint) (bool, bool) {
	var minAct, maxAct activity
	for _, t := range row.Terms {
		lo, hi := contribution(st, t)
		minAct.add(lo)
		maxAct.add(hi)
	}
	upper := row.Relation == LessEqual || row.Relation == Equal
	lower := row.Relation == GreaterEqual || row.Relation == Equal
	if upper && minAct.inf == 0 && minAct.finite > row.RHS+feasibilityTol {
		return false, false
	}
	if lower && maxAct.inf == 0 && maxAct.finite < row.RHS-feasibilityTol {
		return false, false
	}

	changed := false
	for _, t := range row.Terms {
		lo, hi := contribution(st, t)
		if upper {
			if others, ok := minAct.without(lo); ok {
				ok, ch := s.capContribution(st, t, row.RHS-others)
				if !ok {
					return false, false
				}
				changed = changed || ch
			}
		}
		if lower {
			if others, ok := maxAct.without(hi); ok {
				ok, ch := s.floorContribution(st, t, row.RHS-others)
				if !ok {
					return false, false
				}
				changed = changed || ch
			}
		}
	}
	return true, changed
}

// capContribution enforces coef*x <= limit.
func (s *search) capContribution(st *nodeState, t Term, limit float64) (bool, bool) {
	if t.Coef > 0 {
		return s.tightenUpper(st, t.Var, limit/t.Coef)
	}
	return s.tightenLower(st, t.Var, limit/t.Coef)
}

// floorContribution enforces coef*x >= need.
func (s *search) floorContribution(st *nodeState, t Term, need float64) (bool, bool) {
	if t.Coef > 0 {
		return s.tightenLower(st, t.Var, need/t.Coef)
	}
	return s.tightenUpper(st, t.Var, need/t.Coef)
}

func (s *search) tightenUpper(st *nodeState, v Var, limit float64) (bool, bool) {
	if s.vars[v].Kind.Integral() {
		limit = math.Floor(limit + feasibilityTol)
	}
	if limit >= st.hi[v]-boundTol {
		return true, false
	}
	if limit < st.lo[v]-feasibilityTol {
		return false, false
	}
	st.hi[v] = math.Max(limit, st.lo[v])
	return true, true
}

func (s *search) tightenLower(st *nodeState, v Var, limit float64) (bool, bool) {
	if s.vars[v].Kind.Integral() {
		limit = math.Ceil(limit - feasibilityTol)
	}
	if limit <= st.lo[v]+boundTol {
		return true, false
	}
	if limit > st.hi[v]+feasibilityTol {
		return false, false
	}
	st.lo[v] = math.Min(limit, st.hi[v])
	return true, true
}
