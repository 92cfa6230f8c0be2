package engine

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Clock supplies wall-clock time to the search.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// PlacementStatus is the outcome of the placement phase.
type PlacementStatus string

const (
	PlacementPlaced    PlacementStatus = "PLACED"
	PlacementExhausted PlacementStatus = "EXHAUSTED"
	PlacementTimedOut  PlacementStatus = "TIMED_OUT"
)

// DefaultObserveEvery is the node interval between progress reports.
const DefaultObserveEvery = 1000

// Placement is a session fixed to a starting slot and classroom.
type Placement struct {
	Session
	TimeSlot      int
	ClassroomID   string
	SoftViolation bool
}

// Slots lists every slot the placement occupies.
func (p Placement) Slots() []int {
	if p.Kind == SessionDouble {
		return []int{p.TimeSlot, p.TimeSlot + DayLength}
	}
	return []int{p.TimeSlot}
}

// SearchProgress is reported to observers while the search runs.
type SearchProgress struct {
	Nodes   int
	Depth   int
	Total   int
	Elapsed time.Duration
}

// SearchObserver receives periodic progress reports.
type SearchObserver func(SearchProgress)

// SearchStats summarises a finished search.
type SearchStats struct {
	Nodes          int
	Backtracks     int
	MaxDepth       int
	SoftViolations int
	Elapsed        time.Duration
	PrecheckReason string
}

// PlacementOptions tune the placement phase.
type PlacementOptions struct {
	// Timeout bounds the search; zero means no limit.
	Timeout time.Duration
	// Clock defaults to SystemClock.
	Clock Clock
	// Precheck runs the bipartite matching test before searching.
	Precheck bool
	// Observer, when set, is called every ObserveEvery nodes.
	Observer     SearchObserver
	ObserveEvery int
}

// PlacementResult is the output of the placement phase.
type PlacementResult struct {
	Status     PlacementStatus
	Placements []Placement
	Stats      SearchStats
}

type searchSession struct {
	Session
	teacher  int
	division int
	pair     int
}

type slotCandidate struct {
	slot int
	room int
	soft bool
}

type signal int

const (
	signalExhausted signal = iota
	signalFound
	signalTimedOut
	signalCancelled
)

// searcher carries the state of one placement run. It is confined to a single goroutine.
type searcher struct {
	ctx      context.Context
	avail    *Availability
	sessions []searchSession
	rooms    []string

	clock   Clock
	started time.Time
	timeout time.Duration

	observer SearchObserver
	every    int

	stack   []Placement
	dayUse  [][WorkdayCount]int
	buffers [][]slotCandidate
	spare   [][]slotCandidate
	stats   SearchStats
}

// Place assigns every session a starting slot and a classroom so that no teacher, division or
// classroom is double-booked and every occupied slot is available. The availability passed in
// is not modified.
func Place(ctx context.Context, sessions []Session, avail *Availability, opts PlacementOptions) (*PlacementResult, error) {
	s, err := newSearcher(ctx, sessions, avail, opts)
	if err != nil {
		return nil, err
	}

	if opts.Precheck {
		if reason := precheck(s.avail, s.sessions); reason != "" {
			s.stats.PrecheckReason = reason
			s.stats.Elapsed = s.clock.Now().Sub(s.started)
			return &PlacementResult{Status: PlacementExhausted, Stats: s.stats}, nil
		}
	}

	sig := s.place(0)
	s.stats.Elapsed = s.clock.Now().Sub(s.started)

	result := &PlacementResult{Stats: s.stats}
	switch sig {
	case signalFound:
		result.Status = PlacementPlaced
		result.Placements = append([]Placement(nil), s.stack...)
		for _, p := range result.Placements {
			if p.SoftViolation {
				result.Stats.SoftViolations++
			}
		}
	case signalTimedOut:
		result.Status = PlacementTimedOut
	case signalCancelled:
		return nil, ctx.Err()
	default:
		result.Status = PlacementExhausted
	}
	return result, nil
}

func newSearcher(ctx context.Context, sessions []Session, avail *Availability, opts PlacementOptions) (*searcher, error) {
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	every := opts.ObserveEvery
	if every <= 0 {
		every = DefaultObserveEvery
	}
	s := &searcher{
		ctx:      ctx,
		avail:    avail.Clone(),
		rooms:    avail.ids[KindClassroom],
		clock:    clock,
		timeout:  opts.Timeout,
		observer: opts.Observer,
		every:    every,
		stack:    make([]Placement, 0, len(sessions)),
		buffers:  make([][]slotCandidate, len(sessions)),
		spare:    make([][]slotCandidate, len(sessions)),
	}

	pairs := make(map[[2]string]int)
	s.sessions = make([]searchSession, len(sessions))
	for i, sess := range sessions {
		teacher, ok := avail.index[KindTeacher][sess.TeacherID]
		if !ok {
			return nil, fmt.Errorf("%w: session references unknown teacher %s", ErrInvalidSnapshot, sess.TeacherID)
		}
		division, ok := avail.index[KindDivision][sess.DivisionID]
		if !ok {
			return nil, fmt.Errorf("%w: session references unknown division %s", ErrInvalidSnapshot, sess.DivisionID)
		}
		key := [2]string{sess.DivisionID, sess.SubjectID}
		pair, ok := pairs[key]
		if !ok {
			pair = len(pairs)
			pairs[key] = pair
		}
		s.sessions[i] = searchSession{Session: sess, teacher: teacher, division: division, pair: pair}
	}
	s.dayUse = make([][WorkdayCount]int, len(pairs))
	s.started = clock.Now()
	return s, nil
}

func (s *searcher) place(depth int) signal {
	if s.timeout > 0 && s.clock.Now().Sub(s.started) > s.timeout {
		return signalTimedOut
	}
	if s.ctx.Err() != nil {
		return signalCancelled
	}
	if depth == len(s.sessions) {
		return signalFound
	}

	s.stats.Nodes++
	if depth > s.stats.MaxDepth {
		s.stats.MaxDepth = depth
	}
	if s.observer != nil && s.stats.Nodes%s.every == 0 {
		s.observer(SearchProgress{
			Nodes:   s.stats.Nodes,
			Depth:   depth,
			Total:   len(s.sessions),
			Elapsed: s.clock.Now().Sub(s.started),
		})
	}

	sess := s.sessions[depth]
	for _, c := range s.candidates(depth, sess) {
		s.occupy(sess, c, false)
		s.stack = append(s.stack, Placement{
			Session:       sess.Session,
			TimeSlot:      c.slot,
			ClassroomID:   s.rooms[c.room],
			SoftViolation: c.soft,
		})
		s.dayUse[sess.pair][DayClass(c.slot)]++

		if sig := s.place(depth + 1); sig != signalExhausted {
			return sig
		}

		s.dayUse[sess.pair][DayClass(c.slot)]--
		s.stack = s.stack[:len(s.stack)-1]
		s.occupy(sess, c, true)
		s.stats.Backtracks++
	}
	return signalExhausted
}

// candidates enumerates feasible (slot, room) options in slot then room order, with options
// that repeat the session's (division, subject) on an already used weekday moved last.
func (s *searcher) candidates(depth int, sess searchSession) []slotCandidate {
	clean := s.buffers[depth][:0]
	soft := s.spare[depth][:0]
	for slot := 0; slot < TotalSlots; slot++ {
		if !s.canHost(KindTeacher, sess.teacher, slot, sess.Kind) || !s.canHost(KindDivision, sess.division, slot, sess.Kind) {
			continue
		}
		violates := s.dayUse[sess.pair][DayClass(slot)] > 0
		for room := range s.rooms {
			if !s.canHost(KindClassroom, room, slot, sess.Kind) {
				continue
			}
			c := slotCandidate{slot: slot, room: room, soft: violates}
			if violates {
				soft = append(soft, c)
			} else {
				clean = append(clean, c)
			}
		}
	}
	clean = append(clean, soft...)
	s.buffers[depth], s.spare[depth] = clean, soft
	return clean
}

func (s *searcher) canHost(kind EntityKind, idx, slot int, session SessionKind) bool {
	return canHost(s.avail, kind, idx, slot, session)
}

func canHost(avail *Availability, kind EntityKind, idx, slot int, session SessionKind) bool {
	if session == SessionDouble {
		if !ValidDoubleStart(slot) {
			return false
		}
		return avail.free(kind, idx, slot) && avail.free(kind, idx, slot+DayLength)
	}
	return avail.free(kind, idx, slot)
}

func (s *searcher) occupy(sess searchSession, c slotCandidate, free bool) {
	for _, slot := range []int{c.slot, c.slot + DayLength}[:sess.Kind.Span()] {
		s.avail.mark(KindTeacher, sess.teacher, slot, free)
		s.avail.mark(KindDivision, sess.division, slot, free)
		s.avail.mark(KindClassroom, c.room, slot, free)
	}
}

// SortPlacements orders placements by slot, then division, then teacher.
func SortPlacements(placements []Placement) {
	sort.SliceStable(placements, func(i, j int) bool {
		a, b := placements[i], placements[j]
		if a.TimeSlot != b.TimeSlot {
			return a.TimeSlot < b.TimeSlot
		}
		if a.DivisionID != b.DivisionID {
			return a.DivisionID < b.DivisionID
		}
		return a.TeacherID < b.TeacherID
	})
}
