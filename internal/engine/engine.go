// Package engine builds weekly timetables in two phases: an integer program assigns a teacher
// to every (subject, division) pair, then a backtracking search places the resulting sessions
// into slots and classrooms.
package engine

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable/pkg/optimizer"
)

// Options configure a generation run.
type Options struct {
	Universe         Universe
	Assignment       AssignmentOptions
	PlacementTimeout time.Duration
	Precheck         bool
	// Seed drives the session shuffle when Random is nil.
	Seed   int64
	Random RandomSource
	Clock  Clock

	Observer     SearchObserver
	ObserveEvery int
}

// Engine runs generations. It holds no per-run state and may be shared.
type Engine struct {
	solver *AssignmentSolver
	logger *zap.Logger
}

// New wires an engine to an optimizer backend.
func New(backend optimizer.Backend, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{solver: NewAssignmentSolver(backend, logger), logger: logger}
}

// Generate produces a timetable for the snapshot. Infeasible, exhausted and timed-out runs are
// reported through Result.Outcome; errors are returned for malformed snapshots and context
// cancellation only.
func (e *Engine) Generate(ctx context.Context, snapshot Snapshot, opts Options) (*Result, error) {
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	started := clock.Now()

	if err := snapshot.Validate(); err != nil {
		return nil, err
	}
	scoped, err := snapshot.Restrict(opts.Universe)
	if err != nil {
		return nil, err
	}

	assignment, err := e.solver.Solve(ctx, scoped, opts.Assignment)
	if err != nil {
		return nil, err
	}
	if !assignment.Status.Solved() {
		result := assignmentFailure(assignment)
		result.Seed = opts.Seed
		result.Elapsed = clock.Now().Sub(started)
		return result, nil
	}

	subjects := lo.SliceToMap(scoped.Subjects, func(s Subject) (string, Subject) { return s.ID, s })
	sessions, err := Expand(assignment.Assignments, subjects)
	if err != nil {
		return nil, err
	}
	rng := opts.Random
	if rng == nil {
		rng = rand.New(rand.NewSource(opts.Seed))
	}
	Shuffle(sessions, rng)

	placement, err := Place(ctx, sessions, NewAvailability(scoped), PlacementOptions{
		Timeout:      opts.PlacementTimeout,
		Clock:        clock,
		Precheck:     opts.Precheck,
		Observer:     opts.Observer,
		ObserveEvery: opts.ObserveEvery,
	})
	if err != nil {
		return nil, fmt.Errorf("place sessions: %w", err)
	}

	result := assemble(assignment, len(sessions), placement, opts.PlacementTimeout)
	result.Seed = opts.Seed
	result.Elapsed = clock.Now().Sub(started)
	e.logger.Info("timetable generation finished",
		zap.String("outcome", string(result.Outcome)),
		zap.Int("sessions", len(sessions)),
		zap.Int("nodes", result.Search.Nodes),
		zap.Int("soft_violations", result.Search.SoftViolations),
		zap.Duration("elapsed", result.Elapsed),
	)
	return result, nil
}
