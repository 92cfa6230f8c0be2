package engine

import (
	"fmt"
	"time"
)

// Outcome is the final state of a generation run.
type Outcome string

const (
	OutcomeSuccess              Outcome = "SUCCESS"
	OutcomeAssignmentInfeasible Outcome = "ASSIGNMENT_INFEASIBLE"
	OutcomeSolverFailed         Outcome = "SOLVER_FAILED"
	OutcomePlacementTimedOut    Outcome = "PLACEMENT_TIMED_OUT"
	OutcomePlacementExhausted   Outcome = "PLACEMENT_EXHAUSTED"
)

// Succeeded reports whether the run produced a timetable.
func (o Outcome) Succeeded() bool { return o == OutcomeSuccess }

// Result packages the outcome of a run. Assignment statistics are present for every outcome;
// placements only on success.
type Result struct {
	Outcome    Outcome
	Assignment *AssignmentResult
	Sessions   int
	Placements []Placement
	Reasons    []string
	Search     SearchStats
	Elapsed    time.Duration
	Seed       int64
}

func assignmentFailure(assignment *AssignmentResult) *Result {
	outcome := OutcomeAssignmentInfeasible
	if assignment.Status == AssignmentSolverFailed {
		outcome = OutcomeSolverFailed
	}
	return &Result{
		Outcome:    outcome,
		Assignment: assignment,
		Reasons:    append([]string(nil), assignment.InfeasibilityReasons...),
	}
}

func assemble(assignment *AssignmentResult, sessions int, placement *PlacementResult, timeout time.Duration) *Result {
	result := &Result{
		Assignment: assignment,
		Sessions:   sessions,
		Search:     placement.Stats,
	}
	switch placement.Status {
	case PlacementPlaced:
		result.Outcome = OutcomeSuccess
		result.Placements = placement.Placements
		SortPlacements(result.Placements)
	case PlacementTimedOut:
		result.Outcome = OutcomePlacementTimedOut
		result.Reasons = []string{fmt.Sprintf("placement search exceeded %s after %d nodes", timeout, placement.Stats.Nodes)}
	default:
		result.Outcome = OutcomePlacementExhausted
		reason := "no placement satisfies the hard constraints"
		if placement.Stats.PrecheckReason != "" {
			reason = placement.Stats.PrecheckReason
		}
		result.Reasons = []string{reason}
	}
	return result
}
