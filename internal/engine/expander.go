package engine

import "fmt"

// SessionKind is the length of a session in slots.
type SessionKind string

const (
	// SessionSingle occupies one slot.
	SessionSingle SessionKind = "SINGLE"
	// SessionDouble occupies a slot and the slot DayLength later.
	SessionDouble SessionKind = "DOUBLE"
)

// Span returns the number of slots the session occupies.
func (k SessionKind) Span() int {
	if k == SessionDouble {
		return 2
	}
	return 1
}

// Session is one teaching block to be placed.
type Session struct {
	TeacherID  string
	SubjectID  string
	DivisionID string
	Kind       SessionKind
}

func (s Session) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", s.DivisionID, s.SubjectID, s.TeacherID, s.Kind)
}

// RandomSource shuffles in place. *rand.Rand satisfies it.
type RandomSource interface {
	Shuffle(n int, swap func(i, j int))
}

// Expand turns assignments into session instances: one SINGLE per weekly lecture and one
// DOUBLE per weekly lab.
func Expand(assignments []Assignment, subjects map[string]Subject) ([]Session, error) {
	var sessions []Session
	for _, a := range assignments {
		sub, ok := subjects[a.SubjectID]
		if !ok {
			return nil, fmt.Errorf("%w: assignment references unknown subject %s", ErrInvalidSnapshot, a.SubjectID)
		}
		base := Session{TeacherID: a.TeacherID, SubjectID: a.SubjectID, DivisionID: a.DivisionID}
		for i := 0; i < sub.LecturesPerWeek; i++ {
			s := base
			s.Kind = SessionSingle
			sessions = append(sessions, s)
		}
		for i := 0; i < sub.LabsPerWeek; i++ {
			s := base
			s.Kind = SessionDouble
			sessions = append(sessions, s)
		}
	}
	return sessions, nil
}

// Shuffle permutes sessions uniformly with the given source.
func Shuffle(sessions []Session, rng RandomSource) {
	if rng == nil {
		return
	}
	rng.Shuffle(len(sessions), func(i, j int) { sessions[i], sessions[j] = sessions[j], sessions[i] })
}
