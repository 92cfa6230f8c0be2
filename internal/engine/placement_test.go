package engine

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func placementFixture(teacherSlots Bitset, rooms ...Classroom) *Availability {
	if len(rooms) == 0 {
		rooms = []Classroom{{ID: "r1", Availability: BothShifts}}
	}
	return NewAvailability(Snapshot{
		Teachers:   []Teacher{{ID: "t1", Availability: teacherSlots}},
		Divisions:  []Division{{ID: "d1", Availability: BothShifts}},
		Classrooms: rooms,
	})
}

func lecture() Session {
	return Session{TeacherID: "t1", SubjectID: "s1", DivisionID: "d1", Kind: SessionSingle}
}

func TestPlaceFlagsRepeatedDayClass(t *testing.T) {
	// Slots 0 and 6 share day class 0: the second lecture is placed but flagged.
	result, err := Place(context.Background(), []Session{lecture(), lecture()}, placementFixture(slotSet(0, 6)), PlacementOptions{})
	require.NoError(t, err)
	require.Equal(t, PlacementPlaced, result.Status)
	require.Len(t, result.Placements, 2)
	assert.False(t, result.Placements[0].SoftViolation)
	assert.True(t, result.Placements[1].SoftViolation)
	assert.Equal(t, 1, result.Stats.SoftViolations)
}

func TestPlacePrefersFreshDayClassOverLowerSlot(t *testing.T) {
	result, err := Place(context.Background(), []Session{lecture(), lecture()}, placementFixture(slotSet(0, 6, 7)), PlacementOptions{})
	require.NoError(t, err)
	require.Equal(t, PlacementPlaced, result.Status)
	assert.Equal(t, 0, result.Placements[0].TimeSlot)
	assert.Equal(t, 7, result.Placements[1].TimeSlot)
	assert.Zero(t, result.Stats.SoftViolations)
}

func TestPlaceDifferentSubjectsDoNotTripSoftFlag(t *testing.T) {
	other := lecture()
	other.SubjectID = "s2"
	result, err := Place(context.Background(), []Session{lecture(), other}, placementFixture(slotSet(0, 6)), PlacementOptions{})
	require.NoError(t, err)
	require.Equal(t, PlacementPlaced, result.Status)
	assert.Zero(t, result.Stats.SoftViolations)
}

func TestPlaceUsesRoomOrder(t *testing.T) {
	rooms := []Classroom{
		{ID: "busy", Availability: slotSet(5)},
		{ID: "open", Availability: BothShifts},
	}
	result, err := Place(context.Background(), []Session{lecture()}, placementFixture(BothShifts, rooms...), PlacementOptions{})
	require.NoError(t, err)
	require.Len(t, result.Placements, 1)
	assert.Equal(t, 0, result.Placements[0].TimeSlot)
	assert.Equal(t, "open", result.Placements[0].ClassroomID)
}

func TestPlaceBacktracksFromBlockedLab(t *testing.T) {
	// The lecture grabs slot 0 first, which leaves the lab without a pair; the search must
	// move the lecture to make room.
	lab := lecture()
	lab.SubjectID = "s2"
	lab.Kind = SessionDouble
	avail := placementFixture(slotSet(0, 6, 12))

	result, err := Place(context.Background(), []Session{lecture(), lab}, avail, PlacementOptions{})
	require.NoError(t, err)
	require.Equal(t, PlacementPlaced, result.Status)
	assert.Equal(t, 12, result.Placements[0].TimeSlot)
	assert.Equal(t, 0, result.Placements[1].TimeSlot)
	assert.Positive(t, result.Stats.Backtracks)

	// The caller's availability is untouched.
	assert.True(t, avail.IsFree(KindTeacher, "t1", 0))
	assert.True(t, avail.IsFree(KindClassroom, "r1", 6))
}

func TestPlaceTimesOut(t *testing.T) {
	sessions := make([]Session, 0, 12)
	for i := 0; i < 12; i++ {
		sessions = append(sessions, lecture())
	}
	clock := &steppingClock{now: time.Unix(0, 0), step: time.Second}
	// Eleven free slots for twelve lectures and no pre-check: the search has to enumerate.
	result, err := Place(context.Background(), sessions, placementFixture(SlotRange(0, 11)), PlacementOptions{
		Timeout: 5 * time.Second,
		Clock:   clock,
	})
	require.NoError(t, err)
	assert.Equal(t, PlacementTimedOut, result.Status)
	assert.Empty(t, result.Placements)
}

func TestPlacePrecheckRejectsOverbookedDivision(t *testing.T) {
	sessions := make([]Session, 0, 12)
	for i := 0; i < 12; i++ {
		sessions = append(sessions, lecture())
	}
	result, err := Place(context.Background(), sessions, placementFixture(SlotRange(0, 11)), PlacementOptions{Precheck: true})
	require.NoError(t, err)
	assert.Equal(t, PlacementExhausted, result.Status)
	assert.Zero(t, result.Stats.Nodes)
	assert.NotEmpty(t, result.Stats.PrecheckReason)
}

func TestPlaceNotifiesObserver(t *testing.T) {
	var reports []SearchProgress
	sessions := []Session{lecture(), lecture(), lecture()}
	_, err := Place(context.Background(), sessions, placementFixture(BothShifts), PlacementOptions{
		ObserveEvery: 1,
		Observer:     func(p SearchProgress) { reports = append(reports, p) },
	})
	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.Equal(t, 3, reports[2].Nodes)
	assert.Equal(t, 3, reports[2].Total)
}

func TestPlaceRejectsUnknownSessionEntities(t *testing.T) {
	stray := lecture()
	stray.TeacherID = "ghost"
	_, err := Place(context.Background(), []Session{stray}, placementFixture(BothShifts), PlacementOptions{})
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
}

func TestExpandAndShuffle(t *testing.T) {
	subjects := map[string]Subject{
		"s1": {ID: "s1", LecturesPerWeek: 3, LabsPerWeek: 2},
		"s2": {ID: "s2", LecturesPerWeek: 1},
	}
	assignments := []Assignment{
		{TeacherID: "t1", SubjectID: "s1", DivisionID: "d1"},
		{TeacherID: "t2", SubjectID: "s2", DivisionID: "d1"},
	}
	sessions, err := Expand(assignments, subjects)
	require.NoError(t, err)
	require.Len(t, sessions, 6)

	kinds := map[SessionKind]int{}
	for _, s := range sessions {
		kinds[s.Kind]++
	}
	assert.Equal(t, 4, kinds[SessionSingle])
	assert.Equal(t, 2, kinds[SessionDouble])

	a := append([]Session(nil), sessions...)
	b := append([]Session(nil), sessions...)
	Shuffle(a, rand.New(rand.NewSource(3)))
	Shuffle(b, rand.New(rand.NewSource(3)))
	assert.Equal(t, a, b)
	assert.ElementsMatch(t, sessions, a)

	_, err = Expand([]Assignment{{SubjectID: "missing"}}, subjects)
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
}
