package engine

import (
	"fmt"

	"github.com/onsi/gomega/matchers/support/goraph/bipartitegraph"
)

// occupancy is one slot a session will hold: the start slot, or the second half of a double.
type occupancy struct {
	session int
	second  bool
}

// precheck proves some instances unplaceable without searching. Every occupied slot of a
// teacher or a division must be distinct, so the occupancies of each entity need a matching
// into the slots they could use. The test only rejects instances with no valid placement.
func precheck(avail *Availability, sessions []searchSession) string {
	units := 0
	for _, sess := range sessions {
		units += sess.Kind.Span()
	}
	roomCapacity := 0
	for room := 0; room < avail.Len(KindClassroom); room++ {
		roomCapacity += avail.tables[KindClassroom][room].Count()
	}
	if roomCapacity < units {
		return fmt.Sprintf("classrooms offer %d free slots for %d occupied slots", roomCapacity, units)
	}

	byDivision := make(map[int][]int)
	byTeacher := make(map[int][]int)
	var divisionOrder, teacherOrder []int
	for i, sess := range sessions {
		if _, ok := byDivision[sess.division]; !ok {
			divisionOrder = append(divisionOrder, sess.division)
		}
		byDivision[sess.division] = append(byDivision[sess.division], i)
		if _, ok := byTeacher[sess.teacher]; !ok {
			teacherOrder = append(teacherOrder, sess.teacher)
		}
		byTeacher[sess.teacher] = append(byTeacher[sess.teacher], i)
	}

	for _, d := range divisionOrder {
		if !matchable(avail, sessions, byDivision[d]) {
			return fmt.Sprintf("division %s cannot fit its sessions into distinct slots", avail.ids[KindDivision][d])
		}
	}
	for _, t := range teacherOrder {
		if !matchable(avail, sessions, byTeacher[t]) {
			return fmt.Sprintf("teacher %s cannot fit their sessions into distinct slots", avail.ids[KindTeacher][t])
		}
	}
	return ""
}

func matchable(avail *Availability, sessions []searchSession, group []int) bool {
	var left []interface{}
	for _, i := range group {
		left = append(left, occupancy{session: i})
		if sessions[i].Kind == SessionDouble {
			left = append(left, occupancy{session: i, second: true})
		}
	}
	if len(left) > TotalSlots {
		return false
	}
	right := make([]interface{}, TotalSlots)
	for slot := range right {
		right[slot] = slot
	}

	graph, err := bipartitegraph.NewBipartiteGraph(left, right, func(l, r interface{}) (bool, error) {
		unit, slot := l.(occupancy), r.(int)
		start := slot
		if unit.second {
			start = slot - DayLength
			if start < 0 {
				return false, nil
			}
		}
		return startable(avail, sessions[unit.session], start), nil
	})
	if err != nil {
		return true
	}
	return len(graph.LargestMatching()) == len(left)
}

// startable reports whether sess could begin at slot against the initial availability.
func startable(avail *Availability, sess searchSession, slot int) bool {
	if !canHost(avail, KindTeacher, sess.teacher, slot, sess.Kind) || !canHost(avail, KindDivision, sess.division, slot, sess.Kind) {
		return false
	}
	for room := 0; room < avail.Len(KindClassroom); room++ {
		if canHost(avail, KindClassroom, room, slot, sess.Kind) {
			return true
		}
	}
	return false
}
