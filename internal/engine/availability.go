package engine

import "fmt"

// EntityKind selects one of the availability tables.
type EntityKind int

const (
	KindTeacher EntityKind = iota
	KindDivision
	KindClassroom
	kindCount
)

func (k EntityKind) String() string {
	switch k {
	case KindTeacher:
		return "teacher"
	case KindDivision:
		return "division"
	case KindClassroom:
		return "classroom"
	default:
		return fmt.Sprintf("EntityKind(%d)", int(k))
	}
}

// Availability holds the per-slot free/busy state of every teacher, division and classroom of
// a run. Entities are addressed by id through a dense index so lookups stay O(1). Asking about
// an unknown entity or a slot outside the grid panics.
type Availability struct {
	index  [kindCount]map[string]int
	ids    [kindCount][]string
	tables [kindCount][]Bitset
}

// NewAvailability copies the availability vectors out of the snapshot.
func NewAvailability(s Snapshot) *Availability {
	a := &Availability{}
	for _, t := range s.Teachers {
		a.add(KindTeacher, t.ID, t.Availability)
	}
	for _, d := range s.Divisions {
		a.add(KindDivision, d.ID, d.Availability)
	}
	for _, c := range s.Classrooms {
		a.add(KindClassroom, c.ID, c.Availability)
	}
	return a
}

func (a *Availability) add(kind EntityKind, id string, bits Bitset) {
	if a.index[kind] == nil {
		a.index[kind] = make(map[string]int)
	}
	a.index[kind][id] = len(a.tables[kind])
	a.ids[kind] = append(a.ids[kind], id)
	a.tables[kind] = append(a.tables[kind], bits)
}

// IsFree reports whether the entity can be scheduled at slot.
func (a *Availability) IsFree(kind EntityKind, id string, slot int) bool {
	return a.free(kind, a.indexOf(kind, id), slot)
}

// Set marks the entity free or busy at slot.
func (a *Availability) Set(kind EntityKind, id string, slot int, free bool) {
	a.mark(kind, a.indexOf(kind, id), slot, free)
}

// Vector returns a copy of the entity's current vector.
func (a *Availability) Vector(kind EntityKind, id string) Bitset {
	return a.tables[kind][a.indexOf(kind, id)]
}

// Clone returns an independent copy. Id indexes are immutable and shared.
func (a *Availability) Clone() *Availability {
	c := &Availability{index: a.index, ids: a.ids}
	for k := range a.tables {
		c.tables[k] = append([]Bitset(nil), a.tables[k]...)
	}
	return c
}

// Len reports how many entities of kind are tracked.
func (a *Availability) Len(kind EntityKind) int { return len(a.tables[kind]) }

func (a *Availability) indexOf(kind EntityKind, id string) int {
	if kind < 0 || kind >= kindCount {
		panic(fmt.Sprintf("engine: unknown entity kind %d", int(kind)))
	}
	idx, ok := a.index[kind][id]
	if !ok {
		panic(fmt.Sprintf("engine: unknown %s %q", kind, id))
	}
	return idx
}

func (a *Availability) free(kind EntityKind, idx, slot int) bool {
	return a.tables[kind][idx].Has(slot)
}

func (a *Availability) mark(kind EntityKind, idx, slot int, free bool) {
	a.tables[kind][idx] = a.tables[kind][idx].With(slot, free)
}
