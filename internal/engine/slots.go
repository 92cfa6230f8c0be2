package engine

import (
	"fmt"
	"math/bits"
	"strings"
)

// Weekly grid layout. Slots are numbered period-major: slot = period*WorkdayCount + day.
const (
	TotalSlots    = 48
	WorkdayCount  = 6
	DayLength     = WorkdayCount
	PeriodsPerDay = TotalSlots / WorkdayCount

	DefaultMaxWorkload = 18
)

const slotWords = (TotalSlots + 63) / 64

// DayClass returns the weekday a slot falls on.
func DayClass(slot int) int { return slot % WorkdayCount }

// Period returns the period index of a slot within its day.
func Period(slot int) int { return slot / WorkdayCount }

// ValidDoubleStart reports whether a two-slot session may begin at slot. The pair occupies
// slot and slot+DayLength, and only even period blocks may open a pair.
func ValidDoubleStart(slot int) bool {
	return (slot/DayLength)%2 == 0 && slot+DayLength < TotalSlots
}

// Bitset is a fixed-size slot vector. The zero value has every slot busy.
type Bitset [slotWords]uint64

// Has reports whether slot is set.
func (b Bitset) Has(slot int) bool {
	checkSlot(slot)
	return b[slot/64]&(1<<(uint(slot)%64)) != 0
}

// With returns a copy of b with slot set to value.
func (b Bitset) With(slot int, value bool) Bitset {
	checkSlot(slot)
	if value {
		b[slot/64] |= 1 << (uint(slot) % 64)
	} else {
		b[slot/64] &^= 1 << (uint(slot) % 64)
	}
	return b
}

// Count returns the number of set slots.
func (b Bitset) Count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}

// String renders the vector as TotalSlots characters of '0' and '1'.
func (b Bitset) String() string {
	var sb strings.Builder
	sb.Grow(TotalSlots)
	for slot := 0; slot < TotalSlots; slot++ {
		if b.Has(slot) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// ParseBitset decodes the textual form produced by String.
func ParseBitset(raw string) (Bitset, error) {
	var b Bitset
	if len(raw) != TotalSlots {
		return b, fmt.Errorf("availability must have %d slots, got %d", TotalSlots, len(raw))
	}
	for slot := 0; slot < TotalSlots; slot++ {
		switch raw[slot] {
		case '1':
			b = b.With(slot, true)
		case '0':
		default:
			return Bitset{}, fmt.Errorf("availability slot %d: invalid character %q", slot, raw[slot])
		}
	}
	return b, nil
}

// SlotRange returns a bitset with slots [from, to) set.
func SlotRange(from, to int) Bitset {
	var b Bitset
	for slot := from; slot < to; slot++ {
		b = b.With(slot, true)
	}
	return b
}

// Shifts.
var (
	Shift1     = SlotRange(0, 36)
	Shift2     = SlotRange(12, TotalSlots)
	BothShifts = SlotRange(0, TotalSlots)
)

// Default availability per entity kind.
var (
	DefaultTeacherAvailability   = Shift2
	DefaultDivisionAvailability  = Shift2
	DefaultClassroomAvailability = BothShifts
)

// ShiftByName resolves a named shift. The empty name and "default" resolve to def.
func ShiftByName(name string, def Bitset) (Bitset, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "DEFAULT":
		return def, nil
	case "SHIFT_1":
		return Shift1, nil
	case "SHIFT_2":
		return Shift2, nil
	case "BOTH":
		return BothShifts, nil
	default:
		return Bitset{}, fmt.Errorf("unknown shift %q", name)
	}
}

func checkSlot(slot int) {
	if slot < 0 || slot >= TotalSlots {
		panic(fmt.Sprintf("engine: slot %d out of range [0,%d)", slot, TotalSlots))
	}
}
