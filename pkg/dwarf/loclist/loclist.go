// Package loclist models DWARF location lists: sequences of location
// expressions each valid over a range of program counter addresses.
package loclist

import (
	"fmt"

	"github.com/debugio/dwarfdec/pkg/dwarf/op"
)

// LocExpr is one decoded location expression together with the
// [LowPC, HighPC) address range over which it is valid. LowPC and HighPC
// both zero means the expression holds for all addresses; "no location"
// is represented by an empty LocList, never by a zero range entry.
type LocExpr struct {
	Instr  []op.Instr
	LowPC  uint64
	HighPC uint64

	spec op.Spec
}

// DecodeExpr decodes the raw expression bytes of one location list
// entry. The returned expression keeps a reference to the format
// specification used to decode it.
func DecodeExpr(data []byte, lowpc, hipc uint64, spec op.Spec, ptrSize int) (LocExpr, error) {
	instr, err := op.Decode(data, spec, ptrSize)
	if err != nil {
		return LocExpr{}, fmt.Errorf("location expression for [%#x, %#x): %v", lowpc, hipc, err)
	}
	return LocExpr{Instr: instr, LowPC: lowpc, HighPC: hipc, spec: spec}, nil
}

// Spec returns the format specification the expression was decoded with.
func (e LocExpr) Spec() op.Spec { return e.spec }

// Covers reports whether the expression is valid at addr. A zero/zero
// range covers every address.
func (e LocExpr) Covers(addr uint64) bool {
	if e.LowPC == 0 && e.HighPC == 0 {
		return true
	}
	return addr >= e.LowPC && addr < e.HighPC
}

// Equal compares validity ranges and instruction sequences. Instruction
// offsets do not participate.
func (e LocExpr) Equal(other LocExpr) bool {
	if e.LowPC != other.LowPC || e.HighPC != other.HighPC {
		return false
	}
	if len(e.Instr) != len(other.Instr) {
		return false
	}
	for i := range e.Instr {
		if !e.Instr[i].Equal(other.Instr[i]) {
			return false
		}
	}
	return true
}

// LocList is an ordered sequence of location expressions. Entries are
// expected to have non overlapping validity ranges; overlapping entries
// are a caller error, not silently resolved.
type LocList []LocExpr

// LocForVaddr returns the first expression whose validity range contains
// addr, or false if the address has no location.
func (l LocList) LocForVaddr(addr uint64) (LocExpr, bool) {
	for _, e := range l {
		if e.Covers(addr) {
			return e, true
		}
	}
	return LocExpr{}, false
}

// Interval is a half open [Low, High) address interval.
type Interval struct {
	Low, High uint64
}

// Contains reports whether addr falls inside the interval.
func (iv Interval) Contains(addr uint64) bool {
	return addr >= iv.Low && addr < iv.High
}

// Intervals returns the validity range of every entry, in list order.
func (l LocList) Intervals() []Interval {
	working := make([]Interval, 0, len(l))
	for _, e := range l {
		working = append(working, Interval{Low: e.LowPC, High: e.HighPC})
	}
	return working
}
