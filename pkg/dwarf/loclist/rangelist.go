package loclist

// RangeList holds the possibly discontiguous address ranges covered by
// one entity, such as a subroutine split across sections. Ranges are
// half open intervals in list order.
type RangeList []Interval

// ContainsAddr reports whether any range contains addr.
func (rl RangeList) ContainsAddr(addr uint64) bool {
	_, ok := rl.Find(addr)
	return ok
}

// Find returns the index of the range containing addr.
func (rl RangeList) Find(addr uint64) (int, bool) {
	for i, r := range rl {
		if r.Contains(addr) {
			return i, true
		}
	}
	return 0, false
}
