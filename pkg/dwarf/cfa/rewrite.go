// Package cfa relates register-relative location expressions to the
// canonical frame address. Register definitions of the register+offset
// kind form a directed graph, piecewise constant over address ranges;
// a path from a referenced register to the CFA pseudo register gives
// the offset at which that register's value sits relative to the CFA.
package cfa

import (
	"fmt"
	"sort"

	"github.com/debugio/dwarfdec/pkg/dwarf/frame"
	"github.com/debugio/dwarfdec/pkg/dwarf/loclist"
	"github.com/debugio/dwarfdec/pkg/dwarf/op"
	"github.com/debugio/dwarfdec/pkg/logflags"
)

// Edge states that the value of register To equals the value of
// register From plus Delta. Every edge implies the opposite edge with
// the negated delta. The CFA pseudo register frame.CFACol is a node
// like any other.
type Edge struct {
	From, To uint64
	Delta    int64
}

// Span is the edge set in effect over the half open address interval
// [Low, High).
type Span struct {
	Low, High uint64
	Edges     []Edge
}

// Graph holds edge sets piecewise over address ranges, in ascending
// address order.
type Graph struct {
	spans []Span
}

// Spans returns the graph's address ranges and their edge sets.
func (g *Graph) Spans() []Span {
	return g.spans
}

// EdgesAt returns the edge set in effect at pc, or nil.
func (g *Graph) EdgesAt(pc uint64) []Edge {
	idx := sort.Search(len(g.spans), func(i int) bool {
		return g.spans[i].High > pc
	})
	if idx == len(g.spans) || pc < g.spans[idx].Low {
		return nil
	}
	return g.spans[idx].Edges
}

// rowEdges extracts the register+offset relationships a row defines.
// The CFA definition relates the CFA node to its base register; a
// register rule names the register holding the caller's value; a
// val-offset rule states the value directly as CFA plus offset.
func rowEdges(row frame.Row) []Edge {
	regs := make([]uint64, 0, len(row))
	for reg := range row {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i] < regs[j] })

	edges := make([]Edge, 0, len(regs))
	for _, reg := range regs {
		rule := row[reg]
		switch rule.Rule {
		case frame.RuleCFA:
			edges = append(edges, Edge{From: rule.Reg, To: frame.CFACol, Delta: rule.Offset})
		case frame.RuleRegister:
			edges = append(edges, Edge{From: rule.Reg, To: reg})
		case frame.RuleValOffset:
			edges = append(edges, Edge{From: frame.CFACol, To: reg, Delta: rule.Offset})
		}
	}
	return edges
}

// PathToCFA searches edges for a path from reg to the CFA pseudo
// register and returns the accumulated delta, so that
// value(CFA) == value(reg) + delta. Reverse edges are followed with
// negated deltas.
func PathToCFA(edges []Edge, reg uint64) (int64, bool) {
	type node struct {
		reg   uint64
		delta int64
	}
	visited := map[uint64]bool{reg: true}
	queue := []node{{reg: reg}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.reg == frame.CFACol {
			return cur.delta, true
		}
		for _, e := range edges {
			if e.From == cur.reg && !visited[e.To] {
				visited[e.To] = true
				queue = append(queue, node{reg: e.To, delta: cur.delta + e.Delta})
			}
			if e.To == cur.reg && !visited[e.From] {
				visited[e.From] = true
				queue = append(queue, node{reg: e.From, delta: cur.delta - e.Delta})
			}
		}
	}
	return 0, false
}

// BuildGraph walks the FDEs overlapping each interval of interest and
// collects every unwind table row's edge set, clipped to the interval.
func BuildGraph(intervals []loclist.Interval, fdes frame.FrameDescriptionEntries, addrSize int, useHostByteOrder bool) (*Graph, error) {
	g := &Graph{}
	for _, ival := range intervals {
		if ival.Low >= ival.High {
			continue
		}
		for pc := ival.Low; pc < ival.High; {
			fde, err := fdes.FDEForPC(pc)
			if err != nil {
				// no unwind info here, skip to the next FDE
				next, ok := nextFDEStart(fdes, pc, ival.High)
				if !ok {
					break
				}
				pc = next
				continue
			}
			table, err := fde.BuildUnwindTable(addrSize, useHostByteOrder)
			if err != nil {
				return nil, fmt.Errorf("FDE [%#x, %#x): %v", fde.Begin(), fde.End(), err)
			}
			for _, r := range table.Ranges() {
				low, high := r.Start, r.End
				if low < ival.Low {
					low = ival.Low
				}
				if high > ival.High {
					high = ival.High
				}
				if low >= high {
					continue
				}
				g.spans = append(g.spans, Span{Low: low, High: high, Edges: rowEdges(r.Row)})
			}
			pc = fde.End()
		}
	}
	sort.SliceStable(g.spans, func(i, j int) bool { return g.spans[i].Low < g.spans[j].Low })
	return g, nil
}

func nextFDEStart(fdes frame.FrameDescriptionEntries, pc, limit uint64) (uint64, bool) {
	idx := sort.Search(len(fdes), func(i int) bool {
		return fdes[i].Begin() > pc
	})
	if idx == len(fdes) || fdes[idx].Begin() >= limit {
		return 0, false
	}
	return fdes[idx].Begin(), true
}

// exprRegister returns the register a breg-class instruction reads, if
// any.
func exprRegister(instr op.Instr) (uint64, int64, bool) {
	if instr.Op >= op.DW_OP_breg0 && instr.Op <= op.DW_OP_breg31 {
		return uint64(instr.Op - op.DW_OP_breg0), int64(instr.Arg1), true
	}
	if instr.Op == op.DW_OP_bregx {
		return instr.Arg1, int64(instr.Arg2), true
	}
	return 0, 0, false
}

// RewriteLoclistInTermsOfCFA builds the edge graph over the ranges of l
// and searches, for every register-relative instruction, a path to the
// CFA. The findings are traced but the location list is returned
// unchanged: no rewritten expression is committed back.
func RewriteLoclistInTermsOfCFA(l loclist.LocList, fdes frame.FrameDescriptionEntries, addrSize int, useHostByteOrder bool) (loclist.LocList, error) {
	graph, err := BuildGraph(l.Intervals(), fdes, addrSize, useHostByteOrder)
	if err != nil {
		return nil, err
	}

	logger := logflags.CFALogger()
	for _, expr := range l {
		for _, instr := range expr.Instr {
			reg, disp, ok := exprRegister(instr)
			if !ok {
				continue
			}
			for _, span := range graph.Spans() {
				if span.High <= expr.LowPC || span.Low >= expr.HighPC {
					continue
				}
				delta, found := PathToCFA(span.Edges, reg)
				if logflags.CFA() {
					if found {
						logger.Debugf("[%#x, %#x) %s resolves to cfa%+d", span.Low, span.High, instr, -delta+disp)
					} else {
						logger.Debugf("[%#x, %#x) %s has no path to the cfa", span.Low, span.High, instr)
					}
				}
			}
		}
	}

	return l, nil
}
