package cfa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/debugio/dwarfdec/pkg/dwarf/frame"
	"github.com/debugio/dwarfdec/pkg/dwarf/loclist"
	"github.com/debugio/dwarfdec/pkg/dwarf/op"
	"github.com/debugio/dwarfdec/pkg/dwarf/regnum"
)

func TestRowEdges(t *testing.T) {
	row := frame.Row{
		frame.CFACol:     {Rule: frame.RuleCFA, Reg: regnum.AMD64_Rsp, Offset: 16},
		regnum.AMD64_Rbx: {Rule: frame.RuleOffset, Offset: -24},
		regnum.AMD64_Rbp: {Rule: frame.RuleRegister, Reg: regnum.AMD64_R12},
		regnum.AMD64_R13: {Rule: frame.RuleValOffset, Offset: -8},
	}

	edges := rowEdges(row)
	assert.ElementsMatch(t, []Edge{
		{From: regnum.AMD64_Rsp, To: frame.CFACol, Delta: 16},
		{From: regnum.AMD64_R12, To: regnum.AMD64_Rbp},
		{From: frame.CFACol, To: regnum.AMD64_R13, Delta: -8},
	}, edges, "offset rules describe memory, not register relationships")
}

func TestPathToCFA(t *testing.T) {
	edges := []Edge{
		{From: regnum.AMD64_Rsp, To: frame.CFACol, Delta: 16},
		{From: regnum.AMD64_Rsp, To: regnum.AMD64_Rbp, Delta: -8},
	}

	delta, ok := PathToCFA(edges, regnum.AMD64_Rsp)
	require.True(t, ok)
	assert.EqualValues(t, 16, delta)

	// rbp reaches the CFA through rsp, following the rsp->rbp edge
	// backwards: cfa = rbp + 8 + 16.
	delta, ok = PathToCFA(edges, regnum.AMD64_Rbp)
	require.True(t, ok)
	assert.EqualValues(t, 24, delta)

	_, ok = PathToCFA(edges, regnum.AMD64_R15)
	assert.False(t, ok, "r15 is not connected to the cfa")
}

func TestPathToCFACycle(t *testing.T) {
	// a disconnected cycle must not loop the search forever
	edges := []Edge{
		{From: 1, To: 2, Delta: 4},
		{From: 2, To: 1, Delta: -4},
	}
	_, ok := PathToCFA(edges, 1)
	assert.False(t, ok)
}

// rewriteFDE builds an FDE over [0x1000, 0x1040) with CFA = rsp+16 and
// rbp saved in r12.
func rewriteFDE() *frame.FrameDescriptionEntry {
	cie := &frame.CommonInformationEntry{
		Version:               4,
		CodeAlignmentFactor:   1,
		DataAlignmentFactor:   1,
		ReturnAddressRegister: regnum.AMD64_Rip,
		InitialInstructions: []byte{
			0x0c, regnum.AMD64_Rsp, 0x10, // DW_CFA_def_cfa rsp+16
			0x09, regnum.AMD64_Rbp, regnum.AMD64_R12, // DW_CFA_register rbp, r12
		},
	}
	return frame.NewFrameDescriptionEntry(cie, nil, 0x1000, 0x40)
}

func TestBuildGraph(t *testing.T) {
	fdes := frame.FrameDescriptionEntries{rewriteFDE()}

	graph, err := BuildGraph([]loclist.Interval{{Low: 0x1008, High: 0x1010}}, fdes, 8, true)
	require.NoError(t, err)

	spans := graph.Spans()
	require.Len(t, spans, 1)
	assert.EqualValues(t, 0x1008, spans[0].Low, "spans clip to the interval of interest")
	assert.EqualValues(t, 0x1010, spans[0].High)

	edges := graph.EdgesAt(0x100c)
	delta, ok := PathToCFA(edges, regnum.AMD64_Rsp)
	require.True(t, ok)
	assert.EqualValues(t, 16, delta)

	assert.Nil(t, graph.EdgesAt(0x1000), "no edges outside the queried interval")
}

func TestRewriteLoclistReturnsInputUnchanged(t *testing.T) {
	fdes := frame.FrameDescriptionEntries{rewriteFDE()}

	expr, err := loclist.DecodeExpr(
		[]byte{byte(op.DW_OP_breg7), 0x08}, // rsp+8
		0x1000, 0x1040, op.Dwarf(), 8)
	require.NoError(t, err)
	l := loclist.LocList{expr}

	rewritten, err := RewriteLoclistInTermsOfCFA(l, fdes, 8, true)
	require.NoError(t, err)
	require.Len(t, rewritten, 1)
	assert.True(t, rewritten[0].Equal(l[0]), "the rewrite is traced, never committed")
}

func TestBuildGraphSkipsUncoveredRanges(t *testing.T) {
	fdes := frame.FrameDescriptionEntries{rewriteFDE()}

	graph, err := BuildGraph([]loclist.Interval{{Low: 0x0f00, High: 0x1008}}, fdes, 8, true)
	require.NoError(t, err)

	spans := graph.Spans()
	require.Len(t, spans, 1)
	assert.EqualValues(t, 0x1000, spans[0].Low)
	assert.EqualValues(t, 0x1008, spans[0].High)
}
