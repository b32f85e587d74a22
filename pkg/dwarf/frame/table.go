package frame

import (
	"fmt"
	"sort"

	"github.com/debugio/dwarfdec/pkg/dwarf/op"
	"github.com/debugio/dwarfdec/pkg/logflags"
)

// RowRange is one closed row of the unwind table, valid over the half
// open address interval [Start, End).
type RowRange struct {
	Start, End uint64
	Row        Row
}

// UnwindTable maps address ranges to register recovery rows for one
// FDE. Unfinished is the row still open when the instruction stream
// ended; a subsequent interpretation pass consults it to resolve
// DW_CFA_restore.
type UnwindTable struct {
	ranges     []RowRange
	Unfinished Row
}

// Ranges returns the closed rows in ascending address order.
func (t *UnwindTable) Ranges() []RowRange {
	return t.ranges
}

// RowForPC returns the row covering pc, or false if the table has no
// coverage for that address.
func (t *UnwindTable) RowForPC(pc uint64) (Row, bool) {
	idx := sort.Search(len(t.ranges), func(i int) bool {
		return t.ranges[i].End > pc
	})
	if idx == len(t.ranges) || pc < t.ranges[idx].Start {
		return nil, false
	}
	return t.ranges[idx].Row, true
}

// insert adds a closed row over [start, end). A later insert wins on
// overlap: existing rows are trimmed around the new interval. Ranges
// from well formed programs never overlap.
func (t *UnwindTable) insert(start, end uint64, row Row) {
	merged := make([]RowRange, 0, len(t.ranges)+1)
	inserted := false
	for _, r := range t.ranges {
		if r.End <= start {
			merged = append(merged, r)
			continue
		}
		if r.Start >= end {
			if !inserted {
				merged = append(merged, RowRange{Start: start, End: end, Row: row})
				inserted = true
			}
			merged = append(merged, r)
			continue
		}
		if r.Start < start {
			merged = append(merged, RowRange{Start: r.Start, End: start, Row: r.Row})
		}
		if !inserted {
			merged = append(merged, RowRange{Start: start, End: end, Row: row})
			inserted = true
		}
		if r.End > end {
			merged = append(merged, RowRange{Start: end, End: r.End, Row: r.Row})
		}
	}
	if !inserted {
		merged = append(merged, RowRange{Start: start, End: end, Row: row})
	}
	t.ranges = merged
}

// stateStack is a stack where DW_CFA_remember_state pushes the current
// row and DW_CFA_restore_state pops it.
type stateStack struct {
	items []Row
}

func (stack *stateStack) push(row Row) {
	stack.items = append(stack.items, row)
}

func (stack *stateStack) pop() (Row, bool) {
	if len(stack.items) == 0 {
		return nil, false
	}
	restored := stack.items[len(stack.items)-1]
	stack.items = stack.items[:len(stack.items)-1]
	return restored, true
}

// tableBuilder executes one decoded call frame program, closing rows
// into table whenever the program advances its address.
type tableBuilder struct {
	table *UnwindTable
	row   Row
	loc   uint64

	// results of the CIE initial instruction pass, nil while running
	// that pass itself
	initial *UnwindTable

	cie        *CommonInformationEntry
	addrSize   int
	remembered stateStack
}

// BuildUnwindTable interprets the CIE's initial instructions followed by
// the FDE's instructions and returns the merged unwind table for the
// FDE's address range. Any decode or interpreter error poisons the whole
// table; no partial result is returned.
func (fde *FrameDescriptionEntry) BuildUnwindTable(addrSize int, useHostByteOrder bool) (*UnwindTable, error) {
	cieInstrs, err := DecodeInstructions(fde.CIE, fde.CIE.InitialInstructions, addrSize, useHostByteOrder)
	if err != nil {
		return nil, fmt.Errorf("CIE initial instructions: %v", err)
	}
	fdeInstrs, err := DecodeInstructions(fde.CIE, fde.Instructions, addrSize, useHostByteOrder)
	if err != nil {
		return nil, fmt.Errorf("FDE instructions: %v", err)
	}

	// First pass: the CIE's initial instruction program establishes the
	// rules in effect at the function's entry point.
	cb := &tableBuilder{
		table:    &UnwindTable{},
		row:      Row{},
		loc:      fde.Begin(),
		cie:      fde.CIE,
		addrSize: addrSize,
	}
	if err := cb.run(cieInstrs); err != nil {
		return nil, err
	}
	initial := cb.table
	initial.Unfinished = cb.row

	// Second pass: the FDE program, seeded with the row the CIE pass
	// left open and able to consult that pass for DW_CFA_restore.
	fb := &tableBuilder{
		table:    &UnwindTable{},
		row:      initial.Unfinished.clone(),
		loc:      cb.loc,
		initial:  initial,
		cie:      fde.CIE,
		addrSize: addrSize,
	}
	if err := fb.run(fdeInstrs); err != nil {
		return nil, err
	}

	// Close the final row at the FDE's own upper bound.
	if len(fb.row) > 0 {
		if fde.End() <= fb.loc {
			return nil, fmt.Errorf("FDE end %#x does not lie past last row address %#x", fde.End(), fb.loc)
		}
		fb.table.insert(fb.loc, fde.End(), fb.row.clone())
	}

	// Merge the two passes, FDE rows taking precedence on overlap.
	merged := &UnwindTable{}
	for _, r := range initial.ranges {
		merged.insert(r.Start, r.End, r.Row)
	}
	for _, r := range fb.table.ranges {
		merged.insert(r.Start, r.End, r.Row)
	}
	return merged, nil
}

func (b *tableBuilder) run(instrs []Instruction) error {
	logger := logflags.FrameLogger()
	for i := range instrs {
		instr := &instrs[i]
		if logflags.Frame() {
			logger.Debugf("interpreting %s at %#x", instr, b.loc)
		}
		if err := b.step(instr); err != nil {
			return err
		}
	}
	return nil
}

func (b *tableBuilder) step(instr *Instruction) error {
	switch instr.Opcode() {
	// row creation
	case DW_CFA_set_loc:
		return b.closeRow(uint64(instr.Offset) + b.cie.staticBase)
	case DW_CFA_advance_loc, DW_CFA_advance_loc1, DW_CFA_advance_loc2, DW_CFA_advance_loc4:
		return b.closeRow(b.loc + uint64(instr.Offset))

	// CFA definition
	case DW_CFA_def_cfa, DW_CFA_def_cfa_sf:
		b.row[CFACol] = DWRule{Rule: RuleCFA, Reg: instr.Reg, Offset: instr.Offset}
	case DW_CFA_def_cfa_register:
		cfa, err := b.cfaRegOffset(instr)
		if err != nil {
			return err
		}
		cfa.Reg = instr.Reg
		b.row[CFACol] = cfa
	case DW_CFA_def_cfa_offset, DW_CFA_def_cfa_offset_sf:
		cfa, err := b.cfaRegOffset(instr)
		if err != nil {
			return err
		}
		cfa.Offset = instr.Offset
		b.row[CFACol] = cfa
	case DW_CFA_def_cfa_expression:
		expr, err := b.decodeExpr(instr)
		if err != nil {
			return err
		}
		b.row[CFACol] = DWRule{Rule: RuleExpression, Expr: expr}

	// register rules
	case DW_CFA_undefined:
		b.row[instr.Reg] = DWRule{Rule: RuleUndefined}
	case DW_CFA_same_value:
		b.row[instr.Reg] = DWRule{Rule: RuleSameVal}
	case DW_CFA_offset, DW_CFA_offset_extended, DW_CFA_offset_extended_sf:
		b.row[instr.Reg] = DWRule{Rule: RuleOffset, Offset: instr.Offset}
	case DW_CFA_val_offset, DW_CFA_val_offset_sf:
		b.row[instr.Reg] = DWRule{Rule: RuleValOffset, Offset: instr.Offset}
	case DW_CFA_register:
		// The decoder leaves the second register in the offset field.
		b.row[instr.Reg] = DWRule{Rule: RuleRegister, Reg: uint64(instr.Offset)}
	case DW_CFA_expression:
		expr, err := b.decodeExpr(instr)
		if err != nil {
			return err
		}
		b.row[instr.Reg] = DWRule{Rule: RuleExpression, Expr: expr}
	case DW_CFA_val_expression:
		expr, err := b.decodeExpr(instr)
		if err != nil {
			return err
		}
		b.row[instr.Reg] = DWRule{Rule: RuleValExpression, Expr: expr}
	case DW_CFA_restore, DW_CFA_restore_extended:
		b.restoreRule(instr.Reg)

	// row state
	case DW_CFA_remember_state:
		b.remembered.push(b.row.clone())
	case DW_CFA_restore_state:
		row, ok := b.remembered.pop()
		if !ok {
			return fmt.Errorf("DW_CFA_restore_state at offset %d with no remembered state", instr.InstrOff)
		}
		b.row = row

	case DW_CFA_nop:

	default:
		return fmt.Errorf("unsupported CFA opcode %#x at offset %d", instr.Opcode(), instr.InstrOff)
	}
	return nil
}

// closeRow inserts the current row over [b.loc, newLoc) and opens the
// next row at newLoc. The rule set carries over; address advances must
// be strictly monotonic.
func (b *tableBuilder) closeRow(newLoc uint64) error {
	if newLoc <= b.loc {
		return fmt.Errorf("row address %#x does not advance past %#x", newLoc, b.loc)
	}
	b.table.insert(b.loc, newLoc, b.row.clone())
	b.loc = newLoc
	return nil
}

// cfaRegOffset returns the current CFA rule, which must already be a
// register+offset definition for the instructions that modify one half
// of it.
func (b *tableBuilder) cfaRegOffset(instr *Instruction) (DWRule, error) {
	cfa, ok := b.row[CFACol]
	if !ok || cfa.Rule != RuleCFA {
		return DWRule{}, fmt.Errorf("%s at offset %d requires a register+offset CFA definition", instr, instr.InstrOff)
	}
	return cfa, nil
}

func (b *tableBuilder) decodeExpr(instr *Instruction) ([]op.Instr, error) {
	expr, err := op.Decode(instr.ExprBlock, op.Dwarf(), b.addrSize)
	if err != nil {
		return nil, fmt.Errorf("embedded expression at offset %d: %v", instr.InstrOff, err)
	}
	return expr, nil
}

// restoreRule resets a register to the definition the CIE's initial
// instructions established: first the row that pass left open, then the
// row it closed over the current address. A register defined in neither
// becomes undefined.
func (b *tableBuilder) restoreRule(reg uint64) {
	if b.initial != nil {
		if rule, ok := b.initial.Unfinished[reg]; ok {
			b.row[reg] = rule
			return
		}
		if row, ok := b.initial.RowForPC(b.loc); ok {
			if rule, ok := row[reg]; ok {
				b.row[reg] = rule
				return
			}
		}
	}
	b.row[reg] = DWRule{Rule: RuleUndefined}
}
