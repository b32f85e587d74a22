package frame

import (
	"testing"
)

// testFDE builds an FDE over [0x1000, 0x1040) whose CIE establishes
// CFA = r7+8 and saves the return address register at cfa-8.
func testFDE(instructions []byte) *FrameDescriptionEntry {
	cie := testCIE(-8)
	cie.InitialInstructions = []byte{
		DW_CFA_def_cfa, 0x07, 0x08,
		DW_CFA_offset | 16, 0x01,
	}
	return &FrameDescriptionEntry{
		CIE:          cie,
		Instructions: instructions,
		begin:        0x1000,
		size:         0x40,
	}
}

func mustBuild(t *testing.T, fde *FrameDescriptionEntry) *UnwindTable {
	t.Helper()
	table, err := fde.BuildUnwindTable(8, true)
	if err != nil {
		t.Fatal(err)
	}
	return table
}

func checkCFA(t *testing.T, table *UnwindTable, pc uint64, reg uint64, offset int64) {
	t.Helper()
	row, ok := table.RowForPC(pc)
	if !ok {
		t.Fatalf("no row for pc %#x", pc)
	}
	cfa, ok := row.CFA()
	if !ok || cfa.Rule != RuleCFA {
		t.Fatalf("no CFA definition at pc %#x: %s", pc, row)
	}
	if cfa.Reg != reg || cfa.Offset != offset {
		t.Errorf("CFA at %#x is r%d%+d, want r%d%+d", pc, cfa.Reg, cfa.Offset, reg, offset)
	}
}

func TestBuildUnwindTable(t *testing.T) {
	table := mustBuild(t, testFDE([]byte{
		DW_CFA_advance_loc | 4,
		DW_CFA_def_cfa_offset, 0x10,
		DW_CFA_advance_loc | 4,
		DW_CFA_def_cfa_register, 0x06,
	}))

	checkCFA(t, table, 0x1000, 7, 8)
	checkCFA(t, table, 0x1003, 7, 8) // last pc of the first row
	checkCFA(t, table, 0x1004, 7, 16)
	checkCFA(t, table, 0x1008, 6, 16)
	checkCFA(t, table, 0x103f, 6, 16) // final row closes at the FDE end

	// The return address rule established by the CIE carries through
	// every row.
	for _, pc := range []uint64{0x1000, 0x1004, 0x1008} {
		row, _ := table.RowForPC(pc)
		rule := row.Rule(16)
		if rule.Rule != RuleOffset || rule.Offset != -8 {
			t.Errorf("r16 at %#x: %s offset %d", pc, rule.Rule, rule.Offset)
		}
	}

	if _, ok := table.RowForPC(0x0fff); ok {
		t.Error("found a row before the FDE begins")
	}
	if _, ok := table.RowForPC(0x1040); ok {
		t.Error("found a row at the FDE end")
	}
}

func TestBuildUnwindTableRangesContiguous(t *testing.T) {
	table := mustBuild(t, testFDE([]byte{
		DW_CFA_advance_loc | 1,
		DW_CFA_def_cfa_offset, 0x10,
		DW_CFA_advance_loc | 8,
		DW_CFA_def_cfa_offset, 0x20,
	}))

	ranges := table.Ranges()
	if len(ranges) == 0 {
		t.Fatal("empty table")
	}
	if ranges[0].Start != 0x1000 {
		t.Errorf("table starts at %#x", ranges[0].Start)
	}
	if end := ranges[len(ranges)-1].End; end != 0x1040 {
		t.Errorf("table ends at %#x", end)
	}
	for i := 1; i < len(ranges); i++ {
		if ranges[i].Start != ranges[i-1].End {
			t.Errorf("gap between ranges %d and %d: [%#x %#x) [%#x %#x)",
				i-1, i, ranges[i-1].Start, ranges[i-1].End, ranges[i].Start, ranges[i].End)
		}
	}
}

func TestRestoreUsesInitialRules(t *testing.T) {
	table := mustBuild(t, testFDE([]byte{
		DW_CFA_advance_loc | 4,
		DW_CFA_offset | 16, 0x03, // override the CIE's rule for r16
		DW_CFA_advance_loc | 4,
		DW_CFA_restore | 16,
	}))

	row, _ := table.RowForPC(0x1004)
	if rule := row.Rule(16); rule.Offset != -24 {
		t.Errorf("overridden r16 offset is %d, want -24", rule.Offset)
	}

	row, _ = table.RowForPC(0x1008)
	rule := row.Rule(16)
	if rule.Rule != RuleOffset || rule.Offset != -8 {
		t.Errorf("restored r16 is %s offset %d, want the CIE's cfa-8", rule.Rule, rule.Offset)
	}
}

func TestRestoreSameValueRule(t *testing.T) {
	fde := testFDE([]byte{
		DW_CFA_offset | 6, 0x02,
		DW_CFA_advance_loc | 4,
		DW_CFA_restore | 6,
	})
	fde.CIE.InitialInstructions = []byte{
		DW_CFA_def_cfa, 0x07, 0x08,
		DW_CFA_same_value, 0x06,
	}
	table := mustBuild(t, fde)

	row, _ := table.RowForPC(0x1000)
	if rule := row.Rule(6); rule.Rule != RuleOffset {
		t.Errorf("redefined r6 is %s before the restore", rule.Rule)
	}
	row, _ = table.RowForPC(0x1004)
	if rule := row.Rule(6); rule.Rule != RuleSameVal {
		t.Errorf("restored r6 is %s, want same value", rule.Rule)
	}
}

func TestSingleRowTable(t *testing.T) {
	fde := testFDE(nil)
	fde.CIE.InitialInstructions = []byte{DW_CFA_def_cfa, 0x07, 0x10}

	table := mustBuild(t, fde)
	ranges := table.Ranges()
	if len(ranges) != 1 {
		t.Fatalf("expected a single interval, got %d", len(ranges))
	}
	if ranges[0].Start != 0x1000 || ranges[0].End != 0x1040 {
		t.Errorf("interval is [%#x, %#x)", ranges[0].Start, ranges[0].End)
	}
	checkCFA(t, table, 0x1020, 7, 16)
}

func TestRestoreUndefinedRegister(t *testing.T) {
	// r5 has no rule in the CIE, restoring it makes it undefined.
	table := mustBuild(t, testFDE([]byte{
		DW_CFA_offset | 5, 0x02,
		DW_CFA_advance_loc | 4,
		DW_CFA_restore | 5,
	}))

	row, _ := table.RowForPC(0x1004)
	if rule := row.Rule(5); rule.Rule != RuleUndefined {
		t.Errorf("restored r5 is %s, want undefined", rule.Rule)
	}
}

func TestRememberRestoreState(t *testing.T) {
	table := mustBuild(t, testFDE([]byte{
		DW_CFA_remember_state,
		DW_CFA_advance_loc | 4,
		DW_CFA_def_cfa, 0x06, 0x20,
		DW_CFA_offset | 12, 0x04,
		DW_CFA_advance_loc | 4,
		DW_CFA_restore_state,
	}))

	before, _ := table.RowForPC(0x1000)
	during, _ := table.RowForPC(0x1004)
	after, _ := table.RowForPC(0x1008)

	if before.Equal(during) {
		t.Error("rows before and during the modified region should differ")
	}
	if !before.Equal(after) {
		t.Errorf("restore_state did not bring back the remembered row:\nbefore %s\nafter  %s", before, after)
	}
}

func TestRestoreStateWithoutRemember(t *testing.T) {
	_, err := testFDE([]byte{DW_CFA_restore_state}).BuildUnwindTable(8, true)
	if err == nil {
		t.Fatal("expected an error for restore_state with an empty state stack")
	}
}

func TestNonMonotonicAdvance(t *testing.T) {
	raw := make([]byte, 9)
	raw[0] = DW_CFA_set_loc
	hostOrder().PutUint64(raw[1:], 0x0800) // before the FDE begin
	if _, err := testFDE(raw).BuildUnwindTable(8, true); err == nil {
		t.Fatal("expected an error for a backwards set_loc")
	}
}

func TestAdvancePastFDEEnd(t *testing.T) {
	_, err := testFDE([]byte{DW_CFA_advance_loc1, 0x40}).BuildUnwindTable(8, true)
	if err == nil {
		t.Fatal("expected an error when the last row opens at the FDE end")
	}
}

func TestDefCFARegisterRequiresDefinition(t *testing.T) {
	fde := testFDE([]byte{DW_CFA_def_cfa_register, 0x06})
	fde.CIE.InitialInstructions = nil
	if _, err := fde.BuildUnwindTable(8, true); err == nil {
		t.Fatal("expected an error for def_cfa_register without a CFA definition")
	}
}

func TestCFAExpressionRule(t *testing.T) {
	table := mustBuild(t, testFDE([]byte{
		DW_CFA_def_cfa_expression, 0x02, 0x77, 0x10, // breg7 16
	}))

	row, _ := table.RowForPC(0x1000)
	cfa, ok := row.CFA()
	if !ok || cfa.Rule != RuleExpression {
		t.Fatalf("CFA rule is %s", cfa.Rule)
	}
	if len(cfa.Expr) != 1 {
		t.Fatalf("decoded expression has %d instructions", len(cfa.Expr))
	}
}

func TestRowForPCBinarySearch(t *testing.T) {
	var table UnwindTable
	table.insert(0x10, 0x20, Row{1: {Rule: RuleSameVal}})
	table.insert(0x20, 0x30, Row{2: {Rule: RuleSameVal}})
	table.insert(0x40, 0x50, Row{3: {Rule: RuleSameVal}})

	for _, tc := range []struct {
		pc  uint64
		reg uint64
		ok  bool
	}{
		{0x0f, 0, false},
		{0x10, 1, true},
		{0x1f, 1, true},
		{0x20, 2, true},
		{0x30, 0, false}, // gap
		{0x3f, 0, false},
		{0x40, 3, true},
		{0x4f, 3, true},
		{0x50, 0, false},
	} {
		row, ok := table.RowForPC(tc.pc)
		if ok != tc.ok {
			t.Errorf("RowForPC(%#x) ok = %v, want %v", tc.pc, ok, tc.ok)
			continue
		}
		if ok {
			if _, present := row[tc.reg]; !present {
				t.Errorf("RowForPC(%#x) returned the wrong row: %s", tc.pc, row)
			}
		}
	}
}

func TestInsertOverride(t *testing.T) {
	var table UnwindTable
	table.insert(0x00, 0x30, Row{1: {Rule: RuleSameVal}})
	table.insert(0x10, 0x20, Row{2: {Rule: RuleSameVal}})

	ranges := table.Ranges()
	if len(ranges) != 3 {
		t.Fatalf("expected 3 ranges after an overriding insert, got %d", len(ranges))
	}
	mid, _ := table.RowForPC(0x18)
	if _, ok := mid[2]; !ok {
		t.Error("the later insert should win in the overlapped interval")
	}
	left, _ := table.RowForPC(0x08)
	right, _ := table.RowForPC(0x28)
	if _, ok := left[1]; !ok {
		t.Error("left remainder lost")
	}
	if _, ok := right[1]; !ok {
		t.Error("right remainder lost")
	}
}
