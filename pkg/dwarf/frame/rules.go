package frame

import (
	"fmt"
	"strings"

	"github.com/debugio/dwarfdec/pkg/dwarf/op"
	"github.com/debugio/dwarfdec/pkg/dwarf/regnum"
)

// CFACol is the reserved pseudo register number under which a row keeps
// the rule defining the canonical frame address. The CFA rule is always
// either a register+offset pair or an expression, never undefined or
// same-value.
const CFACol uint64 = 1436

// Rule classifies how a register's value in the caller frame can be
// recovered.
type Rule byte

const (
	RuleUndefined Rule = iota
	RuleSameVal
	RuleOffset        // saved at address CFA+Offset
	RuleValOffset     // value is CFA+Offset, not a memory reference
	RuleRegister      // saved in register Reg (+Offset)
	RuleExpression    // saved at the address an expression computes
	RuleValExpression // value is what an expression computes
	RuleCFA           // Reg+Offset pair defining the CFA itself
)

func (rule Rule) String() string {
	switch rule {
	case RuleUndefined:
		return "undefined"
	case RuleSameVal:
		return "same value"
	case RuleOffset:
		return "saved at cfa+offset"
	case RuleValOffset:
		return "value cfa+offset"
	case RuleRegister:
		return "saved in register"
	case RuleExpression:
		return "saved at expression"
	case RuleValExpression:
		return "value of expression"
	case RuleCFA:
		return "cfa"
	default:
		return fmt.Sprintf("rule(%d)", byte(rule))
	}
}

// DWRule is the recovery rule for one register.
type DWRule struct {
	Rule   Rule
	Reg    uint64
	Offset int64
	Expr   []op.Instr
}

// Equal compares two rules, including their decoded expressions.
func (rule DWRule) Equal(other DWRule) bool {
	if rule.Rule != other.Rule || rule.Reg != other.Reg || rule.Offset != other.Offset {
		return false
	}
	if len(rule.Expr) != len(other.Expr) {
		return false
	}
	for i := range rule.Expr {
		if !rule.Expr[i].Equal(other.Expr[i]) {
			return false
		}
	}
	return true
}

// Row is the complete register recovery rule set valid for one
// contiguous address range, keyed by DWARF register number. The CFA
// definition lives under CFACol.
type Row map[uint64]DWRule

// Rule returns the recovery rule for register reg. A register with no
// entry is undefined.
func (row Row) Rule(reg uint64) DWRule {
	if rule, ok := row[reg]; ok {
		return rule
	}
	return DWRule{Rule: RuleUndefined}
}

// CFA returns the canonical frame address definition of the row.
func (row Row) CFA() (DWRule, bool) {
	rule, ok := row[CFACol]
	return rule, ok
}

// Equal reports whether two rows define the same rules for the same
// registers.
func (row Row) Equal(other Row) bool {
	if len(row) != len(other) {
		return false
	}
	for reg, rule := range row {
		o, ok := other[reg]
		if !ok || !rule.Equal(o) {
			return false
		}
	}
	return true
}

func (row Row) clone() Row {
	cloned := make(Row, len(row))
	for reg, rule := range row {
		cloned[reg] = rule
	}
	return cloned
}

// String renders the row with System V AMD64 register names, the only
// numbering this library ships.
func (row Row) String() string {
	parts := make([]string, 0, len(row))
	for reg, rule := range row {
		name := regnum.AMD64ToName(reg)
		if reg == CFACol {
			name = "cfa"
		}
		parts = append(parts, fmt.Sprintf("%s: %s reg=%d off=%d", name, rule.Rule, rule.Reg, rule.Offset))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
