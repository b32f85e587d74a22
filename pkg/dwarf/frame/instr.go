package frame

import (
	"bytes"
	"fmt"

	"github.com/debugio/dwarfdec/pkg/dwarf/dwbuf"
	"github.com/debugio/dwarfdec/pkg/dwarf/op"
)

// Call frame instruction opcodes, DWARF v4 section 7.23. The top two
// bits of the opcode byte select advance_loc, offset or restore, which
// carry an operand packed into the low six bits; a zero high pair means
// the low six bits hold one of the extended opcodes below.
const (
	DW_CFA_nop                = 0x0        // No ops
	DW_CFA_set_loc            = 0x01       // op1: address
	DW_CFA_advance_loc1       = iota       // op1: 1-byte delta
	DW_CFA_advance_loc2                    // op1: 2-byte delta
	DW_CFA_advance_loc4                    // op1: 4-byte delta
	DW_CFA_offset_extended                 // op1: ULEB128 register, op2: ULEB128 offset
	DW_CFA_restore_extended                // op1: ULEB128 register
	DW_CFA_undefined                       // op1: ULEB128 register
	DW_CFA_same_value                      // op1: ULEB128 register
	DW_CFA_register                        // op1: ULEB128 register, op2: ULEB128 register
	DW_CFA_remember_state                  // No ops
	DW_CFA_restore_state                   // No ops
	DW_CFA_def_cfa                         // op1: ULEB128 register, op2: ULEB128 offset
	DW_CFA_def_cfa_register                // op1: ULEB128 register
	DW_CFA_def_cfa_offset                  // op1: ULEB128 offset
	DW_CFA_def_cfa_expression              // op1: BLOCK
	DW_CFA_expression                      // op1: ULEB128 register, op2: BLOCK
	DW_CFA_offset_extended_sf              // op1: ULEB128 register, op2: SLEB128 offset
	DW_CFA_def_cfa_sf                      // op1: ULEB128 register, op2: SLEB128 offset
	DW_CFA_def_cfa_offset_sf               // op1: SLEB128 offset
	DW_CFA_val_offset                      // op1: ULEB128, op2: SLEB128
	DW_CFA_val_offset_sf                   // op1: ULEB128, op2: ULEB128
	DW_CFA_val_expression                  // op1: ULEB128, op2: BLOCK
	DW_CFA_lo_user            = 0x1c       // op1: BLOCK
	DW_CFA_hi_user            = 0x3f       // op1: ULEB128 register, op2: BLOCK
	DW_CFA_advance_loc        = (0x1 << 6) // High 2 bits: 0x1, low 6: delta
	DW_CFA_offset             = (0x2 << 6) // High 2 bits: 0x2, low 6: register
	DW_CFA_restore            = (0x3 << 6) // High 2 bits: 0x3, low 6: register
)

const low_6_offset = 0x3f

var cfaOpcodeName = map[byte]string{
	DW_CFA_nop:                "DW_CFA_nop",
	DW_CFA_set_loc:            "DW_CFA_set_loc",
	DW_CFA_advance_loc1:       "DW_CFA_advance_loc1",
	DW_CFA_advance_loc2:       "DW_CFA_advance_loc2",
	DW_CFA_advance_loc4:       "DW_CFA_advance_loc4",
	DW_CFA_offset_extended:    "DW_CFA_offset_extended",
	DW_CFA_restore_extended:   "DW_CFA_restore_extended",
	DW_CFA_undefined:          "DW_CFA_undefined",
	DW_CFA_same_value:         "DW_CFA_same_value",
	DW_CFA_register:           "DW_CFA_register",
	DW_CFA_remember_state:     "DW_CFA_remember_state",
	DW_CFA_restore_state:      "DW_CFA_restore_state",
	DW_CFA_def_cfa:            "DW_CFA_def_cfa",
	DW_CFA_def_cfa_register:   "DW_CFA_def_cfa_register",
	DW_CFA_def_cfa_offset:     "DW_CFA_def_cfa_offset",
	DW_CFA_def_cfa_expression: "DW_CFA_def_cfa_expression",
	DW_CFA_expression:         "DW_CFA_expression",
	DW_CFA_offset_extended_sf: "DW_CFA_offset_extended_sf",
	DW_CFA_def_cfa_sf:         "DW_CFA_def_cfa_sf",
	DW_CFA_def_cfa_offset_sf:  "DW_CFA_def_cfa_offset_sf",
	DW_CFA_val_offset:         "DW_CFA_val_offset",
	DW_CFA_val_offset_sf:      "DW_CFA_val_offset_sf",
	DW_CFA_val_expression:     "DW_CFA_val_expression",
	DW_CFA_advance_loc:        "DW_CFA_advance_loc",
	DW_CFA_offset:             "DW_CFA_offset",
	DW_CFA_restore:            "DW_CFA_restore",
}

// Instruction is one decoded call frame instruction. Offset carries the
// address delta, the data-alignment scaled register offset or the
// embedded expression block length depending on the opcode; for
// DW_CFA_register it carries the second register number.
type Instruction struct {
	BaseOp     byte
	ExtendedOp byte
	Reg        uint64
	Offset     int64
	ExprBlock  []byte
	InstrOff   int
}

// Opcode returns the canonical opcode value: the packed base opcode for
// the three packed-operand instructions, the extended opcode otherwise.
func (instr *Instruction) Opcode() byte {
	return instr.BaseOp<<6 | instr.ExtendedOp
}

func (instr *Instruction) String() string {
	name, ok := cfaOpcodeName[instr.Opcode()]
	if !ok {
		name = fmt.Sprintf("%#x", instr.Opcode())
	}
	s := fmt.Sprintf("<%s: reg %d, offset/blklen %d", name, instr.Reg, instr.Offset)
	if instr.ExprBlock != nil && instr.Offset > 0 {
		var expr bytes.Buffer
		op.PrettyPrint(&expr, instr.ExprBlock, 8)
		s += ", expr " + expr.String()
	}
	return s + fmt.Sprintf(", instroff %d>", instr.InstrOff)
}

// DecodeInstructions turns the raw instruction bytes of a CIE's initial
// program or an FDE's program into a structured instruction sequence.
// The CIE supplies the data alignment factor applied to scaled offsets
// at decode time. Embedded expression blocks are captured as raw byte
// slices; decoding them is deferred to interpretation.
func DecodeInstructions(cie *CommonInformationEntry, instrs []byte, addrSize int, useHostByteOrder bool) ([]Instruction, error) {
	var (
		buf     = dwbuf.New("cfa program", instrs)
		order   = dwbuf.Order(useHostByteOrder)
		daf     = cie.DataAlignmentFactor
		decoded = make([]Instruction, 0, 8)
	)

	for buf.Len() > 0 {
		instr := Instruction{InstrOff: buf.Off()}

		opcodeByte := buf.Uint8()
		instr.BaseOp = opcodeByte >> 6
		if instr.BaseOp == 0 {
			instr.ExtendedOp = opcodeByte & low_6_offset
		}

		switch instr.Opcode() {
		// Packed operand opcodes: the argument rides in the low six
		// bits of the opcode byte itself.
		case DW_CFA_advance_loc:
			instr.Offset = int64(opcodeByte & low_6_offset)
		case DW_CFA_offset:
			instr.Reg = uint64(opcodeByte & low_6_offset)
			instr.Offset = int64(buf.Uint()) * daf
		case DW_CFA_restore:
			instr.Reg = uint64(opcodeByte & low_6_offset)

		case DW_CFA_nop, DW_CFA_remember_state, DW_CFA_restore_state:

		case DW_CFA_set_loc:
			instr.Offset = int64(buf.Addr(addrSize, useHostByteOrder))
		case DW_CFA_advance_loc1:
			instr.Offset = int64(buf.Uint8())
		case DW_CFA_advance_loc2:
			instr.Offset = int64(buf.Uint16(order))
		case DW_CFA_advance_loc4:
			instr.Offset = int64(buf.Uint32(order))

		case DW_CFA_restore_extended, DW_CFA_undefined, DW_CFA_same_value, DW_CFA_def_cfa_register:
			instr.Reg = buf.Uint()

		case DW_CFA_offset_extended, DW_CFA_register:
			// For DW_CFA_register the second register number rides in
			// the offset field.
			instr.Reg = buf.Uint()
			instr.Offset = int64(buf.Uint()) * daf

		case DW_CFA_def_cfa:
			instr.Reg = buf.Uint()
			instr.Offset = int64(buf.Uint())

		case DW_CFA_offset_extended_sf, DW_CFA_def_cfa_sf:
			instr.Reg = buf.Uint()
			instr.Offset = buf.Int() * daf

		case DW_CFA_def_cfa_offset:
			instr.Offset = int64(buf.Uint())

		case DW_CFA_def_cfa_offset_sf:
			instr.Offset = buf.Int() * daf

		case DW_CFA_expression, DW_CFA_val_expression:
			instr.Reg = buf.Uint()
			instr.Offset = int64(buf.Uint())
			instr.ExprBlock = buf.Bytes(int(instr.Offset))

		case DW_CFA_def_cfa_expression:
			instr.Offset = int64(buf.Uint())
			instr.ExprBlock = buf.Bytes(int(instr.Offset))

		// val_offset reads a signed operand and val_offset_sf an
		// unsigned one, inverted relative to their names, matching
		// what existing producers emit.
		case DW_CFA_val_offset:
			instr.Reg = buf.Uint()
			instr.Offset = buf.Int() * daf

		case DW_CFA_val_offset_sf:
			instr.Reg = buf.Uint()
			instr.Offset = int64(buf.Uint()) * daf

		default:
			return nil, fmt.Errorf("unknown CFA opcode %#x at offset %d", opcodeByte, instr.InstrOff)
		}

		if err := buf.Err(); err != nil {
			return nil, err
		}
		decoded = append(decoded, instr)
	}

	return decoded, nil
}
