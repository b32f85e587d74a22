// Package op decodes DWARF location expressions into structured
// instruction sequences.
//
// An expression is a sequence of one byte opcodes each followed by zero,
// one or two operands. The operand count and the operand encoding forms
// come from a format specification, so the decoder works for any DWARF
// revision whose opcode table is supplied as a Spec.
package op

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/debugio/dwarfdec/pkg/dwarf/dwbuf"
)

// Opcode represents a DWARF expression instruction opcode.
type Opcode byte

// Spec describes the operand layout of every opcode a DWARF revision
// defines. OperandCount reports how many operands an opcode carries and
// whether the opcode exists at all; OperandForms returns the encoding
// form of each operand, with length matching the operand count.
type Spec interface {
	OperandCount(op Opcode) (int, bool)
	OperandForms(op Opcode) []Form
}

// Instr is a single decoded expression instruction. Arg1 and Arg2 hold
// the raw operand values; Offset is the byte offset at which the
// instruction starts within its enclosing expression, which matters
// because branch opcodes name their targets as byte offsets.
type Instr struct {
	Op     Opcode
	Arg1   uint64
	Arg2   uint64
	Offset uint64
}

// Equal reports whether two instructions have the same opcode and
// operands. The offset is bookkeeping, not identity.
func (instr Instr) Equal(other Instr) bool {
	return instr.Op == other.Op &&
		instr.Arg1 == other.Arg1 &&
		instr.Arg2 == other.Arg2
}

func (instr Instr) String() string {
	name, ok := opcodeName[instr.Op]
	if !ok {
		name = fmt.Sprintf("%#x", byte(instr.Op))
	}
	return fmt.Sprintf("<%s: %#x %#x, off %d>", name, instr.Arg1, instr.Arg2, instr.Offset)
}

// dwarfSpec is the built-in DWARF v3/v4 opcode table.
type dwarfSpec struct{}

// Dwarf returns the format specification for the DWARF v3/v4 expression
// opcode set.
func Dwarf() Spec { return dwarfSpec{} }

func (dwarfSpec) OperandCount(op Opcode) (int, bool) {
	forms, ok := opcodeForms[op]
	if !ok {
		return 0, false
	}
	return len(forms), true
}

func (dwarfSpec) OperandForms(op Opcode) []Form {
	return opcodeForms[op]
}

// Decode turns raw expression bytes into an instruction sequence using
// the opcode table of spec. ptrSize is the size in bytes of a target
// address. An opcode unknown to spec is a fatal decode error.
func Decode(data []byte, spec Spec, ptrSize int) ([]Instr, error) {
	var (
		buf        = dwbuf.New("expression", data)
		instrs     = make([]Instr, 0, 4)
		nextOffset uint64
	)

	for buf.Len() > 0 {
		instr := Instr{Offset: nextOffset}
		instr.Op = Opcode(buf.Uint8())
		nextOffset++

		count, ok := spec.OperandCount(instr.Op)
		if !ok {
			return nil, fmt.Errorf("invalid instruction %#v at offset %d", byte(instr.Op), instr.Offset)
		}

		forms := spec.OperandForms(instr.Op)
		if len(forms) != count {
			return nil, fmt.Errorf("operand form list of %#v does not match its operand count", byte(instr.Op))
		}
		for i := 0; i < count; i++ {
			val, err := readOperand(buf, forms[i], ptrSize)
			if err != nil {
				return nil, err
			}
			if i == 0 {
				instr.Arg1 = val
			} else {
				instr.Arg2 = val
			}
			nextOffset += uint64(forms[i].EncodedSize(ptrSize))
		}
		if err := buf.Err(); err != nil {
			return nil, err
		}

		instrs = append(instrs, instr)
	}

	return instrs, nil
}

// readOperand consumes one operand of form f, returning its raw value.
// Fixed width operands read little endian; variable length operands read
// as LEB128. The value is not otherwise interpreted.
func readOperand(buf *dwbuf.Buf, f Form, ptrSize int) (uint64, error) {
	switch f {
	case FormAddr, FormStrp, FormRefAddr:
		switch ptrSize {
		case 4:
			return uint64(buf.Uint32(binary.LittleEndian)), nil
		case 8:
			return buf.Uint64(binary.LittleEndian), nil
		default:
			panic("bad address size")
		}
	case FormData1, FormBlock1, FormRef1, FormFlag:
		return uint64(buf.Uint8()), nil
	case FormData2, FormBlock2, FormRef2:
		return uint64(buf.Uint16(binary.LittleEndian)), nil
	case FormData4, FormBlock4, FormRef4:
		return uint64(buf.Uint32(binary.LittleEndian)), nil
	case FormData8, FormRef8:
		return buf.Uint64(binary.LittleEndian), nil
	case FormSdata:
		return uint64(buf.Int()), nil
	case FormString, FormBlock, FormUdata, FormRefUdata, FormIndirect:
		return buf.Uint(), nil
	default:
		return 0, fmt.Errorf("unsupported operand form %#v", uint8(f))
	}
}

// PrettyPrint writes a human readable rendering of raw expression bytes
// to out, one instruction per line.
func PrettyPrint(out io.Writer, data []byte, ptrSize int) {
	instrs, err := Decode(data, Dwarf(), ptrSize)
	if err != nil {
		fmt.Fprintf(out, "! %v", err)
		return
	}
	for i, instr := range instrs {
		if i > 0 {
			io.WriteString(out, " ")
		}
		io.WriteString(out, instr.String())
	}
}
