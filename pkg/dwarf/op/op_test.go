package op

import (
	"bytes"
	"testing"

	"github.com/debugio/dwarfdec/pkg/dwarf/leb128"
)

func TestDecode(t *testing.T) {
	// DW_OP_fbreg -28; DW_OP_plus_uconst 8; DW_OP_plus
	var instructions bytes.Buffer
	instructions.WriteByte(byte(DW_OP_fbreg))
	leb128.EncodeSigned(&instructions, -28)
	instructions.WriteByte(byte(DW_OP_plus_uconst))
	leb128.EncodeUnsigned(&instructions, 8)
	instructions.WriteByte(byte(DW_OP_plus))

	instrs, err := Decode(instructions.Bytes(), Dwarf(), 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(instrs) != 3 {
		t.Fatalf("expected 3 instructions, got %d", len(instrs))
	}
	if instrs[0].Op != DW_OP_fbreg || int64(instrs[0].Arg1) != -28 {
		t.Errorf("instruction 0: %s", instrs[0])
	}
	if instrs[1].Op != DW_OP_plus_uconst || instrs[1].Arg1 != 8 {
		t.Errorf("instruction 1: %s", instrs[1])
	}
	if instrs[2].Op != DW_OP_plus {
		t.Errorf("instruction 2: %s", instrs[2])
	}
}

func TestDecodeTwoOperands(t *testing.T) {
	var instructions bytes.Buffer
	instructions.WriteByte(byte(DW_OP_bregx))
	leb128.EncodeUnsigned(&instructions, 7)
	leb128.EncodeSigned(&instructions, -16)

	instrs, err := Decode(instructions.Bytes(), Dwarf(), 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(instrs) != 1 {
		t.Fatalf("expected 1 instruction, got %d", len(instrs))
	}
	if instrs[0].Arg1 != 7 || int64(instrs[0].Arg2) != -16 {
		t.Errorf("got %s", instrs[0])
	}
}

func TestDecodeOffsets(t *testing.T) {
	// Fixed width operands: offsets advance by the form encoded size.
	instructions := []byte{
		byte(DW_OP_addr), 0x00, 0x10, 0, 0, 0, 0, 0, 0, // 1+8 bytes
		byte(DW_OP_deref),             // 1 byte
		byte(DW_OP_const2u), 0x2, 0x1, // 1+2 bytes
		byte(DW_OP_plus),
	}
	instrs, err := Decode(instructions, Dwarf(), 8)
	if err != nil {
		t.Fatal(err)
	}
	wantOffsets := []uint64{0, 9, 10, 13}
	if len(instrs) != len(wantOffsets) {
		t.Fatalf("expected %d instructions, got %d", len(wantOffsets), len(instrs))
	}
	for i := range instrs {
		if instrs[i].Offset != wantOffsets[i] {
			t.Errorf("instruction %d: offset %d want %d", i, instrs[i].Offset, wantOffsets[i])
		}
	}
	if instrs[0].Arg1 != 0x1000 {
		t.Errorf("DW_OP_addr operand: %#x", instrs[0].Arg1)
	}
	if instrs[2].Arg1 != 0x102 {
		t.Errorf("DW_OP_const2u operand: %#x", instrs[2].Arg1)
	}
}

func TestDecodeUnknownOpcode(t *testing.T) {
	if _, err := Decode([]byte{0x02}, Dwarf(), 8); err == nil {
		t.Fatal("expected decode error for unknown opcode")
	}
}

func TestDecodeTruncatedOperand(t *testing.T) {
	if _, err := Decode([]byte{byte(DW_OP_const4u), 0x01}, Dwarf(), 8); err == nil {
		t.Fatal("expected out of bounds error")
	}
}

func TestInstrEqualIgnoresOffset(t *testing.T) {
	a := Instr{Op: DW_OP_fbreg, Arg1: 12, Offset: 0}
	b := Instr{Op: DW_OP_fbreg, Arg1: 12, Offset: 40}
	if !a.Equal(b) {
		t.Error("equality must ignore the instruction offset")
	}
	c := Instr{Op: DW_OP_fbreg, Arg1: 13}
	if a.Equal(c) {
		t.Error("operands must participate in equality")
	}
}
