package frame

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// appendEntry writes one .debug_frame entry: length, id, then body.
func appendEntry(buf *bytes.Buffer, id uint32, body []byte) {
	binary.Write(buf, binary.LittleEndian, uint32(len(body)+4))
	binary.Write(buf, binary.LittleEndian, id)
	buf.Write(body)
}

func testDebugFrame() []byte {
	var buf bytes.Buffer

	cie := []byte{
		4,    // version
		0,    // augmentation ""
		1,    // code alignment factor
		0x78, // data alignment factor -8
		16,   // return address register
		DW_CFA_def_cfa, 0x07, 0x08,
	}
	appendEntry(&buf, 0xffffffff, cie)

	fde := make([]byte, 16, 19)
	binary.LittleEndian.PutUint64(fde[0:], 0x1000) // begin
	binary.LittleEndian.PutUint64(fde[8:], 0x40)   // size
	fde = append(fde, DW_CFA_advance_loc|4, DW_CFA_def_cfa_offset, 0x10)
	appendEntry(&buf, 0, fde)

	binary.Write(&buf, binary.LittleEndian, uint32(0)) // terminator
	return buf.Bytes()
}

func TestParse(t *testing.T) {
	fdes, err := Parse(testDebugFrame(), 0, 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(fdes) != 1 {
		t.Fatalf("expected 1 FDE, got %d", len(fdes))
	}

	fde := fdes[0]
	if fde.Begin() != 0x1000 || fde.End() != 0x1040 {
		t.Errorf("FDE covers [%#x, %#x)", fde.Begin(), fde.End())
	}
	if len(fde.Instructions) != 3 {
		t.Errorf("FDE carries %d instruction bytes", len(fde.Instructions))
	}

	cie := fde.CIE
	if cie == nil {
		t.Fatal("FDE has no CIE")
	}
	if cie.Version != 4 || cie.Augmentation != "" {
		t.Errorf("CIE version %d augmentation %q", cie.Version, cie.Augmentation)
	}
	if cie.CodeAlignmentFactor != 1 || cie.DataAlignmentFactor != -8 {
		t.Errorf("alignment factors %d, %d", cie.CodeAlignmentFactor, cie.DataAlignmentFactor)
	}
	if cie.ReturnAddressRegister != 16 {
		t.Errorf("return address register %d", cie.ReturnAddressRegister)
	}
	if len(cie.InitialInstructions) != 3 {
		t.Errorf("CIE carries %d initial instruction bytes", len(cie.InitialInstructions))
	}
}

func TestParseStaticBase(t *testing.T) {
	fdes, err := Parse(testDebugFrame(), 0x400000, 8)
	if err != nil {
		t.Fatal(err)
	}
	if fdes[0].Begin() != 0x401000 {
		t.Errorf("FDE begins at %#x, want 0x401000", fdes[0].Begin())
	}
}

func TestParseThenBuild(t *testing.T) {
	fdes, err := Parse(testDebugFrame(), 0, 8)
	if err != nil {
		t.Fatal(err)
	}
	fde, err := fdes.FDEForPC(0x1010)
	if err != nil {
		t.Fatal(err)
	}
	table := mustBuild(t, fde)
	checkCFA(t, table, 0x1000, 7, 8)
	checkCFA(t, table, 0x1010, 7, 16)
}

func TestParseTruncated(t *testing.T) {
	data := testDebugFrame()
	if _, err := Parse(data[:len(data)-6], 0, 8); err == nil {
		t.Fatal("expected an error for truncated data")
	}
}

func TestParseFDEBeforeCIE(t *testing.T) {
	var buf bytes.Buffer
	fde := make([]byte, 16)
	appendEntry(&buf, 0, fde)
	if _, err := Parse(buf.Bytes(), 0, 8); err == nil {
		t.Fatal("expected an error for an FDE with no preceding CIE")
	}
}

func TestUseHostByteOrder(t *testing.T) {
	leSection := []byte{0, 0, 0, 0, 4, 0}
	beSection := []byte{0, 0, 0, 0, 0, 4}
	hostIsLE := hostOrder() == binary.LittleEndian

	if UseHostByteOrder(leSection) != hostIsLE {
		t.Error("little endian section disagrees with the host order flag")
	}
	if UseHostByteOrder(beSection) == hostIsLE {
		t.Error("big endian section disagrees with the host order flag")
	}
}

func TestDwarfEndian(t *testing.T) {
	if e := DwarfEndian([]byte{0, 0, 0, 0, 4, 0}); e != binary.LittleEndian {
		t.Errorf("version 4 LE detected as %v", e)
	}
	if e := DwarfEndian([]byte{0, 0, 0, 0, 0, 4}); e != binary.BigEndian {
		t.Errorf("version 4 BE detected as %v", e)
	}
	if e := DwarfEndian([]byte{0, 0}); e != binary.BigEndian {
		t.Errorf("short section detected as %v", e)
	}
}
