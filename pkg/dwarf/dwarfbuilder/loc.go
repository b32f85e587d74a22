// Package dwarfbuilder synthesizes fragments of DWARF debug sections,
// mainly for tests that need well formed .debug_loc or .debug_frame
// bytes without a compiled binary.
package dwarfbuilder

import (
	"bytes"
	"encoding/binary"

	"github.com/debugio/dwarfdec/pkg/dwarf/leb128"
	"github.com/debugio/dwarfdec/pkg/dwarf/op"
)

// LocEntry represents one entry of debug_loc.
type LocEntry struct {
	Lowpc  uint64
	Highpc uint64
	Loc    []byte
}

// LocationBlock returns a DWARF expression corresponding to the list of
// arguments: op.Opcode values are emitted as opcode bytes, int values
// as SLEB128 operands and uint values as ULEB128 operands.
func LocationBlock(args ...interface{}) []byte {
	var buf bytes.Buffer
	for _, arg := range args {
		switch x := arg.(type) {
		case op.Opcode:
			buf.WriteByte(byte(x))
		case int:
			leb128.EncodeSigned(&buf, int64(x))
		case uint:
			leb128.EncodeUnsigned(&buf, uint64(x))
		default:
			panic("unsupported value type")
		}
	}
	return buf.Bytes()
}

// LocSection accumulates .debug_loc location list entries, little
// endian with 8 byte addresses.
type LocSection struct {
	buf bytes.Buffer
}

// AddEntry appends one address range and its expression block.
func (s *LocSection) AddEntry(lowpc, highpc uint64, block []byte) {
	binary.Write(&s.buf, binary.LittleEndian, lowpc)
	binary.Write(&s.buf, binary.LittleEndian, highpc)
	binary.Write(&s.buf, binary.LittleEndian, uint16(len(block)))
	s.buf.Write(block)
}

// AddBaseAddress appends a base address selection entry.
func (s *LocSection) AddBaseAddress(base uint64) {
	binary.Write(&s.buf, binary.LittleEndian, ^uint64(0))
	binary.Write(&s.buf, binary.LittleEndian, base)
}

// Bytes terminates the list and returns the section contents.
func (s *LocSection) Bytes() []byte {
	var end [16]byte
	return append(append([]byte{}, s.buf.Bytes()...), end[:]...)
}
