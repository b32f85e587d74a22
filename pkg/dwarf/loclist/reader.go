package loclist

import (
	"encoding/binary"
	"fmt"

	"github.com/debugio/dwarfdec/pkg/dwarf/op"
	"github.com/debugio/dwarfdec/pkg/logflags"
)

// Reader walks raw DWARF v2 through v4 .debug_loc bytes. A read past
// the end of the section records an error and stops the walk; partial
// entries are never returned.
type Reader struct {
	data  []byte
	cur   int
	ptrSz int
	err   error
}

// NewReader returns an initialized loclist Reader.
func NewReader(data []byte, ptrSz int) *Reader {
	return &Reader{data: data, ptrSz: ptrSz}
}

// Empty returns true if this reader has no data.
func (rdr *Reader) Empty() bool {
	return rdr.data == nil
}

// Seek moves the data pointer to the specified offset and clears any
// recorded truncation error.
func (rdr *Reader) Seek(off int) {
	rdr.cur = off
	rdr.err = nil
}

// Entry is a single raw entry in the loclist section.
type Entry struct {
	LowPC, HighPC uint64
	Instr         []byte
}

// BaseAddressSelection returns true if entry.HighPC should be used as
// the base address for subsequent entries.
func (e *Entry) BaseAddressSelection() bool {
	return e.LowPC == ^uint64(0)
}

// Err returns the first truncation encountered, if any.
func (rdr *Reader) Err() error { return rdr.err }

// Next advances the reader to the next loclist entry, returning the
// entry and true if successful, or false at the end of list terminator
// or on a truncated section.
func (rdr *Reader) Next(e *Entry) bool {
	e.LowPC = rdr.oneAddr()
	e.HighPC = rdr.oneAddr()

	if rdr.err != nil || (e.LowPC == 0 && e.HighPC == 0) {
		return false
	}

	if e.BaseAddressSelection() {
		e.Instr = nil
		return true
	}

	lenBytes := rdr.read(2)
	if lenBytes == nil {
		return false
	}
	instrlen := binary.LittleEndian.Uint16(lenBytes)
	e.Instr = rdr.read(int(instrlen))
	return rdr.err == nil
}

// ReadAll decodes the location list starting at off. base is the base
// address of the enclosing compile unit; base address selection entries
// replace it for subsequent entries.
func (rdr *Reader) ReadAll(off int, base uint64, spec op.Spec) (LocList, error) {
	rdr.Seek(off)
	var (
		l      LocList
		e      Entry
		logger = logflags.ExprLogger()
	)
	for rdr.Next(&e) {
		if e.BaseAddressSelection() {
			base = e.HighPC
			continue
		}
		expr, err := DecodeExpr(e.Instr, e.LowPC+base, e.HighPC+base, spec, rdr.ptrSz)
		if err != nil {
			return nil, err
		}
		if logflags.Expr() {
			logger.Debugf("loclist entry [%#x, %#x) %d instructions", expr.LowPC, expr.HighPC, len(expr.Instr))
		}
		l = append(l, expr)
	}
	if err := rdr.Err(); err != nil {
		return nil, err
	}
	return l, nil
}

func (rdr *Reader) read(sz int) []byte {
	if rdr.err != nil {
		return nil
	}
	if rdr.cur+sz > len(rdr.data) {
		rdr.err = fmt.Errorf("loclist: read of %d bytes at offset %d exceeds section size %d", sz, rdr.cur, len(rdr.data))
		return nil
	}
	r := rdr.data[rdr.cur : rdr.cur+sz]
	rdr.cur += sz
	return r
}

func (rdr *Reader) oneAddr() uint64 {
	data := rdr.read(rdr.ptrSz)
	if data == nil {
		return 0
	}
	switch rdr.ptrSz {
	case 4:
		addr := binary.LittleEndian.Uint32(data)
		if addr == ^uint32(0) {
			return ^uint64(0)
		}
		return uint64(addr)
	case 8:
		return binary.LittleEndian.Uint64(data)
	default:
		panic("bad address size")
	}
}
