// Package frame contains data structures and
// related functions for parsing and searching
// through Dwarf .debug_frame data.
package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/debugio/dwarfdec/pkg/dwarf/dwbuf"
)

type parsefunc func(*parseContext) parsefunc

type parseContext struct {
	staticBase uint64

	buf     *dwbuf.Buf
	entries FrameDescriptionEntries
	common  *CommonInformationEntry
	frame   *FrameDescriptionEntry
	length  uint32
	ptrSize int
	err     error
}

// Parse takes in data (a byte slice) and returns FrameDescriptionEntries,
// which is a slice of FrameDescriptionEntry. Each FrameDescriptionEntry
// has a pointer to CommonInformationEntry.
func Parse(data []byte, staticBase uint64, ptrSize int) (FrameDescriptionEntries, error) {
	var (
		buf  = dwbuf.New("debug_frame", data)
		pctx = &parseContext{buf: buf, entries: newFrameIndex(), staticBase: staticBase, ptrSize: ptrSize}
	)

	for fn := parselength; buf.Len() != 0; {
		fn = fn(pctx)
		if pctx.err != nil {
			return nil, pctx.err
		}
		if err := buf.Err(); err != nil {
			return nil, err
		}
	}

	return pctx.entries, nil
}

func cieEntry(id uint32) bool {
	return id == 0xffffffff
}

func parselength(ctx *parseContext) parsefunc {
	ctx.length = ctx.buf.Uint32(binary.LittleEndian)

	if ctx.length == 0 {
		// ZERO terminator
		return parselength
	}
	if ctx.length < 4 {
		ctx.err = fmt.Errorf("debug_frame entry of length %d at offset %d", ctx.length, ctx.buf.Off()-4)
		return nil
	}

	id := ctx.buf.Uint32(binary.LittleEndian)

	ctx.length -= 4 // take off the length of the CIE id / CIE pointer.

	if cieEntry(id) {
		ctx.common = &CommonInformationEntry{Length: ctx.length, CIE_id: id, staticBase: ctx.staticBase}
		return parseCIE
	}

	if ctx.common == nil {
		ctx.err = fmt.Errorf("FDE at offset %d appears before any CIE", ctx.buf.Off()-8)
		return nil
	}
	ctx.frame = &FrameDescriptionEntry{Length: ctx.length, CIE: ctx.common}
	return parseFDE
}

func parseFDE(ctx *parseContext) parsefunc {
	r := ctx.buf.Bytes(int(ctx.length))
	if err := ctx.buf.Err(); err != nil {
		return nil
	}
	if len(r) < 2*ctx.ptrSize {
		ctx.err = fmt.Errorf("FDE of length %d cannot hold its address range", len(r))
		return nil
	}

	body := dwbuf.New("fde", r)
	ctx.frame.begin = readPtr(body, ctx.ptrSize) + ctx.staticBase
	ctx.frame.size = readPtr(body, ctx.ptrSize)
	if err := body.Err(); err != nil {
		ctx.err = err
		return nil
	}

	ctx.entries = append(ctx.entries, ctx.frame)

	// The rest of this entry consists of the instructions
	// so we can just grab all of the data from the buffer
	// cursor to length.
	ctx.frame.Instructions = r[2*ctx.ptrSize:]
	ctx.length = 0

	return parselength
}

func readPtr(buf *dwbuf.Buf, ptrSize int) uint64 {
	switch ptrSize {
	case 4:
		return uint64(buf.Uint32(binary.LittleEndian))
	case 8:
		return buf.Uint64(binary.LittleEndian)
	default:
		panic("bad address size")
	}
}

func parseCIE(ctx *parseContext) parsefunc {
	data := ctx.buf.Bytes(int(ctx.length))
	if err := ctx.buf.Err(); err != nil {
		return nil
	}

	body := dwbuf.New("cie", data)
	ctx.common.Version = body.Uint8()
	ctx.common.Augmentation = body.String()
	ctx.common.CodeAlignmentFactor = body.Uint()
	ctx.common.DataAlignmentFactor = body.Int()
	ctx.common.ReturnAddressRegister = body.Uint()
	if err := body.Err(); err != nil {
		ctx.err = err
		return nil
	}

	// The rest of this entry consists of the initial instructions.
	ctx.common.InitialInstructions = data[body.Off():]
	ctx.length = 0

	return parselength
}

// UseHostByteOrder reports whether the DWARF data the debug_info
// section belongs to is encoded in the host's byte order. The result is
// the flag DecodeInstructions and BuildUnwindTable take; callers that
// own the binary container derive it here once per file.
func UseHostByteOrder(infoSec []byte) bool {
	return DwarfEndian(infoSec) == dwbuf.Order(true)
}

// DwarfEndian determines the endianness of the DWARF by using the version number field in the debug_info section
// Trick borrowed from "debug/dwarf".New()
func DwarfEndian(infoSec []byte) binary.ByteOrder {
	if len(infoSec) < 6 {
		return binary.BigEndian
	}
	x, y := infoSec[4], infoSec[5]
	switch {
	case x == 0 && y == 0:
		return binary.BigEndian
	case x == 0:
		return binary.BigEndian
	case y == 0:
		return binary.LittleEndian
	default:
		return binary.BigEndian
	}
}
