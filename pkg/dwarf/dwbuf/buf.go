// Bounds checked reading and decoding of DWARF data streams.

package dwbuf

import (
	"debug/dwarf"
	"encoding/binary"
	"fmt"
	"unsafe"
)

var hostLittleEndian = func() bool {
	var x uint16 = 1
	return *(*byte)(unsafe.Pointer(&x)) == 1
}()

// Buf is a data buffer being decoded. Every read checks the remaining
// data against the read size; a read past the end of the buffer records
// an error and all subsequent reads return the zero value.
type Buf struct {
	name string
	off  int
	data []byte
	err  error
}

// New returns a Buf decoding data. The name identifies the data stream
// in error messages.
func New(name string, data []byte) *Buf {
	return &Buf{name: name, data: data}
}

// Len returns the number of bytes left to decode.
func (b *Buf) Len() int { return len(b.data) }

// Off returns the number of bytes consumed so far.
func (b *Buf) Off() int { return b.off }

// Err returns the first out of bounds condition encountered, if any.
func (b *Buf) Err() error { return b.err }

// Bytes consumes and returns the next n bytes.
func (b *Buf) Bytes(n int) []byte {
	if len(b.data) < n {
		b.error("underflow")
		return nil
	}
	data := b.data[0:n]
	b.data = b.data[n:]
	b.off += n
	return data
}

// Uint8 consumes one byte.
func (b *Buf) Uint8() uint8 {
	if len(b.data) < 1 {
		b.error("underflow")
		return 0
	}
	val := b.data[0]
	b.data = b.data[1:]
	b.off++
	return val
}

// Uint16 consumes two bytes using the given byte order.
func (b *Buf) Uint16(order binary.ByteOrder) uint16 {
	data := b.Bytes(2)
	if data == nil {
		return 0
	}
	return order.Uint16(data)
}

// Uint32 consumes four bytes using the given byte order.
func (b *Buf) Uint32(order binary.ByteOrder) uint32 {
	data := b.Bytes(4)
	if data == nil {
		return 0
	}
	return order.Uint32(data)
}

// Uint64 consumes eight bytes using the given byte order.
func (b *Buf) Uint64(order binary.ByteOrder) uint64 {
	data := b.Bytes(8)
	if data == nil {
		return 0
	}
	return order.Uint64(data)
}

// varint reads 7 bits per byte, little endian; the 0x80 bit means read
// another byte. It returns the value and the number of bits read.
func (b *Buf) varint() (c uint64, bits uint) {
	for i := 0; i < len(b.data); i++ {
		byte := b.data[i]
		c |= uint64(byte&0x7f) << bits
		bits += 7
		if byte&0x80 == 0 {
			b.off += i + 1
			b.data = b.data[i+1:]
			return c, bits
		}
	}
	b.error("underflow")
	return 0, 0
}

// Uint consumes a ULEB128 value.
func (b *Buf) Uint() uint64 {
	x, _ := b.varint()
	return x
}

// Int consumes a SLEB128 value, sign extending over the number of bits
// actually read.
func (b *Buf) Int() int64 {
	ux, bits := b.varint()
	x := int64(ux)
	if bits > 0 && bits < 64 && x&(1<<(bits-1)) != 0 {
		x |= -1 << bits
	}
	return x
}

// Addr consumes an address of addrSize bytes. The byte order is big
// endian when useHostByteOrder differs from the host's endianness.
// Only 4 and 8 byte addresses exist; any other size is a caller bug.
func (b *Buf) Addr(addrSize int, useHostByteOrder bool) uint64 {
	readBE := hostLittleEndian != useHostByteOrder
	order := binary.ByteOrder(binary.LittleEndian)
	if readBE {
		order = binary.BigEndian
	}
	switch addrSize {
	case 4:
		return uint64(b.Uint32(order))
	case 8:
		return b.Uint64(order)
	default:
		panic("bad address size")
	}
}

// String consumes the NUL-terminated string at the start of the buffer.
// The terminal NUL is discarded.
func (b *Buf) String() string {
	for i := 0; i < len(b.data); i++ {
		if b.data[i] == 0 {
			s := string(b.data[0:i])
			b.data = b.data[i+1:]
			b.off += i + 1
			return s
		}
	}
	b.error("underflow")
	return ""
}

// Order returns the byte order selected by the use host byte order flag,
// following the same convention as Addr.
func Order(useHostByteOrder bool) binary.ByteOrder {
	if hostLittleEndian != useHostByteOrder {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// AssertEmpty checks that everything has been read from b.
func (b *Buf) AssertEmpty() {
	if len(b.data) == 0 {
		return
	}
	if len(b.data) > 5 {
		b.error(fmt.Sprintf("unexpected extra data: %x...", b.data[0:5]))
		return
	}
	b.error(fmt.Sprintf("unexpected extra data: %x", b.data))
}

func (b *Buf) error(s string) {
	if b.err == nil {
		b.data = nil
		b.err = dwarf.DecodeError{Name: b.name, Offset: dwarf.Offset(b.off), Err: s}
	}
}
