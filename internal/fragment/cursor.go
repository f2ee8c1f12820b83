package fragment

import (
	"encoding/binary"
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// decoder is a forward-only cursor over a footer buffer. Every read advances
// the offset. The first failure sticks: later reads return zero values and
// err reports the original problem.
type decoder struct {
	buf []byte
	off int
	err error
}

func newDecoder(buf []byte) *decoder {
	return &decoder{buf: buf}
}

// take returns the next n bytes, or nil after recording an underrun.
func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || len(d.buf)-d.off < n {
		d.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrCorruptFooter, n, d.off, len(d.buf)-d.off)
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) readUint8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) readUint16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (d *decoder) readInt16() int16 {
	return int16(d.readUint16())
}

func (d *decoder) readUint32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *decoder) readInt32() int32 {
	return int32(d.readUint32())
}

func (d *decoder) readInt64() int64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func (d *decoder) readBool(field string) bool {
	v := d.readUint8()
	if d.err != nil {
		return false
	}
	switch v {
	case 0:
		return false
	case 1:
		return true
	default:
		d.fail("%s: invalid flag byte 0x%02x", field, v)
		return false
	}
}

// readBytes returns a copy of the next n bytes.
func (d *decoder) readBytes(n int) []byte {
	b := d.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// readBitSet reads a uint16 bit count followed by nbits/8 packed bytes,
// most significant bit first. The stored count must equal nbits.
func (d *decoder) readBitSet(nbits uint) *bitset.BitSet {
	count := d.readUint16()
	if d.err != nil {
		return nil
	}
	if uint(count) != nbits {
		d.fail("deleted references: bit count %d, want %d", count, nbits)
		return nil
	}
	packed := d.take(int((nbits + 7) / 8))
	if packed == nil {
		return nil
	}
	bs := bitset.New(nbits)
	for i := uint(0); i < nbits; i++ {
		if packed[i/8]&(0x80>>(i%8)) != 0 {
			bs.Set(i)
		}
	}
	return bs
}

func (d *decoder) fail(format string, args ...interface{}) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: %s", ErrCorruptFooter, fmt.Sprintf(format, args...))
	}
}

// encoder appends big-endian fields to a buffer.
type encoder struct {
	buf []byte
}

func newEncoder(capacity int) *encoder {
	return &encoder{buf: make([]byte, 0, capacity)}
}

func (e *encoder) putUint8(v uint8) {
	e.buf = append(e.buf, v)
}

func (e *encoder) putUint16(v uint16) {
	e.buf = binary.BigEndian.AppendUint16(e.buf, v)
}

func (e *encoder) putUint32(v uint32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
}

func (e *encoder) putInt64(v int64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, uint64(v))
}

func (e *encoder) putBool(v bool) {
	if v {
		e.putUint8(1)
		return
	}
	e.putUint8(0)
}

func (e *encoder) putBytes(b []byte) {
	e.buf = append(e.buf, b...)
}

// putPadded writes b followed by zero bytes up to width.
func (e *encoder) putPadded(b []byte, width int) {
	e.buf = append(e.buf, b...)
	for i := len(b); i < width; i++ {
		e.buf = append(e.buf, 0)
	}
}

func (e *encoder) putBitSet(bs *bitset.BitSet, nbits uint) {
	e.putUint16(uint16(nbits))
	packed := make([]byte, (nbits+7)/8)
	if bs != nil {
		for i, ok := bs.NextSet(0); ok && i < nbits; i, ok = bs.NextSet(i + 1) {
			packed[i/8] |= 0x80 >> (i % 8)
		}
	}
	e.putBytes(packed)
}
