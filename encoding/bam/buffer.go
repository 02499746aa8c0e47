package bam

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
)

// buffer is a bounds-checked little-endian cursor over one contiguous
// inflated-byte window.  The first out-of-range read latches a Truncated
// error; subsequent reads return zero values so that call sites stay
// straight-line and check err once.
type buffer struct {
	data []byte
	off  int
	err  error
}

func (b *buffer) short(n int) bool {
	if b.err != nil {
		return true
	}
	if b.off+n > len(b.data) {
		b.err = decodeErrorf(Truncated, "%d byte read at offset %d crosses window end %d", n, b.off, len(b.data))
		return true
	}
	return false
}

func (b *buffer) u8() byte {
	if b.short(1) {
		return 0
	}
	v := b.data[b.off]
	b.off++
	return v
}

func (b *buffer) u16() uint16 {
	if b.short(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(b.data[b.off:])
	b.off += 2
	return v
}

func (b *buffer) u32() uint32 {
	if b.short(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(b.data[b.off:])
	b.off += 4
	return v
}

func (b *buffer) i32() int32 {
	return int32(b.u32())
}

func (b *buffer) i64() int64 {
	if b.short(8) {
		return 0
	}
	v := int64(binary.LittleEndian.Uint64(b.data[b.off:]))
	b.off += 8
	return v
}

func (b *buffer) f32() float32 {
	return math.Float32frombits(b.u32())
}

// bytes returns the next n bytes as a view into the window.
func (b *buffer) bytes(n int) []byte {
	if b.short(n) {
		return nil
	}
	v := b.data[b.off : b.off+n : b.off+n]
	b.off += n
	return v
}

// fixedString returns the next n bytes as a string, replacing invalid UTF-8
// sequences with the Unicode replacement character.
func (b *buffer) fixedString(n int) string {
	v := b.bytes(n)
	if v == nil {
		return ""
	}
	return strings.ToValidUTF8(string(v), "�")
}

// cstring reads up to and including the next NUL, returning the bytes
// before it.
func (b *buffer) cstring() string {
	if b.err != nil {
		return ""
	}
	i := bytes.IndexByte(b.data[b.off:], 0)
	if i < 0 {
		b.err = decodeErrorf(Truncated, "unterminated string at offset %d", b.off)
		return ""
	}
	s := b.fixedString(i)
	b.off++ // the NUL
	return s
}

func (b *buffer) skip(n int) {
	if !b.short(n) {
		b.off += n
	}
}

func (b *buffer) remaining() int {
	return len(b.data) - b.off
}
