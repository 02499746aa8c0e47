package bgzf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"
)

// memberTrailerSize is the gzip member trailer: CRC32 then ISIZE.
const memberTrailerSize = 8

// Writer compresses a byte stream into bgzf.  The input is cut into blocks
// of at most the configured uncompressed size and each block becomes one
// self-contained gzip member carrying the BC extra subfield.  A member is
// assembled back to front: the payload is deflated first, so the header is
// emitted once with the final BSIZE instead of being patched after the
// fact.  Close appends the 28-byte EOF terminator member.
type Writer struct {
	w         io.Writer
	fw        *flate.Writer
	blockSize int
	pending   []byte       // input bytes not yet framed into a member
	zbuf      bytes.Buffer // deflate output of the block being framed
	coffset   uint64       // file offset at which the next member starts
}

// NewWriter returns a bgzf writer with the given flate compression level
// and the default uncompressed block size.
func NewWriter(w io.Writer, level int) (*Writer, error) {
	return NewWriterParams(w, level, DefaultUncompressedBlockSize)
}

// NewWriterParams returns a bgzf writer with the given flate compression
// level and uncompressed block size, which must be in (0, 64KB].
func NewWriterParams(w io.Writer, level, uncompressedBlockSize int) (*Writer, error) {
	if uncompressedBlockSize <= 0 || uncompressedBlockSize > MaxUncompressedBlockSize {
		return nil, fmt.Errorf("bgzf: illegal uncompressed block size: %d", uncompressedBlockSize)
	}
	fw, err := flate.NewWriter(nil, level)
	if err != nil {
		return nil, err
	}
	return &Writer{
		w:         w,
		fw:        fw,
		blockSize: uncompressedBlockSize,
		pending:   make([]byte, 0, uncompressedBlockSize),
	}, nil
}

// Write appends p to the bgzf payload, framing a member every time a full
// block accumulates.
func (w *Writer) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		room := w.blockSize - len(w.pending)
		if room > len(p) {
			room = len(p)
		}
		w.pending = append(w.pending, p[:room]...)
		p = p[room:]
		written += room
		if len(w.pending) == w.blockSize {
			if err := w.flushBlock(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// CloseWithoutTerminator frames any pending bytes but does not append the
// EOF terminator.  The output is not a complete bgzf file until Close is
// called; use this to produce member-aligned shards for later
// concatenation.
func (w *Writer) CloseWithoutTerminator() error {
	if len(w.pending) == 0 {
		return nil
	}
	return w.flushBlock()
}

// Close frames any pending bytes and appends the EOF terminator member.
func (w *Writer) Close() error {
	if err := w.CloseWithoutTerminator(); err != nil {
		return err
	}
	n, err := w.w.Write(terminator)
	w.coffset += uint64(n)
	return err
}

// flushBlock writes w.pending out as one complete gzip member.
func (w *Writer) flushBlock() error {
	w.zbuf.Reset()
	w.fw.Reset(&w.zbuf)
	if _, err := w.fw.Write(w.pending); err != nil {
		return err
	}
	if err := w.fw.Close(); err != nil {
		return err
	}

	memberLen := fixedPrefixSize + w.zbuf.Len() + memberTrailerSize
	if memberLen > compressedBlockSize {
		return fmt.Errorf("bgzf: %d byte block compressed to a %d byte member, above the 64KB bound",
			len(w.pending), memberLen)
	}

	var hdr [fixedPrefixSize]byte
	hdr[0], hdr[1] = 0x1f, 0x8b // gzip magic
	hdr[2] = 8                  // deflate
	hdr[3] = 4                  // FLG: extra field present
	// MTIME and XFL stay zero.
	hdr[9] = 0xff // unknown OS
	binary.LittleEndian.PutUint16(hdr[10:], 6) // XLEN: one BC subfield
	copy(hdr[12:], bgzfExtraPrefix[:])
	binary.LittleEndian.PutUint16(hdr[16:], uint16(memberLen-1)) // BSIZE
	if _, err := w.w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.zbuf.WriteTo(w.w); err != nil {
		return err
	}
	var trailer [memberTrailerSize]byte
	binary.LittleEndian.PutUint32(trailer[:], crc32.ChecksumIEEE(w.pending))
	binary.LittleEndian.PutUint32(trailer[4:], uint32(len(w.pending)))
	if _, err := w.w.Write(trailer[:]); err != nil {
		return err
	}

	w.coffset += uint64(memberLen)
	w.pending = w.pending[:0]
	return nil
}

// VOffset returns the virtual offset of the next byte to be written.
func (w *Writer) VOffset() uint64 {
	return w.coffset<<16 | uint64(len(w.pending))
}
