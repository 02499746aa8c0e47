package bgzf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// fixedPrefixSize is the size of a member's gzip header through the first
// extra subfield: 12 fixed gzip bytes plus the 6-byte BC subfield that bgzf
// writers emit first.
const fixedPrefixSize = 18

// Reader decodes a stream of concatenated bgzf members, one member at a
// time.  It reads members strictly forward; Seek repositions the reader at a
// virtual offset when the underlying reader is an io.ReadSeeker.
//
// A Reader owns its underlying reader for the duration of its use: callers
// must not interleave their own reads or seeks.
type Reader struct {
	r       io.Reader
	coffset int64 // compressed offset of the next unread member

	block []byte // inflated payload scratch, reused across members
	zbuf  []byte // compressed payload scratch
	zr    *bytes.Reader
	fr    io.ReadCloser

	pending      []byte // payload handed back by the next ReadBlock call
	pendingAddr  Offset
	pendingValid bool

	sawEOF bool // observed an empty (terminator) member
	err    error
}

// NewReader returns a Reader decoding r.  The first member is read and
// validated immediately so that a stream that is not bgzf at all fails here;
// IsNotBGZF recognizes that case.
func NewReader(r io.Reader) (*Reader, error) {
	bg := &Reader{
		r:     r,
		block: make([]byte, MaxUncompressedBlockSize),
		zr:    bytes.NewReader(nil),
	}
	payload, addr, err := bg.readMember()
	if err != nil {
		return nil, err
	}
	bg.pending, bg.pendingAddr, bg.pendingValid = payload, addr, true
	return bg, nil
}

// ReadBlock returns the inflated payload of the next non-empty member along
// with the virtual offset of its first byte.  Empty members (the EOF
// terminator) are consumed silently; SawEOFMarker reports whether one was
// seen.  At the end of the stream ReadBlock returns io.EOF.
//
// The returned payload is valid only until the next ReadBlock or Seek call.
func (bg *Reader) ReadBlock() ([]byte, Offset, error) {
	if bg.err != nil {
		return nil, Offset{}, bg.err
	}
	for {
		var payload []byte
		var addr Offset
		if bg.pendingValid {
			payload, addr = bg.pending, bg.pendingAddr
			bg.pending, bg.pendingValid = nil, false
		} else {
			var err error
			payload, addr, err = bg.readMember()
			if err != nil {
				if err != io.EOF {
					bg.err = err
				}
				return nil, Offset{}, err
			}
		}
		if len(payload) == 0 {
			continue
		}
		return payload, addr, nil
	}
}

// NextMember returns the compressed byte offset of the next unread member.
func (bg *Reader) NextMember() int64 { return bg.coffset }

// SawEOFMarker reports whether an empty terminator member has been observed.
// Writers are expected to end the stream with one; its absence is worth a
// warning but not an error, since some tools omit it.
func (bg *Reader) SawEOFMarker() bool { return bg.sawEOF }

// Seek repositions the reader at the given virtual offset.  The underlying
// reader must be an io.ReadSeeker.  The next ReadBlock returns the member at
// off.File with its first off.Block payload bytes discarded.
func (bg *Reader) Seek(off Offset) error {
	rs, ok := bg.r.(io.ReadSeeker)
	if !ok {
		return fmt.Errorf("bgzf: underlying reader of type %T does not support seeking", bg.r)
	}
	if _, err := rs.Seek(off.File, io.SeekStart); err != nil {
		return err
	}
	bg.coffset = off.File
	bg.pending, bg.pendingValid = nil, false
	bg.err = nil
	payload, addr, err := bg.readMember()
	if err == io.EOF {
		return nil // positioned at end of stream
	}
	if err != nil {
		bg.err = err
		return err
	}
	if int(off.Block) > len(payload) {
		bg.err = errorf(SizeMismatch, off.File,
			"virtual offset %d:%d points beyond the member payload (%d bytes)",
			off.File, off.Block, len(payload))
		return bg.err
	}
	bg.pending = payload[off.Block:]
	bg.pendingAddr = Offset{File: addr.File, Block: off.Block}
	bg.pendingValid = true
	return nil
}

// readMember reads and inflates the member at bg.coffset.  It returns the
// inflated payload (possibly empty) and the member's base offset, or io.EOF
// at a clean end of stream.
func (bg *Reader) readMember() ([]byte, Offset, error) {
	start := bg.coffset
	var prefix [fixedPrefixSize]byte
	if _, err := io.ReadFull(bg.r, prefix[:]); err != nil {
		if err == io.EOF {
			return nil, Offset{}, io.EOF
		}
		return nil, Offset{}, errorf(TruncatedMember, start, "short gzip header: %v", err)
	}
	if prefix[0] != 0x1f || prefix[1] != 0x8b || prefix[2] != 8 || prefix[3]&4 == 0 {
		return nil, Offset{}, errorf(BadMagic, start,
			"bytes % x are not a bgzf gzip header", prefix[:4])
	}
	xlen := int(binary.LittleEndian.Uint16(prefix[10:]))
	if xlen < len(bgzfExtra) {
		return nil, Offset{}, errorf(BadMagic, start, "extra field too short (%d bytes) for BC subfield", xlen)
	}
	var bsize int
	if bytes.Equal(prefix[12:16], bgzfExtraPrefix[:]) {
		// Common case: BC is the first subfield, as every known writer
		// emits it.
		bsize = int(binary.LittleEndian.Uint16(prefix[16:18])) + 1
		if skip := xlen - len(bgzfExtra); skip > 0 {
			if _, err := io.ReadFull(bg.r, bg.grow(skip)); err != nil {
				return nil, Offset{}, errorf(TruncatedMember, start, "short extra field: %v", err)
			}
		}
	} else {
		extra := bg.grow(xlen)
		copy(extra, prefix[12:18])
		if _, err := io.ReadFull(bg.r, extra[6:]); err != nil {
			return nil, Offset{}, errorf(TruncatedMember, start, "short extra field: %v", err)
		}
		var found bool
		for i := 0; i+4 <= len(extra); {
			slen := int(binary.LittleEndian.Uint16(extra[i+2:]))
			if extra[i] == 'B' && extra[i+1] == 'C' && slen == 2 && i+6 <= len(extra) {
				bsize = int(binary.LittleEndian.Uint16(extra[i+4:])) + 1
				found = true
				break
			}
			i += 4 + slen
		}
		if !found {
			return nil, Offset{}, errorf(BadMagic, start, "no BC subfield in %d byte extra field", xlen)
		}
	}
	zlen := bsize - 12 - xlen - 8
	if zlen < 0 {
		return nil, Offset{}, errorf(BadMagic, start, "BSIZE %d smaller than the gzip framing", bsize)
	}
	zdata := bg.grow(zlen + 8)
	if _, err := io.ReadFull(bg.r, zdata); err != nil {
		return nil, Offset{}, errorf(TruncatedMember, start, "short member body: %v", err)
	}
	isize := int(binary.LittleEndian.Uint32(zdata[zlen+4:]))
	if isize > MaxUncompressedBlockSize {
		return nil, Offset{}, errorf(SizeMismatch, start, "ISIZE %d exceeds the 64KB payload bound", isize)
	}
	bg.coffset = start + int64(bsize)
	if isize == 0 {
		bg.sawEOF = true
		return bg.block[:0], Offset{File: start}, nil
	}
	if err := bg.inflate(zdata[:zlen], bg.block[:isize], start); err != nil {
		return nil, Offset{}, err
	}
	return bg.block[:isize], Offset{File: start}, nil
}

// inflate decompresses the DEFLATE payload zdata into out, which must be
// sized to the member's ISIZE.
func (bg *Reader) inflate(zdata, out []byte, start int64) error {
	bg.zr.Reset(zdata)
	if bg.fr == nil {
		bg.fr = flate.NewReader(bg.zr)
	} else if err := bg.fr.(flate.Resetter).Reset(bg.zr, nil); err != nil {
		return errorf(InflateError, start, "%v", err)
	}
	if _, err := io.ReadFull(bg.fr, out); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return errorf(SizeMismatch, start, "payload shorter than ISIZE %d", len(out))
		}
		return errorf(InflateError, start, "%v", err)
	}
	var tail [1]byte
	if n, _ := bg.fr.Read(tail[:]); n != 0 {
		return errorf(SizeMismatch, start, "payload longer than ISIZE %d", len(out))
	}
	return nil
}

// grow returns a scratch slice of exactly n bytes backed by bg.zbuf.
func (bg *Reader) grow(n int) []byte {
	if cap(bg.zbuf) < n {
		bg.zbuf = make([]byte, n)
	}
	bg.zbuf = bg.zbuf[:n]
	return bg.zbuf
}
