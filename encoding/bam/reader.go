// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bam

import (
	"encoding/binary"
	"io"

	"github.com/grailbio/base/log"
	"github.com/grailbio/bamstream/encoding/bgzf"
)

// ErrorPolicy selects how the Reader treats a structural error inside an
// alignment block.
type ErrorPolicy int

const (
	// FailFast propagates the error and terminates the stream.
	FailFast ErrorPolicy = iota
	// SkipRecord reports the error as a warning, advances past the corrupt
	// block-size field, and resumes decoding.  Resynchronization is best
	// effort and may cascade on badly damaged inputs.
	SkipRecord
)

const (
	// DefaultBlockSizeCap is the default ReaderOpts.BlockSizeCap.
	DefaultBlockSizeCap = 256 << 20
	// DefaultBufferHighWater is the default ReaderOpts.BufferHighWater.
	DefaultBufferHighWater = 1 << 20
)

// ReaderOpts configures a Reader.  The zero value selects the defaults.
type ReaderOpts struct {
	// BlockSizeCap rejects alignment blocks larger than this many bytes.
	BlockSizeCap int
	// BufferHighWater is the consumed-prefix size beyond which the
	// inflated-byte buffer is compacted.
	BufferHighWater int
	// Policy selects the structural-error policy.
	Policy ErrorPolicy
	// OnWarning receives every non-fatal inconsistency.  Defaults to
	// logging through base/log.
	OnWarning func(Warning)
}

// span maps a position in the Reader's inflated buffer to the virtual
// offset of the bgzf member it came from.
type span struct {
	bufOff int
	addr   bgzf.Offset
}

// Reader couples the bgzf block reader, the header decoder and the record
// decoder into a lazy record stream.  It owns an inflated-byte buffer that
// spans bgzf member boundaries, because a single alignment may straddle
// them.  Its unconsumed part holds no more than one record plus one member;
// the consumed prefix is dropped once it reaches ReaderOpts.BufferHighWater.
//
// A Reader exclusively owns its underlying byte source.  The reference
// dictionary it produces is immutable and may be shared.
type Reader struct {
	bg   *bgzf.Reader
	opts ReaderOpts

	header      *Header
	firstRecord bgzf.Offset

	buf   []byte
	off   int // consumed prefix of buf
	spans []span

	rec  *Record
	err  error
	done bool
}

// NewReader decodes the BAM stream r.  The header and reference dictionary
// are read eagerly; the first alignment is not touched until Scan.
func NewReader(r io.Reader, opts ReaderOpts) (*Reader, error) {
	if opts.BlockSizeCap <= 0 {
		opts.BlockSizeCap = DefaultBlockSizeCap
	}
	if opts.BufferHighWater <= 0 {
		opts.BufferHighWater = DefaultBufferHighWater
	}
	if opts.OnWarning == nil {
		opts.OnWarning = func(w Warning) { log.Error.Printf("bam: %s", w) }
	}
	bg, err := bgzf.NewReader(r)
	if err != nil {
		return nil, err
	}
	rd := &Reader{bg: bg, opts: opts}
	for {
		h, n, herr := parseHeader(rd.buf)
		if herr == nil {
			rd.header = h
			rd.off = n
			rd.firstRecord = bgzf.MakeOffset(rd.voffAt(n))
			return rd, nil
		}
		if !isTruncated(herr) {
			return nil, herr
		}
		payload, addr, berr := bg.ReadBlock()
		if berr == io.EOF {
			return nil, herr // the stream genuinely ends inside the header
		}
		if berr != nil {
			return nil, berr
		}
		rd.append(payload, addr)
	}
}

// Header returns the decoded header.  The callee must not modify it.
func (r *Reader) Header() *Header { return r.header }

// FirstRecord returns the virtual offset of the first alignment block,
// directly after the reference dictionary.
func (r *Reader) FirstRecord() bgzf.Offset { return r.firstRecord }

// Scan advances the Reader to the next record.  It returns false at the end
// of the stream or on error; Err distinguishes the two.
func (r *Reader) Scan() bool {
	if r.err != nil || r.done {
		return false
	}
	for {
		avail := r.buf[r.off:]
		if len(avail) >= 4 {
			size := int(int32(binary.LittleEndian.Uint32(avail)))
			if size <= 0 || size > r.opts.BlockSizeCap {
				if !r.fault(decodeErrorf(BadBlockSize, "block size %d out of range (cap %d)", size, r.opts.BlockSizeCap)) {
					return false
				}
				continue
			}
			if len(avail) >= 4+size {
				voff := r.voffAt(r.off)
				rec, warns, err := Unmarshal(avail[4:4+size], r.header)
				if err != nil {
					if !r.fault(err) {
						return false
					}
					continue
				}
				for _, w := range warns {
					r.opts.OnWarning(Warning{VOff: voff, Err: w})
				}
				rec.voff = voff
				r.rec = rec
				r.off += 4 + size
				r.compact()
				return true
			}
		}
		payload, addr, berr := r.bg.ReadBlock()
		if berr == io.EOF {
			if rem := r.buf[r.off:]; len(rem) > 0 && !allZero(rem) {
				r.opts.OnWarning(Warning{
					VOff: r.voffAt(r.off),
					Err:  decodeErrorf(Truncated, "%d trailing bytes after the last complete record", len(rem)),
				})
			}
			if !r.bg.SawEOFMarker() {
				r.opts.OnWarning(Warning{
					VOff: r.voffAt(len(r.buf)),
					Err:  decodeErrorf(Truncated, "stream ends without the bgzf EOF terminator"),
				})
			}
			r.done = true
			return false
		}
		if berr != nil {
			r.err = berr
			return false
		}
		r.append(payload, addr)
	}
}

// fault applies the error policy to a structural error at the current
// buffer position.  It returns true if the caller should resynchronize and
// keep scanning.
func (r *Reader) fault(err error) bool {
	voff := r.voffAt(r.off)
	err = atVOffset(err, voff)
	if r.opts.Policy != SkipRecord {
		r.err = err
		return false
	}
	r.opts.OnWarning(Warning{VOff: voff, Err: err})
	r.off += 4 // past the corrupt block-size field
	r.compact()
	return true
}

// Record returns the record produced by the last successful Scan.  The
// record stays valid until it is handed back with PutInFreePool.
func (r *Reader) Record() *Record { return r.rec }

// Err returns the error that terminated iteration, or nil after a clean end
// of stream.
func (r *Reader) Err() error { return r.err }

// Seek repositions the stream at a virtual offset, normally a chunk
// boundary from a BAI index.  The buffered bytes are discarded and the next
// Scan decodes the record starting exactly at off.
func (r *Reader) Seek(off bgzf.Offset) error {
	if err := r.bg.Seek(off); err != nil {
		return err
	}
	r.buf = r.buf[:0]
	r.spans = r.spans[:0]
	r.off = 0
	r.rec = nil
	r.err = nil
	r.done = false
	return nil
}

// append adds one bgzf member payload to the buffer.
func (r *Reader) append(payload []byte, addr bgzf.Offset) {
	r.spans = append(r.spans, span{bufOff: len(r.buf), addr: addr})
	r.buf = append(r.buf, payload...)
}

// voffAt returns the virtual offset of buffer position pos.
func (r *Reader) voffAt(pos int) uint64 {
	for i := len(r.spans) - 1; i >= 0; i-- {
		s := r.spans[i]
		if s.bufOff <= pos {
			return uint64(s.addr.File)<<16 | uint64(int(s.addr.Block)+pos-s.bufOff)
		}
	}
	return 0
}

// compact drops the consumed buffer prefix once it crosses the high-water
// mark, keeping the span table in register.
func (r *Reader) compact() {
	if r.off < r.opts.BufferHighWater {
		return
	}
	cut := r.off
	idx := 0
	for i := len(r.spans) - 1; i >= 0; i-- {
		if r.spans[i].bufOff <= cut {
			idx = i
			break
		}
	}
	r.spans[idx].addr.Block += uint16(cut - r.spans[idx].bufOff)
	r.spans[idx].bufOff = cut
	r.spans = append(r.spans[:0], r.spans[idx:]...)
	for i := range r.spans {
		r.spans[i].bufOff -= cut
	}
	r.buf = r.buf[:copy(r.buf, r.buf[cut:])]
	r.off = 0
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
