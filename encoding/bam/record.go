// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bam

import (
	"bytes"
	"strconv"

	gunsafe "github.com/grailbio/base/unsafe"
)

// Flags is the BAM flag bitfield.
type Flags uint16

const (
	Paired        Flags = 1 << iota // The read is paired in sequencing, no matter whether it is mapped in a pair.
	ProperPair                      // The read is mapped in a proper pair.
	Unmapped                        // The read itself is unmapped; conflictive with ProperPair.
	MateUnmapped                    // The mate is unmapped.
	Reverse                         // The read is mapped to the reverse strand.
	MateReverse                     // The mate is mapped to the reverse strand.
	Read1                           // This is read1.
	Read2                           // This is read2.
	Secondary                       // Not primary alignment.
	QCFail                          // QC failure.
	Duplicate                       // Optical or PCR duplicate.
	Supplementary                   // Supplementary alignment, indicates alignment is part of a chimeric alignment.
)

// Record is one decoded alignment.  Name, Cigar, Seq, Qual and AuxFields
// are views into the record's Scratch arena: they remain valid until the
// record is returned to the freepool.
type Record struct {
	Name      string
	Ref       *Reference
	Pos       int // 0-based leftmost coordinate; -1 when unmapped
	MapQ      byte
	Bin       uint16
	Cigar     Cigar
	Flags     Flags
	MateRef   *Reference
	MatePos   int
	TempLen   int
	Seq       Seq
	Qual      []byte
	AuxFields []Aux

	// Magic is fixed to bam.Magic to detect when this object came from the
	// record freepool.  This check is fundamentally unsafe and production
	// code shouldn't rely on it.
	Magic uint64

	// Scratch is used by the record parser to store internal data structures.
	Scratch []byte

	voff uint64
}

// Magic is the value of Record.Magic.
const Magic = uint64(0xc5e20f8b19a34d62)

// ResizeScratch makes *buf exactly n bytes long.
func ResizeScratch(buf *[]byte, n int) {
	if cap(*buf) < n {
		// Allocate slightly more memory than needed to prevent frequent
		// reallocation.
		size := (n/16 + 1) * 16
		*buf = make([]byte, n, size)
	} else {
		gunsafe.ExtendBytes(buf, n)
	}
}

// RefID returns the reference id, or -1 when the record is unmapped.
func (r *Record) RefID() int { return r.Ref.ID() }

// RefName returns the reference name, or "*" when the record is unmapped.
func (r *Record) RefName() string { return r.Ref.Name() }

// Start returns the 0-based start coordinate.
func (r *Record) Start() int { return r.Pos }

// End returns the 0-based coordinate one past the last reference base the
// alignment covers.  A record without a CIGAR spans zero reference bases.
func (r *Record) End() int {
	return r.Pos + r.Cigar.RefSpan()
}

// VOffset returns the virtual offset at which the record's block_size field
// starts in the bgzf stream.
func (r *Record) VOffset() uint64 { return r.voff }

// String returns the record as a SAM text line: positions are reported
// 1-based with -1 mapping to 0, an unavailable sequence or quality renders
// as "*", and a mate on the same reference renders as "=".
func (r *Record) String() string {
	var b bytes.Buffer
	b.WriteString(r.Name)
	b.WriteByte('\t')
	b.WriteString(strconv.Itoa(int(r.Flags)))
	b.WriteByte('\t')
	b.WriteString(r.RefName())
	b.WriteByte('\t')
	b.WriteString(strconv.Itoa(r.Pos + 1))
	b.WriteByte('\t')
	b.WriteString(strconv.Itoa(int(r.MapQ)))
	b.WriteByte('\t')
	b.WriteString(r.Cigar.String())
	b.WriteByte('\t')
	b.WriteString(formatMate(r.Ref, r.MateRef))
	b.WriteByte('\t')
	b.WriteString(strconv.Itoa(r.MatePos + 1))
	b.WriteByte('\t')
	b.WriteString(strconv.Itoa(r.TempLen))
	b.WriteByte('\t')
	b.WriteString(r.Seq.String())
	b.WriteByte('\t')
	b.Write(formatQual(r.Qual))
	for _, aux := range r.AuxFields {
		b.WriteByte('\t')
		b.WriteString(aux.String())
	}
	return b.String()
}

func formatMate(ref, mate *Reference) string {
	if mate != nil && ref == mate {
		return "="
	}
	return mate.Name()
}

// formatQual renders qualities in Phred+33 presentation.  A leading 0xff
// byte marks the whole block unavailable.
func formatQual(q []byte) []byte {
	if len(q) == 0 || q[0] == 0xff {
		return []byte{'*'}
	}
	qual := make([]byte, len(q))
	for i, p := range q {
		qual[i] = p + 33
	}
	return qual
}
