package bam

import (
	"encoding/binary"
	"unsafe"

	gunsafe "github.com/grailbio/base/unsafe"
)

// bamFixedBytes is the size of the fixed-width record prefix that follows
// block_size: ref_id through tlen.
const bamFixedBytes = 32

// Round "off" up so that it is a multiple of 8. Used when casting a []byte
// region to []CigarOp.  8-byte alignment is sufficient for all CPUs we care
// about.
func alignOffset(off int) int {
	const pointerSize = 8
	return ((off-1)/pointerSize + 1) * pointerSize
}

// Unmarshal decodes one alignment block.  b holds the block body: block_size
// bytes starting at ref_id.  The returned record comes from the freepool and
// owns copies of all variable-length data; callers may recycle it with
// PutInFreePool once done.
//
// warnings reports recoverable inconsistencies (sequence length disagreeing
// with the CIGAR query span, unknown optional-field types, an unmapped
// record with a coordinate).  The record is still usable when warnings are
// returned; it is not when err is set.
func Unmarshal(b []byte, header *Header) (rec *Record, warnings []error, err error) {
	if len(b) < bamFixedBytes {
		return nil, nil, decodeErrorf(Truncated, "alignment block of %d bytes is shorter than the fixed prefix", len(b))
	}
	// Need to use int(int32(uint32)) to ensure 2's complement extension of -1.
	refID := int(int32(binary.LittleEndian.Uint32(b)))
	pos := int(int32(binary.LittleEndian.Uint32(b[4:])))
	nLen := int(b[8])
	mapq := b[9]
	bin := binary.LittleEndian.Uint16(b[10:])
	nCigar := int(binary.LittleEndian.Uint16(b[12:]))
	flags := Flags(binary.LittleEndian.Uint16(b[14:]))
	lSeq := int(int32(binary.LittleEndian.Uint32(b[16:])))
	nextRefID := int(int32(binary.LittleEndian.Uint32(b[20:])))
	matePos := int(int32(binary.LittleEndian.Uint32(b[24:])))
	tempLen := int(int32(binary.LittleEndian.Uint32(b[28:])))

	if nLen < 1 {
		return nil, nil, decodeErrorf(BadBlockSize, "read name length %d out of range", nLen)
	}
	if lSeq < 0 {
		return nil, nil, decodeErrorf(BadBlockSize, "negative sequence length %d", lSeq)
	}
	refs := len(header.Refs())
	if refID < -1 || refID >= refs {
		return nil, nil, decodeErrorf(BadReference, "reference id %d out of range [-1,%d)", refID, refs)
	}
	if nextRefID < -1 || nextRefID >= refs {
		return nil, nil, decodeErrorf(BadReference, "mate reference id %d out of range [-1,%d)", nextRefID, refs)
	}

	nDoubletBytes := (lSeq + 1) >> 1
	srcVariableBytes := len(b) - bamFixedBytes
	srcAuxOffset := bamFixedBytes + nLen + nCigar*4 + nDoubletBytes + lSeq
	if len(b) < srcAuxOffset {
		return nil, nil, decodeErrorf(Truncated, "block of %d bytes is shorter than its own layout (%d bytes)", len(b), srcAuxOffset)
	}

	rec = GetFromFreePool()
	defer func() {
		if err != nil {
			PutInFreePool(rec)
			rec = nil
		}
	}()

	// Copy the variable-length region into the record's scratch arena, with
	// an aligned area after it to hold the CIGAR ops in host byte order.
	shadowCigarOffset := alignOffset(srcVariableBytes)
	shadowSize := shadowCigarOffset + nCigar*4
	ResizeScratch(&rec.Scratch, shadowSize)
	shadowBuf := rec.Scratch
	copy(shadowBuf, b[bamFixedBytes:])

	rec.Name = gunsafe.BytesToString(shadowBuf[:nLen-1]) // drop trailing '\0'
	shadowOffset := nLen

	if nCigar > 0 {
		for i := 0; i < nCigar; i++ {
			op := binary.LittleEndian.Uint32(shadowBuf[shadowOffset+i*4:])
			if CigarOpType(op&0xf) >= lastCigar {
				return nil, nil, decodeErrorf(BadCigarOp, "cigar op %d has op code %d", i, op&0xf)
			}
			*(*uint32)(unsafe.Pointer(&shadowBuf[shadowCigarOffset+i*4])) = op
		}
		rec.Cigar = UnsafeBytesToCigar(shadowBuf[shadowCigarOffset : shadowCigarOffset+nCigar*4])
		shadowOffset += nCigar * 4
	} else {
		rec.Cigar = nil
	}

	rec.Seq = Seq{Length: lSeq, Packed: shadowBuf[shadowOffset : shadowOffset+nDoubletBytes]}
	shadowOffset += nDoubletBytes
	rec.Qual = shadowBuf[shadowOffset : shadowOffset+lSeq]
	shadowOffset += lSeq

	aux := shadowBuf[shadowOffset:srcVariableBytes]
	nAux, auxLen, auxErr := countAuxFields(aux)
	if auxErr != nil {
		// Unknown or short trailing fields are dropped, not fatal: yield
		// the record with the well-formed prefix.
		warnings = append(warnings, auxErr)
		aux = aux[:auxLen]
	}
	if nAux > 0 {
		if cap(rec.AuxFields) < nAux {
			rec.AuxFields = make([]Aux, nAux)
		} else {
			rec.AuxFields = rec.AuxFields[:nAux]
		}
		parseAux(aux, rec.AuxFields)
	}

	rec.Pos = pos
	rec.MapQ = mapq
	rec.Bin = bin
	rec.Flags = flags
	rec.MatePos = matePos
	rec.TempLen = tempLen
	if refID != -1 {
		rec.Ref = header.Refs()[refID]
	}
	if nextRefID != -1 {
		rec.MateRef = header.Refs()[nextRefID]
	}

	if refID == -1 && (pos != -1 || flags&Unmapped == 0) {
		warnings = append(warnings, decodeErrorf(BadReference, "record %q has no reference but pos %d and flags %#x", rec.Name, pos, flags))
	}
	if lSeq > 0 && nCigar > 0 {
		if read := rec.Cigar.QuerySpan(); read > 0 && read != lSeq {
			warnings = append(warnings, decodeErrorf(BadBlockSize, "record %q cigar query span %d does not match sequence length %d", rec.Name, read, lSeq))
		}
	}
	return rec, warnings, nil
}
