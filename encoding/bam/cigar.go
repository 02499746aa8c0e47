package bam

import "strconv"

// CigarOp is one CIGAR operation as stored on the wire: the length in the
// upper 28 bits and the op code in the lower 4.
type CigarOp uint32

// NewCigarOp returns a CIGAR operation of type t with length n.
func NewCigarOp(t CigarOpType, n int) CigarOp {
	return CigarOp(n)<<4 | CigarOp(t)
}

// Type returns the operation's type code.
func (op CigarOp) Type() CigarOpType { return CigarOpType(op & 0xf) }

// Len returns the operation's length.
func (op CigarOp) Len() int { return int(op >> 4) }

// appendText appends the SAM text form of the operation, e.g. "76M".
func (op CigarOp) appendText(dst []byte) []byte {
	dst = strconv.AppendUint(dst, uint64(op>>4), 10)
	return append(dst, op.Type().Char())
}

func (op CigarOp) String() string { return string(op.appendText(nil)) }

// CigarOpType is a CIGAR operation code.  BAM stores the codes 0 through 8;
// anything larger is rejected by the record decoder.
type CigarOpType byte

const (
	CigarMatch       CigarOpType = iota // M: alignment match, sequence match or mismatch
	CigarInsertion                      // I: insertion to the reference
	CigarDeletion                       // D: deletion from the reference
	CigarSkipped                        // N: skipped region from the reference
	CigarSoftClipped                    // S: clipped sequence present in SEQ
	CigarHardClipped                    // H: clipped sequence not present in SEQ
	CigarPadded                         // P: silent deletion from padded reference
	CigarEqual                          // =: sequence match
	CigarMismatch                       // X: sequence mismatch
	lastCigar
)

// opChars holds the SAM one-letter op names in op-code order.
const opChars = "MIDNSHP=X"

// Char returns the SAM one-letter name of the op type, or '?' for codes
// outside the wire format.
func (t CigarOpType) Char() byte {
	if t >= lastCigar {
		return '?'
	}
	return opChars[t]
}

func (t CigarOpType) String() string { return string(t.Char()) }

// Op-code sets, one bit per code: which operations advance the read and
// which advance the reference.
const (
	queryConsumers = 1<<CigarMatch | 1<<CigarInsertion | 1<<CigarSoftClipped |
		1<<CigarEqual | 1<<CigarMismatch
	refConsumers = 1<<CigarMatch | 1<<CigarDeletion | 1<<CigarSkipped |
		1<<CigarEqual | 1<<CigarMismatch
)

// ConsumesQuery reports whether the op type advances the read position.
func (t CigarOpType) ConsumesQuery() bool { return queryConsumers&(1<<t) != 0 }

// ConsumesReference reports whether the op type advances the reference
// position.
func (t CigarOpType) ConsumesReference() bool { return refConsumers&(1<<t) != 0 }

// Cigar is a record's CIGAR: a sequence of operations.
type Cigar []CigarOp

// String returns the SAM text form, or "*" for an empty CIGAR.
func (c Cigar) String() string {
	if len(c) == 0 {
		return "*"
	}
	dst := make([]byte, 0, 4*len(c))
	for _, op := range c {
		dst = op.appendText(dst)
	}
	return string(dst)
}

// RefSpan returns the number of reference bases the alignment covers: the
// summed lengths of the reference-consuming operations.
func (c Cigar) RefSpan() int {
	span := 0
	for _, op := range c {
		if op.Type().ConsumesReference() {
			span += op.Len()
		}
	}
	return span
}

// QuerySpan returns the number of read bases the alignment covers: the
// summed lengths of the query-consuming operations.
func (c Cigar) QuerySpan() int {
	span := 0
	for _, op := range c {
		if op.Type().ConsumesQuery() {
			span += op.Len()
		}
	}
	return span
}
