package bam

import "fmt"

// DecodeKind discriminates structural violations inside a BAM stream.
type DecodeKind int

const (
	// Truncated means a field would cross the end of the available bytes.
	Truncated DecodeKind = iota
	// BadMagic means the stream did not start with "BAM\1".
	BadMagic
	// BadBlockSize means a record's block_size (or a derived length field)
	// is negative, zero, or larger than the configured cap.
	BadBlockSize
	// BadCigarOp means a CIGAR operation carried an op code outside [0,8].
	BadCigarOp
	// BadAuxTag means an optional field carried an unknown type byte.
	BadAuxTag
	// BadReference means a record named a reference id outside the
	// dictionary.
	BadReference
)

func (k DecodeKind) String() string {
	switch k {
	case Truncated:
		return "truncated"
	case BadMagic:
		return "bad magic"
	case BadBlockSize:
		return "bad block size"
	case BadCigarOp:
		return "bad cigar op"
	case BadAuxTag:
		return "bad aux tag"
	case BadReference:
		return "bad reference id"
	}
	return fmt.Sprintf("decode error %d", int(k))
}

// DecodeError describes a structural violation found while decoding a BAM
// header or alignment record.  VOff is the virtual offset of the enclosing
// record when known.
type DecodeError struct {
	Kind   DecodeKind
	VOff   uint64
	Detail string
}

func (e *DecodeError) Error() string {
	if e.VOff != 0 {
		return fmt.Sprintf("bam: %s at voffset %#x: %s", e.Kind, e.VOff, e.Detail)
	}
	return fmt.Sprintf("bam: %s: %s", e.Kind, e.Detail)
}

func decodeErrorf(kind DecodeKind, format string, args ...interface{}) error {
	return &DecodeError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// isTruncated reports whether err is a DecodeError of kind Truncated, the
// signal that the decoder simply ran out of buffered bytes and may succeed
// once more of the stream arrives.
func isTruncated(err error) bool {
	e, ok := err.(*DecodeError)
	return ok && e.Kind == Truncated
}

// atVOffset stamps a DecodeError with the virtual offset of the record in
// which it occurred.
func atVOffset(err error, voff uint64) error {
	if e, ok := err.(*DecodeError); ok && e.VOff == 0 {
		e.VOff = voff
	}
	return err
}

// Warning is a non-fatal inconsistency observed while decoding.  Warnings
// never terminate iteration; the Reader surfaces them through its OnWarning
// hook.
type Warning struct {
	VOff uint64
	Err  error
}

func (w Warning) String() string {
	return fmt.Sprintf("warning at voffset %#x: %v", w.VOff, w.Err)
}
