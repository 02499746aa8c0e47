package bam

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Aux is one optional field of an alignment record: a two character tag, a
// type byte and the raw little-endian value bytes.  String-typed fields are
// stored without their NUL terminator.  An Aux is a view into the owning
// record's scratch buffer and is only valid while that record is.
type Aux []byte

// auxWidths maps a type byte to the fixed width of its value, -1 for the
// variable-width types, and 0 for unknown types.
var auxWidths = [256]int{
	'A': 1,
	'c': 1, 'C': 1,
	's': 2, 'S': 2,
	'i': 4, 'I': 4,
	'f': 4,
	'Z': -1,
	'H': -1,
	'B': -1,
}

// Tag returns the two character tag name.
func (a Aux) Tag() string { return string(a[:2]) }

// Type returns the type byte: one of AcCsSiIfZHB.
func (a Aux) Type() byte { return a[2] }

// ArraySubtype returns the element type of a B array, or 0 for non-array
// fields.
func (a Aux) ArraySubtype() byte {
	if a.Type() != 'B' {
		return 0
	}
	return a[3]
}

// Value returns the decoded value: a byte for A, an int64 for every integer
// subtype, a float32 for f, a string for Z and H, and an []int64 or
// []float32 for B arrays.
func (a Aux) Value() interface{} {
	switch t := a.Type(); t {
	case 'A':
		return a[3]
	case 'c', 'C', 's', 'S', 'i', 'I':
		return auxInt(t, a[3:])
	case 'f':
		return math.Float32frombits(binary.LittleEndian.Uint32(a[3:]))
	case 'Z', 'H':
		return string(a[3:])
	case 'B':
		sub := a[3]
		n := int(binary.LittleEndian.Uint32(a[4:]))
		elems := a[8:]
		if sub == 'f' {
			vs := make([]float32, n)
			for i := range vs {
				vs[i] = math.Float32frombits(binary.LittleEndian.Uint32(elems[i*4:]))
			}
			return vs
		}
		w := auxWidths[sub]
		vs := make([]int64, n)
		for i := range vs {
			vs[i] = auxInt(sub, elems[i*w:])
		}
		return vs
	}
	panic(fmt.Sprintf("bam: unrecognised optional field type: %q", a.Type()))
}

// auxInt widens any of the six BAM integer subtypes to int64.
func auxInt(t byte, b []byte) int64 {
	switch t {
	case 'c':
		return int64(int8(b[0]))
	case 'C':
		return int64(b[0])
	case 's':
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case 'S':
		return int64(binary.LittleEndian.Uint16(b))
	case 'i':
		return int64(int32(binary.LittleEndian.Uint32(b)))
	case 'I':
		return int64(binary.LittleEndian.Uint32(b))
	}
	panic(fmt.Sprintf("bam: not an integer subtype: %q", t))
}

// String returns the SAM text form of the field, TAG:TYPE:VALUE, with the
// integer subtypes collapsed to i as SAM requires.
func (a Aux) String() string {
	var sb strings.Builder
	sb.WriteString(a.Tag())
	switch t := a.Type(); t {
	case 'A':
		sb.WriteString(":A:")
		sb.WriteByte(a[3])
	case 'c', 'C', 's', 'S', 'i', 'I':
		sb.WriteString(":i:")
		sb.WriteString(strconv.FormatInt(auxInt(t, a[3:]), 10))
	case 'f':
		fmt.Fprintf(&sb, ":f:%g", a.Value())
	case 'Z', 'H':
		sb.WriteByte(':')
		sb.WriteByte(t)
		sb.WriteByte(':')
		sb.Write(a[3:])
	case 'B':
		sb.WriteString(":B:")
		sb.WriteByte(a.ArraySubtype())
		switch vs := a.Value().(type) {
		case []int64:
			for _, v := range vs {
				sb.WriteByte(',')
				sb.WriteString(strconv.FormatInt(v, 10))
			}
		case []float32:
			for _, v := range vs {
				fmt.Fprintf(&sb, ",%g", v)
			}
		}
	}
	return sb.String()
}

// auxFieldLen validates the optional field at the front of aux and returns
// its total encoded length, including tag, type byte and any terminating
// NUL.
func auxFieldLen(aux []byte) (int, error) {
	if len(aux) < 3 {
		return 0, decodeErrorf(Truncated, "%d byte fragment where an optional field was expected", len(aux))
	}
	t := aux[2]
	switch w := auxWidths[t]; {
	case w > 0:
		if 3+w > len(aux) {
			return 0, decodeErrorf(Truncated, "%q field value crosses the record end", t)
		}
		return 3 + w, nil
	case t == 'Z' || t == 'H':
		nul := bytes.IndexByte(aux[3:], 0)
		if nul < 0 {
			return 0, decodeErrorf(Truncated, "unterminated %q field", t)
		}
		return 4 + nul, nil
	case t == 'B':
		if len(aux) < 8 {
			return 0, decodeErrorf(Truncated, "truncated B array header")
		}
		sub := aux[3]
		ew := auxWidths[sub]
		if ew <= 0 {
			return 0, decodeErrorf(BadAuxTag, "unknown B array subtype %q", sub)
		}
		count := int(int32(binary.LittleEndian.Uint32(aux[4:])))
		if count < 0 || 8+count*ew > len(aux) {
			return 0, decodeErrorf(Truncated, "B array of %d elements crosses the record end", count)
		}
		return 8 + count*ew, nil
	default:
		return 0, decodeErrorf(BadAuxTag, "unrecognised optional field type %q", t)
	}
}

// countAuxFields walks the optional-field region of a record and returns
// the number of fields it holds and the number of bytes they span.  A
// malformed field stops the walk: the returned count and length cover the
// well-formed prefix and err describes the offender.  One or two leftover
// bytes, too short to even name a field, are tolerated silently; some
// writers pad with them.
func countAuxFields(aux []byte) (naux, n int, err error) {
	for len(aux)-n >= 3 {
		fieldLen, ferr := auxFieldLen(aux[n:])
		if ferr != nil {
			return naux, n, ferr
		}
		n += fieldLen
		naux++
	}
	return naux, len(aux), nil
}

// parseAux slices the optional-field region into aa, which must have been
// sized by countAuxFields over the same bytes.  String-typed fields are
// stored without their NUL so that the value bytes are exactly a[3:].  The
// returned fields are views into aux.
func parseAux(aux []byte, aa []Aux) {
	n := 0
	for i := range aa {
		fieldLen, err := auxFieldLen(aux[n:])
		if err != nil {
			panic(fmt.Sprintf("bam: aux region changed since countAuxFields: %v", err))
		}
		field := aux[n : n+fieldLen : n+fieldLen]
		if t := field[2]; t == 'Z' || t == 'H' {
			field = field[:len(field)-1]
		}
		aa[i] = Aux(field)
		n += fieldLen
	}
}
