package bam

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRefs = []testRef{{name: "chr1", length: 1000}}

// body strips the block_size field from a marshalled record.
func body(r testRec) []byte { return r.marshal()[4:] }

func TestUnmarshalMinimalMappedRecord(t *testing.T) {
	h := testHeader(testRefs)
	rec, warns, err := Unmarshal(body(testRec{
		name:    "r1",
		refID:   0,
		pos:     99,
		mapq:    60,
		bin:     Reg2Bin(99, 104),
		cigar:   []CigarOp{NewCigarOp(CigarMatch, 5)},
		seq:     "ACGTA",
		qual:    []byte{30, 30, 30, 30, 30},
		mateRef: -1,
		matePos: -1,
	}), h)
	require.NoError(t, err)
	require.Empty(t, warns)

	assert.Equal(t, "r1", rec.Name)
	assert.Equal(t, Flags(0), rec.Flags)
	assert.Equal(t, "chr1", rec.RefName())
	assert.Equal(t, 99, rec.Pos)
	assert.Equal(t, byte(60), rec.MapQ)
	assert.Equal(t, "5M", rec.Cigar.String())
	assert.Equal(t, "ACGTA", rec.Seq.String())
	assert.Equal(t, 104, rec.End())
	assert.Equal(t, Reg2Bin(rec.Start(), rec.End()), rec.Bin)
	assert.Equal(t,
		"r1\t0\tchr1\t100\t60\t5M\t*\t0\t0\tACGTA\t?????",
		rec.String())
	PutInFreePool(rec)
}

func TestUnmarshalUnmappedRecord(t *testing.T) {
	h := testHeader(testRefs)
	rec, warns, err := Unmarshal(body(testRec{
		name:    "u1",
		refID:   -1,
		pos:     -1,
		flags:   uint16(Unmapped),
		mateRef: -1,
		matePos: -1,
	}), h)
	require.NoError(t, err)
	require.Empty(t, warns)

	assert.Equal(t, "*", rec.RefName())
	assert.Equal(t, -1, rec.Pos)
	assert.Equal(t, "*", rec.Cigar.String())
	assert.Equal(t, "*", rec.Seq.String())
	assert.Equal(t, "u1\t4\t*\t0\t0\t*\t*\t0\t0\t*\t*", rec.String())
	PutInFreePool(rec)
}

func TestUnmarshalMateFields(t *testing.T) {
	h := testHeader([]testRef{{name: "chr1", length: 1000}, {name: "chr2", length: 500}})
	rec, _, err := Unmarshal(body(testRec{
		name: "p1", refID: 0, pos: 10, cigar: []CigarOp{NewCigarOp(CigarMatch, 2)},
		seq: "AC", qual: []byte{20, 20},
		mateRef: 0, matePos: 50, tempLen: 42,
	}), h)
	require.NoError(t, err)
	assert.Equal(t, rec.Ref, rec.MateRef)
	assert.Contains(t, rec.String(), "\t=\t51\t42\t")
	PutInFreePool(rec)

	rec, _, err = Unmarshal(body(testRec{
		name: "p2", refID: 0, pos: 10, cigar: []CigarOp{NewCigarOp(CigarMatch, 2)},
		seq: "AC", qual: []byte{20, 20},
		mateRef: 1, matePos: 7,
	}), h)
	require.NoError(t, err)
	assert.Equal(t, "chr2", rec.MateRef.Name())
	assert.Contains(t, rec.String(), "\tchr2\t8\t")
	PutInFreePool(rec)
}

// auxBytes builds one raw optional field.
func auxBytes(tag string, typ byte, value ...byte) []byte {
	return append(append([]byte(tag), typ), value...)
}

func TestUnmarshalAuxFields(t *testing.T) {
	h := testHeader(testRefs)
	var aux []byte
	aux = append(aux, auxBytes("XA", 'A', 'g')...)
	aux = append(aux, auxBytes("Xc", 'c', 0xfe)...) // int8(-2)
	aux = append(aux, auxBytes("XC", 'C', 0xfe)...) // uint8(254)
	aux = append(aux, auxBytes("Xs", 's', 0x00, 0x80)...)
	aux = append(aux, auxBytes("XS", 'S', 0x00, 0x80)...)
	aux = append(aux, auxBytes("Xi", 'i', 0xff, 0xff, 0xff, 0xff)...)
	aux = append(aux, auxBytes("XI", 'I', 0xff, 0xff, 0xff, 0xff)...)
	var f [4]byte
	binary.LittleEndian.PutUint32(f[:], math.Float32bits(1.5))
	aux = append(aux, auxBytes("Xf", 'f', f[:]...)...)
	aux = append(aux, auxBytes("XZ", 'Z', 'h', 'i', 0)...)
	aux = append(aux, auxBytes("XH", 'H', '1', 'F', 0)...)
	aux = append(aux, auxBytes("XB", 'B', 'c', 3, 0, 0, 0, 1, 2, 0xff)...)
	aux = append(aux, auxBytes("XF", 'B', 'f', 1, 0, 0, 0, f[0], f[1], f[2], f[3])...)

	rec, warns, err := Unmarshal(body(testRec{
		name: "a1", refID: 0, pos: 5, cigar: []CigarOp{NewCigarOp(CigarMatch, 1)},
		seq: "A", qual: []byte{10}, mateRef: -1, matePos: -1,
		aux: aux,
	}), h)
	require.NoError(t, err)
	require.Empty(t, warns)
	require.Equal(t, 12, len(rec.AuxFields))

	get := func(tag string) Aux {
		for _, a := range rec.AuxFields {
			if a.Tag() == tag {
				return a
			}
		}
		t.Fatalf("tag %s not found", tag)
		return nil
	}
	assert.Equal(t, byte('g'), get("XA").Value())
	assert.Equal(t, int64(-2), get("Xc").Value())
	assert.Equal(t, int64(254), get("XC").Value())
	assert.Equal(t, int64(-32768), get("Xs").Value())
	assert.Equal(t, int64(32768), get("XS").Value())
	assert.Equal(t, int64(-1), get("Xi").Value())
	assert.Equal(t, int64(4294967295), get("XI").Value())
	assert.Equal(t, float32(1.5), get("Xf").Value())
	assert.Equal(t, "hi", get("XZ").Value())
	assert.Equal(t, "1F", get("XH").Value())
	assert.Equal(t, []int64{1, 2, -1}, get("XB").Value())
	assert.Equal(t, byte('c'), get("XB").ArraySubtype())
	assert.Equal(t, []float32{1.5}, get("XF").Value())

	assert.Equal(t, "Xc:i:-2", get("Xc").String())
	assert.Equal(t, "XB:B:c,1,2,-1", get("XB").String())
	assert.Equal(t, "XZ:Z:hi", get("XZ").String())
	PutInFreePool(rec)
}

func TestUnmarshalUnknownAuxType(t *testing.T) {
	h := testHeader(testRefs)
	aux := append(auxBytes("XZ", 'Z', 'o', 'k', 0), auxBytes("XQ", 'q', 1, 2, 3)...)
	rec, warns, err := Unmarshal(body(testRec{
		name: "w1", refID: 0, pos: 5, cigar: []CigarOp{NewCigarOp(CigarMatch, 1)},
		seq: "A", qual: []byte{10}, mateRef: -1, matePos: -1,
		aux: aux,
	}), h)
	require.NoError(t, err)
	// The record is still yielded: the well-formed prefix survives and the
	// offender is reported as a warning.
	require.Len(t, warns, 1)
	decodeErr, ok := warns[0].(*DecodeError)
	require.True(t, ok)
	assert.Equal(t, BadAuxTag, decodeErr.Kind)
	require.Len(t, rec.AuxFields, 1)
	assert.Equal(t, "ok", rec.AuxFields[0].Value())
	PutInFreePool(rec)
}

func TestUnmarshalBadCigarOp(t *testing.T) {
	h := testHeader(testRefs)
	_, _, err := Unmarshal(body(testRec{
		name: "c1", refID: 0, pos: 5, cigar: []CigarOp{CigarOp(5<<4 | 0xe)},
		seq: "AAAAA", qual: []byte{1, 2, 3, 4, 5}, mateRef: -1, matePos: -1,
	}), h)
	require.Error(t, err)
	assert.Equal(t, BadCigarOp, err.(*DecodeError).Kind)
}

func TestUnmarshalBadReference(t *testing.T) {
	h := testHeader(testRefs)
	_, _, err := Unmarshal(body(testRec{
		name: "b1", refID: 7, pos: 5, mateRef: -1, matePos: -1,
	}), h)
	require.Error(t, err)
	assert.Equal(t, BadReference, err.(*DecodeError).Kind)

	_, _, err = Unmarshal(body(testRec{
		name: "b2", refID: 0, pos: 5, mateRef: 7, matePos: -1,
	}), h)
	require.Error(t, err)
	assert.Equal(t, BadReference, err.(*DecodeError).Kind)
}

func TestUnmarshalTruncatedBlock(t *testing.T) {
	h := testHeader(testRefs)
	block := body(testRec{
		name: "t1", refID: 0, pos: 5, cigar: []CigarOp{NewCigarOp(CigarMatch, 5)},
		seq: "ACGTA", qual: []byte{1, 2, 3, 4, 5}, mateRef: -1, matePos: -1,
	})
	for _, cut := range []int{0, 10, bamFixedBytes, len(block) - 1} {
		_, _, err := Unmarshal(block[:cut], h)
		require.Error(t, err, "cut=%d", cut)
		assert.Equal(t, Truncated, err.(*DecodeError).Kind, "cut=%d", cut)
	}
}

func TestUnmarshalSeqSpanMismatchWarning(t *testing.T) {
	h := testHeader(testRefs)
	rec, warns, err := Unmarshal(body(testRec{
		name: "m1", refID: 0, pos: 5, cigar: []CigarOp{NewCigarOp(CigarMatch, 3)},
		seq: "ACGTA", qual: []byte{1, 2, 3, 4, 5}, mateRef: -1, matePos: -1,
	}), h)
	require.NoError(t, err)
	require.Len(t, warns, 1)
	assert.Equal(t, "ACGTA", rec.Seq.String())
	PutInFreePool(rec)
}

func TestUnmarshalUnmappedInconsistencyWarning(t *testing.T) {
	h := testHeader(testRefs)
	rec, warns, err := Unmarshal(body(testRec{
		name: "i1", refID: -1, pos: 42, mateRef: -1, matePos: -1,
	}), h)
	require.NoError(t, err)
	require.Len(t, warns, 1)
	PutInFreePool(rec)
}

func TestUnmarshalQualUnavailable(t *testing.T) {
	h := testHeader(testRefs)
	rec, warns, err := Unmarshal(body(testRec{
		name: "q1", refID: 0, pos: 5, cigar: []CigarOp{NewCigarOp(CigarMatch, 3)},
		seq: "ACG", qual: []byte{0xff, 0xff, 0xff}, mateRef: -1, matePos: -1,
	}), h)
	require.NoError(t, err)
	require.Empty(t, warns)
	assert.Contains(t, rec.String(), "\tACG\t*")
	PutInFreePool(rec)
}

func TestUnmarshalOddLengthSeq(t *testing.T) {
	h := testHeader(testRefs)
	rec, warns, err := Unmarshal(body(testRec{
		name: "o1", refID: 0, pos: 5, cigar: []CigarOp{NewCigarOp(CigarMatch, 3)},
		seq: "ACG", qual: []byte{9, 9, 9}, mateRef: -1, matePos: -1,
	}), h)
	require.NoError(t, err)
	require.Empty(t, warns)
	assert.Equal(t, "ACG", rec.Seq.String())
	assert.Equal(t, 2, len(rec.Seq.Packed))
	PutInFreePool(rec)
}

func TestBlockSizeArithmetic(t *testing.T) {
	// For every record, the declared block size must equal the sum of its
	// parts.
	r := testRec{
		name: "s1", refID: 0, pos: 5, cigar: []CigarOp{NewCigarOp(CigarMatch, 5)},
		seq: "ACGTA", qual: []byte{1, 2, 3, 4, 5}, mateRef: -1, matePos: -1,
		aux: auxBytes("XZ", 'Z', 'v', 0),
	}
	block := r.marshal()
	blockSize := int(int32(binary.LittleEndian.Uint32(block)))
	nCigar, lName, lSeq, tagBytes := 1, len(r.name)+1, len(r.seq), len(r.aux)
	assert.Equal(t, blockSize+4, nCigar*4+lName+(lSeq+1)/2+lSeq+32+tagBytes+4)
	assert.Equal(t, blockSize+4, len(block))
}
