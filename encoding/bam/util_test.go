package bam

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/grailbio/bamstream/encoding/bgzf"
	"github.com/stretchr/testify/require"
)

// testRef describes one reference dictionary entry for test inputs.
type testRef struct {
	name   string
	length int
}

// testRec describes one alignment for test inputs.
type testRec struct {
	name    string
	refID   int32
	pos     int32
	mapq    byte
	bin     uint16
	flags   uint16
	cigar   []CigarOp
	seq     string
	qual    []byte
	mateRef int32
	matePos int32
	tempLen int32
	aux     []byte
}

// marshal serializes the record as one alignment block, including the
// leading block_size field.
func (r testRec) marshal() []byte {
	var b bytes.Buffer
	le := binary.LittleEndian
	put32 := func(v int32) {
		var tmp [4]byte
		le.PutUint32(tmp[:], uint32(v))
		b.Write(tmp[:])
	}
	seq := NewSeq([]byte(r.seq))

	put32(0) // block_size placeholder
	put32(r.refID)
	put32(r.pos)
	b.WriteByte(byte(len(r.name) + 1))
	b.WriteByte(r.mapq)
	var tmp [2]byte
	le.PutUint16(tmp[:], r.bin)
	b.Write(tmp[:])
	le.PutUint16(tmp[:], uint16(len(r.cigar)))
	b.Write(tmp[:])
	le.PutUint16(tmp[:], r.flags)
	b.Write(tmp[:])
	put32(int32(seq.Length))
	put32(r.mateRef)
	put32(r.matePos)
	put32(r.tempLen)
	b.WriteString(r.name)
	b.WriteByte(0)
	for _, op := range r.cigar {
		put32(int32(op))
	}
	b.Write(seq.Packed)
	b.Write(r.qual)
	b.Write(r.aux)

	block := b.Bytes()
	le.PutUint32(block, uint32(len(block)-4))
	return block
}

// headerBytes serializes a BAM header with the given SAM text and
// references.
func headerBytes(text string, refs []testRef) []byte {
	var b bytes.Buffer
	le := binary.LittleEndian
	put32 := func(v int32) {
		var tmp [4]byte
		le.PutUint32(tmp[:], uint32(v))
		b.Write(tmp[:])
	}
	b.Write(bamMagic[:])
	put32(int32(len(text)))
	b.WriteString(text)
	put32(int32(len(refs)))
	for _, ref := range refs {
		put32(int32(len(ref.name) + 1))
		b.WriteString(ref.name)
		b.WriteByte(0)
		put32(int32(ref.length))
	}
	return b.Bytes()
}

// testHeader builds a decoded Header directly, for Unmarshal tests.
func testHeader(refs []testRef) *Header {
	h := &Header{}
	for i, ref := range refs {
		h.refs = append(h.refs, &Reference{id: i, name: ref.name, length: ref.length})
	}
	return h
}

// buildBAM frames the header and records into a bgzf stream with the given
// uncompressed block size.  It returns the stream and the virtual offset of
// each record.
func buildBAM(t *testing.T, blockSize int, text string, refs []testRef, recs []testRec) ([]byte, []uint64) {
	var buf bytes.Buffer
	w, err := bgzf.NewWriterParams(&buf, 5, blockSize)
	require.NoError(t, err)
	_, err = w.Write(headerBytes(text, refs))
	require.NoError(t, err)
	voffs := make([]uint64, len(recs))
	for i, rec := range recs {
		voffs[i] = w.VOffset()
		_, err = w.Write(rec.marshal())
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes(), voffs
}
