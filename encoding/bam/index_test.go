package bam

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/grailbio/bamstream/encoding/bgzf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBin describes one bin of a synthetic BAI.
type testBin struct {
	num    uint32
	chunks []bgzf.Chunk
}

// testRefIndex describes one reference of a synthetic BAI.
type testRefIndex struct {
	bins      []testBin
	intervals []uint64
}

// baiBytes serializes a synthetic BAI file.
func baiBytes(t *testing.T, refs []testRefIndex, unplaced *uint64) []byte {
	var b bytes.Buffer
	le := binary.LittleEndian
	b.Write(baiMagic[:])
	require.NoError(t, binary.Write(&b, le, int32(len(refs))))
	for _, ref := range refs {
		require.NoError(t, binary.Write(&b, le, int32(len(ref.bins))))
		for _, bin := range ref.bins {
			require.NoError(t, binary.Write(&b, le, bin.num))
			require.NoError(t, binary.Write(&b, le, int32(len(bin.chunks))))
			for _, c := range bin.chunks {
				require.NoError(t, binary.Write(&b, le, c.Begin.VOffset()))
				require.NoError(t, binary.Write(&b, le, c.End.VOffset()))
			}
		}
		require.NoError(t, binary.Write(&b, le, int32(len(ref.intervals))))
		for _, iv := range ref.intervals {
			require.NoError(t, binary.Write(&b, le, iv))
		}
	}
	if unplaced != nil {
		require.NoError(t, binary.Write(&b, le, *unplaced))
	}
	return b.Bytes()
}

func chunk(beginFile int64, beginBlock uint16, endFile int64, endBlock uint16) bgzf.Chunk {
	return bgzf.Chunk{
		Begin: bgzf.Offset{File: beginFile, Block: beginBlock},
		End:   bgzf.Offset{File: endFile, Block: endBlock},
	}
}

func TestReadIndex(t *testing.T) {
	unplaced := uint64(7)
	data := baiBytes(t, []testRefIndex{
		{
			bins: []testBin{
				{num: 4681, chunks: []bgzf.Chunk{chunk(100, 5, 200, 10)}},
				{num: MetadataBin, chunks: []bgzf.Chunk{
					chunk(100, 5, 300, 0), // first/last record voffsets
					{Begin: bgzf.MakeOffset(12), End: bgzf.MakeOffset(3)}, // mapped/unmapped counts
				}},
			},
			intervals: []uint64{100 << 16, 150 << 16},
		},
		{},
	}, &unplaced)

	idx, err := ReadIndex(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, idx.Refs, 2)

	ref := idx.Refs[0]
	// The metadata pseudo-bin is kept out of the query bins.
	require.Len(t, ref.Bins, 1)
	assert.Equal(t, []bgzf.Chunk{chunk(100, 5, 200, 10)}, ref.Bins[4681])
	require.NotNil(t, ref.Meta)
	assert.Equal(t, uint64(12), ref.Meta.MappedCount)
	assert.Equal(t, uint64(3), ref.Meta.UnmappedCount)
	require.Len(t, ref.Intervals, 2)
	assert.Equal(t, int64(150), ref.Intervals[1].File)

	assert.Empty(t, idx.Refs[1].Bins)
	require.NotNil(t, idx.UnplacedUnmapped)
	assert.Equal(t, uint64(7), *idx.UnplacedUnmapped)
}

func TestReadIndexNoTrailer(t *testing.T) {
	data := baiBytes(t, []testRefIndex{{}}, nil)
	idx, err := ReadIndex(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Nil(t, idx.UnplacedUnmapped)
}

func TestReadIndexBadMagic(t *testing.T) {
	_, err := ReadIndex(bytes.NewReader([]byte("CSI\x01junkjunkjunk")))
	require.Error(t, err)
}

func TestReadIndexNonMonotonicLinear(t *testing.T) {
	// A decreasing linear index is an invariant violation, but only a
	// warning: the index still loads and queries proceed.
	data := baiBytes(t, []testRefIndex{
		{intervals: []uint64{500 << 16, 100 << 16}},
	}, nil)
	idx, err := ReadIndex(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, idx.Refs[0].Intervals, 2)
}

func TestReadIndexMalformedMetadataBin(t *testing.T) {
	data := baiBytes(t, []testRefIndex{
		{bins: []testBin{{num: MetadataBin, chunks: []bgzf.Chunk{chunk(1, 0, 2, 0)}}}},
	}, nil)
	idx, err := ReadIndex(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Nil(t, idx.Refs[0].Meta)
	assert.Empty(t, idx.Refs[0].Bins)
}

func TestChunksBasic(t *testing.T) {
	idx := &Index{Refs: []RefIndex{{
		Bins: map[uint32][]bgzf.Chunk{
			4681: {chunk(100, 0, 200, 0)},
		},
		Intervals: []bgzf.Offset{{File: 100}},
	}}}

	// A query over the covered tile returns the chunk.
	chunks := idx.Chunks(0, 0, 100, QueryOpts{})
	require.Len(t, chunks, 1)
	assert.Equal(t, chunk(100, 0, 200, 0), chunks[0])

	// A query in a different leaf tile misses the bin entirely.
	assert.Empty(t, idx.Chunks(0, 1<<17, 1<<17+50, QueryOpts{}))

	// Out-of-range reference ids yield nothing.
	assert.Empty(t, idx.Chunks(-1, 0, 100, QueryOpts{}))
	assert.Empty(t, idx.Chunks(5, 0, 100, QueryOpts{}))
}

func TestChunksLinearIndexFilter(t *testing.T) {
	idx := &Index{Refs: []RefIndex{{
		Bins: map[uint32][]bgzf.Chunk{
			// Bin 585 covers the whole first 128KB tile range; its chunks
			// are candidates for any query in that range.
			585: {chunk(10, 0, 20, 0), chunk(3000, 0, 4000, 0)},
		},
		// The second 16KB tile starts at voffset 1000<<16: chunks that end
		// at or before it cannot contain overlapping records.
		Intervals: []bgzf.Offset{{File: 5}, {File: 1000}},
	}}}

	chunks := idx.Chunks(0, 1<<14, 1<<14+100, QueryOpts{})
	require.Len(t, chunks, 1)
	assert.Equal(t, chunk(3000, 0, 4000, 0), chunks[0])

	// A query past the end of the linear index falls back to a minimum
	// offset of zero and keeps every candidate chunk.
	chunks = idx.Chunks(0, 1<<16, 1<<16+100, QueryOpts{ChunkMergeGap: 1})
	require.Len(t, chunks, 2)
}

func TestChunksMerge(t *testing.T) {
	idx := &Index{Refs: []RefIndex{{
		Bins: map[uint32][]bgzf.Chunk{
			4681: {chunk(0, 0, 100, 0), chunk(150, 0, 300, 0)},
			585:  {chunk(90, 0, 120, 0)},
			0:    {chunk(1 << 30, 0, 1<<30+10, 0)},
		},
	}}}

	// With the default 64KB merge gap everything below the distant chunk
	// coalesces into one seek.
	chunks := idx.Chunks(0, 0, 1000, QueryOpts{})
	require.Len(t, chunks, 2)
	assert.Equal(t, chunk(0, 0, 300, 0), chunks[0])
	assert.Equal(t, chunk(1<<30, 0, 1<<30+10, 0), chunks[1])

	// With a 1 byte gap threshold only chunks that overlap, touch, or share
	// a bgzf member merge.
	chunks = idx.Chunks(0, 0, 1000, QueryOpts{ChunkMergeGap: 1})
	require.Len(t, chunks, 3)
	assert.Equal(t, chunk(0, 0, 120, 0), chunks[0])
	assert.Equal(t, chunk(150, 0, 300, 0), chunks[1])
}
