package bam

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/grailbio/base/log"
	"github.com/grailbio/bamstream/encoding/bgzf"
)

// MetadataBin is the pseudo-bin number under which BAI writers stash
// per-reference statistics instead of query chunks.
const MetadataBin = 37450

// maxIntervals is the largest linear index a ~2Gbp reference can need; a
// longer one is reported as an index invariant violation.
const maxIntervals = 1 << 17

// Index is the in-memory form of a .bai index file.  An Index is immutable
// after ReadIndex returns and may be shared by any number of concurrent
// queries.
type Index struct {
	Refs []RefIndex
	// UnplacedUnmapped is the optional trailing count of unplaced unmapped
	// reads, when the writer recorded one.
	UnplacedUnmapped *uint64
}

// RefIndex is the index of a single reference: its query bins, its linear
// index, and the optional metadata pseudo-bin.
type RefIndex struct {
	Bins      map[uint32][]bgzf.Chunk
	Intervals []bgzf.Offset
	Meta      *Metadata
}

// Metadata is the content of the metadata pseudo-bin.
type Metadata struct {
	MappedBegin   uint64
	MappedEnd     uint64
	MappedCount   uint64
	UnmappedCount uint64
}

var baiMagic = [4]byte{'B', 'A', 'I', 0x1}

// ReadIndex parses the content of r and returns an Index.  Violations of
// the index's internal invariants (an oversized or non-monotonic linear
// index, a malformed metadata bin) are logged and tolerated: queries against
// the loaded index proceed.
func ReadIndex(r io.Reader) (*Index, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, err
	}
	if magic != baiMagic {
		return nil, fmt.Errorf("bam index invalid magic: %v", magic)
	}

	var refCount int32
	if err := binary.Read(r, binary.LittleEndian, &refCount); err != nil {
		return nil, err
	}
	if refCount < 0 {
		return nil, fmt.Errorf("bam index has negative reference count %d", refCount)
	}
	idx := &Index{Refs: make([]RefIndex, refCount)}

	for refID := 0; int32(refID) < refCount; refID++ {
		var binCount int32
		if err := binary.Read(r, binary.LittleEndian, &binCount); err != nil {
			return nil, err
		}
		ref := RefIndex{Bins: make(map[uint32][]bgzf.Chunk, binCount)}
		for b := 0; int32(b) < binCount; b++ {
			var binNum uint32
			if err := binary.Read(r, binary.LittleEndian, &binNum); err != nil {
				return nil, err
			}
			var chunkCount int32
			if err := binary.Read(r, binary.LittleEndian, &chunkCount); err != nil {
				return nil, err
			}
			chunks := make([]bgzf.Chunk, chunkCount)
			for c := range chunks {
				var begin, end uint64
				if err := binary.Read(r, binary.LittleEndian, &begin); err != nil {
					return nil, err
				}
				if err := binary.Read(r, binary.LittleEndian, &end); err != nil {
					return nil, err
				}
				chunks[c] = bgzf.Chunk{Begin: bgzf.MakeOffset(begin), End: bgzf.MakeOffset(end)}
			}

			if binNum == MetadataBin {
				// The metadata chunk pair goes to ref.Meta, not the query
				// bin map.
				if len(chunks) != 2 {
					log.Error.Printf("bam index: metadata bin for reference %d has %d chunks, should have 2", refID, len(chunks))
					continue
				}
				ref.Meta = &Metadata{
					MappedBegin:   chunks[0].Begin.VOffset(),
					MappedEnd:     chunks[0].End.VOffset(),
					MappedCount:   chunks[1].Begin.VOffset(),
					UnmappedCount: chunks[1].End.VOffset(),
				}
			} else {
				ref.Bins[binNum] = chunks
			}
		}

		var intervalCount int32
		if err := binary.Read(r, binary.LittleEndian, &intervalCount); err != nil {
			return nil, err
		}
		if intervalCount > maxIntervals {
			log.Error.Printf("bam index: reference %d has %d linear intervals, more than a 2Gbp reference can need", refID, intervalCount)
		}
		ref.Intervals = make([]bgzf.Offset, intervalCount)
		monotonic := true
		var prev uint64
		for inv := range ref.Intervals {
			var ioffset uint64
			if err := binary.Read(r, binary.LittleEndian, &ioffset); err != nil {
				return nil, err
			}
			if ioffset < prev {
				monotonic = false
			}
			prev = ioffset
			ref.Intervals[inv] = bgzf.MakeOffset(ioffset)
		}
		if !monotonic {
			log.Error.Printf("bam index: reference %d linear index is not monotonic", refID)
		}
		idx.Refs[refID] = ref
	}

	var unmappedCount uint64
	if err := binary.Read(r, binary.LittleEndian, &unmappedCount); err == nil {
		idx.UnplacedUnmapped = &unmappedCount
	} else if err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return idx, nil
}

// QueryOpts configures Index.Chunks.
type QueryOpts struct {
	// ChunkMergeGap bounds the compressed-byte gap across which two
	// adjacent chunks are merged into one seek: they merge when the gap is
	// smaller than this.  Defaults to DefaultChunkMergeGap.
	ChunkMergeGap int64
}

// DefaultChunkMergeGap is the default QueryOpts.ChunkMergeGap.
const DefaultChunkMergeGap = 64 << 10

// Chunks returns the merged bgzf chunks that may contain records
// overlapping the 0-based half-open interval [beg, end) on the given
// reference, in ascending virtual-offset order.  The result over-approximates:
// callers must still filter the records they decode by coordinate.
func (idx *Index) Chunks(refID, beg, end int, opts QueryOpts) []bgzf.Chunk {
	if refID < 0 || refID >= len(idx.Refs) {
		return nil
	}
	if opts.ChunkMergeGap <= 0 {
		opts.ChunkMergeGap = DefaultChunkMergeGap
	}
	ref := idx.Refs[refID]

	var chunks []bgzf.Chunk
	for _, bin := range Reg2Bins(beg, end) {
		chunks = append(chunks, ref.Bins[uint32(bin)]...)
	}
	if len(chunks) == 0 {
		return nil
	}

	// The linear index gives the smallest virtual offset at which a record
	// overlapping the query's first tile can start; chunks that end at or
	// before it cannot contribute.  An interval past the end of the linear
	// index falls back to offset 0.
	var minOffset uint64
	if tile := beg >> linearWindowShift; tile >= 0 && tile < len(ref.Intervals) {
		minOffset = ref.Intervals[tile].VOffset()
	}
	filtered := chunks[:0]
	for _, c := range chunks {
		if c.End.VOffset() <= minOffset {
			continue
		}
		filtered = append(filtered, c)
	}
	chunks = filtered
	if len(chunks) == 0 {
		return nil
	}

	sort.Slice(chunks, func(i, j int) bool {
		return chunks[i].Begin.VOffset() < chunks[j].Begin.VOffset()
	})

	// Merge overlapping chunks, and adjacent ones whose compressed gap is
	// below the threshold, to minimize seeks.
	merged := chunks[:1]
	for _, c := range chunks[1:] {
		last := &merged[len(merged)-1]
		if c.Begin.VOffset() <= last.End.VOffset() ||
			c.Begin.File-last.End.File < opts.ChunkMergeGap {
			if c.End.VOffset() > last.End.VOffset() {
				last.End = c.End
			}
			continue
		}
		merged = append(merged, c)
	}
	return merged
}
