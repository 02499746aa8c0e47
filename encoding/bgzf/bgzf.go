// Package bgzf reads and writes the .bgzf (blocked gzip) file format.  A
// .bgzf file consists of one or more complete gzip members concatenated
// together.  Each member carries a BC extra subfield recording the compressed
// member size, which makes it possible to address any uncompressed byte with
// a 64-bit virtual offset and to start inflating at an arbitrary member
// without touching the preceding ones.  Each member must represent at most
// 64KB of uncompressed data, and the compressed size of the member must be at
// most 64KB.  A valid .bgzf file ends with the 28 byte terminator member
// shown below; the terminator is a valid gzip member containing an empty
// payload.
//
// The .bgzf format is used by .bam files and Illumina .bcl.bgzf files from
// Nextseq instruments.
//
// For more information about the .bgzf file format, see the SAM/BAM spec
// here: https://samtools.github.io/hts-specs/SAMv1.pdf
package bgzf

const (
	// DefaultUncompressedBlockSize is the default bgzf
	// uncompressedBlockSize chosen by both sambamba and biogo.  See
	// the SAM/BAM specification for details.
	DefaultUncompressedBlockSize = 0x0ff00

	// MaxUncompressedBlockSize is the largest legal value for
	// uncompressedBlockSize.  Illumina's Nextseq machines use this
	// value when creating .bcl.bgzf files.
	MaxUncompressedBlockSize = 0x10000

	// compressedBlockSize is the maximum size of the compressed data
	// for a bgzf block.  See the SAM/BAM specification for details.
	compressedBlockSize = 0x10000
)

var (
	// bgzfExtra goes into the gzip's Extra subfield, with subfield
	// ids: 66, 67, and length 2.  See the SAM/BAM spec.
	bgzfExtra       = [...]byte{66, 67, 2, 0, 0, 0}
	bgzfExtraPrefix = [...]byte{66, 67, 2, 0}

	// terminator is the bgzf EOF terminator.  It belongs at the end
	// of a valid bgzf file.  See the SAM/BAM spec.
	terminator = []byte{
		0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0x06, 0x00, 0x42, 0x43,
		0x02, 0x00, 0x1b, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
)

// Offset is a bgzf virtual file offset.  File is the byte position of the
// start of a gzip member within the compressed stream, and Block is the byte
// position within that member's uncompressed payload.
type Offset struct {
	File  int64
	Block uint16
}

// VOffset returns the packed 64-bit form of o: the compressed offset in the
// upper 48 bits and the uncompressed offset in the lower 16.  Packed offsets
// order identically to stream order.
func (o Offset) VOffset() uint64 {
	return uint64(o.File)<<16 | uint64(o.Block)
}

// MakeOffset unpacks a 64-bit virtual offset into an Offset.
func MakeOffset(voffset uint64) Offset {
	return Offset{
		File:  int64(voffset >> 16),
		Block: uint16(voffset),
	}
}

// Chunk is a region of a bgzf file spanning [Begin, End).
type Chunk struct {
	Begin Offset
	End   Offset
}
