package bam

// The BAI binning scheme is the UCSC/SAM hierarchy: one root bin of width
// 2^29, then five levels of 8, 64, 512, 4096 and 32768 bins of widths 2^26,
// 2^23, 2^20, 2^17 and 2^14.  The numbering is breadth first: bin 0 is the
// root, bins 1-8 are level 1, and so on down to bins 4681-37448 at the
// leaves.

const (
	// maxBinPos is the largest coordinate the binning scheme can address.
	maxBinPos = 1 << 29
	// linearWindowShift is the log2 width of a linear-index tile.
	linearWindowShift = 14
)

// Reg2Bin returns the number of the deepest bin that fully contains the
// 0-based half-open interval [beg, end).
func Reg2Bin(beg, end int) uint16 {
	end--
	switch {
	case beg>>14 == end>>14:
		return uint16(((1<<15)-1)/7 + (beg >> 14))
	case beg>>17 == end>>17:
		return uint16(((1<<12)-1)/7 + (beg >> 17))
	case beg>>20 == end>>20:
		return uint16(((1<<9)-1)/7 + (beg >> 20))
	case beg>>23 == end>>23:
		return uint16(((1<<6)-1)/7 + (beg >> 23))
	case beg>>26 == end>>26:
		return uint16(((1<<3)-1)/7 + (beg >> 26))
	}
	return 0
}

// Reg2Bins returns the numbers of every bin, the root included, whose
// interval overlaps the 0-based half-open interval [beg, end).
func Reg2Bins(beg, end int) []uint16 {
	if beg < 0 {
		beg = 0
	}
	if end > maxBinPos {
		end = maxBinPos
	}
	if beg >= end {
		return nil
	}
	end--
	bins := make([]uint16, 0, 8)
	bins = append(bins, 0)
	for _, level := range []struct {
		first uint16
		shift uint
	}{
		{1, 26},
		{9, 23},
		{73, 20},
		{585, 17},
		{4681, 14},
	} {
		for k := level.first + uint16(beg>>level.shift); k <= level.first+uint16(end>>level.shift); k++ {
			bins = append(bins, k)
		}
	}
	return bins
}
