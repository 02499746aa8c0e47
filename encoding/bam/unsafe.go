package bam

// Functions in this file provide unsafe casting between Cigar and []byte.

import (
	"reflect"
	"unsafe"
)

// CigarOpSize is the size of one CigarOp, in bytes.
const CigarOpSize = int(unsafe.Sizeof(CigarOp(0)))

// UnsafeBytesToCigar casts src to Cigar.  "src" must store an array of
// uint32s (CigarOps) in host byte order, 4-byte aligned.
func UnsafeBytesToCigar(src []byte) (cigar Cigar) {
	sh := (*reflect.SliceHeader)(unsafe.Pointer(&src))
	dh := (*reflect.SliceHeader)(unsafe.Pointer(&cigar))
	dh.Data = sh.Data
	dh.Len = sh.Len / CigarOpSize
	dh.Cap = sh.Cap / CigarOpSize
	return cigar
}
