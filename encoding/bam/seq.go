package bam

// baseChars maps a 4-bit nibble to its IUPAC base character, per the BAM
// specification.
const baseChars = "=ACMGRSVTWYHKDBN"

var charToNibble = func() [256]byte {
	var t [256]byte
	for i := range t {
		t[i] = 0xf // N
	}
	for i := 0; i < len(baseChars); i++ {
		t[baseChars[i]] = byte(i)
		t[baseChars[i]|0x20] = byte(i) // lower case
	}
	return t
}()

// Seq is a 4-bit packed base sequence.  Packed holds ceil(Length/2) bytes
// with the first base in the high nibble.
type Seq struct {
	Length int
	Packed []byte
}

// NewSeq packs the ASCII base sequence s.  Characters outside the BAM base
// alphabet pack as N.
func NewSeq(s []byte) Seq {
	packed := make([]byte, (len(s)+1)/2)
	for i, c := range s {
		n := charToNibble[c]
		if i&1 == 0 {
			packed[i>>1] = n << 4
		} else {
			packed[i>>1] |= n
		}
	}
	return Seq{Length: len(s), Packed: packed}
}

// Base returns the ASCII character of the i'th base.
func (s Seq) Base(i int) byte {
	n := s.Packed[i>>1]
	if i&1 == 0 {
		n >>= 4
	}
	return baseChars[n&0xf]
}

// Expand unpacks the sequence into a freshly allocated ASCII byte slice.
func (s Seq) Expand() []byte {
	out := make([]byte, s.Length)
	for i := range out {
		out[i] = s.Base(i)
	}
	return out
}

// String returns the ASCII form of the sequence, or "*" when it is empty.
func (s Seq) String() string {
	if s.Length == 0 {
		return "*"
	}
	return string(s.Expand())
}
