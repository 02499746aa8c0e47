package bam

// Magic bytes that start every BAM stream.
var bamMagic = [4]byte{'B', 'A', 'M', 0x1}

// maxHeaderText bounds l_text so that a corrupt header cannot drive an
// arbitrarily large allocation.
const maxHeaderText = 1 << 30

// Reference is one entry of the reference dictionary.  References are
// immutable once the header is decoded and may be shared freely between
// readers.
type Reference struct {
	id     int
	name   string
	length int
}

// ID returns the reference id: the entry's position in the dictionary.
func (r *Reference) ID() int {
	if r == nil {
		return -1
	}
	return r.id
}

// Name returns the reference name, or "*" for the nil (unmapped) reference.
func (r *Reference) Name() string {
	if r == nil {
		return "*"
	}
	return r.name
}

// Len returns the reference length in bases, or -1 for the nil reference.
func (r *Reference) Len() int {
	if r == nil {
		return -1
	}
	return r.length
}

func (r *Reference) String() string { return r.Name() }

// Header holds the SAM header text and the reference dictionary recovered
// from the front of a BAM stream.  The text is exposed opaque: its line
// grammar (@HD, @SQ, ...) belongs to collaborators, not this package.
type Header struct {
	text string
	refs []*Reference
}

// Text returns the raw SAM header text.
func (h *Header) Text() string { return h.text }

// Refs returns the reference dictionary in id order.  The callee must not
// modify the returned slice.
func (h *Header) Refs() []*Reference { return h.refs }

// Ref returns the reference with the given id, or nil for id -1.
func (h *Header) Ref(id int) *Reference {
	if id < 0 || id >= len(h.refs) {
		return nil
	}
	return h.refs[id]
}

// RefByName returns the reference with the exactly matching name, or nil.
func (h *Header) RefByName(name string) *Reference {
	for _, r := range h.refs {
		if r.name == name {
			return r
		}
	}
	return nil
}

// parseHeader decodes the BAM magic, header text and reference dictionary
// from the front of data.  It returns the decoded header and the number of
// bytes consumed.  A Truncated error means data does not yet hold the whole
// header and the caller should retry with more bytes.
func parseHeader(data []byte) (*Header, int, error) {
	b := &buffer{data: data}
	var magic [4]byte
	copy(magic[:], b.bytes(4))
	if b.err != nil {
		return nil, 0, b.err
	}
	if magic != bamMagic {
		return nil, 0, decodeErrorf(BadMagic, "% x is not the BAM magic", magic[:])
	}
	lText := b.i32()
	if b.err == nil && (lText < 0 || lText > maxHeaderText) {
		return nil, 0, decodeErrorf(BadBlockSize, "header text length %d out of range", lText)
	}
	text := b.fixedString(int(lText))
	nRef := b.i32()
	if b.err == nil && nRef < 0 {
		return nil, 0, decodeErrorf(BadBlockSize, "negative reference count %d", nRef)
	}
	if b.err != nil {
		return nil, 0, b.err
	}
	refs := make([]*Reference, 0, nRef)
	for i := 0; i < int(nRef); i++ {
		lName := b.i32()
		if b.err == nil && (lName < 1 || lName > maxHeaderText) {
			return nil, 0, decodeErrorf(BadBlockSize, "reference %d name length %d out of range", i, lName)
		}
		name := b.fixedString(int(lName))
		refLen := b.i32()
		if b.err != nil {
			return nil, 0, b.err
		}
		// The stored name includes its NUL terminator.
		refs = append(refs, &Reference{id: i, name: trimNUL(name), length: int(refLen)})
	}
	return &Header{text: text, refs: refs}, b.off, nil
}

func trimNUL(s string) string {
	for len(s) > 0 && s[len(s)-1] == 0 {
		s = s[:len(s)-1]
	}
	return s
}
