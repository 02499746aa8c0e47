package bamprovider

import (
	"strings"
	"sync"

	"github.com/grailbio/base/errorreporter"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/bamstream/encoding/bam"
	"github.com/grailbio/bamstream/encoding/bgzf"
	"v.io/x/lib/vlog"
)

// BAMProvider implements Provider.  The zero value plus a Path is ready to
// use.
type BAMProvider struct {
	// Path of the *.bam file.  Must be nonempty.
	Path string
	// Index is the pathname of the *.bam.bai file.  If "", Path + ".bai".
	Index string
	// Opts configures every iterator the provider creates.
	Opts ProviderOpts

	err errorreporter.T

	mu        sync.Mutex
	nActive   int
	freeIters []*bamIterator
	header    *bam.Header
	index     *bam.Index
}

type bamIterator struct {
	provider *BAMProvider
	in       file.File
	reader   *bam.Reader

	active bool
	err    error
	rec    *bam.Record

	// Query state.  A sequential iterator keeps query false.
	query    bool
	refID    int
	beg, end int // 0-based half-open coordinate filter
	chunks   []bgzf.Chunk
	chunkIdx int
	inChunk  bool
	lastVOff uint64
	emitted  bool
}

func (b *BAMProvider) indexPath() string {
	index := b.Index
	if index == "" {
		index = b.Path + ".bai"
	}
	return index
}

// GetHeader implements the Provider interface.
func (b *BAMProvider) GetHeader() (*bam.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.header != nil {
		return b.header, nil
	}

	ctx := vcontext.Background()
	in, err := file.Open(ctx, b.Path)
	if err != nil {
		b.err.Set(err)
		return nil, err
	}
	defer in.Close(ctx) // nolint: errcheck
	reader, err := bam.NewReader(in.Reader(ctx), b.Opts.Reader)
	if err != nil {
		b.err.Set(err)
		return nil, err
	}
	b.header = reader.Header()
	return b.header, nil
}

// getIndex loads and caches the BAI index.
func (b *BAMProvider) getIndex() (*bam.Index, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.index != nil {
		return b.index, nil
	}
	ctx := vcontext.Background()
	in, err := file.Open(ctx, b.indexPath())
	if err != nil {
		return nil, errors.E(err, "open bam index", b.indexPath())
	}
	defer in.Close(ctx) // nolint: errcheck
	index, err := bam.ReadIndex(in.Reader(ctx))
	if err != nil {
		return nil, errors.E(err, "read bam index", b.indexPath())
	}
	b.index = index
	return b.index, nil
}

// Close implements the Provider interface.
func (b *BAMProvider) Close() error {
	if b.nActive > 0 {
		vlog.Fatalf("%d iterators still active for %+v", b.nActive, b)
	}
	for _, iter := range b.freeIters {
		iter.internalClose()
	}
	b.freeIters = nil
	return b.err.Err()
}

func (b *BAMProvider) freeIterator(i *bamIterator) {
	if !i.active {
		vlog.Fatal(i)
	}
	i.active = false
	if i.Err() != nil {
		// The iter may be invalid. Don't reuse it.
		i.internalClose() // Will set b.err
		i = nil
	}
	b.mu.Lock()
	if i != nil {
		b.freeIters = append(b.freeIters, i)
	}
	b.nActive--
	if b.nActive < 0 {
		vlog.Fatalf("Negative active count for %+v", b)
	}
	b.mu.Unlock()
}

// allocateIterator returns an unused iterator.  If b.freeIters is nonempty,
// this function returns one from freeIters, repositioned at the first
// record.  Else, it opens the BAM file and creates a fresh reader.  On
// error, it returns an iterator with a non-nil err field.
func (b *BAMProvider) allocateIterator() *bamIterator {
	b.mu.Lock()
	b.nActive++
	if len(b.freeIters) > 0 {
		iter := b.freeIters[len(b.freeIters)-1]
		b.freeIters = b.freeIters[:len(b.freeIters)-1]
		b.mu.Unlock()
		iter.reset()
		iter.err = iter.reader.Seek(iter.reader.FirstRecord())
		return iter
	}
	b.mu.Unlock()

	iter := bamIterator{
		provider: b,
		active:   true,
	}
	ctx := vcontext.Background()
	if iter.in, iter.err = file.Open(ctx, b.Path); iter.err != nil {
		return &iter
	}
	iter.reader, iter.err = bam.NewReader(iter.in.Reader(ctx), b.Opts.Reader)
	return &iter
}

// NewIterator implements the Provider interface.
func (b *BAMProvider) NewIterator() Iterator {
	return b.allocateIterator()
}

// Query implements the Provider interface.
func (b *BAMProvider) Query(region Region) Iterator {
	iter := b.allocateIterator()
	if iter.err != nil {
		return iter
	}
	ref := resolveRef(iter.reader.Header(), region.RefName, b.Opts.NameNormalization)
	if ref == nil {
		iter.err = &UnknownReferenceError{Name: region.RefName}
		return iter
	}
	beg := region.Start - 1
	if beg < 0 {
		beg = 0
	}
	end := region.End
	if end <= 0 {
		end = ref.Len()
	}
	index, err := b.getIndex()
	if err != nil {
		iter.err = err
		return iter
	}
	iter.query = true
	iter.refID = ref.ID()
	iter.beg = beg
	iter.end = end
	iter.chunks = index.Chunks(ref.ID(), beg, end, b.Opts.Query)
	return iter
}

func (i *bamIterator) reset() {
	i.active = true
	i.err = nil
	i.rec = nil
	i.query = false
	i.chunks = nil
	i.chunkIdx = 0
	i.inChunk = false
	i.lastVOff = 0
	i.emitted = false
}

// Scan implements the Iterator interface.
func (i *bamIterator) Scan() bool {
	if !i.active {
		vlog.Fatal("Reusing iterator")
	}
	if i.err != nil {
		return false
	}
	if !i.query {
		if i.reader.Scan() {
			i.rec = i.reader.Record()
			return true
		}
		i.err = i.reader.Err()
		return false
	}
	for {
		if i.chunkIdx >= len(i.chunks) {
			return false
		}
		chunk := i.chunks[i.chunkIdx]
		if !i.inChunk {
			if i.err = i.reader.Seek(chunk.Begin); i.err != nil {
				return false
			}
			i.inChunk = true
		}
		if !i.reader.Scan() {
			if i.err = i.reader.Err(); i.err != nil {
				return false
			}
			i.chunkIdx++
			i.inChunk = false
			continue
		}
		rec := i.reader.Record()
		if rec.VOffset() >= chunk.End.VOffset() {
			// Past the chunk; any further records in it belong to later
			// chunks.
			bam.PutInFreePool(rec)
			i.chunkIdx++
			i.inChunk = false
			continue
		}
		// Chunks from different bin levels may overlap; suppress records
		// already yielded from an earlier chunk.
		if i.emitted && rec.VOffset() <= i.lastVOff {
			bam.PutInFreePool(rec)
			continue
		}
		if rec.RefID() != i.refID || !i.overlaps(rec) {
			bam.PutInFreePool(rec)
			continue
		}
		i.lastVOff = rec.VOffset()
		i.emitted = true
		i.rec = rec
		return true
	}
}

// overlaps reports whether rec overlaps the query interval.  A record whose
// CIGAR consumes no reference bases counts as overlapping iff its start
// position lies inside the interval.
func (i *bamIterator) overlaps(rec *bam.Record) bool {
	start, end := rec.Start(), rec.End()
	if end > start {
		return start < i.end && end > i.beg
	}
	return start >= i.beg && start < i.end
}

// Record implements the Iterator interface.
func (i *bamIterator) Record() *bam.Record {
	return i.rec
}

// Err implements the Iterator interface.
func (i *bamIterator) Err() error {
	return i.err
}

// Close implements the Iterator interface.
func (i *bamIterator) Close() error {
	err := i.Err()
	i.provider.freeIterator(i)
	return err
}

func (i *bamIterator) internalClose() {
	if i.in != nil {
		if err := i.in.Close(vcontext.Background()); err != nil && i.err == nil {
			i.err = err
		}
		i.in = nil
	}
	i.provider.err.Set(i.Err())
}

func resolveRef(h *bam.Header, name string, norm NameNormalization) *bam.Reference {
	if ref := h.RefByName(name); ref != nil {
		return ref
	}
	if norm != StripChr {
		return nil
	}
	want := stripChr(name)
	for _, ref := range h.Refs() {
		if stripChr(ref.Name()) == want {
			return ref
		}
	}
	return nil
}

func stripChr(s string) string {
	if len(s) > 3 && (strings.HasPrefix(s, "chr") || strings.HasPrefix(s, "CHR")) {
		return s[3:]
	}
	return s
}
