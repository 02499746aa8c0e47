// Package bamprovider reads BAM files, sequentially or through indexed
// region queries.  Both the BAM and the index filenames are allowed to be
// S3 URLs, in which case the data will be read from S3.  Otherwise the data
// will be read from the local filesystem.
package bamprovider

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/grailbio/bamstream/encoding/bam"
)

// NameNormalization selects the fallback used when a query names a
// reference that is not in the dictionary verbatim.
type NameNormalization int

const (
	// Exact requires a verbatim dictionary match.
	Exact NameNormalization = iota
	// StripChr also tries matching with a leading "chr"/"CHR" removed from
	// both the query and the dictionary names.
	StripChr
)

// ProviderOpts defines options for NewProvider.
type ProviderOpts struct {
	// Index specifies the name of the BAM index file.  If Index=="", it
	// defaults to path + ".bai".
	Index string

	// NameNormalization configures reference name matching for Query.
	NameNormalization NameNormalization

	// Reader configures every record stream the provider opens.
	Reader bam.ReaderOpts

	// Query configures index chunk selection.
	Query bam.QueryOpts
}

// Region is a genomic interval with 1-based inclusive coordinates, the
// convention of samtools-style region strings.  End == 0 means "to the end
// of the reference".
type Region struct {
	RefName string
	Start   int
	End     int
}

// ParseRegion parses "ref", "ref:pos" or "ref:start-end".
func ParseRegion(s string) (Region, error) {
	colon := strings.LastIndex(s, ":")
	if colon < 0 {
		if s == "" {
			return Region{}, fmt.Errorf("empty region")
		}
		return Region{RefName: s, Start: 1}, nil
	}
	r := Region{RefName: s[:colon]}
	if r.RefName == "" {
		return Region{}, fmt.Errorf("region %q has no reference name", s)
	}
	span := s[colon+1:]
	var err error
	if dash := strings.Index(span, "-"); dash >= 0 {
		if r.Start, err = strconv.Atoi(span[:dash]); err != nil {
			return Region{}, fmt.Errorf("region %q: bad start: %v", s, err)
		}
		if r.End, err = strconv.Atoi(span[dash+1:]); err != nil {
			return Region{}, fmt.Errorf("region %q: bad end: %v", s, err)
		}
	} else {
		if r.Start, err = strconv.Atoi(span); err != nil {
			return Region{}, fmt.Errorf("region %q: bad position: %v", s, err)
		}
		r.End = r.Start
	}
	if r.Start < 1 || (r.End != 0 && r.End < r.Start) {
		return Region{}, fmt.Errorf("region %q: coordinates out of order", s)
	}
	return r, nil
}

// String returns the samtools-style form of the region.
func (r Region) String() string {
	if r.End == 0 {
		if r.Start <= 1 {
			return r.RefName
		}
		return fmt.Sprintf("%s:%d-", r.RefName, r.Start)
	}
	return fmt.Sprintf("%s:%d-%d", r.RefName, r.Start, r.End)
}

// UnknownReferenceError is returned by Query when the region names a
// reference that is not in the dictionary.  It is fatal to that query only.
type UnknownReferenceError struct {
	Name string
}

func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("reference %q not found in the reference dictionary", e.Name)
}

// Provider reads one BAM file.  Thread safe: the header and index are
// loaded once and shared, while every iterator owns an exclusive file
// handle.
type Provider interface {
	// GetHeader returns the header for the provided BAM data.  The callee
	// must not modify the returned header object.
	//
	// REQUIRES: Close has not been called.
	GetHeader() (*bam.Header, error)

	// NewIterator returns an iterator over the whole file in stream order.
	//
	// REQUIRES: Close has not been called.
	NewIterator() Iterator

	// Query returns an iterator over the records overlapping the region,
	// using the BAM index to skip the rest of the file.  Records arrive in
	// stream order and each record is yielded at most once.
	//
	// REQUIRES: Close has not been called.
	Query(region Region) Iterator

	// Close must be called exactly once.  It returns any error encountered
	// by the provider, or any iterator created by the provider.
	//
	// REQUIRES: All the iterators created by the provider have been closed.
	Close() error
}

// Iterator iterates over alignment records.  Thread compatible.
type Iterator interface {
	// Scan returns whether there are any records remaining in the iterator,
	// and if so, advances the iterator to the next record.  If an error
	// occurs, Scan() returns false and the error can be retrieved by
	// calling Err().
	//
	// REQUIRES: Close has not been called.
	Scan() bool

	// Record returns the current record in the iterator.  This must be
	// called only after a call to Scan() returns true.
	//
	// REQUIRES: Close has not been called.
	Record() *bam.Record

	// Err returns the error encountered during iteration, or nil if no
	// error occurred.
	Err() error

	// Close must be called exactly once.  It returns the value of Err().
	Close() error
}

// NewProvider creates a Provider for the BAM file at path.
func NewProvider(path string, optList ...ProviderOpts) Provider {
	opts := ProviderOpts{}
	for _, o := range optList {
		if o.Index != "" {
			opts.Index = o.Index
		}
		if o.NameNormalization != Exact {
			opts.NameNormalization = o.NameNormalization
		}
		opts.Reader = o.Reader
		opts.Query = o.Query
	}
	return &BAMProvider{Path: path, Index: opts.Index, Opts: opts}
}
