// Package bam implements a streaming decoder for the BAM binary alignment
// format and its companion BAI index.  The Reader type yields alignment
// records lazily from a bgzf-compressed stream; the Index type answers
// region queries with the bgzf chunks that may contain overlapping records.
package bam
