// Package interval provides the genomic-interval value type used throughout
// the footprint pipeline, plus BED readers for interval lists.
package interval

import "fmt"

// Strand identifies which DNA strand a value refers to.
type Strand byte

const (
	// StrandPlus is the forward (reference) strand.
	StrandPlus Strand = '+'
	// StrandMinus is the reverse strand.
	StrandMinus Strand = '-'
	// StrandNone marks strandless records.
	StrandNone Strand = '.'
)

// Interval is a half-open genomic range [Start, End) on chromosome Chrom,
// with 0-based coordinates. Name, Score and Strand are optional annotations
// carried through from BED columns 4-6; Name is "" and Strand is StrandNone
// when absent. Intervals are values: construct, copy and discard freely,
// never mutate in place.
type Interval struct {
	Chrom string
	Start int
	End   int

	Name   string
	Score  float64
	Strand Strand
}

// Len returns the number of positions spanned by the interval.
func (i Interval) Len() int {
	return i.End - i.Start
}

// String renders the interval in samtools region form, e.g. "chr1:100-200".
// Start is kept 0-based; this string is for logs, not for re-parsing.
func (i Interval) String() string {
	return fmt.Sprintf("%s:%d-%d", i.Chrom, i.Start, i.End)
}

// Valid reports whether the interval satisfies the basic coordinate
// invariants (nonempty chromosome, 0 <= start < end).
func (i Interval) Valid() bool {
	return i.Chrom != "" && i.Start >= 0 && i.Start < i.End
}

// Pad returns a copy grown by left and right positions on the respective
// sides, clamped to [0, chromLen). chromLen <= 0 means the chromosome length
// is unknown and only the zero bound is applied.
func (i Interval) Pad(left, right, chromLen int) Interval {
	out := i
	out.Start -= left
	if out.Start < 0 {
		out.Start = 0
	}
	out.End += right
	if chromLen > 0 && out.End > chromLen {
		out.End = chromLen
	}
	if out.End < out.Start {
		out.End = out.Start
	}
	return out
}
