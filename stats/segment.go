// Package stats holds the scalar statistics behind footprint detection:
// windowed p-value combination, resampling-based FDR estimation and
// threshold segmentation.  Everything operates on plain float64 slices and
// keeps no state between calls.
package stats

// Run is a half-open index range [Start, End) within a scored vector.
type Run struct {
	Start, End int
}

// Segment returns the maximal runs of consecutive positions with
// scores[i] >= threshold, dropping runs shorter than minRun entirely.  The
// returned runs are sorted, disjoint, and together cover exactly the
// qualifying positions.  An input with no qualifying run yields nil.
func Segment(scores []float64, threshold float64, minRun int) []Run {
	if minRun < 1 {
		minRun = 1
	}
	var runs []Run
	start := -1
	for i, s := range scores {
		if s >= threshold {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 && i-start >= minRun {
			runs = append(runs, Run{Start: start, End: i})
		}
		start = -1
	}
	if start >= 0 && len(scores)-start >= minRun {
		runs = append(runs, Run{Start: start, End: len(scores)})
	}
	return runs
}

// SegmentBelow mirrors Segment for runs with scores[i] <= threshold.
func SegmentBelow(scores []float64, threshold float64, minRun int) []Run {
	neg := make([]float64, len(scores))
	for i, s := range scores {
		neg[i] = -s
	}
	return Segment(neg, -threshold, minRun)
}
