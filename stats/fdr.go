package stats

import "sort"

// EmpiricalFDR estimates a per-position false-discovery rate by comparing
// observed window statistics against resampled null replicates.  Statistics
// are combined p-values, so smaller means more extreme.  For each observed
// value v the raw estimate is
//
//	(fraction of null statistics <= v) / (fraction of observed statistics <= v)
//
// followed by an isotonic pass (suffix minimum over the ascending-sorted
// statistics) so that a more extreme statistic never receives a larger FDR
// than a less extreme one, and a clamp to [0, 1].  Tied statistics share one
// FDR.  With no null replicates every position gets the conservative 1.0.
func EmpiricalFDR(null [][]float64, observed []float64) []float64 {
	nObs := len(observed)
	fdr := make([]float64, nObs)
	if nObs == 0 {
		return fdr
	}
	nNull := 0
	for _, row := range null {
		nNull += len(row)
	}
	if nNull == 0 {
		for i := range fdr {
			fdr[i] = 1
		}
		return fdr
	}
	flat := make([]float64, 0, nNull)
	for _, row := range null {
		flat = append(flat, row...)
	}
	sort.Float64s(flat)

	order := make([]int, nObs)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return observed[order[a]] < observed[order[b]] })

	raw := make([]float64, nObs)
	nullLE := 0
	for k := 0; k < nObs; {
		v := observed[order[k]]
		j := k + 1
		for j < nObs && observed[order[j]] == v {
			j++
		}
		for nullLE < nNull && flat[nullLE] <= v {
			nullLE++
		}
		r := (float64(nullLE) / float64(nNull)) / (float64(j) / float64(nObs))
		for ; k < j; k++ {
			raw[k] = r
		}
	}

	// Monotone adjustment: each threshold gets the best rate achievable at or
	// beyond it.
	min := raw[nObs-1]
	for k := nObs - 1; k >= 0; k-- {
		if raw[k] < min {
			min = raw[k]
		}
		v := min
		if v > 1 {
			v = 1
		}
		fdr[order[k]] = v
	}
	return fdr
}
