package stats

import (
	"math"

	"github.com/grailbio/base/log"
	"gonum.org/v1/gonum/stat/distuv"
)

// MinP is the smallest probability the pipeline ever reports.  Probabilities
// are clamped to [MinP, 1] before logs or normal quantiles so that -log(p)
// and z-scores stay finite.
const MinP = 1e-300

// ClampP clamps p into [MinP, 1].  NaN clamps to 1 (no evidence).
func ClampP(p float64) float64 {
	if math.IsNaN(p) || p > 1 {
		return 1
	}
	if p < MinP {
		return MinP
	}
	return p
}

// StoufferWindow combines each position's p-value with its neighbors inside
// a centered window of the given odd width, using the directional Stouffer
// Z method: p-values become z-scores via the unit normal quantile, the
// window's z-scores are summed and normalized by sqrt(effective window
// size), and the result maps back through the normal CDF.  Windows shrink
// at the vector boundaries; the normalizer uses the shrunk size, so a
// uniform p=0.5 input returns exactly 0.5 everywhere.  Smaller inputs give
// smaller outputs (evidence in the depletion direction reinforces).
func StoufferWindow(pvalues []float64, window int) []float64 {
	if window < 1 || window%2 == 0 {
		log.Panicf("stats.StoufferWindow: window must be odd and positive, got %d", window)
	}
	n := len(pvalues)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	// Neutral p=1 positions must contribute a finite z-score: quantile input
	// is bounded just below 1 so the prefix sums never hold an infinity.
	const maxP = 1 - 1e-16
	prefix := make([]float64, n+1)
	for i, p := range pvalues {
		p = ClampP(p)
		if p > maxP {
			p = maxP
		}
		prefix[i+1] = prefix[i] + distuv.UnitNormal.Quantile(p)
	}
	half := window / 2
	for i := 0; i < n; i++ {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + half + 1
		if hi > n {
			hi = n
		}
		z := (prefix[hi] - prefix[lo]) / math.Sqrt(float64(hi-lo))
		out[i] = distuv.UnitNormal.CDF(z)
	}
	return out
}
