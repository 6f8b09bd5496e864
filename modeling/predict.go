package modeling

import (
	"math"
	"sort"

	"github.com/grailbio/footprint-tools/cutcounts"
	"github.com/grailbio/footprint-tools/interval"
	"github.com/pkg/errors"
)

// CountSource yields per-strand cleavage counts over an interval.
// cutcounts.Reader is the usual implementation.
type CountSource interface {
	Counts(iv interval.Interval) (cutcounts.Counts, error)
}

// SequenceSource yields uppercase reference sequence for half-open
// coordinates.  fasta.Fasta is the usual implementation.
type SequenceSource interface {
	Get(chrom string, start, end int) (string, error)
	Len(chrom string) (int, error)
}

// PredictOpts control the expected-count computation.
type PredictOpts struct {
	// HalfWinWidth is the half-width of the window whose total cleavage is
	// redistributed by the bias model.
	HalfWinWidth int
	// SmoothHalfWinWidth is the half-width of the trimmed-mean smoother
	// applied to window totals.  0 disables smoothing.
	SmoothHalfWinWidth int
	// SmoothClip is the fraction trimmed from each end of a smoothing
	// window before averaging.
	SmoothClip float64
}

// DefaultPredictOpts is the baseline configuration.
var DefaultPredictOpts = PredictOpts{
	HalfWinWidth:       5,
	SmoothHalfWinWidth: 50,
	SmoothClip:         0.01,
}

// StrandCounts holds one per-position vector per strand over an interval.
type StrandCounts struct {
	Plus, Minus []float64
}

// Predictor computes observed and expected per-strand cleavage counts.
// Expected counts redistribute each window's observed total according to the
// bias model's weights, so that exp[i] = winObs[i] * bias[i] / winBias[i].
type Predictor struct {
	counts CountSource
	seqs   SequenceSource
	bias   Bias
	opts   PredictOpts
}

// NewPredictor validates opts and assembles a predictor from its sources.
func NewPredictor(counts CountSource, seqs SequenceSource, bias Bias, opts PredictOpts) (*Predictor, error) {
	if opts.HalfWinWidth < 0 || opts.SmoothHalfWinWidth < 0 {
		return nil, errors.Errorf("modeling: negative window half-width %+v", opts)
	}
	if opts.SmoothClip < 0 || opts.SmoothClip >= 0.5 {
		return nil, errors.Errorf("modeling: smoothing clip %v out of range [0, 0.5)", opts.SmoothClip)
	}
	return &Predictor{counts: counts, seqs: seqs, bias: bias, opts: opts}, nil
}

// Compute returns observed and expected counts for iv, both over exactly
// iv.Len() positions per strand.  iv must lie inside the chromosome.  The
// computation internally pads iv, clamped to the chromosome bounds, so that
// windows near the interval edges see real flanking data; windows whose
// padding overhangs a chromosome end shrink.
func (p *Predictor) Compute(iv interval.Interval) (obs, exp StrandCounts, err error) {
	chromLen, err := p.seqs.Len(iv.Chrom)
	if err != nil {
		return obs, exp, errors.Wrapf(err, "modeling: %s", iv)
	}
	if !iv.Valid() || iv.End > chromLen {
		return obs, exp, errors.Errorf("modeling: interval %s out of bounds for %s (length %d)", iv, iv.Chrom, chromLen)
	}
	pad := p.opts.HalfWinWidth + p.opts.SmoothHalfWinWidth
	padded := iv.Pad(pad, pad, chromLen)

	counts, err := p.counts.Counts(padded)
	if err != nil {
		return obs, exp, errors.Wrapf(err, "modeling: counting %s", padded)
	}
	seq, err := p.seqs.Get(padded.Chrom, padded.Start, padded.End)
	if err != nil {
		return obs, exp, errors.Wrapf(err, "modeling: sequence %s", padded)
	}

	obsPlus := toFloats(counts.Plus)
	obsMinus := toFloats(counts.Minus)
	expPlus := p.expected(obsPlus, p.bias.Weights(seq, interval.StrandPlus))
	expMinus := p.expected(obsMinus, p.bias.Weights(seq, interval.StrandMinus))

	off, n := iv.Start-padded.Start, iv.Len()
	obs = StrandCounts{Plus: obsPlus[off : off+n : off+n], Minus: obsMinus[off : off+n : off+n]}
	exp = StrandCounts{Plus: expPlus[off : off+n : off+n], Minus: expMinus[off : off+n : off+n]}
	return obs, exp, nil
}

func (p *Predictor) expected(obs, bias []float64) []float64 {
	winObs := windowSum(obs, p.opts.HalfWinWidth)
	winBias := windowSum(bias, p.opts.HalfWinWidth)
	if p.opts.SmoothHalfWinWidth > 0 {
		winObs = trimmedMean(winObs, p.opts.SmoothHalfWinWidth, p.opts.SmoothClip)
	}
	out := make([]float64, len(obs))
	for i := range out {
		if winBias[i] > 0 {
			out[i] = winObs[i] * bias[i] / winBias[i]
		}
	}
	return out
}

// CombineStrands folds per-strand vectors into the per-position cleavage
// signal, offsetting the plus strand by one base to account for the
// staggered double-strand cut: out[i] = plus[i+1] + minus[i].  The result
// has length len-1; input shorter than 2 yields nil.
func CombineStrands(sc StrandCounts) []float64 {
	n := len(sc.Plus)
	if len(sc.Minus) != n {
		return nil
	}
	if n < 2 {
		return nil
	}
	out := make([]float64, n-1)
	for i := range out {
		out[i] = sc.Plus[i+1] + sc.Minus[i]
	}
	return out
}

// windowSum returns, per position, the sum over [i-half, i+half] clamped to
// the slice bounds.
func windowSum(v []float64, half int) []float64 {
	n := len(v)
	prefix := make([]float64, n+1)
	for i, x := range v {
		prefix[i+1] = prefix[i] + x
	}
	out := make([]float64, n)
	for i := range out {
		lo, hi := i-half, i+half+1
		if lo < 0 {
			lo = 0
		}
		if hi > n {
			hi = n
		}
		out[i] = prefix[hi] - prefix[lo]
	}
	return out
}

// trimmedMean returns, per position, the mean over [i-half, i+half] (clamped
// to the slice bounds) after dropping the floor(clip*len) smallest and
// largest values.
func trimmedMean(v []float64, half int, clip float64) []float64 {
	n := len(v)
	out := make([]float64, n)
	scratch := make([]float64, 0, 2*half+1)
	for i := range out {
		lo, hi := i-half, i+half+1
		if lo < 0 {
			lo = 0
		}
		if hi > n {
			hi = n
		}
		scratch = append(scratch[:0], v[lo:hi]...)
		sort.Float64s(scratch)
		cut := int(math.Floor(clip * float64(len(scratch))))
		kept := scratch[cut : len(scratch)-cut]
		var sum float64
		for _, x := range kept {
			sum += x
		}
		out[i] = sum / float64(len(kept))
	}
	return out
}

func toFloats(v []int) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
