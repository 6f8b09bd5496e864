package modeling

import (
	"math"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/base/vcontext"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// DefaultMinFitMass is the observation mass an expected-count bucket needs
// before FitDispersion trusts its moments.
const DefaultMinFitMass = 25

// Hist2D accumulates (expected, observed) count pairs on a dense integer
// grid: one row per rounded expected count, one column per rounded observed
// count.  Pairs outside the grid are dropped.  It is not safe for concurrent
// mutation; workers accumulate privately and Merge.
type Hist2D struct {
	rows, cols int
	counts     []int64
}

// NewHist2D returns an empty rows x cols histogram.
func NewHist2D(rows, cols int) *Hist2D {
	if rows < 1 || cols < 1 {
		log.Panicf("modeling.NewHist2D: bad shape %dx%d", rows, cols)
	}
	return &Hist2D{rows: rows, cols: cols, counts: make([]int64, rows*cols)}
}

// Rows returns the expected-count extent.
func (h *Hist2D) Rows() int { return h.rows }

// Cols returns the observed-count extent.
func (h *Hist2D) Cols() int { return h.cols }

// Add records one pair, rounding both values to their nearest cell.
func (h *Hist2D) Add(expected, observed float64) {
	e := int(math.Round(expected))
	o := int(math.Round(observed))
	if e < 0 || e >= h.rows || o < 0 || o >= h.cols {
		return
	}
	h.counts[e*h.cols+o]++
}

// AddPairs records one pair per position.
func (h *Hist2D) AddPairs(expected, observed []float64) error {
	if len(expected) != len(observed) {
		return errors.Errorf("modeling: expected(%d)/observed(%d) length mismatch", len(expected), len(observed))
	}
	for i := range expected {
		h.Add(expected[i], observed[i])
	}
	return nil
}

// Merge adds other's cells into h.
func (h *Hist2D) Merge(other *Hist2D) error {
	if other.rows != h.rows || other.cols != h.cols {
		return errors.Errorf("modeling: histogram shape mismatch: %dx%d vs %dx%d", h.rows, h.cols, other.rows, other.cols)
	}
	for i, c := range other.counts {
		h.counts[i] += c
	}
	return nil
}

// Row returns the observed-count distribution of one expected-count bucket.
// The returned slice aliases the histogram.
func (h *Hist2D) Row(e int) []int64 {
	return h.counts[e*h.cols : (e+1)*h.cols]
}

// Total returns the number of recorded pairs.
func (h *Hist2D) Total() int64 {
	var total int64
	for _, c := range h.counts {
		total += c
	}
	return total
}

// Save writes the nonzero cells as expected/observed/count TSV rows.
func (h *Hist2D) Save(path string) (err error) {
	ctx := vcontext.Background()
	var out file.File
	if out, err = file.Create(ctx, path); err != nil {
		return errors.Wrapf(err, "modeling: creating histogram %s", path)
	}
	defer file.CloseAndReport(ctx, out, &err)
	w := tsv.NewWriter(out.Writer(ctx))
	w.WriteString("# expected\tobserved\tcount")
	if err = w.EndLine(); err != nil {
		return err
	}
	for e := 0; e < h.rows; e++ {
		for o, c := range h.Row(e) {
			if c == 0 {
				continue
			}
			w.WriteInt64(int64(e))
			w.WriteInt64(int64(o))
			w.WriteInt64(c)
			if err = w.EndLine(); err != nil {
				return err
			}
		}
	}
	return w.Flush()
}

// FitDispersion fits an NB(r, p) null per histogram row by weighted moments:
// p = mean/variance and r = mean^2/(variance-mean).  Rows with less than
// minMass observations (DefaultMinFitMass when minMass <= 0), or whose
// variance does not exceed their mean, take values linearly interpolated
// from the nearest fitted rows instead; runs at the ends copy the nearest
// fit.  Rows are fitted in parallel.
func FitDispersion(h *Hist2D, minMass int64) (*Dispersion, error) {
	if minMass <= 0 {
		minMass = DefaultMinFitMass
	}
	xs := make([]float64, h.cols)
	for j := range xs {
		xs[j] = float64(j)
	}
	rs := make([]float64, h.rows)
	ps := make([]float64, h.rows)
	fit := make([]bool, h.rows)
	err := traverse.Each(h.rows, func(e int) error {
		row := h.Row(e)
		var mass int64
		ws := make([]float64, h.cols)
		for j, c := range row {
			mass += c
			ws[j] = float64(c)
		}
		if mass < minMass {
			return nil
		}
		m := stat.Mean(xs, ws)
		v := stat.Variance(xs, ws)
		if !(v > m) || m <= 0 {
			return nil
		}
		ps[e] = m / v
		rs[e] = m * m / (v - m)
		fit[e] = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := interpolateUnfitted(rs, ps, fit); err != nil {
		return nil, err
	}
	d := &Dispersion{R: rs, P: ps}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func interpolateUnfitted(rs, ps []float64, fit []bool) error {
	n := len(fit)
	left := make([]int, n)
	prev := -1
	for i := 0; i < n; i++ {
		if fit[i] {
			prev = i
		}
		left[i] = prev
	}
	next := -1
	for i := n - 1; i >= 0; i-- {
		if fit[i] {
			next = i
			continue
		}
		lo, hi := left[i], next
		switch {
		case lo < 0 && hi < 0:
			return errors.New("modeling: no expected-count bucket reached the minimum fit mass")
		case lo < 0:
			rs[i], ps[i] = rs[hi], ps[hi]
		case hi < 0:
			rs[i], ps[i] = rs[lo], ps[lo]
		default:
			t := float64(i-lo) / float64(hi-lo)
			rs[i] = rs[lo] + t*(rs[hi]-rs[lo])
			ps[i] = ps[lo] + t*(ps[hi]-ps[lo])
		}
	}
	return nil
}
