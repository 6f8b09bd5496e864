package modeling

import (
	"encoding/json"
	"math"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/footprint-tools/stats"
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/stat/distuv"
)

// Tail selects which deviation direction a p-value measures.
type Tail int

const (
	// TailLower scores depletion: P(X <= observed).
	TailLower Tail = iota
	// TailUpper scores enrichment: P(X >= observed).
	TailUpper
	// TailBoth scores either deviation: 2*min(lower, upper), capped at 1.
	TailBoth
)

// Dispersion is a fitted negative-binomial error model.  Bucket e holds the
// NB(r, p) null for positions whose expected count rounds to e; queries past
// the last bucket clamp to it.  Fields are read-only after load.
type Dispersion struct {
	R []float64 `json:"r"`
	P []float64 `json:"p"`
}

// Buckets returns the number of fitted expected-count buckets.
func (d *Dispersion) Buckets() int { return len(d.R) }

func (d *Dispersion) validate() error {
	if len(d.R) == 0 || len(d.R) != len(d.P) {
		return errors.Errorf("modeling: dispersion arrays r(%d)/p(%d) must be equal length and nonempty", len(d.R), len(d.P))
	}
	for i := range d.R {
		if !(d.R[i] > 0) || math.IsInf(d.R[i], 0) {
			return errors.Errorf("modeling: dispersion bucket %d: r=%v out of range (0, inf)", i, d.R[i])
		}
		if !(d.P[i] > 0) || d.P[i] > 1 {
			return errors.Errorf("modeling: dispersion bucket %d: p=%v out of range (0, 1]", i, d.P[i])
		}
	}
	return nil
}

func (d *Dispersion) bucket(expected float64) int {
	b := int(math.Round(expected))
	if b < 0 {
		b = 0
	}
	if b >= len(d.R) {
		b = len(d.R) - 1
	}
	return b
}

// nbCDF is P(X <= k) for X ~ NB(r, p) with success probability p, expressed
// through the regularized incomplete beta function.
func nbCDF(k, r, p float64) float64 {
	if k < 0 {
		return 0
	}
	return mathext.RegIncBeta(r, math.Floor(k)+1, p)
}

func (d *Dispersion) pvalue(bucket int, observed float64, tail Tail) float64 {
	r, p := d.R[bucket], d.P[bucket]
	switch tail {
	case TailUpper:
		return stats.ClampP(1 - nbCDF(observed-1, r, p))
	case TailBoth:
		lower := nbCDF(observed, r, p)
		upper := 1 - nbCDF(observed-1, r, p)
		two := 2 * math.Min(lower, upper)
		return stats.ClampP(math.Min(two, 1))
	default:
		return stats.ClampP(nbCDF(observed, r, p))
	}
}

// PValues scores each observed count against the null for its expected
// count's bucket.  A zero-expected, zero-observed position is neutral
// (p=1).  Non-finite inputs are an error; callers treat it as a
// per-interval failure.
func (d *Dispersion) PValues(expected, observed []float64, tail Tail) ([]float64, error) {
	if len(expected) != len(observed) {
		return nil, errors.Errorf("modeling: expected(%d)/observed(%d) length mismatch", len(expected), len(observed))
	}
	out := make([]float64, len(expected))
	for i := range expected {
		e, o := expected[i], observed[i]
		if math.IsNaN(e) || math.IsInf(e, 0) || math.IsNaN(o) || math.IsInf(o, 0) {
			return nil, errors.Errorf("modeling: non-finite counts at offset %d: expected=%v observed=%v", i, e, o)
		}
		if e <= 0 && o <= 0 {
			out[i] = 1
			continue
		}
		out[i] = d.pvalue(d.bucket(e), o, tail)
	}
	return out, nil
}

// Sample draws n synthetic count vectors under the null for the given
// expected counts and scores each the same way PValues does.  Draws are
// gamma-Poisson mixtures, so they reproduce the NB null exactly; the
// sequence is deterministic for a given rnd state.
func (d *Dispersion) Sample(expected []float64, n int, tail Tail, rnd *rand.Rand) (counts, pvalues [][]float64) {
	counts = make([][]float64, n)
	pvalues = make([][]float64, n)
	buckets := make([]int, len(expected))
	for i, e := range expected {
		buckets[i] = d.bucket(e)
	}
	for rep := 0; rep < n; rep++ {
		row := make([]float64, len(expected))
		prow := make([]float64, len(expected))
		for i, b := range buckets {
			row[i] = d.draw(b, rnd)
			prow[i] = d.pvalue(b, row[i], tail)
		}
		counts[rep] = row
		pvalues[rep] = prow
	}
	return counts, pvalues
}

func (d *Dispersion) draw(bucket int, rnd *rand.Rand) float64 {
	r, p := d.R[bucket], d.P[bucket]
	if 1-p < 1e-12 {
		// Degenerate null: variance r*(1-p)/p^2 is ~0, so X is 0.
		return 0
	}
	lambda := distuv.Gamma{Alpha: r, Beta: p / (1 - p), Src: rnd}.Rand()
	if lambda <= 0 {
		return 0
	}
	return distuv.Poisson{Lambda: lambda, Src: rnd}.Rand()
}

// LoadDispersion reads and validates a JSON dispersion model written by
// Save.
func LoadDispersion(path string) (d *Dispersion, err error) {
	ctx := vcontext.Background()
	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		return nil, errors.Wrapf(err, "modeling: opening dispersion model %s", path)
	}
	defer file.CloseAndReport(ctx, in, &err)
	d = &Dispersion{}
	if err = json.NewDecoder(in.Reader(ctx)).Decode(d); err != nil {
		return nil, errors.Wrapf(err, "modeling: parsing dispersion model %s", path)
	}
	if err = d.validate(); err != nil {
		return nil, errors.Wrapf(err, "modeling: %s", path)
	}
	return d, nil
}

// Save writes the model as JSON.
func (d *Dispersion) Save(path string) (err error) {
	if err = d.validate(); err != nil {
		return err
	}
	ctx := vcontext.Background()
	var out file.File
	if out, err = file.Create(ctx, path); err != nil {
		return errors.Wrapf(err, "modeling: creating dispersion model %s", path)
	}
	defer file.CloseAndReport(ctx, out, &err)
	enc := json.NewEncoder(out.Writer(ctx))
	enc.SetIndent("", " ")
	if err = enc.Encode(d); err != nil {
		return errors.Wrapf(err, "modeling: writing dispersion model %s", path)
	}
	return nil
}
