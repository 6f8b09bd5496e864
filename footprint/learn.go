package footprint

import (
	"github.com/grailbio/base/log"
	"github.com/grailbio/footprint-tools/batch"
	"github.com/grailbio/footprint-tools/interval"
	"github.com/grailbio/footprint-tools/modeling"
	"github.com/pkg/errors"
)

// countPair is one interval's combined (expected, observed) vectors, the raw
// material of the dispersion fit.
type countPair struct {
	Interval interval.Interval
	Expected []float64
	Observed []float64
	Failure  error
}

// learnBatch is the concatenation of a batch's pairs, with the degraded
// intervals set aside for the driver to log.
type learnBatch struct {
	expected, observed []float64
	failed             []countPair
}

func concatPairs(items []countPair) (learnBatch, error) {
	var out learnBatch
	for _, item := range items {
		if item.Failure != nil {
			out.failed = append(out.failed, item)
			continue
		}
		out.expected = append(out.expected, item.Expected...)
		out.observed = append(out.observed, item.Observed...)
	}
	return out, nil
}

func (c *config) learnOne(h *handles, iv interval.Interval, _ int) countPair {
	pair := countPair{Interval: iv}
	obs, exp, err := h.pred.Compute(iv)
	if err != nil {
		pair.Failure = err
		return pair
	}
	pair.Expected = modeling.CombineStrands(exp)
	pair.Observed = modeling.CombineStrands(obs)
	return pair
}

// Learn fits a dispersion model: it histograms combined (expected, observed)
// pairs over all intervals, fits an NB null per expected-count bucket, and
// writes the model as JSON.  Degraded intervals are logged and left out of
// the histogram.
func Learn(opts LearnOpts) error {
	const tool = "footprint-learn-dm"
	if err := opts.validate(); err != nil {
		return err
	}
	intervals, err := interval.ReadBEDPath(opts.Intervals)
	if err != nil {
		return err
	}
	if len(intervals) == 0 {
		return errors.Errorf("footprint: %s holds no intervals", opts.Intervals)
	}
	bias, err := loadBias(opts.Bias, opts.BiasFallback)
	if err != nil {
		return err
	}
	cfg := &config{
		opts:      opts.Opts,
		bamPath:   opts.BAM,
		bamIndex:  opts.BAMIndex,
		fastaPath: opts.Fasta,
		faIdx:     opts.FastaIndex,
		bias:      bias,
	}
	log.Printf("%s: %d intervals, histogram %dx%d", tool, len(intervals), opts.HistRows, opts.HistCols)

	hist := modeling.NewHist2D(opts.HistRows, opts.HistCols)
	ds := &dataset[countPair]{intervals: intervals, open: cfg.open, compute: cfg.learnOne}
	it := batch.NewIterator(ds, concatPairs, opts.Batch)
	defer it.Close() // nolint: errcheck

	degraded, pairs := 0, 0
	for it.Scan() {
		b := it.Batch()
		for _, pair := range b.failed {
			degraded++
			log.Error.Printf("%s: %s: %v", tool, pair.Interval, pair.Failure)
		}
		if err := hist.AddPairs(b.expected, b.observed); err != nil {
			return err
		}
		pairs += len(b.expected)
		log.Debug.Printf("%s: %d pairs tallied, %d intervals degraded", tool, pairs, degraded)
	}
	if err := it.Close(); err != nil {
		return err
	}
	log.Printf("%s: histogram holds %d pairs (%d intervals degraded)", tool, hist.Total(), degraded)
	if opts.HistOut != "" {
		if err := hist.Save(opts.HistOut); err != nil {
			return err
		}
		log.Printf("%s: wrote histogram to %s", tool, opts.HistOut)
	}

	disp, err := modeling.FitDispersion(hist, opts.MinFitMass)
	if err != nil {
		return err
	}
	if err := disp.Save(opts.Out); err != nil {
		return err
	}
	log.Printf("%s: wrote %d-bucket model to %s", tool, disp.Buckets(), opts.Out)
	return nil
}
