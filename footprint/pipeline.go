package footprint

import (
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/footprint-tools/batch"
	"github.com/grailbio/footprint-tools/cutcounts"
	"github.com/grailbio/footprint-tools/fasta"
	"github.com/grailbio/footprint-tools/interval"
	"github.com/grailbio/footprint-tools/modeling"
)

// config carries the shared, read-only state of one run: paths for the
// worker-private handles plus the models every worker shares.
type config struct {
	opts              Opts
	bamPath, bamIndex string
	fastaPath, faIdx  string
	bias              modeling.Bias
	disp              *modeling.Dispersion
}

// countSource is a closeable cut-count reader; cutcounts.Reader in
// production.
type countSource interface {
	modeling.CountSource
	Close() error
}

// seqSource is a closeable sequence reader; fasta.File in production.
type seqSource interface {
	modeling.SequenceSource
	Close() error
}

// handles bundles one worker's private resources.  Opened lazily by the
// batch engine inside the worker goroutine; never shared.
type handles struct {
	cuts countSource
	seqs seqSource
	pred *modeling.Predictor
}

// open builds a worker's handle bundle.  The sequence source and predictor
// are only opened when the run needs them (the profile driver does not).
func (c *config) open() (*handles, error) {
	cuts, err := cutcounts.Open(c.bamPath, c.bamIndex, c.opts.Cuts)
	if err != nil {
		return nil, err
	}
	h := &handles{cuts: cuts}
	if c.fastaPath == "" {
		return h, nil
	}
	seqs, err := fasta.Open(vcontext.Background(), c.fastaPath, c.faIdx)
	if err != nil {
		_ = cuts.Close()
		return nil, err
	}
	h.seqs = seqs
	if h.pred, err = modeling.NewPredictor(h.cuts, h.seqs, c.bias, c.opts.Predict); err != nil {
		_ = h.Close()
		return nil, err
	}
	return h, nil
}

func (h *handles) Close() error {
	var err error
	if h.cuts != nil {
		err = h.cuts.Close()
		h.cuts = nil
	}
	if h.seqs != nil {
		if cerr := h.seqs.Close(); cerr != nil && err == nil {
			err = cerr
		}
		h.seqs = nil
	}
	return err
}

// dataset adapts an interval list plus a per-interval compute function to
// the batch engine.  Recoverable conditions live inside T (every driver's
// item type carries a failure field), so Produce itself never errors.
type dataset[T any] struct {
	intervals []interval.Interval
	open      func() (*handles, error)
	compute   func(h *handles, iv interval.Interval, index int) T
}

func (d *dataset[T]) Len() int { return len(d.intervals) }

func (d *dataset[T]) Open() (batch.Producer[T], error) {
	h, err := d.open()
	if err != nil {
		return nil, err
	}
	return &producer[T]{ds: d, h: h}, nil
}

type producer[T any] struct {
	ds *dataset[T]
	h  *handles
}

func (p *producer[T]) Produce(index int) (T, error) {
	return p.ds.compute(p.h, p.ds.intervals[index], index), nil
}

func (p *producer[T]) Close() error { return p.h.Close() }

// loadBias returns the k-mer model at path, or the uniform model for an
// empty path.
func loadBias(path string, fallback float64) (modeling.Bias, error) {
	if path == "" {
		return modeling.Uniform{}, nil
	}
	return modeling.LoadKmerBias(path, fallback)
}
