package footprint

import (
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/footprint-tools/batch"
	"github.com/grailbio/footprint-tools/interval"
	"github.com/grailbio/footprint-tools/modeling"
	"github.com/grailbio/footprint-tools/stats"
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
)

const (
	// stoufferWindow is the width of the p-value combination window.
	stoufferWindow = 3
	// minFootprintWidth is the shortest run of qualifying positions that
	// counts as a footprint.
	minFootprintWidth = 3
)

// Row holds the per-nucleotide statistics for one position: bias-corrected
// expected count, observed count, and the deviation's significance.
type Row struct {
	Expected, Observed float64
	// P is the depletion p-value, WinP its window combination, FDR the
	// empirical false-discovery rate of WinP.  All 1 when no dispersion
	// model is in play.
	P, WinP, FDR float64
}

// Result is one interval's worth of detection output.  A non-nil Failure
// marks an interval that degraded: its rows are neutral and the driver logs
// the cause instead of aborting the run.
type Result struct {
	Interval interval.Interval
	Rows     []Row
	Failure  error
}

func neutralRows(n int) []Row {
	if n < 0 {
		n = 0
	}
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{P: 1, WinP: 1, FDR: 1}
	}
	return rows
}

// detectOne computes the statistics for one interval.  Failures are
// captured on the Result, never returned: a bad interval must not stop the
// run.
func (c *config) detectOne(h *handles, iv interval.Interval, index int) Result {
	res := Result{Interval: iv}
	obs, exp, err := h.pred.Compute(iv)
	if err != nil {
		res.Failure = err
		res.Rows = neutralRows(iv.Len() - 1)
		return res
	}
	combObs := modeling.CombineStrands(obs)
	combExp := modeling.CombineStrands(exp)
	res.Rows = make([]Row, len(combObs))
	for i := range res.Rows {
		res.Rows[i] = Row{Expected: combExp[i], Observed: combObs[i], P: 1, WinP: 1, FDR: 1}
	}
	if c.disp == nil || len(res.Rows) == 0 {
		return res
	}

	pvals, err := c.disp.PValues(combExp, combObs, modeling.TailLower)
	if err != nil {
		res.Failure = err
		res.Rows = neutralRows(len(combObs))
		return res
	}
	winp := stats.StoufferWindow(pvals, stoufferWindow)

	// The null replicates get a per-interval stream so output is identical
	// for any worker count.
	rng := rand.New(rand.NewSource(c.opts.Seed + uint64(index)))
	_, nullP := c.disp.Sample(combExp, c.opts.ShuffleN, modeling.TailLower, rng)
	nullWin := make([][]float64, len(nullP))
	for r, row := range nullP {
		nullWin[r] = stats.StoufferWindow(row, stoufferWindow)
	}
	fdr := stats.EmpiricalFDR(nullWin, winp)

	for i := range res.Rows {
		res.Rows[i].P = pvals[i]
		res.Rows[i].WinP = winp[i]
		res.Rows[i].FDR = fdr[i]
	}
	return res
}

// Detect runs the detection pipeline: per interval, bias-corrected expected
// counts, depletion p-values against the dispersion model, window-combined
// significance, and resampling FDR; writes the per-nucleotide statistics
// stream and one footprint BED per FDR threshold.
func Detect(opts DetectOpts) (err error) {
	const tool = "footprint-detect"
	if err = opts.validate(); err != nil {
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
	if opts.Dispersion != "" {
		if cfg.disp, err = modeling.LoadDispersion(opts.Dispersion); err != nil {
			return err
		}
	}
	log.Printf("%s: %d intervals, dispersion model: %v, bias order: %d",
		tool, len(intervals), cfg.disp != nil, bias.K())

	ctx := vcontext.Background()
	out, err := newStatsWriter(ctx, opts.OutPrefix+".bedgraph", tool, cfg.disp != nil)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	var beds bedWriters
	if cfg.disp != nil {
		if beds, err = newBedWriters(ctx, opts.OutPrefix, tool, opts.Thresholds); err != nil {
			return err
		}
		defer func() {
			if cerr := beds.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
	}

	ds := &dataset[Result]{intervals: intervals, open: cfg.open, compute: cfg.detectOne}
	it := batch.NewIterator(ds, batch.Items[Result], opts.Batch)
	defer it.Close() // nolint: errcheck

	degraded, done := 0, 0
	for it.Scan() {
		results := it.Batch()
		for _, res := range results {
			if res.Failure != nil {
				degraded++
				log.Error.Printf("%s: %s: %v", tool, res.Interval, res.Failure)
			}
			if err = out.writeResult(res); err != nil {
				return err
			}
			if err = beds.writeResult(res); err != nil {
				return err
			}
		}
		done += len(results)
		log.Debug.Printf("%s: %d/%d intervals written", tool, done, len(intervals))
	}
	if err = it.Close(); err != nil {
		return err
	}
	log.Printf("%s: wrote %d intervals (%d degraded) to %s.bedgraph",
		tool, len(intervals), degraded, opts.OutPrefix)
	return nil
}
