package footprint

import (
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/footprint-tools/batch"
	"github.com/grailbio/footprint-tools/interval"
	"github.com/grailbio/footprint-tools/modeling"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// profileRow is one interval's combined raw cleavage counts.
type profileRow struct {
	Interval interval.Interval
	Combined []float64
	Failure  error
}

func (c *config) profileOne(h *handles, iv interval.Interval, _ int) profileRow {
	row := profileRow{Interval: iv}
	counts, err := h.cuts.Counts(iv)
	if err != nil {
		row.Failure = err
		return row
	}
	sc := modeling.StrandCounts{
		Plus:  make([]float64, len(counts.Plus)),
		Minus: make([]float64, len(counts.Minus)),
	}
	for i, v := range counts.Plus {
		sc.Plus[i] = float64(v)
	}
	for i, v := range counts.Minus {
		sc.Minus[i] = float64(v)
	}
	row.Combined = modeling.CombineStrands(sc)
	return row
}

// Profile aggregates the mean combined cleavage count per relative position
// across equal-width intervals (a meta-profile around aligned motifs).
// Positions are reported relative to the interval centers.
func Profile(opts ProfileOpts) (err error) {
	const tool = "footprint-profile"
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
	width := intervals[0].Len()
	for _, iv := range intervals {
		if iv.Len() != width {
			return errors.Errorf("footprint: profile intervals must share one width: %s is %d, want %d",
				iv, iv.Len(), width)
		}
	}
	if width < 2 {
		return errors.Errorf("footprint: profile intervals must span at least 2 bases, got %d", width)
	}
	cfg := &config{opts: opts.Opts, bamPath: opts.BAM, bamIndex: opts.BAMIndex}
	log.Printf("%s: %d intervals of width %d", tool, len(intervals), width)

	sums := make([]float64, width-1)
	contributed := 0
	degraded := 0
	ds := &dataset[profileRow]{intervals: intervals, open: cfg.open, compute: cfg.profileOne}
	it := batch.NewIterator(ds, batch.Items[profileRow], opts.Batch)
	defer it.Close() // nolint: errcheck
	for it.Scan() {
		for _, row := range it.Batch() {
			if row.Failure != nil {
				degraded++
				log.Error.Printf("%s: %s: %v", tool, row.Interval, row.Failure)
				continue
			}
			floats.Add(sums, row.Combined)
			contributed++
		}
		log.Debug.Printf("%s: %d/%d intervals aggregated", tool, contributed+degraded, len(intervals))
	}
	if err = it.Close(); err != nil {
		return err
	}
	if contributed == 0 {
		return errors.Errorf("footprint: every interval degraded; nothing to profile")
	}

	ctx := vcontext.Background()
	out, err := file.Create(ctx, opts.Out)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	w := tsv.NewWriter(out.Writer(ctx))
	if err = writeHeader(w, tool, "position\tmean_count\tn"); err != nil {
		return err
	}
	center := (width - 1) / 2
	for i, sum := range sums {
		w.WriteInt64(int64(i - center))
		w.WriteFloat64(sum/float64(contributed), 'f', 4)
		w.WriteInt64(int64(contributed))
		if err = w.EndLine(); err != nil {
			return err
		}
	}
	if err = w.Flush(); err != nil {
		return err
	}
	log.Printf("%s: profiled %d/%d intervals to %s", tool, contributed, len(intervals), opts.Out)
	return nil
}
