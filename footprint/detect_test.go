package footprint

import (
	"io/ioutil"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/grailbio/footprint-tools/batch"
	"github.com/grailbio/footprint-tools/cutcounts"
	"github.com/grailbio/footprint-tools/interval"
	"github.com/grailbio/footprint-tools/modeling"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves one in-memory chromosome as both count and sequence
// source.
type fakeSource struct {
	seq         string
	plus, minus []int
	failCounts  bool
	closes      int64
}

func (f *fakeSource) Counts(iv interval.Interval) (cutcounts.Counts, error) {
	if f.failCounts {
		return cutcounts.Counts{}, errors.New("truncated file")
	}
	c := cutcounts.Counts{
		Interval: iv,
		Plus:     make([]int, iv.Len()),
		Minus:    make([]int, iv.Len()),
	}
	for i := iv.Start; i < iv.End && i < len(f.plus); i++ {
		c.Plus[i-iv.Start] = f.plus[i]
		c.Minus[i-iv.Start] = f.minus[i]
		c.Reads += f.plus[i] + f.minus[i]
	}
	return c, nil
}

func (f *fakeSource) Get(chrom string, start, end int) (string, error) {
	return f.seq[start:end], nil
}

func (f *fakeSource) Len(chrom string) (int, error) { return len(f.seq), nil }

func (f *fakeSource) Close() error {
	atomic.AddInt64(&f.closes, 1)
	return nil
}

// newFlatSource builds a chromosome with constant per-strand coverage,
// optionally zeroed inside [holeStart, holeEnd).
func newFlatSource(n, depth, holeStart, holeEnd int) *fakeSource {
	seq := make([]byte, n)
	plus := make([]int, n)
	minus := make([]int, n)
	for i := range seq {
		seq[i] = "ACGT"[i%4]
		if i < holeStart || i >= holeEnd {
			plus[i] = depth
			minus[i] = depth
		}
	}
	return &fakeSource{seq: string(seq), plus: plus, minus: minus}
}

// flatDispersion gives bucket e an NB(r=e, p=0.5) null, whose mean is e.
func flatDispersion(buckets int) *modeling.Dispersion {
	d := &modeling.Dispersion{R: make([]float64, buckets), P: make([]float64, buckets)}
	for e := range d.R {
		d.R[e] = float64(e)
		d.P[e] = 0.5
	}
	d.R[0] = 0.1 // keep bucket zero a valid distribution
	return d
}

func newTestConfig(t *testing.T, src *fakeSource, disp *modeling.Dispersion, popts modeling.PredictOpts) (*config, *handles) {
	pred, err := modeling.NewPredictor(src, src, modeling.Uniform{}, popts)
	require.NoError(t, err)
	cfg := &config{opts: DefaultOpts, disp: disp}
	cfg.opts.ShuffleN = 50
	return cfg, &handles{cuts: src, seqs: src, pred: pred}
}

func TestDetectOneFlat(t *testing.T) {
	src := newFlatSource(200, 5, 0, 0)
	cfg, h := newTestConfig(t, src, flatDispersion(30), modeling.PredictOpts{HalfWinWidth: 3})

	iv := interval.Interval{Chrom: "chr1", Start: 50, End: 100}
	res := cfg.detectOne(h, iv, 0)
	require.NoError(t, res.Failure)
	require.Equal(t, iv.Len()-1, len(res.Rows))
	for i, row := range res.Rows {
		assert.InDelta(t, 10.0, row.Expected, 1e-9, "row %d", i)
		expect.EQ(t, row.Observed, 10.0, "row %d", i)
		expect.True(t, row.P > 0 && row.P <= 1, "row %d: p=%v", i, row.P)
		expect.True(t, row.FDR >= 0 && row.FDR <= 1, "row %d: fdr=%v", i, row.FDR)
	}
}

func TestDetectOneDepletion(t *testing.T) {
	// Ten zeroed positions inside otherwise flat coverage: the smoothing
	// window keeps the expected count up, so the depletion scores.
	src := newFlatSource(200, 5, 95, 105)
	popts := modeling.PredictOpts{HalfWinWidth: 3, SmoothHalfWinWidth: 20}
	cfg, h := newTestConfig(t, src, flatDispersion(30), popts)

	iv := interval.Interval{Chrom: "chr1", Start: 60, End: 140}
	res := cfg.detectOne(h, iv, 0)
	require.NoError(t, res.Failure)

	center := 99 - iv.Start // combined row i covers [start+i, start+i+1)
	flat := 70 - iv.Start
	expect.EQ(t, res.Rows[center].Observed, 0.0)
	expect.GT(t, res.Rows[center].Expected, 5.0)
	expect.LT(t, res.Rows[center].P, 0.01)
	expect.LE(t, res.Rows[center].FDR, 0.2)
	expect.LT(t, res.Rows[center].P, res.Rows[flat].P)
	expect.LE(t, res.Rows[center].FDR, res.Rows[flat].FDR)
}

func TestDetectOneNoDispersion(t *testing.T) {
	src := newFlatSource(100, 3, 0, 0)
	cfg, h := newTestConfig(t, src, nil, modeling.PredictOpts{HalfWinWidth: 3})

	res := cfg.detectOne(h, interval.Interval{Chrom: "chr1", Start: 10, End: 30}, 0)
	require.NoError(t, res.Failure)
	require.Equal(t, 19, len(res.Rows))
	for _, row := range res.Rows {
		expect.EQ(t, row.Observed, 6.0)
		expect.EQ(t, row.P, 1.0)
		expect.EQ(t, row.WinP, 1.0)
		expect.EQ(t, row.FDR, 1.0)
	}
}

func TestDetectOneDegrades(t *testing.T) {
	src := newFlatSource(100, 3, 0, 0)
	cfg, h := newTestConfig(t, src, flatDispersion(10), modeling.PredictOpts{HalfWinWidth: 3})

	// Out of chromosome bounds: the predictor fails, the result degrades.
	iv := interval.Interval{Chrom: "chr1", Start: 900, End: 950}
	res := cfg.detectOne(h, iv, 0)
	require.Error(t, res.Failure)
	require.Equal(t, 49, len(res.Rows))
	for _, row := range res.Rows {
		expect.EQ(t, row.Expected, 0.0)
		expect.EQ(t, row.Observed, 0.0)
		expect.EQ(t, row.P, 1.0)
		expect.EQ(t, row.FDR, 1.0)
	}

	src.failCounts = true
	res = cfg.detectOne(h, interval.Interval{Chrom: "chr1", Start: 10, End: 20}, 0)
	require.Error(t, res.Failure)
	expect.EQ(t, len(res.Rows), 9)
}

func TestDetectOneDeterministicPerIndex(t *testing.T) {
	src := newFlatSource(200, 5, 95, 105)
	popts := modeling.PredictOpts{HalfWinWidth: 3, SmoothHalfWinWidth: 20}
	cfg, h := newTestConfig(t, src, flatDispersion(30), popts)

	iv := interval.Interval{Chrom: "chr1", Start: 60, End: 140}
	first := cfg.detectOne(h, iv, 7)
	second := cfg.detectOne(h, iv, 7)
	assert.Equal(t, first.Rows, second.Rows)
}

func TestDetectPipelineWorkerIndependence(t *testing.T) {
	// The FDR resampling is seeded per interval index, so the full pipeline
	// yields byte-identical results however the work is distributed.
	src := newFlatSource(400, 5, 195, 205)
	popts := modeling.PredictOpts{HalfWinWidth: 3, SmoothHalfWinWidth: 20}
	cfg, _ := newTestConfig(t, src, flatDispersion(30), popts)

	var intervals []interval.Interval
	for start := 0; start+40 <= 400; start += 40 {
		intervals = append(intervals, interval.Interval{Chrom: "chr1", Start: start, End: start + 40})
	}
	run := func(workers, batchSize int) []Result {
		ds := &dataset[Result]{
			intervals: intervals,
			open: func() (*handles, error) {
				pred, err := modeling.NewPredictor(src, src, modeling.Uniform{}, popts)
				if err != nil {
					return nil, err
				}
				return &handles{cuts: src, seqs: src, pred: pred}, nil
			},
			compute: cfg.detectOne,
		}
		it := batch.NewIterator(ds, batch.Items[Result], batch.Opts{BatchSize: batchSize, Workers: workers})
		var out []Result
		for it.Scan() {
			out = append(out, it.Batch()...)
		}
		require.NoError(t, it.Close())
		return out
	}

	base := run(0, 3)
	for _, alt := range []struct{ workers, batchSize int }{{1, 10}, {4, 1}, {4, 3}} {
		got := run(alt.workers, alt.batchSize)
		require.Equal(t, len(base), len(got))
		for i := range base {
			expect.EQ(t, got[i].Interval, base[i].Interval, "interval %d", i)
			assert.Equal(t, base[i].Rows, got[i].Rows, "interval %d", i)
		}
	}
}

func TestHandlesClose(t *testing.T) {
	src := newFlatSource(10, 1, 0, 0)
	h := &handles{cuts: src, seqs: src}
	require.NoError(t, h.Close())
	expect.EQ(t, atomic.LoadInt64(&src.closes), int64(2))
	// Closing again is a no-op.
	require.NoError(t, h.Close())
	expect.EQ(t, atomic.LoadInt64(&src.closes), int64(2))
}

func TestNeutralRows(t *testing.T) {
	expect.EQ(t, len(neutralRows(-3)), 0)
	rows := neutralRows(2)
	require.Equal(t, 2, len(rows))
	expect.EQ(t, rows[0], Row{P: 1, WinP: 1, FDR: 1})
}

func TestDetectOptsValidate(t *testing.T) {
	good := DetectOpts{
		Opts:      DefaultOpts,
		BAM:       "a.bam",
		Fasta:     "a.fa",
		Intervals: "a.bed",
		OutPrefix: "out",
	}
	require.NoError(t, good.validate())

	for _, mutate := range []func(*DetectOpts){
		func(o *DetectOpts) { o.BAM = "" },
		func(o *DetectOpts) { o.Fasta = "" },
		func(o *DetectOpts) { o.Intervals = "" },
		func(o *DetectOpts) { o.OutPrefix = "" },
		func(o *DetectOpts) { o.ShuffleN = 0 },
		func(o *DetectOpts) { o.BiasFallback = -1 },
		func(o *DetectOpts) { o.Thresholds = []float64{0.5, 1.5} },
		func(o *DetectOpts) { o.Thresholds = []float64{0} },
	} {
		bad := good
		mutate(&bad)
		assert.Error(t, bad.validate())
	}
}

func TestDetectBadInputs(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	empty := filepath.Join(dir, "empty.bed")
	require.NoError(t, ioutil.WriteFile(empty, nil, 0644))
	opts := DetectOpts{
		Opts:      DefaultOpts,
		BAM:       filepath.Join(dir, "missing.bam"),
		Fasta:     filepath.Join(dir, "missing.fa"),
		Intervals: empty,
		OutPrefix: filepath.Join(dir, "out"),
	}
	assert.Error(t, Detect(opts)) // no intervals

	opts.Intervals = filepath.Join(dir, "nonexistent.bed")
	assert.Error(t, Detect(opts))
}

func TestDetectMissingBAM(t *testing.T) {
	// With a readable interval list, the missing BAM surfaces when the
	// first worker opens its producer.
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	bed := filepath.Join(dir, "ivs.bed")
	require.NoError(t, ioutil.WriteFile(bed, []byte("chr1\t100\t200\n"), 0644))

	opts := DetectOpts{
		Opts:      DefaultOpts,
		BAM:       filepath.Join(dir, "missing.bam"),
		Fasta:     filepath.Join(dir, "missing.fa"),
		Intervals: bed,
		OutPrefix: filepath.Join(dir, "out"),
	}
	err := Detect(opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opening producer")
}
