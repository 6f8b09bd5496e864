package footprint

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/grailbio/footprint-tools/batch"
	"github.com/grailbio/footprint-tools/interval"
	"github.com/grailbio/footprint-tools/modeling"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcatPairs(t *testing.T) {
	bad := errors.New("bad interval")
	items := []countPair{
		{Expected: []float64{1, 2}, Observed: []float64{3, 4}},
		{Interval: interval.Interval{Chrom: "chr1", Start: 5, End: 9}, Failure: bad},
		{Expected: []float64{5}, Observed: []float64{6}},
	}
	b, err := concatPairs(items)
	require.NoError(t, err)
	expect.EQ(t, b.expected, []float64{1, 2, 5})
	expect.EQ(t, b.observed, []float64{3, 4, 6})
	require.Equal(t, 1, len(b.failed))
	expect.EQ(t, b.failed[0].Failure, bad)
}

func TestLearnOne(t *testing.T) {
	src := newFlatSource(100, 3, 0, 0)
	cfg, h := newTestConfig(t, src, nil, modeling.PredictOpts{HalfWinWidth: 3})

	pair := cfg.learnOne(h, interval.Interval{Chrom: "chr1", Start: 20, End: 40}, 0)
	require.NoError(t, pair.Failure)
	require.Equal(t, 19, len(pair.Expected))
	require.Equal(t, 19, len(pair.Observed))
	for i := range pair.Expected {
		expect.EQ(t, pair.Expected[i], 6.0, "position %d", i)
		expect.EQ(t, pair.Observed[i], 6.0, "position %d", i)
	}

	pair = cfg.learnOne(h, interval.Interval{Chrom: "chr1", Start: 500, End: 520}, 0)
	require.Error(t, pair.Failure)
	expect.EQ(t, len(pair.Expected), 0)
}

func TestLearnPipelineHistogram(t *testing.T) {
	// Feed the histogram exactly the way Learn does, with one interval out
	// of chromosome bounds: its pairs must be absent and everything else
	// lands in the (expected, observed) = (6, 6) cell.
	src := newFlatSource(100, 3, 0, 0)
	cfg, _ := newTestConfig(t, src, nil, modeling.PredictOpts{HalfWinWidth: 3})
	intervals := []interval.Interval{
		{Chrom: "chr1", Start: 10, End: 30},
		{Chrom: "chr1", Start: 30, End: 50},
		{Chrom: "chr1", Start: 400, End: 420}, // degrades
		{Chrom: "chr1", Start: 50, End: 70},
	}
	ds := &dataset[countPair]{
		intervals: intervals,
		open: func() (*handles, error) {
			pred, err := modeling.NewPredictor(src, src, modeling.Uniform{}, modeling.PredictOpts{HalfWinWidth: 3})
			if err != nil {
				return nil, err
			}
			return &handles{cuts: src, seqs: src, pred: pred}, nil
		},
		compute: cfg.learnOne,
	}
	hist := modeling.NewHist2D(20, 20)
	it := batch.NewIterator(ds, concatPairs, batch.Opts{BatchSize: 2, Workers: 2})
	degraded := 0
	for it.Scan() {
		b := it.Batch()
		degraded += len(b.failed)
		require.NoError(t, hist.AddPairs(b.expected, b.observed))
	}
	require.NoError(t, it.Close())

	expect.EQ(t, degraded, 1)
	expect.EQ(t, hist.Total(), int64(3*19))
	expect.EQ(t, hist.Row(6)[6], int64(3*19))
}

func TestLearnOptsValidate(t *testing.T) {
	good := LearnOpts{
		Opts:      DefaultOpts,
		BAM:       "a.bam",
		Fasta:     "a.fa",
		Intervals: "a.bed",
		Out:       "model.json",
	}
	require.NoError(t, good.validate())
	expect.EQ(t, good.HistRows, DefaultHistRows)
	expect.EQ(t, good.HistCols, DefaultHistCols)

	sized := good
	sized.HistRows, sized.HistCols = 10, 40
	require.NoError(t, sized.validate())
	expect.EQ(t, sized.HistRows, 10)
	expect.EQ(t, sized.HistCols, 40)

	for _, mutate := range []func(*LearnOpts){
		func(o *LearnOpts) { o.BAM = "" },
		func(o *LearnOpts) { o.Fasta = "" },
		func(o *LearnOpts) { o.Intervals = "" },
		func(o *LearnOpts) { o.Out = "" },
		func(o *LearnOpts) { o.ShuffleN = -1 },
	} {
		bad := good
		mutate(&bad)
		assert.Error(t, bad.validate())
	}
}

func TestLearnBadInputs(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	bed := filepath.Join(dir, "ivs.bed")
	require.NoError(t, ioutil.WriteFile(bed, []byte("chr1\t0\t100\n"), 0644))
	opts := LearnOpts{
		Opts:      DefaultOpts,
		BAM:       filepath.Join(dir, "missing.bam"),
		Fasta:     filepath.Join(dir, "missing.fa"),
		Intervals: bed,
		Out:       filepath.Join(dir, "model.json"),
	}
	err := Learn(opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opening producer")

	empty := filepath.Join(dir, "empty.bed")
	require.NoError(t, ioutil.WriteFile(empty, nil, 0644))
	opts.Intervals = empty
	assert.Error(t, Learn(opts))
}
