package footprint

import (
	"io/ioutil"
	"math"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/footprint-tools/interval"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegLog(t *testing.T) {
	expect.EQ(t, negLog(1), 0.0)
	assert.InDelta(t, 2.302585, negLog(0.1), 1e-6)
	assert.InDelta(t, 3.0, negLog(math.Exp(-3)), 1e-12)
}

func TestBedPath(t *testing.T) {
	expect.EQ(t, bedPath("p", 0.05), "p.fdr0.05.bed")
	expect.EQ(t, bedPath("p", 0.001), "p.fdr0.001.bed")
	expect.EQ(t, bedPath("out/run1", 0.1), "out/run1.fdr0.1.bed")
}

func TestStatsWriter(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()

	path := filepath.Join(dir, "short.bedgraph")
	w, err := newStatsWriter(ctx, path, "footprint-detect", false)
	require.NoError(t, err)
	res := Result{
		Interval: interval.Interval{Chrom: "chr1", Start: 100, End: 103},
		Rows: []Row{
			{Expected: 2.5, Observed: 3, P: 1, WinP: 1, FDR: 1},
			{Expected: 0, Observed: 0, P: 1, WinP: 1, FDR: 1},
		},
	}
	require.NoError(t, w.writeResult(res))
	require.NoError(t, w.Close())

	got, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	want := `# generated by footprint-detect 1.0.0
# chrom	start	end	expected	observed
chr1	100	101	2.5000	3.0000
chr1	101	102	0.0000	0.0000
`
	expect.EQ(t, string(got), want)
}

func TestStatsWriterFull(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()

	path := filepath.Join(dir, "full.bedgraph")
	w, err := newStatsWriter(ctx, path, "footprint-detect", true)
	require.NoError(t, err)
	res := Result{
		Interval: interval.Interval{Chrom: "chrX", Start: 10, End: 12},
		Rows:     []Row{{Expected: 10, Observed: 0, P: 0.1, WinP: 1, FDR: 0.25}},
	}
	require.NoError(t, w.writeResult(res))
	require.NoError(t, w.Close())

	got, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	want := `# generated by footprint-detect 1.0.0
# chrom	start	end	expected	observed	-log(p)	-log(winp)	fdr
chrX	10	11	10.0000	0.0000	2.3026	0.0000	0.2500
`
	expect.EQ(t, string(got), want)
}

func TestBedWriter(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()

	w, err := newBedWriter(ctx, filepath.Join(dir, "foot"), "footprint-detect", 0.01)
	require.NoError(t, err)
	fdrs := []float64{0, 0, 0, 1, 1, 0.005, 0.005, 0.005, 1}
	res := Result{
		Interval: interval.Interval{Chrom: "chr1", Start: 500, End: 510},
		Rows:     make([]Row, len(fdrs)),
	}
	for i, f := range fdrs {
		res.Rows[i] = Row{FDR: f}
	}
	require.NoError(t, w.writeResult(res))
	require.NoError(t, w.Close())

	got, err := ioutil.ReadFile(filepath.Join(dir, "foot.fdr0.01.bed"))
	require.NoError(t, err)
	want := `# generated by footprint-detect 1.0.0
# chrom	start	end	name	score
chr1	500	503	.	1.0000
chr1	505	508	.	0.9950
`
	expect.EQ(t, string(got), want)
}

func TestBedWriterSkipsShortRuns(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()

	w, err := newBedWriter(ctx, filepath.Join(dir, "foot"), "footprint-detect", 0.05)
	require.NoError(t, err)
	res := Result{
		Interval: interval.Interval{Chrom: "chr2", Start: 0, End: 6},
		Rows: []Row{
			{FDR: 0.01}, {FDR: 0.01}, {FDR: 0.9}, {FDR: 0.01}, {FDR: 0.9},
		},
	}
	require.NoError(t, w.writeResult(res))
	require.NoError(t, w.Close())

	got, err := ioutil.ReadFile(filepath.Join(dir, "foot.fdr0.05.bed"))
	require.NoError(t, err)
	want := `# generated by footprint-detect 1.0.0
# chrom	start	end	name	score
`
	expect.EQ(t, string(got), want)
}

func TestBedWritersFanOut(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()

	prefix := filepath.Join(dir, "multi")
	ws, err := newBedWriters(ctx, prefix, "footprint-detect", []float64{0.001, 0.05})
	require.NoError(t, err)
	res := Result{
		Interval: interval.Interval{Chrom: "chr3", Start: 20, End: 26},
		Rows: []Row{
			{FDR: 0.01}, {FDR: 0.01}, {FDR: 0.01}, {FDR: 0.8}, {FDR: 0.8},
		},
	}
	require.NoError(t, ws.writeResult(res))
	require.NoError(t, ws.Close())

	// The run passes the lenient threshold only.
	strict, err := ioutil.ReadFile(prefix + ".fdr0.001.bed")
	require.NoError(t, err)
	lenient, err := ioutil.ReadFile(prefix + ".fdr0.05.bed")
	require.NoError(t, err)
	assert.NotContains(t, string(strict), "chr3")
	assert.Contains(t, string(lenient), "chr3\t20\t23\t.\t0.9900")
}
