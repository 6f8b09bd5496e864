package cutcounts

import (
	"testing"

	"github.com/grailbio/footprint-tools/interval"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func newTestRecord(ref *sam.Reference, pos, alnLen int, mapQ byte, flags sam.Flags) *sam.Record {
	r := sam.GetFromFreePool()
	r.Name = "read"
	r.Ref = ref
	r.Pos = pos
	r.MapQ = mapQ
	r.Flags = flags
	r.Cigar = sam.Cigar{sam.NewCigarOp(sam.CigarMatch, alnLen)}
	return r
}

func newCounts(iv interval.Interval) Counts {
	return Counts{
		Interval: iv,
		Plus:     make([]int, iv.Len()),
		Minus:    make([]int, iv.Len()),
	}
}

func TestTallyStrandsAndOffsets(t *testing.T) {
	ref, err := sam.NewReference("chr1", "", "", 1000, nil, nil)
	require.NoError(t, err)
	iv := interval.Interval{Chrom: "chr1", Start: 100, End: 160}

	tests := []struct {
		name      string
		opts      Opts
		pos       int
		alnLen    int
		flags     sam.Flags
		wantPlus  int // index into Plus, -1 for no count
		wantMinus int // index into Minus, -1 for no count
	}{
		{"forward cut at alignment start", DefaultOpts, 110, 36, 0, 10, -1},
		{"reverse cut at last aligned base", DefaultOpts, 110, 36, sam.Reverse, -1, 45},
		{"forward with +4 shift", Opts{MinMapQ: 1, FwdOffset: 4, RevOffset: -5}, 110, 36, 0, 14, -1},
		{"reverse with -5 shift", Opts{MinMapQ: 1, FwdOffset: 4, RevOffset: -5}, 110, 36, sam.Reverse, -1, 41},
		{"forward cut before interval", DefaultOpts, 98, 36, 0, -1, -1},
		{"reverse end past interval", DefaultOpts, 140, 36, sam.Reverse, -1, -1},
		{"forward on the last position", DefaultOpts, 159, 36, 0, 59, -1},
	}
	for _, tt := range tests {
		r := &Reader{opts: tt.opts}
		c := newCounts(iv)
		rec := newTestRecord(ref, tt.pos, tt.alnLen, 30, tt.flags)
		r.tally(&c, rec)
		wantReads := 0
		for i := range c.Plus {
			wantP, wantM := 0, 0
			if i == tt.wantPlus {
				wantP = 1
			}
			if i == tt.wantMinus {
				wantM = 1
			}
			expect.EQ(t, c.Plus[i], wantP, "%s: plus[%d]", tt.name, i)
			expect.EQ(t, c.Minus[i], wantM, "%s: minus[%d]", tt.name, i)
		}
		if tt.wantPlus >= 0 || tt.wantMinus >= 0 {
			wantReads = 1
		}
		expect.EQ(t, c.Reads, wantReads, "%s: reads", tt.name)
	}
}

func TestTallyFilters(t *testing.T) {
	ref, err := sam.NewReference("chr1", "", "", 1000, nil, nil)
	require.NoError(t, err)
	iv := interval.Interval{Chrom: "chr1", Start: 100, End: 200}

	tests := []struct {
		name  string
		opts  Opts
		mapQ  byte
		flags sam.Flags
		want  int // total reads counted
	}{
		{"passes default filters", DefaultOpts, 30, 0, 1},
		{"mapq zero dropped", DefaultOpts, 0, 0, 0},
		{"mapq at threshold kept", Opts{MinMapQ: 30}, 30, 0, 1},
		{"mapq below threshold dropped", Opts{MinMapQ: 31}, 30, 0, 0},
		{"unmapped dropped", DefaultOpts, 30, sam.Unmapped, 0},
		{"duplicate kept by default", DefaultOpts, 30, sam.Duplicate, 1},
		{"duplicate dropped when filtering", Opts{MinMapQ: 1, RemoveDups: true}, 30, sam.Duplicate, 0},
		{"qcfail dropped by default", DefaultOpts, 30, sam.QCFail, 0},
		{"qcfail kept when not filtering", Opts{MinMapQ: 1}, 30, sam.QCFail, 1},
	}
	for _, tt := range tests {
		r := &Reader{opts: tt.opts}
		c := newCounts(iv)
		r.tally(&c, newTestRecord(ref, 150, 36, tt.mapQ, tt.flags))
		expect.EQ(t, c.Reads, tt.want, "%s", tt.name)
	}
}

func TestTallyAccumulates(t *testing.T) {
	ref, err := sam.NewReference("chr1", "", "", 1000, nil, nil)
	require.NoError(t, err)
	iv := interval.Interval{Chrom: "chr1", Start: 0, End: 50}
	r := &Reader{opts: DefaultOpts}
	c := newCounts(iv)
	for i := 0; i < 3; i++ {
		r.tally(&c, newTestRecord(ref, 10, 20, 30, 0))
	}
	r.tally(&c, newTestRecord(ref, 10, 20, 30, sam.Reverse)) // cut at 29
	expect.EQ(t, c.Plus[10], 3)
	expect.EQ(t, c.Minus[29], 1)
	expect.EQ(t, c.Reads, 4)
}
