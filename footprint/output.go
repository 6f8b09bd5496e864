package footprint

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/footprint-tools/stats"
)

// Version identifies the pipeline in output file headers.
const Version = "1.0.0"

// negLog returns -ln(p), exact 0 for p == 1 so neutral rows do not print
// "-0.0000".
func negLog(p float64) float64 {
	v := -math.Log(p)
	if v <= 0 {
		return 0
	}
	return v
}

func writeHeader(w *tsv.Writer, tool, columns string) error {
	w.WriteString(fmt.Sprintf("# generated by %s %s", tool, Version))
	if err := w.EndLine(); err != nil {
		return err
	}
	w.WriteString("# " + columns)
	return w.EndLine()
}

// statsWriter streams the per-nucleotide statistics bedgraph.  The
// dispersion-model columns are omitted when no model was given.
type statsWriter struct {
	ctx  context.Context
	out  file.File
	w    *tsv.Writer
	full bool
}

func newStatsWriter(ctx context.Context, path, tool string, full bool) (*statsWriter, error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return nil, err
	}
	s := &statsWriter{ctx: ctx, out: out, w: tsv.NewWriter(out.Writer(ctx)), full: full}
	columns := "chrom\tstart\tend\texpected\tobserved"
	if full {
		columns += "\t-log(p)\t-log(winp)\tfdr"
	}
	if err := writeHeader(s.w, tool, columns); err != nil {
		_ = out.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *statsWriter) writeResult(res Result) error {
	iv := res.Interval
	for i, row := range res.Rows {
		s.w.WriteString(iv.Chrom)
		s.w.WriteInt64(int64(iv.Start + i))
		s.w.WriteInt64(int64(iv.Start + i + 1))
		s.w.WriteFloat64(row.Expected, 'f', 4)
		s.w.WriteFloat64(row.Observed, 'f', 4)
		if s.full {
			s.w.WriteFloat64(negLog(row.P), 'f', 4)
			s.w.WriteFloat64(negLog(row.WinP), 'f', 4)
			s.w.WriteFloat64(row.FDR, 'f', 4)
		}
		if err := s.w.EndLine(); err != nil {
			return err
		}
	}
	return nil
}

func (s *statsWriter) Close() error {
	err := s.w.Flush()
	if cerr := s.out.Close(s.ctx); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func bedPath(prefix string, threshold float64) string {
	return fmt.Sprintf("%s.fdr%s.bed", prefix, strconv.FormatFloat(threshold, 'g', -1, 64))
}

// bedWriter emits the footprint calls passing one FDR threshold: maximal
// runs of at least minFootprintWidth positions with 1-fdr >= 1-threshold,
// scored by the run's weakest position.
type bedWriter struct {
	ctx       context.Context
	threshold float64
	out       file.File
	w         *tsv.Writer
}

func newBedWriter(ctx context.Context, prefix, tool string, threshold float64) (*bedWriter, error) {
	out, err := file.Create(ctx, bedPath(prefix, threshold))
	if err != nil {
		return nil, err
	}
	b := &bedWriter{ctx: ctx, threshold: threshold, out: out, w: tsv.NewWriter(out.Writer(ctx))}
	if err := writeHeader(b.w, tool, "chrom\tstart\tend\tname\tscore"); err != nil {
		_ = out.Close(ctx)
		return nil, err
	}
	return b, nil
}

func (b *bedWriter) writeResult(res Result) error {
	scores := make([]float64, len(res.Rows))
	for i, row := range res.Rows {
		scores[i] = 1 - row.FDR
	}
	iv := res.Interval
	for _, run := range stats.Segment(scores, 1-b.threshold, minFootprintWidth) {
		score := scores[run.Start]
		for _, v := range scores[run.Start+1 : run.End] {
			if v < score {
				score = v
			}
		}
		b.w.WriteString(iv.Chrom)
		b.w.WriteInt64(int64(iv.Start + run.Start))
		b.w.WriteInt64(int64(iv.Start + run.End))
		b.w.WriteString(".")
		b.w.WriteFloat64(score, 'f', 4)
		if err := b.w.EndLine(); err != nil {
			return err
		}
	}
	return nil
}

func (b *bedWriter) Close() error {
	err := b.w.Flush()
	if cerr := b.out.Close(b.ctx); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

type bedWriters []*bedWriter

func newBedWriters(ctx context.Context, prefix, tool string, thresholds []float64) (bedWriters, error) {
	ws := make(bedWriters, 0, len(thresholds))
	for _, t := range thresholds {
		w, err := newBedWriter(ctx, prefix, tool, t)
		if err != nil {
			_ = ws.Close()
			return nil, err
		}
		ws = append(ws, w)
	}
	return ws, nil
}

func (ws bedWriters) writeResult(res Result) error {
	for _, w := range ws {
		if err := w.writeResult(res); err != nil {
			return err
		}
	}
	return nil
}

func (ws bedWriters) Close() error {
	var err error
	for _, w := range ws {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
