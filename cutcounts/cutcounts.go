// Package cutcounts tallies sequencing-read cleavage sites per genomic
// position and strand from a coordinate-sorted, indexed BAM file.  A cut
// site is the 5' end of an alignment, optionally shifted per strand: enzymes
// such as DNase-I nick between positions, so the reverse-strand cut is
// conventionally taken one base inside the alignment end.
package cutcounts

import (
	"fmt"
	"io"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/footprint-tools/interval"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/bgzf/index"
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
)

// Opts configure which alignments contribute cut sites and where the cut
// lands relative to the alignment.
type Opts struct {
	// MinMapQ drops alignments with mapping quality below this value.
	MinMapQ int
	// RemoveDups drops alignments flagged as PCR/optical duplicates.
	RemoveDups bool
	// RemoveQCFail drops alignments flagged as failing vendor QC.
	RemoveQCFail bool
	// FwdOffset shifts the cut site of forward-strand alignments relative to
	// the alignment start.
	FwdOffset int
	// RevOffset shifts the cut site of reverse-strand alignments relative to
	// the (exclusive) alignment end.  The default -1 counts the last aligned
	// base.
	RevOffset int
}

// DefaultOpts are the conventional DNase-I settings.
var DefaultOpts = Opts{
	MinMapQ:      1,
	RemoveDups:   false,
	RemoveQCFail: true,
	FwdOffset:    0,
	RevOffset:    -1,
}

// Counts holds per-strand cut tallies for one interval.  Plus[i] and
// Minus[i] count cuts at position Interval.Start+i; Reads is the number of
// alignments that contributed a cut.
type Counts struct {
	Interval interval.Interval
	Plus     []int
	Minus    []int
	Reads    int
}

// Reader produces Counts for arbitrary intervals of one BAM file.  It owns a
// file handle and decoder state and is not safe for concurrent use: open one
// Reader per worker.
type Reader struct {
	path string
	opts Opts

	in        file.File
	bamr      *bam.Reader
	idx       *bam.Index
	refByName map[string]*sam.Reference
}

// Open opens the BAM at path and its index.  indexPath == "" defaults to
// path + ".bai".
func Open(path, indexPath string, opts Opts) (*Reader, error) {
	if indexPath == "" {
		indexPath = path + ".bai"
	}
	ctx := vcontext.Background()
	r := &Reader{path: path, opts: opts}
	var err error
	if r.in, err = file.Open(ctx, path); err != nil {
		return nil, errors.Wrapf(err, "cutcounts: opening %s", path)
	}
	indexIn, err := file.Open(ctx, indexPath)
	if err != nil {
		_ = r.in.Close(ctx)
		return nil, errors.Wrapf(err, "cutcounts: opening index %s", indexPath)
	}
	r.idx, err = bam.ReadIndex(indexIn.Reader(ctx))
	if cerr := indexIn.Close(ctx); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		_ = r.in.Close(ctx)
		return nil, errors.Wrapf(err, "cutcounts: reading index %s", indexPath)
	}
	if r.bamr, err = bam.NewReader(r.in.Reader(ctx), 1); err != nil {
		_ = r.in.Close(ctx)
		return nil, errors.Wrapf(err, "cutcounts: reading header of %s", path)
	}
	refs := r.bamr.Header().Refs()
	r.refByName = make(map[string]*sam.Reference, len(refs))
	for _, ref := range refs {
		r.refByName[ref.Name()] = ref
	}
	return r, nil
}

// RefLen returns the reference length for chrom, or false if the BAM header
// does not mention it.
func (r *Reader) RefLen(chrom string) (int, bool) {
	ref, ok := r.refByName[chrom]
	if !ok {
		return 0, false
	}
	return ref.Len(), true
}

// Counts tallies cut sites inside iv.  Alignments are pulled via the BAM
// index; an interval with no covering reads returns zero-filled vectors, not
// an error.
func (r *Reader) Counts(iv interval.Interval) (Counts, error) {
	c := Counts{
		Interval: iv,
		Plus:     make([]int, iv.Len()),
		Minus:    make([]int, iv.Len()),
	}
	if !iv.Valid() {
		return c, fmt.Errorf("cutcounts: invalid interval %s", iv)
	}
	ref, ok := r.refByName[iv.Chrom]
	if !ok {
		return c, fmt.Errorf("cutcounts: %s: chromosome %s not in %s", iv, iv.Chrom, r.path)
	}

	// Pad the index query so shifted cut sites near the boundaries are not
	// missed, then keep only cuts that land inside iv.
	pad := abs(r.opts.FwdOffset)
	if a := abs(r.opts.RevOffset); a > pad {
		pad = a
	}
	qStart := iv.Start - pad
	if qStart < 0 {
		qStart = 0
	}
	qEnd := iv.End + pad
	if qEnd > ref.Len() {
		qEnd = ref.Len()
	}
	if qStart >= qEnd {
		return c, nil
	}
	chunks, err := r.idx.Chunks(ref, qStart, qEnd)
	if err == index.ErrInvalid || len(chunks) == 0 {
		// No reads indexed for this range.
		return c, nil
	}
	if err != nil {
		return c, errors.Wrapf(err, "cutcounts: %s: index lookup", iv)
	}
	if err := r.bamr.Seek(chunks[0].Begin); err != nil {
		return c, errors.Wrapf(err, "cutcounts: %s: seek", iv)
	}
	for {
		rec, err := r.bamr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return c, errors.Wrapf(err, "cutcounts: %s: read", iv)
		}
		if rec.Ref == nil || rec.Ref.ID() > ref.ID() || (rec.Ref.ID() == ref.ID() && rec.Pos >= qEnd) {
			sam.PutInFreePool(rec)
			break
		}
		if rec.Ref.ID() < ref.ID() {
			sam.PutInFreePool(rec)
			continue
		}
		r.tally(&c, rec)
		sam.PutInFreePool(rec)
	}
	return c, nil
}

func (r *Reader) tally(c *Counts, rec *sam.Record) {
	if rec.Flags&sam.Unmapped != 0 {
		return
	}
	if int(rec.MapQ) < r.opts.MinMapQ {
		return
	}
	if r.opts.RemoveDups && rec.Flags&sam.Duplicate != 0 {
		return
	}
	if r.opts.RemoveQCFail && rec.Flags&sam.QCFail != 0 {
		return
	}
	var cut int
	minus := rec.Flags&sam.Reverse != 0
	if minus {
		cut = rec.End() + r.opts.RevOffset
	} else {
		cut = rec.Pos + r.opts.FwdOffset
	}
	if cut < c.Interval.Start || cut >= c.Interval.End {
		return
	}
	if minus {
		c.Minus[cut-c.Interval.Start]++
	} else {
		c.Plus[cut-c.Interval.Start]++
	}
	c.Reads++
}

// Close releases the BAM handle.  The Reader must not be used afterwards.
func (r *Reader) Close() error {
	var err error
	if r.bamr != nil {
		err = r.bamr.Close()
		r.bamr = nil
	}
	if r.in != nil {
		if cerr := r.in.Close(vcontext.Background()); cerr != nil && err == nil {
			err = cerr
		}
		r.in = nil
	}
	return err
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
