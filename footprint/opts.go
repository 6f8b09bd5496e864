// Package footprint drives the end-to-end detection pipeline: it feeds
// genomic intervals through the batch engine, computes per-nucleotide
// deviation statistics against a dispersion model, and writes footprint
// calls.  The learn driver fits the dispersion model itself, and the profile
// driver aggregates raw cleavage around aligned intervals.
package footprint

import (
	"github.com/grailbio/footprint-tools/batch"
	"github.com/grailbio/footprint-tools/cutcounts"
	"github.com/grailbio/footprint-tools/modeling"
	"github.com/pkg/errors"
)

// Opts hold the machinery knobs shared by every driver.
type Opts struct {
	// Cuts filter and offset the per-read cleavage tally.
	Cuts cutcounts.Opts
	// Predict shapes the expected-count computation.
	Predict modeling.PredictOpts
	// Batch sizes the worker pool.
	Batch batch.Opts
	// BiasFallback is the weight a k-mer model assigns to contexts missing
	// from its table or containing ambiguous bases.
	BiasFallback float64
	// ShuffleN is the number of null resamples drawn per interval for FDR
	// estimation.
	ShuffleN int
	// Seed is the base RNG seed.  Each interval derives its own stream from
	// (Seed, interval index), so results do not depend on the worker count.
	Seed uint64
}

// DefaultOpts mirror the upstream defaults.
var DefaultOpts = Opts{
	Cuts:         cutcounts.DefaultOpts,
	Predict:      modeling.DefaultPredictOpts,
	Batch:        batch.DefaultOpts,
	BiasFallback: 1,
	ShuffleN:     100,
	Seed:         1,
}

// DefaultThresholds are the FDR cutoffs footprints are called at.
var DefaultThresholds = []float64{0.001, 0.01, 0.05}

// Default shape of the (expected, observed) histogram behind the dispersion
// fit.
const (
	DefaultHistRows = 200
	DefaultHistCols = 1000
)

func (o *Opts) validate() error {
	if o.ShuffleN < 1 {
		return errors.Errorf("footprint: ShuffleN must be at least 1, got %d", o.ShuffleN)
	}
	if o.BiasFallback < 0 {
		return errors.Errorf("footprint: negative BiasFallback %v", o.BiasFallback)
	}
	return nil
}

// DetectOpts configure Detect.
type DetectOpts struct {
	Opts
	// BAM is the coordinate-sorted, indexed alignment file; BAMIndex
	// defaults to BAM + ".bai".
	BAM, BAMIndex string
	// Fasta is the reference the alignments were made against; FastaIndex
	// defaults to Fasta + ".fai".
	Fasta, FastaIndex string
	// Intervals is the BED file of regions to scan.
	Intervals string
	// Bias is a k-mer cleavage preference table; empty selects the uniform
	// model.
	Bias string
	// Dispersion is the fitted model to test against; empty emits only the
	// expected/observed columns and calls no footprints.
	Dispersion string
	// Thresholds are the FDR cutoffs to write footprint BEDs for.
	Thresholds []float64
	// OutPrefix names the outputs: <prefix>.bedgraph plus one
	// <prefix>.fdr<t>.bed per threshold.
	OutPrefix string
}

func (o *DetectOpts) validate() error {
	if err := o.Opts.validate(); err != nil {
		return err
	}
	for _, p := range []struct{ name, val string }{
		{"BAM", o.BAM}, {"Fasta", o.Fasta}, {"Intervals", o.Intervals}, {"OutPrefix", o.OutPrefix},
	} {
		if p.val == "" {
			return errors.Errorf("footprint: %s is required", p.name)
		}
	}
	for _, t := range o.Thresholds {
		if !(t > 0 && t < 1) {
			return errors.Errorf("footprint: FDR threshold %v out of range (0, 1)", t)
		}
	}
	return nil
}

// LearnOpts configure Learn.
type LearnOpts struct {
	Opts
	BAM, BAMIndex     string
	Fasta, FastaIndex string
	Intervals         string
	Bias              string
	// HistRows and HistCols bound the (expected, observed) histogram; pairs
	// outside it are dropped.  Zero values take the defaults.
	HistRows, HistCols int
	// MinFitMass is the per-bucket observation mass required before the
	// moment fit is trusted; zero takes modeling.DefaultMinFitMass.
	MinFitMass int64
	// Out is the JSON dispersion model to write.
	Out string
	// HistOut, when nonempty, also writes the accumulated histogram as TSV.
	HistOut string
}

func (o *LearnOpts) validate() error {
	if err := o.Opts.validate(); err != nil {
		return err
	}
	for _, p := range []struct{ name, val string }{
		{"BAM", o.BAM}, {"Fasta", o.Fasta}, {"Intervals", o.Intervals}, {"Out", o.Out},
	} {
		if p.val == "" {
			return errors.Errorf("footprint: %s is required", p.name)
		}
	}
	if o.HistRows == 0 {
		o.HistRows = DefaultHistRows
	}
	if o.HistCols == 0 {
		o.HistCols = DefaultHistCols
	}
	if o.HistRows < 1 || o.HistCols < 2 {
		return errors.Errorf("footprint: bad histogram shape %dx%d", o.HistRows, o.HistCols)
	}
	return nil
}

// ProfileOpts configure Profile.
type ProfileOpts struct {
	Opts
	BAM, BAMIndex string
	// Intervals must all have the same width; positions are reported
	// relative to the interval centers.
	Intervals string
	// Out is the TSV profile to write.
	Out string
}

func (o *ProfileOpts) validate() error {
	if err := o.Opts.validate(); err != nil {
		return err
	}
	for _, p := range []struct{ name, val string }{
		{"BAM", o.BAM}, {"Intervals", o.Intervals}, {"Out", o.Out},
	} {
		if p.val == "" {
			return errors.Errorf("footprint: %s is required", p.name)
		}
	}
	return nil
}
