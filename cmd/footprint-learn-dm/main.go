package main

/*
footprint-learn-dm fits a negative-binomial dispersion model for
footprint-detect: it histograms bias-corrected expected counts against
observed cleavage counts over the given intervals, fits per-bucket NB
parameters by the method of moments, and writes the model as JSON.
*/

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/footprint-tools/footprint"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] bampath fapath bedpath\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	opts := footprint.LearnOpts{Opts: footprint.DefaultOpts}
	flag.StringVar(&opts.BAMIndex, "index", "", "Input BAM index path; defaults to bampath + .bai")
	flag.StringVar(&opts.FastaIndex, "fai", "", "Reference FASTA index path; defaults to fapath + .fai")
	flag.StringVar(&opts.Bias, "bias", "", "K-mer cleavage bias table (KMER<TAB>weight per line); empty selects the uniform model")
	flag.StringVar(&opts.Out, "out", "dm.json", "Output dispersion model path")
	flag.StringVar(&opts.HistOut, "hist", "", "Also write the fit histogram as TSV to this path")
	flag.IntVar(&opts.HistRows, "hist-rows", footprint.DefaultHistRows, "Expected-count buckets in the fit histogram")
	flag.IntVar(&opts.HistCols, "hist-cols", footprint.DefaultHistCols, "Observed-count buckets in the fit histogram")
	flag.Int64Var(&opts.MinFitMass, "min-fit-mass", 0, "Pairs a bucket needs before its moment fit is trusted; 0 takes the built-in default")
	flag.IntVar(&opts.Cuts.MinMapQ, "mapq", opts.Cuts.MinMapQ, "Reads with MAPQ below this level are skipped")
	flag.BoolVar(&opts.Cuts.RemoveDups, "remove-dups", opts.Cuts.RemoveDups, "Skip reads flagged as PCR/optical duplicates")
	flag.BoolVar(&opts.Cuts.RemoveQCFail, "remove-qcfail", opts.Cuts.RemoveQCFail, "Skip reads flagged as failing vendor QC")
	flag.IntVar(&opts.Cuts.FwdOffset, "fwd-offset", opts.Cuts.FwdOffset, "Cut-site offset from the alignment start on the forward strand")
	flag.IntVar(&opts.Cuts.RevOffset, "rev-offset", opts.Cuts.RevOffset, "Cut-site offset from the alignment end on the reverse strand")
	flag.IntVar(&opts.Predict.HalfWinWidth, "half-win-width", opts.Predict.HalfWinWidth, "Half-width of the bias redistribution window")
	flag.IntVar(&opts.Predict.SmoothHalfWinWidth, "smooth-half-win", opts.Predict.SmoothHalfWinWidth, "Half-width of the trimmed-mean smoothing window; 0 disables smoothing")
	flag.Float64Var(&opts.Predict.SmoothClip, "smooth-clip", opts.Predict.SmoothClip, "Fraction trimmed from each end of the smoothing window")
	flag.Float64Var(&opts.BiasFallback, "bias-fallback", opts.BiasFallback, "Weight for k-mers missing from the bias table or containing ambiguous bases")
	flag.IntVar(&opts.Batch.Workers, "workers", opts.Batch.Workers, "Worker goroutines; 0 computes inline")
	flag.IntVar(&opts.Batch.BatchSize, "batch-size", opts.Batch.BatchSize, "Intervals per work batch")

	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() != 3 {
		flag.Usage()
		log.Fatalf("expected 3 positional arguments (bampath fapath bedpath), got: '%s'",
			strings.Join(flag.Args(), " "))
	}
	opts.BAM, opts.Fasta, opts.Intervals = flag.Arg(0), flag.Arg(1), flag.Arg(2)
	if err := footprint.Learn(opts); err != nil {
		log.Fatalf("footprint-learn-dm: %v", err)
	}
}
