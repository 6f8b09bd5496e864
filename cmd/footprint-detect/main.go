package main

/*
footprint-detect scans genomic intervals of a DNase-seq BAM for protein
footprints: per-nucleotide cleavage counts are compared against a
sequence-bias-corrected expected rate, depletions are scored against a
negative-binomial dispersion model, and significant runs are written as
footprint calls at each requested FDR threshold.
*/

import (
	"flag"
	"fmt"
	"os"
	"strconv"
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

func parseThresholds(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	var out []float64
	for _, field := range strings.Split(s, ",") {
		t, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, fmt.Errorf("bad threshold %q: %v", field, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func main() {
	flag.Usage = usage
	opts := footprint.DetectOpts{Opts: footprint.DefaultOpts}
	flag.StringVar(&opts.BAMIndex, "index", "", "Input BAM index path; defaults to bampath + .bai")
	flag.StringVar(&opts.FastaIndex, "fai", "", "Reference FASTA index path; defaults to fapath + .fai")
	flag.StringVar(&opts.Bias, "bias", "", "K-mer cleavage bias table (KMER<TAB>weight per line); empty selects the uniform model")
	flag.StringVar(&opts.Dispersion, "dispersion", "", "Fitted dispersion model JSON; empty writes expected/observed columns only and calls no footprints")
	thresholds := flag.String("fdr-thresholds", "0.001,0.01,0.05", "Comma-separated FDR cutoffs to call footprints at; empty writes the statistics stream only")
	flag.StringVar(&opts.OutPrefix, "out", "out", "Output path prefix: <prefix>.bedgraph plus one <prefix>.fdr<t>.bed per threshold")
	flag.IntVar(&opts.Cuts.MinMapQ, "mapq", opts.Cuts.MinMapQ, "Reads with MAPQ below this level are skipped")
	flag.BoolVar(&opts.Cuts.RemoveDups, "remove-dups", opts.Cuts.RemoveDups, "Skip reads flagged as PCR/optical duplicates")
	flag.BoolVar(&opts.Cuts.RemoveQCFail, "remove-qcfail", opts.Cuts.RemoveQCFail, "Skip reads flagged as failing vendor QC")
	flag.IntVar(&opts.Cuts.FwdOffset, "fwd-offset", opts.Cuts.FwdOffset, "Cut-site offset from the alignment start on the forward strand")
	flag.IntVar(&opts.Cuts.RevOffset, "rev-offset", opts.Cuts.RevOffset, "Cut-site offset from the alignment end on the reverse strand")
	flag.IntVar(&opts.Predict.HalfWinWidth, "half-win-width", opts.Predict.HalfWinWidth, "Half-width of the bias redistribution window")
	flag.IntVar(&opts.Predict.SmoothHalfWinWidth, "smooth-half-win", opts.Predict.SmoothHalfWinWidth, "Half-width of the trimmed-mean smoothing window; 0 disables smoothing")
	flag.Float64Var(&opts.Predict.SmoothClip, "smooth-clip", opts.Predict.SmoothClip, "Fraction trimmed from each end of the smoothing window")
	flag.Float64Var(&opts.BiasFallback, "bias-fallback", opts.BiasFallback, "Weight for k-mers missing from the bias table or containing ambiguous bases")
	flag.IntVar(&opts.ShuffleN, "shuffle-n", opts.ShuffleN, "Null resamples per interval for FDR estimation")
	flag.Uint64Var(&opts.Seed, "seed", opts.Seed, "Base RNG seed; each interval derives its own stream from it")
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
	var err error
	if opts.Thresholds, err = parseThresholds(*thresholds); err != nil {
		log.Fatalf("-fdr-thresholds: %v", err)
	}
	if err := footprint.Detect(opts); err != nil {
		log.Fatalf("footprint-detect: %v", err)
	}
}
