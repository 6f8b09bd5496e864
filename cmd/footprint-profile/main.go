package main

/*
footprint-profile aggregates raw cleavage around aligned, equal-width
intervals (motif occurrences, for example): it tallies the mean combined cut
count per position relative to the interval centers and writes a TSV of
position, mean_count, n.
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
	fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] bampath bedpath\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	opts := footprint.ProfileOpts{Opts: footprint.DefaultOpts}
	flag.StringVar(&opts.BAMIndex, "index", "", "Input BAM index path; defaults to bampath + .bai")
	flag.StringVar(&opts.Out, "out", "profile.tsv", "Output TSV path")
	flag.IntVar(&opts.Cuts.MinMapQ, "mapq", opts.Cuts.MinMapQ, "Reads with MAPQ below this level are skipped")
	flag.BoolVar(&opts.Cuts.RemoveDups, "remove-dups", opts.Cuts.RemoveDups, "Skip reads flagged as PCR/optical duplicates")
	flag.BoolVar(&opts.Cuts.RemoveQCFail, "remove-qcfail", opts.Cuts.RemoveQCFail, "Skip reads flagged as failing vendor QC")
	flag.IntVar(&opts.Cuts.FwdOffset, "fwd-offset", opts.Cuts.FwdOffset, "Cut-site offset from the alignment start on the forward strand")
	flag.IntVar(&opts.Cuts.RevOffset, "rev-offset", opts.Cuts.RevOffset, "Cut-site offset from the alignment end on the reverse strand")
	flag.IntVar(&opts.Batch.Workers, "workers", opts.Batch.Workers, "Worker goroutines; 0 computes inline")
	flag.IntVar(&opts.Batch.BatchSize, "batch-size", opts.Batch.BatchSize, "Intervals per work batch")

	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() != 2 {
		flag.Usage()
		log.Fatalf("expected 2 positional arguments (bampath bedpath), got: '%s'",
			strings.Join(flag.Args(), " "))
	}
	opts.BAM, opts.Intervals = flag.Arg(0), flag.Arg(1)
	if err := footprint.Profile(opts); err != nil {
		log.Fatalf("footprint-profile: %v", err)
	}
}
