package main

import (
	"fmt"
	"strings"

	"github.com/epi2me-labs/mapula/refmap"
	"github.com/epi2me-labs/mapula/stats"
	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"v.io/x/lib/cmdline"
)

type aggregateOpts struct {
	reports  []string
	outPath  string
	refPaths string
	expPath  string
}

func newCmdAggregate() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "aggregate",
		Short:    "Combine mapping stats JSON reports",
		ArgsName: "report [report ...]",
		Long: `
Loads any number of JSON reports produced by the count subcommand and folds
them into a single report, exactly as if all underlying alignments had been
counted in one run. Derived statistics and correlations are recomputed from
the merged state.
`,
	}
	opts := aggregateOpts{}
	cmd.Flags.StringVar(&opts.refPaths, "refs", "", "Comma-separated list of FASTA files to which alignments have been made (required)")
	cmd.Flags.StringVar(&opts.expPath, "exp-counts", "", "CSV file of expected counts by reference name, with reference and expected_count columns")
	cmd.Flags.StringVar(&opts.outPath, "json", "merged.stats.mapula.json", "Output report path; .gz for compressed output")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) == 0 {
			return fmt.Errorf("aggregate takes one or more report paths")
		}
		if opts.refPaths == "" {
			return fmt.Errorf("aggregate requires -refs")
		}
		opts.reports = argv
		return aggregate(opts)
	})
	return cmd
}

func aggregate(opts aggregateOpts) error {
	ctx := vcontext.Background()

	rm, err := refmap.Load(ctx, strings.Split(opts.refPaths, ","), opts.expPath)
	if err != nil {
		return err
	}

	merged := stats.NewAlignments()
	for _, path := range opts.reports {
		alns, err := stats.ReadReport(ctx, path)
		if err != nil {
			return err
		}
		if err := merged.Add(alns, rm); err != nil {
			return fmt.Errorf("%s: %v", path, err)
		}
		log.Debug.Printf("folded %s (%d alignments)", path, alns.AlignmentCount)
	}

	log.Printf("aggregated %d reports (%d alignments)", len(opts.reports), merged.AlignmentCount)
	return merged.WriteReport(ctx, opts.outPath)
}
