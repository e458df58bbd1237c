package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/epi2me-labs/mapula/refmap"
	"github.com/epi2me-labs/mapula/stats"
	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"v.io/x/lib/cmdline"
)

type countOpts struct {
	input      string
	outPath    string
	reportPath string
	refPaths   string
	expPath    string
}

func newCmdCount() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "count",
		Short:    "Count mapping stats from a SAM/BAM file",
		ArgsName: "[input]",
		Long: `
Scans the alignments in a SAM/BAM file (stdin when the argument is "-" or
absent) and accumulates mapping statistics binned by (reference file, run id,
barcode) and, within each bin, by aligned reference sequence. The result is
written as a JSON report; if the report path already exists its contents are
loaded first and the new alignments accumulate into it.
`,
	}
	opts := countOpts{}
	cmd.Flags.StringVar(&opts.refPaths, "refs", "", "Comma-separated list of FASTA files to which alignments have been made (required)")
	cmd.Flags.StringVar(&opts.expPath, "exp-counts", "", "CSV file of expected counts by reference name, with reference and expected_count columns")
	cmd.Flags.StringVar(&opts.reportPath, "json", "stats.mapula.json", "Output report path; .gz for compressed output")
	cmd.Flags.StringVar(&opts.outPath, "out", "", "Optional passthrough copy of the input; .bam for BAM output, - for SAM on stdout")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		switch len(argv) {
		case 0:
			opts.input = "-"
		case 1:
			opts.input = argv[0]
		default:
			return fmt.Errorf("count takes at most one input path, but got %v", argv)
		}
		if opts.refPaths == "" {
			return fmt.Errorf("count requires -refs")
		}
		return count(opts)
	})
	return cmd
}

func count(opts countOpts) error {
	ctx := vcontext.Background()

	rm, err := refmap.Load(ctx, strings.Split(opts.refPaths, ","), opts.expPath)
	if err != nil {
		return err
	}

	alns := stats.NewAlignments()
	if _, err := file.Stat(ctx, opts.reportPath); err == nil {
		if alns, err = stats.ReadReport(ctx, opts.reportPath); err != nil {
			return err
		}
		log.Printf("resuming from %s (%d alignments)", opts.reportPath, alns.AlignmentCount)
	}

	in, closeIn, err := openRecords(ctx, opts.input)
	if err != nil {
		return err
	}
	defer closeIn() // nolint: errcheck

	var out recordWriter = discardRecords{}
	closeOut := func() error { return nil }
	if opts.outPath != "" {
		if out, closeOut, err = createRecords(ctx, opts.outPath, in.Header()); err != nil {
			return err
		}
	}

	for {
		rec, err := in.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if err := out.Write(rec); err != nil {
			return err
		}
		alns.Update(rec, rm)
	}
	if err := closeOut(); err != nil {
		return err
	}
	if err := closeIn(); err != nil {
		return err
	}

	log.Printf("counted %d alignments (%d reads)", alns.AlignmentCount, alns.ReadCount)
	return alns.WriteReport(ctx, opts.reportPath)
}

// recordReader is satisfied by both sam.Reader and bam.Reader.
type recordReader interface {
	Read() (*sam.Record, error)
	Header() *sam.Header
}

type recordWriter interface {
	Write(*sam.Record) error
}

type discardRecords struct{}

func (discardRecords) Write(*sam.Record) error { return nil }

// openRecords opens a SAM or BAM record stream, chosen by file extension;
// "-" reads SAM from stdin.
func openRecords(ctx context.Context, path string) (recordReader, func() error, error) {
	if path == "-" {
		r, err := sam.NewReader(os.Stdin)
		return r, func() error { return nil }, err
	}
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	closer := func() error { return in.Close(ctx) }
	if strings.HasSuffix(path, ".bam") {
		br, err := bam.NewReader(in.Reader(ctx), 1)
		if err != nil {
			in.Close(ctx) // nolint: errcheck
			return nil, nil, err
		}
		return br, func() error {
			if err := br.Close(); err != nil {
				in.Close(ctx) // nolint: errcheck
				return err
			}
			return in.Close(ctx)
		}, nil
	}
	sr, err := sam.NewReader(in.Reader(ctx))
	if err != nil {
		in.Close(ctx) // nolint: errcheck
		return nil, nil, err
	}
	return sr, closer, nil
}

// createRecords opens the passthrough record sink: BAM when the path ends
// in .bam, SAM otherwise, SAM on stdout for "-".
func createRecords(ctx context.Context, path string, header *sam.Header) (recordWriter, func() error, error) {
	if path == "-" {
		w, err := sam.NewWriter(os.Stdout, header, sam.FlagDecimal)
		return w, func() error { return nil }, err
	}
	out, err := file.Create(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	if strings.HasSuffix(path, ".bam") {
		bw, err := bam.NewWriter(out.Writer(ctx), header, 1)
		if err != nil {
			out.Close(ctx) // nolint: errcheck
			return nil, nil, err
		}
		return bw, func() error {
			if err := bw.Close(); err != nil {
				out.Close(ctx) // nolint: errcheck
				return err
			}
			return out.Close(ctx)
		}, nil
	}
	sw, err := sam.NewWriter(out.Writer(ctx), header, sam.FlagDecimal)
	if err != nil {
		out.Close(ctx) // nolint: errcheck
		return nil, nil, err
	}
	return sw, func() error { return out.Close(ctx) }, nil
}
