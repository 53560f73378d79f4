package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/tsv"
	"github.com/kdm9/seqchk/fingerprint"
	"github.com/kdm9/seqchk/qcerr"
	"github.com/kdm9/seqchk/seqio"
	"v.io/x/lib/cmdline"
)

func newCmdSketch() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "sketch",
		Short: "Write the fingerprint of reads or a reference",
		Long: `
Sketch fingerprints FASTQ or FASTA files and writes the fingerprint to -o. The
result can be listed in the fingerprint column of a reference manifest.`,
		ArgsName: "inputs...",
	}
	var (
		fp      fingerprintFlags
		out     string
		name    string
		timeout = seqio.DefaultOpts.Timeout
	)
	cmd.Flags.StringVar(&out, "o", "", "Output fingerprint file")
	cmd.Flags.StringVar(&name, "name", "", "Sample name. Defaults to the name of the first input.")
	cmd.Flags.DurationVar(&timeout, "timeout", timeout, "Timeout of each file open and read")
	fp.register(&cmd.Flags)
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) == 0 || out == "" {
			return env.UsageErrorf("sketch takes -o and at least one input, but got %v", argv)
		}
		if name == "" {
			name = runName(argv[0])
		}
		readOpts := seqio.DefaultOpts
		readOpts.Timeout = timeout
		digest, err := sketch(context.Background(), name, argv, out, fp.opts(), readOpts)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(env.Stdout, "%s\t%s\n", name, digest)
		return err
	})
	return cmd
}

func sketch(ctx context.Context, name string, paths []string, out string, opts fingerprint.Opts, readOpts seqio.Opts) (string, error) {
	fp, err := fingerprint.Build(ctx, name, paths, opts, readOpts)
	if err != nil {
		return "", err
	}
	if err := fingerprint.WriteFile(ctx, out, fp); err != nil {
		return "", err
	}
	return fp.Digest(), nil
}

func newCmdCompare() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "compare",
		Short:    "Print the similarity of two fingerprints under every measure",
		ArgsName: "observed.fp reference.fp",
	}
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 2 {
			return env.UsageErrorf("compare takes two fingerprint files, but got %v", argv)
		}
		return compare(context.Background(), env.Stdout, argv[0], argv[1])
	})
	return cmd
}

func readOne(ctx context.Context, path string) (*fingerprint.Fingerprint, error) {
	fps, err := fingerprint.ReadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(fps) != 1 {
		return nil, qcerr.E(qcerr.InputFormat, qcerr.Path(path), "want one fingerprint, found", strconv.Itoa(len(fps)))
	}
	return fps[0], nil
}

func compare(ctx context.Context, w io.Writer, observedPath, refPath string) error {
	observed, err := readOne(ctx, observedPath)
	if err != nil {
		return err
	}
	ref, err := readOne(ctx, refPath)
	if err != nil {
		return err
	}
	tw := tsv.NewWriter(w)
	tw.WriteString("similarity")
	tw.WriteString("score")
	if err := tw.EndLine(); err != nil {
		return err
	}
	for _, name := range fingerprint.SimilarityNames() {
		sim, err := fingerprint.NewSimilarity(name)
		if err != nil {
			return err
		}
		score, err := sim.Score(observed, ref)
		if err != nil {
			return err
		}
		tw.WriteString(name)
		tw.WriteString(strconv.FormatFloat(score, 'f', 4, 64))
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}
