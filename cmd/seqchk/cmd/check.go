package cmd

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/log"
	"github.com/kdm9/seqchk/check"
	"github.com/kdm9/seqchk/fingerprint"
	"github.com/kdm9/seqchk/qc"
	"github.com/kdm9/seqchk/refdb"
	"v.io/x/lib/cmdline"
)

type checkFlags struct {
	runs, refs, thresholds string
	report, summary        string
	name, expect, barcode  string
	bams                   string
	fp                     fingerprintFlags
	similarity             string
	minScore, minMargin    float64
	timeout, refsTimeout   time.Duration
	retries, parallelism   int
}

// fingerprintFlags are shared by every command that builds fingerprints.
type fingerprintFlags struct {
	k, sketchSize, dupSketchSize int
	seed                         uint64
}

func (f *fingerprintFlags) register(fs *flag.FlagSet) {
	d := fingerprint.DefaultOpts
	fs.IntVar(&f.k, "k", d.K, "K-mer length, at most 32. Must match the reference fingerprints.")
	fs.IntVar(&f.sketchSize, "sketch-size", d.SketchSize, "Number of k-mer hashes kept in a fingerprint")
	fs.IntVar(&f.dupSketchSize, "dup-sketch-size", d.DupSketchSize, "Number of read hashes kept to estimate duplication")
	fs.Uint64Var(&f.seed, "seed", d.Seed, "K-mer hash seed. Must match the reference fingerprints.")
}

func (f fingerprintFlags) opts() fingerprint.Opts {
	opts := fingerprint.DefaultOpts
	opts.K = f.k
	opts.SketchSize = f.sketchSize
	opts.DupSketchSize = f.dupSketchSize
	opts.Seed = f.seed
	return opts
}

func newCmdCheck(exitCode *int) *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "check",
		Short: "QC and identity-check sequencing runs",
		Long: `
Check fingerprints the reads of each run, matches them against the reference
samples listed in -refs, and evaluates the QC thresholds. The report is
written only if every run could be checked.

Reads are given either as arguments, for a single run, or in a run sheet
(-runs) with the columns name, inputs, expected_sample, barcode and
alignments.

Exit status is 0 if every run passed, 2 if a run failed only WARN thresholds,
and 1 if a run failed a FAIL threshold or the check could not complete.`,
		ArgsName: "reads...",
	}
	f := checkFlags{}
	fs := &cmd.Flags
	fs.StringVar(&f.runs, "runs", "", "Run sheet TSV. Mutually exclusive with read arguments.")
	fs.StringVar(&f.refs, "refs", "", "Reference manifest TSV. If empty, runs are not identity-checked.")
	fs.StringVar(&f.thresholds, "thresholds", "", "QC threshold file (.tsv, .yaml, .json or .toml). If empty, built-in defaults are used.")
	fs.StringVar(&f.report, "report", "seqchk.json", "Path of the JSON report")
	fs.StringVar(&f.summary, "summary", "", "Path of the TSV summary. If empty, no summary is written.")
	fs.StringVar(&f.name, "name", "", "Run name. Defaults to the name of the first read file.")
	fs.StringVar(&f.expect, "expect", "", "Reference sample the run should match")
	fs.StringVar(&f.barcode, "barcode", "", "Index sequence the reads should carry")
	fs.StringVar(&f.bams, "bam", "", "Comma-separated SAM or BAM files of the run's alignments")
	f.fp.register(fs)
	fs.StringVar(&f.similarity, "similarity", fingerprint.DefaultSimilarity,
		"Similarity measure, one of "+strings.Join(fingerprint.SimilarityNames(), ", "))
	fs.Float64Var(&f.minScore, "min-score", check.DefaultOpts.Match.MinScore, "Score a confident match needs")
	fs.Float64Var(&f.minMargin, "min-margin", check.DefaultOpts.Match.MinMargin, "Lead over the runner-up a confident match needs")
	fs.DurationVar(&f.timeout, "timeout", check.DefaultOpts.Read.Timeout, "Timeout of each file open and read")
	fs.DurationVar(&f.refsTimeout, "refs-timeout", refdb.DefaultLoadOpts.Timeout, "Timeout of loading the reference manifest")
	fs.IntVar(&f.retries, "retries", check.DefaultOpts.Read.Retries, "Max retries of a transiently failing file open")
	fs.IntVar(&f.parallelism, "parallelism", check.DefaultOpts.Parallelism, "Number of runs checked concurrently")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if f.runs != "" && len(argv) > 0 {
			return env.UsageErrorf("check takes either -runs or read files, but got both")
		}
		if f.runs == "" && len(argv) == 0 {
			return env.UsageErrorf("check needs read files or -runs")
		}
		status, err := runCheck(context.Background(), f, argv)
		if err != nil {
			return err
		}
		fmt.Fprintln(env.Stdout, status)
		*exitCode = check.ExitCode(status, nil)
		return nil
	})
	return cmd
}

func runCheck(ctx context.Context, f checkFlags, argv []string) (qc.Status, error) {
	opts := check.DefaultOpts
	opts.Fingerprint = f.fp.opts()
	opts.Read.Timeout = f.timeout
	opts.Read.Retries = f.retries
	opts.Alignment.Timeout = f.timeout
	opts.Match.Similarity = f.similarity
	opts.Match.MinScore = f.minScore
	opts.Match.MinMargin = f.minMargin
	opts.Parallelism = f.parallelism

	var runs []check.RunSpec
	if f.runs != "" {
		var err error
		if runs, err = check.LoadRunSheet(ctx, f.runs); err != nil {
			return qc.Fail, err
		}
	} else {
		run := check.RunSpec{
			Name:           f.name,
			Inputs:         argv,
			ExpectedSample: f.expect,
			Barcode:        f.barcode,
			Alignments:     splitList(f.bams),
		}
		if run.Name == "" {
			run.Name = runName(argv[0])
		}
		runs = []check.RunSpec{run}
	}
	if f.thresholds != "" {
		cfg, err := qc.LoadConfig(ctx, f.thresholds)
		if err != nil {
			return qc.Fail, err
		}
		opts.Thresholds, opts.ThresholdsPath = cfg, f.thresholds
	}
	if f.refs != "" {
		lopts := refdb.DefaultLoadOpts
		lopts.Timeout = f.refsTimeout
		lopts.Fingerprint = opts.Fingerprint
		lopts.Read = opts.Read
		lopts.Parallelism = f.parallelism
		db := refdb.New()
		if err := db.Load(ctx, f.refs, lopts); err != nil {
			return qc.Fail, err
		}
		opts.Registry, opts.RegistryPath = db, f.refs
	}
	status, err := check.Execute(ctx, runs, opts, f.report, f.summary)
	if err == nil {
		log.Printf("wrote %s: %v", f.report, status)
	}
	return status, err
}

func splitList(s string) []string {
	var list []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			list = append(list, v)
		}
	}
	return list
}

// runName derives a run name from a read file path, e.g. "a" from
// "/data/a.fastq.gz".
func runName(path string) string {
	name := filepath.Base(path)
	for _, ext := range []string{".gz", ".bgz", ".bz2", ".zst"} {
		name = strings.TrimSuffix(name, ext)
	}
	for _, ext := range []string{".fastq", ".fq", ".fasta", ".fa", ".fna"} {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}
