// Package check runs the seqchk pipeline over one or more sequencing runs:
// each run's reads are fingerprinted, identified against a reference
// registry, summarized together with its alignments, and judged against QC
// thresholds. The results are assembled into a single report.
//
// A run either completes or fails the whole check. When any run fails, the
// others are canceled and no report is produced, so a report on disk always
// describes every requested run.
package check

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/kdm9/seqchk/alignstats"
	"github.com/kdm9/seqchk/fingerprint"
	"github.com/kdm9/seqchk/match"
	"github.com/kdm9/seqchk/qc"
	"github.com/kdm9/seqchk/qcerr"
	"github.com/kdm9/seqchk/refdb"
	"github.com/kdm9/seqchk/report"
	"github.com/kdm9/seqchk/seqio"
)

// Version is the seqchk release.
const Version = "0.2.0"

// RunSpec describes one sequencing run to check.
type RunSpec struct {
	Name string
	// Inputs are the run's read files, FASTQ or FASTA.
	Inputs []string
	// ExpectedSample is the registry sample the run should match. Empty means
	// unknown.
	ExpectedSample string
	// Barcode is the index sequence the reads should carry. If empty, the
	// expected sample's barcode from the registry is used.
	Barcode string
	// Alignments are SAM or BAM files of the run's reads.
	Alignments []string
}

// Opts configure a check.
type Opts struct {
	// Fingerprint are the fingerprint parameters. They must agree in k-mer
	// length and seed with the registry.
	Fingerprint fingerprint.Opts
	Read        seqio.Opts
	// Match configures identity matching. Its Expected field is set per run.
	Match     match.Opts
	Alignment alignstats.Opts
	// Thresholds are the QC rules for every run. If nil, each run uses
	// qc.DefaultConfig for the sources it provides.
	Thresholds *qc.Config
	// ThresholdsPath and RegistryPath are recorded in the report.
	ThresholdsPath string
	// Registry holds the reference samples. If nil, runs are not matched.
	Registry     *refdb.DB
	RegistryPath string
	// Parallelism is the number of runs checked concurrently.
	Parallelism int
}

// DefaultOpts are the default check options.
var DefaultOpts = Opts{
	Fingerprint: fingerprint.DefaultOpts,
	Read:        seqio.DefaultOpts,
	Match:       match.DefaultOpts,
	Alignment:   alignstats.DefaultOpts,
	Parallelism: 4,
}

// plan is a validated RunSpec.
type plan struct {
	spec      RunSpec
	evaluator *qc.Evaluator
	expected  *refdb.Entry
	fp        fingerprint.Opts
}

func newPlan(spec RunSpec, opts Opts) (plan, error) {
	p := plan{spec: spec, fp: opts.Fingerprint}
	if spec.Name == "" {
		return p, qcerr.E(qcerr.Config, "run without a name")
	}
	if len(spec.Inputs) == 0 {
		return p, qcerr.E(qcerr.Config, qcerr.Run(spec.Name), "run has no input files")
	}
	if spec.ExpectedSample != "" {
		if opts.Registry == nil {
			return p, qcerr.E(qcerr.Config, qcerr.Run(spec.Name), qcerr.Sample(spec.ExpectedSample),
				"expected sample given but no reference registry")
		}
		e, err := opts.Registry.Lookup(spec.ExpectedSample)
		if err != nil {
			return p, qcerr.E(qcerr.Run(spec.Name), err)
		}
		p.expected = e
	}
	p.fp.ExpectedBarcode = strings.ToUpper(spec.Barcode)
	if p.fp.ExpectedBarcode == "" && p.expected != nil {
		p.fp.ExpectedBarcode = p.expected.ExpectedBarcode
	}
	if err := p.fp.Validate(); err != nil {
		return p, qcerr.E(qcerr.Run(spec.Name), err)
	}
	sources := qc.Sources{
		Barcode:   p.fp.ExpectedBarcode != "",
		Match:     opts.Registry != nil,
		Alignment: len(spec.Alignments) > 0,
	}
	cfg := opts.Thresholds
	if cfg == nil {
		cfg = qc.DefaultConfig(sources)
	}
	var err error
	if p.evaluator, err = qc.NewEvaluator(cfg, sources); err != nil {
		return p, qcerr.E(qcerr.Run(spec.Name), err)
	}
	return p, nil
}

// Check checks runs and assembles their report. Every run is validated,
// including its thresholds, before any file is read. Runs are then checked
// concurrently; the first failure cancels the others and is returned.
func Check(ctx context.Context, runs []RunSpec, opts Opts) (*report.Report, error) {
	if len(runs) == 0 {
		return nil, qcerr.E(qcerr.Config, "no runs to check")
	}
	plans := make([]plan, len(runs))
	names := map[string]bool{}
	for i, spec := range runs {
		if names[spec.Name] {
			return nil, qcerr.E(qcerr.Config, qcerr.Run(spec.Name), "run name is not unique")
		}
		names[spec.Name] = true
		var err error
		if plans[i], err = newPlan(spec, opts); err != nil {
			return nil, err
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	parallelism := opts.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	sections := make([]report.Run, len(plans))
	errs := make([]error, len(plans))
	err := traverse.Limit(parallelism).Each(len(plans), func(i int) error {
		run, err := checkRun(ctx, plans[i], opts)
		if err != nil {
			errs[i] = qcerr.E(qcerr.Run(plans[i].spec.Name), err)
			cancel()
			return errs[i]
		}
		sections[i] = run
		return nil
	})
	if err != nil {
		// Runs canceled because a sibling failed must not mask its error.
		for _, e := range errs {
			if e != nil && !qcerr.Is(qcerr.Canceled, e) {
				return nil, e
			}
		}
		return nil, err
	}
	r := report.New(Version, sections)
	r.References = opts.RegistryPath
	r.Thresholds = opts.ThresholdsPath
	return r, nil
}

func checkRun(ctx context.Context, p plan, opts Opts) (report.Run, error) {
	start := time.Now()
	spec := p.spec
	fp, err := fingerprint.Build(ctx, spec.Name, spec.Inputs, p.fp, opts.Read)
	if err != nil {
		return report.Run{}, err
	}
	if fp.Reads == 0 {
		return report.Run{}, qcerr.E(qcerr.InsufficientData, "no reads in", strings.Join(spec.Inputs, ", "))
	}
	in := qc.Inputs{Fingerprint: fp}
	if opts.Registry != nil {
		mopts := opts.Match
		mopts.Expected = spec.ExpectedSample
		res, err := match.Match(fp, opts.Registry.Entries(), mopts)
		if err != nil {
			return report.Run{}, err
		}
		in.Match = &res
		ref := p.expected
		if ref == nil && res.Best != "" {
			if ref, err = opts.Registry.Lookup(res.Best); err != nil {
				return report.Run{}, err
			}
		}
		if ref != nil {
			in.ExpectedReads = ref.ExpectedReads
		}
	}
	if len(spec.Alignments) > 0 {
		stats, err := alignstats.CollectAll(ctx, spec.Alignments, opts.Alignment)
		if err != nil {
			return report.Run{}, err
		}
		in.Alignment = &stats
	}
	verdict := p.evaluator.Evaluate(in)
	if in.Match != nil {
		log.Printf("%s: %v, %d reads, best match %q (score %.3f, margin %.3f) in %v",
			spec.Name, verdict.Overall, fp.Reads, in.Match.Best, in.Match.Score, in.Match.Margin, time.Since(start))
	} else {
		log.Printf("%s: %v, %d reads in %v", spec.Name, verdict.Overall, fp.Reads, time.Since(start))
	}
	for _, r := range verdict.Failed() {
		log.Printf("%s: %s failed: %s", spec.Name, r.Severity, describe(r))
	}
	return report.Run{
		Name:        spec.Name,
		Inputs:      spec.Inputs,
		Fingerprint: report.Summarize(fp),
		Match:       in.Match,
		Alignment:   in.Alignment,
		Verdict:     verdict,
	}, nil
}

func describe(r qc.Result) string {
	rule := qc.Rule{Metric: r.Metric, Comparator: r.Comparator, Threshold: r.Threshold, Severity: r.Severity}
	if !r.Available {
		return rule.String() + ", value unavailable"
	}
	return rule.String() + ", value " + strconv.FormatFloat(r.Value, 'g', 6, 64)
}

// Execute checks runs and writes the report to reportPath and, if
// summaryPath is not empty, the TSV summary to summaryPath. It returns the
// overall status. On error nothing is written.
func Execute(ctx context.Context, runs []RunSpec, opts Opts, reportPath, summaryPath string) (qc.Status, error) {
	r, err := Check(ctx, runs, opts)
	if err != nil {
		return qc.Fail, err
	}
	if summaryPath != "" {
		if err := report.EmitSummary(ctx, r, summaryPath); err != nil {
			return qc.Fail, err
		}
	}
	if err := report.Emit(ctx, r, reportPath); err != nil {
		if summaryPath != "" {
			if rerr := file.Remove(ctx, summaryPath); rerr != nil {
				log.Error.Printf("remove %s: %v", summaryPath, rerr)
			}
		}
		return qc.Fail, err
	}
	return r.Overall, nil
}

// Exit codes.
const (
	ExitPass = 0
	ExitFail = 1
	ExitWarn = 2
)

// ExitCode maps the outcome of Execute to the process exit status.
func ExitCode(status qc.Status, err error) int {
	if err != nil {
		return ExitFail
	}
	switch status {
	case qc.Pass:
		return ExitPass
	case qc.Warn:
		return ExitWarn
	}
	return ExitFail
}
