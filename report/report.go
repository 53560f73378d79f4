// Package report defines the seqchk report document and writes it.
//
// A report is a JSON document with a schema_version field. It is written
// once, after every run has been checked, through grailbio/base/file so that
// a reader either sees the complete document or no file at all.
package report

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/kdm9/seqchk/alignstats"
	"github.com/kdm9/seqchk/fingerprint"
	"github.com/kdm9/seqchk/match"
	"github.com/kdm9/seqchk/qc"
	"github.com/kdm9/seqchk/qcerr"
)

// SchemaVersion is the version of the report document. It changes whenever a
// field is removed or changes meaning.
const SchemaVersion = 1

// ToolName is recorded in every report.
const ToolName = "seqchk"

// Report is the result of checking one or more runs.
type Report struct {
	SchemaVersion int    `json:"schema_version"`
	Tool          Tool   `json:"tool"`
	RunID         string `json:"run_id"`
	// Created is the UTC time at which the report was assembled.
	Created time.Time `json:"created"`
	// Inputs lists every read file of every run, sorted.
	Inputs     []string  `json:"inputs"`
	References string    `json:"references,omitempty"`
	Thresholds string    `json:"thresholds,omitempty"`
	Runs       []Run     `json:"runs"`
	Overall    qc.Status `json:"overall"`
}

// Tool identifies the program that wrote a report.
type Tool struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Run is the section of a report for one sequencing run.
type Run struct {
	Name        string            `json:"name"`
	Inputs      []string          `json:"inputs"`
	Fingerprint Summary           `json:"fingerprint"`
	Match       *match.Result     `json:"match,omitempty"`
	Alignment   *alignstats.Stats `json:"alignment,omitempty"`
	Verdict     qc.Verdict        `json:"verdict"`
}

// Summary is the part of a fingerprint that is reported. Statistics that are
// undefined for the run, e.g. the mean quality of FASTA input, are nil.
type Summary struct {
	Digest                 string   `json:"digest"`
	K                      int      `json:"k"`
	SketchSize             int      `json:"sketch_size"`
	SketchEntries          int      `json:"sketch_entries"`
	Reads                  uint64   `json:"reads"`
	Bases                  uint64   `json:"bases"`
	MinLength              int      `json:"min_length"`
	MaxLength              int      `json:"max_length"`
	MeanLength             *float64 `json:"mean_length,omitempty"`
	GCFraction             *float64 `json:"gc_fraction,omitempty"`
	NFraction              *float64 `json:"n_fraction,omitempty"`
	MeanQuality            *float64 `json:"mean_quality,omitempty"`
	Q30Fraction            *float64 `json:"q30_fraction,omitempty"`
	DuplicationRate        *float64 `json:"duplication_rate,omitempty"`
	EstimatedDistinctReads *float64 `json:"estimated_distinct_reads,omitempty"`
}

func defined(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Summarize extracts the reported fields of fp.
func Summarize(fp *fingerprint.Fingerprint) Summary {
	return Summary{
		Digest:                 fp.Digest(),
		K:                      fp.Opts.K,
		SketchSize:             fp.Opts.SketchSize,
		SketchEntries:          len(fp.Sketch),
		Reads:                  fp.Reads,
		Bases:                  fp.Bases,
		MinLength:              fp.MinLength,
		MaxLength:              fp.MaxLength,
		MeanLength:             defined(fp.MeanLength()),
		GCFraction:             defined(fp.GCFraction()),
		NFraction:              defined(fp.NFraction()),
		MeanQuality:            defined(fp.MeanQuality()),
		Q30Fraction:            defined(fp.Q30Fraction()),
		DuplicationRate:        defined(fp.DuplicationRate()),
		EstimatedDistinctReads: defined(fp.EstimatedDistinctReads()),
	}
}

// New assembles a report from checked runs. The overall status is the most
// severe run verdict, or PASS if there are no runs.
func New(version string, runs []Run) *Report {
	r := &Report{
		SchemaVersion: SchemaVersion,
		Tool:          Tool{Name: ToolName, Version: version},
		RunID:         uuid.New().String(),
		Created:       time.Now().UTC(),
		Inputs:        []string{},
		Runs:          runs,
		Overall:       qc.Pass,
	}
	if r.Runs == nil {
		r.Runs = []Run{}
	}
	seen := map[string]bool{}
	for _, run := range runs {
		for _, in := range run.Inputs {
			if !seen[in] {
				seen[in] = true
				r.Inputs = append(r.Inputs, in)
			}
		}
		if run.Verdict.Overall > r.Overall {
			r.Overall = run.Verdict.Overall
		}
	}
	sort.Strings(r.Inputs)
	return r
}

// Emit writes r to path as indented JSON. The file appears only if it was
// written completely. Any failure is an IOError.
func Emit(ctx context.Context, r *Report, path string) error {
	out, err := file.Create(ctx, path)
	if err != nil {
		return qcerr.E(qcerr.IO, qcerr.Path(path), "create report", err)
	}
	enc := json.NewEncoder(out.Writer(ctx))
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		out.Discard(ctx)
		return qcerr.E(qcerr.IO, qcerr.Path(path), "write report", err)
	}
	if err := out.Close(ctx); err != nil {
		return qcerr.E(qcerr.IO, qcerr.Path(path), "close report", err)
	}
	return nil
}

// Parse reads a report written by Emit. Documents of another schema version
// fail with an InputFormatError.
func Parse(in io.Reader) (*Report, error) {
	var r Report
	if err := json.NewDecoder(in).Decode(&r); err != nil {
		return nil, qcerr.E(qcerr.InputFormat, "decode report", err)
	}
	if r.SchemaVersion != SchemaVersion {
		return nil, qcerr.E(qcerr.InputFormat, "report schema version",
			strconv.Itoa(r.SchemaVersion), "is not", strconv.Itoa(SchemaVersion))
	}
	return &r, nil
}

// ReadFile parses the report at path.
func ReadFile(ctx context.Context, path string) (r *Report, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, qcerr.E(qcerr.IO, qcerr.Path(path), "open report", err)
	}
	defer func() {
		once := errors.Once{}
		once.Set(err)
		if cerr := in.Close(ctx); cerr != nil {
			once.Set(qcerr.E(qcerr.IO, qcerr.Path(path), "close report", cerr))
		}
		err = once.Err()
	}()
	if r, err = Parse(in.Reader(ctx)); err != nil {
		return nil, qcerr.E(qcerr.Path(path), err)
	}
	return r, nil
}
