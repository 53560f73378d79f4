package report

import (
	"context"
	"io"
	"strconv"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/kdm9/seqchk/qc"
	"github.com/kdm9/seqchk/qcerr"
)

// summaryRow is one line of the TSV summary.
type summaryRow struct {
	Run        string `tsv:"run"`
	Metric     string `tsv:"metric"`
	Value      string `tsv:"value"`
	Comparator string `tsv:"comparator"`
	Threshold  string `tsv:"threshold"`
	Severity   string `tsv:"severity"`
	Result     string `tsv:"result"`
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', 6, 64) }

// WriteSummary writes the human-readable summary of r: one row per rule per
// run, then a row with metric "overall" holding the run's verdict. Values
// that could not be computed are written as "NA".
func WriteSummary(w io.Writer, r *Report) error {
	tw := tsv.NewRowWriter(w)
	for _, run := range r.Runs {
		for _, m := range run.Verdict.Metrics {
			row := summaryRow{
				Run:        run.Name,
				Metric:     m.Metric,
				Value:      "NA",
				Comparator: m.Comparator.String(),
				Threshold:  formatFloat(m.Threshold),
				Severity:   m.Severity.String(),
				Result:     qc.Pass.String(),
			}
			if m.Available {
				row.Value = formatFloat(m.Value)
			}
			if !m.Passed {
				row.Result = m.Severity.String()
			}
			if err := tw.Write(&row); err != nil {
				return err
			}
		}
		overall := summaryRow{Run: run.Name, Metric: "overall", Result: run.Verdict.Overall.String()}
		if run.Match != nil && run.Match.Best != "" {
			overall.Value = run.Match.Best
		}
		if err := tw.Write(&overall); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// EmitSummary writes the summary of r to path. Like Emit, the file appears
// only if it was written completely.
func EmitSummary(ctx context.Context, r *Report, path string) error {
	out, err := file.Create(ctx, path)
	if err != nil {
		return qcerr.E(qcerr.IO, qcerr.Path(path), "create summary", err)
	}
	if err := WriteSummary(out.Writer(ctx), r); err != nil {
		out.Discard(ctx)
		return qcerr.E(qcerr.IO, qcerr.Path(path), "write summary", err)
	}
	if err := out.Close(ctx); err != nil {
		return qcerr.E(qcerr.IO, qcerr.Path(path), "close summary", err)
	}
	return nil
}
