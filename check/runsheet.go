package check

import (
	"context"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/kdm9/seqchk/qcerr"
)

type sheetRow struct {
	Name           string `tsv:"name"`
	Inputs         string `tsv:"inputs"`
	ExpectedSample string `tsv:"expected_sample"`
	Barcode        string `tsv:"barcode"`
	Alignments     string `tsv:"alignments"`
}

// LoadRunSheet reads the runs listed in a run sheet, a TSV file with the
// header
//
//	name  inputs  expected_sample  barcode  alignments
//
// inputs and alignments are comma-separated lists of paths, resolved against
// the sheet's directory when relative. All five columns must be present;
// every field but name and inputs may be empty. Lines starting with '#' are
// ignored. A malformed sheet fails with a ConfigError.
func LoadRunSheet(ctx context.Context, path string) (runs []RunSpec, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, qcerr.E(qcerr.IO, qcerr.Path(path), "open run sheet", err)
	}
	defer file.CloseAndReport(ctx, in, &err)
	return readRunSheet(in.Reader(ctx), path)
}

func readRunSheet(r io.Reader, path string) ([]RunSpec, error) {
	tr := tsv.NewReader(r)
	tr.HasHeaderRow = true
	tr.UseHeaderNames = true
	tr.Comment = '#'
	dir := filepath.Dir(path)
	var runs []RunSpec
	for line := 1; ; line++ {
		var row sheetRow
		if err := tr.Read(&row); err != nil {
			if err == io.EOF {
				break
			}
			return nil, qcerr.E(qcerr.Config, qcerr.Path(path), "row "+strconv.Itoa(line), err)
		}
		spec := RunSpec{
			Name:           strings.TrimSpace(row.Name),
			Inputs:         splitPaths(row.Inputs, dir),
			ExpectedSample: strings.TrimSpace(row.ExpectedSample),
			Barcode:        strings.TrimSpace(row.Barcode),
			Alignments:     splitPaths(row.Alignments, dir),
		}
		if spec.Name == "" || len(spec.Inputs) == 0 {
			return nil, qcerr.E(qcerr.Config, qcerr.Path(path), "row "+strconv.Itoa(line), "name and inputs are required")
		}
		runs = append(runs, spec)
	}
	if len(runs) == 0 {
		return nil, qcerr.E(qcerr.Config, qcerr.Path(path), "run sheet lists no runs")
	}
	return runs, nil
}

func splitPaths(list, dir string) []string {
	var paths []string
	for _, p := range strings.Split(list, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !filepath.IsAbs(p) && !strings.Contains(p, "://") {
			p = filepath.Join(dir, p)
		}
		paths = append(paths, p)
	}
	return paths
}
