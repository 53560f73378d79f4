package check_test

import (
	"context"
	"fmt"
	"io/ioutil"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/kdm9/seqchk/check"
	"github.com/kdm9/seqchk/qc"
	"github.com/kdm9/seqchk/qcerr"
	"github.com/kdm9/seqchk/refdb"
	"github.com/kdm9/seqchk/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randSeq(r *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = "ACGT"[r.Intn(4)]
	}
	return string(b)
}

func writeFile(t *testing.T, path, data string) {
	require.NoError(t, ioutil.WriteFile(path, []byte(data), 0600))
}

// writeReads writes n reads of length 100 tiled over ref, with every
// nth base replaced by 'N' when nEvery > 0.
func writeReads(t *testing.T, path, ref string, n, nEvery int) {
	var b strings.Builder
	starts := len(ref) - 100 + 1
	for i := 0; i < n; i++ {
		start := (i * 5) % starts
		seq := []byte(ref[start : start+100])
		if nEvery > 0 {
			for j := 0; j < len(seq); j += nEvery {
				seq[j] = 'N'
			}
		}
		fmt.Fprintf(&b, "@read%d\n%s\n+\n%s\n", i, seq, strings.Repeat("I", len(seq)))
	}
	writeFile(t, path, b.String())
}

type fixture struct {
	dir  string
	refX string
	db   *refdb.DB
}

func newFixture(t *testing.T) (*fixture, func()) {
	dir, cleanup := testutil.TempDir(t, "", "")
	r := rand.New(rand.NewSource(1))
	f := &fixture{dir: dir, refX: randSeq(r, 5000)}
	writeFile(t, filepath.Join(dir, "x.fa"), ">x\n"+f.refX+"\n")
	writeFile(t, filepath.Join(dir, "y.fa"), ">y\n"+randSeq(r, 5000)+"\n")
	writeFile(t, filepath.Join(dir, "refs.tsv"),
		"sample_id\tfingerprint\tfasta\treads\texpected_reads\tbarcode\n"+
			"sampleX\t\tx.fa\t\t1000\t\n"+
			"sampleY\t\ty.fa\t\t\t\n")
	f.db = refdb.New()
	require.NoError(t, f.db.Load(context.Background(), filepath.Join(dir, "refs.tsv"), refdb.DefaultLoadOpts))
	return f, cleanup
}

func (f *fixture) path(name string) string { return filepath.Join(f.dir, name) }

func (f *fixture) opts() check.Opts {
	opts := check.DefaultOpts
	opts.Registry = f.db
	opts.RegistryPath = f.path("refs.tsv")
	return opts
}

func TestMatchingRunPasses(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	ctx := context.Background()
	writeReads(t, f.path("run.fq"), f.refX, 1000, 0)
	runs := []check.RunSpec{{Name: "run", Inputs: []string{f.path("run.fq")}, ExpectedSample: "sampleX"}}
	status, err := check.Execute(ctx, runs, f.opts(), f.path("report.json"), f.path("summary.tsv"))
	require.NoError(t, err)
	assert.Equal(t, qc.Pass, status)
	assert.Equal(t, 0, check.ExitCode(status, err))

	r, err := report.ReadFile(ctx, f.path("report.json"))
	require.NoError(t, err)
	assert.Equal(t, qc.Pass, r.Overall)
	assert.Equal(t, check.Version, r.Tool.Version)
	require.Len(t, r.Runs, 1)
	run := r.Runs[0]
	require.NotNil(t, run.Match)
	assert.Equal(t, "sampleX", run.Match.Best)
	assert.True(t, run.Match.Score > 0.99, "score %v", run.Match.Score)
	assert.Equal(t, "sampleY", run.Match.RunnerUp)
	assert.True(t, run.Match.Concordant)
	assert.True(t, run.Match.Confident)
	assert.Equal(t, uint64(1000), run.Fingerprint.Reads)
	assert.Equal(t, qc.Pass, run.Verdict.Overall)
	assert.NotEmpty(t, run.Verdict.Metrics)

	summary, err := ioutil.ReadFile(f.path("summary.tsv"))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "run\toverall\tsampleX\t\t\t\tPASS\n")
}

func TestEmptyRunFails(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	writeFile(t, f.path("empty.fq"), "")
	runs := []check.RunSpec{{Name: "empty", Inputs: []string{f.path("empty.fq")}}}
	status, err := check.Execute(context.Background(), runs, f.opts(), f.path("report.json"), f.path("summary.tsv"))
	require.Error(t, err)
	assert.True(t, qcerr.Is(qcerr.InsufficientData, err), "%v", err)
	assert.Contains(t, err.Error(), "empty")
	assert.NotEqual(t, 0, check.ExitCode(status, err))
	for _, name := range []string{"report.json", "summary.tsv"} {
		_, err := os.Stat(f.path(name))
		assert.True(t, os.IsNotExist(err), name)
	}
}

func TestHighNFractionFails(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	ctx := context.Background()
	writeReads(t, f.path("n.fq"), f.refX, 200, 5)
	cfg, err := qc.NewConfig([]qc.Rule{
		{Metric: "n_fraction", Comparator: qc.LE, Threshold: 0.05, Severity: qc.Fail},
		{Metric: "read_count", Comparator: qc.GE, Threshold: 100, Severity: qc.Fail},
		{Metric: "mean_quality", Comparator: qc.GE, Threshold: 30, Severity: qc.Warn},
		{Metric: "mean_read_length", Comparator: qc.EQ, Threshold: 100, Severity: qc.Warn},
	})
	require.NoError(t, err)
	opts := check.DefaultOpts
	opts.Thresholds = cfg
	runs := []check.RunSpec{{Name: "n", Inputs: []string{f.path("n.fq")}}}
	status, err := check.Execute(ctx, runs, opts, f.path("report.json"), "")
	require.NoError(t, err)
	assert.Equal(t, qc.Fail, status)
	assert.Equal(t, 1, check.ExitCode(status, err))

	r, err := report.ReadFile(ctx, f.path("report.json"))
	require.NoError(t, err)
	assert.Equal(t, qc.Fail, r.Overall)
	verdict := r.Runs[0].Verdict
	require.Len(t, verdict.Metrics, 4)
	for _, m := range verdict.Metrics {
		assert.True(t, m.Available, m.Metric)
		if m.Metric == "n_fraction" {
			assert.False(t, m.Passed)
			assert.InDelta(t, 0.2, m.Value, 1e-9)
		} else {
			assert.True(t, m.Passed, m.Metric)
		}
	}
	failed := verdict.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "n_fraction", failed[0].Metric)
	assert.Nil(t, r.Runs[0].Match)
}

func TestParallelRuns(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	ctx := context.Background()
	writeReads(t, f.path("a.fq"), f.refX, 50, 0)
	writeFile(t, f.path("b.fa"), ">b\n"+f.refX[:600]+"\n")
	cfg, err := qc.NewConfig([]qc.Rule{
		{Metric: "mean_quality", Comparator: qc.GE, Threshold: 30, Severity: qc.Warn},
		{Metric: "match_score", Comparator: qc.GE, Threshold: 0.01, Severity: qc.Fail},
	})
	require.NoError(t, err)
	opts := f.opts()
	opts.Thresholds = cfg
	opts.Parallelism = 2
	runs := []check.RunSpec{
		{Name: "a", Inputs: []string{f.path("a.fq")}},
		{Name: "b", Inputs: []string{f.path("b.fa")}},
	}
	r, err := check.Check(ctx, runs, opts)
	require.NoError(t, err)
	require.Len(t, r.Runs, 2)
	assert.Equal(t, "a", r.Runs[0].Name)
	assert.Equal(t, qc.Pass, r.Runs[0].Verdict.Overall)
	assert.Equal(t, "b", r.Runs[1].Name)
	assert.Equal(t, qc.Warn, r.Runs[1].Verdict.Overall)
	assert.Equal(t, qc.Warn, r.Overall)
	assert.Equal(t, []string{f.path("a.fq"), f.path("b.fa")}, r.Inputs)
	assert.Equal(t, 2, check.ExitCode(r.Overall, nil))
}

func TestFailingRunAbortsCheck(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	writeReads(t, f.path("a.fq"), f.refX, 50, 0)
	writeFile(t, f.path("bad.fq"), "@r1\nACGT\n+\nII\n")
	runs := []check.RunSpec{
		{Name: "a", Inputs: []string{f.path("a.fq")}},
		{Name: "bad", Inputs: []string{f.path("bad.fq")}},
	}
	_, err := check.Execute(context.Background(), runs, f.opts(), f.path("report.json"), "")
	require.Error(t, err)
	assert.True(t, qcerr.Is(qcerr.InputFormat, err), "%v", err)
	assert.Contains(t, err.Error(), "bad.fq")
	_, err = os.Stat(f.path("report.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestFailureNotMaskedByCanceledRuns(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	writeReads(t, f.path("big.fq"), f.refX, 20000, 0)
	writeFile(t, f.path("bad.fq"), "@r1\nACGT\n+\nII\n")
	runs := []check.RunSpec{{Name: "bad", Inputs: []string{f.path("bad.fq")}}}
	for i := 0; i < 6; i++ {
		runs = append(runs, check.RunSpec{Name: fmt.Sprintf("big%d", i), Inputs: []string{f.path("big.fq")}})
	}
	opts := f.opts()
	opts.Parallelism = len(runs)
	for i := 0; i < 5; i++ {
		_, err := check.Check(context.Background(), runs, opts)
		require.Error(t, err)
		assert.Equal(t, qcerr.InputFormat, qcerr.KindOf(err), "%v", err)
		assert.Contains(t, err.Error(), "bad.fq")
	}
}

func TestConfigErrorsBeforeIO(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	ctx := context.Background()
	missing := []string{f.path("missing.fq")}
	needsMatch, err := qc.NewConfig([]qc.Rule{{Metric: "match_score", Comparator: qc.GE, Threshold: 0.5, Severity: qc.Fail}})
	require.NoError(t, err)
	unknown, err := qc.NewConfig([]qc.Rule{{Metric: "vibes", Comparator: qc.GE, Threshold: 0.5, Severity: qc.Fail}})
	require.NoError(t, err)

	noRegistry := check.DefaultOpts
	noRegistry.Thresholds = needsMatch
	_, err = check.Check(ctx, []check.RunSpec{{Name: "r", Inputs: missing}}, noRegistry)
	assert.True(t, qcerr.Is(qcerr.Config, err), "%v", err)

	opts := f.opts()
	opts.Thresholds = unknown
	_, err = check.Check(ctx, []check.RunSpec{{Name: "r", Inputs: missing}}, opts)
	assert.True(t, qcerr.Is(qcerr.Config, err), "%v", err)

	_, err = check.Check(ctx, []check.RunSpec{{Name: "r", Inputs: missing, ExpectedSample: "sampleZ"}}, f.opts())
	assert.True(t, qcerr.Is(qcerr.NotFound, err), "%v", err)

	_, err = check.Check(ctx, []check.RunSpec{{Name: "r", Inputs: missing}, {Name: "r", Inputs: missing}}, f.opts())
	assert.True(t, qcerr.Is(qcerr.Config, err), "%v", err)

	_, err = check.Check(ctx, nil, f.opts())
	assert.True(t, qcerr.Is(qcerr.Config, err), "%v", err)

	_, err = check.Check(ctx, []check.RunSpec{{Name: "r", Inputs: missing}}, f.opts())
	assert.True(t, qcerr.Is(qcerr.IO, err), "%v", err)
}

func TestCanceled(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	writeReads(t, f.path("a.fq"), f.refX, 50, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := check.Check(ctx, []check.RunSpec{{Name: "a", Inputs: []string{f.path("a.fq")}}}, f.opts())
	assert.True(t, qcerr.Is(qcerr.Canceled, err), "%v", err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, check.ExitCode(qc.Pass, nil))
	assert.Equal(t, 2, check.ExitCode(qc.Warn, nil))
	assert.Equal(t, 1, check.ExitCode(qc.Fail, nil))
	assert.Equal(t, 1, check.ExitCode(qc.Pass, qcerr.E(qcerr.IO, "boom")))
}

func TestLoadRunSheet(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	path := filepath.Join(dir, "runs.tsv")
	writeFile(t, path, "name\tinputs\texpected_sample\tbarcode\talignments\n"+
		"# lane 1\n"+
		"r1\ta_1.fq.gz, a_2.fq.gz\tsampleX\tacgt\ta.bam\n"+
		"r2\t/data/b.fq\t\t\t\n")
	runs, err := check.LoadRunSheet(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []check.RunSpec{
		{
			Name:           "r1",
			Inputs:         []string{filepath.Join(dir, "a_1.fq.gz"), filepath.Join(dir, "a_2.fq.gz")},
			ExpectedSample: "sampleX",
			Barcode:        "acgt",
			Alignments:     []string{filepath.Join(dir, "a.bam")},
		},
		{Name: "r2", Inputs: []string{"/data/b.fq"}},
	}, runs)

	for i, data := range []string{
		"name\tinputs\texpected_sample\tbarcode\talignments\n",
		"name\tinputs\texpected_sample\tbarcode\talignments\nr1\t\t\t\t\n",
		"name\tinputs\texpected_sample\tbarcode\talignments\n\ta.fq\t\t\t\n",
	} {
		bad := filepath.Join(dir, fmt.Sprintf("bad%d.tsv", i))
		writeFile(t, bad, data)
		_, err := check.LoadRunSheet(ctx, bad)
		assert.True(t, qcerr.Is(qcerr.Config, err), "%d: %v", i, err)
	}
	_, err = check.LoadRunSheet(ctx, filepath.Join(dir, "missing.tsv"))
	assert.True(t, qcerr.Is(qcerr.IO, err), "%v", err)
}
