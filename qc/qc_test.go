package qc

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/kdm9/seqchk/alignstats"
	"github.com/kdm9/seqchk/fingerprint"
	"github.com/kdm9/seqchk/match"
	"github.com/kdm9/seqchk/qcerr"
	"github.com/kdm9/seqchk/seqio"
)

func testFingerprint(t *testing.T, seqs ...string) *fingerprint.Fingerprint {
	a, err := fingerprint.NewAccumulator("s", fingerprint.DefaultOpts)
	assert.NoError(t, err)
	for _, s := range seqs {
		qual := make([]byte, len(s))
		for i := range qual {
			qual[i] = 'I'
		}
		assert.NoError(t, a.Observe(seqio.Read{ID: "r", Seq: s, Qual: string(qual)}))
	}
	fp, err := a.Finalize()
	assert.NoError(t, err)
	return fp
}

func mustConfig(t *testing.T, rules ...Rule) *Config {
	cfg, err := NewConfig(rules)
	assert.NoError(t, err)
	return cfg
}

func TestComparators(t *testing.T) {
	tests := []struct {
		s    string
		c    Comparator
		v    float64
		want bool
	}{
		{"lt", LT, 1, true},
		{"<", LT, 2, false},
		{"le", LE, 2, true},
		{"GT", GT, 2, false},
		{">=", GE, 2, true},
		{"eq", EQ, 2, true},
		{"!=", NE, 2, false},
	}
	for _, test := range tests {
		c, err := ParseComparator(test.s)
		assert.NoError(t, err)
		expect.EQ(t, c, test.c)
		expect.EQ(t, c.Holds(test.v, 2), test.want, test.s)
	}
	_, err := ParseComparator("~=")
	expect.True(t, qcerr.Is(qcerr.Config, err))
}

func TestEmptyConfigPasses(t *testing.T) {
	e, err := NewEvaluator(mustConfig(t), Sources{})
	assert.NoError(t, err)
	v := e.Evaluate(Inputs{Fingerprint: testFingerprint(t)})
	expect.EQ(t, v.Overall, Pass)
	expect.EQ(t, len(v.Metrics), 0)
}

func TestAlwaysFailingRule(t *testing.T) {
	cfg := mustConfig(t,
		Rule{Metric: "read_count", Comparator: GE, Threshold: 1, Severity: Fail},
		Rule{Metric: "read_count", Comparator: LT, Threshold: 0, Severity: Warn},
	)
	e, err := NewEvaluator(cfg, Sources{})
	assert.NoError(t, err)
	v := e.Evaluate(Inputs{Fingerprint: testFingerprint(t, "ACGTACGT")})
	expect.EQ(t, v.Overall, Warn)
	assert.EQ(t, len(v.Metrics), 2)
	expect.EQ(t, v.Metrics[0], Result{Metric: "read_count", Value: 1, Available: true, Comparator: LT, Threshold: 0, Severity: Warn})
	expect.True(t, v.Metrics[1].Passed)

	cfg = mustConfig(t,
		Rule{Metric: "read_count", Comparator: LT, Threshold: 0, Severity: Fail},
		Rule{Metric: "gc_fraction", Comparator: GE, Threshold: 0, Severity: Warn},
	)
	e, err = NewEvaluator(cfg, Sources{})
	assert.NoError(t, err)
	v = e.Evaluate(Inputs{Fingerprint: testFingerprint(t, "ACGTACGT")})
	expect.EQ(t, v.Overall, Fail)
	failed := v.Failed()
	assert.EQ(t, len(failed), 1)
	expect.EQ(t, failed[0].Metric, "read_count")
	expect.EQ(t, v.Metrics[0].Metric, "gc_fraction")
	expect.True(t, v.Metrics[0].Passed)
}

func TestRulesIndependent(t *testing.T) {
	cfg := mustConfig(t,
		Rule{Metric: "n_fraction", Comparator: LE, Threshold: 0.1, Severity: Fail},
		Rule{Metric: "mean_read_length", Comparator: GE, Threshold: 4, Severity: Fail},
		Rule{Metric: "gc_fraction", Comparator: GE, Threshold: 0.4, Severity: Warn},
		Rule{Metric: "q30_fraction", Comparator: GE, Threshold: 0.9, Severity: Warn},
	)
	e, err := NewEvaluator(cfg, Sources{})
	assert.NoError(t, err)
	v := e.Evaluate(Inputs{Fingerprint: testFingerprint(t, "NNNNACGT", "ACGTNNNN")})
	expect.EQ(t, v.Overall, Fail)
	assert.EQ(t, len(v.Metrics), 4)
	byName := map[string]Result{}
	for _, r := range v.Metrics {
		byName[r.Metric] = r
	}
	expect.False(t, byName["n_fraction"].Passed)
	expect.EQ(t, byName["n_fraction"].Value, 0.5)
	expect.True(t, byName["mean_read_length"].Passed)
	expect.True(t, byName["gc_fraction"].Passed)
	expect.True(t, byName["q30_fraction"].Passed)
}

func TestUnavailableFails(t *testing.T) {
	cfg := mustConfig(t, Rule{Metric: "mean_quality", Comparator: GE, Threshold: 20, Severity: Warn})
	e, err := NewEvaluator(cfg, Sources{})
	assert.NoError(t, err)
	a, err := fingerprint.NewAccumulator("ref", fingerprint.DefaultOpts)
	assert.NoError(t, err)
	assert.NoError(t, a.Observe(seqio.Read{ID: "chr1", Seq: "ACGTACGTAC"}))
	fp, err := a.Finalize()
	assert.NoError(t, err)
	v := e.Evaluate(Inputs{Fingerprint: fp})
	expect.EQ(t, v.Overall, Warn)
	expect.False(t, v.Metrics[0].Available)
	expect.EQ(t, v.Metrics[0].Value, 0.0)
}

func TestEvaluatorConfigErrors(t *testing.T) {
	_, err := NewEvaluator(mustConfig(t, Rule{Metric: "vibes", Comparator: GE, Severity: Fail}), Sources{})
	expect.True(t, qcerr.Is(qcerr.Config, err), "%v", err)
	expect.HasSubstr(t, err.Error(), "metric vibes")

	for _, name := range []string{"match_score", "barcode_match_fraction", "mapped_fraction"} {
		_, err = NewEvaluator(mustConfig(t, Rule{Metric: name, Comparator: GE, Severity: Fail}), Sources{})
		expect.True(t, qcerr.Is(qcerr.Config, err), "%s: %v", name, err)
	}
	_, err = NewEvaluator(mustConfig(t, Rule{Metric: "match_score", Comparator: GE, Severity: Fail}), Sources{Match: true})
	expect.NoError(t, err)

	for _, rules := range [][]Rule{
		{{Metric: "", Comparator: GE, Severity: Fail}},
		{{Metric: "read_count", Comparator: GE, Severity: Pass}},
		{{Metric: "read_count", Comparator: Comparator(9), Severity: Fail}},
		{{Metric: "read_count", Comparator: GE, Severity: Fail}, {Metric: "read_count", Comparator: LE, Severity: Fail}},
	} {
		_, err := NewConfig(rules)
		expect.True(t, qcerr.Is(qcerr.Config, err), "%v: %v", rules, err)
	}
}

func TestAllSources(t *testing.T) {
	opts := fingerprint.DefaultOpts
	opts.K = 3
	opts.ExpectedBarcode = "ACGT"
	a, err := fingerprint.NewAccumulator("s", opts)
	assert.NoError(t, err)
	assert.NoError(t, a.Observe(seqio.Read{ID: "r 1:N:0:ACGT", Seq: "ACGTAC", Qual: "IIIII5"}))
	assert.NoError(t, a.Observe(seqio.Read{ID: "r 1:N:0:GGGG", Seq: "ACGTAC", Qual: "IIIII5"}))
	fp, err := a.Finalize()
	assert.NoError(t, err)
	in := Inputs{
		Fingerprint:   fp,
		Match:         &match.Result{Best: "x", Score: 0.9, Margin: 0.4, Concordant: true},
		ExpectedReads: 4,
		Alignment:     &alignstats.Stats{Primary: 4, PrimaryMapped: 3, MapQSum: 90, MapQCount: 3},
	}
	want := map[string]float64{
		"read_count":             2,
		"base_count":             12,
		"mean_read_length":       6,
		"min_read_length":        6,
		"max_read_length":        6,
		"duplication_rate":       0.5,
		"barcode_match_fraction": 0.5,
		"match_score":            0.9,
		"match_margin":           0.4,
		"identity_concordant":    1,
		"expected_read_fraction": 0.5,
		"mapped_fraction":        0.75,
		"mean_mapq":              30,
	}
	for name, w := range want {
		m, ok := LookupMetric(name)
		assert.True(t, ok, name)
		v, ok := m.Value(in)
		expect.True(t, ok, name)
		expect.EQ(t, v, w, name)
	}
	m, _ := LookupMetric("properly_paired_fraction")
	_, ok := m.Value(in)
	expect.False(t, ok)
	expect.EQ(t, len(MetricNames()), 20)
}

func TestLoadConfig(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	files := map[string]string{
		"t.tsv": "metric\tcomparator\tthreshold\tseverity\n" +
			"# minimum yield\n" +
			"read_count\t>=\t1000\tFAIL\n" +
			"n_fraction\tle\t0.05\twarn\n",
		"t.yaml": "thresholds:\n" +
			"  - metric: read_count\n    comparator: ge\n    threshold: 1000\n    severity: FAIL\n" +
			"  - metric: n_fraction\n    comparator: \"<=\"\n    threshold: 0.05\n    severity: WARN\n",
		"t.json": `{"thresholds": {"read_count": {"comparator": ">=", "threshold": 1000, "severity": "FAIL"},
			"n_fraction": {"comparator": "le", "threshold": 0.05, "severity": "WARN"}}}`,
		"t.toml": "[thresholds.read_count]\ncomparator = \"ge\"\nthreshold = 1000\nseverity = \"FAIL\"\n" +
			"[thresholds.n_fraction]\ncomparator = \"le\"\nthreshold = 0.05\nseverity = \"WARN\"\n",
	}
	want := []Rule{
		{Metric: "n_fraction", Comparator: LE, Threshold: 0.05, Severity: Warn},
		{Metric: "read_count", Comparator: GE, Threshold: 1000, Severity: Fail},
	}
	ctx := context.Background()
	for name, data := range files {
		path := filepath.Join(dir, name)
		assert.NoError(t, ioutil.WriteFile(path, []byte(data), 0600))
		cfg, err := LoadConfig(ctx, path)
		assert.NoError(t, err, name)
		expect.EQ(t, cfg.Rules(), want, name)
	}

	bad := map[string]string{
		"a.tsv":  "metric\tcomparator\tthreshold\tseverity\nread_count\t=~\t1\tFAIL\n",
		"b.tsv":  "metric\tcomparator\tthreshold\tseverity\nread_count\tge\tlots\tFAIL\n",
		"c.tsv":  "metric\tcomparator\tthreshold\tseverity\nread_count\tge\t1\tMEH\n",
		"d.yaml": "thresholds: 3\n",
		"e.yaml": "thresholds: [\n",
		"f.ini":  "",
	}
	for name, data := range bad {
		path := filepath.Join(dir, name)
		assert.NoError(t, ioutil.WriteFile(path, []byte(data), 0600))
		_, err := LoadConfig(ctx, path)
		expect.True(t, qcerr.Is(qcerr.Config, err), "%s: %v", name, err)
	}
	_, err := LoadConfig(ctx, filepath.Join(dir, "missing.yaml"))
	expect.True(t, qcerr.Is(qcerr.IO, err), "%v", err)
}

func TestDefaultConfig(t *testing.T) {
	for _, src := range []Sources{{}, {Barcode: true, Match: true, Alignment: true}} {
		_, err := NewEvaluator(DefaultConfig(src), src)
		expect.NoError(t, err)
	}
	expect.True(t, DefaultConfig(Sources{Match: true}).Len() > DefaultConfig(Sources{}).Len())
}
