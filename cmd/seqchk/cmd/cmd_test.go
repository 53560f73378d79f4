package cmd

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/kdm9/seqchk/check"
	"v.io/x/lib/cmdline"
)

func run(t *testing.T, args ...string) (stdout string, exitCode int, err error) {
	var out, errOut bytes.Buffer
	env := &cmdline.Env{Stdout: &out, Stderr: &errOut, Vars: map[string]string{}}
	err = cmdline.ParseAndRun(newRoot(&exitCode), env, args)
	return out.String(), exitCode, err
}

func TestCommands(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := func(name string) string { return filepath.Join(dir, name) }

	r := rand.New(rand.NewSource(7))
	ref := make([]byte, 3000)
	for i := range ref {
		ref[i] = "ACGT"[r.Intn(4)]
	}
	assert.NoError(t, ioutil.WriteFile(path("x.fa"), []byte(">x\n"+string(ref)+"\n"), 0600))
	var reads strings.Builder
	for i := 0; i < 1000; i++ {
		start := (i * 3) % (len(ref) - 99)
		fmt.Fprintf(&reads, "@r%d\n%s\n+\n%s\n", i, ref[start:start+100], strings.Repeat("F", 100))
	}
	assert.NoError(t, ioutil.WriteFile(path("run1.fq"), []byte(reads.String()), 0600))

	out, _, err := run(t, "sketch", "-o", path("x.fp"), path("x.fa"))
	assert.NoError(t, err)
	expect.HasSubstr(t, out, "x\t")

	out, _, err = run(t, "compare", path("x.fp"), path("x.fp"))
	assert.NoError(t, err)
	expect.EQ(t, out, "similarity\tscore\ncontainment\t1.0000\njaccard\t1.0000\nweighted-jaccard\t1.0000\n")

	assert.NoError(t, ioutil.WriteFile(path("refs.tsv"), []byte(
		"sample_id\tfingerprint\tfasta\treads\texpected_reads\tbarcode\n"+
			"x\tx.fp\t\t\t\t\n"), 0600))
	out, code, err := run(t, "check", "-refs", path("refs.tsv"), "-expect", "x",
		"-report", path("report.json"), "-summary", path("summary.tsv"), path("run1.fq"))
	assert.NoError(t, err)
	expect.EQ(t, code, check.ExitPass)
	expect.EQ(t, out, "PASS\n")
	summary, err := ioutil.ReadFile(path("summary.tsv"))
	assert.NoError(t, err)
	expect.HasSubstr(t, string(summary), "run1\toverall\tx\t\t\t\tPASS\n")

	assert.NoError(t, ioutil.WriteFile(path("qc.yaml"), []byte(
		"thresholds:\n  mean_quality: {comparator: \">=\", threshold: 38, severity: WARN}\n"), 0600))
	_, code, err = run(t, "check", "-thresholds", path("qc.yaml"), "-report", path("warn.json"), path("run1.fq"))
	assert.NoError(t, err)
	expect.EQ(t, code, check.ExitWarn)

	_, _, err = run(t, "check", "-report", path("missing.json"), path("missing.fq"))
	expect.NotNil(t, err)
	_, statErr := os.Stat(path("missing.json"))
	expect.True(t, os.IsNotExist(statErr))

	_, _, err = run(t, "check")
	expect.NotNil(t, err)

	out, _, err = run(t, "version")
	assert.NoError(t, err)
	expect.EQ(t, out, "seqchk "+check.Version+"\n")
}

func TestRunName(t *testing.T) {
	for path, want := range map[string]string{
		"/data/a.fastq.gz": "a",
		"b.fq":             "b",
		"s3://bucket/c.fa": "c",
		"d.reads":          "d.reads",
		"e.fq.zst":         "e",
	} {
		expect.EQ(t, runName(path), want, path)
	}
}

func TestSplitList(t *testing.T) {
	expect.EQ(t, splitList(" a.bam, ,b.bam "), []string{"a.bam", "b.bam"})
	expect.EQ(t, len(splitList("")), 0)
}
