// Package refdb holds the reference fingerprints that observed runs are
// identified against.
//
// References are listed in a manifest, a TSV file with the header
//
//	sample_id  fingerprint  fasta  reads  expected_reads  barcode
//
// Each row names exactly one source for the sample's fingerprint: a
// fingerprint file written by fingerprint.WriteFile, a FASTA reference, or a
// comma-separated list of read files. FASTA and read sources are
// fingerprinted at load time. Relative paths are resolved against the
// directory of the manifest. All six columns must be present; values other
// than sample_id and the source may be empty. Lines starting with '#' are
// ignored.
//
// A DB is read-only once loaded and may be shared by any number of goroutines
// without locking. Load must not run concurrently with lookups.
package refdb

import (
	"context"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/base/tsv"
	"github.com/kdm9/seqchk/fingerprint"
	"github.com/kdm9/seqchk/qcerr"
	"github.com/kdm9/seqchk/seqio"
)

// Entry is one reference sample.
type Entry struct {
	SampleID    string
	Fingerprint *fingerprint.Fingerprint
	// ExpectedReads is the number of reads the sample is expected to yield, or
	// zero if unknown.
	ExpectedReads int64
	// ExpectedBarcode is the sample's index sequence, if known.
	ExpectedBarcode string
	// Source is the manifest and row the entry was loaded from.
	Source string
}

// LoadOpts control manifest loading.
type LoadOpts struct {
	// Timeout bounds the whole load, including fingerprinting FASTA and read
	// sources. Zero disables it.
	Timeout time.Duration
	// Fingerprint are the parameters of fingerprints built from FASTA and
	// read sources. Loaded fingerprint files must use the same k-mer length
	// and seed.
	Fingerprint fingerprint.Opts
	// Read configures reading of FASTA and read sources.
	Read seqio.Opts
	// Parallelism is the number of sources fingerprinted concurrently.
	Parallelism int
}

// DefaultLoadOpts are the default loading options.
var DefaultLoadOpts = LoadOpts{
	Timeout:     30 * time.Minute,
	Fingerprint: fingerprint.DefaultOpts,
	Read:        seqio.DefaultOpts,
	Parallelism: 4,
}

// DB is a set of reference entries keyed by sample id.
type DB struct {
	entries map[string]*Entry
	sorted  []*Entry
}

// New returns an empty DB.
func New() *DB {
	return &DB{entries: map[string]*Entry{}}
}

// manifestRow is one row of a manifest.
type manifestRow struct {
	SampleID      string `tsv:"sample_id"`
	Fingerprint   string `tsv:"fingerprint"`
	FASTA         string `tsv:"fasta"`
	Reads         string `tsv:"reads"`
	ExpectedReads string `tsv:"expected_reads"`
	Barcode       string `tsv:"barcode"`
}

// pending is a parsed manifest row whose fingerprint is not loaded yet.
type pending struct {
	entry Entry
	kind  string // "fingerprint", "fasta" or "reads"
	paths []string
}

// Load adds the entries of the manifest at path. Either every entry is
// added or, on error, none is.
//
// Malformed rows fail with a RegistryFormatError, sample ids that repeat
// within the manifest or match an already loaded entry fail with a
// DuplicateKeyError, and exceeding opts.Timeout fails with a TimeoutError.
func (db *DB) Load(ctx context.Context, path string, opts LoadOpts) (err error) {
	ctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()
	in, err := file.Open(ctx, path)
	if err != nil {
		return qcerr.E(qcerr.IO, qcerr.Path(path), "open manifest", err)
	}
	defer file.CloseAndReport(ctx, in, &err)
	return db.LoadReader(ctx, in.Reader(ctx), path, opts)
}

// LoadReader is Load for a manifest read from r. The name locates the
// manifest: relative source paths are resolved against its directory.
func (db *DB) LoadReader(ctx context.Context, r io.Reader, name string, opts LoadOpts) error {
	ctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()
	start := time.Now()
	rows, err := parseManifest(r, name, filepath.Dir(name))
	if err != nil {
		return err
	}
	for _, p := range rows {
		if _, ok := db.entries[p.entry.SampleID]; ok {
			return qcerr.E(qcerr.DuplicateKey, qcerr.Sample(p.entry.SampleID), p.entry.Source, "sample already loaded")
		}
	}
	parallelism := opts.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	entries := make([]*Entry, len(rows))
	err = traverse.Limit(parallelism).Each(len(rows), func(i int) error {
		e, err := resolve(ctx, rows[i], opts)
		entries[i] = e
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return seqio.CtxErr(ctx, qcerr.Path(name), "loading references")
		}
		return err
	}
	for _, e := range entries {
		db.entries[e.SampleID] = e
	}
	sorted := make([]*Entry, 0, len(db.entries))
	for _, e := range db.entries {
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SampleID < sorted[j].SampleID })
	db.sorted = sorted
	log.Printf("%s: loaded %d reference samples in %v", name, len(entries), time.Since(start))
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func parseManifest(r io.Reader, name, dir string) ([]pending, error) {
	tr := tsv.NewReader(r)
	tr.HasHeaderRow = true
	tr.UseHeaderNames = true
	tr.Comment = '#'
	var (
		rows []pending
		seen = map[string]string{}
	)
	for n := 1; ; n++ {
		var row manifestRow
		if err := tr.Read(&row); err != nil {
			if err == io.EOF {
				break
			}
			return nil, qcerr.E(qcerr.RegistryFormat, qcerr.Path(name), "row "+strconv.Itoa(n), err)
		}
		source := name + ": row " + strconv.Itoa(n)
		p, err := parseRow(row, source, dir)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[p.entry.SampleID]; ok {
			return nil, qcerr.E(qcerr.DuplicateKey, qcerr.Sample(p.entry.SampleID), source, "also defined at "+prev)
		}
		seen[p.entry.SampleID] = source
		rows = append(rows, p)
	}
	return rows, nil
}

func parseRow(row manifestRow, source, dir string) (pending, error) {
	p := pending{entry: Entry{
		SampleID:        strings.TrimSpace(row.SampleID),
		ExpectedBarcode: strings.ToUpper(strings.TrimSpace(row.Barcode)),
		Source:          source,
	}}
	if p.entry.SampleID == "" {
		return p, qcerr.E(qcerr.RegistryFormat, source, "empty sample_id")
	}
	if s := strings.TrimSpace(row.ExpectedReads); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			return p, qcerr.E(qcerr.RegistryFormat, qcerr.Sample(p.entry.SampleID), source, "invalid expected_reads", strconv.Quote(s))
		}
		p.entry.ExpectedReads = n
	}
	nsources := 0
	for _, src := range []struct{ kind, value string }{
		{"fingerprint", row.Fingerprint},
		{"fasta", row.FASTA},
		{"reads", row.Reads},
	} {
		v := strings.TrimSpace(src.value)
		if v == "" {
			continue
		}
		nsources++
		p.kind = src.kind
		p.paths = nil
		for _, path := range strings.Split(v, ",") {
			path = strings.TrimSpace(path)
			if path == "" {
				return p, qcerr.E(qcerr.RegistryFormat, qcerr.Sample(p.entry.SampleID), source, "empty path in", src.kind)
			}
			if !filepath.IsAbs(path) && !strings.Contains(path, "://") {
				path = filepath.Join(dir, path)
			}
			p.paths = append(p.paths, path)
		}
	}
	if nsources != 1 {
		return p, qcerr.E(qcerr.RegistryFormat, qcerr.Sample(p.entry.SampleID), source,
			"exactly one of fingerprint, fasta or reads must be set, got", strconv.Itoa(nsources))
	}
	if p.kind == "fingerprint" && len(p.paths) != 1 {
		return p, qcerr.E(qcerr.RegistryFormat, qcerr.Sample(p.entry.SampleID), source, "one fingerprint file per sample")
	}
	return p, nil
}

// resolve loads or builds the fingerprint of a manifest row.
func resolve(ctx context.Context, p pending, opts LoadOpts) (*Entry, error) {
	e := p.entry
	id := qcerr.Sample(e.SampleID)
	switch p.kind {
	case "fingerprint":
		fps, err := fingerprint.ReadFile(ctx, p.paths[0])
		if err != nil {
			if qcerr.Is(qcerr.InputFormat, err) {
				return nil, qcerr.E(qcerr.RegistryFormat, id, e.Source, err)
			}
			return nil, qcerr.E(id, e.Source, err)
		}
		fp, err := pick(fps, e.SampleID)
		if err != nil {
			return nil, qcerr.E(id, e.Source, qcerr.Path(p.paths[0]), err)
		}
		if fp.Opts.K != opts.Fingerprint.K || fp.Opts.Seed != opts.Fingerprint.Seed {
			return nil, qcerr.E(qcerr.RegistryFormat, id, e.Source, qcerr.Path(p.paths[0]),
				"fingerprint k-mer length or seed does not match the configured parameters")
		}
		e.Fingerprint = fp
	default:
		fpOpts := opts.Fingerprint
		// Reference fingerprints carry k-mer content only.
		fpOpts.ExpectedBarcode = ""
		fp, err := fingerprint.Build(ctx, e.SampleID, p.paths, fpOpts, opts.Read)
		if err != nil {
			return nil, qcerr.E(id, e.Source, err)
		}
		if fp.Reads == 0 {
			return nil, qcerr.E(qcerr.RegistryFormat, id, e.Source, p.kind, "source has no sequences")
		}
		e.Fingerprint = fp
	}
	return &e, nil
}

// pick selects the fingerprint for id from a fingerprint file: the only one,
// or the one named id.
func pick(fps []*fingerprint.Fingerprint, id string) (*fingerprint.Fingerprint, error) {
	if len(fps) == 1 {
		return fps[0], nil
	}
	for _, fp := range fps {
		if fp.Name == id {
			return fp, nil
		}
	}
	return nil, qcerr.E(qcerr.RegistryFormat, "no fingerprint named", id, "among", strconv.Itoa(len(fps)))
}

// Lookup returns the entry for id, or a NotFoundError.
func (db *DB) Lookup(id string) (*Entry, error) {
	e, ok := db.entries[id]
	if !ok {
		return nil, qcerr.E(qcerr.NotFound, qcerr.Sample(id), "no such reference sample")
	}
	return e, nil
}

// Entries returns all entries sorted by sample id. The caller must not
// modify the returned slice.
func (db *DB) Entries() []*Entry { return db.sorted }

// Len returns the number of entries.
func (db *DB) Len() int { return len(db.entries) }
