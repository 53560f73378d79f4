package qc

import (
	"math"
	"sort"

	"github.com/kdm9/seqchk/alignstats"
	"github.com/kdm9/seqchk/fingerprint"
	"github.com/kdm9/seqchk/match"
)

// Source is where a metric's value comes from.
type Source int

const (
	// FromFingerprint metrics are computed from the run's read fingerprint.
	FromFingerprint Source = iota
	// FromBarcode metrics need an expected barcode.
	FromBarcode
	// FromMatch metrics need a reference registry to match against.
	FromMatch
	// FromAlignment metrics need alignment files.
	FromAlignment
)

func (s Source) String() string {
	switch s {
	case FromFingerprint:
		return "fingerprint"
	case FromBarcode:
		return "barcode"
	case FromMatch:
		return "match"
	case FromAlignment:
		return "alignment"
	}
	return "unknown"
}

// Sources lists which optional metric sources a run provides. Fingerprint
// metrics are always available.
type Sources struct {
	Barcode, Match, Alignment bool
}

func (s Sources) has(src Source) bool {
	switch src {
	case FromBarcode:
		return s.Barcode
	case FromMatch:
		return s.Match
	case FromAlignment:
		return s.Alignment
	}
	return true
}

// Inputs are the values a run's metrics are computed from. Fields for
// sources the run does not provide may be nil.
type Inputs struct {
	Fingerprint *fingerprint.Fingerprint
	Match       *match.Result
	// ExpectedReads is the read count the expected sample should yield, or
	// zero if unknown.
	ExpectedReads int64
	Alignment     *alignstats.Stats
}

// Metric computes one named value from a run's inputs.
type Metric interface {
	Name() string
	Source() Source
	// Value returns the metric, or false if it is not defined for the
	// inputs, e.g. the mean quality of FASTA reads.
	Value(Inputs) (float64, bool)
}

type metric struct {
	name   string
	source Source
	value  func(Inputs) float64
}

func (m metric) Name() string   { return m.name }
func (m metric) Source() Source { return m.source }

func (m metric) Value(in Inputs) (float64, bool) {
	switch m.source {
	case FromFingerprint, FromBarcode:
		if in.Fingerprint == nil {
			return 0, false
		}
	case FromMatch:
		if in.Match == nil || in.Fingerprint == nil {
			return 0, false
		}
	case FromAlignment:
		if in.Alignment == nil {
			return 0, false
		}
	}
	v := m.value(in)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func fp(f func(*fingerprint.Fingerprint) float64) func(Inputs) float64 {
	return func(in Inputs) float64 { return f(in.Fingerprint) }
}

func aln(f func(alignstats.Stats) float64) func(Inputs) float64 {
	return func(in Inputs) float64 { return f(*in.Alignment) }
}

func lengthStat(f func(*fingerprint.Fingerprint) int) func(Inputs) float64 {
	return func(in Inputs) float64 {
		if in.Fingerprint.Reads == 0 {
			return math.NaN()
		}
		return float64(f(in.Fingerprint))
	}
}

var catalog = map[string]Metric{}

func register(name string, source Source, value func(Inputs) float64) {
	catalog[name] = metric{name: name, source: source, value: value}
}

func init() {
	register("read_count", FromFingerprint, fp(func(f *fingerprint.Fingerprint) float64 { return float64(f.Reads) }))
	register("base_count", FromFingerprint, fp(func(f *fingerprint.Fingerprint) float64 { return float64(f.Bases) }))
	register("mean_read_length", FromFingerprint, fp((*fingerprint.Fingerprint).MeanLength))
	register("min_read_length", FromFingerprint, lengthStat(func(f *fingerprint.Fingerprint) int { return f.MinLength }))
	register("max_read_length", FromFingerprint, lengthStat(func(f *fingerprint.Fingerprint) int { return f.MaxLength }))
	register("mean_quality", FromFingerprint, fp((*fingerprint.Fingerprint).MeanQuality))
	register("quality_stddev", FromFingerprint, fp((*fingerprint.Fingerprint).QualityStdDev))
	register("q30_fraction", FromFingerprint, fp((*fingerprint.Fingerprint).Q30Fraction))
	register("n_fraction", FromFingerprint, fp((*fingerprint.Fingerprint).NFraction))
	register("gc_fraction", FromFingerprint, fp((*fingerprint.Fingerprint).GCFraction))
	register("duplication_rate", FromFingerprint, fp((*fingerprint.Fingerprint).DuplicationRate))

	register("barcode_match_fraction", FromBarcode, fp((*fingerprint.Fingerprint).BarcodeMatchFraction))

	register("match_score", FromMatch, func(in Inputs) float64 { return in.Match.Score })
	register("match_margin", FromMatch, func(in Inputs) float64 { return in.Match.Margin })
	register("identity_concordant", FromMatch, func(in Inputs) float64 {
		if in.Match.Concordant {
			return 1
		}
		return 0
	})
	register("expected_read_fraction", FromMatch, func(in Inputs) float64 {
		if in.ExpectedReads <= 0 {
			return math.NaN()
		}
		return float64(in.Fingerprint.Reads) / float64(in.ExpectedReads)
	})

	register("mapped_fraction", FromAlignment, aln(alignstats.Stats.MappedFraction))
	register("properly_paired_fraction", FromAlignment, aln(alignstats.Stats.ProperlyPairedFraction))
	register("duplicate_fraction", FromAlignment, aln(alignstats.Stats.DuplicateFraction))
	register("mean_mapq", FromAlignment, aln(alignstats.Stats.MeanMapQ))
}

// LookupMetric returns the named metric from the catalog.
func LookupMetric(name string) (Metric, bool) {
	m, ok := catalog[name]
	return m, ok
}

// MetricNames lists the catalog in sorted order.
func MetricNames() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
