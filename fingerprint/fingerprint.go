// Package fingerprint computes bounded-size summaries of read sets. A
// Fingerprint holds a bottom-k sketch of canonical k-mer hashes, used to
// identify the sample a run came from, plus exact counters for base
// composition, read lengths, base qualities and barcodes, used for QC.
//
// A Fingerprint's size depends only on its Opts, never on the number of reads
// it summarizes. Fingerprints of disjoint read sets can be merged; Merge is
// commutative and associative, and merging with an empty fingerprint is the
// identity.
package fingerprint

import (
	"encoding/binary"
	"fmt"
	"math"

	"blainsmith.com/go/seahash"
	"github.com/kdm9/seqchk/qcerr"
)

// Base indexes of Fingerprint.Composition.
const (
	BaseA = iota
	BaseC
	BaseG
	BaseT
	BaseN
	NumBases
)

// Fingerprint is the immutable summary of a read set. It is produced by
// Accumulator.Finalize, Merge or ReadFile and must not be modified.
type Fingerprint struct {
	Name string
	Opts Opts

	// Sketch is the bottom-k sketch of canonical k-mer hashes, in ascending
	// hash order.
	Sketch []Entry
	// Dups is the bottom-k sketch of whole-read sequence hashes.
	Dups []Entry

	Reads uint64
	Bases uint64
	// Composition counts bases by BaseA..BaseN. IUPAC ambiguity codes count
	// as N.
	Composition [NumBases]uint64

	// Lengths[l] is the number of reads of length l, for l <
	// Opts.MaxTrackedLength. LongReads counts the rest.
	Lengths   []uint64
	LongReads uint64
	MinLength int
	MaxLength int

	// Quals[q] is the number of bases with phred score q.
	Quals [NumQuals]uint64
	// QualBases, QualMean and QualM2 are the Welford state over per-base
	// phred scores.
	QualBases uint64
	QualMean  float64
	QualM2    float64

	// BarcodeReads is the number of reads with a barcode in their comment.
	// BarcodeMatches is the number that matched Opts.ExpectedBarcode.
	BarcodeReads   uint64
	BarcodeMatches uint64
}

// Empty returns a fingerprint of no reads.
func Empty(name string, opts Opts) *Fingerprint {
	return &Fingerprint{Name: name, Opts: opts, Lengths: make([]uint64, opts.MaxTrackedLength)}
}

// Merge returns the fingerprint of the union of the read sets summarized by
// f and o, which must be disjoint. The result takes the lexically smaller of
// the two names, ignoring empty ones. Merge fails with a ConfigError if the
// fingerprints were built with different Opts.
func (f *Fingerprint) Merge(o *Fingerprint) (*Fingerprint, error) {
	if err := f.Opts.compatible(o.Opts); err != nil {
		return nil, qcerr.E(qcerr.Sample(f.Name), err, fmt.Sprintf("cannot merge %q", o.Name))
	}
	m := &Fingerprint{
		Name:           f.Name,
		Opts:           f.Opts,
		Sketch:         mergeEntries(f.Sketch, o.Sketch, f.Opts.SketchSize),
		Dups:           mergeEntries(f.Dups, o.Dups, f.Opts.DupSketchSize),
		Reads:          f.Reads + o.Reads,
		Bases:          f.Bases + o.Bases,
		Lengths:        make([]uint64, f.Opts.MaxTrackedLength),
		LongReads:      f.LongReads + o.LongReads,
		BarcodeReads:   f.BarcodeReads + o.BarcodeReads,
		BarcodeMatches: f.BarcodeMatches + o.BarcodeMatches,
	}
	if m.Name == "" || (o.Name != "" && o.Name < m.Name) {
		m.Name = o.Name
	}
	for i := range m.Composition {
		m.Composition[i] = f.Composition[i] + o.Composition[i]
	}
	for i := range m.Lengths {
		m.Lengths[i] = f.Lengths[i] + o.Lengths[i]
	}
	for i := range m.Quals {
		m.Quals[i] = f.Quals[i] + o.Quals[i]
	}
	switch {
	case f.Reads == 0:
		m.MinLength, m.MaxLength = o.MinLength, o.MaxLength
	case o.Reads == 0:
		m.MinLength, m.MaxLength = f.MinLength, f.MaxLength
	default:
		m.MinLength, m.MaxLength = f.MinLength, f.MaxLength
		if o.MinLength < m.MinLength {
			m.MinLength = o.MinLength
		}
		if o.MaxLength > m.MaxLength {
			m.MaxLength = o.MaxLength
		}
	}
	m.QualBases, m.QualMean, m.QualM2 = combineMoments(
		f.QualBases, f.QualMean, f.QualM2,
		o.QualBases, o.QualMean, o.QualM2)
	return m, nil
}

// combineMoments merges two Welford states (Chan et al.). The expression is
// symmetric in its two arguments, so the result does not depend on their
// order.
func combineMoments(na uint64, ma, m2a float64, nb uint64, mb, m2b float64) (uint64, float64, float64) {
	switch {
	case na == 0:
		return nb, mb, m2b
	case nb == 0:
		return na, ma, m2a
	}
	n := na + nb
	fa, fb, fn := float64(na), float64(nb), float64(n)
	delta := mb - ma
	mean := (fa*ma + fb*mb) / fn
	m2 := m2a + m2b + delta*delta*(fa*fb)/fn
	return n, mean, m2
}

// MeanLength returns the mean read length, or NaN when there are no reads.
func (f *Fingerprint) MeanLength() float64 {
	return ratio(f.Bases, f.Reads)
}

// GCFraction returns the fraction of called (non-N) bases that are G or C.
func (f *Fingerprint) GCFraction() float64 {
	c := f.Composition
	return ratio(c[BaseG]+c[BaseC], c[BaseA]+c[BaseC]+c[BaseG]+c[BaseT])
}

// NFraction returns the fraction of bases that are N.
func (f *Fingerprint) NFraction() float64 {
	return ratio(f.Composition[BaseN], f.Bases)
}

// MeanQuality returns the mean per-base phred score, or NaN when the reads
// carry no qualities.
func (f *Fingerprint) MeanQuality() float64 {
	if f.QualBases == 0 {
		return math.NaN()
	}
	return f.QualMean
}

// QualityStdDev returns the population standard deviation of per-base phred
// scores.
func (f *Fingerprint) QualityStdDev() float64 {
	if f.QualBases == 0 {
		return math.NaN()
	}
	return math.Sqrt(f.QualM2 / float64(f.QualBases))
}

// Q30Fraction returns the fraction of bases with phred score of at least 30.
func (f *Fingerprint) Q30Fraction() float64 {
	var n uint64
	for q := 30; q < NumQuals; q++ {
		n += f.Quals[q]
	}
	return ratio(n, f.QualBases)
}

// DuplicationRate estimates the fraction of reads whose sequence duplicates
// an earlier read. Distinct sequences are sampled by hash, independent of how
// often they occur, so among the reads of the sampled sequences the excess
// over one copy each estimates the duplicate fraction of the whole set. The
// estimate is exact while the read set has at most DupSketchSize distinct
// sequences.
func (f *Fingerprint) DuplicationRate() float64 {
	var reads, distinct uint64
	for _, e := range f.Dups {
		reads += e.Count
		distinct++
	}
	if reads == 0 {
		return math.NaN()
	}
	return float64(reads-distinct) / float64(reads)
}

// EstimatedDistinctReads estimates the number of distinct read sequences,
// using the k-minimum-values estimator once the duplicate sketch is full.
func (f *Fingerprint) EstimatedDistinctReads() float64 {
	n := len(f.Dups)
	if n < f.Opts.DupSketchSize || n < 2 {
		return float64(n)
	}
	max := float64(f.Dups[n-1].Hash) / math.Exp2(64)
	return float64(n-1) / max
}

// BarcodeMatchFraction returns the fraction of all reads whose barcode
// matched Opts.ExpectedBarcode. It is NaN when no barcode was expected.
func (f *Fingerprint) BarcodeMatchFraction() float64 {
	if f.Opts.ExpectedBarcode == "" {
		return math.NaN()
	}
	return ratio(f.BarcodeMatches, f.Reads)
}

// Size returns the number of bytes of sketch and counter state held by f.
// It is at most MaxSize(f.Opts).
func (f *Fingerprint) Size() int {
	return 16*(len(f.Sketch)+len(f.Dups)) + 8*(len(f.Lengths)+fixedCounters)
}

// fixedCounters is the number of 8-byte counters outside the sketches and the
// length histogram.
const fixedCounters = NumBases + NumQuals + 10

// MaxSize returns the largest Size of a fingerprint built with opts.
func MaxSize(opts Opts) int {
	return 16*(opts.SketchSize+opts.DupSketchSize) + 8*(opts.MaxTrackedLength+fixedCounters)
}

// Digest returns a stable identifier of the k-mer content of f, a seahash of
// its parameters and its sketch.
func (f *Fingerprint) Digest() string {
	h := seahash.New()
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(f.Opts.K))
	binary.LittleEndian.PutUint64(buf[8:], f.Opts.Seed)
	h.Write(buf[:])
	for _, e := range f.Sketch {
		binary.LittleEndian.PutUint64(buf[:8], e.Hash)
		binary.LittleEndian.PutUint64(buf[8:], e.Count)
		h.Write(buf[:])
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

func ratio(a, b uint64) float64 {
	if b == 0 {
		return math.NaN()
	}
	return float64(a) / float64(b)
}
