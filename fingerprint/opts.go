package fingerprint

import (
	"strconv"

	"github.com/kdm9/seqchk/qcerr"
)

// MaxK is the largest supported k-mer length.
const MaxK = 32

// NumQuals is the number of distinct phred scores tracked, 0..93.
const NumQuals = 94

// Opts control fingerprint construction. Fingerprints can be merged and
// compared only when their Opts agree.
type Opts struct {
	// K is the k-mer length, 1..MaxK.
	K int
	// SketchSize is the number of k-mer hashes retained.
	SketchSize int
	// DupSketchSize is the number of whole-read hashes retained for the
	// duplication estimate.
	DupSketchSize int
	// Seed selects the hash functions.
	Seed uint64
	// MaxTrackedLength is the number of read-length histogram bins. Reads of
	// this length or longer are counted in a single overflow bin.
	MaxTrackedLength int
	// ExpectedBarcode is the sample barcode reads are compared against. Empty
	// disables barcode counting.
	ExpectedBarcode string
	// MaxBarcodeMismatches is the Hamming distance at which a read barcode
	// still matches ExpectedBarcode.
	MaxBarcodeMismatches int
}

// DefaultOpts is the default fingerprint configuration.
var DefaultOpts = Opts{
	K:                    21,
	SketchSize:           2048,
	DupSketchSize:        4096,
	MaxTrackedLength:     1000,
	MaxBarcodeMismatches: 1,
}

// Validate checks that the options describe a constructible fingerprint.
func (o Opts) Validate() error {
	switch {
	case o.K < 1 || o.K > MaxK:
		return qcerr.E(qcerr.Config, "k-mer length must be in [1,32], got", strconv.Itoa(o.K))
	case o.SketchSize < 1:
		return qcerr.E(qcerr.Config, "sketch size must be positive, got", strconv.Itoa(o.SketchSize))
	case o.DupSketchSize < 1:
		return qcerr.E(qcerr.Config, "duplicate sketch size must be positive, got", strconv.Itoa(o.DupSketchSize))
	case o.MaxTrackedLength < 1:
		return qcerr.E(qcerr.Config, "max tracked length must be positive, got", strconv.Itoa(o.MaxTrackedLength))
	case o.MaxBarcodeMismatches < 0:
		return qcerr.E(qcerr.Config, "max barcode mismatches must not be negative, got", strconv.Itoa(o.MaxBarcodeMismatches))
	}
	return nil
}

func (o Opts) compatible(p Opts) error {
	if o != p {
		return qcerr.E(qcerr.Config, "fingerprint parameters differ")
	}
	return nil
}
