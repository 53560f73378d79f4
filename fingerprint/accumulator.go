package fingerprint

import (
	"context"
	"encoding/binary"
	"strings"

	"github.com/antzucaro/matchr"
	"github.com/grailbio/base/log"
	"github.com/kdm9/seqchk/qcerr"
	"github.com/kdm9/seqchk/seqio"
	"github.com/minio/highwayhash"
)

var baseIndex [256]uint8

func init() {
	for i := range baseIndex {
		baseIndex[i] = BaseN
	}
	for i, ch := range "ACGT" {
		baseIndex[ch] = uint8(i)
		baseIndex[ch+'a'-'A'] = uint8(i)
	}
}

// Accumulator builds a Fingerprint from a stream of reads. Each Observe call
// takes time linear in the read length, and the accumulator's memory is
// bounded by its Opts. An Accumulator is not threadsafe.
type Accumulator struct {
	fp        *Fingerprint
	kmers     *bottomK
	dups      *bottomK
	kmerizer  *kmerizer
	readKey   [highwayhash.Size]byte
	finalized bool
}

// NewAccumulator creates an accumulator for the named read set. It fails with
// a ConfigError if opts are invalid.
func NewAccumulator(name string, opts Opts) (*Accumulator, error) {
	if err := opts.Validate(); err != nil {
		return nil, qcerr.E(qcerr.Sample(name), err)
	}
	a := &Accumulator{
		fp:       Empty(name, opts),
		kmers:    newBottomK(opts.SketchSize),
		dups:     newBottomK(opts.DupSketchSize),
		kmerizer: newKmerizer(opts.K),
	}
	binary.LittleEndian.PutUint64(a.readKey[:], opts.Seed)
	return a, nil
}

// Observe adds a read to the fingerprint. It fails with a StateError after
// Finalize, and with an InputFormatError if the read's qualities are not
// phred+33 or do not match its sequence length.
func (a *Accumulator) Observe(r seqio.Read) error {
	if a.finalized {
		return qcerr.E(qcerr.State, qcerr.Sample(a.fp.Name), "observe after finalize")
	}
	if r.Qual != "" {
		if len(r.Qual) != len(r.Seq) {
			return qcerr.E(qcerr.InputFormat, qcerr.Path(r.Source), "read", r.Name(), "sequence and quality lengths differ")
		}
		for i := 0; i < len(r.Qual); i++ {
			if q := r.Qual[i]; q < '!' || q > '~' {
				return qcerr.E(qcerr.InputFormat, qcerr.Path(r.Source), "read", r.Name(), "quality character out of range")
			}
		}
	}
	fp := a.fp
	n := len(r.Seq)
	if fp.Reads == 0 || n < fp.MinLength {
		fp.MinLength = n
	}
	if n > fp.MaxLength {
		fp.MaxLength = n
	}
	fp.Reads++
	fp.Bases += uint64(n)
	if n < len(fp.Lengths) {
		fp.Lengths[n]++
	} else {
		fp.LongReads++
	}
	for i := 0; i < n; i++ {
		fp.Composition[baseIndex[r.Seq[i]]]++
	}
	for i := 0; i < len(r.Qual); i++ {
		q := int(r.Qual[i]) - 33
		if q >= NumQuals {
			q = NumQuals - 1
		}
		fp.Quals[q]++
		// Welford's update.
		fp.QualBases++
		delta := float64(q) - fp.QualMean
		fp.QualMean += delta / float64(fp.QualBases)
		fp.QualM2 += delta * (float64(q) - fp.QualMean)
	}

	a.kmerizer.Reset(r.Seq)
	for a.kmerizer.Scan() {
		a.kmers.Add(hashKmer(a.kmerizer.Get(), fp.Opts.Seed), 1)
	}
	a.dups.Add(highwayhash.Sum64([]byte(r.Seq), a.readKey[:]), 1)

	if want := fp.Opts.ExpectedBarcode; want != "" {
		if bc, ok := barcode(r.Comment()); ok {
			fp.BarcodeReads++
			if d, err := matchr.Hamming(strings.ToUpper(bc), want); err == nil && d <= fp.Opts.MaxBarcodeMismatches {
				fp.BarcodeMatches++
			}
		}
	}
	return nil
}

// barcode extracts the sample barcode from an Illumina read comment, the
// field after its last ':'.
func barcode(comment string) (string, bool) {
	i := strings.LastIndexByte(comment, ':')
	if i < 0 || i == len(comment)-1 {
		return "", false
	}
	return comment[i+1:], true
}

// Finalize returns the fingerprint of the reads observed so far. The
// accumulator accepts no more reads; a second Finalize fails with a
// StateError.
func (a *Accumulator) Finalize() (*Fingerprint, error) {
	if a.finalized {
		return nil, qcerr.E(qcerr.State, qcerr.Sample(a.fp.Name), "finalize called twice")
	}
	a.finalized = true
	fp := a.fp
	fp.Sketch = a.kmers.Entries()
	fp.Dups = a.dups.Entries()
	a.fp, a.kmers, a.dups = &Fingerprint{Name: fp.Name}, nil, nil
	return fp, nil
}

// Build fingerprints the reads in paths, in order.
func Build(ctx context.Context, name string, paths []string, opts Opts, readOpts seqio.Opts) (*Fingerprint, error) {
	a, err := NewAccumulator(name, opts)
	if err != nil {
		return nil, err
	}
	s := seqio.Open(ctx, paths, readOpts)
	defer s.Close()
	var r seqio.Read
	for s.Scan(&r) {
		if err := a.Observe(r); err != nil {
			return nil, qcerr.E(qcerr.Sample(name), err)
		}
	}
	if err := s.Err(); err != nil {
		return nil, qcerr.E(qcerr.Sample(name), err)
	}
	fp, err := a.Finalize()
	if err != nil {
		return nil, err
	}
	log.Debug.Printf("%s: fingerprinted %d reads, %d bases, %d sketch entries",
		name, fp.Reads, fp.Bases, len(fp.Sketch))
	return fp, nil
}
