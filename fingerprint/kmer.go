package fingerprint

import (
	farm "github.com/dgryski/go-farm"
)

const invalidKmerBits = uint8(255)

var (
	asciiToKmerMap                  [256]uint8
	asciiToReverseComplementKmerMap [256]uint8
)

func init() {
	for i := range asciiToKmerMap {
		asciiToKmerMap[i] = invalidKmerBits
		asciiToReverseComplementKmerMap[i] = invalidKmerBits
	}
	for i, ch := range "ACGT" {
		asciiToKmerMap[ch] = uint8(i)
		asciiToKmerMap[ch+'a'-'A'] = uint8(i)
		asciiToReverseComplementKmerMap[ch] = uint8(3 - i)
		asciiToReverseComplementKmerMap[ch+'a'-'A'] = uint8(3 - i)
	}
}

// Kmer is a 2-bit-per-base encoding of a sequence of ACGT, up to 32 bases.
type Kmer uint64

// kmerizer enumerates the canonical k-mers of a sequence. The canonical form
// of a k-mer is the smaller of its forward and reverse-complement encodings,
// so a read and its reverse complement yield the same k-mers. Windows that
// contain a non-ACGT base are skipped.
type kmerizer struct {
	k     int
	mask  Kmer // ^(~0 << 2k)
	shift uint // 2(k-1)

	seq string
	si  int // index of the next base to consume
	n   int // number of valid bases at the end of the current window

	forward, reverseComplement Kmer
}

func newKmerizer(k int) *kmerizer {
	return &kmerizer{
		k:     k,
		mask:  ^(Kmer(0xffffffffffffffff) << Kmer(k*2)),
		shift: uint(k-1) * 2,
	}
}

func (km *kmerizer) Reset(seq string) {
	km.seq = seq
	km.si = 0
	km.n = 0
	km.forward, km.reverseComplement = 0, 0
}

// Scan advances to the next valid k-mer. It returns false at the end of the
// sequence.
func (km *kmerizer) Scan() bool {
	for km.si < len(km.seq) {
		ch := km.seq[km.si]
		km.si++
		bits := asciiToKmerMap[ch]
		if bits == invalidKmerBits {
			km.n = 0
			continue
		}
		km.forward = ((km.forward << 2) | Kmer(bits)) & km.mask
		km.reverseComplement = (km.reverseComplement >> 2) | (Kmer(asciiToReverseComplementKmerMap[ch]) << km.shift)
		if km.n < km.k {
			km.n++
		}
		if km.n == km.k {
			return true
		}
	}
	return false
}

// Get returns the canonical encoding of the current k-mer.
func (km *kmerizer) Get() Kmer {
	if km.forward < km.reverseComplement {
		return km.forward
	}
	return km.reverseComplement
}

// hashKmer maps a k-mer to a 64-bit hash. The seed selects an independent
// hash function.
func hashKmer(k Kmer, seed uint64) uint64 {
	return farm.Hash64WithSeeds(nil, uint64(k), seed)
}

func asciiToKmer(seq string) (Kmer, bool) {
	var k Kmer
	for i := 0; i < len(seq); i++ {
		b := asciiToKmerMap[seq[i]]
		if b == invalidKmerBits {
			return 0, false
		}
		k = (k << 2) | Kmer(b)
	}
	return k, true
}
