package fingerprint

import (
	"sort"
	"strings"

	"github.com/kdm9/seqchk/qcerr"
)

// Similarity scores how alike the k-mer content of two fingerprints is. Scores
// are in [0,1], 1 meaning indistinguishable.
type Similarity interface {
	// Name is the name the strategy is selected by.
	Name() string
	// Score compares an observed fingerprint against a reference. It fails
	// with a ConfigError if the fingerprints were hashed differently.
	Score(observed, reference *Fingerprint) (float64, error)
}

// DefaultSimilarity is the name of the strategy used when none is configured.
const DefaultSimilarity = "jaccard"

var similarities = map[string]Similarity{
	"jaccard":          jaccard{},
	"weighted-jaccard": weightedJaccard{},
	"containment":      containment{},
}

// NewSimilarity returns the named strategy. An empty name selects
// DefaultSimilarity.
func NewSimilarity(name string) (Similarity, error) {
	if name == "" {
		name = DefaultSimilarity
	}
	s, ok := similarities[name]
	if !ok {
		return nil, qcerr.E(qcerr.Config, "unknown similarity", name, "(want one of", strings.Join(SimilarityNames(), ", ")+")")
	}
	return s, nil
}

// SimilarityNames lists the available strategies in sorted order.
func SimilarityNames() []string {
	var names []string
	for name := range similarities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sameHashing(a, b *Fingerprint) error {
	if a.Opts.K != b.Opts.K || a.Opts.Seed != b.Opts.Seed {
		return qcerr.E(qcerr.Config, qcerr.Sample(b.Name), "k-mer length or seed differs from", a.Name)
	}
	return nil
}

// unionScan walks the bottom-s union of two sketches in hash order, where s is
// the smaller sketch capacity, stopping at the first hash beyond which either
// sketch's membership is unknown. fn is called with the counts of each hash in
// a and b; a count of zero means absent.
func unionScan(a, b *Fingerprint, fn func(ca, cb uint64)) {
	s := a.Opts.SketchSize
	if b.Opts.SketchSize < s {
		s = b.Opts.SketchSize
	}
	limit := horizon(a.Sketch, a.Opts.SketchSize)
	if h := horizon(b.Sketch, b.Opts.SketchSize); h < limit {
		limit = h
	}
	x, y := a.Sketch, b.Sketch
	i, j := 0, 0
	for n := 0; n < s && (i < len(x) || j < len(y)); n++ {
		switch {
		case j >= len(y) || (i < len(x) && x[i].Hash < y[j].Hash):
			if x[i].Hash > limit {
				return
			}
			fn(x[i].Count, 0)
			i++
		case i >= len(x) || y[j].Hash < x[i].Hash:
			if y[j].Hash > limit {
				return
			}
			fn(0, y[j].Count)
			j++
		default:
			if x[i].Hash > limit {
				return
			}
			fn(x[i].Count, y[j].Count)
			i++
			j++
		}
	}
}

// jaccard is the Mash estimator of the Jaccard index of the two k-mer sets:
// the fraction of the bottom-s hashes of the union that occur in both.
type jaccard struct{}

func (jaccard) Name() string { return "jaccard" }

func (jaccard) Score(a, b *Fingerprint) (float64, error) {
	if err := sameHashing(a, b); err != nil {
		return 0, err
	}
	var shared, total int
	unionScan(a, b, func(ca, cb uint64) {
		total++
		if ca > 0 && cb > 0 {
			shared++
		}
	})
	if total == 0 {
		return 0, nil
	}
	return float64(shared) / float64(total), nil
}

// weightedJaccard compares k-mer abundance profiles. Counts are normalized to
// frequencies within each sketch's share of the union so that sequencing
// depth does not affect the score; the score is sum(min)/sum(max) over the
// union.
type weightedJaccard struct{}

func (weightedJaccard) Name() string { return "weighted-jaccard" }

func (weightedJaccard) Score(a, b *Fingerprint) (float64, error) {
	if err := sameHashing(a, b); err != nil {
		return 0, err
	}
	var ta, tb uint64
	unionScan(a, b, func(ca, cb uint64) {
		ta += ca
		tb += cb
	})
	if ta == 0 || tb == 0 {
		return 0, nil
	}
	var num, den float64
	unionScan(a, b, func(ca, cb uint64) {
		fa, fb := float64(ca)/float64(ta), float64(cb)/float64(tb)
		if fa < fb {
			num += fa
			den += fb
		} else {
			num += fb
			den += fa
		}
	})
	if den == 0 {
		return 0, nil
	}
	score := num / den
	if score > 1 {
		score = 1
	}
	return score, nil
}

// containment estimates the fraction of the reference's k-mers present in the
// observed set. It tolerates observed sets that are much larger than the
// reference, such as a contaminated run.
type containment struct{}

func (containment) Name() string { return "containment" }

func (containment) Score(observed, ref *Fingerprint) (float64, error) {
	if err := sameHashing(observed, ref); err != nil {
		return 0, err
	}
	limit := horizon(observed.Sketch, observed.Opts.SketchSize)
	if h := horizon(ref.Sketch, ref.Opts.SketchSize); h < limit {
		limit = h
	}
	var found, total int
	i := 0
	for _, e := range ref.Sketch {
		if e.Hash > limit {
			break
		}
		total++
		for i < len(observed.Sketch) && observed.Sketch[i].Hash < e.Hash {
			i++
		}
		if i < len(observed.Sketch) && observed.Sketch[i].Hash == e.Hash {
			found++
		}
	}
	if total == 0 {
		return 0, nil
	}
	return float64(found) / float64(total), nil
}
