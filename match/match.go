// Package match identifies the reference sample an observed fingerprint came
// from.
package match

import (
	"sort"

	"github.com/grailbio/base/traverse"
	"github.com/kdm9/seqchk/fingerprint"
	"github.com/kdm9/seqchk/qcerr"
	"github.com/kdm9/seqchk/refdb"
)

// Opts control matching.
type Opts struct {
	// Similarity names the fingerprint.Similarity strategy.
	Similarity string
	// MinScore and MinMargin are the score, and the lead over the runner-up,
	// that the best match needs to be reported as confident.
	MinScore  float64
	MinMargin float64
	// Expected is the sample the run is supposed to be. Empty means unknown.
	Expected string
	// Parallelism bounds the number of candidates scored concurrently. Zero
	// means one per candidate.
	Parallelism int
}

// DefaultOpts are the default matching options.
var DefaultOpts = Opts{
	Similarity: fingerprint.DefaultSimilarity,
	MinScore:   0.5,
	MinMargin:  0.1,
}

// Score is the similarity of the observed fingerprint to one candidate.
type Score struct {
	SampleID string  `json:"sample_id"`
	Score    float64 `json:"score"`
}

// Result is the outcome of matching one observed fingerprint.
type Result struct {
	// ObservedDigest identifies the observed fingerprint.
	ObservedDigest string `json:"observed_digest"`
	// Best is the best-scoring candidate, or empty if there were none.
	Best  string  `json:"best,omitempty"`
	Score float64 `json:"score"`
	// Margin is Score minus the runner-up's score, or Score if there is no
	// runner-up.
	Margin   float64 `json:"margin"`
	RunnerUp string  `json:"runner_up,omitempty"`
	// Scores lists every candidate by descending score, ties by sample id.
	Scores     []Score `json:"scores,omitempty"`
	Similarity string  `json:"similarity"`
	Expected   string  `json:"expected,omitempty"`
	// Concordant is false iff an expected sample was given and it is not Best.
	Concordant bool `json:"concordant"`
	// Confident reports whether Score and Margin reach Opts.MinScore and
	// Opts.MinMargin.
	Confident bool `json:"confident"`
}

// Match scores observed against every candidate and reports the best one.
// The result does not depend on the order of candidates. Match fails with an
// InsufficientDataError if observed summarizes no reads, and with a
// ConfigError for an unknown similarity or incompatible fingerprints.
func Match(observed *fingerprint.Fingerprint, candidates []*refdb.Entry, opts Opts) (Result, error) {
	sim, err := fingerprint.NewSimilarity(opts.Similarity)
	if err != nil {
		return Result{}, err
	}
	if observed.Reads == 0 || len(observed.Sketch) == 0 {
		return Result{}, qcerr.E(qcerr.InsufficientData, qcerr.Sample(observed.Name), "observed fingerprint has no k-mers to match")
	}
	res := Result{
		ObservedDigest: observed.Digest(),
		Similarity:     sim.Name(),
		Expected:       opts.Expected,
		Concordant:     opts.Expected == "",
	}
	if len(candidates) == 0 {
		return res, nil
	}
	res.Scores = make([]Score, len(candidates))
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = len(candidates)
	}
	err = traverse.Limit(parallelism).Each(len(candidates), func(i int) error {
		c := candidates[i]
		score, err := sim.Score(observed, c.Fingerprint)
		if err != nil {
			return qcerr.E(qcerr.Sample(c.SampleID), err)
		}
		res.Scores[i] = Score{SampleID: c.SampleID, Score: score}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	sort.Slice(res.Scores, func(i, j int) bool {
		a, b := res.Scores[i], res.Scores[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.SampleID < b.SampleID
	})
	best := res.Scores[0]
	res.Best, res.Score, res.Margin = best.SampleID, best.Score, best.Score
	if len(res.Scores) > 1 {
		next := res.Scores[1]
		res.RunnerUp = next.SampleID
		res.Margin = best.Score - next.Score
	}
	res.Concordant = opts.Expected == "" || res.Best == opts.Expected
	res.Confident = res.Score >= opts.MinScore && res.Margin >= opts.MinMargin
	return res, nil
}
