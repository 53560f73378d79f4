package qc

import (
	"strings"

	"github.com/kdm9/seqchk/qcerr"
)

// Evaluator applies a Config to runs. It is immutable and may be shared.
type Evaluator struct {
	rules   []Rule
	metrics []Metric
}

// NewEvaluator binds every rule of cfg to its metric. It fails with a
// ConfigError if a rule names a metric that is not in the catalog, or one
// whose source the run does not provide.
func NewEvaluator(cfg *Config, sources Sources) (*Evaluator, error) {
	e := &Evaluator{rules: cfg.rules, metrics: make([]Metric, len(cfg.rules))}
	for i, r := range cfg.rules {
		m, ok := LookupMetric(r.Metric)
		if !ok {
			return nil, qcerr.E(qcerr.Config, qcerr.Metric(r.Metric), "unknown metric (known:", strings.Join(MetricNames(), ", ")+")")
		}
		if !sources.has(m.Source()) {
			return nil, qcerr.E(qcerr.Config, qcerr.Metric(r.Metric), "metric needs", m.Source().String(), "data, which this run does not provide")
		}
		e.metrics[i] = m
	}
	return e, nil
}

// Result is the outcome of one rule.
type Result struct {
	Metric string `json:"metric"`
	// Value is the measured value. It is zero when Available is false.
	Value      float64    `json:"value"`
	Available  bool       `json:"available"`
	Comparator Comparator `json:"comparator"`
	Threshold  float64    `json:"threshold"`
	Severity   Status     `json:"severity"`
	Passed     bool       `json:"passed"`
}

// Verdict is the outcome of all rules. Overall is the highest severity among
// the rules that did not pass, or Pass.
type Verdict struct {
	Metrics []Result `json:"metrics"`
	Overall Status   `json:"overall"`
}

// Failed returns the results of the rules that did not pass.
func (v Verdict) Failed() []Result {
	var failed []Result
	for _, r := range v.Metrics {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

// Evaluate applies every rule to in. A metric whose value is unavailable
// fails its rule.
func (e *Evaluator) Evaluate(in Inputs) Verdict {
	v := Verdict{Metrics: make([]Result, len(e.rules)), Overall: Pass}
	for i, r := range e.rules {
		value, ok := e.metrics[i].Value(in)
		res := Result{
			Metric:     r.Metric,
			Value:      value,
			Available:  ok,
			Comparator: r.Comparator,
			Threshold:  r.Threshold,
			Severity:   r.Severity,
			Passed:     ok && r.Comparator.Holds(value, r.Threshold),
		}
		if !res.Passed && r.Severity > v.Overall {
			v.Overall = r.Severity
		}
		v.Metrics[i] = res
	}
	return v
}
