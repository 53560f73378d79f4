// Package qc evaluates named threshold rules over the metrics of a run and
// reduces them to a PASS, WARN or FAIL verdict.
//
// Rules are data: a Config lists (metric, comparator, threshold, severity)
// tuples and is checked against the metric catalog once, when an Evaluator is
// constructed. Evaluation itself cannot fail; every rule is evaluated and
// reported independently.
package qc

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/kdm9/seqchk/qcerr"
)

// Status is a QC outcome, ordered by severity.
type Status int

const (
	// Pass means no rule failed.
	Pass Status = iota
	// Warn means only WARN rules failed.
	Warn
	// Fail means at least one FAIL rule failed.
	Fail
)

var statusNames = [...]string{"PASS", "WARN", "FAIL"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// ParseStatus parses "PASS", "WARN" or "FAIL", ignoring case.
func ParseStatus(s string) (Status, error) {
	for i, name := range statusNames {
		if strings.EqualFold(s, name) {
			return Status(i), nil
		}
	}
	return Pass, qcerr.E(qcerr.Config, "unknown status", fmt.Sprintf("%q", s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) (err error) {
	*s, err = ParseStatus(string(b))
	return
}

// Comparator is the relation a metric value must have to its threshold for a
// rule to pass.
type Comparator int

const (
	LT Comparator = iota
	LE
	GT
	GE
	EQ
	NE
)

var comparators = [...]struct{ name, symbol string }{
	LT: {"lt", "<"},
	LE: {"le", "<="},
	GT: {"gt", ">"},
	GE: {"ge", ">="},
	EQ: {"eq", "=="},
	NE: {"ne", "!="},
}

func (c Comparator) String() string {
	if c < 0 || int(c) >= len(comparators) {
		return fmt.Sprintf("Comparator(%d)", int(c))
	}
	return comparators[c].symbol
}

// ParseComparator accepts either the mnemonic (lt, le, gt, ge, eq, ne) or
// the symbol (<, <=, >, >=, ==, !=) of a comparator.
func ParseComparator(s string) (Comparator, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, c := range comparators {
		if s == c.name || s == c.symbol {
			return Comparator(i), nil
		}
	}
	return 0, qcerr.E(qcerr.Config, "unknown comparator", fmt.Sprintf("%q", s))
}

// MarshalText implements encoding.TextMarshaler.
func (c Comparator) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Comparator) UnmarshalText(b []byte) (err error) {
	*c, err = ParseComparator(string(b))
	return
}

// Holds reports whether v c threshold.
func (c Comparator) Holds(v, threshold float64) bool {
	switch c {
	case LT:
		return v < threshold
	case LE:
		return v <= threshold
	case GT:
		return v > threshold
	case GE:
		return v >= threshold
	case EQ:
		return v == threshold
	case NE:
		return v != threshold
	}
	return false
}

// Rule requires Metric Comparator Threshold to hold. A rule that does not
// hold raises the verdict to Severity.
type Rule struct {
	Metric     string
	Comparator Comparator
	Threshold  float64
	Severity   Status
}

func (r Rule) String() string {
	return fmt.Sprintf("%s %v %g (%v)", r.Metric, r.Comparator, r.Threshold, r.Severity)
}

// Config is an immutable set of rules, sorted by metric name then severity.
type Config struct {
	rules []Rule
}

// NewConfig validates rules and builds a Config. A metric may have one rule
// per severity, such as a WARN and a stricter FAIL threshold. Checking metric
// names against the catalog is left to NewEvaluator.
func NewConfig(rules []Rule) (*Config, error) {
	c := &Config{rules: append([]Rule(nil), rules...)}
	for _, r := range c.rules {
		switch {
		case r.Metric == "":
			return nil, qcerr.E(qcerr.Config, "rule with empty metric name")
		case r.Severity != Warn && r.Severity != Fail:
			return nil, qcerr.E(qcerr.Config, qcerr.Metric(r.Metric), "severity must be WARN or FAIL, got", r.Severity.String())
		case r.Comparator < LT || r.Comparator > NE:
			return nil, qcerr.E(qcerr.Config, qcerr.Metric(r.Metric), "invalid comparator", r.Comparator.String())
		case math.IsNaN(r.Threshold) || math.IsInf(r.Threshold, 0):
			return nil, qcerr.E(qcerr.Config, qcerr.Metric(r.Metric), "threshold must be finite")
		}
	}
	sort.SliceStable(c.rules, func(i, j int) bool {
		a, b := c.rules[i], c.rules[j]
		if a.Metric != b.Metric {
			return a.Metric < b.Metric
		}
		return a.Severity < b.Severity
	})
	for i := 1; i < len(c.rules); i++ {
		a, b := c.rules[i-1], c.rules[i]
		if a.Metric == b.Metric && a.Severity == b.Severity {
			return nil, qcerr.E(qcerr.Config, qcerr.Metric(a.Metric), "more than one", a.Severity.String(), "rule")
		}
	}
	return c, nil
}

// Rules returns a copy of the rules in evaluation order.
func (c *Config) Rules() []Rule { return append([]Rule(nil), c.rules...) }

// Len returns the number of rules.
func (c *Config) Len() int { return len(c.rules) }
