package qc

import (
	"context"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/kdm9/seqchk/qcerr"
	"github.com/spf13/viper"
)

// ruleRow is the serialized form of a Rule.
type ruleRow struct {
	Metric     string `tsv:"metric" mapstructure:"metric"`
	Comparator string `tsv:"comparator" mapstructure:"comparator"`
	Threshold  string `tsv:"threshold" mapstructure:"threshold"`
	Severity   string `tsv:"severity" mapstructure:"severity"`
}

func (s ruleRow) rule() (Rule, error) {
	r := Rule{Metric: strings.TrimSpace(s.Metric)}
	var err error
	if r.Comparator, err = ParseComparator(s.Comparator); err != nil {
		return r, qcerr.E(qcerr.Metric(r.Metric), err)
	}
	if r.Threshold, err = strconv.ParseFloat(strings.TrimSpace(s.Threshold), 64); err != nil {
		return r, qcerr.E(qcerr.Config, qcerr.Metric(r.Metric), "invalid threshold", strconv.Quote(s.Threshold))
	}
	if r.Severity, err = ParseStatus(strings.TrimSpace(s.Severity)); err != nil {
		return r, qcerr.E(qcerr.Metric(r.Metric), err)
	}
	return r, nil
}

// LoadConfig reads a threshold configuration. Files ending in .tsv have the
// columns metric, comparator, threshold and severity. YAML, JSON and TOML
// files hold the rules under the key "thresholds", either as a list of
// {metric, comparator, threshold, severity} objects or as a map from metric
// name to {comparator, threshold, severity}. Any problem is a ConfigError.
func LoadConfig(ctx context.Context, path string) (cfg *Config, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, qcerr.E(qcerr.IO, qcerr.Path(path), "open thresholds", err)
	}
	defer file.CloseAndReport(ctx, in, &err)
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	var rows []ruleRow
	switch ext {
	case "tsv":
		rows, err = readTSV(in.Reader(ctx))
	case "yaml", "yml", "json", "toml":
		rows, err = readViper(in.Reader(ctx), ext)
	default:
		err = qcerr.E(qcerr.Config, "unsupported thresholds format", strconv.Quote(ext))
	}
	if err != nil {
		return nil, qcerr.E(qcerr.Config, qcerr.Path(path), err)
	}
	rules := make([]Rule, len(rows))
	for i, s := range rows {
		if rules[i], err = s.rule(); err != nil {
			return nil, qcerr.E(qcerr.Path(path), err)
		}
	}
	if cfg, err = NewConfig(rules); err != nil {
		return nil, qcerr.E(qcerr.Path(path), err)
	}
	return cfg, nil
}

func readTSV(r io.Reader) ([]ruleRow, error) {
	tr := tsv.NewReader(r)
	tr.HasHeaderRow = true
	tr.UseHeaderNames = true
	tr.Comment = '#'
	var rows []ruleRow
	for {
		var s ruleRow
		if err := tr.Read(&s); err != nil {
			if err == io.EOF {
				return rows, nil
			}
			return nil, qcerr.E(qcerr.Config, "row "+strconv.Itoa(len(rows)+1), err)
		}
		rows = append(rows, s)
	}
}

func readViper(r io.Reader, configType string) ([]ruleRow, error) {
	if configType == "yml" {
		configType = "yaml"
	}
	v := viper.New()
	v.SetConfigType(configType)
	if err := v.ReadConfig(r); err != nil {
		return nil, qcerr.E(qcerr.Config, "parse", err)
	}
	var rows []ruleRow
	switch v.Get("thresholds").(type) {
	case nil:
	case []interface{}:
		if err := v.UnmarshalKey("thresholds", &rows); err != nil {
			return nil, qcerr.E(qcerr.Config, "thresholds", err)
		}
	case map[string]interface{}, map[interface{}]interface{}:
		byMetric := map[string]ruleRow{}
		if err := v.UnmarshalKey("thresholds", &byMetric); err != nil {
			return nil, qcerr.E(qcerr.Config, "thresholds", err)
		}
		for name, s := range byMetric {
			s.Metric = name
			rows = append(rows, s)
		}
	default:
		return nil, qcerr.E(qcerr.Config, `"thresholds" must be a list or a map`)
	}
	return rows, nil
}

// DefaultConfig returns the rules used when no threshold file is given,
// restricted to the metric sources a run provides.
func DefaultConfig(sources Sources) *Config {
	rules := []Rule{
		{Metric: "read_count", Comparator: GE, Threshold: 1000, Severity: Fail},
		{Metric: "n_fraction", Comparator: LE, Threshold: 0.05, Severity: Fail},
		{Metric: "n_fraction", Comparator: LE, Threshold: 0.01, Severity: Warn},
		{Metric: "duplication_rate", Comparator: LE, Threshold: 0.5, Severity: Warn},
	}
	if sources.Barcode {
		rules = append(rules, Rule{Metric: "barcode_match_fraction", Comparator: GE, Threshold: 0.9, Severity: Warn})
	}
	if sources.Match {
		rules = append(rules,
			Rule{Metric: "match_score", Comparator: GE, Threshold: 0.5, Severity: Fail},
			Rule{Metric: "match_margin", Comparator: GE, Threshold: 0.1, Severity: Warn},
			Rule{Metric: "identity_concordant", Comparator: EQ, Threshold: 1, Severity: Fail},
		)
	}
	if sources.Alignment {
		rules = append(rules, Rule{Metric: "mapped_fraction", Comparator: GE, Threshold: 0.8, Severity: Warn})
	}
	cfg, err := NewConfig(rules)
	if err != nil {
		panic(err)
	}
	return cfg
}
