package backtest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"consensusBot/internal/domain"
)

// SegmentRule names a predicate over trade outcomes. Outcomes matching the
// predicate are re-aggregated into an independent segment of the report.
type SegmentRule struct {
	Name  string
	Match func(*domain.TradeOutcome) bool
}

// Thresholds the default segment split uses.
type SegmentThresholds struct {
	StrongSignal   float64 // Consensus strength split point
	ConsensusBots  int     // Agreeing-bot split point
	HighConfidence float64 // Confidence split point
}

// DefaultSegmentThresholds returns the tuned split points.
func DefaultSegmentThresholds() SegmentThresholds {
	return SegmentThresholds{
		StrongSignal:   6.0,
		ConsensusBots:  3,
		HighConfidence: 0.7,
	}
}

// DefaultSegmentRules builds the standard six segments: strong/weak signal,
// high/low consensus and high/low confidence. Bot count and setup score ride
// along on the entry signal as attributes when signals come from a parsed
// setup log.
func DefaultSegmentRules(th SegmentThresholds) []SegmentRule {
	return []SegmentRule{
		{
			Name: "strong_signal",
			Match: func(o *domain.TradeOutcome) bool {
				return o.EntrySignal.Strength >= th.StrongSignal
			},
		},
		{
			Name: "weak_signal",
			Match: func(o *domain.TradeOutcome) bool {
				return o.EntrySignal.Strength < th.StrongSignal
			},
		},
		{
			Name: "high_consensus",
			Match: func(o *domain.TradeOutcome) bool {
				return o.EntrySignal.Attribute("bot_count", 1) >= float64(th.ConsensusBots)
			},
		},
		{
			Name: "low_consensus",
			Match: func(o *domain.TradeOutcome) bool {
				return o.EntrySignal.Attribute("bot_count", 1) < float64(th.ConsensusBots)
			},
		},
		{
			Name: "high_confidence",
			Match: func(o *domain.TradeOutcome) bool {
				return o.EntrySignal.Confidence >= th.HighConfidence
			},
		},
		{
			Name: "low_confidence",
			Match: func(o *domain.TradeOutcome) bool {
				return o.EntrySignal.Confidence < th.HighConfidence
			},
		},
	}
}

// ruleSpec is the YAML shape of one custom segment rule.
type ruleSpec struct {
	Name  string  `yaml:"name"`
	Field string  `yaml:"field"` // strength, confidence, bot_count, setup_score, pnl
	Op    string  `yaml:"op"`    // >=, >, <=, <, ==
	Value float64 `yaml:"value"`
}

type rulesFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

// LoadSegmentRules reads custom segment rules from a YAML file. They extend,
// not replace, the default segments.
func LoadSegmentRules(path string) ([]SegmentRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading segment rules file: %w", err)
	}
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing segment rules file: %w", err)
	}

	rules := make([]SegmentRule, 0, len(file.Rules))
	for i, spec := range file.Rules {
		rule, err := compileRule(spec)
		if err != nil {
			return nil, fmt.Errorf("segment rule %d (%q): %w", i, spec.Name, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func compileRule(spec ruleSpec) (SegmentRule, error) {
	if spec.Name == "" {
		return SegmentRule{}, fmt.Errorf("rule has no name")
	}

	extract, err := fieldExtractor(spec.Field)
	if err != nil {
		return SegmentRule{}, err
	}
	compare, err := comparator(spec.Op)
	if err != nil {
		return SegmentRule{}, err
	}

	value := spec.Value
	return SegmentRule{
		Name: spec.Name,
		Match: func(o *domain.TradeOutcome) bool {
			return compare(extract(o), value)
		},
	}, nil
}

func fieldExtractor(field string) (func(*domain.TradeOutcome) float64, error) {
	switch field {
	case "strength":
		return func(o *domain.TradeOutcome) float64 { return o.EntrySignal.Strength }, nil
	case "confidence":
		return func(o *domain.TradeOutcome) float64 { return o.EntrySignal.Confidence }, nil
	case "bot_count":
		return func(o *domain.TradeOutcome) float64 { return o.EntrySignal.Attribute("bot_count", 1) }, nil
	case "setup_score":
		return func(o *domain.TradeOutcome) float64 { return o.EntrySignal.Attribute("setup_score", 0) }, nil
	case "pnl":
		return func(o *domain.TradeOutcome) float64 { return o.PnLPct }, nil
	default:
		return nil, fmt.Errorf("unknown field %q", field)
	}
}

func comparator(op string) (func(a, b float64) bool, error) {
	switch op {
	case ">=":
		return func(a, b float64) bool { return a >= b }, nil
	case ">":
		return func(a, b float64) bool { return a > b }, nil
	case "<=":
		return func(a, b float64) bool { return a <= b }, nil
	case "<":
		return func(a, b float64) bool { return a < b }, nil
	case "==":
		return func(a, b float64) bool { return a == b }, nil
	default:
		return nil, fmt.Errorf("unknown operator %q", op)
	}
}
