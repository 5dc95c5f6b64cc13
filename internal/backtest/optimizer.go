package backtest

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"consensusBot/internal/domain"
)

// ParameterRange defines a sweep range for one gate threshold.
type ParameterRange struct {
	Name string
	Min  float64
	Max  float64
	Step float64
}

// Gate threshold parameter names the optimizer understands.
const (
	ParamMinStrength   = "min_strength"
	ParamMinConfidence = "min_confidence"
	ParamMinScore      = "min_setup_score"
)

// OptimizationResult holds the outcome of one threshold combination.
type OptimizationResult struct {
	Parameters map[string]float64
	Metrics    *BacktestMetrics
	Score      float64
}

// OptimizerConfig holds configuration for the threshold optimizer.
type OptimizerConfig struct {
	ParameterRanges []ParameterRange
	HoldPeriod      time.Duration
	ScoreFunction   func(*BacktestMetrics) float64
}

// Optimizer sweeps gate-threshold combinations, re-filters the recorded
// signals per combination and re-runs the evaluator, ranking the results.
// Inputs are immutable, so combinations run concurrently.
type Optimizer struct {
	config    OptimizerConfig
	evaluator *Evaluator
}

// NewOptimizer creates a new optimizer instance.
func NewOptimizer(config OptimizerConfig, evaluator *Evaluator) *Optimizer {
	if config.ScoreFunction == nil {
		config.ScoreFunction = DefaultScoreFunction
	}
	return &Optimizer{config: config, evaluator: evaluator}
}

// Optimize evaluates every threshold combination against the signal set and
// returns the results sorted by score, best first.
func (o *Optimizer) Optimize(ctx context.Context, signals []*domain.SignalEvent, prices []PricePoint, rules []SegmentRule) ([]OptimizationResult, error) {
	combinations := o.generateParameterCombinations()
	results := make([]OptimizationResult, 0, len(combinations))

	resultChan := make(chan OptimizationResult, len(combinations))
	var wg sync.WaitGroup

	for _, params := range combinations {
		wg.Add(1)
		go func(params map[string]float64) {
			defer wg.Done()

			filtered := filterSignals(signals, params)
			run := o.evaluator.Run(ctx, filtered, prices, []time.Duration{o.config.HoldPeriod}, rules)
			metrics := run[o.config.HoldPeriod]

			resultChan <- OptimizationResult{
				Parameters: params,
				Metrics:    metrics,
				Score:      o.config.ScoreFunction(metrics),
			}
		}(params)
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for result := range resultChan {
		results = append(results, result)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// filterSignals keeps the signals that would have passed the candidate gates.
func filterSignals(signals []*domain.SignalEvent, params map[string]float64) []*domain.SignalEvent {
	kept := make([]*domain.SignalEvent, 0, len(signals))
	for _, sig := range signals {
		if v, ok := params[ParamMinStrength]; ok && sig.Strength < v {
			continue
		}
		if v, ok := params[ParamMinConfidence]; ok && sig.Confidence < v {
			continue
		}
		if v, ok := params[ParamMinScore]; ok && sig.Attribute("setup_score", 10) < v {
			continue
		}
		kept = append(kept, sig)
	}
	return kept
}

// generateParameterCombinations expands the ranges into the full grid.
func (o *Optimizer) generateParameterCombinations() []map[string]float64 {
	var combinations []map[string]float64
	current := make(map[string]float64)

	var generate func(int)
	generate = func(paramIndex int) {
		if paramIndex == len(o.config.ParameterRanges) {
			combination := make(map[string]float64, len(current))
			for k, v := range current {
				combination[k] = v
			}
			combinations = append(combinations, combination)
			return
		}

		param := o.config.ParameterRanges[paramIndex]
		// Small epsilon on the bound to absorb float accumulation.
		for value := param.Min; value <= param.Max+param.Step/2; value += param.Step {
			current[param.Name] = value
			generate(paramIndex + 1)
		}
	}

	generate(0)
	return combinations
}

// DefaultScoreFunction ranks a run by total pnl weighted toward consistent
// wins and penalized by drawdown. Runs with no trades score lowest.
func DefaultScoreFunction(metrics *BacktestMetrics) float64 {
	if metrics == nil || metrics.TradeCount == 0 {
		return math.Inf(-1)
	}
	score := metrics.TotalPnLPct
	score += metrics.WinRate * 0.1
	score -= metrics.MaxDrawdownPct * 0.5
	return score
}
