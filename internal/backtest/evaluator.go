package backtest

import (
	"context"
	"math"
	"sort"
	"time"

	"consensusBot/internal/domain"
	"consensusBot/internal/ports"
)

// PricePoint is one observation of the reference price series.
type PricePoint struct {
	Time  time.Time
	Price float64
}

// PricesFromKlines converts a kline series into price points using the close.
func PricesFromKlines(klines []*domain.Kline) []PricePoint {
	points := make([]PricePoint, 0, len(klines))
	for _, k := range klines {
		points = append(points, PricePoint{Time: k.CloseTime, Price: k.Close})
	}
	return points
}

// Config holds the evaluator tunables.
type Config struct {
	// ExitTolerance bounds how far past entry+hold the exit sample may lie.
	// Signals without a sample inside the tolerance are excluded, not losses.
	ExitTolerance time.Duration
	// MinSegmentTrades marks segments below this trade count as low-sample.
	MinSegmentTrades int
}

// DefaultConfig returns the tuned evaluator defaults.
func DefaultConfig() Config {
	return Config{
		ExitTolerance:    2 * time.Minute,
		MinSegmentTrades: 5,
	}
}

// BacktestMetrics aggregates the simulated outcomes for one hold period.
type BacktestMetrics struct {
	HoldPeriod     time.Duration
	TradeCount     int
	ExcludedCount  int // Signals with no usable exit sample
	WinCount       int
	LossCount      int
	WinRate        float64 // Percentage of trades with positive pnl
	TotalPnLPct    float64
	AvgPnLPct      float64
	AvgWinPct      float64
	AvgLossPct     float64 // Negative or zero
	ProfitFactor   float64 // +Inf when there are wins but no losses
	MaxDrawdownPct float64 // Peak-to-trough drop of the cumulative pnl curve
	SharpeRatio    float64
	// Outcomes keeps the per-trade records behind the aggregates so the
	// report, the optimizer and segment re-aggregation can slice them
	// without re-running the simulation.
	Outcomes []*domain.TradeOutcome
	Segments map[string]*SegmentMetrics
}

// SegmentMetrics is an independent re-aggregation of the outcomes matching
// one segment rule.
type SegmentMetrics struct {
	Name        string
	TradeCount  int
	WinCount    int
	WinRate     float64
	TotalPnLPct float64
	AvgPnLPct   float64
	// LowSample marks segments too small to read anything into. They are
	// reported anyway; filtering them out would hide where data is missing.
	LowSample bool
}

// Evaluator replays recorded signals against a historical price series and
// measures how entries would have performed over fixed hold periods. A run is
// pure computation; nothing is persisted.
type Evaluator struct {
	cfg    Config
	logger ports.Logger
}

// NewEvaluator creates an evaluator. Zero config fields fall back to defaults.
func NewEvaluator(cfg Config, logger ports.Logger) *Evaluator {
	def := DefaultConfig()
	if cfg.ExitTolerance <= 0 {
		cfg.ExitTolerance = def.ExitTolerance
	}
	if cfg.MinSegmentTrades <= 0 {
		cfg.MinSegmentTrades = def.MinSegmentTrades
	}
	return &Evaluator{cfg: cfg, logger: logger}
}

// Run evaluates every actionable signal against the price series for each
// hold period. Empty inputs produce zeroed metrics, never an error.
func (e *Evaluator) Run(ctx context.Context, signals []*domain.SignalEvent, prices []PricePoint, holdPeriods []time.Duration, rules []SegmentRule) map[time.Duration]*BacktestMetrics {
	series := make([]PricePoint, len(prices))
	copy(series, prices)
	sort.Slice(series, func(i, j int) bool { return series[i].Time.Before(series[j].Time) })

	ordered := make([]*domain.SignalEvent, len(signals))
	copy(ordered, signals)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Timestamp.Before(ordered[j].Timestamp) })

	results := make(map[time.Duration]*BacktestMetrics, len(holdPeriods))
	for _, hold := range holdPeriods {
		results[hold] = e.evaluateHold(ctx, ordered, series, hold, rules)
	}
	return results
}

func (e *Evaluator) evaluateHold(ctx context.Context, signals []*domain.SignalEvent, series []PricePoint, hold time.Duration, rules []SegmentRule) *BacktestMetrics {
	m := &BacktestMetrics{HoldPeriod: hold, Segments: make(map[string]*SegmentMetrics)}

	for _, sig := range signals {
		if !sig.Direction.IsActionable() {
			continue
		}
		exit, ok := e.exitSample(series, sig.Timestamp.Add(hold))
		if !ok {
			m.ExcludedCount++
			if e.logger != nil {
				e.logger.Debug(ctx, "Signal excluded, no exit sample in tolerance", map[string]interface{}{
					"bot":       sig.BotID,
					"timestamp": sig.Timestamp,
					"hold":      hold.String(),
				})
			}
			continue
		}
		pnl := sig.Direction.Sign() * (exit.Price - sig.Price) / sig.Price * 100
		m.Outcomes = append(m.Outcomes, &domain.TradeOutcome{
			EntrySignal: sig,
			HoldPeriod:  hold,
			EntryPrice:  sig.Price,
			ExitPrice:   exit.Price,
			ExitTime:    exit.Time,
			PnLPct:      pnl,
			IsWin:       pnl > 0,
		})
	}

	e.aggregate(m)
	for _, rule := range rules {
		m.Segments[rule.Name] = e.segment(rule, m.Outcomes)
	}
	return m
}

// exitSample finds the nearest price sample at or after the target instant,
// within the exit tolerance.
func (e *Evaluator) exitSample(series []PricePoint, target time.Time) (PricePoint, bool) {
	idx := sort.Search(len(series), func(i int) bool {
		return !series[i].Time.Before(target)
	})
	if idx == len(series) {
		return PricePoint{}, false
	}
	candidate := series[idx]
	if candidate.Time.Sub(target) > e.cfg.ExitTolerance {
		return PricePoint{}, false
	}
	return candidate, true
}

func (e *Evaluator) aggregate(m *BacktestMetrics) {
	m.TradeCount = len(m.Outcomes)
	if m.TradeCount == 0 {
		return
	}

	var winSum, lossSum float64
	pnls := make([]float64, 0, m.TradeCount)
	for _, o := range m.Outcomes {
		pnls = append(pnls, o.PnLPct)
		m.TotalPnLPct += o.PnLPct
		if o.IsWin {
			m.WinCount++
			winSum += o.PnLPct
		} else {
			m.LossCount++
			lossSum += o.PnLPct
		}
	}

	m.WinRate = float64(m.WinCount) / float64(m.TradeCount) * 100
	m.AvgPnLPct = m.TotalPnLPct / float64(m.TradeCount)
	if m.WinCount > 0 {
		m.AvgWinPct = winSum / float64(m.WinCount)
	}
	if m.LossCount > 0 {
		m.AvgLossPct = lossSum / float64(m.LossCount)
	}
	m.ProfitFactor = profitFactor(winSum, lossSum)
	m.MaxDrawdownPct = maxDrawdown(pnls)
	m.SharpeRatio = sharpeRatio(pnls)
}

func (e *Evaluator) segment(rule SegmentRule, outcomes []*domain.TradeOutcome) *SegmentMetrics {
	s := &SegmentMetrics{Name: rule.Name}
	var total float64
	for _, o := range outcomes {
		if !rule.Match(o) {
			continue
		}
		s.TradeCount++
		total += o.PnLPct
		if o.IsWin {
			s.WinCount++
		}
	}
	s.TotalPnLPct = total
	if s.TradeCount > 0 {
		s.WinRate = float64(s.WinCount) / float64(s.TradeCount) * 100
		s.AvgPnLPct = total / float64(s.TradeCount)
	}
	s.LowSample = s.TradeCount < e.cfg.MinSegmentTrades
	return s
}

// profitFactor is gross profit over gross loss. No losses with at least one
// win is reported as +Inf rather than an arbitrary cap.
func profitFactor(grossWin, grossLoss float64) float64 {
	loss := math.Abs(grossLoss)
	if loss == 0 {
		if grossWin > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return grossWin / loss
}

// maxDrawdown walks the chronological cumulative pnl curve and returns the
// largest peak-to-trough drop, as a positive number.
func maxDrawdown(pnls []float64) float64 {
	var cumulative, peak, maxDD float64
	for _, p := range pnls {
		cumulative += p
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// sharpeRatio is mean return over the population standard deviation, without
// annualization. Fewer than two trades or zero variance yields 0.
func sharpeRatio(pnls []float64) float64 {
	if len(pnls) < 2 {
		return 0
	}
	var sum float64
	for _, p := range pnls {
		sum += p
	}
	mean := sum / float64(len(pnls))

	var variance float64
	for _, p := range pnls {
		d := p - mean
		variance += d * d
	}
	variance /= float64(len(pnls))
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}
