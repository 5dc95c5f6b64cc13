package bots

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"consensusBot/internal/domain"
	"consensusBot/internal/ports"
)

// BreakoutBotConfig holds the tunables of the support/resistance breakout bot.
type BreakoutBotConfig struct {
	Lookback             int     // Klines scanned for levels, default 50
	PivotWindow          int     // Bars on each side a pivot must dominate, default 3
	MinTouches           int     // Touches a level needs to count, default 2
	ClusterTolerancePct  float64 // Pivots this close merge into one level, default 0.5
	BreakoutThresholdPct float64 // Close must clear the level by this much, default 0.15
	VolumeLookback       int     // Bars for the average volume, default 20
	VolumeMultiplier     float64 // Volume ratio that confirms a breakout, default 1.5
	MaxLevels            int     // Strongest levels kept per side, default 5
	MinStrength          float64 // Emission gate, default 5.0
	MinConfidence        float64 // Emission gate, default 0.6
	Logger               ports.Logger
	Now                  func() time.Time // Injectable clock, defaults to time.Now
}

// srLevel is one clustered support or resistance level.
type srLevel struct {
	price   float64
	touches int
}

// breakoutCandidate is a level the latest close broke through.
type breakoutCandidate struct {
	direction       domain.Direction
	level           srLevel
	distancePct     float64
	volumeConfirmed bool
}

// BreakoutBot detects support/resistance breaks: pivot highs and lows are
// clustered into levels, and a close clearing a level by the breakout
// threshold emits a signal, scored by level strength, volume confirmation
// and breakout distance.
type BreakoutBot struct {
	cfg    BreakoutBotConfig
	logger ports.Logger
	now    func() time.Time
}

// NewBreakoutBot creates the bot with defaults filled in.
func NewBreakoutBot(cfg BreakoutBotConfig) (*BreakoutBot, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for the breakout bot")
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 50
	}
	if cfg.PivotWindow <= 0 {
		cfg.PivotWindow = 3
	}
	if cfg.Lookback < cfg.PivotWindow*2+2 {
		return nil, fmt.Errorf("lookback %d too small for pivot window %d", cfg.Lookback, cfg.PivotWindow)
	}
	if cfg.MinTouches <= 0 {
		cfg.MinTouches = 2
	}
	if cfg.ClusterTolerancePct <= 0 {
		cfg.ClusterTolerancePct = 0.5
	}
	if cfg.BreakoutThresholdPct <= 0 {
		cfg.BreakoutThresholdPct = 0.15
	}
	if cfg.VolumeLookback <= 0 {
		cfg.VolumeLookback = 20
	}
	if cfg.VolumeMultiplier <= 0 {
		cfg.VolumeMultiplier = 1.5
	}
	if cfg.MaxLevels <= 0 {
		cfg.MaxLevels = 5
	}
	if cfg.MinStrength <= 0 {
		cfg.MinStrength = 5.0
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.6
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &BreakoutBot{cfg: cfg, logger: cfg.Logger, now: cfg.Now}, nil
}

// Name returns the bot identifier recorded in emitted signals.
func (b *BreakoutBot) Name() string {
	return "breakout"
}

// RequiredDataPoints returns the minimum number of klines the bot needs.
func (b *BreakoutBot) RequiredDataPoints() int {
	return b.cfg.Lookback
}

// NeedsOrderBook reports whether the bot consumes depth snapshots.
func (b *BreakoutBot) NeedsOrderBook() bool {
	return false
}

// Analyze scans the lookback window for level breaks. It returns nil on most
// cycles; a signal means a level was actually broken.
func (b *BreakoutBot) Analyze(ctx context.Context, snap *ports.MarketSnapshot) (*domain.SignalEvent, error) {
	if snap == nil || len(snap.Klines) < b.cfg.Lookback {
		return nil, fmt.Errorf("breakout bot needs %d klines", b.cfg.Lookback)
	}
	klines := snap.Klines[len(snap.Klines)-b.cfg.Lookback:]

	resistance, support := b.findLevels(klines)
	if len(resistance) == 0 && len(support) == 0 {
		return nil, nil
	}

	candidates := b.detectBreakouts(klines, resistance, support)
	if len(candidates) == 0 {
		return nil, nil
	}

	allLevels := append(append([]srLevel{}, resistance...), support...)
	var best *domain.SignalEvent
	var bestScore float64
	for _, cand := range candidates {
		strength := b.candidateStrength(cand)
		confidence := b.candidateConfidence(cand, allLevels)
		if strength < b.cfg.MinStrength || confidence < b.cfg.MinConfidence {
			continue
		}
		if score := strength * confidence; score > bestScore {
			bestScore = score
			best = b.buildSignal(klines, cand, strength, confidence)
		}
	}
	if best == nil {
		return nil, nil
	}

	b.logger.Debug(ctx, "Breakout detected", map[string]interface{}{
		"direction": best.Direction,
		"strength":  best.Strength,
		"level":     best.Attributes["level"],
	})
	return best, nil
}

// findLevels clusters pivot highs and lows into the strongest levels.
func (b *BreakoutBot) findLevels(klines []*domain.Kline) (resistance, support []srLevel) {
	w := b.cfg.PivotWindow
	var pivotHighs, pivotLows []float64

	for i := w; i < len(klines)-w; i++ {
		isHigh, isLow := true, true
		for j := i - w; j <= i+w; j++ {
			if j == i {
				continue
			}
			if klines[j].High >= klines[i].High {
				isHigh = false
			}
			if klines[j].Low <= klines[i].Low {
				isLow = false
			}
		}
		if isHigh {
			pivotHighs = append(pivotHighs, klines[i].High)
		}
		if isLow {
			pivotLows = append(pivotLows, klines[i].Low)
		}
	}

	return b.clusterPivots(pivotHighs), b.clusterPivots(pivotLows)
}

// clusterPivots merges pivots within the cluster tolerance into levels and
// keeps the most-touched ones.
func (b *BreakoutBot) clusterPivots(pivots []float64) []srLevel {
	used := make([]bool, len(pivots))
	var levels []srLevel

	for i, p := range pivots {
		if used[i] {
			continue
		}
		used[i] = true
		sum, count := p, 1
		for j := i + 1; j < len(pivots); j++ {
			if used[j] {
				continue
			}
			if math.Abs(p-pivots[j])/p*100 <= b.cfg.ClusterTolerancePct {
				used[j] = true
				sum += pivots[j]
				count++
			}
		}
		if count >= b.cfg.MinTouches {
			levels = append(levels, srLevel{price: sum / float64(count), touches: count})
		}
	}

	sort.Slice(levels, func(i, j int) bool { return levels[i].touches > levels[j].touches })
	if len(levels) > b.cfg.MaxLevels {
		levels = levels[:b.cfg.MaxLevels]
	}
	return levels
}

// detectBreakouts checks the latest candle against every level: the previous
// close must sit on the inner side and the current close must clear the level
// by the breakout threshold.
func (b *BreakoutBot) detectBreakouts(klines []*domain.Kline, resistance, support []srLevel) []breakoutCandidate {
	curr := klines[len(klines)-1]
	prev := klines[len(klines)-2]
	volumeConfirmed := b.volumeConfirmed(klines)

	var candidates []breakoutCandidate
	for _, level := range resistance {
		if prev.Close <= level.price &&
			curr.High > level.price &&
			curr.Close > level.price*(1+b.cfg.BreakoutThresholdPct/100) {
			candidates = append(candidates, breakoutCandidate{
				direction:       domain.Buy,
				level:           level,
				distancePct:     (curr.Close - level.price) / level.price * 100,
				volumeConfirmed: volumeConfirmed,
			})
		}
	}
	for _, level := range support {
		if prev.Close >= level.price &&
			curr.Low < level.price &&
			curr.Close < level.price*(1-b.cfg.BreakoutThresholdPct/100) {
			candidates = append(candidates, breakoutCandidate{
				direction:       domain.Sell,
				level:           level,
				distancePct:     (level.price - curr.Close) / level.price * 100,
				volumeConfirmed: volumeConfirmed,
			})
		}
	}
	return candidates
}

// volumeConfirmed reports whether the breakout candle's volume clears the
// lookback average by the configured multiplier.
func (b *BreakoutBot) volumeConfirmed(klines []*domain.Kline) bool {
	lookback := b.cfg.VolumeLookback
	if lookback > len(klines) {
		lookback = len(klines)
	}
	var sum float64
	for _, k := range klines[len(klines)-lookback:] {
		sum += k.Volume
	}
	avg := sum / float64(lookback)
	if avg == 0 {
		return false
	}
	return klines[len(klines)-1].Volume >= avg*b.cfg.VolumeMultiplier
}

// candidateStrength scores a breakout: base 5 plus level touches, volume
// confirmation and breakout distance, capped at 10.
func (b *BreakoutBot) candidateStrength(cand breakoutCandidate) float64 {
	strength := 5.0
	strength += math.Min(3.0, float64(cand.level.touches)*0.5)
	if cand.volumeConfirmed {
		strength += 2.0
	}
	strength += math.Min(2.0, cand.distancePct*2)
	return math.Min(10.0, strength)
}

// candidateConfidence scores conviction: base 0.6 plus level strength, volume
// confirmation and confluence with nearby levels, capped at 1.
func (b *BreakoutBot) candidateConfidence(cand breakoutCandidate, allLevels []srLevel) float64 {
	confidence := 0.6
	confidence += math.Min(0.3, float64(cand.level.touches)*0.1)
	if cand.volumeConfirmed {
		confidence += 0.2
	}
	nearby := 0
	for _, level := range allLevels {
		if math.Abs(level.price-cand.level.price)/cand.level.price*100 < 1.0 {
			nearby++
		}
	}
	confidence += math.Min(0.2, float64(nearby)*0.1)
	return math.Min(1.0, confidence)
}

func (b *BreakoutBot) buildSignal(klines []*domain.Kline, cand breakoutCandidate, strength, confidence float64) *domain.SignalEvent {
	curr := klines[len(klines)-1]
	volumeBonus := 0.0
	if cand.volumeConfirmed {
		volumeBonus = 1.0
	}
	return &domain.SignalEvent{
		BotID:      b.Name(),
		Direction:  cand.direction,
		Strength:   strength,
		Confidence: confidence,
		Price:      curr.Close,
		Timestamp:  b.now(),
		Attributes: map[string]float64{
			"level":            cand.level.price,
			"touches":          float64(cand.level.touches),
			"distance_pct":     cand.distancePct,
			"volume_confirmed": volumeBonus,
		},
	}
}
