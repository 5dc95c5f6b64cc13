package bots

import (
	"context"
	"fmt"
	"math"
	"time"

	"consensusBot/internal/domain"
	"consensusBot/internal/ports"
)

// PatternFilterBotConfig holds the tunables of the candlestick pattern bot.
type PatternFilterBotConfig struct {
	Window               int     // Klines considered, default 20
	MinPatternConfidence float64 // Emission gate, default 0.5
	MinVolumeRatio       float64 // Volume ratio counting as high volume, default 1.0
	MinTrendStrength     float64 // |r| below this reads as sideways, default 0.4
	SRProximityPct       float64 // Distance to support/resistance that adds conviction, default 2.0
	VolumeLookback       int     // Bars for the average volume, default 10
	Logger               ports.Logger
	Now                  func() time.Time // Injectable clock, defaults to time.Now
}

// candlePattern is one recognized candlestick formation on the latest bars.
type candlePattern struct {
	name     string
	bias     domain.Direction
	strength float64
}

// PatternFilterBot reads candlestick formations off the latest candle pair
// (doji, hammer, shooting star, engulfing), checks them against the window's
// trend and proximity to support/resistance, and emits a signal when the
// combined confidence clears the gate. Patterns against the trend are
// filtered out rather than emitted weakly.
type PatternFilterBot struct {
	cfg    PatternFilterBotConfig
	logger ports.Logger
	now    func() time.Time
}

// NewPatternFilterBot creates the bot with defaults filled in.
func NewPatternFilterBot(cfg PatternFilterBotConfig) (*PatternFilterBot, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for the pattern filter bot")
	}
	if cfg.Window <= 0 {
		cfg.Window = 20
	}
	if cfg.Window < 3 {
		return nil, fmt.Errorf("window %d too small for pattern detection", cfg.Window)
	}
	if cfg.MinPatternConfidence <= 0 {
		cfg.MinPatternConfidence = 0.5
	}
	if cfg.MinVolumeRatio <= 0 {
		cfg.MinVolumeRatio = 1.0
	}
	if cfg.MinTrendStrength <= 0 {
		cfg.MinTrendStrength = 0.4
	}
	if cfg.SRProximityPct <= 0 {
		cfg.SRProximityPct = 2.0
	}
	if cfg.VolumeLookback <= 0 {
		cfg.VolumeLookback = 10
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &PatternFilterBot{cfg: cfg, logger: cfg.Logger, now: cfg.Now}, nil
}

// Name returns the bot identifier recorded in emitted signals.
func (b *PatternFilterBot) Name() string {
	return "pattern_filter"
}

// RequiredDataPoints returns the minimum number of klines the bot needs.
func (b *PatternFilterBot) RequiredDataPoints() int {
	return b.cfg.Window
}

// NeedsOrderBook reports whether the bot consumes depth snapshots.
func (b *PatternFilterBot) NeedsOrderBook() bool {
	return false
}

// Analyze runs pattern recognition over the window. It returns nil when no
// directional pattern survives the trend filter and the confidence gate.
func (b *PatternFilterBot) Analyze(ctx context.Context, snap *ports.MarketSnapshot) (*domain.SignalEvent, error) {
	if snap == nil || len(snap.Klines) < b.cfg.Window {
		return nil, fmt.Errorf("pattern filter bot needs %d klines", b.cfg.Window)
	}
	klines := snap.Klines[len(snap.Klines)-b.cfg.Window:]
	curr := klines[len(klines)-1]

	patterns := detectPatterns(curr, klines[len(klines)-2])
	trendDir, trendStrength := b.trend(klines)
	volumeRatio := b.volumeRatio(klines)
	supportDist, resistanceDist := b.levelDistances(klines)

	confidence := b.patternConfidence(patterns, trendStrength, volumeRatio, supportDist, resistanceDist)
	if confidence < b.cfg.MinPatternConfidence {
		return nil, nil
	}

	// The trend filter: a pattern only counts with the trend or in a
	// sideways market, never against a confirmed trend.
	var direction domain.Direction
	var patternScore float64
	if s := biasStrength(patterns, domain.Buy); s > 0 && trendDir != domain.Sell {
		direction = domain.Buy
		patternScore = s
	} else if s := biasStrength(patterns, domain.Sell); s > 0 && trendDir != domain.Buy {
		direction = domain.Sell
		patternScore = s
	} else {
		return nil, nil
	}

	strength := math.Min(10.0, patternScore*10)
	sig := &domain.SignalEvent{
		BotID:      b.Name(),
		Direction:  direction,
		Strength:   strength,
		Confidence: confidence,
		Price:      curr.Close,
		Timestamp:  b.now(),
		Attributes: map[string]float64{
			"pattern_score":       patternScore,
			"trend_strength":      trendStrength,
			"volume_ratio":        volumeRatio,
			"support_distance":    supportDist,
			"resistance_distance": resistanceDist,
		},
	}

	b.logger.Debug(ctx, "Pattern filter bot analysis complete", map[string]interface{}{
		"direction":  direction,
		"strength":   strength,
		"confidence": confidence,
	})
	return sig, nil
}

// detectPatterns recognizes formations on the current candle and its
// predecessor.
func detectPatterns(curr, prev *domain.Kline) []candlePattern {
	var patterns []candlePattern

	body := math.Abs(curr.Close - curr.Open)
	upperShadow := curr.High - math.Max(curr.Open, curr.Close)
	lowerShadow := math.Min(curr.Open, curr.Close) - curr.Low
	fullRange := curr.High - curr.Low
	prevBody := math.Abs(prev.Close - prev.Open)

	if fullRange > 0 && body < fullRange*0.1 {
		patterns = append(patterns, candlePattern{name: "doji", bias: domain.Neutral, strength: 0.5})
	}
	if lowerShadow > body*2 && upperShadow < body*0.5 && curr.Close > curr.Open {
		patterns = append(patterns, candlePattern{name: "hammer", bias: domain.Buy, strength: 0.7})
	}
	if upperShadow > body*2 && lowerShadow < body*0.5 && curr.Close < curr.Open {
		patterns = append(patterns, candlePattern{name: "shooting_star", bias: domain.Sell, strength: 0.7})
	}
	if body > prevBody*1.5 {
		if curr.Close > curr.Open && prev.Close < prev.Open {
			patterns = append(patterns, candlePattern{name: "bullish_engulfing", bias: domain.Buy, strength: 0.8})
		} else if curr.Close < curr.Open && prev.Close > prev.Open {
			patterns = append(patterns, candlePattern{name: "bearish_engulfing", bias: domain.Sell, strength: 0.8})
		}
	}
	return patterns
}

// trend fits a least-squares line through the closes. Correlations below the
// minimum trend strength read as sideways (Neutral).
func (b *PatternFilterBot) trend(klines []*domain.Kline) (domain.Direction, float64) {
	n := float64(len(klines))
	var meanX, meanY float64
	for i, k := range klines {
		meanX += float64(i)
		meanY += k.Close
	}
	meanX /= n
	meanY /= n

	var sxx, syy, sxy float64
	for i, k := range klines {
		dx := float64(i) - meanX
		dy := k.Close - meanY
		sxx += dx * dx
		syy += dy * dy
		sxy += dx * dy
	}
	if sxx == 0 || syy == 0 {
		return domain.Neutral, 0
	}

	r := sxy / math.Sqrt(sxx*syy)
	strength := math.Abs(r)
	if strength < b.cfg.MinTrendStrength {
		return domain.Neutral, strength
	}
	if sxy > 0 {
		return domain.Buy, strength
	}
	return domain.Sell, strength
}

// volumeRatio compares the latest volume against the lookback average.
func (b *PatternFilterBot) volumeRatio(klines []*domain.Kline) float64 {
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
		return 1
	}
	return klines[len(klines)-1].Volume / avg
}

// levelDistances returns the percent distance from the latest close to the
// window's support (lowest low) and resistance (highest high).
func (b *PatternFilterBot) levelDistances(klines []*domain.Kline) (supportDist, resistanceDist float64) {
	support := klines[0].Low
	resistance := klines[0].High
	for _, k := range klines {
		if k.Low < support {
			support = k.Low
		}
		if k.High > resistance {
			resistance = k.High
		}
	}
	price := klines[len(klines)-1].Close
	return (price - support) / price * 100, (resistance - price) / price * 100
}

// patternConfidence averages the contributing factors: pattern strength,
// proximity to a level, trend strength and volume support.
func (b *PatternFilterBot) patternConfidence(patterns []candlePattern, trendStrength, volumeRatio, supportDist, resistanceDist float64) float64 {
	var confidence float64
	var factors int

	if len(patterns) > 0 {
		for _, p := range patterns {
			confidence += p.strength
		}
		factors++
	}
	if supportDist < b.cfg.SRProximityPct || resistanceDist < b.cfg.SRProximityPct {
		confidence += 0.3
		factors++
	}
	if trendStrength >= b.cfg.MinTrendStrength {
		confidence += trendStrength
		factors++
	}
	if volumeRatio > b.cfg.MinVolumeRatio {
		confidence += 0.2
		factors++
	}
	if factors == 0 {
		return 0
	}
	return math.Min(1.0, confidence/float64(factors))
}

// biasStrength sums the strengths of the patterns with the given bias.
func biasStrength(patterns []candlePattern, bias domain.Direction) float64 {
	var sum float64
	for _, p := range patterns {
		if p.bias == bias {
			sum += p.strength
		}
	}
	return sum
}
