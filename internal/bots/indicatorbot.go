package bots

import (
	"context"
	"fmt"
	"math"
	"time"

	"consensusBot/internal/domain"
	"consensusBot/internal/indicators"
	"consensusBot/internal/ports"
)

// IndicatorBotConfig holds the tunables of the multi-indicator bot.
type IndicatorBotConfig struct {
	RSIPeriod        int     // Default 14
	RSIOverbought    float64 // Default 70
	RSIOversold      float64 // Default 30
	FastSMAPeriod    int     // Default 10
	SlowSMAPeriod    int     // Default 30
	BollingerPeriod  int     // Default 20
	MACDFast         int     // Default 12
	MACDSlow         int     // Default 26
	MACDSignal       int     // Default 9
	ATRPeriod        int     // Default 14
	VolumeLookback   int     // Default 20
	VolumeSupportMin float64 // Volume ratio that counts as supporting, default 1.2
	NeutralBand      float64 // Raw scores inside [-band, band] emit Neutral, default 1.5
	Logger           ports.Logger
	Now              func() time.Time // Injectable clock, defaults to time.Now
}

// IndicatorBot combines RSI, SMA alignment, Bollinger position, MACD momentum
// and volume support into one directional score. Each component contributes a
// bounded slice of the raw score, which sums to at most 10 in magnitude:
// RSI 3, SMA 2, Bollinger 2, MACD 1.5, volume 1.5.
type IndicatorBot struct {
	cfg       IndicatorBotConfig
	rsi       *indicators.RSI
	fastSMA   *indicators.MovingAverage
	slowSMA   *indicators.MovingAverage
	bollinger *indicators.BollingerBands
	macd      *indicators.MACD
	atr       *indicators.ATR
	logger    ports.Logger
	now       func() time.Time
}

// NewIndicatorBot creates the bot with defaults filled in.
func NewIndicatorBot(cfg IndicatorBotConfig) (*IndicatorBot, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for the indicator bot")
	}
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = 14
	}
	if cfg.RSIOverbought == 0 {
		cfg.RSIOverbought = 70
	}
	if cfg.RSIOversold == 0 {
		cfg.RSIOversold = 30
	}
	if cfg.FastSMAPeriod <= 0 {
		cfg.FastSMAPeriod = 10
	}
	if cfg.SlowSMAPeriod <= 0 {
		cfg.SlowSMAPeriod = 30
	}
	if cfg.BollingerPeriod <= 0 {
		cfg.BollingerPeriod = 20
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = 14
	}
	if cfg.VolumeLookback <= 0 {
		cfg.VolumeLookback = 20
	}
	if cfg.VolumeSupportMin <= 0 {
		cfg.VolumeSupportMin = 1.2
	}
	if cfg.NeutralBand <= 0 {
		cfg.NeutralBand = 1.5
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &IndicatorBot{
		cfg: cfg,
		rsi: indicators.NewRSI(indicators.RSIConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.RSIPeriod},
			Overbought:      cfg.RSIOverbought,
			Oversold:        cfg.RSIOversold,
		}),
		fastSMA: indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.FastSMAPeriod},
			Type:            indicators.SimpleMovingAverage,
		}),
		slowSMA: indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.SlowSMAPeriod},
			Type:            indicators.SimpleMovingAverage,
		}),
		bollinger: indicators.NewBollingerBands(indicators.BollingerConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.BollingerPeriod},
		}),
		macd: indicators.NewMACD(indicators.MACDConfig{
			FastPeriod:   cfg.MACDFast,
			SlowPeriod:   cfg.MACDSlow,
			SignalPeriod: cfg.MACDSignal,
		}),
		atr: indicators.NewATR(indicators.ATRConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.ATRPeriod},
		}),
		logger: cfg.Logger,
		now:    cfg.Now,
	}, nil
}

// Name returns the bot identifier recorded in emitted signals.
func (b *IndicatorBot) Name() string {
	return "smart_indicator"
}

// RequiredDataPoints returns the minimum number of klines the bot needs.
func (b *IndicatorBot) RequiredDataPoints() int {
	needed := b.cfg.SlowSMAPeriod
	if m := b.macd.RequiredDataPoints(); m > needed {
		needed = m
	}
	if b.cfg.RSIPeriod+1 > needed {
		needed = b.cfg.RSIPeriod + 1
	}
	if b.cfg.ATRPeriod+1 > needed {
		needed = b.cfg.ATRPeriod + 1
	}
	return needed
}

// NeedsOrderBook reports whether the bot consumes depth snapshots.
func (b *IndicatorBot) NeedsOrderBook() bool {
	return false
}

// Analyze scores the snapshot and emits a signal. The raw score is signed;
// its sign picks the direction, its magnitude becomes strength, and
// confidence is magnitude/10.
func (b *IndicatorBot) Analyze(ctx context.Context, snap *ports.MarketSnapshot) (*domain.SignalEvent, error) {
	if snap == nil || len(snap.Klines) < b.RequiredDataPoints() {
		return nil, fmt.Errorf("indicator bot needs %d klines", b.RequiredDataPoints())
	}
	klines := snap.Klines

	rsiValue, err := b.rsi.Calculate(ctx, klines)
	if err != nil {
		return nil, fmt.Errorf("rsi: %w", err)
	}
	fast, err := b.fastSMA.Calculate(ctx, klines)
	if err != nil {
		return nil, fmt.Errorf("fast sma: %w", err)
	}
	slow, err := b.slowSMA.Calculate(ctx, klines)
	if err != nil {
		return nil, fmt.Errorf("slow sma: %w", err)
	}
	pctB, err := b.bollinger.Calculate(ctx, klines)
	if err != nil {
		return nil, fmt.Errorf("bollinger: %w", err)
	}
	_, _, histogram, err := b.macd.Values(ctx, klines)
	if err != nil {
		return nil, fmt.Errorf("macd: %w", err)
	}
	atrValue, err := b.atr.Calculate(ctx, klines)
	if err != nil {
		return nil, fmt.Errorf("atr: %w", err)
	}

	price := snap.Price
	if price <= 0 {
		price = klines[len(klines)-1].Close
	}

	// ATR normalized against price gives a 0..1 volatility reading. It is
	// recorded for downstream segmentation, not scored directly.
	volatility := atrValue / price * 100
	if volatility > 1 {
		volatility = 1
	}

	// RSI contributes up to 3 points, centered on 50.
	rsiScore := (50 - rsiValue) / 50 * 3

	// SMA alignment contributes 2 when price and both averages line up.
	var smaAlignment float64
	switch {
	case price > fast && fast > slow:
		smaAlignment = 1
	case price < fast && fast < slow:
		smaAlignment = -1
	}
	smaScore := smaAlignment * 2

	// Bollinger position contributes up to 2, positive near the lower band.
	bbScore := clamp((0.5-pctB)*4, -2, 2)

	// MACD momentum contributes 1.5 by histogram sign.
	var macdScore float64
	if histogram > 0 {
		macdScore = 1.5
	} else if histogram < 0 {
		macdScore = -1.5
	}

	raw := rsiScore + smaScore + bbScore + macdScore

	// Volume backs the move: above-average volume amplifies the score in
	// its current direction by up to 1.5.
	volumeRatio := b.volumeRatio(klines)
	if volumeRatio >= b.cfg.VolumeSupportMin && raw != 0 {
		raw += math.Copysign(1.5, raw)
	}
	raw = clamp(raw, -10, 10)

	direction := domain.Neutral
	if raw > b.cfg.NeutralBand {
		direction = domain.Buy
	} else if raw < -b.cfg.NeutralBand {
		direction = domain.Sell
	}

	strength := math.Abs(raw)
	sig := &domain.SignalEvent{
		BotID:      b.Name(),
		Direction:  direction,
		Strength:   strength,
		Confidence: strength / 10,
		Price:      price,
		Timestamp:  b.now(),
		Attributes: map[string]float64{
			"rsi":           rsiValue,
			"sma_alignment": smaAlignment,
			"bb_position":   pctB,
			"macd_hist":     histogram,
			"volatility":    volatility,
			"volume_ratio":  volumeRatio,
			"raw_score":     raw,
		},
	}

	b.logger.Debug(ctx, "Indicator bot analysis complete", map[string]interface{}{
		"direction": direction,
		"strength":  strength,
		"rsi":       rsiValue,
		"rawScore":  raw,
	})
	return sig, nil
}

// volumeRatio compares the latest volume against the lookback average.
func (b *IndicatorBot) volumeRatio(klines []*domain.Kline) float64 {
	lookback := b.cfg.VolumeLookback
	if len(klines) < lookback+1 {
		lookback = len(klines) - 1
	}
	if lookback <= 0 {
		return 1
	}

	var sum float64
	for _, k := range klines[len(klines)-1-lookback : len(klines)-1] {
		sum += k.Volume
	}
	avg := sum / float64(lookback)
	if avg == 0 {
		return 1
	}
	return klines[len(klines)-1].Volume / avg
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
