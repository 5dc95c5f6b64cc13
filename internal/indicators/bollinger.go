package indicators

import (
	"context"
	"fmt"
	"math"

	"consensusBot/internal/domain"
)

// BollingerConfig holds configuration for the Bollinger Bands indicator
type BollingerConfig struct {
	IndicatorConfig
	StdDevMultiplier float64 // Band width in standard deviations (typically 2)
}

// BollingerBands implements the Bollinger Bands indicator
type BollingerBands struct {
	BaseIndicator
	config BollingerConfig
}

// NewBollingerBands creates a new Bollinger Bands indicator instance
func NewBollingerBands(config BollingerConfig) *BollingerBands {
	if config.StdDevMultiplier <= 0 {
		config.StdDevMultiplier = 2.0
	}
	return &BollingerBands{
		BaseIndicator: BaseIndicator{Config: config.IndicatorConfig},
		config:        config,
	}
}

// Name returns the name of the indicator
func (b *BollingerBands) Name() string {
	return "BollingerBands"
}

// Calculate computes %B: the position of the last close within the bands,
// 0 at the lower band and 1 at the upper band. Values outside [0,1] mean the
// price closed outside the bands.
func (b *BollingerBands) Calculate(ctx context.Context, klines []*domain.Kline) (float64, error) {
	upper, _, lower, err := b.Bands(ctx, klines)
	if err != nil {
		return 0, err
	}
	width := upper - lower
	if width == 0 {
		return 0.5, nil // Flat market, price sits on the middle band
	}
	last := klines[len(klines)-1].Close
	return (last - lower) / width, nil
}

// Bands computes the upper, middle and lower band values for the last close.
func (b *BollingerBands) Bands(ctx context.Context, klines []*domain.Kline) (upper, middle, lower float64, err error) {
	period := b.Config.Period
	if len(klines) < period {
		return 0, 0, 0, fmt.Errorf("not enough data (%d) to calculate Bollinger Bands for period %d", len(klines), period)
	}

	window := klines[len(klines)-period:]
	var sum float64
	for _, k := range window {
		sum += k.Close
	}
	middle = sum / float64(period)

	var variance float64
	for _, k := range window {
		d := k.Close - middle
		variance += d * d
	}
	stdDev := math.Sqrt(variance / float64(period))

	upper = middle + b.config.StdDevMultiplier*stdDev
	lower = middle - b.config.StdDevMultiplier*stdDev
	return upper, middle, lower, nil
}
