package indicators

import (
	"context"
	"fmt"

	"consensusBot/internal/domain"
)

// MACDConfig holds configuration for the MACD indicator
type MACDConfig struct {
	FastPeriod   int // Typically 12
	SlowPeriod   int // Typically 26
	SignalPeriod int // Typically 9
}

// MACD implements the Moving Average Convergence Divergence indicator
type MACD struct {
	config MACDConfig
}

// NewMACD creates a new MACD indicator instance
func NewMACD(config MACDConfig) *MACD {
	if config.FastPeriod <= 0 {
		config.FastPeriod = 12
	}
	if config.SlowPeriod <= 0 {
		config.SlowPeriod = 26
	}
	if config.SignalPeriod <= 0 {
		config.SignalPeriod = 9
	}
	return &MACD{config: config}
}

// Name returns the name of the indicator
func (m *MACD) Name() string {
	return "MACD"
}

// RequiredDataPoints returns the minimum number of klines needed for calculation
func (m *MACD) RequiredDataPoints() int {
	return m.config.SlowPeriod + m.config.SignalPeriod
}

// Calculate computes the MACD histogram for the last kline
func (m *MACD) Calculate(ctx context.Context, klines []*domain.Kline) (float64, error) {
	_, _, histogram, err := m.Values(ctx, klines)
	return histogram, err
}

// Values computes the MACD line, signal line and histogram for the last kline
func (m *MACD) Values(ctx context.Context, klines []*domain.Kline) (macdLine, signalLine, histogram float64, err error) {
	needed := m.RequiredDataPoints()
	if len(klines) < needed {
		return 0, 0, 0, fmt.Errorf("not enough data (%d) to calculate MACD, need %d", len(klines), needed)
	}

	closes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
	}

	fast := emaSeries(closes, m.config.FastPeriod)
	slow := emaSeries(closes, m.config.SlowPeriod)

	// MACD line exists from the first slow-EMA value onward.
	offset := m.config.SlowPeriod - 1
	macdSeries := make([]float64, len(closes)-offset)
	for i := range macdSeries {
		macdSeries[i] = fast[offset+i] - slow[offset+i]
	}

	signalSeries := emaSeries(macdSeries, m.config.SignalPeriod)

	macdLine = macdSeries[len(macdSeries)-1]
	signalLine = signalSeries[len(signalSeries)-1]
	histogram = macdLine - signalLine
	return macdLine, signalLine, histogram, nil
}

// emaSeries returns the EMA at every index. Indexes before period-1 hold the
// running simple average as seed values.
func emaSeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}

	multiplier := 2.0 / float64(period+1)
	var sum float64
	for i, v := range values {
		if i < period {
			sum += v
			out[i] = sum / float64(i+1)
			continue
		}
		out[i] = (v-out[i-1])*multiplier + out[i-1]
	}
	return out
}
