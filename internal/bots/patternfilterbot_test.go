package bots

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consensusBot/internal/domain"
	"consensusBot/internal/ports"
)

func newTestPatternFilterBot(t *testing.T) *PatternFilterBot {
	t.Helper()
	bot, err := NewPatternFilterBot(PatternFilterBotConfig{
		Logger: &mockLogger{},
		Now:    fixedClock(),
	})
	require.NoError(t, err)
	return bot
}

// trendBars builds green candles walking the close by step per bar.
func trendBars(n int, start, step float64) []bar {
	bars := make([]bar, n)
	for i := range bars {
		c := start + step*float64(i)
		bars[i] = bar{open: c - 0.05, high: c + 0.05, low: c - 0.10, close: c, volume: 10}
	}
	return bars
}

func TestNewPatternFilterBot_Validation(t *testing.T) {
	_, err := NewPatternFilterBot(PatternFilterBotConfig{})
	assert.Error(t, err)

	_, err = NewPatternFilterBot(PatternFilterBotConfig{Logger: &mockLogger{}, Window: 2})
	assert.Error(t, err, "two klines are not enough for pattern detection")
}

func TestPatternFilterBot_Identity(t *testing.T) {
	bot := newTestPatternFilterBot(t)
	assert.Equal(t, "pattern_filter", bot.Name())
	assert.False(t, bot.NeedsOrderBook())
	assert.Equal(t, 20, bot.RequiredDataPoints())
}

func TestPatternFilterBot_InsufficientData(t *testing.T) {
	bot := newTestPatternFilterBot(t)
	_, err := bot.Analyze(context.Background(), &ports.MarketSnapshot{Klines: barsToKlines(trendBars(5, 100, 0.1))})
	assert.Error(t, err)

	_, err = bot.Analyze(context.Background(), nil)
	assert.Error(t, err)
}

func TestPatternFilterBot_HammerInUptrend(t *testing.T) {
	bot := newTestPatternFilterBot(t)

	bars := trendBars(20, 100, 0.1)
	// Hammer: small body near the top, long lower shadow, closing green.
	bars[19] = bar{open: 101.9, high: 102.4, low: 100.0, close: 102.3, volume: 10}

	sig, err := bot.Analyze(context.Background(), &ports.MarketSnapshot{Klines: barsToKlines(bars)})
	require.NoError(t, err)
	require.NotNil(t, sig)
	require.NoError(t, sig.Validate())

	assert.Equal(t, domain.Buy, sig.Direction)
	assert.Equal(t, 102.3, sig.Price)
	assert.InDelta(t, 7.0, sig.Strength, 1e-9)
	assert.InDelta(t, 0.7, sig.Attributes["pattern_score"], 1e-9)
	assert.Greater(t, sig.Attributes["trend_strength"], 0.9)
	assert.GreaterOrEqual(t, sig.Confidence, 0.6)
}

func TestPatternFilterBot_BearishEngulfingInDowntrend(t *testing.T) {
	bot := newTestPatternFilterBot(t)

	bars := make([]bar, 20)
	for i := range bars {
		c := 102.0 - 0.1*float64(i)
		bars[i] = bar{open: c + 0.05, high: c + 0.10, low: c - 0.05, close: c, volume: 10}
	}
	// A small green bounce fully engulfed by the next red candle.
	bars[18] = bar{open: 100.15, high: 100.25, low: 100.1, close: 100.2, volume: 10}
	bars[19] = bar{open: 100.1, high: 100.15, low: 99.55, close: 99.6, volume: 10}

	sig, err := bot.Analyze(context.Background(), &ports.MarketSnapshot{Klines: barsToKlines(bars)})
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, domain.Sell, sig.Direction)
	assert.InDelta(t, 8.0, sig.Strength, 1e-9)
	assert.InDelta(t, 0.8, sig.Attributes["pattern_score"], 1e-9)
}

func TestPatternFilterBot_CounterTrendPatternFiltered(t *testing.T) {
	bot := newTestPatternFilterBot(t)

	bars := make([]bar, 20)
	for i := range bars {
		c := 102.0 - 0.1*float64(i)
		bars[i] = bar{open: c + 0.05, high: c + 0.10, low: c - 0.05, close: c, volume: 10}
	}
	// A hammer against a confirmed downtrend must not emit a buy.
	bars[19] = bar{open: 100.0, high: 100.35, low: 98.5, close: 100.3, volume: 10}

	sig, err := bot.Analyze(context.Background(), &ports.MarketSnapshot{Klines: barsToKlines(bars)})
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestPatternFilterBot_NoPatternNoSignal(t *testing.T) {
	bot := newTestPatternFilterBot(t)

	bars := make([]bar, 20)
	for i := range bars {
		bars[i] = bar{open: 100, high: 100.1, low: 100.0, close: 100.05, volume: 10}
	}
	sig, err := bot.Analyze(context.Background(), &ports.MarketSnapshot{Klines: barsToKlines(bars)})
	require.NoError(t, err)
	assert.Nil(t, sig, "featureless candles carry no formation to act on")
}
