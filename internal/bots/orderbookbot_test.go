package bots

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consensusBot/internal/domain"
	"consensusBot/internal/ports"
)

func newTestOrderBookBot(t *testing.T) *OrderBookBot {
	t.Helper()
	bot, err := NewOrderBookBot(OrderBookBotConfig{
		Logger: &mockLogger{},
		Now:    fixedClock(),
	})
	require.NoError(t, err)
	return bot
}

func evenLevels(price float64, qty float64, n int, down bool) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, n)
	for i := range levels {
		p := price + float64(i)*0.1
		if down {
			p = price - float64(i)*0.1
		}
		levels[i] = domain.PriceLevel{Price: p, Quantity: qty}
	}
	return levels
}

func bookSnapshot(bidQty, askQty float64) *ports.MarketSnapshot {
	return &ports.MarketSnapshot{
		Book: &domain.OrderBook{
			Symbol: "SOLUSDT",
			Bids:   evenLevels(150.0, bidQty, 10, true),
			Asks:   evenLevels(150.1, askQty, 10, false),
		},
	}
}

func TestNewOrderBookBot_Validation(t *testing.T) {
	_, err := NewOrderBookBot(OrderBookBotConfig{})
	assert.Error(t, err)

	_, err = NewOrderBookBot(OrderBookBotConfig{
		Logger:            &mockLogger{},
		BuyPressureRatio:  0.4,
		SellPressureRatio: 0.6,
	})
	assert.Error(t, err, "inverted pressure ratios must be rejected")
}

func TestOrderBookBot_Identity(t *testing.T) {
	bot := newTestOrderBookBot(t)
	assert.Equal(t, "order_book", bot.Name())
	assert.True(t, bot.NeedsOrderBook())
	assert.Equal(t, 0, bot.RequiredDataPoints())
}

func TestOrderBookBot_BuyPressure(t *testing.T) {
	bot := newTestOrderBookBot(t)

	// 80% of resting volume on the bid side.
	sig, err := bot.Analyze(context.Background(), bookSnapshot(40, 10))
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, domain.Buy, sig.Direction)
	assert.InDelta(t, 0.8, sig.Attributes["bid_ratio"], 1e-9)
	// (0.8 - 0.5) * 18 = 5.4, no wall on an even book.
	assert.InDelta(t, 5.4, sig.Strength, 1e-9)
	assert.InDelta(t, 0.54, sig.Confidence, 1e-9)
	assert.NoError(t, sig.Validate())
}

func TestOrderBookBot_SellPressure(t *testing.T) {
	bot := newTestOrderBookBot(t)

	sig, err := bot.Analyze(context.Background(), bookSnapshot(10, 40))
	require.NoError(t, err)
	assert.Equal(t, domain.Sell, sig.Direction)
	assert.InDelta(t, 0.2, sig.Attributes["bid_ratio"], 1e-9)
	assert.InDelta(t, 5.4, sig.Strength, 1e-9)
}

func TestOrderBookBot_BalancedBookIsNeutral(t *testing.T) {
	bot := newTestOrderBookBot(t)

	sig, err := bot.Analyze(context.Background(), bookSnapshot(25, 25))
	require.NoError(t, err)
	assert.Equal(t, domain.Neutral, sig.Direction)
	assert.Equal(t, 0.0, sig.Strength)
}

func TestOrderBookBot_WallBonus(t *testing.T) {
	bot := newTestOrderBookBot(t)

	// Bid-heavy book with one bid level ten times the average.
	snap := bookSnapshot(40, 10)
	snap.Book.Bids[3].Quantity = 400

	sig, err := bot.Analyze(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, domain.Buy, sig.Direction)
	assert.Equal(t, 1.5, sig.Attributes["wall_bonus"])

	// Base from the (now more extreme) imbalance plus the wall bonus.
	base := (sig.Attributes["bid_ratio"] - 0.5) * 18
	assert.InDelta(t, base+1.5, sig.Strength, 1e-9)
}

func TestOrderBookBot_OpposingWallAddsNothing(t *testing.T) {
	bot := newTestOrderBookBot(t)

	// Bid-heavy book with an ask wall: resistance against the pressure
	// direction earns no bonus.
	snap := bookSnapshot(40, 10)
	snap.Book.Asks[2].Quantity = 100

	sig, err := bot.Analyze(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, 0.0, sig.Attributes["wall_bonus"])
}

func TestOrderBookBot_StrengthCapped(t *testing.T) {
	bot := newTestOrderBookBot(t)

	// Nearly one-sided book plus a wall pushes past the cap.
	snap := bookSnapshot(1000, 1)
	snap.Book.Bids[0].Quantity = 50000

	sig, err := bot.Analyze(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, 10.0, sig.Strength)
	assert.Equal(t, 1.0, sig.Confidence)
	assert.NoError(t, sig.Validate())
}

func TestOrderBookBot_MidPriceFallback(t *testing.T) {
	bot := newTestOrderBookBot(t)

	sig, err := bot.Analyze(context.Background(), bookSnapshot(40, 10))
	require.NoError(t, err)
	assert.InDelta(t, 150.05, sig.Price, 1e-9)

	snap := bookSnapshot(40, 10)
	snap.Price = 151.0
	sig, err = bot.Analyze(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, 151.0, sig.Price)
}

func TestOrderBookBot_RejectsBadSnapshots(t *testing.T) {
	bot := newTestOrderBookBot(t)

	_, err := bot.Analyze(context.Background(), nil)
	assert.Error(t, err)

	_, err = bot.Analyze(context.Background(), &ports.MarketSnapshot{})
	assert.Error(t, err)

	snap := bookSnapshot(10, 10)
	snap.Book.Asks = nil
	_, err = bot.Analyze(context.Background(), snap)
	assert.Error(t, err)
}
