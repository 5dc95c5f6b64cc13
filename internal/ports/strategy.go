package ports

import (
	"context"

	"consensusBot/internal/domain"
)

// MarketSnapshot bundles the market data handed to a bot on each poll cycle.
// Book may be nil for bots that only consume klines.
type MarketSnapshot struct {
	Klines []*domain.Kline
	Book   *domain.OrderBook
	Price  float64 // Latest traded price
}

// SignalBot is a single strategy module producing signal events at its own
// cadence. Implementations are pure over their market-data inputs; the app
// service owns the polling loop and the store append.
type SignalBot interface {
	// Name returns the bot identifier recorded in emitted signals.
	Name() string

	// RequiredDataPoints returns the minimum number of klines the bot needs.
	RequiredDataPoints() int

	// NeedsOrderBook reports whether the bot consumes depth snapshots.
	NeedsOrderBook() bool

	// Analyze inspects the market snapshot and returns a signal event, or
	// nil when the bot has no opinion this cycle.
	Analyze(ctx context.Context, snap *MarketSnapshot) (*domain.SignalEvent, error)
}
