package bots

import (
	"context"
	"fmt"
	"math"
	"time"

	"consensusBot/internal/domain"
	"consensusBot/internal/ports"
)

// OrderBookBotConfig holds the tunables of the depth-imbalance bot.
type OrderBookBotConfig struct {
	BuyPressureRatio  float64 // Bid share of total volume that reads as buy pressure, default 0.62
	SellPressureRatio float64 // Bid share below which the book reads as sell pressure, default 0.38
	WallFactor        float64 // A level this many times the average level size is a wall, default 5
	WallBonus         float64 // Score bonus a supporting wall adds, default 1.5
	Logger            ports.Logger
	Now               func() time.Time // Injectable clock, defaults to time.Now
}

// OrderBookBot reads directional pressure out of a depth snapshot: the
// bid/ask volume imbalance sets the base score and large resting orders
// (walls) on the supporting side add conviction.
type OrderBookBot struct {
	cfg    OrderBookBotConfig
	logger ports.Logger
	now    func() time.Time
}

// NewOrderBookBot creates the bot with defaults filled in.
func NewOrderBookBot(cfg OrderBookBotConfig) (*OrderBookBot, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for the order book bot")
	}
	if cfg.BuyPressureRatio <= 0 || cfg.BuyPressureRatio >= 1 {
		cfg.BuyPressureRatio = 0.62
	}
	if cfg.SellPressureRatio <= 0 || cfg.SellPressureRatio >= 1 {
		cfg.SellPressureRatio = 0.38
	}
	if cfg.SellPressureRatio >= cfg.BuyPressureRatio {
		return nil, fmt.Errorf("sell pressure ratio %.2f must be below buy pressure ratio %.2f",
			cfg.SellPressureRatio, cfg.BuyPressureRatio)
	}
	if cfg.WallFactor <= 1 {
		cfg.WallFactor = 5
	}
	if cfg.WallBonus <= 0 {
		cfg.WallBonus = 1.5
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &OrderBookBot{cfg: cfg, logger: cfg.Logger, now: cfg.Now}, nil
}

// Name returns the bot identifier recorded in emitted signals.
func (b *OrderBookBot) Name() string {
	return "order_book"
}

// RequiredDataPoints returns the minimum number of klines the bot needs.
func (b *OrderBookBot) RequiredDataPoints() int {
	return 0
}

// NeedsOrderBook reports whether the bot consumes depth snapshots.
func (b *OrderBookBot) NeedsOrderBook() bool {
	return true
}

// Analyze scores the depth snapshot. The bid share of total resting volume
// drives the base score; a wall on the side the imbalance favors adds the
// wall bonus.
func (b *OrderBookBot) Analyze(ctx context.Context, snap *ports.MarketSnapshot) (*domain.SignalEvent, error) {
	if snap == nil || snap.Book == nil {
		return nil, fmt.Errorf("order book bot needs a depth snapshot")
	}
	book := snap.Book
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return nil, fmt.Errorf("depth snapshot for %s has an empty side", book.Symbol)
	}

	bidVolume := book.BidVolume()
	askVolume := book.AskVolume()
	total := bidVolume + askVolume
	if total == 0 {
		return nil, fmt.Errorf("depth snapshot for %s has zero volume", book.Symbol)
	}
	bidRatio := bidVolume / total

	// Base score scales with how far the book leans off balance: 0 at an
	// even book, 9 at a fully one-sided one. The wall bonus can push it
	// into the 10 cap.
	raw := (bidRatio - 0.5) * 18

	bidWall := hasWall(book.Bids, b.cfg.WallFactor)
	askWall := hasWall(book.Asks, b.cfg.WallFactor)
	var wallBonus float64
	if raw > 0 && bidWall {
		// A bid wall under buy pressure is support.
		wallBonus = b.cfg.WallBonus
		raw += wallBonus
	} else if raw < 0 && askWall {
		// An ask wall over sell pressure is resistance.
		wallBonus = b.cfg.WallBonus
		raw -= wallBonus
	}
	raw = clamp(raw, -10, 10)

	direction := domain.Neutral
	if bidRatio >= b.cfg.BuyPressureRatio {
		direction = domain.Buy
	} else if bidRatio <= b.cfg.SellPressureRatio {
		direction = domain.Sell
	}

	price := snap.Price
	if price <= 0 {
		// Mid price between best bid and best ask.
		price = (book.Bids[0].Price + book.Asks[0].Price) / 2
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
			"bid_ratio":  bidRatio,
			"bid_volume": bidVolume,
			"ask_volume": askVolume,
			"wall_bonus": wallBonus,
		},
	}

	b.logger.Debug(ctx, "Order book bot analysis complete", map[string]interface{}{
		"direction": direction,
		"strength":  strength,
		"bidRatio":  bidRatio,
	})
	return sig, nil
}

// hasWall reports whether any level holds at least factor times the average
// level quantity on its side.
func hasWall(levels []domain.PriceLevel, factor float64) bool {
	if len(levels) < 2 {
		return false
	}
	var sum float64
	for _, l := range levels {
		sum += l.Quantity
	}
	avg := sum / float64(len(levels))
	if avg == 0 {
		return false
	}
	for _, l := range levels {
		if l.Quantity >= avg*factor {
			return true
		}
	}
	return false
}
