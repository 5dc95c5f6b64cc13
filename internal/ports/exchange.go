package ports

import (
	"context"
	"time"

	"consensusBot/internal/domain"
)

// MarketDataClient defines the read-only exchange surface the system needs:
// historical and streaming klines, ticker prices and depth snapshots. Order
// placement is deliberately absent; this system only observes the market.
type MarketDataClient interface {
	// Ping checks the connectivity to the exchange API.
	Ping(ctx context.Context) error

	// GetServerTime retrieves the current server time from the exchange.
	GetServerTime(ctx context.Context) (time.Time, error)

	// GetTickerPrice retrieves the last ticker price for a given symbol.
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)

	// GetKlines retrieves the most recent klines for the given symbol.
	GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error)

	// GetKlinesRange fetches all klines between start and end, paging as needed.
	GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error)

	// GetOrderBook retrieves a depth snapshot with up to limit levels per side.
	GetOrderBook(ctx context.Context, symbol string, limit int) (*domain.OrderBook, error)

	// StreamKlines starts a WebSocket stream for kline data.
	// It takes handlers for processing domain.Kline events and errors.
	// Returns channels to control the stream (doneCh, stopCh) or an error if connection fails.
	StreamKlines(ctx context.Context, symbol, interval string, handler func(kline *domain.Kline), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error)
}
