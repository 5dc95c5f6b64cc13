package ports

import (
	"context"
	"time"

	"consensusBot/internal/domain"
)

// SignalStore is the append-only, time-ordered collection of signal events
// shared between the producing bots and the consensus aggregator. Append must
// be safe for concurrent writers; reads must observe a consistent snapshot
// (never a partially written event). Per-bot append order is preserved; no
// ordering is guaranteed across bots.
type SignalStore interface {
	// Append validates and stores a new signal event. Out-of-range events are
	// rejected with ErrInvalidSignal and never become visible to readers.
	Append(ctx context.Context, sig *domain.SignalEvent) error
	// InWindow returns a snapshot of all events with from <= Timestamp <= to,
	// ordered by timestamp.
	InWindow(ctx context.Context, from, to time.Time) ([]*domain.SignalEvent, error)
	// ByBot returns the stored events for one bot in append order.
	ByBot(ctx context.Context, botID string) ([]*domain.SignalEvent, error)
	// Len returns the number of stored events.
	Len(ctx context.Context) (int, error)
}

// SetupRepository persists emitted master setups for later backtesting.
type SetupRepository interface {
	// SaveSetup stores a newly emitted master setup and returns its assigned ID.
	SaveSetup(ctx context.Context, setup *domain.MasterSetupEvent) (int64, error)
	// FindSetups retrieves setups with from <= Timestamp <= to, ordered by timestamp.
	FindSetups(ctx context.Context, from, to time.Time) ([]*domain.MasterSetupEvent, error)
	// CountSetupsSince counts setups emitted at or after the given instant.
	CountSetupsSince(ctx context.Context, since time.Time) (int, error)
}
