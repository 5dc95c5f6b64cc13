package signalstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consensusBot/internal/domain"
	"consensusBot/internal/ports"
)

func makeSignal(botID string, dir domain.Direction, ts time.Time) *domain.SignalEvent {
	return &domain.SignalEvent{
		BotID:      botID,
		Direction:  dir,
		Strength:   5.0,
		Confidence: 0.8,
		Price:      100.0,
		Timestamp:  ts,
	}
}

func TestMemoryStore_AppendAndLen(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Append(ctx, makeSignal("rsi_bot", domain.Buy, base)))
	require.NoError(t, store.Append(ctx, makeSignal("macd_bot", domain.Sell, base.Add(time.Minute))))

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMemoryStore_AppendRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		sig  *domain.SignalEvent
	}{
		{name: "nil signal", sig: nil},
		{name: "empty bot id", sig: makeSignal("", domain.Buy, base)},
		{
			name: "strength out of range",
			sig: &domain.SignalEvent{
				BotID: "rsi_bot", Direction: domain.Buy, Strength: 11,
				Confidence: 0.8, Price: 100, Timestamp: base,
			},
		},
		{
			name: "confidence out of range",
			sig: &domain.SignalEvent{
				BotID: "rsi_bot", Direction: domain.Buy, Strength: 5,
				Confidence: 1.5, Price: 100, Timestamp: base,
			},
		},
		{
			name: "non-positive price",
			sig: &domain.SignalEvent{
				BotID: "rsi_bot", Direction: domain.Buy, Strength: 5,
				Confidence: 0.8, Price: 0, Timestamp: base,
			},
		},
		{name: "zero timestamp", sig: makeSignal("rsi_bot", domain.Buy, time.Time{})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Append(ctx, tt.sig)
			require.Error(t, err)
			assert.ErrorIs(t, err, ports.ErrInvalidSignal)
		})
	}

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "rejected signals must not be stored")
}

func TestMemoryStore_InWindowBoundsInclusive(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		sig := makeSignal(fmt.Sprintf("bot_%d", i), domain.Buy, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.Append(ctx, sig))
	}

	// Window [base+1m, base+3m] includes both endpoints.
	got, err := store.InWindow(ctx, base.Add(time.Minute), base.Add(3*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "bot_1", got[0].BotID)
	assert.Equal(t, "bot_3", got[2].BotID)
}

func TestMemoryStore_InWindowOrdersOutOfOrderAppends(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Append(ctx, makeSignal("late", domain.Buy, base.Add(2*time.Minute))))
	require.NoError(t, store.Append(ctx, makeSignal("early", domain.Buy, base)))
	require.NoError(t, store.Append(ctx, makeSignal("middle", domain.Buy, base.Add(time.Minute))))

	got, err := store.InWindow(ctx, base, base.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "early", got[0].BotID)
	assert.Equal(t, "middle", got[1].BotID)
	assert.Equal(t, "late", got[2].BotID)
}

func TestMemoryStore_InWindowRejectsInvertedRange(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.InWindow(ctx, base, base.Add(-time.Minute))
	assert.Error(t, err)
}

func TestMemoryStore_ByBotPreservesAppendOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Append(ctx, makeSignal("rsi_bot", domain.Buy, base)))
	require.NoError(t, store.Append(ctx, makeSignal("macd_bot", domain.Sell, base.Add(30*time.Second))))
	require.NoError(t, store.Append(ctx, makeSignal("rsi_bot", domain.Sell, base.Add(time.Minute))))

	got, err := store.ByBot(ctx, "rsi_bot")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.Buy, got[0].Direction)
	assert.Equal(t, domain.Sell, got[1].Direction)

	none, err := store.ByBot(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_SnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	sig := makeSignal("rsi_bot", domain.Buy, base)
	sig.Attributes = map[string]float64{"rsi": 28.5}
	require.NoError(t, store.Append(ctx, sig))

	// Mutating the caller's event after Append must not affect readers.
	sig.Strength = 0
	sig.Attributes["rsi"] = 99

	got, err := store.ByBot(ctx, "rsi_bot")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 5.0, got[0].Strength)
	assert.Equal(t, 28.5, got[0].Attributes["rsi"])
}

func TestMemoryStore_EvictsOldestWhenBounded(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(3)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		sig := makeSignal("rsi_bot", domain.Buy, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.Append(ctx, sig))
	}

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := store.InWindow(ctx, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, base.Add(2*time.Minute), got[0].Timestamp)

	byBot, err := store.ByBot(ctx, "rsi_bot")
	require.NoError(t, err)
	assert.Len(t, byBot, 3)
}

func TestMemoryStore_ConcurrentAppendAndRead(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	const writers = 4
	const perWriter = 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			botID := fmt.Sprintf("bot_%d", w)
			for i := 0; i < perWriter; i++ {
				sig := makeSignal(botID, domain.Buy, base.Add(time.Duration(i)*time.Second))
				assert.NoError(t, store.Append(ctx, sig))
			}
		}(w)
	}
	// Readers run alongside the writers.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_, err := store.InWindow(ctx, base, base.Add(time.Hour))
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, writers*perWriter, n)
}
