package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"consensusBot/internal/domain"
	"consensusBot/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) (*Repository, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "consensus-bot-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	repo, err := NewRepository(Config{
		DBPath: dbPath,
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	}

	return repo, cleanup
}

func testSignal(botID string, dir domain.Direction, ts time.Time) *domain.SignalEvent {
	return &domain.SignalEvent{
		BotID:      botID,
		Direction:  dir,
		Strength:   7.5,
		Confidence: 0.8,
		Price:      150.25,
		Timestamp:  ts,
		Attributes: map[string]float64{"rsi": 28.4, "sma_alignment": 1},
	}
}

func TestRepository_AppendAndQuerySignals(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Append(ctx, testSignal("rsi_bot", domain.Buy, base)))
	require.NoError(t, repo.Append(ctx, testSignal("macd_bot", domain.Sell, base.Add(time.Minute))))
	require.NoError(t, repo.Append(ctx, testSignal("rsi_bot", domain.Neutral, base.Add(2*time.Minute))))

	n, err := repo.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	window, err := repo.InWindow(ctx, base, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, "rsi_bot", window[0].BotID)
	assert.Equal(t, domain.Buy, window[0].Direction)
	assert.Equal(t, 7.5, window[0].Strength)
	assert.Equal(t, 0.8, window[0].Confidence)
	assert.Equal(t, 150.25, window[0].Price)
	assert.Equal(t, 28.4, window[0].Attributes["rsi"])
	assert.True(t, window[0].Timestamp.Equal(base))

	byBot, err := repo.ByBot(ctx, "rsi_bot")
	require.NoError(t, err)
	require.Len(t, byBot, 2)
	assert.Equal(t, domain.Buy, byBot[0].Direction)
	assert.Equal(t, domain.Neutral, byBot[1].Direction)
}

func TestRepository_AppendRejectsInvalid(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	err := repo.Append(ctx, nil)
	assert.ErrorIs(t, err, ports.ErrInvalidSignal)

	bad := testSignal("rsi_bot", domain.Buy, time.Now())
	bad.Strength = 42
	err = repo.Append(ctx, bad)
	assert.ErrorIs(t, err, ports.ErrInvalidSignal)

	n, err := repo.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRepository_AppendRejectsDuplicates(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Append(ctx, testSignal("rsi_bot", domain.Buy, base)))

	err := repo.Append(ctx, testSignal("rsi_bot", domain.Sell, base))
	assert.ErrorIs(t, err, ports.ErrDuplicateEntry)

	// Same timestamp from a different bot is fine.
	assert.NoError(t, repo.Append(ctx, testSignal("macd_bot", domain.Sell, base)))
}

func TestRepository_InWindowRejectsInvertedRange(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	_, err := repo.InWindow(context.Background(), base, base.Add(-time.Minute))
	assert.Error(t, err)
}

func TestRepository_SaveAndFindSetups(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	setup := &domain.MasterSetupEvent{
		Timestamp:           base,
		Direction:           domain.Buy,
		ConsensusStrength:   7.5,
		ConsensusConfidence: 0.75,
		AgreeingBotCount:    3,
		ContributingSignals: []*domain.SignalEvent{
			testSignal("rsi_bot", domain.Buy, base.Add(-time.Minute)),
			testSignal("macd_bot", domain.Buy, base.Add(-30*time.Second)),
			testSignal("order_book", domain.Buy, base.Add(-10*time.Second)),
		},
		SetupScore: 8.2,
		Price:      150.25,
	}

	id, err := repo.SaveSetup(ctx, setup)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	found, err := repo.FindSetups(ctx, base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, found, 1)
	got := found[0]
	assert.Equal(t, domain.Buy, got.Direction)
	assert.Equal(t, 7.5, got.ConsensusStrength)
	assert.Equal(t, 0.75, got.ConsensusConfidence)
	assert.Equal(t, 3, got.AgreeingBotCount)
	assert.Equal(t, 8.2, got.SetupScore)
	assert.Equal(t, 150.25, got.Price)
	assert.Equal(t, []string{"rsi_bot", "macd_bot", "order_book"}, got.BotIDs())

	none, err := repo.FindSetups(ctx, base.Add(time.Minute), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRepository_CountSetupsSince(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := repo.SaveSetup(ctx, &domain.MasterSetupEvent{
			Timestamp:           base.Add(time.Duration(i) * time.Hour),
			Direction:           domain.Sell,
			ConsensusStrength:   6,
			ConsensusConfidence: 0.7,
			AgreeingBotCount:    2,
			SetupScore:          7.1,
			Price:               149,
		})
		require.NoError(t, err)
	}

	count, err := repo.CountSetupsSince(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRepository_ReopenPersists(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "consensus-bot-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)
	dbPath := filepath.Join(tmpDir, "test.db")
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	repo, err := NewRepository(Config{DBPath: dbPath, Logger: &mockLogger{}})
	require.NoError(t, err)
	require.NoError(t, repo.Append(ctx, testSignal("rsi_bot", domain.Buy, base)))
	require.NoError(t, repo.Close())

	reopened, err := NewRepository(Config{DBPath: dbPath, Logger: &mockLogger{}})
	require.NoError(t, err)
	defer reopened.Close()

	n, err := reopened.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEncodeDecodeAttributes(t *testing.T) {
	assert.Equal(t, "", encodeAttributes(nil))
	assert.Nil(t, decodeAttributes(""))

	attrs := map[string]float64{"rsi": 28.4, "bb_position": -0.5}
	encoded := encodeAttributes(attrs)
	assert.Equal(t, "bb_position:-0.5/rsi:28.4", encoded)
	assert.Equal(t, attrs, decodeAttributes(encoded))

	// Malformed entries are skipped rather than failing the whole row.
	assert.Equal(t, map[string]float64{"a": 1}, decodeAttributes("a:1/garbage/b:notanumber"))
}
