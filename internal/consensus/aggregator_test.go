package consensus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consensusBot/internal/domain"
	"consensusBot/internal/signalstore"
)

// mockLogger is a no-op logger for testing.
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func testConfig() Config {
	return Config{
		Window:          3 * time.Minute,
		Cooldown:        450 * time.Second,
		MinStrength:     4.0,
		MinConfidence:   0.65,
		MinSetupScore:   0, // Most tests exercise individual gates; score gate off by default.
		MinAgreeingBots: 2,
		ExpectedBots:    4,
	}
}

func newTestAggregator(t *testing.T, cfg Config) (*Aggregator, *signalstore.MemoryStore, *Cooldown) {
	t.Helper()
	store := signalstore.NewMemoryStore(0)
	cooldown := NewCooldown()
	agg, err := New(cfg, store, cooldown, &mockLogger{})
	require.NoError(t, err)
	return agg, store, cooldown
}

func addSignal(t *testing.T, store *signalstore.MemoryStore, botID string, dir domain.Direction, strength, confidence float64, ts time.Time) {
	t.Helper()
	err := store.Append(context.Background(), &domain.SignalEvent{
		BotID:      botID,
		Direction:  dir,
		Strength:   strength,
		Confidence: confidence,
		Price:      150.0,
		Timestamp:  ts,
	})
	require.NoError(t, err)
}

func TestNew_Validation(t *testing.T) {
	store := signalstore.NewMemoryStore(0)
	cooldown := NewCooldown()

	_, err := New(testConfig(), nil, cooldown, &mockLogger{})
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Window = 0
	_, err = New(cfg, store, cooldown, &mockLogger{})
	assert.Error(t, err)

	cfg = testConfig()
	cfg.ScoreWeights = ScoreWeights{Strength: -1, Confidence: 0.5, BotCount: 0.5}
	_, err = New(cfg, store, cooldown, &mockLogger{})
	assert.Error(t, err)
}

func TestEvaluate_MajorityWins(t *testing.T) {
	ctx := context.Background()
	agg, store, _ := newTestAggregator(t, testConfig())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Two buyers against one seller: buy wins with the average of the
	// buyers' values only.
	addSignal(t, store, "rsi_bot", domain.Buy, 7.0, 0.7, now.Add(-time.Minute))
	addSignal(t, store, "macd_bot", domain.Buy, 8.0, 0.8, now.Add(-30*time.Second))
	addSignal(t, store, "volume_bot", domain.Sell, 3.0, 0.9, now.Add(-20*time.Second))

	setup, err := agg.Evaluate(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, setup)
	assert.Equal(t, domain.Buy, setup.Direction)
	assert.Equal(t, 2, setup.AgreeingBotCount)
	assert.InDelta(t, 7.5, setup.ConsensusStrength, 1e-9)
	assert.InDelta(t, 0.75, setup.ConsensusConfidence, 1e-9)
	require.Len(t, setup.ContributingSignals, 2)
	assert.Equal(t, []string{"rsi_bot", "macd_bot"}, setup.BotIDs())
}

func TestEvaluate_NeutralSignalsCarryNoVote(t *testing.T) {
	ctx := context.Background()
	agg, store, _ := newTestAggregator(t, testConfig())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	addSignal(t, store, "rsi_bot", domain.Buy, 8.0, 0.8, now.Add(-time.Minute))
	addSignal(t, store, "macd_bot", domain.Buy, 7.0, 0.7, now.Add(-time.Minute))
	addSignal(t, store, "volume_bot", domain.Neutral, 9.0, 0.9, now.Add(-time.Minute))
	addSignal(t, store, "book_bot", domain.Neutral, 9.0, 0.9, now.Add(-time.Minute))

	setup, err := agg.Evaluate(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, setup)
	assert.Equal(t, domain.Buy, setup.Direction)
	assert.Equal(t, 2, setup.AgreeingBotCount)
}

func TestEvaluate_TieBreakOnStrength(t *testing.T) {
	ctx := context.Background()
	agg, store, _ := newTestAggregator(t, testConfig())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Two bots each side; sell side has the stronger weighted average.
	addSignal(t, store, "rsi_bot", domain.Buy, 5.0, 0.8, now.Add(-time.Minute))
	addSignal(t, store, "macd_bot", domain.Buy, 5.0, 0.8, now.Add(-time.Minute))
	addSignal(t, store, "volume_bot", domain.Sell, 8.0, 0.8, now.Add(-time.Minute))
	addSignal(t, store, "book_bot", domain.Sell, 8.0, 0.8, now.Add(-time.Minute))

	setup, err := agg.Evaluate(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, setup)
	assert.Equal(t, domain.Sell, setup.Direction)
	assert.InDelta(t, 8.0, setup.ConsensusStrength, 1e-9)
}

func TestEvaluate_FullTieEmitsNothing(t *testing.T) {
	ctx := context.Background()
	agg, store, cooldown := newTestAggregator(t, testConfig())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	addSignal(t, store, "rsi_bot", domain.Buy, 7.0, 0.8, now.Add(-time.Minute))
	addSignal(t, store, "macd_bot", domain.Buy, 7.0, 0.8, now.Add(-time.Minute))
	addSignal(t, store, "volume_bot", domain.Sell, 7.0, 0.8, now.Add(-time.Minute))
	addSignal(t, store, "book_bot", domain.Sell, 7.0, 0.8, now.Add(-time.Minute))

	setup, err := agg.Evaluate(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, setup)

	_, marked := cooldown.LastEmission()
	assert.False(t, marked, "a suppressed evaluation must not touch the cooldown")
}

func TestEvaluate_LatestSignalPerBotSupersedes(t *testing.T) {
	ctx := context.Background()
	agg, store, _ := newTestAggregator(t, testConfig())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// rsi_bot flips from sell to buy inside the window; only the flip counts.
	addSignal(t, store, "rsi_bot", domain.Sell, 9.0, 0.9, now.Add(-2*time.Minute))
	addSignal(t, store, "rsi_bot", domain.Buy, 6.0, 0.7, now.Add(-30*time.Second))
	addSignal(t, store, "macd_bot", domain.Buy, 8.0, 0.8, now.Add(-time.Minute))

	setup, err := agg.Evaluate(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, setup)
	assert.Equal(t, domain.Buy, setup.Direction)
	assert.Equal(t, 2, setup.AgreeingBotCount)
	assert.InDelta(t, 7.0, setup.ConsensusStrength, 1e-9)
}

func TestEvaluate_SignalsOutsideWindowIgnored(t *testing.T) {
	ctx := context.Background()
	agg, store, _ := newTestAggregator(t, testConfig())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	addSignal(t, store, "rsi_bot", domain.Buy, 9.0, 0.9, now.Add(-10*time.Minute))
	addSignal(t, store, "macd_bot", domain.Buy, 9.0, 0.9, now.Add(-time.Minute))

	setup, err := agg.Evaluate(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, setup, "one in-window bot is below the agreement minimum")
}

func TestEvaluate_BotWeightsShiftConsensus(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.BotWeights = map[string]float64{"order_book": 1.2}
	agg, store, _ := newTestAggregator(t, cfg)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	addSignal(t, store, "order_book", domain.Buy, 9.0, 0.9, now.Add(-time.Minute))
	addSignal(t, store, "rsi_bot", domain.Buy, 5.0, 0.7, now.Add(-time.Minute))

	setup, err := agg.Evaluate(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, setup)
	// (9*1.2 + 5*1) / 2.2
	assert.InDelta(t, 7.1818, setup.ConsensusStrength, 1e-3)
	assert.Greater(t, setup.ConsensusStrength, 7.0, "the heavier bot pulls the average its way")
}

func TestEvaluate_StrengthGate(t *testing.T) {
	ctx := context.Background()
	agg, store, cooldown := newTestAggregator(t, testConfig())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	addSignal(t, store, "rsi_bot", domain.Buy, 3.0, 0.9, now.Add(-time.Minute))
	addSignal(t, store, "macd_bot", domain.Buy, 3.5, 0.9, now.Add(-time.Minute))

	setup, err := agg.Evaluate(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, setup)
	_, marked := cooldown.LastEmission()
	assert.False(t, marked)
}

func TestEvaluate_ConfidenceGate(t *testing.T) {
	ctx := context.Background()
	agg, store, _ := newTestAggregator(t, testConfig())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	addSignal(t, store, "rsi_bot", domain.Buy, 8.0, 0.5, now.Add(-time.Minute))
	addSignal(t, store, "macd_bot", domain.Buy, 8.0, 0.6, now.Add(-time.Minute))

	setup, err := agg.Evaluate(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, setup)
}

func TestEvaluate_SetupScoreGate(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.MinSetupScore = 7.0
	agg, store, _ := newTestAggregator(t, cfg)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Passes strength and confidence but only 2 of 4 bots agree, so the
	// breadth component drags the score below 7.
	addSignal(t, store, "rsi_bot", domain.Buy, 6.0, 0.7, now.Add(-time.Minute))
	addSignal(t, store, "macd_bot", domain.Buy, 6.0, 0.7, now.Add(-time.Minute))

	setup, err := agg.Evaluate(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, setup)

	// A full fleet of strong agreement clears the same gate.
	addSignal(t, store, "volume_bot", domain.Buy, 9.0, 0.9, now.Add(-30*time.Second))
	addSignal(t, store, "book_bot", domain.Buy, 9.0, 0.9, now.Add(-30*time.Second))

	setup, err = agg.Evaluate(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, setup)
	assert.GreaterOrEqual(t, setup.SetupScore, 7.0)
	assert.LessOrEqual(t, setup.SetupScore, 10.0)
}

func TestEvaluate_CooldownSuppressesSecondEmission(t *testing.T) {
	ctx := context.Background()
	agg, store, _ := newTestAggregator(t, testConfig())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	addSignal(t, store, "rsi_bot", domain.Buy, 8.0, 0.8, now.Add(-time.Minute))
	addSignal(t, store, "macd_bot", domain.Buy, 8.0, 0.8, now.Add(-time.Minute))

	first, err := agg.Evaluate(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, first)

	// Fresh, equally valid consensus one minute later is still inside the
	// 450s cooldown.
	addSignal(t, store, "rsi_bot", domain.Buy, 8.0, 0.8, now.Add(30*time.Second))
	addSignal(t, store, "macd_bot", domain.Buy, 8.0, 0.8, now.Add(40*time.Second))

	second, err := agg.Evaluate(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Nil(t, second)

	// Past the cooldown the next consensus emits again.
	later := now.Add(451 * time.Second)
	addSignal(t, store, "rsi_bot", domain.Buy, 8.0, 0.8, later.Add(-time.Minute))
	addSignal(t, store, "macd_bot", domain.Buy, 8.0, 0.8, later.Add(-time.Minute))

	third, err := agg.Evaluate(ctx, later)
	require.NoError(t, err)
	assert.NotNil(t, third)
}

func TestEvaluate_ConcurrentEvaluationsEmitAtMostOnce(t *testing.T) {
	ctx := context.Background()
	agg, store, _ := newTestAggregator(t, testConfig())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	addSignal(t, store, "rsi_bot", domain.Buy, 8.0, 0.8, now.Add(-time.Minute))
	addSignal(t, store, "macd_bot", domain.Buy, 8.0, 0.8, now.Add(-time.Minute))

	const evaluators = 8
	var wg sync.WaitGroup
	results := make(chan *domain.MasterSetupEvent, evaluators)
	for i := 0; i < evaluators; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			setup, err := agg.Evaluate(ctx, now)
			assert.NoError(t, err)
			results <- setup
		}()
	}
	wg.Wait()
	close(results)

	emitted := 0
	for setup := range results {
		if setup != nil {
			emitted++
		}
	}
	assert.Equal(t, 1, emitted, "exactly one evaluator may claim the cooldown window")
}

func TestEvaluate_EmptyWindow(t *testing.T) {
	ctx := context.Background()
	agg, _, _ := newTestAggregator(t, testConfig())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	setup, err := agg.Evaluate(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, setup)
}

func TestSetupScore_Bounds(t *testing.T) {
	agg, _, _ := newTestAggregator(t, testConfig())

	tests := []struct {
		strength   float64
		confidence float64
		agreeing   int
	}{
		{0, 0, 0},
		{10, 1, 4},
		{10, 1, 8}, // More bots than the expected fleet still caps at 10.
		{5, 0.5, 2},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("s=%.0f c=%.1f n=%d", tt.strength, tt.confidence, tt.agreeing), func(t *testing.T) {
			score := agg.setupScore(tt.strength, tt.confidence, tt.agreeing)
			assert.GreaterOrEqual(t, score, 0.0)
			assert.LessOrEqual(t, score, 10.0)
		})
	}

	full := agg.setupScore(10, 1, 4)
	assert.InDelta(t, 10.0, full, 1e-9)
}

func TestCooldown_TryAcquire(t *testing.T) {
	c := NewCooldown()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, c.TryAcquire(now, 450*time.Second))
	assert.False(t, c.TryAcquire(now.Add(449*time.Second), 450*time.Second))
	assert.True(t, c.TryAcquire(now.Add(450*time.Second), 450*time.Second))

	c.Reset()
	_, set := c.LastEmission()
	assert.False(t, set)
	assert.True(t, c.TryAcquire(now, 450*time.Second))
}
