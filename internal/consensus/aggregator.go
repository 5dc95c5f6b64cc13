package consensus

import (
	"context"
	"fmt"
	"sort"
	"time"

	"consensusBot/internal/domain"
	"consensusBot/internal/ports"
)

// ScoreWeights controls how strength, confidence and bot count combine into the
// setup score. The score stays within [0,10] for any non-negative weights.
type ScoreWeights struct {
	Strength   float64 // Applied to consensus strength (already 0..10)
	Confidence float64 // Applied to consensus confidence scaled to 0..10
	BotCount   float64 // Applied to the agreeing-bot ratio scaled to 0..10
}

// Config holds the tunables of the consensus aggregator. Thresholds are
// configuration, not hard contracts; defaults mirror the tuned live system.
type Config struct {
	Window          time.Duration // Signals older than now-Window are ignored
	Cooldown        time.Duration // Minimum spacing between emitted setups
	MinStrength     float64       // Gate on consensus strength
	MinConfidence   float64       // Gate on consensus confidence
	MinSetupScore   float64       // Gate on the combined setup score
	MinAgreeingBots int           // Minimum distinct bots in the winning direction
	ExpectedBots    int           // Fleet size used to normalize the bot-count score
	BotWeights      map[string]float64 // Per-bot weight; missing entries default to 1.0
	ScoreWeights    ScoreWeights
}

// DefaultScoreWeights weight strength heaviest; confidence and breadth of
// agreement split the remainder.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{Strength: 0.4, Confidence: 0.3, BotCount: 0.3}
}

// Aggregator turns the recent contents of the signal store into at most one
// master setup per evaluation, throttled by the injected cooldown.
type Aggregator struct {
	cfg      Config
	store    ports.SignalStore
	cooldown *Cooldown
	logger   ports.Logger
}

// New creates an aggregator instance.
func New(cfg Config, store ports.SignalStore, cooldown *Cooldown, logger ports.Logger) (*Aggregator, error) {
	if store == nil || cooldown == nil || logger == nil {
		return nil, fmt.Errorf("store, cooldown and logger are required for the aggregator")
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("aggregation window must be positive")
	}
	if cfg.Cooldown < 0 {
		return nil, fmt.Errorf("cooldown cannot be negative")
	}
	if cfg.MinAgreeingBots <= 0 {
		cfg.MinAgreeingBots = 2
	}
	if cfg.ExpectedBots < cfg.MinAgreeingBots {
		cfg.ExpectedBots = 4
	}
	zero := ScoreWeights{}
	if cfg.ScoreWeights == zero {
		cfg.ScoreWeights = DefaultScoreWeights()
	}
	if cfg.ScoreWeights.Strength < 0 || cfg.ScoreWeights.Confidence < 0 || cfg.ScoreWeights.BotCount < 0 {
		return nil, fmt.Errorf("score weights cannot be negative")
	}
	if cfg.ScoreWeights.Strength+cfg.ScoreWeights.Confidence+cfg.ScoreWeights.BotCount == 0 {
		return nil, fmt.Errorf("score weights cannot all be zero")
	}
	return &Aggregator{cfg: cfg, store: store, cooldown: cooldown, logger: logger}, nil
}

// tally accumulates the weighted consensus for one direction.
type tally struct {
	signals       []*domain.SignalEvent
	strengthSum   float64
	confidenceSum float64
	weightSum     float64
}

func (t *tally) add(sig *domain.SignalEvent, weight float64) {
	t.signals = append(t.signals, sig)
	t.strengthSum += sig.Strength * weight
	t.confidenceSum += sig.Confidence * weight
	t.weightSum += weight
}

func (t *tally) strength() float64 {
	if t.weightSum == 0 {
		return 0
	}
	return t.strengthSum / t.weightSum
}

func (t *tally) confidence() float64 {
	if t.weightSum == 0 {
		return 0
	}
	return t.confidenceSum / t.weightSum
}

// Evaluate runs one consensus cycle over the signals in [now-Window, now].
// It returns the emitted setup, or nil when no gate-passing consensus exists.
// The only side effect is the cooldown mark on a successful emission.
func (a *Aggregator) Evaluate(ctx context.Context, now time.Time) (*domain.MasterSetupEvent, error) {
	window, err := a.store.InWindow(ctx, now.Add(-a.cfg.Window), now)
	if err != nil {
		return nil, fmt.Errorf("reading signal window: %w", err)
	}

	// Only the most recent signal per bot counts; older in-window signals
	// from the same bot are superseded.
	latest := make(map[string]*domain.SignalEvent, len(window))
	for _, sig := range window {
		prev, ok := latest[sig.BotID]
		if !ok || sig.Timestamp.After(prev.Timestamp) {
			latest[sig.BotID] = sig
		}
	}

	buy := &tally{}
	sell := &tally{}
	for _, sig := range latest {
		switch sig.Direction {
		case domain.Buy:
			buy.add(sig, a.botWeight(sig.BotID))
		case domain.Sell:
			sell.add(sig, a.botWeight(sig.BotID))
		}
		// Neutral signals carry no directional vote.
	}

	winner := pickDirection(buy, sell)
	if winner == nil {
		a.logger.Debug(ctx, "No consensus direction", map[string]interface{}{
			"buyBots":  len(buy.signals),
			"sellBots": len(sell.signals),
		})
		return nil, nil
	}

	direction := domain.Buy
	if winner == sell {
		direction = domain.Sell
	}

	agreeing := len(winner.signals)
	if agreeing < a.cfg.MinAgreeingBots {
		a.logger.Debug(ctx, "Not enough agreeing bots", map[string]interface{}{
			"direction": direction,
			"agreeing":  agreeing,
			"required":  a.cfg.MinAgreeingBots,
		})
		return nil, nil
	}

	strength := winner.strength()
	confidence := winner.confidence()
	score := a.setupScore(strength, confidence, agreeing)

	fields := map[string]interface{}{
		"direction":  direction,
		"strength":   strength,
		"confidence": confidence,
		"score":      score,
		"bots":       agreeing,
	}

	switch {
	case strength < a.cfg.MinStrength:
		a.logger.Debug(ctx, "Consensus strength below threshold", fields)
		return nil, nil
	case confidence < a.cfg.MinConfidence:
		a.logger.Debug(ctx, "Consensus confidence below threshold", fields)
		return nil, nil
	case score < a.cfg.MinSetupScore:
		a.logger.Debug(ctx, "Setup score below threshold", fields)
		return nil, nil
	}

	// Last gate: claim the cooldown window. All prior gates are pure, so a
	// failed claim leaves no state behind.
	if !a.cooldown.TryAcquire(now, a.cfg.Cooldown) {
		a.logger.Debug(ctx, "Cooldown active, setup suppressed", fields)
		return nil, nil
	}

	contributing := make([]*domain.SignalEvent, len(winner.signals))
	copy(contributing, winner.signals)
	sort.Slice(contributing, func(i, j int) bool {
		return contributing[i].Timestamp.Before(contributing[j].Timestamp)
	})

	setup := &domain.MasterSetupEvent{
		Timestamp:           now,
		Direction:           direction,
		ConsensusStrength:   strength,
		ConsensusConfidence: confidence,
		AgreeingBotCount:    agreeing,
		ContributingSignals: contributing,
		SetupScore:          score,
		Price:               contributing[len(contributing)-1].Price,
	}
	a.logger.Info(ctx, "Master setup emitted", fields)
	return setup, nil
}

func (a *Aggregator) botWeight(botID string) float64 {
	if w, ok := a.cfg.BotWeights[botID]; ok && w > 0 {
		return w
	}
	return 1.0
}

// setupScore combines strength, confidence and breadth of agreement into a
// single [0,10] scalar. Monotone in each input.
func (a *Aggregator) setupScore(strength, confidence float64, agreeing int) float64 {
	w := a.cfg.ScoreWeights
	ratio := float64(agreeing) / float64(a.cfg.ExpectedBots)
	if ratio > 1 {
		ratio = 1
	}
	total := w.Strength + w.Confidence + w.BotCount
	return (w.Strength*strength + w.Confidence*confidence*10 + w.BotCount*ratio*10) / total
}

// pickDirection selects the winning tally: more agreeing bots wins, ties
// break on higher weighted strength, a full tie is ambiguous (nil).
func pickDirection(buy, sell *tally) *tally {
	nb, ns := len(buy.signals), len(sell.signals)
	if nb == 0 && ns == 0 {
		return nil
	}
	switch {
	case nb > ns:
		return buy
	case ns > nb:
		return sell
	}
	sb, ss := buy.strength(), sell.strength()
	switch {
	case sb > ss:
		return buy
	case ss > sb:
		return sell
	}
	return nil
}
