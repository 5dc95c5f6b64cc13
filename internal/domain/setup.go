package domain

import "time"

// MasterSetupEvent is a consensus decision emitted by the aggregator when
// enough bots agree within the aggregation window and all quality gates pass.
// It is terminal: once constructed it is never mutated.
type MasterSetupEvent struct {
	Timestamp           time.Time      // Evaluation instant the setup was emitted at
	Direction           Direction      // Agreed direction (always buy or sell)
	ConsensusStrength   float64        // Weighted average strength of the agreeing signals
	ConsensusConfidence float64        // Weighted average confidence of the agreeing signals
	AgreeingBotCount    int            // Number of distinct bots in the agreeing direction
	ContributingSignals []*SignalEvent // Agreeing signals, ordered by timestamp, one per bot
	SetupScore          float64        // Combined quality score in [0, 10]
	Price               float64        // Reference price (most recent contributing signal)
}

// BotIDs returns the contributing bot identifiers in signal order.
func (m *MasterSetupEvent) BotIDs() []string {
	ids := make([]string, 0, len(m.ContributingSignals))
	for _, s := range m.ContributingSignals {
		ids = append(ids, s.BotID)
	}
	return ids
}
