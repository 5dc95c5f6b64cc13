package domain

import (
	"fmt"
	"time"
)

// SignalEvent is a single trading signal produced by one strategy bot.
// Events are immutable once created and uniquely identified by (BotID, Timestamp).
type SignalEvent struct {
	BotID      string             // Identifier of the producing bot (e.g., "smart_indicator")
	Direction  Direction          // buy, sell or neutral
	Strength   float64            // Signal strength in [0, 10]
	Confidence float64            // Bot confidence in [0, 1]
	Price      float64            // Market price observed when the signal fired
	Timestamp  time.Time          // Time the signal was produced
	Attributes map[string]float64 // Indicator-specific extras (rsi, sma_alignment, bid_ratio, ...)
}

// Validate checks the field ranges enforced at ingestion. Signals failing
// validation never reach the aggregator.
func (s *SignalEvent) Validate() error {
	if s.BotID == "" {
		return fmt.Errorf("signal has empty bot id")
	}
	if !s.Direction.IsActionable() && s.Direction != Neutral {
		return fmt.Errorf("signal from %s has invalid direction %q", s.BotID, s.Direction)
	}
	if s.Strength < 0 || s.Strength > 10 {
		return fmt.Errorf("signal from %s has strength %.2f outside [0,10]", s.BotID, s.Strength)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("signal from %s has confidence %.2f outside [0,1]", s.BotID, s.Confidence)
	}
	if s.Price <= 0 {
		return fmt.Errorf("signal from %s has non-positive price %.4f", s.BotID, s.Price)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("signal from %s has zero timestamp", s.BotID)
	}
	return nil
}

// Attribute returns the named attribute or the given default when absent.
func (s *SignalEvent) Attribute(key string, def float64) float64 {
	if s.Attributes == nil {
		return def
	}
	if v, ok := s.Attributes[key]; ok {
		return v
	}
	return def
}
