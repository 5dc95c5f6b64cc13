package domain

import "strings"

// Direction represents the trade direction of a signal (buy, sell or neutral).
type Direction string

const (
	Buy     Direction = "buy"
	Sell    Direction = "sell"
	Neutral Direction = "neutral"
)

// Sign returns the P&L sign convention for the direction:
// +1 for long entries, -1 for shorts, 0 for neutral.
func (d Direction) Sign() float64 {
	switch d {
	case Buy:
		return 1
	case Sell:
		return -1
	default:
		return 0
	}
}

// IsActionable reports whether the direction represents a tradeable signal.
func (d Direction) IsActionable() bool {
	return d == Buy || d == Sell
}

// ParseDirection converts a wire string ("buy", "sell", "neutral") into a Direction.
// Unknown values map to Neutral with ok=false.
func ParseDirection(s string) (Direction, bool) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case Buy:
		return Buy, true
	case Sell:
		return Sell, true
	case Neutral:
		return Neutral, true
	default:
		return Neutral, false
	}
}
