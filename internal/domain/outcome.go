package domain

import "time"

// TradeOutcome is the simulated result of entering on a signal and exiting
// after a fixed hold period. Outcomes are derived per backtest run and never
// persisted.
type TradeOutcome struct {
	EntrySignal *SignalEvent  // Signal the simulated trade entered on
	HoldPeriod  time.Duration // Hold period this outcome was computed for
	EntryPrice  float64
	ExitPrice   float64
	ExitTime    time.Time
	PnLPct      float64 // direction-signed percentage return
	IsWin       bool    // PnLPct > 0
}
