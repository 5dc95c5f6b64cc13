package backtest

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// RenderReport formats the metrics of a backtest run as human-readable text,
// one block per hold period in ascending order.
func RenderReport(results map[time.Duration]*BacktestMetrics) string {
	holds := make([]time.Duration, 0, len(results))
	for hold := range results {
		holds = append(holds, hold)
	}
	sort.Slice(holds, func(i, j int) bool { return holds[i] < holds[j] })

	var b strings.Builder
	b.WriteString("==================== BACKTEST REPORT ====================\n")
	for _, hold := range holds {
		renderHold(&b, results[hold])
	}
	b.WriteString("=========================================================\n")
	return b.String()
}

func renderHold(b *strings.Builder, m *BacktestMetrics) {
	fmt.Fprintf(b, "\n--- Hold period: %s ---\n", m.HoldPeriod)
	fmt.Fprintf(b, "Trades:        %d (excluded: %d)\n", m.TradeCount, m.ExcludedCount)
	if m.TradeCount == 0 {
		b.WriteString("No evaluable trades for this hold period.\n")
		return
	}
	fmt.Fprintf(b, "Win rate:      %.1f%% (%d W / %d L)\n", m.WinRate, m.WinCount, m.LossCount)
	fmt.Fprintf(b, "Total PnL:     %+.2f%%\n", m.TotalPnLPct)
	fmt.Fprintf(b, "Avg PnL:       %+.2f%%\n", m.AvgPnLPct)
	fmt.Fprintf(b, "Avg win/loss:  %+.2f%% / %+.2f%%\n", m.AvgWinPct, m.AvgLossPct)
	fmt.Fprintf(b, "Profit factor: %s\n", formatProfitFactor(m.ProfitFactor))
	fmt.Fprintf(b, "Max drawdown:  %.2f%%\n", m.MaxDrawdownPct)
	fmt.Fprintf(b, "Sharpe:        %.3f\n", m.SharpeRatio)

	if len(m.Segments) == 0 {
		return
	}
	b.WriteString("Segments:\n")
	names := make([]string, 0, len(m.Segments))
	for name := range m.Segments {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := m.Segments[name]
		flag := ""
		if s.LowSample {
			flag = " [low sample]"
		}
		fmt.Fprintf(b, "  %-18s trades=%-4d win=%.1f%% total=%+.2f%% avg=%+.2f%%%s\n",
			s.Name, s.TradeCount, s.WinRate, s.TotalPnLPct, s.AvgPnLPct, flag)
	}
}

func formatProfitFactor(pf float64) string {
	if math.IsInf(pf, 1) {
		return "inf (no losses)"
	}
	return fmt.Sprintf("%.2f", pf)
}
