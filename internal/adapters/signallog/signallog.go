// Package signallog reads and writes the line-oriented log format the signal
// bots and the aggregator exchange with the backtest tooling. One line per
// event:
//
//	<ts> - bot:<id> - signal:<buy|sell|neutral> - strength:<f> - price:<f> - additional:<k>:<v>/<k>:<v>/...
//
// Timestamps are "2006-01-02 15:04:05" or RFC3339. Unknown additional keys
// are tolerated; non-numeric additional values are skipped.
package signallog

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"consensusBot/internal/domain"
	"consensusBot/internal/ports"
)

const timeLayout = "2006-01-02 15:04:05"

// MasterBotID identifies aggregator emissions in the setup log.
const MasterBotID = "master_bot"

// FormatSignal renders one signal event as a log line, without the trailing
// newline. Additional keys are emitted in sorted order so lines are stable.
func FormatSignal(sig *domain.SignalEvent) string {
	var b strings.Builder
	b.WriteString(sig.Timestamp.Format(timeLayout))
	fmt.Fprintf(&b, " - bot:%s", sig.BotID)
	fmt.Fprintf(&b, " - signal:%s", sig.Direction)
	fmt.Fprintf(&b, " - strength:%s", formatFloat(sig.Strength))
	fmt.Fprintf(&b, " - price:%s", formatFloat(sig.Price))

	attrs := make(map[string]float64, len(sig.Attributes)+1)
	for k, v := range sig.Attributes {
		attrs[k] = v
	}
	attrs["confidence"] = sig.Confidence

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteString(" - additional:")
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('/')
		}
		fmt.Fprintf(&b, "%s:%s", k, formatFloat(attrs[k]))
	}
	return b.String()
}

// SignalFromSetup flattens a master setup into a signal event so emissions
// share the signal log format and feed the backtest evaluator directly.
func SignalFromSetup(setup *domain.MasterSetupEvent) *domain.SignalEvent {
	return &domain.SignalEvent{
		BotID:      MasterBotID,
		Direction:  setup.Direction,
		Strength:   setup.ConsensusStrength,
		Confidence: setup.ConsensusConfidence,
		Price:      setup.Price,
		Timestamp:  setup.Timestamp,
		Attributes: map[string]float64{
			"bot_count":   float64(setup.AgreeingBotCount),
			"setup_score": setup.SetupScore,
		},
	}
}

// ParseLine parses one log line into a signal event.
func ParseLine(line string) (*domain.SignalEvent, error) {
	parts := strings.Split(strings.TrimSpace(line), " - ")
	if len(parts) < 5 {
		return nil, fmt.Errorf("%w: expected at least 5 fields, got %d", ports.ErrMalformedLine, len(parts))
	}

	ts, err := parseTimestamp(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrMalformedLine, err)
	}

	sig := &domain.SignalEvent{Timestamp: ts, Attributes: make(map[string]float64)}
	for _, part := range parts[1:] {
		key, value, found := strings.Cut(part, ":")
		if !found {
			return nil, fmt.Errorf("%w: field %q has no key", ports.ErrMalformedLine, part)
		}
		switch key {
		case "bot":
			sig.BotID = value
		case "signal":
			dir, ok := domain.ParseDirection(value)
			if !ok {
				return nil, fmt.Errorf("%w: unknown signal %q", ports.ErrMalformedLine, value)
			}
			sig.Direction = dir
		case "strength":
			sig.Strength, err = strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad strength %q", ports.ErrMalformedLine, value)
			}
		case "price":
			sig.Price, err = strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad price %q", ports.ErrMalformedLine, value)
			}
		case "additional":
			parseAdditional(value, sig.Attributes)
		}
		// Unknown top-level fields are tolerated for forward compatibility.
	}

	if sig.BotID == "" {
		return nil, fmt.Errorf("%w: missing bot field", ports.ErrMalformedLine)
	}
	if sig.Direction == "" {
		return nil, fmt.Errorf("%w: missing signal field", ports.ErrMalformedLine)
	}

	if c, ok := sig.Attributes["confidence"]; ok {
		sig.Confidence = c
		delete(sig.Attributes, "confidence")
	} else {
		// Old lines carry no confidence; derive it from strength.
		sig.Confidence = sig.Strength / 10
	}
	return sig, nil
}

// parseAdditional fills attrs from a k:v/k:v list. Entries that do not parse
// as floats are skipped, per the tolerant-reader contract.
func parseAdditional(value string, attrs map[string]float64) {
	for _, pair := range strings.Split(value, "/") {
		k, v, found := strings.Cut(pair, ":")
		if !found || k == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		attrs[k] = f
	}
}

func parseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse(timeLayout, s); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ReadFile parses a whole log file, skipping malformed lines with a warning.
func ReadFile(ctx context.Context, path string, logger ports.Logger) ([]*domain.SignalEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening signal log: %w", err)
	}
	defer f.Close()

	var signals []*domain.SignalEvent
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		sig, err := ParseLine(line)
		if err != nil {
			if logger != nil {
				logger.Warn(ctx, "Skipping malformed log line", map[string]interface{}{
					"path": path,
					"line": lineNo,
					"err":  err.Error(),
				})
			}
			continue
		}
		signals = append(signals, sig)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading signal log: %w", err)
	}
	return signals, nil
}

// Appender writes signal events to a log file, one line per event. Safe for
// concurrent use.
type Appender struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewAppender opens (creating if needed) the log file for appending.
func NewAppender(path string) (*Appender, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return &Appender{file: f, path: path}, nil
}

// Append writes one signal event.
func (a *Appender) Append(sig *domain.SignalEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.file.WriteString(FormatSignal(sig) + "\n"); err != nil {
		return fmt.Errorf("appending to %s: %w", a.path, err)
	}
	return nil
}

// AppendSetup writes one master setup in the shared line format.
func (a *Appender) AppendSetup(setup *domain.MasterSetupEvent) error {
	return a.Append(SignalFromSetup(setup))
}

// Close flushes and closes the underlying file.
func (a *Appender) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}
