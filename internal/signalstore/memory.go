package signalstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"consensusBot/internal/domain"
	"consensusBot/internal/ports"
)

// MemoryStore is an in-process implementation of ports.SignalStore backed by
// a slice kept sorted by timestamp. It is the live-path store: bots append
// concurrently while the aggregator reads windows. Durable history goes to
// the sqlite repository separately.
type MemoryStore struct {
	mu      sync.RWMutex
	events  []*domain.SignalEvent
	byBot   map[string][]*domain.SignalEvent
	maxSize int
}

// NewMemoryStore creates an empty store. maxSize bounds memory on long runs;
// once exceeded the oldest events are dropped. A maxSize of 0 means unbounded.
func NewMemoryStore(maxSize int) *MemoryStore {
	return &MemoryStore{
		byBot:   make(map[string][]*domain.SignalEvent),
		maxSize: maxSize,
	}
}

// Append validates and stores a signal event. Invalid events are rejected
// with ports.ErrInvalidSignal and never become visible to readers.
func (m *MemoryStore) Append(ctx context.Context, sig *domain.SignalEvent) error {
	if sig == nil {
		return fmt.Errorf("%w: nil signal", ports.ErrInvalidSignal)
	}
	if err := sig.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrInvalidSignal, err)
	}

	// Store a copy so later mutation by the caller cannot corrupt readers.
	stored := *sig
	if sig.Attributes != nil {
		stored.Attributes = make(map[string]float64, len(sig.Attributes))
		for k, v := range sig.Attributes {
			stored.Attributes[k] = v
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Events usually arrive in order; insert-sort from the tail keeps the
	// slice time-ordered without a full sort per append.
	idx := len(m.events)
	for idx > 0 && m.events[idx-1].Timestamp.After(stored.Timestamp) {
		idx--
	}
	m.events = append(m.events, nil)
	copy(m.events[idx+1:], m.events[idx:])
	m.events[idx] = &stored

	m.byBot[stored.BotID] = append(m.byBot[stored.BotID], &stored)

	if m.maxSize > 0 && len(m.events) > m.maxSize {
		m.evictOldest(len(m.events) - m.maxSize)
	}
	return nil
}

// evictOldest removes the n oldest events. Caller holds the write lock.
func (m *MemoryStore) evictOldest(n int) {
	dropped := m.events[:n]
	m.events = m.events[n:]
	for _, old := range dropped {
		botEvents := m.byBot[old.BotID]
		for i, e := range botEvents {
			if e == old {
				m.byBot[old.BotID] = append(botEvents[:i], botEvents[i+1:]...)
				break
			}
		}
		if len(m.byBot[old.BotID]) == 0 {
			delete(m.byBot, old.BotID)
		}
	}
}

// InWindow returns a snapshot of events with from <= Timestamp <= to,
// ordered by timestamp.
func (m *MemoryStore) InWindow(ctx context.Context, from, to time.Time) ([]*domain.SignalEvent, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("invalid window: to %s before from %s", to, from)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	lo := sort.Search(len(m.events), func(i int) bool {
		return !m.events[i].Timestamp.Before(from)
	})
	hi := sort.Search(len(m.events), func(i int) bool {
		return m.events[i].Timestamp.After(to)
	})
	if lo >= hi {
		return nil, nil
	}
	out := make([]*domain.SignalEvent, hi-lo)
	copy(out, m.events[lo:hi])
	return out, nil
}

// ByBot returns the stored events for one bot in append order.
func (m *MemoryStore) ByBot(ctx context.Context, botID string) ([]*domain.SignalEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := m.byBot[botID]
	if len(events) == 0 {
		return nil, nil
	}
	out := make([]*domain.SignalEvent, len(events))
	copy(out, events)
	return out, nil
}

// Len returns the number of stored events.
func (m *MemoryStore) Len(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events), nil
}
