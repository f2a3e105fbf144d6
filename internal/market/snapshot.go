// Package market maintains per-symbol market snapshots and minute candles,
// and distributes market updates to consumers.
package market

import (
	"sync"
	"time"

	"market-engine/internal/models"
)

// SnapshotStore holds the live snapshot of each subscribed symbol.
// Readers always receive a copy, never a record that is being written.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]*models.MarketSnapshot
}

// NewSnapshotStore creates an empty snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		snapshots: make(map[string]*models.MarketSnapshot),
	}
}

// Open creates an empty snapshot for symbol, replacing any existing one.
func (s *SnapshotStore) Open(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[symbol] = &models.MarketSnapshot{Symbol: symbol}
}

// Discard removes the snapshot for symbol.
func (s *SnapshotStore) Discard(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, symbol)
}

// Apply merges delta into the symbol's snapshot and returns the result.
// It reports false if the symbol is not open.
func (s *SnapshotStore) Apply(symbol string, delta models.SnapshotDelta, at time.Time) (models.MarketSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[symbol]
	if !ok {
		return models.MarketSnapshot{}, false
	}
	snap.Apply(delta, at)
	return *snap, true
}

// Get returns a copy of the symbol's snapshot.
func (s *SnapshotStore) Get(symbol string) (models.MarketSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[symbol]
	if !ok {
		return models.MarketSnapshot{}, false
	}
	return *snap, true
}

// Symbols returns the symbols with an open snapshot.
func (s *SnapshotStore) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols := make([]string, 0, len(s.snapshots))
	for symbol := range s.snapshots {
		symbols = append(symbols, symbol)
	}
	return symbols
}
