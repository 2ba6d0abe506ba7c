package store

import (
	"context"
	"sync"
)

// MemoryLedger keeps entries for the lifetime of the process.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]Entry)}
}

func (l *MemoryLedger) Record(ctx context.Context, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[e.Name] = e
	return nil
}

func (l *MemoryLedger) Get(ctx context.Context, name string) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[name]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return &e, nil
}

func (l *MemoryLedger) List(ctx context.Context) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return sortedEntries(l.entries), nil
}

func (l *MemoryLedger) Close() error { return nil }

var _ Ledger = (*MemoryLedger)(nil)
