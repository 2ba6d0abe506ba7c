package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/moby/sys/atomicwriter"
)

// FileLedger implements Ledger as a single JSON document
type FileLedger struct {
	dataDir string
	entries map[string]Entry
	mu      sync.RWMutex
}

// NewFileLedger loads fetches.json from dataDir, creating the directory if
// needed
func NewFileLedger(dataDir string) (*FileLedger, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	l := &FileLedger{
		dataDir: dataDir,
		entries: make(map[string]Entry),
	}

	if err := l.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return l, nil
}

func (l *FileLedger) filePath() string {
	return filepath.Join(l.dataDir, "fetches.json")
}

func (l *FileLedger) load() error {
	data, err := os.ReadFile(l.filePath())
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := json.Unmarshal(data, &l.entries); err != nil {
		return fmt.Errorf("parse %s: %w", l.filePath(), err)
	}
	if l.entries == nil {
		l.entries = make(map[string]Entry)
	}
	return nil
}

// save persists entries to disk. Caller must hold l.mu.
func (l *FileLedger) save() error {
	data, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fetches: %w", err)
	}

	return atomicwriter.WriteFile(l.filePath(), data, 0o644)
}

func (l *FileLedger) Record(ctx context.Context, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[e.Name] = e
	return l.save()
}

func (l *FileLedger) Get(ctx context.Context, name string) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.entries[name]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return &e, nil
}

func (l *FileLedger) List(ctx context.Context) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return sortedEntries(l.entries), nil
}

func (l *FileLedger) Close() error { return nil }

func sortedEntries(m map[string]Entry) []Entry {
	result := make([]Entry, 0, len(m))
	for _, e := range m {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

var _ Ledger = (*FileLedger)(nil)
