// Package store persists the fetch ledger: one record per model artifact
// the model store has written, keyed by model file name.
package store

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

var ErrEntryNotFound = errors.New("ledger entry not found")

// Entry describes the last successful fetch of a model artifact.
type Entry struct {
	Name      string    `json:"name" yaml:"name"`
	Path      string    `json:"path" yaml:"path"`
	Digest    string    `json:"digest" yaml:"digest"`
	Size      int64     `json:"size" yaml:"size"`
	Backend   string    `json:"backend" yaml:"backend"`
	FetchedAt time.Time `json:"fetched_at" yaml:"fetched_at"`
}

// Ledger records fetched artifacts. Record replaces any previous entry with
// the same name.
type Ledger interface {
	Record(ctx context.Context, e Entry) error
	Get(ctx context.Context, name string) (*Entry, error)
	List(ctx context.Context) ([]Entry, error)
	Close() error
}

// Open returns the most durable ledger available under dataDir: SQLite,
// then a JSON file, then memory.
func Open(dataDir string) Ledger {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		slog.Warn("cannot create data directory, using memory ledger", "dir", dataDir, "error", err)
		return NewMemoryLedger()
	}

	sqliteLedger, err := NewSQLiteLedger(filepath.Join(dataDir, "solverd.db"))
	if err == nil {
		slog.Debug("using SQLite fetch ledger")
		return sqliteLedger
	}
	slog.Warn("failed to open SQLite ledger, trying file ledger", "error", err)

	fileLedger, err := NewFileLedger(dataDir)
	if err == nil {
		return fileLedger
	}
	slog.Warn("failed to open file ledger, using memory ledger", "error", err)
	return NewMemoryLedger()
}
