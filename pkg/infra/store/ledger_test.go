package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ledgers(t *testing.T) map[string]Ledger {
	t.Helper()

	sqliteLedger, err := NewSQLiteLedger(filepath.Join(t.TempDir(), "solverd.db"))
	require.NoError(t, err)
	fileLedger, err := NewFileLedger(t.TempDir())
	require.NoError(t, err)

	all := map[string]Ledger{
		"sqlite": sqliteLedger,
		"file":   fileLedger,
		"memory": NewMemoryLedger(),
	}
	t.Cleanup(func() {
		for _, l := range all {
			_ = l.Close()
		}
	})
	return all
}

func TestLedger_RecordAndGet(t *testing.T) {
	fetchedAt := time.UnixMilli(1700000000123)

	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := l.Get(ctx, "numericalmatch.onnx")
			assert.ErrorIs(t, err, ErrEntryNotFound)

			e := Entry{
				Name:      "numericalmatch.onnx",
				Path:      "/models/numericalmatch.onnx",
				Digest:    "abc",
				Size:      42,
				Backend:   "r2",
				FetchedAt: fetchedAt,
			}
			require.NoError(t, l.Record(ctx, e))

			got, err := l.Get(ctx, "numericalmatch.onnx")
			require.NoError(t, err)
			assert.Equal(t, e.Path, got.Path)
			assert.Equal(t, e.Digest, got.Digest)
			assert.Equal(t, e.Size, got.Size)
			assert.Equal(t, e.Backend, got.Backend)
			assert.True(t, e.FetchedAt.Equal(got.FetchedAt))

			// recording again replaces the entry
			e.Digest = "def"
			require.NoError(t, l.Record(ctx, e))
			got, err = l.Get(ctx, "numericalmatch.onnx")
			require.NoError(t, err)
			assert.Equal(t, "def", got.Digest)
		})
	}
}

func TestLedger_ListSorted(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, n := range []string{"c.onnx", "a.onnx", "b.onnx"} {
				require.NoError(t, l.Record(ctx, Entry{Name: n, Path: "/m/" + n, Backend: "github", FetchedAt: time.Now()}))
			}

			entries, err := l.List(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 3)
			assert.Equal(t, "a.onnx", entries[0].Name)
			assert.Equal(t, "b.onnx", entries[1].Name)
			assert.Equal(t, "c.onnx", entries[2].Name)
		})
	}
}

func TestFileLedger_Persists(t *testing.T) {
	dir := t.TempDir()
	l, err := NewFileLedger(dir)
	require.NoError(t, err)
	require.NoError(t, l.Record(context.Background(), Entry{Name: "m.onnx", Digest: "abc"}))

	reopened, err := NewFileLedger(dir)
	require.NoError(t, err)
	got, err := reopened.Get(context.Background(), "m.onnx")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Digest)
}

func TestFileLedger_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fetches.json"), []byte("{not json"), 0o644))

	_, err := NewFileLedger(dir)
	assert.Error(t, err)
}

func TestFileLedger_NullFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fetches.json"), []byte("null"), 0o644))

	l, err := NewFileLedger(dir)
	require.NoError(t, err)

	entries, err := l.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, l.Record(context.Background(), Entry{Name: "m.onnx", Digest: "abc"}))
	got, err := l.Get(context.Background(), "m.onnx")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Digest)
}

func TestSQLiteLedger_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solverd.db")
	l, err := NewSQLiteLedger(path)
	require.NoError(t, err)
	require.NoError(t, l.Record(context.Background(), Entry{Name: "m.onnx", Path: "/m", Digest: "abc", Backend: "r2", FetchedAt: time.Now()}))
	require.NoError(t, l.Close())

	reopened, err := NewSQLiteLedger(path)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get(context.Background(), "m.onnx")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Digest)
}

func TestOpen(t *testing.T) {
	l := Open(t.TempDir())
	defer l.Close()
	_, ok := l.(*SQLiteLedger)
	assert.True(t, ok)
}

func TestOpen_UnusableDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(f, nil, 0o644))

	l := Open(filepath.Join(f, "sub"))
	_, ok := l.(*MemoryLedger)
	assert.True(t, ok)
}
