package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteLedger implements Ledger using SQLite
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens or creates the ledger database at dbPath
func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	// the daemon and CLI commands may open the ledger at the same time
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	l := &SQLiteLedger{db: db}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return l, nil
}

func (l *SQLiteLedger) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS fetches (
		name TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		digest TEXT NOT NULL,
		size INTEGER DEFAULT 0,
		backend TEXT NOT NULL,
		fetched_at INTEGER NOT NULL
	);
	`
	_, err := l.db.Exec(query)
	return err
}

func (l *SQLiteLedger) Record(ctx context.Context, e Entry) error {
	query := `
		INSERT INTO fetches (name, path, digest, size, backend, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			path = excluded.path,
			digest = excluded.digest,
			size = excluded.size,
			backend = excluded.backend,
			fetched_at = excluded.fetched_at
	`
	_, err := l.db.ExecContext(ctx, query,
		e.Name, e.Path, e.Digest, e.Size, e.Backend, e.FetchedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record fetch: %w", err)
	}
	return nil
}

func (l *SQLiteLedger) Get(ctx context.Context, name string) (*Entry, error) {
	query := `SELECT name, path, digest, size, backend, fetched_at FROM fetches WHERE name = ?`
	row := l.db.QueryRowContext(ctx, query, name)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan fetch: %w", err)
	}
	return e, nil
}

func (l *SQLiteLedger) List(ctx context.Context) ([]Entry, error) {
	query := `SELECT name, path, digest, size, backend, fetched_at FROM fetches ORDER BY name`
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query fetches: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fetch: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	e := &Entry{}
	var fetchedAt int64
	if err := s.Scan(&e.Name, &e.Path, &e.Digest, &e.Size, &e.Backend, &fetchedAt); err != nil {
		return nil, err
	}
	e.FetchedAt = time.UnixMilli(fetchedAt)
	return e, nil
}

var _ Ledger = (*SQLiteLedger)(nil)
