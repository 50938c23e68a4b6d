// Package seenledger is a capacity-bounded, disk-backed ring of
// overlay event ids the worker has already processed. It resolves the
// dedup set's unbounded growth across multi-day sessions by evicting
// the oldest entry once the ring reaches capacity. It stores only
// (event_id, seen_at) pairs, never job records or event bodies.
package seenledger

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// Capacity is the maximum number of event ids retained at once.
const Capacity = 10_000

// Ledger is a SQLite-backed seen-event set with its own internal
// lock, provided by the underlying *sql.DB's connection pool rather
// than an explicit mutex — sqlite serializes writes per connection.
type Ledger struct {
	db  *sql.DB
	log *slog.Logger
}

// Open creates or attaches to the seen-event ledger at dsn (a file
// path, or ":memory:" for tests).
func Open(dsn string) (*Ledger, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open seen-event ledger: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if dsn != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}

	l := &Ledger{db: db, log: slog.Default()}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate seen-event ledger: %w", err)
	}
	return l, nil
}

func (l *Ledger) migrate() error {
	_, err := l.db.Exec(`CREATE TABLE IF NOT EXISTS seen_events (
		event_id TEXT PRIMARY KEY,
		seen_at INTEGER NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = l.db.Exec(`CREATE INDEX IF NOT EXISTS idx_seen_events_seen_at ON seen_events(seen_at)`)
	return err
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// SeenOrRecord reports whether eventID has already been recorded. If
// it has not, it is inserted with seenAt and the ring is trimmed back
// to Capacity by evicting the oldest entries first.
func (l *Ledger) SeenOrRecord(eventID string, seenAt int64) (alreadySeen bool, err error) {
	var existing int64
	err = l.db.QueryRow(`SELECT seen_at FROM seen_events WHERE event_id = ?`, eventID).Scan(&existing)
	switch {
	case err == nil:
		return true, nil
	case err != sql.ErrNoRows:
		return false, fmt.Errorf("query seen-event: %w", err)
	}

	if _, err := l.db.Exec(`INSERT INTO seen_events (event_id, seen_at) VALUES (?, ?)`, eventID, seenAt); err != nil {
		return false, fmt.Errorf("insert seen-event: %w", err)
	}
	if err := l.evictOverCapacity(); err != nil {
		l.log.Warn("seen-event ledger eviction failed", "error", err)
	}
	return false, nil
}

func (l *Ledger) evictOverCapacity() error {
	var count int
	if err := l.db.QueryRow(`SELECT COUNT(*) FROM seen_events`).Scan(&count); err != nil {
		return fmt.Errorf("count seen-events: %w", err)
	}
	if count <= Capacity {
		return nil
	}
	excess := count - Capacity
	_, err := l.db.Exec(`DELETE FROM seen_events WHERE event_id IN (
		SELECT event_id FROM seen_events ORDER BY seen_at ASC LIMIT ?
	)`, excess)
	if err != nil {
		return fmt.Errorf("evict seen-events: %w", err)
	}
	return nil
}

// Count returns the current number of retained entries. Intended for
// tests and diagnostics.
func (l *Ledger) Count() (int, error) {
	var count int
	err := l.db.QueryRow(`SELECT COUNT(*) FROM seen_events`).Scan(&count)
	return count, err
}
