package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/event"
)

// SQLiteStore keeps events in a single sqlite file. Each row carries the
// event as JSON plus the columns queries filter on.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewSQLiteStore opens (or creates) the database at path
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store: sqlite path is empty")
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// sqlite serialises writers anyway
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	log.Printf("store: sqlite ready at %s", path)
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT UNIQUE,
			ts INTEGER NOT NULL,
			domain TEXT NOT NULL DEFAULT '',
			first_party TEXT NOT NULL DEFAULT '',
			data TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_events_domain ON events(domain)`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *SQLiteStore) Append(ctx context.Context, events ...event.TrackingEvent) error {
	if s.isClosed() {
		return ErrClosed
	}
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events (id, ts, domain, first_party, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("store: prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("store: marshal %s: %w", e.ID, err)
		}
		id := e.ID
		if id == "" {
			id = event.NewID()
		}
		if _, err := stmt.ExecContext(ctx, id, e.Timestamp.UnixMilli(),
			strings.ToLower(e.Domain), strings.ToLower(e.FirstParty), string(data)); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: insert: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Query(ctx context.Context, q Query) (Result, error) {
	if s.isClosed() {
		return Result{}, ErrClosed
	}
	where := []string{"1=1"}
	var args []any
	if !q.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, q.Since.UnixMilli())
	}
	if !q.Until.IsZero() {
		where = append(where, "ts < ?")
		args = append(args, q.Until.UnixMilli())
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, data FROM events WHERE "+strings.Join(where, " AND ")+" ORDER BY ts, seq", args...)
	if err != nil {
		return Result{}, fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()

	var (
		recs      []record
		corrupted int
	)
	for rows.Next() {
		var (
			seq  int64
			data string
		)
		if err := rows.Scan(&seq, &data); err != nil {
			return Result{}, fmt.Errorf("store: scan: %w", err)
		}
		var e event.TrackingEvent
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			corrupted++
			continue
		}
		if q.Match(e) {
			recs = append(recs, record{seq: seq, ev: e})
		}
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("store: rows: %w", err)
	}
	if corrupted > 0 {
		log.Printf("store: sqlite skipped %d undecodable rows", corrupted)
	}
	return resultOf(recs, corrupted, q.Limit), nil
}

func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int, error) {
	if s.isClosed() {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE ts < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("store: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events`); err != nil {
		return fmt.Errorf("store: reset: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.db.Close()
}
