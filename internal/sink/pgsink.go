package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/event"
)

// PGConfig holds configuration for the Postgres sink
type PGConfig struct {
	DSN       string
	Table     string
	BatchSize int
	FlushMS   int
	UseCopy   bool // COPY FROM STDIN instead of multi-row INSERT
}

// PGSink batches events into a JSONB table
type PGSink struct {
	config PGConfig
	db     *sql.DB

	mu    sync.Mutex
	batch []event.TrackingEvent

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validateTableName keeps the table name safe to splice into SQL
func validateTableName(name string) error {
	if name == "" || len(name) > 63 || !tableNameRe.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

func defaultPGConfig(dsn string) PGConfig {
	return PGConfig{
		DSN:       dsn,
		Table:     "tracking_events",
		BatchSize: 500,
		FlushMS:   500,
		UseCopy:   true,
	}
}

// NewPGSinkFromEnv reads PG_DSN, PG_TABLE, PG_BATCH_SIZE, PG_FLUSH_MS and PG_COPY
func NewPGSinkFromEnv() *PGSink {
	cfg := defaultPGConfig(os.Getenv("PG_DSN"))
	cfg.Table = getEnvOr("PG_TABLE", cfg.Table)
	cfg.BatchSize = getIntEnv("PG_BATCH_SIZE", cfg.BatchSize)
	cfg.FlushMS = getIntEnv("PG_FLUSH_MS", cfg.FlushMS)
	cfg.UseCopy = getBoolEnv("PG_COPY", cfg.UseCopy)
	return &PGSink{config: cfg}
}

func NewPGSink(dsn string) *PGSink {
	return &PGSink{config: defaultPGConfig(dsn)}
}

func (s *PGSink) Name() string { return "postgres" }

func (s *PGSink) Start(ctx context.Context) error {
	if err := validateTableName(s.config.Table); err != nil {
		return err
	}
	if s.config.BatchSize <= 0 {
		s.config.BatchSize = 500
	}
	if s.config.FlushMS <= 0 {
		s.config.FlushMS = 500
	}

	db, err := sql.Open("postgres", s.config.DSN)
	if err != nil {
		return fmt.Errorf("failed to open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s.db = db
	s.ctx, s.cancel = context.WithCancel(ctx)
	if err := s.ensureSchema(); err != nil {
		s.cancel()
		db.Close()
		return err
	}

	s.batch = make([]event.TrackingEvent, 0, s.config.BatchSize)
	s.done = make(chan struct{})
	go s.flushRoutine()
	log.Printf("postgres: writing to %s (batch=%d flush=%dms copy=%v)",
		s.config.Table, s.config.BatchSize, s.config.FlushMS, s.config.UseCopy)
	return nil
}

func (s *PGSink) ensureSchema() error {
	t := s.config.Table
	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		event_id TEXT PRIMARY KEY,
		ts TIMESTAMPTZ NOT NULL,
		domain TEXT NOT NULL,
		risk_level TEXT NOT NULL,
		payload JSONB NOT NULL
	)`, t)
	if _, err := s.db.ExecContext(s.ctx, create); err != nil {
		return fmt.Errorf("failed to create table %s: %w", t, err)
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_ts ON %s (ts)`, t, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_gin ON %s USING GIN (payload)`, t, t),
	}
	for _, q := range indexes {
		if _, err := s.db.ExecContext(s.ctx, q); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", t, err)
		}
	}
	return nil
}

func (s *PGSink) Enqueue(e event.TrackingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch = append(s.batch, e)
	if len(s.batch) >= s.config.BatchSize {
		return s.flushBatch()
	}
	return nil
}

// flushBatch writes the pending batch. The batch is kept on error so the
// next tick retries it. Caller holds mu.
func (s *PGSink) flushBatch() error {
	if len(s.batch) == 0 {
		return nil
	}
	var err error
	if s.config.UseCopy {
		err = s.flushWithCopy()
	} else {
		err = s.flushWithInsert()
	}
	if err != nil {
		return err
	}
	s.batch = s.batch[:0]
	return nil
}

type pgRow struct {
	id      string
	ts      time.Time
	domain  string
	risk    string
	payload string
}

func toRows(events []event.TrackingEvent) ([]pgRow, error) {
	rows := make([]pgRow, 0, len(events))
	for _, e := range events {
		b, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize event %s: %w", e.ID, err)
		}
		rows = append(rows, pgRow{
			id:      e.ID,
			ts:      e.Timestamp.UTC(),
			domain:  e.Domain,
			risk:    string(e.Risk),
			payload: string(b),
		})
	}
	return rows, nil
}

func (s *PGSink) flushWithInsert() error {
	if len(s.batch) == 0 {
		return nil
	}
	rows, err := toRows(s.batch)
	if err != nil {
		return err
	}

	var (
		sb   strings.Builder
		args = make([]any, 0, len(rows)*5)
	)
	fmt.Fprintf(&sb, "INSERT INTO %s (event_id, ts, domain, risk_level, payload) VALUES ", s.config.Table)
	for i, r := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 5
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d::jsonb)", n+1, n+2, n+3, n+4, n+5)
		args = append(args, r.id, r.ts, r.domain, r.risk, r.payload)
	}
	sb.WriteString(" ON CONFLICT (event_id) DO NOTHING")

	if _, err := s.db.ExecContext(s.ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return nil
}

func (s *PGSink) flushWithCopy() error {
	if len(s.batch) == 0 {
		return nil
	}
	rows, err := toRows(s.batch)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(s.ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(s.ctx, pq.CopyIn(s.config.Table, "event_id", "ts", "domain", "risk_level", "payload"))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare copy: %w", err)
	}
	for _, r := range rows {
		if _, err := stmt.ExecContext(s.ctx, r.id, r.ts, r.domain, r.risk, r.payload); err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("failed to copy row %s: %w", r.id, err)
		}
	}
	if _, err := stmt.ExecContext(s.ctx); err != nil {
		stmt.Close()
		tx.Rollback()
		return fmt.Errorf("failed to finish copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to close copy: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit copy: %w", err)
	}
	return nil
}

func (s *PGSink) flushRoutine() {
	defer close(s.done)
	ticker := time.NewTicker(time.Duration(s.config.FlushMS) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if err := s.flushBatch(); err != nil {
				log.Printf("postgres: flush failed (%d pending): %v", len(s.batch), err)
			}
			s.mu.Unlock()
		}
	}
}

// Close flushes what is pending, stops the flush routine and closes the pool
func (s *PGSink) Close() error {
	var err error
	if s.db != nil && s.ctx != nil {
		s.mu.Lock()
		err = s.flushBatch()
		s.mu.Unlock()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
	if s.db != nil {
		if cerr := s.db.Close(); err == nil {
			err = cerr
		}
		s.db = nil
	}
	return err
}

func getIntEnv(key string, defaultValue int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}
