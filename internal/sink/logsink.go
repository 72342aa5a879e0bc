package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/event"
)

// LogSink appends events as NDJSON to a file, or to stdout when LOG_PATH
// is "stdout"
type LogSink struct {
	dst string
	mu  sync.Mutex
	f   *os.File
	w   *bufio.Writer
}

func NewLogSink() *LogSink {
	return &LogSink{dst: getEnvOr("LOG_PATH", "ndjson.log")}
}

func (s *LogSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dst == "stdout" {
		s.w = bufio.NewWriter(os.Stdout)
		return nil
	}
	f, err := os.OpenFile(s.dst, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log sink %s: %w", s.dst, err)
	}
	s.f = f
	s.w = bufio.NewWriter(f)
	return nil
}

func (s *LogSink) Enqueue(e event.TrackingEvent) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return fmt.Errorf("log sink not started")
	}
	if _, err := s.w.Write(append(b, '\n')); err != nil {
		return err
	}
	// one line per event reaches the file even if the process dies
	return s.w.Flush()
}

func (s *LogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.w != nil {
		err = s.w.Flush()
		s.w = nil
	}
	if s.f != nil {
		if cerr := s.f.Close(); err == nil {
			err = cerr
		}
		s.f = nil
	}
	return err
}

func (s *LogSink) Name() string { return "log" }
