package store

import (
	"context"
	"sync"
	"time"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/event"
)

// MemoryStore keeps events in process memory
type MemoryStore struct {
	mu     sync.RWMutex
	recs   []record
	seq    int64
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(_ context.Context, events ...event.TrackingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, e := range events {
		m.seq++
		m.recs = append(m.recs, record{seq: m.seq, ev: e})
	}
	return nil
}

func (m *MemoryStore) Query(_ context.Context, q Query) (Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Result{}, ErrClosed
	}
	var matched []record
	for _, r := range m.recs {
		if q.Match(r.ev) {
			matched = append(matched, r)
		}
	}
	return resultOf(matched, 0, q.Limit), nil
}

func (m *MemoryStore) Prune(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	kept := m.recs[:0]
	for _, r := range m.recs {
		if !r.ev.Timestamp.Before(before) {
			kept = append(kept, r)
		}
	}
	n := len(m.recs) - len(kept)
	m.recs = kept
	return n, nil
}

func (m *MemoryStore) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.recs = nil
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.recs = nil
	return nil
}
