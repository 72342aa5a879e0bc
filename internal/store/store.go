// Package store persists tracking events in an append-only log.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/event"
)

var ErrClosed = errors.New("store: closed")

// Status tells the caller whether every stored record could be read back
type Status int

const (
	StatusOK Status = iota
	// StatusCorrupted means some records failed to decode and were skipped.
	// The caller decides whether to reset the store.
	StatusCorrupted
)

func (s Status) String() string {
	if s == StatusCorrupted {
		return "corrupted"
	}
	return "ok"
}

// Result of a Query
type Result struct {
	Events    []event.TrackingEvent
	Status    Status
	Corrupted int // records skipped
}

// Query selects events. Zero fields do not filter.
type Query struct {
	// Domain matches the event domain or any subdomain of it
	Domain     string
	FirstParty string
	Since      time.Time // inclusive
	Until      time.Time // exclusive
	// Limit keeps the most recent N matches; 0 keeps all
	Limit int
}

// Store is the event log. Results are ordered by timestamp, then by the
// order events were appended.
type Store interface {
	Append(ctx context.Context, events ...event.TrackingEvent) error
	Query(ctx context.Context, q Query) (Result, error)
	// Prune removes events older than before and reports how many went
	Prune(ctx context.Context, before time.Time) (int, error)
	// Reset drops every event
	Reset(ctx context.Context) error
	Close() error
}

// Match reports whether e satisfies q's filters
func (q Query) Match(e event.TrackingEvent) bool {
	if q.Domain != "" && !domainMatch(e.Domain, q.Domain) {
		return false
	}
	if q.FirstParty != "" && !strings.EqualFold(e.FirstParty, q.FirstParty) {
		return false
	}
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && !e.Timestamp.Before(q.Until) {
		return false
	}
	return true
}

func domainMatch(host, domain string) bool {
	host = strings.ToLower(host)
	domain = strings.ToLower(strings.Trim(domain, "."))
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// finish sorts matched records by (timestamp, seq) and applies the limit
func finish(recs []record, limit int) []event.TrackingEvent {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.ev.Timestamp.Equal(b.ev.Timestamp) {
			return a.ev.Timestamp.Before(b.ev.Timestamp)
		}
		return a.seq < b.seq
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	out := make([]event.TrackingEvent, len(recs))
	for i, r := range recs {
		out[i] = r.ev
	}
	return out
}

type record struct {
	seq int64
	ev  event.TrackingEvent
}

func resultOf(recs []record, corrupted, limit int) Result {
	res := Result{Events: finish(recs, limit), Corrupted: corrupted}
	if corrupted > 0 {
		res.Status = StatusCorrupted
	}
	return res
}
