package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/event"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/event/detection"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func ev(id, domain, firstParty string, offset time.Duration) event.TrackingEvent {
	return event.TrackingEvent{
		ID:          id,
		Timestamp:   base.Add(offset),
		URL:         "https://" + domain + "/x.js",
		Domain:      domain,
		FirstParty:  firstParty,
		TrackerType: "analytics",
		Risk:        detection.RiskLow,
		Description: "test",
	}
}

func ids(events []event.TrackingEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func equalIDs(t *testing.T, got []event.TrackingEvent, want ...string) {
	t.Helper()
	g := ids(got)
	if len(g) != len(want) {
		t.Fatalf("got ids %v, want %v", g, want)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Fatalf("got ids %v, want %v", g, want)
		}
	}
}

// runStoreContract exercises the behaviour every Store must share
func runStoreContract(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("orders by timestamp then append order", func(t *testing.T) {
		s := open(t)
		err := s.Append(ctx,
			ev("c", "a.com", "site.com", 2*time.Minute),
			ev("a", "a.com", "site.com", 0),
			ev("b1", "b.com", "site.com", time.Minute),
			ev("b2", "b.com", "site.com", time.Minute),
		)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		res, err := s.Query(ctx, Query{})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if res.Status != StatusOK {
			t.Errorf("status = %v", res.Status)
		}
		equalIDs(t, res.Events, "a", "b1", "b2", "c")
	})

	t.Run("filters", func(t *testing.T) {
		s := open(t)
		_ = s.Append(ctx,
			ev("1", "doubleclick.net", "news.com", 0),
			ev("2", "stats.doubleclick.net", "news.com", time.Minute),
			ev("3", "notdoubleclick.net", "shop.com", 2*time.Minute),
			ev("4", "google-analytics.com", "shop.com", 3*time.Minute),
		)

		tests := []struct {
			name string
			q    Query
			want []string
		}{
			{"domain and subdomains", Query{Domain: "doubleclick.net"}, []string{"1", "2"}},
			{"domain case", Query{Domain: "DoubleClick.NET"}, []string{"1", "2"}},
			{"first party", Query{FirstParty: "shop.com"}, []string{"3", "4"}},
			{"since inclusive", Query{Since: base.Add(time.Minute)}, []string{"2", "3", "4"}},
			{"until exclusive", Query{Until: base.Add(2 * time.Minute)}, []string{"1", "2"}},
			{"limit keeps newest", Query{Limit: 2}, []string{"3", "4"}},
			{"combined", Query{FirstParty: "news.com", Since: base.Add(30 * time.Second)}, []string{"2"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				res, err := s.Query(ctx, tt.q)
				if err != nil {
					t.Fatalf("query: %v", err)
				}
				equalIDs(t, res.Events, tt.want...)
			})
		}
	})

	t.Run("round trips in-page data", func(t *testing.T) {
		s := open(t)
		e := ev("p", "site.com", "site.com", 0)
		e.TrackerType = event.TrackerTypeFingerprinting
		e.Risk = detection.RiskCritical
		e.InPage = &event.InPageTracking{
			Method:   detection.MethodWebRTCLeak,
			Details:  "RTCPeerConnection created",
			Evidence: []string{"RTCPeerConnection"},
		}
		if err := s.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
		res, _ := s.Query(ctx, Query{})
		if len(res.Events) != 1 {
			t.Fatalf("got %d events", len(res.Events))
		}
		got := res.Events[0]
		if !got.Timestamp.Equal(e.Timestamp) {
			t.Errorf("timestamp = %v, want %v", got.Timestamp, e.Timestamp)
		}
		if got.InPage == nil || got.InPage.Method != detection.MethodWebRTCLeak {
			t.Errorf("in-page = %+v", got.InPage)
		}
		if got.Risk != detection.RiskCritical {
			t.Errorf("risk = %s", got.Risk)
		}
	})

	t.Run("prune and reset", func(t *testing.T) {
		s := open(t)
		_ = s.Append(ctx,
			ev("old", "a.com", "", 0),
			ev("edge", "a.com", "", time.Hour),
			ev("new", "a.com", "", 2*time.Hour),
		)
		n, err := s.Prune(ctx, base.Add(time.Hour))
		if err != nil {
			t.Fatalf("prune: %v", err)
		}
		if n != 1 {
			t.Errorf("pruned %d, want 1", n)
		}
		res, _ := s.Query(ctx, Query{})
		equalIDs(t, res.Events, "edge", "new")

		if err := s.Reset(ctx); err != nil {
			t.Fatalf("reset: %v", err)
		}
		res, _ = s.Query(ctx, Query{})
		if len(res.Events) != 0 {
			t.Errorf("reset left %d events", len(res.Events))
		}
	})

	t.Run("closed", func(t *testing.T) {
		s := open(t)
		if err := s.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		if err := s.Append(ctx, ev("x", "a.com", "", 0)); !errors.Is(err, ErrClosed) {
			t.Errorf("append after close = %v", err)
		}
		if _, err := s.Query(ctx, Query{}); !errors.Is(err, ErrClosed) {
			t.Errorf("query after close = %v", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "events.db"))
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLiteStore_Corrupted(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	_ = s.Append(ctx, ev("good", "a.com", "", 0))
	if _, err := s.db.Exec(`INSERT INTO events (id, ts, domain, first_party, data) VALUES ('bad', ?, 'a.com', '', '{not json')`,
		base.Add(time.Minute).UnixMilli()); err != nil {
		t.Fatalf("insert raw row: %v", err)
	}

	res, err := s.Query(ctx, Query{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Status != StatusCorrupted || res.Corrupted != 1 {
		t.Errorf("status = %v corrupted = %d", res.Status, res.Corrupted)
	}
	equalIDs(t, res.Events, "good")
}

func TestSQLiteStore_DuplicateIDIgnored(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	_ = s.Append(ctx, ev("same", "a.com", "", 0))
	_ = s.Append(ctx, ev("same", "b.com", "", time.Minute))
	res, _ := s.Query(ctx, Query{})
	if len(res.Events) != 1 || res.Events[0].Domain != "a.com" {
		t.Errorf("events = %+v", res.Events)
	}
}

func TestNewSQLiteStore_EmptyPath(t *testing.T) {
	if _, err := NewSQLiteStore(""); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestRedisMemberCodec(t *testing.T) {
	e := ev("r", "a.com", "site.com", 0)
	data := []byte(`{"id":"r","timestamp":"2025-03-01T12:00:00Z","url":"https://a.com/x.js","domain":"a.com","first_party":"site.com","tracker_type":"analytics","risk_level":"low","description":"test"}`)
	m := encodeMember(42, data)
	if m[:20] != "00000000000000000042" {
		t.Errorf("member prefix = %q", m[:20])
	}
	seq, got, ok := decodeMember(m)
	if !ok || seq != 42 {
		t.Fatalf("decode = %d %v", seq, ok)
	}
	if got.ID != e.ID || got.FirstParty != e.FirstParty || !got.Timestamp.Equal(e.Timestamp) {
		t.Errorf("decoded %+v", got)
	}

	for _, bad := range []string{"", "nopipe", "x|{}", "1|{broken"} {
		if _, _, ok := decodeMember(bad); ok {
			t.Errorf("decodeMember(%q) should fail", bad)
		}
	}
}

func TestRedisScoreRange(t *testing.T) {
	r := scoreRange(time.Time{}, time.Time{})
	if r.Min != "-inf" || r.Max != "+inf" {
		t.Errorf("open range = %+v", r)
	}
	r = scoreRange(base, base.Add(time.Second))
	if r.Min != "1740830400000" || r.Max != "(1740830401000" {
		t.Errorf("bounded range = %+v", r)
	}
	r = scoreRange(base.Add(250*time.Microsecond), base.Add(time.Second+500*time.Microsecond))
	if r.Min != "1740830400000" || r.Max != "(1740830401001" {
		t.Errorf("sub-millisecond range = %+v", r)
	}

	// an event in the last partial millisecond is inside the range and Match keeps it
	until := base.Add(time.Second + 500*time.Microsecond)
	e := ev("late", "cdn.tracker.io", "site.com", 0)
	e.Timestamp = base.Add(time.Second + 200*time.Microsecond)
	if score := e.Timestamp.UnixMilli(); score >= 1740830401001 {
		t.Errorf("score %d outside max %s", score, r.Max)
	}
	if !(Query{Until: until}).Match(e) {
		t.Error("Match should keep an event before until")
	}
}

func TestQueryMatch(t *testing.T) {
	e := ev("m", "cdn.tracker.io", "site.com", 0)
	if !(Query{Domain: ".tracker.io"}).Match(e) {
		t.Error("leading dot should be ignored")
	}
	if (Query{Domain: "racker.io"}).Match(e) {
		t.Error("partial label must not match")
	}
	if !(Query{FirstParty: "SITE.com"}).Match(e) {
		t.Error("first party match is case-insensitive")
	}
}
