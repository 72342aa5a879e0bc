// Package collector turns raw browser observations into persisted tracking
// events. It owns one Session per tab, each with its own throttler, so
// deduplication state never leaks between tabs.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/event"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/event/detection"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/metrics"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/store"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/tracker"
)

// DefaultTab is used for observations that carry no tab id
const DefaultTab = "default"

// networkMethod is the metrics label of network detections
const networkMethod = "network"

var ErrMissingPage = errors.New("collector: page url is required")

// Classifier is satisfied by *tracker.Classifier and *ClassifyCache
type Classifier interface {
	Classify(rawURL string) *tracker.Info
}

// Config wires a Collector. Only Classifier is required.
type Config struct {
	Classifier Classifier
	Store      store.Store
	// Emit receives every persisted event, after the store accepted it
	Emit    func(event.TrackingEvent)
	Metrics *metrics.Metrics
	// Now defaults to time.Now
	Now func() time.Time
}

// RequestObservation is a network request seen in a tab
type RequestObservation struct {
	TabID     string    `json:"tab_id"`
	URL       string    `json:"url"`
	PageURL   string    `json:"page_url"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// PageObservation is in-page API activity seen in a tab
type PageObservation struct {
	TabID     string
	PageURL   string
	Evidence  detection.Evidence
	Timestamp time.Time
}

// Session is the per-tab state
type Session struct {
	TabID    string
	PageURL  string
	site     string
	lastSeen time.Time
	throttle *detection.Throttler
}

// tabView is a copy of a session's fields taken under the collector lock,
// so callers never read a Session that another request is updating
type tabView struct {
	TabID    string
	PageURL  string
	throttle *detection.Throttler
}

type Collector struct {
	classifier Classifier
	store      store.Store
	emit       func(event.TrackingEvent)
	metrics    *metrics.Metrics
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func New(cfg Config) *Collector {
	c := &Collector{
		classifier: cfg.Classifier,
		store:      cfg.Store,
		emit:       cfg.Emit,
		metrics:    cfg.Metrics,
		now:        cfg.Now,
		sessions:   make(map[string]*Session),
	}
	if c.classifier == nil {
		c.classifier = tracker.NewClassifier(nil)
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

func (c *Collector) at(ts time.Time) time.Time {
	if ts.IsZero() {
		return c.now()
	}
	return ts
}

// session returns a view of the tab's session, creating it on first use.
// The view's PageURL is pageURL, or the tab's last known page when pageURL
// is empty. Navigating to a different site starts the tab over with a
// fresh throttler.
func (c *Collector) session(tabID, pageURL string, now time.Time) tabView {
	if tabID == "" {
		tabID = DefaultTab
	}
	site := event.RegistrableDomain(tracker.Host(pageURL))

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[tabID]
	if !ok {
		s = &Session{TabID: tabID, throttle: detection.NewThrottler()}
		c.sessions[tabID] = s
		c.metrics.SetActiveSessions(len(c.sessions))
	}
	if pageURL != "" {
		if s.site != "" && site != s.site {
			s.throttle.Reset()
		}
		s.PageURL = pageURL
		s.site = site
	}
	s.lastSeen = now
	return tabView{TabID: s.TabID, PageURL: s.PageURL, throttle: s.throttle}
}

// ObserveRequest classifies a request made by a page. It returns the new
// event, or nil when the request is first-party, not a tracker, or a
// repeat of a recent detection.
func (c *Collector) ObserveRequest(ctx context.Context, obs RequestObservation) (*event.TrackingEvent, error) {
	now := c.at(obs.Timestamp)
	sess := c.session(obs.TabID, obs.PageURL, now)
	pageURL := sess.PageURL

	host := tracker.Host(obs.URL)
	if host == "" {
		return nil, nil
	}
	if page := event.RegistrableDomain(tracker.Host(pageURL)); page != "" && page == event.RegistrableDomain(host) {
		return nil, nil
	}

	info := c.classifier.Classify(obs.URL)
	if info == nil {
		return nil, nil
	}
	// network detections share the signature table under a category tag
	if !sess.throttle.ShouldEmit(detection.Method(networkMethod+":"+info.Category.Slug()), host, now) {
		c.metrics.IncrementSuppressed(networkMethod)
		return nil, nil
	}

	e := event.NewNetworkEvent(*info, obs.URL, pageURL, now)
	e.TabID = sess.TabID
	if err := c.record(ctx, e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ObservePage runs the analyzer for the evidence. Storage operations and
// mouse samples are folded into the tab's rolling windows first, so a
// single report is judged together with what the tab did before it.
// The analyzer result is always returned; the event is nil unless the
// detection was positive and not a recent repeat.
func (c *Collector) ObservePage(ctx context.Context, obs PageObservation) (detection.Result, *event.TrackingEvent, error) {
	now := c.at(obs.Timestamp)
	sess := c.session(obs.TabID, obs.PageURL, now)
	pageURL := sess.PageURL
	domain := tracker.Host(pageURL)
	if domain == "" {
		return detection.Analyze(nil), nil, ErrMissingPage
	}

	var res detection.Result
	switch ev := obs.Evidence.(type) {
	case detection.StorageEvidence:
		for _, op := range ev.Operations {
			sess.throttle.RecordStorageOp(domain, op, now)
		}
		res = detection.AnalyzeStorage(detection.StorageEvidence{
			Operations: sess.throttle.StorageOps(domain),
			Now:        ev.Now,
		})
	case detection.MouseEvidence:
		agg, ready := sess.throttle.RecordMouseSample(domain, ev.Events, ev.ElapsedMS, now)
		if !ready {
			return detection.Result{
				Method:      detection.MethodMouseTracking,
				Risk:        detection.RiskLow,
				Description: "Mouse movement observed",
				Details:     "sample buffered",
			}, nil, nil
		}
		res = detection.AnalyzeMouse(agg)
	default:
		res = detection.Analyze(obs.Evidence)
	}

	if !res.Detected {
		return res, nil, nil
	}
	if !sess.throttle.ShouldEmit(res.Method, domain, now) {
		c.metrics.IncrementSuppressed(string(res.Method))
		return res, nil, nil
	}

	e := event.NewInPageEvent(res, pageURL, now)
	e.TabID = sess.TabID
	if err := c.record(ctx, e); err != nil {
		return res, nil, err
	}
	return res, &e, nil
}

// ObserveStorageOp records a single storage access
func (c *Collector) ObserveStorageOp(ctx context.Context, tabID, pageURL string, op detection.StorageOp) (detection.Result, *event.TrackingEvent, error) {
	return c.ObservePage(ctx, PageObservation{
		TabID:     tabID,
		PageURL:   pageURL,
		Evidence:  detection.StorageEvidence{Operations: []detection.StorageOp{op}},
		Timestamp: op.At,
	})
}

// ObserveMouse records count mousemove events seen over windowMS
func (c *Collector) ObserveMouse(ctx context.Context, tabID, pageURL string, count int, windowMS float64) (detection.Result, *event.TrackingEvent, error) {
	return c.ObservePage(ctx, PageObservation{
		TabID:    tabID,
		PageURL:  pageURL,
		Evidence: detection.MouseEvidence{Events: count, ElapsedMS: windowMS},
	})
}

func (c *Collector) record(ctx context.Context, e event.TrackingEvent) error {
	if c.store != nil {
		if err := c.store.Append(ctx, e); err != nil {
			return fmt.Errorf("collector: persist %s: %w", e.ID, err)
		}
	}
	method := networkMethod
	if e.InPage != nil {
		method = string(e.InPage.Method)
	}
	c.metrics.IncrementDetections(method, string(e.Risk))
	if c.emit != nil {
		c.emit(e)
	}
	return nil
}

// CloseTab drops the tab's session and reports whether it existed
func (c *Collector) CloseTab(tabID string) bool {
	if tabID == "" {
		tabID = DefaultTab
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[tabID]
	delete(c.sessions, tabID)
	c.metrics.SetActiveSessions(len(c.sessions))
	return ok
}

// PruneSessions closes tabs idle for longer than idle and returns how many
// were dropped
func (c *Collector) PruneSessions(idle time.Duration) int {
	cutoff := c.now().Add(-idle)
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, s := range c.sessions {
		if s.lastSeen.Before(cutoff) {
			delete(c.sessions, id)
			n++
		}
	}
	c.metrics.SetActiveSessions(len(c.sessions))
	return n
}

// Sessions returns the number of open tab sessions
func (c *Collector) Sessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Events reads the collector's store through LoadEvents
func (c *Collector) Events(ctx context.Context, q store.Query) ([]event.TrackingEvent, error) {
	if c.store == nil {
		return []event.TrackingEvent{}, nil
	}
	return LoadEvents(ctx, c.store, q)
}

// LoadEvents queries st. A corrupted store is logged and reset, and the
// caller gets an empty window rather than a partial one.
func LoadEvents(ctx context.Context, st store.Store, q store.Query) ([]event.TrackingEvent, error) {
	res, err := st.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	if res.Status == store.StatusCorrupted {
		log.Printf("collector: store corrupted (%d unreadable records), resetting", res.Corrupted)
		if err := st.Reset(ctx); err != nil {
			return nil, fmt.Errorf("collector: reset corrupted store: %w", err)
		}
		return []event.TrackingEvent{}, nil
	}
	if res.Events == nil {
		return []event.TrackingEvent{}, nil
	}
	return res.Events, nil
}
