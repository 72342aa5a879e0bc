package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/analysis"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/collector"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/event"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/event/detection"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/metrics"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/score"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/store"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/summary"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/tracker"
	cfg "github.com/YrFnS/Phantom-Trail-sub001/pkg/config"
)

type Env struct {
	Cfg        cfg.Config
	Collector  *collector.Collector
	Classifier collector.Classifier
	Store      store.Store
	Generator  summary.Generator // optional; summaries fall back to a template
	HMACAuth   *HMACAuth
	Metrics    *metrics.Metrics
	// Ready reports whether dependencies (store, sinks) are usable
	Ready func(context.Context) error
}

func (e Env) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (e Env) Readyz(w http.ResponseWriter, r *http.Request) {
	if e.Ready != nil {
		if err := e.Ready(r.Context()); err != nil {
			log.Printf("http: not ready: %v", err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (e Env) HMACPublicKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if e.HMACAuth == nil {
		http.Error(w, "HMAC authentication not configured", http.StatusNotFound)
		return
	}
	publicKey := e.HMACAuth.GetPublicKeyBase64()
	if publicKey == "" {
		http.Error(w, "HMAC public key not available", http.StatusNotFound)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, map[string]string{
		"public_key": publicKey,
		"algorithm":  "HMAC-SHA256",
		"header":     HMACHeader,
	})
}

// readBody enforces method, content type, size limit and signature for
// POST endpoints. It writes the error response itself.
func (e Env) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "application/json") {
		http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
		return nil, false
	}
	defer r.Body.Close()

	limit := e.Cfg.MaxBodyBytes
	if limit <= 0 {
		limit = 1 << 20
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return nil, false
	}
	if e.HMACAuth != nil && !e.HMACAuth.VerifyHMAC(r, body) {
		http.Error(w, "invalid or missing HMAC signature", http.StatusUnauthorized)
		return nil, false
	}
	return body, true
}

// POST /v1/observe/request accepts one RequestObservation or an array.
func (e Env) ObserveRequest(w http.ResponseWriter, r *http.Request) {
	body, ok := e.readBody(w, r)
	if !ok {
		return
	}
	if e.Collector == nil {
		http.Error(w, "collector not configured", http.StatusServiceUnavailable)
		return
	}

	var batch []collector.RequestObservation
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(body, &batch); err != nil {
			http.Error(w, "invalid json array", http.StatusBadRequest)
			return
		}
	} else {
		var obs collector.RequestObservation
		if err := json.Unmarshal(body, &obs); err != nil {
			http.Error(w, "invalid json object", http.StatusBadRequest)
			return
		}
		batch = append(batch, obs)
	}

	events := []event.TrackingEvent{}
	for _, obs := range batch {
		ev, err := e.Collector.ObserveRequest(r.Context(), obs)
		if err != nil {
			log.Printf("http: observe request: %v", err)
			http.Error(w, "failed to record event", http.StatusInternalServerError)
			return
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}

	w.Header().Set("X-PhantomTrail-Accepted", strconv.Itoa(len(batch)))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted": len(batch),
		"detected": len(events),
		"events":   events,
	})
}

type pageRequest struct {
	TabID     string          `json:"tab_id"`
	PageURL   string          `json:"page_url"`
	Timestamp time.Time       `json:"timestamp"`
	Evidence  json.RawMessage `json:"evidence"`
}

// POST /v1/observe/page runs the analyzer named by evidence.method
func (e Env) ObservePage(w http.ResponseWriter, r *http.Request) {
	body, ok := e.readBody(w, r)
	if !ok {
		return
	}
	if e.Collector == nil {
		http.Error(w, "collector not configured", http.StatusServiceUnavailable)
		return
	}

	var req pageRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json object", http.StatusBadRequest)
		return
	}
	if len(req.Evidence) == 0 {
		http.Error(w, "evidence is required", http.StatusBadRequest)
		return
	}
	evidence, err := detection.DecodeEvidence(req.Evidence)
	if err != nil {
		http.Error(w, "invalid evidence: "+err.Error(), http.StatusBadRequest)
		return
	}

	res, ev, err := e.Collector.ObservePage(r.Context(), collector.PageObservation{
		TabID:     req.TabID,
		PageURL:   req.PageURL,
		Evidence:  evidence,
		Timestamp: req.Timestamp,
	})
	switch {
	case errors.Is(err, collector.ErrMissingPage):
		http.Error(w, "page_url is required", http.StatusBadRequest)
		return
	case err != nil:
		log.Printf("http: observe page: %v", err)
		http.Error(w, "failed to record event", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": res, "event": ev})
}

// POST /v1/tabs/close drops a tab's session
func (e Env) CloseTab(w http.ResponseWriter, r *http.Request) {
	body, ok := e.readBody(w, r)
	if !ok {
		return
	}
	if e.Collector == nil {
		http.Error(w, "collector not configured", http.StatusServiceUnavailable)
		return
	}
	var req struct {
		TabID string `json:"tab_id"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json object", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"closed": e.Collector.CloseTab(req.TabID)})
}

// GET /v1/classify?url=
func (e Env) Classify(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	raw := r.URL.Query().Get("url")
	if raw == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}
	c := e.Classifier
	if c == nil {
		c = tracker.NewClassifier(nil)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":     event.SanitizeURL(raw),
		"host":    tracker.Host(raw),
		"tracker": c.Classify(raw),
	})
}

// GET /v1/score?domain=&https=&since=&until=
func (e Env) Score(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	q, ok := parseQuery(w, r)
	if !ok {
		return
	}
	https, ok := parseBoolParam(w, r, "https")
	if !ok {
		return
	}
	events, err := e.events(r.Context(), q)
	if err != nil {
		log.Printf("http: score: %v", err)
		http.Error(w, "failed to load events", http.StatusInternalServerError)
		return
	}
	ps := score.Compute(events, https)
	e.Metrics.ObserveScore(ps.Score)
	writeJSON(w, http.StatusOK, ps)
}

// GET /v1/analysis?since=&until=&granularity=
func (e Env) Analysis(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	q, ok := parseQuery(w, r)
	if !ok {
		return
	}
	events, err := e.events(r.Context(), q)
	if err != nil {
		log.Printf("http: analysis: %v", err)
		http.Error(w, "failed to load events", http.StatusInternalServerError)
		return
	}
	opts := analysis.Options{Granularity: analysis.ParseGranularity(r.URL.Query().Get("granularity"))}
	writeJSON(w, http.StatusOK, analysis.Analyze(events, analysis.TimeRange{Start: q.Since, End: q.Until}, opts))
}

// GET /v1/events?domain=&site=&since=&until=&limit=
func (e Env) Events(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	q, ok := parseQuery(w, r)
	if !ok {
		return
	}
	events, err := e.events(r.Context(), q)
	if err != nil {
		log.Printf("http: events: %v", err)
		http.Error(w, "failed to load events", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(events), "events": events})
}

// GET /v1/summary?site=&since=&until=&https=
func (e Env) Summary(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	q, ok := parseQuery(w, r)
	if !ok {
		return
	}
	https, ok := parseBoolParam(w, r, "https")
	if !ok {
		return
	}
	events, err := e.events(r.Context(), q)
	if err != nil {
		log.Printf("http: summary: %v", err)
		http.Error(w, "failed to load events", http.StatusInternalServerError)
		return
	}
	rng := analysis.TimeRange{Start: q.Since, End: q.Until}
	s := summary.Build(events, score.Compute(events, https), analysis.Analyze(events, rng, analysis.Options{}))
	writeJSON(w, http.StatusOK, map[string]any{
		"summary":     s,
		"explanation": summary.Explain(r.Context(), e.Generator, s),
	})
}

func (e Env) events(ctx context.Context, q store.Query) ([]event.TrackingEvent, error) {
	if e.Store == nil {
		return []event.TrackingEvent{}, nil
	}
	return collector.LoadEvents(ctx, e.Store, q)
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// parseQuery reads the shared filter parameters. "domain" filters on the
// tracker host, "site" on the page's registrable domain.
func parseQuery(w http.ResponseWriter, r *http.Request) (store.Query, bool) {
	v := r.URL.Query()
	q := store.Query{Domain: v.Get("domain")}
	if site := v.Get("site"); site != "" {
		q.FirstParty = event.RegistrableDomain(site)
	}

	var err error
	if q.Since, err = parseTime(v.Get("since")); err != nil {
		http.Error(w, "invalid since: "+err.Error(), http.StatusBadRequest)
		return q, false
	}
	if q.Until, err = parseTime(v.Get("until")); err != nil {
		http.Error(w, "invalid until: "+err.Error(), http.StatusBadRequest)
		return q, false
	}
	if !q.Since.IsZero() && !q.Until.IsZero() && !q.Since.Before(q.Until) {
		http.Error(w, "since must be before until", http.StatusBadRequest)
		return q, false
	}
	if l := v.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return q, false
		}
		q.Limit = n
	}
	return q, true
}

// parseTime accepts RFC 3339 or Unix milliseconds
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}

func parseBoolParam(w http.ResponseWriter, r *http.Request, name string) (bool, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return false, true
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		http.Error(w, "invalid "+name, http.StatusBadRequest)
		return false, false
	}
	return b, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
