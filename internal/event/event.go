package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/event/detection"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/tracker"
)

// Tracker types stored on events besides the tracker category slugs
const (
	TrackerTypeFingerprinting = "fingerprinting"
	TrackerTypeUnknown        = "unknown"
)

// TrackingEvent is one persisted detection. Events are append-only: once
// built they are never modified, only expired by retention.
type TrackingEvent struct {
	ID          string              `json:"id"`
	Timestamp   time.Time           `json:"timestamp"`
	URL         string              `json:"url"` // query and fragment stripped
	Domain      string              `json:"domain"`
	FirstParty  string              `json:"first_party,omitempty"` // registrable domain of the page
	TabID       string              `json:"tab_id,omitempty"`
	TrackerType string              `json:"tracker_type"`
	TrackerName string              `json:"tracker_name,omitempty"`
	Risk        detection.RiskLevel `json:"risk_level"`
	Description string              `json:"description"`
	InPage      *InPageTracking     `json:"in_page_tracking,omitempty"`
}

// InPageTracking carries the analyzer output behind an in-page event
type InPageTracking struct {
	Method    detection.Method `json:"method"`
	Details   string           `json:"details,omitempty"`
	Frequency int              `json:"frequency,omitempty"`
	Evidence  []string         `json:"evidence,omitempty"`
}

// NewID returns a random event id
func NewID() string { return uuid.NewString() }

// NewNetworkEvent builds an event for a request the classifier matched.
// pageURL is the document the tab was showing and may be empty.
func NewNetworkEvent(info tracker.Info, requestURL, pageURL string, at time.Time) TrackingEvent {
	domain := tracker.Host(requestURL)
	if domain == "" {
		domain = info.Domain
	}
	desc := info.Description
	if desc == "" {
		desc = info.Name
	}
	return TrackingEvent{
		ID:          NewID(),
		Timestamp:   at.UTC(),
		URL:         SanitizeURL(requestURL),
		Domain:      domain,
		FirstParty:  RegistrableDomain(tracker.Host(pageURL)),
		TrackerType: info.Category.Slug(),
		TrackerName: info.Name,
		Risk:        detection.ParseRiskLevel(string(info.Risk)),
		Description: desc,
	}
}

// NewInPageEvent builds an event from a positive analyzer result observed
// on pageURL
func NewInPageEvent(res detection.Result, pageURL string, at time.Time) TrackingEvent {
	host := tracker.Host(pageURL)
	return TrackingEvent{
		ID:          NewID(),
		Timestamp:   at.UTC(),
		URL:         SanitizeURL(pageURL),
		Domain:      host,
		FirstParty:  RegistrableDomain(host),
		TrackerType: TrackerTypeFingerprinting,
		Risk:        detection.ParseRiskLevel(string(res.Risk)),
		Description: res.Description,
		InPage: &InPageTracking{
			Method:    res.Method,
			Details:   res.Details,
			Frequency: res.Frequency,
			Evidence:  append([]string(nil), res.Evidence...),
		},
	}
}

// Method returns the in-page method of the event, or "" for network events
func (e TrackingEvent) Method() detection.Method {
	if e.InPage == nil {
		return ""
	}
	return e.InPage.Method
}

// IsPasswordMonitoring reports whether the event records a script
// listening on a password field
func (e TrackingEvent) IsPasswordMonitoring() bool {
	return e.InPage != nil &&
		e.InPage.Method == detection.MethodFormMonitoring &&
		e.Risk == detection.RiskCritical
}

// IsFingerprinting reports whether the event belongs to the fingerprinting
// class: in-page detections and trackers in the Fingerprinting category
func (e TrackingEvent) IsFingerprinting() bool {
	return e.TrackerType == TrackerTypeFingerprinting
}
