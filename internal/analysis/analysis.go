// Package analysis aggregates windows of tracking events into tracker
// rankings, cross-site correlation, score trends and timeline anomalies.
package analysis

import (
	"sort"
	"time"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/event"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/tracker"
)

// Granularity is the timeline bucket size
type Granularity string

const (
	GranularityHour Granularity = "hour"
	GranularityDay  Granularity = "day"
)

// ParseGranularity accepts "hour" and "day"; anything else is hour
func ParseGranularity(s string) Granularity {
	if Granularity(s) == GranularityDay {
		return GranularityDay
	}
	return GranularityHour
}

// Duration of one bucket
func (g Granularity) Duration() time.Duration {
	if g == GranularityDay {
		return 24 * time.Hour
	}
	return time.Hour
}

// Defaults applied to zero Options fields
const (
	DefaultTrendWindow     = time.Hour
	DefaultSpikeFactor     = 2.0
	DefaultTrailingBuckets = 6
	// HighRiskThreshold flags a site whose sub-window score falls below it
	HighRiskThreshold = 50
)

// TimeRange selects events with Start <= Timestamp < End. A zero bound is
// open.
type TimeRange struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// Contains reports whether t falls inside the range
func (r TimeRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && !t.Before(r.End) {
		return false
	}
	return true
}

// Options tune the aggregation. Zero values take the defaults.
type Options struct {
	TrendWindow     time.Duration
	Granularity     Granularity
	SpikeFactor     float64
	TrailingBuckets int
	// TopN limits TopTrackers; 0 keeps all
	TopN int
}

func (o Options) withDefaults() Options {
	if o.TrendWindow <= 0 {
		o.TrendWindow = DefaultTrendWindow
	}
	if o.Granularity != GranularityDay {
		o.Granularity = GranularityHour
	}
	if !(o.SpikeFactor > 0) {
		o.SpikeFactor = DefaultSpikeFactor
	}
	if o.TrailingBuckets <= 0 {
		o.TrailingBuckets = DefaultTrailingBuckets
	}
	if o.TopN < 0 {
		o.TopN = 0
	}
	return o
}

// Report is the full analysis of one event window
type Report struct {
	Range    TimeRange `json:"range"`
	Events   int       `json:"events"`
	Patterns Patterns  `json:"patterns"`
	Risk     Risk      `json:"risk"`
	Timeline Timeline  `json:"timeline"`
}

// Analyze filters events to rng and aggregates them. It never fails: an
// empty window yields empty slices and a perfect score.
func Analyze(events []event.TrackingEvent, rng TimeRange, opts Options) Report {
	opts = opts.withDefaults()
	window := filterSorted(events, rng)
	return Report{
		Range:    rng,
		Events:   len(window),
		Patterns: analyzePatterns(window, opts),
		Risk:     assessRisk(window, rng, opts),
		Timeline: buildTimeline(window, opts),
	}
}

// filterSorted copies the events inside rng and stable-sorts them by
// timestamp, so equal timestamps keep their input order
func filterSorted(events []event.TrackingEvent, rng TimeRange) []event.TrackingEvent {
	out := make([]event.TrackingEvent, 0, len(events))
	for _, e := range events {
		if rng.Contains(e.Timestamp) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// siteOf returns the first-party site an event was observed under. Network
// events without a recorded first party have none: their URL is the
// tracker's own.
func siteOf(e event.TrackingEvent) string {
	if e.FirstParty != "" {
		return e.FirstParty
	}
	if e.InPage != nil {
		return event.RegistrableDomain(tracker.Host(e.URL))
	}
	return ""
}
