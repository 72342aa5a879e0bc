package analysis

import (
	"sort"
	"strings"
	"time"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/event"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/score"
)

// TrendPoint is the score of one sub-window
type TrendPoint struct {
	Start  time.Time   `json:"start"`
	End    time.Time   `json:"end"`
	Events int         `json:"events"`
	Score  int         `json:"score"`
	Grade  score.Grade `json:"grade"`
}

// DomainRisk is a first-party site that scored below HighRiskThreshold in
// at least one sub-window
type DomainRisk struct {
	Site        string    `json:"site"`
	WorstScore  int       `json:"worst_score"`
	WindowStart time.Time `json:"window_start"`
}

type Risk struct {
	Overall         score.PrivacyScore `json:"overall"`
	Trend           []TrendPoint       `json:"trend"`
	HighRiskDomains []DomainRisk       `json:"high_risk_domains"`
}

func assessRisk(events []event.TrackingEvent, rng TimeRange, opts Options) Risk {
	r := Risk{
		Overall:         score.Compute(events, allHTTPS(events)),
		Trend:           make([]TrendPoint, 0),
		HighRiskDomains: make([]DomainRisk, 0),
	}
	if len(events) == 0 {
		return r
	}

	worst := make(map[string]DomainRisk)
	for _, w := range subWindows(events, rng, opts.TrendWindow) {
		s := score.Compute(w.events, allHTTPS(w.events))
		r.Trend = append(r.Trend, TrendPoint{
			Start:  w.start,
			End:    w.end,
			Events: len(w.events),
			Score:  s.Score,
			Grade:  s.Grade,
		})

		for site, evs := range groupBySite(w.events) {
			siteScore := score.Compute(evs, allHTTPS(evs)).Score
			if siteScore >= HighRiskThreshold {
				continue
			}
			if cur, ok := worst[site]; !ok || siteScore < cur.WorstScore {
				worst[site] = DomainRisk{Site: site, WorstScore: siteScore, WindowStart: w.start}
			}
		}
	}

	for _, d := range worst {
		r.HighRiskDomains = append(r.HighRiskDomains, d)
	}
	sort.Slice(r.HighRiskDomains, func(i, j int) bool {
		a, b := r.HighRiskDomains[i], r.HighRiskDomains[j]
		if a.WorstScore != b.WorstScore {
			return a.WorstScore < b.WorstScore
		}
		return a.Site < b.Site
	})
	return r
}

type subWindow struct {
	start, end time.Time
	events     []event.TrackingEvent
}

// subWindows splits sorted events into consecutive windows of size d,
// aligned on rng.Start when set and on d otherwise. Empty windows between
// the first and last event are kept so the trend has no gaps.
func subWindows(events []event.TrackingEvent, rng TimeRange, d time.Duration) []subWindow {
	origin := rng.Start
	if origin.IsZero() {
		origin = events[0].Timestamp.UTC().Truncate(d)
	}
	last := events[len(events)-1].Timestamp
	n := int(last.Sub(origin)/d) + 1
	if n > maxBuckets {
		// too sparse to zero-fill; fall back to one window per occupied slot
		return sparseWindows(events, origin, d)
	}

	out := make([]subWindow, n)
	for i := range out {
		out[i].start = origin.Add(time.Duration(i) * d)
		out[i].end = out[i].start.Add(d)
	}
	for _, e := range events {
		i := int(e.Timestamp.Sub(origin) / d)
		if i >= 0 && i < n {
			out[i].events = append(out[i].events, e)
		}
	}
	return out
}

func sparseWindows(events []event.TrackingEvent, origin time.Time, d time.Duration) []subWindow {
	var out []subWindow
	for _, e := range events {
		i := int64(e.Timestamp.Sub(origin) / d)
		start := origin.Add(time.Duration(i) * d)
		if len(out) == 0 || !out[len(out)-1].start.Equal(start) {
			out = append(out, subWindow{start: start, end: start.Add(d)})
		}
		out[len(out)-1].events = append(out[len(out)-1].events, e)
	}
	return out
}

func groupBySite(events []event.TrackingEvent) map[string][]event.TrackingEvent {
	out := make(map[string][]event.TrackingEvent)
	for _, e := range events {
		if site := siteOf(e); site != "" {
			out[site] = append(out[site], e)
		}
	}
	return out
}

// allHTTPS reports whether every event URL uses https. An empty set counts
// as secure so that an empty window stays neutral.
func allHTTPS(events []event.TrackingEvent) bool {
	for _, e := range events {
		if !strings.HasPrefix(strings.ToLower(e.URL), "https://") {
			return false
		}
	}
	return true
}
