package analysis

import (
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/event"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/event/detection"
)

// TrackerStat is one row of the tracker ranking
type TrackerStat struct {
	Domain      string              `json:"domain"`
	Name        string              `json:"name,omitempty"`
	TrackerType string              `json:"tracker_type"`
	Count       int                 `json:"count"`
	LastSeen    time.Time           `json:"last_seen"`
	HighestRisk detection.RiskLevel `json:"highest_risk"`
}

// CrossSiteTracker is a tracker seen under two or more first-party sites
type CrossSiteTracker struct {
	Tracker string   `json:"tracker"`
	Sites   []string `json:"sites"`
}

type Patterns struct {
	TopTrackers []TrackerStat      `json:"top_trackers"`
	CrossSite   []CrossSiteTracker `json:"cross_site"`
}

func analyzePatterns(events []event.TrackingEvent, opts Options) Patterns {
	return Patterns{
		TopTrackers: rankTrackers(events, opts.TopN),
		CrossSite:   crossSite(events),
	}
}

// rankTrackers orders domains by event count, then most recent sighting,
// then domain name
func rankTrackers(events []event.TrackingEvent, topN int) []TrackerStat {
	byDomain := make(map[string]*TrackerStat)
	for _, e := range events {
		if e.Domain == "" {
			continue
		}
		st, ok := byDomain[e.Domain]
		if !ok {
			st = &TrackerStat{Domain: e.Domain, TrackerType: e.TrackerType, HighestRisk: detection.RiskLow}
			byDomain[e.Domain] = st
		}
		st.Count++
		if e.Timestamp.After(st.LastSeen) {
			st.LastSeen = e.Timestamp
		}
		if st.Name == "" {
			st.Name = e.TrackerName
		}
		if r := detection.ParseRiskLevel(string(e.Risk)); r.Rank() > st.HighestRisk.Rank() {
			st.HighestRisk = r
		}
	}

	out := make([]TrackerStat, 0, len(byDomain))
	for _, st := range byDomain {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if !a.LastSeen.Equal(b.LastSeen) {
			return a.LastSeen.After(b.LastSeen)
		}
		return a.Domain < b.Domain
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

// crossSite groups trackers by registrable domain and keeps those seen
// under at least two distinct first-party sites. A tracker is never
// counted under its own site.
func crossSite(events []event.TrackingEvent) []CrossSiteTracker {
	sites := make(map[string]mapset.Set[string])
	for _, e := range events {
		site := siteOf(e)
		tr := event.RegistrableDomain(e.Domain)
		if site == "" || tr == "" || tr == site {
			continue
		}
		s, ok := sites[tr]
		if !ok {
			s = mapset.NewThreadUnsafeSet[string]()
			sites[tr] = s
		}
		s.Add(site)
	}

	out := make([]CrossSiteTracker, 0)
	for tr, s := range sites {
		if s.Cardinality() < 2 {
			continue
		}
		list := s.ToSlice()
		sort.Strings(list)
		out = append(out, CrossSiteTracker{Tracker: tr, Sites: list})
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].Sites) != len(out[j].Sites) {
			return len(out[i].Sites) > len(out[j].Sites)
		}
		return out[i].Tracker < out[j].Tracker
	})
	return out
}
