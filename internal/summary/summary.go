// Package summary condenses tracking events into a privacy-safe digest for
// an external text generator, and renders a plain explanation when no
// generator is available.
package summary

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/analysis"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/event"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/event/detection"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/score"
)

// MaxSamples bounds the number of example requests carried in a summary
const MaxSamples = 10

// Sample is one recent detection with its URL reduced to scheme, host and path
type Sample struct {
	Timestamp time.Time           `json:"timestamp"`
	URL       string              `json:"url,omitempty"`
	Domain    string              `json:"domain"`
	Kind      string              `json:"kind"` // tracker type or in-page method
	Risk      detection.RiskLevel `json:"risk_level"`
}

type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type Summary struct {
	Range           analysis.TimeRange `json:"range"`
	Events          int                `json:"events"`
	Score           int                `json:"score"`
	Grade           score.Grade        `json:"grade"`
	Critical        int                `json:"critical"`
	High            int                `json:"high"`
	Medium          int                `json:"medium"`
	Low             int                `json:"low"`
	Sites           []string           `json:"sites"`
	Companies       []string           `json:"companies"`
	TrackerTypes    []Count            `json:"tracker_types"`
	Methods         []Count            `json:"methods"`
	TopTrackers     []Count            `json:"top_trackers"`
	CrossSite       []string           `json:"cross_site"`
	Anomalies       int                `json:"anomalies"`
	PasswordRisk    bool               `json:"password_risk"`
	Recommendations []string           `json:"recommendations"`
	Samples         []Sample           `json:"samples"`
}

// Build digests events together with their score and analysis report.
// Nothing that could identify the user beyond hostnames and paths is kept.
func Build(events []event.TrackingEvent, ps score.PrivacyScore, report analysis.Report) Summary {
	s := Summary{
		Range:           report.Range,
		Events:          len(events),
		Score:           ps.Score,
		Grade:           ps.Grade,
		PasswordRisk:    ps.Breakdown.PasswordMonitoring,
		Companies:       append([]string{}, ps.Breakdown.Companies...),
		Recommendations: append([]string{}, ps.Recommendations...),
		Anomalies:       len(report.Timeline.Anomalies),
	}

	sites := mapset.NewThreadUnsafeSet[string]()
	types := map[string]int{}
	methods := map[string]int{}
	for _, e := range events {
		switch e.Risk {
		case detection.RiskCritical:
			s.Critical++
		case detection.RiskHigh:
			s.High++
		case detection.RiskMedium:
			s.Medium++
		default:
			s.Low++
		}
		if e.FirstParty != "" {
			sites.Add(e.FirstParty)
		}
		if e.InPage != nil {
			methods[string(e.InPage.Method)]++
		} else {
			types[e.TrackerType]++
		}
		if e.IsPasswordMonitoring() {
			s.PasswordRisk = true
		}
	}
	s.Sites = sites.ToSlice()
	sort.Strings(s.Sites)
	s.TrackerTypes = sortedCounts(types)
	s.Methods = sortedCounts(methods)

	for _, t := range report.Patterns.TopTrackers {
		s.TopTrackers = append(s.TopTrackers, Count{Name: t.Domain, Count: t.Count})
	}
	for _, c := range report.Patterns.CrossSite {
		s.CrossSite = append(s.CrossSite, c.Tracker)
	}
	s.Samples = samples(events)
	return s
}

func sortedCounts(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Name: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// samples keeps the newest MaxSamples events, newest first
func samples(events []event.TrackingEvent) []Sample {
	sorted := make([]event.TrackingEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})
	if len(sorted) > MaxSamples {
		sorted = sorted[:MaxSamples]
	}
	out := make([]Sample, 0, len(sorted))
	for _, e := range sorted {
		kind := e.TrackerType
		if e.InPage != nil {
			kind = string(e.InPage.Method)
		}
		out = append(out, Sample{
			Timestamp: e.Timestamp,
			URL:       event.SanitizeURL(e.URL),
			Domain:    e.Domain,
			Kind:      kind,
			Risk:      e.Risk,
		})
	}
	return out
}

// Prompt renders s as stable plain text. Equal summaries give equal prompts.
func Prompt(s Summary) string {
	var b strings.Builder
	b.WriteString("Privacy activity summary\n")
	if !s.Range.Start.IsZero() || !s.Range.End.IsZero() {
		fmt.Fprintf(&b, "Window: %s to %s\n", stamp(s.Range.Start), stamp(s.Range.End))
	}
	fmt.Fprintf(&b, "Score: %d (%s)\n", s.Score, s.Grade)
	fmt.Fprintf(&b, "Events: %d (critical %d, high %d, medium %d, low %d)\n",
		s.Events, s.Critical, s.High, s.Medium, s.Low)
	writeList(&b, "Sites", s.Sites)
	writeList(&b, "Companies", s.Companies)
	writeCounts(&b, "Tracker types", s.TrackerTypes)
	writeCounts(&b, "In-page techniques", s.Methods)
	writeCounts(&b, "Top trackers", s.TopTrackers)
	writeList(&b, "Cross-site trackers", s.CrossSite)
	if s.Anomalies > 0 {
		fmt.Fprintf(&b, "Activity spikes: %d\n", s.Anomalies)
	}
	if s.PasswordRisk {
		b.WriteString("Warning: a page monitored password fields\n")
	}
	if len(s.Samples) > 0 {
		b.WriteString("Recent detections:\n")
		for _, smp := range s.Samples {
			fmt.Fprintf(&b, "- %s %s %s %s\n", stamp(smp.Timestamp), smp.Risk, smp.Kind, smp.Domain)
		}
	}
	writeList(&b, "Recommendations", s.Recommendations)
	return b.String()
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", title, strings.Join(items, ", "))
}

func writeCounts(b *strings.Builder, title string, counts []Count) {
	if len(counts) == 0 {
		return
	}
	parts := make([]string, len(counts))
	for i, c := range counts {
		parts[i] = fmt.Sprintf("%s=%d", c.Name, c.Count)
	}
	fmt.Fprintf(b, "%s: %s\n", title, strings.Join(parts, ", "))
}

// Generator turns a prompt into prose. Implementations live outside this
// module.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Explain asks gen to explain s. A nil generator, a failed call or an
// empty answer all fall back to Template.
func Explain(ctx context.Context, gen Generator, s Summary) string {
	if gen == nil {
		return Template(s)
	}
	text, err := gen.Generate(ctx, Prompt(s))
	if err != nil {
		log.Printf("summary: generator failed, using template: %v", err)
		return Template(s)
	}
	if text = strings.TrimSpace(text); text == "" {
		return Template(s)
	}
	return text
}

// Template is the built-in explanation
func Template(s Summary) string {
	if s.Events == 0 {
		return fmt.Sprintf("No tracking was detected. Privacy score %d (%s).", s.Score, s.Grade)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Privacy score %d (%s) from %d tracking events", s.Score, s.Grade, s.Events)
	if len(s.Sites) > 0 {
		fmt.Fprintf(&b, " across %d site(s)", len(s.Sites))
	}
	b.WriteString(".")
	if len(s.Companies) > 0 {
		fmt.Fprintf(&b, " Companies involved: %s.", strings.Join(s.Companies, ", "))
	}
	if s.Critical+s.High > 0 {
		fmt.Fprintf(&b, " %d event(s) were high risk or worse.", s.Critical+s.High)
	}
	if len(s.Methods) > 0 {
		fmt.Fprintf(&b, " The most frequent in-page technique was %s.", s.Methods[0].Name)
	}
	if len(s.CrossSite) > 0 {
		fmt.Fprintf(&b, " %s followed you across sites.", strings.Join(s.CrossSite, ", "))
	}
	if s.PasswordRisk {
		b.WriteString(" A page watched password fields; avoid entering credentials there.")
	}
	if len(s.Recommendations) > 0 {
		fmt.Fprintf(&b, " Suggested: %s", s.Recommendations[0])
	}
	return b.String()
}
