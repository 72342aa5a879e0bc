package summary

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/analysis"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/event"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/event/detection"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/score"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func fixture() []event.TrackingEvent {
	return []event.TrackingEvent{
		{ID: "1", Timestamp: base, URL: "https://ad.doubleclick.net/ddm/ad?uid=42&email=a@b.c#frag",
			Domain: "ad.doubleclick.net", FirstParty: "news.example", TrackerType: "advertising", Risk: detection.RiskHigh},
		{ID: "2", Timestamp: base.Add(time.Minute), URL: "https://ad.doubleclick.net/ddm/ad?uid=42",
			Domain: "ad.doubleclick.net", FirstParty: "shop.example", TrackerType: "advertising", Risk: detection.RiskHigh},
		{ID: "3", Timestamp: base.Add(2 * time.Minute), URL: "https://www.google-analytics.com/collect?cid=9",
			Domain: "www.google-analytics.com", FirstParty: "news.example", TrackerType: "analytics", Risk: detection.RiskMedium},
		{ID: "4", Timestamp: base.Add(3 * time.Minute), URL: "https://news.example/",
			Domain: "news.example", FirstParty: "news.example", TrackerType: event.TrackerTypeFingerprinting,
			Risk: detection.RiskHigh, InPage: &event.InPageTracking{Method: detection.MethodCanvasFingerprint}},
	}
}

func build(events []event.TrackingEvent) Summary {
	rng := analysis.TimeRange{Start: base, End: base.Add(time.Hour)}
	return Build(events, score.Compute(events, true), analysis.Analyze(events, rng, analysis.Options{}))
}

func TestBuild(t *testing.T) {
	s := build(fixture())

	if s.Events != 4 || s.High != 3 || s.Medium != 1 || s.Critical != 0 || s.Low != 0 {
		t.Errorf("counts = %+v", s)
	}
	if got := strings.Join(s.Sites, ","); got != "news.example,shop.example" {
		t.Errorf("sites = %q", got)
	}
	if len(s.Methods) != 1 || s.Methods[0] != (Count{Name: "canvas-fingerprint", Count: 1}) {
		t.Errorf("methods = %+v", s.Methods)
	}
	if len(s.TrackerTypes) != 2 || s.TrackerTypes[0] != (Count{Name: "advertising", Count: 2}) {
		t.Errorf("tracker types = %+v", s.TrackerTypes)
	}
	if s.Score != score.Compute(fixture(), true).Score {
		t.Errorf("score = %d", s.Score)
	}

	t.Run("samples are newest first without query strings", func(t *testing.T) {
		if len(s.Samples) != 4 {
			t.Fatalf("samples = %d", len(s.Samples))
		}
		if s.Samples[0].Kind != "canvas-fingerprint" {
			t.Errorf("first sample = %+v", s.Samples[0])
		}
		for _, smp := range s.Samples {
			if strings.ContainsAny(smp.URL, "?#") || strings.Contains(smp.URL, "uid") {
				t.Errorf("sample url leaks query: %q", smp.URL)
			}
		}
		if s.Samples[3].URL != "https://ad.doubleclick.net/ddm/ad" {
			t.Errorf("oldest sample url = %q", s.Samples[3].URL)
		}
	})

	t.Run("samples are capped", func(t *testing.T) {
		var many []event.TrackingEvent
		for i := 0; i < MaxSamples+5; i++ {
			many = append(many, event.TrackingEvent{ID: string(rune('a' + i)), Timestamp: base.Add(time.Duration(i) * time.Second),
				Domain: "t.example", Risk: detection.RiskLow, TrackerType: "analytics"})
		}
		got := build(many)
		if len(got.Samples) != MaxSamples {
			t.Errorf("samples = %d, want %d", len(got.Samples), MaxSamples)
		}
		if !got.Samples[0].Timestamp.Equal(base.Add(time.Duration(MaxSamples+4) * time.Second)) {
			t.Errorf("newest sample at %v", got.Samples[0].Timestamp)
		}
	})
}

func TestBuildEmpty(t *testing.T) {
	s := build(nil)
	if s.Events != 0 || len(s.Samples) != 0 || len(s.Sites) != 0 {
		t.Errorf("empty summary = %+v", s)
	}
	if s.Score != 100 {
		t.Errorf("score = %d", s.Score)
	}
}

func TestPrompt(t *testing.T) {
	s := build(fixture())
	p := Prompt(s)

	if p != Prompt(build(fixture())) {
		t.Error("prompt should be deterministic")
	}
	for _, want := range []string{
		"Window: 2026-03-01T09:00:00Z to 2026-03-01T10:00:00Z",
		"Events: 4 (critical 0, high 3, medium 1, low 0)",
		"Sites: news.example, shop.example",
		"In-page techniques: canvas-fingerprint=1",
		"high canvas-fingerprint news.example",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}
	if strings.Contains(p, "uid=42") || strings.Contains(p, "cid=9") {
		t.Errorf("prompt leaks query parameters:\n%s", p)
	}
}

func TestExplain(t *testing.T) {
	ctx := context.Background()
	s := build(fixture())

	tests := []struct {
		name string
		gen  Generator
		want string
	}{
		{"no generator", nil, Template(s)},
		{"generated", GeneratorFunc(func(_ context.Context, p string) (string, error) {
			if !strings.HasPrefix(p, "Privacy activity summary") {
				return "", errors.New("unexpected prompt")
			}
			return "  Three trackers followed you.\n", nil
		}), "Three trackers followed you."},
		{"generator error", GeneratorFunc(func(context.Context, string) (string, error) {
			return "", errors.New("unavailable")
		}), Template(s)},
		{"empty answer", GeneratorFunc(func(context.Context, string) (string, error) {
			return "   ", nil
		}), Template(s)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Explain(ctx, tt.gen, s); got != tt.want {
				t.Errorf("Explain() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTemplate(t *testing.T) {
	if got := Template(build(nil)); !strings.HasPrefix(got, "No tracking was detected.") {
		t.Errorf("empty template = %q", got)
	}

	got := Template(build(fixture()))
	for _, want := range []string{"from 4 tracking events", "across 2 site(s)", "canvas-fingerprint"} {
		if !strings.Contains(got, want) {
			t.Errorf("template missing %q: %q", want, got)
		}
	}

	pw := fixture()
	pw = append(pw, event.TrackingEvent{ID: "5", Timestamp: base, Domain: "news.example", FirstParty: "news.example",
		TrackerType: event.TrackerTypeFingerprinting, Risk: detection.RiskCritical,
		InPage: &event.InPageTracking{Method: detection.MethodFormMonitoring, Evidence: []string{"password"}}})
	if got := Template(build(pw)); !strings.Contains(got, "password") {
		t.Errorf("template should warn about password monitoring: %q", got)
	}
}
