package tracker

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/event/detection"
)

func testDatabase(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(
		[]Info{
			{Domain: "tracker.com", Name: "Tracker", Category: CategoryAdvertising, Risk: detection.RiskHigh},
			{Domain: "cdn.tracker.com", Name: "Tracker CDN", Category: CategoryCDNAnalytics, Risk: detection.RiskLow},
			{Domain: "Analytics.Example", Name: "Example Analytics", Category: "analytics", Risk: "MEDIUM"},
		},
		[]Pattern{
			{Match: "/fp/", Name: "Fingerprinting endpoint", Category: CategoryFingerprinting, Risk: detection.RiskHigh},
			{Match: "/pixel", Name: "Tracking pixel", Category: CategoryAdvertising, Risk: detection.RiskMedium},
			{Match: "utm_", Name: "Campaign parameters", Category: CategoryAdvertising, Risk: detection.RiskLow},
		},
	)
	if err != nil {
		t.Fatalf("NewDatabase() error = %v", err)
	}
	return db
}

func TestClassify(t *testing.T) {
	c := NewClassifier(testDatabase(t))

	tests := []struct {
		name       string
		url        string
		wantNil    bool
		wantName   string
		wantDomain string
	}{
		{"exact domain", "https://tracker.com/script.js", false, "Tracker", "tracker.com"},
		{"subdomain suffix match", "https://foo.tracker.com/a", false, "Tracker", "tracker.com"},
		{"longest suffix wins", "https://img.cdn.tracker.com/x.gif", false, "Tracker CDN", "cdn.tracker.com"},
		{"entries are case-insensitive", "https://ANALYTICS.example/collect", false, "Example Analytics", "analytics.example"},
		{"missing scheme", "tracker.com/js", false, "Tracker", "tracker.com"},
		{"scheme-relative", "//foo.tracker.com/js", false, "Tracker", "tracker.com"},
		{"lookalike domain does not match", "https://nottracker.com/", true, "", ""},
		{"heuristic path pattern", "https://shop.example.org/fp/v3/load.js", false, "Fingerprinting endpoint", "shop.example.org"},
		{"heuristic query pattern", "https://news.example.org/?UTM_source=mail", false, "Campaign parameters", "news.example.org"},
		{"domain match beats pattern", "https://tracker.com/fp/", false, "Tracker", "tracker.com"},
		{"clean first party", "https://example.org/index.html", true, "", ""},
		{"empty", "", true, "", ""},
		{"garbage", "http://%zz", true, "", ""},
		{"space in host", "https://exa mple.com/pixel", true, "", ""},
		{"no host", "https:///pixel", true, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.url)
			if tt.wantNil {
				if got != nil {
					t.Errorf("Classify(%q) = %+v, want nil", tt.url, got)
				}
				return
			}
			if got == nil {
				t.Fatalf("Classify(%q) = nil", tt.url)
			}
			if got.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", got.Name, tt.wantName)
			}
			if got.Domain != tt.wantDomain {
				t.Errorf("Domain = %q, want %q", got.Domain, tt.wantDomain)
			}
		})
	}
}

func TestClassifyIdempotent(t *testing.T) {
	c := NewClassifier(testDatabase(t))
	for _, u := range []string{"https://foo.tracker.com/a", "https://x.org/pixel.gif", "https://x.org/"} {
		a, b := c.Classify(u), c.Classify(u)
		if !reflect.DeepEqual(a, b) {
			t.Errorf("Classify(%q) not idempotent: %+v vs %+v", u, a, b)
		}
	}
}

func TestClassifyReturnsCopies(t *testing.T) {
	c := NewClassifier(testDatabase(t))
	first := c.Classify("https://tracker.com/")
	first.Name = "mutated"
	if again := c.Classify("https://tracker.com/"); again.Name != "Tracker" {
		t.Errorf("database entry was mutated through a returned value: %q", again.Name)
	}
}

func TestClassifyConcurrent(t *testing.T) {
	c := NewClassifier(testDatabase(t))
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if c.Classify("https://a.tracker.com/") == nil {
					t.Error("expected a match")
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestNewDatabaseValidation(t *testing.T) {
	t.Run("empty domain", func(t *testing.T) {
		_, err := NewDatabase([]Info{{Domain: "  ", Category: CategoryAnalytics, Risk: detection.RiskLow}}, nil)
		if !errors.Is(err, ErrEmptyDomain) {
			t.Errorf("error = %v, want ErrEmptyDomain", err)
		}
	})

	t.Run("unknown category", func(t *testing.T) {
		_, err := NewDatabase([]Info{{Domain: "a.com", Category: "Spyware", Risk: detection.RiskLow}}, nil)
		if err == nil || !strings.Contains(err.Error(), "unknown category") {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("unknown risk", func(t *testing.T) {
		_, err := NewDatabase([]Info{{Domain: "a.com", Category: CategoryAnalytics, Risk: "severe"}}, nil)
		if err == nil || !strings.Contains(err.Error(), "unknown risk") {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("empty pattern", func(t *testing.T) {
		_, err := NewDatabase(nil, []Pattern{{Match: "", Category: CategoryAnalytics, Risk: detection.RiskLow}})
		if !errors.Is(err, ErrEmptyPattern) {
			t.Errorf("error = %v, want ErrEmptyPattern", err)
		}
	})

	t.Run("wildcard prefix and name default", func(t *testing.T) {
		db, err := NewDatabase([]Info{{Domain: "*.Wild.com.", Category: CategoryAnalytics, Risk: detection.RiskLow}}, nil)
		if err != nil {
			t.Fatalf("NewDatabase() error = %v", err)
		}
		info, ok := db.Lookup("x.wild.com")
		if !ok || info.Name != "wild.com" {
			t.Errorf("Lookup() = %+v, %v", info, ok)
		}
	})
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in   string
		want Category
		ok   bool
	}{
		{"Fingerprinting", CategoryFingerprinting, true},
		{"social-media", CategorySocialMedia, true},
		{"audience_measurement", CategoryAudienceMeasurement, true},
		{"cdn analytics", CategoryCDNAnalytics, true},
		{"malware", CategoryUnknown, false},
	}
	for _, tt := range tests {
		got, ok := ParseCategory(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseCategory(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
	if s := CategorySocialMedia.Slug(); s != "social-media" {
		t.Errorf("Slug() = %q", s)
	}
}

func TestMerge(t *testing.T) {
	base := testDatabase(t)
	ext, err := Load(strings.NewReader(`
trackers:
  - domain: tracker.com
    name: Tracker Override
    category: Fingerprinting
    risk: critical
  - domain: new-vendor.io
    name: New Vendor
    category: Analytics
    risk: medium
patterns:
  - match: /pixel
    name: Override pixel
    category: Analytics
    risk: low
  - match: /spy/
    name: Spy endpoint
    category: Fingerprinting
    risk: high
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	merged := base.Merge(ext)
	c := NewClassifier(merged)

	if got := c.Classify("https://tracker.com/"); got == nil || got.Name != "Tracker Override" || got.Risk != detection.RiskCritical {
		t.Errorf("override not applied: %+v", got)
	}
	if got := c.Classify("https://cdn.tracker.com/"); got == nil || got.Name != "Tracker CDN" {
		t.Errorf("built-in entry lost: %+v", got)
	}
	if got := c.Classify("https://new-vendor.io/"); got == nil {
		t.Error("extension entry missing")
	}
	if got := c.Classify("https://x.org/pixel.gif"); got == nil || got.Name != "Override pixel" {
		t.Errorf("extension pattern should take precedence: %+v", got)
	}
	if got := c.Classify("https://x.org/spy/1"); got == nil {
		t.Error("extension pattern missing")
	}
	if base.Len() != 3 {
		t.Errorf("base database changed: Len() = %d", base.Len())
	}
	if merged.Len() != 4 {
		t.Errorf("merged Len() = %d, want 4", merged.Len())
	}
	if ps := merged.Patterns(); len(ps) != 4 || ps[0].Match != "/pixel" {
		t.Errorf("merged patterns = %+v", ps)
	}
}

func TestLoadFile(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "trackers.yaml")
		content := "trackers:\n  - domain: local.test\n    name: Local\n    category: Analytics\n    risk: low\n"
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
		db, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile() error = %v", err)
		}
		if db.Len() != 1 {
			t.Errorf("Len() = %d, want 1", db.Len())
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := Load(strings.NewReader("trackers:\n  - domian: typo.com\n"))
		if err == nil {
			t.Error("expected error for unknown field")
		}
	})

	t.Run("empty file", func(t *testing.T) {
		db, err := Load(strings.NewReader(""))
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if db.Len() != 0 {
			t.Errorf("Len() = %d", db.Len())
		}
	})
}

func TestDefaultDatabase(t *testing.T) {
	db := Default()
	if db != Default() {
		t.Error("Default() should return the same instance")
	}
	if db.Len() < 20 {
		t.Errorf("embedded database has only %d entries", db.Len())
	}

	c := NewClassifier(nil)
	tests := []struct {
		url      string
		category Category
	}{
		{"https://stats.g.doubleclick.net/r/collect", CategoryAdvertising},
		{"https://www.google-analytics.com/g/collect?v=2", CategoryAnalytics},
		{"https://connect.facebook.net/en_US/fbevents.js", CategorySocialMedia},
		{"https://b.scorecardresearch.com/beacon.js", CategoryAudienceMeasurement},
		{"https://static.cloudflareinsights.com/beacon.min.js", CategoryCDNAnalytics},
		{"https://fpnpmcdn.fpjs.io/v3/agent", CategoryFingerprinting},
		{"https://cdn.example-shop.com/fp/agent.js", CategoryFingerprinting},
	}
	for _, tt := range tests {
		got := c.Classify(tt.url)
		if got == nil {
			t.Errorf("Classify(%q) = nil", tt.url)
			continue
		}
		if got.Category != tt.category {
			t.Errorf("Classify(%q).Category = %q, want %q", tt.url, got.Category, tt.category)
		}
	}

	if got := c.Classify("https://example.org/about"); got != nil {
		t.Errorf("benign URL classified as %+v", got)
	}
}

func TestHost(t *testing.T) {
	if h := Host("HTTPS://Foo.Example.COM./a?b"); h != "foo.example.com" {
		t.Errorf("Host() = %q", h)
	}
	if h := Host("::not a url"); h != "" {
		t.Errorf("Host() = %q, want empty", h)
	}
}
