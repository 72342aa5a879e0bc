package collector

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/metrics"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/tracker"
)

func newCache(t *testing.T, m *metrics.Metrics) *ClassifyCache {
	t.Helper()
	cc, err := NewClassifyCache(context.Background(), tracker.NewClassifier(nil), 1, time.Minute, m)
	if err != nil {
		t.Fatalf("NewClassifyCache: %v", err)
	}
	t.Cleanup(func() { cc.Close() })
	return cc
}

func TestClassifyCacheMatchesClassifier(t *testing.T) {
	cc := newCache(t, nil)
	plain := tracker.NewClassifier(nil)

	urls := []string{
		gaURL,
		"https://stats.g.doubleclick.net/r/collect",
		"https://example.org/assets/app.js",
		"https://shop.example/pixel?id=1",
		"",
		"not a url at all",
	}
	for _, u := range urls {
		t.Run(u, func(t *testing.T) {
			want := plain.Classify(u)
			for i := 0; i < 2; i++ {
				got := cc.Classify(u)
				if (got == nil) != (want == nil) {
					t.Fatalf("pass %d: got %v, want %v", i, got, want)
				}
				if got != nil && *got != *want {
					t.Errorf("pass %d: got %+v, want %+v", i, *got, *want)
				}
			}
		})
	}
}

func TestClassifyCacheStoresNegatives(t *testing.T) {
	cc := newCache(t, nil)
	cc.Classify("https://example.org/a.js")
	cc.Classify("https://www.google-analytics.com/analytics.js")
	if n := cc.Len(); n != 2 {
		t.Errorf("Len() = %d, want 2", n)
	}
	// the cache key ignores case and surrounding space
	cc.Classify("  HTTPS://EXAMPLE.ORG/A.JS ")
	if n := cc.Len(); n != 2 {
		t.Errorf("Len() = %d after equivalent lookup, want 2", n)
	}
}

func TestClassifyCacheMetrics(t *testing.T) {
	m := metrics.NewRegistry()
	cc := newCache(t, m)

	cc.Classify(gaURL)
	cc.Classify(gaURL)
	cc.Classify("https://example.org/a.js")
	cc.Classify("")

	tests := map[string]float64{"tracker": 2, "clean": 1, "invalid": 1}
	for label, want := range tests {
		if got := testutil.ToFloat64(m.Classifications.WithLabelValues(label)); got != want {
			t.Errorf("classifications{%s} = %v, want %v", label, got, want)
		}
	}
}
