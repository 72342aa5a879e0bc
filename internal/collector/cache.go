package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/metrics"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/tracker"
)

// maxCachedURL bounds cache keys; longer URLs are classified uncached
const maxCachedURL = 2048

// noMatch marks a cached negative classification
var noMatch = []byte("null")

// ClassifyCache memoizes classifier results in a bigcache keyed by URL.
// Pages fire the same beacon and script URLs over and over, so most
// lookups after warm-up never reach the suffix walk.
type ClassifyCache struct {
	classifier *tracker.Classifier
	cache      *bigcache.BigCache
	metrics    *metrics.Metrics
}

// NewClassifyCache sizes the cache at maxMB megabytes with entries living
// for ttl. m may be nil.
func NewClassifyCache(ctx context.Context, c *tracker.Classifier, maxMB int, ttl time.Duration, m *metrics.Metrics) (*ClassifyCache, error) {
	if c == nil {
		c = tracker.NewClassifier(nil)
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if maxMB <= 0 {
		maxMB = 16
	}
	cfg := bigcache.DefaultConfig(ttl)
	cfg.Shards = 64
	cfg.MaxEntrySize = 512
	cfg.MaxEntriesInWindow = 10000
	cfg.HardMaxCacheSize = maxMB
	cfg.CleanWindow = ttl / 2
	cfg.Verbose = false

	cache, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("collector: classify cache: %w", err)
	}
	return &ClassifyCache{classifier: c, cache: cache, metrics: m}, nil
}

// Classify behaves like tracker.Classifier.Classify
func (cc *ClassifyCache) Classify(rawURL string) *tracker.Info {
	key := strings.ToLower(strings.TrimSpace(rawURL))
	if key == "" || len(key) > maxCachedURL {
		return cc.classify(rawURL)
	}

	if b, err := cc.cache.Get(key); err == nil {
		if info, ok := decodeInfo(b); ok {
			cc.count(rawURL, info)
			return info
		}
	} else if !errors.Is(err, bigcache.ErrEntryNotFound) {
		return cc.classify(rawURL)
	}

	info := cc.classify(rawURL)
	b := noMatch
	if info != nil {
		if enc, err := json.Marshal(info); err == nil {
			b = enc
		}
	}
	_ = cc.cache.Set(key, b)
	return info
}

func (cc *ClassifyCache) classify(rawURL string) *tracker.Info {
	info := cc.classifier.Classify(rawURL)
	cc.count(rawURL, info)
	return info
}

func (cc *ClassifyCache) count(rawURL string, info *tracker.Info) {
	switch {
	case info != nil:
		cc.metrics.IncrementClassifications("tracker")
	case tracker.Host(rawURL) == "":
		cc.metrics.IncrementClassifications("invalid")
	default:
		cc.metrics.IncrementClassifications("clean")
	}
}

// Len reports the number of cached URLs
func (cc *ClassifyCache) Len() int { return cc.cache.Len() }

func (cc *ClassifyCache) Close() error { return cc.cache.Close() }

func decodeInfo(b []byte) (*tracker.Info, bool) {
	if string(b) == string(noMatch) {
		return nil, true
	}
	var info tracker.Info
	if err := json.Unmarshal(b, &info); err != nil {
		return nil, false
	}
	return &info, true
}
