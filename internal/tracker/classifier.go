package tracker

import (
	"net/url"
	"strings"
)

// Classifier matches request URLs against a Database. It holds no mutable
// state and may be shared between goroutines.
type Classifier struct {
	db *Database
}

// NewClassifier wraps db; a nil db uses Default()
func NewClassifier(db *Database) *Classifier {
	if db == nil {
		db = Default()
	}
	return &Classifier{db: db}
}

// Database returns the database the classifier reads
func (c *Classifier) Database() *Database { return c.db }

// Classify returns the tracker a request URL belongs to, or nil when it is
// not a known tracker. Malformed input classifies as nil.
//
// Known domains are matched first (subdomains included). Heuristic path
// patterns are only consulted when no domain matches; the synthesized Info
// then carries the request host as its domain.
func (c *Classifier) Classify(rawURL string) *Info {
	u, ok := parseLoose(rawURL)
	if !ok {
		return nil
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if !validHost(host) {
		return nil
	}

	if info, ok := c.db.Lookup(host); ok {
		return &info
	}

	target := strings.ToLower(u.EscapedPath())
	if u.RawQuery != "" {
		target += "?" + strings.ToLower(u.RawQuery)
	}
	if p, ok := c.db.MatchPattern(target); ok {
		return &Info{
			Domain:      host,
			Name:        p.Name,
			Category:    p.Category,
			Description: p.Description,
			Risk:        p.Risk,
		}
	}
	return nil
}

// Host extracts the lower-cased hostname of rawURL using the same lenient
// parsing as Classify. It returns "" for malformed input.
func Host(rawURL string) string {
	u, ok := parseLoose(rawURL)
	if !ok {
		return ""
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if !validHost(host) {
		return ""
	}
	return host
}

// parseLoose accepts absolute URLs, scheme-relative URLs and bare
// host/path strings
func parseLoose(raw string) (*url.URL, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	switch {
	case strings.HasPrefix(raw, "//"):
		raw = "https:" + raw
	case !strings.Contains(raw, "://"):
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, false
	}
	return u, true
}

func validHost(host string) bool {
	if host == "" || len(host) > 253 {
		return false
	}
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '.', r == '-', r == '_', r == ':', r == '[', r == ']':
		default:
			return false
		}
	}
	return true
}
