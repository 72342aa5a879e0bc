package tracker

import (
	"strings"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/event/detection"
)

// Category groups trackers by what they collect
type Category string

const (
	CategoryFingerprinting      Category = "Fingerprinting"
	CategoryAnalytics           Category = "Analytics"
	CategoryAdvertising         Category = "Advertising"
	CategorySocialMedia         Category = "Social Media"
	CategoryAudienceMeasurement Category = "Audience Measurement"
	CategoryCDNAnalytics        Category = "CDN Analytics"
	CategoryUnknown             Category = "Unknown"
)

var categories = []Category{
	CategoryFingerprinting,
	CategoryAnalytics,
	CategoryAdvertising,
	CategorySocialMedia,
	CategoryAudienceMeasurement,
	CategoryCDNAnalytics,
}

// ParseCategory matches s case-insensitively against the known categories.
// Hyphens and underscores are accepted in place of spaces.
func ParseCategory(s string) (Category, bool) {
	norm := strings.NewReplacer("-", " ", "_", " ").Replace(strings.TrimSpace(s))
	for _, c := range categories {
		if strings.EqualFold(norm, string(c)) {
			return c, true
		}
	}
	return CategoryUnknown, false
}

// Slug is the lower-case, hyphenated form stored on tracking events
// ("Social Media" -> "social-media").
func (c Category) Slug() string {
	if c == "" {
		return "unknown"
	}
	return strings.ReplaceAll(strings.ToLower(string(c)), " ", "-")
}

// Info describes a known tracker. Values handed out by the database are
// copies; the database itself never changes after construction.
type Info struct {
	Domain      string              `json:"domain" yaml:"domain"`
	Name        string              `json:"name" yaml:"name"`
	Category    Category            `json:"category" yaml:"category"`
	Description string              `json:"description" yaml:"description"`
	Risk        detection.RiskLevel `json:"risk" yaml:"risk"`
}

// Pattern is a heuristic fingerprint matched against the lower-cased path
// and query of a request whose host is not in the database.
type Pattern struct {
	Match       string              `json:"match" yaml:"match"`
	Name        string              `json:"name" yaml:"name"`
	Category    Category            `json:"category" yaml:"category"`
	Description string              `json:"description" yaml:"description"`
	Risk        detection.RiskLevel `json:"risk" yaml:"risk"`
}
