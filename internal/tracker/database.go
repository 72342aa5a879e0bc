package tracker

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/event/detection"
)

var (
	ErrEmptyDomain  = errors.New("tracker: empty domain")
	ErrEmptyPattern = errors.New("tracker: empty pattern")
)

// bloomFalsePositive keeps the prefilter small; a false positive only
// costs one map lookup.
const bloomFalsePositive = 0.01

// Database is an immutable set of known tracker domains plus heuristic
// path patterns. It is safe for concurrent use.
type Database struct {
	entries  map[string]Info
	patterns []Pattern
	filter   *bloom.BloomFilter
}

// NewDatabase validates and indexes entries and patterns. Domains are
// lower-cased; a later entry for the same domain replaces an earlier one.
func NewDatabase(entries []Info, patterns []Pattern) (*Database, error) {
	db := &Database{
		entries:  make(map[string]Info, len(entries)),
		patterns: make([]Pattern, 0, len(patterns)),
	}
	for i, e := range entries {
		e, err := normalizeInfo(e)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		db.entries[e.Domain] = e
	}
	seen := make(map[string]bool, len(patterns))
	for i, p := range patterns {
		p, err := normalizePattern(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %d: %w", i, err)
		}
		if seen[p.Match] {
			continue
		}
		seen[p.Match] = true
		db.patterns = append(db.patterns, p)
	}
	db.buildFilter()
	return db, nil
}

func (db *Database) buildFilter() {
	n := uint(len(db.entries))
	if n < 64 {
		n = 64
	}
	db.filter = bloom.NewWithEstimates(n, bloomFalsePositive)
	for domain := range db.entries {
		db.filter.AddString(domain)
	}
}

func normalizeInfo(e Info) (Info, error) {
	e.Domain = normalizeDomain(e.Domain)
	if e.Domain == "" {
		return Info{}, ErrEmptyDomain
	}
	cat, ok := ParseCategory(string(e.Category))
	if !ok {
		return Info{}, fmt.Errorf("%s: unknown category %q", e.Domain, e.Category)
	}
	e.Category = cat
	risk := detection.RiskLevel(strings.ToLower(strings.TrimSpace(string(e.Risk))))
	if !risk.Valid() {
		return Info{}, fmt.Errorf("%s: unknown risk %q", e.Domain, e.Risk)
	}
	e.Risk = risk
	if e.Name == "" {
		e.Name = e.Domain
	}
	return e, nil
}

func normalizePattern(p Pattern) (Pattern, error) {
	p.Match = strings.ToLower(strings.TrimSpace(p.Match))
	if p.Match == "" {
		return Pattern{}, ErrEmptyPattern
	}
	cat, ok := ParseCategory(string(p.Category))
	if !ok {
		return Pattern{}, fmt.Errorf("%s: unknown category %q", p.Match, p.Category)
	}
	p.Category = cat
	risk := detection.RiskLevel(strings.ToLower(strings.TrimSpace(string(p.Risk))))
	if !risk.Valid() {
		return Pattern{}, fmt.Errorf("%s: unknown risk %q", p.Match, p.Risk)
	}
	p.Risk = risk
	return p, nil
}

func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	d = strings.TrimPrefix(d, "*.")
	return strings.Trim(d, ".")
}

// Lookup finds the entry for host or its closest registered parent
// domain. foo.tracker.com matches tracker.com; the longest suffix wins.
func (db *Database) Lookup(host string) (Info, bool) {
	host = normalizeDomain(host)
	for host != "" {
		if db.filter.TestString(host) {
			if e, ok := db.entries[host]; ok {
				return e, true
			}
		}
		i := strings.IndexByte(host, '.')
		if i < 0 {
			break
		}
		host = host[i+1:]
	}
	return Info{}, false
}

// MatchPattern returns the first heuristic pattern contained in
// pathQuery, which must already be lower-cased.
func (db *Database) MatchPattern(pathQuery string) (Pattern, bool) {
	for _, p := range db.patterns {
		if strings.Contains(pathQuery, p.Match) {
			return p, true
		}
	}
	return Pattern{}, false
}

// Merge returns a new database where ext's entries replace db's for the
// same domain and ext's patterns are tried before db's.
func (db *Database) Merge(ext *Database) *Database {
	if ext == nil {
		return db
	}
	out := &Database{
		entries:  make(map[string]Info, len(db.entries)+len(ext.entries)),
		patterns: make([]Pattern, 0, len(db.patterns)+len(ext.patterns)),
	}
	for d, e := range db.entries {
		out.entries[d] = e
	}
	for d, e := range ext.entries {
		out.entries[d] = e
	}
	seen := make(map[string]bool)
	for _, list := range [][]Pattern{ext.patterns, db.patterns} {
		for _, p := range list {
			if !seen[p.Match] {
				seen[p.Match] = true
				out.patterns = append(out.patterns, p)
			}
		}
	}
	out.buildFilter()
	return out
}

// Entries returns every known tracker sorted by domain
func (db *Database) Entries() []Info {
	out := make([]Info, 0, len(db.entries))
	for _, e := range db.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// Patterns returns the heuristic patterns in match order
func (db *Database) Patterns() []Pattern {
	return append([]Pattern(nil), db.patterns...)
}

// Len is the number of known tracker domains
func (db *Database) Len() int { return len(db.entries) }
