package event

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/event/detection"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/tracker"
)

// Normalize fills the fields the server can set safely on events handed
// in from outside (imports, the CLI, older stores) and coerces the rest
// into the known enums.
func Normalize(e *TrackingEvent, now time.Time) {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now.UTC()
	}
	e.URL = SanitizeURL(e.URL)
	e.Risk = detection.ParseRiskLevel(string(e.Risk))

	e.Domain = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(e.Domain)), ".")
	if e.Domain == "" {
		e.Domain = tracker.Host(e.URL)
	}
	if e.FirstParty != "" {
		e.FirstParty = RegistrableDomain(e.FirstParty)
	}
	if e.TrackerType == "" {
		e.TrackerType = TrackerTypeUnknown
	}
	e.TrackerType = strings.ToLower(e.TrackerType)

	if e.InPage != nil {
		e.InPage.Method = detection.ParseMethod(string(e.InPage.Method))
		if e.InPage.Frequency < 0 {
			e.InPage.Frequency = 0
		}
	}
}

// trackingParams are query keys that identify a click or campaign.
// Keys ending in "_" match as prefixes.
var trackingParams = []string{
	"utm_",
	"gclid", "gclsrc", "gbraid", "wbraid", "dclid",
	"fbclid", "fbc", "fbp",
	"msclkid",
	"ttclid", "li_fat_id", "epik", "twclid", "yclid",
	"mc_eid", "_hsenc", "_hsmi",
}

// TrackingParams returns the sorted click-id and campaign parameter names
// present in rawURL's query. Sanitization drops them, so callers that want
// to report them must look before persisting.
func TrackingParams(rawURL string) []string {
	i := strings.IndexByte(rawURL, '?')
	if i < 0 {
		return nil
	}
	rest := rawURL[i+1:]
	if j := strings.IndexByte(rest, '#'); j >= 0 {
		rest = rest[:j]
	}
	q, err := url.ParseQuery(rest)
	if err != nil && len(q) == 0 {
		return nil
	}

	var found []string
	for key := range q {
		k := strings.ToLower(strings.TrimSpace(key))
		if matchesTrackingParam(k) {
			found = append(found, k)
		}
	}
	sort.Strings(found)
	return found
}

func matchesTrackingParam(key string) bool {
	for _, p := range trackingParams {
		if strings.HasSuffix(p, "_") {
			if strings.HasPrefix(key, p) && len(key) > len(p) {
				return true
			}
			continue
		}
		if key == p {
			return true
		}
	}
	return false
}
