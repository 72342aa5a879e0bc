package event

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// SanitizeURL strips the query string, fragment and any user info from
// rawURL. Input that does not parse is cut at the first '?' or '#'.
func SanitizeURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
			return rawURL[:i]
		}
		return rawURL
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	return u.String()
}

// RegistrableDomain returns the eTLD+1 of host ("a.b.example.co.uk" ->
// "example.co.uk"). Hosts without one (IPs, localhost, bare suffixes) are
// returned lower-cased as they are.
func RegistrableDomain(host string) string {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "" || net.ParseIP(host) != nil {
		return host
	}
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return host
}

// CompanyLabel is the heuristic "company" behind a tracker domain: the
// first label of its registrable domain ("stats.g.doubleclick.net" ->
// "doubleclick"). Brands spread over several registrable domains count
// as several companies.
func CompanyLabel(domain string) string {
	d := RegistrableDomain(domain)
	if i := strings.IndexByte(d, '.'); i > 0 {
		return d[:i]
	}
	return d
}
