// Package normalizer turns arbitrary URL strings into the canonical domain
// key used throughout the rest of the engine as the Site Config Store's
// primary key.
package normalizer

import (
	"net/url"
	"regexp"
	"strings"
)

// Invalid is the sentinel domain returned for input that doesn't parse as an
// absolute http(s) URL with a non-empty host.
const Invalid = "invalid"

// bareHostPattern matches a schemeless string that already looks like a
// normalized hostname (letters, digits, dots, hyphens only) so that
// re-feeding NormalizeDomain's own output back in stays idempotent.
var bareHostPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?)*$`)

// twoLabelSuffixes are public suffixes that consume two labels instead of one
// when computing the registrable domain (e.g. "co.uk", not just "uk").
var twoLabelSuffixes = map[string]struct{}{
	"co.uk": {}, "org.uk": {}, "ac.uk": {}, "gov.uk": {}, "net.uk": {},
	"co.jp": {}, "co.nz": {}, "co.za": {}, "com.au": {}, "com.br": {},
	"com.cn": {}, "com.mx": {}, "com.tr": {}, "co.in": {}, "co.kr": {},
}

// NormalizeDomain parses rawURL and returns a lowercase hostname with any
// leading "www." stripped. Returns Invalid when rawURL does not parse as an
// absolute URL with scheme http/https and a non-empty host.
//
// Schemeless input that already looks like a bare hostname (e.g. this
// function's own output, fed back in) is treated as if it had an http
// scheme, rather than rejected outright — this is what keeps the function
// idempotent: normalize(normalize(x)) == normalize(x).
func NormalizeDomain(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	u, err := url.Parse(trimmed)
	if err != nil {
		return Invalid
	}
	if u.Scheme == "" && bareHostPattern.MatchString(trimmed) {
		u, err = url.Parse("http://" + trimmed)
		if err != nil {
			return Invalid
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Invalid
	}
	host := u.Hostname()
	if host == "" {
		return Invalid
	}
	host = strings.ToLower(host)
	host = strings.TrimPrefix(host, "www.")
	return host
}

// GetBaseDomain returns the registrable domain for a normalized hostname,
// handling common two-label public suffixes (e.g. "co.uk").
func GetBaseDomain(domain string) string {
	if domain == "" || domain == Invalid {
		return domain
	}
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return domain
	}

	lastTwo := strings.Join(labels[len(labels)-2:], ".")
	if _, ok := twoLabelSuffixes[lastTwo]; ok && len(labels) >= 3 {
		return strings.Join(labels[len(labels)-3:], ".")
	}
	return lastTwo
}
