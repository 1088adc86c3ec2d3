// Package domainkey derives the registered-domain identity used to group
// organizations that share a website.
package domainkey

import (
	"net"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

// hasScheme matches a leading URL scheme. A "://" later in the string, for
// example inside a query parameter, does not count.
var hasScheme = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)

// FromURL returns the registered domain (eTLD+1) of rawURL. A scheme is
// assumed when missing. Private suffixes such as github.io count as public
// suffixes, so each site hosted under one gets its own key. The second return is false for empty input, IP
// hosts, bare public suffixes and anything that does not parse.
func FromURL(rawURL string) (string, bool) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", false
	}
	if !hasScheme.MatchString(rawURL) {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" || net.ParseIP(host) != nil {
		return "", false
	}
	host, err = idna.Lookup.ToASCII(host)
	if err != nil {
		return "", false
	}
	key, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", false
	}
	if !Valid(key) {
		return "", false
	}
	return key, true
}

// Valid reports whether key is safe to use as a storage key: lowercase
// letters, digits, hyphens and dots, with no empty labels.
func Valid(key string) bool {
	if key == "" || len(key) > 253 || strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") {
		return false
	}
	if strings.Contains(key, "..") {
		return false
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '.':
		default:
			return false
		}
	}
	return true
}
