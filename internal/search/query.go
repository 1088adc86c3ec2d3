// Package search turns a registered domain into a site-restricted web search
// and classifies the page that comes back.
package search

import (
	"net/url"
	"strings"
)

// Defaults used when the configuration leaves them empty.
const (
	DefaultBaseURL = "https://www.google.com/search"
	DefaultPhrase  = "family maternity leave paternity HR policy"
)

// BuildQueryURL returns the search URL restricting phrase to domain. The
// query is repeated in oq the way a browser address bar submits it.
func BuildQueryURL(base, phrase, domain string) string {
	if base == "" {
		base = DefaultBaseURL
	}
	if strings.TrimSpace(phrase) == "" {
		phrase = DefaultPhrase
	}
	terms := url.QueryEscape(strings.Join(strings.Fields(phrase), " ")) + "+site%3A" + url.QueryEscape(domain)

	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "q=" + terms + "&oq=" + terms + "&sourceid=chrome&ie=UTF-8"
}
