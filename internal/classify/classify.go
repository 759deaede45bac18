// Package classify maps URLs to coarse activity categories via a static
// domain lookup table.
package classify

import (
	"net/url"
	"strings"
)

// CategoryGeneral is returned for domains not present in the table and for
// URLs that cannot be parsed.
const CategoryGeneral = "general"

type tableEntry struct {
	domain   string
	category string
}

// categoryTable is ordered: suffix matching returns the first hit, so more
// specific domains (mail.google.com) must precede broader ones.
var categoryTable = []tableEntry{
	{"github.com", "coding"},
	{"stackoverflow.com", "coding"},
	{"gitlab.com", "coding"},
	{"bitbucket.org", "coding"},
	{"npmjs.com", "coding"},
	{"pypi.org", "coding"},
	{"go.dev", "coding"},
	{"developer.mozilla.org", "coding"},
	{"mail.google.com", "email"},
	{"gmail.com", "email"},
	{"outlook.com", "email"},
	{"mail.yahoo.com", "email"},
	{"proton.me", "email"},
	{"calendar.google.com", "calendar"},
	{"calendly.com", "calendar"},
	{"docs.google.com", "docs"},
	{"sheets.google.com", "docs"},
	{"drive.google.com", "docs"},
	{"notion.so", "docs"},
	{"atlassian.net", "docs"},
	{"twitter.com", "social"},
	{"x.com", "social"},
	{"facebook.com", "social"},
	{"instagram.com", "social"},
	{"reddit.com", "social"},
	{"linkedin.com", "social"},
	{"amazon.com", "shopping"},
	{"ebay.com", "shopping"},
	{"etsy.com", "shopping"},
	{"aliexpress.com", "shopping"},
	{"youtube.com", "video"},
	{"netflix.com", "video"},
	{"twitch.tv", "video"},
	{"vimeo.com", "video"},
	{"chatgpt.com", "ai"},
	{"chat.openai.com", "ai"},
	{"claude.ai", "ai"},
	{"gemini.google.com", "ai"},
	{"perplexity.ai", "ai"},
	{"news.ycombinator.com", "news"},
	{"nytimes.com", "news"},
	{"bbc.com", "news"},
	{"theguardian.com", "news"},
	{"reuters.com", "news"},
}

var exactLookup = buildExactLookup()

func buildExactLookup() map[string]string {
	m := make(map[string]string, len(categoryTable))
	for _, e := range categoryTable {
		m[e.domain] = e.category
	}
	return m
}

// Categorize returns the category for rawURL. The hostname (with a leading
// "www." stripped) is looked up exactly first; otherwise the first table
// entry contained in the hostname wins. Substring containment is looser than
// a strict suffix check, which keeps international subdomains
// (de.mail.yahoo.com) matching at the cost of occasionally over-matching an
// unrelated hostname; that trade-off is deliberate.
// Malformed URLs categorize as "general", never as an error.
func Categorize(rawURL string) string {
	host := Hostname(rawURL)
	if host == "" {
		return CategoryGeneral
	}

	if cat, ok := exactLookup[host]; ok {
		return cat
	}

	for _, e := range categoryTable {
		if strings.Contains(host, e.domain) {
			return e.category
		}
	}

	return CategoryGeneral
}

// Hostname extracts the hostname from rawURL with a leading "www." removed.
// Returns "" when the URL cannot be parsed or has no host.
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}
