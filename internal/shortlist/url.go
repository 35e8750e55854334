package shortlist

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var (
	fullURLRe = regexp.MustCompile(`https?://[^\s<>"'\)\]]+`)
	bareURLRe = regexp.MustCompile(`(?:^|\s)([a-zA-Z0-9][a-zA-Z0-9-]*(?:\.[a-zA-Z0-9][a-zA-Z0-9-]*)+/[^\s<>"'\)\]]*)`)
)

// trackingKeys are stripped during normalization so that the same page
// reached through different campaigns dedupes to one candidate.
var trackingKeys = map[string]bool{
	"gclid":  true,
	"fbclid": true,
	"ref":    true,
}

// ExtractSeedURLs pulls seed URLs out of a prompt and returns them with the
// remaining query text. Bare-domain URLs with a path are promoted to https.
func ExtractSeedURLs(prompt string) (seeds []string, query string) {
	query = prompt
	seen := make(map[string]bool)

	for _, match := range fullURLRe.FindAllString(prompt, -1) {
		u := strings.TrimRight(match, ".,;:!?")
		if !seen[u] {
			seen[u] = true
			seeds = append(seeds, u)
		}
		query = strings.Replace(query, match, " ", 1)
	}
	for _, groups := range bareURLRe.FindAllStringSubmatch(query, -1) {
		raw := strings.TrimRight(groups[1], ".,;:!?")
		u := "https://" + raw
		if !seen[u] {
			seen[u] = true
			seeds = append(seeds, u)
		}
		query = strings.Replace(query, groups[1], " ", 1)
	}

	query = strings.Join(strings.Fields(query), " ")
	return seeds, query
}

// NormalizeURL canonicalizes a URL for dedup: lowercase scheme and host,
// no fragment, tracking query keys removed, remaining keys sorted.
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for key := range q {
		if trackingKeys[key] || strings.HasPrefix(key, "utm_") {
			q.Del(key)
		}
	}
	u.RawQuery = sortedQuery(q)

	normalized := u.String()
	return strings.TrimSuffix(normalized, "?")
}

func sortedQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range q[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// Hostname returns the lowercase host of a URL, empty when unparseable.
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// noisePathSegments mark utility pages that rarely hold evidence.
var noisePathSegments = []string{
	"login", "signin", "signup", "register", "logout",
	"preferences", "settings", "account",
	"terms", "privacy", "cookie", "legal",
	"cart", "checkout", "subscribe", "newsletter",
}

// isNoisePath reports whether a URL path looks like a utility page.
func isNoisePath(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, seg := range noisePathSegments {
		if strings.Contains(path, seg) {
			return true
		}
	}
	return false
}
