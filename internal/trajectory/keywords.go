package trajectory

import (
	"net/url"
	"sort"
	"strings"
	"unicode"
)

const (
	maxKeywords    = 10
	maxTitleTokens = 5
	maxPathTokens  = 3
	minTokenLength = 4
	sameTopicScore = 0.4
)

// Keywords aggregates tokens contributed by each entry (its category, up to
// 5 title tokens, up to 3 URL path tokens) into a frequency table and
// returns the top 10 by descending frequency, ties broken by first-seen
// order. The result is the proxy for the user's current topic.
func Keywords(entries []Entry) []string {
	counts := make(map[string]int)
	var order []string

	add := func(tok string) {
		if _, seen := counts[tok]; !seen {
			order = append(order, tok)
		}
		counts[tok]++
	}

	for _, e := range entries {
		if e.Category != "" {
			add(e.Category)
		}
		for _, tok := range tokenize(e.Title, maxTitleTokens) {
			add(tok)
		}
		for _, tok := range pathTokens(e.URL, maxPathTokens) {
			add(tok)
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	if len(order) > maxKeywords {
		order = order[:maxKeywords]
	}
	return order
}

// Similarity is |A∩B| / max(|A|,|B|). Either side empty scores 0.
func Similarity(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	shared := 0
	for _, s := range b {
		if _, ok := set[s]; ok {
			shared++
		}
	}

	denom := len(a)
	if len(b) > denom {
		denom = len(b)
	}
	return float64(shared) / float64(denom)
}

// SameTopic reports whether current still matches the previously suggested
// topic. An empty prior set means there is no topic to match, so the answer
// is false.
func SameTopic(current, prior []string) bool {
	if len(prior) == 0 {
		return false
	}
	return Similarity(current, prior) > sameTopicScore
}

// tokenize lowercases s, splits on non-alphanumeric runs, and keeps up to
// limit tokens longer than 3 characters.
func tokenize(s string, limit int) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var out []string
	for _, f := range fields {
		if len(f) < minTokenLength {
			continue
		}
		out = append(out, f)
		if len(out) == limit {
			break
		}
	}
	return out
}

func pathTokens(rawURL string, limit int) []string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return tokenize(u.Path, limit)
}
