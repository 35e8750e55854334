package shortlist

import (
	"sort"
	"strings"
)

// stopwords filtered out of keyphrase candidates. Deliberately small and
// language-light; the extractor is frequency-based, not linguistic.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"of": true, "in": true, "on": true, "at": true, "to": true, "for": true,
	"with": true, "from": true, "by": true, "as": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "it": true, "its": true,
	"this": true, "that": true, "these": true, "those": true, "what": true,
	"which": true, "who": true, "how": true, "when": true, "where": true,
	"why": true, "do": true, "does": true, "did": true, "can": true,
	"could": true, "should": true, "would": true, "will": true, "about": true,
	"into": true, "than": true, "then": true, "there": true, "their": true,
	"they": true, "them": true, "we": true, "our": true, "you": true,
	"your": true, "i": true, "me": true, "my": true, "not": true, "no": true,
	"if": true, "so": true, "up": true, "out": true, "all": true, "any": true,
	"more": true, "most": true, "some": true, "such": true, "please": true,
}

const maxKeyphrases = 12

// ExtractKeyphrases scores stopword-filtered tokens and adjacent bigrams by
// frequency and returns the top phrases. Falls back to the unique lowercased
// tokens of the query when nothing scores.
func ExtractKeyphrases(text string) []string {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	freq := make(map[string]int)
	var order []string
	bump := func(phrase string, weight int) {
		if freq[phrase] == 0 {
			order = append(order, phrase)
		}
		freq[phrase] += weight
	}

	var prev string
	for _, tok := range tokens {
		if stopwords[tok] || len(tok) < 3 {
			prev = ""
			continue
		}
		bump(tok, 1)
		// Bigrams of adjacent content words outrank their parts.
		if prev != "" {
			bump(prev+" "+tok, 3)
		}
		prev = tok
	}

	if len(order) == 0 {
		return uniqueTokens(tokens)
	}

	sort.SliceStable(order, func(i, j int) bool {
		return freq[order[i]] > freq[order[j]]
	})
	if len(order) > maxKeyphrases {
		order = order[:maxKeyphrases]
	}
	return order
}

// KeyphraseOverlap is the fraction of phrases present in the content.
func KeyphraseOverlap(phrases []string, content string) float64 {
	if len(phrases) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	hits := 0
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			hits++
		}
	}
	return float64(hits) / float64(len(phrases))
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return false
		case r >= 0x80: // keep non-ASCII letters together
			return false
		}
		return true
	})
}

func uniqueTokens(tokens []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range tokens {
		if len(tok) < 3 || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	if len(out) > maxKeyphrases {
		out = out[:maxKeyphrases]
	}
	return out
}
