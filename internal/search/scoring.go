package search

import (
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	titleBoost  = 0.2
	phraseBoost = 0.3
	snippetLen  = 240
)

// Terms splits a query into lowercase, de-duplicated search terms.
func Terms(query string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, f := range strings.Fields(strings.ToLower(query)) {
		f = strings.Trim(f, `"'.,;:!?()[]{}`)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}

// KeywordRelevance scores a document against the query: the share of terms
// found in title or content, plus boosts for title hits and the exact phrase.
func KeywordRelevance(query, title, content string) float64 {
	terms := Terms(query)
	if len(terms) == 0 {
		return 0
	}
	title = strings.ToLower(title)
	content = strings.ToLower(content)

	matched, inTitle := 0, 0
	for _, t := range terms {
		hitTitle := strings.Contains(title, t)
		if hitTitle || strings.Contains(content, t) {
			matched++
		}
		if hitTitle {
			inTitle++
		}
	}
	if matched == 0 {
		return 0
	}

	score := float64(matched) / float64(len(terms))
	score += titleBoost * float64(inTitle) / float64(len(terms))
	if len(terms) > 1 {
		phrase := strings.Join(strings.Fields(strings.ToLower(query)), " ")
		if strings.Contains(content, phrase) || strings.Contains(title, phrase) {
			score += phraseBoost
		}
	}
	return clamp(score)
}

// Freshness decays with the age of the document.
func Freshness(updatedAt, now time.Time) float64 {
	if updatedAt.IsZero() {
		return 0
	}
	age := now.Sub(updatedAt)
	day := 24 * time.Hour
	switch {
	case age <= 7*day:
		return 1.0
	case age <= 30*day:
		return 0.8
	case age <= 90*day:
		return 0.6
	case age <= 180*day:
		return 0.4
	case age <= 365*day:
		return 0.2
	}
	return 0.1
}

// Popularity normalizes a hit counter against the most popular candidate.
func Popularity(hits, maxHits int64) float64 {
	if hits <= 0 || maxHits <= 0 {
		return 0
	}
	return clamp(math.Log1p(float64(hits)) / math.Log1p(float64(maxHits)))
}

func clamp(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	}
	return v
}

// foldRunes lower-cases rune by rune so indexes stay aligned with the input.
func foldRunes(rs []rune) []rune {
	out := make([]rune, len(rs))
	for i, r := range rs {
		out[i] = unicode.ToLower(r)
	}
	return out
}

// Snippet returns a window of content around the first matching term.
func Snippet(content string, terms []string) string {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) <= snippetLen {
		return content
	}
	runes := []rune(content)
	lower := foldRunes(runes)

	start := 0
	for _, t := range terms {
		if i := indexRunes(lower, foldRunes([]rune(t))); i >= 0 {
			start = i - snippetLen/4
			break
		}
	}
	if start < 0 {
		start = 0
	}
	end := start + snippetLen
	if end > len(runes) {
		end = len(runes)
		start = max(0, end-snippetLen)
	}

	out := strings.TrimSpace(string(runes[start:end]))
	if start > 0 {
		out = "..." + out
	}
	if end < len(runes) {
		out += "..."
	}
	return out
}

func indexRunes(haystack, needle []rune) int {
	if len(needle) == 0 {
		return -1
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j := range needle {
			if haystack[i+j] != needle[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}
