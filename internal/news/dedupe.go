package news

import (
	"strings"
	"unicode"
)

// DefaultTitleSimilarity is the Jaccard similarity above which two titles
// are treated as the same story.
const DefaultTitleSimilarity = 0.75

// SeenSet answers whether a normalized URL was already digested.
type SeenSet interface {
	Contains(url string) bool
}

// DedupeStats counts why items were dropped.
type DedupeStats struct {
	Input        int
	InvalidURL   int
	Seen         int
	DuplicateURL int
	SimilarTitle int
	Kept         int
}

// Dropped returns the number of items removed by Dedupe.
func (s DedupeStats) Dropped() int {
	return s.InvalidURL + s.Seen + s.DuplicateURL + s.SimilarTitle
}

var titleStopWords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "to": true,
	"in": true, "on": true, "for": true, "and": true, "or": true,
}

// Dedupe removes items with rejected or already seen URLs, later items that
// share a normalized URL with any earlier item (kept or not) and later items
// whose title is more similar than threshold to a kept title. Input order is preserved and
// seen is never modified. Kept items carry CanonicalURL.
func Dedupe(items []RawItem, seen SeenSet, threshold float64) ([]RawItem, DedupeStats) {
	stats := DedupeStats{Input: len(items)}
	if threshold <= 0 {
		threshold = DefaultTitleSimilarity
	}

	out := make([]RawItem, 0, len(items))
	urls := make(map[string]struct{}, len(items))
	var titles []map[string]struct{}

	for _, it := range items {
		canonical := Normalize(it.URL)
		if canonical == "" {
			stats.InvalidURL++
			continue
		}
		if seen != nil && seen.Contains(canonical) {
			stats.Seen++
			continue
		}
		if _, dup := urls[canonical]; dup {
			stats.DuplicateURL++
			continue
		}
		// Claimed even if the title collapses below.
		urls[canonical] = struct{}{}

		tokens := titleTokens(it.Title)
		if similarToAny(tokens, titles, threshold) {
			stats.SimilarTitle++
			continue
		}

		titles = append(titles, tokens)
		it.CanonicalURL = canonical
		out = append(out, it)
	}

	stats.Kept = len(out)
	return out, stats
}

func similarToAny(tokens map[string]struct{}, kept []map[string]struct{}, threshold float64) bool {
	if len(tokens) == 0 {
		return false
	}
	for _, other := range kept {
		if TitleSimilarity(tokens, other) > threshold {
			return true
		}
	}
	return false
}

// TitleSimilarity is the Jaccard index of two token sets.
func TitleSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for t := range a {
		if _, ok := b[t]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	return float64(shared) / float64(union)
}

// titleTokens lower-cases a title, splits it on anything that is not a
// letter or digit and drops stop words.
func titleTokens(title string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if titleStopWords[w] {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}
