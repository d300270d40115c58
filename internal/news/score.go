package news

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Topic is a named bucket of keywords with a weight.
type Topic struct {
	Name     string
	Weight   float64
	Keywords []string
}

// Topics is the ordered keyword configuration. An empty Topics means no
// relevance filtering: every item scores 0 and is kept.
type Topics []Topic

// Scorer scores item titles against a fixed set of topics.
type Scorer struct {
	topics        Topics
	sourceWeights map[string]float64
}

// ScorerOption customizes a Scorer.
type ScorerOption func(*Scorer)

// WithSourceWeights multiplies an item's total score by the weight of the
// feed it came from. Sources without an entry keep weight 1.
func WithSourceWeights(weights map[string]float64) ScorerOption {
	return func(s *Scorer) {
		s.sourceWeights = weights
	}
}

// NewScorer prepares topics for matching: keywords are trimmed and
// lower-cased, blanks are dropped and non-positive weights become 1. Topics
// left without keywords are ignored.
func NewScorer(topics Topics, opts ...ScorerOption) *Scorer {
	prepared := make(Topics, 0, len(topics))
	for _, t := range topics {
		weight := t.Weight
		if weight <= 0 {
			weight = 1
		}
		kws := make([]string, 0, len(t.Keywords))
		seen := make(map[string]bool, len(t.Keywords))
		for _, k := range t.Keywords {
			k = strings.ToLower(strings.TrimSpace(k))
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			kws = append(kws, k)
		}
		if len(kws) == 0 {
			continue
		}
		prepared = append(prepared, Topic{Name: t.Name, Weight: weight, Keywords: kws})
	}

	s := &Scorer{topics: prepared}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PassThrough reports whether no topic with keywords is configured.
func (s *Scorer) PassThrough() bool {
	return len(s.topics) == 0
}

// Score counts distinct keyword matches per topic in the item title and
// sums them multiplied by topic weight.
func (s *Scorer) Score(it RawItem) ScoredItem {
	scored := ScoredItem{RawItem: it, MatchedTopics: []string{}}
	if s.PassThrough() {
		return scored
	}

	title := strings.ToLower(it.Title)
	for _, t := range s.topics {
		matched := 0
		for _, k := range t.Keywords {
			if containsWord(title, k) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		scored.Score += float64(matched) * t.Weight
		scored.MatchedTopics = append(scored.MatchedTopics, t.Name)
	}

	if w, ok := s.sourceWeights[it.Source]; ok && w > 0 {
		scored.Score *= w
	}
	return scored
}

// ScoreAll scores items in order.
func (s *Scorer) ScoreAll(items []RawItem) []ScoredItem {
	out := make([]ScoredItem, 0, len(items))
	for _, it := range items {
		out = append(out, s.Score(it))
	}
	return out
}

// containsWord finds keyword in text only where it is not glued to other
// letters or digits, so "ai" does not match "said". Both arguments must
// already be lower-cased.
func containsWord(text, keyword string) bool {
	if keyword == "" {
		return false
	}
	for start := 0; start <= len(text)-len(keyword); {
		i := strings.Index(text[start:], keyword)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(keyword)

		before, _ := utf8.DecodeLastRuneInString(text[:i])
		after, _ := utf8.DecodeRuneInString(text[end:])
		if !isWordRune(before) && !isWordRune(after) {
			return true
		}

		_, size := utf8.DecodeRuneInString(text[i:])
		start = i + size
	}
	return false
}

func isWordRune(r rune) bool {
	if r == utf8.RuneError {
		return false
	}
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}
