package news

import "sort"

const (
	// DefaultMaxItems caps a digest when the configuration does not.
	DefaultMaxItems = 10
	// DemoMaxItems is the ceiling for demo runs regardless of configuration.
	DemoMaxItems = 10
)

// Select orders items by score (desc), then publish time (newest first),
// then input order, and returns at most max(0, maxItems) of them. The
// input slice is left untouched.
func Select(scored []ScoredItem, maxItems int) []ScoredItem {
	if maxItems <= 0 || len(scored) == 0 {
		return []ScoredItem{}
	}

	ranked := make([]ScoredItem, len(scored))
	copy(ranked, scored)

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Published.After(ranked[j].Published)
	})

	if len(ranked) > maxItems {
		ranked = ranked[:maxItems]
	}
	return ranked
}

// Relevant drops items that matched no topic. It is a no-op when keep is
// true, which is also how pass-through mode keeps every item.
func Relevant(scored []ScoredItem, keep bool) []ScoredItem {
	if keep {
		return scored
	}
	out := make([]ScoredItem, 0, len(scored))
	for _, s := range scored {
		if len(s.MatchedTopics) > 0 {
			out = append(out, s)
		}
	}
	return out
}
