package news

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMissingField is returned by NewRawItem when a required field is empty.
var ErrMissingField = errors.New("news: missing required field")

// RawItem is one collected entry from a feed.
type RawItem struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Source      string    `json:"source"`
	Published   time.Time `json:"published"`
	CollectedAt time.Time `json:"collected_at"`

	// CanonicalURL is filled by Dedupe with the normalized URL.
	CanonicalURL string `json:"canonical_url,omitempty"`
}

// NewRawItem validates the primary fields and stamps CollectedAt with the
// current instant.
func NewRawItem(url, title, source string, published time.Time) (RawItem, error) {
	url = strings.TrimSpace(url)
	title = strings.TrimSpace(title)
	source = strings.TrimSpace(source)

	switch {
	case url == "":
		return RawItem{}, fmt.Errorf("%w: url", ErrMissingField)
	case title == "":
		return RawItem{}, fmt.Errorf("%w: title", ErrMissingField)
	case source == "":
		return RawItem{}, fmt.Errorf("%w: source", ErrMissingField)
	case published.IsZero():
		return RawItem{}, fmt.Errorf("%w: published", ErrMissingField)
	}

	return RawItem{
		URL:         url,
		Title:       title,
		Source:      source,
		Published:   published.UTC(),
		CollectedAt: time.Now().UTC(),
	}, nil
}

// Link returns the canonical URL when known, otherwise the normalized URL.
func (it RawItem) Link() string {
	if it.CanonicalURL != "" {
		return it.CanonicalURL
	}
	return Normalize(it.URL)
}

// ScoredItem is a RawItem with its relevance score.
type ScoredItem struct {
	RawItem
	Score float64 `json:"score"`
	// MatchedTopics keeps topic configuration order.
	MatchedTopics []string `json:"matched_topics"`
}
