// Package digest renders selected items as a markdown report.
package digest

import (
	"fmt"
	"strings"
	"time"

	"github.com/deusflow/herald/internal/news"
)

// Mode selects how a pipeline run behaves. Both modes share every stage;
// they only differ in persistence and in the digest header.
type Mode int

const (
	// ModeNormal persists seen URLs and writes the digest to disk.
	ModeNormal Mode = iota
	// ModeDemo fetches live data and writes nothing.
	ModeDemo
)

func (m Mode) String() string {
	if m == ModeDemo {
		return "demo"
	}
	return "normal"
}

// Stats summarizes a run for the digest header.
type Stats struct {
	Kept  int
	Total int
}

// Report is everything Render needs.
type Report struct {
	Items       []news.ScoredItem
	Mode        Mode
	Stats       Stats
	NoTopics    bool
	Overview    string
	GeneratedAt time.Time
}

const noTopicsNote = "> No topics configured: showing every new item without relevance filtering."

// Render formats the report as markdown. It never fails; an empty report
// still has a header and a "Kept: 0" line.
func Render(r Report) string {
	var b strings.Builder

	at := r.GeneratedAt
	if at.IsZero() {
		at = time.Now()
	}
	date := at.Format("2006-01-02")

	if r.Mode == ModeDemo {
		fmt.Fprintf(&b, "# Herald Demo — %s (live fetch, not saved)\n\n", date)
	} else {
		fmt.Fprintf(&b, "# Herald Digest — %s\n\n", date)
	}

	fmt.Fprintf(&b, "Kept: %d of %d fetched\n\n", len(r.Items), r.Stats.Total)

	if r.NoTopics {
		b.WriteString(noTopicsNote)
		b.WriteString("\n\n")
	}

	if overview := strings.TrimSpace(r.Overview); overview != "" {
		b.WriteString("## Overview\n\n")
		b.WriteString(overview)
		b.WriteString("\n\n")
	}

	if len(r.Items) == 0 {
		b.WriteString("_No new items._\n")
		return b.String()
	}

	for i, it := range r.Items {
		b.WriteString(formatItem(i+1, it))
	}
	return b.String()
}

func formatItem(n int, it news.ScoredItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d. [%s](%s)\n", n, escapeTitle(it.Title), escapeURL(it.Link()))

	meta := []string{it.Source}
	if !it.Published.IsZero() {
		meta = append(meta, it.Published.UTC().Format("2006-01-02 15:04 UTC"))
	}
	if len(it.MatchedTopics) > 0 {
		meta = append(meta, "topics: "+strings.Join(it.MatchedTopics, ", "))
		meta = append(meta, fmt.Sprintf("score %s", formatScore(it.Score)))
	}
	fmt.Fprintf(&b, "   %s\n", strings.Join(meta, " · "))
	return b.String()
}

func formatScore(s float64) string {
	if s == float64(int64(s)) {
		return fmt.Sprintf("%d", int64(s))
	}
	return fmt.Sprintf("%.2f", s)
}

var titleEscaper = strings.NewReplacer(
	`\`, `\\`,
	`[`, `\[`,
	`]`, `\]`,
	"\n", " ",
	"\r", " ",
)

func escapeTitle(s string) string {
	return titleEscaper.Replace(strings.TrimSpace(s))
}

var urlEscaper = strings.NewReplacer(
	"(", "%28",
	")", "%29",
	" ", "%20",
)

func escapeURL(s string) string {
	return urlEscaper.Replace(s)
}
