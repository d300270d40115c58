package app

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/deusflow/herald/internal/config"
	"github.com/deusflow/herald/internal/digest"
	"github.com/deusflow/herald/internal/metrics"
	"github.com/deusflow/herald/internal/news"
	"github.com/deusflow/herald/internal/storage"
)

var (
	fixedNow = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	numbered = regexp.MustCompile(`^\d+\.`)
)

const keywordsYAML = `
keywords:
  ai: [ai, llm]
scoring:
  max_items: 50
`

type fakeFetcher struct {
	items []news.RawItem
	calls int
}

func (f *fakeFetcher) FetchAll(ctx context.Context, feeds []config.Feed) []news.RawItem {
	f.calls++
	out := make([]news.RawItem, len(f.items))
	copy(out, f.items)
	return out
}

type fakeSummarizer struct {
	text string
	err  error
}

func (s fakeSummarizer) Overview(ctx context.Context, items []news.ScoredItem) (string, error) {
	return s.text, s.err
}

type fakeNotifier struct {
	sent []string
	err  error
}

func (n *fakeNotifier) Notify(ctx context.Context, digest string) error {
	n.sent = append(n.sent, digest)
	return n.err
}

type failingStore struct{ storage.SeenStore }

func (failingStore) Load(ctx context.Context) error { return errors.New("disk on fire") }

func makeItems(n int, title string) []news.RawItem {
	items := make([]news.RawItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, news.RawItem{
			URL:         fmt.Sprintf("https://example.com/story/%d?utm_source=rss", i),
			Title:       fmt.Sprintf(title, i),
			Source:      "Test",
			Published:   fixedNow.Add(-time.Duration(i) * time.Minute),
			CollectedAt: fixedNow,
		})
	}
	return items
}

func mustConfig(t *testing.T, yml string) *config.Config {
	t.Helper()
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	cfg, err := config.Parse([]byte(yml))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

type dirs struct{ digests, raw, state string }

func newPipeline(t *testing.T, cfg *config.Config, f Fetcher, store storage.SeenStore, opts ...Option) (*Pipeline, dirs) {
	t.Helper()
	root := t.TempDir()
	d := dirs{
		digests: filepath.Join(root, "digests"),
		raw:     filepath.Join(root, "raw"),
		state:   filepath.Join(root, "state"),
	}
	base := []Option{
		WithDirs(d.digests, d.raw, d.state),
		WithClock(func() time.Time { return fixedNow }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(metrics.New()),
	}
	return New(cfg, f, store, append(base, opts...)...), d
}

func countNumbered(md string) int {
	n := 0
	for _, line := range strings.Split(md, "\n") {
		if numbered.MatchString(line) {
			n++
		}
	}
	return n
}

func TestDemoDoesNotPersist(t *testing.T) {
	seenPath := filepath.Join(t.TempDir(), "seen_urls.txt")
	original := "abc123 2026-10-01T00:00:00+00:00\n"
	if err := os.WriteFile(seenPath, []byte(original), 0o644); err != nil {
		t.Fatal(err)
	}
	store := storage.NewFileStore(seenPath, 90*24*time.Hour, storage.WithClock(func() time.Time { return fixedNow }))
	notifier := &fakeNotifier{}

	p, d := newPipeline(t, mustConfig(t, keywordsYAML), &fakeFetcher{items: makeItems(3, "AI story %d")}, store, WithNotifier(notifier))
	res, err := p.Run(context.Background(), digest.ModeDemo)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, _ := os.ReadFile(seenPath)
	if string(data) != original {
		t.Fatalf("seen file changed by demo: %q", data)
	}
	for _, dir := range []string{d.digests, d.raw, d.state} {
		if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("demo created %s", dir)
		}
	}
	if len(notifier.sent) != 0 {
		t.Fatal("demo must not notify")
	}
	if res.DigestPath != "" {
		t.Fatalf("demo reported digest path %q", res.DigestPath)
	}
	if !strings.Contains(res.Markdown, "# Herald Demo — 2026-10-19") || !strings.Contains(res.Markdown, "not saved") {
		t.Fatalf("demo header wrong:\n%s", res.Markdown)
	}
}

func TestDemoDoesNotPersistSQLite(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "seen.db")
	clock := storage.WithClock(func() time.Time { return fixedNow })

	seed, err := storage.OpenSQL(ctx, storage.DialectSQLite, dbPath, 0, clock)
	if err != nil {
		t.Fatal(err)
	}
	seed.Record("https://example.com/expired", fixedNow.Add(-200*24*time.Hour))
	seed.Record("https://example.com/story/0", fixedNow.Add(-time.Hour))
	if err := seed.Persist(ctx); err != nil {
		t.Fatal(err)
	}
	seed.Close()

	store, err := storage.OpenSQL(ctx, storage.DialectSQLite, dbPath, 90*24*time.Hour, clock)
	if err != nil {
		t.Fatal(err)
	}
	p, _ := newPipeline(t, mustConfig(t, keywordsYAML), &fakeFetcher{items: makeItems(3, "AI story %d")}, store)
	res, err := p.Run(ctx, digest.ModeDemo)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	store.Close()

	if len(res.Selected) != 2 {
		t.Fatalf("selected = %d, want 2 (story 0 already seen)", len(res.Selected))
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var rows int
	if err := db.QueryRow("SELECT COUNT(*) FROM seen_urls").Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 2 {
		t.Fatalf("rows after demo = %d, want 2", rows)
	}
}

func TestDemoHardCap(t *testing.T) {
	p, _ := newPipeline(t, mustConfig(t, keywordsYAML), &fakeFetcher{items: makeItems(20, "AI item %d")}, storage.NewMemoryStore())
	res, err := p.Run(context.Background(), digest.ModeDemo)
	if err != nil {
		t.Fatal(err)
	}
	if got := countNumbered(res.Markdown); got > 10 || got == 0 {
		t.Fatalf("numbered lines = %d, want 1..10", got)
	}
	if len(res.Selected) != news.DemoMaxItems {
		t.Fatalf("selected = %d, want %d", len(res.Selected), news.DemoMaxItems)
	}
}

func TestEmptyKeywordsKeepsAll(t *testing.T) {
	p, _ := newPipeline(t, mustConfig(t, ""), &fakeFetcher{items: makeItems(5, "Story number %d")}, storage.NewMemoryStore())
	res, err := p.Run(context.Background(), digest.ModeDemo)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Markdown, "Kept: 5") {
		t.Fatalf("expected Kept: 5:\n%s", res.Markdown)
	}
	if !strings.Contains(res.Markdown, "No topics configured") {
		t.Fatalf("missing pass-through notice:\n%s", res.Markdown)
	}
}

func TestKeywordlessTopicsKeepAll(t *testing.T) {
	cfg := mustConfig(t, "keywords:\n  ai: []\n  llm:\n")
	p, _ := newPipeline(t, cfg, &fakeFetcher{items: makeItems(4, "Story number %d")}, storage.NewMemoryStore())
	res, err := p.Run(context.Background(), digest.ModeDemo)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Markdown, "Kept: 4") || !strings.Contains(res.Markdown, "No topics configured") {
		t.Fatalf("expected pass-through digest:\n%s", res.Markdown)
	}
}

func TestEmptyFetch(t *testing.T) {
	p, _ := newPipeline(t, mustConfig(t, keywordsYAML), &fakeFetcher{}, storage.NewMemoryStore())
	res, err := p.Run(context.Background(), digest.ModeDemo)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Markdown, "Kept: 0") || !strings.Contains(res.Markdown, "# Herald Demo —") {
		t.Fatalf("unexpected empty digest:\n%s", res.Markdown)
	}
}

func TestUnmatchedItemsDropped(t *testing.T) {
	items := append(makeItems(2, "LLM release %d"), news.RawItem{
		URL: "https://example.com/garden", Title: "Gardening tips", Source: "Test", Published: fixedNow,
	})
	p, _ := newPipeline(t, mustConfig(t, keywordsYAML), &fakeFetcher{items: items}, storage.NewMemoryStore())
	res, err := p.Run(context.Background(), digest.ModeDemo)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Selected) != 2 {
		t.Fatalf("selected = %d, want 2", len(res.Selected))
	}
	if strings.Contains(res.Markdown, "Gardening") {
		t.Fatal("unmatched item rendered")
	}
}

func TestNormalRunPersists(t *testing.T) {
	seenPath := filepath.Join(t.TempDir(), "state", "seen_urls.txt")
	store := storage.NewFileStore(seenPath, 90*24*time.Hour, storage.WithClock(func() time.Time { return fixedNow }))
	fetcher := &fakeFetcher{items: makeItems(3, "AI story %d")}
	p, d := newPipeline(t, mustConfig(t, keywordsYAML), fetcher, store)

	res, err := p.Run(context.Background(), digest.ModeNormal)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.DigestPath != filepath.Join(d.digests, "2026-10-19.md") {
		t.Fatalf("DigestPath = %q", res.DigestPath)
	}
	written, err := os.ReadFile(res.DigestPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(written) != res.Markdown {
		t.Fatal("digest file differs from returned markdown")
	}
	if !strings.Contains(res.Markdown, "# Herald Digest — 2026-10-19") {
		t.Fatalf("normal header wrong:\n%s", res.Markdown)
	}

	seen, _ := os.ReadFile(seenPath)
	if got := strings.Count(string(seen), "\n"); got != 3 {
		t.Fatalf("seen lines = %d, want 3:\n%s", got, seen)
	}
	if !strings.Contains(string(seen), storage.HashURL("https://example.com/story/0")) {
		t.Fatalf("canonical url not recorded:\n%s", seen)
	}

	lr, err := ReadLastRun(d.state)
	if err != nil {
		t.Fatalf("ReadLastRun: %v", err)
	}
	if lr.RunID != res.RunID || lr.Kept != 3 || lr.Mode != "normal" {
		t.Fatalf("last run = %+v", lr)
	}

	// Same items again: all seen, nothing new, a second digest for the day.
	again, err := p.Run(context.Background(), digest.ModeNormal)
	if err != nil {
		t.Fatal(err)
	}
	if again.Stats.Kept != 0 || again.Dedupe.Seen != 3 {
		t.Fatalf("second run kept %d, seen %d", again.Stats.Kept, again.Dedupe.Seen)
	}
	if again.DigestPath != filepath.Join(d.digests, "2026-10-19-2.md") {
		t.Fatalf("second DigestPath = %q", again.DigestPath)
	}

	raw, err := os.Open(filepath.Join(d.raw, "2026-10-19.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()
	lines := 0
	for sc := bufio.NewScanner(raw); sc.Scan(); {
		lines++
	}
	if lines != 6 {
		t.Fatalf("raw archive lines = %d, want 6", lines)
	}
}

func TestNormalRunOverviewAndNotify(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("telegram down")}
	p, _ := newPipeline(t, mustConfig(t, keywordsYAML), &fakeFetcher{items: makeItems(2, "AI story %d")}, storage.NewMemoryStore(),
		WithSummarizer(fakeSummarizer{text: "Agents everywhere."}),
		WithNotifier(notifier))

	res, err := p.Run(context.Background(), digest.ModeNormal)
	if err != nil {
		t.Fatalf("notification failure must not fail the run: %v", err)
	}
	if !strings.Contains(res.Markdown, "## Overview\n\nAgents everywhere.") {
		t.Fatalf("overview missing:\n%s", res.Markdown)
	}
	if len(notifier.sent) != 1 || notifier.sent[0] != res.Markdown {
		t.Fatal("digest not handed to notifier")
	}
}

func TestOverviewFailureIgnored(t *testing.T) {
	p, _ := newPipeline(t, mustConfig(t, keywordsYAML), &fakeFetcher{items: makeItems(1, "AI story %d")}, storage.NewMemoryStore(),
		WithSummarizer(fakeSummarizer{err: errors.New("quota")}))
	res, err := p.Run(context.Background(), digest.ModeNormal)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(res.Markdown, "## Overview") {
		t.Fatal("overview rendered despite error")
	}
}

func TestStoreLoadError(t *testing.T) {
	fetcher := &fakeFetcher{items: makeItems(1, "AI story %d")}
	p, _ := newPipeline(t, mustConfig(t, keywordsYAML), fetcher, failingStore{})
	if _, err := p.Run(context.Background(), digest.ModeNormal); err == nil {
		t.Fatal("expected load error")
	}
	if fetcher.calls != 0 {
		t.Fatal("fetch must not start when seen urls cannot be loaded")
	}
}

func TestBuildMemoryBackend(t *testing.T) {
	cfg := mustConfig(t, "state:\n  backend: memory\n")
	p, cleanup, err := Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer cleanup()
	if p.summarizer != nil || p.notifier != nil {
		t.Fatal("integrations enabled without credentials")
	}
	if _, ok := p.store.(*storage.MemoryStore); !ok {
		t.Fatalf("store = %T", p.store)
	}
}

func TestCheckStore(t *testing.T) {
	store := storage.NewMemoryStore()
	store.Record("https://example.com/a", fixedNow)
	p, _ := newPipeline(t, mustConfig(t, ""), &fakeFetcher{}, store)
	n, err := p.CheckStore(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("CheckStore = %d, want 1", n)
	}
}
