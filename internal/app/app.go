// Package app wires fetching, deduplication, scoring and rendering into a
// single digest run.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deusflow/herald/internal/config"
	"github.com/deusflow/herald/internal/digest"
	"github.com/deusflow/herald/internal/metrics"
	"github.com/deusflow/herald/internal/news"
	"github.com/deusflow/herald/internal/paths"
	"github.com/deusflow/herald/internal/storage"
)

// Fetcher collects raw items for the configured feeds.
type Fetcher interface {
	FetchAll(ctx context.Context, feeds []config.Feed) []news.RawItem
}

// Summarizer writes a short overview of the selected items.
type Summarizer interface {
	Overview(ctx context.Context, items []news.ScoredItem) (string, error)
}

// Notifier delivers a rendered digest somewhere.
type Notifier interface {
	Notify(ctx context.Context, digest string) error
}

// Result describes one pipeline run.
type Result struct {
	RunID      string
	Mode       digest.Mode
	Markdown   string
	DigestPath string
	Selected   []news.ScoredItem
	Stats      digest.Stats
	Dedupe     news.DedupeStats
}

// Pipeline runs the digest stages. Runs are serialized.
type Pipeline struct {
	mu sync.Mutex

	cfg        *config.Config
	fetcher    Fetcher
	store      storage.SeenStore
	summarizer Summarizer
	notifier   Notifier
	metrics    *metrics.Metrics
	now        func() time.Time
	log        *slog.Logger

	digestsDir string
	rawDir     string
	stateDir   string
}

type Option func(*Pipeline)

func WithSummarizer(s Summarizer) Option {
	return func(p *Pipeline) { p.summarizer = s }
}

func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithDirs overrides the XDG output directories.
func WithDirs(digests, raw, state string) Option {
	return func(p *Pipeline) {
		p.digestsDir = digests
		p.rawDir = raw
		p.stateDir = state
	}
}

func New(cfg *config.Config, fetcher Fetcher, store storage.SeenStore, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:        cfg,
		fetcher:    fetcher,
		store:      store,
		metrics:    metrics.Global,
		now:        time.Now,
		log:        slog.Default(),
		digestsDir: paths.DigestsDir(),
		rawDir:     paths.RawDir(),
		stateDir:   paths.StateDir(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With("component", "pipeline")
	return p
}

// Run executes every stage. Demo mode reads the seen store but writes
// nothing: no digest file, no raw archive, no seen URLs, no notification.
func (p *Pipeline) Run(ctx context.Context, mode digest.Mode) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res := Result{RunID: uuid.NewString(), Mode: mode}
	log := p.log.With("run_id", res.RunID, "mode", mode.String())
	start := p.now().UTC()
	log.Info("run started", "feeds", len(p.cfg.Feeds))

	if err := p.store.Load(ctx); err != nil {
		p.metrics.SetError(err.Error())
		return res, fmt.Errorf("load seen urls: %w", err)
	}

	raw := p.fetcher.FetchAll(ctx, p.cfg.Feeds)

	fresh, dstats := news.Dedupe(raw, p.store, p.cfg.Scoring.TitleSimilarity)
	res.Dedupe = dstats
	p.metrics.RecordDedupe(dstats.InvalidURL, dstats.Seen, dstats.DuplicateURL, dstats.SimilarTitle)
	log.Info("deduplicated",
		"input", dstats.Input,
		"invalid", dstats.InvalidURL,
		"seen", dstats.Seen,
		"duplicate_url", dstats.DuplicateURL,
		"similar_title", dstats.SimilarTitle,
		"kept", dstats.Kept)

	scorer := news.NewScorer(p.cfg.Topics(), news.WithSourceWeights(p.cfg.SourceWeights()))
	scored := scorer.ScoreAll(fresh)
	relevant := news.Relevant(scored, p.cfg.Scoring.KeepUnmatched || scorer.PassThrough())

	limit := p.cfg.MaxItems()
	if mode == digest.ModeDemo && limit > news.DemoMaxItems {
		limit = news.DemoMaxItems
	}
	res.Selected = news.Select(relevant, limit)
	res.Stats = digest.Stats{Kept: len(res.Selected), Total: len(raw)}
	p.metrics.AddItemsKept(len(res.Selected))
	log.Info("selected", "relevant", len(relevant), "selected", len(res.Selected), "limit", limit)

	report := digest.Report{
		Items:       res.Selected,
		Mode:        mode,
		Stats:       res.Stats,
		NoTopics:    scorer.PassThrough(),
		GeneratedAt: start,
	}
	if mode == digest.ModeNormal {
		report.Overview = p.overview(ctx, log, res.Selected)
	}
	res.Markdown = digest.Render(report)

	if mode == digest.ModeDemo {
		log.Info("demo finished, nothing saved")
		return res, nil
	}

	if err := p.persist(ctx, log, start, raw, &res); err != nil {
		p.metrics.SetError(err.Error())
		return res, err
	}

	p.metrics.RecordProcessingTime(p.now().Sub(start))
	p.metrics.SetLastRun(res.RunID)
	log.Info("run finished", "digest", res.DigestPath, "kept", res.Stats.Kept)
	return res, nil
}

// CheckStore loads the seen store and returns how many URLs it holds.
func (p *Pipeline) CheckStore(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.store.Load(ctx); err != nil {
		return 0, fmt.Errorf("load seen urls: %w", err)
	}
	return p.store.Len(), nil
}

func (p *Pipeline) overview(ctx context.Context, log *slog.Logger, items []news.ScoredItem) string {
	if p.summarizer == nil || len(items) == 0 {
		return ""
	}
	text, err := p.summarizer.Overview(ctx, items)
	if err != nil {
		log.Warn("overview unavailable", "error", err)
		return ""
	}
	return text
}

// persist writes everything a normal run produces. The digest is written
// before seen URLs so a failed write leaves the items eligible next run.
func (p *Pipeline) persist(ctx context.Context, log *slog.Logger, start time.Time, raw []news.RawItem, res *Result) error {
	date := start.Format("2006-01-02")

	if err := appendRaw(filepath.Join(p.rawDir, date+".jsonl"), raw); err != nil {
		log.Warn("raw archive not written", "error", err)
	}

	path, err := writeDigest(p.digestsDir, date, res.Markdown)
	if err != nil {
		return fmt.Errorf("write digest: %w", err)
	}
	res.DigestPath = path
	p.metrics.IncrementDigestsWritten()

	for _, it := range res.Selected {
		p.store.Record(it.Link(), start)
	}
	if err := p.store.Persist(ctx); err != nil {
		return fmt.Errorf("persist seen urls: %w", err)
	}

	if p.notifier != nil {
		if err := p.notifier.Notify(ctx, res.Markdown); err != nil {
			log.Error("notification failed", "error", err)
		}
	}

	if err := p.writeLastRun(res); err != nil {
		log.Warn("last run state not written", "error", err)
	}
	return nil
}

// writeDigest creates digests/DATE.md, or DATE-2.md, DATE-3.md... when
// earlier digests exist for the day.
func writeDigest(dir, date, markdown string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	for n := 1; ; n++ {
		name := date + ".md"
		if n > 1 {
			name = fmt.Sprintf("%s-%d.md", date, n)
		}
		path := filepath.Join(dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.WriteString(markdown); err != nil {
			f.Close()
			return "", err
		}
		return path, f.Close()
	}
}

func appendRaw(path string, items []news.RawItem) error {
	if len(items) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, it := range items {
		if err := enc.Encode(it); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

// LastRun is the content of state/last_run.json.
type LastRun struct {
	RunID      string    `json:"run_id"`
	Mode       string    `json:"mode"`
	FinishedAt time.Time `json:"finished_at"`
	Kept       int       `json:"kept"`
	Total      int       `json:"total"`
	DigestPath string    `json:"digest_path"`
}

func (p *Pipeline) writeLastRun(res *Result) error {
	data, err := json.MarshalIndent(LastRun{
		RunID:      res.RunID,
		Mode:       res.Mode.String(),
		FinishedAt: p.now().UTC(),
		Kept:       res.Stats.Kept,
		Total:      res.Stats.Total,
		DigestPath: res.DigestPath,
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(p.stateDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(p.stateDir, "last_run.json"), append(data, '\n'), 0o644)
}

// ReadLastRun loads state/last_run.json from dir.
func ReadLastRun(dir string) (LastRun, error) {
	var lr LastRun
	data, err := os.ReadFile(filepath.Join(dir, "last_run.json"))
	if err != nil {
		return lr, err
	}
	if err := json.Unmarshal(data, &lr); err != nil {
		return lr, fmt.Errorf("parse last run: %w", err)
	}
	return lr, nil
}
