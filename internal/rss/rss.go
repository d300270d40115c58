// Package rss downloads and parses RSS/Atom feeds into raw news items.
package rss

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"github.com/deusflow/herald/internal/cache"
	"github.com/deusflow/herald/internal/config"
	"github.com/deusflow/herald/internal/metrics"
	"github.com/deusflow/herald/internal/news"
	"github.com/deusflow/herald/internal/retry"
)

// Fetcher downloads feeds. A failed feed yields no items and never fails
// the run.
type Fetcher struct {
	client      *http.Client
	userAgent   string
	timeout     time.Duration
	retries     int
	retryDelay  time.Duration
	concurrency int
	cache       *cache.Cache[[]news.RawItem]
	metrics     *metrics.Metrics
	now         func() time.Time
	log         *slog.Logger
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithClock replaces the time source used for items without a date.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.log = l }
}

// WithMetrics sets where feed counters are recorded.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// NewFetcher builds a Fetcher from the fetch section of the config.
func NewFetcher(cfg config.Fetch, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:      &http.Client{},
		userAgent:   cfg.UserAgent,
		timeout:     cfg.Timeout,
		retries:     cfg.RetryCount(),
		retryDelay:  cfg.RetryDelay,
		concurrency: cfg.Concurrency,
		cache:       cache.New[[]news.RawItem](cfg.CacheTTL),
		metrics:     metrics.Global,
		now:         time.Now,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.concurrency < 1 {
		f.concurrency = 1
	}
	return f
}

// FetchAll fetches every feed with bounded concurrency and returns their
// items concatenated in feed order.
func (f *Fetcher) FetchAll(ctx context.Context, feeds []config.Feed) []news.RawItem {
	results := make([][]news.RawItem, len(feeds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, feed := range feeds {
		i, feed := i, feed
		g.Go(func() error {
			results[i] = f.Fetch(gctx, feed, f.timeout, f.retries)
			return nil
		})
	}
	_ = g.Wait()

	var all []news.RawItem
	for _, items := range results {
		all = append(all, items...)
	}
	f.log.Info("feeds processed", "feeds", len(feeds), "items", len(all))
	return all
}

// Fetch downloads one feed with a per-attempt timeout, retrying failed
// attempts up to retries times. Any error is logged and yields nil.
func (f *Fetcher) Fetch(ctx context.Context, feed config.Feed, timeout time.Duration, retries int) []news.RawItem {
	if cached, ok := f.cache.Get(feed.URL); ok {
		f.log.Debug("feed served from cache", "feed", feed.Name, "items", len(cached))
		return cached
	}

	var parsed *gofeed.Feed
	err := retry.WithRetry(ctx, retry.RetryConfig{
		MaxAttempts: retries + 1,
		Delay:       f.retryDelay,
		Backoff:     true,
	}, func(ctx context.Context) error {
		var err error
		parsed, err = f.download(ctx, feed.URL, timeout)
		return err
	})
	if err != nil {
		f.log.Warn("feed failed", "feed", feed.Name, "url", feed.URL, "error", err)
		f.metrics.IncrementFeedsFailed()
		return nil
	}

	items := f.convert(feed, parsed)
	f.cache.Set(feed.URL, items)
	f.metrics.IncrementFeedsFetched()
	f.metrics.AddItemsFetched(len(items))
	f.log.Info("feed loaded", "feed", feed.Name, "items", len(items))
	return items
}

func (f *Fetcher) download(ctx context.Context, url string, timeout time.Duration) (*gofeed.Feed, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("unexpected status %s", resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
		return nil, retry.Permanent(fmt.Errorf("parse feed: %w", err))
	}
	return parsed, nil
}

func (f *Fetcher) convert(feed config.Feed, parsed *gofeed.Feed) []news.RawItem {
	items := make([]news.RawItem, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		if entry == nil {
			continue
		}
		it, err := news.NewRawItem(entryLink(entry), CleanTitle(entry.Title), feed.Name, f.published(entry))
		if err != nil {
			f.log.Debug("skipping feed entry", "feed", feed.Name, "error", err)
			continue
		}
		items = append(items, it)
	}
	return items
}

func entryLink(entry *gofeed.Item) string {
	if entry.Link != "" {
		return entry.Link
	}
	if strings.HasPrefix(entry.GUID, "http://") || strings.HasPrefix(entry.GUID, "https://") {
		return entry.GUID
	}
	return ""
}

func (f *Fetcher) published(entry *gofeed.Item) time.Time {
	switch {
	case entry.PublishedParsed != nil:
		return *entry.PublishedParsed
	case entry.UpdatedParsed != nil:
		return *entry.UpdatedParsed
	default:
		return f.now()
	}
}

// CleanTitle strips markup and entities from a feed title and collapses
// whitespace.
func CleanTitle(title string) string {
	if strings.ContainsAny(title, "<&") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(title)); err == nil {
			title = doc.Text()
		}
	}
	return strings.Join(strings.Fields(title), " ")
}
