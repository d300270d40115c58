package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/deusflow/herald/internal/config"
	"github.com/deusflow/herald/internal/gemini"
	"github.com/deusflow/herald/internal/metrics"
	"github.com/deusflow/herald/internal/ratelimit"
	"github.com/deusflow/herald/internal/rss"
	"github.com/deusflow/herald/internal/storage"
	"github.com/deusflow/herald/internal/telegram"
)

// Build assembles a Pipeline with the real fetcher, the configured seen
// store and the optional Gemini and Telegram integrations. The returned
// cleanup closes what Build opened.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger, extra ...Option) (*Pipeline, func(), error) {
	m := metrics.Global

	fetcher := rss.NewFetcher(cfg.Fetch,
		rss.WithLogger(log.With("component", "rss")),
		rss.WithMetrics(m))

	store, err := storage.Open(ctx, cfg.State)
	if err != nil {
		return nil, nil, fmt.Errorf("open seen store: %w", err)
	}
	closers := []func(){func() {
		if err := store.Close(); err != nil {
			log.Warn("closing seen store", "error", err)
		}
	}}

	opts := []Option{WithLogger(log), WithMetrics(m)}

	if cfg.Gemini.APIKey != "" {
		budget := ratelimit.NewBudget("gemini", cfg.Gemini.MaxRequests)
		client, err := gemini.NewClient(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model, budget)
		if err != nil {
			log.Warn("gemini disabled", "error", err)
		} else {
			opts = append(opts, WithSummarizer(client))
			closers = append(closers, client.Close)
		}
	}

	if cfg.TelegramEnabled() {
		opts = append(opts, WithNotifier(telegram.NewClient(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)))
	}

	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return New(cfg, fetcher, store, append(opts, extra...)...), cleanup, nil
}
