package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deusflow/herald/internal/api"
	"github.com/deusflow/herald/internal/app"
	"github.com/deusflow/herald/internal/config"
	"github.com/deusflow/herald/internal/digest"
	"github.com/deusflow/herald/internal/logger"
	"github.com/deusflow/herald/internal/metrics"
	"github.com/deusflow/herald/internal/paths"
)

const usage = `Usage: herald [flags] [command]

Commands:
  run     fetch feeds, write today's digest and remember delivered URLs (default)
  demo    fetch feeds and print a digest without saving anything
  serve   start the monitoring server (/health, /metrics, /last-run, /demo)
  check   open the seen store and report how many URLs it remembers

Flags:
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("herald failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("herald", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config.yaml (default $HERALD_CONFIG or "+paths.ConfigFile()+")")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	command := "run"
	if fs.NArg() > 0 {
		command = fs.Arg(0)
	}

	config.LoadDotEnv()
	logger.Init("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log := logger.Init(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, cleanup, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	switch command {
	case "run":
		res, err := pipeline.Run(ctx, digest.ModeNormal)
		if err != nil {
			return err
		}
		fmt.Print(res.Markdown)
		log.Info("digest written", "path", res.DigestPath)
		return nil
	case "demo":
		res, err := pipeline.Run(ctx, digest.ModeDemo)
		if err != nil {
			return err
		}
		fmt.Print(res.Markdown)
		return nil
	case "serve":
		return serve(ctx, cfg.Monitoring.Addr, pipeline, log)
	case "check":
		n, err := pipeline.CheckStore(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("seen store %q ok: %d urls remembered\n", cfg.State.Backend, n)
		return nil
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func serve(ctx context.Context, addr string, pipeline *app.Pipeline, log *slog.Logger) error {
	router := api.NewRouter(api.NewServer(metrics.Global, pipeline, paths.StateDir()))
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting monitoring server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down monitoring server")
	return srv.Shutdown(shutdownCtx)
}
