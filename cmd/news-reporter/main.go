// Package main is the long-running news reporter. It polls the stopwatch
// database, publishes to the Facebook page and serves a read-only status API.
//
// SIGINT and SIGTERM stop the loop between ticks; the report is checkpointed
// before exit.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"kassenews/internal/config"
	"kassenews/internal/core"
	"kassenews/internal/wire"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(config.ProviderFor(os.Getenv("APP_ENV"), os.Getenv("AWS_REGION")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := wire.NewLogger(cfg.LogLevel, os.Stderr)
	logger.Info("news reporter starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"dry_run", cfg.Reporter.DryRun,
		"checkpoint", cfg.Checkpoint.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rep, err := wire.Build(ctx, cfg, logger, os.Stdout)
	if err != nil {
		return fmt.Errorf("wiring reporter: %w", err)
	}
	defer rep.Close()

	srv, err := core.NewServer(rep.Loop, logger, rep.Probes(cfg.Status.MaxTickAge)...)
	if err != nil {
		return fmt.Errorf("creating status server: %w", err)
	}
	srv.Build = core.BuildInfo{
		Version:   cfg.Build.Version,
		Commit:    cfg.Build.Commit,
		BuildTime: cfg.Build.BuildTime,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rep.Loop.Run(gctx)
	})
	if cfg.Status.Addr != "" {
		g.Go(func() error {
			return srv.ListenAndServe(gctx, cfg.Status.Addr)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("news reporter stopped")
	return nil
}
