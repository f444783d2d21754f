// Package main is the scheduled-function form of the reporter. An
// EventBridge rule invokes it periodically; each invocation restores the
// report from the Postgres checkpoint, runs one tick and saves it again.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"kassenews/internal/config"
	"kassenews/internal/scheduler"
	"kassenews/internal/wire"
)

// Ticker runs one restored, checkpointed tick. *scheduler.Loop satisfies it.
type Ticker interface {
	RunOnce(ctx context.Context) (scheduler.TickResult, error)
}

// Handler handles one scheduled invocation.
type Handler struct {
	Ticker Ticker
	Logger *slog.Logger
}

// Handle runs a tick. Delivery failures are reported in the result and
// retried by the next invocation; only a failure to read the contests fails
// the invocation.
func (h *Handler) Handle(ctx context.Context, event events.CloudWatchEvent) (scheduler.TickResult, error) {
	h.Logger.InfoContext(ctx, "tick invoked", "event_id", event.ID, "scheduled_at", event.Time)

	result, err := h.Ticker.RunOnce(ctx)
	switch {
	case err != nil && !result.Failed:
		return result, err
	case err != nil:
		h.Logger.WarnContext(ctx, "tick delivered partially", "tick_id", result.TickID, "error", err)
	case !result.Ready():
		h.Logger.InfoContext(ctx, "contest data kept changing, leaving it to the next invocation",
			"tick_id", result.TickID,
			"retry_after", result.RetryAfter.String(),
		)
	}
	return result, nil
}

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
	if cfg.Checkpoint.Backend != "postgres" {
		// Nothing else survives between invocations.
		return fmt.Errorf("news-tick needs CHECKPOINT_BACKEND=postgres, got %q", cfg.Checkpoint.Backend)
	}

	logger := wire.NewLogger(cfg.LogLevel, os.Stdout)
	logger.Info("news-tick initializing (cold start)", "version", cfg.Build.Version)

	rep, err := wire.Build(context.Background(), cfg, logger, os.Stdout)
	if err != nil {
		return fmt.Errorf("wiring reporter: %w", err)
	}

	handler := &Handler{Ticker: rep.Loop, Logger: logger}
	lambda.Start(handler.Handle)
	return nil
}
