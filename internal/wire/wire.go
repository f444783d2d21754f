// Package wire assembles the reporter from configuration. The daemon and the
// scheduled function share it so both publish the same way.
package wire

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/jackc/pgx/v5/pgxpool"

	"kassenews/internal/checkpoint"
	"kassenews/internal/config"
	"kassenews/internal/core"
	"kassenews/internal/db"
	"kassenews/internal/delivery"
	"kassenews/internal/external"
	"kassenews/internal/reporter"
	"kassenews/internal/scheduler"
)

// Reporter is a fully wired poll loop and the resources it holds.
type Reporter struct {
	Loop    *scheduler.Loop
	Pool    *pgxpool.Pool
	closers []func()
}

// Close releases the checkpoint file and the database pool.
func (r *Reporter) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// Probes returns the health probes for the status server.
func (r *Reporter) Probes(maxTickAge time.Duration) []core.HealthProbe {
	return []core.HealthProbe{
		core.ProbeFunc{ProbeName: "database", Fn: r.Pool.Ping},
		core.TickFreshness{Status: r.Loop, MaxAge: maxTickAge},
	}
}

// Build wires a Reporter from cfg. Dry runs print to stdout and never touch
// the post archive or a Postgres checkpoint, so they cannot disturb a live
// reporter sharing the database.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, stdout io.Writer) (*Reporter, error) {
	r := &Reporter{}

	pool, err := NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	r.Pool = pool
	r.closers = append(r.closers, pool.Close)

	reconciler, err := NewReconciler(cfg.Reporter, logger)
	if err != nil {
		r.Close()
		return nil, err
	}

	metrics, err := NewMetrics(ctx, cfg, logger)
	if err != nil {
		r.Close()
		return nil, err
	}

	posts := db.NewPostRepository(pool)
	var (
		out         reporter.Delivery
		assignments scheduler.AssignmentSource
	)
	if cfg.Reporter.DryRun {
		out = delivery.NewRecorder(stdout)
	} else {
		graph := external.NewGraphClient(&http.Client{Timeout: cfg.Facebook.Timeout}, external.GraphClientConfig{
			PageID:          cfg.Facebook.PageID,
			PageAccessToken: cfg.Facebook.PageAccessToken,
			AppSecret:       cfg.Facebook.AppSecret,
			BaseURL:         cfg.Facebook.BaseURL,
			Logger:          logger,
		})
		out = delivery.NewArchive(graph, posts, logger)
		assignments = posts
	}

	store, closeStore, err := NewCheckpointStore(cfg.Checkpoint, pool, cfg.Reporter.DryRun)
	if err != nil {
		r.Close()
		return nil, err
	}
	if closeStore != nil {
		r.closers = append(r.closers, closeStore)
	}

	r.Loop = scheduler.New(scheduler.Config{
		Source:       db.NewContestRepository(pool),
		Aggregator:   reporter.NewAggregator(cfg.Reporter.Window, cfg.Reporter.GracePeriod),
		Reconciler:   reconciler,
		Delivery:     delivery.NewInstrumented(out, metrics),
		Checkpoints:  store,
		Assignments:  assignments,
		Metrics:      metrics,
		PollInterval: cfg.Reporter.PollInterval,
		MaxRetries:   cfg.Reporter.MaxRetries,
		Logger:       logger,
	})
	return r, nil
}

// NewPool opens the stopwatch database pool and checks it is reachable.
func NewPool(ctx context.Context, c config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(c.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	poolCfg.MaxConns = c.MaxConns
	poolCfg.MinConns = c.MinConns
	poolCfg.MaxConnLifetime = c.MaxConnLifetime
	poolCfg.HealthCheckPeriod = c.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, c.AcquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return pool, nil
}

// NewReconciler builds the classifier, composer and reconciler for c.
func NewReconciler(c config.ReporterConfig, logger *slog.Logger) (*reporter.Reconciler, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	return reporter.NewReconciler(reporter.ReconcilerConfig{
		Classifier: reporter.NewClassifier(c.ProvisionalLegs, c.LapContests),
		Composer:   reporter.NewComposer(c.LinkBaseURL, loc),
		Logger:     logger,
	}), nil
}

// NewMetrics returns CloudWatch metrics when enabled, else a no-op.
func NewMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (delivery.Metrics, error) {
	if !cfg.Observability.EnableMetrics {
		return delivery.NoopMetrics{}, nil
	}
	awsCfg, err := LoadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}
	return delivery.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.Observability.MetricNamespace, logger), nil
}

// NewCheckpointStore opens the configured checkpoint backend. The returned
// close function is nil when there is nothing to release. A dry run never
// writes the shared Postgres checkpoint.
func NewCheckpointStore(c config.CheckpointConfig, pool db.DBTX, dryRun bool) (checkpoint.Store, func(), error) {
	switch c.Backend {
	case "postgres":
		if dryRun {
			return nil, nil, nil
		}
		return db.NewCheckpointRepository(pool), nil, nil
	case "sqlite":
		store, err := checkpoint.OpenSQLite(c.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case "none", "":
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown checkpoint backend %q", c.Backend)
	}
}

// LoadAWSConfig loads the SDK configuration for c, pointing every client at
// EndpointURL when set (LocalStack).
func LoadAWSConfig(ctx context.Context, c config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(c.Region)}
	if c.EndpointURL != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(c.EndpointURL))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return awsCfg, nil
}

// NewLogger returns the JSON logger every binary writes to stdout.
func NewLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}
