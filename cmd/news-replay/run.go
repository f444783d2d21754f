package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"kassenews/internal/config"
	"kassenews/internal/db"
	"kassenews/internal/delivery"
	"kassenews/internal/replay"
	"kassenews/internal/reporter"
	"kassenews/internal/types"
	"kassenews/internal/wire"
)

// historyFromDB is the --history value that reads the stopwatch database.
const historyFromDB = "db"

type runOptions struct {
	history         string
	since           string
	timeZone        string
	linkBaseURL     string
	provisionalLegs int
	lapContests     []int64
	databaseURL     string
	region          string
	verbose         bool
	noColor         bool
}

func runCmd() *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay history and print what would have been posted",
		Example: `  news-replay run --history contests.json.zst --since 2026-02-01
  news-replay run --history s3://kasse-archive/history/2026-02.json.zst
  news-replay run --history db --since 2026-02-06 --lap-contests 4711`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.noColor {
				color.NoColor = true
			}
			return runReplay(cmd.Context(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.history, "history", "", `history to replay: a dump file, an s3:// URI or "db"`)
	f.StringVar(&opts.since, "since", "", "first local date to replay (YYYY-MM-DD); default is all history")
	f.StringVar(&opts.timeZone, "tz", "Europe/Copenhagen", "time zone deciding where a day ends")
	f.StringVar(&opts.linkBaseURL, "link-base", reporter.DefaultLinkBaseURL, "base URL of the per-contest links")
	f.IntVar(&opts.provisionalLegs, "provisional-legs", reporter.DefaultProvisionalLegs, "leg count below which running times are not reported")
	f.Int64SliceVar(&opts.lapContests, "lap-contests", nil, "contest IDs that get lap commentary")
	f.StringVar(&opts.databaseURL, "database-url", os.Getenv("DATABASE_URL"), `database to read with --history db`)
	f.StringVar(&opts.region, "region", envOr("AWS_REGION", "eu-north-1"), "AWS region for s3:// history")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log every simulated tick")
	f.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	_ = cmd.MarkFlagRequired("history")

	return cmd
}

func runReplay(ctx context.Context, opts runOptions, stdout, stderr io.Writer) error {
	reporterCfg := config.ReporterConfig{
		ProvisionalLegs: opts.provisionalLegs,
		LinkBaseURL:     opts.linkBaseURL,
		TimeZone:        opts.timeZone,
		LapContests:     opts.lapContests,
	}
	loc, err := reporterCfg.Location()
	if err != nil {
		return err
	}
	since, err := parseSince(opts.since, loc)
	if err != nil {
		return err
	}

	history, err := loadHistory(ctx, opts, since)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	reconciler, err := wire.NewReconciler(reporterCfg, logger)
	if err != nil {
		return err
	}
	recorder := delivery.NewRecorder(stdout)
	driver := replay.NewDriver(replay.DriverConfig{
		History:    history,
		Aggregator: reporter.NewAggregator(reporter.DefaultWindow, reporter.DefaultGracePeriod),
		Reconciler: reconciler,
		Delivery:   recorder,
		Location:   loc,
		Logger:     logger,
	})

	report, stats, err := driver.Run(ctx, since)
	if err != nil {
		return fmt.Errorf("replay stopped: %w", err)
	}

	calls := recorder.Calls()
	var posts, edits, comments int
	for _, c := range calls {
		switch c.Action {
		case delivery.ActionNewPost:
			posts++
		case delivery.ActionEditPost:
			edits++
		case delivery.ActionComment:
			comments++
		}
	}

	bold := color.New(color.Bold)
	fmt.Fprintln(stdout)
	bold.Fprintf(stdout, "Replayed %d contests over %d days\n", len(history), stats.Days)
	fmt.Fprintf(stdout, "  ticks:    %d (%d waits for changing data)\n", stats.Ticks, stats.Retries)
	fmt.Fprintf(stdout, "  posts:    %d (%d still tracked)\n", posts, len(report))
	fmt.Fprintf(stdout, "  edits:    %d\n", edits)
	fmt.Fprintf(stdout, "  comments: %d\n", comments)
	if stats.Errors > 0 {
		color.New(color.FgRed).Fprintf(stdout, "  delivery errors: %d\n", stats.Errors)
	}
	return nil
}

// loadHistory reads the contests created at or after since.
func loadHistory(ctx context.Context, opts runOptions, since time.Time) ([]types.ContestRecord, error) {
	switch {
	case opts.history == historyFromDB:
		return historyFromDatabase(ctx, opts.databaseURL, since)

	case strings.HasPrefix(opts.history, "s3://"):
		awsCfg, err := wire.LoadAWSConfig(ctx, config.AWSConfig{
			Region:      opts.region,
			EndpointURL: os.Getenv("AWS_ENDPOINT_URL"),
		})
		if err != nil {
			return nil, err
		}
		dump, err := replay.LoadDump(ctx, s3.NewFromConfig(awsCfg), opts.history)
		if err != nil {
			return nil, err
		}
		return dump.Contests, nil

	default:
		dump, err := replay.LoadDump(ctx, nil, opts.history)
		if err != nil {
			return nil, err
		}
		return dump.Contests, nil
	}
}

func historyFromDatabase(ctx context.Context, url string, since time.Time) ([]types.ContestRecord, error) {
	if url == "" {
		return nil, fmt.Errorf("--database-url or DATABASE_URL is required to read history from the database")
	}
	pool, err := wire.NewPool(ctx, config.DatabaseConfig{
		URL:               types.SecretString(url),
		MaxConns:          4,
		MaxConnLifetime:   time.Hour,
		AcquireTimeout:    10 * time.Second,
		HealthCheckPeriod: time.Minute,
	})
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	return db.NewContestRepository(pool).History(ctx, since)
}

// parseSince parses a local date. An empty value means the beginning of time.
func parseSince(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("--since must be YYYY-MM-DD: %w", err)
	}
	return t, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
