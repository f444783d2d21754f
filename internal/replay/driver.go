package replay

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"kassenews/internal/reporter"
	"kassenews/internal/types"
)

const (
	// DefaultStep is the simulated poll interval.
	DefaultStep = 15 * time.Second
	// DefaultLead is how long before a day's first contest the replay starts.
	DefaultLead = 7 * time.Second
)

// Clocked is implemented by deliveries that want to know the simulated time,
// e.g. to print it next to each post.
type Clocked interface {
	SetNow(t time.Time)
}

// Driver replays history day by day through the reporter with a simulated
// clock: each day with contests runs from shortly before its first contest
// until local midnight.
type Driver struct {
	history    []types.ContestRecord
	aggregator reporter.Aggregator
	reconciler *reporter.Reconciler
	delivery   reporter.Delivery
	step       time.Duration
	lead       time.Duration
	location   *time.Location
	logger     *slog.Logger
}

// DriverConfig holds the configuration for creating a Driver.
type DriverConfig struct {
	History    []types.ContestRecord
	Aggregator reporter.Aggregator
	Reconciler *reporter.Reconciler
	Delivery   reporter.Delivery
	Step       time.Duration
	Lead       time.Duration
	// Location decides where a day ends. Defaults to UTC.
	Location *time.Location
	Logger   *slog.Logger
}

// NewDriver creates a Driver with the given configuration.
func NewDriver(cfg DriverConfig) *Driver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	step := cfg.Step
	if step <= 0 {
		step = DefaultStep
	}
	lead := cfg.Lead
	if lead <= 0 {
		lead = DefaultLead
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	reconciler := cfg.Reconciler
	if reconciler == nil {
		reconciler = reporter.NewReconciler(reporter.ReconcilerConfig{Logger: logger})
	}
	return &Driver{
		history:    cfg.History,
		aggregator: cfg.Aggregator,
		reconciler: reconciler,
		delivery:   cfg.Delivery,
		step:       step,
		lead:       lead,
		location:   loc,
		logger:     logger,
	}
}

// Stats summarizes a replay.
type Stats struct {
	Days    int
	Ticks   int
	Retries int
	Errors  int
}

// DayStarts returns the creation time of the first contest of every local
// calendar day with contests created at or after since, in order.
func (d *Driver) DayStarts(since time.Time) []time.Time {
	var created []time.Time
	for _, r := range d.history {
		if !r.CreatedTime.Before(since) {
			created = append(created, r.CreatedTime)
		}
	}
	sort.Slice(created, func(i, j int) bool { return created[i].Before(created[j]) })

	var starts []time.Time
	var lastDay string
	for _, t := range created {
		day := t.In(d.location).Format(time.DateOnly)
		if day != lastDay {
			starts = append(starts, t)
			lastDay = day
		}
	}
	return starts
}

// Run replays every day with contests created at or after since and returns
// the final Report. Delivery failures are logged and the replay continues;
// only context cancellation stops it early.
func (d *Driver) Run(ctx context.Context, since time.Time) (reporter.Report, Stats, error) {
	var (
		report reporter.Report
		stats  Stats
	)
	src := NewSource(d.history, since)
	clocked, _ := d.delivery.(Clocked)

	for _, first := range d.DayStarts(since) {
		stats.Days++
		stop := nextMidnight(first.In(d.location))
		d.logger.InfoContext(ctx, "replaying day", "day", first.In(d.location).Format(time.DateOnly))

		for t := first.Add(-d.lead); t.Before(stop); {
			if err := ctx.Err(); err != nil {
				return report, stats, err
			}
			if clocked != nil {
				clocked.SetNow(t)
			}

			poll, err := d.aggregator.CurrentEvents(ctx, src.At(t), t)
			if err != nil {
				return report, stats, err
			}
			if !poll.Ready() {
				stats.Retries++
				d.logger.DebugContext(ctx, "data still changing", "at", t, "retry_after", poll.RetryAfter)
				t = t.Add(poll.RetryAfter + time.Second)
				continue
			}

			stats.Ticks++
			next, err := d.reconciler.UpdateReport(ctx, d.delivery, report, poll.Records)
			if err != nil {
				stats.Errors++
				d.logger.WarnContext(ctx, "delivery failed during replay", "at", t, "error", err)
			}
			report = next
			t = t.Add(d.step)
		}
	}
	return report, stats, nil
}

func nextMidnight(t time.Time) time.Time {
	y, m, day := t.Date()
	return time.Date(y, m, day+1, 0, 0, 0, 0, t.Location())
}
