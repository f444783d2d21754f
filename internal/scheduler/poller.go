package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"kassenews/internal/checkpoint"
	"kassenews/internal/reporter"
	"kassenews/internal/types"
)

const (
	// DefaultPollInterval is the pause between ticks.
	DefaultPollInterval = 15 * time.Second
	// DefaultMaxRetries bounds the waits RunOnce spends on changing data.
	DefaultMaxRetries = 3
)

// AssignmentSource returns which post last covered each participant, for
// posts created at or after since. db.PostRepository implements it.
type AssignmentSource interface {
	Assignments(ctx context.Context, since time.Time) (map[int64]types.PostID, error)
}

// TickMetrics receives per-tick telemetry. delivery.Metrics satisfies it.
type TickMetrics interface {
	RecordTick(ctx context.Context, d time.Duration, retried bool)
}

// Loop runs the reporter. All ticks run on the caller's goroutine; only
// Snapshot and LastTick may be called concurrently.
type Loop struct {
	source      reporter.EventSource
	aggregator  reporter.Aggregator
	reconciler  *reporter.Reconciler
	delivery    reporter.Delivery
	checkpoints checkpoint.Store
	assignments AssignmentSource
	metrics     TickMetrics

	pollInterval time.Duration
	maxRetries   int
	logger       *slog.Logger
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error

	// pending holds archived assignments until the first ready tick turns
	// them into a Report.
	pending map[int64]types.PostID

	mu       sync.RWMutex
	report   reporter.Report
	lastTick TickResult
}

// Config holds the configuration for creating a Loop. Checkpoints,
// Assignments and Metrics are optional.
type Config struct {
	Source       reporter.EventSource
	Aggregator   reporter.Aggregator
	Reconciler   *reporter.Reconciler
	Delivery     reporter.Delivery
	Checkpoints  checkpoint.Store
	Assignments  AssignmentSource
	Metrics      TickMetrics
	PollInterval time.Duration
	MaxRetries   int
	Logger       *slog.Logger
	// Now and Sleep replace the wall clock in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Loop with the given configuration.
func New(cfg Config) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = DefaultMaxRetries
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	reconciler := cfg.Reconciler
	if reconciler == nil {
		reconciler = reporter.NewReconciler(reporter.ReconcilerConfig{Logger: logger})
	}
	return &Loop{
		source:       cfg.Source,
		aggregator:   cfg.Aggregator,
		reconciler:   reconciler,
		delivery:     cfg.Delivery,
		checkpoints:  cfg.Checkpoints,
		assignments:  cfg.Assignments,
		metrics:      cfg.Metrics,
		pollInterval: interval,
		maxRetries:   retries,
		logger:       logger,
		now:          now,
		sleep:        sleep,
	}
}

// Restore loads the last saved Report. Without a checkpoint it falls back to
// the archived post assignments, and without those it starts empty, in which
// case current contests are announced again.
//
// A corrupt or unreadable checkpoint is logged and treated as missing.
func (l *Loop) Restore(ctx context.Context) {
	if l.checkpoints != nil {
		report, ok, err := l.checkpoints.Load(ctx)
		switch {
		case err != nil:
			l.logger.WarnContext(ctx, "checkpoint unusable, rebuilding report", "error", err)
		case ok:
			l.setReport(report)
			l.logger.InfoContext(ctx, "report restored from checkpoint", "posts", len(report))
			return
		}
	}

	if l.assignments != nil {
		since := l.now().Add(-l.aggregator.Window)
		assigned, err := l.assignments.Assignments(ctx, since)
		if err != nil {
			l.logger.WarnContext(ctx, "failed to read post archive, starting empty", "error", err)
			return
		}
		if len(assigned) > 0 {
			l.pending = assigned
			l.logger.InfoContext(ctx, "report will be rebuilt from post archive", "participants", len(assigned))
		}
	}
}

// Run restores the Report and then ticks until ctx is cancelled. When a tick
// finds data still changing, the same tick is retried after the suggested
// wait; otherwise the Report is saved and the loop sleeps PollInterval.
// Tick errors are logged by Tick and do not stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.Restore(ctx)
	l.logger.InfoContext(ctx, "news loop started", "poll_interval", l.pollInterval.String())

	for {
		result, _ := l.Tick(ctx)
		wait := l.pollInterval
		if result.Ready() {
			l.save(ctx)
		} else {
			wait = result.RetryAfter
		}

		if err := l.sleep(ctx, wait); err != nil {
			l.logger.InfoContext(ctx, "news loop stopped")
			l.save(context.WithoutCancel(ctx))
			return nil
		}
	}
}

// RunOnce restores the Report, runs one tick (waiting out at most MaxRetries
// bursts of activity) and saves the result. It is the shape of a scheduled
// function invocation.
func (l *Loop) RunOnce(ctx context.Context) (TickResult, error) {
	l.Restore(ctx)

	var (
		result TickResult
		err    error
	)
	for attempt := 0; ; attempt++ {
		result, err = l.Tick(ctx)
		if err != nil || result.Ready() || attempt >= l.maxRetries {
			break
		}
		if serr := l.sleep(ctx, result.RetryAfter); serr != nil {
			return result, serr
		}
	}
	if result.Ready() {
		l.save(ctx)
	}
	return result, err
}

// Tick polls the source once and, if the data has settled, reconciles the
// Report against it. A tick whose data is still changing returns a
// TickResult with RetryAfter set and no error. A source failure leaves the
// Report untouched. Delivery failures are returned after the Report was
// updated with everything that succeeded.
func (l *Loop) Tick(ctx context.Context) (TickResult, error) {
	tickID := uuid.NewString()
	ctx = types.WithTickID(ctx, tickID)
	logger := l.logger.With("tick_id", tickID)

	start := l.now()
	result := TickResult{TickID: tickID, At: start}

	poll, err := l.aggregator.CurrentEvents(ctx, l.source, start)
	if err != nil {
		logger.ErrorContext(ctx, "tick failed", "error", err)
		return result, fmt.Errorf("tick %s: %w", tickID, err)
	}
	if !poll.Ready() {
		result.RetryAfter = poll.RetryAfter
		logger.DebugContext(ctx, "data still changing", "retry_after", poll.RetryAfter.String())
		l.recordTick(ctx, 0, true)
		l.setLastTick(result)
		return result, nil
	}

	prior := l.Snapshot()
	if l.pending != nil {
		prior = l.reconciler.Reconstruct(l.pending, poll.Records)
		l.pending = nil
		logger.InfoContext(ctx, "report rebuilt from post archive", "posts", len(prior))
	}

	next, derr := l.reconciler.UpdateReport(ctx, l.delivery, prior, poll.Records)
	l.setReport(next)

	result.Contests = len(poll.Records)
	result.Posts = len(next)
	result.Failed = derr != nil
	l.recordTick(ctx, l.now().Sub(start), false)
	l.setLastTick(result)

	if derr != nil {
		logger.WarnContext(ctx, "tick finished with delivery failures",
			"contests", result.Contests,
			"error", derr,
		)
		return result, derr
	}
	logger.DebugContext(ctx, "tick finished", "contests", result.Contests, "posts", result.Posts)
	return result, nil
}

// Snapshot returns a copy of the current Report.
func (l *Loop) Snapshot() reporter.Report {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.report.Clone()
}

// LastTick returns the result of the most recent tick that reached the
// source.
func (l *Loop) LastTick() TickResult {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastTick
}

func (l *Loop) setReport(r reporter.Report) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.report = r
}

func (l *Loop) setLastTick(r TickResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastTick = r
}

func (l *Loop) save(ctx context.Context) {
	if l.checkpoints == nil {
		return
	}
	if err := l.checkpoints.Save(ctx, l.Snapshot()); err != nil {
		l.logger.ErrorContext(ctx, "failed to save checkpoint", "error", err)
	}
}

func (l *Loop) recordTick(ctx context.Context, d time.Duration, retried bool) {
	if l.metrics != nil {
		l.metrics.RecordTick(ctx, d, retried)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
