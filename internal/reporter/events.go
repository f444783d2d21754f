// Package reporter implements the live news reporter for time trials: it
// decides from the current contest records which social media posts to
// create, edit or comment on, and writes the Danish text for them.
//
// A tick runs in three steps:
//   - Aggregator.CurrentEvents picks one representative record per
//     participant, or asks the caller to retry shortly while data is mid-write.
//   - Reconciler.UpdateReport diffs the records against the previous Report
//     and drives the Delivery interface.
//   - The returned Report is kept by the caller for the next tick.
package reporter

import (
	"context"
	"fmt"
	"sort"
	"time"

	"kassenews/internal/types"
)

const (
	// DefaultWindow is how far back contests are considered.
	DefaultWindow = 12 * time.Hour

	// DefaultGracePeriod is how long the data must have been quiet before a
	// tick reports on it.
	DefaultGracePeriod = 5 * time.Second
)

// Query narrows the contests an EventSource returns.
type Query struct {
	// CreatedAfter excludes contests created at or before this instant.
	CreatedAfter time.Time
	// ExcludeIgnored drops contests of participants that opted out of news.
	ExcludeIgnored bool
}

// Matches reports whether a record satisfies the query. Adapters that cannot
// push a predicate down to their store filter with Matches.
func (q Query) Matches(r types.ContestRecord) bool {
	if q.ExcludeIgnored && r.Participant.Ignore {
		return false
	}
	return r.CreatedTime.After(q.CreatedAfter)
}

// EventSource provides contest records. Records are returned ordered by
// participant ID and then creation time.
type EventSource interface {
	Contests(ctx context.Context, q Query) ([]types.ContestRecord, error)
}

// Poll is the outcome of CurrentEvents: either the records to report on, or
// a positive RetryAfter telling the caller to wait and run the same tick
// again.
type Poll struct {
	Records    []types.ContestRecord
	RetryAfter time.Duration
}

// Ready reports whether the poll produced records rather than a retry signal.
func (p Poll) Ready() bool {
	return p.RetryAfter <= 0
}

// Aggregator selects the contests worth reporting on.
type Aggregator struct {
	Window      time.Duration
	GracePeriod time.Duration
}

// NewAggregator creates an Aggregator, substituting defaults for zero values.
func NewAggregator(window, grace time.Duration) Aggregator {
	if window <= 0 {
		window = DefaultWindow
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return Aggregator{Window: window, GracePeriod: grace}
}

// CurrentEvents returns one representative contest per participant among
// the contests created within the window before now.
//
// If any considered contest changed less than GracePeriod before now, no
// records are returned and Poll.RetryAfter holds the remaining wait: a burst
// of writes (two legs submitted within milliseconds) must land completely
// before it is reported.
func (a Aggregator) CurrentEvents(ctx context.Context, src EventSource, now time.Time) (Poll, error) {
	cutoff := now.Add(-a.Window)
	q := Query{CreatedAfter: cutoff, ExcludeIgnored: true}

	all, err := src.Contests(ctx, q)
	if err != nil {
		return Poll{}, fmt.Errorf("listing contests: %w", err)
	}

	var kept []types.ContestRecord
	for _, r := range all {
		if q.Matches(r) {
			kept = append(kept, r)
		}
	}

	lastModified := cutoff
	for _, r := range kept {
		if t := r.LastActivity(); t.After(lastModified) {
			lastModified = t
		}
	}
	if elapsed := now.Sub(lastModified); elapsed < a.GracePeriod {
		wait := a.GracePeriod - elapsed
		if wait > a.GracePeriod {
			// Activity stamped in the future (clock skew); never wait longer
			// than one grace period.
			wait = a.GracePeriod
		}
		return Poll{RetryAfter: wait}, nil
	}

	return Poll{Records: Representatives(kept)}, nil
}

// Representatives picks the single record per participant that ranks
// highest by Outranks, keeping the earliest one on ties. The result is
// sorted by participant ID.
func Representatives(records []types.ContestRecord) []types.ContestRecord {
	index := make(map[int64]int)
	var reps []types.ContestRecord
	for _, r := range records {
		i, ok := index[r.Participant.ID]
		if !ok {
			index[r.Participant.ID] = len(reps)
			reps = append(reps, r)
			continue
		}
		if Outranks(r, reps[i]) {
			reps[i] = r
		}
	}
	sort.Slice(reps, func(i, j int) bool {
		return reps[i].Participant.ID < reps[j].Participant.ID
	})
	return reps
}

// Outranks is the tie-break between two attempts by the same participant:
// finished beats unfinished, started beats not started, and a later creation
// time beats an earlier one.
func Outranks(a, b types.ContestRecord) bool {
	if a.Finalized() != b.Finalized() {
		return a.Finalized()
	}
	if a.Started() != b.Started() {
		return a.Started()
	}
	return a.CreatedTime.After(b.CreatedTime)
}
