// Package scheduler drives the reporter: it runs poll ticks, waits out
// bursts of contest activity, and persists the Report between ticks.
package scheduler

import "time"

// TickResult describes one tick. It is also the response payload of the
// Lambda entrypoint.
type TickResult struct {
	TickID string    `json:"tick_id"`
	At     time.Time `json:"at"`
	// RetryAfter is set when contest data was still changing and the tick
	// made no delivery calls.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Contests   int           `json:"contests"`
	Posts      int           `json:"posts"`
	// Failed is true when at least one post's delivery failed. Its unreported
	// changes are retried on the next tick.
	Failed bool `json:"failed,omitempty"`
}

// Ready reports whether the tick reached the reconciler.
func (r TickResult) Ready() bool {
	return r.RetryAfter <= 0
}
