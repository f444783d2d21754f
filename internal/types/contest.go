package types

import (
	"time"
)

// Result is the outcome recorded on a time trial. The empty value means the
// contest has not been finalized yet.
type Result string

const (
	ResultUnset        Result = ""
	ResultFinished     Result = "f"
	ResultDidNotFinish Result = "dnf"
	ResultInvalidated  Result = "irr"
)

// RunState is the stopwatch state of a time trial.
type RunState string

const (
	RunStateInitial RunState = "initial"
	RunStateRunning RunState = "running"
	RunStateStopped RunState = "stopped"
)

// PostID is the opaque handle of a social media post. The zero value is
// reserved for "not yet created".
type PostID string

// CommentID is the opaque handle of a comment on a post.
type CommentID string

// Participant is the profile a time trial belongs to.
type Participant struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	// Ignore is the news opt-out flag. Ignored participants are never reported.
	Ignore bool `json:"ignore,omitempty"`
}

// String returns the display name used in prose.
func (p Participant) String() string {
	return p.Name
}

// ContestRecord is a read-only snapshot of one time trial as seen by the
// reporter during a single tick.
type ContestRecord struct {
	ID          int64       `json:"id"`
	Participant Participant `json:"participant"`
	Result      Result      `json:"result"`
	State       RunState    `json:"state"`
	StartTime   *time.Time  `json:"start_time,omitempty"`
	CreatedTime time.Time   `json:"created_time"`

	// Legs holds the duration in seconds of each completed leg, in order.
	Legs        []float64 `json:"legs,omitempty"`
	Comment     string    `json:"comment,omitempty"`
	Residue     *float64  `json:"residue,omitempty"`
	Attachments []string  `json:"attachments,omitempty"`
}

// LegCount returns the number of completed legs.
func (r ContestRecord) LegCount() int {
	return len(r.Legs)
}

// TotalDuration returns the sum of all leg durations in seconds.
func (r ContestRecord) TotalDuration() float64 {
	var total float64
	for _, d := range r.Legs {
		total += d
	}
	return total
}

// Finalized reports whether a result has been recorded.
func (r ContestRecord) Finalized() bool {
	return r.Result != ResultUnset
}

// Started reports whether the stopwatch has left its initial state.
func (r ContestRecord) Started() bool {
	return r.State != RunStateInitial
}

// LastActivity returns the most recent point in time the record is known to
// have changed: the end of the last leg when legs exist, the creation time
// when the contest was never started, and the start time otherwise.
func (r ContestRecord) LastActivity() time.Time {
	switch {
	case r.StartTime != nil && len(r.Legs) > 0:
		return r.StartTime.Add(secondsToDuration(r.TotalDuration()))
	case r.StartTime == nil:
		return r.CreatedTime
	default:
		return *r.StartTime
	}
}

// LegEndTimes returns the wall-clock time each leg was completed. It returns
// nil when the contest has no start time.
func (r ContestRecord) LegEndTimes() []time.Time {
	if r.StartTime == nil {
		return nil
	}
	ends := make([]time.Time, len(r.Legs))
	var elapsed float64
	for i, d := range r.Legs {
		elapsed += d
		ends[i] = r.StartTime.Add(secondsToDuration(elapsed))
	}
	return ends
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
