// Package replay reconstructs the contest data as it looked at a past
// instant, so the reporter can be run against history with a simulated
// clock.
package replay

import (
	"context"
	"sort"
	"time"

	"kassenews/internal/reporter"
	"kassenews/internal/types"
)

// Source is an EventSource over recorded history that only reveals what was
// known at Now.
type Source struct {
	history []types.ContestRecord
	now     time.Time
}

// NewSource creates a Source over history as of now. history is not copied
// and must not be modified while the Source is in use.
func NewSource(history []types.ContestRecord, now time.Time) *Source {
	return &Source{history: history, now: now}
}

// At returns a Source over the same history as of now.
func (s *Source) At(now time.Time) *Source {
	return &Source{history: s.history, now: now}
}

// Now returns the instant the Source reconstructs.
func (s *Source) Now() time.Time {
	return s.now
}

// Contests returns the records matching q as they were at Now, ordered by
// participant ID and then creation time.
func (s *Source) Contests(_ context.Context, q reporter.Query) ([]types.ContestRecord, error) {
	var out []types.ContestRecord
	for _, r := range s.history {
		past, ok := AsOf(r, s.now)
		if !ok || !q.Matches(past) {
			continue
		}
		out = append(out, past)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Participant.ID != out[j].Participant.ID {
			return out[i].Participant.ID < out[j].Participant.ID
		}
		return out[i].CreatedTime.Before(out[j].CreatedTime)
	})
	return out, nil
}

// AsOf reconstructs r as it was at cutoff. It reports false if the contest
// did not exist yet.
//
// Legs completed at or after cutoff are dropped. A contest not yet started is
// reset to its initial state; one that lost legs is running with no result.
// Comment, residue and attachments are only visible once the contest is
// complete.
func AsOf(r types.ContestRecord, cutoff time.Time) (types.ContestRecord, bool) {
	if r.CreatedTime.After(cutoff) {
		return types.ContestRecord{}, false
	}

	past := r
	past.Legs = nil
	past.Attachments = nil

	if r.StartTime == nil || r.StartTime.After(cutoff) {
		past.StartTime = nil
		past.State = types.RunStateInitial
		past.Result = types.ResultUnset
		past.Comment = ""
		past.Residue = nil
		return past, true
	}

	for i, end := range r.LegEndTimes() {
		if !end.Before(cutoff) {
			break
		}
		past.Legs = append(past.Legs, r.Legs[i])
	}

	if len(past.Legs) != len(r.Legs) {
		past.State = types.RunStateRunning
		past.Result = types.ResultUnset
		past.Comment = ""
		past.Residue = nil
		return past, true
	}

	past.Attachments = r.Attachments
	return past, true
}
