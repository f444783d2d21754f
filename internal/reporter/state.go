package reporter

import (
	"fmt"
	"math"
	"time"

	"kassenews/internal/types"
)

// DefaultProvisionalLegs is the number of legs after which an unfinished
// contest is reported with its running time instead of "has started".
const DefaultProvisionalLegs = 5

// StateTag is the discrete reporting status of a contest.
type StateTag string

const (
	TagUpcoming StateTag = "upcoming"
	TagStarted  StateTag = "started"
	TagTime     StateTag = "time"
	TagDNF      StateTag = "dnf"
	TagInvalid  StateTag = "invalid"
	TagUnknown  StateTag = "unknown"
)

// ReportState is the per-tick reporting status of one contest. It is a pure
// function of the contest record and is compared by value between ticks.
type ReportState struct {
	Tag      StateTag `json:"tag"`
	LegCount int      `json:"leg_count,omitempty"`
	TimeText string   `json:"time_text,omitempty"`
	// Seconds is the duration TimeText was rendered from. Only used for ordering.
	Seconds float64 `json:"seconds,omitempty"`
}

// HasResult reports whether the state carries a leg count and a time.
func (s ReportState) HasResult() bool {
	switch s.Tag {
	case TagTime, TagDNF, TagInvalid:
		return true
	}
	return false
}

// CommentKind identifies the kind of side fact that is reported as a comment.
type CommentKind string

const (
	CommentResidue    CommentKind = "residue"
	CommentText       CommentKind = "comment"
	CommentAttachment CommentKind = "attachment"
	CommentLap        CommentKind = "lap"
)

// CommentFact is a single comment-worthy fact about a contest. Facts are
// compared by value; a fact is reported once per post.
type CommentFact struct {
	Kind    CommentKind `json:"kind"`
	Text    string      `json:"text,omitempty"`
	Residue float64     `json:"residue,omitempty"`
	URL     string      `json:"url,omitempty"`
	Lap     int         `json:"lap,omitempty"`
	At      time.Time   `json:"at,omitzero"`
	Split   float64     `json:"split,omitempty"`
}

// Classifier maps contest records to report states and comment facts.
type Classifier struct {
	provisionalLegs int
	lapCommentary   map[int64]bool
}

// NewClassifier creates a Classifier. Contests listed in lapContests get a
// comment for every completed leg.
func NewClassifier(provisionalLegs int, lapContests []int64) *Classifier {
	if provisionalLegs <= 0 {
		provisionalLegs = DefaultProvisionalLegs
	}
	lap := make(map[int64]bool, len(lapContests))
	for _, id := range lapContests {
		lap[id] = true
	}
	return &Classifier{
		provisionalLegs: provisionalLegs,
		lapCommentary:   lap,
	}
}

// LapCommentary reports whether the contest is configured for per-leg comments.
func (c *Classifier) LapCommentary(contestID int64) bool {
	return c.lapCommentary[contestID]
}

// Classify returns the report state of a contest record.
func (c *Classifier) Classify(r types.ContestRecord) ReportState {
	switch r.Result {
	case types.ResultUnset:
		if r.State == types.RunStateInitial || r.StartTime == nil {
			return ReportState{Tag: TagUpcoming}
		}
		if r.LegCount() >= c.provisionalLegs {
			return withResult(TagTime, r)
		}
		return ReportState{Tag: TagStarted}
	case types.ResultFinished:
		return withResult(TagTime, r)
	case types.ResultDidNotFinish:
		return withResult(TagDNF, r)
	case types.ResultInvalidated:
		return withResult(TagInvalid, r)
	default:
		return ReportState{Tag: TagUnknown}
	}
}

func withResult(tag StateTag, r types.ContestRecord) ReportState {
	total := r.TotalDuration()
	return ReportState{
		Tag:      tag,
		LegCount: r.LegCount(),
		TimeText: FormatDuration(total),
		Seconds:  total,
	}
}

// ExtractComments returns the comment facts of a contest record in a stable
// order: residue, comment, attachments, laps. Residue and comment are only
// reported once the contest is finalized.
func (c *Classifier) ExtractComments(r types.ContestRecord) []CommentFact {
	var facts []CommentFact
	if r.Finalized() && r.Residue != nil {
		facts = append(facts, CommentFact{Kind: CommentResidue, Residue: *r.Residue})
	}
	if r.Finalized() && r.Comment != "" {
		facts = append(facts, CommentFact{Kind: CommentText, Text: r.Comment})
	}
	for _, url := range r.Attachments {
		facts = append(facts, CommentFact{Kind: CommentAttachment, URL: url})
	}
	if c.LapCommentary(r.ID) {
		for i, end := range r.LegEndTimes() {
			facts = append(facts, CommentFact{
				Kind:  CommentLap,
				Lap:   i + 1,
				At:    end.Round(0).UTC(),
				Split: r.Legs[i],
			})
		}
	}
	return dedupFacts(facts)
}

// dedupFacts drops repeated facts, e.g. the same attachment URL listed twice.
func dedupFacts(facts []CommentFact) []CommentFact {
	seen := make(map[CommentFact]bool, len(facts))
	out := facts[:0]
	for _, f := range facts {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// FormatDuration renders a duration in seconds as m:ss.cc, or as h:mm:ss from
// one hour and up.
func FormatDuration(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	centis := int64(math.Round(seconds * 100))
	if centis >= 360000 {
		total := int64(math.Round(seconds))
		return fmt.Sprintf("%d:%02d:%02d", total/3600, total%3600/60, total%60)
	}
	return fmt.Sprintf("%d:%02d.%02d", centis/6000, centis%6000/100, centis%100)
}
