// Package delivery holds the reporter.Delivery implementations that do not
// talk to a social media service themselves: an in-memory Recorder and the
// decorators that archive and instrument another Delivery.
package delivery

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"kassenews/internal/reporter"
	"kassenews/internal/types"
)

// Action names a Delivery method.
type Action string

const (
	ActionNewPost  Action = "new_post"
	ActionEditPost Action = "edit_post"
	ActionComment  Action = "comment"
)

// Call is one recorded Delivery call.
type Call struct {
	Action     Action
	Post       types.PostID
	Comment    types.CommentID
	Text       string
	Attachment string
	Contests   []int64
	// At is the simulated time set via SetNow, zero if never set.
	At time.Time
}

var _ reporter.Delivery = (*Recorder)(nil)

// Recorder is a deterministic Delivery: posts are numbered 1, 2, 3... and
// every successful call is recorded. When given a writer it prints each call
// the way the replay tool shows them.
type Recorder struct {
	mu       sync.Mutex
	out      io.Writer
	now      time.Time
	posts    int
	comments map[types.PostID]int
	calls    []Call
	failN    int
	failErr  error

	header *color.Color
	label  *color.Color
}

// NewRecorder creates a Recorder. out may be nil for a silent recorder.
func NewRecorder(out io.Writer) *Recorder {
	return &Recorder{
		out:      out,
		comments: make(map[types.PostID]int),
		header:   color.New(color.FgYellow, color.Bold),
		label:    color.New(color.FgCyan),
	}
}

// SetNow sets the time printed and recorded with subsequent calls.
func (r *Recorder) SetNow(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = t
}

// FailNext makes the next n calls return err without being recorded.
func (r *Recorder) FailNext(n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failN = n
	r.failErr = err
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

func (r *Recorder) NewPost(_ context.Context, text string, records []types.ContestRecord) (types.PostID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.injected(); err != nil {
		return "", err
	}

	r.posts++
	post := types.PostID(strconv.Itoa(r.posts))
	r.record(Call{Action: ActionNewPost, Post: post, Text: text, Contests: contestIDs(records)})
	r.print(r.header, centered(fmt.Sprintf(" Post %s: %s ", post, r.stamp()), 79, '='), text)
	return post, nil
}

func (r *Recorder) EditPost(_ context.Context, post types.PostID, text string, records []types.ContestRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.injected(); err != nil {
		return err
	}

	r.record(Call{Action: ActionEditPost, Post: post, Text: text, Contests: contestIDs(records)})
	r.print(r.label, fmt.Sprintf("Edit %s to say:", post), text)
	return nil
}

func (r *Recorder) CommentOnPost(_ context.Context, post types.PostID, text string, attachment string) (types.CommentID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.injected(); err != nil {
		return "", err
	}

	r.comments[post]++
	comment := types.CommentID(fmt.Sprintf("%s_%d", post, r.comments[post]))
	r.record(Call{Action: ActionComment, Post: post, Comment: comment, Text: text, Attachment: attachment})

	body := text
	if attachment != "" {
		body += "\n[" + attachment + "]"
	}
	r.print(r.label, fmt.Sprintf("Comment on %s:", post), body)
	return comment, nil
}

func (r *Recorder) injected() error {
	if r.failN <= 0 {
		return nil
	}
	r.failN--
	return r.failErr
}

func (r *Recorder) record(c Call) {
	c.At = r.now
	r.calls = append(r.calls, c)
}

func (r *Recorder) stamp() string {
	if r.now.IsZero() {
		return "-"
	}
	return r.now.Format("2006-01-02 15:04:05")
}

func (r *Recorder) print(c *color.Color, heading, body string) {
	if r.out == nil {
		return
	}
	c.Fprintln(r.out, heading)
	fmt.Fprintln(r.out, body)
}

func centered(s string, width int, fill rune) string {
	pad := width - len([]rune(s))
	if pad <= 0 {
		return s
	}
	left := pad / 2
	return strings.Repeat(string(fill), left) + s + strings.Repeat(string(fill), pad-left)
}

func contestIDs(records []types.ContestRecord) []int64 {
	if len(records) == 0 {
		return nil
	}
	ids := make([]int64, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	return ids
}
