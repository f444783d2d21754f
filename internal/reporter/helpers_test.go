package reporter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"kassenews/internal/types"
)

var baseTime = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordOption func(*types.ContestRecord)

// contest builds a record for participant pid created at baseTime. The
// contest ID is pid*10 unless overridden.
func contest(pid int64, name string, opts ...recordOption) types.ContestRecord {
	r := types.ContestRecord{
		ID:          pid * 10,
		Participant: types.Participant{ID: pid, Name: name},
		State:       types.RunStateInitial,
		CreatedTime: baseTime,
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

func withID(id int64) recordOption {
	return func(r *types.ContestRecord) { r.ID = id }
}

func createdAt(t time.Time) recordOption {
	return func(r *types.ContestRecord) { r.CreatedTime = t }
}

func startedAt(t time.Time) recordOption {
	return func(r *types.ContestRecord) {
		r.StartTime = &t
		r.State = types.RunStateRunning
	}
}

func withLegs(legs ...float64) recordOption {
	return func(r *types.ContestRecord) { r.Legs = legs }
}

func withOutcome(res types.Result) recordOption {
	return func(r *types.ContestRecord) {
		r.Result = res
		r.State = types.RunStateStopped
	}
}

func withComment(text string) recordOption {
	return func(r *types.ContestRecord) { r.Comment = text }
}

func withResidue(cl float64) recordOption {
	return func(r *types.ContestRecord) { r.Residue = &cl }
}

func withAttachments(urls ...string) recordOption {
	return func(r *types.ContestRecord) { r.Attachments = urls }
}

func ignored() recordOption {
	return func(r *types.ContestRecord) { r.Participant.Ignore = true }
}

// finishedIn is a finished five-leg contest started at baseTime.
func finishedIn(legs ...float64) recordOption {
	return func(r *types.ContestRecord) {
		startedAt(baseTime)(r)
		withLegs(legs...)(r)
		withOutcome(types.ResultFinished)(r)
	}
}

// ============================================================
// Fake Delivery
// ============================================================

type deliveryCall struct {
	method     string
	post       types.PostID
	text       string
	attachment string
	recordIDs  []int64
}

// fakeDelivery records calls and hands out sequential post IDs.
type fakeDelivery struct {
	calls    []deliveryCall
	nextPost int
	nextNote int

	// failOn makes the named method fail, optionally only for one post.
	failOn     map[string]error
	failOnPost types.PostID
}

func newFakeDelivery() *fakeDelivery {
	return &fakeDelivery{failOn: make(map[string]error)}
}

func (f *fakeDelivery) fail(method string, post types.PostID) error {
	err, ok := f.failOn[method]
	if !ok {
		return nil
	}
	if f.failOnPost != "" && f.failOnPost != post {
		return nil
	}
	return err
}

func contestIDs(records []types.ContestRecord) []int64 {
	out := make([]int64, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func (f *fakeDelivery) NewPost(_ context.Context, text string, records []types.ContestRecord) (types.PostID, error) {
	f.calls = append(f.calls, deliveryCall{method: "new", text: text, recordIDs: contestIDs(records)})
	if err := f.fail("new", ""); err != nil {
		return "", err
	}
	f.nextPost++
	return types.PostID(fmt.Sprintf("post-%02d", f.nextPost)), nil
}

func (f *fakeDelivery) EditPost(_ context.Context, post types.PostID, text string, records []types.ContestRecord) error {
	f.calls = append(f.calls, deliveryCall{method: "edit", post: post, text: text, recordIDs: contestIDs(records)})
	return f.fail("edit", post)
}

func (f *fakeDelivery) CommentOnPost(_ context.Context, post types.PostID, text string, attachment string) (types.CommentID, error) {
	f.calls = append(f.calls, deliveryCall{method: "comment", post: post, text: text, attachment: attachment})
	if err := f.fail("comment", post); err != nil {
		return "", err
	}
	f.nextNote++
	return types.CommentID(fmt.Sprintf("comment-%02d", f.nextNote)), nil
}

func (f *fakeDelivery) methods() []string {
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.method
	}
	return out
}

func (f *fakeDelivery) reset() {
	f.calls = nil
}

// ============================================================
// Fake EventSource
// ============================================================

type fakeSource struct {
	records []types.ContestRecord
	err     error
	queries []Query
}

func (s *fakeSource) Contests(_ context.Context, q Query) ([]types.ContestRecord, error) {
	s.queries = append(s.queries, q)
	if s.err != nil {
		return nil, s.err
	}
	return s.records, nil
}

func newTestReconciler(lapContests ...int64) *Reconciler {
	return NewReconciler(ReconcilerConfig{
		Classifier: NewClassifier(DefaultProvisionalLegs, lapContests),
		Composer:   NewComposer(DefaultLinkBaseURL, time.UTC),
		Logger:     discardLogger(),
	})
}
