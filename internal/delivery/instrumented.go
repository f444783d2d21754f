package delivery

import (
	"context"
	"time"

	"kassenews/internal/reporter"
	"kassenews/internal/types"
)

var _ reporter.Delivery = (*Instrumented)(nil)

// Instrumented records an attempt and its latency for every call to the
// wrapped Delivery.
type Instrumented struct {
	next    reporter.Delivery
	metrics Metrics
	now     func() time.Time
}

// NewInstrumented wraps next. A nil metrics discards everything.
func NewInstrumented(next reporter.Delivery, metrics Metrics) *Instrumented {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Instrumented{next: next, metrics: metrics, now: time.Now}
}

func (d *Instrumented) NewPost(ctx context.Context, text string, records []types.ContestRecord) (types.PostID, error) {
	start := d.now()
	post, err := d.next.NewPost(ctx, text, records)
	d.observe(ctx, ActionNewPost, start, err)
	return post, err
}

func (d *Instrumented) EditPost(ctx context.Context, post types.PostID, text string, records []types.ContestRecord) error {
	start := d.now()
	err := d.next.EditPost(ctx, post, text, records)
	d.observe(ctx, ActionEditPost, start, err)
	return err
}

func (d *Instrumented) CommentOnPost(ctx context.Context, post types.PostID, text string, attachment string) (types.CommentID, error) {
	start := d.now()
	comment, err := d.next.CommentOnPost(ctx, post, text, attachment)
	d.observe(ctx, ActionComment, start, err)
	return comment, err
}

func (d *Instrumented) observe(ctx context.Context, action Action, start time.Time, err error) {
	d.metrics.RecordLatency(ctx, action, d.now().Sub(start))
	d.metrics.RecordDelivery(ctx, action, resultOf(err))
}

func resultOf(err error) MetricResult {
	switch {
	case err == nil:
		return MetricSuccess
	case types.IsServiceUnavailable(err):
		return MetricUnavailable
	default:
		return MetricFailed
	}
}
