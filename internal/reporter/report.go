package reporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"kassenews/internal/types"
)

// NewPostKey is the Report key of a post that has not been created yet. It
// only exists while UpdateReport runs and never appears in a returned Report.
const NewPostKey types.PostID = ""

// Delivery publishes the reporter's text. Implementations own retry and
// backoff; errors are returned to the reconciler unchanged.
type Delivery interface {
	// NewPost creates a post and returns its handle.
	NewPost(ctx context.Context, text string, records []types.ContestRecord) (types.PostID, error)
	// EditPost replaces the text of an existing post.
	EditPost(ctx context.Context, post types.PostID, text string, records []types.ContestRecord) error
	// CommentOnPost adds a comment to a post. An empty attachment means none.
	CommentOnPost(ctx context.Context, post types.PostID, text string, attachment string) (types.CommentID, error)
}

// Tracked is what was last reported about one participant on a post.
type Tracked struct {
	Record   types.ContestRecord `json:"record"`
	State    ReportState         `json:"state"`
	Comments []CommentFact       `json:"comments,omitempty"`
}

// Roster holds the tracked participants of one post, keyed by participant ID.
type Roster map[int64]Tracked

// States returns the report state of every participant on the roster.
func (r Roster) States() map[types.Participant]ReportState {
	states := make(map[types.Participant]ReportState, len(r))
	for _, t := range r {
		states[t.Record.Participant] = t.State
	}
	return states
}

// Records returns the contest records on the roster ordered by contest ID.
func (r Roster) Records() []types.ContestRecord {
	records := make([]types.ContestRecord, 0, len(r))
	for _, t := range r {
		records = append(records, t.Record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records
}

func (r Roster) sortedIDs() []int64 {
	ids := make([]int64, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r Roster) clone() Roster {
	out := make(Roster, len(r))
	for id, t := range r {
		out[id] = t
	}
	return out
}

// Report is the reconciliation state carried from one tick to the next: what
// has been published, per post. A participant appears on at most one post.
type Report map[types.PostID]Roster

// Owners returns the post each tracked participant belongs to.
func (r Report) Owners() map[int64]types.PostID {
	owners := make(map[int64]types.PostID)
	for post, roster := range r {
		for id := range roster {
			owners[id] = post
		}
	}
	return owners
}

// Clone returns a copy that shares no maps with r.
func (r Report) Clone() Report {
	out := make(Report, len(r))
	for post, roster := range r {
		out[post] = roster.clone()
	}
	return out
}

// upcomingPost returns the post on which every tracked participant is still
// upcoming, preferring the lowest post ID if several qualify.
func (r Report) upcomingPost() (types.PostID, bool) {
	var found []types.PostID
	for post, roster := range r {
		if post == NewPostKey || len(roster) == 0 {
			continue
		}
		all := true
		for _, t := range roster {
			if t.State.Tag != TagUpcoming {
				all = false
				break
			}
		}
		if all {
			found = append(found, post)
		}
	}
	if len(found) == 0 {
		return "", false
	}
	sort.Slice(found, func(i, j int) bool { return found[i] < found[j] })
	return found[0], true
}

// Reconciler turns the current contest records into delivery calls by
// diffing them against the previous Report.
type Reconciler struct {
	classifier *Classifier
	composer   *Composer
	logger     *slog.Logger
}

// ReconcilerConfig holds the dependencies of a Reconciler.
type ReconcilerConfig struct {
	Classifier *Classifier
	Composer   *Composer
	Logger     *slog.Logger
}

// NewReconciler creates a Reconciler. Missing dependencies get defaults.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = NewClassifier(DefaultProvisionalLegs, nil)
	}
	composer := cfg.Composer
	if composer == nil {
		composer = NewComposer("", nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		classifier: classifier,
		composer:   composer,
		logger:     logger,
	}
}

// UpdateReport publishes what changed between prior and records and returns
// the Report to pass to the next call.
//
// Each record is routed to the post its participant is already on, else to
// the post on which everyone is still upcoming, else to a new post. A post
// whose per-participant states changed gets its text rewritten; comment facts
// not reported before are added as comments.
//
// Delivery failures are contained per post: the failed post's unreported
// changes stay unreported in the returned Report so the next call retries
// them. All failures are returned joined, after every post was processed.
// Calling UpdateReport again with the same records and the returned Report
// makes no delivery calls.
func (rc *Reconciler) UpdateReport(ctx context.Context, d Delivery, prior Report, records []types.ContestRecord) (Report, error) {
	owners := prior.Owners()
	upcoming, hasUpcoming := prior.upcomingPost()

	buckets := make(map[types.PostID]Roster)
	for _, r := range records {
		target, ok := owners[r.Participant.ID]
		if !ok {
			target = NewPostKey
			if hasUpcoming {
				target = upcoming
			}
		}
		bucket, ok := buckets[target]
		if !ok {
			if target != NewPostKey {
				bucket = prior[target].clone()
			} else {
				bucket = make(Roster)
			}
			buckets[target] = bucket
		}
		bucket[r.Participant.ID] = Tracked{
			Record:   r,
			State:    rc.classifier.Classify(r),
			Comments: rc.classifier.ExtractComments(r),
		}
	}

	posts := make([]types.PostID, 0, len(buckets))
	for post := range buckets {
		if post != NewPostKey {
			posts = append(posts, post)
		}
	}
	sort.Slice(posts, func(i, j int) bool { return posts[i] < posts[j] })
	if _, ok := buckets[NewPostKey]; ok {
		posts = append(posts, NewPostKey)
	}

	next := make(Report, len(buckets))
	var errs []error
	for _, post := range posts {
		bucket := buckets[post]
		if post == NewPostKey && rc.suppressed(bucket) {
			continue
		}
		id, roster, err := rc.reconcilePost(ctx, d, post, prior[post], bucket)
		if err != nil {
			errs = append(errs, err)
		}
		if roster != nil {
			next[id] = roster
		}
	}
	return next, errors.Join(errs...)
}

// suppressed reports whether a would-be new post has nothing worth a
// headline: a single upcoming contest waits until something happens, and
// contests with unrecognized results are never described.
func (rc *Reconciler) suppressed(bucket Roster) bool {
	describable := 0
	for _, t := range bucket {
		if t.State.Tag != TagUnknown {
			describable++
		}
	}
	if describable == 0 {
		return true
	}
	if len(bucket) != 1 {
		return false
	}
	for _, t := range bucket {
		return t.State.Tag == TagUpcoming && !rc.classifier.LapCommentary(t.Record.ID)
	}
	return false
}

// reconcilePost brings one post up to date. It returns the post's ID (the
// created one for NewPostKey) and the roster to keep, or a nil roster when
// nothing of the post should be kept.
func (rc *Reconciler) reconcilePost(ctx context.Context, d Delivery, post types.PostID, prior, bucket Roster) (types.PostID, Roster, error) {
	if statesChanged(prior, bucket) {
		text, ok := rc.headline(bucket)
		records := bucket.Records()
		if !ok {
			rc.logger.WarnContext(ctx, "no participant on post can be described, keeping its text",
				"post_id", post,
				"participants", len(bucket),
			)
		} else if post == NewPostKey {
			created, err := d.NewPost(ctx, text, records)
			if err != nil {
				rc.logger.ErrorContext(ctx, "failed to create post",
					"text", text,
					"participants", len(bucket),
					"error", err,
				)
				return "", nil, fmt.Errorf("creating post: %w", err)
			}
			rc.logger.InfoContext(ctx, "created post", "post_id", created, "participants", len(bucket))
			post = created
		} else if err := d.EditPost(ctx, post, text, records); err != nil {
			rc.logger.ErrorContext(ctx, "failed to edit post",
				"post_id", post,
				"text", text,
				"error", err,
			)
			return post, revert(prior, bucket), fmt.Errorf("editing post %s: %w", post, err)
		} else {
			rc.logger.InfoContext(ctx, "edited post", "post_id", post, "participants", len(bucket))
		}
	}

	delivered, err := rc.postComments(ctx, d, post, prior, bucket)
	for id, t := range bucket {
		t.Comments = committedComments(t.Comments, prior[id].Comments, delivered[id])
		bucket[id] = t
	}
	if err != nil {
		return post, bucket, fmt.Errorf("commenting on post %s: %w", post, err)
	}
	return post, bucket, nil
}

// headline composes the post text. It reports false when no participant
// state can be described, since a post of bare links says nothing.
func (rc *Reconciler) headline(bucket Roster) (string, bool) {
	desc := DescribeStates(bucket.States())
	if desc == "" {
		return "", false
	}
	lines := []string{desc}
	if links := rc.composer.InfoLinks(bucket.Records()); links != "" {
		lines = append(lines, links)
	}
	return strings.Join(lines, "\n"), true
}

// statesChanged reports whether any participant's state differs between the
// two rosters, including participants present in only one of them.
func statesChanged(prior, current Roster) bool {
	if len(prior) != len(current) {
		return true
	}
	for id, t := range current {
		p, ok := prior[id]
		if !ok || p.State != t.State {
			return true
		}
	}
	return false
}

// revert rolls a roster back to what was reported before, keeping newly
// routed participants on the post with an empty state.
func revert(prior, bucket Roster) Roster {
	out := make(Roster, len(bucket))
	for id, t := range bucket {
		if p, ok := prior[id]; ok {
			out[id] = p
			continue
		}
		out[id] = Tracked{Record: t.Record}
	}
	return out
}

type pendingComment struct {
	text       string
	attachment string
	facts      []ParticipantFact
}

// postComments sends the comment facts not yet reported on the post. All
// text facts go into one comment that also carries the first attachment;
// each further attachment gets a comment of its own. It stops at the first
// failure and returns the facts delivered so far, per participant.
func (rc *Reconciler) postComments(ctx context.Context, d Delivery, post types.PostID, prior, bucket Roster) (map[int64][]CommentFact, error) {
	var facts, attachments []ParticipantFact
	for _, id := range bucket.sortedIDs() {
		t := bucket[id]
		reported := prior[id].Comments
		for _, f := range t.Comments {
			if containsFact(reported, f) {
				continue
			}
			pf := ParticipantFact{Participant: t.Record.Participant, Fact: f}
			if f.Kind == CommentAttachment {
				attachments = append(attachments, pf)
			} else {
				facts = append(facts, pf)
			}
		}
	}
	if len(facts) == 0 && len(attachments) == 0 {
		return nil, nil
	}

	var pending []pendingComment
	first := pendingComment{facts: facts}
	if len(attachments) > 0 {
		first.facts = append(first.facts, attachments[0])
		first.attachment = attachments[0].Fact.URL
		attachments = attachments[1:]
	}
	first.text = rc.composer.DescribeComments(first.facts)
	pending = append(pending, first)
	for _, a := range attachments {
		pending = append(pending, pendingComment{
			text:       rc.composer.DescribeComments([]ParticipantFact{a}),
			attachment: a.Fact.URL,
			facts:      []ParticipantFact{a},
		})
	}

	delivered := make(map[int64][]CommentFact)
	for _, c := range pending {
		commentID, err := d.CommentOnPost(ctx, post, c.text, c.attachment)
		if err != nil {
			rc.logger.ErrorContext(ctx, "failed to comment on post",
				"post_id", post,
				"text", c.text,
				"attachment", c.attachment,
				"error", err,
			)
			return delivered, err
		}
		rc.logger.InfoContext(ctx, "commented on post", "post_id", post, "comment_id", commentID)
		for _, pf := range c.facts {
			delivered[pf.Participant.ID] = append(delivered[pf.Participant.ID], pf.Fact)
		}
	}
	return delivered, nil
}

// committedComments keeps the current facts that are known to be on the
// post, in their original order.
func committedComments(current, reported, delivered []CommentFact) []CommentFact {
	var out []CommentFact
	for _, f := range current {
		if containsFact(reported, f) || containsFact(delivered, f) {
			out = append(out, f)
		}
	}
	return out
}

func containsFact(facts []CommentFact, f CommentFact) bool {
	for _, g := range facts {
		if g == f {
			return true
		}
	}
	return false
}

// Reconstruct rebuilds a Report from a participant-to-post mapping, such as
// the one kept by the post archive, after a restart without a checkpoint.
// Every assigned record is treated as fully reported; records without an
// assignment are left for the next UpdateReport to pick up.
func (rc *Reconciler) Reconstruct(assignments map[int64]types.PostID, records []types.ContestRecord) Report {
	report := make(Report)
	for _, r := range records {
		post, ok := assignments[r.Participant.ID]
		if !ok || post == NewPostKey {
			continue
		}
		roster, ok := report[post]
		if !ok {
			roster = make(Roster)
			report[post] = roster
		}
		roster[r.Participant.ID] = Tracked{
			Record:   r,
			State:    rc.classifier.Classify(r),
			Comments: rc.classifier.ExtractComments(r),
		}
	}
	return report
}
