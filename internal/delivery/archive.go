package delivery

import (
	"context"
	"log/slog"
	"sort"

	"kassenews/internal/reporter"
	"kassenews/internal/types"
)

// PostStore persists what was published. db.PostRepository implements it.
type PostStore interface {
	SavePost(ctx context.Context, post types.PostID, text string, participants []int64) error
	UpdatePostText(ctx context.Context, post types.PostID, text string, participants []int64) error
	SaveComment(ctx context.Context, post types.PostID, comment types.CommentID, text string, attachment string) error
}

var _ reporter.Delivery = (*Archive)(nil)

// Archive records every successful delivery in a PostStore, together with the
// participants each post covers, so the reporter can rebuild its report after
// losing its checkpoint.
//
// Store failures are logged and swallowed: the post already exists upstream,
// and reporting the call as failed would make the reconciler publish it again.
type Archive struct {
	next   reporter.Delivery
	store  PostStore
	logger *slog.Logger
}

// NewArchive wraps next.
func NewArchive(next reporter.Delivery, store PostStore, logger *slog.Logger) *Archive {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{next: next, store: store, logger: logger}
}

func (a *Archive) NewPost(ctx context.Context, text string, records []types.ContestRecord) (types.PostID, error) {
	post, err := a.next.NewPost(ctx, text, records)
	if err != nil {
		return post, err
	}
	if serr := a.store.SavePost(ctx, post, text, participantIDs(records)); serr != nil {
		a.logger.ErrorContext(ctx, "failed to archive post", "post_id", string(post), "error", serr)
	}
	return post, nil
}

func (a *Archive) EditPost(ctx context.Context, post types.PostID, text string, records []types.ContestRecord) error {
	if err := a.next.EditPost(ctx, post, text, records); err != nil {
		return err
	}
	if serr := a.store.UpdatePostText(ctx, post, text, participantIDs(records)); serr != nil {
		a.logger.ErrorContext(ctx, "failed to archive post edit", "post_id", string(post), "error", serr)
	}
	return nil
}

func (a *Archive) CommentOnPost(ctx context.Context, post types.PostID, text string, attachment string) (types.CommentID, error) {
	comment, err := a.next.CommentOnPost(ctx, post, text, attachment)
	if err != nil {
		return comment, err
	}
	if serr := a.store.SaveComment(ctx, post, comment, text, attachment); serr != nil {
		a.logger.ErrorContext(ctx, "failed to archive comment",
			"post_id", string(post),
			"comment_id", string(comment),
			"error", serr,
		)
	}
	return comment, nil
}

func participantIDs(records []types.ContestRecord) []int64 {
	seen := make(map[int64]struct{}, len(records))
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.Participant.ID]; ok {
			continue
		}
		seen[r.Participant.ID] = struct{}{}
		ids = append(ids, r.Participant.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
