package db

import (
	"context"
	"time"

	"kassenews/internal/types"
)

// PostRepository archives what the reporter published in the news_post,
// news_post_profile and news_comment tables. The participant set of each
// post is what Assignments returns after a restart.
type PostRepository struct {
	db DBTX
}

// NewPostRepository creates a new PostRepository backed by the given
// database connection (pool or transaction).
func NewPostRepository(db DBTX) *PostRepository {
	return &PostRepository{db: db}
}

// SavePost records a newly created post and the participants on it.
func (r *PostRepository) SavePost(ctx context.Context, post types.PostID, text string, participants []int64) error {
	_, err := r.db.Exec(ctx,
		`WITH p AS (
		   INSERT INTO news_post (fbid, text, post_time)
		   VALUES ($1, $2, NOW())
		   RETURNING id
		 )
		 INSERT INTO news_post_profile (post_id, profile_id)
		 SELECT p.id, unnest($3::bigint[]) FROM p`,
		string(post), text, participants,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save post", err)
	}
	return nil
}

// UpdatePostText records an edit. Participants not yet linked to the post
// are added.
func (r *PostRepository) UpdatePostText(ctx context.Context, post types.PostID, text string, participants []int64) error {
	var found bool
	err := r.db.QueryRow(ctx,
		`WITH p AS (
		   UPDATE news_post SET text = $2 WHERE fbid = $1 RETURNING id
		 ), linked AS (
		   INSERT INTO news_post_profile (post_id, profile_id)
		   SELECT p.id, unnest($3::bigint[]) FROM p
		   ON CONFLICT DO NOTHING
		 )
		 SELECT EXISTS (SELECT 1 FROM p)`,
		string(post), text, participants,
	).Scan(&found)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update post", err)
	}
	if !found {
		return types.NewAppErrorWithDetails(types.ErrCodeNotFoundPost, "post is not archived", nil,
			map[string]any{"post_id": string(post)})
	}
	return nil
}

// SaveComment records a comment on an archived post.
func (r *PostRepository) SaveComment(ctx context.Context, post types.PostID, comment types.CommentID, text string, attachment string) error {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO news_comment (post_id, fbid, text, attachment_url, post_time)
		 SELECT id, $2, $3, NULLIF($4, ''), NOW() FROM news_post WHERE fbid = $1`,
		string(post), string(comment), text, attachment,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save comment", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppErrorWithDetails(types.ErrCodeNotFoundPost, "post is not archived", nil,
			map[string]any{"post_id": string(post)})
	}
	return nil
}

// Assignments returns, for every participant on a post made after since, the
// most recent such post.
func (r *PostRepository) Assignments(ctx context.Context, since time.Time) (map[int64]types.PostID, error) {
	rows, err := r.db.Query(ctx,
		`SELECT pp.profile_id, p.fbid
		 FROM news_post_profile pp
		 JOIN news_post p ON p.id = pp.post_id
		 WHERE p.post_time > $1
		 ORDER BY p.post_time, p.id`,
		since,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list post assignments", err)
	}
	defer rows.Close()

	assignments := make(map[int64]types.PostID)
	for rows.Next() {
		var (
			profileID int64
			fbid      string
		)
		if err := rows.Scan(&profileID, &fbid); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan assignment row", err)
		}
		assignments[profileID] = types.PostID(fbid)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating assignment rows", err)
	}
	return assignments, nil
}
