package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kassenews/internal/reporter"
	"kassenews/internal/types"
)

// ============================================================
// PostRepository Tests
// ============================================================

func TestPostRepository_SavePost(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPostRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, sqlContaining("INSERT INTO news_post_profile"),
		[]any{"123_456", "Anna er begyndt at drikke!", []int64{1, 2}}).
		Return(pgconn.NewCommandTag("INSERT 0 2"), nil)

	err := repo.SavePost(ctx, "123_456", "Anna er begyndt at drikke!", []int64{1, 2})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestPostRepository_SavePost_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPostRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("unique violation"))

	err := repo.SavePost(context.Background(), "123_456", "text", nil)
	assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
}

func TestPostRepository_UpdatePostText(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPostRepository(db)
	ctx := context.Background()

	found := &mockRow{scanFn: func(dest ...any) error {
		*dest[0].(*bool) = true
		return nil
	}}
	db.On("QueryRow", ctx, sqlContaining("UPDATE news_post"), []any{"123_456", "ny tekst", []int64{3}}).
		Return(found)

	require.NoError(t, repo.UpdatePostText(ctx, "123_456", "ny tekst", []int64{3}))
	db.AssertExpectations(t)
}

func TestPostRepository_UpdatePostText_NotArchived(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPostRepository(db)

	missing := &mockRow{scanFn: func(dest ...any) error {
		*dest[0].(*bool) = false
		return nil
	}}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(missing)

	err := repo.UpdatePostText(context.Background(), "999", "text", nil)
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundPost))
}

func TestPostRepository_SaveComment(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPostRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, sqlContaining("INSERT INTO news_comment"),
		[]any{"123_456", "123_789", "Anna tilføjede et billede.", "http://img/1"}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Once()
	db.On("Exec", ctx, sqlContaining("INSERT INTO news_comment"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil).Once()

	require.NoError(t, repo.SaveComment(ctx, "123_456", "123_789", "Anna tilføjede et billede.", "http://img/1"))

	err := repo.SaveComment(ctx, "unknown", "1", "text", "")
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundPost))
	db.AssertExpectations(t)
}

func TestPostRepository_Assignments(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPostRepository(db)
	since := time.Date(2026, 4, 3, 7, 0, 0, 0, time.UTC)

	db.On("Query", mock.Anything, sqlContaining("FROM news_post_profile"), []any{since}).
		Return(newMockRows([][]any{
			{int64(1), "post-a"},
			{int64(2), "post-a"},
			{int64(1), "post-b"},
		}), nil)

	got, err := repo.Assignments(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, map[int64]types.PostID{1: "post-b", 2: "post-a"}, got, "later posts win")
}

func TestPostRepository_Assignments_RowsError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPostRepository(db)

	rows := newMockRows(nil)
	rows.errVal = errors.New("connection reset")
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	_, err := repo.Assignments(context.Background(), time.Time{})
	assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
}

// ============================================================
// CheckpointRepository Tests
// ============================================================

func TestCheckpointRepository_SaveAndLoad(t *testing.T) {
	db := new(mockDBTX)
	repo := NewCheckpointRepository(db)
	repo.now = func() time.Time { return time.Date(2026, 4, 3, 20, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	report := reporter.Report{"post-a": {1: {State: reporter.ReportState{Tag: reporter.TagStarted}}}}

	var saved []byte
	db.On("Exec", ctx, sqlContaining("INSERT INTO news_checkpoint"), mock.MatchedBy(func(args []any) bool {
		data, ok := args[0].([]byte)
		saved = data
		return ok && len(data) > 0
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	require.NoError(t, repo.Save(ctx, report))

	db.On("QueryRow", ctx, sqlContaining("FROM news_checkpoint"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*[]byte) = saved
			return nil
		}})

	got, ok, err := repo.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, reporter.TagStarted, got["post-a"][1].State.Tag)
	db.AssertExpectations(t)
}

func TestCheckpointRepository_LoadMissing(t *testing.T) {
	db := new(mockDBTX)
	repo := NewCheckpointRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, ok, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckpointRepository_LoadCorrupt(t *testing.T) {
	db := new(mockDBTX)
	repo := NewCheckpointRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*[]byte) = []byte("garbage")
			return nil
		}})

	_, _, err := repo.Load(context.Background())
	assert.True(t, types.HasCode(err, types.ErrCodeInternalCheckpointCorrupt))
}
