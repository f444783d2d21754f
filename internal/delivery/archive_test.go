package delivery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kassenews/internal/types"
)

type mockPostStore struct {
	mock.Mock
}

func (m *mockPostStore) SavePost(ctx context.Context, post types.PostID, text string, participants []int64) error {
	return m.Called(ctx, post, text, participants).Error(0)
}

func (m *mockPostStore) UpdatePostText(ctx context.Context, post types.PostID, text string, participants []int64) error {
	return m.Called(ctx, post, text, participants).Error(0)
}

func (m *mockPostStore) SaveComment(ctx context.Context, post types.PostID, comment types.CommentID, text string, attachment string) error {
	return m.Called(ctx, post, comment, text, attachment).Error(0)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestArchive_PersistsDeliveredCalls(t *testing.T) {
	ctx := context.Background()
	store := new(mockPostStore)
	archive := NewArchive(NewRecorder(nil), store, discard())

	records := []types.ContestRecord{record(30, 3, "Cai"), record(10, 1, "Anna"), record(11, 1, "Anna")}
	store.On("SavePost", ctx, types.PostID("1"), "headline", []int64{1, 3}).Return(nil)
	store.On("UpdatePostText", ctx, types.PostID("1"), "edited", []int64{1}).Return(nil)
	store.On("SaveComment", ctx, types.PostID("1"), types.CommentID("1_1"), "Skål", "http://img/1").Return(nil)

	post, err := archive.NewPost(ctx, "headline", records)
	require.NoError(t, err)
	require.NoError(t, archive.EditPost(ctx, post, "edited", records[1:2]))
	_, err = archive.CommentOnPost(ctx, post, "Skål", "http://img/1")
	require.NoError(t, err)

	store.AssertExpectations(t)
}

func TestArchive_SkipsFailedDeliveries(t *testing.T) {
	ctx := context.Background()
	store := new(mockPostStore)
	rec := NewRecorder(nil)
	archive := NewArchive(rec, store, discard())

	unavailable := types.NewAppError(types.ErrCodeUpstreamUnavailable, "down", nil)
	rec.FailNext(3, unavailable)

	_, err := archive.NewPost(ctx, "x", nil)
	assert.ErrorIs(t, err, unavailable)
	assert.ErrorIs(t, archive.EditPost(ctx, "1", "x", nil), unavailable)
	_, err = archive.CommentOnPost(ctx, "1", "x", "")
	assert.ErrorIs(t, err, unavailable)

	store.AssertNotCalled(t, "SavePost", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "UpdatePostText", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "SaveComment", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestArchive_StoreFailureDoesNotFailDelivery(t *testing.T) {
	ctx := context.Background()
	store := new(mockPostStore)
	archive := NewArchive(NewRecorder(nil), store, discard())

	store.On("SavePost", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(types.NewAppError(types.ErrCodeInternalDB, "db down", errors.New("conn refused")))

	post, err := archive.NewPost(ctx, "x", nil)
	require.NoError(t, err)
	assert.Equal(t, types.PostID("1"), post)
}
