package checkpoint

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kassenews/internal/reporter"
	"kassenews/internal/types"
)

var savedAt = time.Date(2026, 5, 1, 20, 15, 0, 0, time.UTC)

func sampleReport() reporter.Report {
	start := time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)
	record := types.ContestRecord{
		ID:          99,
		Participant: types.Participant{ID: 4, Name: "Ida"},
		State:       types.RunStateRunning,
		StartTime:   &start,
		CreatedTime: start.Add(-time.Minute),
		Legs:        []float64{12.5},
	}
	c := reporter.NewClassifier(0, []int64{99})
	return reporter.Report{
		"post-1": {
			4: {Record: record, State: c.Classify(record), Comments: c.ExtractComments(record)},
		},
	}
}

func TestEncodeDecode(t *testing.T) {
	data, err := Encode(sampleReport(), savedAt)
	require.NoError(t, err)

	got, at, err := Decode(data)
	require.NoError(t, err)

	assert.True(t, at.Equal(savedAt))
	want := sampleReport()
	require.Contains(t, got, types.PostID("post-1"))
	assert.Equal(t, want["post-1"][4].State, got["post-1"][4].State)
	assert.Equal(t, want["post-1"][4].Comments, got["post-1"][4].Comments)
	assert.True(t, want["post-1"][4].Comments[0] == got["post-1"][4].Comments[0],
		"decoded lap facts compare equal to freshly extracted ones")
}

func TestDecode_EmptyReport(t *testing.T) {
	data, err := Encode(nil, savedAt)
	require.NoError(t, err)

	got, _, err := Decode(data)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestDecode_Corrupt(t *testing.T) {
	_, _, err := Decode([]byte("definitely not zstd"))
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrCodeInternalCheckpointCorrupt))

	notJSON := getEncoder().EncodeAll([]byte("{oops"), nil)
	_, _, err = Decode(notJSON)
	assert.True(t, types.HasCode(err, types.ErrCodeInternalCheckpointCorrupt))

	future := getEncoder().EncodeAll([]byte(`{"version": 99, "report": {}}`), nil)
	_, _, err = Decode(future)
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalCheckpointCorrupt, appErr.Code)
	assert.Equal(t, 99, appErr.Details["version"])
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "checkpoint.db")

	store, err := OpenSQLite(path)
	require.NoError(t, err)

	_, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "fresh store has no checkpoint")

	require.NoError(t, store.Save(ctx, reporter.Report{"post-0": {}}))
	require.NoError(t, store.Save(ctx, sampleReport()))
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got, 1, "the last save replaces earlier ones")
	assert.Equal(t, sampleReport()["post-1"][4].State, got["post-1"][4].State)
}

func TestRetryOnContention(t *testing.T) {
	calls := 0
	err := retryOnContention(func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = retryOnContention(func() error {
		calls++
		return errors.New("no such table")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "other errors are not retried")
}
