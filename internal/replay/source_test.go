package replay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kassenews/internal/reporter"
	"kassenews/internal/types"
)

var day = time.Date(2026, 2, 6, 18, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

// finished is a complete five-leg contest: created at day, started a minute
// later, legs of 20 seconds each.
func finished(pid int64, name string) types.ContestRecord {
	return types.ContestRecord{
		ID:          pid * 10,
		Participant: types.Participant{ID: pid, Name: name},
		Result:      types.ResultFinished,
		State:       types.RunStateStopped,
		StartTime:   ptr(day.Add(time.Minute)),
		CreatedTime: day,
		Legs:        []float64{20, 20, 20, 20, 20},
		Comment:     "Skål",
		Residue:     ptr(2.5),
		Attachments: []string{"http://img/1"},
	}
}

func TestAsOf(t *testing.T) {
	r := finished(1, "Anna")

	t.Run("not yet created", func(t *testing.T) {
		_, ok := AsOf(r, day.Add(-time.Second))
		assert.False(t, ok)
	})

	t.Run("created but not started", func(t *testing.T) {
		past, ok := AsOf(r, day.Add(30*time.Second))
		require.True(t, ok)
		assert.Nil(t, past.StartTime)
		assert.Equal(t, types.RunStateInitial, past.State)
		assert.Equal(t, types.ResultUnset, past.Result)
		assert.Empty(t, past.Legs)
		assert.Empty(t, past.Comment)
		assert.Nil(t, past.Residue)
		assert.Empty(t, past.Attachments)
	})

	t.Run("legs truncated", func(t *testing.T) {
		past, ok := AsOf(r, day.Add(time.Minute+45*time.Second))
		require.True(t, ok)
		assert.Equal(t, []float64{20, 20}, past.Legs)
		assert.Equal(t, types.RunStateRunning, past.State)
		assert.Equal(t, types.ResultUnset, past.Result)
		assert.Empty(t, past.Comment)
		assert.Empty(t, past.Attachments)
	})

	t.Run("leg ending exactly at the cutoff is not visible", func(t *testing.T) {
		past, ok := AsOf(r, day.Add(time.Minute+40*time.Second))
		require.True(t, ok)
		assert.Len(t, past.Legs, 1)
	})

	t.Run("complete", func(t *testing.T) {
		past, ok := AsOf(r, day.Add(time.Hour))
		require.True(t, ok)
		assert.Equal(t, r, past)
	})

	t.Run("original is not modified", func(t *testing.T) {
		AsOf(r, day.Add(time.Minute+45*time.Second))
		assert.Len(t, r.Legs, 5)
		assert.Equal(t, types.ResultFinished, r.Result)
	})
}

func TestSource_Contests(t *testing.T) {
	anna := finished(1, "Anna")
	bo := finished(2, "Bo")
	bo.CreatedTime = day.Add(10 * time.Minute)
	bo.StartTime = ptr(day.Add(11 * time.Minute))
	annaAgain := finished(1, "Anna")
	annaAgain.ID = 11
	annaAgain.CreatedTime = day.Add(5 * time.Minute)
	hidden := finished(3, "Carl")
	hidden.Participant.Ignore = true

	src := NewSource([]types.ContestRecord{bo, annaAgain, hidden, anna}, day.Add(7*time.Minute))

	got, err := src.Contests(context.Background(), reporter.Query{CreatedAfter: day.Add(-time.Hour), ExcludeIgnored: true})
	require.NoError(t, err)

	ids := make([]int64, len(got))
	for i, r := range got {
		ids[i] = r.ID
	}
	assert.Equal(t, []int64{10, 11}, ids, "ordered by participant then creation; Bo not created yet")
	assert.Equal(t, day.Add(7*time.Minute), src.Now())
	assert.Equal(t, day.Add(time.Hour), src.At(day.Add(time.Hour)).Now())
}
