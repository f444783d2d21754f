package replay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kassenews/internal/reporter"
	"kassenews/internal/types"
)

type call struct {
	method string
	text   string
	at     time.Time
}

// clockedDelivery records calls together with the simulated time.
type clockedDelivery struct {
	now   time.Time
	calls []call
	posts int
}

func (d *clockedDelivery) SetNow(t time.Time) { d.now = t }

func (d *clockedDelivery) NewPost(_ context.Context, text string, _ []types.ContestRecord) (types.PostID, error) {
	d.posts++
	d.calls = append(d.calls, call{"new", text, d.now})
	return types.PostID(fmt.Sprint(d.posts)), nil
}

func (d *clockedDelivery) EditPost(_ context.Context, _ types.PostID, text string, _ []types.ContestRecord) error {
	d.calls = append(d.calls, call{"edit", text, d.now})
	return nil
}

func (d *clockedDelivery) CommentOnPost(_ context.Context, _ types.PostID, text string, _ string) (types.CommentID, error) {
	d.calls = append(d.calls, call{"comment", text, d.now})
	return "c", nil
}

func newTestDriver(history []types.ContestRecord, d reporter.Delivery) *Driver {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDriver(DriverConfig{
		History:    history,
		Aggregator: reporter.NewAggregator(0, 0),
		Reconciler: reporter.NewReconciler(reporter.ReconcilerConfig{Logger: logger}),
		Delivery:   d,
		Logger:     logger,
	})
}

func TestDriver_ReplaysContest(t *testing.T) {
	anna := finished(1, "Anna")
	anna.Residue = nil
	anna.Attachments = nil
	bo := types.ContestRecord{
		ID:          20,
		Participant: types.Participant{ID: 2, Name: "Bo"},
		State:       types.RunStateInitial,
		CreatedTime: day.Add(18 * time.Hour),
	}
	d := &clockedDelivery{}
	driver := newTestDriver([]types.ContestRecord{bo, anna}, d)

	report, stats, err := driver.Run(context.Background(), day.Add(-time.Hour))
	require.NoError(t, err)

	require.Len(t, d.calls, 3)
	assert.Equal(t, "new", d.calls[0].method)
	assert.Contains(t, d.calls[0].text, "Anna er begyndt at drikke!")
	assert.Equal(t, "edit", d.calls[1].method)
	assert.Contains(t, d.calls[1].text, "Tiden for Anna blev 5 øl på 1:40.00.")
	assert.Equal(t, "comment", d.calls[2].method)
	assert.Equal(t, `Annas kommentar: "Skål".`, d.calls[2].text)

	start := *anna.StartTime
	assert.True(t, d.calls[0].at.After(start), "nothing is announced before the start")
	assert.True(t, d.calls[1].at.After(start.Add(100*time.Second)), "the result waits for the last leg")
	assert.Less(t, d.calls[1].at.Sub(start.Add(100*time.Second)), 25*time.Second)

	assert.Equal(t, 2, stats.Days)
	assert.Positive(t, stats.Retries)
	assert.Zero(t, stats.Errors)
	assert.Empty(t, report, "yesterday's post left the window and Bo alone is not announced")
}

func TestDriver_DayStarts(t *testing.T) {
	first := finished(1, "Anna")
	second := finished(2, "Bo")
	second.CreatedTime = day.Add(2 * time.Hour)
	nextDay := finished(3, "Carl")
	nextDay.CreatedTime = day.Add(30 * time.Hour)
	old := finished(4, "Dora")
	old.CreatedTime = day.Add(-72 * time.Hour)

	driver := newTestDriver([]types.ContestRecord{nextDay, second, first, old}, &clockedDelivery{})

	assert.Equal(t, []time.Time{day, day.Add(30 * time.Hour)}, driver.DayStarts(day.Add(-time.Hour)))
}

func TestDriver_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := newTestDriver([]types.ContestRecord{finished(1, "Anna")}, &clockedDelivery{}).Run(ctx, day.Add(-time.Hour))

	assert.ErrorIs(t, err, context.Canceled)
}
