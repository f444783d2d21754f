package db

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kassenews/internal/reporter"
	"kassenews/internal/types"
)

func sqlContaining(fragment string) any {
	return mock.MatchedBy(func(sql string) bool { return strings.Contains(sql, fragment) })
}

func TestContestRepository_Contests(t *testing.T) {
	db := new(mockDBTX)
	repo := NewContestRepository(db)
	ctx := context.Background()

	created := time.Date(2026, 4, 3, 19, 0, 0, 0, time.UTC)
	start := created.Add(time.Minute)
	residue := 4.5
	comment := "Skål"
	since := created.Add(-12 * time.Hour)

	db.On("Query", mock.Anything, sqlContaining("FROM stopwatch_timetrial"), []any{since, true}).
		Return(newMockRows([][]any{
			{int64(11), int64(1), "Anna", false, "f", "stopped", &start, created, &comment, &residue},
			{int64(12), int64(2), "Bo", false, "", "initial", nil, created, nil, nil},
		}), nil)
	db.On("Query", mock.Anything, sqlContaining("FROM stopwatch_leg"), []any{[]int64{11, 12}}).
		Return(newMockRows([][]any{
			{int64(11), 12.5},
			{int64(11), 13.0},
		}), nil)
	db.On("Query", mock.Anything, sqlContaining("FROM stopwatch_timetrialimage"), []any{[]int64{11, 12}}).
		Return(newMockRows([][]any{
			{int64(11), "http://img/1"},
		}), nil)

	records, err := repo.Contests(ctx, reporter.Query{CreatedAfter: since, ExcludeIgnored: true})
	require.NoError(t, err)
	require.Len(t, records, 2)

	anna := records[0]
	assert.Equal(t, int64(11), anna.ID)
	assert.Equal(t, types.Participant{ID: 1, Name: "Anna"}, anna.Participant)
	assert.Equal(t, types.ResultFinished, anna.Result)
	assert.Equal(t, types.RunStateStopped, anna.State)
	assert.Equal(t, &start, anna.StartTime)
	assert.Equal(t, "Skål", anna.Comment)
	assert.Equal(t, &residue, anna.Residue)
	assert.Equal(t, []float64{12.5, 13.0}, anna.Legs)
	assert.Equal(t, []string{"http://img/1"}, anna.Attachments)

	bo := records[1]
	assert.Equal(t, types.RunStateInitial, bo.State)
	assert.Nil(t, bo.StartTime)
	assert.Empty(t, bo.Comment)
	assert.Empty(t, bo.Legs)
	db.AssertExpectations(t)
}

// serialDBTX records how many queries were running at the same time.
type serialDBTX struct {
	*mockDBTX
	inFlight, maxInFlight atomic.Int32
}

func (s *serialDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		m := s.maxInFlight.Load()
		if n <= m || s.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	return s.mockDBTX.Query(ctx, sql, arguments...)
}

func TestContestRepository_Contests_SequentialOnSingleConnection(t *testing.T) {
	inner := new(mockDBTX)
	db := &serialDBTX{mockDBTX: inner}
	repo := NewContestRepository(db)
	created := time.Date(2026, 4, 3, 19, 0, 0, 0, time.UTC)

	inner.On("Query", mock.Anything, sqlContaining("FROM stopwatch_timetrial"), mock.Anything).
		Return(newMockRows([][]any{
			{int64(11), int64(1), "Anna", false, "", "initial", nil, created, nil, nil},
		}), nil)
	inner.On("Query", mock.Anything, sqlContaining("FROM stopwatch_leg"), mock.Anything).
		Return(newMockRows(nil), nil)
	inner.On("Query", mock.Anything, sqlContaining("FROM stopwatch_timetrialimage"), mock.Anything).
		Return(newMockRows(nil), nil)

	records, err := repo.Contests(context.Background(), reporter.Query{CreatedAfter: created.Add(-time.Hour)})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int32(1), db.maxInFlight.Load())
	inner.AssertExpectations(t)
}

func TestContestRepository_Contests_Empty(t *testing.T) {
	db := new(mockDBTX)
	repo := NewContestRepository(db)

	db.On("Query", mock.Anything, sqlContaining("FROM stopwatch_timetrial"), mock.Anything).
		Return(newMockRows(nil), nil)

	records, err := repo.Contests(context.Background(), reporter.Query{})
	require.NoError(t, err)
	assert.Empty(t, records)
	db.AssertNumberOfCalls(t, "Query", 1)
}

func TestContestRepository_Contests_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewContestRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("connection refused"))

	_, err := repo.Contests(context.Background(), reporter.Query{})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestContestRepository_Contests_LegQueryFails(t *testing.T) {
	db := new(mockDBTX)
	repo := NewContestRepository(db)
	created := time.Date(2026, 4, 3, 19, 0, 0, 0, time.UTC)

	db.On("Query", mock.Anything, sqlContaining("FROM stopwatch_timetrial"), mock.Anything).
		Return(newMockRows([][]any{
			{int64(11), int64(1), "Anna", false, "", "initial", nil, created, nil, nil},
		}), nil)
	db.On("Query", mock.Anything, sqlContaining("FROM stopwatch_leg"), mock.Anything).
		Return(nil, errors.New("statement timeout"))
	db.On("Query", mock.Anything, sqlContaining("FROM stopwatch_timetrialimage"), mock.Anything).
		Return(newMockRows(nil), nil).Maybe()

	_, err := repo.Contests(context.Background(), reporter.Query{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list legs")
}

func TestContestRepository_History(t *testing.T) {
	db := new(mockDBTX)
	repo := NewContestRepository(db)
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	db.On("Query", mock.Anything, sqlContaining("FROM stopwatch_timetrial"), []any{since, false}).
		Return(newMockRows(nil), nil)

	_, err := repo.History(context.Background(), since)
	require.NoError(t, err)
	db.AssertExpectations(t)
}
