package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"kassenews/internal/reporter"
	"kassenews/internal/types"
)

// ContestRepository reads time trials from the stopwatch tables. It is the
// live EventSource of the reporter.
type ContestRepository struct {
	db DBTX
	// parallel is only set for a pool. A single connection or transaction
	// runs one query at a time.
	parallel bool
}

// NewContestRepository creates a new ContestRepository. Legs and attachments
// are loaded concurrently when db is a *pgxpool.Pool and one after the other
// otherwise.
func NewContestRepository(db DBTX) *ContestRepository {
	_, parallel := db.(*pgxpool.Pool)
	return &ContestRepository{db: db, parallel: parallel}
}

const contestSelect = `
	SELECT t.id, t.profile_id, p.name, (ni.profile_id IS NOT NULL),
	       t.result, t.state, t.start_time, t.created_time, t.comment, t.residue
	FROM stopwatch_timetrial t
	JOIN kasse_profile p ON p.id = t.profile_id
	LEFT JOIN news_ignoreprofile ni ON ni.profile_id = t.profile_id
	WHERE t.created_time > $1
	  AND (NOT $2 OR ni.profile_id IS NULL)
	ORDER BY t.profile_id, t.created_time, t.id`

// Contests returns the time trials matching q ordered by participant and
// creation time, with their legs and attachments.
func (r *ContestRepository) Contests(ctx context.Context, q reporter.Query) ([]types.ContestRecord, error) {
	rows, err := r.db.Query(ctx, contestSelect, q.CreatedAfter, q.ExcludeIgnored)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list contests", err)
	}
	defer rows.Close()

	var (
		records []types.ContestRecord
		ids     []int64
	)
	for rows.Next() {
		var (
			rec     types.ContestRecord
			result  string
			state   string
			comment *string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.Participant.ID,
			&rec.Participant.Name,
			&rec.Participant.Ignore,
			&result,
			&state,
			&rec.StartTime,
			&rec.CreatedTime,
			&comment,
			&rec.Residue,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan contest row", err)
		}
		rec.Result = types.Result(result)
		rec.State = types.RunState(state)
		if comment != nil {
			rec.Comment = *comment
		}
		records = append(records, rec)
		ids = append(ids, rec.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating contest rows", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	var legs map[int64][]float64
	var images map[int64][]string
	g, gCtx := errgroup.WithContext(ctx)
	if !r.parallel {
		g.SetLimit(1)
	}
	g.Go(func() error {
		var err error
		legs, err = r.legs(gCtx, ids)
		return err
	})
	g.Go(func() error {
		var err error
		images, err = r.attachments(gCtx, ids)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range records {
		records[i].Legs = legs[records[i].ID]
		records[i].Attachments = images[records[i].ID]
	}
	return records, nil
}

// History returns every time trial created after since, including those of
// participants that opted out. Used to export replay dumps.
func (r *ContestRepository) History(ctx context.Context, since time.Time) ([]types.ContestRecord, error) {
	return r.Contests(ctx, reporter.Query{CreatedAfter: since})
}

func (r *ContestRepository) legs(ctx context.Context, ids []int64) (map[int64][]float64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT timetrial_id, duration
		 FROM stopwatch_leg
		 WHERE timetrial_id = ANY($1)
		 ORDER BY timetrial_id, "order"`,
		ids,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list legs", err)
	}
	defer rows.Close()

	legs := make(map[int64][]float64, len(ids))
	for rows.Next() {
		var (
			id       int64
			duration float64
		)
		if err := rows.Scan(&id, &duration); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan leg row", err)
		}
		legs[id] = append(legs[id], duration)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating leg rows", err)
	}
	return legs, nil
}

func (r *ContestRepository) attachments(ctx context.Context, ids []int64) (map[int64][]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT timetrial_id, image_url
		 FROM stopwatch_timetrialimage
		 WHERE timetrial_id = ANY($1)
		 ORDER BY timetrial_id, id`,
		ids,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list attachments", err)
	}
	defer rows.Close()

	images := make(map[int64][]string)
	for rows.Next() {
		var (
			id  int64
			url string
		)
		if err := rows.Scan(&id, &url); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan attachment row", err)
		}
		images[id] = append(images[id], url)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating attachment rows", err)
	}
	return images, nil
}
