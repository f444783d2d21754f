package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"kassenews/internal/checkpoint"
	"kassenews/internal/reporter"
	"kassenews/internal/types"
)

// CheckpointRepository stores the reporter's checkpoint in the single-row
// news_checkpoint table.
type CheckpointRepository struct {
	db  DBTX
	now func() time.Time
}

// NewCheckpointRepository creates a new CheckpointRepository backed by the
// given database connection (pool or transaction).
func NewCheckpointRepository(db DBTX) *CheckpointRepository {
	return &CheckpointRepository{db: db, now: time.Now}
}

// Load returns the saved Report, or false if none was saved yet.
func (r *CheckpointRepository) Load(ctx context.Context) (reporter.Report, bool, error) {
	var data []byte
	err := r.db.QueryRow(ctx, `SELECT data FROM news_checkpoint WHERE id = 1`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to read checkpoint", err)
	}
	report, _, err := checkpoint.Decode(data)
	if err != nil {
		return nil, false, err
	}
	return report, true, nil
}

// Save replaces the stored Report.
func (r *CheckpointRepository) Save(ctx context.Context, report reporter.Report) error {
	now := r.now().UTC()
	data, err := checkpoint.Encode(report, now)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO news_checkpoint (id, data, saved_at)
		 VALUES (1, $1, $2)
		 ON CONFLICT (id) DO UPDATE
		   SET data = EXCLUDED.data,
		       saved_at = EXCLUDED.saved_at`,
		data, now,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save checkpoint", err)
	}
	return nil
}
