package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"kassenews/internal/reporter"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the checkpoint in a local SQLite file, for deployments
// without the Postgres news tables.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the checkpoint database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate checkpoint db: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS checkpoint (
		id       INTEGER PRIMARY KEY CHECK (id = 1),
		data     BLOB NOT NULL,
		saved_at TEXT NOT NULL
	);`)
	return err
}

// Load returns the saved Report, or false if none was saved yet.
func (s *SQLiteStore) Load(ctx context.Context) (reporter.Report, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM checkpoint WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading checkpoint: %w", err)
	}
	report, _, err := Decode(data)
	if err != nil {
		return nil, false, err
	}
	return report, true, nil
}

// Save replaces the stored Report.
func (s *SQLiteStore) Save(ctx context.Context, report reporter.Report) error {
	now := s.now().UTC()
	data, err := Encode(report, now)
	if err != nil {
		return err
	}
	return retryOnContention(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO checkpoint (id, data, saved_at) VALUES (1, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET data = excluded.data, saved_at = excluded.saved_at`,
			data, now.Format(time.RFC3339Nano),
		)
		return err
	})
}

const (
	maxRetries = 3
	baseDelay  = 50 * time.Millisecond
)

// retryOnContention retries fn while SQLite reports lock contention, which
// can happen when an operator inspects the file during a write.
func retryOnContention(fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err = fn(); err == nil || !isBusy(err) {
			return err
		}
		if attempt < maxRetries {
			delay := baseDelay << attempt
			time.Sleep(delay/2 + time.Duration(rand.Int63n(int64(delay/2)+1)))
		}
	}
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	for _, pattern := range []string{"SQLITE_BUSY", "SQLITE_LOCKED", "database is locked"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
