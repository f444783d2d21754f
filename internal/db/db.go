// Package db provides the PostgreSQL side of the reporter: the live contest
// source over the association's stopwatch tables, and the news tables the
// reporter owns (post archive and checkpoint).
//
// Repositories accept a DBTX interface that is satisfied by both
// *pgxpool.Pool and pgx.Tx. ContestRepository issues concurrent queries and
// needs a pool.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
