// Package repo implements the relational store: typed CRUD access to
// customer, vehicle, appointment, and call-log records backed by
// PostgreSQL via pgx.
package repo

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the database handle used by every store in this package. Both
// *pgxpool.Pool and *pgx.Conn (and a pgx.Tx) satisfy it, so stores can be
// driven by a pool for normal requests or by a transaction when an
// operation needs a unit of work (see [WithTx]).
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Tx additionally supports commit/rollback, satisfied by pgx.Tx.
type Tx interface {
	DB
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Beginner starts transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic. Nothing in this module calls it:
// book_appointment writes the appointment with a single INSERT after
// creating the calendar event.
func WithTx(ctx context.Context, b Beginner, fn func(tx pgx.Tx) error) (err error) {
	tx, err := b.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()
	return fn(tx)
}
