package ports

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is what repositories execute against: the pool, an open transaction,
// or nil for drivers that keep no connection (the in-memory store). A nil
// DBTX on the postgres repositories means "use the pool, no row locks".
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// TransactionManager runs units of work atomically. Returning an error from
// fn rolls back every write made through tx. tx is nil when the storage
// driver has no SQL transaction; pass it on through Executor.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error

	// WithReadOnlyTransaction gives fn a consistent snapshot for multi-query reads
	WithReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
}

// Executor converts a possibly nil transaction into a DBTX without producing
// a non-nil interface around a nil pointer
func Executor(tx pgx.Tx) DBTX {
	if tx == nil {
		return nil
	}
	return tx
}
