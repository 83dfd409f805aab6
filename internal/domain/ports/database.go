package ports

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the query surface shared by a pool and an open transaction.
// Repositories accept it so reads work inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...interface{}) pgx.Row
}

// DBPort hands out transactions and the raw pool. Services run every
// multi-write state change through WithTransaction; the transaction is
// passed to the callback explicitly rather than hidden in the context.
type DBPort interface {
	GetDB() *pgxpool.Pool
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
	WithReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
}
