package db

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Beginner is satisfied by *pgxpool.Pool and *pgx.Conn.
type Beginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// WithTxIsolation runs fn in a transaction at the requested isolation level,
// committing when fn returns nil and rolling back otherwise.
//
// Row-lock guards (SELECT ... FOR UPDATE then a conditional UPDATE) should
// use pgx.ReadCommitted so a waiting writer re-reads the committed row
// instead of aborting with a serialization failure.
func WithTxIsolation(ctx context.Context, db Beginner, level pgx.TxIsoLevel, fn func(pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, db, pgx.TxOptions{IsoLevel: level}, fn)
}
