package persistence

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iota-uz/portfolio-master/pkg/bitemporal"
	"github.com/iota-uz/portfolio-master/pkg/composables"
)

// Transactor runs master operations in pool transactions. Calls made while a
// transaction is already bound to ctx join it.
type Transactor struct {
	pool *pgxpool.Pool
}

var _ bitemporal.Transactor = (*Transactor)(nil)

func NewTransactor(pool *pgxpool.Pool) *Transactor {
	return &Transactor{pool: pool}
}

func (t *Transactor) InTx(ctx context.Context, fn func(context.Context) error) error {
	return t.run(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, fn)
}

func (t *Transactor) InReadTx(ctx context.Context, fn func(context.Context) error) error {
	return t.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, fn)
}

func (t *Transactor) run(ctx context.Context, opts pgx.TxOptions, fn func(context.Context) error) error {
	if _, err := composables.UseStrictTx(ctx); err == nil {
		return fn(ctx)
	}
	return mapPgError(composables.InTx(composables.WithPool(ctx, t.pool), opts, fn))
}
