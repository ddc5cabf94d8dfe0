package composables

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iota-uz/portfolio-master/pkg/constants"
	"github.com/iota-uz/portfolio-master/pkg/repo"
)

var (
	ErrNoTx   = errors.New("no transaction found in context")
	ErrNoPool = errors.New("no database pool found in context")
)

func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, constants.TxKey, tx)
}

// UseTx returns the transaction bound to ctx, falling back to the pool.
func UseTx(ctx context.Context) (repo.Tx, error) {
	tx := ctx.Value(constants.TxKey)
	if tx == nil {
		return UsePool(ctx)
	}
	return tx.(repo.Tx), nil
}

// UseStrictTx is UseTx without the pool fallback. Writes that rely on row locks use it.
func UseStrictTx(ctx context.Context) (pgx.Tx, error) {
	tx, ok := ctx.Value(constants.TxKey).(pgx.Tx)
	if !ok || tx == nil {
		return nil, ErrNoTx
	}
	return tx, nil
}

func WithPool(ctx context.Context, pool *pgxpool.Pool) context.Context {
	return context.WithValue(ctx, constants.PoolKey, pool)
}

func UsePool(ctx context.Context) (*pgxpool.Pool, error) {
	pool := ctx.Value(constants.PoolKey)
	if pool == nil {
		return nil, ErrNoPool
	}
	return pool.(*pgxpool.Pool), nil
}

// InTx runs fn in a new transaction started with opts. ALWAYS creates a new transaction.
func InTx(ctx context.Context, opts pgx.TxOptions, fn func(context.Context) error) error {
	pool, err := UsePool(ctx)
	if err != nil {
		return err
	}

	tx, err := pool.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	if err := fn(WithTx(ctx, tx)); err != nil {
		if rErr := tx.Rollback(context.WithoutCancel(ctx)); rErr != nil && !errors.Is(rErr, pgx.ErrTxClosed) {
			return errors.Join(err, rErr)
		}
		return err
	}
	return tx.Commit(ctx)
}
