// Package memstore is an in-process implementation of the bitemporal storage
// contract. Committed state is an immutable snapshot: a write transaction works
// on copies of the tables it touches and publishes them on commit, so readers
// always see one consistent snapshot and a failed transaction leaves no trace.
// Writers are serialized.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync/atomic"

	"github.com/iota-uz/portfolio-master/pkg/bitemporal"
)

var ErrNoTx = errors.New("memstore: no transaction in context")

type snapshot struct {
	seq    int64
	tables map[string]any
}

type txState struct {
	db       *DB
	base     *snapshot
	seq      int64
	dirty    map[string]any
	writable bool
}

type ctxKey struct{ db *DB }

// DB holds the tables of one master. Object ids come from one sequence shared by
// every table, like a database sequence.
type DB struct {
	writer    chan struct{}
	committed atomic.Pointer[snapshot]
}

func New() *DB {
	db := &DB{writer: make(chan struct{}, 1)}
	db.committed.Store(&snapshot{tables: map[string]any{}})
	return db
}

// InTx runs fn in a write transaction. A ctx that already carries a write
// transaction of this DB joins it.
func (db *DB) InTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if tx, ok := ctx.Value(ctxKey{db}).(*txState); ok && tx.writable {
		return fn(ctx)
	}
	select {
	case db.writer <- struct{}{}:
	case <-ctx.Done():
		return mapContextErr(ctx.Err())
	}
	defer func() { <-db.writer }()

	base := db.committed.Load()
	tx := &txState{db: db, base: base, seq: base.seq, dirty: map[string]any{}, writable: true}
	if err := fn(context.WithValue(ctx, ctxKey{db}, tx)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return mapContextErr(err)
	}
	next := &snapshot{seq: tx.seq, tables: maps.Clone(base.tables)}
	for name, table := range tx.dirty {
		next.tables[name] = table
	}
	db.committed.Store(next)
	return nil
}

// InReadTx runs fn against the snapshot committed when it starts.
func (db *DB) InReadTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if _, ok := ctx.Value(ctxKey{db}).(*txState); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return mapContextErr(err)
	}
	tx := &txState{db: db, base: db.committed.Load(), writable: false}
	if err := fn(context.WithValue(ctx, ctxKey{db}, tx)); err != nil {
		return err
	}
	return mapContextErr(ctx.Err())
}

// Reserve advances the shared sequence past ids that were assigned outside NextObjectID.
func (db *DB) Reserve(ctx context.Context, ids ...int64) error {
	tx, err := db.tx(ctx, true)
	if err != nil {
		return err
	}
	for _, id := range ids {
		tx.seq = max(tx.seq, id)
	}
	return nil
}

// NextID allocates from the shared sequence.
func (db *DB) NextID(ctx context.Context) (int64, error) {
	tx, err := db.tx(ctx, true)
	if err != nil {
		return 0, err
	}
	tx.seq++
	return tx.seq, nil
}

func (db *DB) tx(ctx context.Context, write bool) (*txState, error) {
	tx, ok := ctx.Value(ctxKey{db}).(*txState)
	if !ok {
		return nil, ErrNoTx
	}
	if write && !tx.writable {
		return nil, fmt.Errorf("memstore: write in a read-only transaction")
	}
	return tx, nil
}

func mapContextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return bitemporal.StorageTimeout("STORAGE_TIMEOUT", err)
	}
	return err
}
