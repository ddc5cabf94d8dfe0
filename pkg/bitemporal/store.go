package bitemporal

import (
	"context"
	"time"

	"github.com/iota-uz/portfolio-master/pkg/paging"
)

// Store persists the rows of one entity type. Every method runs against the
// transaction carried by ctx. Missing rows are reported with an error matching
// ErrNotFound; constraint races with an error matching ErrConcurrentModification.
type Store[P any] interface {
	// NextObjectID allocates a fresh object id.
	NextObjectID(ctx context.Context) (int64, error)
	// NextVersionID returns one past the highest version id stored for objectID.
	NextVersionID(ctx context.Context, objectID int64) (int64, error)
	Insert(ctx context.Context, row Row[P]) error
	// LockCurrent returns the open version's latest correction and locks it for update.
	LockCurrent(ctx context.Context, objectID int64) (Row[P], error)
	// LockVersion returns the exact row and locks it for update.
	LockVersion(ctx context.Context, ref Ref) (Row[P], error)
	CloseVersion(ctx context.Context, ref Ref, at time.Time) error
	CloseCorrection(ctx context.Context, ref Ref, at time.Time) error
	Get(ctx context.Context, ref Ref) (Row[P], error)
	Resolve(ctx context.Context, objectID int64, versionAsOf, correctedTo time.Time) (Row[P], error)
	// History returns one page of rows matching q, newest version first, and the total match count.
	History(ctx context.Context, objectID int64, q HistoryQuery) ([]Row[P], int, error)
}

// Transactor runs functions inside storage transactions. Write transactions are
// serializable; read transactions see one consistent snapshot.
type Transactor interface {
	InTx(ctx context.Context, fn func(txCtx context.Context) error) error
	InReadTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

// HistoryQuery bounds a history scan. Zero instants are unbounded. With both
// correction bounds zero every row is returned, which is the full audit trail; with
// CorrectionsFrom == CorrectionsTo == C only the correction known at C is returned
// for each version.
type HistoryQuery struct {
	VersionsFrom    time.Time
	VersionsTo      time.Time
	CorrectionsFrom time.Time
	CorrectionsTo   time.Time
	Paging          paging.Request
}

// Matches applies the query bounds to a row. Stores without a query language use it.
func (q HistoryQuery) Matches(i Instants) bool {
	return overlaps(i.VersionFrom, i.VersionTo, q.VersionsFrom, q.VersionsTo) &&
		overlaps(i.CorrectionFrom, i.CorrectionTo, q.CorrectionsFrom, q.CorrectionsTo)
}

// NewestFirst orders rows the way History returns them.
func NewestFirst(a, b Instants, aVersion, bVersion int64) int {
	if c := b.VersionFrom.Compare(a.VersionFrom); c != 0 {
		return c
	}
	if c := b.CorrectionFrom.Compare(a.CorrectionFrom); c != 0 {
		return c
	}
	switch {
	case aVersion > bVersion:
		return -1
	case aVersion < bVersion:
		return 1
	}
	return 0
}
