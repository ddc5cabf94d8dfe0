package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/iota-uz/portfolio-master/pkg/bitemporal"
)

type tableData[P any] struct {
	rows     []bitemporal.Row[P]
	byObject map[int64][]int
}

func (d *tableData[P]) clone() *tableData[P] {
	out := &tableData[P]{rows: slices.Clone(d.rows), byObject: maps.Clone(d.byObject)}
	for oid, idx := range out.byObject {
		out.byObject[oid] = slices.Clone(idx)
	}
	return out
}

// Table stores the rows of one entity type. It implements bitemporal.Store.
type Table[P any] struct {
	db    *DB
	name  string
	clone func(P) P
}

var _ bitemporal.Store[struct{}] = (*Table[struct{}])(nil)

// NewTable registers a table. clone deep-copies payloads crossing the table
// boundary; nil is fine for payloads without reference fields.
func NewTable[P any](db *DB, name string, clone func(P) P) *Table[P] {
	if clone == nil {
		clone = func(p P) P { return p }
	}
	return &Table[P]{db: db, name: name, clone: clone}
}

func (t *Table[P]) DB() *DB {
	return t.db
}

func (t *Table[P]) read(ctx context.Context) (*tableData[P], error) {
	tx, err := t.db.tx(ctx, false)
	if err != nil {
		return nil, err
	}
	return t.lookup(tx), nil
}

func (t *Table[P]) write(ctx context.Context) (*tableData[P], error) {
	tx, err := t.db.tx(ctx, true)
	if err != nil {
		return nil, err
	}
	if d, ok := tx.dirty[t.name]; ok {
		return d.(*tableData[P]), nil
	}
	d := t.lookup(tx).clone()
	tx.dirty[t.name] = d
	return d, nil
}

func (t *Table[P]) lookup(tx *txState) *tableData[P] {
	if d, ok := tx.dirty[t.name]; ok {
		return d.(*tableData[P])
	}
	if d, ok := tx.base.tables[t.name]; ok {
		return d.(*tableData[P])
	}
	return &tableData[P]{byObject: map[int64][]int{}}
}

func (t *Table[P]) out(row bitemporal.Row[P]) bitemporal.Row[P] {
	row.Payload = t.clone(row.Payload)
	return row
}

func (t *Table[P]) notFound(format string, args ...any) error {
	return fmt.Errorf("memstore %s: %s: %w", t.name, fmt.Sprintf(format, args...), bitemporal.ErrNotFound)
}

func (t *Table[P]) NextObjectID(ctx context.Context) (int64, error) {
	return t.db.NextID(ctx)
}

func (t *Table[P]) NextVersionID(ctx context.Context, objectID int64) (int64, error) {
	d, err := t.read(ctx)
	if err != nil {
		return 0, err
	}
	next := int64(0)
	for _, i := range d.byObject[objectID] {
		next = max(next, d.rows[i].VersionID+1)
	}
	return next, nil
}

// Insert enforces the same constraints as the SQL schema: (object, version) is
// unique and an object has at most one current row.
func (t *Table[P]) Insert(ctx context.Context, row bitemporal.Row[P]) error {
	d, err := t.write(ctx)
	if err != nil {
		return err
	}
	for _, i := range d.byObject[row.ObjectID] {
		existing := d.rows[i]
		if existing.VersionID == row.VersionID {
			return bitemporal.ConcurrentModification(bitemporal.Code(t.name, "DUPLICATE_VERSION"),
				fmt.Sprintf("%s %d version %d already exists", t.name, row.ObjectID, row.VersionID), nil)
		}
		if row.IsCurrent() && existing.IsCurrent() {
			return bitemporal.ConcurrentModification(bitemporal.Code(t.name, "CONCURRENT_CURRENT"),
				fmt.Sprintf("%s %d already has a current row", t.name, row.ObjectID), nil)
		}
	}
	if err := t.db.Reserve(ctx, row.ObjectID); err != nil {
		return err
	}
	row.Payload = t.clone(row.Payload)
	d.rows = append(d.rows, row)
	d.byObject[row.ObjectID] = append(d.byObject[row.ObjectID], len(d.rows)-1)
	return nil
}

func (t *Table[P]) find(d *tableData[P], match func(bitemporal.Row[P]) bool, objectID int64) (int, bool) {
	for _, i := range d.byObject[objectID] {
		if match(d.rows[i]) {
			return i, true
		}
	}
	return -1, false
}

func (t *Table[P]) LockCurrent(ctx context.Context, objectID int64) (bitemporal.Row[P], error) {
	d, err := t.read(ctx)
	if err != nil {
		return bitemporal.Row[P]{}, err
	}
	i, ok := t.find(d, func(r bitemporal.Row[P]) bool { return r.IsCurrent() }, objectID)
	if !ok {
		return bitemporal.Row[P]{}, t.notFound("no current row for %d", objectID)
	}
	return t.out(d.rows[i]), nil
}

func (t *Table[P]) LockVersion(ctx context.Context, ref bitemporal.Ref) (bitemporal.Row[P], error) {
	return t.Get(ctx, ref)
}

func (t *Table[P]) Get(ctx context.Context, ref bitemporal.Ref) (bitemporal.Row[P], error) {
	d, err := t.read(ctx)
	if err != nil {
		return bitemporal.Row[P]{}, err
	}
	i, ok := t.find(d, func(r bitemporal.Row[P]) bool { return r.VersionID == ref.VersionID }, ref.ObjectID)
	if !ok {
		return bitemporal.Row[P]{}, t.notFound("%d version %d", ref.ObjectID, ref.VersionID)
	}
	return t.out(d.rows[i]), nil
}

func (t *Table[P]) CloseVersion(ctx context.Context, ref bitemporal.Ref, at time.Time) error {
	return t.update(ctx, ref, func(r *bitemporal.Row[P]) { r.VersionTo = at })
}

func (t *Table[P]) CloseCorrection(ctx context.Context, ref bitemporal.Ref, at time.Time) error {
	return t.update(ctx, ref, func(r *bitemporal.Row[P]) { r.CorrectionTo = at })
}

func (t *Table[P]) update(ctx context.Context, ref bitemporal.Ref, fn func(*bitemporal.Row[P])) error {
	d, err := t.write(ctx)
	if err != nil {
		return err
	}
	i, ok := t.find(d, func(r bitemporal.Row[P]) bool { return r.VersionID == ref.VersionID }, ref.ObjectID)
	if !ok {
		return t.notFound("%d version %d", ref.ObjectID, ref.VersionID)
	}
	fn(&d.rows[i])
	return nil
}

func (t *Table[P]) Resolve(ctx context.Context, objectID int64, versionAsOf, correctedTo time.Time) (bitemporal.Row[P], error) {
	d, err := t.read(ctx)
	if err != nil {
		return bitemporal.Row[P]{}, err
	}
	found := -1
	for _, i := range d.byObject[objectID] {
		if !d.rows[i].Contains(versionAsOf, correctedTo) {
			continue
		}
		if found >= 0 {
			return bitemporal.Row[P]{}, bitemporal.Internal(bitemporal.Code(t.name, "AMBIGUOUS"),
				fmt.Sprintf("%s %d resolves to more than one row", t.name, objectID), nil)
		}
		found = i
	}
	if found < 0 {
		return bitemporal.Row[P]{}, t.notFound("%d at %s/%s", objectID, versionAsOf, correctedTo)
	}
	return t.out(d.rows[found]), nil
}

func (t *Table[P]) History(ctx context.Context, objectID int64, q bitemporal.HistoryQuery) ([]bitemporal.Row[P], int, error) {
	d, err := t.read(ctx)
	if err != nil {
		return nil, 0, err
	}
	var matched []bitemporal.Row[P]
	for _, i := range d.byObject[objectID] {
		if q.Matches(d.rows[i].Instants) {
			matched = append(matched, d.rows[i])
		}
	}
	slices.SortFunc(matched, func(a, b bitemporal.Row[P]) int {
		return bitemporal.NewestFirst(a.Instants, b.Instants, a.VersionID, b.VersionID)
	})
	lo, hi := q.Paging.Window(len(matched))
	page := make([]bitemporal.Row[P], 0, hi-lo)
	for _, row := range matched[lo:hi] {
		page = append(page, t.out(row))
	}
	return page, len(matched), nil
}

// Scan calls fn for every row in insertion order until fn returns false.
func (t *Table[P]) Scan(ctx context.Context, fn func(bitemporal.Row[P]) bool) error {
	d, err := t.read(ctx)
	if err != nil {
		return err
	}
	for _, row := range d.rows {
		if !fn(t.out(row)) {
			return nil
		}
	}
	return nil
}

// Rows returns every row of one object in insertion order.
func (t *Table[P]) Rows(ctx context.Context, objectID int64) ([]bitemporal.Row[P], error) {
	d, err := t.read(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]bitemporal.Row[P], 0, len(d.byObject[objectID]))
	for _, i := range d.byObject[objectID] {
		out = append(out, t.out(d.rows[i]))
	}
	return out, nil
}
