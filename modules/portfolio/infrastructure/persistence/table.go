package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/iota-uz/portfolio-master/pkg/bitemporal"
	"github.com/iota-uz/portfolio-master/pkg/composables"
	"github.com/iota-uz/portfolio-master/pkg/paging"
	"github.com/iota-uz/portfolio-master/pkg/repo"
)

const instantColumns = "oid, ver, ver_from_instant, ver_to_instant, corr_from_instant, corr_to_instant"

// column is one payload column. cast is appended to its placeholder on write.
type column struct {
	name string
	cast string
}

// Table is the pgx implementation of bitemporal.Store over one row table.
// Payload columns follow the instant columns; child rows keyed by (oid, ver)
// are written and read through the save and load hooks.
type Table[P any] struct {
	name    string
	columns []column
	values  func(P) []any
	dest    func(*P) []any
	save    func(ctx context.Context, tx repo.Tx, row bitemporal.Row[P]) error
	load    func(ctx context.Context, tx repo.Tx, rows []bitemporal.Row[P]) error
}

var _ bitemporal.Store[struct{}] = (*Table[struct{}])(nil)

func (t *Table[P]) selectList() string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.name
	}
	return instantColumns + ", " + strings.Join(names, ", ")
}

func (t *Table[P]) notFound(format string, args ...any) error {
	return gerrors.Wrapf(bitemporal.ErrNotFound, "%s "+format, append([]any{t.name}, args...)...)
}

func (t *Table[P]) NextObjectID(ctx context.Context) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	var id int64
	if err := tx.QueryRow(ctx, `SELECT nextval('portfolio_master_seq')`).Scan(&id); err != nil {
		return 0, mapPgError(err)
	}
	return id, nil
}

func (t *Table[P]) NextVersionID(ctx context.Context, objectID int64) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	var next int64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(ver) + 1, 0) FROM `+t.name+` WHERE oid = $1`, objectID).Scan(&next); err != nil {
		return 0, mapPgError(err)
	}
	return next, nil
}

func (t *Table[P]) Insert(ctx context.Context, row bitemporal.Row[P]) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	args := append([]any{
		row.ObjectID,
		row.VersionID,
		toDB(row.VersionFrom),
		toDB(row.VersionTo),
		toDB(row.CorrectionFrom),
		toDB(row.CorrectionTo),
	}, t.values(row.Payload)...)
	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if j := i - 6; j >= 0 {
			placeholders[i] += t.columns[j].cast
		}
	}
	sql := `INSERT INTO ` + t.name + ` (` + t.selectList() + `) VALUES (` + strings.Join(placeholders, ", ") + `)`
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return mapPgError(err)
	}
	if t.save != nil {
		return t.save(ctx, tx, row)
	}
	return nil
}

// query selects rows with the given tail and loads their children.
func (t *Table[P]) query(ctx context.Context, tail string, args ...any) ([]bitemporal.Row[P], error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `SELECT `+t.selectList()+` FROM `+t.name+` `+tail, args...)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var out []bitemporal.Row[P]
	for rows.Next() {
		var (
			r              bitemporal.Row[P]
			vf, vt, cf, ct time.Time
		)
		dest := append([]any{&r.ObjectID, &r.VersionID, &vf, &vt, &cf, &ct}, t.dest(&r.Payload)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, mapPgError(err)
		}
		r.Instants = bitemporal.Instants{
			VersionFrom:    fromDB(vf),
			VersionTo:      fromDB(vt),
			CorrectionFrom: fromDB(cf),
			CorrectionTo:   fromDB(ct),
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err)
	}
	rows.Close()
	if len(out) > 0 && t.load != nil {
		if err := t.load(ctx, tx, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (t *Table[P]) one(ctx context.Context, missing func() error, tail string, args ...any) (bitemporal.Row[P], error) {
	rows, err := t.query(ctx, tail, args...)
	if err != nil {
		return bitemporal.Row[P]{}, err
	}
	if len(rows) == 0 {
		return bitemporal.Row[P]{}, missing()
	}
	return rows[0], nil
}

func (t *Table[P]) LockCurrent(ctx context.Context, objectID int64) (bitemporal.Row[P], error) {
	var w where
	w.eq("oid", objectID)
	w.current()
	return t.one(ctx, func() error { return t.notFound("%d has no current row", objectID) },
		`WHERE `+w.sql()+` FOR UPDATE`, w.args...)
}

func (t *Table[P]) LockVersion(ctx context.Context, ref bitemporal.Ref) (bitemporal.Row[P], error) {
	return t.one(ctx, func() error { return t.notFound("%d version %d", ref.ObjectID, ref.VersionID) },
		`WHERE oid = $1 AND ver = $2 FOR UPDATE`, ref.ObjectID, ref.VersionID)
}

func (t *Table[P]) Get(ctx context.Context, ref bitemporal.Ref) (bitemporal.Row[P], error) {
	return t.one(ctx, func() error { return t.notFound("%d version %d", ref.ObjectID, ref.VersionID) },
		`WHERE oid = $1 AND ver = $2`, ref.ObjectID, ref.VersionID)
}

func (t *Table[P]) CloseVersion(ctx context.Context, ref bitemporal.Ref, at time.Time) error {
	return t.close(ctx, "ver_to_instant", ref, at)
}

func (t *Table[P]) CloseCorrection(ctx context.Context, ref bitemporal.Ref, at time.Time) error {
	return t.close(ctx, "corr_to_instant", ref, at)
}

func (t *Table[P]) close(ctx context.Context, column string, ref bitemporal.Ref, at time.Time) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `UPDATE `+t.name+` SET `+column+` = $3 WHERE oid = $1 AND ver = $2`, ref.ObjectID, ref.VersionID, toDB(at))
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return t.notFound("%d version %d", ref.ObjectID, ref.VersionID)
	}
	return nil
}

func (t *Table[P]) Resolve(ctx context.Context, objectID int64, versionAsOf, correctedTo time.Time) (bitemporal.Row[P], error) {
	var w where
	w.eq("oid", objectID)
	w.contains(versionAsOf, correctedTo)
	rows, err := t.query(ctx, `WHERE `+w.sql()+` LIMIT 2`, w.args...)
	if err != nil {
		return bitemporal.Row[P]{}, err
	}
	switch len(rows) {
	case 0:
		return bitemporal.Row[P]{}, t.notFound("%d at %s/%s", objectID, versionAsOf, correctedTo)
	case 1:
		return rows[0], nil
	}
	return bitemporal.Row[P]{}, bitemporal.Internal(bitemporal.Code(t.name, "AMBIGUOUS"),
		fmt.Sprintf("%s %d resolves to more than one row", t.name, objectID), nil)
}

func (t *Table[P]) History(ctx context.Context, objectID int64, q bitemporal.HistoryQuery) ([]bitemporal.Row[P], int, error) {
	var w where
	w.eq("oid", objectID)
	w.overlaps("ver_from_instant", "ver_to_instant", q.VersionsFrom, q.VersionsTo)
	w.overlaps("corr_from_instant", "corr_to_instant", q.CorrectionsFrom, q.CorrectionsTo)
	return t.search(ctx, &w, q.Paging, "ver_from_instant DESC, corr_from_instant DESC, ver DESC")
}

// search counts the rows matching w and returns the requested page of them.
func (t *Table[P]) search(ctx context.Context, w *where, r paging.Request, order string) ([]bitemporal.Row[P], int, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM `+t.name+` WHERE `+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, mapPgError(err)
	}
	if total == 0 || r.Limit() == 0 || r.FirstItem >= total {
		return []bitemporal.Row[P]{}, total, nil
	}
	tail := `WHERE ` + w.sql() + ` ORDER BY ` + order + w.page(r)
	rows, err := t.query(ctx, tail, w.args...)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// refs splits rows into parallel oid and ver arrays for unnest joins.
func refs[P any](rows []bitemporal.Row[P]) (oids, vers []int64) {
	oids = make([]int64, len(rows))
	vers = make([]int64, len(rows))
	for i, r := range rows {
		oids[i], vers[i] = r.ObjectID, r.VersionID
	}
	return oids, vers
}

func sendBatch(ctx context.Context, tx repo.Tx, b *pgx.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	br := tx.SendBatch(ctx, b)
	for range b.Len() {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return mapPgError(err)
		}
	}
	return mapPgError(br.Close())
}
