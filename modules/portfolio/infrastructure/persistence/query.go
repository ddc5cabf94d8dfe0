package persistence

import (
	"strconv"
	"strings"
	"time"

	"github.com/iota-uz/portfolio-master/pkg/paging"
)

// endOfTime is how an open bound is stored. It is the zero time in Go.
var endOfTime = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// toDB converts an instant to its column value. Postgres keeps microseconds.
func toDB(t time.Time) time.Time {
	if t.IsZero() {
		return endOfTime
	}
	return t.UTC().Truncate(time.Microsecond)
}

func fromDB(t time.Time) time.Time {
	if !t.Before(endOfTime) {
		return time.Time{}
	}
	return t.UTC()
}

// where accumulates AND-ed conditions with positional arguments.
type where struct {
	conds []string
	args  []any
}

func (w *where) arg(v any) string {
	w.args = append(w.args, v)
	return "$" + strconv.Itoa(len(w.args))
}

func (w *where) add(cond string) {
	w.conds = append(w.conds, cond)
}

func (w *where) eq(column string, v any) {
	w.add(column + " = " + w.arg(v))
}

// current selects the open version's latest correction.
func (w *where) current() {
	end := w.arg(endOfTime)
	w.add("ver_to_instant = " + end + " AND corr_to_instant = " + end)
}

// contains selects the row recorded as true at versionAsOf as known at correctedTo.
func (w *where) contains(versionAsOf, correctedTo time.Time) {
	v, c := w.arg(toDB(versionAsOf)), w.arg(toDB(correctedTo))
	w.add("ver_from_instant <= " + v + " AND ver_to_instant > " + v)
	w.add("corr_from_instant <= " + c + " AND corr_to_instant > " + c)
}

// overlaps selects rows whose [from, to) meets [lo, hi). Zero bounds are
// unbounded and lo == hi selects the single instant lo.
func (w *where) overlaps(from, to string, lo, hi time.Time) {
	if !lo.IsZero() {
		w.add(to + " > " + w.arg(toDB(lo)))
	}
	switch {
	case hi.IsZero():
	case lo.Equal(hi):
		w.add(from + " <= " + w.arg(toDB(hi)))
	default:
		w.add(from + " < " + w.arg(toDB(hi)))
	}
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return "TRUE"
	}
	return strings.Join(w.conds, " AND ")
}

// page renders OFFSET and LIMIT for r.
func (w *where) page(r paging.Request) string {
	out := " OFFSET " + w.arg(r.FirstItem)
	if r.PageSize != paging.SizeAll {
		out += " LIMIT " + w.arg(r.Limit())
	}
	return out
}
