package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/portfolio-master/pkg/bitemporal"
	"github.com/iota-uz/portfolio-master/pkg/paging"
)

var t0 = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

func TestInstantColumns(t *testing.T) {
	assert.Equal(t, endOfTime, toDB(time.Time{}))
	assert.True(t, fromDB(endOfTime).IsZero())

	local := t0.Add(1234 * time.Nanosecond).In(time.FixedZone("UTC+5", 5*3600))
	stored := toDB(local)
	assert.Equal(t, time.UTC, stored.Location())
	assert.True(t, t0.Add(time.Microsecond).Equal(stored), stored)
	assert.True(t, stored.Equal(fromDB(stored)))
}

func TestWhere_Contains(t *testing.T) {
	var w where
	w.eq("oid", int64(7))
	w.contains(t0, time.Time{})
	assert.Equal(t,
		"oid = $1 AND ver_from_instant <= $2 AND ver_to_instant > $2 AND corr_from_instant <= $3 AND corr_to_instant > $3",
		w.sql())
	assert.Equal(t, []any{int64(7), t0, endOfTime}, w.args)
}

func TestWhere_Overlaps(t *testing.T) {
	cases := []struct {
		name   string
		lo, hi time.Time
		sql    string
	}{
		{"unbounded", time.Time{}, time.Time{}, "TRUE"},
		{"from", t0, time.Time{}, "t > $1"},
		{"point", t0, t0, "t > $1 AND f <= $2"},
		{"range", t0, t0.Add(time.Hour), "t > $1 AND f < $2"},
		{"until", time.Time{}, t0, "f < $1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var w where
			w.overlaps("f", "t", tc.lo, tc.hi)
			assert.Equal(t, tc.sql, w.sql())
		})
	}
}

func TestWhere_Page(t *testing.T) {
	var w where
	assert.Equal(t, " OFFSET $1 LIMIT $2", w.page(paging.Of(5, 10)))
	assert.Equal(t, []any{5, 10}, w.args)

	var all where
	assert.Equal(t, " OFFSET $1", all.page(paging.All))
}

func TestMapPgError(t *testing.T) {
	require.NoError(t, mapPgError(nil))

	own := bitemporal.NotFound("X_NOT_FOUND", "missing")
	assert.Same(t, own, mapPgError(own))

	for code, kind := range map[string]error{
		"40001": bitemporal.ErrConcurrentModification,
		"40P01": bitemporal.ErrConcurrentModification,
		"23505": bitemporal.ErrConcurrentModification,
		"57014": bitemporal.ErrStorageTimeout,
		"55P03": bitemporal.ErrStorageTimeout,
	} {
		err := mapPgError(&pgconn.PgError{Code: code})
		assert.ErrorIs(t, err, kind, code)
	}

	assert.ErrorIs(t, mapPgError(context.DeadlineExceeded), bitemporal.ErrStorageTimeout)

	other := errors.New("boom")
	assert.Same(t, other, mapPgError(other))
}
