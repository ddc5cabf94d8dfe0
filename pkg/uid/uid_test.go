package uid

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("pinned", func(t *testing.T) {
		u, err := Parse("DbPrt~201~3")
		require.NoError(t, err)
		require.Equal(t, UniqueID{Scheme: "DbPrt", Value: "201", Version: "3"}, u)
		require.False(t, u.IsLatest())
		v, ok, err := u.VersionInt64()
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, int64(3), v)
		require.Equal(t, "DbPrt~201~3", u.String())
	})

	t.Run("latest", func(t *testing.T) {
		u, err := Parse("DbPos~407")
		require.NoError(t, err)
		require.True(t, u.IsLatest())
		_, ok, err := u.VersionInt64()
		require.NoError(t, err)
		require.False(t, ok)

		explicit, err := Parse("DbPos~407~LATEST")
		require.NoError(t, err)
		require.True(t, explicit.IsLatest())
		require.Equal(t, "DbPos~407", explicit.String())
	})

	for _, bad := range []string{"", "DbPrt", "~1", "DbPrt~", "DbPrt~1~", "a~b~c~d"} {
		_, err := Parse(bad)
		require.ErrorIs(t, err, ErrInvalidID, bad)
	}
}

func TestObjectIDInt64(t *testing.T) {
	n, err := NewObjectID("DbPrt", 101).Int64()
	require.NoError(t, err)
	require.Equal(t, int64(101), n)

	_, err = ObjectID{Scheme: "DbPrt", Value: "abc"}.Int64()
	require.ErrorIs(t, err, ErrInvalidID)
	_, err = ObjectID{Scheme: "DbPrt", Value: "0"}.Int64()
	require.ErrorIs(t, err, ErrInvalidID)
}

func TestUniqueIDJSON(t *testing.T) {
	type doc struct {
		ID     UniqueID `json:"id"`
		Parent ObjectID `json:"parent"`
	}
	in := doc{ID: NewUniqueID("DbPos", 407, 1), Parent: NewObjectID("DbPrt", 111)}
	b, err := json.Marshal(in)
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"DbPos~407~1","parent":"DbPrt~111"}`, string(b))

	var out doc
	require.NoError(t, json.Unmarshal(b, &out))
	require.Equal(t, in, out)
}

func TestBundle(t *testing.T) {
	a := ExternalID{Scheme: "TICKER", Value: "IBM"}
	b := ExternalID{Scheme: "CUSIP", Value: "459200101"}

	bundle := NewBundle(a, b, a)
	require.Len(t, bundle, 2)
	require.Equal(t, b, bundle[0])
	require.True(t, bundle.Equal(ExternalIDBundle{a, b}))
	require.True(t, bundle.ContainsAny(ExternalIDBundle{{Scheme: "X", Value: "1"}, a}))
	require.False(t, bundle.ContainsAny(ExternalIDBundle{{Scheme: "X", Value: "1"}}))
	require.NoError(t, bundle.Validate())
	require.ErrorIs(t, ExternalIDBundle{{Scheme: "TICKER"}}.Validate(), ErrInvalidID)
}

func TestVersionCorrectionFix(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	earlier := now.Add(-time.Hour)

	fixed := LatestVersionCorrection().Fix(now)
	require.Equal(t, AsOf(now, now), fixed)
	require.False(t, fixed.ContainsLatest())

	partial := VersionCorrection{VersionAsOf: earlier}.Fix(now)
	require.Equal(t, earlier, partial.VersionAsOf)
	require.Equal(t, now, partial.CorrectedTo)
	require.Equal(t, "VLATEST.CLATEST", LatestVersionCorrection().String())
}

func TestBundleMatches(t *testing.T) {
	a := ExternalID{Scheme: "TICKER", Value: "A"}
	b := ExternalID{Scheme: "ISIN", Value: "B"}
	c := ExternalID{Scheme: "TICKER", Value: "C"}
	held := NewBundle(a, b)

	tests := []struct {
		name string
		typ  SearchType
		ids  ExternalIDBundle
		want bool
	}{
		{"any hit", SearchAny, NewBundle(a, c), true},
		{"any miss", SearchAny, NewBundle(c), false},
		{"all subset", SearchAll, NewBundle(b), true},
		{"all missing one", SearchAll, NewBundle(a, c), false},
		{"exact", SearchExact, NewBundle(b, a), true},
		{"exact subset", SearchExact, NewBundle(a), false},
		{"none", SearchNone, NewBundle(c), true},
		{"none hit", SearchNone, NewBundle(a), false},
		{"none empty", SearchNone, nil, true},
		{"all empty", SearchAll, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, held.Matches(tt.typ, tt.ids))
		})
	}

	require.True(t, SearchNone.CanMatch(nil))
	require.False(t, SearchAny.CanMatch(ExternalIDBundle{}))

	typ, err := ParseSearchType("exact")
	require.NoError(t, err)
	require.Equal(t, SearchExact, typ)
	typ, err = ParseSearchType("")
	require.NoError(t, err)
	require.Equal(t, SearchAny, typ)
	_, err = ParseSearchType("some")
	require.ErrorIs(t, err, ErrInvalidID)
}
