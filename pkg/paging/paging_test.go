package paging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	r, err := Request{}.Normalize(25, 100)
	require.NoError(t, err)
	require.Equal(t, Of(0, 25), r)

	r, err = Of(10, 500).Normalize(25, 100)
	require.NoError(t, err)
	require.Equal(t, Of(10, 100), r)

	r, err = All.Normalize(25, 100)
	require.NoError(t, err)
	require.Equal(t, SizeAll, r.PageSize)

	r, err = None.Normalize(25, 100)
	require.NoError(t, err)
	require.Zero(t, r.Limit())

	r, err = Request{}.Normalize(0, 0)
	require.NoError(t, err)
	require.Equal(t, DefaultSize, r.PageSize)

	_, err = Of(-1, 10).Normalize(25, 100)
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, err = Of(0, -10).Normalize(25, 100)
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestWindow(t *testing.T) {
	cases := []struct {
		name   string
		req    Request
		total  int
		lo, hi int
	}{
		{"first page", Of(0, 2), 5, 0, 2},
		{"last partial page", Of(4, 2), 5, 4, 5},
		{"past end", Of(9, 2), 5, 5, 5},
		{"all", All, 5, 0, 5},
		{"all with offset", Request{FirstItem: 3, PageSize: SizeAll}, 5, 3, 5},
		{"none", None, 5, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lo, hi := tc.req.Window(tc.total)
			require.Equal(t, tc.lo, lo)
			require.Equal(t, tc.hi, hi)
		})
	}
}

func TestResult(t *testing.T) {
	p := OfPage(2, 10).Result(25)
	require.Equal(t, Paging{FirstItem: 10, PageSize: 10, TotalItems: 25}, p)
	require.Equal(t, 20, p.LastItem())
	require.True(t, p.HasMore())
	require.False(t, OfPage(3, 10).Result(25).HasMore())
}
