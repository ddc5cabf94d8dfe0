package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/portfolio-master/modules/portfolio/domain"
	"github.com/iota-uz/portfolio-master/modules/portfolio/infrastructure/memory"
	"github.com/iota-uz/portfolio-master/modules/portfolio/services"
	"github.com/iota-uz/portfolio-master/pkg/bitemporal"
	"github.com/iota-uz/portfolio-master/pkg/nestedset"
	"github.com/iota-uz/portfolio-master/pkg/paging"
	"github.com/iota-uz/portfolio-master/pkg/uid"
)

var t0 = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

func nodes(t *testing.T, root int64, children ...int64) nestedset.Table[domain.NodeData] {
	t.Helper()
	tree := &nestedset.Tree[domain.NodeData]{Node: nestedset.Node[domain.NodeData]{ID: root}}
	for _, c := range children {
		tree.Children = append(tree.Children, &nestedset.Tree[domain.NodeData]{Node: nestedset.Node[domain.NodeData]{ID: c}})
	}
	table, err := nestedset.Build(tree)
	require.NoError(t, err)
	return table
}

func seed(t *testing.T) *memory.Backend {
	t.Helper()
	b := memory.New()
	at := bitemporal.Instants{VersionFrom: t0, CorrectionFrom: t0}
	require.NoError(t, b.DB.InTx(context.Background(), func(ctx context.Context) error {
		if err := b.Portfolios.Insert(ctx, services.PortfolioRow{ObjectID: 1, Instants: at, Payload: domain.PortfolioPayload{Name: "Alpha", Nodes: nodes(t, 10, 11, 12)}}); err != nil {
			return err
		}
		if err := b.Portfolios.Insert(ctx, services.PortfolioRow{ObjectID: 2, Instants: at, Payload: domain.PortfolioPayload{Name: "Beta", Nodes: nodes(t, 20)}}); err != nil {
			return err
		}
		for oid, node := range map[int64]int64{33: 12, 31: 11, 32: 12, 34: 20} {
			payload := domain.PositionPayload{
				PortfolioID:  1,
				ParentNodeID: node,
				Quantity:     decimal.NewFromInt(oid),
				SecurityKeys: uid.NewBundle(uid.ExternalID{Scheme: "TICKER", Value: "X"}),
				Trades:       []domain.TradePayload{{ObjectID: oid + 60}},
			}
			if err := b.Positions.Insert(ctx, services.PositionRow{ObjectID: oid, Instants: at, Payload: payload}); err != nil {
				return err
			}
		}
		return nil
	}))
	return b
}

func TestInsertReservesEmbeddedIDs(t *testing.T) {
	b := seed(t)
	require.NoError(t, b.DB.InTx(context.Background(), func(ctx context.Context) error {
		next, err := b.Portfolios.NextObjectID(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(95), next)
		return nil
	}))
}

func TestPortfolioOfNode(t *testing.T) {
	b := seed(t)
	require.NoError(t, b.DB.InReadTx(context.Background(), func(ctx context.Context) error {
		oid, err := b.Portfolios.PortfolioOfNode(ctx, 12)
		require.NoError(t, err)
		assert.Equal(t, int64(1), oid)

		_, err = b.Portfolios.PortfolioOfNode(ctx, 99)
		require.ErrorIs(t, err, bitemporal.ErrNotFound)

		oid, err = b.Positions.PositionOfTrade(ctx, 93)
		require.NoError(t, err)
		assert.Equal(t, int64(33), oid)

		_, err = b.Positions.PositionOfTrade(ctx, 33)
		require.ErrorIs(t, err, bitemporal.ErrNotFound)
		return nil
	}))
}

func TestLockCurrentUnderNodes(t *testing.T) {
	b := seed(t)
	require.NoError(t, b.DB.InTx(context.Background(), func(ctx context.Context) error {
		require.NoError(t, b.Positions.CloseVersion(ctx, bitemporal.Pinned(32, 0), t0.Add(time.Hour)))
		rows, err := b.Positions.LockCurrentUnderNodes(ctx, []int64{11, 12})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, int64(31), rows[0].ObjectID)
		assert.Equal(t, int64(33), rows[1].ObjectID)
		return nil
	}))
}

func TestSearch(t *testing.T) {
	b := seed(t)
	later := t0.Add(time.Hour)
	require.NoError(t, b.DB.InReadTx(context.Background(), func(ctx context.Context) error {
		rows, total, err := b.Portfolios.Search(ctx, services.PortfolioCriteria{
			NamePattern: "b*",
			VersionAsOf: later,
			CorrectedTo: later,
			Paging:      paging.All,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, rows, 1)
		assert.Equal(t, "Beta", rows[0].Payload.Name)

		posRows, total, err := b.Positions.Search(ctx, services.PositionCriteria{
			ParentNodeID: 12,
			VersionAsOf:  later,
			CorrectedTo:  later,
			Paging:       paging.Of(1, 5),
		})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		require.Len(t, posRows, 1)
		assert.Equal(t, int64(33), posRows[0].ObjectID)

		_, total, err = b.Positions.Search(ctx, services.PositionCriteria{
			VersionAsOf: t0.Add(-time.Second),
			CorrectedTo: later,
			Paging:      paging.All,
		})
		require.NoError(t, err)
		assert.Zero(t, total)
		return nil
	}))
}

func TestWriteOutsideTransaction(t *testing.T) {
	b := memory.New()
	err := b.Portfolios.Insert(context.Background(), services.PortfolioRow{ObjectID: 1})
	require.Error(t, err)
}
