// Package memory is the in-process backend of the portfolio master, built on
// memstore tables. It serves tests and the CLI's memory mode.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/iota-uz/portfolio-master/modules/portfolio/domain"
	"github.com/iota-uz/portfolio-master/modules/portfolio/services"
	"github.com/iota-uz/portfolio-master/pkg/bitemporal"
	"github.com/iota-uz/portfolio-master/pkg/bitemporal/memstore"
)

// Backend bundles the transactor and both repositories over one memstore DB.
type Backend struct {
	DB         *memstore.DB
	Portfolios *PortfolioRepository
	Positions  *PositionRepository
}

func New() *Backend {
	db := memstore.New()
	return &Backend{
		DB:         db,
		Portfolios: &PortfolioRepository{Table: memstore.NewTable(db, "prt_portfolio", domain.ClonePortfolioPayload)},
		Positions:  &PositionRepository{Table: memstore.NewTable(db, "pos_position", domain.ClonePositionPayload)},
	}
}

type PortfolioRepository struct {
	*memstore.Table[domain.PortfolioPayload]
}

var _ services.PortfolioRepository = (*PortfolioRepository)(nil)

// Insert also reserves the node ids the row carries.
func (r *PortfolioRepository) Insert(ctx context.Context, row services.PortfolioRow) error {
	if err := r.DB().Reserve(ctx, row.Payload.Nodes.IDs()...); err != nil {
		return err
	}
	return r.Table.Insert(ctx, row)
}

func (r *PortfolioRepository) PortfolioOfNode(ctx context.Context, nodeID int64) (int64, error) {
	var found int64
	err := r.Scan(ctx, func(row services.PortfolioRow) bool {
		if row.Payload.Nodes.Has(nodeID) {
			found = row.ObjectID
			return false
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	if found == 0 {
		return 0, fmt.Errorf("memory: node %d: %w", nodeID, bitemporal.ErrNotFound)
	}
	return found, nil
}

func (r *PortfolioRepository) Search(ctx context.Context, c services.PortfolioCriteria) ([]services.PortfolioRow, int, error) {
	return search(ctx, r.Table, c.Matches, c.Paging.Window)
}

type PositionRepository struct {
	*memstore.Table[domain.PositionPayload]
}

var _ services.PositionRepository = (*PositionRepository)(nil)

// Insert also reserves the trade ids the row carries.
func (r *PositionRepository) Insert(ctx context.Context, row services.PositionRow) error {
	ids := make([]int64, 0, len(row.Payload.Trades))
	for _, t := range row.Payload.Trades {
		ids = append(ids, t.ObjectID)
	}
	if err := r.DB().Reserve(ctx, ids...); err != nil {
		return err
	}
	return r.Table.Insert(ctx, row)
}

func (r *PositionRepository) PositionOfTrade(ctx context.Context, tradeID int64) (int64, error) {
	var found int64
	err := r.Scan(ctx, func(row services.PositionRow) bool {
		for _, t := range row.Payload.Trades {
			if t.ObjectID == tradeID {
				found = row.ObjectID
				return false
			}
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	if found == 0 {
		return 0, fmt.Errorf("memory: trade %d: %w", tradeID, bitemporal.ErrNotFound)
	}
	return found, nil
}

func (r *PositionRepository) Search(ctx context.Context, c services.PositionCriteria) ([]services.PositionRow, int, error) {
	return search(ctx, r.Table, c.Matches, c.Paging.Window)
}

func (r *PositionRepository) LockCurrentUnderNodes(ctx context.Context, nodeIDs []int64) ([]services.PositionRow, error) {
	var out []services.PositionRow
	err := r.Scan(ctx, func(row services.PositionRow) bool {
		if row.IsCurrent() && slices.Contains(nodeIDs, row.Payload.ParentNodeID) {
			out = append(out, row)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b services.PositionRow) int { return cmp.Compare(a.ObjectID, b.ObjectID) })
	return out, nil
}

func search[P any](ctx context.Context, t *memstore.Table[P], match func(bitemporal.Row[P]) bool, window func(int) (int, int)) ([]bitemporal.Row[P], int, error) {
	var matched []bitemporal.Row[P]
	err := t.Scan(ctx, func(row bitemporal.Row[P]) bool {
		if match(row) {
			matched = append(matched, row)
		}
		return true
	})
	if err != nil {
		return nil, 0, err
	}
	slices.SortFunc(matched, func(a, b bitemporal.Row[P]) int { return cmp.Compare(a.ObjectID, b.ObjectID) })
	lo, hi := window(len(matched))
	return matched[lo:hi], len(matched), nil
}

