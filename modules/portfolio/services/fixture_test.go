package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/portfolio-master/modules/portfolio/domain"
	"github.com/iota-uz/portfolio-master/modules/portfolio/domain/events"
	"github.com/iota-uz/portfolio-master/modules/portfolio/infrastructure/memory"
	"github.com/iota-uz/portfolio-master/modules/portfolio/services"
	"github.com/iota-uz/portfolio-master/pkg/bitemporal"
	"github.com/iota-uz/portfolio-master/pkg/nestedset"
	"github.com/iota-uz/portfolio-master/pkg/uid"
)

var (
	t0 = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
	t2 = t0.Add(2 * time.Hour)
	t3 = t0.Add(3 * time.Hour)
	// reads default to this instant, after every write in the tests
	later = t0.Add(24 * time.Hour)
)

type recorder struct {
	mu     sync.Mutex
	events []events.ChangeEventV1
	err    error
}

func (r *recorder) Notify(_ context.Context, e events.ChangeEventV1) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EntityType+":"+e.ChangeType)
	}
	return out
}

type harness struct {
	backend *memory.Backend
	master  *services.Master
	events  *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	backend := memory.New()
	rec := &recorder{}
	master := services.NewMaster(backend.DB, backend.Portfolios, backend.Positions, rec, services.Options{
		Clock: func() time.Time { return later },
	})
	return &harness{backend: backend, master: master, events: rec}
}

func prt(oid int64) uid.ObjectID { return uid.NewObjectID("DbPrt", oid) }
func pos(oid int64) uid.ObjectID { return uid.NewObjectID("DbPos", oid) }

func tree(id int64, name string, children ...*nestedset.Tree[domain.NodeData]) *nestedset.Tree[domain.NodeData] {
	return &nestedset.Tree[domain.NodeData]{Node: nestedset.Node[domain.NodeData]{ID: id, Value: domain.NodeData{Name: name}}, Children: children}
}

// seed stores the reference data set at t0:
//
//	portfolio 101 "TestPortfolio101"
//	  node 111 root      positions 126
//	    node 112         positions 121, 122
//	    node 113         positions 123
//	    node 114         positions 124, 125
//	portfolio 201 "TestPortfolio201"
//	  node 211 root
func (h *harness) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	p101, err := nestedset.Build(tree(111, "Root", tree(112, "Equities"), tree(113, "Bonds"), tree(114, "Cash")))
	require.NoError(t, err)
	p201, err := nestedset.Build(tree(211, "Root"))
	require.NoError(t, err)

	at := bitemporal.Instants{VersionFrom: t0, CorrectionFrom: t0}
	positions := map[int64]int64{121: 112, 122: 112, 123: 113, 124: 114, 125: 114, 126: 111}

	require.NoError(t, h.backend.DB.InTx(ctx, func(txCtx context.Context) error {
		for _, row := range []services.PortfolioRow{
			{ObjectID: 101, Instants: at, Payload: domain.PortfolioPayload{Name: "TestPortfolio101", Nodes: p101}},
			{ObjectID: 201, Instants: at, Payload: domain.PortfolioPayload{Name: "TestPortfolio201", Nodes: p201}},
		} {
			if err := h.backend.Portfolios.Insert(txCtx, row); err != nil {
				return err
			}
		}
		for oid, node := range positions {
			row := services.PositionRow{ObjectID: oid, Instants: at, Payload: domain.PositionPayload{
				PortfolioID:  101,
				ParentNodeID: node,
				Quantity:     decimal.NewFromInt(oid - 120),
				SecurityKeys: uid.NewBundle(uid.ExternalID{Scheme: "TICKER", Value: "S" + decimal.NewFromInt(oid).String()}),
			}}
			if err := h.backend.Positions.Insert(txCtx, row); err != nil {
				return err
			}
		}
		return nil
	}))
}

func (h *harness) portfolio(t *testing.T, id uid.UniqueID) *domain.PortfolioDocument {
	t.Helper()
	doc, err := h.master.Portfolios.GetPortfolio(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, doc)
	return doc
}

func (h *harness) livePositions(t *testing.T, portfolio uid.ObjectID, vc uid.VersionCorrection) int {
	t.Helper()
	res, err := h.master.Positions.SearchPositions(context.Background(), domain.PositionSearchRequest{
		PortfolioID:       portfolio,
		VersionCorrection: vc,
	})
	require.NoError(t, err)
	return res.Paging.TotalItems
}

// requirePartition checks that the latest corrections of every object partition
// version time and that at most one row is open.
func requirePartition[P any](t *testing.T, rows []bitemporal.Row[P]) {
	t.Helper()
	byObject := map[int64][]bitemporal.Row[P]{}
	for _, r := range rows {
		byObject[r.ObjectID] = append(byObject[r.ObjectID], r)
	}
	for oid, list := range byObject {
		var latest []bitemporal.Row[P]
		open := 0
		for _, r := range list {
			if r.IsLatestCorrection() {
				latest = append(latest, r)
			}
			if r.IsCurrent() {
				open++
			}
		}
		require.LessOrEqual(t, open, 1, "object %d has %d open rows", oid, open)
		for i, a := range latest {
			for j, b := range latest {
				if i == j {
					continue
				}
				overlap := (b.VersionTo.IsZero() || a.VersionFrom.Before(b.VersionTo)) &&
					(a.VersionTo.IsZero() || b.VersionFrom.Before(a.VersionTo))
				require.False(t, overlap, "object %d versions %d and %d overlap", oid, a.VersionID, b.VersionID)
			}
		}
	}
}

func (h *harness) requireInvariants(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.backend.DB.InReadTx(ctx, func(txCtx context.Context) error {
		var portfolios []services.PortfolioRow
		if err := h.backend.Portfolios.Scan(txCtx, func(r services.PortfolioRow) bool {
			portfolios = append(portfolios, r)
			return true
		}); err != nil {
			return err
		}
		var positions []services.PositionRow
		if err := h.backend.Positions.Scan(txCtx, func(r services.PositionRow) bool {
			positions = append(positions, r)
			return true
		}); err != nil {
			return err
		}
		requirePartition(t, portfolios)
		requirePartition(t, positions)

		// every current position sits under a node of its current portfolio
		live := map[int64]services.PortfolioRow{}
		for _, p := range portfolios {
			if p.IsCurrent() {
				live[p.ObjectID] = p
			}
		}
		for _, p := range positions {
			if !p.IsCurrent() {
				continue
			}
			portfolio, ok := live[p.Payload.PortfolioID]
			require.True(t, ok, "position %d is live in removed portfolio %d", p.ObjectID, p.Payload.PortfolioID)
			require.True(t, portfolio.Payload.Nodes.Has(p.Payload.ParentNodeID), "position %d is live under removed node %d", p.ObjectID, p.Payload.ParentNodeID)
		}
		return nil
	}))
}
