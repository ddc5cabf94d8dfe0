package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/portfolio-master/modules/portfolio/domain"
	"github.com/iota-uz/portfolio-master/modules/portfolio/domain/events"
	"github.com/iota-uz/portfolio-master/pkg/composables"
	"github.com/iota-uz/portfolio-master/pkg/bitemporal"
	"github.com/iota-uz/portfolio-master/pkg/nestedset"
	"github.com/iota-uz/portfolio-master/pkg/paging"
	"github.com/iota-uz/portfolio-master/pkg/uid"
)

func TestCorrectPortfolioTree_RenamesAndKeepsHistory(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()

	doc := h.portfolio(t, prt(201).AtLatest())
	require.Equal(t, "TestPortfolio201", doc.Portfolio.Name)
	require.Equal(t, "DbPrt~211~0", doc.Portfolio.RootNode.UniqueID.String())

	doc.Portfolio.Name = "NewName"
	corrected, err := h.master.Portfolios.CorrectPortfolioTree(ctx, doc, t1)
	require.NoError(t, err)
	assert.Equal(t, "DbPrt~201~1", corrected.UniqueID.String())
	assert.Equal(t, t0, corrected.VersionFrom)
	assert.Equal(t, t1, corrected.CorrectionFrom)
	assert.Equal(t, "DbPrt~211~1", corrected.Portfolio.RootNode.UniqueID.String())

	latest := h.portfolio(t, prt(201).AtLatest())
	assert.Equal(t, "NewName", latest.Portfolio.Name)

	before, err := h.master.Portfolios.GetPortfolioAsOf(ctx, prt(201), uid.AsOf(t1, t0.Add(30*time.Minute)))
	require.NoError(t, err)
	require.NotNil(t, before)
	assert.Equal(t, "TestPortfolio201", before.Portfolio.Name)

	history, err := h.master.Portfolios.PortfolioHistory(ctx, domain.HistoryRequest{ObjectID: prt(201)})
	require.NoError(t, err)
	require.Len(t, history.Documents, 2)
	assert.Equal(t, 2, history.Paging.TotalItems)

	// the node keeps its object id across the correction
	node, err := h.master.Portfolios.GetNode(ctx, uid.NewObjectID("DbPrt", 211).AtLatest())
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, corrected.UniqueID, node.PortfolioID)

	assert.Equal(t, []string{"portfolio:CORRECTED"}, h.events.types())
	h.requireInvariants(t)
}

func TestCorrectPortfolioTree_SupersededCorrection(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()

	doc := h.portfolio(t, prt(201).AtVersion(0))
	doc.Portfolio.Name = "First"
	_, err := h.master.Portfolios.CorrectPortfolioTree(ctx, doc, t1)
	require.NoError(t, err)

	doc.Portfolio.Name = "Second"
	_, err = h.master.Portfolios.CorrectPortfolioTree(ctx, doc, t2)
	require.ErrorIs(t, err, bitemporal.ErrIllegalState)
	assert.NotErrorIs(t, err, bitemporal.ErrConcurrentModification)
}

func TestRemoveNode_CascadesToPositions(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()
	require.Equal(t, 6, h.livePositions(t, prt(101), uid.LatestVersionCorrection()))

	doc, err := h.master.Portfolios.RemoveNode(ctx, prt(101).AtVersion(0), prt(113), t1)
	require.NoError(t, err)
	assert.Equal(t, "DbPrt~101~1", doc.UniqueID.String())
	assert.Nil(t, doc.Portfolio.RootNode.Find(prt(113)))

	assert.Equal(t, 5, h.livePositions(t, prt(101), uid.LatestVersionCorrection()))
	assert.Equal(t, 6, h.livePositions(t, prt(101), uid.AsOf(t0.Add(30*time.Minute), later)))

	removed, err := h.master.Positions.GetPositionAsOf(ctx, pos(123), uid.LatestVersionCorrection())
	require.NoError(t, err)
	assert.Nil(t, removed)

	assert.Equal(t, []string{"position:REMOVED", "portfolio:CHANGED"}, h.events.types())
	h.requireInvariants(t)
}

func TestRemoveNode_RejectsRoot(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	_, err := h.master.Portfolios.RemoveNode(context.Background(), prt(101).AtVersion(0), prt(111), t1)
	require.ErrorIs(t, err, bitemporal.ErrValidation)
	assert.Equal(t, 6, h.livePositions(t, prt(101), uid.LatestVersionCorrection()))
}

func TestUpdatePortfolioTree_DroppedNodesCascade(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()

	doc := h.portfolio(t, prt(101).AtLatest())
	root := doc.Portfolio.RootNode
	kept := root.ChildNodes[:0]
	for _, c := range root.ChildNodes {
		if c.UniqueID.ObjectID() != prt(114) {
			kept = append(kept, c)
		}
	}
	root.ChildNodes = append(kept, &domain.PortfolioNode{Name: "Derivatives"})

	updated, err := h.master.Portfolios.UpdatePortfolioTree(ctx, doc, t1)
	require.NoError(t, err)
	assert.Equal(t, "DbPrt~101~1", updated.UniqueID.String())
	require.Len(t, updated.Portfolio.RootNode.ChildNodes, 3)
	fresh := updated.Portfolio.RootNode.ChildNodes[2]
	assert.Equal(t, "Derivatives", fresh.Name)
	assert.False(t, fresh.UniqueID.IsZero())

	assert.Equal(t, 4, h.livePositions(t, prt(101), uid.LatestVersionCorrection()))
	h.requireInvariants(t)
}

func TestUpdatePortfolioTree_RemovingNodeRemovesItsPosition(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()
	require.Equal(t, 6, h.livePositions(t, prt(101), uid.LatestVersionCorrection()))

	doc := h.portfolio(t, prt(101).AtLatest())
	root := doc.Portfolio.RootNode
	kept := root.ChildNodes[:0]
	for _, c := range root.ChildNodes {
		if c.UniqueID.ObjectID() != prt(113) {
			kept = append(kept, c)
		}
	}
	root.ChildNodes = kept

	updated, err := h.master.Portfolios.UpdatePortfolioTree(ctx, doc, t1)
	require.NoError(t, err)
	assert.Equal(t, "DbPrt~101~1", updated.UniqueID.String())
	assert.Nil(t, updated.Portfolio.RootNode.Find(prt(113)))

	assert.Equal(t, 5, h.livePositions(t, prt(101), uid.LatestVersionCorrection()))
	removed, err := h.master.Positions.GetPositionAsOf(ctx, pos(123), uid.LatestVersionCorrection())
	require.NoError(t, err)
	assert.Nil(t, removed)

	assert.Equal(t, []string{"position:REMOVED", "portfolio:CHANGED"}, h.events.types())
	h.requireInvariants(t)
}

func TestUpdatePortfolioTree_StalePin(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()

	doc := h.portfolio(t, prt(201).AtLatest())
	doc.Portfolio.Name = "Renamed"
	_, err := h.master.Portfolios.UpdatePortfolioTree(ctx, doc, t1)
	require.NoError(t, err)

	_, err = h.master.Portfolios.UpdatePortfolioTree(ctx, doc, t2)
	require.ErrorIs(t, err, bitemporal.ErrConcurrentModification)
	require.ErrorIs(t, err, bitemporal.ErrIllegalState)
	assert.Contains(t, err.Error(), "not latest version")

	var be *bitemporal.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 409, be.Status)
}

func TestUpdatePortfolioTree_RequiresPin(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	doc := h.portfolio(t, prt(201).AtLatest())
	doc.UniqueID = prt(201).AtLatest()
	doc.Portfolio.UniqueID = prt(201).AtLatest()
	_, err := h.master.Portfolios.UpdatePortfolioTree(context.Background(), doc, t1)
	require.ErrorIs(t, err, bitemporal.ErrValidation)
}

func TestUpdatePortfolioTree_ForeignNode(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	doc := h.portfolio(t, prt(201).AtLatest())
	doc.Portfolio.RootNode.ChildNodes = []*domain.PortfolioNode{{UniqueID: prt(112).AtVersion(0), Name: "Stolen"}}
	_, err := h.master.Portfolios.UpdatePortfolioTree(context.Background(), doc, t1)
	require.ErrorIs(t, err, bitemporal.ErrValidation)
	assert.Equal(t, 6, h.livePositions(t, prt(101), uid.LatestVersionCorrection()))
}

func TestUpdatePortfolioTree_ConcurrentWritersOneWins(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	docs := make([]*domain.PortfolioDocument, writers)
	for i := range docs {
		docs[i] = h.portfolio(t, prt(201).AtVersion(0))
		docs[i].Portfolio.Name = "Writer"
	}
	for i, doc := range docs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.master.Portfolios.UpdatePortfolioTree(ctx, doc, t1.Add(time.Duration(i)*time.Second))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, bitemporal.ErrConcurrentModification):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, writers-1, conflicts)
	h.requireInvariants(t)
}

func TestAddPortfolio(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc, err := h.master.Portfolios.AddPortfolio(ctx, &domain.Portfolio{
		Name:       "Growth",
		Attributes: map[string]string{"desk": "EQ"},
		RootNode: &domain.PortfolioNode{Name: "Root", ChildNodes: []*domain.PortfolioNode{
			{Name: "US"}, {Name: "EU", ChildNodes: []*domain.PortfolioNode{{Name: "DE"}}},
		}},
	}, t0)
	require.NoError(t, err)
	assert.Equal(t, "Growth", doc.Portfolio.Name)
	assert.True(t, doc.IsCurrent())

	root := doc.Portfolio.RootNode
	require.NotNil(t, root)
	assert.Equal(t, 1, root.TreeLeft)
	assert.Equal(t, 8, root.TreeRight)
	assert.True(t, root.ParentNodeID.IsZero())
	require.Len(t, root.ChildNodes, 2)
	assert.Equal(t, root.UniqueID, root.ChildNodes[1].ParentNodeID)
	assert.Equal(t, 2, root.ChildNodes[1].ChildNodes[0].Depth)

	require.Len(t, h.events.events, 1)
	e := h.events.events[0]
	assert.Equal(t, events.TopicPortfolioChangedV1, e.Topic)
	assert.Equal(t, events.ChangeAdded, e.ChangeType)
	assert.Equal(t, doc.UniqueID.ObjectID().String(), e.ObjectID)
	assert.Empty(t, e.BeforeID)
	h.requireInvariants(t)
}

func TestAddPortfolio_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.master.Portfolios.AddPortfolio(ctx, nil, t0)
	require.ErrorIs(t, err, bitemporal.ErrValidation)

	_, err = h.master.Portfolios.AddPortfolio(ctx, &domain.Portfolio{Name: "NoTree"}, t0)
	require.ErrorIs(t, err, bitemporal.ErrValidation)

	_, err = h.master.Portfolios.AddPortfolio(ctx, &domain.Portfolio{RootNode: &domain.PortfolioNode{Name: "Root"}}, t0)
	require.ErrorIs(t, err, bitemporal.ErrValidation)

	assert.Empty(t, h.events.events)
}

func TestRemovePortfolioTree_CascadesEverything(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()

	require.NoError(t, h.master.Portfolios.RemovePortfolioTree(ctx, prt(101).AtLatest(), t1))

	got, err := h.master.Portfolios.GetPortfolio(ctx, prt(101).AtLatest())
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 0, h.livePositions(t, prt(101), uid.LatestVersionCorrection()))
	assert.Equal(t, 6, h.livePositions(t, prt(101), uid.AsOf(t0, later)))

	pinned, err := h.master.Portfolios.GetPortfolio(ctx, prt(101).AtVersion(0))
	require.NoError(t, err)
	require.NotNil(t, pinned)
	assert.Equal(t, t1, pinned.VersionTo)

	// a second removal finds nothing live
	err = h.master.Portfolios.RemovePortfolioTree(ctx, prt(101).AtLatest(), t2)
	require.ErrorIs(t, err, bitemporal.ErrNotFound)

	types := h.events.types()
	require.Len(t, types, 7)
	assert.Equal(t, "portfolio:REMOVED", types[6])
	h.requireInvariants(t)
}

func TestAddNodeAndMoveNode(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()

	doc, err := h.master.Portfolios.AddNode(ctx, prt(101).AtVersion(0), prt(112), &domain.PortfolioNode{
		Name:       "Tech",
		ChildNodes: []*domain.PortfolioNode{{Name: "Semis"}},
	}, t1)
	require.NoError(t, err)
	equities := doc.Portfolio.RootNode.Find(prt(112))
	require.NotNil(t, equities)
	require.Len(t, equities.ChildNodes, 1)
	assert.Equal(t, "Tech", equities.ChildNodes[0].Name)
	require.Len(t, equities.ChildNodes[0].ChildNodes, 1)

	moved, err := h.master.Portfolios.MoveNode(ctx, doc.UniqueID, prt(114), prt(112), t2)
	require.NoError(t, err)
	cash := moved.Portfolio.RootNode.Find(prt(114))
	require.NotNil(t, cash)
	assert.Equal(t, "DbPrt~112~2", cash.ParentNodeID.String())
	assert.Equal(t, 2, cash.Depth)

	// positions follow their node
	assert.Equal(t, 6, h.livePositions(t, prt(101), uid.LatestVersionCorrection()))

	node, err := h.master.Portfolios.GetNodeAsOf(ctx, prt(114), uid.AsOf(t1, later))
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "DbPrt~111~1", node.ParentNodeID.String())

	_, err = h.master.Portfolios.MoveNode(ctx, moved.UniqueID, prt(112), prt(114), t3)
	require.ErrorIs(t, err, bitemporal.ErrValidation)

	_, err = h.master.Portfolios.AddNode(ctx, moved.UniqueID, prt(999), &domain.PortfolioNode{Name: "Orphan"}, t3)
	require.ErrorIs(t, err, bitemporal.ErrNotFound)
	h.requireInvariants(t)
}

func TestRenumberPortfolio(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()

	doc, changed, err := h.master.Portfolios.RenumberPortfolio(ctx, prt(101), t1)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "DbPrt~101~0", doc.UniqueID.String())
	assert.Empty(t, h.events.events)

	// drift the stored bounds behind the master's back
	require.NoError(t, h.backend.DB.InTx(ctx, func(txCtx context.Context) error {
		row, err := h.backend.Portfolios.LockCurrent(txCtx, 201)
		if err != nil {
			return err
		}
		if err := h.backend.Portfolios.CloseCorrection(txCtx, row.Ref(), t1); err != nil {
			return err
		}
		drifted := row.Payload.Nodes.Nodes()
		drifted[0].Right = 7
		row.VersionID = 1
		row.CorrectionFrom = t1
		row.Payload.Nodes = nestedset.Load(drifted)
		return h.backend.Portfolios.Insert(txCtx, row)
	}))

	doc, changed, err = h.master.Portfolios.RenumberPortfolio(ctx, prt(201), t2)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "DbPrt~201~2", doc.UniqueID.String())
	assert.Equal(t, 2, doc.Portfolio.RootNode.TreeRight)
	assert.Equal(t, []string{"portfolio:CORRECTED"}, h.events.types())
	h.requireInvariants(t)
}

func TestGetPortfolio_UnknownAndMalformed(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()

	got, err := h.master.Portfolios.GetPortfolio(ctx, prt(555).AtLatest())
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = h.master.Portfolios.GetPortfolio(ctx, prt(101).AtVersion(9))
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = h.master.Portfolios.GetPortfolio(ctx, uid.NewUniqueID("Other", 101, 0))
	require.ErrorIs(t, err, bitemporal.ErrValidation)

	_, err = h.master.Portfolios.GetPortfolio(ctx, uid.UniqueID{Scheme: "DbPrt", Value: "abc"})
	require.ErrorIs(t, err, bitemporal.ErrValidation)

	history, err := h.master.Portfolios.PortfolioHistory(ctx, domain.HistoryRequest{ObjectID: prt(555)})
	require.NoError(t, err)
	assert.Empty(t, history.Documents)
	assert.Equal(t, 0, history.Paging.TotalItems)
}

func TestSearchPortfolios(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()

	res, err := h.master.Portfolios.SearchPortfolios(ctx, domain.PortfolioSearchRequest{Name: "testportfolio*"})
	require.NoError(t, err)
	require.Len(t, res.Documents, 2)
	assert.Equal(t, "DbPrt~101~0", res.Documents[0].UniqueID.String())

	res, err = h.master.Portfolios.SearchPortfolios(ctx, domain.PortfolioSearchRequest{Name: "*2?1"})
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "TestPortfolio201", res.Documents[0].Portfolio.Name)

	res, err = h.master.Portfolios.SearchPortfolios(ctx, domain.PortfolioSearchRequest{Paging: paging.Of(1, 1)})
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, 2, res.Paging.TotalItems)
	assert.Equal(t, "DbPrt~201~0", res.Documents[0].UniqueID.String())

	res, err = h.master.Portfolios.SearchPortfolios(ctx, domain.PortfolioSearchRequest{PortfolioIDs: []uid.ObjectID{prt(201)}})
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)

	_, err = h.master.Portfolios.SearchPortfolios(ctx, domain.PortfolioSearchRequest{Paging: paging.Of(-1, 5)})
	require.ErrorIs(t, err, bitemporal.ErrValidation)

	// before anything existed
	res, err = h.master.Portfolios.SearchPortfolios(ctx, domain.PortfolioSearchRequest{VersionCorrection: uid.AsOf(t0.Add(-1), later)})
	require.NoError(t, err)
	assert.Empty(t, res.Documents)
}

func TestGetFullPortfolio(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()

	_, err := h.master.Portfolios.RemoveNode(ctx, prt(101).AtVersion(0), prt(113), t1)
	require.NoError(t, err)

	now, err := h.master.Portfolios.GetFullPortfolio(ctx, prt(101), uid.LatestVersionCorrection())
	require.NoError(t, err)
	require.NotNil(t, now)
	assert.Equal(t, 5, countPositions(now.Root))
	assert.Len(t, now.Root.Positions, 1)

	then, err := h.master.Portfolios.GetFullPortfolio(ctx, prt(101), uid.AsOf(t0, later))
	require.NoError(t, err)
	require.NotNil(t, then)
	assert.Equal(t, 6, countPositions(then.Root))

	node, err := h.master.Portfolios.GetFullNode(ctx, prt(114), uid.LatestVersionCorrection())
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Len(t, node.Positions, 2)

	gone, err := h.master.Portfolios.GetFullNode(ctx, prt(113), uid.LatestVersionCorrection())
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	h.events.err = errors.New("broker down")

	doc := h.portfolio(t, prt(201).AtLatest())
	doc.Portfolio.Name = "StillSaved"
	_, err := h.master.Portfolios.UpdatePortfolioTree(context.Background(), doc, t1)
	require.NoError(t, err)
	assert.Equal(t, "StillSaved", h.portfolio(t, prt(201).AtLatest()).Portfolio.Name)
}

func TestChangeEventCarriesDiff(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	doc := h.portfolio(t, prt(201).AtLatest())
	doc.Portfolio.Name = "Diffed"
	_, err := h.master.Portfolios.UpdatePortfolioTree(composables.WithRequestID(context.Background(), "req-42"), doc, t1)
	require.NoError(t, err)

	require.Len(t, h.events.events, 1)
	e := h.events.events[0]
	assert.Equal(t, events.ChangeChanged, e.ChangeType)
	assert.Equal(t, "req-42", e.RequestID)
	assert.Equal(t, "DbPrt~201~0", e.BeforeID)
	assert.Equal(t, "DbPrt~201~1", e.AfterID)
	assert.Contains(t, string(e.Diff), "Diffed")
}

func countPositions(n *domain.FullNode) int {
	if n == nil {
		return 0
	}
	total := len(n.Positions)
	for _, c := range n.Children {
		total += countPositions(c)
	}
	return total
}
