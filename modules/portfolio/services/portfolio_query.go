package services

import (
	"context"
	"time"

	"github.com/iota-uz/portfolio-master/modules/portfolio/domain"
	"github.com/iota-uz/portfolio-master/pkg/bitemporal"
	"github.com/iota-uz/portfolio-master/pkg/paging"
	"github.com/iota-uz/portfolio-master/pkg/uid"
)

// nilIfNotFound turns a not-found error into a nil result.
func nilIfNotFound[T any](v *T, err error) (*T, error) {
	if bitemporal.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// resolveRef reads the row ref names: a pinned ref exactly, an unpinned ref as
// of vc.
func resolveRef[P any](ctx context.Context, e *bitemporal.Engine[P], ref bitemporal.Ref, vc uid.VersionCorrection) (bitemporal.Row[P], error) {
	if ref.IsPinned() {
		return e.Get(ctx, ref)
	}
	return e.Resolve(ctx, ref.ObjectID, vc.VersionAsOf, vc.CorrectedTo)
}

func (m *Master) pageRequest(entity string, r paging.Request) (paging.Request, error) {
	out, err := r.Normalize(m.opts.DefaultPageSize, m.opts.MaxPageSize)
	if err != nil {
		return paging.Request{}, bitemporal.ValidationCause(bitemporal.Code(entity, "INVALID_QUERY"), "invalid paging", err)
	}
	return out, nil
}

func (m *Master) historyQuery(entity string, req domain.HistoryRequest) (bitemporal.HistoryQuery, error) {
	page, err := m.pageRequest(entity, req.Paging)
	if err != nil {
		return bitemporal.HistoryQuery{}, err
	}
	return bitemporal.HistoryQuery{
		VersionsFrom:    req.VersionsFromInstant,
		VersionsTo:      req.VersionsToInstant,
		CorrectionsFrom: req.CorrectionsFromInstant,
		CorrectionsTo:   req.CorrectionsToInstant,
		Paging:          page,
	}, nil
}

// GetPortfolio returns the portfolio version id names, or the live one when id
// is unpinned. Unknown ids yield nil.
func (s *PortfolioService) GetPortfolio(ctx context.Context, id uid.UniqueID) (*domain.PortfolioDocument, error) {
	ref, err := refOf(domain.EntityPortfolio, s.scheme(), id)
	if err != nil {
		return nil, err
	}
	vc := uid.LatestVersionCorrection().Fix(s.m.now())
	return nilIfNotFound(read(ctx, s.m, domain.EntityPortfolio, "get", func(txCtx context.Context) (*domain.PortfolioDocument, error) {
		row, err := resolveRef(txCtx, s.m.portfolios, ref, vc)
		if err != nil {
			return nil, err
		}
		return s.document(row), nil
	}))
}

// GetPortfolioAsOf returns the portfolio as it was at vc.
func (s *PortfolioService) GetPortfolioAsOf(ctx context.Context, id uid.ObjectID, vc uid.VersionCorrection) (*domain.PortfolioDocument, error) {
	oid, err := objectIDOf(domain.EntityPortfolio, s.scheme(), id)
	if err != nil {
		return nil, err
	}
	vc = vc.Fix(s.m.now())
	return nilIfNotFound(read(ctx, s.m, domain.EntityPortfolio, "get_as_of", func(txCtx context.Context) (*domain.PortfolioDocument, error) {
		row, err := s.m.portfolios.Resolve(txCtx, oid, vc.VersionAsOf, vc.CorrectedTo)
		if err != nil {
			return nil, err
		}
		return s.document(row), nil
	}))
}

// SearchPortfolios pages through the portfolios matching req, ordered by object id.
func (s *PortfolioService) SearchPortfolios(ctx context.Context, req domain.PortfolioSearchRequest) (*domain.PortfolioSearchResult, error) {
	ids, err := objectIDsOf(domain.EntityPortfolio, s.scheme(), req.PortfolioIDs)
	if err != nil {
		return nil, err
	}
	page, err := s.m.pageRequest(domain.EntityPortfolio, req.Paging)
	if err != nil {
		return nil, err
	}
	vc := req.VersionCorrection.Fix(s.m.now())
	criteria := PortfolioCriteria{
		NamePattern: req.Name,
		ObjectIDs:   ids,
		VersionAsOf: vc.VersionAsOf,
		CorrectedTo: vc.CorrectedTo,
		Paging:      page,
	}
	return read(ctx, s.m, domain.EntityPortfolio, "search", func(txCtx context.Context) (*domain.PortfolioSearchResult, error) {
		rows, total, err := s.m.portfolioRepo.Search(txCtx, criteria)
		if err != nil {
			return nil, err
		}
		out := &domain.PortfolioSearchResult{Paging: page.Result(total), Documents: make([]*domain.PortfolioDocument, 0, len(rows))}
		for _, row := range rows {
			out.Documents = append(out.Documents, s.document(row))
		}
		return out, nil
	})
}

// PortfolioHistory pages through the rows of one portfolio, newest version
// first. An unknown portfolio has an empty history.
func (s *PortfolioService) PortfolioHistory(ctx context.Context, req domain.HistoryRequest) (*domain.PortfolioHistoryResult, error) {
	oid, err := objectIDOf(domain.EntityPortfolio, s.scheme(), req.ObjectID)
	if err != nil {
		return nil, err
	}
	q, err := s.m.historyQuery(domain.EntityPortfolio, req)
	if err != nil {
		return nil, err
	}
	return read(ctx, s.m, domain.EntityPortfolio, "history", func(txCtx context.Context) (*domain.PortfolioHistoryResult, error) {
		page, err := s.m.portfolios.History(txCtx, oid, q)
		if bitemporal.IsNotFound(err) {
			return &domain.PortfolioHistoryResult{Documents: []*domain.PortfolioDocument{}, Paging: q.Paging.Result(0)}, nil
		}
		if err != nil {
			return nil, err
		}
		out := &domain.PortfolioHistoryResult{Paging: page.Paging, Documents: make([]*domain.PortfolioDocument, 0, len(page.Rows))}
		for _, row := range page.Rows {
			out.Documents = append(out.Documents, s.document(row))
		}
		return out, nil
	})
}

// GetNode returns the node id names as of the portfolio version in id, or in
// the live portfolio when id is unpinned. Nil when the node is not part of
// that version.
func (s *PortfolioService) GetNode(ctx context.Context, id uid.UniqueID) (*domain.PortfolioNode, error) {
	ref, err := refOf(domain.EntityNode, s.scheme(), id)
	if err != nil {
		return nil, err
	}
	vc := uid.LatestVersionCorrection().Fix(s.m.now())
	return nilIfNotFound(read(ctx, s.m, domain.EntityNode, "get", func(txCtx context.Context) (*domain.PortfolioNode, error) {
		row, err := s.nodePortfolio(txCtx, ref, vc)
		if err != nil {
			return nil, err
		}
		return s.findNode(row, ref.ObjectID)
	}))
}

// GetNodeAsOf returns the node as it was at vc.
func (s *PortfolioService) GetNodeAsOf(ctx context.Context, id uid.ObjectID, vc uid.VersionCorrection) (*domain.PortfolioNode, error) {
	oid, err := objectIDOf(domain.EntityNode, s.scheme(), id)
	if err != nil {
		return nil, err
	}
	vc = vc.Fix(s.m.now())
	return nilIfNotFound(read(ctx, s.m, domain.EntityNode, "get_as_of", func(txCtx context.Context) (*domain.PortfolioNode, error) {
		row, err := s.nodePortfolio(txCtx, bitemporal.Current(oid), vc)
		if err != nil {
			return nil, err
		}
		return s.findNode(row, oid)
	}))
}

// nodePortfolio reads the portfolio row holding a node. A pinned node ref uses
// the portfolio version of the same number.
func (s *PortfolioService) nodePortfolio(ctx context.Context, nodeRef bitemporal.Ref, vc uid.VersionCorrection) (PortfolioRow, error) {
	portfolioOID, err := s.m.portfolioRepo.PortfolioOfNode(ctx, nodeRef.ObjectID)
	if err != nil {
		return PortfolioRow{}, err
	}
	return resolveRef(ctx, s.m.portfolios, bitemporal.Ref{ObjectID: portfolioOID, VersionID: nodeRef.VersionID}, vc)
}

func (s *PortfolioService) findNode(row PortfolioRow, nodeID int64) (*domain.PortfolioNode, error) {
	doc := s.document(row)
	node := doc.Portfolio.RootNode.Find(uid.NewObjectID(s.scheme(), nodeID))
	if node == nil {
		return nil, bitemporal.NotFound(bitemporal.Code(domain.EntityNode, "NOT_FOUND"), "node %d is not part of portfolio %s", nodeID, doc.UniqueID)
	}
	return node, nil
}

// GetFullPortfolio resolves the portfolio and every position under its nodes
// from one snapshot. Nil when the portfolio did not exist at vc.
func (s *PortfolioService) GetFullPortfolio(ctx context.Context, id uid.ObjectID, vc uid.VersionCorrection) (*domain.FullPortfolio, error) {
	oid, err := objectIDOf(domain.EntityPortfolio, s.scheme(), id)
	if err != nil {
		return nil, err
	}
	vc = vc.Fix(s.m.now())
	return nilIfNotFound(read(ctx, s.m, domain.EntityPortfolio, "get_full", func(txCtx context.Context) (*domain.FullPortfolio, error) {
		row, err := s.m.portfolios.Resolve(txCtx, oid, vc.VersionAsOf, vc.CorrectedTo)
		if err != nil {
			return nil, err
		}
		doc := s.document(row)
		byNode, err := s.m.positionsByNode(txCtx, PositionCriteria{PortfolioID: oid}, vc.VersionAsOf, vc.CorrectedTo)
		if err != nil {
			return nil, err
		}
		return &domain.FullPortfolio{Portfolio: doc.Portfolio, Root: fullNode(doc.Portfolio.RootNode, byNode)}, nil
	}))
}

// GetFullNode is GetFullPortfolio restricted to one node's subtree.
func (s *PortfolioService) GetFullNode(ctx context.Context, id uid.ObjectID, vc uid.VersionCorrection) (*domain.FullNode, error) {
	oid, err := objectIDOf(domain.EntityNode, s.scheme(), id)
	if err != nil {
		return nil, err
	}
	vc = vc.Fix(s.m.now())
	return nilIfNotFound(read(ctx, s.m, domain.EntityNode, "get_full", func(txCtx context.Context) (*domain.FullNode, error) {
		row, err := s.nodePortfolio(txCtx, bitemporal.Current(oid), vc)
		if err != nil {
			return nil, err
		}
		node, err := s.findNode(row, oid)
		if err != nil {
			return nil, err
		}
		byNode, err := s.m.positionsByNode(txCtx, PositionCriteria{PortfolioID: row.ObjectID}, vc.VersionAsOf, vc.CorrectedTo)
		if err != nil {
			return nil, err
		}
		return fullNode(node, byNode), nil
	}))
}

// positionsByNode loads every position matching c at the instants and groups
// them by parent node object id.
func (m *Master) positionsByNode(ctx context.Context, c PositionCriteria, versionAsOf, correctedTo time.Time) (map[uid.ObjectID][]*domain.Position, error) {
	c.VersionAsOf, c.CorrectedTo, c.Paging = versionAsOf, correctedTo, paging.All
	rows, _, err := m.positionRepo.Search(ctx, c)
	if err != nil {
		return nil, err
	}
	out := make(map[uid.ObjectID][]*domain.Position)
	for _, row := range rows {
		p := domain.PositionFromRow(m.opts.PositionScheme, m.opts.PortfolioScheme, row).Position
		out[p.ParentNodeID] = append(out[p.ParentNodeID], p)
	}
	return out, nil
}

func fullNode(n *domain.PortfolioNode, byNode map[uid.ObjectID][]*domain.Position) *domain.FullNode {
	if n == nil {
		return nil
	}
	out := &domain.FullNode{Node: n, Positions: byNode[n.UniqueID.ObjectID()]}
	for _, c := range n.ChildNodes {
		out.Children = append(out.Children, fullNode(c, byNode))
	}
	return out
}
