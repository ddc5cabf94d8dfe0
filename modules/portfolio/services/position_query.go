package services

import (
	"context"

	"github.com/iota-uz/portfolio-master/modules/portfolio/domain"
	"github.com/iota-uz/portfolio-master/pkg/bitemporal"
	"github.com/iota-uz/portfolio-master/pkg/uid"
)

// GetPosition returns the position version id names, or the live one when id
// is unpinned. Unknown ids yield nil.
func (s *PositionService) GetPosition(ctx context.Context, id uid.UniqueID) (*domain.PositionDocument, error) {
	ref, err := refOf(domain.EntityPosition, s.scheme(), id)
	if err != nil {
		return nil, err
	}
	vc := uid.LatestVersionCorrection().Fix(s.m.now())
	return nilIfNotFound(read(ctx, s.m, domain.EntityPosition, "get", func(txCtx context.Context) (*domain.PositionDocument, error) {
		row, err := resolveRef(txCtx, s.m.positions, ref, vc)
		if err != nil {
			return nil, err
		}
		return s.document(row), nil
	}))
}

// GetPositionAsOf returns the position as it was at vc.
func (s *PositionService) GetPositionAsOf(ctx context.Context, id uid.ObjectID, vc uid.VersionCorrection) (*domain.PositionDocument, error) {
	return s.getAsOf(ctx, "get_as_of", id, vc)
}

// GetFullPosition resolves the position with all of its trades inside one read
// transaction. Nil when the position did not exist at vc.
func (s *PositionService) GetFullPosition(ctx context.Context, id uid.ObjectID, vc uid.VersionCorrection) (*domain.PositionDocument, error) {
	return s.getAsOf(ctx, "get_full", id, vc)
}

func (s *PositionService) getAsOf(ctx context.Context, operation string, id uid.ObjectID, vc uid.VersionCorrection) (*domain.PositionDocument, error) {
	oid, err := objectIDOf(domain.EntityPosition, s.scheme(), id)
	if err != nil {
		return nil, err
	}
	vc = vc.Fix(s.m.now())
	return nilIfNotFound(read(ctx, s.m, domain.EntityPosition, operation, func(txCtx context.Context) (*domain.PositionDocument, error) {
		row, err := s.m.positions.Resolve(txCtx, oid, vc.VersionAsOf, vc.CorrectedTo)
		if err != nil {
			return nil, err
		}
		return s.document(row), nil
	}))
}

// SearchPositions pages through the positions matching req, ordered by object id.
func (s *PositionService) SearchPositions(ctx context.Context, req domain.PositionSearchRequest) (*domain.PositionSearchResult, error) {
	criteria, err := s.criteria(req)
	if err != nil {
		return nil, err
	}
	if !criteria.satisfiable(req) {
		return &domain.PositionSearchResult{Paging: criteria.Paging.Result(0), Documents: []*domain.PositionDocument{}}, nil
	}
	return read(ctx, s.m, domain.EntityPosition, "search", func(txCtx context.Context) (*domain.PositionSearchResult, error) {
		rows, total, err := s.m.positionRepo.Search(txCtx, criteria)
		if err != nil {
			return nil, err
		}
		out := &domain.PositionSearchResult{Paging: criteria.Paging.Result(total), Documents: make([]*domain.PositionDocument, 0, len(rows))}
		for _, row := range rows {
			out.Documents = append(out.Documents, s.document(row))
		}
		return out, nil
	})
}

func (s *PositionService) criteria(req domain.PositionSearchRequest) (PositionCriteria, error) {
	code := bitemporal.Code(domain.EntityPosition, "INVALID_QUERY")
	var (
		c   PositionCriteria
		err error
	)
	if !req.PortfolioID.IsZero() {
		if c.PortfolioID, err = objectIDOf(domain.EntityPortfolio, s.m.opts.PortfolioScheme, req.PortfolioID); err != nil {
			return c, err
		}
	}
	if !req.ParentNodeID.IsZero() {
		if c.ParentNodeID, err = objectIDOf(domain.EntityNode, s.m.opts.PortfolioScheme, req.ParentNodeID); err != nil {
			return c, err
		}
	}
	if c.ObjectIDs, err = objectIDsOf(domain.EntityPosition, s.scheme(), req.PositionIDs); err != nil {
		return c, err
	}
	if c.TradeIDs, err = objectIDsOf(domain.EntityTrade, s.scheme(), req.TradeIDs); err != nil {
		return c, err
	}
	if err := req.SecurityKeys.Validate(); err != nil {
		return c, bitemporal.ValidationCause(code, "invalid security key", err)
	}
	keySearch, err := uid.ParseSearchType(string(req.SecurityKeySearch))
	if err != nil {
		return c, bitemporal.ValidationCause(code, "invalid security key search", err)
	}
	if !req.ProviderID.IsZero() {
		if err := req.ProviderID.Validate(); err != nil {
			return c, bitemporal.ValidationCause(code, "invalid provider id", err)
		}
	}
	if !req.TradeProviderID.IsZero() {
		if err := req.TradeProviderID.Validate(); err != nil {
			return c, bitemporal.ValidationCause(code, "invalid trade provider id", err)
		}
	}
	if req.MinQuantity.Valid && req.MaxQuantity.Valid && req.MaxQuantity.Decimal.LessThan(req.MinQuantity.Decimal) {
		return c, bitemporal.Validation(code, "maximum quantity %s is below minimum quantity %s", req.MaxQuantity.Decimal, req.MinQuantity.Decimal)
	}
	if c.Paging, err = s.m.pageRequest(domain.EntityPosition, req.Paging); err != nil {
		return c, err
	}
	vc := req.VersionCorrection.Fix(s.m.now())
	if req.SecurityKeys != nil || req.SecurityKeySearch != "" {
		c.SecurityKeys, c.KeySearch = uid.NewBundle(req.SecurityKeys...), keySearch
		if keySearch == uid.SearchNone && len(c.SecurityKeys) == 0 {
			c.KeySearch = ""
		}
	}
	c.ValuePattern = req.SecurityValue
	c.ProviderID, c.TradeProviderID = req.ProviderID, req.TradeProviderID
	c.MinQuantity, c.MaxQuantity = req.MinQuantity, req.MaxQuantity
	c.VersionAsOf, c.CorrectedTo = vc.VersionAsOf, vc.CorrectedTo
	return c, nil
}

// satisfiable is false when an empty id set in req rules out every position.
func (c PositionCriteria) satisfiable(req domain.PositionSearchRequest) bool {
	if req.PositionIDs != nil && len(req.PositionIDs) == 0 {
		return false
	}
	if req.TradeIDs != nil && len(req.TradeIDs) == 0 {
		return false
	}
	return c.KeySearch == "" || c.KeySearch.CanMatch(c.SecurityKeys)
}

// PositionHistory pages through the rows of one position, newest version
// first. An unknown position has an empty history.
func (s *PositionService) PositionHistory(ctx context.Context, req domain.HistoryRequest) (*domain.PositionHistoryResult, error) {
	oid, err := objectIDOf(domain.EntityPosition, s.scheme(), req.ObjectID)
	if err != nil {
		return nil, err
	}
	q, err := s.m.historyQuery(domain.EntityPosition, req)
	if err != nil {
		return nil, err
	}
	return read(ctx, s.m, domain.EntityPosition, "history", func(txCtx context.Context) (*domain.PositionHistoryResult, error) {
		page, err := s.m.positions.History(txCtx, oid, q)
		if bitemporal.IsNotFound(err) {
			return &domain.PositionHistoryResult{Documents: []*domain.PositionDocument{}, Paging: q.Paging.Result(0)}, nil
		}
		if err != nil {
			return nil, err
		}
		out := &domain.PositionHistoryResult{Paging: page.Paging, Documents: make([]*domain.PositionDocument, 0, len(page.Rows))}
		for _, row := range page.Rows {
			out.Documents = append(out.Documents, s.document(row))
		}
		return out, nil
	})
}

// GetTrade returns the trade id names. The version of a trade id is the version
// of the position row holding it; an unpinned id reads the live position.
func (s *PositionService) GetTrade(ctx context.Context, id uid.UniqueID) (*domain.Trade, error) {
	ref, err := refOf(domain.EntityTrade, s.scheme(), id)
	if err != nil {
		return nil, err
	}
	vc := uid.LatestVersionCorrection().Fix(s.m.now())
	return nilIfNotFound(read(ctx, s.m, domain.EntityTrade, "get", func(txCtx context.Context) (*domain.Trade, error) {
		positionOID, err := s.m.positionRepo.PositionOfTrade(txCtx, ref.ObjectID)
		if err != nil {
			return nil, err
		}
		row, err := resolveRef(txCtx, s.m.positions, bitemporal.Ref{ObjectID: positionOID, VersionID: ref.VersionID}, vc)
		if err != nil {
			return nil, err
		}
		trade := s.document(row).Position.Trade(uid.NewObjectID(s.scheme(), ref.ObjectID))
		if trade == nil {
			return nil, bitemporal.NotFound(bitemporal.Code(domain.EntityTrade, "NOT_FOUND"), "trade %d is not part of position %d version %d", ref.ObjectID, row.ObjectID, row.VersionID)
		}
		return trade, nil
	}))
}
