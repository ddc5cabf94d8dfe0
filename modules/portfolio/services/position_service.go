package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/portfolio-master/modules/portfolio/domain"
	"github.com/iota-uz/portfolio-master/modules/portfolio/domain/events"
	"github.com/iota-uz/portfolio-master/pkg/bitemporal"
	"github.com/iota-uz/portfolio-master/pkg/uid"
)

// PositionService is the position side of the master. Trades are stored with
// the position version that holds them.
type PositionService struct {
	m *Master
}

func (s *PositionService) scheme() string {
	return s.m.opts.PositionScheme
}

func (s *PositionService) document(row PositionRow) *domain.PositionDocument {
	return domain.PositionFromRow(s.scheme(), s.m.opts.PortfolioScheme, row)
}

func missingPosition() error {
	return bitemporal.Validation(bitemporal.Code(domain.EntityPosition, "INVALID_BODY"), "position is required")
}

// AddPosition stores a new position under a node that is live at now.
func (s *PositionService) AddPosition(ctx context.Context, p *domain.Position, now time.Time) (*domain.PositionDocument, error) {
	if p == nil {
		return nil, missingPosition()
	}
	return write(ctx, s.m, domain.EntityPosition, "add", logrus.Fields{"parent_node_id": p.ParentNodeID.String()},
		func(txCtx context.Context, c *changes) (*domain.PositionDocument, error) {
			nodeID, portfolioID, err := s.parent(txCtx, p, true)
			if err != nil {
				return nil, err
			}
			payload, err := s.payload(txCtx, p, nil, nodeID, portfolioID)
			if err != nil {
				return nil, err
			}
			row, err := s.m.positions.Add(txCtx, payload, now)
			if err != nil {
				return nil, err
			}
			c.add(s.m.positionEvent(txCtx, events.ChangeAdded, nil, &row, now))
			return s.document(row), nil
		})
}

// UpdatePosition stores p as the next version of the position it pins. Adding,
// changing or dropping trades goes through here too.
func (s *PositionService) UpdatePosition(ctx context.Context, p *domain.Position, now time.Time) (*domain.PositionDocument, error) {
	if p == nil {
		return nil, missingPosition()
	}
	ref, err := pinnedRefOf(domain.EntityPosition, s.scheme(), p.UniqueID)
	if err != nil {
		return nil, err
	}
	return write(ctx, s.m, domain.EntityPosition, "update", logrus.Fields{"position_id": p.UniqueID.String()},
		func(txCtx context.Context, c *changes) (*domain.PositionDocument, error) {
			// portfolio before position, the order the node cascade locks in
			nodeID, portfolioID, err := s.parent(txCtx, p, true)
			if err != nil {
				return nil, err
			}
			current, err := s.m.positions.Lock(txCtx, ref)
			if err != nil {
				return nil, err
			}
			payload, err := s.payload(txCtx, p, &current, nodeID, portfolioID)
			if err != nil {
				return nil, err
			}
			row, err := s.m.positions.Update(txCtx, ref, payload, now)
			if err != nil {
				return nil, err
			}
			c.add(s.m.positionEvent(txCtx, events.ChangeChanged, &current, &row, now))
			return s.document(row), nil
		})
}

// CorrectPosition corrects the position version p pins. Correcting the open
// version requires the parent node to be live; a historical version only needs
// the node to belong to the portfolio.
func (s *PositionService) CorrectPosition(ctx context.Context, p *domain.Position, now time.Time) (*domain.PositionDocument, error) {
	if p == nil {
		return nil, missingPosition()
	}
	ref, err := pinnedRefOf(domain.EntityPosition, s.scheme(), p.UniqueID)
	if err != nil {
		return nil, err
	}
	return write(ctx, s.m, domain.EntityPosition, "correct", logrus.Fields{"position_id": p.UniqueID.String()},
		func(txCtx context.Context, c *changes) (*domain.PositionDocument, error) {
			target, err := s.m.positions.Get(txCtx, ref)
			if err != nil {
				return nil, err
			}
			nodeID, portfolioID, err := s.parent(txCtx, p, target.IsLatestVersion())
			if err != nil {
				return nil, err
			}
			payload, err := s.payload(txCtx, p, &target, nodeID, portfolioID)
			if err != nil {
				return nil, err
			}
			row, err := s.m.positions.Correct(txCtx, ref, payload, now)
			if err != nil {
				return nil, err
			}
			c.add(s.m.positionEvent(txCtx, events.ChangeCorrected, &target, &row, now))
			return s.document(row), nil
		})
}

// RemovePosition closes the live version of a position at now.
func (s *PositionService) RemovePosition(ctx context.Context, id uid.UniqueID, now time.Time) error {
	ref, err := refOf(domain.EntityPosition, s.scheme(), id)
	if err != nil {
		return err
	}
	_, err = write(ctx, s.m, domain.EntityPosition, "remove", logrus.Fields{"position_id": id.String()},
		func(txCtx context.Context, c *changes) (struct{}, error) {
			closed, err := s.m.positions.Remove(txCtx, ref, now)
			if err != nil {
				return struct{}{}, err
			}
			c.add(s.m.positionEvent(txCtx, events.ChangeRemoved, &closed, nil, now))
			return struct{}{}, nil
		})
	return err
}

// payload converts a submitted position into storage form. prev is the row
// being replaced, nil for a new position. Submitted trades without an id get
// one from the shared sequence.
func (s *PositionService) payload(ctx context.Context, p *domain.Position, prev *PositionRow, nodeID, portfolioID int64) (domain.PositionPayload, error) {
	var err error
	out := domain.PositionPayload{
		PortfolioID:  portfolioID,
		ParentNodeID: nodeID,
		Quantity:     p.Quantity,
		SecurityKeys: uid.NewBundle(p.SecurityKeys...),
		ProviderID:   p.ProviderID,
		Attributes:   p.Attributes,
	}
	known := map[int64]struct{}{}
	if prev != nil {
		for _, t := range prev.Payload.Trades {
			known[t.ObjectID] = struct{}{}
		}
	}
	for _, t := range p.Trades {
		if t == nil {
			continue
		}
		tp := domain.TradePayload{
			Quantity:        t.Quantity,
			TradeInstant:    t.TradeInstant,
			Counterparty:    t.CounterpartyID,
			ProviderID:      t.ProviderID,
			Premium:         t.Premium,
			PremiumCurrency: t.PremiumCurrency,
			Attributes:      t.Attributes,
		}
		if t.UniqueID.IsZero() {
			if tp.ObjectID, err = s.m.positionRepo.NextObjectID(ctx); err != nil {
				return domain.PositionPayload{}, err
			}
		} else {
			if tp.ObjectID, err = objectIDOf(domain.EntityTrade, s.scheme(), t.UniqueID.ObjectID()); err != nil {
				return domain.PositionPayload{}, err
			}
			if _, ok := known[tp.ObjectID]; !ok {
				return domain.PositionPayload{}, bitemporal.Validation(bitemporal.Code(domain.EntityTrade, "NOT_IN_POSITION"),
					"trade %s is not part of the position version being edited", t.UniqueID.ObjectID().String())
			}
		}
		out.Trades = append(out.Trades, tp)
	}
	return out, nil
}

// parent resolves the parent node of p and its portfolio. With live set, the
// node must be part of the current portfolio version, which is locked so the
// node cannot be removed underneath the write.
func (s *PositionService) parent(ctx context.Context, p *domain.Position, live bool) (nodeID, portfolioID int64, err error) {
	code := bitemporal.Code(domain.EntityPosition, "INVALID_PARENT")
	if p.ParentNodeID.IsZero() {
		return 0, 0, bitemporal.Validation(code, "position needs a parent node")
	}
	nodeID, err = objectIDOf(domain.EntityNode, s.m.opts.PortfolioScheme, p.ParentNodeID)
	if err != nil {
		return 0, 0, err
	}
	portfolioID, err = s.m.portfolioRepo.PortfolioOfNode(ctx, nodeID)
	if bitemporal.IsNotFound(err) {
		return 0, 0, bitemporal.Validation(code, "parent node %s does not exist", p.ParentNodeID.String())
	}
	if err != nil {
		return 0, 0, err
	}
	if !p.PortfolioID.IsZero() && p.PortfolioID != uid.NewObjectID(s.m.opts.PortfolioScheme, portfolioID) {
		return 0, 0, bitemporal.Validation(code, "parent node %s belongs to portfolio %d, not %s", p.ParentNodeID.String(), portfolioID, p.PortfolioID.String())
	}
	if !live {
		return nodeID, portfolioID, nil
	}
	current, err := s.m.portfolioRepo.LockCurrent(ctx, portfolioID)
	if bitemporal.IsNotFound(err) {
		return 0, 0, bitemporal.Validation(code, "portfolio of parent node %s has been removed", p.ParentNodeID.String())
	}
	if err != nil {
		return 0, 0, err
	}
	if !current.Payload.Nodes.Has(nodeID) {
		return 0, 0, bitemporal.Validation(code, "parent node %s is not live in portfolio %d", p.ParentNodeID.String(), portfolioID)
	}
	return nodeID, portfolioID, nil
}
