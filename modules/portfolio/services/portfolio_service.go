package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/portfolio-master/modules/portfolio/domain"
	"github.com/iota-uz/portfolio-master/modules/portfolio/domain/events"
	"github.com/iota-uz/portfolio-master/pkg/bitemporal"
	"github.com/iota-uz/portfolio-master/pkg/nestedset"
	"github.com/iota-uz/portfolio-master/pkg/uid"
)

// PortfolioService is the portfolio side of the master. Every modify takes
// the instant it happens at explicitly.
type PortfolioService struct {
	m *Master
}

func (s *PortfolioService) scheme() string {
	return s.m.opts.PortfolioScheme
}

func (s *PortfolioService) document(row PortfolioRow) *domain.PortfolioDocument {
	return domain.PortfolioFromRow(s.scheme(), row)
}

func portfolioPayload(p *domain.Portfolio, nodes nestedset.Table[domain.NodeData]) domain.PortfolioPayload {
	return domain.PortfolioPayload{Name: p.Name, Attributes: p.Attributes, Nodes: nodes}
}

func missingPortfolio() error {
	return bitemporal.Validation(bitemporal.Code(domain.EntityPortfolio, "INVALID_BODY"), "portfolio is required")
}

// documentUID picks the pinned id of a submitted document. The document id wins
// over the portfolio's own id.
func documentUID(docID, entityID uid.UniqueID) uid.UniqueID {
	if !docID.IsZero() {
		return docID
	}
	return entityID
}

// AddPortfolio stores a new portfolio with the declared node tree. Every node
// gets a fresh object id.
func (s *PortfolioService) AddPortfolio(ctx context.Context, p *domain.Portfolio, now time.Time) (*domain.PortfolioDocument, error) {
	if p == nil {
		return nil, missingPortfolio()
	}
	return write(ctx, s.m, domain.EntityPortfolio, "add", logrus.Fields{"portfolio_name": p.Name},
		func(txCtx context.Context, c *changes) (*domain.PortfolioDocument, error) {
			nodes, err := s.m.declaredTable(txCtx, nil, p.RootNode)
			if err != nil {
				return nil, err
			}
			row, err := s.m.portfolios.Add(txCtx, portfolioPayload(p, nodes), now)
			if err != nil {
				return nil, err
			}
			c.add(s.m.portfolioEvent(txCtx, events.ChangeAdded, nil, &row, now))
			return s.document(row), nil
		})
}

// UpdatePortfolioTree stores doc as the next version of the portfolio it pins.
// Positions under nodes missing from the new tree are removed at now.
func (s *PortfolioService) UpdatePortfolioTree(ctx context.Context, doc *domain.PortfolioDocument, now time.Time) (*domain.PortfolioDocument, error) {
	if doc == nil || doc.Portfolio == nil {
		return nil, missingPortfolio()
	}
	id := documentUID(doc.UniqueID, doc.Portfolio.UniqueID)
	ref, err := pinnedRefOf(domain.EntityPortfolio, s.scheme(), id)
	if err != nil {
		return nil, err
	}
	return write(ctx, s.m, domain.EntityPortfolio, "update", logrus.Fields{"portfolio_id": id.String()},
		func(txCtx context.Context, c *changes) (*domain.PortfolioDocument, error) {
			current, err := s.m.portfolios.Lock(txCtx, ref)
			if err != nil {
				return nil, err
			}
			nodes, err := s.m.declaredTable(txCtx, &current.Payload.Nodes, doc.Portfolio.RootNode)
			if err != nil {
				return nil, err
			}
			return s.replace(txCtx, c, current, portfolioPayload(doc.Portfolio, nodes), now)
		})
}

// replace writes payload as the next version of current and cascades to the
// positions of dropped nodes.
func (s *PortfolioService) replace(ctx context.Context, c *changes, current PortfolioRow, payload domain.PortfolioPayload, now time.Time) (*domain.PortfolioDocument, error) {
	row, err := s.m.portfolios.Update(ctx, current.Ref(), payload, now)
	if err != nil {
		return nil, err
	}
	if _, err := s.m.cascadeRemove(ctx, c, droppedNodes(current.Payload.Nodes, payload.Nodes), now); err != nil {
		return nil, err
	}
	c.add(s.m.portfolioEvent(ctx, events.ChangeChanged, &current, &row, now))
	return s.document(row), nil
}

// CorrectPortfolioTree corrects the portfolio version doc pins. When that version
// is still open, positions under nodes dropped by the correction are removed at now.
func (s *PortfolioService) CorrectPortfolioTree(ctx context.Context, doc *domain.PortfolioDocument, now time.Time) (*domain.PortfolioDocument, error) {
	if doc == nil || doc.Portfolio == nil {
		return nil, missingPortfolio()
	}
	id := documentUID(doc.UniqueID, doc.Portfolio.UniqueID)
	ref, err := pinnedRefOf(domain.EntityPortfolio, s.scheme(), id)
	if err != nil {
		return nil, err
	}
	return write(ctx, s.m, domain.EntityPortfolio, "correct", logrus.Fields{"portfolio_id": id.String()},
		func(txCtx context.Context, c *changes) (*domain.PortfolioDocument, error) {
			target, err := s.m.portfolios.Get(txCtx, ref)
			if err != nil {
				return nil, err
			}
			nodes, err := s.m.declaredTable(txCtx, &target.Payload.Nodes, doc.Portfolio.RootNode)
			if err != nil {
				return nil, err
			}
			return s.correct(txCtx, c, target, portfolioPayload(doc.Portfolio, nodes), now)
		})
}

func (s *PortfolioService) correct(ctx context.Context, c *changes, target PortfolioRow, payload domain.PortfolioPayload, now time.Time) (*domain.PortfolioDocument, error) {
	row, err := s.m.portfolios.Correct(ctx, target.Ref(), payload, now)
	if err != nil {
		return nil, err
	}
	if target.IsLatestVersion() {
		if _, err := s.m.cascadeRemove(ctx, c, droppedNodes(target.Payload.Nodes, payload.Nodes), now); err != nil {
			return nil, err
		}
	}
	c.add(s.m.portfolioEvent(ctx, events.ChangeCorrected, &target, &row, now))
	return s.document(row), nil
}

// RemovePortfolioTree removes the portfolio and every position under any of its
// nodes. A pinned id must name the current version.
func (s *PortfolioService) RemovePortfolioTree(ctx context.Context, id uid.UniqueID, now time.Time) error {
	ref, err := refOf(domain.EntityPortfolio, s.scheme(), id)
	if err != nil {
		return err
	}
	_, err = write(ctx, s.m, domain.EntityPortfolio, "remove", logrus.Fields{"portfolio_id": id.String()},
		func(txCtx context.Context, c *changes) (struct{}, error) {
			closed, err := s.m.portfolios.Remove(txCtx, ref, now)
			if err != nil {
				return struct{}{}, err
			}
			if _, err := s.m.cascadeRemove(txCtx, c, closed.Payload.Nodes.IDs(), now); err != nil {
				return struct{}{}, err
			}
			c.add(s.m.portfolioEvent(txCtx, events.ChangeRemoved, &closed, nil, now))
			return struct{}{}, nil
		})
	return err
}

// AddNode inserts a subtree of new nodes as the last child of parentID and
// stores the result as the next portfolio version.
func (s *PortfolioService) AddNode(ctx context.Context, portfolioID uid.UniqueID, parentID uid.ObjectID, node *domain.PortfolioNode, now time.Time) (*domain.PortfolioDocument, error) {
	if node == nil {
		return nil, bitemporal.Validation(bitemporal.Code(domain.EntityNode, "INVALID_BODY"), "node is required")
	}
	ref, err := pinnedRefOf(domain.EntityPortfolio, s.scheme(), portfolioID)
	if err != nil {
		return nil, err
	}
	parent, err := objectIDOf(domain.EntityNode, s.scheme(), parentID)
	if err != nil {
		return nil, err
	}
	return write(ctx, s.m, domain.EntityPortfolio, "add_node", logrus.Fields{"portfolio_id": portfolioID.String(), "parent_node_id": parentID.String()},
		func(txCtx context.Context, c *changes) (*domain.PortfolioDocument, error) {
			current, err := s.m.portfolios.Lock(txCtx, ref)
			if err != nil {
				return nil, err
			}
			sub, err := s.m.declaredTable(txCtx, nil, node)
			if err != nil {
				return nil, err
			}
			nodes, err := current.Payload.Nodes.InsertSubtree(parent, sub)
			if err != nil {
				return nil, treeError(err)
			}
			return s.replace(txCtx, c, current, withNodes(current.Payload, nodes), now)
		})
}

// RemoveNode drops a node and its subtree, removing the positions under them.
// The root cannot be removed this way; remove the portfolio instead.
func (s *PortfolioService) RemoveNode(ctx context.Context, portfolioID uid.UniqueID, nodeID uid.ObjectID, now time.Time) (*domain.PortfolioDocument, error) {
	ref, err := pinnedRefOf(domain.EntityPortfolio, s.scheme(), portfolioID)
	if err != nil {
		return nil, err
	}
	node, err := objectIDOf(domain.EntityNode, s.scheme(), nodeID)
	if err != nil {
		return nil, err
	}
	return write(ctx, s.m, domain.EntityPortfolio, "remove_node", logrus.Fields{"portfolio_id": portfolioID.String(), "node_id": nodeID.String()},
		func(txCtx context.Context, c *changes) (*domain.PortfolioDocument, error) {
			current, err := s.m.portfolios.Lock(txCtx, ref)
			if err != nil {
				return nil, err
			}
			if current.Payload.RootNodeID() == node {
				return nil, bitemporal.Validation(bitemporal.Code(domain.EntityNode, "ROOT"), "node %s is the root; remove the portfolio instead", nodeID.String())
			}
			nodes, _, err := current.Payload.Nodes.RemoveSubtree(node)
			if err != nil {
				return nil, treeError(err)
			}
			return s.replace(txCtx, c, current, withNodes(current.Payload, nodes), now)
		})
}

// MoveNode re-parents a node, with its subtree, as the last child of newParentID.
func (s *PortfolioService) MoveNode(ctx context.Context, portfolioID uid.UniqueID, nodeID, newParentID uid.ObjectID, now time.Time) (*domain.PortfolioDocument, error) {
	ref, err := pinnedRefOf(domain.EntityPortfolio, s.scheme(), portfolioID)
	if err != nil {
		return nil, err
	}
	node, err := objectIDOf(domain.EntityNode, s.scheme(), nodeID)
	if err != nil {
		return nil, err
	}
	parent, err := objectIDOf(domain.EntityNode, s.scheme(), newParentID)
	if err != nil {
		return nil, err
	}
	return write(ctx, s.m, domain.EntityPortfolio, "move_node", logrus.Fields{"portfolio_id": portfolioID.String(), "node_id": nodeID.String(), "parent_node_id": newParentID.String()},
		func(txCtx context.Context, c *changes) (*domain.PortfolioDocument, error) {
			current, err := s.m.portfolios.Lock(txCtx, ref)
			if err != nil {
				return nil, err
			}
			nodes, err := current.Payload.Nodes.Move(node, parent)
			if err != nil {
				return nil, treeError(err)
			}
			return s.replace(txCtx, c, current, withNodes(current.Payload, nodes), now)
		})
}

// RenumberPortfolio rebuilds the current node table from its parent links and
// stores it as a correction when any bound or depth changed. The returned flag
// reports whether a correction was written.
func (s *PortfolioService) RenumberPortfolio(ctx context.Context, id uid.ObjectID, now time.Time) (*domain.PortfolioDocument, bool, error) {
	oid, err := objectIDOf(domain.EntityPortfolio, s.scheme(), id)
	if err != nil {
		return nil, false, err
	}
	type result struct {
		doc     *domain.PortfolioDocument
		changed bool
	}
	res, err := write(ctx, s.m, domain.EntityPortfolio, "renumber", logrus.Fields{"portfolio_id": id.String()},
		func(txCtx context.Context, c *changes) (result, error) {
			current, err := s.m.portfolios.Lock(txCtx, bitemporal.Current(oid))
			if err != nil {
				return result{}, err
			}
			nodes, err := current.Payload.Nodes.Renumber()
			if err != nil {
				return result{}, treeError(err)
			}
			if nodes.SameShape(current.Payload.Nodes) {
				return result{doc: s.document(current)}, nil
			}
			doc, err := s.correct(txCtx, c, current, withNodes(current.Payload, nodes), now)
			if err != nil {
				return result{}, err
			}
			return result{doc: doc, changed: true}, nil
		})
	if err != nil {
		return nil, false, err
	}
	return res.doc, res.changed, nil
}

func withNodes(p domain.PortfolioPayload, nodes nestedset.Table[domain.NodeData]) domain.PortfolioPayload {
	p = domain.ClonePortfolioPayload(p)
	p.Nodes = nodes
	return p
}

// cascadeRemove removes, at now, every current position whose parent node is
// one of nodeIDs.
func (m *Master) cascadeRemove(ctx context.Context, c *changes, nodeIDs []int64, now time.Time) (int, error) {
	if len(nodeIDs) == 0 {
		return 0, nil
	}
	rows, err := m.positionRepo.LockCurrentUnderNodes(ctx, nodeIDs)
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		closed, err := m.positions.Remove(ctx, bitemporal.Current(row.ObjectID), now)
		if err != nil {
			return 0, err
		}
		c.add(m.positionEvent(ctx, events.ChangeRemoved, &closed, nil, now))
	}
	c.cascaded += len(rows)
	if len(rows) > 0 {
		m.logWithFields(ctx, logrus.DebugLevel, "position.cascade.removed", logrus.Fields{
			"node_count":     len(nodeIDs),
			"position_count": len(rows),
		})
	}
	return len(rows), nil
}
