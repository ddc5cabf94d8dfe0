package services

import (
	"context"
	"errors"
	"slices"

	"github.com/iota-uz/portfolio-master/modules/portfolio/domain"
	"github.com/iota-uz/portfolio-master/pkg/bitemporal"
	"github.com/iota-uz/portfolio-master/pkg/nestedset"
)

// declaredTable turns a submitted node tree into a node table. Submitted nodes
// that carry a unique id keep its object id and must exist in stored; nodes
// without one get fresh ids from the shared sequence. stored is nil for a new
// portfolio.
func (m *Master) declaredTable(ctx context.Context, stored *nestedset.Table[domain.NodeData], root *domain.PortfolioNode) (nestedset.Table[domain.NodeData], error) {
	if root == nil {
		return nestedset.Table[domain.NodeData]{}, bitemporal.Validation(bitemporal.Code(domain.EntityPortfolio, "INVALID_BODY"), "portfolio needs a root node")
	}
	tree, err := m.declaredTree(ctx, stored, root)
	if err != nil {
		return nestedset.Table[domain.NodeData]{}, err
	}
	table, err := nestedset.Build(tree)
	if err != nil {
		return nestedset.Table[domain.NodeData]{}, treeError(err)
	}
	return table, nil
}

func (m *Master) declaredTree(ctx context.Context, stored *nestedset.Table[domain.NodeData], n *domain.PortfolioNode) (*nestedset.Tree[domain.NodeData], error) {
	id, err := m.nodeObjectID(ctx, stored, n)
	if err != nil {
		return nil, err
	}
	t := &nestedset.Tree[domain.NodeData]{Node: nestedset.Node[domain.NodeData]{ID: id, Value: domain.NodeData{Name: n.Name}}}
	for _, c := range n.ChildNodes {
		if c == nil {
			continue
		}
		child, err := m.declaredTree(ctx, stored, c)
		if err != nil {
			return nil, err
		}
		t.Children = append(t.Children, child)
	}
	return t, nil
}

func (m *Master) nodeObjectID(ctx context.Context, stored *nestedset.Table[domain.NodeData], n *domain.PortfolioNode) (int64, error) {
	if n.UniqueID.IsZero() {
		return m.portfolioRepo.NextObjectID(ctx)
	}
	id, err := objectIDOf(domain.EntityNode, m.opts.PortfolioScheme, n.UniqueID.ObjectID())
	if err != nil {
		return 0, err
	}
	if stored == nil || !stored.Has(id) {
		return 0, bitemporal.Validation(bitemporal.Code(domain.EntityNode, "NOT_IN_PORTFOLIO"),
			"node %s is not part of the portfolio version being edited", n.UniqueID.ObjectID().String())
	}
	return id, nil
}

// droppedNodes lists the ids of before that are absent from after.
func droppedNodes(before, after nestedset.Table[domain.NodeData]) []int64 {
	var out []int64
	for _, id := range before.IDs() {
		if !after.Has(id) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// treeError maps nested-set failures onto the master's error kinds.
func treeError(err error) error {
	code := bitemporal.Code(domain.EntityNode, "INVALID_TREE")
	switch {
	case errors.Is(err, nestedset.ErrNodeNotFound):
		return bitemporal.NotFound(bitemporal.Code(domain.EntityNode, "NOT_FOUND"), "%v", err)
	case errors.Is(err, nestedset.ErrCycle):
		return bitemporal.ValidationCause(bitemporal.Code(domain.EntityNode, "CYCLE"), "node cannot move below itself", err)
	case errors.Is(err, nestedset.ErrDuplicateNode):
		return bitemporal.ValidationCause(code, "node appears twice in the tree", err)
	default:
		return bitemporal.ValidationCause(code, "invalid portfolio tree", err)
	}
}
