package domain

import (
	"errors"
	"fmt"
	"maps"

	"github.com/iota-uz/portfolio-master/pkg/bitemporal"
	"github.com/iota-uz/portfolio-master/pkg/constants"
	"github.com/iota-uz/portfolio-master/pkg/nestedset"
	"github.com/iota-uz/portfolio-master/pkg/uid"
)

const (
	EntityPortfolio = "portfolio"
	EntityNode      = "portfolio_node"
	EntityPosition  = "position"
	EntityTrade     = "trade"
)

var ErrEmptyTree = errors.New("portfolio has no root node")

// NodeData is the part of a node stored with every portfolio version.
type NodeData struct {
	Name string `json:"name" validate:"max=255"`
}

// PortfolioPayload is the content of one portfolio row: the portfolio fields
// and its complete node table. The table shares the row's instants and version.
type PortfolioPayload struct {
	Name       string                    `validate:"required,max=255"`
	Attributes map[string]string         `validate:"-"`
	Nodes      nestedset.Table[NodeData] `validate:"-"`
}

func (p PortfolioPayload) Validate() error {
	if p.Nodes.Len() == 0 {
		return ErrEmptyTree
	}
	if err := p.Nodes.Validate(); err != nil {
		return err
	}
	for _, n := range p.Nodes.Nodes() {
		if err := constants.Validate.Struct(n.Value); err != nil {
			return fmt.Errorf("node %d: %w", n.ID, err)
		}
	}
	return nil
}

func (p PortfolioPayload) RootNodeID() int64 {
	root, _ := p.Nodes.Root()
	return root.ID
}

// ClonePortfolioPayload copies the mutable parts of p. Tables are never
// modified in place, so they are shared.
func ClonePortfolioPayload(p PortfolioPayload) PortfolioPayload {
	p.Attributes = maps.Clone(p.Attributes)
	return p
}

// Portfolio is the caller-facing view of one portfolio row.
type Portfolio struct {
	UniqueID   uid.UniqueID      `json:"unique_id"`
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	RootNode   *PortfolioNode    `json:"root_node"`
}

// PortfolioNode is one node of a portfolio as of one portfolio version. Nodes
// without a UniqueID are new when submitted.
type PortfolioNode struct {
	UniqueID     uid.UniqueID     `json:"unique_id"`
	ParentNodeID uid.UniqueID     `json:"parent_node_id"`
	PortfolioID  uid.UniqueID     `json:"portfolio_id"`
	Name         string           `json:"name"`
	TreeLeft     int              `json:"tree_left"`
	TreeRight    int              `json:"tree_right"`
	Depth        int              `json:"depth"`
	ChildNodes   []*PortfolioNode `json:"child_nodes,omitempty"`
}

// Walk visits n and its descendants in pre-order until fn returns false.
func (n *PortfolioNode) Walk(fn func(*PortfolioNode) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	for _, c := range n.ChildNodes {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// Find returns the node with object id oid in n's subtree.
func (n *PortfolioNode) Find(oid uid.ObjectID) *PortfolioNode {
	var found *PortfolioNode
	n.Walk(func(c *PortfolioNode) bool {
		if c.UniqueID.ObjectID() == oid {
			found = c
			return false
		}
		return true
	})
	return found
}

// PortfolioDocument wraps a portfolio with its bitemporal bounds.
type PortfolioDocument struct {
	UniqueID  uid.UniqueID `json:"unique_id"`
	Portfolio *Portfolio   `json:"portfolio"`
	bitemporal.Instants
}

// PortfolioFromRow renders a stored row with ids in scheme.
func PortfolioFromRow(scheme string, row bitemporal.Row[PortfolioPayload]) *PortfolioDocument {
	portfolioUID := uid.NewUniqueID(scheme, row.ObjectID, row.VersionID)
	p := &Portfolio{
		UniqueID:   portfolioUID,
		Name:       row.Payload.Name,
		Attributes: maps.Clone(row.Payload.Attributes),
	}
	if tree := row.Payload.Nodes.Tree(); tree != nil {
		p.RootNode = nodeFromTree(scheme, portfolioUID, row.VersionID, tree)
	}
	return &PortfolioDocument{UniqueID: portfolioUID, Portfolio: p, Instants: row.Instants}
}

func nodeFromTree(scheme string, portfolioUID uid.UniqueID, version int64, t *nestedset.Tree[NodeData]) *PortfolioNode {
	n := &PortfolioNode{
		UniqueID:    uid.NewUniqueID(scheme, t.ID, version),
		PortfolioID: portfolioUID,
		Name:        t.Value.Name,
		TreeLeft:    t.Left,
		TreeRight:   t.Right,
		Depth:       t.Depth,
	}
	if t.ParentID != 0 {
		n.ParentNodeID = uid.NewUniqueID(scheme, t.ParentID, version)
	}
	for _, c := range t.Children {
		n.ChildNodes = append(n.ChildNodes, nodeFromTree(scheme, portfolioUID, version, c))
	}
	return n
}
