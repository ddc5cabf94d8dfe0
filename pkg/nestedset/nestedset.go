// Package nestedset encodes one tree as (left, right, depth) ranges over a flat
// table. Every edit is a pure function: it returns a new Table and leaves the
// receiver untouched.
package nestedset

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrNodeNotFound  = errors.New("nestedset: node not found")
	ErrDuplicateNode = errors.New("nestedset: duplicate node id")
	ErrCycle         = errors.New("nestedset: node cannot move below itself")
	ErrInvalid       = errors.New("nestedset: invalid table")
)

// Node is one row of the table. ParentID is zero for the root.
type Node[T any] struct {
	ID       int64
	ParentID int64
	Left     int
	Right    int
	Depth    int
	Value    T
}

// Width is the number of bounds the node's subtree occupies.
func (n Node[T]) Width() int {
	return n.Right - n.Left + 1
}

// Size is the number of nodes in the node's subtree.
func (n Node[T]) Size() int {
	return n.Width() / 2
}

func (n Node[T]) Encloses(other Node[T]) bool {
	return n.Left < other.Left && other.Right < n.Right
}

// Table is the nested-set encoding of one tree, ordered by Left.
type Table[T any] struct {
	nodes []Node[T]
}

// New builds a table from rows in any order and validates it.
func New[T any](nodes []Node[T]) (Table[T], error) {
	t := Table[T]{nodes: slices.Clone(nodes)}
	t.sort()
	if err := t.Validate(); err != nil {
		return Table[T]{}, err
	}
	return t, nil
}

// Load orders rows by left bound without validating them. Stores read tables
// with it so that drifted bounds can still be read and repaired with Renumber.
func Load[T any](nodes []Node[T]) Table[T] {
	t := Table[T]{nodes: slices.Clone(nodes)}
	t.sort()
	return t
}

func (t *Table[T]) sort() {
	slices.SortFunc(t.nodes, func(a, b Node[T]) int { return a.Left - b.Left })
}

func (t Table[T]) Len() int {
	return len(t.nodes)
}

// Nodes returns a copy of the rows in pre-order.
func (t Table[T]) Nodes() []Node[T] {
	return slices.Clone(t.nodes)
}

func (t Table[T]) IDs() []int64 {
	ids := make([]int64, len(t.nodes))
	for i, n := range t.nodes {
		ids[i] = n.ID
	}
	return ids
}

func (t Table[T]) Root() (Node[T], bool) {
	if len(t.nodes) == 0 {
		return Node[T]{}, false
	}
	return t.nodes[0], true
}

func (t Table[T]) index(id int64) int {
	return slices.IndexFunc(t.nodes, func(n Node[T]) bool { return n.ID == id })
}

func (t Table[T]) Get(id int64) (Node[T], bool) {
	i := t.index(id)
	if i < 0 {
		return Node[T]{}, false
	}
	return t.nodes[i], true
}

func (t Table[T]) Has(id int64) bool {
	return t.index(id) >= 0
}

// span returns the node and its descendants in pre-order as a slice of the table.
func (t Table[T]) span(id int64) ([]Node[T], bool) {
	i := t.index(id)
	if i < 0 {
		return nil, false
	}
	end := i + 1
	for end < len(t.nodes) && t.nodes[end].Left < t.nodes[i].Right {
		end++
	}
	return t.nodes[i:end], true
}

// Descendants returns every node strictly below id in pre-order.
func (t Table[T]) Descendants(id int64) []Node[T] {
	s, ok := t.span(id)
	if !ok {
		return nil
	}
	return slices.Clone(s[1:])
}

// SubtreeIDs returns id and the ids of its descendants.
func (t Table[T]) SubtreeIDs(id int64) []int64 {
	s, _ := t.span(id)
	ids := make([]int64, len(s))
	for i, n := range s {
		ids[i] = n.ID
	}
	return ids
}

func (t Table[T]) Children(id int64) []Node[T] {
	var out []Node[T]
	for _, n := range t.Descendants(id) {
		if n.ParentID == id {
			out = append(out, n)
		}
	}
	return out
}

// IsDescendant reports whether id lies strictly below ancestor.
func (t Table[T]) IsDescendant(ancestor, id int64) bool {
	a, okA := t.Get(ancestor)
	n, okN := t.Get(id)
	return okA && okN && a.Encloses(n)
}

// Subtree extracts id's subtree as a standalone table rooted at left 1, depth 0.
func (t Table[T]) Subtree(id int64) (Table[T], error) {
	s, ok := t.span(id)
	if !ok {
		return Table[T]{}, fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	root := s[0]
	out := make([]Node[T], len(s))
	for i, n := range s {
		n.Left -= root.Left - 1
		n.Right -= root.Left - 1
		n.Depth -= root.Depth
		if i == 0 {
			n.ParentID = 0
		}
		out[i] = n
	}
	return Table[T]{nodes: out}, nil
}

// Map returns a table with the same shape and values transformed by fn.
func Map[T, U any](t Table[T], fn func(Node[T]) U) Table[U] {
	out := make([]Node[U], len(t.nodes))
	for i, n := range t.nodes {
		out[i] = Node[U]{ID: n.ID, ParentID: n.ParentID, Left: n.Left, Right: n.Right, Depth: n.Depth, Value: fn(n)}
	}
	return Table[U]{nodes: out}
}

// SameShape reports whether both tables hold the same ids with the same links and bounds.
func (t Table[T]) SameShape(other Table[T]) bool {
	return slices.EqualFunc(t.nodes, other.nodes, func(a, b Node[T]) bool {
		return a.ID == b.ID && a.ParentID == b.ParentID && a.Left == b.Left && a.Right == b.Right && a.Depth == b.Depth
	})
}

// Validate checks that bounds are exactly 1..2n, every node lies inside its
// parent's range, siblings are disjoint, and depth follows the parent links.
func (t Table[T]) Validate() error {
	if len(t.nodes) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(t.nodes))
	bounds := make([]bool, 2*len(t.nodes)+1)
	mark := func(b int) error {
		if b < 1 || b >= len(bounds) || bounds[b] {
			return fmt.Errorf("%w: bound %d out of range or reused", ErrInvalid, b)
		}
		bounds[b] = true
		return nil
	}
	var stack []Node[T]
	for i, n := range t.nodes {
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("%w: %d", ErrDuplicateNode, n.ID)
		}
		seen[n.ID] = struct{}{}
		if n.ID == 0 {
			return fmt.Errorf("%w: node id 0 is reserved", ErrInvalid)
		}
		if n.Left >= n.Right || (n.Right-n.Left)%2 == 0 {
			return fmt.Errorf("%w: node %d has bounds %d..%d", ErrInvalid, n.ID, n.Left, n.Right)
		}
		if err := mark(n.Left); err != nil {
			return err
		}
		if err := mark(n.Right); err != nil {
			return err
		}
		for len(stack) > 0 && stack[len(stack)-1].Right < n.Left {
			stack = stack[:len(stack)-1]
		}
		if i == 0 {
			if n.ParentID != 0 || n.Depth != 0 || n.Left != 1 {
				return fmt.Errorf("%w: root %d must have no parent, depth 0 and left 1", ErrInvalid, n.ID)
			}
		} else {
			if len(stack) == 0 {
				return fmt.Errorf("%w: node %d lies outside the root", ErrInvalid, n.ID)
			}
			parent := stack[len(stack)-1]
			if parent.ID != n.ParentID || !parent.Encloses(n) {
				return fmt.Errorf("%w: node %d is not enclosed by its parent %d", ErrInvalid, n.ID, n.ParentID)
			}
			if n.Depth != parent.Depth+1 {
				return fmt.Errorf("%w: node %d has depth %d under a parent of depth %d", ErrInvalid, n.ID, n.Depth, parent.Depth)
			}
		}
		stack = append(stack, n)
	}
	return nil
}
