package nestedset

import (
	"fmt"
	"slices"
)

// InsertSubtree places sub as the last child of parentID. Existing bounds at or
// past the parent's right bound shift by the width of sub. Inserting into an empty
// table with parentID zero makes sub the whole tree.
func (t Table[T]) InsertSubtree(parentID int64, sub Table[T]) (Table[T], error) {
	if sub.Len() == 0 {
		return t, nil
	}
	subRoot := sub.nodes[0]
	if len(t.nodes) == 0 && parentID == 0 {
		out, err := sub.Subtree(subRoot.ID)
		if err != nil {
			return Table[T]{}, err
		}
		return out, nil
	}
	parent, ok := t.Get(parentID)
	if !ok {
		return Table[T]{}, fmt.Errorf("%w: parent %d", ErrNodeNotFound, parentID)
	}
	for _, n := range sub.nodes {
		if t.Has(n.ID) {
			return Table[T]{}, fmt.Errorf("%w: %d", ErrDuplicateNode, n.ID)
		}
	}

	point := parent.Right
	width := 2 * sub.Len()
	out := make([]Node[T], 0, len(t.nodes)+sub.Len())
	for _, n := range t.nodes {
		if n.Left >= point {
			n.Left += width
		}
		if n.Right >= point {
			n.Right += width
		}
		out = append(out, n)
	}
	offset := point - subRoot.Left
	for i, n := range sub.nodes {
		n.Left += offset
		n.Right += offset
		n.Depth += parent.Depth + 1 - subRoot.Depth
		if i == 0 {
			n.ParentID = parentID
		}
		out = append(out, n)
	}
	res := Table[T]{nodes: out}
	res.sort()
	return res, nil
}

// RemoveSubtree drops id and its descendants and closes the gap they leave. The
// removed ids are returned in pre-order so callers can cascade to what they own.
func (t Table[T]) RemoveSubtree(id int64) (Table[T], []int64, error) {
	target, ok := t.Get(id)
	if !ok {
		return Table[T]{}, nil, fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	width := target.Width()
	removed := make([]int64, 0, target.Size())
	out := make([]Node[T], 0, len(t.nodes)-target.Size())
	for _, n := range t.nodes {
		if n.Left >= target.Left && n.Right <= target.Right {
			removed = append(removed, n.ID)
			continue
		}
		if n.Left > target.Right {
			n.Left -= width
		}
		if n.Right > target.Right {
			n.Right -= width
		}
		out = append(out, n)
	}
	return Table[T]{nodes: out}, removed, nil
}

// Move re-parents id under newParentID as its last child, by removing the subtree
// and inserting it again.
func (t Table[T]) Move(id, newParentID int64) (Table[T], error) {
	node, ok := t.Get(id)
	if !ok {
		return Table[T]{}, fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	if node.ParentID == 0 {
		return Table[T]{}, fmt.Errorf("%w: the root cannot be moved", ErrCycle)
	}
	if id == newParentID || t.IsDescendant(id, newParentID) {
		return Table[T]{}, fmt.Errorf("%w: %d under %d", ErrCycle, id, newParentID)
	}
	sub, err := t.Subtree(id)
	if err != nil {
		return Table[T]{}, err
	}
	rest, _, err := t.RemoveSubtree(id)
	if err != nil {
		return Table[T]{}, err
	}
	return rest.InsertSubtree(newParentID, sub)
}

// Renumber re-derives every bound and depth from the parent links by a pre-order
// walk. Siblings keep their current left-to-right order.
func (t Table[T]) Renumber() (Table[T], error) {
	if len(t.nodes) == 0 {
		return t, nil
	}
	ordered := slices.Clone(t.nodes)
	slices.SortStableFunc(ordered, func(a, b Node[T]) int { return a.Left - b.Left })

	children := make(map[int64][]Node[T], len(ordered))
	ids := make(map[int64]struct{}, len(ordered))
	var roots []Node[T]
	for _, n := range ordered {
		if _, dup := ids[n.ID]; dup {
			return Table[T]{}, fmt.Errorf("%w: %d", ErrDuplicateNode, n.ID)
		}
		ids[n.ID] = struct{}{}
	}
	for _, n := range ordered {
		if n.ParentID == 0 {
			roots = append(roots, n)
			continue
		}
		if _, ok := ids[n.ParentID]; !ok {
			return Table[T]{}, fmt.Errorf("%w: node %d has unknown parent %d", ErrInvalid, n.ID, n.ParentID)
		}
		children[n.ParentID] = append(children[n.ParentID], n)
	}
	if len(roots) != 1 {
		return Table[T]{}, fmt.Errorf("%w: %d roots", ErrInvalid, len(roots))
	}

	out := make([]Node[T], 0, len(ordered))
	counter := 1
	var walk func(n Node[T], depth int)
	walk = func(n Node[T], depth int) {
		n.Left = counter
		n.Depth = depth
		counter++
		idx := len(out)
		out = append(out, n)
		for _, c := range children[n.ID] {
			walk(c, depth+1)
		}
		out[idx].Right = counter
		counter++
	}
	walk(roots[0], 0)
	if len(out) != len(ordered) {
		return Table[T]{}, fmt.Errorf("%w: %d nodes unreachable from the root", ErrInvalid, len(ordered)-len(out))
	}
	return Table[T]{nodes: out}, nil
}
