package nestedset

import "fmt"

// Tree is the pointer form of a table, used to declare trees and to hand them to callers.
type Tree[T any] struct {
	Node[T]
	Children []*Tree[T]
}

// Build assigns bounds to a declared tree by pre-order walk. Only ID and Value of
// the declared nodes are read.
func Build[T any](root *Tree[T]) (Table[T], error) {
	if root == nil {
		return Table[T]{}, nil
	}
	var (
		out     []Node[T]
		seen    = map[int64]struct{}{}
		counter = 1
		walk    func(t *Tree[T], parentID int64, depth int) error
	)
	walk = func(t *Tree[T], parentID int64, depth int) error {
		if t.ID == 0 {
			return fmt.Errorf("%w: node id 0 is reserved", ErrInvalid)
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("%w: %d", ErrDuplicateNode, t.ID)
		}
		seen[t.ID] = struct{}{}
		idx := len(out)
		out = append(out, Node[T]{ID: t.ID, ParentID: parentID, Left: counter, Depth: depth, Value: t.Value})
		counter++
		for _, c := range t.Children {
			if c == nil {
				continue
			}
			if err := walk(c, t.ID, depth+1); err != nil {
				return err
			}
		}
		out[idx].Right = counter
		counter++
		return nil
	}
	if err := walk(root, 0, 0); err != nil {
		return Table[T]{}, err
	}
	return Table[T]{nodes: out}, nil
}

// Tree rebuilds the pointer form with a single left-ordered pass: a node's parent
// is the nearest enclosing node still on the stack.
func (t Table[T]) Tree() *Tree[T] {
	if len(t.nodes) == 0 {
		return nil
	}
	var (
		root  *Tree[T]
		stack []*Tree[T]
	)
	for _, n := range t.nodes {
		node := &Tree[T]{Node: n}
		for len(stack) > 0 && n.Left > stack[len(stack)-1].Right {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			root = node
		} else {
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, node)
		}
		stack = append(stack, node)
	}
	return root
}
