package ast

import "fmt"

// Children returns the direct children of n in evaluation order.
func Children(n Node) []Node {
	switch x := n.(type) {
	case *Union:
		return x.Children
	case *Join:
		return x.Children
	case *Minus:
		return []Node{x.Left, x.Right}
	case *ParentsOf:
		return []Node{x.Child}
	case *ChildrenOf:
		return []Node{x.Child}
	case *MetaFilter:
		return []Node{x.Child}
	case *Limit:
		return []Node{x.Child}
	case *Skip:
		return []Node{x.Child}
	case *Filter:
		return x.Inputs
	case *Scope:
		return []Node{x.Child}
	}
	return nil
}

// MapChildren returns a shallow copy of n with each child replaced by
// f(child). Leaves are returned as is. Union and Join results are
// re-flattened.
func MapChildren(n Node, f func(Node) (Node, error)) (Node, error) {
	mapAll := func(nodes []Node) ([]Node, error) {
		out := make([]Node, len(nodes))
		for i, c := range nodes {
			m, err := f(c)
			if err != nil {
				return nil, err
			}
			out[i] = m
		}
		return out, nil
	}

	switch x := n.(type) {
	case *Union:
		children, err := mapAll(x.Children)
		if err != nil {
			return nil, err
		}
		return NewUnion(children...), nil
	case *Join:
		children, err := mapAll(x.Children)
		if err != nil {
			return nil, err
		}
		return NewJoin(children...), nil
	case *Minus:
		left, err := f(x.Left)
		if err != nil {
			return nil, err
		}
		right, err := f(x.Right)
		if err != nil {
			return nil, err
		}
		return &Minus{Left: left, Right: right}, nil
	case *ParentsOf:
		child, err := f(x.Child)
		if err != nil {
			return nil, err
		}
		return &ParentsOf{Child: child}, nil
	case *ChildrenOf:
		child, err := f(x.Child)
		if err != nil {
			return nil, err
		}
		return &ChildrenOf{Child: child}, nil
	case *MetaFilter:
		child, err := f(x.Child)
		if err != nil {
			return nil, err
		}
		return &MetaFilter{Child: child, Where: x.Where}, nil
	case *Limit:
		child, err := f(x.Child)
		if err != nil {
			return nil, err
		}
		return &Limit{Child: child, N: x.N}, nil
	case *Skip:
		child, err := f(x.Child)
		if err != nil {
			return nil, err
		}
		return &Skip{Child: child, N: x.N}, nil
	case *Filter:
		inputs, err := mapAll(x.Inputs)
		if err != nil {
			return nil, err
		}
		return &Filter{Name: x.Name, Args: x.Args, Kwargs: x.Kwargs, Inputs: inputs}, nil
	case *Scope:
		child, err := f(x.Child)
		if err != nil {
			return nil, err
		}
		return &Scope{Params: x.Params, Child: child}, nil
	case *NamedQuery, *BasicFileQuery, *DataSource, *DatasetQuery, *FileList, *FIDList:
		return n, nil
	case nil:
		return nil, fmt.Errorf("nil node")
	}
	return nil, fmt.Errorf("unknown node type %T", n)
}

// Ascender rewrites one node whose children were already rewritten.
type Ascender func(Node) (Node, error)

// Ascend rewrites the tree bottom-up: each node's children are rewritten
// first, then f receives the rebuilt node and returns its replacement.
func Ascend(n Node, f Ascender) (Node, error) {
	rebuilt, err := MapChildren(n, func(c Node) (Node, error) {
		return Ascend(c, f)
	})
	if err != nil {
		return nil, err
	}
	return f(rebuilt)
}

// Descender rewrites one node. It receives the context inherited from the
// parent and decides how to recurse: calling next(child, ctx) rewrites a
// child with that context. Returning Default(n, ctx, next) applies the
// structural default of passing ctx unchanged to every child.
type Descender[C any] func(n Node, ctx C, next func(Node, C) (Node, error)) (Node, error)

// Descend rewrites the tree top-down, threading a context value.
func Descend[C any](n Node, ctx C, d Descender[C]) (Node, error) {
	var next func(Node, C) (Node, error)
	next = func(child Node, c C) (Node, error) {
		return d(child, c, next)
	}
	return next(n, ctx)
}

// Default is the structural rewrite for Descend: every child gets ctx.
func Default[C any](n Node, ctx C, next func(Node, C) (Node, error)) (Node, error) {
	return MapChildren(n, func(c Node) (Node, error) {
		return next(c, ctx)
	})
}

// Visitor inspects one node. Returning false skips the node's children.
type Visitor func(Node) bool

// Walk visits the tree depth-first, left to right, in pre-order.
func Walk(n Node, v Visitor) {
	if n == nil || !v(n) {
		return
	}
	for _, c := range Children(n) {
		Walk(c, v)
	}
}
