// Package optimizer rewrites assembled query trees so that provenance
// steps, metadata predicates, skips and limits sit as close to the data
// sources as their semantics allow.
//
// Every pass is total over node types (unknown shapes are left alone and
// recursed into), returns a new tree, and is idempotent.
package optimizer

import (
	"github.com/ivmfnal/metacat-sub001/internal/ast"
	"github.com/ivmfnal/metacat-sub001/internal/queryir"
)

// Options control optimization.
type Options struct {
	// MaxDNFTerms bounds the DNF produced when predicates are conjoined;
	// <= 0 means queryir.DefaultMaxTerms.
	MaxDNFTerms int

	// UnorderedLimit allows a limit over a union to be copied into every
	// branch. The outer limit is kept either way.
	UnorderedLimit bool
}

// Optimize runs provenance, predicate, skip and limit pushdown in that
// order.
func Optimize(n ast.Node, opts Options) (ast.Node, error) {
	n, err := PushProvenance(n)
	if err != nil {
		return nil, err
	}
	n, err = PushPredicates(n, opts.MaxDNFTerms)
	if err != nil {
		return nil, err
	}
	n, err = PushSkips(n)
	if err != nil {
		return nil, err
	}
	return PushLimits(n, opts.UnorderedLimit)
}

// PushProvenance distributes parents(...) and children(...) over union:
// parents(union(A, B)) becomes union(parents(A), parents(B)). Provenance
// does not distribute over join or minus, which are left alone.
func PushProvenance(n ast.Node) (ast.Node, error) {
	return ast.Ascend(n, func(n ast.Node) (ast.Node, error) {
		switch x := n.(type) {
		case *ast.ParentsOf:
			if u, ok := x.Child.(*ast.Union); ok {
				return distribute(u, func(c ast.Node) ast.Node { return &ast.ParentsOf{Child: c} }), nil
			}
		case *ast.ChildrenOf:
			if u, ok := x.Child.(*ast.Union); ok {
				return distribute(u, func(c ast.Node) ast.Node { return &ast.ChildrenOf{Child: c} }), nil
			}
		}
		return n, nil
	})
}

func distribute(u *ast.Union, wrap func(ast.Node) ast.Node) ast.Node {
	children := make([]ast.Node, len(u.Children))
	for i, c := range u.Children {
		children[i] = wrap(c)
	}
	return ast.NewUnion(children...)
}

// PushPredicates moves where clauses down the tree. A clause over union
// or join is copied to every operand, over minus it applies to the left
// operand only, and on reaching a data source without a limit or skip it
// is conjoined into the source's own filter. Anywhere else it stays as a
// MetaFilter directly above the node that stopped it.
func PushPredicates(n ast.Node, maxTerms int) (ast.Node, error) {
	p := predicatePusher{maxTerms: maxTerms}
	return ast.Descend(n, (*queryir.Or)(nil), p.descend)
}

type predicatePusher struct {
	maxTerms int
}

func (p predicatePusher) descend(n ast.Node, pending *queryir.Or, next func(ast.Node, *queryir.Or) (ast.Node, error)) (ast.Node, error) {
	switch x := n.(type) {
	case *ast.MetaFilter:
		where, err := queryir.AsDNF(x.Where, p.maxTerms)
		if err != nil {
			return nil, err
		}
		where, err = queryir.Conjoin(where, pending, p.maxTerms)
		if err != nil {
			return nil, err
		}
		return next(x.Child, where)

	case *ast.Union, *ast.Join:
		return ast.Default(n, pending, next)

	case *ast.Minus:
		left, err := next(x.Left, pending)
		if err != nil {
			return nil, err
		}
		right, err := next(x.Right, nil)
		if err != nil {
			return nil, err
		}
		return &ast.Minus{Left: left, Right: right}, nil

	case *ast.DataSource:
		if pending == nil {
			return n, nil
		}
		if x.Source.HasLimit() || x.Source.Skip > 0 {
			return &ast.MetaFilter{Child: n, Where: pending}, nil
		}
		src, err := x.Source.AddWhere(pending, p.maxTerms)
		if err != nil {
			return nil, err
		}
		return &ast.DataSource{Source: src}, nil
	}

	out, err := ast.Default(n, (*queryir.Or)(nil), next)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return out, nil
	}
	return &ast.MetaFilter{Child: out, Where: pending}, nil
}

// PushSkips merges nested skips and moves a skip into a data source that
// has no limit yet.
func PushSkips(n ast.Node) (ast.Node, error) {
	return ast.Ascend(n, func(n ast.Node) (ast.Node, error) {
		x, ok := n.(*ast.Skip)
		if !ok {
			return n, nil
		}
		switch c := x.Child.(type) {
		case *ast.Skip:
			return &ast.Skip{Child: c.Child, N: c.N + x.N}, nil
		case *ast.DataSource:
			if !c.Source.HasLimit() {
				return &ast.DataSource{Source: c.Source.AddSkip(x.N)}, nil
			}
		}
		return n, nil
	})
}

// PushLimits merges a limit into the data source or limit directly below
// it, keeping the smaller value. With unordered set, a limit over a union
// is also copied into each branch while the outer limit stays in place.
func PushLimits(n ast.Node, unordered bool) (ast.Node, error) {
	return ast.Ascend(n, func(n ast.Node) (ast.Node, error) {
		x, ok := n.(*ast.Limit)
		if !ok {
			return n, nil
		}
		child, count := x.Child, x.N
		if inner, ok := child.(*ast.Limit); ok {
			child, count = inner.Child, min(inner.N, count)
		}
		if u, ok := child.(*ast.Union); ok && unordered {
			children := make([]ast.Node, len(u.Children))
			for i, c := range u.Children {
				children[i] = limit(c, count)
			}
			return &ast.Limit{Child: &ast.Union{Children: children}, N: count}, nil
		}
		return limit(child, count), nil
	})
}

// limit applies limit n to c as cheaply as possible.
func limit(c ast.Node, n int) ast.Node {
	switch x := c.(type) {
	case *ast.DataSource:
		return &ast.DataSource{Source: x.Source.AddLimit(n)}
	case *ast.Limit:
		return &ast.Limit{Child: x.Child, N: min(x.N, n)}
	}
	return &ast.Limit{Child: c, N: n}
}
