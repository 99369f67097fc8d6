// Package compiler turns raw parse trees into canonical query trees.
//
// Convert resolves namespaces, binds parameters and normalizes metadata
// expressions. Assemble inlines named queries and checks filter names.
// Both build new trees; their input is never modified.
package compiler

import (
	"github.com/ivmfnal/metacat-sub001/internal/ast"
	"github.com/ivmfnal/metacat-sub001/internal/ir"
	"github.com/ivmfnal/metacat-sub001/internal/qerr"
	"github.com/ivmfnal/metacat-sub001/internal/queryir"
)

// NamespaceParam is the scope binding that sets the default namespace.
const NamespaceParam = "namespace"

// Options control conversion.
type Options struct {
	// DefaultNamespace applies to names no enclosing scope qualifies.
	DefaultNamespace string

	// MaxDNFTerms bounds DNF expansion; <= 0 means
	// queryir.DefaultMaxTerms.
	MaxDNFTerms int

	// Params are bound ahead of every with prologue.
	Params map[string]ir.Value
}

// scope is the context Convert threads top-down.
type scope struct {
	namespace string
	params    map[string]ir.Value
}

type converter struct {
	opts Options
}

// Convert rewrites a raw tree into canonical form:
//   - Scope nodes are removed and their bindings applied below them;
//   - every dataset selector, DID and named query reference gets a
//     namespace (NAMESPACE_ERROR if none applies);
//   - $params are replaced by their values (UNBOUND_PARAMETER if none);
//   - BasicFileQuery becomes DataSource;
//   - metadata expressions become DNF (QUERY_TOO_COMPLEX past the bound),
//     with range and regex operands type-checked (TYPE_MISMATCH) and
//     reserved column names checked (UNKNOWN_ATTRIBUTE);
//   - nested union and join nodes are flattened.
//
// NamedQuery nodes stay in place for Assemble.
func Convert(raw ast.Node, opts Options) (ast.Node, error) {
	c := &converter{opts: opts}
	return ast.Descend(raw, scope{namespace: opts.DefaultNamespace}, c.descend)
}

func (c *converter) descend(n ast.Node, sc scope, next func(ast.Node, scope) (ast.Node, error)) (ast.Node, error) {
	switch x := n.(type) {
	case *ast.Scope:
		inner, err := c.enter(sc, x.Params)
		if err != nil {
			return nil, err
		}
		return next(x.Child, inner)

	case *ast.BasicFileQuery:
		q, err := c.datasets(x.Datasets, x.Having, sc)
		if err != nil {
			return nil, err
		}
		return &ast.DataSource{Source: queryir.NewDataSource(q)}, nil

	case *ast.DataSource:
		q, err := c.datasets(x.Source.Datasets, nil, sc)
		if err != nil {
			return nil, err
		}
		src := x.Source
		src.Datasets = q
		return &ast.DataSource{Source: src}, nil

	case *ast.DatasetQuery:
		q, err := c.datasets(x.Query, x.Having, sc)
		if err != nil {
			return nil, err
		}
		return &ast.DatasetQuery{Query: q}, nil

	case *ast.FileList:
		dids := make([]ir.DID, len(x.DIDs))
		for i, d := range x.DIDs {
			ns, err := c.namespace(d.Namespace, d.Name, sc)
			if err != nil {
				return nil, err
			}
			dids[i] = ir.DID{Namespace: ns, Name: d.Name}
		}
		return &ast.FileList{DIDs: dids}, nil

	case *ast.NamedQuery:
		ns, err := c.namespace(x.Namespace, x.Name, sc)
		if err != nil {
			return nil, err
		}
		args, err := c.bindings(x.Args, sc)
		if err != nil {
			return nil, err
		}
		return &ast.NamedQuery{Namespace: ns, Name: x.Name, Args: args}, nil

	case *ast.Filter:
		args := make([]ir.Value, len(x.Args))
		for i, a := range x.Args {
			v, err := c.value(a, sc)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		kwargs, err := c.bindings(x.Kwargs, sc)
		if err != nil {
			return nil, err
		}
		return ast.Default(&ast.Filter{Name: x.Name, Args: args, Kwargs: kwargs, Inputs: x.Inputs}, sc, next)

	case *ast.MetaFilter:
		where, err := c.expr(x.Where, queryir.FileScope, sc)
		if err != nil {
			return nil, err
		}
		child, err := next(x.Child, sc)
		if err != nil {
			return nil, err
		}
		return &ast.MetaFilter{Child: child, Where: where}, nil
	}
	return ast.Default(n, sc, next)
}

// enter applies a with prologue. Values may reference outer parameters.
func (c *converter) enter(outer scope, bindings []ast.Binding) (scope, error) {
	inner := scope{namespace: outer.namespace, params: make(map[string]ir.Value, len(outer.params)+len(bindings))}
	for k, v := range outer.params {
		inner.params[k] = v
	}
	for _, b := range bindings {
		v, err := c.value(b.Value, outer)
		if err != nil {
			return scope{}, err
		}
		if b.Name == NamespaceParam {
			s, ok := v.(ir.String)
			if !ok {
				return scope{}, qerr.New(qerr.CodeTypeMismatch, "namespace must be a string, got %s", v.Literal())
			}
			inner.namespace = string(s)
			continue
		}
		inner.params[b.Name] = v
	}
	return inner, nil
}

func (c *converter) namespace(ns, what string, sc scope) (string, error) {
	if ns != "" {
		return ns, nil
	}
	if sc.namespace == "" {
		return "", qerr.New(qerr.CodeNamespace, "no namespace for %s and no default namespace", what)
	}
	return sc.namespace, nil
}

func (c *converter) datasets(q queryir.DatasetQuery, having queryir.BoolExpr, sc scope) (queryir.DatasetQuery, error) {
	out := q
	out.Selectors = make([]queryir.DatasetSelector, len(q.Selectors))
	for i, s := range q.Selectors {
		ns, err := c.namespace(s.Namespace, s.String(), sc)
		if err != nil {
			return out, err
		}
		s.Namespace = ns
		if _, err := s.Compile(); err != nil {
			return out, err
		}
		out.Selectors[i] = s
	}
	if having != nil {
		h, err := c.expr(having, queryir.DatasetScope, sc)
		if err != nil {
			return out, err
		}
		conj, err := queryir.Conjoin(out.Having, h, c.opts.MaxDNFTerms)
		if err != nil {
			return out, err
		}
		out.Having = conj
	}
	return out, nil
}

func (c *converter) bindings(in []ast.Binding, sc scope) ([]ast.Binding, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]ast.Binding, len(in))
	for i, b := range in {
		v, err := c.value(b.Value, sc)
		if err != nil {
			return nil, err
		}
		out[i] = ast.Binding{Name: b.Name, Value: v}
	}
	return out, nil
}

// value resolves a $param. Caller-supplied parameters win over scopes.
func (c *converter) value(v ir.Value, sc scope) (ir.Value, error) {
	p, ok := v.(ir.Param)
	if !ok {
		return v, nil
	}
	if bound, ok := c.opts.Params[string(p)]; ok {
		return bound, nil
	}
	if bound, ok := sc.params[string(p)]; ok {
		return bound, nil
	}
	return nil, qerr.New(qerr.CodeUnboundParameter, "parameter %s is not bound", p.Literal())
}

// expr binds, checks and normalizes a metadata expression evaluated
// against records of attrs.
func (c *converter) expr(e queryir.BoolExpr, attrs queryir.Scope, sc scope) (*queryir.Or, error) {
	bound, err := queryir.MapTerms(e, func(t queryir.Term) (queryir.Term, error) {
		if _, _, err := attrs.CheckTerm(t); err != nil {
			return nil, err
		}
		return c.term(t, sc)
	})
	if err != nil {
		return nil, err
	}
	return queryir.Normalize(bound, c.opts.MaxDNFTerms)
}

func (c *converter) term(t queryir.Term, sc scope) (queryir.Term, error) {
	switch x := t.(type) {
	case *queryir.Cmp:
		v, err := c.value(x.Value, sc)
		if err != nil {
			return nil, err
		}
		if x.Op.IsRegex() {
			if _, ok := v.(ir.String); !ok {
				return nil, qerr.New(qerr.CodeTypeMismatch, "%s %s needs a string pattern, got %s", x.Attr, x.Op, v.Literal())
			}
		}
		out := *x
		out.Value = v
		return &out, nil
	case *queryir.InRange:
		low, err := c.value(x.Low, sc)
		if err != nil {
			return nil, err
		}
		high, err := c.value(x.High, sc)
		if err != nil {
			return nil, err
		}
		if !ir.SameKind(low, high) {
			return nil, qerr.New(qerr.CodeTypeMismatch, "range %s:%s mixes types", low.Literal(), high.Literal())
		}
		out := *x
		out.Low, out.High = low, high
		return &out, nil
	case *queryir.InSet:
		out := *x
		out.Values = make([]ir.Value, len(x.Values))
		for i, v := range x.Values {
			bound, err := c.value(v, sc)
			if err != nil {
				return nil, err
			}
			out.Values[i] = bound
		}
		return &out, nil
	}
	return t, nil
}
