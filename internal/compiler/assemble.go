package compiler

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"slices"

	"github.com/ivmfnal/metacat-sub001/internal/ast"
	"github.com/ivmfnal/metacat-sub001/internal/ir"
	"github.com/ivmfnal/metacat-sub001/internal/parser"
	"github.com/ivmfnal/metacat-sub001/internal/qerr"
)

// QueryStore looks up stored named queries.
type QueryStore interface {
	GetQuery(ctx context.Context, namespace, name string) (ir.NamedQuery, bool, error)
}

// FilterResolver reports whether a filter name is registered.
type FilterResolver interface {
	HasFilter(name string) bool
}

// Assembler inlines named query references into a converted tree.
type Assembler struct {
	queries QueryStore
	filters FilterResolver
	opts    Options
	logger  *slog.Logger
}

// NewAssembler creates an Assembler. A nil queries store makes every
// reference UNKNOWN_NAMED_QUERY; a nil filters resolver accepts every
// filter name. A nil logger discards output.
func NewAssembler(queries QueryStore, filters FilterResolver, opts Options, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Assembler{queries: queries, filters: filters, opts: opts, logger: logger}
}

// refPath is the chain of named queries being inlined, outermost first.
type refPath []string

// push appends key, failing with CYCLIC_QUERY if key is already on the
// chain. The receiver is never modified.
func (p refPath) push(key string) (refPath, error) {
	if i := slices.Index(p, key); i >= 0 {
		cycle := append(slices.Clone(p[i:]), key)
		return nil, qerr.Cycle(cycle)
	}
	return append(slices.Clip(p), key), nil
}

// Assemble replaces every NamedQuery node of a converted tree with the
// converted body of the stored query, recursively, and checks every
// filter name.
//
// A referenced body is converted with the query's namespace as default
// and with its stored parameter defaults overridden by the reference's
// arguments; both beat bindings of the body's own with prologue.
// The first cycle found in left-to-right order fails with CYCLIC_QUERY
// carrying the reference chain.
func (a *Assembler) Assemble(ctx context.Context, n ast.Node) (ast.Node, error) {
	return ast.Descend(n, refPath(nil), func(n ast.Node, path refPath, next func(ast.Node, refPath) (ast.Node, error)) (ast.Node, error) {
		switch x := n.(type) {
		case *ast.NamedQuery:
			return a.inline(ctx, x, path, next)
		case *ast.Filter:
			if a.filters != nil && !a.filters.HasFilter(x.Name) {
				return nil, qerr.New(qerr.CodeUnknownFilter, "unknown filter %q", x.Name)
			}
		}
		return ast.Default(n, path, next)
	})
}

func (a *Assembler) inline(ctx context.Context, ref *ast.NamedQuery, path refPath, next func(ast.Node, refPath) (ast.Node, error)) (ast.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, qerr.Cancelled(err)
	}

	did := ir.DID{Namespace: ref.Namespace, Name: ref.Name}
	key := did.String()
	inner, err := path.push(key)
	if err != nil {
		return nil, err
	}

	if a.queries == nil {
		return nil, qerr.New(qerr.CodeUnknownNamedQuery, "unknown named query %s", key)
	}
	stored, found, err := a.queries.GetQuery(ctx, ref.Namespace, ref.Name)
	if err != nil {
		return nil, qerr.Store(err, "get query "+key)
	}
	if !found {
		return nil, qerr.New(qerr.CodeUnknownNamedQuery, "unknown named query %s", key)
	}

	raw, err := parser.Parse(stored.Source)
	if err != nil {
		if qe, ok := err.(*qerr.Error); ok {
			qe.Path = append(slices.Clone(inner), qe.Path...)
		}
		return nil, err
	}

	params := maps.Clone(stored.Params)
	if params == nil {
		params = make(map[string]ir.Value, len(ref.Args))
	}
	for _, b := range ref.Args {
		params[b.Name] = b.Value
	}

	body, err := Convert(raw, Options{
		DefaultNamespace: ref.Namespace,
		MaxDNFTerms:      a.opts.MaxDNFTerms,
		Params:           params,
	})
	if err != nil {
		return nil, err
	}

	a.logger.Debug("inlined named query", "query", key, "depth", len(inner))
	return next(body, inner)
}

// Compile parses, converts and assembles src.
func Compile(ctx context.Context, src string, queries QueryStore, filters FilterResolver, opts Options, logger *slog.Logger) (ast.Node, error) {
	raw, err := parser.Parse(src)
	if err != nil {
		return nil, err
	}
	converted, err := Convert(raw, opts)
	if err != nil {
		return nil, err
	}
	return NewAssembler(queries, filters, opts, logger).Assemble(ctx, converted)
}
