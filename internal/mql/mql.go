// Package mql is the entry point to the query subsystem: it compiles
// query text into an optimized tree and runs or renders that tree.
//
//	q, err := mql.Compile(ctx, `files from test:raw where run > 2`, mql.Options{})
//	stream, err := q.Evaluate(ctx, store, filters.Builtins(), true, 0)
package mql

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ivmfnal/metacat-sub001/internal/ast"
	"github.com/ivmfnal/metacat-sub001/internal/compiler"
	"github.com/ivmfnal/metacat-sub001/internal/engine"
	"github.com/ivmfnal/metacat-sub001/internal/ir"
	"github.com/ivmfnal/metacat-sub001/internal/optimizer"
	"github.com/ivmfnal/metacat-sub001/internal/queryir"
	"github.com/ivmfnal/metacat-sub001/internal/querysql"
)

// Options control compilation and evaluation.
type Options struct {
	// DefaultNamespace qualifies names no with-scope qualifies.
	DefaultNamespace string

	// Params bind $name parameters ahead of every with prologue.
	Params map[string]ir.Value

	// Queries resolves "query ns:name" references. Nil rejects them.
	Queries compiler.QueryStore

	// Filters validates filter names at compile time. Nil accepts all.
	Filters compiler.FilterResolver

	// MaxDNFTerms bounds DNF expansion; <= 0 means the package default.
	MaxDNFTerms int

	// UnorderedLimit lets a limit over a union be copied into its
	// branches.
	UnorderedLimit bool

	// Concurrency bounds open store cursors during evaluation.
	Concurrency int

	Logger *slog.Logger
}

// CompiledQuery is an assembled and optimized query.
type CompiledQuery struct {
	// ID identifies this compilation in logs.
	ID     uuid.UUID
	Source string
	Tree   ast.Node

	concurrency int
	logger      *slog.Logger
}

// Compile parses, converts, assembles and optimizes src.
func Compile(ctx context.Context, src string, opts Options) (*CompiledQuery, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("query id: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("query_id", id.String())

	tree, err := compiler.Compile(ctx, src, opts.Queries, opts.Filters, compiler.Options{
		DefaultNamespace: opts.DefaultNamespace,
		MaxDNFTerms:      opts.MaxDNFTerms,
		Params:           opts.Params,
	}, logger)
	if err != nil {
		return nil, err
	}
	tree, err = optimizer.Optimize(tree, optimizer.Options{
		MaxDNFTerms:    opts.MaxDNFTerms,
		UnorderedLimit: opts.UnorderedLimit,
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("compiled query", "tree", ast.Print(tree))

	q := &CompiledQuery{
		ID:          id,
		Source:      src,
		Tree:        tree,
		concurrency: opts.Concurrency,
		logger:      logger,
	}
	for _, w := range q.Warnings() {
		logger.Warn("filter may match differently in SQL and in memory", "warning", w)
	}
	return q, nil
}

// Warnings lists the non-portable constructs in the query's where and
// having expressions.
func (q *CompiledQuery) Warnings() []string {
	var warnings []string
	check := func(e *queryir.Or) {
		if e != nil {
			warnings = append(warnings, queryir.Validate(e).Warnings...)
		}
	}
	ast.Walk(q.Tree, func(n ast.Node) bool {
		switch x := n.(type) {
		case *ast.DataSource:
			check(x.Source.Where)
			check(x.Source.Datasets.Having)
		case *ast.DatasetQuery:
			check(x.Query.Having)
		case *ast.MetaFilter:
			if where, err := queryir.AsDNF(x.Where, queryir.DefaultMaxTerms); err == nil {
				check(where)
			}
		}
		return true
	})
	return warnings
}

// SelectsDatasets reports whether the query is a top-level datasets
// query.
func (q *CompiledQuery) SelectsDatasets() bool {
	_, ok := q.Tree.(*ast.DatasetQuery)
	return ok
}

// PrettyPrint renders the optimized tree.
func (q *CompiledQuery) PrettyPrint() string {
	return ast.Print(q.Tree)
}

// JSON dumps the optimized tree as canonical JSON.
func (q *CompiledQuery) JSON() ([]byte, error) {
	return ast.JSON(q.Tree)
}

// Evaluate runs a file query. A nil filters resolver knows no filters;
// limit <= 0 means no limit.
func (q *CompiledQuery) Evaluate(ctx context.Context, source engine.Source, filters engine.Filters, withMetadata bool, limit int) (engine.Stream, error) {
	ev := engine.NewEvaluator(source, filters, q.concurrency, q.logger)
	return ev.Evaluate(ctx, q.Tree, engine.Options{WithMetadata: withMetadata, Limit: limit})
}

// Datasets runs a datasets query.
func (q *CompiledQuery) Datasets(ctx context.Context, source engine.Source) ([]ir.Dataset, error) {
	ev := engine.NewEvaluator(source, nil, q.concurrency, q.logger)
	return ev.Datasets(ctx, q.Tree)
}

// SourceSQL is the SQL for one store fetch of a compiled query.
type SourceSQL struct {
	// Node is the pretty-printed leaf the SQL fetches.
	Node string `json:"node"`

	// SQL is a complete SELECT for sqlite, or the metadata predicate
	// for postgres.
	SQL string `json:"sql"`

	// Having is the dataset predicate, postgres only.
	Having string `json:"having,omitempty"`

	Args []any `json:"args,omitempty"`
}

// ToSQL returns the SQL of every data source and dataset query in the
// tree, in evaluation order. Explicit file lists, provenance hops and
// in-process steps have no SQL of their own.
func (q *CompiledQuery) ToSQL(dialect querysql.Dialect) ([]SourceSQL, error) {
	var (
		out []SourceSQL
		err error
	)
	ast.Walk(q.Tree, func(n ast.Node) bool {
		if err != nil {
			return false
		}
		var s SourceSQL
		switch x := n.(type) {
		case *ast.DataSource:
			s, err = dataSourceSQL(x, dialect)
		case *ast.DatasetQuery:
			s, err = datasetSQL(x, dialect)
		default:
			return true
		}
		if err == nil {
			out = append(out, s)
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func dataSourceSQL(n *ast.DataSource, dialect querysql.Dialect) (SourceSQL, error) {
	s := SourceSQL{Node: ast.Print(n)}
	var err error
	switch dialect {
	case querysql.DialectSQLite:
		s.SQL, s.Args, err = querysql.FileQuery(n.Source, true)
	case querysql.DialectPostgres:
		if s.SQL, err = querysql.Postgres(n.Source.Where, querysql.Files); err == nil {
			s.Having, err = querysql.Postgres(n.Source.Datasets.Having, querysql.Datasets)
		}
	default:
		err = fmt.Errorf("unknown SQL dialect %q", dialect)
	}
	return s, err
}

func datasetSQL(n *ast.DatasetQuery, dialect querysql.Dialect) (SourceSQL, error) {
	s := SourceSQL{Node: ast.Print(n)}
	var err error
	switch dialect {
	case querysql.DialectSQLite:
		s.SQL, s.Args, err = querysql.DatasetQuery(n.Query)
	case querysql.DialectPostgres:
		s.Having, err = querysql.Postgres(n.Query.Having, querysql.Datasets)
		s.SQL = "true"
	default:
		err = fmt.Errorf("unknown SQL dialect %q", dialect)
	}
	return s, err
}
