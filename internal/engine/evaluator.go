package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ivmfnal/metacat-sub001/internal/ast"
	"github.com/ivmfnal/metacat-sub001/internal/ir"
	"github.com/ivmfnal/metacat-sub001/internal/qerr"
	"github.com/ivmfnal/metacat-sub001/internal/queryir"
)

// DefaultConcurrency bounds open Source cursors when none is configured.
const DefaultConcurrency = 4

// Options control one evaluation.
type Options struct {
	// WithMetadata returns file metadata. Metadata is fetched internally
	// when metadata filters or named filters need it either way.
	WithMetadata bool

	// Limit caps the number of files returned; <= 0 means no cap.
	Limit int
}

// Evaluator runs optimized query trees against a Source.
// It is safe for concurrent use.
type Evaluator struct {
	source  Source
	filters Filters
	sem     *semaphore.Weighted
	logger  *slog.Logger
}

// NewEvaluator creates an Evaluator. concurrency <= 0 means
// DefaultConcurrency; a nil filters resolver knows no filters; a nil
// logger discards output.
func NewEvaluator(source Source, filters Filters, concurrency int, logger *slog.Logger) *Evaluator {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Evaluator{
		source:  source,
		filters: filters,
		sem:     semaphore.NewWeighted(int64(concurrency)),
		logger:  logger,
	}
}

// Evaluate returns the files n selects. The caller must Close the stream.
func (e *Evaluator) Evaluate(ctx context.Context, n ast.Node, opts Options) (Stream, error) {
	if _, ok := n.(*ast.DatasetQuery); ok {
		return nil, fmt.Errorf("dataset query selects datasets, not files")
	}
	meta := opts.WithMetadata || needsMetadata(n)
	s, err := e.eval(ctx, n, meta)
	if err != nil {
		return nil, err
	}
	if opts.Limit > 0 {
		s = limitStream(s, opts.Limit)
	}
	if meta && !opts.WithMetadata {
		s = stripStream(s)
	}
	return s, nil
}

// Datasets returns the datasets a dataset query selects.
func (e *Evaluator) Datasets(ctx context.Context, n ast.Node) ([]ir.Dataset, error) {
	q, ok := n.(*ast.DatasetQuery)
	if !ok {
		return nil, fmt.Errorf("query selects files, not datasets")
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, qerr.Cancelled(err)
	}
	defer e.sem.Release(1)

	datasets, err := e.source.Datasets(ctx, q.Query)
	if err != nil {
		return nil, qerr.Store(err, "list datasets")
	}
	return datasets, nil
}

// needsMetadata reports whether evaluating n reads metadata in process.
func needsMetadata(n ast.Node) bool {
	found := false
	ast.Walk(n, func(n ast.Node) bool {
		switch n.(type) {
		case *ast.MetaFilter, *ast.Filter:
			found = true
		}
		return !found
	})
	return found
}

func (e *Evaluator) eval(ctx context.Context, n ast.Node, meta bool) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, qerr.Cancelled(err)
	}

	switch x := n.(type) {
	case *ast.DataSource:
		return e.fetch(ctx, "fetch "+x.Source.Datasets.String(), func(ctx context.Context) (Stream, error) {
			return e.source.Files(ctx, x.Source, meta)
		})

	case *ast.FileList:
		return e.fetch(ctx, "fetch files by name", func(ctx context.Context) (Stream, error) {
			return e.source.FilesByDID(ctx, x.DIDs, meta)
		})

	case *ast.FIDList:
		return e.fetch(ctx, "fetch files by id", func(ctx context.Context) (Stream, error) {
			return e.source.FilesByFID(ctx, x.FIDs, meta)
		})

	case *ast.ParentsOf:
		return e.provenance(ctx, x.Child, ir.Parents, meta)

	case *ast.ChildrenOf:
		return e.provenance(ctx, x.Child, ir.Children, meta)

	case *ast.MetaFilter:
		where, err := queryir.AsDNF(x.Where, queryir.DefaultMaxTerms)
		if err != nil {
			return nil, err
		}
		child, err := e.eval(ctx, x.Child, true)
		if err != nil {
			return nil, err
		}
		return matchStream(child, queryir.NewMatcher(queryir.FileScope), where), nil

	case *ast.Limit:
		child, err := e.eval(ctx, x.Child, meta)
		if err != nil {
			return nil, err
		}
		return limitStream(child, x.N), nil

	case *ast.Skip:
		child, err := e.eval(ctx, x.Child, meta)
		if err != nil {
			return nil, err
		}
		return skipStream(child, x.N), nil

	case *ast.Union:
		sets, err := e.collectAll(ctx, x.Children, repeat(meta, len(x.Children)))
		if err != nil {
			return nil, err
		}
		return NewSliceStream(union(sets)), nil

	case *ast.Join:
		sets, err := e.collectAll(ctx, x.Children, repeat(meta, len(x.Children)))
		if err != nil {
			return nil, err
		}
		return NewSliceStream(join(sets)), nil

	case *ast.Minus:
		sets, err := e.collectAll(ctx, []ast.Node{x.Left, x.Right}, []bool{meta, false})
		if err != nil {
			return nil, err
		}
		return NewSliceStream(minus(sets[0], sets[1])), nil

	case *ast.Filter:
		return e.filter(ctx, x)

	case *ast.NamedQuery:
		return nil, qerr.New(qerr.CodeUnknownNamedQuery, "named query %s:%s was not inlined", x.Namespace, x.Name)
	}
	return nil, fmt.Errorf("cannot evaluate %T node", n)
}

// fetch opens a Source cursor, holding a semaphore slot until it is
// closed.
func (e *Evaluator) fetch(ctx context.Context, op string, open func(context.Context) (Stream, error)) (Stream, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, qerr.Cancelled(err)
	}
	e.logger.Debug("source fetch", "op", op)

	s, err := open(ctx)
	if err != nil {
		e.sem.Release(1)
		return nil, qerr.Store(err, op)
	}
	return &releaseStream{
		Stream:  storeStream{Stream: s, op: op},
		release: func() { e.sem.Release(1) },
	}, nil
}

func (e *Evaluator) provenance(ctx context.Context, child ast.Node, dir ir.Direction, meta bool) (Stream, error) {
	s, err := e.eval(ctx, child, false)
	if err != nil {
		return nil, err
	}
	files, err := Collect(ctx, s)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return NewSliceStream(nil), nil
	}
	fids := make([]string, len(files))
	for i, f := range files {
		fids[i] = f.FID
	}
	return e.fetch(ctx, "fetch "+dir.String(), func(ctx context.Context) (Stream, error) {
		return e.source.Provenance(ctx, fids, dir, meta)
	})
}

func (e *Evaluator) filter(ctx context.Context, x *ast.Filter) (Stream, error) {
	var fn FilterFunc
	if e.filters != nil {
		fn, _ = e.filters.Lookup(x.Name)
	}
	if fn == nil {
		return nil, qerr.New(qerr.CodeUnknownFilter, "unknown filter %q", x.Name)
	}

	sets, err := e.collectAll(ctx, x.Inputs, repeat(true, len(x.Inputs)))
	if err != nil {
		return nil, err
	}
	inputs := make([]Stream, len(sets))
	for i, files := range sets {
		inputs[i] = NewSliceStream(files)
	}
	kwargs := make(map[string]ir.Value, len(x.Kwargs))
	for _, b := range x.Kwargs {
		kwargs[b.Name] = b.Value
	}

	e.logger.Debug("running filter", "filter", x.Name, "inputs", len(inputs))
	out, err := fn(ctx, inputs, x.Args, kwargs)
	if err != nil {
		return nil, filterError(x.Name, err)
	}
	return filterStream{Stream: out, name: x.Name}, nil
}

// collectAll evaluates nodes concurrently and drains each result. The
// first failure cancels the others.
func (e *Evaluator) collectAll(ctx context.Context, nodes []ast.Node, meta []bool) ([][]ir.File, error) {
	out := make([][]ir.File, len(nodes))
	g, gctx := errgroup.WithContext(ctx)
	for i, n := range nodes {
		g.Go(func() error {
			s, err := e.eval(gctx, n, meta[i])
			if err != nil {
				return err
			}
			files, err := Collect(gctx, s)
			out[i] = files
			return err
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, qerr.Cancelled(ctxErr)
		}
		return nil, err
	}
	return out, nil
}

func filterError(name string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return qerr.Cancelled(err)
	}
	if qerr.CodeOf(err) != "" {
		return err
	}
	return qerr.Wrap(qerr.CodeFilter, err, "filter %s", name)
}

// filterStream classifies errors from a filter's output stream.
type filterStream struct {
	Stream
	name string
}

func (s filterStream) Next(ctx context.Context) (ir.File, error) {
	f, err := s.Stream.Next(ctx)
	if err != nil && !errors.Is(err, io.EOF) {
		return ir.File{}, filterError(s.name, err)
	}
	return f, err
}

func union(sets [][]ir.File) []ir.File {
	seen := make(map[string]bool)
	var out []ir.File
	for _, files := range sets {
		for _, f := range files {
			if !seen[f.FID] {
				seen[f.FID] = true
				out = append(out, f)
			}
		}
	}
	return out
}

func join(sets [][]ir.File) []ir.File {
	if len(sets) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, files := range sets[1:] {
		inSet := make(map[string]bool, len(files))
		for _, f := range files {
			if !inSet[f.FID] {
				inSet[f.FID] = true
				counts[f.FID]++
			}
		}
	}
	seen := make(map[string]bool)
	var out []ir.File
	for _, f := range sets[0] {
		if !seen[f.FID] && counts[f.FID] == len(sets)-1 {
			seen[f.FID] = true
			out = append(out, f)
		}
	}
	return out
}

func minus(left, right []ir.File) []ir.File {
	drop := make(map[string]bool, len(right))
	for _, f := range right {
		drop[f.FID] = true
	}
	var out []ir.File
	for _, f := range left {
		if !drop[f.FID] {
			drop[f.FID] = true
			out = append(out, f)
		}
	}
	return out
}

func repeat(v bool, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = v
	}
	return out
}
