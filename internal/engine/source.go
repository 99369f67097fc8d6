package engine

import (
	"context"

	"github.com/ivmfnal/metacat-sub001/internal/ir"
	"github.com/ivmfnal/metacat-sub001/internal/queryir"
)

// Source is the file and dataset store queries run against. Streams it
// returns must be closed by the caller.
type Source interface {
	// Files returns the files of a data source: members of the selected
	// datasets that satisfy Where, ordered by namespace and name, with
	// Skip and Limit applied.
	Files(ctx context.Context, src queryir.DataSource, withMeta bool) (Stream, error)

	// FilesByDID returns the listed files that exist, in list order.
	FilesByDID(ctx context.Context, dids []ir.DID, withMeta bool) (Stream, error)

	// FilesByFID returns the listed files that exist, in list order.
	FilesByFID(ctx context.Context, fids []string, withMeta bool) (Stream, error)

	// Provenance returns the distinct parents or children of fids, one
	// hop away.
	Provenance(ctx context.Context, fids []string, dir ir.Direction, withMeta bool) (Stream, error)

	// Datasets returns the datasets a dataset query selects.
	Datasets(ctx context.Context, q queryir.DatasetQuery) ([]ir.Dataset, error)
}

// FilterFunc implements a named filter. It receives its input streams
// already materialized, in query order, and the filter's arguments.
type FilterFunc func(ctx context.Context, inputs []Stream, args []ir.Value, kwargs map[string]ir.Value) (Stream, error)

// Filters resolves filter names.
type Filters interface {
	Lookup(name string) (FilterFunc, bool)
}
