package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"slices"

	"github.com/ivmfnal/metacat-sub001/internal/catalog"
	"github.com/ivmfnal/metacat-sub001/internal/compiler"
	"github.com/ivmfnal/metacat-sub001/internal/engine"
	"github.com/ivmfnal/metacat-sub001/internal/filters"
	"github.com/ivmfnal/metacat-sub001/internal/ir"
	"github.com/ivmfnal/metacat-sub001/internal/mql"
	"github.com/ivmfnal/metacat-sub001/internal/qerr"
	"github.com/ivmfnal/metacat-sub001/internal/store"
)

// backend is one catalog implementation a scenario runs against.
type backend interface {
	engine.Source
	compiler.QueryStore
}

// Harness holds both backends loaded from one fixture.
type Harness struct {
	memory  *catalog.Memory
	store   *store.Store
	filters *filters.Registry
	logger  *slog.Logger
	dir     string
}

// New loads the fixture into a fresh in-memory catalog and a fresh
// SQLite store in a temporary directory. A nil registry means
// filters.Builtins(); a nil logger discards output. Close releases the
// store.
func New(ctx context.Context, fixturePath string, reg *filters.Registry, logger *slog.Logger) (*Harness, error) {
	if reg == nil {
		reg = filters.Builtins()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	fx, err := catalog.LoadFixture(fixturePath)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "mql-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	st, err := store.Open(filepath.Join(dir, "catalog.db"))
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	h := &Harness{
		memory:  catalog.NewMemory(),
		store:   st,
		filters: reg,
		logger:  logger,
		dir:     dir,
	}
	if err := fx.Apply(ctx, h.memory); err != nil {
		h.Close()
		return nil, fmt.Errorf("load fixture into memory: %w", err)
	}
	if err := fx.Apply(ctx, h.store); err != nil {
		h.Close()
		return nil, fmt.Errorf("load fixture into store: %w", err)
	}
	return h, nil
}

// Close closes the store and removes its directory.
func (h *Harness) Close() error {
	err := h.store.Close()
	return errors.Join(err, os.RemoveAll(h.dir))
}

// Run loads the scenario's fixture and runs every step.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	h, err := New(ctx, scenario.Fixture, nil, nil)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	return h.Run(ctx, scenario)
}

// Run runs every step of scenario against both backends. The returned
// error is for problems with the scenario itself; step mismatches are
// reported in the Result.
func (h *Harness) Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	params := make(map[string]ir.Value, len(scenario.Params))
	for name, raw := range scenario.Params {
		v, err := ir.FromNative(raw)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", name, err)
		}
		params[name] = v
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		h.logger.Debug("running step", "scenario", scenario.Name, "step", i, "query", step.Query)

		mem := h.runStep(ctx, h.memory, scenario.Namespace, params, step)
		sql := h.runStep(ctx, h.store, scenario.Namespace, params, step)

		sr := StepResult{Query: step.Query, Error: mem.code}
		if mem.err == nil {
			if mem.datasets != nil {
				sr.Datasets = datasetNames(mem.datasets)
			} else {
				sr.Files = fileNames(mem.files)
			}
		}
		result.Steps = append(result.Steps, sr)

		for _, msg := range check(step.Expect, sr, mem) {
			result.AddError(fmt.Sprintf("steps[%d] %q: %s", i, step.Query, msg))
		}
		if msg := compare(mem, sql); msg != "" {
			result.AddError(fmt.Sprintf("steps[%d] %q: store disagrees with memory: %s", i, step.Query, msg))
		}
	}
	return result, nil
}

// outcome is a step's result on one backend.
type outcome struct {
	files    []ir.File
	datasets []ir.Dataset
	err      error
	code     string
}

func (h *Harness) runStep(ctx context.Context, b backend, namespace string, params map[string]ir.Value, step Step) outcome {
	q, err := mql.Compile(ctx, step.Query, mql.Options{
		DefaultNamespace: namespace,
		Params:           params,
		Queries:          b,
		Filters:          h.filters,
		Logger:           h.logger,
	})
	if err != nil {
		return failed(err)
	}

	if q.SelectsDatasets() {
		ds, err := q.Datasets(ctx, b)
		if err != nil {
			return failed(err)
		}
		if ds == nil {
			ds = []ir.Dataset{}
		}
		return outcome{datasets: ds}
	}

	s, err := q.Evaluate(ctx, b, h.filters, step.WithMetadata, step.Limit)
	if err != nil {
		return failed(err)
	}
	files, err := engine.Collect(ctx, s)
	if err != nil {
		return failed(err)
	}
	return outcome{files: files}
}

func failed(err error) outcome {
	code := string(qerr.CodeOf(err))
	if code == "" {
		code = "ERROR"
	}
	return outcome{err: err, code: code}
}

func check(e Expect, sr StepResult, mem outcome) []string {
	var msgs []string
	if e.Error != "" {
		if sr.Error != e.Error {
			msgs = append(msgs, fmt.Sprintf("expected error %s, got %s", e.Error, describe(mem)))
		}
		return msgs
	}
	if mem.err != nil {
		return []string{fmt.Sprintf("unexpected error: %v", mem.err)}
	}
	if e.Files != nil && !slices.Equal(e.Files, sr.Files) {
		msgs = append(msgs, fmt.Sprintf("expected files %v, got %v", e.Files, sr.Files))
	}
	if e.Datasets != nil && !slices.Equal(e.Datasets, sr.Datasets) {
		msgs = append(msgs, fmt.Sprintf("expected datasets %v, got %v", e.Datasets, sr.Datasets))
	}
	if e.Count != nil {
		n := len(sr.Files) + len(sr.Datasets)
		if n != *e.Count {
			msgs = append(msgs, fmt.Sprintf("expected %d results, got %d", *e.Count, n))
		}
	}
	return msgs
}

func compare(mem, sql outcome) string {
	switch {
	case mem.code != sql.code:
		return fmt.Sprintf("%s vs %s", describe(mem), describe(sql))
	case mem.err != nil:
		return ""
	case !reflect.DeepEqual(mem.files, sql.files):
		return fmt.Sprintf("files %v vs %v", fileNames(mem.files), fileNames(sql.files))
	case !reflect.DeepEqual(mem.datasets, sql.datasets):
		return fmt.Sprintf("datasets %v vs %v", datasetNames(mem.datasets), datasetNames(sql.datasets))
	}
	return ""
}

func describe(o outcome) string {
	if o.err != nil {
		return o.err.Error()
	}
	if o.datasets != nil {
		return fmt.Sprintf("datasets %v", datasetNames(o.datasets))
	}
	return fmt.Sprintf("files %v", fileNames(o.files))
}

func fileNames(files []ir.File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.DID().String()
	}
	return out
}

func datasetNames(ds []ir.Dataset) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = ir.DID{Namespace: d.Namespace, Name: d.Name}.String()
	}
	return out
}
