package catalog

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/ivmfnal/metacat-sub001/internal/engine"
	"github.com/ivmfnal/metacat-sub001/internal/ir"
	"github.com/ivmfnal/metacat-sub001/internal/queryir"
)

// Loader is implemented by catalogs a Fixture can be applied to.
type Loader interface {
	AddDataset(ctx context.Context, d ir.Dataset) error
	AddFile(ctx context.Context, f ir.File, datasets []ir.DID) (ir.File, error)
	AddProvenance(ctx context.Context, parentFID, childFID string) error
	PutQuery(ctx context.Context, q ir.NamedQuery) error
}

// Memory is an in-memory catalog. It is safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	datasets map[ir.DID]ir.Dataset
	files    map[string]ir.File
	byDID    map[ir.DID]string
	members  map[ir.DID]map[string]bool
	parents  map[string]map[string]bool
	children map[string]map[string]bool
	queries  map[ir.DID]ir.NamedQuery
}

// NewMemory returns an empty catalog.
func NewMemory() *Memory {
	return &Memory{
		datasets: make(map[ir.DID]ir.Dataset),
		files:    make(map[string]ir.File),
		byDID:    make(map[ir.DID]string),
		members:  make(map[ir.DID]map[string]bool),
		parents:  make(map[string]map[string]bool),
		children: make(map[string]map[string]bool),
		queries:  make(map[ir.DID]ir.NamedQuery),
	}
}

var (
	_ engine.Source = (*Memory)(nil)
	_ Loader        = (*Memory)(nil)
)

// AddDataset adds or replaces a dataset. Its parent, if any, must exist.
func (m *Memory) AddDataset(_ context.Context, d ir.Dataset) error {
	meta, err := ir.NormalizeMetadata(d.Metadata)
	if err != nil {
		return fmt.Errorf("dataset %s: %w", d.DID(), err)
	}
	d.Metadata = meta

	m.mu.Lock()
	defer m.mu.Unlock()
	if d.Parent != nil {
		if _, ok := m.datasets[*d.Parent]; !ok {
			return fmt.Errorf("dataset %s: parent %s does not exist", d.DID(), d.Parent)
		}
	}
	m.datasets[d.DID()] = d
	return nil
}

// AddFile adds a file to the listed datasets, which must exist. A file
// without an FID is assigned a random one; the stored file is returned.
func (m *Memory) AddFile(_ context.Context, f ir.File, datasets []ir.DID) (ir.File, error) {
	if f.FID == "" {
		f.FID = uuid.NewString()
	}
	meta, err := ir.NormalizeMetadata(f.Metadata)
	if err != nil {
		return ir.File{}, fmt.Errorf("file %s: %w", f.DID(), err)
	}
	f.Metadata = meta

	m.mu.Lock()
	defer m.mu.Unlock()
	if fid, ok := m.byDID[f.DID()]; ok && fid != f.FID {
		return ir.File{}, fmt.Errorf("file %s already exists with fid %s", f.DID(), fid)
	}
	for _, d := range datasets {
		if _, ok := m.datasets[d]; !ok {
			return ir.File{}, fmt.Errorf("file %s: dataset %s does not exist", f.DID(), d)
		}
	}
	m.files[f.FID] = f
	m.byDID[f.DID()] = f.FID
	for _, d := range datasets {
		if m.members[d] == nil {
			m.members[d] = make(map[string]bool)
		}
		m.members[d][f.FID] = true
	}
	return f, nil
}

// AddProvenance records parentFID as a parent of childFID.
func (m *Memory) AddProvenance(_ context.Context, parentFID, childFID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, fid := range []string{parentFID, childFID} {
		if _, ok := m.files[fid]; !ok {
			return fmt.Errorf("provenance: file %s does not exist", fid)
		}
	}
	link(m.parents, childFID, parentFID)
	link(m.children, parentFID, childFID)
	return nil
}

func link(edges map[string]map[string]bool, from, to string) {
	if edges[from] == nil {
		edges[from] = make(map[string]bool)
	}
	edges[from][to] = true
}

// PutQuery adds or replaces a named query.
func (m *Memory) PutQuery(_ context.Context, q ir.NamedQuery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries[q.DID()] = q
	return nil
}

// GetQuery implements compiler.QueryStore.
func (m *Memory) GetQuery(_ context.Context, namespace, name string) (ir.NamedQuery, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queries[ir.DID{Namespace: namespace, Name: name}]
	return q, ok, nil
}

// Queries returns every named query, ordered by namespace and name.
func (m *Memory) Queries(_ context.Context) ([]ir.NamedQuery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ir.NamedQuery, 0, len(m.queries))
	for _, q := range m.queries {
		out = append(out, q)
	}
	slices.SortFunc(out, func(a, b ir.NamedQuery) int { return compareDID(a.DID(), b.DID()) })
	return out, nil
}

// Files implements engine.Source.
func (m *Memory) Files(_ context.Context, src queryir.DataSource, withMeta bool) (engine.Stream, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	datasets, err := m.selectDatasets(src.Datasets)
	if err != nil {
		return nil, err
	}
	fids := make(map[string]bool)
	for _, d := range datasets {
		for fid := range m.members[d.DID()] {
			fids[fid] = true
		}
	}

	matcher := queryir.NewMatcher(queryir.FileScope)
	var out []ir.File
	for _, f := range m.sortedFiles(fids) {
		ok, err := matcher.Match(src.Where, f)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, f)
		}
	}
	out = out[min(src.Skip, len(out)):]
	if src.HasLimit() && src.Limit < len(out) {
		out = out[:src.Limit]
	}
	return engine.NewSliceStream(project(out, withMeta)), nil
}

// FilesByDID implements engine.Source.
func (m *Memory) FilesByDID(_ context.Context, dids []ir.DID, withMeta bool) (engine.Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fids := make([]string, 0, len(dids))
	for _, d := range dids {
		if fid, ok := m.byDID[d]; ok {
			fids = append(fids, fid)
		}
	}
	return engine.NewSliceStream(project(m.listed(fids), withMeta)), nil
}

// FilesByFID implements engine.Source.
func (m *Memory) FilesByFID(_ context.Context, fids []string, withMeta bool) (engine.Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return engine.NewSliceStream(project(m.listed(fids), withMeta)), nil
}

// listed returns the existing files among fids, in order, without
// duplicates.
func (m *Memory) listed(fids []string) []ir.File {
	seen := make(map[string]bool, len(fids))
	var out []ir.File
	for _, fid := range fids {
		f, ok := m.files[fid]
		if !ok || seen[fid] {
			continue
		}
		seen[fid] = true
		out = append(out, f)
	}
	return out
}

// Provenance implements engine.Source.
func (m *Memory) Provenance(_ context.Context, fids []string, dir ir.Direction, withMeta bool) (engine.Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	edges := m.parents
	if dir == ir.Children {
		edges = m.children
	}
	related := make(map[string]bool)
	for _, fid := range fids {
		for r := range edges[fid] {
			related[r] = true
		}
	}
	return engine.NewSliceStream(project(m.sortedFiles(related), withMeta)), nil
}

// Datasets implements engine.Source.
func (m *Memory) Datasets(_ context.Context, q queryir.DatasetQuery) ([]ir.Dataset, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selectDatasets(q)
}

// selectDatasets applies selectors, child expansion and the having
// filter, in that order. The result is ordered by namespace and name.
func (m *Memory) selectDatasets(q queryir.DatasetQuery) ([]ir.Dataset, error) {
	all := make([]ir.Dataset, 0, len(m.datasets))
	for _, d := range m.datasets {
		all = append(all, d)
	}
	slices.SortFunc(all, func(a, b ir.Dataset) int { return compareDID(a.DID(), b.DID()) })

	selected := make(map[ir.DID]bool)
	var frontier []ir.DID
	for _, sel := range q.Selectors {
		re, err := sel.Compile()
		if err != nil {
			return nil, err
		}
		for _, d := range all {
			if d.Namespace == sel.Namespace && re.MatchString(d.Name) && !selected[d.DID()] {
				selected[d.DID()] = true
				frontier = append(frontier, d.DID())
			}
		}
	}

	kids := make(map[ir.DID][]ir.DID)
	for _, d := range all {
		if d.Parent != nil {
			kids[*d.Parent] = append(kids[*d.Parent], d.DID())
		}
	}
	for depth := q.MaxDepth(); depth != 0 && len(frontier) > 0; depth-- {
		var next []ir.DID
		for _, p := range frontier {
			for _, c := range kids[p] {
				if !selected[c] {
					selected[c] = true
					next = append(next, c)
				}
			}
		}
		frontier = next
	}

	matcher := queryir.NewMatcher(queryir.DatasetScope)
	var out []ir.Dataset
	for _, d := range all {
		if !selected[d.DID()] {
			continue
		}
		ok, err := matcher.Match(q.Having, d)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *Memory) sortedFiles(fids map[string]bool) []ir.File {
	out := make([]ir.File, 0, len(fids))
	for fid := range fids {
		out = append(out, m.files[fid])
	}
	slices.SortFunc(out, func(a, b ir.File) int { return compareDID(a.DID(), b.DID()) })
	return out
}

func project(files []ir.File, withMeta bool) []ir.File {
	if withMeta {
		return files
	}
	out := make([]ir.File, len(files))
	for i, f := range files {
		out[i] = f.WithoutMetadata()
	}
	return out
}

// compareDID orders by namespace then name, bytewise, as the SQL store
// does with COLLATE BINARY.
func compareDID(a, b ir.DID) int {
	return cmp.Or(cmp.Compare(a.Namespace, b.Namespace), cmp.Compare(a.Name, b.Name))
}
