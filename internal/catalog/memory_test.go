package catalog_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivmfnal/metacat-sub001/internal/ast"
	"github.com/ivmfnal/metacat-sub001/internal/catalog"
	"github.com/ivmfnal/metacat-sub001/internal/compiler"
	"github.com/ivmfnal/metacat-sub001/internal/engine"
	"github.com/ivmfnal/metacat-sub001/internal/ir"
	"github.com/ivmfnal/metacat-sub001/internal/optimizer"
	"github.com/ivmfnal/metacat-sub001/internal/qerr"
	"github.com/ivmfnal/metacat-sub001/internal/queryir"
)

func loadCorpus(t *testing.T) *catalog.Memory {
	t.Helper()
	fx, err := catalog.LoadFixture("testdata/corpus.yaml")
	require.NoError(t, err)
	m := catalog.NewMemory()
	require.NoError(t, fx.Apply(context.Background(), m))
	return m
}

// compile returns the optimized tree of src.
func compile(t *testing.T, src string) ast.Node {
	t.Helper()
	n, err := compiler.Compile(context.Background(), src, nil, nil, compiler.Options{DefaultNamespace: "test"}, nil)
	require.NoError(t, err)
	n, err = optimizer.Optimize(n, optimizer.Options{})
	require.NoError(t, err)
	return n
}

func names(t *testing.T, s engine.Stream) []string {
	t.Helper()
	files, err := engine.Collect(context.Background(), s)
	require.NoError(t, err)
	out := []string{}
	for _, f := range files {
		out = append(out, f.DID().String())
	}
	return out
}

func TestMemory_Files(t *testing.T) {
	m := loadCorpus(t)
	tests := []struct {
		query string
		want  string
	}{
		{"files from raw", "test:f1.raw test:f2.raw test:f3.raw"},
		{"files from raw with children", "test:f1.raw test:f1.reco test:f2.raw test:f3.raw test:f3.reco"},
		{"files from raw with children recursively", "test:f1.raw test:f1.reco test:f2.raw test:f3.raw test:f3.reco test:f3.reco2"},
		{`files from raw with children recursively having tier = "reco"`, "test:f1.reco test:f3.reco test:f3.reco2"},
		{"files from matching re*", "test:f1.reco test:f3.reco test:f3.reco2"},
		{`files from matching regexp "r.w"`, "test:f1.raw test:f2.raw test:f3.raw"},
		{"files from raw, calib", "test:f1.raw test:f2.raw test:f3.raw"},
		{"files from prod:raw", "prod:p1.raw"},
		{"files from raw where run >= 2", "test:f2.raw test:f3.raw"},
		{`files from raw where tags[any] = "good"`, "test:f1.raw test:f3.raw"},
		{`files from raw where tags[all] = "good"`, "test:f3.raw"},
		{`files from raw where detector["name"] = "far"`, "test:f3.raw"},
		{"files from raw where len(tags) = 2", "test:f1.raw"},
		{"files from raw where detector present", "test:f1.raw test:f3.raw"},
		{"files from raw where file.size > 150", "test:f2.raw test:f3.raw"},
		{`files from raw where file.creator = "alice"`, "test:f1.raw"},
		{"files from raw where energy in 1:3", "test:f1.raw test:f2.raw"},
		{"files from raw skip 1 limit 1", "test:f2.raw"},
		{"files from raw skip 5", ""},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			n := compile(t, tt.query)
			ds, ok := n.(*ast.DataSource)
			require.True(t, ok, "expected a data source, got %s", ast.Print(n))

			s, err := m.Files(context.Background(), ds.Source, false)
			require.NoError(t, err)
			assert.Equal(t, tt.want, strings.Join(names(t, s), " "))
		})
	}
}

func TestMemory_FilesMetadata(t *testing.T) {
	m := loadCorpus(t)
	ds := compile(t, "files from calib").(*ast.DataSource)

	s, err := m.Files(context.Background(), ds.Source, true)
	require.NoError(t, err)
	files, err := engine.Collect(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "f3", files[0].FID)
	assert.Equal(t, []any{"good"}, files[0].Metadata["tags"])

	s, err = m.Files(context.Background(), ds.Source, false)
	require.NoError(t, err)
	files, err = engine.Collect(context.Background(), s)
	require.NoError(t, err)
	assert.Nil(t, files[0].Metadata)
}

func TestMemory_FilesUnresolvedNamespace(t *testing.T) {
	m := loadCorpus(t)
	src := queryir.NewDataSource(queryir.DatasetQuery{Selectors: []queryir.DatasetSelector{{Name: "raw"}}})
	_, err := m.Files(context.Background(), src, false)
	assert.True(t, qerr.Has(err, qerr.CodeUnresolvedNamespace), "got %v", err)
}

func TestMemory_Lists(t *testing.T) {
	m := loadCorpus(t)
	ctx := context.Background()

	s, err := m.FilesByDID(ctx, []ir.DID{{Namespace: "test", Name: "f3.raw"}, {Namespace: "test", Name: "nope"}, {Namespace: "test", Name: "f1.raw"}, {Namespace: "test", Name: "f3.raw"}}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"test:f3.raw", "test:f1.raw"}, names(t, s))

	s, err = m.FilesByFID(ctx, []string{"p1", "zz", "r1"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"prod:p1.raw", "test:f1.reco"}, names(t, s))
}

func TestMemory_Provenance(t *testing.T) {
	m := loadCorpus(t)
	ctx := context.Background()

	s, err := m.Provenance(ctx, []string{"f1", "f3", "f2"}, ir.Children, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"test:f1.reco", "test:f3.reco"}, names(t, s))

	s, err = m.Provenance(ctx, []string{"r3b"}, ir.Parents, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"test:f3.reco"}, names(t, s))

	s, err = m.Provenance(ctx, []string{"f1"}, ir.Parents, false)
	require.NoError(t, err)
	assert.Empty(t, names(t, s))
}

func TestMemory_Datasets(t *testing.T) {
	m := loadCorpus(t)
	tests := []struct {
		query string
		want  string
	}{
		{"datasets matching *", "test:calib test:raw test:reco test:reco_v2"},
		{"datasets prod:raw", "prod:raw"},
		{"datasets raw with children", "test:raw test:reco"},
		{"datasets raw with children having dataset.frozen = true", "test:reco"},
		{`datasets matching * having run_type = "calibration"`, "test:calib"},
		{`datasets matching * having dataset.creator = "alice"`, "test:raw"},
		{"datasets matching * having year present", "test:raw"},
		{"datasets nope", ""},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			n := compile(t, tt.query)
			q, ok := n.(*ast.DatasetQuery)
			require.True(t, ok)

			got, err := m.Datasets(context.Background(), q.Query)
			require.NoError(t, err)
			var dids []string
			for _, d := range got {
				dids = append(dids, d.DID().String())
			}
			assert.Equal(t, tt.want, strings.Join(dids, " "))
		})
	}
}

func TestMemory_Queries(t *testing.T) {
	m := loadCorpus(t)
	ctx := context.Background()

	q, ok, err := m.GetQuery(ctx, "test", "runs")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "files from raw where run >= $min", q.Source)
	assert.Equal(t, map[string]ir.Value{"min": ir.Int(2)}, q.Params)

	_, ok, err = m.GetQuery(ctx, "test", "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := m.Queries(ctx)
	require.NoError(t, err)
	var dids []string
	for _, q := range all {
		dids = append(dids, q.DID().String())
	}
	assert.Equal(t, []string{"test:good", "test:good_reco", "test:runs"}, dids)
}

func TestMemory_AddFile(t *testing.T) {
	m := catalog.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.AddDataset(ctx, ir.Dataset{Namespace: "n", Name: "d"}))

	f, err := m.AddFile(ctx, ir.File{Namespace: "n", Name: "a"}, []ir.DID{{Namespace: "n", Name: "d"}})
	require.NoError(t, err)
	assert.Len(t, f.FID, 36, "assigned fid is a UUID")

	_, err = m.AddFile(ctx, ir.File{Namespace: "n", Name: "a"}, nil)
	assert.Error(t, err, "same DID, new fid")

	_, err = m.AddFile(ctx, ir.File{Namespace: "n", Name: "b"}, []ir.DID{{Namespace: "n", Name: "missing"}})
	assert.Error(t, err)

	err = m.AddDataset(ctx, ir.Dataset{Namespace: "n", Name: "c", Parent: &ir.DID{Namespace: "n", Name: "missing"}})
	assert.Error(t, err)

	assert.Error(t, m.AddProvenance(ctx, f.FID, "nope"))
}
