package mql_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivmfnal/metacat-sub001/internal/catalog"
	"github.com/ivmfnal/metacat-sub001/internal/compiler"
	"github.com/ivmfnal/metacat-sub001/internal/engine"
	"github.com/ivmfnal/metacat-sub001/internal/filters"
	"github.com/ivmfnal/metacat-sub001/internal/ir"
	"github.com/ivmfnal/metacat-sub001/internal/mql"
	"github.com/ivmfnal/metacat-sub001/internal/qerr"
	"github.com/ivmfnal/metacat-sub001/internal/querysql"
)

func corpus(t *testing.T) *catalog.Memory {
	t.Helper()
	fx, err := catalog.LoadFixture("../catalog/testdata/corpus.yaml")
	require.NoError(t, err)
	m := catalog.NewMemory()
	require.NoError(t, fx.Apply(context.Background(), m))
	return m
}

func names(t *testing.T, s engine.Stream) []string {
	t.Helper()
	files, err := engine.Collect(context.Background(), s)
	require.NoError(t, err)
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.DID().String()
	}
	return out
}

func TestCompileEvaluate(t *testing.T) {
	ctx := context.Background()
	m := corpus(t)
	reg := filters.Builtins()

	tests := []struct {
		name  string
		src   string
		limit int
		want  []string
	}{
		{name: "where", src: "files from test:raw where run >= 2", want: []string{"test:f2.raw", "test:f3.raw"}},
		{name: "default namespace", src: "files from raw where tags[any] = \"good\"", want: []string{"test:f1.raw", "test:f3.raw"}},
		{name: "named query", src: "query test:good_reco", want: []string{"test:f1.reco", "test:f3.reco"}},
		{name: "named query params", src: "query test:runs(min=3)", want: []string{"test:f3.raw"}},
		{name: "filter", src: "filter every_nth(2)(files from test:raw)", want: []string{"test:f1.raw", "test:f3.raw"}},
		{name: "minus", src: "files from test:raw - files from test:calib", want: []string{"test:f1.raw", "test:f2.raw"}},
		{name: "parents", src: "parents(files from test:reco_v2)", want: []string{"test:f3.reco"}},
		{name: "caller limit", src: "files from test:raw", limit: 1, want: []string{"test:f1.raw"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := mql.Compile(ctx, tt.src, mql.Options{
				DefaultNamespace: "test",
				Queries:          m,
				Filters:          reg,
			})
			require.NoError(t, err)
			s, err := q.Evaluate(ctx, m, reg, false, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(t, s))
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	ctx := context.Background()
	m := corpus(t)

	tests := []struct {
		name string
		src  string
		opts mql.Options
		code qerr.Code
	}{
		{name: "syntax", src: "files from", code: qerr.CodeSyntax},
		{name: "no namespace", src: "files from raw", code: qerr.CodeNamespace},
		{name: "unknown query", src: "query test:nope", opts: mql.Options{Queries: m}, code: qerr.CodeUnknownNamedQuery},
		{name: "unknown filter", src: "filter nope()(files from test:raw)", opts: mql.Options{Filters: filters.Builtins()}, code: qerr.CodeUnknownFilter},
		{name: "unbound", src: "files from test:raw where run > $x", code: qerr.CodeUnboundParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mql.Compile(ctx, tt.src, tt.opts)
			require.Error(t, err)
			assert.True(t, qerr.Has(err, tt.code), "got %v", err)
		})
	}
}

func TestCompile_Params(t *testing.T) {
	ctx := context.Background()
	m := corpus(t)
	q, err := mql.Compile(ctx, "files from test:raw where run > $x", mql.Options{
		Params: map[string]ir.Value{"x": ir.Int(2)},
	})
	require.NoError(t, err)
	s, err := q.Evaluate(ctx, m, nil, false, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"test:f3.raw"}, names(t, s))
}

func TestCompiledQuery_IDs(t *testing.T) {
	ctx := context.Background()
	a, err := mql.Compile(ctx, "files from test:raw", mql.Options{})
	require.NoError(t, err)
	b, err := mql.Compile(ctx, "files from test:raw", mql.Options{})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 7, int(a.ID.Version()))
	assert.Equal(t, a.PrettyPrint(), b.PrettyPrint())
	assert.Equal(t, "files from test:raw", a.Source)
}

func TestCompiledQuery_JSON(t *testing.T) {
	q, err := mql.Compile(context.Background(), "files from test:raw where run > 1", mql.Options{})
	require.NoError(t, err)
	data, err := q.JSON()
	require.NoError(t, err)
	var v map[string]any
	require.NoError(t, json.Unmarshal(data, &v))
	assert.NotEmpty(t, v)
}

func TestDatasets(t *testing.T) {
	ctx := context.Background()
	m := corpus(t)

	q, err := mql.Compile(ctx, "datasets raw with children having dataset.frozen = true", mql.Options{DefaultNamespace: "test"})
	require.NoError(t, err)
	assert.True(t, q.SelectsDatasets())
	got, err := q.Datasets(ctx, m)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "test:reco", got[0].Namespace+":"+got[0].Name)

	files, err := mql.Compile(ctx, "files from test:raw", mql.Options{})
	require.NoError(t, err)
	assert.False(t, files.SelectsDatasets())
	_, err = files.Datasets(ctx, m)
	assert.Error(t, err)
	_, err = q.Evaluate(ctx, m, nil, false, 0)
	assert.Error(t, err)
}

func TestToSQL(t *testing.T) {
	ctx := context.Background()
	q, err := mql.Compile(ctx, `union(files from test:raw where run > 1, files from test:calib) - files test:f1.raw`, mql.Options{})
	require.NoError(t, err)

	lite, err := q.ToSQL(querysql.DialectSQLite)
	require.NoError(t, err)
	require.Len(t, lite, 2, "file lists have no SQL")
	assert.Contains(t, lite[0].SQL, "FROM files f")
	assert.Contains(t, lite[0].SQL, "json_extract")
	assert.NotEmpty(t, lite[0].Args)
	assert.Contains(t, lite[0].Node, "test:raw")
	assert.NotContains(t, lite[1].SQL, "json_extract")

	pg, err := q.ToSQL(querysql.DialectPostgres)
	require.NoError(t, err)
	require.Len(t, pg, 2)
	assert.Contains(t, pg[0].SQL, "metadata")
	assert.Equal(t, "true", pg[1].SQL)
	assert.Equal(t, "true", pg[1].Having)
	assert.Empty(t, pg[0].Args)

	_, err = q.ToSQL("oracle")
	assert.ErrorContains(t, err, "unknown SQL dialect")
}

func TestToSQL_Datasets(t *testing.T) {
	q, err := mql.Compile(context.Background(), `datasets matching test:* having run_type = "physics"`, mql.Options{})
	require.NoError(t, err)

	lite, err := q.ToSQL(querysql.DialectSQLite)
	require.NoError(t, err)
	require.Len(t, lite, 1)
	assert.Contains(t, lite[0].SQL, "FROM datasets d")

	pg, err := q.ToSQL(querysql.DialectPostgres)
	require.NoError(t, err)
	require.Len(t, pg, 1)
	assert.Contains(t, pg[0].Having, "physics")
}

// Printing a compiled query and compiling the text again reaches a fixed
// point after one round.
func TestCompile_PrettyPrintFixedPoint(t *testing.T) {
	ctx := context.Background()
	m := corpus(t)
	reg := filters.Builtins()
	opts := mql.Options{DefaultNamespace: "test", Queries: m, Filters: reg}

	for _, src := range []string{
		"files from raw where run >= 2",
		`files from raw where tags[all] = "good"`,
		"files from raw where not (run = 1 or energy in 1:3)",
		`files from raw where detector["name"] ~* "^N.a"`,
		`files from raw where note = "say \"hi\"\tthen\\leave"`,
		"files from raw where title = \"café\"",
		`files from raw where "good" in tags and detector present`,
		"files from raw where run in (1, 3) or len(tags) = 2",
		"files from raw skip 1 limit 2",
		"union(files from raw, files from reco) - files from calib - files test:f2.raw",
		`children(files from raw where run = 3) where version = "v1"`,
		"parents(union(files from reco, files from reco_v2))",
		"filter every_nth(2, offset=1)(files from raw with children recursively)",
		"fids f1, r3",
		"query good_reco",
		"query runs(min=3)",
		`files from matching regexp "r.w" where file.size > 100`,
		"datasets matching re* with children having dataset.frozen = true",
	} {
		t.Run(src, func(t *testing.T) {
			first, err := mql.Compile(ctx, src, opts)
			require.NoError(t, err)
			second, err := mql.Compile(ctx, first.PrettyPrint(), opts)
			require.NoError(t, err, first.PrettyPrint())
			assert.Equal(t, first.PrettyPrint(), second.PrettyPrint())
		})
	}
}

// unoptimized evaluates src exactly as assembled, with no pushdown.
func unoptimized(t *testing.T, m *catalog.Memory, reg *filters.Registry, src string) []string {
	t.Helper()
	ctx := context.Background()
	n, err := compiler.Compile(ctx, src, m, reg, compiler.Options{DefaultNamespace: "test"}, nil)
	require.NoError(t, err)
	s, err := engine.NewEvaluator(m, reg, 0, nil).Evaluate(ctx, n, engine.Options{})
	require.NoError(t, err)
	return names(t, s)
}

func optimized(t *testing.T, m *catalog.Memory, reg *filters.Registry, src string) []string {
	t.Helper()
	ctx := context.Background()
	q, err := mql.Compile(ctx, src, mql.Options{DefaultNamespace: "test", Queries: m, Filters: reg})
	require.NoError(t, err)
	s, err := q.Evaluate(ctx, m, reg, false, 0)
	require.NoError(t, err)
	return names(t, s)
}

func TestOptimize_PreservesResults(t *testing.T) {
	m := corpus(t)
	reg := filters.Builtins()

	for _, src := range []string{
		"parents(union(files from reco, files from reco_v2))",
		"children(union(files from raw where run = 1, files from calib))",
		"parents(children(files from raw)) where run >= 2",
		"children(files from raw) where version = \"v1\" limit 1",
		"filter every_nth(2)(files from raw with children recursively) where run = 3",
		"filter sample(0.5, seed=3)(union(files from raw, files from reco)) where run > 1",
		"filter every_nth(2)(parents(union(files from reco, files from reco_v2)))",
		`union(files from raw, files from reco) where tags[any] = "good" limit 2`,
		"(files from raw - files from calib) where run > 1 skip 1",
		"join(files from raw, files from calib where energy > 4) where file.size >= 300",
		"query good_reco",
	} {
		t.Run(src, func(t *testing.T) {
			assert.ElementsMatch(t, unoptimized(t, m, reg, src), optimized(t, m, reg, src))
		})
	}
}

func TestProvenance_DistributesOverUnion(t *testing.T) {
	m := corpus(t)
	reg := filters.Builtins()

	tests := []struct {
		grouped, distributed string
		want                 []string
	}{
		{
			grouped:     "parents(union(files from reco, files from reco_v2))",
			distributed: "union(parents(files from reco), parents(files from reco_v2))",
			want:        []string{"test:f1.raw", "test:f3.raw", "test:f3.reco"},
		},
		{
			grouped:     "children(union(files from raw where run = 1, files from calib))",
			distributed: "union(children(files from raw where run = 1), children(files from calib))",
			want:        []string{"test:f1.reco", "test:f3.reco"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.grouped, func(t *testing.T) {
			for _, eval := range []func(*testing.T, *catalog.Memory, *filters.Registry, string) []string{unoptimized, optimized} {
				assert.ElementsMatch(t, tt.want, eval(t, m, reg, tt.grouped))
				assert.ElementsMatch(t, tt.want, eval(t, m, reg, tt.distributed))
			}
		})
	}
}

func TestCompiledQuery_Warnings(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		src  string
		want []string
	}{
		{name: "portable", src: `files from raw where run in 1:3 and name ~ "^f[0-9]"`},
		{name: "word boundary", src: `files from raw where name ~ "\\bf1"`, want: []string{`name: word boundaries in "\\bf1" are not POSIX`}},
		{name: "reversed range", src: "files from raw where run in 5:1", want: []string{"run: empty range 5:1"}},
		{name: "above provenance", src: "parents(files from reco) where run in 5:1", want: []string{"run: empty range 5:1"}},
		{name: "dataset having", src: "datasets matching * having year in 2030:2020", want: []string{"year: empty range 2030:2020"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := mql.Compile(ctx, tt.src, mql.Options{DefaultNamespace: "test"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.Warnings())
		})
	}
}
