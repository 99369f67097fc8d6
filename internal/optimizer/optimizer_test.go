package optimizer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivmfnal/metacat-sub001/internal/ast"
	"github.com/ivmfnal/metacat-sub001/internal/compiler"
	"github.com/ivmfnal/metacat-sub001/internal/qerr"
)

func compile(t *testing.T, src string) ast.Node {
	t.Helper()
	n, err := compiler.Compile(context.Background(), src, nil, nil, compiler.Options{}, nil)
	require.NoError(t, err)
	return n
}

func TestOptimize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		opts Options
		want string
	}{
		{
			name: "predicate copied into union branches",
			in:   "union(dataset test:A, dataset test:B) where i > 10",
			want: "union(files from test:A where i > 10, files from test:B where i > 10)",
		},
		{
			name: "predicate copied into join branches",
			in:   "join(dataset test:A, dataset test:B where b = true) where i > 10",
			want: "join(files from test:A where i > 10, files from test:B where b = true and i > 10)",
		},
		{
			name: "predicate applies to minus left side only",
			in:   "(dataset t:A - dataset t:B) where x = 1",
			want: "files from t:A where x = 1 - files from t:B",
		},
		{
			name: "nested predicates conjoined inner first",
			in:   "(dataset t:A where x = 1) where y = 2",
			want: "files from t:A where x = 1 and y = 2",
		},
		{
			name: "predicate stops at provenance",
			in:   "parents(dataset t:A) where x = 1",
			want: "parents(files from t:A) where x = 1",
		},
		{
			name: "predicate stops at filter",
			in:   "filter sample(0.5)(dataset t:A) where x = 1",
			want: "filter sample(0.5)(files from t:A) where x = 1",
		},
		{
			name: "predicate does not pass a limit",
			in:   "(dataset t:A limit 10) where x = 1",
			want: "files from t:A limit 10 where x = 1",
		},
		{
			name: "provenance distributed over union",
			in:   "parents(union(dataset test:A, dataset test:B))",
			want: "union(parents(files from test:A), parents(files from test:B))",
		},
		{
			name: "nested provenance distributed",
			in:   "children(parents(union(dataset t:A, dataset t:B)))",
			want: "union(children(parents(files from t:A)), children(parents(files from t:B)))",
		},
		{
			name: "provenance not distributed over join",
			in:   "parents(join(dataset t:A, dataset t:B))",
			want: "parents(join(files from t:A, files from t:B))",
		},
		{
			name: "limit into data source",
			in:   "(dataset test:A) limit 10",
			want: "files from test:A limit 10",
		},
		{
			name: "smaller limit wins",
			in:   "(dataset t:A limit 3) limit 5",
			want: "files from t:A limit 3",
		},
		{
			name: "outer limit wins when smaller",
			in:   "(dataset t:A limit 10) limit 5",
			want: "files from t:A limit 5",
		},
		{
			name: "union limit kept outside by default",
			in:   "union(dataset t:A, dataset t:B) limit 5",
			want: "union(files from t:A, files from t:B) limit 5",
		},
		{
			name: "union limit copied into branches when unordered",
			in:   "union(dataset t:A, parents(dataset t:B)) limit 5",
			opts: Options{UnorderedLimit: true},
			want: "union(files from t:A limit 5, parents(files from t:B) limit 5) limit 5",
		},
		{
			name: "nested limits over union merged before copying",
			in:   "(union(dataset t:A, dataset t:B) limit 9) limit 4",
			opts: Options{UnorderedLimit: true},
			want: "union(files from t:A limit 4, files from t:B limit 4) limit 4",
		},
		{
			name: "skip then limit into data source",
			in:   "dataset t:A skip 3 limit 10",
			want: "files from t:A skip 3 limit 10",
		},
		{
			name: "skip stays outside a limited source",
			in:   "dataset t:A limit 10 skip 3",
			want: "files from t:A limit 10 skip 3",
		},
		{
			name: "skips summed",
			in:   "(dataset t:A skip 2) skip 3",
			want: "files from t:A skip 5",
		},
		{
			name: "predicate, then limit",
			in:   "(dataset t:A where x = 1) limit 2",
			want: "files from t:A where x = 1 limit 2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			once, err := Optimize(compile(t, tt.in), tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ast.Print(once))

			twice, err := Optimize(once, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, ast.Print(once), ast.Print(twice), "not idempotent")
		})
	}
}

func TestOptimize_LimitReachesDescriptor(t *testing.T) {
	n, err := Optimize(compile(t, "(dataset test:A) limit 10"), Options{})
	require.NoError(t, err)

	ds, ok := n.(*ast.DataSource)
	require.True(t, ok)
	assert.Equal(t, 10, ds.Source.Limit)
}

func TestOptimize_PredicateTooComplex(t *testing.T) {
	n := compile(t, "(dataset t:A where a = 1 or a = 2) where b = 1 or b = 2")
	_, err := Optimize(n, Options{MaxDNFTerms: 3})
	require.Error(t, err)
	assert.Equal(t, qerr.CodeQueryTooComplex, qerr.CodeOf(err))
}

func TestPushProvenance_Idempotent(t *testing.T) {
	once, err := PushProvenance(compile(t, "parents(union(dataset t:A, children(union(dataset t:B, dataset t:C))))"))
	require.NoError(t, err)
	assert.Equal(t, "union(parents(files from t:A), parents(children(files from t:B)), parents(children(files from t:C)))", ast.Print(once))

	twice, err := PushProvenance(once)
	require.NoError(t, err)
	assert.Equal(t, ast.Print(once), ast.Print(twice))
}

func TestPushPredicates_Idempotent(t *testing.T) {
	once, err := PushPredicates(compile(t, "union(dataset t:A where b = true, parents(dataset t:B)) where i > 10"), 0)
	require.NoError(t, err)
	assert.Equal(t, "union(files from t:A where b = true and i > 10, parents(files from t:B) where i > 10)", ast.Print(once))

	twice, err := PushPredicates(once, 0)
	require.NoError(t, err)
	assert.Equal(t, ast.Print(once), ast.Print(twice))
}

func TestPushLimits_Idempotent(t *testing.T) {
	once, err := PushLimits(compile(t, "union(dataset t:A, dataset t:B limit 2) limit 5"), true)
	require.NoError(t, err)
	assert.Equal(t, "union(files from t:A limit 5, files from t:B limit 2) limit 5", ast.Print(once))

	twice, err := PushLimits(once, true)
	require.NoError(t, err)
	assert.Equal(t, ast.Print(once), ast.Print(twice))
}
