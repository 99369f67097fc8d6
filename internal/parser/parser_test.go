package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivmfnal/metacat-sub001/internal/ast"
	"github.com/ivmfnal/metacat-sub001/internal/ir"
	"github.com/ivmfnal/metacat-sub001/internal/qerr"
	"github.com/ivmfnal/metacat-sub001/internal/queryir"
)

func TestTokenize(t *testing.T) {
	tokens, err := Tokenize(`files from mc:run_2024* where x[any] !~* 'a\'b' and len(t) >= -1.5e+3 # trailing`)
	require.NoError(t, err)

	var got []string
	for _, tok := range tokens {
		got = append(got, tok.Type.String()+":"+tok.Value)
	}
	assert.Equal(t, []string{
		"name:files", "name:from", "name:mc", "':'::", "name:run_2024*",
		"name:where", "name:x", "'['':[", "name:any", "']'':]", "operator:!~*", "string:a'b",
		"name:and", "name:len", "'('':(", "name:t", "')'':)", "operator:>=", "'-'':-", "number:1.5e+3",
		"end of query:",
	}, got)
}

func TestTokenize_NumbersAndNames(t *testing.T) {
	tests := []struct {
		in   string
		typ  TokenType
		want string
	}{
		{"42", TokenInt, "42"},
		{"4.25", TokenFloat, "4.25"},
		{"1e-3", TokenFloat, "1e-3"},
		{"2024-run", TokenName, "2024-run"},
		{"0190f3a2-7c1e", TokenName, "0190f3a2-7c1e"},
		{"1.2.3", TokenName, "1.2.3"},
		{`"tab\there"`, TokenString, "tab\there"},
		{`"é"`, TokenString, "é"},
		{"$run", TokenParam, "run"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			tokens, err := Tokenize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.typ, tokens[0].Type)
			assert.Equal(t, tt.want, tokens[0].Value)
		})
	}
}

func TestTokenize_Positions(t *testing.T) {
	tokens, err := Tokenize("files\n  from x")
	require.NoError(t, err)
	assert.Equal(t, qerr.Pos{Offset: 8, Line: 2, Column: 3}, tokens[1].Pos)
}

func TestParse_RoundTrip(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"dataset test:A", "files from test:A"},
		{"files from test:A, matching test:B* with children recursively having frozen = true", "files from test:A, matching test:B* with children recursively having frozen = true"},
		{`files from matching regexp test:"^r\d+$"`, `files from matching regexp test:"^r\\d+$"`},
		{"dataset test:A where i < 10 and b = true", "files from test:A where i < 10 and b = true"},
		{"dataset test:A where not (i < 10 or b = true)", "files from test:A where !(i < 10 or b = true)"},
		{"[dataset test:A, dataset test:B] - dataset test:C", "union(files from test:A, files from test:B) - files from test:C"},
		{"{dataset test:A, dataset test:B}", "join(files from test:A, files from test:B)"},
		{"dataset test:A - (dataset test:B - dataset test:C)", "files from test:A - (files from test:B - files from test:C)"},
		{"(dataset test:A - dataset test:B) limit 5", "(files from test:A - files from test:B) limit 5"},
		{"parents(children(dataset test:A)) skip 3 limit 10", "parents(children(files from test:A)) skip 3 limit 10"},
		{"files test:a.dat, test:b.dat where x present", "files test:a.dat, test:b.dat where x present"},
		{"fids 101, f-2, \"x y\"", `fids "101", f-2, "x y"`},
		{"filter sample(0.25, seed=3)(dataset test:A, dataset test:B)", "filter sample(0.25, seed=3)(files from test:A, files from test:B)"},
		{"query mc:raw(run=7, tier=\"x\")", `query mc:raw(run=7, tier="x")`},
		{`with namespace="test" dataset A - dataset B`, `with namespace="test" (files from A - files from B)`},
		{`union(with namespace="x" dataset A, dataset y:B)`, `union(with namespace="x" files from A, files from y:B)`},
		{"datasets test:* having dataset.frozen = false", "datasets test:* having dataset.frozen = false"},
		{`dataset test:A where "x" in tags`, `files from test:A where tags[any] = "x"`},
		{"dataset test:A where t[all] > 3 and m[\"k\"] ~ 'v' and a[2] != 1", `files from test:A where t[all] > 3 and m["k"] ~ "v" and a[2] != 1`},
		{"dataset test:A where x not in 1:5 and y in (1, 2.5, 'z') and z not present", `files from test:A where x not in 1:5 and y in (1, 2.5, "z") and z not present`},
		{"dataset test:A where x = $threshold", "files from test:A where x = $threshold"},
		{"dataset test:A where len(t) = 2", "files from test:A where len(t) = 2"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			n, err := Parse(tt.in)
			require.NoError(t, err)
			got := ast.Print(n)
			assert.Equal(t, tt.want, got)

			again, err := Parse(got)
			require.NoError(t, err)
			assert.Equal(t, got, ast.Print(again))
		})
	}
}

func TestParse_Structure(t *testing.T) {
	n, err := Parse("dataset test:A where i < 10 and b = true")
	require.NoError(t, err)

	mf, ok := n.(*ast.MetaFilter)
	require.True(t, ok)
	bfq, ok := mf.Child.(*ast.BasicFileQuery)
	require.True(t, ok)
	assert.Equal(t, []queryir.DatasetSelector{{Namespace: "test", Name: "A"}}, bfq.Datasets.Selectors)

	and, ok := mf.Where.(*queryir.And)
	require.True(t, ok)
	assert.Equal(t, &queryir.Cmp{Attr: queryir.Attr("i"), Op: queryir.OpLT, Value: ir.Int(10)}, and.Children[0])
	assert.Equal(t, &queryir.Cmp{Attr: queryir.Attr("b"), Op: queryir.OpEQ, Value: ir.Bool(true)}, and.Children[1])
}

func TestParse_DatasetListStopsAtKeyword(t *testing.T) {
	n, err := Parse("union(files from test:A, files from test:B, mc:files)")
	require.NoError(t, err)

	u := n.(*ast.Union)
	require.Len(t, u.Children, 2)
	second := u.Children[1].(*ast.BasicFileQuery)
	assert.Len(t, second.Datasets.Selectors, 2)
	assert.Equal(t, "files", second.Datasets.Selectors[1].Name)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		in     string
		column int
		msg    string
	}{
		{"dataset test:A where", 21, "expected name"},
		{"dataset test:A where x", 23, "expected comparison"},
		{"dataset test:A where x[any] present", 22, "present cannot test"},
		{"union()", 7, "empty list"},
		{"dataset test:A )", 16, "unexpected"},
		{"dataset test:A where x = 'open", 26, "unterminated string"},
		{"dataset test:A limit x", 22, "expected integer"},
		{"filter f(a=1, 2)(dataset t:A)", 15, "positional argument"},
		{"dataset test:A where x @ 1", 24, "unexpected character"},
		{"dataset test:A where x[foo] = 1", 24, "expected index"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := Parse(tt.in)
			require.Error(t, err)

			var qe *qerr.Error
			require.ErrorAs(t, err, &qe)
			assert.Equal(t, qerr.CodeSyntax, qe.Code)
			assert.Equal(t, tt.column, qe.Pos.Column, qe.Error())
			assert.Contains(t, qe.Message, tt.msg)
		})
	}
}

func TestParse_DepthLimit(t *testing.T) {
	src := "dataset t:A where "
	for i := 0; i < MaxDepth; i++ {
		src += "("
	}
	src += "x = 1"
	for i := 0; i < MaxDepth; i++ {
		src += ")"
	}
	_, err := Parse(src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nested deeper")
}

func TestParseExpression(t *testing.T) {
	e, err := ParseExpression("a = 1 or b = 2")
	require.NoError(t, err)
	assert.Equal(t, "a = 1 or b = 2", queryir.Format(e))

	_, err = ParseExpression("a = 1 b")
	assert.Error(t, err)
}
