package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivmfnal/metacat-sub001/internal/ir"
	"github.com/ivmfnal/metacat-sub001/internal/parser"
)

func nq(ns, name, src string) ir.NamedQuery {
	return ir.NamedQuery{Namespace: ns, Name: name, Source: src}
}

func TestAnalyzeCycles_Empty(t *testing.T) {
	assert.Empty(t, AnalyzeCycles(nil))
}

func TestAnalyzeCycles_DAG(t *testing.T) {
	warnings := AnalyzeCycles([]ir.NamedQuery{
		nq("t", "a", "union(query b, query c)"),
		nq("t", "b", "query c"),
		nq("t", "c", "dataset X"),
	})
	assert.Empty(t, warnings)
}

func TestAnalyzeCycles_TwoQueries(t *testing.T) {
	warnings := AnalyzeCycles([]ir.NamedQuery{
		nq("t", "b", "query a where x = 1"),
		nq("t", "a", "query b"),
		nq("t", "c", "query a"),
	})
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"t:a", "t:b", "t:a"}, warnings[0].Path)
	assert.Equal(t, "warning", warnings[0].Level)
	assert.Contains(t, warnings[0].Message, "t:a → t:b → t:a")
}

func TestAnalyzeCycles_SelfReference(t *testing.T) {
	warnings := AnalyzeCycles([]ir.NamedQuery{
		nq("t", "s", "dataset X - query s"),
	})
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"t:s", "t:s"}, warnings[0].Path)
}

func TestAnalyzeCycles_CrossNamespace(t *testing.T) {
	warnings := AnalyzeCycles([]ir.NamedQuery{
		nq("a", "x", "query b:y"),
		nq("b", "y", `with namespace="a" query x`),
	})
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"a:x", "b:y", "a:x"}, warnings[0].Path)
}

func TestAnalyzeCycles_ParseError(t *testing.T) {
	warnings := AnalyzeCycles([]ir.NamedQuery{
		nq("t", "bad", "union("),
	})
	require.Len(t, warnings, 1)
	assert.Equal(t, "error", warnings[0].Level)
	assert.Equal(t, []string{"t:bad"}, warnings[0].Path)
}

func TestReferences(t *testing.T) {
	n, err := parser.Parse(`with namespace="x" union(query a, query y:b, query a, with namespace="z" query c)`)
	require.NoError(t, err)

	assert.Equal(t, []ir.DID{
		{Namespace: "x", Name: "a"},
		{Namespace: "y", Name: "b"},
		{Namespace: "z", Name: "c"},
	}, References(n, "default"))
}
