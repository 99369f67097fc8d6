package harness

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunWithGolden(t *testing.T) {
	for _, name := range []string{"files", "errors", "datasets"} {
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
			require.NoError(t, err)
			require.NoError(t, RunWithGolden(t, s))
		})
	}
}

func TestAssertGolden_Canonical(t *testing.T) {
	r := NewResult()
	r.Steps = append(r.Steps, StepResult{Query: "files from", Error: "SYNTAX_ERROR"})
	m := r.toCanonicalMap("x")
	require.Equal(t, true, m["pass"])
	require.Equal(t, "x", m["scenario"])
	steps := m["steps"].([]any)
	require.Equal(t, map[string]any{"query": "files from", "error": "SYNTAX_ERROR"}, steps[0])
}
