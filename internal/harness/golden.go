package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/ivmfnal/metacat-sub001/internal/ir"
)

// toCanonicalMap converts a Result to a map[string]any for canonical JSON
// serialization. Errors are left out: a failing scenario already fails
// the test, and golden files only record what the queries returned.
func (r *Result) toCanonicalMap(name string) map[string]any {
	steps := make([]any, len(r.Steps))
	for i, s := range r.Steps {
		m := map[string]any{"query": s.Query}
		switch {
		case s.Error != "":
			m["error"] = s.Error
		case s.Datasets != nil:
			m["datasets"] = s.Datasets
		default:
			m["files"] = s.Files
		}
		steps[i] = m
	}
	return map[string]any{
		"scenario": name,
		"pass":     r.Pass,
		"steps":    steps,
	}
}

// RunWithGolden runs a scenario, fails t on any step mismatch, and
// compares the canonical JSON result with testdata/golden/<name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return err
	}
	for _, e := range result.Errors {
		t.Error(e)
	}
	return AssertGolden(t, scenario.Name, result)
}

// Snapshot renders a scenario result as the canonical JSON golden files
// hold.
func Snapshot(name string, result *Result) ([]byte, error) {
	return ir.MarshalCanonical(result.toCanonicalMap(name))
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := Snapshot(name, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
