// Package harness runs query scenarios against both catalog backends.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: good_files
//	description: "Files tagged good, with and without the named query"
//	fixture: ../../catalog/testdata/corpus.yaml
//	namespace: test
//	params: { min: 2 }
//	steps:
//	  - query: files from raw where tags[any] = "good"
//	    expect:
//	      files: [test:f1.raw, test:f3.raw]
//	  - query: query test:nope
//	    expect:
//	      error: UNKNOWN_NAMED_QUERY
//
// The fixture path is relative to the scenario file. Each step is
// compiled and evaluated twice: against a catalog.Memory and against a
// SQLite store in a temporary directory, both loaded from the fixture.
// A step passes when the in-memory result matches expect and the store
// returns exactly the same files.
//
// # Expectations
//
//   - files: file DIDs in result order
//   - datasets: dataset DIDs, for datasets queries
//   - count: number of files or datasets
//   - error: the error code compilation or evaluation fails with
//
// # Golden Files
//
// RunWithGolden compares a scenario's canonical JSON result with
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
