// Package catalog holds an in-memory file catalog that implements the
// evaluator's Source and the compiler's QueryStore, and the YAML fixture
// format used to populate it or a persistent store.
package catalog
