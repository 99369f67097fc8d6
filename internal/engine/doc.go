// Package engine evaluates optimized query trees as streams of files.
//
// EVALUATION MODEL:
//
// Every node becomes a pull-based Stream. Leaves fetch from a Source
// (data sources, explicit file lists, provenance hops); combinators merge
// their operands by file identity:
//   - union keeps the first occurrence of each FID, in operand order
//   - join keeps files present in every operand, in first-operand order
//   - minus keeps left-operand files absent from the right operand
//
// Operands of union, join, minus and filter are evaluated concurrently
// under an errgroup and merged once all of them completed. Source fetches
// are bounded by a weighted semaphore: at most Concurrency cursors are
// open at a time.
//
// Metadata filters left in the tree after optimization run in process
// through queryir.Matcher.
//
// Cancellation: every Next checks its context; a cancelled evaluation
// returns a CANCELLED error and closes every cursor it opened. Source
// failures surface as STORE_ERROR and are never retried. Files already
// returned before a failure stay valid.
package engine
