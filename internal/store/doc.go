// Package store is the SQLite-backed file catalog.
//
// It implements engine.Source by compiling data sources to SQL with
// querysql, compiler.QueryStore over the queries table, and
// catalog.Loader for fixtures.
//
// # Tables
//
//   - datasets: one row per dataset, parent link as (parent_namespace, parent_name)
//   - files: one row per file, unique by (namespace, name)
//   - files_datasets: dataset membership
//   - parent_child: file provenance edges
//   - queries: named query bodies and default parameters
//
// Metadata is stored as canonical JSON and queried with the JSON1
// functions. The driver registers a regexp(pattern, value) function so
// REGEXP works; it uses Go regexp syntax.
//
// # Ordering
//
// File statements end with ORDER BY namespace, name COLLATE BINARY so
// results match the in-memory catalog byte for byte.
//
// # Database Configuration
//
// Every connection gets:
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
package store
