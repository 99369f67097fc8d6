// Package ir holds the catalog entities the query subsystem reads (files,
// datasets, named queries) and the literal values that appear in MQL
// expressions.
//
// ir has no internal imports. Every other package may depend on it.
package ir
