// Package queryir holds the boolean metadata expressions of MQL and the
// data-source descriptor that carries them to a store.
//
// Expressions are sealed interfaces: only types in this package implement
// BoolExpr and Term, so backends can switch exhaustively.
//
//	switch t := term.(type) {
//	case *Cmp:
//	case *InRange:
//	case *InSet:
//	case *Present:
//	}
//
// Raw expressions come straight from the parser and may nest Or, And and
// Not freely. Normalize rewrites them to disjunctive normal form: an *Or
// of *And of terms, negation folded into the terms and [all] quantifiers
// rewritten as negated [any]. Everything downstream of conversion (the
// optimizer, SQL generation, in-memory matching) only sees DNF.
//
// DataSource is the immutable descriptor of a "files from" query. Its
// Add* methods return modified copies.
package queryir
