// Package qerr defines the error vocabulary shared by every stage of
// query compilation and evaluation.
package qerr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Code categorizes query errors.
type Code string

const (
	// CodeSyntax indicates the query text does not match the grammar.
	CodeSyntax Code = "SYNTAX_ERROR"

	// CodeNamespace indicates a name with no namespace and no default.
	CodeNamespace Code = "NAMESPACE_ERROR"

	// CodeUnresolvedNamespace indicates a dataset selector reached the
	// store without a namespace.
	CodeUnresolvedNamespace Code = "UNRESOLVED_NAMESPACE"

	// CodeUnknownAttribute indicates a reserved-scope column that does
	// not exist.
	CodeUnknownAttribute Code = "UNKNOWN_ATTRIBUTE"

	// CodeTypeMismatch indicates operands that cannot be compared.
	CodeTypeMismatch Code = "TYPE_MISMATCH"

	CodeUnknownFilter     Code = "UNKNOWN_FILTER"
	CodeUnknownNamedQuery Code = "UNKNOWN_NAMED_QUERY"

	// CodeCyclicQuery indicates a named query that references itself,
	// directly or through other named queries.
	CodeCyclicQuery Code = "CYCLIC_QUERY"

	CodeUnboundParameter Code = "UNBOUND_PARAMETER"

	// CodeQueryTooComplex indicates DNF expansion above the term bound.
	CodeQueryTooComplex Code = "QUERY_TOO_COMPLEX"

	// CodeFilter indicates a filter function failed.
	CodeFilter Code = "FILTER_ERROR"

	// CodeStore indicates the backing store failed. Never retried.
	CodeStore Code = "STORE_ERROR"

	CodeCancelled Code = "CANCELLED"
)

// Pos locates a token in query source. Line and Column are 1-based.
type Pos struct {
	Offset int `json:"offset"`
	Line   int `json:"line"`
	Column int `json:"column"`
}

// IsValid reports whether the position was set.
func (p Pos) IsValid() bool { return p.Line > 0 }

func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Error is the single error type returned by the query subsystem.
type Error struct {
	Code    Code
	Message string

	// Pos is set for errors tied to a location in query text.
	Pos Pos

	// Path holds the reference chain for CodeCyclicQuery.
	Path []string

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Pos.IsValid() {
		fmt.Fprintf(&b, " at %s", e.Pos)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors by code, so errors.Is(err, ErrCyclicQuery)
// holds for every cycle error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrSyntax              = &Error{Code: CodeSyntax}
	ErrNamespace           = &Error{Code: CodeNamespace}
	ErrUnresolvedNamespace = &Error{Code: CodeUnresolvedNamespace}
	ErrUnknownAttribute    = &Error{Code: CodeUnknownAttribute}
	ErrTypeMismatch        = &Error{Code: CodeTypeMismatch}
	ErrUnknownFilter       = &Error{Code: CodeUnknownFilter}
	ErrUnknownNamedQuery   = &Error{Code: CodeUnknownNamedQuery}
	ErrCyclicQuery         = &Error{Code: CodeCyclicQuery}
	ErrUnboundParameter    = &Error{Code: CodeUnboundParameter}
	ErrQueryTooComplex     = &Error{Code: CodeQueryTooComplex}
	ErrFilter              = &Error{Code: CodeFilter}
	ErrStore               = &Error{Code: CodeStore}
	ErrCancelled           = &Error{Code: CodeCancelled}
)

// New creates an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Syntax creates a CodeSyntax error at pos.
func Syntax(pos Pos, format string, args ...any) *Error {
	return &Error{Code: CodeSyntax, Message: fmt.Sprintf(format, args...), Pos: pos}
}

// Wrap attaches a code and message to a cause.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// Cycle creates a CodeCyclicQuery error for a reference chain whose last
// element repeats an earlier one.
func Cycle(path []string) *Error {
	return &Error{
		Code:    CodeCyclicQuery,
		Message: "named query cycle " + strings.Join(path, " → "),
		Path:    append([]string(nil), path...),
	}
}

// Store classifies a backend failure. Context errors become CodeCancelled
// and errors that already carry a code pass through unchanged.
func Store(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled(err)
	}
	var qe *Error
	if errors.As(err, &qe) {
		return err
	}
	return Wrap(CodeStore, err, "%s", op)
}

// Cancelled wraps a context error.
func Cancelled(err error) *Error {
	return &Error{Code: CodeCancelled, Message: "evaluation cancelled", Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if
// there is none.
func CodeOf(err error) Code {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Code
	}
	return ""
}

// Has reports whether err carries code.
func Has(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsCycle reports whether err is a named query cycle.
func IsCycle(err error) bool {
	return Has(err, CodeCyclicQuery)
}

// IsCancelled reports whether evaluation stopped because its context
// ended.
func IsCancelled(err error) bool {
	return Has(err, CodeCancelled)
}
