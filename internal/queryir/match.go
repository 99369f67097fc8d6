package queryir

import (
	"encoding/json"
	"regexp"
	"strings"
	"sync"

	"github.com/ivmfnal/metacat-sub001/internal/ir"
	"github.com/ivmfnal/metacat-sub001/internal/qerr"
)

// Scope resolves attribute names for one kind of record. Names under
// Prefix address fixed columns; every other name is a metadata key.
type Scope struct {
	Prefix  string
	Columns map[string]bool
}

func newScope(prefix string, columns []string) Scope {
	s := Scope{Prefix: prefix, Columns: make(map[string]bool, len(columns))}
	for _, c := range columns {
		s.Columns[c] = true
	}
	return s
}

var (
	// FileScope addresses file columns as file.<column>.
	FileScope = newScope("file.", ir.FileColumns)
	// DatasetScope addresses dataset columns as dataset.<column>.
	DatasetScope = newScope("dataset.", ir.DatasetColumns)
)

// Resolve returns the column an attribute name addresses, or isColumn
// false for a metadata key. An unknown column under the reserved prefix is
// CodeUnknownAttribute.
func (s Scope) Resolve(name string) (column string, isColumn bool, err error) {
	col, ok := strings.CutPrefix(name, s.Prefix)
	if !ok {
		return "", false, nil
	}
	if !s.Columns[col] {
		return "", false, qerr.New(qerr.CodeUnknownAttribute, "unknown attribute %s", name)
	}
	return col, true, nil
}

// CheckTerm validates the attribute of t against the scope: the column
// must exist and must be read as a scalar.
func (s Scope) CheckTerm(t Term) (column string, isColumn bool, err error) {
	acc := t.Attribute()
	column, isColumn, err = s.Resolve(acc.Name)
	if err != nil || !isColumn {
		return column, isColumn, err
	}
	if acc.Kind != AccessScalar {
		return "", false, qerr.New(qerr.CodeTypeMismatch, "column %s cannot be read as %s", acc.Name, acc)
	}
	return column, true, nil
}

// Record is anything a Matcher can test: ir.File and ir.Dataset.
type Record interface {
	Column(name string) (any, bool)
	Meta() map[string]any
}

// Matcher evaluates DNF expressions against records in memory. It caches
// compiled regular expressions and is safe for concurrent use.
type Matcher struct {
	scope Scope

	mu      sync.Mutex
	regexps map[string]*regexp.Regexp
}

// NewMatcher returns a Matcher resolving names in scope.
func NewMatcher(scope Scope) *Matcher {
	return &Matcher{scope: scope, regexps: make(map[string]*regexp.Regexp)}
}

// Match reports whether rec satisfies e. A nil e matches everything.
func (m *Matcher) Match(e *Or, rec Record) (bool, error) {
	if e == nil {
		return true, nil
	}
	for _, c := range e.Children {
		ok, err := m.conjunction(c.(*And), rec)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func (m *Matcher) conjunction(and *And, rec Record) (bool, error) {
	for _, c := range and.Children {
		ok, err := m.term(c.(Term), rec)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (m *Matcher) term(t Term, rec Record) (bool, error) {
	acc := t.Attribute()
	column, isColumn, err := m.scope.CheckTerm(t)
	if err != nil {
		return false, err
	}

	var raw any
	var found bool
	if isColumn {
		raw, found = rec.Column(column)
	} else {
		raw, found = rec.Meta()[acc.Name]
	}

	if acc.Kind == AccessAny {
		hit := false
		if found {
			for _, elem := range elements(raw) {
				ok, err := m.element(t, elem)
				if err != nil {
					return false, err
				}
				if ok {
					hit = true
					break
				}
			}
		}
		return hit != negated(t), nil
	}

	val, found := access(acc, raw, found)
	if p, ok := t.(*Present); ok {
		return found != p.Negated, nil
	}
	if !found || val == nil {
		return false, nil
	}
	return m.element(t, val)
}

func negated(t Term) bool {
	switch x := t.(type) {
	case *Cmp:
		return x.Negated
	case *InRange:
		return x.Negated
	case *InSet:
		return x.Negated
	case *Present:
		return x.Negated
	}
	return false
}

// elements returns the items of an array value; a scalar is a one-element
// array, matching how JSON stores iterate scalars.
func elements(v any) []any {
	if arr, ok := v.([]any); ok {
		return arr
	}
	if v == nil {
		return nil
	}
	return []any{v}
}

func access(acc Accessor, v any, found bool) (any, bool) {
	if !found {
		return nil, false
	}
	switch acc.Kind {
	case AccessIndex:
		arr, ok := v.([]any)
		if !ok || acc.Index < 0 || acc.Index >= len(arr) {
			return nil, false
		}
		return arr[acc.Index], true
	case AccessKey:
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		val, ok := obj[acc.Key]
		return val, ok
	case AccessLength:
		arr, ok := v.([]any)
		if !ok {
			return nil, false
		}
		return float64(len(arr)), true
	}
	return v, true
}

// element applies the element test of t to one value.
func (m *Matcher) element(t Term, v any) (bool, error) {
	switch x := t.(type) {
	case *Cmp:
		return m.compare(v, x.Op, x.Value)
	case *InRange:
		lo, err := m.compare(v, OpGE, x.Low)
		if err != nil {
			return false, err
		}
		hi, err := m.compare(v, OpLE, x.High)
		if err != nil {
			return false, err
		}
		return (lo && hi) != x.Not, nil
	case *InSet:
		member := false
		for _, want := range x.Values {
			eq, err := m.compare(v, OpEQ, want)
			if err != nil {
				return false, err
			}
			if eq {
				member = true
				break
			}
		}
		return member != x.Not, nil
	case *Present:
		return true, nil
	}
	return false, nil
}

func (m *Matcher) compare(v any, op Op, want ir.Value) (bool, error) {
	if p, ok := want.(ir.Param); ok {
		return false, qerr.New(qerr.CodeUnboundParameter, "parameter %s is not bound", p.Literal())
	}
	if op.IsRegex() {
		s, isString := v.(string)
		pattern, _ := want.Native().(string)
		matched := false
		if isString {
			re, err := m.regexp(pattern, op.CaseInsensitive())
			if err != nil {
				return false, err
			}
			matched = re.MatchString(s)
		}
		return matched != op.Negative(), nil
	}

	c, comparable := compareValues(v, want)
	if !comparable {
		return op == OpNE, nil
	}
	switch op {
	case OpLT:
		return c < 0, nil
	case OpLE:
		return c <= 0, nil
	case OpGT:
		return c > 0, nil
	case OpGE:
		return c >= 0, nil
	case OpEQ:
		return c == 0, nil
	case OpNE:
		return c != 0, nil
	}
	return false, nil
}

// compareValues orders a decoded metadata value against a constant.
// Values of different kinds are not comparable.
func compareValues(v any, want ir.Value) (int, bool) {
	if f, ok := toFloat(v); ok {
		var w float64
		switch x := want.(type) {
		case ir.Int:
			w = float64(x)
		case ir.Float:
			w = float64(x)
		default:
			return 0, false
		}
		switch {
		case f < w:
			return -1, true
		case f > w:
			return 1, true
		}
		return 0, true
	}
	switch x := v.(type) {
	case string:
		w, ok := want.(ir.String)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, string(w)), true
	case bool:
		w, ok := want.(ir.Bool)
		if !ok {
			return 0, false
		}
		return boolRank(x) - boolRank(bool(w)), true
	}
	return 0, false
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

func (m *Matcher) regexp(pattern string, fold bool) (*regexp.Regexp, error) {
	key := pattern
	if fold {
		key = "(?i)" + pattern
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if re, ok := m.regexps[key]; ok {
		return re, nil
	}
	re, err := regexp.Compile(key)
	if err != nil {
		return nil, qerr.Wrap(qerr.CodeSyntax, err, "invalid regular expression %q", pattern)
	}
	m.regexps[key] = re
	return re, nil
}
