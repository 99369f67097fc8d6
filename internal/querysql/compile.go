// Package querysql turns query model values into SQL.
//
// SQLCompiler produces parameterized SQLite statements over the store
// schema, with JSON1 functions for metadata and a REGEXP function the
// store registers on its driver. Postgres renders predicates as literal
// text over a JSONB column using jsonpath, for backends that issue their
// own SQL.
package querysql

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ivmfnal/metacat-sub001/internal/ir"
	"github.com/ivmfnal/metacat-sub001/internal/qerr"
	"github.com/ivmfnal/metacat-sub001/internal/queryir"
)

// SQLCompiler compiles query model values to parameterized SQLite SQL.
//
// Values and JSON paths are always bound as parameters, never
// interpolated. Every statement ends in ORDER BY namespace, name with
// COLLATE BINARY so results are deterministic.
//
// Generated predicates follow queryir.Matcher: a missing or JSON null
// value fails every test but "not present"; values of another kind than
// the constant fail every comparison except !=; regular expressions only
// match strings.
type SQLCompiler struct {
	target Target
}

// NewSQLCompiler creates a compiler for predicates over target.
func NewSQLCompiler(target Target) *SQLCompiler {
	return &SQLCompiler{target: target}
}

// builder accumulates SQL text and its arguments in placeholder order.
type builder struct {
	strings.Builder
	args []any
}

func (b *builder) arg(v any) {
	b.WriteByte('?')
	b.args = append(b.args, v)
}

// operand is something a term tests: its value and its JSON type name
// ('integer', 'real', 'text', 'true', 'false', 'null', 'array' or
// 'object'; NULL when absent).
type operand struct {
	value func(b *builder)
	kind  func(b *builder)
}

func literal(s string) func(b *builder) {
	return func(b *builder) { b.WriteString(s) }
}

// Predicate compiles a DNF expression to a SQL boolean expression.
// A nil expression is always true.
func (c *SQLCompiler) Predicate(e *queryir.Or) (string, []any, error) {
	var b builder
	if err := c.predicate(&b, e); err != nil {
		return "", nil, err
	}
	return b.String(), b.args, nil
}

func (c *SQLCompiler) predicate(b *builder, e *queryir.Or) error {
	if e == nil || len(e.Children) == 0 {
		b.WriteString("1 = 1")
		return nil
	}
	multi := len(e.Children) > 1
	for i, child := range e.Children {
		if i > 0 {
			b.WriteString(" OR ")
		}
		if multi {
			b.WriteByte('(')
		}
		and, ok := child.(*queryir.And)
		if !ok {
			return fmt.Errorf("expression is not in DNF: %T", child)
		}
		for j, t := range and.Children {
			if j > 0 {
				b.WriteString(" AND ")
			}
			term, ok := t.(queryir.Term)
			if !ok {
				return fmt.Errorf("expression is not in DNF: %T", t)
			}
			if err := c.term(b, term); err != nil {
				return err
			}
		}
		if multi {
			b.WriteByte(')')
		}
	}
	return nil
}

func (c *SQLCompiler) term(b *builder, t queryir.Term) error {
	acc := t.Attribute()
	column, isColumn, err := c.target.Scope.CheckTerm(t)
	if err != nil {
		return err
	}
	if isColumn {
		return c.columnTerm(b, column, t)
	}

	meta := c.target.meta()
	path := jsonPath(acc)

	if p, ok := t.(*queryir.Present); ok {
		b.WriteString("json_type(" + meta + ", ")
		b.arg(path)
		if p.Negated {
			b.WriteString(") IS NULL")
		} else {
			b.WriteString(") IS NOT NULL")
		}
		return nil
	}

	switch acc.Kind {
	case queryir.AccessAny:
		// An object is a single element, like a scalar; only arrays are
		// iterated element by element.
		if isNegated(t) {
			b.WriteString("NOT ")
		}
		b.WriteString("(CASE WHEN json_type(" + meta + ", ")
		b.arg(path)
		b.WriteString(") IS 'object' THEN ")
		if err := c.element(b, extracted(meta, path), t); err != nil {
			return err
		}
		b.WriteString(" ELSE EXISTS (SELECT 1 FROM json_each(" + meta + ", ")
		b.arg(path)
		b.WriteString(") AS e WHERE ")
		if err := c.element(b, operand{value: literal("e.value"), kind: literal("e.type")}, t); err != nil {
			return err
		}
		b.WriteString(") END)")
		return nil

	case queryir.AccessLength:
		op := operand{
			value: func(b *builder) {
				b.WriteString("json_array_length(" + meta + ", ")
				b.arg(path)
				b.WriteByte(')')
			},
			kind: func(b *builder) {
				b.WriteString("CASE WHEN json_type(" + meta + ", ")
				b.arg(path)
				b.WriteString(") = 'array' THEN 'integer' END")
			},
		}
		b.WriteByte('(')
		op.kind(b)
		b.WriteString(" IS NOT NULL AND ")
		if err := c.element(b, op, t); err != nil {
			return err
		}
		b.WriteByte(')')
		return nil
	}

	op := extracted(meta, path)
	b.WriteByte('(')
	op.kind(b)
	b.WriteString(" != 'null' AND ")
	if err := c.element(b, op, t); err != nil {
		return err
	}
	b.WriteByte(')')
	return nil
}

// extracted is the value at path in the JSON column meta.
func extracted(meta, path string) operand {
	return operand{
		value: func(b *builder) {
			b.WriteString("json_extract(" + meta + ", ")
			b.arg(path)
			b.WriteByte(')')
		},
		kind: func(b *builder) {
			b.WriteString("json_type(" + meta + ", ")
			b.arg(path)
			b.WriteByte(')')
		},
	}
}

func (c *SQLCompiler) columnTerm(b *builder, column string, t queryir.Term) error {
	col := c.target.column(column)
	nullable := c.target.Nullable[column]

	if p, ok := t.(*queryir.Present); ok {
		switch {
		case !nullable && p.Negated:
			b.WriteString("0")
		case !nullable:
			b.WriteString("1")
		case p.Negated:
			b.WriteString(col + " IS NULL")
		default:
			b.WriteString(col + " IS NOT NULL")
		}
		return nil
	}

	var kind string
	switch c.target.Columns[column] {
	case KindInteger:
		kind = "'integer'"
	case KindBool:
		kind = "CASE WHEN " + col + " THEN 'true' ELSE 'false' END"
	default:
		kind = "'text'"
	}
	op := operand{value: literal(col), kind: literal(kind)}

	if !nullable {
		return c.element(b, op, t)
	}
	b.WriteString("(" + col + " IS NOT NULL AND ")
	if err := c.element(b, op, t); err != nil {
		return err
	}
	b.WriteByte(')')
	return nil
}

// element writes the test of t against one value of known type.
func (c *SQLCompiler) element(b *builder, op operand, t queryir.Term) error {
	switch x := t.(type) {
	case *queryir.Cmp:
		if x.Op.IsRegex() {
			return c.regexp(b, op, x)
		}
		kinds, arg, err := sqlValue(x.Value)
		if err != nil {
			return err
		}
		b.WriteByte('(')
		op.kind(b)
		if x.Op == queryir.OpNE {
			b.WriteString(" NOT IN " + kinds + " OR ")
			op.value(b)
			b.WriteString(" != ")
		} else {
			b.WriteString(" IN " + kinds + " AND ")
			op.value(b)
			b.WriteString(" " + sqlOp(x.Op) + " ")
		}
		b.arg(arg)
		b.WriteByte(')')
		return nil

	case *queryir.InRange:
		kinds, low, err := sqlValue(x.Low)
		if err != nil {
			return err
		}
		_, high, err := sqlValue(x.High)
		if err != nil {
			return err
		}
		b.WriteByte('(')
		op.kind(b)
		if x.Not {
			b.WriteString(" NOT IN " + kinds + " OR NOT (")
		} else {
			b.WriteString(" IN " + kinds + " AND (")
		}
		op.value(b)
		b.WriteString(" >= ")
		b.arg(low)
		b.WriteString(" AND ")
		op.value(b)
		b.WriteString(" <= ")
		b.arg(high)
		b.WriteString("))")
		return nil

	case *queryir.InSet:
		if x.Not {
			b.WriteString("NOT ")
		}
		b.WriteByte('(')
		if len(x.Values) == 0 {
			b.WriteString("0")
		}
		for i, v := range x.Values {
			if i > 0 {
				b.WriteString(" OR ")
			}
			kinds, arg, err := sqlValue(v)
			if err != nil {
				return err
			}
			b.WriteByte('(')
			op.kind(b)
			b.WriteString(" IN " + kinds + " AND ")
			op.value(b)
			b.WriteString(" = ")
			b.arg(arg)
			b.WriteByte(')')
		}
		b.WriteByte(')')
		return nil

	case *queryir.Present:
		b.WriteString("1")
		return nil
	}
	return fmt.Errorf("unsupported term %T", t)
}

func (c *SQLCompiler) regexp(b *builder, op operand, x *queryir.Cmp) error {
	s, ok := x.Value.(ir.String)
	if !ok {
		return qerr.New(qerr.CodeTypeMismatch, "%s %s needs a string pattern, got %s", x.Attr, x.Op, x.Value.Literal())
	}
	pattern := string(s)
	if x.Op.CaseInsensitive() {
		pattern = "(?i)" + pattern
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return qerr.Wrap(qerr.CodeSyntax, err, "invalid regular expression %q", string(s))
	}

	b.WriteByte('(')
	op.kind(b)
	if x.Op.Negative() {
		b.WriteString(" != 'text' OR NOT (")
	} else {
		b.WriteString(" = 'text' AND (")
	}
	op.value(b)
	b.WriteString(" REGEXP ")
	b.arg(pattern)
	b.WriteString("))")
	return nil
}

// sqlValue returns the JSON type names a constant compares with and its
// bound argument.
func sqlValue(v ir.Value) (kinds string, arg any, err error) {
	switch x := v.(type) {
	case ir.Int:
		return "('integer', 'real')", int64(x), nil
	case ir.Float:
		return "('integer', 'real')", float64(x), nil
	case ir.String:
		return "('text')", string(x), nil
	case ir.Bool:
		return "('true', 'false')", bool(x), nil
	case ir.Param:
		return "", nil, qerr.New(qerr.CodeUnboundParameter, "parameter %s is not bound", x.Literal())
	}
	return "", nil, fmt.Errorf("unsupported value %T", v)
}

func sqlOp(op queryir.Op) string {
	if op == queryir.OpEQ {
		return "="
	}
	return string(op)
}

func isNegated(t queryir.Term) bool {
	switch x := t.(type) {
	case *queryir.Cmp:
		return x.Negated
	case *queryir.InRange:
		return x.Negated
	case *queryir.InSet:
		return x.Negated
	}
	return false
}

// jsonPath renders the path of an accessor in the JSON path syntax shared
// by SQLite and Postgres: $."name", $."name"[2] or $."name"."key".
func jsonPath(acc queryir.Accessor) string {
	path := "$." + quoteLabel(acc.Name)
	switch acc.Kind {
	case queryir.AccessIndex:
		path += "[" + strconv.Itoa(acc.Index) + "]"
	case queryir.AccessKey:
		path += "." + quoteLabel(acc.Key)
	}
	return path
}

func quoteLabel(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
