package querysql

import (
	"fmt"
	"strings"

	"github.com/ivmfnal/metacat-sub001/internal/ir"
	"github.com/ivmfnal/metacat-sub001/internal/qerr"
	"github.com/ivmfnal/metacat-sub001/internal/queryir"
)

// Postgres renders a DNF expression as a Postgres boolean expression over
// target with every literal inlined. Metadata tests become jsonpath
// predicates on the JSONB metadata column: scalar tests run in strict
// mode, [any] tests iterate the value in lax mode, so a scalar counts as
// a one-element array. Comparisons between values of different JSON
// types follow jsonpath and are false.
func Postgres(e *queryir.Or, target Target) (string, error) {
	if e == nil || len(e.Children) == 0 {
		return "true", nil
	}
	var b strings.Builder
	multi := len(e.Children) > 1
	for i, child := range e.Children {
		if i > 0 {
			b.WriteString(" or ")
		}
		if multi {
			b.WriteByte('(')
		}
		and, ok := child.(*queryir.And)
		if !ok {
			return "", fmt.Errorf("expression is not in DNF: %T", child)
		}
		for j, t := range and.Children {
			if j > 0 {
				b.WriteString(" and ")
			}
			term, ok := t.(queryir.Term)
			if !ok {
				return "", fmt.Errorf("expression is not in DNF: %T", t)
			}
			s, err := pgTerm(term, target)
			if err != nil {
				return "", err
			}
			b.WriteString(s)
		}
		if multi {
			b.WriteByte(')')
		}
	}
	return b.String(), nil
}

func pgTerm(t queryir.Term, target Target) (string, error) {
	acc := t.Attribute()
	column, isColumn, err := target.Scope.CheckTerm(t)
	if err != nil {
		return "", err
	}
	if isColumn {
		return pgColumnTerm(target.column(column), target.Nullable[column], t)
	}

	meta := target.meta()
	if p, ok := t.(*queryir.Present); ok {
		s := meta + " @? " + sqlString(jsonPath(acc))
		if p.Negated {
			return "not (" + s + ")", nil
		}
		return s, nil
	}

	filter, err := pgFilter(t)
	if err != nil {
		return "", err
	}

	var path string
	switch acc.Kind {
	case queryir.AccessAny:
		path = jsonPath(acc) + "[*]"
	case queryir.AccessLength:
		path = "strict " + jsonPath(acc) + ".size()"
	default:
		path = "strict " + jsonPath(acc)
	}
	s := meta + " @? " + sqlString(path+" ? ("+filter+")")
	if isNegated(t) {
		return "not (" + s + ")", nil
	}
	return s, nil
}

// pgFilter renders the element test of t as a jsonpath filter on @.
func pgFilter(t queryir.Term) (string, error) {
	switch x := t.(type) {
	case *queryir.Cmp:
		lit, err := pathLiteral(x.Value)
		if err != nil {
			return "", err
		}
		if x.Op.IsRegex() {
			if _, ok := x.Value.(ir.String); !ok {
				return "", qerr.New(qerr.CodeTypeMismatch, "%s %s needs a string pattern, got %s", x.Attr, x.Op, x.Value.Literal())
			}
			s := "@ like_regex " + lit
			if x.Op.CaseInsensitive() {
				s += ` flag "i"`
			}
			if x.Op.Negative() {
				return "!(" + s + ")", nil
			}
			return s, nil
		}
		op := string(x.Op)
		if x.Op == queryir.OpEQ {
			op = "=="
		}
		return "@ " + op + " " + lit, nil

	case *queryir.InRange:
		low, err := pathLiteral(x.Low)
		if err != nil {
			return "", err
		}
		high, err := pathLiteral(x.High)
		if err != nil {
			return "", err
		}
		s := "@ >= " + low + " && @ <= " + high
		if x.Not {
			return "!(" + s + ")", nil
		}
		return s, nil

	case *queryir.InSet:
		parts := make([]string, len(x.Values))
		for i, v := range x.Values {
			lit, err := pathLiteral(v)
			if err != nil {
				return "", err
			}
			parts[i] = "@ == " + lit
		}
		s := strings.Join(parts, " || ")
		if x.Not {
			return "!(" + s + ")", nil
		}
		return s, nil
	}
	return "", fmt.Errorf("unsupported term %T", t)
}

func pgColumnTerm(col string, nullable bool, t queryir.Term) (string, error) {
	switch x := t.(type) {
	case *queryir.Present:
		switch {
		case !nullable:
			return fmt.Sprint(!x.Negated), nil
		case x.Negated:
			return col + " is null", nil
		}
		return col + " is not null", nil

	case *queryir.Cmp:
		lit, err := sqlLiteral(x.Value)
		if err != nil {
			return "", err
		}
		return col + " " + string(x.Op) + " " + lit, nil

	case *queryir.InRange:
		low, err := sqlLiteral(x.Low)
		if err != nil {
			return "", err
		}
		high, err := sqlLiteral(x.High)
		if err != nil {
			return "", err
		}
		op := " between "
		if x.Not {
			op = " not between "
		}
		return col + op + low + " and " + high, nil

	case *queryir.InSet:
		parts := make([]string, len(x.Values))
		for i, v := range x.Values {
			lit, err := sqlLiteral(v)
			if err != nil {
				return "", err
			}
			parts[i] = lit
		}
		op := " in ("
		if x.Not {
			op = " not in ("
		}
		return col + op + strings.Join(parts, ", ") + ")", nil
	}
	return "", fmt.Errorf("unsupported term %T", t)
}

// pathLiteral renders a constant in jsonpath syntax.
func pathLiteral(v ir.Value) (string, error) {
	switch x := v.(type) {
	case ir.String:
		return x.Literal(), nil
	case ir.Int, ir.Float, ir.Bool:
		return x.Literal(), nil
	case ir.Param:
		return "", qerr.New(qerr.CodeUnboundParameter, "parameter %s is not bound", x.Literal())
	}
	return "", fmt.Errorf("unsupported value %T", v)
}

// sqlLiteral renders a constant as a SQL literal.
func sqlLiteral(v ir.Value) (string, error) {
	switch x := v.(type) {
	case ir.String:
		return sqlString(string(x)), nil
	case ir.Int, ir.Float, ir.Bool:
		return x.Literal(), nil
	case ir.Param:
		return "", qerr.New(qerr.CodeUnboundParameter, "parameter %s is not bound", x.Literal())
	}
	return "", fmt.Errorf("unsupported value %T", v)
}

func sqlString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
