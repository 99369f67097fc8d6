package queryir

import (
	"strconv"
	"strings"

	"github.com/ivmfnal/metacat-sub001/internal/ir"
)

// BoolExpr is a metadata expression.
type BoolExpr interface {
	boolExpr()
}

// Term is a leaf of a BoolExpr: one test against one attribute.
type Term interface {
	BoolExpr
	term()
	Attribute() Accessor
}

// Or is true when any child is true. An Or with no children is false.
type Or struct {
	Children []BoolExpr
}

// And is true when every child is true. An And with no children is true.
type And struct {
	Children []BoolExpr
}

// Not inverts its child. Not never survives normalization.
type Not struct {
	Child BoolExpr
}

func (*Or) boolExpr()  {}
func (*And) boolExpr() {}
func (*Not) boolExpr() {}

// Op is a comparison operator.
type Op string

const (
	OpLT        Op = "<"
	OpLE        Op = "<="
	OpGT        Op = ">"
	OpGE        Op = ">="
	OpEQ        Op = "="
	OpNE        Op = "!="
	OpMatch     Op = "~"
	OpIMatch    Op = "~*"
	OpNotMatch  Op = "!~"
	OpNotIMatch Op = "!~*"
)

var complements = map[Op]Op{
	OpLT:        OpGE,
	OpGE:        OpLT,
	OpGT:        OpLE,
	OpLE:        OpGT,
	OpEQ:        OpNE,
	OpNE:        OpEQ,
	OpMatch:     OpNotMatch,
	OpNotMatch:  OpMatch,
	OpIMatch:    OpNotIMatch,
	OpNotIMatch: OpIMatch,
}

// Complement returns the operator true exactly when o is false.
func (o Op) Complement() Op {
	return complements[o]
}

// Valid reports whether o is a known operator.
func (o Op) Valid() bool {
	_, ok := complements[o]
	return ok
}

// IsRegex reports whether o is one of the regular-expression operators.
func (o Op) IsRegex() bool {
	switch o {
	case OpMatch, OpIMatch, OpNotMatch, OpNotIMatch:
		return true
	}
	return false
}

// CaseInsensitive reports whether o is ~* or !~*.
func (o Op) CaseInsensitive() bool {
	return o == OpIMatch || o == OpNotIMatch
}

// Negative reports whether o is != or a negated regex operator.
func (o Op) Negative() bool {
	return o == OpNE || o == OpNotMatch || o == OpNotIMatch
}

// AccessKind says how a term reads its attribute.
type AccessKind int

const (
	// AccessScalar reads the attribute value itself.
	AccessScalar AccessKind = iota
	// AccessAny tests whether some element of an array attribute matches.
	AccessAny
	// AccessAll tests whether every element matches. Normalization
	// rewrites it as a negated AccessAny.
	AccessAll
	// AccessIndex reads one array element.
	AccessIndex
	// AccessKey reads one member of an object attribute.
	AccessKey
	// AccessLength reads the length of an array attribute.
	AccessLength
)

// Accessor names an attribute and how to read it.
type Accessor struct {
	Name  string
	Kind  AccessKind
	Index int
	Key   string
}

// Attr returns a scalar accessor for name.
func Attr(name string) Accessor {
	return Accessor{Name: name}
}

func (a Accessor) String() string {
	switch a.Kind {
	case AccessAny:
		return a.Name + "[any]"
	case AccessAll:
		return a.Name + "[all]"
	case AccessIndex:
		return a.Name + "[" + strconv.Itoa(a.Index) + "]"
	case AccessKey:
		return a.Name + "[" + strconv.Quote(a.Key) + "]"
	case AccessLength:
		return "len(" + a.Name + ")"
	}
	return a.Name
}

// Cmp compares an attribute with a constant. Negated is only set on
// AccessAny terms and means no element satisfies the comparison.
type Cmp struct {
	Attr    Accessor
	Op      Op
	Value   ir.Value
	Negated bool
}

// InRange tests Low <= value <= High. Not inverts the element test;
// Negated inverts the existential of an AccessAny term.
type InRange struct {
	Attr    Accessor
	Low     ir.Value
	High    ir.Value
	Not     bool
	Negated bool
}

// InSet tests membership in Values. Not and Negated as for InRange.
type InSet struct {
	Attr    Accessor
	Values  []ir.Value
	Not     bool
	Negated bool
}

// Present tests whether the attribute exists. Negated means "not present".
type Present struct {
	Attr    Accessor
	Negated bool
}

func (*Cmp) boolExpr()     {}
func (*InRange) boolExpr() {}
func (*InSet) boolExpr()   {}
func (*Present) boolExpr() {}

func (*Cmp) term()     {}
func (*InRange) term() {}
func (*InSet) term()   {}
func (*Present) term() {}

func (t *Cmp) Attribute() Accessor     { return t.Attr }
func (t *InRange) Attribute() Accessor { return t.Attr }
func (t *InSet) Attribute() Accessor   { return t.Attr }
func (t *Present) Attribute() Accessor { return t.Attr }

// Format renders e in MQL syntax. DNF input prints as
// "(t1 and t2) or (t3)", which parses back to the same DNF.
func Format(e BoolExpr) string {
	var b strings.Builder
	writeExpr(&b, e, false)
	return b.String()
}

func writeExpr(b *strings.Builder, e BoolExpr, nested bool) {
	switch x := e.(type) {
	case *Or:
		if len(x.Children) == 1 {
			writeExpr(b, x.Children[0], nested)
			return
		}
		if nested {
			b.WriteByte('(')
		}
		for i, c := range x.Children {
			if i > 0 {
				b.WriteString(" or ")
			}
			writeExpr(b, c, len(x.Children) > 1)
		}
		if nested {
			b.WriteByte(')')
		}
	case *And:
		if nested {
			b.WriteByte('(')
		}
		for i, c := range x.Children {
			if i > 0 {
				b.WriteString(" and ")
			}
			_, isOr := c.(*Or)
			writeExpr(b, c, isOr)
		}
		if nested {
			b.WriteByte(')')
		}
	case *Not:
		b.WriteString("!(")
		writeExpr(b, x.Child, false)
		b.WriteByte(')')
	case Term:
		writeTerm(b, x)
	}
}

func writeTerm(b *strings.Builder, t Term) {
	negated := false
	switch x := t.(type) {
	case *Cmp:
		negated = x.Negated
	case *InRange:
		negated = x.Negated
	case *InSet:
		negated = x.Negated
	}
	if negated {
		b.WriteString("!(")
	}
	b.WriteString(t.Attribute().String())
	switch x := t.(type) {
	case *Cmp:
		b.WriteString(" " + string(x.Op) + " ")
		b.WriteString(x.Value.Literal())
	case *InRange:
		if x.Not {
			b.WriteString(" not")
		}
		b.WriteString(" in " + x.Low.Literal() + ":" + x.High.Literal())
	case *InSet:
		if x.Not {
			b.WriteString(" not")
		}
		b.WriteString(" in (")
		for i, v := range x.Values {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(v.Literal())
		}
		b.WriteByte(')')
	case *Present:
		if x.Negated {
			b.WriteString(" not")
		}
		b.WriteString(" present")
	}
	if negated {
		b.WriteByte(')')
	}
}
