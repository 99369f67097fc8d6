package queryir

import (
	"fmt"

	"github.com/ivmfnal/metacat-sub001/internal/qerr"
)

// DefaultMaxTerms bounds the number of disjuncts Normalize may produce.
const DefaultMaxTerms = 1024

// Normalize rewrites e into disjunctive normal form.
//
// Negation is pushed into the terms (De Morgan plus the operator
// complement table), [all] P becomes a negated [any] of the complement of
// P, and And over Or is distributed by Cartesian product. If the result
// would exceed maxTerms disjuncts, Normalize fails with
// CodeQueryTooComplex. maxTerms <= 0 means DefaultMaxTerms.
//
// Normalize is idempotent: normalizing DNF returns an equal tree.
func Normalize(e BoolExpr, maxTerms int) (*Or, error) {
	if maxTerms <= 0 {
		maxTerms = DefaultMaxTerms
	}
	conj, err := dnf(e, false, maxTerms)
	if err != nil {
		return nil, err
	}
	return fromConjunctions(conj), nil
}

// Conjoin returns the DNF of a AND b. A nil operand means true, so
// Conjoin(a, nil) returns a unchanged.
func Conjoin(a, b *Or, maxTerms int) (*Or, error) {
	if b == nil {
		return a, nil
	}
	if a == nil {
		return b, nil
	}
	return Normalize(&And{Children: []BoolExpr{a, b}}, maxTerms)
}

// AsDNF returns e unchanged if it is already in disjunctive normal form
// and normalizes it otherwise. A nil e means true.
func AsDNF(e BoolExpr, maxTerms int) (*Or, error) {
	if e == nil {
		return nil, nil
	}
	if or, ok := e.(*Or); ok {
		if or == nil || IsDNF(or) {
			return or, nil
		}
	}
	return Normalize(e, maxTerms)
}

// IsDNF reports whether e is an *Or of *And of terms with no [all]
// accessors left.
func IsDNF(e BoolExpr) bool {
	or, ok := e.(*Or)
	if !ok {
		return false
	}
	for _, c := range or.Children {
		and, ok := c.(*And)
		if !ok {
			return false
		}
		for _, t := range and.Children {
			term, ok := t.(Term)
			if !ok || term.Attribute().Kind == AccessAll {
				return false
			}
		}
	}
	return true
}

// Terms returns every term of a DNF expression in order.
func Terms(e *Or) []Term {
	if e == nil {
		return nil
	}
	var out []Term
	for _, c := range e.Children {
		for _, t := range c.(*And).Children {
			out = append(out, t.(Term))
		}
	}
	return out
}

func fromConjunctions(conj [][]Term) *Or {
	or := &Or{Children: make([]BoolExpr, 0, len(conj))}
	for _, c := range conj {
		and := &And{Children: make([]BoolExpr, 0, len(c))}
		for _, t := range c {
			and.Children = append(and.Children, t)
		}
		or.Children = append(or.Children, and)
	}
	return or
}

// dnf returns e (or NOT e when neg) as a list of conjunctions.
func dnf(e BoolExpr, neg bool, maxTerms int) ([][]Term, error) {
	switch x := e.(type) {
	case *Or:
		if neg {
			return product(x.Children, true, maxTerms)
		}
		return union(x.Children, false, maxTerms)
	case *And:
		if neg {
			return union(x.Children, true, maxTerms)
		}
		return product(x.Children, false, maxTerms)
	case *Not:
		return dnf(x.Child, !neg, maxTerms)
	case Term:
		t := Requantify(x)
		if neg {
			t = Negate(t)
		}
		return [][]Term{{t}}, nil
	case nil:
		return nil, fmt.Errorf("nil boolean expression")
	default:
		return nil, fmt.Errorf("unknown boolean expression %T", e)
	}
}

func union(children []BoolExpr, neg bool, maxTerms int) ([][]Term, error) {
	var out [][]Term
	for _, c := range children {
		sub, err := dnf(c, neg, maxTerms)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
		if len(out) > maxTerms {
			return nil, tooComplex(maxTerms)
		}
	}
	return out, nil
}

func product(children []BoolExpr, neg bool, maxTerms int) ([][]Term, error) {
	out := [][]Term{{}}
	for _, c := range children {
		sub, err := dnf(c, neg, maxTerms)
		if err != nil {
			return nil, err
		}
		if len(out)*len(sub) > maxTerms {
			return nil, tooComplex(maxTerms)
		}
		next := make([][]Term, 0, len(out)*len(sub))
		for _, left := range out {
			for _, right := range sub {
				conj := make([]Term, 0, len(left)+len(right))
				conj = append(conj, left...)
				conj = append(conj, right...)
				next = append(next, conj)
			}
		}
		out = next
	}
	return out, nil
}

func tooComplex(maxTerms int) error {
	return qerr.New(qerr.CodeQueryTooComplex, "expression expands to more than %d disjuncts", maxTerms)
}

// Negate returns the term true exactly when t is false. Scalar terms flip
// their operator or Not flag; [any] terms toggle Negated so the element
// test is kept and the existential is inverted.
func Negate(t Term) Term {
	switch x := t.(type) {
	case *Cmp:
		c := *x
		if c.Attr.Kind == AccessAny {
			c.Negated = !c.Negated
		} else {
			c.Op = c.Op.Complement()
		}
		return &c
	case *InRange:
		r := *x
		if r.Attr.Kind == AccessAny {
			r.Negated = !r.Negated
		} else {
			r.Not = !r.Not
		}
		return &r
	case *InSet:
		s := *x
		if s.Attr.Kind == AccessAny {
			s.Negated = !s.Negated
		} else {
			s.Not = !s.Not
		}
		return &s
	case *Present:
		p := *x
		p.Negated = !p.Negated
		return &p
	}
	return t
}

// Requantify rewrites an [all] term as NOT [any] NOT: the element test is
// complemented and the existential negated. Other terms are returned as is.
func Requantify(t Term) Term {
	if t.Attribute().Kind != AccessAll {
		return t
	}
	switch x := t.(type) {
	case *Cmp:
		c := *x
		c.Attr.Kind = AccessAny
		c.Op = c.Op.Complement()
		c.Negated = !c.Negated
		return &c
	case *InRange:
		r := *x
		r.Attr.Kind = AccessAny
		r.Not = !r.Not
		r.Negated = !r.Negated
		return &r
	case *InSet:
		s := *x
		s.Attr.Kind = AccessAny
		s.Not = !s.Not
		s.Negated = !s.Negated
		return &s
	}
	return t
}

// MapTerms rebuilds e with every term replaced by f(term).
func MapTerms(e BoolExpr, f func(Term) (Term, error)) (BoolExpr, error) {
	switch x := e.(type) {
	case *Or:
		children, err := mapChildren(x.Children, f)
		if err != nil {
			return nil, err
		}
		return &Or{Children: children}, nil
	case *And:
		children, err := mapChildren(x.Children, f)
		if err != nil {
			return nil, err
		}
		return &And{Children: children}, nil
	case *Not:
		child, err := MapTerms(x.Child, f)
		if err != nil {
			return nil, err
		}
		return &Not{Child: child}, nil
	case Term:
		return f(x)
	}
	return nil, fmt.Errorf("unknown boolean expression %T", e)
}

func mapChildren(children []BoolExpr, f func(Term) (Term, error)) ([]BoolExpr, error) {
	out := make([]BoolExpr, len(children))
	for i, c := range children {
		m, err := MapTerms(c, f)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}
