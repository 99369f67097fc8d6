package queryir

import (
	"fmt"
	"regexp/syntax"
)

// ValidationResult reports constructs that evaluate differently across
// backends.
type ValidationResult struct {
	// IsPortable is true when every backend gives the same answer.
	IsPortable bool

	// Warnings lists the non-portable constructs found.
	Warnings []string
}

// Validate checks a DNF expression for portability between the SQLite
// store, Postgres jsonpath and in-memory matching. Non-portable
// expressions still run; the warnings tell the user where results may
// differ.
//
// Checks:
//  1. Regular expressions avoid RE2 features POSIX lacks: word
//     boundaries, non-greedy repetition and named groups.
//  2. present is applied to a plain attribute name.
//  3. Range endpoints are ordered (Low <= High).
//
// Validate is a pure function.
func Validate(e *Or) ValidationResult {
	v := &validator{warnings: []string{}}
	for _, t := range Terms(e) {
		v.validateTerm(t)
	}
	return ValidationResult{
		IsPortable: len(v.warnings) == 0,
		Warnings:   v.warnings,
	}
}

type validator struct {
	warnings []string
}

func (v *validator) addWarning(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

func (v *validator) validateTerm(t Term) {
	switch term := t.(type) {
	case *Cmp:
		if term.Op.IsRegex() {
			pattern, _ := term.Value.Native().(string)
			v.validateRegexp(term.Attr, pattern)
		}
	case *InRange:
		if c, ok := compareValues(term.Low.Native(), term.High); ok && c > 0 {
			v.addWarning("%s: empty range %s:%s", term.Attr, term.Low.Literal(), term.High.Literal())
		}
	case *Present:
		if term.Attr.Kind != AccessScalar {
			v.addWarning("%s: present on a subscripted attribute is evaluated as a path test", term.Attr)
		}
	}
}

func (v *validator) validateRegexp(attr Accessor, pattern string) {
	re, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		v.addWarning("%s: invalid regular expression %q", attr, pattern)
		return
	}
	var walk func(r *syntax.Regexp)
	walk = func(r *syntax.Regexp) {
		switch r.Op {
		case syntax.OpWordBoundary, syntax.OpNoWordBoundary:
			v.addWarning("%s: word boundaries in %q are not POSIX", attr, pattern)
		case syntax.OpStar, syntax.OpPlus, syntax.OpQuest, syntax.OpRepeat:
			if r.Flags&syntax.NonGreedy != 0 {
				v.addWarning("%s: non-greedy repetition in %q is not POSIX", attr, pattern)
			}
		case syntax.OpCapture:
			if r.Name != "" {
				v.addWarning("%s: named group %q in %q is not POSIX", attr, r.Name, pattern)
			}
		}
		for _, sub := range r.Sub {
			walk(sub)
		}
	}
	walk(re)
}
