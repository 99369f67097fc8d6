package queryir

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ivmfnal/metacat-sub001/internal/qerr"
)

// NoLimit marks a DataSource without a row limit.
const NoLimit = -1

// MatchKind says how a DatasetSelector matches dataset names.
type MatchKind int

const (
	MatchExact MatchKind = iota
	// MatchGlob treats Name as a shell pattern with * and ?.
	MatchGlob
	// MatchRegexp treats Name as an anchored regular expression.
	MatchRegexp
)

// DatasetSelector picks datasets by namespace and name or name pattern.
// The namespace is always exact.
type DatasetSelector struct {
	Namespace string
	Name      string
	Match     MatchKind
}

func (s DatasetSelector) String() string {
	did := FormatName(s.Name)
	if s.Namespace != "" {
		did = FormatName(s.Namespace) + ":" + did
	}
	switch s.Match {
	case MatchGlob:
		return "matching " + did
	case MatchRegexp:
		if s.Namespace == "" {
			return "matching regexp " + strconv.Quote(s.Name)
		}
		return "matching regexp " + FormatName(s.Namespace) + ":" + strconv.Quote(s.Name)
	}
	return did
}

// Pattern returns the anchored regular expression the selector applies
// to dataset names. Exact selectors quote their name.
func (s DatasetSelector) Pattern() string {
	switch s.Match {
	case MatchGlob:
		return GlobToRegexp(s.Name)
	case MatchRegexp:
		return "^(?:" + s.Name + ")$"
	}
	return "^" + regexp.QuoteMeta(s.Name) + "$"
}

// Compile returns the compiled Pattern.
func (s DatasetSelector) Compile() (*regexp.Regexp, error) {
	re, err := regexp.Compile(s.Pattern())
	if err != nil {
		return nil, qerr.Wrap(qerr.CodeSyntax, err, "invalid dataset pattern %q", s.Name)
	}
	return re, nil
}

// GlobToRegexp converts a shell pattern to an anchored regular
// expression. * matches any run of characters and ? any one character.
func GlobToRegexp(glob string) string {
	var b strings.Builder
	b.WriteByte('^')
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteByte('.')
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	return b.String()
}

// DatasetQuery selects datasets: those matching any selector, optionally
// extended with their children (one level or recursively), then filtered
// by Having.
type DatasetQuery struct {
	Selectors    []DatasetSelector
	WithChildren bool
	Recursive    bool
	Having       *Or
}

// MaxDepth returns how many levels of children to expand: 0 for none, 1
// for direct children and -1 for unbounded.
func (q DatasetQuery) MaxDepth() int {
	switch {
	case !q.WithChildren:
		return 0
	case q.Recursive:
		return -1
	}
	return 1
}

// Validate fails with CodeUnresolvedNamespace if any selector still lacks
// a namespace.
func (q DatasetQuery) Validate() error {
	for _, s := range q.Selectors {
		if s.Namespace == "" {
			return qerr.New(qerr.CodeUnresolvedNamespace, "dataset selector %s has no namespace", s)
		}
	}
	return nil
}

func (q DatasetQuery) String() string {
	var b strings.Builder
	for i, s := range q.Selectors {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(s.String())
	}
	if q.WithChildren {
		b.WriteString(" with children")
		if q.Recursive {
			b.WriteString(" recursively")
		}
	}
	if q.Having != nil {
		b.WriteString(" having ")
		b.WriteString(Format(q.Having))
	}
	return b.String()
}

// DataSource describes the files of a set of datasets, filtered by Where
// (nil means no filter), with Skip rows dropped and at most Limit rows
// returned. A DataSource is a value: the Add* methods return copies.
type DataSource struct {
	Datasets DatasetQuery
	Where    *Or
	Limit    int
	Skip     int
}

// NewDataSource returns a descriptor over q with no filter, limit or skip.
func NewDataSource(q DatasetQuery) DataSource {
	return DataSource{Datasets: q, Limit: NoLimit}
}

// AddWhere conjoins e with the existing filter and renormalizes.
func (d DataSource) AddWhere(e *Or, maxTerms int) (DataSource, error) {
	where, err := Conjoin(d.Where, e, maxTerms)
	if err != nil {
		return DataSource{}, err
	}
	d.Where = where
	return d, nil
}

// AddLimit keeps the smaller of the existing limit and n.
func (d DataSource) AddLimit(n int) DataSource {
	if n == NoLimit {
		return d
	}
	if d.Limit == NoLimit || n < d.Limit {
		d.Limit = n
	}
	return d
}

// AddSkip drops n more rows. Skip must not be added after a limit; the
// optimizer keeps a Skip node outside a limited source instead.
func (d DataSource) AddSkip(n int) DataSource {
	d.Skip += n
	return d
}

// HasLimit reports whether a limit is set.
func (d DataSource) HasLimit() bool { return d.Limit != NoLimit }

// Validate checks that the descriptor can be sent to a store.
func (d DataSource) Validate() error {
	return d.Datasets.Validate()
}

func (d DataSource) String() string {
	var b strings.Builder
	b.WriteString("files from ")
	b.WriteString(d.Datasets.String())
	if d.Where != nil {
		b.WriteString(" where ")
		b.WriteString(Format(d.Where))
	}
	if d.Skip > 0 {
		b.WriteString(" skip " + strconv.Itoa(d.Skip))
	}
	if d.Limit != NoLimit {
		b.WriteString(" limit " + strconv.Itoa(d.Limit))
	}
	return b.String()
}

// FormatName returns name unquoted if it lexes as a single MQL name and
// as a quoted string otherwise.
func FormatName(name string) string {
	if name == "" || Keywords[name] {
		return strconv.Quote(name)
	}
	if _, err := strconv.ParseFloat(name, 64); err == nil {
		return strconv.Quote(name)
	}
	for i, r := range name {
		if !IsNameRune(r, i == 0) {
			return strconv.Quote(name)
		}
	}
	return name
}

// IsNameRune reports whether r may appear in an unquoted name. Names start
// with a letter, digit, underscore, * or ? and continue with those plus
// '.', '-' and '/'.
func IsNameRune(r rune, first bool) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '*' || r == '?':
		return true
	case r == '.' || r == '-' || r == '/':
		return !first
	}
	return false
}

// Keywords are the reserved words of MQL. A dataset or file name equal to
// a keyword is printed quoted.
var Keywords = map[string]bool{
	"and": true, "or": true, "not": true, "in": true, "present": true,
	"files": true, "from": true, "dataset": true, "datasets": true, "fids": true,
	"union": true, "join": true, "parents": true, "children": true,
	"filter": true, "query": true, "with": true, "where": true, "having": true,
	"limit": true, "skip": true, "matching": true, "regexp": true,
	"recursively": true, "len": true, "true": true, "false": true,
}
