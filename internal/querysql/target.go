package querysql

import (
	"github.com/ivmfnal/metacat-sub001/internal/queryir"
)

// ColumnKind is the value kind stored in a first-class column.
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindInteger
	KindBool
)

// Target names the table a predicate is evaluated against: its alias in
// generated SQL, its JSON metadata column, and its first-class columns.
type Target struct {
	Alias    string
	Meta     string
	Scope    queryir.Scope
	Columns  map[string]ColumnKind
	Nullable map[string]bool
}

// Files is the files table, aliased f.
var Files = Target{
	Alias: "f",
	Meta:  "metadata",
	Scope: queryir.FileScope,
	Columns: map[string]ColumnKind{
		"fid":               KindText,
		"namespace":         KindText,
		"name":              KindText,
		"size":              KindInteger,
		"creator":           KindText,
		"created_timestamp": KindInteger,
	},
	Nullable: map[string]bool{"creator": true, "created_timestamp": true},
}

// Datasets is the datasets table, aliased d.
var Datasets = Target{
	Alias: "d",
	Meta:  "metadata",
	Scope: queryir.DatasetScope,
	Columns: map[string]ColumnKind{
		"namespace":         KindText,
		"name":              KindText,
		"frozen":            KindBool,
		"monotonic":         KindBool,
		"creator":           KindText,
		"created_timestamp": KindInteger,
	},
	Nullable: map[string]bool{"creator": true, "created_timestamp": true},
}

func (t Target) column(name string) string {
	return t.Alias + "." + name
}

func (t Target) meta() string {
	return t.Alias + "." + t.Meta
}

// Dialect selects the SQL flavor ToSQL produces.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect accepts "sqlite" and "postgres".
func ParseDialect(s string) (Dialect, bool) {
	switch Dialect(s) {
	case DialectSQLite, DialectPostgres:
		return Dialect(s), true
	}
	return "", false
}
