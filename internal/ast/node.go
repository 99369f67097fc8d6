// Package ast defines the MQL file-query tree and the walkers every
// compiler pass is written with.
//
// Node is sealed. Raw trees from the parser may contain Scope,
// BasicFileQuery and NamedQuery nodes; conversion removes Scope and turns
// BasicFileQuery into DataSource, and assembly inlines NamedQuery.
package ast

import (
	"github.com/ivmfnal/metacat-sub001/internal/ir"
	"github.com/ivmfnal/metacat-sub001/internal/queryir"
)

// Node is a file-query tree node.
type Node interface {
	node()
}

// Binding is a name=value pair in a with prologue, a filter call or a
// named query reference. Order is kept for printing.
type Binding struct {
	Name  string
	Value ir.Value
}

// Union yields files in any child, deduplicated by FID.
type Union struct {
	Children []Node
}

// Join yields files present in every child.
type Join struct {
	Children []Node
}

// Minus yields files of Left not present in Right.
type Minus struct {
	Left  Node
	Right Node
}

// ParentsOf yields the provenance parents of Child's files.
type ParentsOf struct {
	Child Node
}

// ChildrenOf yields the provenance children of Child's files.
type ChildrenOf struct {
	Child Node
}

// MetaFilter keeps Child's files satisfying Where.
type MetaFilter struct {
	Child Node
	Where queryir.BoolExpr
}

// Limit keeps the first N files of Child.
type Limit struct {
	Child Node
	N     int
}

// Skip drops the first N files of Child.
type Skip struct {
	Child Node
	N     int
}

// Filter applies a registered filter function to its inputs.
type Filter struct {
	Name   string
	Args   []ir.Value
	Kwargs []Binding
	Inputs []Node
}

// NamedQuery references a stored query by namespace:name.
type NamedQuery struct {
	Namespace string
	Name      string
	Args      []Binding
}

// Scope binds the default namespace and parameters for Child.
type Scope struct {
	Params []Binding
	Child  Node
}

// BasicFileQuery is "files from <datasets>" as parsed. Selector namespaces
// may be empty and Having holds the raw having expression until
// conversion.
type BasicFileQuery struct {
	Datasets queryir.DatasetQuery
	Having   queryir.BoolExpr
}

// DataSource is the converted form of BasicFileQuery. Optimization folds
// filters, skips and limits into it.
type DataSource struct {
	Source queryir.DataSource
}

// DatasetQuery is a top-level "datasets ..." query. Having is the raw
// having expression; conversion normalizes it into Query.Having.
type DatasetQuery struct {
	Query  queryir.DatasetQuery
	Having queryir.BoolExpr
}

// FileList names files by DID.
type FileList struct {
	DIDs []ir.DID
}

// FIDList names files by file ID.
type FIDList struct {
	FIDs []string
}

func (*Union) node()          {}
func (*Join) node()           {}
func (*Minus) node()          {}
func (*ParentsOf) node()      {}
func (*ChildrenOf) node()     {}
func (*MetaFilter) node()     {}
func (*Limit) node()          {}
func (*Skip) node()           {}
func (*Filter) node()         {}
func (*NamedQuery) node()     {}
func (*Scope) node()          {}
func (*BasicFileQuery) node() {}
func (*DataSource) node()     {}
func (*DatasetQuery) node()   {}
func (*FileList) node()       {}
func (*FIDList) node()        {}

// NewUnion returns a Union of children, splicing in the children of any
// child that is itself a Union. A single child is returned unwrapped.
func NewUnion(children ...Node) Node {
	flat := make([]Node, 0, len(children))
	for _, c := range children {
		if u, ok := c.(*Union); ok {
			flat = append(flat, u.Children...)
			continue
		}
		flat = append(flat, c)
	}
	if len(flat) == 1 {
		return flat[0]
	}
	return &Union{Children: flat}
}

// NewJoin is NewUnion for Join.
func NewJoin(children ...Node) Node {
	flat := make([]Node, 0, len(children))
	for _, c := range children {
		if j, ok := c.(*Join); ok {
			flat = append(flat, j.Children...)
			continue
		}
		flat = append(flat, c)
	}
	if len(flat) == 1 {
		return flat[0]
	}
	return &Join{Children: flat}
}

// Lookup returns the value bound to name, if any. A later binding of the
// same name wins.
func Lookup(bindings []Binding, name string) (ir.Value, bool) {
	for i := len(bindings) - 1; i >= 0; i-- {
		if bindings[i].Name == name {
			return bindings[i].Value, true
		}
	}
	return nil, false
}
