package ast

import (
	"strconv"
	"strings"

	"github.com/ivmfnal/metacat-sub001/internal/ir"
	"github.com/ivmfnal/metacat-sub001/internal/queryir"
)

// Print renders n as MQL text that parses back to an equivalent tree.
func Print(n Node) string {
	var b strings.Builder
	writeExpr(&b, n)
	return b.String()
}

func writeExpr(b *strings.Builder, n Node) {
	switch x := n.(type) {
	case *Union:
		writeCall(b, "union", x.Children)
	case *Join:
		writeCall(b, "join", x.Children)
	case *Minus:
		if _, ok := x.Left.(*Scope); ok {
			writeOperand(b, x.Left)
		} else {
			writeExpr(b, x.Left)
		}
		b.WriteString(" - ")
		writeOperand(b, x.Right)
	case *ParentsOf:
		writeCall(b, "parents", []Node{x.Child})
	case *ChildrenOf:
		writeCall(b, "children", []Node{x.Child})
	case *MetaFilter:
		writeOperand(b, x.Child)
		b.WriteString(" where ")
		b.WriteString(queryir.Format(x.Where))
	case *Limit:
		writeOperand(b, x.Child)
		b.WriteString(" limit " + strconv.Itoa(x.N))
	case *Skip:
		writeOperand(b, x.Child)
		b.WriteString(" skip " + strconv.Itoa(x.N))
	case *Filter:
		b.WriteString("filter " + x.Name + "(")
		for i, a := range x.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(a.Literal())
		}
		if len(x.Args) > 0 && len(x.Kwargs) > 0 {
			b.WriteString(", ")
		}
		writeBindings(b, x.Kwargs)
		b.WriteByte(')')
		writeCall(b, "", x.Inputs)
	case *NamedQuery:
		b.WriteString("query ")
		b.WriteString(formatDID(ir.DID{Namespace: x.Namespace, Name: x.Name}))
		if len(x.Args) > 0 {
			b.WriteByte('(')
			writeBindings(b, x.Args)
			b.WriteByte(')')
		}
	case *Scope:
		b.WriteString("with ")
		writeBindings(b, x.Params)
		b.WriteByte(' ')
		writeOperand(b, x.Child)
	case *BasicFileQuery:
		b.WriteString("files from ")
		b.WriteString(x.Datasets.String())
		writeHaving(b, x.Having)
	case *DataSource:
		b.WriteString(x.Source.String())
	case *DatasetQuery:
		b.WriteString("datasets ")
		b.WriteString(x.Query.String())
		writeHaving(b, x.Having)
	case *FileList:
		b.WriteString("files ")
		for i, d := range x.DIDs {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(formatDID(d))
		}
	case *FIDList:
		b.WriteString("fids ")
		for i, fid := range x.FIDs {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(queryir.FormatName(fid))
		}
	}
}

// writeOperand prints n where only a single term may appear: the left
// side of a postfix clause, the right side of "-" and the body of a
// with scope.
func writeOperand(b *strings.Builder, n Node) {
	switch n.(type) {
	case *Minus, *Scope:
		b.WriteByte('(')
		writeExpr(b, n)
		b.WriteByte(')')
	default:
		writeExpr(b, n)
	}
}

func writeCall(b *strings.Builder, name string, args []Node) {
	b.WriteString(name)
	b.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		writeExpr(b, a)
	}
	b.WriteByte(')')
}

func writeBindings(b *strings.Builder, bindings []Binding) {
	for i, bd := range bindings {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(bd.Name + "=" + bd.Value.Literal())
	}
}

func writeHaving(b *strings.Builder, e queryir.BoolExpr) {
	if e != nil {
		b.WriteString(" having ")
		b.WriteString(queryir.Format(e))
	}
}

func formatDID(d ir.DID) string {
	name := queryir.FormatName(d.Name)
	if d.Namespace == "" {
		return name
	}
	return queryir.FormatName(d.Namespace) + ":" + name
}
