package ast

import (
	"github.com/ivmfnal/metacat-sub001/internal/ir"
	"github.com/ivmfnal/metacat-sub001/internal/queryir"
)

// JSON renders n as canonical JSON: {"node": <kind>, ...fields}.
func JSON(n Node) ([]byte, error) {
	return ir.MarshalCanonical(ToMap(n))
}

// ToMap converts n to plain maps and slices for JSON encoding.
func ToMap(n Node) map[string]any {
	switch x := n.(type) {
	case *Union:
		return map[string]any{"node": "union", "children": mapNodes(x.Children)}
	case *Join:
		return map[string]any{"node": "join", "children": mapNodes(x.Children)}
	case *Minus:
		return map[string]any{"node": "minus", "left": ToMap(x.Left), "right": ToMap(x.Right)}
	case *ParentsOf:
		return map[string]any{"node": "parents_of", "child": ToMap(x.Child)}
	case *ChildrenOf:
		return map[string]any{"node": "children_of", "child": ToMap(x.Child)}
	case *MetaFilter:
		return map[string]any{"node": "meta_filter", "child": ToMap(x.Child), "where": BoolExprMap(x.Where)}
	case *Limit:
		return map[string]any{"node": "limit", "child": ToMap(x.Child), "n": x.N}
	case *Skip:
		return map[string]any{"node": "skip", "child": ToMap(x.Child), "n": x.N}
	case *Filter:
		args := make([]any, len(x.Args))
		for i, a := range x.Args {
			args[i] = a
		}
		return map[string]any{
			"node":   "filter",
			"name":   x.Name,
			"args":   args,
			"kwargs": bindingsMap(x.Kwargs),
			"inputs": mapNodes(x.Inputs),
		}
	case *NamedQuery:
		return map[string]any{
			"node":      "named_query",
			"namespace": x.Namespace,
			"name":      x.Name,
			"args":      bindingsMap(x.Args),
		}
	case *Scope:
		return map[string]any{"node": "scope", "params": bindingsMap(x.Params), "child": ToMap(x.Child)}
	case *BasicFileQuery:
		m := map[string]any{"node": "basic_file_query", "datasets": datasetQueryMap(x.Datasets)}
		if x.Having != nil {
			m["having"] = BoolExprMap(x.Having)
		}
		return m
	case *DataSource:
		m := map[string]any{
			"node":     "data_source",
			"datasets": datasetQueryMap(x.Source.Datasets),
			"limit":    x.Source.Limit,
			"skip":     x.Source.Skip,
		}
		if x.Source.Where != nil {
			m["where"] = BoolExprMap(x.Source.Where)
		}
		return m
	case *DatasetQuery:
		m := map[string]any{"node": "dataset_query", "datasets": datasetQueryMap(x.Query)}
		if x.Having != nil {
			m["having"] = BoolExprMap(x.Having)
		}
		return m
	case *FileList:
		dids := make([]string, len(x.DIDs))
		for i, d := range x.DIDs {
			dids[i] = d.String()
		}
		return map[string]any{"node": "file_list", "dids": dids}
	case *FIDList:
		return map[string]any{"node": "fid_list", "fids": append([]string{}, x.FIDs...)}
	}
	return map[string]any{"node": "unknown"}
}

func mapNodes(nodes []Node) []any {
	out := make([]any, len(nodes))
	for i, n := range nodes {
		out[i] = ToMap(n)
	}
	return out
}

func bindingsMap(bindings []Binding) map[string]any {
	out := make(map[string]any, len(bindings))
	for _, b := range bindings {
		out[b.Name] = b.Value
	}
	return out
}

func datasetQueryMap(q queryir.DatasetQuery) map[string]any {
	selectors := make([]any, len(q.Selectors))
	for i, s := range q.Selectors {
		selectors[i] = s.String()
	}
	m := map[string]any{
		"selectors":     selectors,
		"with_children": q.WithChildren,
		"recursive":     q.Recursive,
	}
	if q.Having != nil {
		m["having"] = BoolExprMap(q.Having)
	}
	return m
}

// BoolExprMap converts a metadata expression for JSON encoding.
func BoolExprMap(e queryir.BoolExpr) map[string]any {
	switch x := e.(type) {
	case *queryir.Or:
		return map[string]any{"op": "or", "children": boolChildren(x.Children)}
	case *queryir.And:
		return map[string]any{"op": "and", "children": boolChildren(x.Children)}
	case *queryir.Not:
		return map[string]any{"op": "not", "child": BoolExprMap(x.Child)}
	case *queryir.Cmp:
		return map[string]any{"term": "cmp", "attr": x.Attr.String(), "cmp": string(x.Op), "value": x.Value, "negated": x.Negated}
	case *queryir.InRange:
		return map[string]any{"term": "in_range", "attr": x.Attr.String(), "low": x.Low, "high": x.High, "not": x.Not, "negated": x.Negated}
	case *queryir.InSet:
		values := make([]any, len(x.Values))
		for i, v := range x.Values {
			values[i] = v
		}
		return map[string]any{"term": "in_set", "attr": x.Attr.String(), "values": values, "not": x.Not, "negated": x.Negated}
	case *queryir.Present:
		return map[string]any{"term": "present", "attr": x.Attr.String(), "negated": x.Negated}
	}
	return map[string]any{"op": "unknown"}
}

func boolChildren(children []queryir.BoolExpr) []any {
	out := make([]any, len(children))
	for i, c := range children {
		out[i] = BoolExprMap(c)
	}
	return out
}
