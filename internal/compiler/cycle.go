package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ivmfnal/metacat-sub001/internal/ast"
	"github.com/ivmfnal/metacat-sub001/internal/ir"
	"github.com/ivmfnal/metacat-sub001/internal/parser"
)

// CycleWarning reports stored named queries that reference each other in
// a loop. Such queries fail with CYCLIC_QUERY when compiled; the catalog
// check reports them ahead of time.
type CycleWarning struct {
	Path    []string `json:"path"`    // e.g. ["a:x", "a:y", "a:x"]
	Message string   `json:"message"` // human-readable description
	Level   string   `json:"level"`   // "warning" or "error"
}

// AnalyzeCycles checks a catalog of named queries for reference cycles.
//
// Each query body is parsed and its query references collected, with
// unqualified names resolved against the query's own namespace. Strongly
// connected components of the reference graph (Tarjan) with more than one
// member, and self-references, become warnings. A body that does not parse
// is reported with Level "error".
//
// Output order is deterministic: components are reported in order of
// their smallest member.
func AnalyzeCycles(queries []ir.NamedQuery) []CycleWarning {
	if len(queries) == 0 {
		return []CycleWarning{}
	}

	graph, warnings := buildReferenceGraph(queries)

	sccs := tarjanSCC(graph)
	for _, scc := range sccs {
		slices.Sort(scc)
	}
	slices.SortFunc(sccs, func(a, b []string) int { return strings.Compare(a[0], b[0]) })

	for _, scc := range sccs {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	return warnings
}

// References returns the named queries n refers to, in source order and
// without duplicates. Unqualified names take the namespace of the nearest
// enclosing with namespace=... binding, else defaultNamespace.
func References(n ast.Node, defaultNamespace string) []ir.DID {
	var refs []ir.DID
	seen := make(map[ir.DID]bool)
	_, _ = ast.Descend(n, defaultNamespace, func(n ast.Node, ns string, next func(ast.Node, string) (ast.Node, error)) (ast.Node, error) {
		switch x := n.(type) {
		case *ast.Scope:
			if v, ok := ast.Lookup(x.Params, NamespaceParam); ok {
				if s, ok := v.(ir.String); ok {
					ns = string(s)
				}
			}
		case *ast.NamedQuery:
			did := ir.DID{Namespace: x.Namespace, Name: x.Name}
			if did.Namespace == "" {
				did.Namespace = ns
			}
			if !seen[did] {
				seen[did] = true
				refs = append(refs, did)
			}
		}
		return ast.Default(n, ns, next)
	})
	return refs
}

// referenceGraph maps "ns:name" to the queries its body references.
type referenceGraph map[string][]string

func buildReferenceGraph(queries []ir.NamedQuery) (referenceGraph, []CycleWarning) {
	graph := make(referenceGraph, len(queries))
	var warnings []CycleWarning

	for _, q := range queries {
		key := q.DID().String()
		graph[key] = []string{}

		tree, err := parser.Parse(q.Source)
		if err != nil {
			warnings = append(warnings, CycleWarning{
				Path:    []string{key},
				Message: fmt.Sprintf("%s does not parse: %v", key, err),
				Level:   "error",
			})
			continue
		}
		for _, ref := range References(tree, q.Namespace) {
			graph[key] = append(graph[key], ref.String())
		}
	}
	return graph, warnings
}

func hasSelfLoop(node string, graph referenceGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in sorted order. Single-node components without
// self-loops are not cycles.
func tarjanSCC(graph referenceGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// cycleSCCToWarning converts a sorted SCC to a CycleWarning.
func cycleSCCToWarning(scc []string, graph referenceGraph) CycleWarning {
	if len(scc) == 1 {
		key := scc[0]
		return CycleWarning{
			Path:    []string{key, key},
			Message: fmt.Sprintf("named query references itself: %s → %s", key, key),
			Level:   "warning",
		}
	}

	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: "named query cycle " + strings.Join(path, " → "),
		Level:   "warning",
	}
}

// reconstructCyclePath walks edges inside the SCC from its first member
// until it returns there.
func reconstructCyclePath(scc []string, graph referenceGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	inSCC := make(map[string]bool, len(scc))
	for _, node := range scc {
		inSCC[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if inSCC[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}

	return path
}
