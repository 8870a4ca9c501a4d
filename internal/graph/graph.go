// Package graph builds the per-instance formula dependency graph and
// derives the deterministic recompute order for the scheduler.
package graph

import (
	"fmt"
	"sort"
	"strings"
)

// CycleError reports one or more dependency cycles found at graph build
// time. Fields inside a cycle are excluded from evaluation; the scheduler
// reports them failed and keeps their last-known values.
type CycleError struct {
	Cycles [][]string // Each cycle as an ordered field path
}

func (e *CycleError) Error() string {
	paths := make([]string, len(e.Cycles))
	for i, cycle := range e.Cycles {
		paths[i] = strings.Join(cycle, " -> ")
	}
	return fmt.Sprintf("formula dependency cycle(s): %s", strings.Join(paths, "; "))
}

// Graph is the directed formula dependency graph for one schema:
// an edge source -> dependent means the dependent field's formula reads
// the source field. The graph is immutable after Build and safe to share
// across entity instances.
type Graph struct {
	deps       map[string][]string // formula field -> fields it reads
	dependents map[string][]string // field -> formula fields that read it
	order      map[string]int      // topological index over acyclic formula fields
	cyclic     map[string]bool     // formula fields inside an SCC
}

// Build constructs the graph from each formula field's dependency list.
//
// If cycles exist, Build still returns a usable graph: every field in a
// strongly connected component is marked cyclic, and the returned
// CycleError lists the cycle paths for authoring-time diagnostics.
// Acyclic fields keep a valid topological order either way.
func Build(deps map[string][]string) (*Graph, *CycleError) {
	g := &Graph{
		deps:       make(map[string][]string, len(deps)),
		dependents: make(map[string][]string),
		order:      make(map[string]int, len(deps)),
		cyclic:     make(map[string]bool),
	}

	for field, reads := range deps {
		sorted := append([]string(nil), reads...)
		sort.Strings(sorted)
		g.deps[field] = sorted
		for _, src := range sorted {
			g.dependents[src] = append(g.dependents[src], field)
		}
	}
	for src := range g.dependents {
		sort.Strings(g.dependents[src])
	}

	cycles := g.findCycles()
	g.buildOrder()

	if len(cycles) > 0 {
		return g, &CycleError{Cycles: cycles}
	}
	return g, nil
}

// IsFormulaField reports whether id owns a formula in this graph.
func (g *Graph) IsFormulaField(id string) bool {
	_, ok := g.deps[id]
	return ok
}

// IsCyclic reports whether id sits inside a dependency cycle.
func (g *Graph) IsCyclic(id string) bool {
	return g.cyclic[id]
}

// Dependencies returns the fields the formula field id reads.
func (g *Graph) Dependencies(id string) []string {
	return g.deps[id]
}

// FormulaFields returns every formula field id in topological order,
// cyclic fields last in lexicographic order.
func (g *Graph) FormulaFields() []string {
	fields := make([]string, 0, len(g.deps))
	for id := range g.deps {
		fields = append(fields, id)
	}
	g.sortByOrder(fields)
	return fields
}

// Affected returns the formula fields transitively dependent on any of
// the changed fields, in topological order. A changed field that is
// itself a formula field is included, so a forced recompute of a single
// formula works through the same path.
func (g *Graph) Affected(changed []string) []string {
	seen := make(map[string]bool)
	queue := append([]string(nil), changed...)

	var affected []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		if g.IsFormulaField(id) && !seen[id] {
			seen[id] = true
			affected = append(affected, id)
		}
		for _, dep := range g.dependents[id] {
			if !seen[dep] {
				seen[dep] = true
				affected = append(affected, dep)
				queue = append(queue, dep)
			}
		}
	}

	g.sortByOrder(affected)
	return affected
}

// sortByOrder sorts formula fields by topological index; cyclic fields
// carry no index and sort after acyclic ones, lexicographically.
func (g *Graph) sortByOrder(fields []string) {
	sort.SliceStable(fields, func(i, j int) bool {
		oi, iok := g.order[fields[i]]
		oj, jok := g.order[fields[j]]
		if iok != jok {
			return iok
		}
		if !iok {
			return fields[i] < fields[j]
		}
		return oi < oj
	})
}

// findCycles runs Tarjan's strongly connected components algorithm over
// the formula-to-formula subgraph. An SCC larger than one node, or a
// single node with a self-loop, is a cycle; all of its members are
// marked cyclic.
func (g *Graph) findCycles() [][]string {
	var (
		index   int
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	// Edges run formula -> formula only: a dependency on a plain input
	// field can never close a cycle.
	successors := func(id string) []string {
		var out []string
		for _, dep := range g.deps[id] {
			if g.IsFormulaField(dep) {
				out = append(out, dep)
			}
		}
		return out
	}

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range successors(v) {
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

	fields := make([]string, 0, len(g.deps))
	for id := range g.deps {
		fields = append(fields, id)
	}
	sort.Strings(fields)
	for _, id := range fields {
		if _, visited := indices[id]; !visited {
			strongConnect(id)
		}
	}

	var cycles [][]string
	for _, scc := range sccs {
		if len(scc) == 1 && !g.hasSelfLoop(scc[0]) {
			continue
		}
		sort.Strings(scc)
		for _, id := range scc {
			g.cyclic[id] = true
		}
		cycles = append(cycles, scc)
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })
	return cycles
}

func (g *Graph) hasSelfLoop(id string) bool {
	for _, dep := range g.deps[id] {
		if dep == id {
			return true
		}
	}
	return false
}

// buildOrder assigns topological indices to acyclic formula fields using
// Kahn's algorithm with lexicographic tie-breaking, so the recompute
// order is a pure function of the graph.
func (g *Graph) buildOrder() {
	indegree := make(map[string]int)
	for id := range g.deps {
		if g.cyclic[id] {
			continue
		}
		count := 0
		for _, dep := range g.deps[id] {
			if g.IsFormulaField(dep) && !g.cyclic[dep] {
				count++
			}
		}
		indegree[id] = count
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	next := 0
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		g.order[id] = next
		next++

		var unlocked []string
		for _, dep := range g.dependents[id] {
			if g.cyclic[dep] {
				continue
			}
			if _, ok := indegree[dep]; !ok {
				continue
			}
			indegree[dep]--
			if indegree[dep] == 0 {
				unlocked = append(unlocked, dep)
			}
		}
		sort.Strings(unlocked)
		ready = append(ready, unlocked...)
	}
}
