package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lithoslog/lithos/internal/engine"
	"github.com/lithoslog/lithos/internal/schema"
)

// ChainWarning flags a control-rule chain that can misbehave at runtime.
//
// Chains are warnings, not errors, because the runtime propagator has its
// own guards: a rule cycle that keeps producing the same value terminates
// naturally, and a chain that runs too deep fails the pass with a coded
// error. The warnings let authors fix the schema before either guard has
// to fire.
type ChainWarning struct {
	Path    []string `json:"path"`    // Field path: ["a", "b", "a"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeChains performs static analysis of VALUE_SET control chains.
//
// The algorithm:
//  1. Build a field -> field edge set from VALUE_SET rules
//  2. Find strongly connected components with Tarjan's algorithm;
//     report each SCC with size > 1 or a self-loop as a cycle warning
//  3. Measure the longest acyclic chain; report chains that can exceed
//     the runtime propagation depth bound
//
// A schema whose VALUE_SET rules form a short DAG returns nil.
func AnalyzeChains(s *schema.Schema) []ChainWarning {
	chain := buildChainGraph(s)
	if len(chain) == 0 {
		return nil
	}

	var warnings []ChainWarning

	cyclic := make(map[string]bool)
	for _, scc := range tarjanSCC(chain) {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], chain)) {
			sort.Strings(scc)
			for _, node := range scc {
				cyclic[node] = true
			}
			warnings = append(warnings, chainCycleWarning(scc, chain))
		}
	}

	if depth, path := longestChain(chain, cyclic); depth > engine.DefaultMaxDepth {
		warnings = append(warnings, ChainWarning{
			Path: path,
			Message: fmt.Sprintf("VALUE_SET chain of %d hops exceeds the runtime depth bound of %d: %s",
				depth, engine.DefaultMaxDepth, strings.Join(path, " -> ")),
			Level: "warning",
		})
	}

	return warnings
}

// AnalyzeFormulaCycles reports formula dependency cycles as authoring
// diagnostics. The runtime marks cyclic fields and fails them per pass;
// here the full cycle paths are surfaced so the author can break them.
func AnalyzeFormulaCycles(s *schema.Schema) []ChainWarning {
	// Parse failures are Validate's concern, not a cycle diagnostic.
	_, cycleErr, err := s.BuildGraph()
	if err != nil || cycleErr == nil {
		return nil
	}

	warnings := make([]ChainWarning, 0, len(cycleErr.Cycles))
	for _, cycle := range cycleErr.Cycles {
		warnings = append(warnings, ChainWarning{
			Path: cycle,
			Message: fmt.Sprintf("formula dependency cycle: %s (these fields will never evaluate)",
				strings.Join(cycle, " -> ")),
			Level: "warning",
		})
	}
	return warnings
}

// chainGraph maps field id -> fields its VALUE_SET rules can write.
type chainGraph map[string][]string

func buildChainGraph(s *schema.Schema) chainGraph {
	chain := make(chainGraph)
	for _, rule := range s.Controls {
		if rule.Effect != schema.EffectValueSet {
			continue
		}
		if chain[rule.Source] == nil {
			chain[rule.Source] = []string{}
		}
		chain[rule.Source] = append(chain[rule.Source], rule.Target)
		if chain[rule.Target] == nil {
			chain[rule.Target] = []string{}
		}
	}
	for node := range chain {
		sort.Strings(chain[node])
	}
	return chain
}

func hasSelfLoop(node string, chain chainGraph) bool {
	for _, neighbor := range chain[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(chain chainGraph) [][]string {
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

		for _, w := range chain[v] {
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

	nodes := make([]string, 0, len(chain))
	for node := range chain {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

func chainCycleWarning(scc []string, chain chainGraph) ChainWarning {
	if len(scc) == 1 {
		fieldID := scc[0]
		return ChainWarning{
			Path: []string{fieldID, fieldID},
			Message: fmt.Sprintf(
				"self-targeting VALUE_SET rule on %s terminates only when the mapped value matches the current one", fieldID),
			Level: "warning",
		}
	}

	path := reconstructCyclePath(scc, chain)
	return ChainWarning{
		Path: path,
		Message: fmt.Sprintf("VALUE_SET rule cycle: %s (terminates only on repeated values)",
			strings.Join(path, " -> ")),
		Level: "warning",
	}
}

// reconstructCyclePath walks edges within the SCC from its first member
// until it returns to the start.
func reconstructCyclePath(scc []string, chain chainGraph) []string {
	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range chain[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
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

// longestChain returns the hop count and path of the longest acyclic
// VALUE_SET chain. Nodes inside a cycle are excluded; the cycle itself
// is already reported separately.
func longestChain(chain chainGraph, cyclic map[string]bool) (int, []string) {
	memoDepth := make(map[string]int)
	memoPath := make(map[string][]string)

	var walk func(string) (int, []string)
	walk = func(node string) (int, []string) {
		if d, ok := memoDepth[node]; ok {
			return d, memoPath[node]
		}
		best := 0
		bestPath := []string{node}
		for _, next := range chain[node] {
			if cyclic[next] {
				continue
			}
			d, p := walk(next)
			if d+1 > best {
				best = d + 1
				bestPath = append([]string{node}, p...)
			}
		}
		memoDepth[node] = best
		memoPath[node] = bestPath
		return best, bestPath
	}

	bestDepth := 0
	var bestPath []string
	nodes := make([]string, 0, len(chain))
	for node := range chain {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		if cyclic[node] {
			continue
		}
		if d, p := walk(node); d > bestDepth {
			bestDepth = d
			bestPath = p
		}
	}
	return bestDepth, bestPath
}
