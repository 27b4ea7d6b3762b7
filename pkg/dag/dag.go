// Package dag builds the dependency graph over a loaded model set and
// answers the questions planning needs: topological order, forward and
// backward closures, and longest-path depths for parallel grouping.
//
// Edges run upstream → downstream. Only tables that are themselves models
// become edges; external tables referenced by a model are sources of data
// but not nodes. Cycles are rejected at build time with the offending cycle
// spelled out.
package dag

import (
	"sort"
	"strings"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/types"
)

// Graph is an immutable dependency graph over canonical model names.
type Graph struct {
	nodes      []string
	upstream   map[string][]string
	downstream map[string][]string
	order      []string
	depth      map[string]int
}

// Build constructs the graph from referenced tables plus explicit
// depends_on entries, restricted to names present in the model set.
func Build(models []*types.ModelDefinition) (*Graph, error) {
	known := make(map[string]bool, len(models))
	for _, m := range models {
		known[m.Name] = true
	}

	g := &Graph{
		upstream:   make(map[string][]string, len(models)),
		downstream: make(map[string][]string, len(models)),
		depth:      make(map[string]int, len(models)),
	}
	for _, m := range models {
		g.nodes = append(g.nodes, m.Name)
		deps := map[string]bool{}
		for _, ref := range m.References {
			if known[ref] && ref != m.Name {
				deps[ref] = true
			}
		}
		for _, dep := range m.DependsOn {
			if known[dep] && dep != m.Name {
				deps[dep] = true
			}
		}
		for dep := range deps {
			g.upstream[m.Name] = append(g.upstream[m.Name], dep)
			g.downstream[dep] = append(g.downstream[dep], m.Name)
		}
	}
	sort.Strings(g.nodes)
	for _, edges := range g.upstream {
		sort.Strings(edges)
	}
	for _, edges := range g.downstream {
		sort.Strings(edges)
	}

	if err := g.sortTopological(); err != nil {
		return nil, err
	}
	return g, nil
}

// sortTopological runs Kahn's algorithm with lexicographic tie-breaking and
// fills longest-path depths as a by-product.
func (g *Graph) sortTopological() error {
	indegree := make(map[string]int, len(g.nodes))
	for _, n := range g.nodes {
		indegree[n] = len(g.upstream[n])
	}

	var ready []string
	for _, n := range g.nodes {
		if indegree[n] == 0 {
			ready = append(ready, n)
			g.depth[n] = 0
		}
	}
	sort.Strings(ready)

	g.order = make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		g.order = append(g.order, n)
		for _, next := range g.downstream[n] {
			if d := g.depth[n] + 1; d > g.depth[next] {
				g.depth[next] = d
			}
			indegree[next]--
			if indegree[next] == 0 {
				ready = insertSorted(ready, next)
			}
		}
	}

	if len(g.order) != len(g.nodes) {
		return errdefs.DagCyclef("dependency cycle: %s", strings.Join(g.findCycle(indegree), " -> "))
	}
	return nil
}

// findCycle extracts one concrete cycle from the nodes Kahn could not
// order. Walking always picks the smallest unprocessed upstream, so the
// reported cycle is deterministic.
func (g *Graph) findCycle(indegree map[string]int) []string {
	remaining := map[string]bool{}
	var start string
	for _, n := range g.nodes {
		if indegree[n] > 0 {
			remaining[n] = true
			if start == "" {
				start = n
			}
		}
	}

	seen := map[string]int{}
	var path []string
	node := start
	for {
		if at, ok := seen[node]; ok {
			cycle := append([]string{}, path[at:]...)
			return append(cycle, node)
		}
		seen[node] = len(path)
		path = append(path, node)
		for _, up := range g.upstream[node] {
			if remaining[up] {
				node = up
				break
			}
		}
	}
}

// TopoOrder returns nodes upstream-first; ties broken by name.
func (g *Graph) TopoOrder() []string {
	return g.order
}

// Nodes returns all model names, sorted.
func (g *Graph) Nodes() []string {
	return g.nodes
}

// Has reports whether name is a node.
func (g *Graph) Has(name string) bool {
	_, ok := g.depth[name]
	return ok
}

// Upstream returns the direct dependencies of name, sorted.
func (g *Graph) Upstream(name string) []string {
	return g.upstream[name]
}

// Downstream returns the direct dependents of name, sorted.
func (g *Graph) Downstream(name string) []string {
	return g.downstream[name]
}

// Depth is the longest path from any source to name. Sources are depth 0.
func (g *Graph) Depth(name string) int {
	return g.depth[name]
}

// Closure returns seeds plus everything downstream of them, sorted.
func (g *Graph) Closure(seeds []string) []string {
	visited := map[string]bool{}
	var visit func(string)
	visit = func(n string) {
		if visited[n] {
			return
		}
		visited[n] = true
		for _, next := range g.downstream[n] {
			visit(next)
		}
	}
	for _, s := range seeds {
		if g.Has(s) {
			visit(s)
		}
	}
	out := make([]string, 0, len(visited))
	for n := range visited {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Ancestors returns everything upstream of name, excluding name, sorted.
func (g *Graph) Ancestors(name string) []string {
	visited := map[string]bool{}
	var visit func(string)
	visit = func(n string) {
		for _, up := range g.upstream[n] {
			if !visited[up] {
				visited[up] = true
				visit(up)
			}
		}
	}
	if g.Has(name) {
		visit(name)
	}
	out := make([]string, 0, len(visited))
	for n := range visited {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// UpstreamWithin filters direct dependencies of name to the given set.
func (g *Graph) UpstreamWithin(name string, set map[string]bool) []string {
	var out []string
	for _, up := range g.upstream[name] {
		if set[up] {
			out = append(out, up)
		}
	}
	return out
}

// DepthsWithin computes longest-path depths inside the subgraph induced by
// set. Members whose in-set dependencies are all absent sit at depth 0.
func (g *Graph) DepthsWithin(set map[string]bool) map[string]int {
	depths := make(map[string]int, len(set))
	for _, n := range g.order {
		if !set[n] {
			continue
		}
		d := 0
		for _, up := range g.upstream[n] {
			if set[up] && depths[up]+1 > d {
				d = depths[up] + 1
			}
		}
		depths[n] = d
	}
	return depths
}

func insertSorted(list []string, item string) []string {
	i := sort.SearchStrings(list, item)
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = item
	return list
}
