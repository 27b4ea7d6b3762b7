package advisory

import "math"

// DependencyGraph is the slice of the model DAG the fragility scorer
// needs. *dag.Graph satisfies it.
type DependencyGraph interface {
	Nodes() []string
	Upstream(name string) []string
	Ancestors(name string) []string
	Closure(seeds []string) []string
}

// FragilityScore decomposes one node's fragility into its parts.
// Own, Upstream, and Cascade are each in [0,1]; Composite is 0 to 10.
type FragilityScore struct {
	Model        string  `json:"model"`
	Own          float64 `json:"own"`
	Upstream     float64 `json:"upstream"`
	Cascade      float64 `json:"cascade"`
	Composite    float64 `json:"composite"`
	CriticalPath bool    `json:"critical_path"`
}

// Upstream contributions decay by this factor per level of distance: a
// flaky direct parent matters more than a flaky great-grandparent.
const upstreamDecay = 0.8

// Composite weights. Own failure probability carries the most weight;
// inherited and radiated risk split the rest.
const (
	fragilityOwnWeight      = 0.4
	fragilityUpstreamWeight = 0.3
	fragilityCascadeWeight  = 0.3
)

// criticalPathFloor is the ancestor failure probability above which a
// lineage stops having any safe link.
const criticalPathFloor = 0.3

// ScoreFragility scores every node of the graph given per-node failure
// probabilities. Missing nodes default to probability zero. Results come
// back in graph node order, which is sorted by name.
func ScoreFragility(g DependencyGraph, probs map[string]float64) []FragilityScore {
	nodes := g.Nodes()
	total := len(nodes)
	scores := make([]FragilityScore, 0, total)

	for _, node := range nodes {
		own := clamp(probs[node], 0, 1)

		s := FragilityScore{
			Model:    node,
			Own:      own,
			Upstream: upstreamRisk(g, node, probs),
			Cascade:  cascadeRisk(g, node, own, total),
		}
		s.Composite = 10 * (fragilityOwnWeight*s.Own +
			fragilityUpstreamWeight*s.Upstream +
			fragilityCascadeWeight*s.Cascade)
		s.CriticalPath = onCriticalPath(g, node, probs)
		scores = append(scores, s)
	}
	return scores
}

// upstreamRisk walks ancestors breadth-first and sums their failure
// probabilities decayed by distance, clamped to [0,1].
func upstreamRisk(g DependencyGraph, node string, probs map[string]float64) float64 {
	seen := map[string]bool{node: true}
	frontier := g.Upstream(node)
	sum := 0.0
	for depth := 1; len(frontier) > 0; depth++ {
		decay := math.Pow(upstreamDecay, float64(depth))
		var next []string
		for _, up := range frontier {
			if seen[up] {
				continue
			}
			seen[up] = true
			sum += clamp(probs[up], 0, 1) * decay
			next = append(next, g.Upstream(up)...)
		}
		frontier = next
	}
	return clamp(sum, 0, 1)
}

// cascadeRisk is the node's own probability scaled by how much of the
// graph sits downstream of it.
func cascadeRisk(g DependencyGraph, node string, own float64, total int) float64 {
	if total <= 1 {
		return 0
	}
	downstream := len(g.Closure([]string{node})) - 1
	return clamp(own*float64(downstream)/float64(total-1), 0, 1)
}

// onCriticalPath reports whether every ancestor is itself likely to fail.
// A node with no ancestors is never on a critical path.
func onCriticalPath(g DependencyGraph, node string, probs map[string]float64) bool {
	ancestors := g.Ancestors(node)
	if len(ancestors) == 0 {
		return false
	}
	for _, a := range ancestors {
		if probs[a] <= criticalPathFloor {
			return false
		}
	}
	return true
}
