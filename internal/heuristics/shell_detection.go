package heuristics

import (
	"sort"

	"github.com/rawblock/mule-engine/internal/graph"
)

// Layered Shell Chain Detection Module
//
// Layering routes funds through a string of thin pass-through accounts so the
// real source and destination never transact directly:
//
//   Source → S₁ → S₂ → S₃ → Destination
//
// Each S has a tiny footprint (one or two edges in, one or two out) and
// forwards what it receives. That low, flow-balanced degree is the signature.
//
// Detection:
//  1. Candidates: total degree in {2,3} with at least one edge in and one out.
//  2. Weak components of the candidate-only subgraph.
//  3. Per component of size >= MinHops: re-induce the original graph over it
//     and require edges < LinearityRatio × vertices (near-linear, not a cluster).
//  4. Topologically sort it. A component with a cycle is skipped; loops
//     belong to the cycle detector.
//  5. Heads are predecessors of the first layer outside the component, tails
//     are successors of the last layer outside it.
//
// Members are heads, then the ordered layers, then tails, deduplicated in
// first-occurrence order. The size metadata counts members after dedupe.

// ShellConfig controls layered-chain detection
type ShellConfig struct {
	MinHops        int     `json:"minHops"`        // Minimum layer count, default 3
	MinDegree      int     `json:"minDegree"`      // Candidate total degree lower bound, default 2
	MaxDegree      int     `json:"maxDegree"`      // Candidate total degree upper bound, default 3
	LinearityRatio float64 `json:"linearityRatio"` // Edge/vertex ceiling, default 1.2
}

// DefaultShellConfig returns the production shell-chain thresholds
func DefaultShellConfig() ShellConfig {
	return ShellConfig{
		MinHops:        3,
		MinDegree:      2,
		MaxDegree:      3,
		LinearityRatio: 1.2,
	}
}

// DetectShells finds layered pass-through chains with their head and tail accounts
func DetectShells(g *graph.Graph, cfg ShellConfig) []Finding {
	var candidates []int
	isCandidate := make(map[int]struct{})
	for v := 0; v < g.VertexCount(); v++ {
		deg := g.Degree(v)
		if deg < cfg.MinDegree || deg > cfg.MaxDegree {
			continue
		}
		if g.InDegree(v) < 1 || g.OutDegree(v) < 1 {
			continue
		}
		candidates = append(candidates, v)
		isCandidate[v] = struct{}{}
	}

	if len(candidates) < 2 {
		return nil
	}

	ce := NewClusterEngine()
	for _, v := range candidates {
		ce.Add(v)
		for _, next := range g.Successors(v) {
			if _, ok := isCandidate[next]; ok {
				ce.Union(v, next)
			}
		}
	}

	var findings []Finding
	for _, comp := range ce.Components() {
		if len(comp) < cfg.MinHops {
			continue
		}

		edges, _ := g.InducedEdges(comp)
		if float64(edges) >= float64(len(comp))*cfg.LinearityRatio {
			continue
		}

		chain, ok := topologicalOrder(g, comp)
		if !ok {
			continue
		}

		inChain := make(map[int]struct{}, len(chain))
		for _, v := range chain {
			inChain[v] = struct{}{}
		}

		var heads, tails []int
		for _, p := range g.Predecessors(chain[0]) {
			if _, ok := inChain[p]; !ok {
				heads = append(heads, p)
			}
		}
		for _, s := range g.Successors(chain[len(chain)-1]) {
			if _, ok := inChain[s]; !ok {
				tails = append(tails, s)
			}
		}

		full := make([]int, 0, len(heads)+len(chain)+len(tails))
		full = append(full, heads...)
		full = append(full, chain...)
		full = append(full, tails...)
		members := dedupePreserveOrder(g.Names(full))

		findings = append(findings, Finding{
			Type:    PatternLayeredShell,
			Members: members,
			Metadata: map[string]any{
				"size":   len(members),
				"layers": len(chain),
			},
		})
	}

	return findings
}

// topologicalOrder runs Kahn's algorithm on the original graph induced over
// vs, releasing ready vertices lowest handle first. ok is false when the
// subgraph contains a cycle.
func topologicalOrder(g *graph.Graph, vs []int) (order []int, ok bool) {
	adj, inDeg := g.InducedAdjacency(vs)

	var ready []int
	for _, v := range vs {
		if inDeg[v] == 0 {
			ready = append(ready, v)
		}
	}
	sort.Ints(ready)

	order = make([]int, 0, len(vs))
	for len(ready) > 0 {
		v := ready[0]
		ready = ready[1:]
		order = append(order, v)

		released := false
		for _, next := range adj[v] {
			inDeg[next]--
			if inDeg[next] == 0 {
				ready = append(ready, next)
				released = true
			}
		}
		if released {
			sort.Ints(ready)
		}
	}

	if len(order) != len(vs) {
		return nil, false
	}
	return order, true
}

func dedupePreserveOrder(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
