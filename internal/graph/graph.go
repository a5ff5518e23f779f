package graph

import (
	"github.com/rawblock/mule-engine/pkg/models"
)

// Transaction Graph
//
// Directed multigraph over accounts. Every distinct sender or receiver gets a
// stable integer handle in first-appearance order (sender before receiver,
// ledger order), and every transaction becomes one edge carrying its amount.
// Parallel edges between the same pair are kept.
//
// Detectors work purely on handles and convert back to account IDs only when
// emitting findings. The graph is built once per request and never mutated
// afterwards, so it is safe to share across concurrently running detectors.

// Edge is a single transfer between two vertex handles
type Edge struct {
	From   int
	To     int
	Amount float64
}

// Graph is an adjacency-list multigraph keyed by integer vertex handles
type Graph struct {
	names []string
	index map[string]int
	edges []Edge

	outEdges [][]int // edge positions leaving each vertex
	inEdges  [][]int // edge positions entering each vertex

	succ [][]int // distinct successors, first-edge order
	pred [][]int // distinct predecessors, first-edge order
}

// Build constructs the graph from a ledger. An empty ledger yields an empty graph.
func Build(ledger models.Ledger) *Graph {
	g := &Graph{
		index: make(map[string]int, len(ledger)),
		edges: make([]Edge, 0, len(ledger)),
	}

	seenSucc := make(map[[2]int]struct{}, len(ledger))
	for _, tx := range ledger {
		from := g.vertex(tx.SenderID)
		to := g.vertex(tx.ReceiverID)

		pos := len(g.edges)
		g.edges = append(g.edges, Edge{From: from, To: to, Amount: tx.Amount})
		g.outEdges[from] = append(g.outEdges[from], pos)
		g.inEdges[to] = append(g.inEdges[to], pos)

		key := [2]int{from, to}
		if _, ok := seenSucc[key]; !ok {
			seenSucc[key] = struct{}{}
			g.succ[from] = append(g.succ[from], to)
			g.pred[to] = append(g.pred[to], from)
		}
	}

	return g
}

// vertex returns the handle for id, allocating one on first sight
func (g *Graph) vertex(id string) int {
	if v, ok := g.index[id]; ok {
		return v
	}
	v := len(g.names)
	g.index[id] = v
	g.names = append(g.names, id)
	g.outEdges = append(g.outEdges, nil)
	g.inEdges = append(g.inEdges, nil)
	g.succ = append(g.succ, nil)
	g.pred = append(g.pred, nil)
	return v
}

// VertexCount returns the number of distinct accounts
func (g *Graph) VertexCount() int { return len(g.names) }

// EdgeCount returns the number of transactions
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Lookup resolves an account ID to its vertex handle
func (g *Graph) Lookup(id string) (int, bool) {
	v, ok := g.index[id]
	return v, ok
}

// Name returns the account ID for a vertex handle
func (g *Graph) Name(v int) string { return g.names[v] }

// Names maps a list of handles back to account IDs
func (g *Graph) Names(vs []int) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = g.names[v]
	}
	return out
}

// OutDegree counts edges leaving v, parallel edges included
func (g *Graph) OutDegree(v int) int { return len(g.outEdges[v]) }

// InDegree counts edges entering v, parallel edges included
func (g *Graph) InDegree(v int) int { return len(g.inEdges[v]) }

// Degree is the total in+out edge count of v
func (g *Graph) Degree(v int) int { return len(g.outEdges[v]) + len(g.inEdges[v]) }

// Successors returns the distinct vertices v sends to. Callers must not modify it.
func (g *Graph) Successors(v int) []int { return g.succ[v] }

// Predecessors returns the distinct vertices sending to v. Callers must not modify it.
func (g *Graph) Predecessors(v int) []int { return g.pred[v] }

// Edges returns every edge in ledger order. Callers must not modify it.
func (g *Graph) Edges() []Edge { return g.edges }

// InducedEdges returns the number of edges and their summed amount over the
// subgraph induced by vs (both endpoints inside it). Vertices are visited in
// the given order so the float sum is reproducible.
func (g *Graph) InducedEdges(vs []int) (count int, volume float64) {
	set := toSet(vs)
	for _, v := range vs {
		for _, pos := range g.outEdges[v] {
			e := g.edges[pos]
			if _, ok := set[e.To]; ok {
				count++
				volume += e.Amount
			}
		}
	}
	return count, volume
}

// InducedAdjacency returns, for every vertex of vs, the handles it sends to
// inside vs with one entry per edge, plus the matching in-degree counts.
func (g *Graph) InducedAdjacency(vs []int) (adj map[int][]int, inDeg map[int]int) {
	set := toSet(vs)
	adj = make(map[int][]int, len(vs))
	inDeg = make(map[int]int, len(vs))
	for _, v := range vs {
		if _, ok := inDeg[v]; !ok {
			inDeg[v] = 0
		}
		for _, pos := range g.outEdges[v] {
			to := g.edges[pos].To
			if _, ok := set[to]; ok {
				adj[v] = append(adj[v], to)
				inDeg[to]++
			}
		}
	}
	return adj, inDeg
}

func toSet(vs []int) map[int]struct{} {
	set := make(map[int]struct{}, len(vs))
	for _, v := range vs {
		set[v] = struct{}{}
	}
	return set
}
