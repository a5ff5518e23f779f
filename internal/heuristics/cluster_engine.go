package heuristics

import (
	"sort"
)

// Weak Component Engine (Union-Find)
//
// Groups vertex handles into weakly connected components: edge direction is
// ignored and any transfer between two members merges their sets.
//
// Implementation: Union by rank with path compression.
//   - Find: O(α(n)) amortized
//   - Union: O(α(n)) amortized
//   - Space: O(n) in the number of tracked handles

// ClusterEngine implements union-find over integer vertex handles
type ClusterEngine struct {
	parent map[int]int
	rank   map[int]int
}

// NewClusterEngine creates an empty engine
func NewClusterEngine() *ClusterEngine {
	return &ClusterEngine{
		parent: make(map[int]int),
		rank:   make(map[int]int),
	}
}

// Add registers v as a singleton component if unseen
func (ce *ClusterEngine) Add(v int) {
	if _, exists := ce.parent[v]; !exists {
		ce.parent[v] = v
		ce.rank[v] = 0
	}
}

// Find returns the root representative of v's component
func (ce *ClusterEngine) Find(v int) int {
	ce.Add(v)
	if ce.parent[v] != v {
		ce.parent[v] = ce.Find(ce.parent[v])
	}
	return ce.parent[v]
}

// Union merges the components of a and b.
// Returns true if they were previously separate.
func (ce *ClusterEngine) Union(a, b int) bool {
	rootA := ce.Find(a)
	rootB := ce.Find(b)
	if rootA == rootB {
		return false
	}

	switch {
	case ce.rank[rootA] < ce.rank[rootB]:
		ce.parent[rootA] = rootB
	case ce.rank[rootA] > ce.rank[rootB]:
		ce.parent[rootB] = rootA
	default:
		ce.parent[rootB] = rootA
		ce.rank[rootA]++
	}
	return true
}

// Components returns every component with members in ascending order,
// the components themselves ordered by their smallest member.
func (ce *ClusterEngine) Components() [][]int {
	handles := make([]int, 0, len(ce.parent))
	for v := range ce.parent {
		handles = append(handles, v)
	}
	sort.Ints(handles)

	byRoot := make(map[int]int)
	var comps [][]int
	for _, v := range handles {
		root := ce.Find(v)
		idx, ok := byRoot[root]
		if !ok {
			idx = len(comps)
			byRoot[root] = idx
			comps = append(comps, nil)
		}
		comps[idx] = append(comps[idx], v)
	}
	return comps
}
