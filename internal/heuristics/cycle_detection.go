package heuristics

import (
	"strconv"
	"strings"

	"github.com/rawblock/mule-engine/internal/graph"
)

// Circular Flow Detection Module
//
// Round-tripping sends money out through a short loop of accounts and back
// to its origin (A → B → C → A), inflating turnover or obscuring the source
// of funds while leaving net balances untouched.
//
// Search:
//   - Start only from vertices with 0 < out-degree <= MaxOutDegree and
//     in-degree > 0. Dead ends cannot close a loop, and hubs (exchanges,
//     payment processors) would explode the search.
//   - Depth-first with an explicit stack of (vertex, path) frames, path
//     length capped at MaxLength.
//   - A loop closes when the current vertex has the start as a successor and
//     the path length is in [MinLength, MaxLength].
//
// Deduplication uses the canonical rotation (minimum handle first), so a
// loop found from each of its members is reported once. Emitted members keep
// the traversal order of the first discovery.

// CycleConfig bounds the cycle search
type CycleConfig struct {
	MinLength    int `json:"minLength"`    // Inclusive, default 3
	MaxLength    int `json:"maxLength"`    // Inclusive, default 5
	MaxOutDegree int `json:"maxOutDegree"` // Start-vertex hub cap, default 100
}

// DefaultCycleConfig returns the production cycle bounds
func DefaultCycleConfig() CycleConfig {
	return CycleConfig{
		MinLength:    3,
		MaxLength:    5,
		MaxOutDegree: 100,
	}
}

type cycleFrame struct {
	vertex int
	path   []int
}

// FindCycles enumerates simple directed cycles whose vertex count lies in
// [MinLength, MaxLength], each reported exactly once up to rotation.
func FindCycles(g *graph.Graph, cfg CycleConfig) []Finding {
	var findings []Finding
	seen := make(map[string]struct{})

	for start := 0; start < g.VertexCount(); start++ {
		out := g.OutDegree(start)
		if out == 0 || out > cfg.MaxOutDegree || g.InDegree(start) == 0 {
			continue
		}

		stack := []cycleFrame{{vertex: start, path: []int{start}}}
		for len(stack) > 0 {
			frame := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			if len(frame.path) > cfg.MaxLength {
				continue
			}

			for _, next := range g.Successors(frame.vertex) {
				if next == start {
					if len(frame.path) < cfg.MinLength || len(frame.path) > cfg.MaxLength {
						continue
					}
					key := canonicalCycleKey(frame.path)
					if _, dup := seen[key]; dup {
						continue
					}
					seen[key] = struct{}{}
					findings = append(findings, Finding{
						Type:     PatternCycle,
						Members:  g.Names(frame.path),
						Metadata: map[string]any{"length": len(frame.path)},
					})
					continue
				}

				if containsVertex(frame.path, next) || len(frame.path) >= cfg.MaxLength {
					continue
				}

				path := make([]int, len(frame.path)+1)
				copy(path, frame.path)
				path[len(frame.path)] = next
				stack = append(stack, cycleFrame{vertex: next, path: path})
			}
		}
	}

	return findings
}

// canonicalRotation rotates a cyclic sequence so it starts at its minimum element
func canonicalRotation(path []int) []int {
	if len(path) == 0 {
		return nil
	}
	minPos := 0
	for i, v := range path {
		if v < path[minPos] {
			minPos = i
		}
	}
	out := make([]int, 0, len(path))
	out = append(out, path[minPos:]...)
	out = append(out, path[:minPos]...)
	return out
}

// canonicalCycleKey is the dedup key shared by every rotation of path
func canonicalCycleKey(path []int) string {
	rot := canonicalRotation(path)
	var b strings.Builder
	for i, v := range rot {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(v))
	}
	return b.String()
}

func containsVertex(path []int, v int) bool {
	for _, p := range path {
		if p == v {
			return true
		}
	}
	return false
}
