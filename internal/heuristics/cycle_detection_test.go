package heuristics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalRotation(t *testing.T) {
	tests := []struct {
		name string
		path []int
		want []int
	}{
		{"Already canonical", []int{1, 2, 3}, []int{1, 2, 3}},
		{"Minimum in the middle", []int{3, 1, 2}, []int{1, 2, 3}},
		{"Minimum last", []int{7, 9, 4}, []int{4, 7, 9}},
		{"Empty", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, canonicalRotation(tt.path))
		})
	}
}

func TestCanonicalCycleKey_AllRotationsAgree(t *testing.T) {
	path := []int{5, 2, 7, 4}
	want := canonicalCycleKey(path)
	assert.Equal(t, "2,7,4,5", want)

	for i := range path {
		rotated := append(append([]int{}, path[i:]...), path[:i]...)
		assert.Equal(t, want, canonicalCycleKey(rotated), "rotation %v", rotated)
	}
}

func TestFindCycles_Triangle(t *testing.T) {
	g := buildGraph(chain(100, "A", "B", "C", "A"))

	findings := FindCycles(g, DefaultCycleConfig())

	require.Len(t, findings, 1)
	assert.Equal(t, PatternCycle, findings[0].Type)
	assert.Equal(t, []string{"A", "B", "C"}, findings[0].Members)
	assert.Equal(t, 3, findings[0].Metadata["length"])
}

func TestFindCycles_TwoHopLoopIgnored(t *testing.T) {
	g := buildGraph(chain(100, "A", "B", "A"))

	assert.Empty(t, FindCycles(g, DefaultCycleConfig()))
}

func TestFindCycles_LongerThanMaxIgnored(t *testing.T) {
	g := buildGraph(chain(100, "A", "B", "C", "D", "E", "F", "A"))

	assert.Empty(t, FindCycles(g, DefaultCycleConfig()))

	cfg := DefaultCycleConfig()
	cfg.MaxLength = 6
	findings := FindCycles(g, cfg)
	require.Len(t, findings, 1)
	assert.Equal(t, 6, findings[0].Metadata["length"])
}

func TestFindCycles_NoRotationDuplicates(t *testing.T) {
	// A→B→C→A and A→B→C→D→A share three members
	ledger := chain(100, "A", "B", "C", "A")
	ledger = append(ledger, chain(100, "C", "D", "A")...)
	g := buildGraph(ledger)

	findings := FindCycles(g, DefaultCycleConfig())

	require.Len(t, findings, 2)
	assert.Equal(t, []string{"A", "B", "C"}, findings[0].Members)
	assert.Equal(t, []string{"A", "B", "C", "D"}, findings[1].Members)

	keys := make(map[string]struct{})
	for _, f := range findings {
		handles := make([]int, len(f.Members))
		for i, m := range f.Members {
			v, ok := g.Lookup(m)
			require.True(t, ok)
			handles[i] = v
		}
		key := canonicalCycleKey(handles)
		_, dup := keys[key]
		assert.False(t, dup, "rotation emitted twice: %v", f.Members)
		keys[key] = struct{}{}

		length := f.Metadata["length"].(int)
		assert.GreaterOrEqual(t, length, 3)
		assert.LessOrEqual(t, length, 5)
	}
}

func TestFindCycles_HubStartSkippedButLoopStillFound(t *testing.T) {
	ledger := chain(100, "A", "B", "C", "A")
	ledger = append(ledger,
		transfer("A", "X", 5, 0),
		transfer("A", "Y", 5, 0),
	)
	g := buildGraph(ledger)

	cfg := DefaultCycleConfig()
	cfg.MaxOutDegree = 1

	findings := FindCycles(g, cfg)

	// A is too busy to start a search, B discovers the loop instead
	require.Len(t, findings, 1)
	assert.Equal(t, []string{"B", "C", "A"}, findings[0].Members)
}

func TestFindCycles_ParallelEdgesDoNotDuplicate(t *testing.T) {
	ledger := chain(100, "A", "B", "C", "A")
	ledger = append(ledger, chain(50, "A", "B", "C", "A")...)
	g := buildGraph(ledger)

	assert.Len(t, FindCycles(g, DefaultCycleConfig()), 1)
}
