package heuristics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/mule-engine/pkg/models"
)

func TestDetectShells_LinearChain(t *testing.T) {
	g := buildGraph(chain(900, "SRC", "L1", "L2", "L3", "DST"))

	findings := DetectShells(g, DefaultShellConfig())

	require.Len(t, findings, 1)
	f := findings[0]
	assert.Equal(t, PatternLayeredShell, f.Type)
	assert.Equal(t, []string{"SRC", "L1", "L2", "L3", "DST"}, f.Members)
	assert.Equal(t, 5, f.Metadata["size"])
	assert.Equal(t, 3, f.Metadata["layers"])
}

func TestDetectShells_SizeCountsSharedHeadAndTailOnce(t *testing.T) {
	// X feeds the chain and receives its output; its extra edges keep it
	// out of the candidate set
	ledger := chain(900, "X", "S1", "S2", "S3", "X")
	ledger = append(ledger,
		transfer("X", "Y", 50, time.Hour),
		transfer("Z", "X", 50, 2*time.Hour),
	)

	findings := DetectShells(buildGraph(ledger), DefaultShellConfig())

	require.Len(t, findings, 1)
	assert.Equal(t, []string{"X", "S1", "S2", "S3"}, findings[0].Members)
	assert.Equal(t, 4, findings[0].Metadata["size"])
	assert.Equal(t, 3, findings[0].Metadata["layers"])
}

func TestDetectShells_TooFewLayers(t *testing.T) {
	g := buildGraph(chain(900, "SRC", "L1", "L2", "DST"))

	assert.Empty(t, DetectShells(g, DefaultShellConfig()))
}

func TestDetectShells_NoCandidates(t *testing.T) {
	g := buildGraph(chain(900, "A", "B"))

	assert.Nil(t, DetectShells(g, DefaultShellConfig()))
}

func TestDetectShells_CyclicComponentSkipped(t *testing.T) {
	ledger := chain(900, "SRC", "L1", "L2", "L3", "L1")
	ledger = append(ledger, transfer("L3", "DST", 900, 0))
	g := buildGraph(ledger)

	assert.Empty(t, DetectShells(g, DefaultShellConfig()))
}

func TestDetectShells_DenseClusterRejected(t *testing.T) {
	// Four low-degree accounts, but five edges among them
	ledger := models.Ledger{
		transfer("X", "a", 100, 0),
		transfer("a", "b", 100, 0),
		transfer("a", "c", 100, 0),
		transfer("b", "c", 100, 0),
		transfer("b", "d", 100, 0),
		transfer("c", "d", 100, 0),
		transfer("d", "Y", 100, 0),
	}
	g := buildGraph(ledger)

	assert.Empty(t, DetectShells(g, DefaultShellConfig()))
}

func TestDetectShells_ChainsAreTopologicallyOrdered(t *testing.T) {
	ledger := chain(500, "S1", "P1", "P2", "P3", "P4", "D1")
	ledger = append(ledger, chain(700, "S2", "Q1", "Q2", "Q3", "D2")...)
	g := buildGraph(ledger)

	findings := DetectShells(g, DefaultShellConfig())
	require.Len(t, findings, 2)

	for _, f := range findings {
		layers := f.Metadata["layers"].(int)
		chainIDs := f.Members[1 : 1+layers]

		vs := make([]int, len(chainIDs))
		for i, id := range chainIDs {
			v, ok := g.Lookup(id)
			require.True(t, ok)
			vs[i] = v
		}
		order, ok := topologicalOrder(g, vs)
		require.True(t, ok)
		assert.Len(t, order, len(vs))

		// every induced edge runs forward along the emitted chain
		pos := make(map[int]int, len(vs))
		for i, v := range vs {
			pos[v] = i
		}
		adj, _ := g.InducedAdjacency(vs)
		for from, tos := range adj {
			for _, to := range tos {
				assert.Less(t, pos[from], pos[to])
			}
		}
	}
	assert.Equal(t, []string{"S1", "P1", "P2", "P3", "P4", "D1"}, findings[0].Members)
	assert.Equal(t, []string{"S2", "Q1", "Q2", "Q3", "D2"}, findings[1].Members)
}

func TestTopologicalOrder_DetectsCycle(t *testing.T) {
	g := buildGraph(chain(10, "A", "B", "C", "A"))

	_, ok := topologicalOrder(g, []int{0, 1, 2})
	assert.False(t, ok)
}

func TestDedupePreserveOrder(t *testing.T) {
	assert.Equal(t, []string{"B", "A", "C"}, dedupePreserveOrder([]string{"B", "A", "B", "C", "A"}))
}
