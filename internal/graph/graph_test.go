package graph

import (
	"testing"
	"time"

	"github.com/rawblock/mule-engine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tx(from, to string, amount float64) models.Transaction {
	return models.Transaction{SenderID: from, ReceiverID: to, Amount: amount, Timestamp: time.Unix(0, 0)}
}

func TestBuild_EmptyLedger(t *testing.T) {
	g := Build(nil)

	assert.Equal(t, 0, g.VertexCount())
	assert.Equal(t, 0, g.EdgeCount())
	_, ok := g.Lookup("A")
	assert.False(t, ok)
}

func TestBuild_HandlesInFirstAppearanceOrder(t *testing.T) {
	g := Build(models.Ledger{
		tx("B", "C", 10),
		tx("A", "B", 20),
		tx("C", "A", 30),
	})

	require.Equal(t, 3, g.VertexCount())
	for want, id := range []string{"B", "C", "A"} {
		v, ok := g.Lookup(id)
		require.True(t, ok)
		assert.Equal(t, want, v)
		assert.Equal(t, id, g.Name(v))
	}
}

func TestBuild_ParallelEdgesCountTowardDegree(t *testing.T) {
	g := Build(models.Ledger{
		tx("A", "B", 10),
		tx("A", "B", 15),
		tx("B", "C", 5),
	})

	a, _ := g.Lookup("A")
	b, _ := g.Lookup("B")

	assert.Equal(t, 2, g.OutDegree(a))
	assert.Equal(t, 2, g.InDegree(b))
	assert.Equal(t, 3, g.Degree(b))
	assert.Equal(t, []int{b}, g.Successors(a), "successors are distinct")
	assert.Equal(t, []int{a}, g.Predecessors(b))
}

func TestInducedEdges(t *testing.T) {
	g := Build(models.Ledger{
		tx("A", "B", 100),
		tx("B", "C", 200),
		tx("C", "A", 300),
		tx("C", "D", 1000),
		tx("A", "B", 50),
	})

	a, _ := g.Lookup("A")
	b, _ := g.Lookup("B")
	c, _ := g.Lookup("C")

	count, volume := g.InducedEdges([]int{a, b, c})
	assert.Equal(t, 4, count)
	assert.InDelta(t, 650.0, volume, 1e-9)

	adj, inDeg := g.InducedAdjacency([]int{a, b})
	assert.Equal(t, []int{b, b}, adj[a])
	assert.Equal(t, 0, inDeg[a])
	assert.Equal(t, 2, inDeg[b])
}
