package heuristics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClusterEngine_Components(t *testing.T) {
	ce := NewClusterEngine()
	assert.True(t, ce.Union(4, 2))
	assert.True(t, ce.Union(2, 9))
	assert.False(t, ce.Union(9, 4))
	ce.Add(7)
	assert.True(t, ce.Union(1, 3))

	assert.Equal(t, ce.Find(4), ce.Find(9))
	assert.NotEqual(t, ce.Find(1), ce.Find(7))
	assert.Equal(t, [][]int{{1, 3}, {2, 4, 9}, {7}}, ce.Components())
}
