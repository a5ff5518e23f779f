package heuristics

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rawblock/mule-engine/internal/graph"
	"github.com/rawblock/mule-engine/pkg/models"
)

// Dashboard node colours by suspicion band
const (
	ColorHighRisk = "#ef4444" // score > 50
	ColorFlagged  = "#f97316" // 0 < score <= 50
	ColorClean    = "#cccccc"
)

// FlagLookup resolves the analyst flag status recorded for an account
type FlagLookup interface {
	Status(ctx context.Context, accountID string) (string, bool)
}

// BuildGraphData renders every account and every transfer for the
// force-graph dashboard. Flag statuses are only attached to suspicious accounts.
func BuildGraphData(ctx context.Context, g *graph.Graph, accounts []models.SuspiciousAccount, flags FlagLookup) *models.GraphData {
	byID := make(map[string]models.SuspiciousAccount, len(accounts))
	for _, acc := range accounts {
		byID[acc.AccountID] = acc
	}

	inflow := make([]decimal.Decimal, g.VertexCount())
	outflow := make([]decimal.Decimal, g.VertexCount())
	links := make([]models.GraphLink, 0, g.EdgeCount())
	for _, e := range g.Edges() {
		amt := decimal.NewFromFloat(e.Amount)
		outflow[e.From] = outflow[e.From].Add(amt)
		inflow[e.To] = inflow[e.To].Add(amt)
		links = append(links, models.GraphLink{
			Source: g.Name(e.From),
			Target: g.Name(e.To),
			Amount: e.Amount,
		})
	}

	nodes := make([]models.GraphNode, 0, g.VertexCount())
	for v := 0; v < g.VertexCount(); v++ {
		id := g.Name(v)
		node := models.GraphNode{
			ID:       id,
			Patterns: []string{},
			Inflow:   inflow[v].Round(2).InexactFloat64(),
			Outflow:  outflow[v].Round(2).InexactFloat64(),
		}

		if acc, ok := byID[id]; ok {
			node.SuspicionScore = acc.SuspicionScore
			node.Patterns = acc.DetectedPatterns
			node.Ring = acc.RingID
			if flags != nil {
				if status, found := flags.Status(ctx, id); found {
					node.Status = &status
				}
			}
		}

		node.Val = 1 + node.SuspicionScore/20
		node.Color = nodeColor(node.SuspicionScore)
		nodes = append(nodes, node)
	}

	return &models.GraphData{Nodes: nodes, Links: links}
}

func nodeColor(score float64) string {
	switch {
	case score > 50:
		return ColorHighRisk
	case score > 0:
		return ColorFlagged
	default:
		return ColorClean
	}
}
