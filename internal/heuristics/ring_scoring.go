package heuristics

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rawblock/mule-engine/internal/graph"
	"github.com/rawblock/mule-engine/pkg/models"
)

// Ring Scoring & Aggregation
//
// Turns raw findings into numbered fraud rings and per-account suspicion.
//
// Ring risk = base(pattern) + volume bonus + size bonus, capped.
//   - Base:   smurfing/fan 70, cycle 65, layered 55, anything else 50
//   - Volume: money moved on edges between ring members
//             > 50,000 → +15, > 20,000 → +10
//   - Size:   member count >= 10 → +10, >= 5 → +5
//
// Account suspicion = highest ring risk among its rings, +20 if it sits in
// more than one ring, capped. The primary ring is the smallest ring ID.
//
// Rings identical in (sorted members, pattern) are collapsed before an ID is
// assigned, so IDs stay dense. Volume is never exposed outside scoring.

// ScoreTier is a "strictly above / at least Threshold → Bonus" step
type ScoreTier struct {
	Threshold float64 `json:"threshold"`
	Bonus     float64 `json:"bonus"`
}

// ScoringConfig holds the ring and account scoring constants
type ScoringConfig struct {
	SmurfingBase float64     `json:"smurfingBase"` // default 70
	CycleBase    float64     `json:"cycleBase"`    // default 65
	LayeredBase  float64     `json:"layeredBase"`  // default 55
	DefaultBase  float64     `json:"defaultBase"`  // default 50
	VolumeTiers  []ScoreTier `json:"volumeTiers"`  // strictly-above, highest first
	SizeTiers    []ScoreTier `json:"sizeTiers"`    // at-least, highest first
	OverlapBonus float64     `json:"overlapBonus"` // default 20
	MaxScore     float64     `json:"maxScore"`     // default 99.5
}

// DefaultScoringConfig returns the production scoring constants
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		SmurfingBase: 70,
		CycleBase:    65,
		LayeredBase:  55,
		DefaultBase:  50,
		VolumeTiers: []ScoreTier{
			{Threshold: 50000, Bonus: 15},
			{Threshold: 20000, Bonus: 10},
		},
		SizeTiers: []ScoreTier{
			{Threshold: 10, Bonus: 10},
			{Threshold: 5, Bonus: 5},
		},
		OverlapBonus: 20,
		MaxScore:     99.5,
	}
}

// BaseScore returns the pattern weight for a lowercase pattern tag
func (c ScoringConfig) BaseScore(patternType string) float64 {
	switch {
	case strings.Contains(patternType, "smurfing") || strings.Contains(patternType, "fan"):
		return c.SmurfingBase
	case strings.Contains(patternType, "cycle"):
		return c.CycleBase
	case strings.Contains(patternType, "layered"):
		return c.LayeredBase
	default:
		return c.DefaultBase
	}
}

// VolumeBonus returns the first tier whose threshold volume strictly exceeds
func (c ScoringConfig) VolumeBonus(volume float64) float64 {
	for _, tier := range c.VolumeTiers {
		if volume > tier.Threshold {
			return tier.Bonus
		}
	}
	return 0
}

// SizeBonus returns the first tier whose threshold the member count reaches
func (c ScoringConfig) SizeBonus(members int) float64 {
	for _, tier := range c.SizeTiers {
		if float64(members) >= tier.Threshold {
			return tier.Bonus
		}
	}
	return 0
}

// RingRisk combines the three rules and applies the cap
func (c ScoringConfig) RingRisk(patternType string, volume float64, members int) float64 {
	return math.Min(c.MaxScore, c.BaseScore(patternType)+c.VolumeBonus(volume)+c.SizeBonus(members))
}

// ScoredRing is a fraud ring together with its scoring inputs
type ScoredRing struct {
	models.FraudRing
	Volume float64 // internal only
}

// Aggregation is the outcome of scoring one request's findings
type Aggregation struct {
	Rings    []ScoredRing
	Accounts []models.SuspiciousAccount
}

// PublicRings strips internal fields for the external contract
func (a Aggregation) PublicRings() []models.FraudRing {
	out := make([]models.FraudRing, len(a.Rings))
	for i, r := range a.Rings {
		out[i] = r.FraudRing
	}
	return out
}

type membership struct {
	rings    []string
	patterns map[string]struct{}
	maxScore float64
}

// Aggregate deduplicates and scores findings in the given order and rolls
// ring membership up into suspicious accounts. It must run single-threaded
// over one request's findings.
func Aggregate(g *graph.Graph, findings []Finding, cfg ScoringConfig) Aggregation {
	var agg Aggregation
	seen := make(map[string]struct{})
	accounts := make(map[string]*membership)
	var accountOrder []string

	for _, f := range findings {
		patternType := strings.ToLower(string(f.Type))
		members := sortedUnique(f.Members)

		sig := strings.Join(members, ",") + "|" + patternType
		if _, dup := seen[sig]; dup {
			continue
		}
		seen[sig] = struct{}{}

		volume := ringVolume(g, members)
		score := cfg.RingRisk(patternType, volume, len(f.Members))

		ringID := fmt.Sprintf("RING_%03d", len(agg.Rings)+1)
		agg.Rings = append(agg.Rings, ScoredRing{
			FraudRing: models.FraudRing{
				RingID:         ringID,
				MemberAccounts: members,
				PatternType:    patternType,
				RiskScore:      round1(score),
			},
			Volume: volume,
		})

		for _, m := range members {
			acc, ok := accounts[m]
			if !ok {
				acc = &membership{patterns: make(map[string]struct{})}
				accounts[m] = acc
				accountOrder = append(accountOrder, m)
			}
			acc.rings = append(acc.rings, ringID)
			acc.patterns[patternType] = struct{}{}
			acc.maxScore = math.Max(acc.maxScore, score)
		}
	}

	agg.Accounts = make([]models.SuspiciousAccount, 0, len(accountOrder))
	for _, id := range accountOrder {
		acc := accounts[id]

		score := acc.maxScore
		if len(sortedUnique(acc.rings)) > 1 {
			score += cfg.OverlapBonus
		}
		score = math.Min(cfg.MaxScore, score)

		patterns := make([]string, 0, len(acc.patterns))
		for p := range acc.patterns {
			patterns = append(patterns, p)
		}
		sort.Strings(patterns)

		agg.Accounts = append(agg.Accounts, models.SuspiciousAccount{
			AccountID:        id,
			SuspicionScore:   round1(score),
			DetectedPatterns: patterns,
			RingID:           sortedUnique(acc.rings)[0],
		})
	}

	sort.SliceStable(agg.Accounts, func(i, j int) bool {
		return agg.Accounts[i].SuspicionScore > agg.Accounts[j].SuspicionScore
	})

	return agg
}

// ringVolume sums transfers whose sender and receiver are both ring members.
// Members with no vertex contribute nothing.
func ringVolume(g *graph.Graph, members []string) float64 {
	vs := make([]int, 0, len(members))
	for _, m := range members {
		if v, ok := g.Lookup(m); ok {
			vs = append(vs, v)
		}
	}
	if len(vs) == 0 {
		return 0
	}
	_, volume := g.InducedEdges(vs)
	return volume
}

func sortedUnique(ids []string) []string {
	out := dedupePreserveOrder(ids)
	sort.Strings(out)
	return out
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}
