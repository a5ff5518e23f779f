package heuristics

import (
	"math"
	"sort"
	"time"

	"github.com/rawblock/mule-engine/pkg/models"
)

// Smurfing (Fan-in / Fan-out) Detection Module
//
// Structuring splits a large flow into many small transfers through many
// counterparties inside a short burst:
//
//   Fan-in:  many senders  → one receiver (collection account)
//   Fan-out: one sender    → many receivers (distribution to mules)
//
// For every hub with enough distinct counterparties overall, a two-pointer
// sliding window over its time-ordered transfers tracks how many distinct
// counterparties fall inside WindowHours. The largest qualifying window is
// reported, not the first one, so a burst that keeps growing after crossing
// the threshold is captured whole.
//
// False-positive traps:
//   - Merchant trap: receivers averaging more than MerchantMeanCutoff per
//     transfer are ordinary businesses collecting customer payments.
//   - Payroll trap: senders whose amounts have (sample) standard deviation
//     below PayrollStdDevFloor are paying identical salaries. A single
//     transfer has no defined deviation and is treated the same way.

// SmurfingConfig controls fan-in / fan-out detection
type SmurfingConfig struct {
	WindowHours        float64 `json:"windowHours"`        // Burst window, default 72
	CountThreshold     int     `json:"countThreshold"`     // Distinct counterparties, default 10
	MerchantMeanCutoff float64 `json:"merchantMeanCutoff"` // Fan-in skip above this mean, default 2000
	PayrollStdDevFloor float64 `json:"payrollStdDevFloor"` // Fan-out skip below this deviation, default 1.0
}

// DefaultSmurfingConfig returns the production smurfing thresholds
func DefaultSmurfingConfig() SmurfingConfig {
	return SmurfingConfig{
		WindowHours:        72,
		CountThreshold:     10,
		MerchantMeanCutoff: 2000,
		PayrollStdDevFloor: 1.0,
	}
}

// hubTransfer is one transfer seen from the hub's side
type hubTransfer struct {
	peer   string
	amount float64
	at     time.Time
}

// DetectSmurfing scans the ledger and returns fan-in findings followed by fan-out findings
func DetectSmurfing(ledger models.Ledger, cfg SmurfingConfig) []Finding {
	sorted := ledger.SortedByTime()

	inbound := make(map[string][]hubTransfer)
	outbound := make(map[string][]hubTransfer)
	for _, tx := range sorted {
		inbound[tx.ReceiverID] = append(inbound[tx.ReceiverID], hubTransfer{peer: tx.SenderID, amount: tx.Amount, at: tx.Timestamp})
		outbound[tx.SenderID] = append(outbound[tx.SenderID], hubTransfer{peer: tx.ReceiverID, amount: tx.Amount, at: tx.Timestamp})
	}

	window := time.Duration(cfg.WindowHours * float64(time.Hour))

	var findings []Finding

	for _, receiver := range burstCandidates(inbound, cfg.CountThreshold) {
		transfers := inbound[receiver]
		if meanAmount(transfers) > cfg.MerchantMeanCutoff {
			continue
		}
		if peers := densestWindow(transfers, window, cfg.CountThreshold); peers != nil {
			findings = append(findings, smurfFinding(PatternSmurfingFanIn, receiver, peers))
		}
	}

	for _, sender := range burstCandidates(outbound, cfg.CountThreshold) {
		transfers := outbound[sender]
		std, ok := sampleStdDev(transfers)
		if !ok || std < cfg.PayrollStdDevFloor {
			continue
		}
		if peers := densestWindow(transfers, window, cfg.CountThreshold); peers != nil {
			findings = append(findings, smurfFinding(PatternSmurfingFanOut, sender, peers))
		}
	}

	return findings
}

// burstCandidates returns hubs whose all-time distinct counterparty count
// meets the threshold, in ascending account order
func burstCandidates(byHub map[string][]hubTransfer, threshold int) []string {
	var hubs []string
	for hub, transfers := range byHub {
		peers := make(map[string]struct{}, len(transfers))
		for _, t := range transfers {
			peers[t.peer] = struct{}{}
		}
		if len(peers) >= threshold {
			hubs = append(hubs, hub)
		}
	}
	sort.Strings(hubs)
	return hubs
}

// densestWindow slides a time window over transfers (already time-ordered)
// and returns the largest counterparty set that met the threshold, sorted.
// Returns nil when no window qualifies.
func densestWindow(transfers []hubTransfer, window time.Duration, threshold int) []string {
	inWindow := make(map[string]int)
	distinct := 0
	var best []string

	start := 0
	for end := range transfers {
		peer := transfers[end].peer
		if inWindow[peer] == 0 {
			distinct++
		}
		inWindow[peer]++

		for start < end && transfers[end].at.Sub(transfers[start].at) > window {
			old := transfers[start].peer
			inWindow[old]--
			if inWindow[old] == 0 {
				delete(inWindow, old)
				distinct--
			}
			start++
		}

		if distinct >= threshold && distinct > len(best) {
			best = make([]string, 0, distinct)
			for p := range inWindow {
				best = append(best, p)
			}
		}
	}

	if len(best) < threshold {
		return nil
	}
	sort.Strings(best)
	return best
}

func smurfFinding(kind PatternType, hub string, peers []string) Finding {
	members := make([]string, 0, len(peers)+1)
	members = append(members, hub)
	members = append(members, peers...)
	return Finding{
		Type:    kind,
		Members: members,
		Metadata: map[string]any{
			"central_node": hub,
			"unique_peers": len(peers),
		},
	}
}

func meanAmount(transfers []hubTransfer) float64 {
	if len(transfers) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range transfers {
		sum += t.amount
	}
	return sum / float64(len(transfers))
}

// sampleStdDev returns the n-1 standard deviation; ok is false below two samples
func sampleStdDev(transfers []hubTransfer) (float64, bool) {
	n := len(transfers)
	if n < 2 {
		return math.NaN(), false
	}
	mean := meanAmount(transfers)
	sq := 0.0
	for _, t := range transfers {
		d := t.amount - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(n-1)), true
}
