package models

import (
	"sort"
	"time"
)

// Transaction represents a single account-to-account transfer from the ledger
type Transaction struct {
	TransactionID string    `json:"transaction_id"` // Opaque, never read by the detectors
	SenderID      string    `json:"sender_id"`
	ReceiverID    string    `json:"receiver_id"`
	Amount        float64   `json:"amount"` // Non-negative, in currency units
	Timestamp     time.Time `json:"timestamp"`
}

// Ledger is the ordered set of transactions for one analysis request
type Ledger []Transaction

// SortedByTime returns a copy of the ledger ordered by timestamp.
// Ties keep their input order.
func (l Ledger) SortedByTime() Ledger {
	out := make(Ledger, len(l))
	copy(out, l)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// FraudRing is a deduplicated, scored detection exposed to clients.
// The ring's internal volume is used for scoring only and never serialized.
type FraudRing struct {
	RingID         string   `json:"ring_id"`         // RING_001, RING_002, ...
	MemberAccounts []string `json:"member_accounts"` // Sorted, deduplicated
	PatternType    string   `json:"pattern_type"`    // Lowercase detector tag
	RiskScore      float64  `json:"risk_score"`      // 0 - 99.5, one decimal
}

// SuspiciousAccount aggregates every ring an account belongs to
type SuspiciousAccount struct {
	AccountID        string   `json:"account_id"`
	SuspicionScore   float64  `json:"suspicion_score"`   // 0 - 99.5, one decimal
	DetectedPatterns []string `json:"detected_patterns"` // Union of ring pattern types
	RingID           string   `json:"ring_id"`           // Primary (lexicographically smallest) ring
}

// Summary holds the headline counts of an analysis run
type Summary struct {
	TotalAccountsAnalyzed     int     `json:"total_accounts_analyzed"`
	SuspiciousAccountsFlagged int     `json:"suspicious_accounts_flagged"`
	FraudRingsDetected        int     `json:"fraud_rings_detected"`
	ProcessingTimeSeconds     float64 `json:"processing_time_seconds"`
}

// GraphNode is a single account in the visualization view
type GraphNode struct {
	ID             string   `json:"id"`
	Val            float64  `json:"val"`   // Render size: 1 + score/20
	Color          string   `json:"color"` // Grey/orange/red by score band
	SuspicionScore float64  `json:"suspicion_score"`
	Patterns       []string `json:"patterns"`
	Ring           string   `json:"ring"`
	Inflow         float64  `json:"inflow"`
	Outflow        float64  `json:"outflow"`
	Status         *string  `json:"status"` // Analyst flag, only for suspicious accounts
}

// GraphLink is a single transfer in the visualization view
type GraphLink struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Amount float64 `json:"amount"`
}

// GraphData is the force-graph payload rendered by the dashboard
type GraphData struct {
	Nodes []GraphNode `json:"nodes"`
	Links []GraphLink `json:"links"`
}

// AnalysisResult is the full response of one analysis call
type AnalysisResult struct {
	RequestID          string              `json:"request_id"`
	SuspiciousAccounts []SuspiciousAccount `json:"suspicious_accounts"`
	FraudRings         []FraudRing         `json:"fraud_rings"`
	Summary            Summary             `json:"summary"`
	GraphData          *GraphData          `json:"graph_data,omitempty"`
}
