package heuristics

import (
	"fmt"
	"time"

	"github.com/rawblock/mule-engine/internal/graph"
	"github.com/rawblock/mule-engine/pkg/models"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func transfer(from, to string, amount float64, offset time.Duration) models.Transaction {
	return models.Transaction{
		TransactionID: fmt.Sprintf("%s-%s-%d", from, to, offset),
		SenderID:      from,
		ReceiverID:    to,
		Amount:        amount,
		Timestamp:     epoch.Add(offset),
	}
}

// chain links accounts in order with one transfer per hop, a minute apart
func chain(amount float64, accounts ...string) models.Ledger {
	var l models.Ledger
	for i := 0; i+1 < len(accounts); i++ {
		l = append(l, transfer(accounts[i], accounts[i+1], amount, time.Duration(i)*time.Minute))
	}
	return l
}

func buildGraph(l models.Ledger) *graph.Graph {
	return graph.Build(l)
}

func peerName(prefix string, i int) string {
	return fmt.Sprintf("%s%02d", prefix, i)
}
