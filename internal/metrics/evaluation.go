package metrics

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/rawblock/mule-engine/pkg/models"
)

var ErrBadLabels = errors.New("labels file must have account_id and ring_id columns")

// Labels maps account ID to its true ring. An empty ring means the account
// is known to be clean.
type Labels map[string]string

// ParseLabels reads a CSV of account_id,ring_id pairs. Extra columns are
// ignored and header names are matched case-insensitively.
func ParseLabels(r io.Reader) (Labels, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrBadLabels
		}
		return nil, fmt.Errorf("read labels header: %w", err)
	}
	accountCol, ringCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case "account_id":
			accountCol = i
		case "ring_id":
			ringCol = i
		}
	}
	if accountCol < 0 || ringCol < 0 {
		return nil, ErrBadLabels
	}

	labels := make(Labels)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("labels row %d: %w", line, err)
		}
		if accountCol >= len(rec) {
			continue
		}
		id := strings.TrimSpace(rec[accountCol])
		if id == "" {
			continue
		}
		ring := ""
		if ringCol < len(rec) {
			ring = strings.TrimSpace(rec[ringCol])
		}
		labels[id] = ring
	}
	return labels, nil
}

// Report scores one analysis against ground truth labels
type Report struct {
	TruePositives  int     `json:"true_positives"`
	FalsePositives int     `json:"false_positives"`
	FalseNegatives int     `json:"false_negatives"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
	ARI            float64 `json:"adjusted_rand_index"`
	VI             float64 `json:"variation_of_information"`
}

// Evaluate compares flagged accounts with labelled mules and compares the
// primary-ring grouping with the true ring grouping. Accounts outside any
// ring on either side count as singleton clusters.
func Evaluate(result models.AnalysisResult, truth Labels) Report {
	predicted := make(map[string]string, len(result.SuspiciousAccounts))
	for _, acc := range result.SuspiciousAccounts {
		predicted[acc.AccountID] = acc.RingID
	}

	var rep Report
	for id := range predicted {
		if truth[id] != "" {
			rep.TruePositives++
		} else {
			rep.FalsePositives++
		}
	}
	for id, ring := range truth {
		if ring == "" {
			continue
		}
		if _, ok := predicted[id]; !ok {
			rep.FalseNegatives++
		}
	}

	rep.Precision = ratio(rep.TruePositives, rep.TruePositives+rep.FalsePositives)
	rep.Recall = ratio(rep.TruePositives, rep.TruePositives+rep.FalseNegatives)
	rep.F1 = ratio(2*rep.TruePositives, 2*rep.TruePositives+rep.FalsePositives+rep.FalseNegatives)

	universe := make([]string, 0, len(predicted)+len(truth))
	seen := make(map[string]struct{}, cap(universe))
	for id := range predicted {
		seen[id] = struct{}{}
		universe = append(universe, id)
	}
	for id := range truth {
		if _, ok := seen[id]; !ok {
			universe = append(universe, id)
		}
	}
	sort.Strings(universe)

	pLabels := clusterLabels(universe, predicted)
	tLabels := clusterLabels(universe, truth)
	rep.ARI = round4(AdjustedRandIndex(pLabels, tLabels))
	rep.VI = round4(VariationOfInformation(pLabels, tLabels))
	return rep
}

// clusterLabels numbers rings densely; unassigned accounts get their own label
func clusterLabels(universe []string, rings map[string]string) []int {
	ids := make(map[string]int)
	out := make([]int, len(universe))
	next := 0
	for k, acc := range universe {
		ring := rings[acc]
		if ring == "" {
			out[k] = next
			next++
			continue
		}
		id, ok := ids[ring]
		if !ok {
			id = next
			ids[ring] = id
			next++
		}
		out[k] = id
	}
	return out
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return round4(float64(num) / float64(den))
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
