package metrics

import "math"

// AdjustedRandIndex compares two partitions of the same accounts.
// predicted[k] and groundTruth[k] are the cluster labels of account k.
//
// ARI = (sum C(n_ij,2) - E) / (0.5*(sum C(a_i,2) + sum C(b_j,2)) - E)
// with E = sum C(a_i,2) * sum C(b_j,2) / C(n,2).
//
// 1 is perfect agreement, 0 is chance level, negative is worse than chance.
func AdjustedRandIndex(predicted, groundTruth []int) float64 {
	t, ok := newContingency(predicted, groundTruth)
	if !ok {
		return 0
	}

	var sumCells, sumRows, sumCols float64
	for i := range t.cells {
		for _, c := range t.cells[i] {
			sumCells += comb2(c)
		}
	}
	for _, a := range t.rows {
		sumRows += comb2(a)
	}
	for _, b := range t.cols {
		sumCols += comb2(b)
	}

	expected := sumRows * sumCols / comb2(t.n)
	maximum := 0.5 * (sumRows + sumCols)
	if math.Abs(maximum-expected) < 1e-12 {
		// both partitions all singletons or one cluster
		return 1
	}
	return (sumCells - expected) / (maximum - expected)
}

// VariationOfInformation is H(P|T) + H(T|P) in bits. 0 means identical
// partitions.
func VariationOfInformation(predicted, groundTruth []int) float64 {
	t, ok := newContingency(predicted, groundTruth)
	if !ok {
		return 0
	}

	n := float64(t.n)
	vi := 0.0
	for i := range t.cells {
		for j, c := range t.cells[i] {
			if c == 0 {
				continue
			}
			p := float64(c) / n
			vi -= p * math.Log2(float64(c)/float64(t.cols[j]))
			vi -= p * math.Log2(float64(c)/float64(t.rows[i]))
		}
	}
	return vi
}

type contingency struct {
	n     int
	cells [][]int
	rows  []int
	cols  []int
}

func newContingency(predicted, groundTruth []int) (contingency, bool) {
	n := len(predicted)
	if n != len(groundTruth) || n < 2 {
		return contingency{}, false
	}

	pIdx := indexLabels(predicted)
	tIdx := indexLabels(groundTruth)

	t := contingency{
		n:     n,
		cells: make([][]int, len(pIdx)),
		rows:  make([]int, len(pIdx)),
		cols:  make([]int, len(tIdx)),
	}
	for i := range t.cells {
		t.cells[i] = make([]int, len(tIdx))
	}
	for k := range predicted {
		i, j := pIdx[predicted[k]], tIdx[groundTruth[k]]
		t.cells[i][j]++
		t.rows[i]++
		t.cols[j]++
	}
	return t, true
}

// indexLabels assigns dense indices to labels in first-seen order
func indexLabels(labels []int) map[int]int {
	idx := make(map[int]int)
	for _, l := range labels {
		if _, ok := idx[l]; !ok {
			idx[l] = len(idx)
		}
	}
	return idx
}

func comb2(n int) float64 {
	if n < 2 {
		return 0
	}
	return float64(n) * float64(n-1) / 2
}
