package nonconformity

import (
	"slices"

	"gonum.org/v1/gonum/mat"
)

// PIPScores returns the penalized inverse probability score (1 - p_j) + penalty_j, where penalty_j
// sums p/rank over every class ranked strictly above j (1-based ranks, descending probability,
// ties ordered by class index). The top-ranked class has no penalty.
func PIPScores(probs *mat.Dense) *mat.Dense {
	rows, cols := probs.Dims()

	pipScores := mat.NewDense(rows, cols, nil)
	order := make([]int, cols)
	out := make([]float64, cols)

	for rowIdx := range rows {
		row := probs.RawRowView(rowIdx)

		for j := range order {
			order[j] = j
		}
		slices.SortStableFunc(order, func(a, b int) int {
			switch {
			case row[a] > row[b]:
				return -1
			case row[a] < row[b]:
				return 1
			}
			return 0
		})

		penalty := 0.0
		for rank, classIdx := range order {
			out[classIdx] = (1 - row[classIdx]) + penalty
			penalty += row[classIdx] / float64(rank+1)
		}
		pipScores.SetRow(rowIdx, out)
	}

	return pipScores
}
