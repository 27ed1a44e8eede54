package nonconformity

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/tensorplex-labs/conformal/internal/conformal"
)

// MarginScores returns, for each class j, the best competing probability max_{k != j} p_k minus p_j.
// The competitor is the top class, or the runner-up when j is the top class itself, which equals
// reducing the row with column j masked out.
func MarginScores(probs *mat.Dense) (*mat.Dense, error) {
	rows, cols := probs.Dims()
	if cols < 2 {
		return nil, fmt.Errorf("%w: margin needs at least 2 classes, got %d", conformal.ErrInvalidInput, cols)
	}

	marginScores := mat.NewDense(rows, cols, nil)
	out := make([]float64, cols)

	for rowIdx := range rows {
		row := probs.RawRowView(rowIdx)
		top, first, second := topTwo(row)

		for j, p := range row {
			competitor := first
			if j == top {
				competitor = second
			}
			out[j] = competitor - p
		}
		marginScores.SetRow(rowIdx, out)
	}

	return marginScores, nil
}

// topTwo returns the index of the largest value, the largest value and the largest value among the
// remaining entries. Ties keep the lowest index as top.
func topTwo(row []float64) (top int, first, second float64) {
	first, second = math.Inf(-1), math.Inf(-1)
	for j, p := range row {
		switch {
		case p > first:
			second = first
			first, top = p, j
		case p > second:
			second = p
		}
	}
	return top, first, second
}
