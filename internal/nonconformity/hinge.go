package nonconformity

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// HingeScores returns 1 - p for every (example, class) entry.
func HingeScores(probs *mat.Dense) *mat.Dense {
	rows, cols := probs.Dims()

	hingeScores := mat.NewDense(rows, cols, nil)

	for rowIdx := range rows {
		row := mat.Row(nil, rowIdx, probs)
		floats.Scale(-1, row)
		floats.AddConst(1, row)
		hingeScores.SetRow(rowIdx, row)
	}

	return hingeScores
}
