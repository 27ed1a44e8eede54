package calibration

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/tensorplex-labs/conformal/internal/conformal"
)

// rankTolerance absorbs float error in (n+1)(1-alpha) when it lands on an integer.
const rankTolerance = 1e-9

// ConformalRank is the 1-based order statistic ceil((n+1)(1-alpha)) used by split conformal
// calibration. It may exceed n.
func ConformalRank(n int, alpha float64) int {
	rank := int(math.Ceil(float64(n+1)*(1-alpha) - rankTolerance))
	return max(rank, 1)
}

// Quantile returns the finite-sample corrected (1-alpha) quantile of scores. When the conformal
// rank exceeds len(scores) it returns +Inf with saturated set. The input is not modified.
func Quantile(scores []float64, alpha float64) (qhat float64, saturated bool, err error) {
	if err := conformal.ValidateAlpha(alpha); err != nil {
		return 0, false, err
	}
	n := len(scores)
	if n == 0 {
		return 0, false, fmt.Errorf("%w: no scores to calibrate on", conformal.ErrInsufficientCalibrationData)
	}

	sorted := slices.Clone(scores)
	for i, s := range sorted {
		if math.IsNaN(s) {
			return 0, false, fmt.Errorf("%w: score %d is NaN", conformal.ErrInvalidInput, i)
		}
	}
	slices.Sort(sorted)

	rank := ConformalRank(n, alpha)
	if rank > n {
		return math.Inf(1), true, nil
	}
	return sorted[rank-1], false, nil
}

// TrueClassScores extracts scores[i][labels[i]] for every example.
func TrueClassScores(scores *mat.Dense, labels []int) ([]float64, error) {
	rows, cols := scores.Dims()
	if len(labels) != rows {
		return nil, fmt.Errorf("%w: %d labels for %d examples", conformal.ErrInvalidInput, len(labels), rows)
	}

	out := make([]float64, rows)
	for i, label := range labels {
		if label < 0 || label >= cols {
			return nil, fmt.Errorf("%w: label %d of example %d is outside [0, %d)", conformal.ErrInvalidInput, label, i, cols)
		}
		out[i] = scores.At(i, label)
	}
	return out, nil
}
