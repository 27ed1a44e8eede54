package calibration

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorplex-labs/conformal/internal/conformal"
	"github.com/tensorplex-labs/conformal/internal/nonconformity"
)

func TestPredictionSetsScenario(t *testing.T) {
	probs, err := nonconformity.NewVector([]float64{0.1, 0.5, 0.2, 0.1, 0.1})
	require.NoError(t, err)
	scores, err := nonconformity.Hinge.Score(nonconformity.Single(probs))
	require.NoError(t, err)

	th := &Thresholds{Alpha: 0.1, Tasks: []TaskThreshold{{Name: "task_0", GroupThreshold: GroupThreshold{QHat: 0.85, N: 1}}}}

	sets, err := PredictionSets(scores, th, nil)
	require.NoError(t, err)
	assert.Equal(t, [][][]int{{{1, 2}}}, sets)
}

func TestPredictionSetsCoverCalibrationExamples(t *testing.T) {
	rng := rand.New(rand.NewPCG(41, 42))
	n, alpha := 500, 0.1
	labels := randomLabels(rng, n, 2, 6, 4)
	probs := nonconformity.Multi(randomSoftmax(rng, n, 6), randomSoftmax(rng, n, 4))

	for _, s := range nonconformity.Strategies {
		scores, err := s.Score(probs)
		require.NoError(t, err)

		th, err := NewCalibrator(WithAlpha(alpha), WithStrategy(s), WithTaskMode(conformal.HighLevel)).Calibrate(scores, labels)
		require.NoError(t, err)

		sets, err := PredictionSets(scores, th, nil)
		require.NoError(t, err)
		report, err := EvaluateCoverage(sets, labels, []string{"a", "b"})
		require.NoError(t, err)
		for _, task := range report.Tasks {
			assert.GreaterOrEqual(t, task.Coverage, 1-alpha, "%s %s", s, task.Name)
			assert.Positive(t, task.MeanSetSize)
		}

		jointSets, err := JointPredictionSets(scores, th)
		require.NoError(t, err)
		jointReport, err := EvaluateCoverage(jointSets, labels, nil)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, jointReport.JointCoverage, 1-alpha, s.String())
		assert.Equal(t, "task_0", jointReport.Tasks[0].Name)
	}
}

func TestPredictionSetsExampleClusters(t *testing.T) {
	probs, err := nonconformity.NewBatch([][]float64{{0.7, 0.3}, {0.7, 0.3}})
	require.NoError(t, err)
	scores, err := nonconformity.Hinge.Score(nonconformity.Single(probs))
	require.NoError(t, err)

	th := &Thresholds{Tasks: []TaskThreshold{{
		Name:           "task_0",
		GroupThreshold: GroupThreshold{QHat: 0.5},
		Clusters: []ClusterThreshold{
			{ID: 0, GroupThreshold: GroupThreshold{QHat: 0.2}},
			{ID: 1, GroupThreshold: GroupThreshold{QHat: 0.9}},
		},
	}}}

	sets, err := PredictionSets(scores, th, []int{0, 1})
	require.NoError(t, err)
	assert.Equal(t, [][]int{{}, {0, 1}}, sets[0])

	sets, err = PredictionSets(scores, th, nil)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{0}, {0}}, sets[0])

	_, err = PredictionSets(scores, th, []int{0, 5})
	assert.ErrorIs(t, err, conformal.ErrInvalidInput)

	_, err = PredictionSets(scores, th, []int{0})
	assert.ErrorIs(t, err, conformal.ErrInvalidInput)
}

func TestPredictionSetsRejectExampleClustersForClassClusters(t *testing.T) {
	probs, err := nonconformity.NewVector([]float64{0.25, 0.25, 0.25})
	require.NoError(t, err)
	scores, err := nonconformity.Hinge.Score(nonconformity.Single(probs))
	require.NoError(t, err)

	th := &Thresholds{Tasks: []TaskThreshold{{
		Name:           "task_0",
		GroupThreshold: GroupThreshold{QHat: 0.5},
		Clusters: []ClusterThreshold{
			{ID: 0, GroupThreshold: GroupThreshold{QHat: 0.2}},
			{ID: 1, GroupThreshold: GroupThreshold{QHat: 0.8}},
		},
		ClassClusters: []int{0, 0, 1},
	}}}

	sets, err := PredictionSets(scores, th, nil)
	require.NoError(t, err)
	assert.Equal(t, [][][]int{{{2}}}, sets)

	_, err = PredictionSets(scores, th, []int{0})
	assert.ErrorIs(t, err, conformal.ErrInvalidInput)

	_, ok := th.Tasks[0].ThresholdFor(2, 0)
	assert.False(t, ok)
}

func TestPredictionSetsTaskMismatch(t *testing.T) {
	probs, err := nonconformity.NewVector([]float64{0.5, 0.5})
	require.NoError(t, err)

	_, err = PredictionSets(nonconformity.Multi(probs, probs), &Thresholds{Tasks: []TaskThreshold{{}}}, nil)
	assert.ErrorIs(t, err, conformal.ErrInvalidInput)

	_, err = JointPredictionSets(nonconformity.Single(probs), &Thresholds{})
	assert.ErrorIs(t, err, conformal.ErrInvalidParameter)
}

func TestEvaluateCoverage(t *testing.T) {
	sets := [][][]int{
		{{0, 1}, {2}, {}},
		{{1}, {0}, {0, 1}},
	}
	labels := [][]int{{1, 1}, {0, 0}, {2, 1}}

	report, err := EvaluateCoverage(sets, labels, []string{"color", "type"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3, report.Tasks[0].Coverage, 1e-12)
	assert.InDelta(t, 1.0, report.Tasks[0].MeanSetSize, 1e-12)
	assert.InDelta(t, 1.0, report.Tasks[1].Coverage, 1e-12)
	assert.InDelta(t, 4.0/3, report.Tasks[1].MeanSetSize, 1e-12)
	assert.InDelta(t, 1.0/3, report.JointCoverage, 1e-12)

	_, err = EvaluateCoverage(nil, labels, nil)
	assert.ErrorIs(t, err, conformal.ErrInvalidInput)
	_, err = EvaluateCoverage(sets, labels[:2], nil)
	assert.ErrorIs(t, err, conformal.ErrInvalidInput)
}
