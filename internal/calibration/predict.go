package calibration

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/tensorplex-labs/conformal/internal/conformal"
	"github.com/tensorplex-labs/conformal/internal/nonconformity"
)

// PredictionSets returns, for every task and example, the classes whose score is at or below the
// applicable threshold. exampleClusters, when non-nil, selects the cluster threshold per example;
// otherwise class clusters or the marginal threshold apply.
func PredictionSets(scores nonconformity.Input, th *Thresholds, exampleClusters []int) ([][][]int, error) {
	numExamples, err := scores.NumExamples()
	if err != nil {
		return nil, err
	}
	if scores.NumTasks() != len(th.Tasks) {
		return nil, fmt.Errorf("%w: %d score tasks for %d calibrated tasks", conformal.ErrInvalidInput, scores.NumTasks(), len(th.Tasks))
	}
	if exampleClusters != nil && len(exampleClusters) != numExamples {
		return nil, fmt.Errorf("%w: %d cluster ids for %d examples", conformal.ErrInvalidInput, len(exampleClusters), numExamples)
	}

	if exampleClusters != nil {
		for _, task := range th.Tasks {
			if len(task.ClassClusters) > 0 {
				return nil, fmt.Errorf("%w: task %q was clustered by class, per-example cluster ids do not apply",
					conformal.ErrInvalidInput, task.Name)
			}
		}
	}

	sets := make([][][]int, scores.NumTasks())
	for t, task := range th.Tasks {
		batch := scores.Task(t)
		_, cols := batch.Dims()
		sets[t] = make([][]int, numExamples)

		for i := range numExamples {
			cluster := -1
			if exampleClusters != nil {
				cluster = exampleClusters[i]
			}
			set := make([]int, 0, cols)
			for j := range cols {
				qhat, ok := task.ThresholdFor(j, cluster)
				if !ok {
					return nil, fmt.Errorf("%w: task %q has no threshold for cluster %d", conformal.ErrInvalidInput, task.Name, cluster)
				}
				if batch.At(i, j) <= qhat {
					set = append(set, j)
				}
			}
			sets[t][i] = set
		}
	}
	return sets, nil
}

// JointPredictionSets applies the joint threshold of a high-level calibration to every task, so the
// product of the per-task sets covers the full label tuple.
func JointPredictionSets(scores nonconformity.Input, th *Thresholds) ([][][]int, error) {
	if th.Joint == nil {
		return nil, fmt.Errorf("%w: thresholds have no joint threshold, calibrate in high-level mode", conformal.ErrInvalidParameter)
	}
	joint := &Thresholds{Alpha: th.Alpha, Mode: th.Mode, Strategy: th.Strategy, Tasks: make([]TaskThreshold, len(th.Tasks))}
	for t, task := range th.Tasks {
		joint.Tasks[t] = TaskThreshold{Name: task.Name, GroupThreshold: *th.Joint}
	}
	return PredictionSets(scores, joint, nil)
}

type TaskCoverage struct {
	Name        string
	Coverage    float64 // fraction of examples whose true class is in the set
	MeanSetSize float64
}

type CoverageReport struct {
	Tasks         []TaskCoverage
	JointCoverage float64 // fraction of examples covered on every task
}

// EvaluateCoverage measures empirical coverage of prediction sets against labels indexed [example][task].
func EvaluateCoverage(sets [][][]int, labels [][]int, names []string) (CoverageReport, error) {
	if len(sets) == 0 {
		return CoverageReport{}, fmt.Errorf("%w: no prediction sets", conformal.ErrInvalidInput)
	}
	numExamples := len(sets[0])
	taskLabels, err := splitLabels(labels, numExamples, len(sets))
	if err != nil {
		return CoverageReport{}, err
	}
	if numExamples == 0 {
		return CoverageReport{}, fmt.Errorf("%w: no examples", conformal.ErrInvalidInput)
	}

	report := CoverageReport{Tasks: make([]TaskCoverage, len(sets))}
	joint := make([]float64, numExamples)
	for i := range joint {
		joint[i] = 1
	}

	for t, taskSets := range sets {
		if len(taskSets) != numExamples {
			return CoverageReport{}, fmt.Errorf("%w: task %d has %d sets, expected %d", conformal.ErrInvalidInput, t, len(taskSets), numExamples)
		}
		hits := make([]float64, numExamples)
		sizes := make([]float64, numExamples)
		for i, set := range taskSets {
			if slices.Contains(set, taskLabels[t][i]) {
				hits[i] = 1
			} else {
				joint[i] = 0
			}
			sizes[i] = float64(len(set))
		}

		name := fmt.Sprintf("task_%d", t)
		if t < len(names) {
			name = names[t]
		}
		report.Tasks[t] = TaskCoverage{
			Name:        name,
			Coverage:    stat.Mean(hits, nil),
			MeanSetSize: stat.Mean(sizes, nil),
		}
	}
	report.JointCoverage = stat.Mean(joint, nil)
	return report, nil
}
