package calibration

import (
	"math"

	"github.com/tensorplex-labs/conformal/internal/conformal"
)

// GroupThreshold is the calibrated cutoff of one group of calibration examples.
type GroupThreshold struct {
	QHat      float64 // +Inf or the strategy's max score when Saturated
	N         int     // calibration examples in the group
	Saturated bool    // conformal rank exceeded N
}

type ClusterThreshold struct {
	ID int
	GroupThreshold
}

// TaskThreshold holds the marginal threshold of a task and, when calibrated with clusters, one
// threshold per cluster sorted by cluster ID.
type TaskThreshold struct {
	Name string
	GroupThreshold
	Clusters []ClusterThreshold
	// ClassClusters maps a class index to its cluster when clusters were derived from class
	// score distributions; -1 marks classes absent from calibration.
	ClassClusters []int
}

// Thresholds is the result of a calibration pass. Tasks keep the input task order.
type Thresholds struct {
	Alpha    float64
	Mode     conformal.TaskMode
	Strategy string // empty when the calibrator was not told which strategy produced the scores
	Tasks    []TaskThreshold
	Joint    *GroupThreshold // high-level mode only
}

// Task looks up a task threshold by name.
func (th *Thresholds) Task(name string) (TaskThreshold, bool) {
	for _, t := range th.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return TaskThreshold{}, false
}

// Cluster looks up a cluster threshold by ID.
func (t TaskThreshold) Cluster(id int) (ClusterThreshold, bool) {
	for _, c := range t.Clusters {
		if c.ID == id {
			return c, true
		}
	}
	return ClusterThreshold{}, false
}

// ThresholdFor returns the cutoff applied to class of an example in exampleCluster. A negative
// exampleCluster falls back to the class's cluster, then to the marginal threshold. Example
// clusters are rejected for tasks clustered by class.
func (t TaskThreshold) ThresholdFor(class, exampleCluster int) (float64, bool) {
	if exampleCluster >= 0 {
		if len(t.ClassClusters) > 0 {
			return math.NaN(), false
		}
		c, ok := t.Cluster(exampleCluster)
		if !ok {
			return math.NaN(), false
		}
		return c.QHat, true
	}
	if class >= 0 && class < len(t.ClassClusters) && t.ClassClusters[class] >= 0 {
		if c, ok := t.Cluster(t.ClassClusters[class]); ok {
			return c.QHat, true
		}
	}
	return t.QHat, true
}
