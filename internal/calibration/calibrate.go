// Package calibration derives split conformal thresholds from scored calibration data.
package calibration

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tensorplex-labs/conformal/internal/conformal"
	"github.com/tensorplex-labs/conformal/internal/nonconformity"
)

const DefaultAlpha = 0.05

// Calibrator computes per-task, and optionally per-cluster, thresholds. It holds configuration only
// and can be reused across calibration passes.
type Calibrator struct {
	Alpha     float64
	Mode      conformal.TaskMode
	TaskNames []string

	strategy    nonconformity.Strategy
	hasStrategy bool
	clusters    clusterConfig
}

type Option func(*Calibrator)

func WithAlpha(alpha float64) Option {
	return func(c *Calibrator) {
		c.Alpha = alpha
	}
}

func WithTaskMode(mode conformal.TaskMode) Option {
	return func(c *Calibrator) {
		c.Mode = mode
	}
}

// WithStrategy records the strategy that produced the scores. Saturated thresholds are then
// clamped to the strategy's max score instead of +Inf.
func WithStrategy(s nonconformity.Strategy) Option {
	return func(c *Calibrator) {
		c.strategy = s
		c.hasStrategy = true
	}
}

// WithTaskNames names the tasks in input order. Defaults are task_0, task_1, ...
func WithTaskNames(names ...string) Option {
	return func(c *Calibrator) {
		c.TaskNames = append([]string(nil), names...)
	}
}

// WithClusterAssignment calibrates each of k groups separately, using a caller supplied group id
// per calibration example. The same partition applies to every task.
func WithClusterAssignment(k int, ids []int) Option {
	return func(c *Calibrator) {
		c.clusters = clusterConfig{kind: explicitClusters, k: k, ids: append([]int(nil), ids...)}
	}
}

// WithClusterCount derives k clusters per task by grouping classes with similar true-class score
// distributions. seed fixes the k-means initialisation.
func WithClusterCount(k int, seed uint64) Option {
	return func(c *Calibrator) {
		c.clusters = clusterConfig{kind: classClusters, k: k, seed: seed}
	}
}

func NewCalibrator(opts ...Option) *Calibrator {
	c := &Calibrator{
		Alpha: DefaultAlpha,
		Mode:  conformal.LowLevel,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type quantileFn func([]float64) (GroupThreshold, error)

// Calibrate computes thresholds from calibration scores and labels indexed [example][task].
// Neither input is modified.
func (c *Calibrator) Calibrate(scores nonconformity.Input, labels [][]int) (*Thresholds, error) {
	startTime := time.Now()

	if err := conformal.ValidateAlpha(c.Alpha); err != nil {
		return nil, err
	}
	if c.Mode != conformal.LowLevel && c.Mode != conformal.HighLevel {
		return nil, fmt.Errorf("%w: unknown task mode %v", conformal.ErrInvalidParameter, c.Mode)
	}

	numExamples, err := scores.NumExamples()
	if err != nil {
		return nil, err
	}
	taskLabels, err := splitLabels(labels, numExamples, scores.NumTasks())
	if err != nil {
		return nil, err
	}
	names, err := c.taskNames(scores.NumTasks())
	if err != nil {
		return nil, err
	}
	if err := c.clusters.validate(numExamples); err != nil {
		return nil, err
	}

	q := c.quantile
	tasks := make([]TaskThreshold, scores.NumTasks())
	trueScores := make([][]float64, scores.NumTasks())

	var g errgroup.Group
	for t := range tasks {
		batch := scores.Task(t)
		g.Go(func() error {
			ts, err := TrueClassScores(batch, taskLabels[t])
			if err != nil {
				return fmt.Errorf("task %q: %w", names[t], err)
			}
			_, numClasses := batch.Dims()
			tt, err := c.calibrateTask(names[t], ts, taskLabels[t], numClasses, q)
			if err != nil {
				return fmt.Errorf("task %q: %w", names[t], err)
			}
			tasks[t] = tt
			trueScores[t] = ts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	th := &Thresholds{
		Alpha: c.Alpha,
		Mode:  c.Mode,
		Tasks: tasks,
	}
	if c.hasStrategy {
		th.Strategy = c.strategy.String()
	}

	if c.Mode == conformal.HighLevel {
		joint, err := q(jointScores(trueScores))
		if err != nil {
			return nil, fmt.Errorf("joint: %w", err)
		}
		th.Joint = &joint
		log.Debug().Msgf("Joint threshold %f over %d examples", joint.QHat, joint.N)
	}

	log.Debug().Msgf("Calibrated %d task(s) in %s mode at alpha %v in %v", len(tasks), c.Mode, c.Alpha, time.Since(startTime))
	return th, nil
}

func (c *Calibrator) calibrateTask(name string, trueScores []float64, labels []int, numClasses int, q quantileFn) (TaskThreshold, error) {
	marginal, err := q(trueScores)
	if err != nil {
		return TaskThreshold{}, err
	}
	tt := TaskThreshold{Name: name, GroupThreshold: marginal}
	log.Debug().Str("task", name).Int("n", marginal.N).Msgf("Marginal threshold %f", marginal.QHat)

	var ids []int
	switch c.clusters.kind {
	case noClusters:
		return tt, nil
	case explicitClusters:
		ids = append([]int(nil), c.clusters.ids...)
	case classClusters:
		tt.ClassClusters, err = ClusterClasses(trueScores, labels, numClasses, c.clusters.k, c.clusters.seed)
		if err != nil {
			return TaskThreshold{}, err
		}
		ids = make([]int, len(labels))
		for i, label := range labels {
			ids[i] = tt.ClassClusters[label]
		}
	}

	tt.Clusters, err = clusterThresholds(trueScores, ids, c.clusters.k, q)
	if err != nil {
		return TaskThreshold{}, err
	}
	for _, ct := range tt.Clusters {
		log.Debug().Str("task", name).Int("cluster", ct.ID).Int("n", ct.N).Msgf("Cluster threshold %f", ct.QHat)
	}
	return tt, nil
}

func (c *Calibrator) quantile(scores []float64) (GroupThreshold, error) {
	qhat, saturated, err := Quantile(scores, c.Alpha)
	if err != nil {
		return GroupThreshold{}, err
	}
	if saturated {
		if c.hasStrategy {
			qhat = c.strategy.MaxScore()
		}
		log.Warn().Int("n", len(scores)).Float64("alpha", c.Alpha).
			Msgf("Conformal rank %d exceeds group size, threshold saturated at %v", ConformalRank(len(scores), c.Alpha), qhat)
	}
	return GroupThreshold{QHat: qhat, N: len(scores), Saturated: saturated}, nil
}

func (c *Calibrator) taskNames(numTasks int) ([]string, error) {
	if len(c.TaskNames) == 0 {
		names := make([]string, numTasks)
		for t := range names {
			names[t] = fmt.Sprintf("task_%d", t)
		}
		return names, nil
	}
	if len(c.TaskNames) != numTasks {
		return nil, fmt.Errorf("%w: %d task names for %d tasks", conformal.ErrInvalidParameter, len(c.TaskNames), numTasks)
	}
	seen := make(map[string]bool, numTasks)
	for _, name := range c.TaskNames {
		if name == "" || seen[name] {
			return nil, fmt.Errorf("%w: task names must be unique and non-empty, got %q", conformal.ErrInvalidParameter, c.TaskNames)
		}
		seen[name] = true
	}
	return c.TaskNames, nil
}

// splitLabels transposes [example][task] labels into one slice per task.
func splitLabels(labels [][]int, numExamples, numTasks int) ([][]int, error) {
	if len(labels) != numExamples {
		return nil, fmt.Errorf("%w: %d labels for %d examples", conformal.ErrInvalidInput, len(labels), numExamples)
	}
	out := make([][]int, numTasks)
	for t := range out {
		out[t] = make([]int, numExamples)
	}
	for i, tuple := range labels {
		if len(tuple) != numTasks {
			return nil, fmt.Errorf("%w: example %d has %d labels for %d tasks", conformal.ErrInvalidInput, i, len(tuple), numTasks)
		}
		for t, label := range tuple {
			out[t][i] = label
		}
	}
	return out, nil
}

// jointScores is the per-example maximum of the true-class scores over tasks.
func jointScores(trueScores [][]float64) []float64 {
	out := make([]float64, len(trueScores[0]))
	for i := range out {
		out[i] = math.Inf(-1)
		for _, ts := range trueScores {
			out[i] = math.Max(out[i], ts[i])
		}
	}
	return out
}

// SingleTaskLabels wraps one label per example into the [example][task] layout.
func SingleTaskLabels(labels []int) [][]int {
	out := make([][]int, len(labels))
	for i, l := range labels {
		out[i] = []int{l}
	}
	return out
}
