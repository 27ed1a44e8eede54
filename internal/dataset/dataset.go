// Package dataset loads the calibration contract produced by the model collaborator: per-task
// softmax batches plus aligned ground-truth labels.
package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/bytedance/sonic"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/tensorplex-labs/conformal/internal/conformal"
	"github.com/tensorplex-labs/conformal/internal/nonconformity"
	"github.com/tensorplex-labs/conformal/internal/utils/compression"
)

type TaskFile struct {
	Name          string      `json:"name"`
	Probabilities [][]float64 `json:"probabilities"`
}

// File is the on-disk layout. Labels are indexed [example][task]; Clusters is an optional group
// id per example.
type File struct {
	Tasks    []TaskFile `json:"tasks"`
	Labels   [][]int    `json:"labels,omitempty"`
	Clusters []int      `json:"clusters,omitempty"`
}

// Set is a validated, in-memory dataset.
type Set struct {
	Names         []string
	Probabilities nonconformity.Input
	Labels        [][]int
	Clusters      []int
}

func (s *Set) NumExamples() int {
	n, _ := s.Probabilities.NumExamples()
	return n
}

// Load reads a dataset from a .json or .json.zst file.
func Load(path string) (*Set, error) {
	data, err := compression.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}
	return Decode(data)
}

func Decode(data []byte) (*Set, error) {
	var f File
	if err := sonic.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: unmarshal dataset: %v", conformal.ErrInvalidInput, err)
	}
	return f.Set()
}

// Save writes the set to path, compressing when the name ends in .zst.
func (s *Set) Save(path string) error {
	data, err := sonic.Marshal(s.File())
	if err != nil {
		return fmt.Errorf("marshal dataset: %w", err)
	}
	return compression.WriteFile(path, data, 0o644)
}

// Set validates the file and builds batches. Labels may be absent for inference-only data.
func (f File) Set() (*Set, error) {
	if len(f.Tasks) == 0 {
		return nil, fmt.Errorf("%w: dataset has no tasks", conformal.ErrInvalidInput)
	}

	names := make([]string, len(f.Tasks))
	batches := make([]*mat.Dense, 0, len(f.Tasks))
	for t, task := range f.Tasks {
		names[t] = task.Name
		if names[t] == "" {
			names[t] = fmt.Sprintf("task_%d", t)
		}
		b, err := nonconformity.NewBatch(task.Probabilities)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", names[t], err)
		}
		batches = append(batches, b)
	}

	var in nonconformity.Input
	if len(batches) == 1 {
		in = nonconformity.Single(batches[0])
	} else {
		in = nonconformity.Multi(batches...)
	}
	n, err := in.NumExamples()
	if err != nil {
		return nil, err
	}

	if f.Labels != nil && len(f.Labels) != n {
		return nil, fmt.Errorf("%w: %d labels for %d examples", conformal.ErrInvalidInput, len(f.Labels), n)
	}
	if f.Clusters != nil && len(f.Clusters) != n {
		return nil, fmt.Errorf("%w: %d cluster ids for %d examples", conformal.ErrInvalidInput, len(f.Clusters), n)
	}

	return &Set{Names: names, Probabilities: in, Labels: f.Labels, Clusters: f.Clusters}, nil
}

func (s *Set) File() File {
	f := File{Labels: s.Labels, Clusters: s.Clusters, Tasks: make([]TaskFile, s.Probabilities.NumTasks())}
	for t := range f.Tasks {
		f.Tasks[t] = TaskFile{Name: s.Names[t], Probabilities: nonconformity.Rows(s.Probabilities.Task(t))}
	}
	return f
}

// Subset returns the examples at the given indices, copying every row.
func (s *Set) Subset(indices []int) (*Set, error) {
	f := s.File()
	out := File{Tasks: make([]TaskFile, len(f.Tasks))}
	for t, task := range f.Tasks {
		rows := make([][]float64, len(indices))
		for k, i := range indices {
			rows[k] = task.Probabilities[i]
		}
		out.Tasks[t] = TaskFile{Name: task.Name, Probabilities: rows}
	}
	if s.Labels != nil {
		out.Labels = make([][]int, len(indices))
		for k, i := range indices {
			out.Labels[k] = append([]int(nil), s.Labels[i]...)
		}
	}
	if s.Clusters != nil {
		out.Clusters = make([]int, len(indices))
		for k, i := range indices {
			out.Clusters[k] = s.Clusters[i]
		}
	}
	return out.Set()
}

// Synthetic generates n examples of softmax outputs for tasks with the given class counts. Labels
// are drawn from each example's own distribution, so the synthetic model is calibrated. sharpness
// scales the logits; larger values give more confident predictions.
func Synthetic(seed uint64, n int, classes []int, names []string, sharpness float64) (*Set, error) {
	if n <= 0 || len(classes) == 0 {
		return nil, fmt.Errorf("%w: synthetic set needs examples and tasks", conformal.ErrInvalidParameter)
	}
	rng := rand.New(rand.NewPCG(seed, uint64(n)))

	f := File{Tasks: make([]TaskFile, len(classes)), Labels: make([][]int, n)}
	for i := range f.Labels {
		f.Labels[i] = make([]int, len(classes))
	}

	for t, c := range classes {
		if c <= 0 {
			return nil, fmt.Errorf("%w: task %d has %d classes", conformal.ErrInvalidParameter, t, c)
		}
		name := fmt.Sprintf("task_%d", t)
		if t < len(names) {
			name = names[t]
		}
		rows := make([][]float64, n)
		for i := range rows {
			rows[i] = softmax(rng, c, sharpness)
			f.Labels[i][t] = sample(rng, rows[i])
		}
		f.Tasks[t] = TaskFile{Name: name, Probabilities: rows}
	}
	return f.Set()
}

func softmax(rng *rand.Rand, classes int, sharpness float64) []float64 {
	logits := make([]float64, classes)
	for j := range logits {
		logits[j] = sharpness * rng.NormFloat64()
	}
	floats.AddConst(-floats.Max(logits), logits)
	for j, l := range logits {
		logits[j] = math.Exp(l)
	}
	sum := floats.Sum(logits)
	for j := range logits {
		logits[j] /= sum
	}
	return logits
}

func sample(rng *rand.Rand, p []float64) int {
	cdf := make([]float64, len(p))
	floats.CumSum(cdf, p)
	u := rng.Float64() * cdf[len(cdf)-1]
	for j, c := range cdf {
		if u < c {
			return j
		}
	}
	return len(p) - 1
}
