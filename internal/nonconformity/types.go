package nonconformity

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/tensorplex-labs/conformal/internal/conformal"
)

// Kind tags the shape of an Input.
type Kind int

const (
	SingleTask Kind = iota // one (examples x classes) batch
	MultiTask              // ordered batches, one per task
)

func (k Kind) String() string {
	if k == MultiTask {
		return "multi-task"
	}
	return "single-task"
}

// Input is either a single probability/score batch or an ordered sequence of per-task batches.
// Batches are treated as read-only by every consumer.
type Input struct {
	kind  Kind
	tasks []*mat.Dense
}

// Single wraps one batch as a single-task input.
func Single(b *mat.Dense) Input {
	return Input{kind: SingleTask, tasks: []*mat.Dense{b}}
}

// Multi wraps per-task batches, preserving their order. Tasks may differ in class count.
func Multi(batches ...*mat.Dense) Input {
	tasks := make([]*mat.Dense, len(batches))
	copy(tasks, batches)
	return Input{kind: MultiTask, tasks: tasks}
}

func (in Input) Kind() Kind { return in.kind }

// NumTasks is 1 for single-task inputs.
func (in Input) NumTasks() int { return len(in.tasks) }

func (in Input) Task(i int) *mat.Dense { return in.tasks[i] }

// Tasks returns the batches in task order.
func (in Input) Tasks() []*mat.Dense {
	out := make([]*mat.Dense, len(in.tasks))
	copy(out, in.tasks)
	return out
}

// NumExamples returns the shared example count of all tasks.
func (in Input) NumExamples() (int, error) {
	if len(in.tasks) == 0 {
		return 0, fmt.Errorf("%w: input has no tasks", conformal.ErrInvalidInput)
	}
	n := -1
	for t, b := range in.tasks {
		if b == nil {
			return 0, fmt.Errorf("%w: task %d has a nil batch", conformal.ErrInvalidInput, t)
		}
		rows, _ := b.Dims()
		if n >= 0 && rows != n {
			return 0, fmt.Errorf("%w: task %d has %d examples, task 0 has %d", conformal.ErrInvalidInput, t, rows, n)
		}
		n = rows
	}
	return n, nil
}

// NewBatch builds an (examples x classes) batch from rows of probabilities.
func NewBatch(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: batch has no examples", conformal.ErrInvalidInput)
	}
	classes := len(rows[0])
	if classes == 0 {
		return nil, fmt.Errorf("%w: batch has no classes", conformal.ErrInvalidInput)
	}

	data := make([]float64, 0, len(rows)*classes)
	for i, row := range rows {
		if len(row) != classes {
			return nil, fmt.Errorf("%w: example %d has %d classes, expected %d", conformal.ErrInvalidInput, i, len(row), classes)
		}
		for j, p := range row {
			if math.IsNaN(p) || p < 0 || p > 1 {
				return nil, fmt.Errorf("%w: probability [%d][%d] = %v is outside [0, 1]", conformal.ErrInvalidInput, i, j, p)
			}
		}
		data = append(data, row...)
	}

	return mat.NewDense(len(rows), classes, data), nil
}

// NewVector treats a single probability vector as a batch of one.
func NewVector(p []float64) (*mat.Dense, error) {
	return NewBatch([][]float64{p})
}

// Rows copies a batch back into plain slices.
func Rows(b *mat.Dense) [][]float64 {
	rows, _ := b.Dims()
	out := make([][]float64, rows)
	for i := range rows {
		out[i] = mat.Row(nil, i, b)
	}
	return out
}
