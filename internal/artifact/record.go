// Package artifact serialises calibrated thresholds into a plain JSON record and persists them.
package artifact

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/tensorplex-labs/conformal/internal/calibration"
	"github.com/tensorplex-labs/conformal/internal/conformal"
)

// Group is one threshold. QHat is nil when the threshold is +Inf.
type Group struct {
	QHat      *float64 `json:"q_hat"`
	N         int      `json:"n"`
	Saturated bool     `json:"saturated"`
}

type Task struct {
	Group
	Clusters      map[string]Group `json:"clusters,omitempty"`
	ClassClusters []int            `json:"class_clusters,omitempty"`
}

// Record is the persisted form of calibration.Thresholds.
type Record struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Alpha     float64         `json:"alpha"`
	Strategy  string          `json:"strategy,omitempty"`
	TaskMode  string          `json:"task_mode"`
	TaskOrder []string        `json:"task_order"`
	Tasks     map[string]Task `json:"tasks"`
	Joint     *Group          `json:"joint,omitempty"`
}

// api sorts map keys so identical thresholds always encode to identical bytes.
var api = sonic.Config{SortMapKeys: true}.Froze()

// NewRecord converts thresholds into a record with a fresh ID.
func NewRecord(th *calibration.Thresholds) *Record {
	r := &Record{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Alpha:     th.Alpha,
		Strategy:  th.Strategy,
		TaskMode:  th.Mode.String(),
		TaskOrder: make([]string, len(th.Tasks)),
		Tasks:     make(map[string]Task, len(th.Tasks)),
	}
	for t, task := range th.Tasks {
		r.TaskOrder[t] = task.Name
		rt := Task{Group: toGroup(task.GroupThreshold), ClassClusters: slices.Clone(task.ClassClusters)}
		if len(task.Clusters) > 0 {
			rt.Clusters = make(map[string]Group, len(task.Clusters))
			for _, c := range task.Clusters {
				rt.Clusters[strconv.Itoa(c.ID)] = toGroup(c.GroupThreshold)
			}
		}
		r.Tasks[task.Name] = rt
	}
	if th.Joint != nil {
		joint := toGroup(*th.Joint)
		r.Joint = &joint
	}
	return r
}

// Thresholds converts the record back, ordering tasks by TaskOrder and clusters by ID.
func (r *Record) Thresholds() (*calibration.Thresholds, error) {
	mode, err := conformal.ParseTaskMode(r.TaskMode)
	if err != nil {
		return nil, err
	}
	if len(r.TaskOrder) != len(r.Tasks) {
		return nil, fmt.Errorf("%w: task order lists %d tasks, record has %d", conformal.ErrInvalidInput, len(r.TaskOrder), len(r.Tasks))
	}

	th := &calibration.Thresholds{
		Alpha:    r.Alpha,
		Mode:     mode,
		Strategy: r.Strategy,
		Tasks:    make([]calibration.TaskThreshold, len(r.TaskOrder)),
	}
	for t, name := range r.TaskOrder {
		rt, ok := r.Tasks[name]
		if !ok {
			return nil, fmt.Errorf("%w: task %q missing from record", conformal.ErrInvalidInput, name)
		}
		tt := calibration.TaskThreshold{Name: name, GroupThreshold: rt.fromGroup(), ClassClusters: slices.Clone(rt.ClassClusters)}
		for key, c := range rt.Clusters {
			id, err := strconv.Atoi(key)
			if err != nil {
				return nil, fmt.Errorf("%w: task %q cluster id %q is not an integer", conformal.ErrInvalidInput, name, key)
			}
			tt.Clusters = append(tt.Clusters, calibration.ClusterThreshold{ID: id, GroupThreshold: c.fromGroup()})
		}
		slices.SortFunc(tt.Clusters, func(a, b calibration.ClusterThreshold) int { return a.ID - b.ID })
		th.Tasks[t] = tt
	}
	if r.Joint != nil {
		joint := r.Joint.fromGroup()
		th.Joint = &joint
	}
	return th, nil
}

func Encode(r *Record) ([]byte, error) {
	data, err := api.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return data, nil
}

func Decode(data []byte) (*Record, error) {
	var r Record
	if err := api.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: unmarshal record: %v", conformal.ErrInvalidInput, err)
	}
	return &r, nil
}

func toGroup(g calibration.GroupThreshold) Group {
	out := Group{N: g.N, Saturated: g.Saturated}
	if !math.IsInf(g.QHat, 1) {
		q := g.QHat
		out.QHat = &q
	}
	return out
}

func (g Group) fromGroup() calibration.GroupThreshold {
	out := calibration.GroupThreshold{QHat: math.Inf(1), N: g.N, Saturated: g.Saturated}
	if g.QHat != nil {
		out.QHat = *g.QHat
	}
	return out
}
