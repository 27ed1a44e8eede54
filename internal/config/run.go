package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TaskSpec names one classifier head and its class count.
type TaskSpec struct {
	Name    string `yaml:"name"`
	Classes int    `yaml:"classes"`
}

// RunConfig is a YAML run file. Zero values leave the environment configuration untouched.
type RunConfig struct {
	Model         string     `yaml:"model"`
	Tasks         []TaskSpec `yaml:"tasks"`
	Alpha         float64    `yaml:"alpha"`
	Nonconformity string     `yaml:"nonconformity"`
	TaskMode      string     `yaml:"task_mode"`
	Clusters      int        `yaml:"clusters"`
	ClusterSeed   uint64     `yaml:"cluster_seed"`
}

func LoadRunFile(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run file: %w", err)
	}

	var rc RunConfig
	if err := yaml.Unmarshal(data, &rc); err != nil {
		return nil, fmt.Errorf("parse run file %s: %w", path, err)
	}
	for i, task := range rc.Tasks {
		if task.Name == "" {
			return nil, fmt.Errorf("run file %s: task %d has no name", path, i)
		}
	}
	return &rc, nil
}

// Merge overlays the run file on cfg and returns the result.
func (rc *RunConfig) Merge(cfg CalibrationEnvConfig) CalibrationEnvConfig {
	if rc == nil {
		return cfg
	}
	if rc.Alpha != 0 {
		cfg.Alpha = rc.Alpha
	}
	if rc.Nonconformity != "" {
		cfg.Nonconformity = rc.Nonconformity
	}
	if rc.TaskMode != "" {
		cfg.TaskMode = rc.TaskMode
	}
	if rc.Clusters != 0 {
		cfg.Clusters = rc.Clusters
	}
	if rc.ClusterSeed != 0 {
		cfg.ClusterSeed = rc.ClusterSeed
	}
	return cfg
}

// TaskNames returns the task names in run file order.
func (rc *RunConfig) TaskNames() []string {
	if rc == nil {
		return nil
	}
	names := make([]string, len(rc.Tasks))
	for i, task := range rc.Tasks {
		names[i] = task.Name
	}
	return names
}

// TaskClasses returns the class count of every task.
func (rc *RunConfig) TaskClasses() []int {
	if rc == nil {
		return nil
	}
	classes := make([]int, len(rc.Tasks))
	for i, task := range rc.Tasks {
		classes[i] = task.Classes
	}
	return classes
}
