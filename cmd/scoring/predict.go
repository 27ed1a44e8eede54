package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/conformal/internal/artifact"
	"github.com/tensorplex-labs/conformal/internal/calibration"
	"github.com/tensorplex-labs/conformal/internal/config"
	"github.com/tensorplex-labs/conformal/internal/conformal"
	"github.com/tensorplex-labs/conformal/internal/dataset"
	"github.com/tensorplex-labs/conformal/internal/nonconformity"
)

type options struct {
	DataPath string
	Model    string
	Joint    bool
}

// Output is the prediction set document. Sets are indexed [task][example].
type Output struct {
	Model    string          `json:"model"`
	ID       string          `json:"artifact_id"`
	Strategy string          `json:"strategy"`
	Alpha    float64         `json:"alpha"`
	Joint    bool            `json:"joint"`
	Tasks    []string        `json:"tasks"`
	Sets     [][][]int       `json:"sets"`
	Coverage *coverageOutput `json:"coverage,omitempty"`
}

type coverageOutput struct {
	Tasks map[string]float64 `json:"tasks"`
	Joint float64            `json:"joint"`
}

func predict(ctx context.Context, cfg *config.AppConfig, opts options, w io.Writer) error {
	store, closeStore, err := artifact.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	record, err := store.Load(ctx, opts.Model)
	if err != nil {
		return err
	}
	th, err := record.Thresholds()
	if err != nil {
		return err
	}

	set, err := dataset.Load(opts.DataPath)
	if err != nil {
		return err
	}
	doc, err := buildOutput(th, set, opts.Joint)
	if err != nil {
		return err
	}
	doc.Model, doc.ID = opts.Model, record.ID

	data, err := sonic.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal prediction sets: %w", err)
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// writeOutput runs write against the file at path, or against stdout when path is empty. The
// file's close error is returned.
func writeOutput(path string, stdout io.Writer, write func(io.Writer) error) (err error) {
	if path == "" {
		return write(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close output: %w", cerr)
		}
	}()
	return write(f)
}

func buildOutput(th *calibration.Thresholds, set *dataset.Set, joint bool) (*Output, error) {
	if th.Strategy == "" {
		return nil, fmt.Errorf("%w: artifact does not record its nonconformity strategy", conformal.ErrInvalidInput)
	}
	strategy, err := nonconformity.ParseStrategy(th.Strategy)
	if err != nil {
		return nil, err
	}
	scores, err := strategy.Score(set.Probabilities)
	if err != nil {
		return nil, err
	}

	var sets [][][]int
	if joint {
		sets, err = calibration.JointPredictionSets(scores, th)
	} else {
		sets, err = calibration.PredictionSets(scores, th, set.Clusters)
	}
	if err != nil {
		return nil, err
	}

	names := make([]string, len(th.Tasks))
	for t, task := range th.Tasks {
		names[t] = task.Name
	}
	doc := &Output{Strategy: th.Strategy, Alpha: th.Alpha, Joint: joint, Tasks: names, Sets: sets}

	if set.Labels != nil {
		report, err := calibration.EvaluateCoverage(sets, set.Labels, names)
		if err != nil {
			return nil, err
		}
		doc.Coverage = &coverageOutput{Tasks: make(map[string]float64, len(report.Tasks)), Joint: report.JointCoverage}
		for _, task := range report.Tasks {
			doc.Coverage.Tasks[task.Name] = task.Coverage
			log.Info().Str("task", task.Name).Float64("coverage", task.Coverage).Float64("mean_set_size", task.MeanSetSize).
				Msg("empirical coverage")
		}
		log.Info().Float64("joint_coverage", report.JointCoverage).Float64("target", 1-th.Alpha).Msg("empirical coverage")
	}
	return doc, nil
}
