package main

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/conformal/internal/artifact"
	"github.com/tensorplex-labs/conformal/internal/calibration"
	"github.com/tensorplex-labs/conformal/internal/config"
	"github.com/tensorplex-labs/conformal/internal/conformal"
	"github.com/tensorplex-labs/conformal/internal/dataset"
	"github.com/tensorplex-labs/conformal/internal/nonconformity"
)

const defaultModelName = "model"

type options struct {
	DataPath  string
	RunPath   string
	Model     string
	Synthetic int
	Seed      uint64
}

func run(ctx context.Context, cfg *config.AppConfig, opts options) error {
	var rc *config.RunConfig
	if opts.RunPath != "" {
		var err error
		if rc, err = config.LoadRunFile(opts.RunPath); err != nil {
			return err
		}
	}
	calCfg := rc.Merge(cfg.CalibrationEnvConfig)

	set, err := loadSet(rc, opts)
	if err != nil {
		return err
	}

	model := opts.Model
	if model == "" && rc != nil {
		model = rc.Model
	}
	if model == "" {
		model = defaultModelName
	}

	th, err := calibrate(calCfg, set, rc.TaskNames())
	if err != nil {
		return err
	}

	report, err := selfCoverage(set, th)
	if err != nil {
		return err
	}
	for _, task := range report.Tasks {
		log.Info().Str("task", task.Name).Float64("coverage", task.Coverage).Float64("mean_set_size", task.MeanSetSize).
			Msg("calibration set coverage")
	}

	store, closeStore, err := artifact.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	record := artifact.NewRecord(th)
	if err := store.Save(ctx, model, record); err != nil {
		return err
	}
	log.Info().Str("model", model).Str("id", record.ID).Str("backend", cfg.Backend).Msg("calibration artifact saved")
	return nil
}

func parseSeed(v int64) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("%w: seed must be non-negative, got %d", conformal.ErrInvalidParameter, v)
	}
	return uint64(v), nil
}

func loadSet(rc *config.RunConfig, opts options) (*dataset.Set, error) {
	if opts.Synthetic > 0 {
		classes := rc.TaskClasses()
		if len(classes) == 0 {
			return nil, fmt.Errorf("%w: synthetic data needs tasks from a run file", conformal.ErrInvalidParameter)
		}
		return dataset.Synthetic(opts.Seed, opts.Synthetic, classes, rc.TaskNames(), 2)
	}
	if opts.DataPath == "" {
		return nil, fmt.Errorf("%w: either --data or --synthetic is required", conformal.ErrInvalidParameter)
	}
	set, err := dataset.Load(opts.DataPath)
	if err != nil {
		return nil, err
	}
	if set.Labels == nil {
		return nil, fmt.Errorf("%w: calibration dataset %s has no labels", conformal.ErrInvalidInput, opts.DataPath)
	}
	return set, nil
}

// calibrate scores the dataset and derives thresholds. Run file task names take precedence over
// dataset names when both describe the same number of tasks.
func calibrate(calCfg config.CalibrationEnvConfig, set *dataset.Set, runNames []string) (*calibration.Thresholds, error) {
	strategy, err := nonconformity.ParseStrategy(calCfg.Nonconformity)
	if err != nil {
		return nil, err
	}
	mode, err := conformal.ParseTaskMode(calCfg.TaskMode)
	if err != nil {
		return nil, err
	}

	names := set.Names
	if len(runNames) == len(names) {
		names = runNames
	}

	calOpts := []calibration.Option{
		calibration.WithAlpha(calCfg.Alpha),
		calibration.WithTaskMode(mode),
		calibration.WithStrategy(strategy),
		calibration.WithTaskNames(names...),
	}
	switch {
	case set.Clusters != nil:
		k := calCfg.Clusters
		if k == 0 {
			k = slices.Max(set.Clusters) + 1
		}
		calOpts = append(calOpts, calibration.WithClusterAssignment(k, set.Clusters))
	case calCfg.Clusters > 0:
		calOpts = append(calOpts, calibration.WithClusterCount(calCfg.Clusters, calCfg.ClusterSeed))
	}

	scores, err := strategy.Score(set.Probabilities)
	if err != nil {
		return nil, err
	}

	log.Info().Str("strategy", strategy.String()).Str("mode", mode.String()).Float64("alpha", calCfg.Alpha).
		Int("examples", set.NumExamples()).Int("tasks", len(names)).Msg("calibrating")
	return calibration.NewCalibrator(calOpts...).Calibrate(scores, set.Labels)
}

func selfCoverage(set *dataset.Set, th *calibration.Thresholds) (calibration.CoverageReport, error) {
	strategy, err := nonconformity.ParseStrategy(th.Strategy)
	if err != nil {
		return calibration.CoverageReport{}, err
	}
	scores, err := strategy.Score(set.Probabilities)
	if err != nil {
		return calibration.CoverageReport{}, err
	}

	sets, err := calibration.PredictionSets(scores, th, set.Clusters)
	if err != nil {
		return calibration.CoverageReport{}, err
	}

	names := make([]string, len(th.Tasks))
	for i, task := range th.Tasks {
		names[i] = task.Name
	}
	return calibration.EvaluateCoverage(sets, set.Labels, names)
}
