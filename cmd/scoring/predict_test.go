package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorplex-labs/conformal/internal/artifact"
	"github.com/tensorplex-labs/conformal/internal/calibration"
	"github.com/tensorplex-labs/conformal/internal/config"
	"github.com/tensorplex-labs/conformal/internal/conformal"
	"github.com/tensorplex-labs/conformal/internal/dataset"
	"github.com/tensorplex-labs/conformal/internal/nonconformity"
)

func calibratedStore(t *testing.T, mode conformal.TaskMode) (*config.AppConfig, *dataset.Set) {
	t.Helper()
	set, err := dataset.Synthetic(21, 600, []int{12, 11}, []string{"color", "type"}, 2)
	require.NoError(t, err)
	scores, err := nonconformity.Margin.Score(set.Probabilities)
	require.NoError(t, err)
	th, err := calibration.NewCalibrator(
		calibration.WithAlpha(0.1),
		calibration.WithTaskMode(mode),
		calibration.WithStrategy(nonconformity.Margin),
		calibration.WithTaskNames(set.Names...),
	).Calibrate(scores, set.Labels)
	require.NoError(t, err)

	cfg := &config.AppConfig{ArtifactEnvConfig: config.ArtifactEnvConfig{Backend: "file", Dir: t.TempDir()}}
	require.NoError(t, artifact.NewFileStore(cfg.Dir, false).Save(context.Background(), "mdc", artifact.NewRecord(th)))
	return cfg, set
}

func TestPredict(t *testing.T) {
	cfg, set := calibratedStore(t, conformal.HighLevel)
	dataPath := filepath.Join(t.TempDir(), "test.json")
	require.NoError(t, set.Save(dataPath))

	for _, joint := range []bool{false, true} {
		var buf bytes.Buffer
		require.NoError(t, predict(context.Background(), cfg, options{DataPath: dataPath, Model: "mdc", Joint: joint}, &buf))

		var doc Output
		require.NoError(t, sonic.Unmarshal(buf.Bytes(), &doc))
		assert.Equal(t, "margin", doc.Strategy)
		assert.Equal(t, joint, doc.Joint)
		assert.Equal(t, []string{"color", "type"}, doc.Tasks)
		require.Len(t, doc.Sets, 2)
		assert.Len(t, doc.Sets[0], set.NumExamples())
		require.NotNil(t, doc.Coverage)
		assert.GreaterOrEqual(t, doc.Coverage.Tasks["color"], 0.9)
		if joint {
			assert.GreaterOrEqual(t, doc.Coverage.Joint, 0.9)
		}
	}
}

func TestPredictErrors(t *testing.T) {
	cfg, set := calibratedStore(t, conformal.LowLevel)
	dataPath := filepath.Join(t.TempDir(), "test.json")
	require.NoError(t, set.Save(dataPath))
	ctx := context.Background()

	err := predict(ctx, cfg, options{DataPath: dataPath, Model: "missing"}, &bytes.Buffer{})
	assert.ErrorIs(t, err, artifact.ErrNotFound)

	err = predict(ctx, cfg, options{DataPath: dataPath, Model: "mdc", Joint: true}, &bytes.Buffer{})
	assert.ErrorIs(t, err, conformal.ErrInvalidParameter)

	single, err := dataset.Synthetic(3, 10, []int{4}, nil, 1)
	require.NoError(t, err)
	singlePath := filepath.Join(t.TempDir(), "single.json")
	require.NoError(t, single.Save(singlePath))
	err = predict(ctx, cfg, options{DataPath: singlePath, Model: "mdc"}, &bytes.Buffer{})
	assert.ErrorIs(t, err, conformal.ErrInvalidInput)
}

func TestBuildOutputWithoutLabels(t *testing.T) {
	th := &calibration.Thresholds{
		Alpha:    0.1,
		Strategy: "hinge",
		Tasks:    []calibration.TaskThreshold{{Name: "color", GroupThreshold: calibration.GroupThreshold{QHat: 0.66, N: 10}}},
	}
	batch, err := nonconformity.NewBatch([][]float64{{0.7, 0.2, 0.1}, {0.4, 0.35, 0.25}})
	require.NoError(t, err)
	set := &dataset.Set{Names: []string{"color"}, Probabilities: nonconformity.Single(batch)}

	doc, err := buildOutput(th, set, false)
	require.NoError(t, err)
	assert.Nil(t, doc.Coverage)
	assert.Equal(t, [][][]int{{{0}, {0, 1}}}, doc.Sets)

	th.Strategy = ""
	_, err = buildOutput(th, set, false)
	assert.ErrorIs(t, err, conformal.ErrInvalidInput)
}

func TestWriteOutput(t *testing.T) {
	write := func(w io.Writer) error {
		_, err := w.Write([]byte("{}\n"))
		return err
	}

	var stdout bytes.Buffer
	require.NoError(t, writeOutput("", &stdout, write))
	assert.Equal(t, "{}\n", stdout.String())

	path := filepath.Join(t.TempDir(), "sets.json")
	require.NoError(t, writeOutput(path, &stdout, write))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(data))

	err = writeOutput(filepath.Join(t.TempDir(), "missing", "sets.json"), &stdout, write)
	assert.Error(t, err)

	failed := errors.New("disk full")
	err = writeOutput(path, &stdout, func(io.Writer) error { return failed })
	assert.ErrorIs(t, err, failed)
}
