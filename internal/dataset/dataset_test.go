package dataset

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/tensorplex-labs/conformal/internal/conformal"
	"github.com/tensorplex-labs/conformal/internal/nonconformity"
)

func TestDecode(t *testing.T) {
	set, err := Decode([]byte(`{
		"tasks": [
			{"name": "color", "probabilities": [[0.1, 0.9], [0.6, 0.4]]},
			{"name": "type", "probabilities": [[0.2, 0.3, 0.5], [0.3, 0.3, 0.4]]}
		],
		"labels": [[1, 2], [0, 0]],
		"clusters": [0, 1]
	}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"color", "type"}, set.Names)
	assert.Equal(t, nonconformity.MultiTask, set.Probabilities.Kind())
	assert.Equal(t, 2, set.NumExamples())
	assert.Equal(t, [][]int{{1, 2}, {0, 0}}, set.Labels)
	assert.Equal(t, []int{0, 1}, set.Clusters)
	assert.Equal(t, 0.5, set.Probabilities.Task(1).At(0, 2))
}

func TestDecodeSingleTaskDefaultsName(t *testing.T) {
	set, err := Decode([]byte(`{"tasks": [{"probabilities": [[0.1, 0.5, 0.2, 0.1, 0.1]]}]}`))
	require.NoError(t, err)
	assert.Equal(t, nonconformity.SingleTask, set.Probabilities.Kind())
	assert.Equal(t, []string{"task_0"}, set.Names)
	assert.Nil(t, set.Labels)
}

func TestDecodeErrors(t *testing.T) {
	cases := map[string]string{
		"garbage":           `{"tasks": `,
		"no tasks":          `{"tasks": []}`,
		"ragged":            `{"tasks": [{"probabilities": [[0.5, 0.5], [1]]}]}`,
		"example mismatch":  `{"tasks": [{"probabilities": [[0.5, 0.5]]}, {"probabilities": [[0.5, 0.5], [0.5, 0.5]]}]}`,
		"label mismatch":    `{"tasks": [{"probabilities": [[0.5, 0.5]]}], "labels": [[0], [1]]}`,
		"cluster mismatch":  `{"tasks": [{"probabilities": [[0.5, 0.5]]}], "clusters": [0, 1]}`,
		"probability above": `{"tasks": [{"probabilities": [[1.5, 0.5]]}]}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(payload))
			assert.ErrorIs(t, err, conformal.ErrInvalidInput)
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	set, err := Synthetic(1, 50, []int{12, 11}, []string{"color", "type"}, 2)
	require.NoError(t, err)

	for _, name := range []string{"calib.json", "calib.json.zst"} {
		path := filepath.Join(t.TempDir(), name)
		require.NoError(t, set.Save(path))

		loaded, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, set.Names, loaded.Names)
		assert.Equal(t, set.Labels, loaded.Labels)
		for task := range set.Probabilities.NumTasks() {
			assert.True(t, mat.Equal(set.Probabilities.Task(task), loaded.Probabilities.Task(task)), name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestSyntheticIsDeterministic(t *testing.T) {
	a, err := Synthetic(7, 100, []int{4, 3}, nil, 1.5)
	require.NoError(t, err)
	b, err := Synthetic(7, 100, []int{4, 3}, nil, 1.5)
	require.NoError(t, err)

	assert.Equal(t, a.Labels, b.Labels)
	assert.Equal(t, []string{"task_0", "task_1"}, a.Names)
	for task := range 2 {
		assert.True(t, mat.Equal(a.Probabilities.Task(task), b.Probabilities.Task(task)))
		rows, _ := a.Probabilities.Task(task).Dims()
		for i := range rows {
			assert.InDelta(t, 1, floats.Sum(mat.Row(nil, i, a.Probabilities.Task(task))), 1e-9)
		}
	}

	_, err = Synthetic(7, 0, []int{4}, nil, 1)
	assert.ErrorIs(t, err, conformal.ErrInvalidParameter)
	_, err = Synthetic(7, 10, []int{0}, nil, 1)
	assert.ErrorIs(t, err, conformal.ErrInvalidParameter)
}

func TestSubset(t *testing.T) {
	set, err := Synthetic(3, 20, []int{5}, []string{"color"}, 1)
	require.NoError(t, err)
	set.Clusters = make([]int, 20)
	for i := range set.Clusters {
		set.Clusters[i] = i % 2
	}

	sub, err := set.Subset([]int{1, 3, 5})
	require.NoError(t, err)
	assert.Equal(t, 3, sub.NumExamples())
	assert.Equal(t, []int{1, 1, 1}, sub.Clusters)
	assert.Equal(t, set.Labels[3], sub.Labels[1])
	assert.Equal(t, mat.Row(nil, 5, set.Probabilities.Task(0)), mat.Row(nil, 2, sub.Probabilities.Task(0)))
}
