package optimization

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sphere(x []float64) (float64, error) {
	s := 0.0
	for _, v := range x {
		s += v * v
	}
	return s, nil
}

func TestProblemValidate(t *testing.T) {
	tests := []struct {
		name    string
		problem Problem
		wantErr bool
	}{
		{"valid", Problem{Objective: sphere, Bounds: [][2]float64{{-1, 1}}}, false},
		{"no objective", Problem{Bounds: [][2]float64{{-1, 1}}}, true},
		{"no bounds", Problem{Objective: sphere}, true},
		{"inverted", Problem{Objective: sphere, Bounds: [][2]float64{{1, -1}}}, true},
		{"nan bound", Problem{Objective: sphere, Bounds: [][2]float64{{math.NaN(), 1}}}, true},
		{"initial length", Problem{Objective: sphere, Bounds: [][2]float64{{-1, 1}}, Initial: []float64{0, 0}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.problem.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProblemStartAndClip(t *testing.T) {
	p := Problem{Bounds: [][2]float64{{0, 2}, {-4, -2}}}
	assert.Equal(t, []float64{1, -3}, p.Start())

	p.Initial = []float64{5, -3.5}
	assert.Equal(t, []float64{2, -3.5}, p.Start())
	assert.Equal(t, []float64{5, -3.5}, p.Initial, "Start must not modify the guess")

	x := []float64{-1, 0}
	p.Clip(x)
	assert.Equal(t, []float64{0, -2}, x)
}

func TestParseAlgorithm(t *testing.T) {
	for _, k := range Algorithms() {
		got, err := ParseAlgorithm(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	got, err := ParseAlgorithm(" Grid-Search ")
	require.NoError(t, err)
	assert.Equal(t, GridSearch, got)

	_, err = ParseAlgorithm("bayesian")
	assert.Error(t, err)

	assert.Equal(t, 7, len(Algorithms()))
	assert.Equal(t, 3, int(LocalDescent))
	assert.False(t, AlgorithmKind(7).Valid())
	assert.Equal(t, "AlgorithmKind(-1)", AlgorithmKind(-1).String())
}

func TestAlgorithmKindJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Algorithm AlgorithmKind `json:"algorithm"`
	}{DualAnnealing})
	require.NoError(t, err)
	assert.JSONEq(t, `{"algorithm":"dual_annealing"}`, string(b))

	var v struct {
		Algorithm AlgorithmKind `json:"algorithm"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"algorithm":"dividing_rectangles"}`), &v))
	assert.Equal(t, DividingRectangles, v.Algorithm)
	assert.Error(t, json.Unmarshal([]byte(`{"algorithm":"nope"}`), &v))
}

func TestRunError(t *testing.T) {
	base := errors.New("boom")
	err := WrapError(base, "grid_search", "minimize")
	assert.EqualError(t, err, "grid_search: minimize: boom")
	assert.ErrorIs(t, err, base)
	assert.Same(t, err, WrapError(err, "other", "op"))
	assert.Nil(t, WrapError(nil, "s", "op"))

	re, ok := IsRunError(err)
	require.True(t, ok)
	assert.Equal(t, "grid_search", re.Strategy)

	canceled := WrapError(context.Canceled, "s", "op")
	assert.True(t, IsCanceled(canceled))
	assert.False(t, IsCanceled(err))
}
