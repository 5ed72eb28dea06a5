package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/yagiopt/internal/antenna"
	"github.com/copyleftdev/yagiopt/internal/driver"
	"github.com/copyleftdev/yagiopt/internal/optimization"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	started := time.Unix(1700000000, 123456789)
	run := &driver.Run{
		Algorithm:   optimization.GridSearch,
		Best:        antenna.InitialGuess(2),
		Score:       4.5,
		Evaluations: 100000,
		Simulated:   99000,
		Converged:   true,
		Message:     "grid exhausted",
		Warnings:    []string{"bounds degraded"},
		Started:     started,
		Duration:    2500 * time.Millisecond,
	}
	rec := NewRecord("run-1", run.Algorithm.String(), driver.StatusCompleted, run, nil)
	rec.Summary = "Algorithm: grid_search"
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("stored record mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveReplaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := NewRecord("run-1", "local_descent", "running", nil, nil)
	require.NoError(t, s.Save(ctx, rec))
	rec.Status = driver.StatusCanceled
	require.NoError(t, s.Save(ctx, rec))

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, driver.StatusCanceled, all[0].Status)
}

func TestNonFiniteScoreIsStoredAsNull(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := &driver.Run{Score: math.Inf(1), Started: time.Now()}
	rec := NewRecord("inf", "basin_hopping", driver.StatusCompleted, run, nil)
	assert.Nil(t, rec.Score)
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Get(ctx, "inf")
	require.NoError(t, err)
	assert.Nil(t, got.Score)
}

func TestFailedRunKeepsError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := NewRecord("bad", "differential_evolution", driver.StatusFailed, nil, errors.New("frequency too high"))
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Get(ctx, "bad")
	require.NoError(t, err)
	assert.Equal(t, "frequency too high", got.Error)
	assert.Empty(t, got.Warnings)
}

func TestGetUnknown(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Unix(1700000000, 0)
	for i, id := range []string{"a", "b", "c"} {
		rec := NewRecord(id, "grid_search", driver.StatusCompleted, nil, nil)
		rec.StartedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Save(ctx, rec))
	}

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	ids := make([]string, len(all))
	for i, r := range all {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"c", "b", "a"}, ids)

	two, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestOpenMemory(t *testing.T) {
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Save(context.Background(), NewRecord("m", "grid_search", "completed", nil, nil)))
	_, err = s.Get(context.Background(), "m")
	assert.NoError(t, err)
}
