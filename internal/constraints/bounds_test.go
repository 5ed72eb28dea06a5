package constraints

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/yagiopt/internal/antenna"
	yerrors "github.com/copyleftdev/yagiopt/internal/errors"
)

const radius = 0.125 * antenna.MetersPerInch / 2

func TestDeriveTwoMeter(t *testing.T) {
	guess := antenna.InitialGuess(antenna.Wavelength(144.1e6))

	b, err := Derive(guess, radius, 0)
	require.NoError(t, err)
	assert.False(t, b.Degraded)
	assert.Empty(t, b.Warnings)
	assert.Equal(t, guess, b.Start)

	assert.InDelta(t, 0.75*guess.L1, b.Min.L1, 1e-12)
	assert.InDelta(t, 1.25*guess.L3, b.Max.L3, 1e-12)
	assert.InDelta(t, 0.5*guess.D1, b.Min.D1, 1e-12)
	assert.InDelta(t, 1.5*guess.D2, b.Max.D2, 1e-12)
	assert.True(t, b.Contains(guess))
	assert.Len(t, b.Pairs(), antenna.NumParams)
}

func TestDeriveStartAlwaysInside(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		wl := 0.1 + 20*rng.Float64()
		guess := antenna.InitialGuess(wl)
		// Perturb so some parameters start below their floors.
		v := guess.Vector()
		for j := range v {
			v[j] *= 0.001 + 2*rng.Float64()
		}
		guess = antenna.FromVector(v)
		folded := 0.0
		if rng.Intn(2) == 0 {
			folded = 0.05 * rng.Float64()
		}

		b, err := Derive(guess, radius, folded)
		if err != nil {
			assert.Equal(t, yerrors.KindInterference, yerrors.KindOf(err))
			continue
		}
		lo, hi, x := b.Min.Vector(), b.Max.Vector(), b.Start.Vector()
		for j := range x {
			require.LessOrEqual(t, lo[j], x[j], "param %s", antenna.ParamNames[j])
			require.LessOrEqual(t, x[j], hi[j], "param %s", antenna.ParamNames[j])
		}
		assert.Greater(t, b.Min.D2, folded+2*radius)
		assert.Greater(t, b.Min.D1, 2*radius)
	}
}

func TestDeriveInterferenceIsFatal(t *testing.T) {
	// 0.05 m folded spacing cannot fit at 2 GHz.
	guess := antenna.InitialGuess(antenna.Wavelength(2000e6))
	require.LessOrEqual(t, 1.5*guess.D2, 0.05+2*radius)

	_, err := Derive(guess, radius, 0.05)
	require.Error(t, err)
	assert.Equal(t, yerrors.KindInterference, yerrors.KindOf(err))
	assert.True(t, yerrors.IsFatal(err))
	assert.Contains(t, err.Error(), "d2_initial=")
}

func TestDeriveDegraded(t *testing.T) {
	// At 1 GHz half of d2 collides with a 0.05 m folded conductor, the
	// full 1.5x does not.
	guess := antenna.InitialGuess(antenna.Wavelength(1000e6))
	floor := 0.05 + 2*radius
	require.LessOrEqual(t, 0.5*guess.D2, floor)
	require.Greater(t, 1.5*guess.D2, floor)

	b, err := Derive(guess, radius, 0.05)
	require.NoError(t, err)
	assert.True(t, b.Degraded)
	assert.NotEmpty(t, b.Warnings)
	assert.InDelta(t, floor+0.0001, b.Min.D2, 1e-12)
	assert.True(t, b.Contains(b.Start))
}

func TestDeriveRejectsBadInput(t *testing.T) {
	_, err := Derive(antenna.GeometryParams{L1: math.NaN()}, radius, 0)
	assert.Equal(t, yerrors.KindConfig, yerrors.KindOf(err))

	_, err = Derive(antenna.InitialGuess(2), 0, 0)
	assert.Equal(t, yerrors.KindConfig, yerrors.KindOf(err))
}
