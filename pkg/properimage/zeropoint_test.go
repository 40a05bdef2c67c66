package properimage

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolveZeroPointsRecoversScales(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	base := make([]Source, 40)
	for i := range base {
		base[i] = Source{X: rng.Float64() * 500, Y: rng.Float64() * 500, Flux: 1000 + rng.Float64()*9000}
	}
	truth := []float64{1, 0.5, 2.5}
	catalogs := make([][]Source, len(truth))
	for i, scale := range truth {
		cat := make([]Source, 0, len(base))
		// each frame loses a few stars and has a little astrometric jitter
		for j, s := range base {
			if (i+j)%9 == 0 {
				continue
			}
			cat = append(cat, Source{X: s.X + 0.2*rng.NormFloat64(), Y: s.Y + 0.2*rng.NormFloat64(), Flux: s.Flux * scale})
		}
		catalogs[i] = cat
	}

	sol, err := SolveZeroPoints(catalogs, 0, 1.5, nil)
	require.NoError(t, err)
	require.Len(t, sol.Scales, 3)
	assert.Equal(t, 1.0, sol.Scales[0])
	assert.InEpsilon(t, 0.5, sol.Scales[1], 1e-6)
	assert.InEpsilon(t, 2.5, sol.Scales[2], 1e-6)
	assert.Less(t, sol.Residual, 1e-6)
	assert.Greater(t, sol.Matches[1], 25)
	assert.Greater(t, sol.Stars, 25)
}

func TestSolveZeroPointsRelativeToOtherReference(t *testing.T) {
	ref := []Source{{X: 10, Y: 10, Flux: 100}, {X: 50, Y: 50, Flux: 300}}
	other := []Source{{X: 10.5, Y: 10, Flux: 400}, {X: 50, Y: 49.5, Flux: 1200}}

	sol, err := SolveZeroPoints([][]Source{other, ref}, 1, 2, nil)
	require.NoError(t, err)
	assert.InEpsilon(t, 4, sol.Scales[0], 1e-9)
	assert.Equal(t, 1.0, sol.Scales[1])
	assert.Equal(t, 1, sol.Reference)
}

func TestSolveZeroPointsErrors(t *testing.T) {
	_, err := SolveZeroPoints(nil, 0, 1, nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	cat := []Source{{X: 1, Y: 1, Flux: 1}}
	_, err = SolveZeroPoints([][]Source{cat}, 3, 1, nil)
	assert.Error(t, err)
	_, err = SolveZeroPoints([][]Source{cat}, 0, 0, nil)
	assert.Error(t, err)

	far := []Source{{X: 100, Y: 100, Flux: 1}}
	_, err = SolveZeroPoints([][]Source{cat, far}, 0, 1, nil)
	assert.ErrorIs(t, err, ErrEmptyCatalog)

	sol, err := SolveZeroPoints([][]Source{cat}, 0, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, sol.Scales)
}
