package properimage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareFrameFillsNonFiniteAndSaturated(t *testing.T) {
	px := SimulateFrame(SimulationParams{Width: 32, Height: 32, Background: 100, Noise: 3, Seed: 1}, nil)
	px.Data[5*32+5] = math.NaN()
	px.Data[20*32+12] = 70000
	noise, err := EstimateNoise(px, NewParams().Noise)
	require.NoError(t, err)

	p := NewParams().Prepare
	p.SaturationLevel = 60000
	out, stats, err := PrepareFrame(px, p, noise, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.NonFinite)
	assert.Equal(t, 1, stats.Saturated)
	assert.Equal(t, 2, stats.Filled)
	assert.Zero(t, stats.Masked)
	assert.Nil(t, out.Mask)
	assert.InDelta(t, 100, out.Data[5*32+5], 6)
	assert.InDelta(t, 100, out.Data[20*32+12], 6)

	assert.True(t, math.IsNaN(px.Data[5*32+5]), "input must not be modified")
}

func TestPrepareFrameMasksCosmicRays(t *testing.T) {
	px := SimulateFrame(SimulationParams{Width: 64, Height: 64, PSFSigma: 1.5, Background: 100, Noise: 3, Seed: 2},
		[]StarSpec{{X: 40, Y: 40, Flux: 5000}})
	hot := 10*64 + 10
	px.Data[hot] += 500
	noise, err := EstimateNoise(px, NewParams().Noise)
	require.NoError(t, err)

	p := NewParams().Prepare
	p.CosmicRaySigma = 5
	out, stats, err := PrepareFrame(px, p, noise, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.CosmicRays)
	assert.Equal(t, 1, stats.Filled)
	assert.InDelta(t, 100, out.Data[hot], 15)
	assert.Equal(t, px.Data[40*64+40], out.Data[40*64+40], "star core must survive")
}

func TestPrepareFrameWithoutFillKeepsMask(t *testing.T) {
	px := SimulateFrame(SimulationParams{Width: 16, Height: 16, Background: 10, Noise: 1, Seed: 3}, nil)
	px.Mask = make([]bool, len(px.Data))
	px.Mask[3] = true
	px.Mask[77] = true
	noise, err := EstimateNoise(px, NoiseParams{ClipSigma: 3, MaxIterations: 5, MinPixels: 10})
	require.NoError(t, err)

	p := NewParams().Prepare
	p.FillMasked = false
	out, stats, err := PrepareFrame(px, p, noise, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Masked)
	assert.Zero(t, stats.Filled)
	assert.True(t, out.Mask[77])
}

func TestPrepareFrameLeavesWideHolesMasked(t *testing.T) {
	px := SimulateFrame(SimulationParams{Width: 48, Height: 48, Background: 10, Noise: 1, Seed: 4}, nil)
	px.Mask = make([]bool, len(px.Data))
	for y := 10; y < 30; y++ {
		for x := 10; x < 30; x++ {
			px.Mask[y*48+x] = true
		}
	}
	noise, err := EstimateNoise(px, NewParams().Noise)
	require.NoError(t, err)

	out, stats, err := PrepareFrame(px, NewParams().Prepare, noise, nil)
	require.NoError(t, err)
	assert.Greater(t, stats.Filled, 0)
	assert.Greater(t, stats.Masked, 0)
	assert.Equal(t, 400, stats.Filled+stats.Masked)
	assert.True(t, out.Mask[20*48+20])
	assert.False(t, out.Mask[10*48+10])
}
