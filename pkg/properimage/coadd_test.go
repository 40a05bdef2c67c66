package properimage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func coaddInputs(t *testing.T, count int, noise float64) []*SingleImage {
	t.Helper()
	stars := []StarSpec{{X: 40, Y: 40, Flux: 2e4}, {X: 88, Y: 60, Flux: 1e4}}
	images := make([]*SingleImage, count)
	for i := range images {
		images[i] = exactImage(t, SimulationParams{
			Width: 128, Height: 96, PSFSigma: 1.5 + 0.2*float64(i%3), Background: 100, Noise: noise, Seed: int64(20 + i),
		}, stars, 1)
	}
	return images
}

func TestCombineNoiseScalesAsSqrtN(t *testing.T) {
	images := coaddInputs(t, 4, 10)

	res, err := NewCoadder(NewParams().Engine, nil).Combine(images)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Inputs)
	assert.InEpsilon(t, 5, res.Noise, 0.05)
	assert.InDelta(t, 1/res.FluxC, res.Noise, 1e-12)

	measured, err := EstimateNoise(res.Image, NewParams().Noise)
	require.NoError(t, err)
	assert.InEpsilon(t, 5, measured.Sigma, 0.1)
	assert.InDelta(t, 0, measured.Background, 0.5)
}

func TestCombinePreservesFlux(t *testing.T) {
	images := coaddInputs(t, 3, 5)

	res, err := NewCoadder(NewParams().Engine, nil).Combine(images)
	require.NoError(t, err)

	var sum float64
	for y := 40 - 8; y <= 40+8; y++ {
		for x := 40 - 8; x <= 40+8; x++ {
			sum += res.Image.At(x, y)
		}
	}
	assert.InEpsilon(t, 2e4, sum, 0.03)

	require.NotNil(t, res.PSF)
	assert.InDelta(t, 1.0, floats.Sum(res.PSF.Kernel), 1e-9)
	for _, v := range res.PSF.Kernel {
		assert.GreaterOrEqual(t, v, 0.0)
	}
	assert.Equal(t, 15, res.PSF.Size)
	assert.True(t, res.PSF.Converged)
}

func TestCombineIsIndependentOfWorkerCount(t *testing.T) {
	images := coaddInputs(t, 5, 8)

	serial := NewParams().Engine
	serial.Workers = 1
	parallel := NewParams().Engine
	parallel.Workers = 4

	a, err := NewCoadder(serial, nil).Combine(images)
	require.NoError(t, err)
	b, err := NewCoadder(parallel, nil).Combine(images)
	require.NoError(t, err)
	assert.Equal(t, a.Image.Data, b.Image.Data)
	assert.Equal(t, a.PSF.Kernel, b.PSF.Kernel)
}

func TestCombineSingleImage(t *testing.T) {
	images := coaddInputs(t, 1, 4)
	res, err := NewCoadder(NewParams().Engine, nil).Combine(images)
	require.NoError(t, err)
	assert.InDelta(t, images[0].Noise().Sigma, res.Noise, 1e-12)
}

func TestCombineToSingleImageServesAsReference(t *testing.T) {
	images := coaddInputs(t, 3, 6)
	res, err := NewCoadder(NewParams().Engine, nil).Combine(images)
	require.NoError(t, err)

	ref, err := res.ToSingleImage()
	require.NoError(t, err)
	assert.Equal(t, 1.0, ref.ZeroPoint())
	assert.Equal(t, res.Noise, ref.Noise().Sigma)
	assert.Equal(t, "coadd", ref.Name())

	diff, err := NewSubtractor(NewParams().Engine, nil).Subtract(images[0], ref)
	require.NoError(t, err)
	assert.Equal(t, images[0].Shape().X, diff.Difference.Width)
}

func TestCombineErrors(t *testing.T) {
	c := NewCoadder(NewParams().Engine, nil)

	_, err := c.Combine(nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	images := coaddInputs(t, 2, 4)
	_, err = c.Combine([]*SingleImage{images[0], nil})
	assert.ErrorIs(t, err, ErrEmptyInput)

	other := exactImage(t, SimulationParams{Width: 64, Height: 96, PSFSigma: 1.5, Noise: 4, Seed: 30}, nil, 1)
	_, err = c.Combine([]*SingleImage{images[0], other})
	assert.ErrorIs(t, err, ErrGridMismatch)

	flat, err := NewSingleImage(images[1].Pixels(), images[1].Noise(), &PSFModel{Kernel: make([]float64, 25), Size: 5}, 1)
	require.NoError(t, err)
	_, err = c.Combine([]*SingleImage{images[0], flat})
	assert.ErrorIs(t, err, ErrDegeneratePSF)
}
