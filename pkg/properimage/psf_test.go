package properimage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"properimage/pkg/fourier"
)

func psfTestParams() PSFParams {
	return NewParams().PSF
}

func TestEstimateRecoversGaussianPSF(t *testing.T) {
	stars := starField(256, 256, 32, 2e4, 1)
	px := SimulateFrame(SimulationParams{Width: 256, Height: 256, PSFSigma: 1.5, Background: 100, Noise: 5, Seed: 2}, stars)

	model, err := NewPSFEstimator(psfTestParams(), nil).Estimate(px, sourcesOf(stars))
	require.NoError(t, err)

	assert.Equal(t, 15, model.Size)
	assert.Len(t, model.Kernel, 15*15)
	assert.InDelta(t, 1.0, floats.Sum(model.Kernel), 1e-9)
	assert.Equal(t, len(stars), model.Stamps)
	assert.Zero(t, model.Rejected)
	assert.True(t, model.Converged)
	assert.Greater(t, model.Uncertainty, 0.0)

	truth := GaussianKernel(15, 1.5)
	assert.Less(t, maxAbsDiff(model.Kernel, truth), 0.005)
	assert.Equal(t, floats.MaxIdx(truth), floats.MaxIdx(model.Kernel))
	assert.Equal(t, floats.Max(model.Kernel), model.At(0, 0))

	require.NotNil(t, model.Shape)
	assert.InEpsilon(t, 1.5*sigmaToFWHM, model.Shape.FWHMPixels, 0.08)
	assert.NotEmpty(t, model.StarShapes)
}

func TestEstimateKernelIsNonNegative(t *testing.T) {
	stars := starField(128, 128, 32, 3000, 5)
	px := SimulateFrame(SimulationParams{Width: 128, Height: 128, PSFSigma: 1.2, Background: 10, Noise: 5, Seed: 6}, stars)

	model, err := NewPSFEstimator(psfTestParams(), nil).Estimate(px, sourcesOf(stars))
	require.NoError(t, err)
	for _, v := range model.Kernel {
		assert.GreaterOrEqual(t, v, 0.0)
	}
	assert.InDelta(t, 1.0, floats.Sum(model.Kernel), 1e-9)
}

func TestEstimateRejectsExtendedSourcesAndEdges(t *testing.T) {
	stars := starField(256, 256, 32, 2e4, 3)
	px := SimulateFrame(SimulationParams{Width: 256, Height: 256, PSFSigma: 1.5, Background: 100, Noise: 5, Seed: 4}, stars)
	galaxies := []StarSpec{{X: 48, Y: 48, Flux: 2e4}, {X: 208, Y: 176, Flux: 2e4}}
	for _, g := range galaxies {
		RenderStar(px, g, 4)
	}

	sources := sourcesOf(stars)
	sources = append(sources, sourcesOf(galaxies)...)
	sources = append(sources, Source{X: 3, Y: 100, Flux: 100})

	model, err := NewPSFEstimator(psfTestParams(), nil).Estimate(px, sources)
	require.NoError(t, err)
	assert.Equal(t, len(stars), model.Stamps)
	assert.Equal(t, 3, model.Rejected)
	assert.Less(t, maxAbsDiff(model.Kernel, GaussianKernel(15, 1.5)), 0.005)
}

func TestEstimateTooFewStamps(t *testing.T) {
	stars := []StarSpec{{X: 30, Y: 30, Flux: 1e4}, {X: 70, Y: 70, Flux: 1e4}}
	px := SimulateFrame(SimulationParams{Width: 100, Height: 100, PSFSigma: 1.5, Noise: 1, Seed: 1}, stars)
	px.Name = "sparse"

	_, err := NewPSFEstimator(psfTestParams(), nil).Estimate(px, sourcesOf(stars))
	require.ErrorIs(t, err, ErrPSFEstimation)

	var estErr *PSFEstimationError
	require.ErrorAs(t, err, &estErr)
	assert.Equal(t, "sparse", estErr.Input)
	assert.Equal(t, 2, estErr.Stamps)
}

func TestEstimateStrictNonConvergence(t *testing.T) {
	stars := starField(128, 128, 32, 5000, 8)
	px := SimulateFrame(SimulationParams{Width: 128, Height: 128, PSFSigma: 1.5, Background: 50, Noise: 5, Seed: 9}, stars)

	p := psfTestParams()
	p.MaxIterations = 1
	p.Tolerance = 1e-15

	model, err := NewPSFEstimator(p, nil).Estimate(px, sourcesOf(stars))
	require.NoError(t, err)
	assert.False(t, model.Converged)
	assert.Equal(t, 1, model.Iterations)

	p.Strict = true
	_, err = NewPSFEstimator(p, nil).Estimate(px, sourcesOf(stars))
	assert.ErrorIs(t, err, ErrPSFEstimation)
}

func TestEstimateSubsampleIsDeterministic(t *testing.T) {
	stars := starField(256, 256, 32, 1e4, 10)
	px := SimulateFrame(SimulationParams{Width: 256, Height: 256, PSFSigma: 1.5, Background: 20, Noise: 3, Seed: 11}, stars)

	p := psfTestParams()
	p.MaxStamps = 10
	a, err := NewPSFEstimator(p, nil).Estimate(px, sourcesOf(stars))
	require.NoError(t, err)
	b, err := NewPSFEstimator(p, nil).Estimate(px, sourcesOf(stars))
	require.NoError(t, err)

	assert.Equal(t, 10, a.Stamps)
	assert.Equal(t, a.Kernel, b.Kernel)
}

func TestEstimateValidatesParams(t *testing.T) {
	p := psfTestParams()
	p.StampSize = 14
	_, err := NewPSFEstimator(p, nil).Estimate(NewBlankPixelArray(50, 50), nil)
	assert.Error(t, err)
}

func TestAlignRecoversSubPixelOffset(t *testing.T) {
	e := NewPSFEstimator(psfTestParams(), nil)
	ctx := fourier.NewContext(15, 15)
	kernel := GaussianKernel(15, 1.5)
	gx, gy := ctx.Gradient(kernel)

	base := ctx.Shift(kernel, 0.4, -0.25)
	st := &stamp{base: base, data: append([]float64(nil), base...)}
	for i := 0; i < 6; i++ {
		e.align(st, kernel, gx, gy, ctx)
	}
	assert.InDelta(t, -0.4, st.shiftX, 0.01)
	assert.InDelta(t, 0.25, st.shiftY, 0.01)
	assert.Less(t, maxAbsDiff(st.data, kernel), 1e-4)
	assert.InDelta(t, 1.0, floats.Sum(st.data), 1e-9)
}
