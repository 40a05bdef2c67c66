package properimage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSingleImage(t *testing.T) {
	stars := starField(160, 160, 32, 1e4, 1)
	img, err := buildTestImage(SimulationParams{Width: 160, Height: 160, PSFSigma: 1.5, Background: 200, Noise: 4, Seed: 2}, stars, 1.3)
	require.NoError(t, err)

	assert.Equal(t, 1.3, img.ZeroPoint())
	assert.InDelta(t, 200, img.Noise().Background, 1)
	assert.InEpsilon(t, 4, img.Noise().Sigma, 0.1)
	assert.Equal(t, len(stars), img.PSF().Stamps)
	assert.Less(t, maxAbsDiff(img.PSF().Kernel, GaussianKernel(15, 1.5)), 0.01)
}

func TestBuildSingleImageFillsMaskedPixels(t *testing.T) {
	stars := starField(160, 160, 32, 1e4, 3)
	px := SimulateFrame(SimulationParams{Width: 160, Height: 160, PSFSigma: 1.5, Background: 50, Noise: 3, Seed: 4}, stars)
	px.Data[5*160+100] = math.NaN()

	img, err := BuildSingleImage(px, detectionsOf(stars), 1, NewParams(), nil)
	require.NoError(t, err)
	assert.Zero(t, img.Pixels().MaskedCount())
	assert.False(t, math.IsNaN(img.Pixels().Data[5*160+100]))
}

func TestBuildSingleImageEmptyCatalogNamesFrame(t *testing.T) {
	px := SimulateFrame(SimulationParams{Width: 64, Height: 64, Noise: 2, Seed: 5}, nil)
	px.Name = "night-1"

	_, err := BuildSingleImage(px, []Detection{{X: 1, Y: 1, Flux: 10}}, 1, nil, nil)
	require.ErrorIs(t, err, ErrEmptyCatalog)
	var empty *EmptyCatalogError
	require.ErrorAs(t, err, &empty)
	assert.Equal(t, "night-1", empty.Input)
}

func TestBuildSingleImagesReportsFirstFailure(t *testing.T) {
	stars := starField(128, 128, 32, 1e4, 6)
	sim := SimulationParams{Width: 128, Height: 128, PSFSigma: 1.5, Background: 10, Noise: 3}
	frames := make([]Frame, 4)
	for i := range frames {
		sim.Seed = int64(10 + i)
		frames[i] = Frame{Pixels: SimulateFrame(sim, stars), Detections: detectionsOf(stars), ZeroPoint: 1}
	}

	images, err := BuildSingleImages(frames, NewParams(), nil)
	require.NoError(t, err)
	require.Len(t, images, 4)
	for _, img := range images {
		assert.Equal(t, len(stars), img.PSF().Stamps)
	}

	frames[2].Detections = nil
	frames[3].ZeroPoint = 0
	_, err = BuildSingleImages(frames, NewParams(), nil)
	require.ErrorIs(t, err, ErrEmptyCatalog)
	assert.ErrorContains(t, err, "frame 2")

	_, err = BuildSingleImages(nil, nil, nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}
