package properimage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

// variableField renders stars whose Gaussian width grows linearly with x.
func variableField(width, height int, sigmaAt func(x float64) float64) (PixelArray, []StarSpec) {
	stars := starField(width, height, 32, 2e4, 21)
	px := SimulateFrame(SimulationParams{Width: width, Height: height, Background: 100, Noise: 5, Seed: 22}, nil)
	for _, s := range stars {
		RenderStar(px, s, sigmaAt(s.X))
	}
	return px, stars
}

func TestKLBasisFollowsVariablePSF(t *testing.T) {
	sigmaAt := func(x float64) float64 { return 1.2 + 0.8*x/256 }
	px, stars := variableField(256, 256, sigmaAt)

	p := psfTestParams()
	p.OutlierThreshold = 5
	p.KLBasis = true
	p.InfLoss = 0.001
	model, err := NewPSFEstimator(p, nil).Estimate(px, sourcesOf(stars))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(model.Basis), 2)

	var total float64
	for i, b := range model.Basis {
		require.NotNil(t, b.Field)
		assert.Len(t, b.Kernel, model.Size*model.Size)
		if i > 0 {
			assert.LessOrEqual(t, b.Power, model.Basis[i-1].Power)
		}
		total += b.Power
	}
	assert.LessOrEqual(t, total, 1+1e-9)
	assert.Equal(t, 3, model.Basis[0].Field.Degree)

	left := model.KernelAt(40, 128)
	right := model.KernelAt(216, 128)
	assert.InDelta(t, 1.0, floats.Sum(left), 1e-9)
	assert.InDelta(t, 1.0, floats.Sum(right), 1e-9)
	center := len(left) / 2
	assert.Greater(t, left[center], 1.3*right[center])
	assert.Less(t, maxAbsDiff(left, GaussianKernel(15, sigmaAt(40))), 0.015)
	assert.Less(t, maxAbsDiff(right, GaussianKernel(15, sigmaAt(216))), 0.015)

	norm := model.NormalizationImage(256, 256)
	assert.InDelta(t, 1.0, norm.At(128, 128), 0.05)
}

func TestKLBasisOfConstantPSFHasOneComponent(t *testing.T) {
	stars := starField(256, 256, 32, 2e4, 23)
	px := SimulateFrame(SimulationParams{Width: 256, Height: 256, PSFSigma: 1.5, Background: 100, Noise: 5, Seed: 24}, stars)

	p := psfTestParams()
	p.KLBasis = true
	model, err := NewPSFEstimator(p, nil).Estimate(px, sourcesOf(stars))
	require.NoError(t, err)
	require.Len(t, model.Basis, 1)
	assert.Greater(t, model.Basis[0].Power, 0.9)
	assert.Less(t, maxAbsDiff(model.KernelAt(100, 60), model.Kernel), 0.005)

	clone := model.clone()
	clone.Basis[0].Kernel[0] = 42
	clone.Basis[0].Field.Coeffs[0] = 42
	assert.NotEqual(t, 42.0, model.Basis[0].Kernel[0])
	assert.NotEqual(t, 42.0, model.Basis[0].Field.Coeffs[0])
}

func TestConstantPSFModelWithoutBasis(t *testing.T) {
	kernel := GaussianKernel(15, 1.5)
	model := &PSFModel{Kernel: kernel, Size: 15}

	assert.Equal(t, kernel, model.KernelAt(3, 4))

	norm := model.NormalizationImage(64, 48)
	assert.Equal(t, 64, norm.Width)
	assert.Equal(t, 48, norm.Height)
	assert.InDelta(t, 1.0, norm.At(32, 24), 1e-9)
	assert.Greater(t, norm.At(0, 0), 0.2)
	assert.Less(t, norm.At(0, 0), 0.6)
}

func TestFitPolyFieldRecoversPlane(t *testing.T) {
	var xs, ys, z []float64
	for y := 0.0; y < 100; y += 20 {
		for x := 0.0; x < 100; x += 20 {
			xs = append(xs, x)
			ys = append(ys, y)
			z = append(z, 2+0.03*x-0.01*y)
		}
	}
	field := fitPolyField(xs, ys, z, 3, 100, 100)
	assert.Equal(t, 3, field.Degree)
	assert.InDelta(t, 2+0.03*55-0.01*17, field.Eval(55, 17), 1e-9)

	pick := []int{0, 1, 5, 6}
	var fx, fy, fz []float64
	for _, i := range pick {
		fx, fy, fz = append(fx, xs[i]), append(fy, ys[i]), append(fz, z[i])
	}
	few := fitPolyField(fx, fy, fz, 3, 100, 100)
	assert.Equal(t, 1, few.Degree)
	assert.InDelta(t, 2+0.03*10-0.01*10, few.Eval(10, 10), 1e-9)
}
