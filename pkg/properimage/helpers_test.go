package properimage

import (
	"math/rand"
)

// starField places stars on a regular grid with seeded sub-pixel jitter.
func starField(width, height, spacing int, flux float64, seed int64) []StarSpec {
	rng := rand.New(rand.NewSource(seed))
	var stars []StarSpec
	for y := spacing; y <= height-spacing; y += spacing {
		for x := spacing; x <= width-spacing; x += spacing {
			stars = append(stars, StarSpec{
				X:    float64(x) + rng.Float64() - 0.5,
				Y:    float64(y) + rng.Float64() - 0.5,
				Flux: flux,
			})
		}
	}
	return stars
}

func sourcesOf(stars []StarSpec) []Source {
	out := make([]Source, len(stars))
	for i, s := range stars {
		out[i] = Source{X: s.X, Y: s.Y, Flux: s.Flux}
	}
	return out
}

func detectionsOf(stars []StarSpec) []Detection {
	out := make([]Detection, len(stars))
	for i, s := range stars {
		out[i] = Detection{X: s.X, Y: s.Y, Flux: s.Flux}
	}
	return out
}

func maxAbsDiff(a, b []float64) float64 {
	var m float64
	for i := range a {
		d := a[i] - b[i]
		if d < 0 {
			d = -d
		}
		if d > m {
			m = d
		}
	}
	return m
}

// buildTestImage simulates a frame and runs the full single image build.
func buildTestImage(sim SimulationParams, stars []StarSpec, zeroPoint float64) (*SingleImage, error) {
	px := SimulateFrame(sim, stars)
	return BuildSingleImage(px, detectionsOf(stars), zeroPoint, NewParams(), nil)
}
