/*
Extracted from HocusFocus plugin by George Hilios.
Original Copyright © 2021 George Hilios <ghilios+NINA@googlemail.com>
Licensed under Mozilla Public License 2.0.
Ported to Go.
*/

package properimage

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var sigmaToFWHM = 2.0 * math.Sqrt(2.0*math.Log(2.0))

// Gaussian model parameters: amplitude, background, x0, y0, sigma u, sigma v, theta.
const gaussianParams = 7

// FitGaussianShape fits a rotated 2D Gaussian to a centered size x size grid.
// It returns nil when the fit fails or its R² is below goodness.
func FitGaussianShape(grid []float64, size int, goodness float64) *GaussianShape {
	half := size / 2
	fit := gaussianFit{
		inputs:  make([][2]float64, 0, size*size),
		outputs: make([]float64, 0, size*size),
	}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			fit.inputs = append(fit.inputs, [2]float64{float64(x - half), float64(y - half)})
			fit.outputs = append(fit.outputs, grid[y*size+x])
		}
	}

	peak := floats.Max(fit.outputs)
	if !(peak > 0) {
		return nil
	}
	extent := float64(size)

	x0 := []float64{peak, 0, 0, 0, extent / 6, extent / 6, 0}
	lower := []float64{0, -peak, -extent / 4, -extent / 4, 0.1, 0.1, -math.Pi / 2}
	upper := []float64{10 * peak, peak, extent / 4, extent / 4, extent / 2, extent / 2, math.Pi / 2}
	scale := []float64{peak, peak, 0.1, 0.1, 1, 1, 1}

	solution := fit.levenbergMarquardt(x0, lower, upper, scale, 1e-10, 200)
	if solution == nil {
		return nil
	}

	sigX, sigY := solution[4], solution[5]
	if math.IsNaN(sigX) || math.IsNaN(sigY) {
		return nil
	}

	theta := euclidianModulus(solution[6], math.Pi)
	if theta > math.Pi/2.0 {
		theta -= math.Pi
	}
	theta = -theta
	if sigY > sigX {
		if theta < 0 {
			theta += math.Pi / 2.0
		} else {
			theta -= math.Pi / 2.0
		}
		sigX, sigY = sigY, sigX
	}

	rSquared := fit.rSquared(solution)
	if rSquared < goodness {
		return nil
	}
	return NewGaussianShape(solution[2], solution[3], solution[0], solution[1], sigX, sigY, theta, rSquared)
}

func euclidianModulus(x, y float64) float64 {
	return math.Mod(math.Mod(x, y)+y, y)
}

func gaussianValue(p []float64, in [2]float64) float64 {
	cosT, sinT := math.Cos(p[6]), math.Sin(p[6])
	dx, dy := in[0]-p[2], in[1]-p[3]
	u := dx*cosT + dy*sinT
	v := -dx*sinT + dy*cosT
	e := u*u/(2*p[4]*p[4]) + v*v/(2*p[5]*p[5])
	return p[1] + p[0]*math.Exp(-e)
}

func gaussianGradient(p []float64, in [2]float64, grad []float64) {
	amp := p[0]
	su, sv := p[4], p[5]
	cosT, sinT := math.Cos(p[6]), math.Sin(p[6])
	dx, dy := in[0]-p[2], in[1]-p[3]
	u := dx*cosT + dy*sinT
	v := -dx*sinT + dy*cosT
	su2, sv2 := su*su, sv*sv
	g := math.Exp(-(u*u/(2*su2) + v*v/(2*sv2)))

	grad[0] = g
	grad[1] = 1.0
	grad[2] = amp * (cosT*u/su2 - sinT*v/sv2) * g
	grad[3] = amp * (sinT*u/su2 + cosT*v/sv2) * g
	grad[4] = amp * u * u / (su2 * su) * g
	grad[5] = amp * v * v / (sv2 * sv) * g
	grad[6] = amp * u * v * (1.0/sv2 - 1.0/su2) * g
}

type gaussianFit struct {
	inputs  [][2]float64
	outputs []float64
}

func (f *gaussianFit) residuals(p, r []float64) float64 {
	for k, in := range f.inputs {
		r[k] = gaussianValue(p, in) - f.outputs[k]
	}
	return floats.Dot(r, r)
}

func (f *gaussianFit) jacobian(p []float64, jac *mat.Dense) {
	grad := make([]float64, gaussianParams)
	for k, in := range f.inputs {
		gaussianGradient(p, in, grad)
		jac.SetRow(k, grad)
	}
}

func (f *gaussianFit) rSquared(p []float64) float64 {
	yBar := floats.Sum(f.outputs) / float64(len(f.outputs))
	var tss, rss float64
	for k, in := range f.inputs {
		res := gaussianValue(p, in) - f.outputs[k]
		disp := f.outputs[k] - yBar
		rss += res * res
		tss += disp * disp
	}
	if tss > 0 {
		return 1.0 - rss/tss
	}
	return 0.0
}

// levenbergMarquardt minimizes the squared residuals within box bounds,
// damping the normal equations with lambda*scale².
func (f *gaussianFit) levenbergMarquardt(x0, lower, upper, scale []float64, tolerance float64, maxIter int) []float64 {
	n, m := len(x0), len(f.inputs)

	x := make([]float64, n)
	for j := range x0 {
		x[j] = clampLM(x0[j], lower[j], upper[j])
	}

	r := make([]float64, m)
	rNew := make([]float64, m)
	xNew := make([]float64, n)
	jac := mat.NewDense(m, n, nil)

	cost := f.residuals(x, r)
	f.jacobian(x, jac)

	lambda, nu := 1e-3, 2.0
	jtj := mat.NewSymDense(n, nil)
	jtr := mat.NewVecDense(n, nil)

	for iter := 0; iter < maxIter; iter++ {
		jtj.SymOuterK(1, jac.T())
		jtr.MulVec(jac.T(), mat.NewVecDense(m, r))
		if mat.Norm(jtr, 2) < tolerance*cost {
			break
		}

		for tries := 0; tries < 20; tries++ {
			damped := mat.NewSymDense(n, nil)
			damped.CopySym(jtj)
			for i := 0; i < n; i++ {
				damped.SetSym(i, i, damped.At(i, i)+lambda*scale[i]*scale[i])
			}

			dx, ok := solveNormal(damped, jtr)
			if !ok {
				lambda *= nu
				continue
			}
			for j := range x {
				xNew[j] = clampLM(x[j]-dx.AtVec(j), lower[j], upper[j])
			}

			costNew := f.residuals(xNew, rNew)
			if costNew < cost {
				improvement := (cost - costNew) / cost
				copy(x, xNew)
				copy(r, rNew)
				cost = costNew
				lambda = math.Max(lambda/3.0, 1e-15)
				nu = 2.0
				f.jacobian(x, jac)
				if improvement < tolerance {
					return x
				}
				break
			}
			lambda *= nu
			nu *= 2.0
			if lambda > 1e16 {
				return x
			}
		}
	}
	return x
}

// solveNormal solves a symmetric positive definite system a*x = b.
func solveNormal(a *mat.SymDense, b mat.Vector) (*mat.VecDense, bool) {
	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return nil, false
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, b); err != nil {
		return nil, false
	}
	return &x, true
}

func clampLM(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
