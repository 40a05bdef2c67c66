package properimage

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"properimage/pkg/fourier"
)

// klBasis expands the aligned stamps on the eigenvectors of their Gram
// matrix and keeps the leading components holding at least 1-InfLoss of the
// total power. Each component gets a polynomial field fitted to the stamp
// projections at the stamp positions.
func (e *PSFEstimator) klBasis(stamps []*stamp, width, height int) []PSFBasisElement {
	n := len(stamps)
	npix := len(stamps[0].data)
	m := mat.NewDense(npix, n, nil)
	for k, st := range stamps {
		m.SetCol(k, st.data)
	}

	var gram mat.SymDense
	gram.SymOuterK(1, m.T())

	var eig mat.EigenSym
	if !eig.Factorize(&gram, true) {
		return nil
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	var total float64
	for _, v := range values {
		total += math.Max(v, 0)
	}
	if !(total > 0) {
		return nil
	}

	var basis []PSFBasisElement
	var kept float64
	for j := n - 1; j >= 0 && kept < 1-e.p.InfLoss; j-- {
		if !(values[j] > 0) {
			break
		}
		var b mat.VecDense
		b.MulVec(m, vectors.ColView(j))
		kernel := make([]float64, npix)
		mat.Col(kernel, 0, &b)
		floats.Scale(1/math.Sqrt(values[j]), kernel)
		// eigenvector signs are arbitrary; keep each kernel sum positive
		if floats.Sum(kernel) < 0 {
			floats.Scale(-1, kernel)
		}

		power := values[j] / total
		kept += power
		basis = append(basis, PSFBasisElement{Kernel: kernel, Power: power})
	}

	xs := make([]float64, n)
	ys := make([]float64, n)
	for k, st := range stamps {
		xs[k], ys[k] = st.source.X, st.source.Y
	}
	coeffs := make([]float64, n)
	for i := range basis {
		for k, st := range stamps {
			coeffs[k] = floats.Dot(basis[i].Kernel, st.data)
		}
		basis[i].Field = fitPolyField(xs, ys, coeffs, e.p.FieldDegree, width, height)
	}
	return basis
}

// polyTerms is the number of coefficients of a 2-D polynomial of a degree.
func polyTerms(degree int) int {
	return (degree + 1) * (degree + 2) / 2
}

// fitPolyField least-squares fits z(x, y) with the highest degree up to
// maxDegree that the sample count supports, dropping a degree whenever the
// design matrix is singular.
func fitPolyField(xs, ys, z []float64, maxDegree, width, height int) *PolyField {
	degree := maxDegree
	for degree > 0 && polyTerms(degree) > len(z) {
		degree--
	}

	rhs := mat.NewVecDense(len(z), append([]float64(nil), z...))
	for ; degree >= 0; degree-- {
		field := &PolyField{Degree: degree, Width: width, Height: height}
		terms := polyTerms(degree)
		a := mat.NewDense(len(z), terms, nil)
		for r := range z {
			u, v := scaleAxis(xs[r], width), scaleAxis(ys[r], height)
			c := 0
			for t := 0; t <= degree; t++ {
				for j := 0; j <= t; j++ {
					a.Set(r, c, math.Pow(u, float64(t-j))*math.Pow(v, float64(j)))
					c++
				}
			}
		}

		var sol mat.VecDense
		if err := sol.SolveVec(a, rhs); err != nil {
			continue
		}
		field.Coeffs = make([]float64, terms)
		for i := range field.Coeffs {
			field.Coeffs[i] = sol.AtVec(i)
		}
		return field
	}

	var mean float64
	if len(z) > 0 {
		mean = floats.Sum(z) / float64(len(z))
	}
	return &PolyField{Coeffs: []float64{mean}, Width: width, Height: height}
}

// KernelAt returns the unit-sum PSF at pixel (x, y). Without a basis it is a
// copy of the constant kernel.
func (p *PSFModel) KernelAt(x, y float64) []float64 {
	if len(p.Basis) == 0 {
		return append([]float64(nil), p.Kernel...)
	}
	out := make([]float64, len(p.Kernel))
	for _, b := range p.Basis {
		floats.AddScaled(out, b.Field.Eval(x, y), b.Kernel)
	}
	for i, v := range out {
		if v < 0 {
			out[i] = 0
		}
	}
	if !(normalizeSum(out) > 0) {
		return append([]float64(nil), p.Kernel...)
	}
	return out
}

// NormalizationImage is the sum over basis components of each coefficient
// field convolved with its kernel, zero outside the frame. For a constant
// PSF it is the unit field convolved with the kernel.
func (p *PSFModel) NormalizationImage(width, height int) PixelArray {
	pw, ph := fourier.PaddedSize(width, p.Size), fourier.PaddedSize(height, p.Size)
	ctx := fourier.NewContext(pw, ph)

	type component struct {
		kernel []float64
		field  func(x, y float64) float64
	}
	var parts []component
	if len(p.Basis) == 0 {
		parts = append(parts, component{kernel: p.Kernel, field: func(float64, float64) float64 { return 1 }})
	}
	for _, b := range p.Basis {
		parts = append(parts, component{kernel: b.Kernel, field: b.Field.Eval})
	}

	sum := make([]complex128, ctx.Len())
	grid := make([]float64, width*height)
	for _, c := range parts {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				grid[y*width+x] = c.field(float64(x), float64(y))
			}
		}
		fieldHat := ctx.Forward(fourier.Pad(grid, width, height, pw, ph, fourier.PadZero))
		kernelHat := ctx.Forward(fourier.EmbedKernel(c.kernel, p.Size, pw, ph))
		for i := range sum {
			sum[i] += fieldHat[i] * kernelHat[i]
		}
	}

	out := NewBlankPixelArray(width, height)
	out.Name = "normalization"
	copy(out.Data, fourier.Crop(ctx.Inverse(sum), pw, width, height))
	return out
}
