package properimage

import (
	"math"
	"math/cmplx"

	"github.com/sgostarter/i/l"
	"gonum.org/v1/gonum/floats"

	"properimage/pkg/fourier"
)

// degenerateSpectrum is the largest PSF spectrum modulus still treated as zero.
const degenerateSpectrum = 1e-12

// Subtractor computes optimal difference images between two SingleImages.
type Subtractor struct {
	p      EngineParams
	logger l.Wrapper
}

// NewSubtractor creates a subtraction engine; a nil logger discards output.
func NewSubtractor(p EngineParams, logger l.Wrapper) *Subtractor {
	if logger == nil {
		logger = l.NewNopLoggerWrapper()
	}
	return &Subtractor{
		p:      p,
		logger: logger.WithFields(l.StringField(l.ClsKey, "subtractor")),
	}
}

// Subtract computes the proper difference image D of n against r, its
// significance map and the matched-filter score.
func (s *Subtractor) Subtract(n, r *SingleImage) (*DifferenceResult, error) {
	if n == nil {
		return nil, &EmptyInputError{Input: "new"}
	}
	if r == nil {
		return nil, &EmptyInputError{Input: "reference"}
	}
	if err := s.p.Validate(); err != nil {
		return nil, err
	}
	if n.Shape() != r.Shape() {
		return nil, &GridMismatchError{Input: r.Name(), Want: n.Shape(), Got: r.Shape()}
	}

	w, h := n.pixels.Width, n.pixels.Height
	ksize := max(n.psf.Size, r.psf.Size)
	pw, ph := fourier.PaddedSize(w, ksize), fourier.PaddedSize(h, ksize)
	ctx := fourier.NewContext(pw, ph)
	mode := s.p.PadMode()

	pn := ctx.Forward(fourier.EmbedKernel(n.psf.Kernel, n.psf.Size, pw, ph))
	if m := fourier.MaxAbs(pn); !(m > degenerateSpectrum) {
		return nil, &DegeneratePSFError{Input: n.Name(), MaxSpectrum: m}
	}
	pr := ctx.Forward(fourier.EmbedKernel(r.psf.Kernel, r.psf.Size, pw, ph))
	if m := fourier.MaxAbs(pr); !(m > degenerateSpectrum) {
		return nil, &DegeneratePSFError{Input: r.Name(), MaxSpectrum: m}
	}

	nHat := ctx.Forward(fourier.Pad(n.backgroundSubtracted(), w, h, pw, ph, mode))
	rHat := ctx.Forward(fourier.Pad(r.backgroundSubtracted(), w, h, pw, ph, mode))

	fn, fr := n.zeroPoint, r.zeroPoint
	vn, vr := n.noise.Variance, r.noise.Variance

	den := make([]float64, len(pn))
	var maxDen2 float64
	for k := range den {
		an, ar := cmplx.Abs(pn[k]), cmplx.Abs(pr[k])
		den[k] = vn*fr*fr*ar*ar + vr*fn*fn*an*an
		maxDen2 = math.Max(maxDen2, den[k])
	}
	eps := s.p.Regularization * maxDen2
	for k := range den {
		den[k] = math.Sqrt(den[k] + eps)
	}

	fd := fr * fn / math.Sqrt(vn*fr*fr+vr*fn*fn)
	dHat := make([]complex128, len(den))
	pdHat := make([]complex128, len(den))
	sHat := make([]complex128, len(den))
	for k, d := range den {
		if d == 0 {
			continue
		}
		dHat[k] = (complex(fr, 0)*pr[k]*nHat[k] - complex(fn, 0)*pn[k]*rHat[k]) / complex(d, 0)
		pdHat[k] = complex(fr*fn/(fd*d), 0) * pr[k] * pn[k]
		sHat[k] = dHat[k] * cmplx.Conj(pdHat[k])
	}

	pd := ctx.Inverse(pdHat)
	psfNorm := floats.Norm(pd, 2)
	if !(psfNorm > 0) {
		return nil, &DegeneratePSFError{Input: n.Name() + "-" + r.Name(), MaxSpectrum: fourier.MaxAbs(pdHat)}
	}

	diff := fourier.Crop(ctx.Inverse(dHat), pw, w, h)
	corr := fourier.Crop(ctx.Inverse(sHat), pw, w, h)
	significance := make([]float64, len(corr))
	score := make([]float64, len(corr))
	for i, v := range corr {
		significance[i] = v / psfNorm
		score[i] = fd * v
	}

	mask := orMasks(n.pixels.Mask, r.pixels.Mask)
	kernel := fourier.ExtractKernel(pd, pw, ph, ksize)
	normalizeSum(kernel)

	s.logger.WithFields(
		l.StringField("new", n.Name()),
		l.StringField("reference", r.Name()),
		l.IntField("paddedWidth", pw),
		l.IntField("paddedHeight", ph),
	).Debug("difference computed")

	return &DifferenceResult{
		Difference:   PixelArray{Name: "difference", Width: w, Height: h, Data: diff, Mask: mask},
		Significance: PixelArray{Name: "significance", Width: w, Height: h, Data: significance, Mask: cloneMask(mask)},
		Score:        PixelArray{Name: "score", Width: w, Height: h, Data: score, Mask: cloneMask(mask)},
		PSF:          kernel,
		PSFSize:      ksize,
		FluxN:        fn,
		FluxR:        fr,
		FluxD:        fd,
		SigmaN:       n.noise.Sigma,
		SigmaR:       r.noise.Sigma,
		PSFNorm:      psfNorm,
	}, nil
}

// orMasks merges any number of masks; nil masks contribute nothing.
func orMasks(masks ...[]bool) []bool {
	var out []bool
	for _, m := range masks {
		if m == nil {
			continue
		}
		if out == nil {
			out = make([]bool, len(m))
		}
		for i, v := range m {
			out[i] = out[i] || v
		}
	}
	return out
}

func cloneMask(m []bool) []bool {
	if m == nil {
		return nil
	}
	return append([]bool(nil), m...)
}
