package properimage

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"github.com/sgostarter/i/l"

	"properimage/pkg/fourier"
)

// coaddGoodness is the R² a combined PSF shape fit must reach to be kept.
const coaddGoodness = 0.9

// Coadder computes the optimal co-addition of a set of SingleImages.
type Coadder struct {
	p      EngineParams
	logger l.Wrapper
}

// NewCoadder creates a combination engine; a nil logger discards output.
func NewCoadder(p EngineParams, logger l.Wrapper) *Coadder {
	if logger == nil {
		logger = l.NewNopLoggerWrapper()
	}
	return &Coadder{
		p:      p,
		logger: logger.WithFields(l.StringField(l.ClsKey, "coadder")),
	}
}

type coaddTerm struct {
	image []complex128
	psf   []complex128
	err   error
}

// Combine co-adds images with weights F_i/σ_i² and their PSFs as matched
// filters. The combined image is in flux units with a zero point of 1.
func (c *Coadder) Combine(images []*SingleImage) (*CombinationResult, error) {
	if len(images) == 0 {
		return nil, &EmptyInputError{Input: "coadd"}
	}
	for i, img := range images {
		if img == nil {
			return nil, &EmptyInputError{Input: fmt.Sprintf("image %d", i)}
		}
	}
	if err := c.p.Validate(); err != nil {
		return nil, err
	}

	first := images[0]
	ksize := 0
	for _, img := range images {
		if img.Shape() != first.Shape() {
			return nil, &GridMismatchError{Input: img.Name(), Want: first.Shape(), Got: img.Shape()}
		}
		ksize = max(ksize, img.psf.Size)
	}

	w, h := first.pixels.Width, first.pixels.Height
	pw, ph := fourier.PaddedSize(w, ksize), fourier.PaddedSize(h, ksize)
	terms := c.transformAll(images, w, h, pw, ph)

	num := make([]complex128, pw*ph)
	den := make([]float64, pw*ph)
	var fc2 float64
	for i, img := range images {
		t := terms[i]
		if t.err != nil {
			return nil, t.err
		}
		weight := img.zeroPoint / img.noise.Variance
		power := img.zeroPoint * weight
		fc2 += power
		for k := range num {
			num[k] += complex(weight, 0) * cmplx.Conj(t.psf[k]) * t.image[k]
			a := cmplx.Abs(t.psf[k])
			den[k] += power * a * a
		}
	}

	var maxDen2 float64
	for _, v := range den {
		maxDen2 = math.Max(maxDen2, v)
	}
	eps := c.p.Regularization * maxDen2
	fc := math.Sqrt(fc2)

	combined := make([]complex128, len(num))
	psfHat := make([]complex128, len(num))
	for k, v := range den {
		d := math.Sqrt(v + eps)
		if d > 0 {
			combined[k] = num[k] / complex(d*fc, 0)
		}
		psfHat[k] = complex(d/fc, 0)
	}

	ctx := fourier.NewContext(pw, ph)
	data := fourier.Crop(ctx.Inverse(combined), pw, w, h)

	kernel := fourier.ExtractKernel(ctx.Inverse(psfHat), pw, ph, ksize)
	for i, v := range kernel {
		if v < 0 {
			kernel[i] = 0
		}
	}
	normalizeSum(kernel)

	stamps := 0
	for _, img := range images {
		stamps += img.psf.Stamps
	}
	psf := &PSFModel{
		Kernel:    kernel,
		Size:      ksize,
		Stamps:    stamps,
		Converged: true,
		Shape:     FitGaussianShape(kernel, ksize, coaddGoodness),
	}

	masks := make([][]bool, len(images))
	for i, img := range images {
		masks[i] = img.pixels.Mask
	}

	c.logger.WithFields(
		l.IntField("inputs", len(images)),
		l.IntField("paddedWidth", pw),
		l.IntField("paddedHeight", ph),
	).Debug("coadd computed")

	return &CombinationResult{
		Image:  PixelArray{Name: "coadd", Width: w, Height: h, Data: data, Mask: orMasks(masks...)},
		PSF:    psf,
		Noise:  1 / fc,
		FluxC:  fc,
		Inputs: len(images),
	}, nil
}

// transformAll pads and transforms every image and PSF on a worker pool.
// Each worker owns its transform context; results are stored by index.
func (c *Coadder) transformAll(images []*SingleImage, w, h, pw, ph int) []coaddTerm {
	terms := make([]coaddTerm, len(images))
	jobs := make(chan int, len(images))
	mode := c.p.PadMode()

	var wg sync.WaitGroup
	for n := 0; n < min(c.p.WorkerCount(), len(images)); n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := fourier.NewContext(pw, ph)
			for i := range jobs {
				img := images[i]
				psf := ctx.Forward(fourier.EmbedKernel(img.psf.Kernel, img.psf.Size, pw, ph))
				if m := fourier.MaxAbs(psf); !(m > degenerateSpectrum) {
					terms[i] = coaddTerm{err: &DegeneratePSFError{Input: img.Name(), MaxSpectrum: m}}
					continue
				}
				terms[i] = coaddTerm{
					image: ctx.Forward(fourier.Pad(img.backgroundSubtracted(), w, h, pw, ph, mode)),
					psf:   psf,
				}
			}
		}()
	}
	for i := range images {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return terms
}

// ToSingleImage wraps the combined image so it can serve as a reference.
func (r *CombinationResult) ToSingleImage() (*SingleImage, error) {
	noise := NoiseEstimate{
		Sigma:    r.Noise,
		Variance: r.Noise * r.Noise,
		Pixels:   r.Image.Width*r.Image.Height - r.Image.MaskedCount(),
	}
	return NewSingleImage(r.Image, noise, r.PSF, 1)
}
