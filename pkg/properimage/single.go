package properimage

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/sgostarter/i/l"
)

// SingleImage couples one prepared frame with its noise, PSF and zero point.
// It is immutable: accessors hand out copies.
type SingleImage struct {
	pixels    PixelArray
	noise     NoiseEstimate
	psf       *PSFModel
	zeroPoint float64
}

// NewSingleImage validates and takes a private copy of its inputs.
func NewSingleImage(px PixelArray, noise NoiseEstimate, psf *PSFModel, zeroPoint float64) (*SingleImage, error) {
	if err := px.Validate(); err != nil {
		return nil, err
	}
	if !(noise.Variance > 0) || !(noise.Sigma > 0) {
		return nil, &InsufficientDataError{Input: px.label(), What: "noise variance", Have: 0, Need: 1}
	}
	if psf == nil {
		return nil, &PSFEstimationError{Input: px.label(), Reason: "no psf model"}
	}
	if psf.Size < 1 || psf.Size%2 == 0 || len(psf.Kernel) != psf.Size*psf.Size {
		return nil, fmt.Errorf("%s: psf kernel must be odd-sized and square, got size %d with %d values", px.label(), psf.Size, len(psf.Kernel))
	}
	if !(zeroPoint > 0) || math.IsInf(zeroPoint, 0) {
		return nil, fmt.Errorf("%s: zero point must be positive and finite, got %g", px.label(), zeroPoint)
	}
	return &SingleImage{
		pixels:    px.Clone(),
		noise:     noise,
		psf:       psf.clone(),
		zeroPoint: zeroPoint,
	}, nil
}

func (s *SingleImage) Name() string         { return s.pixels.label() }
func (s *SingleImage) Shape() image.Point   { return s.pixels.Shape() }
func (s *SingleImage) Noise() NoiseEstimate { return s.noise }
func (s *SingleImage) ZeroPoint() float64   { return s.zeroPoint }
func (s *SingleImage) Pixels() PixelArray   { return s.pixels.Clone() }
func (s *SingleImage) PSF() *PSFModel       { return s.psf.clone() }

func (s *SingleImage) String() string {
	return fmt.Sprintf("{Name=%s, Shape=%v, Noise=%v, ZeroPoint=%g, PSF=%v}", s.Name(), s.Shape(), s.noise, s.zeroPoint, s.psf)
}

// backgroundSubtracted returns the data minus the background level, with
// masked and non-finite pixels set to zero.
func (s *SingleImage) backgroundSubtracted() []float64 {
	out := make([]float64, len(s.pixels.Data))
	for i, v := range s.pixels.Data {
		if s.pixels.Usable(i) {
			out[i] = v - s.noise.Background
		}
	}
	return out
}

// Frame is the raw input for one image of a pipeline run.
type Frame struct {
	Pixels     PixelArray
	Detections []Detection
	ZeroPoint  float64
}

// BuildSingleImage runs preparation, noise estimation, catalog filtering and
// PSF estimation on one frame.
func BuildSingleImage(px PixelArray, dets []Detection, zeroPoint float64, p *Params, logger l.Wrapper) (*SingleImage, error) {
	if logger == nil {
		logger = l.NewNopLoggerWrapper()
	}
	if p == nil {
		p = NewParams()
	}

	noise, err := EstimateNoise(px, p.Noise)
	if err != nil {
		return nil, err
	}

	prepared, stats, err := PrepareFrame(px, p.Prepare, noise, logger)
	if err != nil {
		return nil, err
	}
	logger.WithFields(
		l.StringField("image", px.label()),
		l.IntField("saturated", stats.Saturated),
		l.IntField("cosmicRays", stats.CosmicRays),
		l.IntField("filled", stats.Filled),
	).Debug("frame prepared")

	sources, err := FilterCatalog(dets, px.Width, px.Height, p.Catalog, logger)
	if err != nil {
		var empty *EmptyCatalogError
		if errors.As(err, &empty) {
			empty.Input = px.label()
		}
		return nil, err
	}

	psf, err := NewPSFEstimator(p.PSF, logger).Estimate(prepared, sources)
	if err != nil {
		return nil, err
	}

	return NewSingleImage(prepared, noise, psf, zeroPoint)
}

// BuildSingleImages builds every frame on a bounded worker pool. The first
// error in input order is returned.
func BuildSingleImages(frames []Frame, p *Params, logger l.Wrapper) ([]*SingleImage, error) {
	if len(frames) == 0 {
		return nil, &EmptyInputError{Input: "frames"}
	}
	if p == nil {
		p = NewParams()
	}

	type buildResult struct {
		image *SingleImage
		err   error
	}
	results := make([]buildResult, len(frames))
	jobs := make(chan int, len(frames))

	var wg sync.WaitGroup
	for w := 0; w < min(p.Engine.WorkerCount(), len(frames)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				f := frames[i]
				img, err := BuildSingleImage(f.Pixels, f.Detections, f.ZeroPoint, p, logger)
				results[i] = buildResult{image: img, err: err}
			}
		}()
	}
	for i := range frames {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	images := make([]*SingleImage, len(frames))
	for i, r := range results {
		if r.err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, r.err)
		}
		images[i] = r.image
	}
	return images, nil
}
