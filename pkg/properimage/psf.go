package properimage

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/sgostarter/i/l"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"properimage/pkg/fourier"
)

// maxStampShift bounds the per-iteration shift solved for a single stamp.
const maxStampShift = 1.0

// PSFEstimator builds a PSFModel from point-source stamps.
type PSFEstimator struct {
	p      PSFParams
	logger l.Wrapper
}

// NewPSFEstimator creates an estimator; a nil logger discards output.
func NewPSFEstimator(p PSFParams, logger l.Wrapper) *PSFEstimator {
	if logger == nil {
		logger = l.NewNopLoggerWrapper()
	}
	return &PSFEstimator{
		p:      p,
		logger: logger.WithFields(l.StringField(l.ClsKey, "psfEstimator")),
	}
}

type stamp struct {
	source Source
	base   []float64 // background subtracted, unit flux, centroid recentered
	data   []float64 // base after the accumulated refinement shift
	shiftX float64
	shiftY float64
}

// Estimate extracts stamps around sources, rejects outliers and iteratively
// aligns the survivors to their common stack.
func (e *PSFEstimator) Estimate(px PixelArray, sources []Source) (*PSFModel, error) {
	if err := px.Validate(); err != nil {
		return nil, err
	}
	if err := e.p.Validate(); err != nil {
		return nil, err
	}
	logger := e.logger.WithFields(l.StringField("image", px.label()))
	size := e.p.StampSize
	ctx := fourier.NewContext(size, size)

	stamps := make([]*stamp, 0, len(sources))
	rejected := 0
	for _, s := range e.subsample(sources) {
		st, reason := e.extract(px, s, ctx)
		if st == nil {
			rejected++
			logStampRejected(logger, s, reason)
			continue
		}
		stamps = append(stamps, st)
	}

	if len(stamps) >= e.p.MinStamps {
		median := medianStack(stamps, size*size)
		kept := stamps[:0]
		for _, st := range stamps {
			if relativeChange(st.base, median) > e.p.OutlierThreshold {
				rejected++
				logStampRejected(logger, st.source, "residual")
				continue
			}
			kept = append(kept, st)
		}
		stamps = kept
	}

	if len(stamps) < e.p.MinStamps {
		return nil, &PSFEstimationError{
			Input:  px.label(),
			Reason: "too few usable stamps",
			Stamps: len(stamps),
		}
	}

	kernel := e.stack(stamps)
	converged := false
	iterations := 0
	for iterations < e.p.MaxIterations {
		iterations++
		gx, gy := ctx.Gradient(kernel)
		for _, st := range stamps {
			e.align(st, kernel, gx, gy, ctx)
		}
		next := e.stack(stamps)
		change := relativeChange(next, kernel)
		kernel = next
		if change < e.p.Tolerance {
			converged = true
			break
		}
	}

	if !converged {
		if e.p.Strict {
			return nil, &PSFEstimationError{
				Input:      px.label(),
				Reason:     "refinement did not converge",
				Stamps:     len(stamps),
				Iterations: iterations,
			}
		}
		logger.WithFields(l.IntField("iterations", iterations), l.IntField("stamps", len(stamps))).
			Warn("psf refinement did not converge, using last estimate")
	}

	for i, v := range kernel {
		if v < 0 {
			kernel[i] = 0
		}
	}
	if !(normalizeSum(kernel) > 0) {
		return nil, &PSFEstimationError{Input: px.label(), Reason: "kernel has no positive flux", Stamps: len(stamps), Iterations: iterations}
	}

	model := &PSFModel{
		Kernel:      kernel,
		Size:        size,
		Uncertainty: stackUncertainty(stamps, size*size),
		Stamps:      len(stamps),
		Rejected:    rejected,
		Iterations:  iterations,
		Converged:   converged,
	}
	if e.p.FitShape {
		model.Shape = FitGaussianShape(kernel, size, e.p.ShapeGoodness)
		model.StarShapes = e.fitStarShapes(stamps)
	}
	if e.p.KLBasis {
		model.Basis = e.klBasis(stamps, px.Width, px.Height)
		logger.WithFields(l.IntField("components", len(model.Basis))).Debug("psf basis built")
	}

	logger.WithFields(
		l.IntField("stamps", model.Stamps),
		l.IntField("rejected", model.Rejected),
		l.IntField("iterations", model.Iterations),
	).Debug("psf estimated")
	return model, nil
}

func logStampRejected(logger l.Wrapper, s Source, reason string) {
	logger.WithFields(
		l.StringField("reason", reason),
		l.IntField("x", int(math.Round(s.X))),
		l.IntField("y", int(math.Round(s.Y))),
	).Warn("stamp rejected")
}

// subsample keeps a seeded random subset of at most MaxStamps sources in
// their original order.
func (e *PSFEstimator) subsample(sources []Source) []Source {
	if e.p.MaxStamps <= 0 || len(sources) <= e.p.MaxStamps {
		return sources
	}
	rng := rand.New(rand.NewSource(e.p.Seed))
	picked := rng.Perm(len(sources))[:e.p.MaxStamps]
	sort.Ints(picked)
	out := make([]Source, len(picked))
	for i, idx := range picked {
		out[i] = sources[idx]
	}
	return out
}

// extract cuts a background subtracted, unit-flux stamp around s and
// recenters it on its flux-weighted centroid. It returns a reason when the
// stamp is unusable.
func (e *PSFEstimator) extract(px PixelArray, s Source, ctx *fourier.Context) (*stamp, string) {
	size := e.p.StampSize
	half := size / 2
	x0 := int(math.Round(s.X)) - half
	y0 := int(math.Round(s.Y)) - half
	if x0 < 0 || y0 < 0 || x0+size > px.Width || y0+size > px.Height {
		return nil, "edge"
	}

	data := make([]float64, size*size)
	border := make([]float64, 0, 4*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := (y0+y)*px.Width + x0 + x
			if !px.Usable(i) {
				return nil, "masked"
			}
			v := px.Data[i]
			data[y*size+x] = v
			if x == 0 || y == 0 || x == size-1 || y == size-1 {
				border = append(border, v)
			}
		}
	}

	floats.AddConst(-medianFloat64(border), data)
	flux := floats.Sum(data)
	if !(flux > 0) {
		return nil, "flux"
	}
	floats.Scale(1/flux, data)

	peak := floats.MaxIdx(data)
	limit := float64(size) / 5
	if math.Abs(float64(peak%size-half)) > limit || math.Abs(float64(peak/size-half)) > limit {
		return nil, "off-center"
	}

	dx, dy, ok := stampCentroid(data, size)
	if !ok || math.Abs(dx) > 2 || math.Abs(dy) > 2 {
		return nil, "centroid"
	}

	base := ctx.Shift(data, -dx, -dy)
	normalizeSum(base)
	return &stamp{
		source: s,
		base:   base,
		data:   append([]float64(nil), base...),
	}, ""
}

// stampCentroid returns the offset of the flux-weighted centroid of the
// positive pixels inside the inscribed circle from the stamp center.
func stampCentroid(data []float64, size int) (float64, float64, bool) {
	half := size / 2
	r2 := float64(half * half)
	var sx, sy, sw float64
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := data[y*size+x]
			fx, fy := float64(x-half), float64(y-half)
			if v <= 0 || fx*fx+fy*fy > r2 {
				continue
			}
			sx += v * fx
			sy += v * fy
			sw += v
		}
	}
	if sw <= 0 {
		return 0, 0, false
	}
	return sx / sw, sy / sw, true
}

// align solves s ≈ a·P(x-dx, y-dy) linearized around the current kernel and
// moves the stamp by the solved offset.
func (e *PSFEstimator) align(st *stamp, kernel, gx, gy []float64, ctx *fourier.Context) {
	jtj := mat.NewSymDense(3, nil)
	jts := mat.NewVecDense(3, nil)
	cols := [3][]float64{kernel, gx, gy}
	signs := [3]float64{1, -1, -1}
	for a := 0; a < 3; a++ {
		for b := a; b < 3; b++ {
			jtj.SetSym(a, b, signs[a]*signs[b]*floats.Dot(cols[a], cols[b]))
		}
		jts.SetVec(a, signs[a]*floats.Dot(cols[a], st.data))
	}

	theta, ok := solveNormal(jtj, jts)
	if !ok || !(theta.AtVec(0) > 0) {
		return
	}
	amp := theta.AtVec(0)
	dx := clampLM(theta.AtVec(1)/amp, -maxStampShift, maxStampShift)
	dy := clampLM(theta.AtVec(2)/amp, -maxStampShift, maxStampShift)

	st.shiftX -= dx
	st.shiftY -= dy
	st.data = ctx.Shift(st.base, st.shiftX, st.shiftY)
	normalizeSum(st.data)
}

// stack combines stamps pixel by pixel with a sigma-clipped mean.
func (e *PSFEstimator) stack(stamps []*stamp) []float64 {
	n := len(stamps[0].data)
	out := make([]float64, n)
	column := make([]float64, len(stamps))
	for i := 0; i < n; i++ {
		for k, st := range stamps {
			column[k] = st.data[i]
		}
		out[i] = sigmaClippedMean(column, e.p.ClipSigma, 3)
	}
	return out
}

func medianStack(stamps []*stamp, n int) []float64 {
	out := make([]float64, n)
	column := make([]float64, len(stamps))
	for i := 0; i < n; i++ {
		for k, st := range stamps {
			column[k] = st.base[i]
		}
		out[i] = medianFloat64(column)
	}
	return out
}

// stackUncertainty is the mean per-pixel standard error of the stack.
func stackUncertainty(stamps []*stamp, n int) float64 {
	if len(stamps) < 2 {
		return 0
	}
	column := make([]float64, len(stamps))
	var total float64
	for i := 0; i < n; i++ {
		for k, st := range stamps {
			column[k] = st.data[i]
		}
		total += stat.StdDev(column, nil) / math.Sqrt(float64(len(stamps)))
	}
	return total / float64(n)
}

// fitStarShapes fits a Gaussian to every accepted stamp in parallel.
func (e *PSFEstimator) fitStarShapes(stamps []*stamp) []StarShape {
	shapes := make([]*GaussianShape, len(stamps))
	var wg sync.WaitGroup
	for i, st := range stamps {
		wg.Add(1)
		go func(i int, st *stamp) {
			defer wg.Done()
			shapes[i] = FitGaussianShape(st.data, e.p.StampSize, e.p.ShapeGoodness)
		}(i, st)
	}
	wg.Wait()

	out := make([]StarShape, 0, len(stamps))
	for i, shape := range shapes {
		if shape != nil {
			out = append(out, StarShape{Center: Point2d{X: stamps[i].source.X, Y: stamps[i].source.Y}, Shape: shape})
		}
	}
	return out
}
