/*
Extracted from HocusFocus plugin by George Hilios.
Original Copyright © 2021 George Hilios <ghilios+NINA@googlemail.com>
Licensed under Mozilla Public License 2.0.
Ported to Go.
*/

package properimage

import (
	"fmt"
	"image"
	"math"
)

// Point2d represents a 2D point with float64 coordinates.
type Point2d struct {
	X, Y float64
}

// SourceFlag carries the quality bits of an external detection.
type SourceFlag uint32

const (
	FlagNone      SourceFlag = 0
	FlagBlended   SourceFlag = 1 << 0
	FlagSaturated SourceFlag = 1 << 1
	FlagTruncated SourceFlag = 1 << 2
	FlagBadPixels SourceFlag = 1 << 3
)

// Detection is one externally supplied point-source candidate.
type Detection struct {
	X, Y      float64
	Flux      float64
	Peak      float64
	Pixels    int
	Flags     SourceFlag
	Saturated bool
}

// Source is a validated catalog entry used for PSF fitting.
type Source struct {
	X, Y  float64
	Flux  float64
	Flags SourceFlag
}

func (s Source) String() string {
	return fmt.Sprintf("{X=%f, Y=%f, Flux=%f, Flags=%d}", s.X, s.Y, s.Flux, s.Flags)
}

// NoiseEstimate is the robust background level and noise of a frame.
type NoiseEstimate struct {
	Background float64
	Sigma      float64
	Variance   float64
	Pixels     int
	Iterations int
}

func (n NoiseEstimate) String() string {
	return fmt.Sprintf("{Background=%f, Sigma=%f, Pixels=%d, Iterations=%d}", n.Background, n.Sigma, n.Pixels, n.Iterations)
}

// GaussianShape contains the result of a 2D Gaussian fit to a PSF or stamp.
type GaussianShape struct {
	OffsetX      float64
	OffsetY      float64
	Peak         float64
	Background   float64
	SigmaX       float64
	SigmaY       float64
	Sigma        float64
	FWHMx        float64
	FWHMy        float64
	FWHMPixels   float64
	ThetaRadians float64
	Eccentricity float64
	RSquared     float64
}

// NewGaussianShape creates a GaussianShape with computed derived fields.
func NewGaussianShape(offsetX, offsetY, peak, background, sigmaX, sigmaY, thetaRadians, rSquared float64) *GaussianShape {
	fwhmX := sigmaX * sigmaToFWHM
	fwhmY := sigmaY * sigmaToFWHM
	a := math.Max(fwhmX, fwhmY)
	b := math.Min(fwhmX, fwhmY)

	return &GaussianShape{
		OffsetX:      offsetX,
		OffsetY:      offsetY,
		Peak:         peak,
		Background:   background,
		SigmaX:       sigmaX,
		SigmaY:       sigmaY,
		Sigma:        math.Sqrt(sigmaX * sigmaY),
		FWHMx:        fwhmX,
		FWHMy:        fwhmY,
		FWHMPixels:   math.Sqrt(fwhmX * fwhmY),
		ThetaRadians: thetaRadians,
		Eccentricity: math.Sqrt(1 - b*b/(a*a)),
		RSquared:     rSquared,
	}
}

func (g *GaussianShape) String() string {
	return fmt.Sprintf("{SigmaX=%f, SigmaY=%f, FWHMx=%f, FWHMy=%f, FWHMPixels=%f, Eccentricity=%f, RSquared=%f}",
		g.SigmaX, g.SigmaY, g.FWHMx, g.FWHMy, g.FWHMPixels, g.Eccentricity, g.RSquared)
}

// StarShape ties a Gaussian fit to the stamp position it came from.
type StarShape struct {
	Center Point2d
	Shape  *GaussianShape
}

// PSFModel is a normalized, centered, odd-sized kernel estimated from stamps.
type PSFModel struct {
	Kernel      []float64
	Size        int
	Uncertainty float64
	Stamps      int
	Rejected    int
	Iterations  int
	Converged   bool
	Shape       *GaussianShape
	StarShapes  []StarShape
	// Basis is the optional Karhunen-Loeve expansion of the stamps, ordered
	// by decreasing power. Empty means the PSF is constant over the frame.
	Basis []PSFBasisElement
}

// PSFBasisElement is one orthonormal PSF component and the polynomial field
// giving its coefficient across the frame.
type PSFBasisElement struct {
	Kernel []float64
	Power  float64
	Field  *PolyField
}

// PolyField is a 2-D polynomial in frame coordinates scaled to [-1, 1].
// Coefficients are ordered by total degree, then by increasing power of y.
type PolyField struct {
	Degree int
	Coeffs []float64
	Width  int
	Height int
}

// Eval returns the field value at pixel (x, y).
func (f *PolyField) Eval(x, y float64) float64 {
	u, v := scaleAxis(x, f.Width), scaleAxis(y, f.Height)
	var sum float64
	k := 0
	for t := 0; t <= f.Degree; t++ {
		for j := 0; j <= t; j++ {
			sum += f.Coeffs[k] * math.Pow(u, float64(t-j)) * math.Pow(v, float64(j))
			k++
		}
	}
	return sum
}

func scaleAxis(p float64, n int) float64 {
	if n <= 1 {
		return 0
	}
	half := float64(n-1) / 2
	return (p - half) / half
}

// At returns the kernel value at offset (dx, dy) from the center.
func (p *PSFModel) At(dx, dy int) float64 {
	half := p.Size / 2
	return p.Kernel[(dy+half)*p.Size+dx+half]
}

func (p *PSFModel) clone() *PSFModel {
	c := *p
	c.Kernel = append([]float64(nil), p.Kernel...)
	c.StarShapes = append([]StarShape(nil), p.StarShapes...)
	if p.Basis != nil {
		c.Basis = make([]PSFBasisElement, len(p.Basis))
		for i, b := range p.Basis {
			c.Basis[i] = PSFBasisElement{Kernel: append([]float64(nil), b.Kernel...), Power: b.Power}
			if b.Field != nil {
				field := *b.Field
				field.Coeffs = append([]float64(nil), b.Field.Coeffs...)
				c.Basis[i].Field = &field
			}
		}
	}
	return &c
}

func (p *PSFModel) String() string {
	return fmt.Sprintf("{Size=%d, Stamps=%d, Rejected=%d, Iterations=%d, Converged=%t, Uncertainty=%g, Basis=%d, Shape=%v}",
		p.Size, p.Stamps, p.Rejected, p.Iterations, p.Converged, p.Uncertainty, len(p.Basis), p.Shape)
}

// DifferenceResult is the output of an optimal subtraction.
type DifferenceResult struct {
	Difference   PixelArray
	Significance PixelArray
	Score        PixelArray
	PSF          []float64
	PSFSize      int
	FluxN        float64
	FluxR        float64
	FluxD        float64
	SigmaN       float64
	SigmaR       float64
	PSFNorm      float64
}

// CombinationResult is the output of an optimal co-addition.
type CombinationResult struct {
	Image  PixelArray
	PSF    *PSFModel
	Noise  float64
	FluxC  float64
	Inputs int
}

// Transient is a connected region of the significance map above threshold.
type Transient struct {
	Center Point2d
	Peak   float64
	Pixels int
	Bounds image.Rectangle
}

func (t Transient) String() string {
	return fmt.Sprintf("{Center=(%f,%f), Peak=%f, Pixels=%d, Bounds=%v}", t.Center.X, t.Center.Y, t.Peak, t.Pixels, t.Bounds)
}

// ZonePosition identifies a zone in the 3x3 field grid.
type ZonePosition int

const (
	ZoneTopLeft ZonePosition = iota
	ZoneTop
	ZoneTopRight
	ZoneLeft
	ZoneCenter
	ZoneRight
	ZoneBottomLeft
	ZoneBottom
	ZoneBottomRight
)

// ZoneData holds per-zone PSF statistics.
type ZoneData struct {
	Label              string
	MedianFWHM         float64
	MedianEccentricity float64
	StarCount          int
}

// FieldAnalysis holds the result of the 3x3 PSF variation analysis.
type FieldAnalysis struct {
	Zones       map[ZonePosition]ZoneData
	TiltPct     float64
	OffAxisPct  float64
	BestCorner  string
	WorstCorner string
	Reliable    bool
}
