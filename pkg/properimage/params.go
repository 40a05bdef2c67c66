package properimage

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v2"

	"properimage/pkg/fourier"
)

/* Example params file ...

noise:
  clip_sigma: 3
  max_iterations: 5
psf:
  stamp_size: 21
  outlier_threshold: 0.4
  strict: true
engine:
  regularization: 1e-12
  padding: taper
  workers: 4
detection:
  threshold: 5

*/

// NoiseParams controls sigma-clipped background and noise estimation.
type NoiseParams struct {
	ClipSigma     float64 `yaml:"clip_sigma"`
	MaxIterations int     `yaml:"max_iterations"`
	Tolerance     float64 `yaml:"tolerance"`
	MinPixels     int     `yaml:"min_pixels"`
}

// CatalogParams controls how external detections are filtered.
type CatalogParams struct {
	Margin          int     `yaml:"margin"`
	MinSeparation   float64 `yaml:"min_separation"`
	SaturationLevel float64 `yaml:"saturation_level"`
	MaxSources      int     `yaml:"max_sources"`
	Seed            int64   `yaml:"seed"`
	// FluxPercentiles and SizePercentiles keep detections between the two
	// given percentiles of flux and pixel count. Empty disables the cut.
	FluxPercentiles []float64 `yaml:"flux_percentiles"`
	SizePercentiles []float64 `yaml:"size_percentiles"`
}

// PSFParams controls stamp extraction and iterative PSF refinement.
type PSFParams struct {
	StampSize        int     `yaml:"stamp_size"`
	OutlierThreshold float64 `yaml:"outlier_threshold"`
	ClipSigma        float64 `yaml:"clip_sigma"`
	Tolerance        float64 `yaml:"tolerance"`
	MaxIterations    int     `yaml:"max_iterations"`
	MinStamps        int     `yaml:"min_stamps"`
	MaxStamps        int     `yaml:"max_stamps"`
	Strict           bool    `yaml:"strict"`
	Seed             int64   `yaml:"seed"`
	FitShape         bool    `yaml:"fit_shape"`
	ShapeGoodness    float64 `yaml:"shape_goodness"`
	// KLBasis adds a Karhunen-Loeve basis with polynomial coefficient fields
	// for a spatially variable PSF. InfLoss is the fraction of stamp power
	// the truncated basis may discard.
	KLBasis     bool    `yaml:"kl_basis"`
	InfLoss     float64 `yaml:"inf_loss"`
	FieldDegree int     `yaml:"field_degree"`
}

// EngineParams controls the Fourier-domain subtraction and combination.
type EngineParams struct {
	Regularization float64 `yaml:"regularization"`
	Padding        string  `yaml:"padding"`
	Workers        int     `yaml:"workers"`
}

// PrepareParams controls masking and masked-pixel interpolation.
type PrepareParams struct {
	SaturationLevel float64 `yaml:"saturation_level"`
	CosmicRaySigma  float64 `yaml:"cosmic_ray_sigma"`
	CosmicRayObjLim float64 `yaml:"cosmic_ray_objlim"`
	FillMasked      bool    `yaml:"fill_masked"`
	FillKernelSize  int     `yaml:"fill_kernel_size"`
}

// DetectionParams controls transient extraction from a significance map.
type DetectionParams struct {
	Threshold float64 `yaml:"threshold"`
	MinPixels int     `yaml:"min_pixels"`
}

// Params aggregates every tunable of the pipeline.
type Params struct {
	Noise     NoiseParams     `yaml:"noise"`
	Catalog   CatalogParams   `yaml:"catalog"`
	PSF       PSFParams       `yaml:"psf"`
	Engine    EngineParams    `yaml:"engine"`
	Prepare   PrepareParams   `yaml:"prepare"`
	Detection DetectionParams `yaml:"detection"`
}

// NewParams creates a Params with default values.
func NewParams() *Params {
	return &Params{
		Noise: NoiseParams{
			ClipSigma:     3.0,
			MaxIterations: 5,
			Tolerance:     1e-4,
			MinPixels:     50,
		},
		Catalog: CatalogParams{
			Margin:        7,
			MinSeparation: 10.0,
			MaxSources:    0,
			Seed:          1,
		},
		PSF: PSFParams{
			StampSize:        15,
			OutlierThreshold: 0.5,
			ClipSigma:        3.0,
			Tolerance:        1e-3,
			MaxIterations:    10,
			MinStamps:        3,
			MaxStamps:        0,
			Strict:           false,
			Seed:             1,
			FitShape:         true,
			ShapeGoodness:    0.9,
			KLBasis:          false,
			InfLoss:          0.2,
			FieldDegree:      3,
		},
		Engine: EngineParams{
			Regularization: 1e-12,
			Padding:        fourier.PadZero.String(),
			Workers:        0,
		},
		Prepare: PrepareParams{
			CosmicRayObjLim: 4.0,
			FillMasked:      true,
			FillKernelSize:  5,
		},
		Detection: DetectionParams{
			Threshold: 5.0,
			MinPixels: 1,
		},
	}
}

// LoadParams reads a YAML file on top of the defaults.
func LoadParams(filename string) (*Params, error) {
	p := NewParams()
	contents, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read '%s': %w", filename, err)
	}
	if err := yaml.Unmarshal(contents, p); err != nil {
		return nil, fmt.Errorf("parse '%s': %w", filename, err)
	}
	return p, p.Finalize()
}

// AsYaml renders the parameters as a YAML document.
func (p *Params) AsYaml() (string, error) {
	b, err := yaml.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	return string(b), nil
}

// Finalize fills derived values and validates the result.
func (p *Params) Finalize() error {
	if p.Catalog.Margin <= 0 {
		p.Catalog.Margin = p.PSF.StampSize / 2
	}
	return p.Validate()
}

// Validate rejects parameter combinations the engines cannot run with.
func (p *Params) Validate() error {
	if err := p.Noise.Validate(); err != nil {
		return err
	}
	if err := p.PSF.Validate(); err != nil {
		return err
	}
	if err := p.Engine.Validate(); err != nil {
		return err
	}
	if p.Catalog.Margin < p.PSF.StampSize/2 {
		return fmt.Errorf("catalog margin %d is smaller than the stamp half-size %d", p.Catalog.Margin, p.PSF.StampSize/2)
	}
	if p.Catalog.MinSeparation < 0 {
		return fmt.Errorf("catalog min_separation must be non-negative, got %f", p.Catalog.MinSeparation)
	}
	if err := validatePercentiles("flux_percentiles", p.Catalog.FluxPercentiles); err != nil {
		return err
	}
	if err := validatePercentiles("size_percentiles", p.Catalog.SizePercentiles); err != nil {
		return err
	}
	if p.Prepare.CosmicRaySigma < 0 {
		return fmt.Errorf("cosmic_ray_sigma must be non-negative, got %f", p.Prepare.CosmicRaySigma)
	}
	if p.Prepare.FillMasked && (p.Prepare.FillKernelSize < 3 || p.Prepare.FillKernelSize%2 == 0) {
		return fmt.Errorf("fill_kernel_size must be an odd number >= 3, got %d", p.Prepare.FillKernelSize)
	}
	if p.Detection.Threshold <= 0 {
		return fmt.Errorf("detection threshold must be positive, got %f", p.Detection.Threshold)
	}
	return nil
}

func validatePercentiles(name string, q []float64) error {
	if len(q) == 0 {
		return nil
	}
	if len(q) != 2 || q[0] < 0 || q[1] > 100 || q[0] >= q[1] {
		return fmt.Errorf("catalog %s must be two increasing values in [0, 100], got %v", name, q)
	}
	return nil
}

func (p NoiseParams) Validate() error {
	if p.ClipSigma <= 0 {
		return fmt.Errorf("noise clip_sigma must be positive, got %f", p.ClipSigma)
	}
	if p.MaxIterations < 1 {
		return fmt.Errorf("noise max_iterations must be >= 1, got %d", p.MaxIterations)
	}
	if p.MinPixels < 1 {
		return fmt.Errorf("noise min_pixels must be >= 1, got %d", p.MinPixels)
	}
	return nil
}

func (p PSFParams) Validate() error {
	if p.StampSize < 5 || p.StampSize%2 == 0 {
		return fmt.Errorf("psf stamp_size must be an odd number >= 5, got %d", p.StampSize)
	}
	if p.OutlierThreshold <= 0 {
		return fmt.Errorf("psf outlier_threshold must be positive, got %f", p.OutlierThreshold)
	}
	if p.ClipSigma <= 0 {
		return fmt.Errorf("psf clip_sigma must be positive, got %f", p.ClipSigma)
	}
	if p.Tolerance <= 0 {
		return fmt.Errorf("psf tolerance must be positive, got %f", p.Tolerance)
	}
	if p.MaxIterations < 1 {
		return fmt.Errorf("psf max_iterations must be >= 1, got %d", p.MaxIterations)
	}
	if p.MinStamps < 1 {
		return fmt.Errorf("psf min_stamps must be >= 1, got %d", p.MinStamps)
	}
	if p.MaxStamps != 0 && p.MaxStamps < p.MinStamps {
		return fmt.Errorf("psf max_stamps %d is below min_stamps %d", p.MaxStamps, p.MinStamps)
	}
	if p.KLBasis {
		if p.InfLoss < 0 || p.InfLoss >= 1 {
			return fmt.Errorf("psf inf_loss must be in [0, 1), got %f", p.InfLoss)
		}
		if p.FieldDegree < 0 {
			return fmt.Errorf("psf field_degree must be non-negative, got %d", p.FieldDegree)
		}
	}
	return nil
}

func (p EngineParams) Validate() error {
	if p.Regularization < 0 {
		return fmt.Errorf("engine regularization must be non-negative, got %g", p.Regularization)
	}
	if _, ok := fourier.ParsePadMode(p.Padding); !ok {
		return fmt.Errorf("no padding mode named '%s'", p.Padding)
	}
	if p.Workers < 0 {
		return fmt.Errorf("engine workers must be non-negative, got %d", p.Workers)
	}
	return nil
}

// PadMode returns the configured padding mode, falling back to zero padding.
func (p EngineParams) PadMode() fourier.PadMode {
	m, _ := fourier.ParsePadMode(p.Padding)
	return m
}

// WorkerCount returns the configured worker count, defaulting to GOMAXPROCS.
func (p EngineParams) WorkerCount() int {
	if p.Workers > 0 {
		return p.Workers
	}
	return runtime.GOMAXPROCS(0)
}
