package properimage

import (
	"fmt"
	"math"

	"github.com/sgostarter/i/l"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ZeroPointSolution holds relative flux scales of a set of images.
type ZeroPointSolution struct {
	Scales    []float64
	Matches   []int
	Stars     int
	Residual  float64
	Reference int
}

// SolveZeroPoints matches each catalog to the reference catalog by mutual
// nearest neighbour within radius and solves log f_ij = log F_i + log m_j in
// the least-squares sense, with F fixed to 1 for the reference.
func SolveZeroPoints(catalogs [][]Source, reference int, radius float64, logger l.Wrapper) (*ZeroPointSolution, error) {
	if len(catalogs) == 0 {
		return nil, &EmptyInputError{Input: "catalogs"}
	}
	if reference < 0 || reference >= len(catalogs) {
		return nil, fmt.Errorf("reference index %d out of range [0, %d)", reference, len(catalogs))
	}
	if !(radius > 0) {
		return nil, fmt.Errorf("match radius must be positive, got %g", radius)
	}
	if logger == nil {
		logger = l.NewNopLoggerWrapper()
	}
	logger = logger.WithFields(l.StringField(l.ClsKey, "zeroPoints"))

	type observation struct {
		image, star int
		logFlux     float64
	}

	ref := catalogs[reference]
	starIndex := make(map[int]int)
	var stars []int
	var obs []observation
	matches := make([]int, len(catalogs))
	for i, cat := range catalogs {
		if i == reference {
			continue
		}
		pairs := mutualNearest(cat, ref, radius)
		if len(pairs) == 0 {
			return nil, &EmptyCatalogError{Input: fmt.Sprintf("catalog %d", i), Total: len(cat)}
		}
		matches[i] = len(pairs)
		for _, pr := range pairs {
			if _, ok := starIndex[pr[1]]; !ok {
				starIndex[pr[1]] = len(stars)
				stars = append(stars, pr[1])
			}
			obs = append(obs, observation{image: i, star: pr[1], logFlux: math.Log(cat[pr[0]].Flux)})
		}
	}
	matches[reference] = len(stars)
	for _, j := range stars {
		obs = append(obs, observation{image: reference, star: j, logFlux: math.Log(ref[j].Flux)})
	}
	if len(catalogs) == 1 {
		return &ZeroPointSolution{Scales: []float64{1}, Matches: matches, Reference: reference}, nil
	}

	// Unknowns: log F for every non-reference image, then log m per star.
	imageCol := make([]int, len(catalogs))
	col := 0
	for i := range catalogs {
		if i == reference {
			imageCol[i] = -1
			continue
		}
		imageCol[i] = col
		col++
	}
	unknowns := col + len(stars)

	a := mat.NewDense(len(obs), unknowns, nil)
	b := mat.NewVecDense(len(obs), nil)
	for row, o := range obs {
		if c := imageCol[o.image]; c >= 0 {
			a.Set(row, c, 1)
		}
		a.Set(row, col+starIndex[o.star], 1)
		b.SetVec(row, o.logFlux)
	}

	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return nil, fmt.Errorf("solve zero points: %w", err)
	}

	var fitted mat.VecDense
	fitted.MulVec(a, &x)
	residuals := make([]float64, len(obs))
	floats.SubTo(residuals, b.RawVector().Data, fitted.RawVector().Data)

	scales := make([]float64, len(catalogs))
	for i := range catalogs {
		if c := imageCol[i]; c >= 0 {
			scales[i] = math.Exp(x.AtVec(c))
		} else {
			scales[i] = 1
		}
	}

	solution := &ZeroPointSolution{
		Scales:    scales,
		Matches:   matches,
		Stars:     len(stars),
		Residual:  floats.Norm(residuals, 2) / math.Sqrt(float64(len(residuals))),
		Reference: reference,
	}
	logger.WithFields(
		l.IntField("images", len(catalogs)),
		l.IntField("stars", solution.Stars),
	).Debug("zero points solved")
	return solution, nil
}

// mutualNearest returns (index in a, index in b) pairs whose members are
// each other's nearest neighbour within radius.
func mutualNearest(a, b []Source, radius float64) [][2]int {
	nearestIn := func(s Source, set []Source) int {
		best, bestD2 := -1, radius*radius
		for j, t := range set {
			dx, dy := s.X-t.X, s.Y-t.Y
			if d2 := dx*dx + dy*dy; d2 < bestD2 {
				best, bestD2 = j, d2
			}
		}
		return best
	}

	var pairs [][2]int
	for i, s := range a {
		if !(s.Flux > 0) {
			continue
		}
		j := nearestIn(s, b)
		if j < 0 || !(b[j].Flux > 0) || nearestIn(b[j], a) != i {
			continue
		}
		pairs = append(pairs, [2]int{i, j})
	}
	return pairs
}
