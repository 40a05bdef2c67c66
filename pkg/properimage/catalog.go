package properimage

import (
	"math"
	"math/rand"
	"sort"

	"github.com/sgostarter/i/l"
	"gonum.org/v1/gonum/stat"
)

// CatalogStats counts why detections were dropped.
type CatalogStats struct {
	Total      int
	OnBorder   int
	Flagged    int
	Saturated  int
	BadFlux    int
	OutOfRange int
	Crowded    int
	Sampled    int
}

// FilterCatalog turns external detections into an ordered set of isolated,
// unflagged, unsaturated point sources that fit a stamp inside the frame.
func FilterCatalog(dets []Detection, width, height int, p CatalogParams, logger l.Wrapper) ([]Source, error) {
	sources, stats := filterCatalog(dets, width, height, p)
	if logger == nil {
		logger = l.NewNopLoggerWrapper()
	}
	logger = logger.WithFields(l.StringField(l.ClsKey, "catalog"))

	dropped := stats.OnBorder + stats.Flagged + stats.Saturated + stats.BadFlux + stats.OutOfRange + stats.Crowded + stats.Sampled
	if dropped > 0 {
		logger.WithFields(
			l.IntField("total", stats.Total),
			l.IntField("onBorder", stats.OnBorder),
			l.IntField("flagged", stats.Flagged),
			l.IntField("saturated", stats.Saturated),
			l.IntField("badFlux", stats.BadFlux),
			l.IntField("outOfRange", stats.OutOfRange),
			l.IntField("crowded", stats.Crowded),
			l.IntField("sampled", stats.Sampled),
		).Debug("dropped detections")
	}

	if len(sources) == 0 {
		return nil, &EmptyCatalogError{Input: "catalog", Total: stats.Total}
	}
	return sources, nil
}

func filterCatalog(dets []Detection, width, height int, p CatalogParams) ([]Source, CatalogStats) {
	stats := CatalogStats{Total: len(dets)}
	margin := float64(p.Margin)
	crowded := crowdedDetections(dets, p.MinSeparation)
	fluxLo, fluxHi := percentileRange(dets, p.FluxPercentiles, func(d Detection) float64 { return d.Flux })
	sizeLo, sizeHi := percentileRange(dets, p.SizePercentiles, func(d Detection) float64 { return float64(d.Pixels) })

	candidates := make([]Source, 0, len(dets))
	for i, d := range dets {
		switch {
		case math.IsNaN(d.X) || math.IsNaN(d.Y) ||
			d.X < margin || d.Y < margin ||
			d.X > float64(width-1)-margin || d.Y > float64(height-1)-margin:
			stats.OnBorder++
		case d.Saturated || d.Flags&FlagSaturated != 0 ||
			(p.SaturationLevel > 0 && d.Peak >= p.SaturationLevel):
			stats.Saturated++
		case d.Flags != FlagNone:
			stats.Flagged++
		case !(d.Flux > 0) || math.IsInf(d.Flux, 0):
			stats.BadFlux++
		case d.Flux < fluxLo || d.Flux > fluxHi ||
			(d.Pixels > 0 && (float64(d.Pixels) < sizeLo || float64(d.Pixels) > sizeHi)):
			stats.OutOfRange++
		case crowded[i]:
			stats.Crowded++
		default:
			candidates = append(candidates, Source{X: d.X, Y: d.Y, Flux: d.Flux, Flags: d.Flags})
		}
	}

	if p.MaxSources > 0 && len(candidates) > p.MaxSources {
		rng := rand.New(rand.NewSource(p.Seed))
		perm := rng.Perm(len(candidates))[:p.MaxSources]
		sampled := make([]Source, 0, p.MaxSources)
		for _, idx := range perm {
			sampled = append(sampled, candidates[idx])
		}
		stats.Sampled = len(candidates) - len(sampled)
		candidates = sampled
	}

	sortSources(candidates)
	return candidates, stats
}

// crowdedDetections marks both members of every pair of finite-position
// detections closer than minSep, whatever their quality.
func crowdedDetections(dets []Detection, minSep float64) []bool {
	crowded := make([]bool, len(dets))
	if minSep <= 0 || len(dets) < 2 {
		return crowded
	}

	order := make([]int, 0, len(dets))
	for i, d := range dets {
		if !math.IsNaN(d.X) && !math.IsNaN(d.Y) && !math.IsInf(d.X, 0) && !math.IsInf(d.Y, 0) {
			order = append(order, i)
		}
	}
	sort.Slice(order, func(a, b int) bool { return dets[order[a]].X < dets[order[b]].X })

	minSep2 := minSep * minSep
	for a := 0; a < len(order); a++ {
		da := dets[order[a]]
		for b := a + 1; b < len(order); b++ {
			db := dets[order[b]]
			dx := db.X - da.X
			if dx >= minSep {
				break
			}
			dy := db.Y - da.Y
			if dx*dx+dy*dy < minSep2 {
				crowded[order[a]] = true
				crowded[order[b]] = true
			}
		}
	}
	return crowded
}

// percentileRange returns the [lo, hi] percentile bounds of value over the
// detections where it is positive and finite. An empty range disables the cut.
func percentileRange(dets []Detection, q []float64, value func(Detection) float64) (float64, float64) {
	if len(q) != 2 || (q[0] <= 0 && q[1] >= 100) {
		return math.Inf(-1), math.Inf(1)
	}
	values := make([]float64, 0, len(dets))
	for _, d := range dets {
		if v := value(d); v > 0 && !math.IsInf(v, 0) {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return math.Inf(-1), math.Inf(1)
	}
	sort.Float64s(values)
	lo, hi := math.Inf(-1), math.Inf(1)
	if q[0] > 0 {
		lo = stat.Quantile(q[0]/100, stat.LinInterp, values, nil)
	}
	if q[1] < 100 {
		hi = stat.Quantile(q[1]/100, stat.LinInterp, values, nil)
	}
	return lo, hi
}

// sortSources orders by descending flux, then ascending Y and X.
func sortSources(sources []Source) {
	sort.SliceStable(sources, func(i, j int) bool {
		a, b := sources[i], sources[j]
		if a.Flux != b.Flux {
			return a.Flux > b.Flux
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
}
