package properimage

import "math"

const (
	fieldEdgeFraction     = 0.25
	minStampsPerZone      = 3
	minTotalStampsForTilt = 20
)

var zoneLabels = [...]string{
	ZoneTopLeft:     "TL",
	ZoneTop:         "T",
	ZoneTopRight:    "TR",
	ZoneLeft:        "L",
	ZoneCenter:      "Center",
	ZoneRight:       "R",
	ZoneBottomLeft:  "BL",
	ZoneBottom:      "B",
	ZoneBottomRight: "BR",
}

var cornerPositions = []ZonePosition{ZoneTopLeft, ZoneTopRight, ZoneBottomLeft, ZoneBottomRight}

// AnalyzeField buckets the per-stamp Gaussian fits of a PSF model into a 3x3
// grid and reports how the FWHM varies across the field. It returns nil when
// there are no fitted stamps.
func AnalyzeField(shapes []StarShape, width, height int) *FieldAnalysis {
	if len(shapes) == 0 {
		return nil
	}

	fwhm := make([][]float64, len(zoneLabels))
	ecc := make([][]float64, len(zoneLabels))
	for _, s := range shapes {
		if s.Shape == nil {
			continue
		}
		pos := classifyZone(s.Center.X/float64(width), s.Center.Y/float64(height))
		fwhm[pos] = append(fwhm[pos], s.Shape.FWHMPixels)
		ecc[pos] = append(ecc[pos], s.Shape.Eccentricity)
	}

	result := &FieldAnalysis{Zones: make(map[ZonePosition]ZoneData, len(zoneLabels))}
	for pos := range zoneLabels {
		zd := ZoneData{Label: zoneLabels[pos], StarCount: len(fwhm[pos])}
		if zd.StarCount > 0 {
			zd.MedianFWHM = medianFloat64(fwhm[pos])
			zd.MedianEccentricity = medianFloat64(ecc[pos])
		}
		result.Zones[ZonePosition(pos)] = zd
	}

	center := result.Zones[ZoneCenter]
	if center.MedianFWHM <= 0 {
		return result
	}

	best, worst := math.MaxFloat64, 0.0
	validCorners := 0
	for _, pos := range cornerPositions {
		z := result.Zones[pos]
		if z.StarCount < minStampsPerZone {
			continue
		}
		validCorners++
		if z.MedianFWHM < best {
			best = z.MedianFWHM
			result.BestCorner = z.Label
		}
		if z.MedianFWHM > worst {
			worst = z.MedianFWHM
			result.WorstCorner = z.Label
		}
	}
	if validCorners >= 2 {
		result.TiltPct = (worst - best) / center.MedianFWHM * 100.0
	} else {
		result.BestCorner, result.WorstCorner = "", ""
	}

	var offAxis []float64
	for pos := range zoneLabels {
		z := result.Zones[ZonePosition(pos)]
		if ZonePosition(pos) != ZoneCenter && z.StarCount >= minStampsPerZone {
			offAxis = append(offAxis, z.MedianFWHM)
		}
	}
	if len(offAxis) > 0 {
		var sum float64
		for _, v := range offAxis {
			sum += v
		}
		result.OffAxisPct = (sum/float64(len(offAxis)) - center.MedianFWHM) / center.MedianFWHM * 100.0
	}

	result.Reliable = len(shapes) >= minTotalStampsForTilt && validCorners == len(cornerPositions) &&
		center.StarCount >= minStampsPerZone
	return result
}

// classifyZone maps fractional field coordinates to a grid zone.
func classifyZone(fx, fy float64) ZonePosition {
	band := func(f float64) int {
		switch {
		case f < fieldEdgeFraction:
			return 0
		case f < 1.0-fieldEdgeFraction:
			return 1
		default:
			return 2
		}
	}
	return ZonePosition(band(fy)*3 + band(fx))
}
