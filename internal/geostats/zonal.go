package geostats

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"forestagree/internal/raster"
	"forestagree/internal/types"
)

const degToRad = math.Pi / 180

// Predicate selects the pixel values counted by ZonalStats.
type Predicate func(v float64) bool

// Equals matches a single value, e.g. Equals(1) for forest in a binary mask.
func Equals(x float64) Predicate {
	return func(v float64) bool { return v == x }
}

// Between matches values in the closed range [lo, hi].
func Between(lo, hi float64) Predicate {
	return func(v float64) bool { return v >= lo && v <= hi }
}

// Zonal is the result of one zonal statistics call.
type Zonal struct {
	AreaHa  float64
	Pct     float64
	Pixels  int
	Covered int
}

// PixelAreaM2 returns the ground area of one pixel of the given row. On the
// geographic grid this is the spherical cell area R²·Δλ·(sin φ1 − sin φ2),
// which shrinks toward the poles; on a projected grid it is constant.
func PixelAreaM2(g raster.Grid, row int) float64 {
	if g.CRS != raster.GeographicCRS {
		return g.PixelSizeX * g.PixelSizeY
	}
	top := g.OriginY - float64(row)*g.PixelSizeY
	bottom := top - g.PixelSizeY
	dLon := g.PixelSizeX * degToRad
	return orb.EarthRadius * orb.EarthRadius * dLon *
		math.Abs(math.Sin(top*degToRad)-math.Sin(bottom*degToRad))
}

// ZonalStats sums the physical area of the pixels whose centers fall inside
// region and whose value satisfies pred. Pct is that area as a share of the
// region's own area. maxPixels bounds the number of pixels visited; zero
// disables the bound.
func ZonalStats(r *raster.Raster, region *types.AnalysisGeometry, pred Predicate, maxPixels int) (Zonal, error) {
	if r.CRS != raster.GeographicCRS {
		return Zonal{}, types.NewAppError(types.ErrCodeConfigUnsupportedProjCRS,
			fmt.Sprintf("zonal statistics need a %s grid, got %s", raster.GeographicCRS, r.CRS), nil)
	}
	if region == nil || region.Geometry == nil {
		return Zonal{}, types.NewAppError(types.ErrCodeValidationInvalidGeometry, "region geometry is required", nil)
	}

	sub, colOff, rowOff, ok := r.SubGrid(region.Geometry.Bound())
	if !ok {
		return Zonal{}, nil
	}
	if maxPixels > 0 && sub.Len() > maxPixels {
		return Zonal{}, types.NewAppErrorWithDetails(types.ErrCodeLimitUnitBudget,
			fmt.Sprintf("region %s spans %d pixels, budget is %d", region.ID, sub.Len(), maxPixels), nil,
			map[string]any{"pixels": sub.Len(), "max_pixels": maxPixels})
	}

	var z Zonal
	var areaM2 float64
	for row := rowOff; row < rowOff+sub.Rows; row++ {
		pixelArea := PixelAreaM2(r.Grid, row)
		for col := colOff; col < colOff+sub.Cols; col++ {
			x, y := r.PixelCenter(col, row)
			if !Contains(region.Geometry, orb.Point{x, y}) {
				continue
			}
			z.Covered++
			v := r.At(col, row)
			if math.IsNaN(v) || !pred(v) {
				continue
			}
			z.Pixels++
			areaM2 += pixelArea
		}
	}

	z.AreaHa = areaM2 / types.SquareMetersPerHectare
	if total := region.AreaHa(); total > 0 {
		z.Pct = z.AreaHa / total * 100
	}
	return z, nil
}

// Contains reports whether p lies inside an areal geometry. Points and lines
// contain nothing.
func Contains(g orb.Geometry, p orb.Point) bool {
	switch g := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, p)
	case orb.Ring:
		return planar.RingContains(g, p)
	case orb.Bound:
		return g.Contains(p)
	case orb.Collection:
		for _, member := range g {
			if Contains(member, p) {
				return true
			}
		}
	}
	return false
}
