// Package geostats derives the physical statistics of a run: the UTM zone a
// region is best exported in, per-pixel areas on the geographic grid, zonal
// forest area and percentage, dataset ranking and the per-polygon agreement
// table with its minimum-area rule.
package geostats

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"forestagree/internal/raster"
	"forestagree/internal/types"
)

const (
	minUTMZone = 1
	maxUTMZone = 60
)

// UTMZone returns the UTM zone number of a longitude, clamped to [1, 60].
// Longitude 180 would compute zone 61 and is folded into zone 60.
func UTMZone(lon float64) int {
	zone := int(math.Floor((lon+180)/6)) + 1
	return min(max(zone, minUTMZone), maxUTMZone)
}

// BestUTM returns the EPSG code of the UTM zone containing the centroid of g,
// e.g. "EPSG:32632" for a centroid at (11, 52). Latitudes above zero map to
// the northern zone, everything else (the equator included) to the southern.
func BestUTM(g orb.Geometry) (string, error) {
	if g == nil {
		return "", types.NewAppError(types.ErrCodeValidationInvalidGeometry, "geometry is required", nil)
	}
	if g.Dimensions() == 2 && planar.Area(g) == 0 {
		return BestUTMForBound(g.Bound())
	}
	c, _ := planar.CentroidArea(g)
	return bestUTMAt(c)
}

// BestUTMForBound returns the EPSG code for the center of a bounding box.
func BestUTMForBound(b orb.Bound) (string, error) {
	return bestUTMAt(b.Center())
}

func bestUTMAt(p orb.Point) (string, error) {
	lon, lat := p.Lon(), p.Lat()
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return "", types.NewAppError(types.ErrCodeValidationInvalidLon,
			fmt.Sprintf("centroid longitude %g outside [-180, 180]", lon), nil)
	}
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return "", types.NewAppError(types.ErrCodeValidationInvalidLat,
			fmt.Sprintf("centroid latitude %g outside [-90, 90]", lat), nil)
	}
	return raster.UTMCRS(UTMZone(lon), lat > 0), nil
}
