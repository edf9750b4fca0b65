package export

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"

	"forestagree/internal/types"
)

// DefaultTiles is the default ROI tiling, 2 rows by 2 columns.
const DefaultTiles = 2

// Unit is one independently exported piece of the agreement raster.
type Unit struct {
	ID   string
	Kind types.UnitKind
	// Bound crops the raster.
	Bound orb.Bound
	// Geometry, when set, masks pixels whose centers fall outside it.
	Geometry orb.Geometry
}

// ClusterUnits returns one unit per cluster, in cluster order.
func ClusterUnits(clusters []types.Cluster) []Unit {
	units := make([]Unit, len(clusters))
	for i, c := range clusters {
		units[i] = Unit{ID: c.ID, Kind: types.UnitCluster, Bound: c.Bound}
	}
	return units
}

// TileUnits splits the bound of roi into rows × cols equal-angle tiles,
// row-major from the north-west corner, and intersects each with roi. Tiles
// that do not overlap roi are left out; the IDs of the rest keep their grid
// position, e.g. "tile-r0-c1".
func TileUnits(roi orb.Geometry, rows, cols int) ([]Unit, error) {
	if roi == nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidGeometry, "region of interest is required", nil)
	}
	if rows < 1 || cols < 1 {
		return nil, types.NewAppError(types.ErrCodeConfigInvalidParameter,
			fmt.Sprintf("tiling must be at least 1x1, got %dx%d", rows, cols), nil)
	}

	b := roi.Bound()
	dx := (b.Max.X() - b.Min.X()) / float64(cols)
	dy := (b.Max.Y() - b.Min.Y()) / float64(rows)

	var units []Unit
	for r := range rows {
		for c := range cols {
			tile := orb.Bound{
				Min: orb.Point{b.Min.X() + float64(c)*dx, b.Max.Y() - float64(r+1)*dy},
				Max: orb.Point{b.Min.X() + float64(c+1)*dx, b.Max.Y() - float64(r)*dy},
			}
			// Pin the outer edges to the ROI bound.
			if c == cols-1 {
				tile.Max[0] = b.Max.X()
			}
			if r == rows-1 {
				tile.Min[1] = b.Min.Y()
			}

			part := intersect(roi, tile)
			if part == nil {
				continue
			}
			units = append(units, Unit{
				ID:       fmt.Sprintf("tile-r%d-c%d", r, c),
				Kind:     types.UnitTile,
				Bound:    tile,
				Geometry: part,
			})
		}
	}
	return units, nil
}

// intersect clips an areal geometry to a tile. It returns nil when nothing
// of non-zero area remains.
func intersect(g orb.Geometry, tile orb.Bound) orb.Geometry {
	if b, ok := g.(orb.Bound); ok {
		if !b.Intersects(tile) {
			return nil
		}
		g = b.ToPolygon()
	}
	part := clip.Geometry(tile, g)
	if part == nil || planar.Area(part) == 0 {
		return nil
	}
	return part
}
