// Package raster implements in-memory 2-D grids of numeric values tagged
// with a coordinate reference system, plus the pure functions the pipeline
// builds on: alignment onto a common grid, reclassification into binary
// masks, clipping, integer casting and warping into UTM.
//
// Grids are north-up. The origin is the top-left corner of the top-left
// pixel; rows increase southward. Nodata is NaN.
package raster

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"forestagree/internal/types"
)

// MetersPerDegree is the length of one degree of longitude at the equator
// on the WGS84 sphere (2πR/360, R = 6378137 m).
const MetersPerDegree = 2 * math.Pi * orb.EarthRadius / 360

// alignTolerance is the relative tolerance (in pixels) used when comparing
// origins and pixel sizes of two grids.
const alignTolerance = 1e-6

// Grid describes the geometry of a raster.
type Grid struct {
	CRS        string
	OriginX    float64
	OriginY    float64
	PixelSizeX float64
	PixelSizeY float64
	Cols       int
	Rows       int
}

// Len returns the number of pixels.
func (g Grid) Len() int {
	return g.Cols * g.Rows
}

// Index returns the flat, row-major index of a pixel.
func (g Grid) Index(col, row int) int {
	return row*g.Cols + col
}

// InBounds reports whether col/row address a pixel of the grid.
func (g Grid) InBounds(col, row int) bool {
	return col >= 0 && col < g.Cols && row >= 0 && row < g.Rows
}

// PixelCenter returns the map coordinates of a pixel center.
func (g Grid) PixelCenter(col, row int) (x, y float64) {
	x = g.OriginX + (float64(col)+0.5)*g.PixelSizeX
	y = g.OriginY - (float64(row)+0.5)*g.PixelSizeY
	return x, y
}

// FractionalPixel maps map coordinates to fractional pixel indices, measured
// so that integer values fall on pixel centers.
func (g Grid) FractionalPixel(x, y float64) (fracCol, fracRow float64) {
	fracCol = (x-g.OriginX)/g.PixelSizeX - 0.5
	fracRow = (g.OriginY-y)/g.PixelSizeY - 0.5
	return fracCol, fracRow
}

// Bound returns the map-coordinate extent of the grid.
func (g Grid) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{g.OriginX, g.OriginY - float64(g.Rows)*g.PixelSizeY},
		Max: orb.Point{g.OriginX + float64(g.Cols)*g.PixelSizeX, g.OriginY},
	}
}

// Aligned reports whether two grids share CRS, pixel size, origin and shape,
// the precondition for any pixel-wise combination.
func (g Grid) Aligned(o Grid) bool {
	if g.CRS != o.CRS || g.Cols != o.Cols || g.Rows != o.Rows {
		return false
	}
	if !closeTo(g.PixelSizeX, o.PixelSizeX, g.PixelSizeX*alignTolerance) ||
		!closeTo(g.PixelSizeY, o.PixelSizeY, g.PixelSizeY*alignTolerance) {
		return false
	}
	return closeTo(g.OriginX, o.OriginX, g.PixelSizeX*alignTolerance) &&
		closeTo(g.OriginY, o.OriginY, g.PixelSizeY*alignTolerance)
}

func (g Grid) String() string {
	return fmt.Sprintf("%s %dx%d origin=(%.8f, %.8f) pixel=(%.10g, %.10g)",
		g.CRS, g.Cols, g.Rows, g.OriginX, g.OriginY, g.PixelSizeX, g.PixelSizeY)
}

// PixelDegrees converts a ground resolution in meters to the equivalent
// pixel size in degrees on the geographic grid.
func PixelDegrees(resolutionM float64) float64 {
	return resolutionM / MetersPerDegree
}

// TargetGrid builds the common geographic grid covering bound at the given
// resolution. The origin is snapped to whole multiples of the pixel size so
// that every grid built at the same resolution shares the global lattice.
func TargetGrid(bound orb.Bound, resolutionM float64) (Grid, error) {
	if resolutionM <= 0 {
		return Grid{}, types.NewAppError(types.ErrCodeConfigInvalidParameter,
			fmt.Sprintf("resolution must be positive, got %g", resolutionM), nil)
	}
	if bound.IsEmpty() {
		return Grid{}, types.NewAppError(types.ErrCodeValidationInvalidGeometry,
			"cannot build a grid over an empty region", nil)
	}

	px := PixelDegrees(resolutionM)
	originX := math.Floor(bound.Min.X()/px) * px
	originY := math.Ceil(bound.Max.Y()/px) * px
	cols := int(math.Ceil((bound.Max.X() - originX) / px))
	rows := int(math.Ceil((originY - bound.Min.Y()) / px))
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}

	return Grid{
		CRS:        GeographicCRS,
		OriginX:    originX,
		OriginY:    originY,
		PixelSizeX: px,
		PixelSizeY: px,
		Cols:       cols,
		Rows:       rows,
	}, nil
}

// SubGrid returns the part of g whose pixel centers fall inside bound. The
// result shares g's lattice. ok is false when no pixel center is covered.
func (g Grid) SubGrid(bound orb.Bound) (sub Grid, colOff, rowOff int, ok bool) {
	c0 := int(math.Ceil((bound.Min.X()-g.OriginX)/g.PixelSizeX - 0.5))
	c1 := int(math.Floor((bound.Max.X()-g.OriginX)/g.PixelSizeX - 0.5))
	r0 := int(math.Ceil((g.OriginY-bound.Max.Y())/g.PixelSizeY - 0.5))
	r1 := int(math.Floor((g.OriginY-bound.Min.Y())/g.PixelSizeY - 0.5))

	c0 = max(c0, 0)
	r0 = max(r0, 0)
	c1 = min(c1, g.Cols-1)
	r1 = min(r1, g.Rows-1)
	if c1 < c0 || r1 < r0 {
		return Grid{}, 0, 0, false
	}

	sub = Grid{
		CRS:        g.CRS,
		OriginX:    g.OriginX + float64(c0)*g.PixelSizeX,
		OriginY:    g.OriginY - float64(r0)*g.PixelSizeY,
		PixelSizeX: g.PixelSizeX,
		PixelSizeY: g.PixelSizeY,
		Cols:       c1 - c0 + 1,
		Rows:       r1 - r0 + 1,
	}
	return sub, c0, r0, true
}

// Window returns the grid on g's lattice (same CRS, pixel size and origin
// phase) whose pixels cover bound. Unlike SubGrid the result may extend past
// g's own extent.
func (g Grid) Window(bound orb.Bound) Grid {
	// Edges within alignTolerance of a pixel edge snap to it.
	c0 := math.Floor((bound.Min.X()-g.OriginX)/g.PixelSizeX + alignTolerance)
	c1 := math.Ceil((bound.Max.X()-g.OriginX)/g.PixelSizeX - alignTolerance)
	r0 := math.Floor((g.OriginY-bound.Max.Y())/g.PixelSizeY + alignTolerance)
	r1 := math.Ceil((g.OriginY-bound.Min.Y())/g.PixelSizeY - alignTolerance)
	return Grid{
		CRS:        g.CRS,
		OriginX:    g.OriginX + c0*g.PixelSizeX,
		OriginY:    g.OriginY - r0*g.PixelSizeY,
		PixelSizeX: g.PixelSizeX,
		PixelSizeY: g.PixelSizeY,
		Cols:       max(int(c1-c0), 1),
		Rows:       max(int(r1-r0), 1),
	}
}

// clampIndex ensures a grid index is within valid bounds.
func clampIndex(idx, max int) int {
	if idx < 0 {
		return 0
	}
	if idx >= max {
		return max - 1
	}
	return idx
}

func closeTo(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}
