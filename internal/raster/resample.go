package raster

import (
	"fmt"
	"math"

	"forestagree/internal/types"
)

// sourceLocator maps a target pixel center to fractional source pixel
// indices.
type sourceLocator func(lon, lat float64) (fracCol, fracRow float64, ok bool)

// Align resamples src onto the target grid. The same method must be used for
// every dataset of a run; nearest is the right choice for categorical class
// codes. The target is either the geographic grid (sources may then be
// geographic or UTM) or any grid in the source's own CRS.
func Align(src *Raster, target Grid, method types.ResamplingMethod) (*Raster, error) {
	var locate sourceLocator
	switch {
	case src.CRS == target.CRS:
		locate = func(x, y float64) (float64, float64, bool) {
			fc, fr := src.FractionalPixel(x, y)
			return fc, fr, true
		}
	case target.CRS == GeographicCRS:
		var err error
		if locate, err = newSourceLocator(src.Grid); err != nil {
			return nil, err
		}
	default:
		return nil, unsupportedCRS(target.CRS)
	}

	var sample func(fracCol, fracRow float64) float64
	switch method {
	case types.ResampleNearest, "":
		sample = src.nearest
	case types.ResampleBilinear:
		sample = src.bilinear
	default:
		return nil, types.NewAppError(types.ErrCodeConfigInvalidParameter,
			fmt.Sprintf("unknown resampling method %q", method), nil)
	}

	out := New(target)
	for row := 0; row < target.Rows; row++ {
		for col := 0; col < target.Cols; col++ {
			lon, lat := target.PixelCenter(col, row)
			fc, fr, ok := locate(lon, lat)
			if !ok {
				continue
			}
			out.Data[target.Index(col, row)] = sample(fc, fr)
		}
	}
	return out, nil
}

func newSourceLocator(g Grid) (sourceLocator, error) {
	info, err := ParseCRS(g.CRS)
	if err != nil {
		return nil, err
	}
	if info.Geographic {
		return func(lon, lat float64) (float64, float64, bool) {
			fc, fr := g.FractionalPixel(lon, lat)
			return fc, fr, true
		}, nil
	}
	return func(lon, lat float64) (float64, float64, bool) {
		e, n, err := LonLatToUTM(lon, lat, info.Zone, info.North)
		if err != nil {
			return 0, 0, false
		}
		fc, fr := g.FractionalPixel(e, n)
		return fc, fr, true
	}, nil
}

// inside reports whether fractional indices fall on a source pixel.
func (r *Raster) inside(fracCol, fracRow float64) bool {
	return fracCol >= -0.5 && fracCol < float64(r.Cols)-0.5 &&
		fracRow >= -0.5 && fracRow < float64(r.Rows)-0.5
}

func (r *Raster) nearest(fracCol, fracRow float64) float64 {
	if !r.inside(fracCol, fracRow) {
		return math.NaN()
	}
	col := clampIndex(int(math.Floor(fracCol+0.5)), r.Cols)
	row := clampIndex(int(math.Floor(fracRow+0.5)), r.Rows)
	return r.At(col, row)
}

// bilinear interpolates between the four surrounding pixel centers.
//
//	corners[0] = (row0, col0) - top-left
//	corners[1] = (row0, col1) - top-right
//	corners[2] = (row1, col0) - bottom-left
//	corners[3] = (row1, col1) - bottom-right
//
// Any nodata corner yields nodata.
func (r *Raster) bilinear(fracCol, fracRow float64) float64 {
	if !r.inside(fracCol, fracRow) {
		return math.NaN()
	}

	row0 := clampIndex(int(math.Floor(fracRow)), r.Rows)
	row1 := clampIndex(row0+1, r.Rows)
	col0 := clampIndex(int(math.Floor(fracCol)), r.Cols)
	col1 := clampIndex(col0+1, r.Cols)

	rowFrac := fracRow - math.Floor(fracRow)
	colFrac := fracCol - math.Floor(fracCol)

	// If clamped to the same point, fall back to nearest neighbor at the edge.
	if row0 == row1 || fracRow < 0 {
		rowFrac = 0
	}
	if col0 == col1 || fracCol < 0 {
		colFrac = 0
	}

	vals := [4]float64{
		r.At(col0, row0),
		r.At(col1, row0),
		r.At(col0, row1),
		r.At(col1, row1),
	}
	for _, v := range vals {
		if math.IsNaN(v) {
			return math.NaN()
		}
	}

	return vals[0]*(1-rowFrac)*(1-colFrac) +
		vals[1]*(1-rowFrac)*colFrac +
		vals[2]*rowFrac*(1-colFrac) +
		vals[3]*rowFrac*colFrac
}
