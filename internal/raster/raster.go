package raster

import (
	"math"

	"github.com/paulmach/orb"

	"forestagree/internal/types"
)

// Raster is a grid of float64 values; NaN marks nodata.
type Raster struct {
	Grid
	Data []float64
}

// New allocates a raster filled with nodata.
func New(g Grid) *Raster {
	return NewFilled(g, math.NaN())
}

// NewFilled allocates a raster with every pixel set to v.
func NewFilled(g Grid, v float64) *Raster {
	data := make([]float64, g.Len())
	for i := range data {
		data[i] = v
	}
	return &Raster{Grid: g, Data: data}
}

// At returns the value at col/row.
func (r *Raster) At(col, row int) float64 {
	return r.Data[r.Index(col, row)]
}

// Set stores v at col/row.
func (r *Raster) Set(col, row int, v float64) {
	r.Data[r.Index(col, row)] = v
}

// Clone returns a deep copy.
func (r *Raster) Clone() *Raster {
	data := make([]float64, len(r.Data))
	copy(data, r.Data)
	return &Raster{Grid: r.Grid, Data: data}
}

// Reclassify maps every pixel whose value satisfies rule to 1 and every other
// pixel to 0. Nodata becomes 0: a pixel a product does not map is treated as
// confirmed non-forest, not unknown.
func Reclassify(r *Raster, rule types.ClassRule) *Raster {
	out := &Raster{Grid: r.Grid, Data: make([]float64, len(r.Data))}
	for i, v := range r.Data {
		if rule.Contains(v) {
			out.Data[i] = 1
		}
	}
	return out
}

// ClipToBounds returns a copy of r with nodata outside every bound. A pixel
// is inside when its center is.
func ClipToBounds(r *Raster, bounds []orb.Bound) *Raster {
	out := r.Clone()
	for row := 0; row < r.Rows; row++ {
		for col := 0; col < r.Cols; col++ {
			x, y := r.PixelCenter(col, row)
			p := orb.Point{x, y}
			inside := false
			for _, b := range bounds {
				if b.Contains(p) {
					inside = true
					break
				}
			}
			if !inside {
				out.Data[r.Index(col, row)] = math.NaN()
			}
		}
	}
	return out
}

// Subset crops r to the pixels whose centers fall inside bound. ok is false
// when the bound covers no pixel center.
func Subset(r *Raster, bound orb.Bound) (*Raster, bool) {
	sub, colOff, rowOff, ok := r.SubGrid(bound)
	if !ok {
		return nil, false
	}
	out := &Raster{Grid: sub, Data: make([]float64, sub.Len())}
	for row := 0; row < sub.Rows; row++ {
		src := r.Index(colOff, row+rowOff)
		copy(out.Data[row*sub.Cols:(row+1)*sub.Cols], r.Data[src:src+sub.Cols])
	}
	return out, true
}

// Count returns the number of valid pixels satisfying pred.
func Count(r *Raster, pred func(float64) bool) int {
	n := 0
	for _, v := range r.Data {
		if !math.IsNaN(v) && pred(v) {
			n++
		}
	}
	return n
}

// IsBinary reports whether every value is exactly 0 or 1.
func IsBinary(r *Raster) bool {
	for _, v := range r.Data {
		if v != 0 && v != 1 {
			return false
		}
	}
	return true
}
