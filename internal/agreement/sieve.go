package agreement

import (
	"math"

	"forestagree/internal/raster"
)

// neighbors8 are the column/row offsets of the 8-connected neighborhood.
var neighbors8 = [8][2]int{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

// SieveFilter removes isolated patches. Pixels belonging to an 8-connected
// component of equal value smaller than mmuPixels take the most frequent
// value of the (2*radius+1)² window around them, clipped to the grid. Modes
// are computed on the unfiltered input so the result does not depend on scan
// order. Ties go to the lowest value; nodata never votes and stays nodata.
//
// With mmuPixels <= 1 no component can be too small and the input is returned
// unchanged (as a copy).
func SieveFilter(r *raster.Raster, mmuPixels, radius int) *raster.Raster {
	out := r.Clone()
	if mmuPixels <= 1 {
		return out
	}
	radius = max(radius, 1)

	labels, sizes := label8(r)
	for idx, lbl := range labels {
		if lbl < 0 || sizes[lbl] >= mmuPixels {
			continue
		}
		col, row := idx%r.Cols, idx/r.Cols
		if v, ok := windowMode(r, col, row, radius); ok {
			out.Data[idx] = v
		}
	}
	return out
}

// label8 assigns a component label to every valid pixel. Nodata pixels get -1.
// sizes[label] is the pixel count of each component.
func label8(r *raster.Raster) (labels []int, sizes []int) {
	labels = make([]int, len(r.Data))
	for i := range labels {
		labels[i] = -1
	}

	stack := make([]int, 0, 64)
	for start, v := range r.Data {
		if labels[start] >= 0 || math.IsNaN(v) {
			continue
		}
		lbl := len(sizes)
		size := 0
		labels[start] = lbl
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			size++

			col, row := idx%r.Cols, idx/r.Cols
			for _, d := range neighbors8 {
				nc, nr := col+d[0], row+d[1]
				if !r.InBounds(nc, nr) {
					continue
				}
				n := r.Index(nc, nr)
				if labels[n] < 0 && r.Data[n] == v {
					labels[n] = lbl
					stack = append(stack, n)
				}
			}
		}
		sizes = append(sizes, size)
	}
	return labels, sizes
}

// windowMode returns the most frequent valid value in the window centered on
// col/row. ok is false when the window holds no valid pixel.
func windowMode(r *raster.Raster, col, row, radius int) (mode float64, ok bool) {
	counts := make(map[float64]int, 8)
	for dr := -radius; dr <= radius; dr++ {
		for dc := -radius; dc <= radius; dc++ {
			c, rr := col+dc, row+dr
			if !r.InBounds(c, rr) {
				continue
			}
			v := r.At(c, rr)
			if math.IsNaN(v) {
				continue
			}
			counts[v]++
		}
	}

	best := 0
	for v, n := range counts {
		if n > best || (n == best && v < mode) {
			mode, best = v, n
		}
	}
	return mode, best > 0
}
