// Package agreement combines aligned binary forest masks into a per-pixel
// agreement score and removes speckle below a minimum mapping unit.
package agreement

import (
	"fmt"
	"math"

	"forestagree/internal/raster"
	"forestagree/internal/types"
)

// Combine sums the masks pixel-wise. The score at a pixel is the number of
// datasets that classify it as forest, so the result lies in [0, len(masks)].
// A pixel that is nodata in any mask is nodata in the result.
func Combine(masks []*raster.Raster) (*raster.Raster, error) {
	if len(masks) == 0 {
		return nil, types.NewAppError(types.ErrCodeValidationEmptyInput, "no masks to combine", nil)
	}

	ref := masks[0].Grid
	for i, m := range masks[1:] {
		if !ref.Aligned(m.Grid) {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeInternalUnalignedRaster,
				fmt.Sprintf("mask %d is not aligned with mask 0", i+1), nil,
				map[string]any{"expected": ref.String(), "actual": m.Grid.String()})
		}
	}

	out := raster.NewFilled(ref, 0)
	for _, m := range masks {
		for i, v := range m.Data {
			out.Data[i] += v
		}
	}
	return out, nil
}

// MMUPixels converts a physical minimum mapping unit into a pixel count at
// the given ground resolution, rounding up: 0.5 ha at 30 m is 6 pixels.
func MMUPixels(areaHa, resolutionM float64) int {
	if areaHa <= 0 || resolutionM <= 0 {
		return 0
	}
	return int(math.Ceil(areaHa * types.SquareMetersPerHectare / (resolutionM * resolutionM)))
}

// Histogram counts pixels per score in [0, maxScore]. Nodata and values
// outside the range are not counted.
func Histogram(r *raster.Raster, maxScore int) []int {
	counts := make([]int, maxScore+1)
	for _, v := range r.Data {
		if math.IsNaN(v) || v < 0 || v > float64(maxScore) || v != math.Trunc(v) {
			continue
		}
		counts[int(v)]++
	}
	return counts
}
