package raster

import (
	"fmt"
	"math"

	"forestagree/internal/types"
)

// PixelType is the fixed-width integer representation used for exports.
type PixelType string

const (
	PixelUint8 PixelType = "uint8"
	PixelInt16 PixelType = "int16"
)

// Nodata sentinels per pixel type.
const (
	NoDataUint8 = 255
	NoDataInt16 = math.MinInt16
)

// IntRaster is a raster of small integers, the handoff form for storage.
// Data holds uint8 values in the low byte when Type is PixelUint8.
type IntRaster struct {
	Grid
	Type   PixelType
	NoData int16
	Data   []int16
}

// PixelTypeFor picks the narrowest type able to hold [0, maxValue] plus a
// nodata sentinel.
func PixelTypeFor(maxValue int) PixelType {
	if maxValue < NoDataUint8 {
		return PixelUint8
	}
	return PixelInt16
}

// ToInt casts r to the integer representation pt. Values must be integral
// and inside the type's range; nodata maps to the type's sentinel.
func ToInt(r *Raster, pt PixelType) (*IntRaster, error) {
	lo, hi, nodata := 0.0, float64(NoDataUint8-1), int16(NoDataUint8)
	if pt == PixelInt16 {
		lo, hi, nodata = math.MinInt16+1, math.MaxInt16, NoDataInt16
	} else if pt != PixelUint8 {
		return nil, types.NewAppError(types.ErrCodeConfigInvalidParameter,
			fmt.Sprintf("unknown pixel type %q", pt), nil)
	}

	out := &IntRaster{Grid: r.Grid, Type: pt, NoData: nodata, Data: make([]int16, len(r.Data))}
	for i, v := range r.Data {
		if math.IsNaN(v) {
			out.Data[i] = nodata
			continue
		}
		if v != math.Trunc(v) || v < lo || v > hi {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
				fmt.Sprintf("value %g at pixel %d does not fit %s", v, i, pt), nil)
		}
		out.Data[i] = int16(v)
	}
	return out, nil
}

// Float converts back to a float raster with NaN for nodata.
func (ir *IntRaster) Float() *Raster {
	out := &Raster{Grid: ir.Grid, Data: make([]float64, len(ir.Data))}
	for i, v := range ir.Data {
		if v == ir.NoData {
			out.Data[i] = math.NaN()
			continue
		}
		out.Data[i] = float64(v)
	}
	return out
}

// ValidCount returns the number of non-nodata pixels.
func (ir *IntRaster) ValidCount() int {
	n := 0
	for _, v := range ir.Data {
		if v != ir.NoData {
			n++
		}
	}
	return n
}
