package raster

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"forestagree/internal/types"
)

// edgeSamples is the number of points sampled along each edge of a
// geographic extent when computing its projected bounding box.
const edgeSamples = 16

// UTMGrid computes the grid, in the given UTM CRS at resolutionM, that covers
// the geographic grid src. The origin is snapped to multiples of resolutionM.
func UTMGrid(src Grid, utmCRS string, resolutionM float64) (Grid, error) {
	info, err := ParseCRS(utmCRS)
	if err != nil {
		return Grid{}, err
	}
	if info.Geographic {
		return Grid{}, unsupportedCRS(utmCRS)
	}
	if resolutionM <= 0 {
		return Grid{}, types.NewAppError(types.ErrCodeConfigInvalidParameter,
			fmt.Sprintf("resolution must be positive, got %g", resolutionM), nil)
	}

	pb, err := ProjectBound(src.Bound(), info)
	if err != nil {
		return Grid{}, types.NewAppError(types.ErrCodeConfigUnsupportedProjCRS,
			fmt.Sprintf("extent does not fit %s", utmCRS), err)
	}
	minE, minN := pb.Min.X(), pb.Min.Y()
	maxE, maxN := pb.Max.X(), pb.Max.Y()

	originX := math.Floor(minE/resolutionM) * resolutionM
	originY := math.Ceil(maxN/resolutionM) * resolutionM
	cols := max(int(math.Ceil((maxE-originX)/resolutionM)), 1)
	rows := max(int(math.Ceil((originY-minN)/resolutionM)), 1)

	return Grid{
		CRS:        utmCRS,
		OriginX:    originX,
		OriginY:    originY,
		PixelSizeX: resolutionM,
		PixelSizeY: resolutionM,
		Cols:       cols,
		Rows:       rows,
	}, nil
}

// ClampToZone returns the part of the geographic bound b that the UTM zone
// of info can project, and false when b lies entirely outside it. Geographic
// CRSs cover everything.
func ClampToZone(b orb.Bound, info CRSInfo) (orb.Bound, bool) {
	if info.Geographic {
		return b, true
	}
	cm := CentralMeridian(info.Zone)
	minLon := math.Max(b.Min.X(), cm-utmZoneReachDeg)
	maxLon := math.Min(b.Max.X(), cm+utmZoneReachDeg)
	if minLon > maxLon {
		return orb.Bound{}, false
	}
	return orb.Bound{Min: orb.Point{minLon, b.Min.Y()}, Max: orb.Point{maxLon, b.Max.Y()}}, true
}

// ProjectBound returns the UTM bounding box of a geographic bound, found by
// projecting points sampled along its edges into the zone described by info.
func ProjectBound(b orb.Bound, info CRSInfo) (orb.Bound, error) {
	if info.Geographic {
		return b, nil
	}
	minE, minN := math.Inf(1), math.Inf(1)
	maxE, maxN := math.Inf(-1), math.Inf(-1)
	for i := 0; i <= edgeSamples; i++ {
		t := float64(i) / edgeSamples
		lon := b.Min.X() + t*(b.Max.X()-b.Min.X())
		lat := b.Min.Y() + t*(b.Max.Y()-b.Min.Y())
		edge := [4][2]float64{
			{lon, b.Min.Y()}, {lon, b.Max.Y()},
			{b.Min.X(), lat}, {b.Max.X(), lat},
		}
		for _, p := range edge {
			e, n, err := LonLatToUTM(p[0], p[1], info.Zone, info.North)
			if err != nil {
				return orb.Bound{}, err
			}
			minE, maxE = math.Min(minE, e), math.Max(maxE, e)
			minN, maxN = math.Min(minN, n), math.Max(maxN, n)
		}
	}
	return orb.Bound{Min: orb.Point{minE, minN}, Max: orb.Point{maxE, maxN}}, nil
}

// WarpInt resamples an integer raster from its geographic grid onto dst
// (a UTM grid) by nearest neighbor, so class values pass through unchanged.
func WarpInt(src *IntRaster, dst Grid) (*IntRaster, error) {
	info, err := ParseCRS(dst.CRS)
	if err != nil {
		return nil, err
	}
	if src.CRS != GeographicCRS || info.Geographic {
		return nil, unsupportedCRS(dst.CRS)
	}

	out := &IntRaster{Grid: dst, Type: src.Type, NoData: src.NoData, Data: make([]int16, dst.Len())}
	for i := range out.Data {
		out.Data[i] = src.NoData
	}

	for row := 0; row < dst.Rows; row++ {
		for col := 0; col < dst.Cols; col++ {
			e, n := dst.PixelCenter(col, row)
			lon, lat, err := UTMToLonLat(e, n, info.Zone, info.North)
			if err != nil {
				continue
			}
			fc, fr := src.FractionalPixel(lon, lat)
			sc, sr := int(math.Floor(fc+0.5)), int(math.Floor(fr+0.5))
			if !src.InBounds(sc, sr) {
				continue
			}
			out.Data[dst.Index(col, row)] = src.Data[src.Index(sc, sr)]
		}
	}
	return out, nil
}
