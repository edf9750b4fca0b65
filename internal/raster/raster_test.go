package raster

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forestagree/internal/types"
)

// geoGrid returns a small geographic grid with 0.001 degree pixels.
func geoGrid(cols, rows int) Grid {
	return Grid{
		CRS:        GeographicCRS,
		OriginX:    10.0,
		OriginY:    50.0,
		PixelSizeX: 0.001,
		PixelSizeY: 0.001,
		Cols:       cols,
		Rows:       rows,
	}
}

func fromValues(g Grid, vals ...float64) *Raster {
	r := &Raster{Grid: g, Data: make([]float64, g.Len())}
	copy(r.Data, vals)
	return r
}

func TestTargetGrid_SnapsToGlobalLattice(t *testing.T) {
	b := orb.Bound{Min: orb.Point{11.00013, 51.99987}, Max: orb.Point{11.01, 52.01}}

	g, err := TargetGrid(b, 30)
	require.NoError(t, err)

	px := PixelDegrees(30)
	assert.Equal(t, GeographicCRS, g.CRS)
	assert.InDelta(t, px, g.PixelSizeX, 1e-15)
	assert.InDelta(t, 0, math.Remainder(g.OriginX, px), 1e-9)
	assert.InDelta(t, 0, math.Remainder(g.OriginY, px), 1e-9)

	gb := g.Bound()
	assert.LessOrEqual(t, gb.Min.X(), b.Min.X())
	assert.LessOrEqual(t, gb.Min.Y(), b.Min.Y())
	assert.GreaterOrEqual(t, gb.Max.X(), b.Max.X())
	assert.GreaterOrEqual(t, gb.Max.Y(), b.Max.Y())

	// A second grid over a sub-bound shares the lattice.
	g2, err := TargetGrid(orb.Bound{Min: orb.Point{11.005, 52.0}, Max: orb.Point{11.009, 52.004}}, 30)
	require.NoError(t, err)
	offset := (g2.OriginX - g.OriginX) / px
	assert.InDelta(t, math.Round(offset), offset, 1e-6)
}

func TestTargetGrid_RejectsBadResolution(t *testing.T) {
	_, err := TargetGrid(orb.Bound{Max: orb.Point{1, 1}}, 0)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeConfigInvalidParameter, types.CodeOf(err))
}

func TestGridAligned(t *testing.T) {
	g := geoGrid(4, 3)
	assert.True(t, g.Aligned(g))

	shifted := g
	shifted.OriginX += g.PixelSizeX / 2
	assert.False(t, g.Aligned(shifted))

	coarser := g
	coarser.PixelSizeX *= 2
	assert.False(t, g.Aligned(coarser))

	otherCRS := g
	otherCRS.CRS = "EPSG:32632"
	assert.False(t, g.Aligned(otherCRS))

	bigger := g
	bigger.Cols++
	assert.False(t, g.Aligned(bigger))
}

func TestReclassify_OutputIsBinary(t *testing.T) {
	g := geoGrid(3, 2)
	src := fromValues(g, 10, 20, math.NaN(), 95, 10, 0)

	mask := Reclassify(src, types.CodeSet(10, 95))

	assert.True(t, IsBinary(mask))
	assert.Equal(t, []float64{1, 0, 0, 1, 1, 0}, mask.Data)
}

func TestReclassify_HeightRange(t *testing.T) {
	g := geoGrid(5, 1)
	src := fromValues(g, 4.99, 5, 30, 254.9, 255)

	mask := Reclassify(src, types.ValueRange(5, 255))

	assert.Equal(t, []float64{0, 1, 1, 1, 0}, mask.Data)
}

func TestAlign_IdentityNearest(t *testing.T) {
	g := geoGrid(3, 3)
	src := fromValues(g, 1, 2, 3, 4, 5, 6, 7, 8, 9)

	out, err := Align(src, g, types.ResampleNearest)
	require.NoError(t, err)
	assert.Equal(t, src.Data, out.Data)
}

func TestAlign_CoarseSourceUpsampled(t *testing.T) {
	coarse := Grid{CRS: GeographicCRS, OriginX: 10, OriginY: 50, PixelSizeX: 0.002, PixelSizeY: 0.002, Cols: 2, Rows: 1}
	src := fromValues(coarse, 1, 2)

	fine := geoGrid(4, 2)
	out, err := Align(src, fine, types.ResampleNearest)
	require.NoError(t, err)

	assert.Equal(t, []float64{1, 1, 2, 2, 1, 1, 2, 2}, out.Data)
}

func TestAlign_OutsideSourceIsNodata(t *testing.T) {
	src := fromValues(geoGrid(1, 1), 7)
	target := geoGrid(3, 1)

	out, err := Align(src, target, types.ResampleNearest)
	require.NoError(t, err)

	assert.Equal(t, 7.0, out.Data[0])
	assert.True(t, math.IsNaN(out.Data[1]))
	assert.True(t, math.IsNaN(out.Data[2]))
}

func TestAlign_Bilinear(t *testing.T) {
	src := fromValues(geoGrid(2, 1), 0, 10)
	target := Grid{CRS: GeographicCRS, OriginX: 10.0005, OriginY: 50, PixelSizeX: 0.001, PixelSizeY: 0.001, Cols: 1, Rows: 1}

	out, err := Align(src, target, types.ResampleBilinear)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, out.Data[0], 1e-9)
}

func TestAlign_RejectsUnknownMethod(t *testing.T) {
	g := geoGrid(1, 1)
	_, err := Align(fromValues(g, 1), g, "cubic")
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeConfigInvalidParameter, types.CodeOf(err))
}

func TestAlign_FromUTMSource(t *testing.T) {
	e, n, err := LonLatToUTM(11.0, 52.0, 32, true)
	require.NoError(t, err)

	// 1 km UTM pixels centered on the point, uniform value.
	utm := Grid{CRS: "EPSG:32632", OriginX: e - 1500, OriginY: n + 1500, PixelSizeX: 1000, PixelSizeY: 1000, Cols: 3, Rows: 3}
	src := NewFilled(utm, 42)

	target, err := TargetGrid(orb.Bound{Min: orb.Point{10.999, 51.999}, Max: orb.Point{11.001, 52.001}}, 30)
	require.NoError(t, err)

	out, err := Align(src, target, types.ResampleNearest)
	require.NoError(t, err)
	for _, v := range out.Data {
		assert.Equal(t, 42.0, v)
	}
}

func TestSubset(t *testing.T) {
	g := geoGrid(4, 4)
	src := fromValues(g,
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	)

	// Covers centers of cols 1..2 and rows 1..2.
	b := orb.Bound{Min: orb.Point{10.001, 49.997}, Max: orb.Point{10.003, 49.999}}
	sub, ok := Subset(src, b)
	require.True(t, ok)
	assert.Equal(t, 2, sub.Cols)
	assert.Equal(t, 2, sub.Rows)
	assert.Equal(t, []float64{6, 7, 10, 11}, sub.Data)
	assert.InDelta(t, 10.001, sub.OriginX, 1e-12)

	_, ok = Subset(src, orb.Bound{Min: orb.Point{20, 20}, Max: orb.Point{21, 21}})
	assert.False(t, ok)
}

func TestClipToBounds(t *testing.T) {
	src := NewFilled(geoGrid(2, 1), 3)
	clipped := ClipToBounds(src, []orb.Bound{{Min: orb.Point{10, 49.99}, Max: orb.Point{10.001, 50}}})

	assert.Equal(t, 3.0, clipped.Data[0])
	assert.True(t, math.IsNaN(clipped.Data[1]))
	assert.Equal(t, 3.0, src.Data[1], "input must not be mutated")
}

func TestToInt_RoundTrip(t *testing.T) {
	src := fromValues(geoGrid(4, 1), 0, 9, math.NaN(), 5)

	ir, err := ToInt(src, PixelTypeFor(9))
	require.NoError(t, err)
	assert.Equal(t, PixelUint8, ir.Type)
	assert.Equal(t, []int16{0, 9, NoDataUint8, 5}, ir.Data)
	assert.Equal(t, 3, ir.ValidCount())

	back := ir.Float()
	assert.Equal(t, 9.0, back.Data[1])
	assert.True(t, math.IsNaN(back.Data[2]))
}

func TestToInt_RejectsNonIntegral(t *testing.T) {
	_, err := ToInt(fromValues(geoGrid(1, 1), 2.5), PixelUint8)
	require.Error(t, err)

	_, err = ToInt(fromValues(geoGrid(1, 1), 300), PixelUint8)
	require.Error(t, err)

	ir, err := ToInt(fromValues(geoGrid(1, 1), 300), PixelInt16)
	require.NoError(t, err)
	assert.Equal(t, int16(300), ir.Data[0])
}

func TestParseCRS(t *testing.T) {
	info, err := ParseCRS("EPSG:32632")
	require.NoError(t, err)
	assert.Equal(t, CRSInfo{Zone: 32, North: true}, info)

	info, err = ParseCRS("EPSG:32701")
	require.NoError(t, err)
	assert.Equal(t, CRSInfo{Zone: 1, North: false}, info)

	info, err = ParseCRS(GeographicCRS)
	require.NoError(t, err)
	assert.True(t, info.Geographic)

	for _, bad := range []string{"EPSG:3857", "EPSG:32661", "EPSG:32600", "utm32"} {
		_, err := ParseCRS(bad)
		assert.Error(t, err, bad)
	}
}

func TestUTMCRSFormatting(t *testing.T) {
	assert.Equal(t, "EPSG:32632", UTMCRS(32, true))
	assert.Equal(t, "EPSG:32705", UTMCRS(5, false))
}

func TestLonLatToUTM_RoundTrip(t *testing.T) {
	cases := []struct {
		lon, lat float64
		zone     int
		north    bool
	}{
		{11.0, 52.0, 32, true},
		{11.0, -5.0, 32, false},
		{9.5, 52.0, 31, true}, // forced into the neighboring zone
		{-60.2, -3.1, 20, false},
		{20.0, -0.09, 34, true}, // northern zone, south of the equator
		{20.2, 0.29, 34, false}, // southern zone, north of the equator
	}
	for _, tc := range cases {
		e, n, err := LonLatToUTM(tc.lon, tc.lat, tc.zone, tc.north)
		require.NoError(t, err)

		lon, lat, err := UTMToLonLat(e, n, tc.zone, tc.north)
		require.NoError(t, err)
		assert.InDelta(t, tc.lon, lon, 1e-8)
		assert.InDelta(t, tc.lat, lat, 1e-8)
	}
}

func TestWarpInt_PreservesClassValues(t *testing.T) {
	target, err := TargetGrid(orb.Bound{Min: orb.Point{11.0, 52.0}, Max: orb.Point{11.01, 52.01}}, 30)
	require.NoError(t, err)

	src := New(target)
	for i := range src.Data {
		src.Data[i] = float64(i % 10)
	}
	ir, err := ToInt(src, PixelUint8)
	require.NoError(t, err)

	dst, err := UTMGrid(target, "EPSG:32632", 30)
	require.NoError(t, err)
	assert.Equal(t, "EPSG:32632", dst.CRS)

	warped, err := WarpInt(ir, dst)
	require.NoError(t, err)

	valid := 0
	for _, v := range warped.Data {
		if v == warped.NoData {
			continue
		}
		valid++
		assert.GreaterOrEqual(t, v, int16(0))
		assert.LessOrEqual(t, v, int16(9))
	}
	assert.Greater(t, valid, 0)
}

func TestGridWindow(t *testing.T) {
	g := geoGrid(4, 4)

	t.Run("inside", func(t *testing.T) {
		w := g.Window(orb.Bound{Min: orb.Point{10.0015, 49.9975}, Max: orb.Point{10.0025, 49.9985}})
		assert.InDelta(t, 10.001, w.OriginX, 1e-12)
		assert.InDelta(t, 49.999, w.OriginY, 1e-12)
		assert.Equal(t, 2, w.Cols)
		assert.Equal(t, 2, w.Rows)
	})

	t.Run("extends past the grid", func(t *testing.T) {
		w := g.Window(orb.Bound{Min: orb.Point{9.998, 49.99}, Max: orb.Point{10.002, 50.001}})
		assert.InDelta(t, 9.998, w.OriginX, 1e-9)
		assert.InDelta(t, 50.001, w.OriginY, 1e-9)
		assert.Equal(t, 4, w.Cols)
		assert.Equal(t, 11, w.Rows)
	})

	t.Run("own bound is identity", func(t *testing.T) {
		assert.True(t, g.Window(g.Bound()).Aligned(g))
	})
}

func TestAlign_SameCRSWindow(t *testing.T) {
	src := fromValues(geoGrid(2, 2), 1, 2, 3, 4)
	target := src.Window(orb.Bound{Min: orb.Point{10.0, 49.997}, Max: orb.Point{10.003, 50.0}})

	out, err := Align(src, target, types.ResampleNearest)
	require.NoError(t, err)
	require.Equal(t, 3, out.Cols)
	require.Equal(t, 3, out.Rows)
	assert.Equal(t, 1.0, out.At(0, 0))
	assert.Equal(t, 4.0, out.At(1, 1))
	assert.True(t, math.IsNaN(out.At(2, 2)))
}

func TestAlign_RejectsProjectedTargetFromOtherCRS(t *testing.T) {
	src := fromValues(geoGrid(2, 2), 1, 2, 3, 4)
	_, err := Align(src, Grid{CRS: "EPSG:32632", PixelSizeX: 30, PixelSizeY: 30, Cols: 1, Rows: 1}, types.ResampleNearest)
	assert.Equal(t, types.ErrCodeConfigUnsupportedProjCRS, types.CodeOf(err))
}

func TestProjectBound(t *testing.T) {
	b := orb.Bound{Min: orb.Point{9, 45}, Max: orb.Point{9.1, 45.1}}

	same, err := ProjectBound(b, CRSInfo{Geographic: true})
	require.NoError(t, err)
	assert.Equal(t, b, same)

	pb, err := ProjectBound(b, CRSInfo{Zone: 32, North: true})
	require.NoError(t, err)
	// 0.1 degree is about 7.9 km of longitude and 11.1 km of latitude at 45N.
	assert.InDelta(t, 7900, pb.Max.X()-pb.Min.X(), 200)
	assert.InDelta(t, 11100, pb.Max.Y()-pb.Min.Y(), 200)
	// Longitude 9 is the central meridian of zone 32.
	assert.InDelta(t, 500000, pb.Min.X(), 1)
}

func TestProjectBound_AcrossEquator(t *testing.T) {
	b := orb.Bound{Min: orb.Point{20.0, -0.09}, Max: orb.Point{20.2, 0.29}}
	for _, north := range []bool{true, false} {
		pb, err := ProjectBound(b, CRSInfo{Zone: 34, North: north})
		require.NoError(t, err)
		// 0.38 degree of latitude is about 42 km.
		assert.InDelta(t, 42000, pb.Max.Y()-pb.Min.Y(), 500)
		if north {
			assert.Negative(t, pb.Min.Y())
		} else {
			assert.Greater(t, pb.Max.Y(), 10000000.0)
		}
	}
}

func TestClampToZone(t *testing.T) {
	b := orb.Bound{Min: orb.Point{15, -1}, Max: orb.Point{30, 1}}

	got, ok := ClampToZone(b, CRSInfo{Zone: 34, North: true})
	require.True(t, ok)
	assert.Equal(t, orb.Bound{Min: orb.Point{17.5, -1}, Max: orb.Point{24.5, 1}}, got)

	_, ok = ClampToZone(b, CRSInfo{Zone: 10, North: true})
	assert.False(t, ok)

	got, ok = ClampToZone(b, CRSInfo{Geographic: true})
	require.True(t, ok)
	assert.Equal(t, b, got)
}
