package storage

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forestagree/internal/db"
	"forestagree/internal/raster"
	"forestagree/internal/types"
)

// --- Helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type mockS3 struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newMockS3() *mockS3 {
	return &mockS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	m.objects[key] = data
	m.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) keys() []string {
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type fakeTables struct{ put []*db.CatalogTable }

func (f *fakeTables) Put(_ context.Context, t *db.CatalogTable) error {
	f.put = append(f.put, t)
	return nil
}

type fakeAssets struct{ registered []*db.RasterAsset }

func (f *fakeAssets) Register(_ context.Context, a *db.RasterAsset) error {
	f.registered = append(f.registered, a)
	return nil
}

// scoreRaster is a 4x3 uint8 raster holding scores 0..9 and nodata.
func scoreRaster(t *testing.T) *raster.IntRaster {
	t.Helper()
	g := raster.Grid{
		CRS: "EPSG:32632", OriginX: 500000, OriginY: 5760000,
		PixelSizeX: 30, PixelSizeY: 30, Cols: 4, Rows: 3,
	}
	r := raster.New(g)
	for i := 0; i < 10; i++ {
		r.Data[i] = float64(i)
	}
	ir, err := raster.ToInt(r, raster.PixelUint8)
	require.NoError(t, err)
	return ir
}

func extentTable() *Table {
	return &Table{
		Name:    "extent",
		Columns: []string{"Layer", "Forest_area_ha", "Rank"},
		Rows: []Row{
			{Values: map[string]any{"Layer": "esa_worldcover_2020", "Forest_area_ha": 12.5, "Rank": 1}},
			{Values: map[string]any{"Layer": "modis_lc_2020", "Forest_area_ha": 3.25, "Rank": 2}},
		},
	}
}

func polygonTable() *Table {
	agree := 42.5
	square := orb.Polygon{{{10, 50}, {10.01, 50}, {10.01, 50.01}, {10, 50.01}, {10, 50}}}
	return &Table{
		Name:    "polygons",
		Columns: []string{"id", "area_ha", "area_check", "forestagree"},
		Rows: []Row{
			{Geometry: square, Values: map[string]any{"id": "a", "area_ha": 79.4, "area_check": "ok", "forestagree": &agree}},
			{Geometry: square, Values: map[string]any{"id": "b", "area_ha": 0.49, "area_check": "below 0.5ha", "forestagree": (*float64)(nil)}},
		},
	}
}

// --- Targets ---

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in   string
		want Target
		code types.ErrorCode
	}{
		{in: "/data/out", want: Target{Kind: TargetLocal, Path: "/data/out"}},
		{in: "s3://bucket/a/b/", want: Target{Kind: TargetS3, Bucket: "bucket", Prefix: "a/b"}},
		{in: "s3://bucket", want: Target{Kind: TargetS3, Bucket: "bucket"}},
		{in: "catalog:study-a", want: Target{Kind: TargetCatalog, CatalogID: "study-a"}},
		{in: "", code: types.ErrCodeConfigMissingPath},
		{in: "s3://", code: types.ErrCodeConfigUnsupportedTarget},
		{in: "catalog:", code: types.ErrCodeConfigUnsupportedTarget},
		{in: "gs://bucket/x", code: types.ErrCodeConfigUnsupportedTarget},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTarget(tt.in)
			if tt.code != "" {
				assert.Equal(t, tt.code, types.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTargetString(t *testing.T) {
	assert.Equal(t, "s3://b/p", Target{Kind: TargetS3, Bucket: "b", Prefix: "p"}.String())
	assert.Equal(t, "s3://b", Target{Kind: TargetS3, Bucket: "b"}.String())
	assert.Equal(t, "catalog:x", Target{Kind: TargetCatalog, CatalogID: "x"}.String())
	assert.Equal(t, "/out", Target{Kind: TargetLocal, Path: "/out"}.String())
}

// --- GeoTIFF ---

func TestGeoTIFF_RoundTripPreservesScores(t *testing.T) {
	ir := scoreRaster(t)
	gt, err := EncodeGeoTIFF(ir)
	require.NoError(t, err)

	got, err := DecodeGeoTIFF(gt)
	require.NoError(t, err)

	assert.Equal(t, ir.Data, got.Data)
	assert.Equal(t, raster.PixelUint8, got.Type)
	assert.Equal(t, ir.NoData, got.NoData)
	assert.Equal(t, "EPSG:32632", got.CRS)
	assert.Equal(t, 4, got.Cols)
	assert.Equal(t, 3, got.Rows)
	assert.InDelta(t, 500000, got.OriginX, 1e-9)
	assert.InDelta(t, 5760000, got.OriginY, 1e-9)
	assert.InDelta(t, 30, got.PixelSizeX, 1e-12)
	assert.InDelta(t, 30, got.PixelSizeY, 1e-12)

	back := got.Float()
	for i, v := range back.Data {
		if i < 10 {
			assert.Equal(t, float64(i), v)
		} else {
			assert.True(t, math.IsNaN(v))
		}
	}
}

func TestGeoTIFF_Int16(t *testing.T) {
	g := raster.Grid{CRS: raster.GeographicCRS, OriginX: 10, OriginY: 50, PixelSizeX: 0.001, PixelSizeY: 0.001, Cols: 2, Rows: 2}
	r := &raster.Raster{Grid: g, Data: []float64{-5, 0, 300, math.NaN()}}
	ir, err := raster.ToInt(r, raster.PixelInt16)
	require.NoError(t, err)

	gt, err := EncodeGeoTIFF(ir)
	require.NoError(t, err)
	got, err := DecodeGeoTIFF(gt)
	require.NoError(t, err)

	assert.Equal(t, raster.PixelInt16, got.Type)
	assert.Equal(t, ir.Data, got.Data)
	assert.Equal(t, int16(raster.NoDataInt16), got.NoData)
}

func TestDecodeGeoTIFF_BadWorldFile(t *testing.T) {
	gt, err := EncodeGeoTIFF(scoreRaster(t))
	require.NoError(t, err)
	gt.World = []byte("1\n2\n")
	_, err = DecodeGeoTIFF(gt)
	assert.Error(t, err)
}

// --- Writer: rasters ---

func TestWriteRaster_Local(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(Options{Logger: testLogger()})
	ir := scoreRaster(t)

	loc, err := w.WriteRaster(context.Background(), RasterPayload{Name: "cluster-1", Raster: ir, ResolutionM: 30},
		Target{Kind: TargetLocal, Path: filepath.Join(dir, "nested")})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "nested", "cluster-1.tif"), loc)
	assert.FileExists(t, filepath.Join(dir, "nested", "cluster-1.tfw"))
	assert.FileExists(t, filepath.Join(dir, "nested", "cluster-1.tif.aux.xml"))

	got, err := ReadGeoTIFF(loc)
	require.NoError(t, err)
	assert.Equal(t, ir.Data, got.Data)
	assert.True(t, got.Aligned(ir.Grid))
}

func TestWriteRaster_S3(t *testing.T) {
	client := newMockS3()
	w := NewWriter(Options{S3: client, Logger: testLogger()})

	loc, err := w.WriteRaster(context.Background(), RasterPayload{Name: "tile-r0-c1", Raster: scoreRaster(t)},
		Target{Kind: TargetS3, Bucket: "out", Prefix: "runs/1"})
	require.NoError(t, err)
	assert.Equal(t, "s3://out/runs/1/tile-r0-c1.tif", loc)
	assert.Equal(t, []string{
		"out/runs/1/tile-r0-c1.tfw",
		"out/runs/1/tile-r0-c1.tif",
		"out/runs/1/tile-r0-c1.tif.aux.xml",
	}, client.keys())
	assert.Equal(t, "image/tiff", client.types["out/runs/1/tile-r0-c1.tif"])
}

func TestWriteRaster_S3Failure(t *testing.T) {
	client := newMockS3()
	client.err = errors.New("slow down")
	w := NewWriter(Options{S3: client, Logger: testLogger()})

	_, err := w.WriteRaster(context.Background(), RasterPayload{Name: "x", Raster: scoreRaster(t)},
		Target{Kind: TargetS3, Bucket: "out"})
	assert.Equal(t, types.ErrCodeUpstreamStorage, types.CodeOf(err))
}

func TestWriteRaster_Catalog(t *testing.T) {
	client := newMockS3()
	assets := &fakeAssets{}
	w := NewWriter(Options{S3: client, AssetBucket: "assets", Assets: assets, Logger: testLogger()})
	ctx := types.WithRunID(context.Background(), "run-7")

	loc, err := w.WriteRaster(ctx, RasterPayload{Name: "cluster-2", Raster: scoreRaster(t), ResolutionM: 30},
		Target{Kind: TargetCatalog, CatalogID: "study-a"})
	require.NoError(t, err)
	assert.Equal(t, "s3://assets/study-a/cluster-2.tif", loc)

	require.Len(t, assets.registered, 1)
	a := assets.registered[0]
	assert.Equal(t, "study-a", a.CatalogID)
	assert.Equal(t, "cluster-2", a.Name)
	assert.Equal(t, loc, a.Location)
	assert.Equal(t, "EPSG:32632", a.CRS)
	assert.Equal(t, "uint8", a.PixelType)
	assert.Equal(t, "run-7", a.RunID)
}

func TestWriteRaster_MissingDependencies(t *testing.T) {
	w := NewWriter(Options{Logger: testLogger()})
	ctx := context.Background()

	_, err := w.WriteRaster(ctx, RasterPayload{Name: "x", Raster: scoreRaster(t)}, Target{Kind: TargetS3, Bucket: "b"})
	assert.Equal(t, types.ErrCodeConfigInvalidParameter, types.CodeOf(err))

	_, err = w.WriteRaster(ctx, RasterPayload{Name: "x", Raster: scoreRaster(t)}, Target{Kind: TargetCatalog, CatalogID: "c"})
	assert.Equal(t, types.ErrCodeConfigInvalidParameter, types.CodeOf(err))
}

// --- Tables ---

func TestEncodeCSV(t *testing.T) {
	data, err := EncodeTable(extentTable(), types.TableCSV)
	require.NoError(t, err)
	assert.Equal(t,
		"Layer,Forest_area_ha,Rank\nesa_worldcover_2020,12.5,1\nmodis_lc_2020,3.25,2\n",
		string(data))
}

func TestEncodeCSV_WithGeometry(t *testing.T) {
	data, err := EncodeTable(polygonTable(), types.TableCSV)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id,area_ha,area_check,forestagree,geometry", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "a,79.4,ok,42.5,"))
	assert.Contains(t, lines[1], "POLYGON")
	assert.True(t, strings.HasPrefix(lines[2], "b,0.49,below 0.5ha,,"))
}

func TestEncodeGeoJSON(t *testing.T) {
	data, err := EncodeTable(polygonTable(), types.TableGeoJSON)
	require.NoError(t, err)

	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)
	assert.Equal(t, "a", fc.Features[0].Properties["id"])
	assert.Equal(t, 42.5, fc.Features[0].Properties["forestagree"])
	assert.Nil(t, fc.Features[1].Properties["forestagree"])
	assert.IsType(t, orb.Polygon{}, fc.Features[0].Geometry)
}

func TestEncodeKMLAndKMZ(t *testing.T) {
	kml, err := EncodeTable(polygonTable(), types.TableKML)
	require.NoError(t, err)
	s := string(kml)
	assert.Contains(t, s, `<kml xmlns="http://www.opengis.net/kml/2.2">`)
	assert.Equal(t, 2, strings.Count(s, "<Placemark>"))
	assert.Contains(t, s, "<coordinates>10,50 10.01,50 10.01,50.01 10,50.01 10,50</coordinates>")
	assert.Contains(t, s, `<Data name="area_check">`)

	kmz, err := EncodeTable(polygonTable(), types.TableKMZ)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(kmz), int64(len(kmz)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "doc.kml", zr.File[0].Name)
}

func TestEncodeTable_UnsupportedFormat(t *testing.T) {
	_, err := EncodeTable(extentTable(), types.TableFormat("xlsx"))
	assert.Equal(t, types.ErrCodeConfigUnsupportedFormat, types.CodeOf(err))
}

func TestWriteShapefile(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteShapefile(polygonTable(), dir, "polygons")
	require.NoError(t, err)
	for _, ext := range shapefileParts {
		assert.FileExists(t, filepath.Join(dir, "polygons"+ext))
	}

	r, err := shp.Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, shp.POLYGON, r.GeometryType)
	fields := r.Fields()
	require.Len(t, fields, 4)

	var ids []string
	var agree []string
	for r.Next() {
		n, shape := r.Shape()
		poly, ok := shape.(*shp.Polygon)
		require.True(t, ok)
		assert.Equal(t, int32(1), poly.NumParts)
		ids = append(ids, strings.Trim(r.ReadAttribute(n, 0), " \x00"))
		agree = append(agree, strings.Trim(r.ReadAttribute(n, 3), " \x00"))
	}
	assert.Equal(t, []string{"a", "b"}, ids)
	v, err := strconv.ParseFloat(agree[0], 64)
	require.NoError(t, err)
	assert.InDelta(t, 42.5, v, 1e-9)
	assert.Empty(t, agree[1])
}

func TestEncodeShapefileZip(t *testing.T) {
	data, err := EncodeTable(polygonTable(), types.TableSHP)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"polygons.shp", "polygons.shx", "polygons.dbf", "polygons.prj"}, names)
}

func TestShpRingWinding(t *testing.T) {
	ccw := orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}
	require.Equal(t, orb.CCW, ccw.Orientation())

	outer := shpRing(ccw, true)
	assert.Equal(t, shp.Point{X: 0, Y: 1}, outer[1])
	hole := shpRing(ccw, false)
	assert.Equal(t, shp.Point{X: 1, Y: 0}, hole[1])
	// The input is left untouched.
	assert.Equal(t, orb.Point{1, 0}, ccw[1])
}

func TestDBFNames(t *testing.T) {
	got := dbfNames([]string{"forestagree", "forestagreement", "id", "Forest_area_ha"})
	assert.Equal(t, []string{"forestagre", "forestagr1", "id", "Forest_are"}, got)
}

func TestWriteTable_Targets(t *testing.T) {
	ctx := types.WithRunID(context.Background(), "run-9")

	t.Run("local csv", func(t *testing.T) {
		dir := t.TempDir()
		w := NewWriter(Options{Logger: testLogger()})
		loc, err := w.WriteTable(ctx, extentTable(), types.TableCSV, Target{Kind: TargetLocal, Path: dir})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "extent.csv"), loc)
	})

	t.Run("local shapefile", func(t *testing.T) {
		dir := t.TempDir()
		w := NewWriter(Options{Logger: testLogger()})
		loc, err := w.WriteTable(ctx, polygonTable(), types.TableSHP, Target{Kind: TargetLocal, Path: dir})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "polygons.shp"), loc)
	})

	t.Run("s3 geojson", func(t *testing.T) {
		client := newMockS3()
		w := NewWriter(Options{S3: client, Logger: testLogger()})
		loc, err := w.WriteTable(ctx, polygonTable(), types.TableGeoJSON, Target{Kind: TargetS3, Bucket: "out", Prefix: "tables"})
		require.NoError(t, err)
		assert.Equal(t, "s3://out/tables/polygons.geojson", loc)
		assert.Equal(t, "application/geo+json", client.types["out/tables/polygons.geojson"])
	})

	t.Run("s3 shapefile bundle", func(t *testing.T) {
		client := newMockS3()
		w := NewWriter(Options{S3: client, Logger: testLogger()})
		loc, err := w.WriteTable(ctx, polygonTable(), types.TableSHP, Target{Kind: TargetS3, Bucket: "out"})
		require.NoError(t, err)
		assert.Equal(t, "s3://out/polygons.shp.zip", loc)
	})

	t.Run("catalog", func(t *testing.T) {
		tables := &fakeTables{}
		w := NewWriter(Options{Tables: tables, Logger: testLogger()})
		loc, err := w.WriteTable(ctx, polygonTable(), types.TableCSV, Target{Kind: TargetCatalog, CatalogID: "study-a"})
		require.NoError(t, err)
		assert.Equal(t, "catalog:study-a/polygons", loc)

		require.Len(t, tables.put, 1)
		stored := tables.put[0]
		assert.Equal(t, "run-9", stored.RunID)
		assert.Equal(t, 42.5, stored.Rows[0]["forestagree"])
		assert.Nil(t, stored.Rows[1]["forestagree"])
		assert.Contains(t, stored.Rows[0][GeometryColumn], "POLYGON")
	})

	t.Run("unsupported format", func(t *testing.T) {
		w := NewWriter(Options{Logger: testLogger()})
		_, err := w.WriteTable(ctx, extentTable(), types.TableFormat("xlsx"), Target{Kind: TargetLocal, Path: t.TempDir()})
		assert.Equal(t, types.ErrCodeConfigUnsupportedFormat, types.CodeOf(err))
	})
}
