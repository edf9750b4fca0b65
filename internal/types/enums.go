package types

// GeometryKind is the declared kind of the analysis geometries of a run.
type GeometryKind string

const (
	GeometryPolygon GeometryKind = "polygon"
	GeometryPoint   GeometryKind = "point"
)

// ParseGeometryKind maps a user-supplied kind declaration to a GeometryKind.
func ParseGeometryKind(s string) (GeometryKind, error) {
	switch GeometryKind(s) {
	case GeometryPolygon, GeometryPoint:
		return GeometryKind(s), nil
	}
	return "", NewAppErrorWithDetails(
		ErrCodeConfigUnsupportedGeom,
		"unsupported geometry type declaration: "+s,
		nil,
		map[string]any{"allowed": []GeometryKind{GeometryPolygon, GeometryPoint}},
	)
}

// CompositeMode selects how overlapping source scenes are reduced to one raster.
type CompositeMode string

const (
	// CompositeMosaic keeps the first valid pixel in scene order.
	CompositeMosaic CompositeMode = "mosaic"
	// CompositeLabelMode keeps the per-pixel most frequent class code.
	CompositeLabelMode CompositeMode = "label_mode"
)

// ExportMode selects how the filtered agreement raster is partitioned for export.
type ExportMode string

const (
	ExportByCluster ExportMode = "cluster"
	ExportByTile    ExportMode = "roi"
)

// TableFormat is the serialization used for tabular outputs.
type TableFormat string

const (
	TableCSV     TableFormat = "csv"
	TableGeoJSON TableFormat = "geojson"
	TableKML     TableFormat = "kml"
	TableKMZ     TableFormat = "kmz"
	TableSHP     TableFormat = "shp"
)

// Extension returns the file extension for the format, without the dot.
func (f TableFormat) Extension() string {
	if f == TableGeoJSON {
		return "geojson"
	}
	return string(f)
}

// RasterFormat is the serialization used for raster outputs.
type RasterFormat string

const (
	RasterGeoTIFF RasterFormat = "geotiff"
)

// ResamplingMethod selects the interpolation used when aligning datasets.
type ResamplingMethod string

const (
	ResampleNearest  ResamplingMethod = "nearest"
	ResampleBilinear ResamplingMethod = "bilinear"
)

// UnitKind identifies the independent unit of work a result belongs to.
type UnitKind string

const (
	UnitDataset UnitKind = "dataset"
	UnitCluster UnitKind = "cluster"
	UnitTile    UnitKind = "tile"
	UnitPolygon UnitKind = "polygon"
)

// UnitStatus is the outcome of a single unit of work.
type UnitStatus string

const (
	UnitOK      UnitStatus = "ok"
	UnitSkipped UnitStatus = "skipped"
	UnitFailed  UnitStatus = "failed"
)
