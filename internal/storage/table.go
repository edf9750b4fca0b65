package storage

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"

	"forestagree/internal/types"
)

// GeometryColumn is the column holding WKT geometry in CSV output.
const GeometryColumn = "geometry"

// Table is a named, ordered set of rows. Columns fixes the attribute order;
// rows may carry a geometry.
type Table struct {
	Name    string
	Columns []string
	Rows    []Row
}

// Row is one table record.
type Row struct {
	Values   map[string]any
	Geometry orb.Geometry
}

func (t *Table) hasGeometry() bool {
	for _, r := range t.Rows {
		if r.Geometry != nil {
			return true
		}
	}
	return false
}

// formatValue renders a cell for text formats. Nil renders empty.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case *float64:
		if x == nil {
			return ""
		}
		return strconv.FormatFloat(*x, 'f', -1, 64)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

// jsonValue unwraps pointers so JSON-based formats emit null or the value.
func jsonValue(v any) any {
	if p, ok := v.(*float64); ok {
		if p == nil {
			return nil
		}
		return *p
	}
	return v
}

// EncodeTable serializes t in a single-file format. Shapefiles are written
// by EncodeShapefile.
func EncodeTable(t *Table, format types.TableFormat) ([]byte, error) {
	switch format {
	case types.TableCSV:
		return encodeCSV(t)
	case types.TableGeoJSON:
		return encodeGeoJSON(t)
	case types.TableKML:
		return encodeKML(t)
	case types.TableKMZ:
		return encodeKMZ(t)
	case types.TableSHP:
		return EncodeShapefileZip(t)
	}
	return nil, unsupportedFormat(format)
}

func unsupportedFormat(format types.TableFormat) error {
	return types.NewAppErrorWithDetails(types.ErrCodeConfigUnsupportedFormat,
		fmt.Sprintf("unsupported table format %q", format), nil,
		map[string]any{"allowed": []types.TableFormat{types.TableCSV, types.TableGeoJSON, types.TableKML, types.TableKMZ, types.TableSHP}})
}

// ContentType returns the MIME type of a table format.
func ContentType(format types.TableFormat) string {
	switch format {
	case types.TableCSV:
		return "text/csv"
	case types.TableGeoJSON:
		return "application/geo+json"
	case types.TableKML:
		return "application/vnd.google-earth.kml+xml"
	case types.TableKMZ:
		return "application/vnd.google-earth.kmz"
	case types.TableSHP:
		return "application/zip"
	}
	return "application/octet-stream"
}

func encodeCSV(t *Table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	withGeom := t.hasGeometry()
	header := append([]string(nil), t.Columns...)
	if withGeom {
		header = append(header, GeometryColumn)
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, r := range t.Rows {
		record := make([]string, 0, len(header))
		for _, c := range t.Columns {
			record = append(record, formatValue(r.Values[c]))
		}
		if withGeom {
			g := ""
			if r.Geometry != nil {
				g = wkt.MarshalString(r.Geometry)
			}
			record = append(record, g)
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeGeoJSON(t *Table) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	for _, r := range t.Rows {
		f := geojson.NewFeature(r.Geometry)
		for _, c := range t.Columns {
			f.Properties[c] = jsonValue(r.Values[c])
		}
		fc.Append(f)
	}
	return fc.MarshalJSON()
}

// RowMaps flattens rows into JSON-ready maps; geometry, when present, is
// stored as WKT under GeometryColumn.
func RowMaps(t *Table) []map[string]any {
	out := make([]map[string]any, len(t.Rows))
	for i, r := range t.Rows {
		m := make(map[string]any, len(t.Columns)+1)
		for _, c := range t.Columns {
			m[c] = jsonValue(r.Values[c])
		}
		if r.Geometry != nil {
			m[GeometryColumn] = wkt.MarshalString(r.Geometry)
		}
		out[i] = m
	}
	return out
}
