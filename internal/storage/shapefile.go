package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
)

// wgs84PRJ is the ESRI WKT of EPSG:4326, written as the .prj sidecar.
const wgs84PRJ = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

// shapefileParts are the files of one shapefile, by extension.
var shapefileParts = []string{".shp", ".shx", ".dbf", ".prj"}

// dbfNameLen is the maximum length of a dBASE field name.
const dbfNameLen = 10

type fieldKind int

const (
	fieldString fieldKind = iota
	fieldInt
	fieldFloat
)

// WriteShapefile writes t as dir/name.{shp,shx,dbf,prj} and returns the
// .shp path. Attribute names are cut to the dBASE limit of 10 characters.
func WriteShapefile(t *Table, dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	base := filepath.Join(dir, name)

	w, err := shp.Create(base+".shp", shapeType(t))
	if err != nil {
		return "", fmt.Errorf("create shapefile: %w", err)
	}

	kinds := make([]fieldKind, len(t.Columns))
	fields := make([]shp.Field, len(t.Columns))
	names := dbfNames(t.Columns)
	for i, c := range t.Columns {
		kinds[i] = columnKind(t, c)
		switch kinds[i] {
		case fieldInt:
			fields[i] = shp.NumberField(names[i], 18)
		case fieldFloat:
			fields[i] = shp.FloatField(names[i], 24, 8)
		default:
			fields[i] = shp.StringField(names[i], 254)
		}
	}
	if err := w.SetFields(fields); err != nil {
		w.Close()
		return "", fmt.Errorf("set shapefile fields: %w", err)
	}

	for _, r := range t.Rows {
		n := int(w.Write(toShape(r.Geometry)))
		for i, c := range t.Columns {
			v := dbfValue(r.Values[c], kinds[i])
			if str, ok := v.(string); ok {
				// Unwritten cells are zero bytes; blanks must be spelled out.
				size := int(fields[i].Size)
				if len(str) > size {
					str = str[:size]
				}
				v = str + strings.Repeat(" ", size-len(str))
			}
			if err := w.WriteAttribute(n, i, v); err != nil {
				w.Close()
				return "", fmt.Errorf("write attribute %s: %w", c, err)
			}
		}
	}
	w.Close()

	if err := os.WriteFile(base+".prj", []byte(wgs84PRJ), 0o644); err != nil {
		return "", err
	}
	return base + ".shp", nil
}

// EncodeShapefileZip returns the shapefile of t as a zip archive, the form
// used for object-store targets.
func EncodeShapefileZip(t *Table) ([]byte, error) {
	dir, err := os.MkdirTemp("", "forestagree-shp-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	name := t.Name
	if name == "" {
		name = "table"
	}
	if _, err := WriteShapefile(t, dir, name); err != nil {
		return nil, err
	}

	entries := make([]zipEntry, 0, len(shapefileParts))
	for _, ext := range shapefileParts {
		data, err := os.ReadFile(filepath.Join(dir, name+ext))
		if err != nil {
			return nil, err
		}
		entries = append(entries, zipEntry{Name: name + ext, Data: data})
	}
	return zipFiles(entries)
}

// shapeType picks the single shape type of the file: polygon when any row
// is areal, point when rows are points, null otherwise.
func shapeType(t *Table) shp.ShapeType {
	st := shp.NULL
	for _, r := range t.Rows {
		switch r.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon, orb.Ring, orb.Bound:
			return shp.POLYGON
		case orb.Point:
			st = shp.POINT
		}
	}
	return st
}

func toShape(g orb.Geometry) shp.Shape {
	var polys []orb.Polygon
	switch geom := g.(type) {
	case orb.Point:
		return &shp.Point{X: geom.X(), Y: geom.Y()}
	case orb.Polygon:
		polys = []orb.Polygon{geom}
	case orb.MultiPolygon:
		polys = geom
	case orb.Ring:
		polys = []orb.Polygon{{geom}}
	case orb.Bound:
		polys = []orb.Polygon{geom.ToPolygon()}
	default:
		return &shp.Null{}
	}

	var parts [][]shp.Point
	for _, poly := range polys {
		for i, ring := range poly {
			parts = append(parts, shpRing(ring, i == 0))
		}
	}
	poly := shp.Polygon(*shp.NewPolyLine(parts))
	return &poly
}

// shpRing converts a ring to shapefile winding: outer rings clockwise,
// holes counter-clockwise.
func shpRing(r orb.Ring, outer bool) []shp.Point {
	want := orb.CCW
	if outer {
		want = orb.CW
	}
	if r.Orientation() != want {
		r = r.Clone()
		r.Reverse()
	}
	out := make([]shp.Point, len(r))
	for i, p := range r {
		out[i] = shp.Point{X: p.X(), Y: p.Y()}
	}
	return out
}

func columnKind(t *Table, column string) fieldKind {
	kind, seen := fieldInt, false
	for _, r := range t.Rows {
		switch v := r.Values[column].(type) {
		case nil:
		case int, int32, int64:
			seen = true
		case float64, float32:
			seen = true
			kind = fieldFloat
		case *float64:
			if v != nil {
				seen = true
			}
			kind = fieldFloat
		default:
			return fieldString
		}
	}
	if !seen && kind == fieldInt {
		return fieldString
	}
	return kind
}

func dbfValue(v any, kind fieldKind) any {
	switch kind {
	case fieldInt:
		switch x := v.(type) {
		case int:
			return x
		case int32:
			return int(x)
		case int64:
			return int(x)
		}
		return ""
	case fieldFloat:
		switch x := v.(type) {
		case float64:
			return x
		case float32:
			return float64(x)
		case int:
			return float64(x)
		case *float64:
			if x != nil {
				return *x
			}
		}
		return ""
	}
	return formatValue(v)
}

// dbfNames cuts column names to the dBASE limit, suffixing a counter to
// keep them unique.
func dbfNames(columns []string) []string {
	out := make([]string, len(columns))
	used := make(map[string]bool, len(columns))
	for i, c := range columns {
		name := c
		if len(name) > dbfNameLen {
			name = name[:dbfNameLen]
		}
		for n := 1; used[strings.ToUpper(name)]; n++ {
			suffix := strconv.Itoa(n)
			stem := c
			if len(stem) > dbfNameLen-len(suffix) {
				stem = stem[:dbfNameLen-len(suffix)]
			}
			name = stem + suffix
		}
		used[strings.ToUpper(name)] = true
		out[i] = name
	}
	return out
}
