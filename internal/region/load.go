package region

import (
	"fmt"
	"os"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"forestagree/internal/types"
)

// placeholderMarkers are fragments of template paths left unedited.
var placeholderMarkers = []string{"<", ">", "path/to/", "CHANGE_ME"}

// CheckPath rejects an empty or placeholder input path.
func CheckPath(name, path string) error {
	if strings.TrimSpace(path) == "" {
		return types.NewAppError(types.ErrCodeConfigMissingPath,
			fmt.Sprintf("%s is required", name), nil)
	}
	for _, m := range placeholderMarkers {
		if strings.Contains(path, m) {
			return types.NewAppErrorWithDetails(types.ErrCodeConfigPlaceholderPath,
				fmt.Sprintf("%s still holds a placeholder: %q", name, path), nil,
				map[string]any{"path": path})
		}
	}
	return nil
}

// ParseFeatureCollection decodes a GeoJSON FeatureCollection. A single
// Feature is accepted as a collection of one.
func ParseFeatureCollection(data []byte) (*geojson.FeatureCollection, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err == nil && len(fc.Features) > 0 {
		return fc, nil
	}
	if f, ferr := geojson.UnmarshalFeature(data); ferr == nil && f.Geometry != nil {
		out := geojson.NewFeatureCollection()
		out.Append(f)
		return out, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidGeometry, "invalid GeoJSON feature collection", err)
	}
	return fc, nil
}

// ParseGeometry decodes a region of interest given as a bare GeoJSON
// geometry, a Feature, or a FeatureCollection whose areal features are
// merged into one MultiPolygon.
func ParseGeometry(data []byte) (orb.Geometry, error) {
	if g, err := geojson.UnmarshalGeometry(data); err == nil && g.Coordinates != nil {
		return g.Geometry(), nil
	}
	fc, err := ParseFeatureCollection(data)
	if err != nil {
		return nil, err
	}
	if len(fc.Features) == 1 {
		return fc.Features[0].Geometry, nil
	}

	var mp orb.MultiPolygon
	for _, f := range fc.Features {
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			mp = append(mp, g)
		case orb.MultiPolygon:
			mp = append(mp, g...)
		default:
			return nil, types.NewAppError(types.ErrCodeValidationGeometryMismatch,
				"region of interest features must be polygons", nil)
		}
	}
	if len(mp) == 0 {
		return nil, types.NewAppError(types.ErrCodeValidationEmptyInput, "region of interest is empty", nil)
	}
	return mp, nil
}

// LoadFeatureCollection reads and decodes a GeoJSON file.
func LoadFeatureCollection(path string) (*geojson.FeatureCollection, error) {
	data, err := readInput("geometries", path)
	if err != nil {
		return nil, err
	}
	return ParseFeatureCollection(data)
}

// LoadGeometry reads and decodes a region of interest file.
func LoadGeometry(path string) (orb.Geometry, error) {
	data, err := readInput("roi", path)
	if err != nil {
		return nil, err
	}
	return ParseGeometry(data)
}

func readInput(name, path string) ([]byte, error) {
	if err := CheckPath(name, path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeConfigMissingPath,
			fmt.Sprintf("cannot read %s %q", name, path), err)
	}
	return data, nil
}
