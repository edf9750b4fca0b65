// Package storage writes the pipeline outputs: agreement rasters as
// GeoTIFF and summary tables as CSV, GeoJSON, KML, KMZ or ESRI shapefile,
// to a local folder, an S3 prefix or a Postgres-backed catalog.
//
// GeoTIFFs carry no GeoKey directory. Georeferencing lives in the .tfw
// world file and the .aux.xml SRS sidecar written next to each raster, so a
// reader that ignores sidecars sees an ungeoreferenced image. Keep the
// sidecars with the .tif when moving outputs.
package storage

import (
	"fmt"
	"strings"

	"forestagree/internal/types"
)

// TargetKind identifies where outputs are written.
type TargetKind string

const (
	TargetLocal   TargetKind = "local"
	TargetS3      TargetKind = "s3"
	TargetCatalog TargetKind = "catalog"
)

const catalogScheme = "catalog:"

// Target is a parsed output destination.
type Target struct {
	Kind TargetKind
	// Path is the folder of a local target.
	Path string
	// Bucket and Prefix locate an S3 target.
	Bucket string
	Prefix string
	// CatalogID names a catalog target.
	CatalogID string
}

// ParseTarget understands a local folder path, s3://bucket/prefix and
// catalog:<id>.
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return Target{}, types.NewAppError(types.ErrCodeConfigMissingPath, "output target is required", nil)

	case strings.HasPrefix(s, "s3://"):
		rest := strings.TrimPrefix(s, "s3://")
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return Target{}, types.NewAppError(types.ErrCodeConfigUnsupportedTarget,
				fmt.Sprintf("target %q has no bucket", s), nil)
		}
		return Target{Kind: TargetS3, Bucket: bucket, Prefix: strings.Trim(prefix, "/")}, nil

	case strings.HasPrefix(s, catalogScheme):
		id := strings.Trim(strings.TrimPrefix(s, catalogScheme), "/")
		if id == "" {
			return Target{}, types.NewAppError(types.ErrCodeConfigUnsupportedTarget,
				fmt.Sprintf("target %q has no catalog id", s), nil)
		}
		return Target{Kind: TargetCatalog, CatalogID: id}, nil

	case strings.Contains(s, "://"):
		return Target{}, types.NewAppError(types.ErrCodeConfigUnsupportedTarget,
			fmt.Sprintf("unsupported target %q", s), nil)
	}
	return Target{Kind: TargetLocal, Path: s}, nil
}

func (t Target) String() string {
	switch t.Kind {
	case TargetS3:
		if t.Prefix == "" {
			return "s3://" + t.Bucket
		}
		return "s3://" + t.Bucket + "/" + t.Prefix
	case TargetCatalog:
		return catalogScheme + t.CatalogID
	}
	return t.Path
}
