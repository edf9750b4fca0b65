// Package region turns the user's analysis geometries into the working
// regions of a run: validated and buffered geometries, the clusters they
// form, and the region of interest every dataset fetch is scoped to.
package region

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"forestagree/internal/types"
)

// Defaults for Options.
const (
	DefaultJoinDistanceM  = 10000.0
	DefaultMinAreaHa      = 0.5
	DefaultCircleSegments = 64
)

// Options configures a Resolver.
type Options struct {
	// JoinDistanceM is the buffer applied to every geometry before
	// clustering; geometries whose buffers touch share a cluster.
	JoinDistanceM float64
	// MinAreaHa is the minimum area of a buffered point.
	MinAreaHa float64
	// CircleSegments is the number of vertices of a buffered point.
	CircleSegments int
}

func (o Options) withDefaults() Options {
	if o.JoinDistanceM <= 0 {
		o.JoinDistanceM = DefaultJoinDistanceM
	}
	if o.MinAreaHa <= 0 {
		o.MinAreaHa = DefaultMinAreaHa
	}
	if o.CircleSegments < 8 {
		o.CircleSegments = DefaultCircleSegments
	}
	return o
}

// Input is either a feature collection with a declared geometry kind, or a
// single region of interest (ROI mode) when Features is nil.
type Input struct {
	Kind          string
	Features      *geojson.FeatureCollection
	BufferRadiusM float64
	ROI           orb.Geometry
}

// Resolution is the resolved working region of a run.
type Resolution struct {
	Kind types.GeometryKind
	// ROI is the union of all cluster bounds.
	ROI orb.Bound
	// ROIGeometry is the areal geometry the extent statistics are computed
	// over: the user region in ROI mode, the cluster bounds otherwise.
	ROIGeometry *types.AnalysisGeometry
	Clusters    []types.Cluster
	Geometries  []*types.AnalysisGeometry
	ROIMode     bool
}

// ClusterBounds returns the bound of every cluster, in cluster order.
func (r *Resolution) ClusterBounds() []orb.Bound {
	out := make([]orb.Bound, len(r.Clusters))
	for i, c := range r.Clusters {
		out[i] = c.Bound
	}
	return out
}

// Resolver validates, buffers and clusters analysis geometries.
type Resolver struct {
	opts   Options
	logger *slog.Logger
}

// NewResolver creates a Resolver. A nil logger falls back to slog.Default.
func NewResolver(opts Options, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{opts: opts.withDefaults(), logger: logger}
}

// MinBufferRadiusM returns the smallest point buffer radius whose circle
// covers minAreaHa: sqrt(area/π), 39.9 m at 0.5 ha.
func MinBufferRadiusM(minAreaHa float64) float64 {
	return math.Sqrt(minAreaHa * types.SquareMetersPerHectare / math.Pi)
}

// Resolve validates the input and produces the run's working regions. Every
// failure is fatal for the run and happens before any dataset is fetched.
func (r *Resolver) Resolve(ctx context.Context, in Input) (*Resolution, error) {
	if in.Features == nil {
		return r.resolveROI(ctx, in.ROI)
	}

	kind, err := types.ParseGeometryKind(in.Kind)
	if err != nil {
		return nil, err
	}
	if len(in.Features.Features) == 0 {
		return nil, types.NewAppError(types.ErrCodeValidationEmptyInput, "feature collection is empty", nil)
	}

	if kind == types.GeometryPoint {
		if minR := MinBufferRadiusM(r.opts.MinAreaHa); in.BufferRadiusM < minR {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeConfigInvalidBuffer,
				fmt.Sprintf("buffer radius %.1f m is below %.1f m, the radius of a %g ha circle",
					in.BufferRadiusM, minR, r.opts.MinAreaHa), nil,
				map[string]any{"buffer_radius_m": in.BufferRadiusM, "min_radius_m": minR})
		}
	}

	// Every feature is checked before any is buffered.
	for i, f := range in.Features.Features {
		if err := checkKind(kind, f.Geometry, featureID(f, i)); err != nil {
			return nil, err
		}
	}

	geoms := make([]*types.AnalysisGeometry, 0, len(in.Features.Features))
	for i, f := range in.Features.Features {
		g := &types.AnalysisGeometry{
			ID:         featureID(f, i),
			Kind:       kind,
			Geometry:   f.Geometry,
			Properties: map[string]any(f.Properties),
		}
		if kind == types.GeometryPoint {
			g.Geometry = Circle(f.Geometry.(orb.Point), in.BufferRadiusM, r.opts.CircleSegments)
			g.BufferRadiusM = in.BufferRadiusM
		}
		geoms = append(geoms, g)
	}

	clusters := Cluster(geoms, r.opts.JoinDistanceM)
	res := &Resolution{
		Kind:       kind,
		Clusters:   clusters,
		Geometries: geoms,
	}
	res.ROI, res.ROIGeometry = unionOfClusters(clusters)

	r.logger.InfoContext(ctx, "region resolved",
		"kind", kind,
		"geometries", len(geoms),
		"clusters", len(clusters),
		"roi", res.ROI,
	)
	return res, nil
}

func (r *Resolver) resolveROI(ctx context.Context, g orb.Geometry) (*Resolution, error) {
	if g == nil {
		return nil, types.NewAppError(types.ErrCodeConfigMissingPath,
			"either analysis geometries or a region of interest is required", nil)
	}
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon, orb.Bound:
	default:
		return nil, types.NewAppError(types.ErrCodeValidationGeometryMismatch,
			fmt.Sprintf("region of interest must be areal, got %s", g.GeoJSONType()), nil)
	}
	b := g.Bound()
	if err := checkBound(b, "roi"); err != nil {
		return nil, err
	}

	roi := &types.AnalysisGeometry{ID: "roi", Kind: types.GeometryPolygon, Geometry: g}
	res := &Resolution{
		Kind:        types.GeometryPolygon,
		ROI:         b,
		ROIGeometry: roi,
		Clusters:    []types.Cluster{{ID: "roi", Bound: b, MemberIDs: []string{"roi"}}},
		Geometries:  []*types.AnalysisGeometry{roi},
		ROIMode:     true,
	}
	r.logger.InfoContext(ctx, "region resolved", "kind", "roi", "roi", b)
	return res, nil
}

func checkKind(kind types.GeometryKind, g orb.Geometry, id string) error {
	if g == nil {
		return types.NewAppError(types.ErrCodeValidationInvalidGeometry,
			fmt.Sprintf("feature %s has no geometry", id), nil)
	}

	var ok bool
	switch kind {
	case types.GeometryPolygon:
		switch g.(type) {
		case orb.Polygon, orb.MultiPolygon:
			ok = true
		}
	case types.GeometryPoint:
		_, ok = g.(orb.Point)
	}
	if !ok {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationGeometryMismatch,
			fmt.Sprintf("feature %s is a %s, declared kind is %s", id, g.GeoJSONType(), kind), nil,
			map[string]any{"feature_id": id, "declared": kind, "actual": g.GeoJSONType()})
	}
	return checkBound(g.Bound(), id)
}

func checkBound(b orb.Bound, id string) error {
	if b.Min.Lon() < -180 || b.Max.Lon() > 180 {
		return types.NewAppError(types.ErrCodeValidationInvalidLon,
			fmt.Sprintf("geometry %s has a longitude outside [-180, 180]", id), nil)
	}
	if b.Min.Lat() < -90 || b.Max.Lat() > 90 {
		return types.NewAppError(types.ErrCodeValidationInvalidLat,
			fmt.Sprintf("geometry %s has a latitude outside [-90, 90]", id), nil)
	}
	return nil
}

// featureID prefers the feature id, then an "id" property, then the index.
func featureID(f *geojson.Feature, i int) string {
	if f.ID != nil {
		return fmt.Sprint(f.ID)
	}
	if id, ok := f.Properties["id"]; ok && id != nil {
		return fmt.Sprint(id)
	}
	return fmt.Sprintf("geom-%d", i)
}

// unionOfClusters returns the bound of all clusters and their union as
// disjoint rectangles, so the area of ground covered by two padded cluster
// bounds is counted once.
func unionOfClusters(clusters []types.Cluster) (orb.Bound, *types.AnalysisGeometry) {
	bounds := make([]orb.Bound, len(clusters))
	for i, c := range clusters {
		bounds[i] = c.Bound
	}
	var roi orb.Bound
	for i, b := range bounds {
		if i == 0 {
			roi = b
		} else {
			roi = roi.Union(b)
		}
	}
	return roi, &types.AnalysisGeometry{ID: "roi", Kind: types.GeometryPolygon, Geometry: disjointRects(bounds)}
}

// disjointRects decomposes the union of bounds into non-overlapping
// rectangles: the plane is cut along every bound edge, and the covered cells
// of each horizontal band are joined into strips.
func disjointRects(bounds []orb.Bound) orb.MultiPolygon {
	xs := make([]float64, 0, 2*len(bounds))
	ys := make([]float64, 0, 2*len(bounds))
	for _, b := range bounds {
		xs = append(xs, b.Min.X(), b.Max.X())
		ys = append(ys, b.Min.Y(), b.Max.Y())
	}
	slices.Sort(xs)
	slices.Sort(ys)
	xs, ys = slices.Compact(xs), slices.Compact(ys)

	covered := func(x, y float64) bool {
		for _, b := range bounds {
			if x > b.Min.X() && x < b.Max.X() && y > b.Min.Y() && y < b.Max.Y() {
				return true
			}
		}
		return false
	}

	var out orb.MultiPolygon
	for j := 0; j+1 < len(ys); j++ {
		yc := (ys[j] + ys[j+1]) / 2
		start := -1
		for i := 0; i+1 < len(xs); i++ {
			in := covered((xs[i]+xs[i+1])/2, yc)
			switch {
			case in && start < 0:
				start = i
			case !in && start >= 0:
				out = append(out, strip(xs[start], xs[i], ys[j], ys[j+1]))
				start = -1
			}
		}
		if start >= 0 {
			out = append(out, strip(xs[start], xs[len(xs)-1], ys[j], ys[j+1]))
		}
	}
	return out
}

func strip(minX, maxX, minY, maxY float64) orb.Polygon {
	return orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}.ToPolygon()
}
