package types

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// SquareMetersPerHectare converts between m² and ha.
const SquareMetersPerHectare = 10000.0

// DateRange is a half-open [Start, End) interval used to filter source scenes.
type DateRange struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// Contains reports whether t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Year returns the calendar-year range [Jan 1 y, Jan 1 y+1) in UTC.
func Year(y int) *DateRange {
	return &DateRange{
		Start: time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(y+1, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

// ClassRule decides which pixel values of a dataset mean "forest".
// It is either a discrete code set or a half-open value range [Min, Max),
// the latter for continuous data such as canopy height.
type ClassRule struct {
	codes   map[int]struct{}
	isRange bool
	min     float64
	max     float64
}

// CodeSet builds a discrete ClassRule.
func CodeSet(codes ...int) ClassRule {
	set := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return ClassRule{codes: set}
}

// ValueRange builds a half-open range ClassRule [min, max).
func ValueRange(min, max float64) ClassRule {
	return ClassRule{isRange: true, min: min, max: max}
}

// CodeRange returns the contiguous codes lo..hi inclusive, for datasets whose
// forest classes form a generated block.
func CodeRange(lo, hi int) []int {
	if hi < lo {
		return nil
	}
	out := make([]int, 0, hi-lo+1)
	for c := lo; c <= hi; c++ {
		out = append(out, c)
	}
	return out
}

// IsRange reports whether the rule is a value range.
func (r ClassRule) IsRange() bool { return r.isRange }

// Bounds returns the [min, max) range of a range rule.
func (r ClassRule) Bounds() (float64, float64) { return r.min, r.max }

// Codes returns the discrete codes in ascending order; nil for range rules.
func (r ClassRule) Codes() []int {
	if r.isRange {
		return nil
	}
	out := make([]int, 0, len(r.codes))
	for c := range r.codes {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}

// Contains reports whether a pixel value is classified as forest.
// NaN (nodata) is never forest.
func (r ClassRule) Contains(v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	if r.isRange {
		return v >= r.min && v < r.max
	}
	if v != math.Trunc(v) {
		return false
	}
	_, ok := r.codes[int(v)]
	return ok
}

// String renders the rule for logs and catalog listings.
func (r ClassRule) String() string {
	if r.isRange {
		return fmt.Sprintf("[%g, %g)", r.min, r.max)
	}
	return fmt.Sprintf("%v", r.Codes())
}

// DatasetSpec describes one source product in the catalog. Immutable.
type DatasetSpec struct {
	ID                string
	Description       string
	Rule              ClassRule
	NativeResolutionM float64
	DateRange         *DateRange
	Composite         CompositeMode
}

// AnalysisGeometry is one input feature. Points are materialized into
// circular polygons before any area computation; the area in hectares is
// computed once and cached.
type AnalysisGeometry struct {
	ID            string
	Kind          GeometryKind
	Geometry      orb.Geometry
	BufferRadiusM float64
	Properties    map[string]any

	areaOnce sync.Once
	areaHa   float64
}

// AreaHa returns the geodesic area of the geometry in hectares.
func (g *AnalysisGeometry) AreaHa() float64 {
	g.areaOnce.Do(func() {
		g.areaHa = geo.Area(g.Geometry) / SquareMetersPerHectare
	})
	return g.areaHa
}

// Cluster groups nearby analysis geometries for joint processing and export.
// Created once per run and never mutated.
type Cluster struct {
	ID        string
	Bound     orb.Bound
	MemberIDs []string
}

// StatsRow is one ranked row of the dataset extent table.
type StatsRow struct {
	ID             string  `json:"Layer"`
	ForestAreaHa   float64 `json:"Forest_area_ha"`
	ForestPctTotal float64 `json:"Forest_pct_total"`
	Rank           int     `json:"Rank"`
}

// PolygonAgreementRow is one row of the per-polygon agreement table.
// ForestAgree is nil when the polygon failed the minimum-area check.
type PolygonAgreementRow struct {
	ID          string
	Geometry    orb.Geometry
	Properties  map[string]any
	AreaHa      float64
	AreaCheck   string
	ForestAgree *float64
}

// UnitResult records the outcome of one independent unit of work
// (dataset statistics, cluster export or tile export).
type UnitResult struct {
	ID       string     `json:"id"`
	Kind     UnitKind   `json:"kind"`
	Status   UnitStatus `json:"status"`
	Code     ErrorCode  `json:"code,omitempty"`
	Message  string     `json:"message,omitempty"`
	Location string     `json:"location,omitempty"`
	CRS      string     `json:"crs,omitempty"`
}

// UnitFromError builds the UnitResult for a failed or skipped unit.
func UnitFromError(id string, kind UnitKind, err error) UnitResult {
	code := CodeOf(err)
	status := UnitFailed
	if code == ErrCodeWarningEmptyRegion {
		status = UnitSkipped
	}
	return UnitResult{
		ID:      id,
		Kind:    kind,
		Status:  status,
		Code:    code,
		Message: err.Error(),
	}
}
