package region

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"

	"forestagree/internal/types"
)

const metersPerDegree = 2 * math.Pi * orb.EarthRadius / 360

// Circle returns a geodesic circle of radiusM around center as a polygon
// with the given number of segments, wound counter-clockwise.
func Circle(center orb.Point, radiusM float64, segments int) orb.Polygon {
	ring := make(orb.Ring, 0, segments+1)
	for i := 0; i < segments; i++ {
		bearing := -360 * float64(i) / float64(segments)
		ring = append(ring, geo.PointAtBearingAndDistance(center, bearing, radiusM))
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}

// Cluster groups geometries into the connected components of the union of
// their joinDistanceM buffers: two geometries share a cluster when they lie
// within 2*joinDistanceM of each other, directly or through a chain of other
// geometries. Clusters are ordered by their first member in input order, and
// each cluster's bound is the union of its members' bounds padded by
// joinDistanceM.
func Cluster(geoms []*types.AnalysisGeometry, joinDistanceM float64) []types.Cluster {
	uf := newUnionFind(len(geoms))
	bounds := make([]orb.Bound, len(geoms))
	padded := make([]orb.Bound, len(geoms))
	for i, g := range geoms {
		bounds[i] = g.Geometry.Bound()
		padded[i] = geo.BoundPad(bounds[i], joinDistanceM)
	}

	reach := 2 * joinDistanceM
	for i := range geoms {
		for j := i + 1; j < len(geoms); j++ {
			if uf.find(i) == uf.find(j) || !padded[i].Intersects(padded[j]) {
				continue
			}
			if separationM(geoms[i].Geometry, geoms[j].Geometry) <= reach {
				uf.union(i, j)
			}
		}
	}

	index := make(map[int]int)
	var clusters []types.Cluster
	for i, g := range geoms {
		root := uf.find(i)
		ci, ok := index[root]
		if !ok {
			ci = len(clusters)
			index[root] = ci
			clusters = append(clusters, types.Cluster{
				ID:    fmt.Sprintf("cluster-%d", ci),
				Bound: bounds[i],
			})
		}
		c := &clusters[ci]
		c.Bound = c.Bound.Union(bounds[i])
		c.MemberIDs = append(c.MemberIDs, g.ID)
	}
	for i := range clusters {
		clusters[i].Bound = geo.BoundPad(clusters[i].Bound, joinDistanceM)
	}
	return clusters
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
}

// separationM returns the shortest distance in meters between two areal (or
// point) geometries; zero when they overlap. Distances are measured in a
// local equirectangular projection around the pair, accurate well beyond
// the join distances used for clustering.
func separationM(a, b orb.Geometry) float64 {
	lat0 := (a.Bound().Center().Lat() + b.Bound().Center().Lat()) / 2
	proj := func(p orb.Point) orb.Point {
		return orb.Point{p.Lon() * metersPerDegree * math.Cos(lat0*math.Pi/180), p.Lat() * metersPerDegree}
	}

	pa, pb := project(a, proj), project(b, proj)
	if overlaps(pa, pb) || overlaps(pb, pa) {
		return 0
	}

	best := math.Inf(1)
	for _, p := range vertices(pa) {
		best = math.Min(best, planar.DistanceFrom(pb, p))
	}
	for _, p := range vertices(pb) {
		best = math.Min(best, planar.DistanceFrom(pa, p))
	}
	return best
}

func project(g orb.Geometry, f func(orb.Point) orb.Point) orb.Geometry {
	switch g := g.(type) {
	case orb.Point:
		return f(g)
	case orb.Ring:
		return projectRing(g, f)
	case orb.Polygon:
		return projectPolygon(g, f)
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(g))
		for i, p := range g {
			out[i] = projectPolygon(p, f)
		}
		return out
	case orb.Bound:
		return projectPolygon(g.ToPolygon(), f)
	}
	return f(g.Bound().Center())
}

func projectPolygon(p orb.Polygon, f func(orb.Point) orb.Point) orb.Polygon {
	out := make(orb.Polygon, len(p))
	for i, r := range p {
		out[i] = projectRing(r, f)
	}
	return out
}

func projectRing(r orb.Ring, f func(orb.Point) orb.Point) orb.Ring {
	out := make(orb.Ring, len(r))
	for i, p := range r {
		out[i] = f(p)
	}
	return out
}

// overlaps reports whether any vertex of b lies inside a.
func overlaps(a, b orb.Geometry) bool {
	for _, p := range vertices(b) {
		switch a := a.(type) {
		case orb.Polygon:
			if planar.PolygonContains(a, p) {
				return true
			}
		case orb.MultiPolygon:
			if planar.MultiPolygonContains(a, p) {
				return true
			}
		}
	}
	return false
}

func vertices(g orb.Geometry) []orb.Point {
	switch g := g.(type) {
	case orb.Point:
		return []orb.Point{g}
	case orb.Ring:
		return g
	case orb.Polygon:
		var out []orb.Point
		for _, r := range g {
			out = append(out, r...)
		}
		return out
	case orb.MultiPolygon:
		var out []orb.Point
		for _, p := range g {
			out = append(out, vertices(p)...)
		}
		return out
	}
	return nil
}
