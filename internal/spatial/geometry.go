package spatial

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

const (
	kmPerDegreeLat = 110.574
	kmPerDegreeLon = 111.320 // at the equator, scaled by cos(lat)
)

// DistanceKM is the great-circle distance between two points in kilometers.
func DistanceKM(a, b orb.Point) float64 {
	return geo.DistanceHaversine(a, b) / 1000.0
}

// BearingDeg is the initial bearing from a to b, normalized to [0, 360).
func BearingDeg(a, b orb.Point) float64 {
	bearing := geo.Bearing(a, b)
	if bearing < 0 {
		bearing += 360
	}
	return bearing
}

// distanceToPolygonKM returns the distance from a point to a polygon
// boundary in kilometers, 0 when the point lies inside. The closest boundary
// point is found in a local equirectangular frame (adequate at the tens-of-km
// scale of a join radius) and the final distance is great-circle.
func distanceToPolygonKM(p orb.Point, poly orb.Polygon) float64 {
	if planar.PolygonContains(poly, p) {
		return 0
	}
	best := math.Inf(1)
	for _, ring := range poly {
		for i := 0; i+1 < len(ring); i++ {
			closest := closestOnSegment(p, ring[i], ring[i+1])
			if d := DistanceKM(p, closest); d < best {
				best = d
			}
		}
	}
	return best
}

// closestOnSegment projects p onto segment ab in a local frame scaled so
// degree offsets approximate planar kilometers.
func closestOnSegment(p, a, b orb.Point) orb.Point {
	latScale := kmPerDegreeLat
	lonScale := kmPerDegreeLon * math.Cos(p.Lat()*math.Pi/180)

	ax, ay := (a[0]-p[0])*lonScale, (a[1]-p[1])*latScale
	bx, by := (b[0]-p[0])*lonScale, (b[1]-p[1])*latScale

	dx, dy := bx-ax, by-ay
	segLenSq := dx*dx + dy*dy
	if segLenSq == 0 {
		return a
	}
	t := -(ax*dx + ay*dy) / segLenSq
	t = math.Max(0, math.Min(1, t))
	return orb.Point{a[0] + t*(b[0]-a[0]), a[1] + t*(b[1]-a[1])}
}

// polygonsIntersect reports whether two polygons overlap: either contains a
// vertex of the other, or any pair of edges crosses.
func polygonsIntersect(a, b orb.Polygon) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	for _, p := range a[0] {
		if planar.PolygonContains(b, p) {
			return true
		}
	}
	for _, p := range b[0] {
		if planar.PolygonContains(a, p) {
			return true
		}
	}
	for _, ringA := range a {
		for _, ringB := range b {
			if ringsCross(ringA, ringB) {
				return true
			}
		}
	}
	return false
}

func ringsCross(a, b orb.Ring) bool {
	for i := 0; i+1 < len(a); i++ {
		for j := 0; j+1 < len(b); j++ {
			if segmentsIntersect(a[i], a[i+1], b[j], b[j+1]) {
				return true
			}
		}
	}
	return false
}

func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return (d1 == 0 && onSegment(q1, q2, p1)) ||
		(d2 == 0 && onSegment(q1, q2, p2)) ||
		(d3 == 0 && onSegment(p1, p2, q1)) ||
		(d4 == 0 && onSegment(p1, p2, q2))
}

func cross(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func onSegment(a, b, p orb.Point) bool {
	return math.Min(a[0], b[0]) <= p[0] && p[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= p[1] && p[1] <= math.Max(a[1], b[1])
}

// padBound grows a point into a bound covering radiusKM in every direction.
// Longitude padding widens with latitude so the bound is never too small.
func padBound(p orb.Point, radiusKM float64) orb.Bound {
	dLat := radiusKM / kmPerDegreeLat
	cosLat := math.Cos(p.Lat() * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	dLon := radiusKM / (kmPerDegreeLon * cosLat)
	return orb.Bound{
		Min: orb.Point{p[0] - dLon, p[1] - dLat},
		Max: orb.Point{p[0] + dLon, p[1] + dLat},
	}
}

// boundOverlapArea returns the overlap of two bounds in deg^2, used as the
// relative weight when averaging weather cells over a large farm. Absolute
// units cancel out in the normalization.
func boundOverlapArea(a, b orb.Bound) float64 {
	w := math.Min(a.Max[0], b.Max[0]) - math.Max(a.Min[0], b.Min[0])
	h := math.Min(a.Max[1], b.Max[1]) - math.Max(a.Min[1], b.Min[1])
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// areaKM2 is the geodesic area of a polygon in square kilometers.
func areaKM2(poly orb.Polygon) float64 {
	return math.Abs(geo.Area(poly)) / 1e6
}
