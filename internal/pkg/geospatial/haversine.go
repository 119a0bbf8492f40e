package geospatial

import (
	"math"

	"github.com/paulmach/orb"
)

const earthRadiusKm = 6371.0

// Haversine calculates the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c * 1000 // meters
}

// BoundingBox returns a bounding box around a point with the given radius in meters.
func BoundingBox(lat, lon, radiusMeters float64) (minLat, minLon, maxLat, maxLon float64) {
	latDelta := radiusMeters / 111320.0
	lonDelta := radiusMeters / (111320.0 * math.Cos(toRad(lat)))

	return lat - latDelta, lon - lonDelta, lat + latDelta, lon + lonDelta
}

// CoverageBound is BoundingBox expressed as an orb.Bound (X = lon, Y = lat).
func CoverageBound(lat, lon, radiusMeters float64) orb.Bound {
	minLat, minLon, maxLat, maxLon := BoundingBox(lat, lon, radiusMeters)
	return orb.Bound{
		Min: orb.Point{minLon, minLat},
		Max: orb.Point{maxLon, maxLat},
	}
}

// ViewportRadius is the distance from the viewport center to its north-east
// corner, rounded to whole meters.
func ViewportRadius(centerLat, centerLon, northLat, eastLon float64) float64 {
	return math.Round(Haversine(centerLat, centerLon, northLat, eastLon))
}

// OverlapPercent returns the share of candidate covered by region, in percent.
// Areas are planar in degree space. A zero-area candidate yields 0.
func OverlapPercent(candidate, region orb.Bound) float64 {
	area := boundArea(candidate)
	if area <= 0 || !candidate.Intersects(region) {
		return 0
	}
	inter := orb.Bound{
		Min: orb.Point{math.Max(candidate.Min.X(), region.Min.X()), math.Max(candidate.Min.Y(), region.Min.Y())},
		Max: orb.Point{math.Min(candidate.Max.X(), region.Max.X()), math.Min(candidate.Max.Y(), region.Max.Y())},
	}
	return boundArea(inter) / area * 100
}

func boundArea(b orb.Bound) float64 {
	w := b.Max.X() - b.Min.X()
	h := b.Max.Y() - b.Min.Y()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
