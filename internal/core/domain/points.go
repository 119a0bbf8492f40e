package domain

import (
	"strconv"
	"time"
)

// StationPoint is the minimal unit admitted to the spatial index.
type StationPoint struct {
	ID        string  `json:"id"`
	StationID string  `json:"stationId,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Distance  float64 `json:"distance,omitempty"`
}

// Valid reports whether the point may enter the index or rendered state.
func (p StationPoint) Valid() bool {
	return ValidCoordinate(p.Latitude, p.Longitude)
}

// PointFromStation projects a fetched station onto its indexable point.
func PointFromStation(s Station) StationPoint {
	p := StationPoint{
		ID:        s.ID,
		StationID: s.StationID,
		Latitude:  s.Location.Lat,
		Longitude: s.Location.Lon,
	}
	if s.Distance != nil {
		p.Distance = *s.Distance
	}
	return p
}

// ClusterFeature is either a cluster aggregate or a single leaf point.
// Coordinates are [lng, lat] in both cases.
type ClusterFeature struct {
	Cluster               bool          `json:"cluster"`
	ClusterID             int           `json:"clusterId,omitempty"`
	PointCount            int           `json:"pointCount,omitempty"`
	PointCountAbbreviated string        `json:"pointCountAbbreviated,omitempty"`
	Coordinates           [2]float64    `json:"coordinates"`
	Point                 *StationPoint `json:"point,omitempty"`
}

// NewLeafFeature wraps p without modifying its coordinate.
func NewLeafFeature(p StationPoint) ClusterFeature {
	pt := p
	return ClusterFeature{
		Coordinates: [2]float64{p.Longitude, p.Latitude},
		Point:       &pt,
	}
}

// NewClusterFeature builds a cluster aggregate at the given centroid.
func NewClusterFeature(id, count int, lng, lat float64) ClusterFeature {
	return ClusterFeature{
		Cluster:               true,
		ClusterID:             id,
		PointCount:            count,
		PointCountAbbreviated: AbbreviateCount(count),
		Coordinates:           [2]float64{lng, lat},
	}
}

// AbbreviateCount renders a point count as shown on cluster markers:
// 1500 -> "1.5k", 12000 -> "12k".
func AbbreviateCount(n int) string {
	switch {
	case n >= 10000:
		return strconv.Itoa(int(float64(n)/1000+0.5)) + "k"
	case n >= 1000:
		return strconv.FormatFloat(float64(int(float64(n)/100+0.5))/10, 'f', -1, 64) + "k"
	default:
		return strconv.Itoa(n)
	}
}

// Viewport is the visible map rectangle plus the current zoom.
type Viewport struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
	Zoom  float64 `json:"zoom"`
}

// Center returns the midpoint of the viewport.
func (v Viewport) Center() GeoPoint {
	return GeoPoint{Lat: (v.South + v.North) / 2, Lon: (v.West + v.East) / 2}
}

// NorthEast returns the top-right corner.
func (v Viewport) NorthEast() GeoPoint {
	return GeoPoint{Lat: v.North, Lon: v.East}
}

// BBox returns [west, south, east, north].
func (v Viewport) BBox() [4]float64 {
	return [4]float64{v.West, v.South, v.East, v.North}
}

// Contains reports whether p lies inside the viewport rectangle.
func (v Viewport) Contains(p StationPoint) bool {
	if p.Latitude < v.South || p.Latitude > v.North {
		return false
	}
	if v.West <= v.East {
		return p.Longitude >= v.West && p.Longitude <= v.East
	}
	// crosses the antimeridian
	return p.Longitude >= v.West || p.Longitude <= v.East
}

// FetchedRegion records an area already covered by a successful fetch.
type FetchedRegion struct {
	Bounds    Bounds    `json:"bounds"`
	CreatedAt time.Time `json:"created_at"`
}
