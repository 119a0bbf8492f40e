package http

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/voltmap/internal/core/domain"
)

// featureCollection renders clusters and leaves the way map libraries
// expect them from a supercluster source.
func featureCollection(features []domain.ClusterFeature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		fc.Append(toFeature(f))
	}
	return fc
}

func toFeature(f domain.ClusterFeature) *geojson.Feature {
	gf := geojson.NewFeature(orb.Point{f.Coordinates[0], f.Coordinates[1]})
	if f.Cluster {
		gf.ID = f.ClusterID
		gf.Properties["cluster"] = true
		gf.Properties["cluster_id"] = f.ClusterID
		gf.Properties["point_count"] = f.PointCount
		gf.Properties["point_count_abbreviated"] = f.PointCountAbbreviated
		return gf
	}

	gf.Properties["cluster"] = false
	if p := f.Point; p != nil {
		gf.ID = p.ID
		gf.Properties["id"] = p.ID
		if p.StationID != "" {
			gf.Properties["stationId"] = p.StationID
		}
		if p.Distance > 0 {
			gf.Properties["distance"] = p.Distance
		}
	}
	return gf
}
