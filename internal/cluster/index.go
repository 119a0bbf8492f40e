// Package cluster implements a hierarchical point clusterer for map
// viewports. Points are clustered once per Load at every zoom level from
// MaxZoom down to MinZoom; viewport queries are range lookups on the
// per-level R-trees.
package cluster

import (
	"fmt"
	"math"

	"github.com/samirrijal/voltmap/internal/core/domain"
)

// Index is a hierarchical cluster index. It is not safe for concurrent use;
// the index worker serializes all access to it.
type Index struct {
	opts   Options
	points []domain.StationPoint
	levels []*level // indexed by zoom, MinZoom..MaxZoom+1
}

// New creates an empty index. Query methods fail until Load succeeds.
func New(opts Options) *Index {
	return &Index{opts: opts.normalize()}
}

// Options returns the effective configuration.
func (idx *Index) Options() Options {
	return idx.opts
}

// Loaded reports whether the index holds a built point set.
func (idx *Index) Loaded() bool {
	return idx.levels != nil
}

// Len returns the number of indexed points.
func (idx *Index) Len() int {
	return len(idx.points)
}

// Load replaces the indexed point set and rebuilds every zoom level.
// It fails without modifying the index if any point has an invalid coordinate.
func (idx *Index) Load(points []domain.StationPoint) error {
	for i, p := range points {
		if !p.Valid() {
			return fmt.Errorf("%w: point %d (%q) has invalid coordinate lat=%v lng=%v",
				domain.ErrIndex, i, p.ID, p.Latitude, p.Longitude)
		}
	}

	src := make([]domain.StationPoint, len(points))
	copy(src, points)

	leaves := make([]node, len(src))
	for i, p := range src {
		leaves[i] = node{
			x:         lngX(p.Longitude),
			y:         latY(p.Latitude),
			zoom:      math.Inf(1),
			id:        i,
			parentID:  -1,
			numPoints: 1,
		}
	}

	levels := make([]*level, idx.opts.MaxZoom+2)
	levels[idx.opts.MaxZoom+1] = newLevel(leaves, idx.opts.NodeSize)
	for z := idx.opts.MaxZoom; z >= idx.opts.MinZoom; z-- {
		levels[z] = newLevel(clusterLevel(levels[z+1], z, idx.opts, len(src)), idx.opts.NodeSize)
	}

	idx.points = src
	idx.levels = levels
	return nil
}

// GetClusters returns the clusters and leaves visible in bbox
// ([west, south, east, north]) at zoom. Fractional zooms are floored.
func (idx *Index) GetClusters(bbox [4]float64, zoom float64) ([]domain.ClusterFeature, error) {
	if !idx.Loaded() {
		return nil, fmt.Errorf("%w: index not initialized", domain.ErrIndex)
	}
	for _, v := range bbox {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: invalid bbox %v", domain.ErrIndex, bbox)
		}
	}
	if math.IsNaN(zoom) {
		return nil, fmt.Errorf("%w: invalid zoom", domain.ErrIndex)
	}

	z := idx.limitZoom(math.Floor(zoom))
	minLng := wrapLng(bbox[0])
	maxLng := 180.0
	if bbox[2] != 180 {
		maxLng = wrapLng(bbox[2])
	}
	minLat := clampLat(bbox[1])
	maxLat := clampLat(bbox[3])

	if bbox[2]-bbox[0] >= 360 {
		minLng, maxLng = -180, 180
	} else if minLng > maxLng {
		// crosses the antimeridian: query both sides
		east := idx.collect(z, minLng, minLat, 180, maxLat)
		west := idx.collect(z, -180, minLat, maxLng, maxLat)
		return append(east, west...), nil
	}
	return idx.collect(z, minLng, minLat, maxLng, maxLat), nil
}

func (idx *Index) collect(z int, minLng, minLat, maxLng, maxLat float64) []domain.ClusterFeature {
	l := idx.levels[z]
	ids := l.rangeIDs(lngX(minLng), latY(maxLat), lngX(maxLng), latY(minLat))
	out := make([]domain.ClusterFeature, 0, len(ids))
	for _, i := range ids {
		out = append(out, idx.feature(l.nodes[i]))
	}
	return out
}

// GetChildren returns the direct children of a cluster one zoom level down.
func (idx *Index) GetChildren(clusterID int) ([]domain.ClusterFeature, error) {
	if !idx.Loaded() {
		return nil, fmt.Errorf("%w: index not initialized", domain.ErrIndex)
	}
	originID, originZoom, ok := idx.decode(clusterID)
	if !ok {
		return nil, notFound(clusterID)
	}
	l := idx.levels[originZoom]
	if originID >= len(l.nodes) {
		return nil, notFound(clusterID)
	}

	r := idx.opts.Radius / (float64(idx.opts.Extent) * math.Pow(2, float64(originZoom-1)))
	origin := l.nodes[originID]

	var children []domain.ClusterFeature
	for _, i := range l.within(origin.x, origin.y, r) {
		if l.nodes[i].parentID == clusterID {
			children = append(children, idx.feature(l.nodes[i]))
		}
	}
	if len(children) == 0 {
		return nil, notFound(clusterID)
	}
	return children, nil
}

// GetClusterExpansionZoom returns the lowest zoom at which the cluster
// separates into more than one child.
func (idx *Index) GetClusterExpansionZoom(clusterID int) (int, error) {
	if !idx.Loaded() {
		return 0, fmt.Errorf("%w: index not initialized", domain.ErrIndex)
	}
	_, originZoom, ok := idx.decode(clusterID)
	if !ok {
		return 0, notFound(clusterID)
	}

	expansionZoom := originZoom - 1
	for expansionZoom <= idx.opts.MaxZoom {
		children, err := idx.GetChildren(clusterID)
		if err != nil {
			return 0, err
		}
		expansionZoom++
		if len(children) != 1 || !children[0].Cluster {
			break
		}
		clusterID = children[0].ClusterID
	}
	return expansionZoom, nil
}

// GetLeaves returns up to limit source points under a cluster, skipping offset.
func (idx *Index) GetLeaves(clusterID, limit, offset int) ([]domain.StationPoint, error) {
	if limit <= 0 {
		limit = 10
	}
	var leaves []domain.StationPoint
	skipped := 0
	if err := idx.appendLeaves(&leaves, clusterID, limit, offset, &skipped); err != nil {
		return nil, err
	}
	return leaves, nil
}

func (idx *Index) appendLeaves(out *[]domain.StationPoint, clusterID, limit, offset int, skipped *int) error {
	children, err := idx.GetChildren(clusterID)
	if err != nil {
		return err
	}
	for _, c := range children {
		if len(*out) == limit {
			return nil
		}
		if c.Cluster {
			if *skipped+c.PointCount <= offset {
				*skipped += c.PointCount
				continue
			}
			if err := idx.appendLeaves(out, c.ClusterID, limit, offset, skipped); err != nil {
				return err
			}
			continue
		}
		if *skipped < offset {
			*skipped++
			continue
		}
		*out = append(*out, *c.Point)
	}
	return nil
}

// decode splits a cluster id into the node index and the level it lives on.
func (idx *Index) decode(clusterID int) (originID, originZoom int, ok bool) {
	rel := clusterID - len(idx.points)
	if rel < 0 {
		return 0, 0, false
	}
	originID = rel >> 5
	originZoom = rel % 32
	if originZoom < idx.opts.MinZoom+1 || originZoom > idx.opts.MaxZoom+1 {
		return 0, 0, false
	}
	return originID, originZoom, true
}

func (idx *Index) limitZoom(z float64) int {
	lo := float64(idx.opts.MinZoom)
	hi := float64(idx.opts.MaxZoom + 1)
	return int(math.Max(lo, math.Min(z, hi)))
}

func (idx *Index) feature(n node) domain.ClusterFeature {
	if n.isCluster() {
		return domain.NewClusterFeature(n.id, n.numPoints, xLng(n.x), yLat(n.y))
	}
	return domain.NewLeafFeature(idx.points[n.id])
}

func notFound(clusterID int) error {
	return fmt.Errorf("%w: no cluster with id %d", domain.ErrNotFound, clusterID)
}
