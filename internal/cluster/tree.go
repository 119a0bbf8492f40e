package cluster

import (
	"math"
	"sort"

	"github.com/dhconnelly/rtreego"
)

// pointTol is the half-size of the rectangle each node occupies in the tree.
const pointTol = 1e-12

// node is one entry of a zoom level: a leaf, a carried-down leaf or cluster,
// or a cluster created at that level.
type node struct {
	x, y      float64
	zoom      float64 // last zoom at which the node was processed, +Inf if never
	id        int     // source index for leaves, cluster id for clusters
	parentID  int     // cluster that absorbed the node one level down, -1 if none
	numPoints int
}

func (n node) isCluster() bool {
	return n.numPoints > 1
}

// entry adapts a node index to rtreego.Spatial.
type entry struct {
	idx  int
	rect rtreego.Rect
}

func (e *entry) Bounds() rtreego.Rect {
	return e.rect
}

// level holds the nodes of one zoom together with their R-tree.
type level struct {
	nodes []node
	tree  *rtreego.Rtree
}

func newLevel(nodes []node, nodeSize int) *level {
	objs := make([]rtreego.Spatial, len(nodes))
	for i, n := range nodes {
		objs[i] = &entry{idx: i, rect: rtreego.Point{n.x, n.y}.ToRect(pointTol)}
	}
	minChildren := nodeSize / 2
	if minChildren < 2 {
		minChildren = 2
	}
	return &level{
		nodes: nodes,
		tree:  rtreego.NewTree(2, minChildren, nodeSize, objs...),
	}
}

// rangeIDs returns the indices of nodes inside [minX,maxX]x[minY,maxY],
// boundaries included, in ascending order.
func (l *level) rangeIDs(minX, minY, maxX, maxY float64) []int {
	pad := 2 * pointTol
	rect, err := rtreego.NewRectFromPoints(
		rtreego.Point{minX - pad, minY - pad},
		rtreego.Point{maxX + pad, maxY + pad},
	)
	if err != nil {
		return nil
	}
	var ids []int
	for _, s := range l.tree.SearchIntersect(rect) {
		e := s.(*entry)
		n := l.nodes[e.idx]
		if n.x >= minX && n.x <= maxX && n.y >= minY && n.y <= maxY {
			ids = append(ids, e.idx)
		}
	}
	sort.Ints(ids)
	return ids
}

// within returns the indices of nodes whose distance to (x, y) is at most r,
// in ascending order.
func (l *level) within(x, y, r float64) []int {
	candidates := l.rangeIDs(x-r, y-r, x+r, y+r)
	r2 := r * r
	ids := candidates[:0]
	for _, i := range candidates {
		n := l.nodes[i]
		dx, dy := n.x-x, n.y-y
		if dx*dx+dy*dy <= r2 {
			ids = append(ids, i)
		}
	}
	return ids
}

// clusterLevel builds level zoom from the nodes of level zoom+1. It marks
// absorbed nodes of the finer level with their parent cluster id in place.
func clusterLevel(finer *level, zoom int, opts Options, numSource int) []node {
	r := opts.Radius / (float64(opts.Extent) * math.Pow(2, float64(zoom)))
	z := float64(zoom)
	nodes := finer.nodes
	next := make([]node, 0, len(nodes))

	for i := range nodes {
		if nodes[i].zoom <= z {
			continue
		}
		nodes[i].zoom = z

		origin := nodes[i]
		neighbors := finer.within(origin.x, origin.y, r)

		numPoints := origin.numPoints
		for _, k := range neighbors {
			if nodes[k].zoom > z {
				numPoints += nodes[k].numPoints
			}
		}

		if numPoints > origin.numPoints && numPoints >= opts.MinPoints {
			wx := origin.x * float64(origin.numPoints)
			wy := origin.y * float64(origin.numPoints)
			id := (i << 5) + (zoom + 1) + numSource

			for _, k := range neighbors {
				if nodes[k].zoom <= z {
					continue
				}
				nodes[k].zoom = z
				wx += nodes[k].x * float64(nodes[k].numPoints)
				wy += nodes[k].y * float64(nodes[k].numPoints)
				nodes[k].parentID = id
			}
			nodes[i].parentID = id

			next = append(next, node{
				x:         wx / float64(numPoints),
				y:         wy / float64(numPoints),
				zoom:      math.Inf(1),
				id:        id,
				parentID:  -1,
				numPoints: numPoints,
			})
			continue
		}

		next = append(next, carry(origin))
		if numPoints > 1 {
			for _, k := range neighbors {
				if nodes[k].zoom <= z {
					continue
				}
				nodes[k].zoom = z
				next = append(next, carry(nodes[k]))
			}
		}
	}
	return next
}

// carry copies a node unchanged into the next coarser level.
func carry(n node) node {
	n.zoom = math.Inf(1)
	n.parentID = -1
	return n
}
