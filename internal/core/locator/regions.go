package locator

import (
	"slices"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"

	"github.com/samirrijal/voltmap/internal/core/domain"
	"github.com/samirrijal/voltmap/internal/pkg/geospatial"
)

// RegionCache remembers the areas covered by recent successful fetches.
// It belongs to a single coordinator and is only touched from its loop.
type RegionCache struct {
	clock     clockwork.Clock
	limit     int
	threshold float64
	regions   []domain.FetchedRegion
}

// NewRegionCache keeps at most limit regions. A candidate counts as covered
// when a single retained region overlaps threshold percent of it or more.
func NewRegionCache(limit int, threshold float64, clock clockwork.Clock) *RegionCache {
	if limit <= 0 {
		limit = 10
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RegionCache{clock: clock, limit: limit, threshold: threshold}
}

// Coverage returns the best single-region overlap percentage for candidate.
// The union of regions is deliberately not considered.
func (c *RegionCache) Coverage(candidate orb.Bound) float64 {
	best := 0.0
	for _, r := range c.regions {
		if pct := geospatial.OverlapPercent(candidate, r.Bounds.Bound()); pct > best {
			best = pct
		}
	}
	return best
}

// Covered reports whether candidate needs no new fetch.
func (c *RegionCache) Covered(candidate orb.Bound) bool {
	return len(c.regions) > 0 && c.Coverage(candidate) >= c.threshold
}

// Record appends a region stamped with the current time, evicting the
// oldest entries beyond the cap.
func (c *RegionCache) Record(b orb.Bound) domain.FetchedRegion {
	r := domain.FetchedRegion{Bounds: domain.BoundsFromOrb(b), CreatedAt: c.clock.Now()}
	c.regions = append(c.regions, r)
	if over := len(c.regions) - c.limit; over > 0 {
		c.regions = slices.Delete(c.regions, 0, over)
	}
	return r
}

// Regions returns the retained regions, oldest first.
func (c *RegionCache) Regions() []domain.FetchedRegion {
	return slices.Clone(c.regions)
}

// Limit is the number of regions retained.
func (c *RegionCache) Limit() int {
	return c.limit
}

func (c *RegionCache) Len() int {
	return len(c.regions)
}
