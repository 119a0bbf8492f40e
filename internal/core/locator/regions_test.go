package locator

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/voltmap/internal/pkg/geospatial"
)

func TestRegionCache_IdenticalCandidateIsCovered(t *testing.T) {
	c := NewRegionCache(10, 80, clockwork.NewFakeClockAt(t0))
	b := geospatial.CoverageBound(43.2630, -2.9350, 2500)

	assert.False(t, c.Covered(b), "an empty cache covers nothing")
	c.Record(b)

	assert.GreaterOrEqual(t, c.Coverage(b), 80.0)
	assert.True(t, c.Covered(b))
}

func TestRegionCache_DisjointCandidateIsNotCovered(t *testing.T) {
	c := NewRegionCache(10, 80, clockwork.NewFakeClockAt(t0))
	c.Record(geospatial.CoverageBound(43.2630, -2.9350, 2500))

	far := geospatial.CoverageBound(40.4168, -3.7038, 2500)
	assert.Zero(t, c.Coverage(far))
	assert.False(t, c.Covered(far))
}

func TestRegionCache_PartialOverlapBelowThreshold(t *testing.T) {
	c := NewRegionCache(10, 80, clockwork.NewFakeClockAt(t0))
	b := geospatial.CoverageBound(0, 0, 10000)
	c.Record(b)

	// shifted by half its width
	shifted := b
	w := b.Max[0] - b.Min[0]
	shifted.Min[0] += w / 2
	shifted.Max[0] += w / 2

	assert.InDelta(t, 50, c.Coverage(shifted), 1e-6)
	assert.False(t, c.Covered(shifted))
}

func TestRegionCache_EvictsOldestAndStamps(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	c := NewRegionCache(3, 80, clock)

	for i := range 5 {
		c.Record(geospatial.CoverageBound(float64(i*10), 0, 1000))
		clock.Advance(time.Minute)
	}

	regions := c.Regions()
	require.Len(t, regions, 3)
	assert.Equal(t, t0.Add(2*time.Minute), regions[0].CreatedAt)
	assert.Equal(t, t0.Add(4*time.Minute), regions[2].CreatedAt)
	assert.Zero(t, c.Coverage(geospatial.CoverageBound(0, 0, 1000)), "the oldest region was evicted")
}

func TestRegionCache_DefaultLimit(t *testing.T) {
	c := NewRegionCache(0, 80, nil)
	for i := range 12 {
		c.Record(geospatial.CoverageBound(float64(i), 0, 100))
	}
	assert.Equal(t, 10, c.Len())
}
