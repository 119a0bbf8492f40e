package locator

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/voltmap/internal/core/domain"
)

func TestAdmitPoints(t *testing.T) {
	in := []domain.StationPoint{
		{ID: "ok", Latitude: 43.26, Longitude: -2.93},
		{ID: "lat", Latitude: 91, Longitude: 0},
		{ID: "lng", Latitude: 0, Longitude: -181},
		{ID: "nan", Latitude: math.NaN(), Longitude: 0},
		{ID: "inf", Latitude: 0, Longitude: math.Inf(1)},
		{StationID: "ext-7", Latitude: 1, Longitude: 1},
		{Latitude: 2, Longitude: 2},
	}
	out := AdmitPoints(in)
	require.Len(t, out, 3)
	assert.Equal(t, "ok", out[0].ID)
	assert.Equal(t, "ext-7", out[1].ID)
	assert.True(t, strings.HasPrefix(out[2].ID, "station-"))
}

func TestStore_VersionAndPublish(t *testing.T) {
	pub := &fakePublisher{}
	s := NewStore("s1", pub, discardLogger())

	s.SetLoading(true)
	s.SetLoading(true)
	s.SetError("boom")
	s.SetError("boom")

	snap := s.Snapshot()
	assert.Equal(t, uint64(2), snap.Version, "unchanged values do not bump the version")
	assert.Equal(t, "s1", snap.SessionID)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.states, 2)
	assert.True(t, pub.states[0].Loading)
	assert.Equal(t, "boom", pub.states[1].Error)
}

func TestStore_ProgressIsMonotonic(t *testing.T) {
	s := NewStore("s1", nil, nil)

	s.SetProgress(40)
	s.SetProgress(20)
	assert.Equal(t, 40, s.Snapshot().Progress)

	s.SetProgress(250)
	assert.Equal(t, 100, s.Snapshot().Progress)

	s.SetProgress(0)
	assert.Equal(t, 0, s.Snapshot().Progress)
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	s := NewStore("s1", nil, nil)
	s.SetStations([]domain.StationPoint{{ID: "a", Latitude: 1, Longitude: 1}})
	s.SetViewport(domain.Viewport{West: 0, South: 0, East: 1, North: 1, Zoom: 3})

	snap := s.Snapshot()
	snap.Stations[0].ID = "mutated"
	snap.Viewport.Zoom = 9

	again := s.Snapshot()
	assert.Equal(t, "a", again.Stations[0].ID)
	assert.Equal(t, 3.0, again.Viewport.Zoom)
}

func TestStore_SetStationsFiltersInvalid(t *testing.T) {
	s := NewStore("s1", nil, nil)
	got := s.SetStations([]domain.StationPoint{
		{ID: "a", Latitude: 1, Longitude: 1},
		{ID: "b", Latitude: 1000, Longitude: 1},
	})
	require.Len(t, got, 1)
	assert.Len(t, s.Snapshot().Stations, 1)
}
