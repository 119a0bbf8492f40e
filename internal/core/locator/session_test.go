package locator

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/voltmap/internal/core/domain"
)

func nearGroupStations() []domain.Station {
	return []domain.Station{
		station("a", 43.2630, -2.9350),
		station("b", 43.2630, -2.9347),
		station("c", 43.2633, -2.9350),
		station("far", 43.2630, -2.8736),
	}
}

func TestSession_EndToEndWithWorker(t *testing.T) {
	finder := &fakeFinder{fn: func(context.Context, domain.NearQuery) ([]domain.Station, error) {
		return nearGroupStations(), nil
	}}
	s := NewSession("e2e", quietConfig(), Deps{Finder: finder, Clock: clockwork.NewFakeClockAt(t0), Logger: discardLogger()})
	t.Cleanup(s.Close)

	vp := domain.Viewport{West: -2.95, South: 43.25, East: -2.86, North: 43.28, Zoom: 12}
	require.NoError(t, s.MapReady(context.Background(), vp))
	s.Wait()

	snap := s.Snapshot()
	require.True(t, snap.IndexReady)
	require.Len(t, snap.Stations, 4)
	require.Len(t, snap.Clusters, 2)

	var clusterID int
	for _, f := range snap.Clusters {
		if f.Cluster {
			clusterID = f.ClusterID
			assert.Equal(t, 3, f.PointCount)
		}
	}
	require.NotZero(t, clusterID)

	zoom, err := s.ExpandCluster(context.Background(), clusterID)
	require.NoError(t, err)
	assert.Greater(t, zoom, 12)

	children, err := s.Children(context.Background(), clusterID)
	require.NoError(t, err)
	assert.NotEmpty(t, children)

	vp.Zoom = 17
	d, err := s.ViewportChanged(context.Background(), vp, EventZoomEnd)
	require.NoError(t, err)
	assert.Equal(t, DecisionCovered, d)
	s.Wait()
	assert.Len(t, s.Snapshot().Clusters, 4)
	assert.Len(t, finder.Calls(), 1)
}

func TestSession_SidebarSortedByDistance(t *testing.T) {
	finder := &fakeFinder{fn: func(context.Context, domain.NearQuery) ([]domain.Station, error) {
		return nearGroupStations(), nil
	}}
	s := newTestSession(t, quietConfig(), clockwork.NewFakeClockAt(t0), finder, &fakeIndex{}, nil)

	vp := domain.Viewport{West: -2.9360, South: 43.2620, East: -2.9340, North: 43.2640, Zoom: 16}
	require.NoError(t, s.MapReady(context.Background(), vp))
	s.Wait()

	require.NoError(t, s.Select("far"))
	entries := s.Sidebar()
	require.Len(t, entries, 4)
	assert.Equal(t, "far", entries[3].Point.ID)
	assert.True(t, entries[3].Selected)
	for i := 1; i < len(entries); i++ {
		assert.LessOrEqual(t, entries[i-1].Distance, entries[i].Distance)
	}
	for _, e := range entries[:3] {
		assert.False(t, e.Selected)
	}
}

func TestSession_SelectUnknownStation(t *testing.T) {
	s := newTestSession(t, quietConfig(), clockwork.NewFakeClockAt(t0), &fakeFinder{}, &fakeIndex{}, nil)

	err := s.Select("missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, s.Select(""))
	assert.Empty(t, s.Snapshot().SelectedID)
}

func TestSession_ClosedRejectsEvents(t *testing.T) {
	s := newTestSession(t, quietConfig(), clockwork.NewFakeClockAt(t0), &fakeFinder{}, &fakeIndex{}, nil)
	s.Close()

	_, err := s.ViewportChanged(context.Background(), bilbao, EventMoveEnd)
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, s.MapReady(context.Background(), bilbao), ErrSessionClosed)
}

func TestSession_CloseDiscardsInFlightResults(t *testing.T) {
	release := make(chan struct{})
	finder := &fakeFinder{fn: func(context.Context, domain.NearQuery) ([]domain.Station, error) {
		<-release
		return nearGroupStations(), nil
	}}
	s := newTestSession(t, quietConfig(), clockwork.NewFakeClockAt(t0), finder, &fakeIndex{}, nil)

	require.NoError(t, s.MapReady(context.Background(), bilbao))
	require.Eventually(t, func() bool { return len(finder.Calls()) == 1 }, 2*time.Second, 5*time.Millisecond)

	s.Close()
	close(release)

	assert.Never(t, func() bool { return len(s.Snapshot().Stations) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}
