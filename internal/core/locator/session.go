package locator

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/samirrijal/voltmap/internal/cluster/worker"
	"github.com/samirrijal/voltmap/internal/core/domain"
	"github.com/samirrijal/voltmap/internal/core/ports"
	"github.com/samirrijal/voltmap/internal/pkg/geospatial"
)

// Session is one interactive map: its event loop, shared state, index
// worker, fetch coordinator and viewport adapter. Its exported methods are
// safe for concurrent use.
type Session struct {
	ID string

	ctx     context.Context
	cancel  context.CancelFunc
	loop    *Loop
	tasks   *tasks
	store   *Store
	index   ports.StationIndexer
	closeFn func()
	coord   *Coordinator
	adapter *ViewportAdapter
	clock   clockwork.Clock
	log     *slog.Logger

	lastSeen  atomic.Int64
	watchers  atomic.Int32
	closeOnce sync.Once
}

// NewSession starts a session backed by its own index worker.
func NewSession(id string, cfg Config, deps Deps) *Session {
	deps = deps.withDefaults()
	logger := deps.Logger.With("session", id)
	client := worker.NewClient(worker.New(cfg.Cluster, logger), logger)
	return newSession(id, cfg, deps, client, client.Close)
}

func newSession(id string, cfg Config, deps Deps, index ports.StationIndexer, closeIndex func()) *Session {
	deps = deps.withDefaults()
	logger := deps.Logger.With("session", id)
	ctx, cancel := context.WithCancel(context.Background())

	loop := NewLoop(logger)
	t := &tasks{loop: loop}
	store := NewStore(id, deps.Events, logger)
	coord := newCoordinator(ctx, id, cfg, store, t, index, deps)

	s := &Session{
		ID:      id,
		ctx:     ctx,
		cancel:  cancel,
		loop:    loop,
		tasks:   t,
		store:   store,
		index:   index,
		closeFn: closeIndex,
		coord:   coord,
		adapter: newViewportAdapter(ctx, cfg, coord, index, store, t, deps.Clock, logger),
		clock:   deps.Clock,
		log:     logger,
	}
	s.touch()
	return s
}

func (s *Session) touch() {
	s.lastSeen.Store(s.clock.Now().UnixNano())
}

// LastActive returns the time of the last client interaction.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// Watch marks the session as observed by a live connection until release
// is called. Watched sessions are never reaped.
func (s *Session) Watch() (release func()) {
	s.watchers.Add(1)
	s.touch()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.touch()
			s.watchers.Add(-1)
		})
	}
}

// Watched reports whether a live connection is observing the session.
func (s *Session) Watched() bool {
	return s.watchers.Load() > 0
}

// MapReady signals that the map has been created with its first viewport.
func (s *Session) MapReady(ctx context.Context, vp domain.Viewport) error {
	s.touch()
	return s.loop.Call(ctx, func() { s.adapter.MapReady(vp) })
}

// ViewportChanged reports the end of a pan or zoom.
func (s *Session) ViewportChanged(ctx context.Context, vp domain.Viewport, kind EventKind) (Decision, error) {
	s.touch()
	var d Decision
	err := s.loop.Call(ctx, func() { d = s.adapter.ViewportChanged(vp, kind) })
	return d, err
}

// ExpandCluster returns the zoom at which a clicked cluster splits.
func (s *Session) ExpandCluster(ctx context.Context, clusterID int) (int, error) {
	s.touch()
	zoom, err := s.index.GetClusterExpansionZoom(ctx, clusterID)
	if err != nil {
		s.loop.Post(func() { s.store.SetClusterError("Expansion zoom error: " + err.Error()) })
		return 0, err
	}
	return zoom, nil
}

// Children returns the direct children of a cluster.
func (s *Session) Children(ctx context.Context, clusterID int) ([]domain.ClusterFeature, error) {
	s.touch()
	return s.index.GetChildren(ctx, clusterID)
}

// Select marks a station as selected in both the map and the sidebar.
// An empty id clears the selection.
func (s *Session) Select(stationID string) error {
	s.touch()
	if stationID != "" && !slices.ContainsFunc(s.store.Snapshot().Stations, func(p domain.StationPoint) bool {
		return p.ID == stationID
	}) {
		return fmt.Errorf("%w: station %s is not on the map", domain.ErrNotFound, stationID)
	}
	s.store.Select(stationID)
	return nil
}

// Snapshot returns the current shared state.
func (s *Session) Snapshot() domain.SessionState {
	return s.store.Snapshot()
}

// Regions returns the areas already covered by fetches.
func (s *Session) Regions(ctx context.Context) ([]domain.FetchedRegion, error) {
	var out []domain.FetchedRegion
	err := s.loop.Call(ctx, func() { out = s.coord.Regions() })
	return out, err
}

// Sidebar lists the displayed stations nearest the viewport center first.
func (s *Session) Sidebar() []domain.SidebarEntry {
	st := s.store.Snapshot()
	entries := make([]domain.SidebarEntry, 0, len(st.Stations))
	for _, p := range st.Stations {
		e := domain.SidebarEntry{Point: p, Selected: p.ID == st.SelectedID}
		if st.Viewport != nil {
			c := st.Viewport.Center()
			e.Distance = geospatial.Haversine(c.Lat, c.Lon, p.Latitude, p.Longitude)
		}
		entries = append(entries, e)
	}
	slices.SortStableFunc(entries, func(a, b domain.SidebarEntry) int {
		return cmp.Compare(a.Distance, b.Distance)
	})
	return entries
}

// Phase reports the viewport adapter's lifecycle state.
func (s *Session) Phase(ctx context.Context) (string, error) {
	var p string
	err := s.loop.Call(ctx, func() { p = s.adapter.Phase() })
	return p, err
}

// Wait blocks until all asynchronous work started so far has settled.
// It must not be called after Close.
func (s *Session) Wait() {
	s.tasks.wait()
}

// Close detaches the session. In-flight fetches and worker requests finish
// but their results are discarded.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.loop.Close()
		if s.closeFn != nil {
			s.closeFn()
		}
		s.log.Info("session closed")
	})
}
