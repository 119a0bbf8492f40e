package locator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/samirrijal/voltmap/internal/core/domain"
	"github.com/samirrijal/voltmap/internal/core/ports"
)

// EventKind names the map interaction that produced a viewport change.
type EventKind string

const (
	EventMoveEnd EventKind = "moveend"
	EventZoomEnd EventKind = "zoomend"
)

// DecisionDeferred is returned for viewport changes that arrive before the
// initial fetch has run; they are only recorded.
const DecisionDeferred Decision = "deferred"

type phase int

const (
	phaseIdle phase = iota
	phaseInitialPending
	phaseActive
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseInitialPending:
		return "initial_fetch_pending"
	default:
		return "active"
	}
}

// ViewportAdapter turns map events into coordinator evaluations and cluster
// queries. Like the coordinator it is driven from the session loop.
type ViewportAdapter struct {
	ctx   context.Context
	cfg   Config
	coord *Coordinator
	index ports.StationIndexer
	store *Store
	tasks *tasks
	clock clockwork.Clock
	log   *slog.Logger

	phase      phase
	current    *domain.Viewport
	indexReady bool
	querying   bool
	stale      bool
}

func newViewportAdapter(ctx context.Context, cfg Config, coord *Coordinator, index ports.StationIndexer,
	store *Store, t *tasks, clock clockwork.Clock, logger *slog.Logger) *ViewportAdapter {
	a := &ViewportAdapter{
		ctx:   ctx,
		cfg:   cfg,
		coord: coord,
		index: index,
		store: store,
		tasks: t,
		clock: clock,
		log:   logger.With("component", "viewport-adapter"),
	}
	coord.onIndexLoaded = a.indexLoaded
	return a
}

// MapReady records the initial viewport and schedules the one initial fetch.
// Repeated calls only update the viewport.
func (a *ViewportAdapter) MapReady(vp domain.Viewport) {
	a.record(vp)
	if a.phase != phaseIdle {
		return
	}
	a.phase = phaseInitialPending
	if a.cfg.InitialFetchDelay <= 0 {
		a.initialFetch()
		return
	}
	a.tasks.after(a.clock, a.cfg.InitialFetchDelay, a.initialFetch)
}

func (a *ViewportAdapter) initialFetch() {
	if a.phase != phaseInitialPending {
		return
	}
	a.phase = phaseActive
	if a.current == nil {
		return
	}
	d := a.coord.Evaluate(*a.current)
	a.log.Debug("initial fetch", "decision", d)
	a.refresh()
}

// ViewportChanged handles the end of a pan or zoom. Once active it always
// evaluates the fetch decision first and then, when the index is loaded,
// queries clusters for the new viewport whether or not a fetch started.
func (a *ViewportAdapter) ViewportChanged(vp domain.Viewport, kind EventKind) Decision {
	a.record(vp)
	if a.phase != phaseActive {
		return DecisionDeferred
	}
	d := a.coord.Evaluate(vp)
	a.log.Debug("viewport changed", "event", kind, "zoom", vp.Zoom, "decision", d)
	a.refresh()
	return d
}

func (a *ViewportAdapter) record(vp domain.Viewport) {
	a.current = &vp
	a.store.SetViewport(vp)
}

// refresh keeps at most one clusters query in flight. Changes that arrive
// meanwhile collapse into a single follow-up for the latest viewport.
func (a *ViewportAdapter) refresh() {
	if !a.indexReady || a.current == nil {
		return
	}
	if a.querying {
		a.stale = true
		return
	}
	a.querying = true
	vp := *a.current
	a.tasks.goThen(func() func() {
		features, err := a.index.GetClusters(a.ctx, vp.BBox(), vp.Zoom)
		return func() { a.clustersDone(features, err) }
	})
}

func (a *ViewportAdapter) clustersDone(features []domain.ClusterFeature, err error) {
	a.querying = false
	if a.stale {
		a.stale = false
		a.refresh()
		return
	}
	if err != nil {
		a.log.Warn("clusters query failed", "error", err)
		a.store.SetClusterError("Clusters error: " + err.Error())
		if errors.Is(err, domain.ErrChannel) {
			a.degrade()
		}
		return
	}
	a.store.SetClusterError("")
	a.store.SetClusters(features, false)
}

func (a *ViewportAdapter) indexLoaded(err error) {
	if err != nil {
		a.log.Warn("index load failed", "error", err)
		a.indexReady = false
		a.store.SetIndexReady(false)
		a.store.SetClusterError("Load error: " + err.Error())
		if errors.Is(err, domain.ErrChannel) {
			a.degrade()
		}
		return
	}
	a.indexReady = true
	a.store.SetIndexReady(true)
	a.store.SetClusterError("")
	a.refresh()
}

// degrade renders the stations inside the viewport as unclustered leaves.
func (a *ViewportAdapter) degrade() {
	if a.current == nil {
		return
	}
	vp := *a.current
	var leaves []domain.ClusterFeature
	for _, p := range a.store.Snapshot().Stations {
		if vp.Contains(p) {
			leaves = append(leaves, domain.NewLeafFeature(p))
		}
	}
	a.log.Info("clustering unavailable, showing stations unclustered", "stations", len(leaves))
	a.store.SetClusters(leaves, true)
}

// Phase reports the adapter's lifecycle state.
func (a *ViewportAdapter) Phase() string {
	return a.phase.String()
}
