package locator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/samirrijal/voltmap/internal/core/domain"
	"github.com/samirrijal/voltmap/internal/core/ports"
	"github.com/samirrijal/voltmap/internal/pkg/geospatial"
	"github.com/samirrijal/voltmap/internal/pkg/metrics"
)

// Decision is the outcome of evaluating a viewport.
type Decision string

const (
	// DecisionFetch means a fetch was started.
	DecisionFetch Decision = "fetched"
	// DecisionCovered means a retained region already covers the viewport.
	DecisionCovered Decision = "covered"
	// DecisionInFlight means a fetch is outstanding; the viewport is
	// re-evaluated when it completes.
	DecisionInFlight Decision = "in_flight"
	// DecisionInvalid means the viewport failed validation and was ignored.
	DecisionInvalid Decision = "invalid"
)

// DefaultFetchError is published when a failed fetch carries no message.
const DefaultFetchError = "Failed to fetch stations"

// Coordinator decides when the visible region warrants a new station fetch,
// runs at most one fetch at a time and feeds the results into the index.
// Its methods must be called on the session loop.
type Coordinator struct {
	ctx       context.Context
	sessionID string
	cfg       Config
	regions   *RegionCache
	finder    ports.StationFinder
	index     ports.StationIndexer
	events    ports.EventPublisher
	store     *Store
	loop      *Loop
	tasks     *tasks
	clock     clockwork.Clock
	log       *slog.Logger
	tracer    trace.Tracer

	busy     bool
	fetchSeq uint64
	progress int
	pending  *domain.Viewport
	// batches holds the points of each retained region, oldest first.
	// A batch is dropped together with the region it was fetched for.
	batches [][]domain.StationPoint
	points  []domain.StationPoint

	// at most one index load is outstanding; a newer point set waits in
	// queued and supersedes the running load's result
	loadBusy bool
	queued   []domain.StationPoint
	hasQueue bool

	// onIndexLoaded runs on the loop after every reload attempt.
	onIndexLoaded func(err error)
}

func newCoordinator(ctx context.Context, sessionID string, cfg Config, store *Store, t *tasks,
	index ports.StationIndexer, deps Deps) *Coordinator {
	return &Coordinator{
		ctx:       ctx,
		sessionID: sessionID,
		cfg:       cfg,
		regions:   NewRegionCache(cfg.MaxRegions, cfg.OverlapThreshold, deps.Clock),
		finder:    deps.Finder,
		index:     index,
		events:    deps.Events,
		store:     store,
		loop:      t.loop,
		tasks:     t,
		clock:     deps.Clock,
		log:       deps.Logger.With("component", "fetch-coordinator", "session", sessionID),
		tracer:    otel.Tracer("github.com/samirrijal/voltmap/internal/core/locator"),
	}
}

// Evaluate runs the fetch decision for vp.
func (c *Coordinator) Evaluate(vp domain.Viewport) Decision {
	d := c.evaluate(vp)
	metrics.FetchDecisions.WithLabelValues(string(d)).Inc()
	return d
}

func (c *Coordinator) evaluate(vp domain.Viewport) Decision {
	center := vp.Center()
	if err := c.validate(center, vp.Zoom); err != nil {
		c.log.Debug("viewport ignored", "error", err)
		return DecisionInvalid
	}

	ne := vp.NorthEast()
	radius := geospatial.ViewportRadius(center.Lat, center.Lon, ne.Lat, ne.Lon)
	candidate := geospatial.CoverageBound(center.Lat, center.Lon, radius)

	if c.busy {
		c.pending = &vp
		return DecisionInFlight
	}
	if c.regions.Covered(candidate) {
		c.log.Debug("viewport already covered", "coverage", c.regions.Coverage(candidate))
		return DecisionCovered
	}

	c.startFetch(domain.NearQuery{Latitude: center.Lat, Longitude: center.Lon, Distance: radius}, candidate)
	return DecisionFetch
}

func (c *Coordinator) validate(center domain.GeoPoint, zoom float64) error {
	if !center.Valid() {
		return fmt.Errorf("%w: center %v,%v out of range", domain.ErrValidation, center.Lat, center.Lon)
	}
	if math.IsNaN(zoom) || math.IsInf(zoom, 0) || zoom < c.cfg.MinZoom || zoom > c.cfg.MaxZoom {
		return fmt.Errorf("%w: zoom %v outside [%v, %v]", domain.ErrValidation, zoom, c.cfg.MinZoom, c.cfg.MaxZoom)
	}
	return nil
}

func (c *Coordinator) startFetch(q domain.NearQuery, candidate orb.Bound) {
	c.busy = true
	c.fetchSeq++
	c.progress = 0
	c.store.SetLoading(true)
	c.store.SetError("")
	c.store.SetProgress(0)
	stopProgress := c.startProgress()

	c.log.Info("fetching stations", "lat", q.Latitude, "lon", q.Longitude, "radius_m", q.Distance)

	c.tasks.goThen(func() func() {
		start := c.clock.Now()
		stations, err := c.fetch(q)
		elapsed := c.clock.Since(start)
		stopProgress()
		return func() { c.complete(q, candidate, stations, err, elapsed) }
	})
}

func (c *Coordinator) fetch(q domain.NearQuery) ([]domain.Station, error) {
	ctx := c.ctx
	if c.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.FetchTimeout)
		defer cancel()
	}
	ctx, span := c.tracer.Start(ctx, "locator.fetch", trace.WithAttributes(
		attribute.String("session.id", c.sessionID),
		attribute.Float64("query.distance", q.Distance),
	))
	defer span.End()

	stations, err := c.finder.FindNear(ctx, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("stations.count", len(stations)))
	return stations, nil
}

func (c *Coordinator) complete(q domain.NearQuery, candidate orb.Bound, stations []domain.Station, err error, elapsed time.Duration) {
	event := domain.FetchEvent{
		SessionID: c.sessionID,
		Query:     q,
		Region:    domain.BoundsFromOrb(candidate),
		Duration:  elapsed,
		At:        c.clock.Now(),
	}

	if err != nil {
		msg := fetchErrorMessage(err)
		c.log.Warn("station fetch failed", "error", fmt.Errorf("%w: %w", domain.ErrNetwork, err))
		c.store.SetError(msg)
		metrics.FetchDuration.WithLabelValues("error").Observe(elapsed.Seconds())
		event.Error = msg
	} else {
		c.regions.Record(candidate)

		fresh := make([]domain.StationPoint, 0, len(stations))
		for _, s := range stations {
			fresh = append(fresh, domain.PointFromStation(s))
		}
		fresh = AdmitPoints(fresh)
		all := c.store.SetStations(c.merge(fresh))

		c.log.Info("stations fetched", "received", len(stations), "valid", len(fresh), "total", len(all),
			"regions", c.regions.Len(), "elapsed", elapsed)
		metrics.FetchDuration.WithLabelValues("success").Observe(elapsed.Seconds())
		metrics.StationsFetched.Add(float64(len(fresh)))
		event.Stations = len(fresh)

		c.reload(all)
	}

	c.publishEvent(&event)
	c.finish()

	if c.pending != nil {
		vp := *c.pending
		c.pending = nil
		c.Evaluate(vp)
	}
}

// fetchErrorMessage prefers the collaborator's own message.
func fetchErrorMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return DefaultFetchError + ": timed out"
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return DefaultFetchError
}

// merge adds the batch of the region just recorded and rebuilds the point
// set from the batches still retained. A later batch replaces earlier
// records with the same id in place.
func (c *Coordinator) merge(fresh []domain.StationPoint) []domain.StationPoint {
	c.batches = append(c.batches, fresh)
	if over := len(c.batches) - c.regions.Limit(); over > 0 {
		c.batches = slices.Delete(c.batches, 0, over)
	}

	pos := make(map[string]int)
	points := make([]domain.StationPoint, 0, len(fresh))
	for _, batch := range c.batches {
		for _, p := range batch {
			if i, ok := pos[p.ID]; ok {
				points[i] = p
				continue
			}
			pos[p.ID] = len(points)
			points = append(points, p)
		}
	}
	c.points = points
	return slices.Clone(points)
}

// reload loads points into the index. Loads run one at a time in call
// order; only the newest pending set is kept while one is outstanding, and
// a superseded load does not report its outcome.
func (c *Coordinator) reload(points []domain.StationPoint) {
	if c.loadBusy {
		c.queued, c.hasQueue = points, true
		return
	}
	c.loadBusy = true
	c.tasks.goThen(func() func() {
		err := c.index.Load(c.ctx, points)
		return func() {
			c.loadBusy = false
			if c.hasQueue {
				next := c.queued
				c.queued, c.hasQueue = nil, false
				c.reload(next)
				return
			}
			if c.onIndexLoaded != nil {
				c.onIndexLoaded(err)
			}
		}
	})
}

// finish clears the busy flag and hides the loading indicator, after the
// completion delay when one is configured.
func (c *Coordinator) finish() {
	c.busy = false
	c.progress = 100
	c.store.SetProgress(100)

	if c.cfg.CompletionDelay <= 0 {
		c.store.SetLoading(false)
		return
	}

	seq := c.fetchSeq
	c.tasks.after(c.clock, c.cfg.CompletionDelay, func() {
		if !c.busy && c.fetchSeq == seq {
			c.store.SetLoading(false)
		}
	})
}

// startProgress emits a cosmetic estimate that creeps toward 90% while the
// fetch is outstanding.
func (c *Coordinator) startProgress() (stop func()) {
	if c.cfg.ProgressInterval <= 0 {
		return func() {}
	}
	ticker := c.clock.NewTicker(c.cfg.ProgressInterval)
	done := make(chan struct{})
	seq := c.fetchSeq
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.Chan():
				c.loop.Post(func() { c.tick(seq) })
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func (c *Coordinator) tick(seq uint64) {
	if !c.busy || c.fetchSeq != seq || c.progress >= 90 {
		return
	}
	c.progress = min(90, c.progress+max(1, (90-c.progress)/4))
	c.store.SetProgress(c.progress)
}

func (c *Coordinator) publishEvent(ev *domain.FetchEvent) {
	if c.events == nil {
		return
	}
	if err := c.events.PublishFetchEvent(c.ctx, ev); err != nil {
		c.log.Debug("publish fetch event failed", "error", err)
	}
}

// Busy reports whether a fetch is outstanding.
func (c *Coordinator) Busy() bool {
	return c.busy
}

// Regions returns the retained fetched regions, oldest first.
func (c *Coordinator) Regions() []domain.FetchedRegion {
	return c.regions.Regions()
}

// Points returns the combined point set fed to the index.
func (c *Coordinator) Points() []domain.StationPoint {
	return slices.Clone(c.points)
}
