package locator

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/voltmap/internal/core/domain"
)

var t0 = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeFinder struct {
	mu    sync.Mutex
	calls []domain.NearQuery
	fn    func(ctx context.Context, q domain.NearQuery) ([]domain.Station, error)
}

func (f *fakeFinder) FindNear(ctx context.Context, q domain.NearQuery) ([]domain.Station, error) {
	f.mu.Lock()
	f.calls = append(f.calls, q)
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx, q)
}

func (f *fakeFinder) Calls() []domain.NearQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.NearQuery(nil), f.calls...)
}

type fakeIndex struct {
	mu       sync.Mutex
	loads    [][]domain.StationPoint
	bboxes   [][4]float64
	loadFn   func(points []domain.StationPoint) error
	clusters func(bbox [4]float64, zoom float64) ([]domain.ClusterFeature, error)
	expand   func(id int) (int, error)
}

func (f *fakeIndex) Load(_ context.Context, points []domain.StationPoint) error {
	f.mu.Lock()
	f.loads = append(f.loads, points)
	fn := f.loadFn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(points)
}

func (f *fakeIndex) GetClusters(_ context.Context, bbox [4]float64, zoom float64) ([]domain.ClusterFeature, error) {
	f.mu.Lock()
	f.bboxes = append(f.bboxes, bbox)
	fn := f.clusters
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(bbox, zoom)
}

func (f *fakeIndex) GetChildren(context.Context, int) ([]domain.ClusterFeature, error) {
	return nil, nil
}

func (f *fakeIndex) GetClusterExpansionZoom(_ context.Context, id int) (int, error) {
	if f.expand == nil {
		return 0, nil
	}
	return f.expand(id)
}

func (f *fakeIndex) Loads() [][]domain.StationPoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]domain.StationPoint(nil), f.loads...)
}

func (f *fakeIndex) BBoxes() [][4]float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][4]float64(nil), f.bboxes...)
}

type fakePublisher struct {
	mu     sync.Mutex
	states []domain.SessionState
	events []domain.FetchEvent
}

func (p *fakePublisher) PublishSessionState(_ context.Context, st *domain.SessionState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, *st)
	return nil
}

func (p *fakePublisher) PublishFetchEvent(_ context.Context, ev *domain.FetchEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *ev)
	return nil
}

func (p *fakePublisher) Events() []domain.FetchEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.FetchEvent(nil), p.events...)
}

// quietConfig turns off every delay so tests only wait on the fakes.
func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.InitialFetchDelay = 0
	cfg.CompletionDelay = 0
	cfg.ProgressInterval = 0
	cfg.FetchTimeout = 0
	return cfg
}

func newTestSession(t *testing.T, cfg Config, clock clockwork.Clock, finder *fakeFinder, index *fakeIndex,
	events *fakePublisher) *Session {
	t.Helper()
	deps := Deps{Finder: finder, Clock: clock, Logger: discardLogger()}
	if events != nil {
		deps.Events = events
	}
	s := newSession("test-session", cfg, deps, index, nil)
	t.Cleanup(s.Close)
	return s
}

// onLoop runs fn on the session loop and waits for it.
func onLoop(t *testing.T, s *Session, fn func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.loop.Call(ctx, fn))
}

func evaluate(t *testing.T, s *Session, vp domain.Viewport) Decision {
	t.Helper()
	var d Decision
	onLoop(t, s, func() { d = s.coord.Evaluate(vp) })
	return d
}

// viewportAround returns a viewport of roughly halfKm in each direction.
func viewportAround(lat, lng, halfKm, zoom float64) domain.Viewport {
	dLat := halfKm / 111.32
	dLng := halfKm / (111.32 * math.Cos(lat*math.Pi/180))
	return domain.Viewport{West: lng - dLng, South: lat - dLat, East: lng + dLng, North: lat + dLat, Zoom: zoom}
}

func station(id string, lat, lng float64) domain.Station {
	return domain.Station{ID: id, StationID: "ext-" + id, Location: domain.GeoPoint{Lat: lat, Lon: lng}}
}
