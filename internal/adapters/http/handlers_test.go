package http_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	handler "github.com/samirrijal/voltmap/internal/adapters/http"
	"github.com/samirrijal/voltmap/internal/core/domain"
	"github.com/samirrijal/voltmap/internal/core/locator"
	"github.com/samirrijal/voltmap/internal/core/usecases"
)

// ---- Mock repositories ----

type mockStationRepo struct {
	findNearbyFn func(ctx context.Context, lat, lon, radius float64, limit int) ([]domain.Station, error)
	getByIDFn    func(ctx context.Context, id string) (*domain.StationDetails, error)
}

func (m *mockStationRepo) UpsertBatch(ctx context.Context, s []domain.StationDetails) error {
	return nil
}
func (m *mockStationRepo) FindNearby(ctx context.Context, lat, lon, radius float64, limit int) ([]domain.Station, error) {
	if m.findNearbyFn != nil {
		return m.findNearbyFn(ctx, lat, lon, radius, limit)
	}
	return nil, nil
}
func (m *mockStationRepo) GetByID(ctx context.Context, id string) (*domain.StationDetails, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, nil
}

// ---- Test helpers ----

func bilbaoStations() []domain.Station {
	at := func(id string, lat, lon float64) domain.Station {
		return domain.Station{ID: id, StationID: "ext-" + id, Location: domain.GeoPoint{Lat: lat, Lon: lon}}
	}
	return []domain.Station{
		at("a", 43.2630, -2.9350),
		at("b", 43.2630, -2.9347),
		at("c", 43.2633, -2.9350),
		at("far", 43.2630, -2.8736),
	}
}

const bilbaoViewport = `{"bbox":[-2.95,43.25,-2.86,43.28],"zoom":12}`

func quietLocator() locator.Config {
	cfg := locator.DefaultConfig()
	cfg.InitialFetchDelay = 0
	cfg.CompletionDelay = 0
	cfg.ProgressInterval = 0
	return cfg
}

func setupApp(deps *handler.Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handler.SetupRoutes(app, deps)
	return app
}

func makeDeps(t *testing.T, opts ...func(*handler.Dependencies)) *handler.Dependencies {
	t.Helper()
	repo := &mockStationRepo{
		findNearbyFn: func(ctx context.Context, lat, lon, radius float64, limit int) ([]domain.Station, error) {
			return bilbaoStations(), nil
		},
	}
	stations := usecases.NewStationService(repo, nil, usecases.DefaultStationConfig())
	d := &handler.Dependencies{
		Stations: stations,
		Sessions: locator.NewManager(quietLocator(), locator.Deps{
			Finder: stations,
			Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		}),
	}
	for _, o := range opts {
		o(d)
	}
	t.Cleanup(d.Sessions.Shutdown)
	return d
}

func do(t *testing.T, app *fiber.App, method, path, body string) (int, []byte, fiber.Map) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	headers := fiber.Map{}
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return resp.StatusCode, b, headers
}

func decode(t *testing.T, b []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
}

// createReadySession opens a session, reports its first viewport and waits
// for the initial fetch and index load to settle.
func createReadySession(t *testing.T, app *fiber.App, deps *handler.Dependencies) string {
	t.Helper()
	status, body, _ := do(t, app, "POST", "/v1/sessions", "")
	if status != 201 {
		t.Fatalf("expected 201, got %d: %s", status, body)
	}
	var created struct {
		ID string `json:"id"`
	}
	decode(t, body, &created)

	status, body, _ = do(t, app, "POST", "/v1/sessions/"+created.ID+"/ready", bilbaoViewport)
	if status != 202 {
		t.Fatalf("expected 202, got %d: %s", status, body)
	}
	s, err := deps.Sessions.Get(created.ID)
	if err != nil {
		t.Fatal(err)
	}
	s.Wait()
	return created.ID
}

// ---- Station handler tests ----

func TestNearbyStations_Success(t *testing.T) {
	app := setupApp(makeDeps(t))

	status, body, _ := do(t, app, "GET", "/v1/stations/nearby?latitude=43.263&longitude=-2.935&distance=2000", "")
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	var stations []domain.Station
	decode(t, body, &stations)
	if len(stations) != 4 {
		t.Errorf("expected 4 stations, got %d", len(stations))
	}
}

func TestNearbyStations_MissingParams(t *testing.T) {
	app := setupApp(makeDeps(t))

	status, body, _ := do(t, app, "GET", "/v1/stations/nearby", "")
	if status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}
	var apiErr handler.APIError
	decode(t, body, &apiErr)
	if apiErr.Code != "bad_request" {
		t.Errorf("expected bad_request error, got %s", apiErr.Code)
	}
}

func TestNearbyStations_BadDistance(t *testing.T) {
	app := setupApp(makeDeps(t))

	status, _, _ := do(t, app, "GET", "/v1/stations/nearby?latitude=43.26&longitude=-2.93&distance=90000", "")
	if status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestNearbyStations_OutOfRangeCoordinate(t *testing.T) {
	app := setupApp(makeDeps(t))

	status, _, _ := do(t, app, "GET", "/v1/stations/nearby?latitude=100&longitude=-2.93", "")
	if status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestGetStation_Success(t *testing.T) {
	deps := makeDeps(t, func(d *handler.Dependencies) {
		d.Stations = usecases.NewStationService(&mockStationRepo{
			getByIDFn: func(ctx context.Context, id string) (*domain.StationDetails, error) {
				return &domain.StationDetails{
					Station:  domain.Station{ID: id, Name: "Plaza Moyua"},
					Address:  "Plaza Moyua 1, Bilbao",
					Chargers: 4,
					Status:   domain.StationOnline,
				}, nil
			},
		}, nil, usecases.DefaultStationConfig())
	})
	app := setupApp(deps)

	status, body, _ := do(t, app, "GET", "/v1/stations/st-1", "")
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	var d domain.StationDetails
	decode(t, body, &d)
	if d.ID != "st-1" || d.Chargers != 4 || d.Address == "" {
		t.Errorf("unexpected details: %+v", d)
	}
}

func TestGetStation_NotFound(t *testing.T) {
	app := setupApp(makeDeps(t))

	status, body, _ := do(t, app, "GET", "/v1/stations/missing", "")
	if status != 404 {
		t.Fatalf("expected 404, got %d: %s", status, body)
	}
	var apiErr handler.APIError
	decode(t, body, &apiErr)
	if apiErr.Code != "not_found" {
		t.Errorf("expected not_found, got %s", apiErr.Code)
	}
}

// ---- Session handler tests ----

func TestSessionLifecycle(t *testing.T) {
	deps := makeDeps(t)
	app := setupApp(deps)
	id := createReadySession(t, app, deps)

	status, body, headers := do(t, app, "GET", "/v1/sessions/"+id+"/state", "")
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	if headers["Cache-Control"] != "no-store" {
		t.Errorf("expected no-store, got %v", headers["Cache-Control"])
	}
	if _, ok := headers["Etag"]; ok {
		t.Error("session state must not carry an ETag")
	}
	var st domain.SessionState
	decode(t, body, &st)
	if !st.IndexReady || st.Loading {
		t.Errorf("expected a settled, loaded session: %+v", st)
	}
	if len(st.Stations) != 4 {
		t.Errorf("expected 4 stations, got %d", len(st.Stations))
	}
	if len(st.Clusters) != 2 {
		t.Errorf("expected 2 features at zoom 12, got %d", len(st.Clusters))
	}

	status, _, _ = do(t, app, "DELETE", "/v1/sessions/"+id, "")
	if status != 204 {
		t.Fatalf("expected 204, got %d", status)
	}
	status, _, _ = do(t, app, "GET", "/v1/sessions/"+id+"/state", "")
	if status != 404 {
		t.Fatalf("expected 404 after close, got %d", status)
	}
}

func TestClusters_GeoJSON(t *testing.T) {
	deps := makeDeps(t)
	app := setupApp(deps)
	id := createReadySession(t, app, deps)

	status, body, _ := do(t, app, "GET", "/v1/sessions/"+id+"/clusters", "")
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	decode(t, body, &fc)
	if fc.Type != "FeatureCollection" || len(fc.Features) != 2 {
		t.Fatalf("unexpected collection: %s", body)
	}

	var clusterID int
	for _, f := range fc.Features {
		if f.Properties["cluster"] == true {
			clusterID = int(f.Properties["cluster_id"].(float64))
			if f.Properties["point_count"].(float64) != 3 {
				t.Errorf("expected 3 points in the cluster, got %v", f.Properties["point_count"])
			}
			continue
		}
		if f.Properties["id"] != "far" {
			t.Errorf("expected the far station as a leaf, got %v", f.Properties["id"])
		}
		if f.Geometry.Coordinates[0] != -2.8736 || f.Geometry.Coordinates[1] != 43.2630 {
			t.Errorf("leaf coordinates changed: %v", f.Geometry.Coordinates)
		}
	}
	if clusterID == 0 {
		t.Fatal("expected a cluster feature")
	}

	path := "/v1/sessions/" + id + "/clusters/" + strconv.Itoa(clusterID)
	status, body, _ = do(t, app, "GET", path+"/expansion-zoom", "")
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	var ez struct {
		ExpansionZoom int `json:"expansionZoom"`
	}
	decode(t, body, &ez)
	if ez.ExpansionZoom <= 12 {
		t.Errorf("expected expansion zoom above 12, got %d", ez.ExpansionZoom)
	}

	status, body, _ = do(t, app, "GET", path+"/children", "")
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	decode(t, body, &fc)
	if len(fc.Features) == 0 {
		t.Error("expected children")
	}
}

func TestExpansionZoom_BadClusterID(t *testing.T) {
	deps := makeDeps(t)
	app := setupApp(deps)
	id := createReadySession(t, app, deps)

	status, _, _ := do(t, app, "GET", "/v1/sessions/"+id+"/clusters/abc/expansion-zoom", "")
	if status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestViewport_DeferredBeforeReady(t *testing.T) {
	deps := makeDeps(t)
	app := setupApp(deps)

	_, body, _ := do(t, app, "POST", "/v1/sessions", "")
	var created struct {
		ID string `json:"id"`
	}
	decode(t, body, &created)

	status, body, _ := do(t, app, "POST", "/v1/sessions/"+created.ID+"/viewport", bilbaoViewport)
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	var resp struct {
		Decision string `json:"decision"`
	}
	decode(t, body, &resp)
	if resp.Decision != "deferred" {
		t.Errorf("expected deferred, got %q", resp.Decision)
	}
}

func TestViewport_CoveredAfterInitialFetch(t *testing.T) {
	deps := makeDeps(t)
	app := setupApp(deps)
	id := createReadySession(t, app, deps)

	status, body, _ := do(t, app, "POST", "/v1/sessions/"+id+"/viewport",
		`{"bbox":[-2.95,43.25,-2.86,43.28],"zoom":17,"event":"zoomend"}`)
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	var resp struct {
		Decision string `json:"decision"`
	}
	decode(t, body, &resp)
	if resp.Decision != "covered" {
		t.Errorf("expected covered, got %q", resp.Decision)
	}
}

func TestViewport_Rejections(t *testing.T) {
	deps := makeDeps(t)
	app := setupApp(deps)
	id := createReadySession(t, app, deps)

	cases := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown event", "/v1/sessions/" + id + "/viewport", `{"bbox":[-2.95,43.25,-2.86,43.28],"zoom":12,"event":"drag"}`, 400},
		{"south above north", "/v1/sessions/" + id + "/viewport", `{"bbox":[-2.95,43.28,-2.86,43.25],"zoom":12}`, 400},
		{"malformed body", "/v1/sessions/" + id + "/viewport", `{"bbox":`, 400},
		{"unknown session", "/v1/sessions/nope/viewport", bilbaoViewport, 404},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body, _ := do(t, app, "POST", tc.path, tc.body)
			if status != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, status, body)
			}
		})
	}
}

func TestViewport_OutOfRangeIsIgnored(t *testing.T) {
	deps := makeDeps(t)
	app := setupApp(deps)
	id := createReadySession(t, app, deps)

	before := mustSession(t, deps, id).Snapshot()

	status, body, _ := do(t, app, "POST", "/v1/sessions/"+id+"/viewport", `{"bbox":[-2.95,43.25,-2.86,43.28],"zoom":0}`)
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	var resp struct {
		Decision string              `json:"decision"`
		State    domain.SessionState `json:"state"`
	}
	decode(t, body, &resp)
	if resp.Decision != "invalid" {
		t.Errorf("expected invalid, got %q", resp.Decision)
	}
	if resp.State.Error != "" {
		t.Errorf("expected no error in state, got %q", resp.State.Error)
	}
	if len(resp.State.Stations) != len(before.Stations) {
		t.Errorf("expected stations unchanged, got %d want %d", len(resp.State.Stations), len(before.Stations))
	}
}

func mustSession(t *testing.T, deps *handler.Dependencies, id string) *locator.Session {
	t.Helper()
	s, err := deps.Sessions.Get(id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return s
}

func TestSidebarAndSelection(t *testing.T) {
	deps := makeDeps(t)
	app := setupApp(deps)
	id := createReadySession(t, app, deps)

	status, body, _ := do(t, app, "PUT", "/v1/sessions/"+id+"/selection", `{"stationId":"far"}`)
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	var st domain.SessionState
	decode(t, body, &st)
	if st.SelectedID != "far" {
		t.Errorf("expected far selected, got %q", st.SelectedID)
	}

	status, body, headers := do(t, app, "GET", "/v1/sessions/"+id+"/sidebar?offset=0&limit=3", "")
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	var page struct {
		Data       []domain.SidebarEntry `json:"data"`
		Pagination handler.Pagination    `json:"pagination"`
	}
	decode(t, body, &page)
	if page.Pagination.Total != 4 || len(page.Data) != 3 {
		t.Fatalf("unexpected page: %+v", page.Pagination)
	}
	link, _ := headers["Link"].(string)
	if !strings.Contains(link, `rel="next"`) {
		t.Errorf("expected a next link, got %q", link)
	}
	for i := 1; i < len(page.Data); i++ {
		if page.Data[i].Distance < page.Data[i-1].Distance {
			t.Errorf("sidebar not sorted by distance: %+v", page.Data)
		}
	}

	status, body, _ = do(t, app, "GET", "/v1/sessions/"+id+"/sidebar?offset=3&limit=3", "")
	decode(t, body, &page)
	if status != 200 || len(page.Data) != 1 || !page.Data[0].Selected || page.Data[0].Point.ID != "far" {
		t.Errorf("expected the selected far station last, got %+v", page.Data)
	}
}

func TestSelection_UnknownStation(t *testing.T) {
	deps := makeDeps(t)
	app := setupApp(deps)
	id := createReadySession(t, app, deps)

	status, _, _ := do(t, app, "PUT", "/v1/sessions/"+id+"/selection", `{"stationId":"nope"}`)
	if status != 404 {
		t.Fatalf("expected 404, got %d", status)
	}
}

func TestRegions_AfterInitialFetch(t *testing.T) {
	deps := makeDeps(t)
	app := setupApp(deps)
	id := createReadySession(t, app, deps)

	status, body, _ := do(t, app, "GET", "/v1/sessions/"+id+"/regions", "")
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	var regions []domain.FetchedRegion
	decode(t, body, &regions)
	if len(regions) != 1 {
		t.Fatalf("expected 1 region, got %d", len(regions))
	}
	b := regions[0].Bounds
	if !(b.MinLat < 43.265 && b.MaxLat > 43.265 && b.MinLon < -2.905 && b.MaxLon > -2.905) {
		t.Errorf("region does not contain the viewport center: %+v", b)
	}
}

// ---- System handler tests ----

func TestHealth(t *testing.T) {
	app := setupApp(makeDeps(t))

	status, body, _ := do(t, app, "GET", "/v1/health", "")
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	var h map[string]any
	decode(t, body, &h)
	if h["status"] != "healthy" {
		t.Errorf("unexpected health body: %s", body)
	}
}

func TestReady_WithoutDatabase(t *testing.T) {
	app := setupApp(makeDeps(t))

	status, body, _ := do(t, app, "GET", "/v1/ready", "")
	if status != 503 {
		t.Fatalf("expected 503, got %d: %s", status, body)
	}
}

func TestGraphQL_StationsNear(t *testing.T) {
	app := setupApp(makeDeps(t))

	q := `{"query":"{ stationsNear(latitude: 43.263, longitude: -2.935, distance: 2000) { id station_id location { lat lon } } }"}`
	status, body, _ := do(t, app, "POST", "/graphql", q)
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	var result struct {
		Data struct {
			StationsNear []struct {
				ID        string `json:"id"`
				StationID string `json:"station_id"`
				Location  struct {
					Lat float64 `json:"lat"`
				} `json:"location"`
			} `json:"stationsNear"`
		} `json:"data"`
		Errors []any `json:"errors"`
	}
	decode(t, body, &result)
	if len(result.Errors) > 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if len(result.Data.StationsNear) != 4 || result.Data.StationsNear[0].StationID != "ext-a" {
		t.Errorf("unexpected stations: %+v", result.Data.StationsNear)
	}
}

func TestGraphQL_Session(t *testing.T) {
	deps := makeDeps(t)
	app := setupApp(deps)
	id := createReadySession(t, app, deps)

	q := `{"query":"{ session(id: \"` + id + `\") { id indexReady stationCount clusters { cluster pointCount } } }"}`
	status, body, _ := do(t, app, "POST", "/graphql", q)
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	var result struct {
		Data struct {
			Session struct {
				ID           string `json:"id"`
				IndexReady   bool   `json:"indexReady"`
				StationCount int    `json:"stationCount"`
				Clusters     []struct {
					Cluster bool `json:"cluster"`
				} `json:"clusters"`
			} `json:"session"`
		} `json:"data"`
	}
	decode(t, body, &result)
	s := result.Data.Session
	if s.ID != id || !s.IndexReady || s.StationCount != 4 || len(s.Clusters) != 2 {
		t.Errorf("unexpected session: %+v", s)
	}
}
