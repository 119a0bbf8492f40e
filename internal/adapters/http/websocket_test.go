package http_test

import (
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/voltmap/internal/core/domain"
)

// serve runs app on a loopback listener and returns its ws:// base URL.
func serve(t *testing.T, app *fiber.App) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })
	return "ws://" + ln.Addr().String()
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	var (
		conn *websocket.Conn
		err  error
	)
	for i := 0; i < 50; i++ {
		conn, _, err = websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Cleanup(func() { _ = conn.Close() })
			return conn
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("dial %s: %v", url, err)
	return nil
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write %s: %v", frame, err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	decode(t, b, v)
}

type indexReply struct {
	ID   uint64          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type sessionFrame struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func TestIndexSocket_RepliesInOrder(t *testing.T) {
	app := setupApp(makeDeps(t))
	conn := dial(t, serve(t, app)+"/ws/index")

	send(t, conn, `{"id":1,"type":"LOAD","data":{"points":[`+
		`{"id":"a","latitude":43.2630,"longitude":-2.9350},`+
		`{"id":"b","latitude":43.2630,"longitude":-2.9347},`+
		`{"id":"far","latitude":43.2630,"longitude":-2.8736}]}}`)
	send(t, conn, `{"id":2,"type":"LOAD","data":{"points":"none"}}`)
	send(t, conn, `{"id":3,"type":"GET_CLUSTERS","data":{"bbox":[-180,-85,180,85],"zoom":0}}`)
	send(t, conn, `{"id":4,"type":"REINDEX"}`)
	send(t, conn, `not json`)

	want := []struct {
		id  uint64
		tag string
	}{
		{1, "LOAD_SUCCESS"},
		{2, "LOAD_ERROR"},
		{3, "GET_CLUSTERS_SUCCESS"},
		{4, "ERROR"},
		{0, "ERROR"},
	}
	replies := make([]indexReply, len(want))
	for i, w := range want {
		readFrame(t, conn, &replies[i])
		if replies[i].ID != w.id || replies[i].Type != w.tag {
			t.Fatalf("reply %d: expected %d %s, got %d %s", i, w.id, w.tag, replies[i].ID, replies[i].Type)
		}
	}

	var clusters struct {
		Clusters []domain.ClusterFeature `json:"clusters"`
	}
	decode(t, replies[2].Data, &clusters)
	if len(clusters.Clusters) != 1 || clusters.Clusters[0].PointCount != 3 {
		t.Errorf("expected the first load to survive the bad one as one cluster of 3, got %+v", clusters.Clusters)
	}

	var unknown struct {
		Error string `json:"error"`
	}
	decode(t, replies[3].Data, &unknown)
	if unknown.Error != "Unknown message type: REINDEX" {
		t.Errorf("unexpected unknown-type error %q", unknown.Error)
	}
}

func TestIndexSocket_QueryBeforeLoad(t *testing.T) {
	app := setupApp(makeDeps(t))
	conn := dial(t, serve(t, app)+"/ws/index")

	send(t, conn, `{"id":7,"type":"GET_CLUSTER_EXPANSION_ZOOM","data":{"clusterId":37}}`)
	var r indexReply
	readFrame(t, conn, &r)
	if r.ID != 7 || r.Type != "GET_CLUSTER_EXPANSION_ZOOM_ERROR" {
		t.Fatalf("expected 7 GET_CLUSTER_EXPANSION_ZOOM_ERROR, got %d %s", r.ID, r.Type)
	}
	if !strings.Contains(string(r.Data), "index not initialized") {
		t.Errorf("unexpected error payload %s", r.Data)
	}
}

func TestSessionSocket_ActionsAndState(t *testing.T) {
	deps := makeDeps(t)
	app := setupApp(deps)
	base := serve(t, app)

	status, body, _ := do(t, app, "POST", "/v1/sessions", "")
	if status != 201 {
		t.Fatalf("expected 201, got %d: %s", status, body)
	}
	var created struct {
		ID string `json:"id"`
	}
	decode(t, body, &created)

	conn := dial(t, base+"/ws/sessions/"+created.ID)
	s := mustSession(t, deps, created.ID)

	var f sessionFrame
	readFrame(t, conn, &f)
	if f.Type != "state" {
		t.Fatalf("expected initial state frame, got %s", f.Type)
	}
	var st domain.SessionState
	decode(t, f.Data, &st)
	if st.SessionID != created.ID {
		t.Errorf("expected state for %s, got %s", created.ID, st.SessionID)
	}
	if !s.Watched() {
		t.Error("expected a connected session to be watched")
	}

	send(t, conn, `{"action":"ready","bbox":[-2.95,43.25,-2.86,43.28],"zoom":12}`)
	readFrame(t, conn, &f)
	if f.Type != "state" {
		t.Fatalf("expected state after ready, got %s (%s)", f.Type, f.Error)
	}
	s.Wait()

	send(t, conn, `{"action":"viewport","bbox":[-2.94,43.26,-2.93,43.27],"zoom":14,"event":"moveend"}`)
	readFrame(t, conn, &f)
	if f.Type != "decision" {
		t.Fatalf("expected decision frame, got %s (%s)", f.Type, f.Error)
	}
	var decision string
	decode(t, f.Data, &decision)
	if decision == "" {
		t.Error("expected a non-empty decision")
	}
	readFrame(t, conn, &f)
	if f.Type != "state" {
		t.Fatalf("expected state after viewport, got %s", f.Type)
	}

	send(t, conn, `{"action":"teleport"}`)
	readFrame(t, conn, &f)
	if f.Type != "error" || !strings.Contains(f.Error, "unknown action") {
		t.Fatalf("expected unknown action error, got %s %q", f.Type, f.Error)
	}

	send(t, conn, `{{`)
	readFrame(t, conn, &f)
	if f.Type != "error" || f.Error != "invalid JSON" {
		t.Fatalf("expected invalid JSON error, got %s %q", f.Type, f.Error)
	}

	send(t, conn, `{"action":"state"}`)
	readFrame(t, conn, &f)
	if f.Type != "state" {
		t.Fatalf("expected state on request, got %s", f.Type)
	}
	decode(t, f.Data, &st)
	if !st.IndexReady || len(st.Stations) == 0 {
		t.Errorf("expected a loaded state, got ready=%v stations=%d", st.IndexReady, len(st.Stations))
	}
}

func TestSessionSocket_UnknownSession(t *testing.T) {
	app := setupApp(makeDeps(t))
	conn := dial(t, serve(t, app)+"/ws/sessions/missing")

	var f sessionFrame
	readFrame(t, conn, &f)
	if f.Type != "error" {
		t.Fatalf("expected error frame, got %s", f.Type)
	}
}
