package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"

	natsadapter "github.com/samirrijal/voltmap/internal/adapters/nats"
	"github.com/samirrijal/voltmap/internal/cluster"
	"github.com/samirrijal/voltmap/internal/cluster/worker"
	"github.com/samirrijal/voltmap/internal/core/domain"
	"github.com/samirrijal/voltmap/internal/core/locator"
	"github.com/samirrijal/voltmap/internal/pkg/metrics"
)

// wsAction is sent from client to drive a session.
type wsAction struct {
	Action    string     `json:"action"` // "ready" | "viewport" | "select" | "expand" | "state"
	BBox      [4]float64 `json:"bbox"`
	Zoom      float64    `json:"zoom"`
	Event     string     `json:"event"`
	StationID string     `json:"stationId"`
	ClusterID int        `json:"clusterId"`
}

// wsFrame is sent from server to client.
type wsFrame struct {
	Type  string      `json:"type"` // "state" | "decision" | "expansion_zoom" | "error"
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// wsConn serialises writes from the reader loop, the ping ticker and
// relay callbacks.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) write(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(messageType, data)
}

func (w *wsConn) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.write(websocket.TextMessage, data)
}

// keepAlive pings the client every 30s until done is closed.
func (w *wsConn) keepAlive(done <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// SessionSocketHandler streams the shared state of one session and accepts
// map events from the client.
// Clients send JSON: {"action":"viewport","bbox":[w,s,e,n],"zoom":12,"event":"moveend"}
// State snapshots are relayed from NATS when a connection is configured;
// otherwise a snapshot follows every action. The session is not reaped while
// a connection watches it.
func SessionSocketHandler(deps *Dependencies) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()
		metrics.ActiveWebSockets.Inc()
		defer metrics.ActiveWebSockets.Dec()

		id := c.Params("id")
		log := slog.Default().With("session", id, "remote", c.RemoteAddr().String())
		ws := &wsConn{conn: c}

		s, err := deps.Sessions.Get(id)
		if err != nil {
			_ = ws.writeJSON(wsFrame{Type: "error", Error: err.Error()})
			return
		}
		log.Info("ws client connected")
		release := s.Watch()
		defer release()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		relayed := false
		if deps.NATS != nil {
			unsubscribe, err := natsadapter.NewSubscriber(deps.NATS).SubscribeSessionState(id, func(st *domain.SessionState) {
				_ = ws.writeJSON(wsFrame{Type: "state", Data: st})
			})
			if err != nil {
				log.Warn("ws state relay unavailable", "error", err)
			} else {
				relayed = true
				defer unsubscribe()
			}
		}
		_ = ws.writeJSON(wsFrame{Type: "state", Data: s.Snapshot()})

		done := make(chan struct{})
		defer close(done)
		go ws.keepAlive(done)

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				break
			}

			var a wsAction
			if err := json.Unmarshal(msg, &a); err != nil {
				_ = ws.writeJSON(wsFrame{Type: "error", Error: "invalid JSON"})
				continue
			}

			frame, err := handleAction(ctx, s, a)
			if err != nil {
				_ = ws.writeJSON(wsFrame{Type: "error", Error: err.Error()})
				continue
			}
			if frame != nil {
				_ = ws.writeJSON(frame)
			}
			if !relayed || a.Action == "state" {
				_ = ws.writeJSON(wsFrame{Type: "state", Data: s.Snapshot()})
			}
		}

		log.Info("ws client disconnected")
	}
}

func handleAction(ctx context.Context, s *locator.Session, a wsAction) (*wsFrame, error) {
	vp := domain.Viewport{West: a.BBox[0], South: a.BBox[1], East: a.BBox[2], North: a.BBox[3], Zoom: a.Zoom}

	switch a.Action {
	case "ready":
		return nil, s.MapReady(ctx, vp)
	case "viewport":
		kind := locator.EventKind(a.Event)
		if kind == "" {
			kind = locator.EventMoveEnd
		}
		d, err := s.ViewportChanged(ctx, vp, kind)
		if err != nil {
			return nil, err
		}
		return &wsFrame{Type: "decision", Data: d}, nil
	case "select":
		return nil, s.Select(a.StationID)
	case "expand":
		zoom, err := s.ExpandCluster(ctx, a.ClusterID)
		if err != nil {
			return nil, err
		}
		return &wsFrame{Type: "expansion_zoom", Data: map[string]int{"clusterId": a.ClusterID, "expansionZoom": zoom}}, nil
	case "state":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unknown action %q", domain.ErrValidation, a.Action)
	}
}

// IndexSocketHandler exposes a dedicated index worker per connection using
// the worker's JSON framing: {"id":1,"type":"LOAD","data":{"points":[...]}}.
// Replies carry the request id and a *_SUCCESS or *_ERROR type, in request
// order. A frame with an unrecognised type is answered with ERROR.
func IndexSocketHandler(opts cluster.Options) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()
		metrics.ActiveWebSockets.Inc()
		defer metrics.ActiveWebSockets.Dec()

		log := slog.Default().With("remote", c.RemoteAddr().String())
		ws := &wsConn{conn: c}
		w := worker.New(opts, log)

		drained := make(chan struct{})
		go func() {
			defer close(drained)
			for r := range w.Replies() {
				b, err := worker.EncodeReply(r)
				if err != nil {
					log.Error("encode reply", "id", r.ID, "error", err)
					continue
				}
				if err := ws.write(websocket.TextMessage, b); err != nil {
					return
				}
			}
		}()

		reply := func(id uint64, t worker.Type, err error) {
			b, encErr := worker.EncodeReply(worker.Reply{ID: id, Response: worker.NewErrorResponse(t, err)})
			if encErr == nil {
				_ = ws.write(websocket.TextMessage, b)
			}
		}

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				break
			}
			// A malformed frame still goes through the worker so its
			// error reply stays behind the replies already queued.
			env, err := worker.DecodeEnvelope(msg)
			if err != nil {
				log.Debug("ws index frame rejected", "id", env.ID, "type", env.Request.Type(), "error", err)
			}
			if err := w.Post(env); err != nil {
				reply(env.ID, env.Request.Type(), err)
				break
			}
		}

		w.Terminate()
		<-drained
	}
}
