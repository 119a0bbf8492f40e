package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/samirrijal/voltmap/internal/core/domain"
)

type pendingCall struct {
	typ Type
	ch  chan Response
}

// Client correlates replies with the requests that produced them by id, so
// concurrent requests of the same type never receive each other's results.
type Client struct {
	w      *Worker
	log    *slog.Logger
	tracer trace.Tracer

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]pendingCall
	closed  bool

	dispatched chan struct{}
}

// NewClient attaches to w and starts routing its replies.
func NewClient(w *Worker, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		w:          w,
		log:        logger.With("component", "cluster-client"),
		tracer:     otel.Tracer("github.com/samirrijal/voltmap/internal/cluster/worker"),
		pending:    make(map[uint64]pendingCall),
		dispatched: make(chan struct{}),
	}
	go c.dispatch()
	return c
}

// Send posts req and returns a channel that receives exactly one response.
func (c *Client) Send(req Request) (<-chan Response, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: worker not available", domain.ErrChannel)
	}
	c.nextID++
	id := c.nextID
	ch := make(chan Response, 1)
	c.pending[id] = pendingCall{typ: req.Type(), ch: ch}
	c.mu.Unlock()

	if err := c.w.Post(Envelope{ID: id, Request: req}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}
	return ch, nil
}

// Pending returns the number of requests awaiting a reply.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) dispatch() {
	defer close(c.dispatched)

	for r := range c.w.Replies() {
		c.mu.Lock()
		call, ok := c.pending[r.ID]
		delete(c.pending, r.ID)
		c.mu.Unlock()

		if !ok {
			c.log.Debug("dropping reply without listener", "id", r.ID, "type", r.Response.Tag())
			continue
		}
		call.ch <- r.Response
	}

	// Worker is gone: every outstanding call fails.
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, call := range c.pending {
		call.ch <- NewErrorResponse(call.typ, fmt.Errorf("%w: worker terminated", domain.ErrChannel))
		delete(c.pending, id)
	}
}

// Close terminates the worker and fails outstanding calls with ErrChannel.
func (c *Client) Close() {
	c.w.Terminate()
	<-c.dispatched
}

func (c *Client) call(ctx context.Context, req Request) (Response, error) {
	ctx, span := c.tracer.Start(ctx, "cluster.worker "+string(req.Type()))
	defer span.End()

	ch, err := c.Send(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	select {
	case resp := <-ch:
		span.SetAttributes(attribute.String("worker.reply", resp.Tag()))
		if err := resp.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return resp, err
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Load replaces the worker's point set.
func (c *Client) Load(ctx context.Context, points []domain.StationPoint) error {
	resp, err := c.call(ctx, LoadRequest{Points: points})
	if err != nil {
		return err
	}
	if _, ok := resp.(LoadSuccess); !ok {
		return unexpected(resp)
	}
	return nil
}

// GetClusters returns the features visible in bbox at zoom.
func (c *Client) GetClusters(ctx context.Context, bbox [4]float64, zoom float64) ([]domain.ClusterFeature, error) {
	resp, err := c.call(ctx, GetClustersRequest{BBox: bbox, Zoom: zoom})
	if err != nil {
		return nil, err
	}
	r, ok := resp.(ClustersSuccess)
	if !ok {
		return nil, unexpected(resp)
	}
	return r.Clusters, nil
}

// GetChildren returns the direct children of a cluster.
func (c *Client) GetChildren(ctx context.Context, clusterID int) ([]domain.ClusterFeature, error) {
	resp, err := c.call(ctx, GetChildrenRequest{ClusterID: clusterID})
	if err != nil {
		return nil, err
	}
	r, ok := resp.(ChildrenSuccess)
	if !ok {
		return nil, unexpected(resp)
	}
	return r.Children, nil
}

// GetClusterExpansionZoom returns the zoom at which a cluster splits.
func (c *Client) GetClusterExpansionZoom(ctx context.Context, clusterID int) (int, error) {
	resp, err := c.call(ctx, GetClusterExpansionZoomRequest{ClusterID: clusterID})
	if err != nil {
		return 0, err
	}
	r, ok := resp.(ExpansionZoomSuccess)
	if !ok {
		return 0, unexpected(resp)
	}
	return r.ExpansionZoom, nil
}

func unexpected(resp Response) error {
	return fmt.Errorf("%w: unexpected reply %s", domain.ErrChannel, resp.Tag())
}
