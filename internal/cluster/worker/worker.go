package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samirrijal/voltmap/internal/cluster"
	"github.com/samirrijal/voltmap/internal/core/domain"
	"github.com/samirrijal/voltmap/internal/pkg/metrics"
)

const inboxSize = 64

// Worker owns a cluster.Index and processes requests one at a time on its
// own goroutine. Replies are emitted in request order.
type Worker struct {
	idx     *cluster.Index
	inbox   chan Envelope
	replies chan Reply
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	log     *slog.Logger
}

// New starts a worker whose index is built with opts.
func New(opts cluster.Options, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		idx:     cluster.New(opts),
		inbox:   make(chan Envelope, inboxSize),
		replies: make(chan Reply, inboxSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		log:     logger.With("component", "cluster-worker"),
	}
	go w.run()
	return w
}

// Post enqueues a request. It fails with domain.ErrChannel once the worker
// has been terminated.
func (w *Worker) Post(env Envelope) error {
	if env.Request == nil {
		return fmt.Errorf("%w: nil request", domain.ErrChannel)
	}
	select {
	case <-w.done:
		return fmt.Errorf("%w: worker not available", domain.ErrChannel)
	default:
	}
	select {
	case w.inbox <- env:
		return nil
	case <-w.done:
		return fmt.Errorf("%w: worker not available", domain.ErrChannel)
	}
}

// Replies delivers one Reply per posted Envelope. The channel is closed
// after Terminate once the worker goroutine has exited.
func (w *Worker) Replies() <-chan Reply {
	return w.replies
}

// Terminate stops the worker. Queued requests are dropped.
func (w *Worker) Terminate() {
	w.once.Do(func() { close(w.done) })
	<-w.stopped
}

func (w *Worker) run() {
	defer close(w.stopped)
	defer close(w.replies)

	for {
		select {
		case <-w.done:
			return
		case env := <-w.inbox:
			reply := Reply{ID: env.ID, Response: w.handle(env.Request)}
			select {
			case w.replies <- reply:
			case <-w.done:
				return
			}
		}
	}
}

// handle answers a single request. Panics are reported as error replies.
func (w *Worker) handle(req Request) (resp Response) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("worker request panicked", "type", req.Type(), "panic", r)
			resp = NewErrorResponse(req.Type(), fmt.Errorf("%w: %v", domain.ErrIndex, r))
		}
		outcome := "success"
		if resp.Err() != nil {
			outcome = "error"
		}
		metrics.WorkerRequestDuration.WithLabelValues(string(req.Type()), outcome).Observe(time.Since(start).Seconds())
	}()

	switch r := req.(type) {
	case LoadRequest:
		if err := w.idx.Load(r.Points); err != nil {
			w.log.Warn("load rejected", "points", len(r.Points), "error", err)
			return NewErrorResponse(TypeLoad, err)
		}
		w.log.Debug("index loaded", "points", len(r.Points))
		return LoadSuccess{Loaded: true}

	case GetClustersRequest:
		features, err := w.idx.GetClusters(r.BBox, r.Zoom)
		if err != nil {
			return NewErrorResponse(TypeGetClusters, err)
		}
		return ClustersSuccess{Clusters: features}

	case GetChildrenRequest:
		children, err := w.idx.GetChildren(r.ClusterID)
		if err != nil {
			return NewErrorResponse(TypeGetChildren, err)
		}
		return ChildrenSuccess{Children: children}

	case GetClusterExpansionZoomRequest:
		zoom, err := w.idx.GetClusterExpansionZoom(r.ClusterID)
		if err != nil {
			return NewErrorResponse(TypeGetClusterExpansionZoom, err)
		}
		return ExpansionZoomSuccess{ExpansionZoom: zoom}

	case InvalidRequest:
		err := r.Err
		if err == nil {
			err = errors.New("invalid request")
		}
		return NewErrorResponse(r.Kind, fmt.Errorf("%w: %v", domain.ErrValidation, err))

	default:
		return ErrorResponse{
			Request: TypeError,
			Message: fmt.Sprintf("Unknown message type: %s", req.Type()),
		}
	}
}
