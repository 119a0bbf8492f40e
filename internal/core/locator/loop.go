package locator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrSessionClosed is returned for work posted to a closed session.
var ErrSessionClosed = errors.New("session closed")

// Loop runs posted tasks one at a time, in order, on a single goroutine.
// Every mutation of a session's coordinator and adapter happens on its loop,
// so each task observes the effects of all tasks before it.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
	log     *slog.Logger
}

// NewLoop starts a loop goroutine.
func NewLoop(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
		log:     logger,
	}
	go l.run()
	return l
}

// Post enqueues fn. It never blocks and reports false once the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for it to finish. It must not be
// called from a task running on the same loop.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrSessionClosed
	}
	select {
	case <-done:
		return nil
	case <-l.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrSessionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close discards queued tasks, waits for the running one and stops the
// loop. It must not be called from a task.
func (l *Loop) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		l.queue = nil
	}
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.stopped
}

// Closed reports whether Close has been called.
func (l *Loop) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Loop) run() {
	defer close(l.stopped)
	for range l.wake {
		for {
			fn, ok, closed := l.next()
			if closed {
				return
			}
			if !ok {
				break
			}
			l.exec(fn)
		}
	}
}

func (l *Loop) next() (fn func(), ok, closed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, false, true
	}
	if len(l.queue) == 0 {
		return nil, false, false
	}
	fn = l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true, false
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("session task panicked", "panic", r)
		}
	}()
	fn()
}

// tasks tracks work that runs off the loop and finishes with a task posted
// back to it. The counter is released only once that task has run, so
// anything it starts is tracked before the counter can reach zero.
type tasks struct {
	loop *Loop
	wg   sync.WaitGroup
}

// goThen runs work on its own goroutine and posts the returned continuation
// to the loop. The continuation is dropped when the loop has closed.
func (t *tasks) goThen(work func() func()) {
	t.wg.Add(1)
	go func() {
		t.post(work())
	}()
}

// after posts fn to the loop once d has elapsed on clock.
func (t *tasks) after(clock clockwork.Clock, d time.Duration, fn func()) {
	t.wg.Add(1)
	clock.AfterFunc(d, func() {
		t.post(fn)
	})
}

func (t *tasks) post(fn func()) {
	if !t.loop.Post(func() {
		defer t.wg.Done()
		fn()
	}) {
		t.wg.Done()
	}
}

func (t *tasks) wait() {
	t.wg.Wait()
}
