package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/atmx/trading-arena/internal/metrics"
)

type event struct {
	sessionID string
	msg       any
}

// Async hands events to a wrapped Publisher from its own goroutine, so a
// slow bus never delays the caller. A full queue drops the event.
type Async struct {
	next    Publisher
	queue   chan event
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewAsync starts the goroutine draining a queue of up to buffer events
// into next.
func NewAsync(next Publisher, buffer int) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	a := &Async{
		next:    next,
		queue:   make(chan event, buffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go a.drain()
	return a
}

// Publish queues msg and returns immediately. The caller's context is not
// carried over: the event outlives the call.
func (a *Async) Publish(_ context.Context, sessionID string, msg any) {
	select {
	case <-a.done:
		metrics.FeedDropped.Inc()
		return
	default:
	}
	select {
	case a.queue <- event{sessionID: sessionID, msg: msg}:
	default:
		metrics.FeedDropped.Inc()
		slog.Warn("feed queue full, dropping event", "session", sessionID)
	}
}

// Close stops accepting events, publishes what is already queued and waits
// for the goroutine to exit. Safe to call more than once.
func (a *Async) Close() {
	a.once.Do(func() { close(a.done) })
	<-a.stopped
}

func (a *Async) drain() {
	defer close(a.stopped)
	for {
		select {
		case e := <-a.queue:
			a.next.Publish(context.Background(), e.sessionID, e.msg)
		case <-a.done:
			for {
				select {
				case e := <-a.queue:
					a.next.Publish(context.Background(), e.sessionID, e.msg)
				default:
					return
				}
			}
		}
	}
}
