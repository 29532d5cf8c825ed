package signaling

import (
	"log/slog"
	"sync"
)

const dispatchQueueSize = 128

// HandlerFunc handles one push notification.
type HandlerFunc func(p Payload)

type handlerEntry struct {
	key string
	fn  HandlerFunc
}

type dispatch struct {
	event   string
	payload Payload
}

// Router routes push notifications to registered handlers.
//
// Handlers for one event run in registration order. All handlers run on a
// single dispatch goroutine, so a handler may issue requests on the same
// connection without blocking the read loop.
type Router struct {
	mu       sync.Mutex
	handlers map[string][]handlerEntry
	retained map[string]Payload
	sticky   map[string]bool

	queue     chan dispatch
	done      chan struct{}
	closeOnce sync.Once
	log       *slog.Logger
}

// NewRouter creates a router and starts its dispatch goroutine.
func NewRouter(log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	r := &Router{
		handlers: make(map[string][]handlerEntry),
		retained: make(map[string]Payload),
		sticky:   make(map[string]bool),
		queue:    make(chan dispatch, dispatchQueueSize),
		done:     make(chan struct{}),
		log:      log,
	}
	go r.run()
	return r
}

// Retain marks event as sticky: if it arrives before anyone listens, the
// last payload is kept and replayed to the first handler registered for it.
func (r *Router) Retain(event string) {
	r.mu.Lock()
	r.sticky[event] = true
	r.mu.Unlock()
}

// On registers h for event.
func (r *Router) On(event string, h HandlerFunc) {
	r.add(event, "", h)
}

// OnceKey registers h for event unless a handler with the same key is
// already registered for it. It reports whether h was added.
func (r *Router) OnceKey(event, key string, h HandlerFunc) bool {
	return r.add(event, key, h)
}

func (r *Router) add(event, key string, h HandlerFunc) bool {
	r.mu.Lock()
	if key != "" {
		for _, e := range r.handlers[event] {
			if e.key == key {
				r.mu.Unlock()
				r.log.Debug("handler already registered", "event", event, "key", key)
				return false
			}
		}
	}
	r.handlers[event] = append(r.handlers[event], handlerEntry{key: key, fn: h})

	replay, ok := r.retained[event]
	if ok {
		delete(r.retained, event)
	}
	r.mu.Unlock()

	if ok {
		r.Dispatch(event, replay)
	}
	return true
}

// Dispatch queues a notification for delivery. It drops the notification
// once the router is closed.
func (r *Router) Dispatch(event string, p Payload) {
	r.mu.Lock()
	if len(r.handlers[event]) == 0 {
		if r.sticky[event] {
			r.retained[event] = p
		}
		r.mu.Unlock()
		r.log.Debug("no handler for event", "event", event)
		return
	}
	r.mu.Unlock()

	select {
	case r.queue <- dispatch{event: event, payload: p}:
	case <-r.done:
	}
}

func (r *Router) run() {
	for {
		select {
		case d := <-r.queue:
			r.mu.Lock()
			entries := append([]handlerEntry(nil), r.handlers[d.event]...)
			r.mu.Unlock()

			for _, e := range entries {
				e.fn(d.payload)
			}
		case <-r.done:
			return
		}
	}
}

// Close stops the dispatch goroutine. Queued notifications are dropped.
func (r *Router) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
}
