package epc

import (
	"sync"

	"github.com/marmos91/sexpc/pkg/deferred"
	"github.com/marmos91/sexpc/pkg/sexp"
)

// AnyEvent is the observer key that matches every event.
const AnyEvent = sexp.Symbol("t")

// Channel is a per-connection registry of event observers. Each observer
// binds an event symbol to a deferred; delivering an event posts onto
// every matching observer's deferred, in registration order.
type Channel struct {
	mu        sync.Mutex
	observers []observer
}

type observer struct {
	key sexp.Symbol
	d   *deferred.Deferred
}

// NewChannel creates an empty channel.
func NewChannel() *Channel {
	return &Channel{}
}

// Connect registers an observer for events with the given key (or
// AnyEvent for all of them). The optional callback is installed on the
// observer's deferred; the returned deferred can be chained further.
//
// An observer's deferred receives each event as the two-element list
// (event-symbol args).
func (ch *Channel) Connect(key sexp.Symbol, f deferred.Callback) *deferred.Deferred {
	var d *deferred.Deferred
	if f != nil {
		d = deferred.NewCallback(f)
	} else {
		d = deferred.New()
	}

	ch.mu.Lock()
	ch.observers = append(ch.observers, observer{key: key, d: d})
	ch.mu.Unlock()
	return d
}

// Send delivers an event to every observer registered for it. Delivery
// posts rather than executes, so observers of distinct events interleave
// through the post queue.
func (ch *Channel) Send(event sexp.Symbol, args sexp.List) {
	ch.mu.Lock()
	targets := make([]*deferred.Deferred, 0, len(ch.observers))
	for _, o := range ch.observers {
		if o.key == event || o.key == AnyEvent {
			targets = append(targets, o.d)
		}
	}
	ch.mu.Unlock()

	msg := sexp.List{event, args}
	for _, d := range targets {
		d.Post(msg)
	}
}

// ObserverCount reports the number of registered observers.
func (ch *Channel) ObserverCount() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.observers)
}
