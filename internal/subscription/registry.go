// Package subscription keeps the durable destination → callback registrations
// and mirrors them onto live broker subscriptions across reconnects.
package subscription

import (
	"log/slog"
	"sync"

	"github.com/rickgao/liveupdates/internal/connection"
	"github.com/rickgao/liveupdates/internal/model"
)

// Handle identifies one callback registration.
type Handle uint64

// Callback receives parsed updates for a destination.
type Callback func(model.Update)

// Stats contains registry statistics.
type Stats struct {
	Destinations int
	Callbacks    int
	Live         int
}

type registration struct {
	handle   Handle
	callback Callback
}

type entry struct {
	regs []registration
	live connection.Subscription
}

// Registry maps destinations to ordered callbacks. It implements
// connection.Replayer.
type Registry struct {
	logger *slog.Logger

	mu        sync.Mutex
	entries   map[string]*entry
	order     []string // destinations in first-subscribe order
	next      Handle
	transport connection.Transport
	sink      connection.FrameHandler
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// SetSink sets where MESSAGE bodies of live subscriptions are delivered.
func (r *Registry) SetSink(sink connection.FrameHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
}

// Subscribe appends callback to destination. When a connected transport is
// attached and destination has no live subscription yet, one is created now.
func (r *Registry) Subscribe(destination string, callback Callback) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[destination]
	if !ok {
		e = &entry{}
		r.entries[destination] = e
		r.order = append(r.order, destination)
	}

	r.next++
	h := r.next
	e.regs = append(e.regs, registration{handle: h, callback: callback})

	if e.live == nil && r.transport != nil && r.transport.IsConnected() {
		r.attachLocked(r.transport, destination, e)
	}

	r.logger.Debug("callback registered",
		"destination", destination,
		"handle", uint64(h),
		"callbacks", len(e.regs),
	)
	return h
}

// Unsubscribe removes every callback for destination and releases its live
// subscription. Unknown destinations are ignored.
func (r *Registry) Unsubscribe(destination string) {
	r.mu.Lock()
	e, ok := r.entries[destination]
	if !ok {
		r.mu.Unlock()
		return
	}
	r.deleteLocked(destination)
	live := e.live
	r.mu.Unlock()

	r.release(destination, live)
	r.logger.Debug("destination unsubscribed", "destination", destination, "callbacks", len(e.regs))
}

// Remove drops a single registration. The live subscription goes with the last
// callback of its destination. It returns false for unknown handles.
func (r *Registry) Remove(h Handle) bool {
	r.mu.Lock()
	for dest, e := range r.entries {
		for i, reg := range e.regs {
			if reg.handle != h {
				continue
			}
			e.regs = append(e.regs[:i:i], e.regs[i+1:]...)
			if len(e.regs) > 0 {
				r.mu.Unlock()
				return true
			}

			r.deleteLocked(dest)
			live := e.live
			r.mu.Unlock()

			r.release(dest, live)
			return true
		}
	}
	r.mu.Unlock()
	return false
}

// Callbacks returns the callbacks of destination in registration order.
func (r *Registry) Callbacks(destination string) []Callback {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[destination]
	if !ok {
		return nil
	}
	out := make([]Callback, len(e.regs))
	for i, reg := range e.regs {
		out[i] = reg.callback
	}
	return out
}

// Destinations returns the registered destinations in first-subscribe order.
func (r *Registry) Destinations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Stats returns registry statistics.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{Destinations: len(r.entries)}
	for _, e := range r.entries {
		s.Callbacks += len(e.regs)
		if e.live != nil {
			s.Live++
		}
	}
	return s
}

// ReplayAll establishes one live subscription per registered destination on a
// freshly connected transport.
func (r *Registry) ReplayAll(t connection.Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.transport = t
	if t == nil || !t.IsConnected() {
		return
	}

	replayed := 0
	for _, dest := range r.order {
		e := r.entries[dest]
		if e.live != nil || len(e.regs) == 0 {
			continue
		}
		if r.attachLocked(t, dest, e) {
			replayed++
		}
	}

	if replayed > 0 {
		r.logger.Info("subscriptions restored", "count", replayed)
	}
}

// Detach forgets live subscriptions without network traffic. Registrations
// are kept for the next ReplayAll.
func (r *Registry) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		e.live = nil
	}
}

// Release unsubscribes every live subscription, then detaches the transport.
func (r *Registry) Release() {
	r.mu.Lock()
	type liveSub struct {
		destination string
		sub         connection.Subscription
	}
	var live []liveSub
	for _, dest := range r.order {
		e := r.entries[dest]
		if e.live != nil {
			live = append(live, liveSub{dest, e.live})
			e.live = nil
		}
	}
	r.transport = nil
	r.mu.Unlock()

	for _, l := range live {
		r.release(l.destination, l.sub)
	}
}

// attachLocked subscribes destination on t. Must be called with lock held.
func (r *Registry) attachLocked(t connection.Transport, destination string, e *entry) bool {
	sub, err := t.Subscribe(destination, r.deliver)
	if err != nil {
		r.logger.Warn("failed to subscribe",
			"destination", destination,
			"error", err,
		)
		return false
	}
	e.live = sub
	return true
}

// deleteLocked removes destination. Must be called with lock held.
func (r *Registry) deleteLocked(destination string) {
	delete(r.entries, destination)
	for i, d := range r.order {
		if d == destination {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) release(destination string, sub connection.Subscription) {
	if sub == nil {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		r.logger.Warn("failed to unsubscribe",
			"destination", destination,
			"error", err,
		)
	}
}

// deliver is the handler of every live subscription.
func (r *Registry) deliver(destination string, body []byte) {
	r.mu.Lock()
	sink := r.sink
	r.mu.Unlock()

	if sink != nil {
		sink(destination, body)
	}
}
