// Package router turns MESSAGE bodies into model updates and fans them out to
// the callbacks registered for their destination.
package router

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/rickgao/liveupdates/internal/model"
	"github.com/rickgao/liveupdates/internal/subscription"
)

// Lookup returns the callbacks currently registered for a destination.
type Lookup interface {
	Callbacks(destination string) []subscription.Callback
}

// Observer sees every parsed update before any callback does.
type Observer func(destination string, u model.Update)

// Stats contains runtime statistics.
type Stats struct {
	Received         int64
	Dispatched       int64
	ParseErrors      int64
	UnknownKinds     int64
	CallbacksInvoked int64
	CallbackPanics   int64
}

// Dispatcher parses frame bodies and invokes callbacks synchronously on the
// caller's goroutine.
type Dispatcher struct {
	lookup  Lookup
	observe Observer
	logger  *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// NewDispatcher creates a dispatcher. observe may be nil.
func NewDispatcher(lookup Lookup, observe Observer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		lookup:  lookup,
		observe: observe,
		logger:  logger,
	}
}

// Dispatch parses body and delivers the update to the observer, then to every
// callback of destination in registration order. Unparseable bodies are
// logged and dropped.
func (d *Dispatcher) Dispatch(destination string, body []byte) {
	d.count(func(s *Stats) { s.Received++ })

	u, err := model.ParseUpdate(body)
	if err != nil {
		if errors.Is(err, model.ErrUnknownKind) {
			d.count(func(s *Stats) { s.UnknownKinds++ })
		} else {
			d.count(func(s *Stats) { s.ParseErrors++ })
		}
		d.logger.Warn("dropping update",
			"destination", destination,
			"error", err,
			"size", len(body),
		)
		return
	}

	d.count(func(s *Stats) { s.Dispatched++ })

	if d.observe != nil {
		d.observe(destination, u)
	}

	for i, cb := range d.lookup.Callbacks(destination) {
		d.invoke(destination, i, cb, u)
	}
}

// invoke runs one callback; a panic is logged and counted.
func (d *Dispatcher) invoke(destination string, index int, cb subscription.Callback, u model.Update) {
	defer func() {
		if r := recover(); r != nil {
			d.count(func(s *Stats) { s.CallbackPanics++ })
			d.logger.Error("update callback panicked",
				"destination", destination,
				"index", index,
				"kind", string(u.Kind),
				"panic", r,
			)
		}
	}()

	d.count(func(s *Stats) { s.CallbacksInvoked++ })
	cb(u)
}

// Stats returns current statistics.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Dispatcher) count(f func(*Stats)) {
	d.mu.Lock()
	f(&d.stats)
	d.mu.Unlock()
}
