// Package realtime is the entry point for consumers of live updates. A Service
// owns one broker connection, the subscription registry and the dispatcher,
// and keeps the most recent update for polling consumers.
package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/liveupdates/internal/auth"
	"github.com/rickgao/liveupdates/internal/connection"
	"github.com/rickgao/liveupdates/internal/model"
	"github.com/rickgao/liveupdates/internal/router"
	"github.com/rickgao/liveupdates/internal/subscription"
)

// Config holds the Service configuration.
type Config struct {
	Client   connection.ClientConfig
	Manager  connection.ManagerConfig
	FeedSize int // Updates kept for slow Updates() consumers
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Client:   connection.DefaultClientConfig(),
		Manager:  connection.DefaultManagerConfig(),
		FeedSize: 256,
	}
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithTokenSource sets where the bearer token is read from on every
// (re)connect. Without one the Service connects anonymously.
func WithTokenSource(tokens auth.TokenSource) Option {
	return func(s *Service) { s.tokens = tokens }
}

// WithTransport replaces the STOMP-over-WebSocket client.
func WithTransport(factory connection.TransportFactory) Option {
	return func(s *Service) { s.factory = factory }
}

// WithConnectHandler is called after every successful (re)connect.
func WithConnectHandler(f func()) Option {
	return func(s *Service) { s.onConnected = f }
}

// WithErrorHandler receives connection and broker errors.
func WithErrorHandler(f func(error)) Option {
	return func(s *Service) { s.onError = f }
}

// Stats contains runtime statistics.
type Stats struct {
	State             string
	Connected         bool
	ReconnectAttempts int
	Exhausted         bool
	LastUpdate        time.Time
	Subscriptions     subscription.Stats
	Dispatch          router.Stats
	Feed              router.FeedStats
}

// Service is the real-time update client.
type Service struct {
	cfg         Config
	logger      *slog.Logger
	tokens      auth.TokenSource
	factory     connection.TransportFactory
	onConnected func()
	onError     func(error)

	registry   *subscription.Registry
	dispatcher *router.Dispatcher
	manager    *connection.Manager
	feed       *router.Feed[model.Update]

	mu        sync.RWMutex
	latest    model.Update
	hasLatest bool
	stopped   bool
}

// New creates a Service. Nothing connects until Start.
func New(cfg Config, opts ...Option) *Service {
	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.factory == nil {
		clientCfg, logger := cfg.Client, s.logger.With("component", "transport")
		s.factory = func() connection.Transport {
			return connection.NewClient(clientCfg, logger)
		}
	}

	s.feed = router.NewFeed[model.Update](cfg.FeedSize)
	s.registry = subscription.NewRegistry(s.logger.With("component", "registry"))
	s.dispatcher = router.NewDispatcher(s.registry, s.observe, s.logger.With("component", "dispatcher"))
	s.registry.SetSink(s.dispatcher.Dispatch)
	s.manager = connection.NewManager(
		cfg.Manager,
		s.factory,
		s.tokens,
		s.registry,
		s.logger.With("component", "connection"),
	)

	return s
}

// Start begins connecting in the background. Connection failures go to the
// error handler, never to the caller.
func (s *Service) Start(ctx context.Context) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return connection.ErrAlreadyClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.manager.Connect(s.handleConnected, s.handleError)
	return nil
}

// Stop disconnects and closes the Updates feed. Registrations are kept but
// the Service cannot be started again.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.manager.Disconnect()
		close(done)
	}()

	s.feed.Close()

	select {
	case <-done:
		s.logger.Info("realtime service stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("realtime service stop timed out")
		return ctx.Err()
	}
}

// IsConnected returns true while the broker session is established.
func (s *Service) IsConnected() bool {
	return s.manager.IsConnected()
}

// Subscribe registers callback for destination and returns its handle. The
// registration survives reconnects.
func (s *Service) Subscribe(destination string, callback subscription.Callback) subscription.Handle {
	return s.registry.Subscribe(destination, callback)
}

// Unsubscribe removes every callback registered for destination.
func (s *Service) Unsubscribe(destination string) {
	s.registry.Unsubscribe(destination)
}

// Remove removes a single registration.
func (s *Service) Remove(h subscription.Handle) bool {
	return s.registry.Remove(h)
}

// Destinations returns the registered destinations.
func (s *Service) Destinations() []string {
	return s.registry.Destinations()
}

// LatestUpdate returns the most recently dispatched update on any destination.
func (s *Service) LatestUpdate() (model.Update, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.hasLatest
}

// Updates returns the stream of every parsed update.
func (s *Service) Updates() *router.Feed[model.Update] {
	return s.feed
}

// Stats returns current statistics.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	var last time.Time
	if s.hasLatest {
		last = s.latest.Timestamp
	}
	s.mu.RUnlock()

	return Stats{
		State:             s.manager.State().String(),
		Connected:         s.manager.IsConnected(),
		ReconnectAttempts: s.manager.ReconnectAttempts(),
		Exhausted:         s.manager.Exhausted(),
		LastUpdate:        last,
		Subscriptions:     s.registry.Stats(),
		Dispatch:          s.dispatcher.Stats(),
		Feed:              s.feed.Stats(),
	}
}

// observe runs for every parsed update before its callbacks.
func (s *Service) observe(destination string, u model.Update) {
	s.mu.Lock()
	s.latest = u
	s.hasLatest = true
	s.mu.Unlock()

	s.feed.Publish(u)
}

func (s *Service) handleConnected() {
	if s.onConnected != nil {
		s.onConnected()
	}
}

func (s *Service) handleError(err error) {
	if s.onError != nil {
		s.onError(err)
	}
}
