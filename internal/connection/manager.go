package connection

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/rickgao/liveupdates/internal/auth"
)

// Replayer owns the durable subscription set the Manager restores on every
// (re)connect.
type Replayer interface {
	// ReplayAll establishes live subscriptions on a freshly connected transport.
	ReplayAll(t Transport)

	// Detach forgets live subscriptions after the link was lost.
	Detach()

	// Release unsubscribes live subscriptions before an explicit disconnect.
	Release()
}

// timer is the part of *time.Timer the Manager needs.
type timer interface {
	Stop() bool
}

// Manager drives the connect/reconnect state machine of a single transport.
//
// Reconnection uses linear backoff: the n-th consecutive unsolicited
// disconnect schedules a reactivation after n × ReconnectBaseDelay, up to
// MaxReconnectAttempts. Every activation carries an epoch; events and timers
// from a superseded epoch are ignored, so a Disconnect racing an activation
// cannot bring the connection back.
type Manager struct {
	cfg      ManagerConfig
	factory  TransportFactory
	tokens   auth.TokenSource
	replayer Replayer
	logger   *slog.Logger

	afterFunc func(d time.Duration, f func()) timer

	mu          sync.Mutex
	state       State
	attempts    int
	exhausted   bool
	epoch       uint64
	transport   Transport
	pending     timer
	ctx         context.Context
	cancel      context.CancelFunc
	onConnected func()
	onError     func(error)
}

// NewManager creates a Connection Manager. The transport is created by factory
// on the first Connect; tokens may be nil for anonymous connections.
func NewManager(cfg ManagerConfig, factory TransportFactory, tokens auth.TokenSource, replayer Replayer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if replayer == nil {
		replayer = nopReplayer{}
	}

	return &Manager{
		cfg:      cfg,
		factory:  factory,
		tokens:   tokens,
		replayer: replayer,
		logger:   logger,
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
		state: StateIdle,
	}
}

// Connect starts connecting in the background. It is a no-op while connected
// or while an activation is already in flight. onConnected runs after every
// successful (re)connect; onError receives transport and activation errors.
func (m *Manager) Connect(onConnected func(), onError func(error)) {
	m.mu.Lock()
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		m.logger.Debug("already connected to broker")
		return
	case StateConnecting:
		m.mu.Unlock()
		m.logger.Debug("connection attempt already in progress")
		return
	}

	m.onConnected = onConnected
	m.onError = onError
	m.stopPendingLocked()
	m.attempts = 0
	m.exhausted = false

	if m.transport == nil {
		m.transport = m.factory()
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	m.epoch++
	epoch := m.epoch
	m.state = StateConnecting
	m.mu.Unlock()

	m.logger.Info("connecting to broker")
	go m.activate(epoch)
}

// Disconnect cancels any pending reconnect, releases live subscriptions and
// deactivates the transport. It is idempotent and safe from any state.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.epoch++
	m.stopPendingLocked()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	prev := m.state
	m.state = StateClosed
	t := m.transport
	m.mu.Unlock()

	m.replayer.Release()

	if t != nil {
		if err := t.Deactivate(); err != nil {
			m.logger.Warn("error deactivating transport", "error", err)
		}
	}

	if prev != StateClosed {
		m.logger.Info("disconnected from broker", "previous_state", prev.String())
	}
}

// IsConnected returns true iff the state is Connected.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ReconnectAttempts returns the consecutive reconnect attempts so far.
func (m *Manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Exhausted reports whether automatic reconnection has given up.
func (m *Manager) Exhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exhausted
}

// activate runs one transport activation for epoch.
func (m *Manager) activate(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	ctx, t := m.ctx, m.transport
	m.mu.Unlock()

	err := t.Activate(ctx, m.authHeader(ctx), Events{
		Connected:    func() { m.handleConnected(epoch) },
		Error:        func(err error) { m.handleError(epoch, err) },
		Disconnected: func(err error) { m.handleDisconnected(epoch, err) },
	})
	if err != nil {
		m.handleError(epoch, err)
		m.handleDisconnected(epoch, err)
	}
}

// authHeader reads the bearer token at activation time.
func (m *Manager) authHeader(ctx context.Context) http.Header {
	header := http.Header{}
	if m.tokens == nil {
		return header
	}

	token, err := m.tokens.Token(ctx)
	if err != nil {
		m.logger.Warn("failed to read bearer token, connecting without credentials", "error", err)
		return header
	}
	if token != "" {
		header.Set(HdrAuthorization, "Bearer "+token)
	}
	return header
}

func (m *Manager) handleConnected(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch || m.state == StateClosed {
		m.mu.Unlock()
		m.logger.Debug("ignoring connected event from superseded activation")
		return
	}
	m.attempts = 0
	m.exhausted = false
	m.state = StateConnected
	t, onConnected := m.transport, m.onConnected
	m.mu.Unlock()

	m.logger.Info("connected to broker")

	if onConnected != nil {
		onConnected()
	}
	m.replayer.ReplayAll(t)
}

func (m *Manager) handleError(epoch uint64, err error) {
	m.mu.Lock()
	if epoch != m.epoch || m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	onError := m.onError
	m.mu.Unlock()

	m.logger.Warn("broker connection error", "error", err)

	if onError != nil {
		onError(err)
	}
}

func (m *Manager) handleDisconnected(epoch uint64, err error) {
	m.mu.Lock()
	if epoch != m.epoch || m.state == StateClosed {
		m.mu.Unlock()
		return
	}

	m.stopPendingLocked()
	m.state = StateReconnecting

	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.exhausted = true
		attempts := m.attempts
		m.mu.Unlock()

		m.replayer.Detach()
		m.logger.Error("max reconnection attempts reached",
			"attempts", attempts,
			"error", err,
		)
		return
	}

	m.attempts++
	attempt := m.attempts
	delay := m.cfg.ReconnectBaseDelay * time.Duration(attempt)

	m.epoch++
	next := m.epoch
	m.pending = m.afterFunc(delay, func() { m.fireReconnect(next) })
	m.mu.Unlock()

	m.replayer.Detach()
	m.logger.Info("attempting reconnection",
		"attempt", attempt,
		"max_attempts", m.cfg.MaxReconnectAttempts,
		"delay", delay,
		"error", err,
	)
}

// fireReconnect runs when the pending reconnect timer for epoch expires.
func (m *Manager) fireReconnect(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.pending = nil
	m.mu.Unlock()

	m.activate(epoch)
}

func (m *Manager) stopPendingLocked() {
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}
}

type nopReplayer struct{}

func (nopReplayer) ReplayAll(Transport) {}
func (nopReplayer) Detach()             {}
func (nopReplayer) Release()            {}
