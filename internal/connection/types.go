package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no heart-beat)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrAlreadyActive   = errors.New("transport already active")
)

// BrokerError is an ERROR frame received from the broker.
type BrokerError struct {
	Message string
	Body    string
}

func (e *BrokerError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("broker error: %s", e.Message)
	}
	return fmt.Sprintf("broker error: %s: %s", e.Message, e.Body)
}

// FrameHandler receives the body of a MESSAGE frame for a destination.
type FrameHandler func(destination string, body []byte)

// Events are the lifecycle callbacks of one transport activation.
// Any of them may be nil.
type Events struct {
	Connected    func()
	Error        func(err error)
	Disconnected func(err error)
}

func (e Events) connected() {
	if e.Connected != nil {
		e.Connected()
	}
}

func (e Events) error(err error) {
	if e.Error != nil {
		e.Error(err)
	}
}

func (e Events) disconnected(err error) {
	if e.Disconnected != nil {
		e.Disconnected(err)
	}
}

// Subscription is a live broker-side subscription.
type Subscription interface {
	ID() string
	Destination() string
	Unsubscribe() error
}

// Transport is a publish/subscribe link to the broker.
type Transport interface {
	// Activate dials the broker and starts the protocol handshake. The outcome
	// is reported through events; a returned error means the link never came up
	// and no further events follow for this activation.
	Activate(ctx context.Context, header http.Header, events Events) error

	// Deactivate tears the link down. No Disconnected event is emitted for a
	// deactivated link.
	Deactivate() error

	// Subscribe creates a live subscription whose MESSAGE bodies go to handler.
	Subscribe(destination string, handler FrameHandler) (Subscription, error)

	// IsConnected returns true once the broker confirmed the session.
	IsConnected() bool
}

// TransportFactory creates the transport a Manager owns.
type TransportFactory func() Transport

// ClientConfig configures a STOMP-over-WebSocket client.
type ClientConfig struct {
	URL               string        // Broker WebSocket URL (e.g., ws://localhost:15674/ws)
	Host              string        // STOMP virtual host
	HeartbeatOutgoing time.Duration // Heart-beat we offer to send (0 = none)
	HeartbeatIncoming time.Duration // Heart-beat we ask the broker to send (0 = none)
	ConnectTimeout    time.Duration // Dial + CONNECTED wait
	WriteTimeout      time.Duration // Write deadline for frames
	ReadLimit         int64         // Max inbound message size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		URL:               "ws://localhost:15674/ws",
		Host:              "/",
		HeartbeatOutgoing: 4 * time.Second,
		HeartbeatIncoming: 4 * time.Second,
		ConnectTimeout:    10 * time.Second,
		WriteTimeout:      5 * time.Second,
		ReadLimit:         1 << 20,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	MaxReconnectAttempts int           // Unsolicited disconnects tolerated before giving up
	ReconnectBaseDelay   time.Duration // Delay unit; attempt n waits n × base
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   3 * time.Second,
	}
}

// State is the connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}
