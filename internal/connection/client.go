package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// stompSubprotocols are offered on the WebSocket handshake.
var stompSubprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

// Client is a STOMP client carried over a WebSocket connection, one frame per
// WebSocket text message. It implements Transport and may be activated again
// after its link is lost or deactivated.
type Client struct {
	cfg    ClientConfig
	logger *slog.Logger
	dialer websocket.Dialer

	mu   sync.Mutex
	sess *session
	subs map[string]*subscription // subscription id → subscription
}

// session is the state of one activation.
type session struct {
	conn    *websocket.Conn
	events  Events
	done    chan struct{}
	writeMu sync.Mutex

	// Guarded by Client.mu
	connected bool
	closing   bool
}

// subscription implements Subscription.
type subscription struct {
	client      *Client
	sess        *session
	id          string
	destination string
	handler     FrameHandler
}

// NewClient creates a new STOMP-over-WebSocket client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:    cfg,
		logger: logger,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.ConnectTimeout,
			Subprotocols:     stompSubprotocols,
		},
		subs: make(map[string]*subscription),
	}
}

// Activate dials the broker and sends CONNECT. Connected fires once the broker
// answers with CONNECTED.
func (c *Client) Activate(ctx context.Context, header http.Header, events Events) error {
	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	c.mu.Unlock()

	dialCtx := ctx
	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}

	url := BrokerURL(c.cfg.URL)
	conn, _, err := c.dialer.DialContext(dialCtx, url, header.Clone())
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	if c.cfg.ReadLimit > 0 {
		conn.SetReadLimit(c.cfg.ReadLimit)
	}

	sess := &session{
		conn:   conn,
		events: events,
		done:   make(chan struct{}),
	}

	// A Deactivate that ran while we were dialing cancels ctx first.
	c.mu.Lock()
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		conn.Close()
		return err
	}
	if c.sess != nil {
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyActive
	}
	c.sess = sess
	c.mu.Unlock()

	connect := NewFrame(CmdConnect,
		HdrAcceptVersion, "1.0,1.1,1.2",
		HdrHost, c.cfg.Host,
		HdrHeartBeat, formatHeartBeat(c.cfg.HeartbeatOutgoing, c.cfg.HeartbeatIncoming),
	)
	for key := range header {
		connect.Set(key, header.Get(key))
	}

	if err := c.write(sess, connect.Encode()); err != nil {
		c.mu.Lock()
		if c.sess == sess {
			c.sess = nil
		}
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("send CONNECT: %w", err)
	}

	go c.readLoop(sess)

	c.logger.Debug("websocket connected, awaiting CONNECTED", "url", url)
	return nil
}

// Deactivate sends DISCONNECT and closes the connection.
func (c *Client) Deactivate() error {
	c.mu.Lock()
	sess := c.sess
	if sess == nil {
		c.mu.Unlock()
		return nil
	}
	sess.closing = true
	c.sess = nil
	c.subs = make(map[string]*subscription)
	c.mu.Unlock()

	if err := c.write(sess, NewFrame(CmdDisconnect, HdrReceipt, uuid.NewString()).Encode()); err != nil {
		c.logger.Debug("failed to send DISCONNECT", "error", err)
	}

	sess.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return sess.conn.Close()
}

// Subscribe sends SUBSCRIBE for destination.
func (c *Client) Subscribe(destination string, handler FrameHandler) (Subscription, error) {
	c.mu.Lock()
	sess := c.sess
	if sess == nil || !sess.connected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	sub := &subscription{
		client:      c,
		sess:        sess,
		id:          uuid.NewString(),
		destination: destination,
		handler:     handler,
	}
	c.subs[sub.id] = sub
	c.mu.Unlock()

	frame := NewFrame(CmdSubscribe,
		HdrID, sub.id,
		HdrDestination, destination,
		HdrAck, "auto",
	)
	if err := c.write(sess, frame.Encode()); err != nil {
		c.mu.Lock()
		if c.subs[sub.id] == sub {
			delete(c.subs, sub.id)
		}
		c.mu.Unlock()
		return nil, fmt.Errorf("subscribe %s: %w", destination, err)
	}

	c.logger.Debug("subscribed", "destination", destination, "id", sub.id)
	return sub, nil
}

// IsConnected returns true while the STOMP session is established.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil && c.sess.connected
}

func (s *subscription) ID() string          { return s.id }
func (s *subscription) Destination() string { return s.destination }

// Unsubscribe sends UNSUBSCRIBE. It is a no-op once the session that created
// the subscription is gone.
func (s *subscription) Unsubscribe() error {
	c := s.client

	c.mu.Lock()
	live := c.sess == s.sess && c.subs[s.id] == s
	if live {
		delete(c.subs, s.id)
	}
	c.mu.Unlock()

	if !live {
		return nil
	}
	if err := c.write(s.sess, NewFrame(CmdUnsubscribe, HdrID, s.id).Encode()); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", s.destination, err)
	}
	c.logger.Debug("unsubscribed", "destination", s.destination, "id", s.id)
	return nil
}

// write sends one WebSocket text message.
func (c *Client) write(sess *session, data []byte) error {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		sess.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return sess.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads frames until the connection fails or is deactivated.
func (c *Client) readLoop(sess *session) {
	var err error
	defer func() {
		c.teardown(sess, err)
	}()

	// Until CONNECTED arrives the connect timeout bounds each read; afterwards
	// the negotiated incoming heart-beat does.
	readTimeout := c.cfg.ConnectTimeout

	for {
		if readTimeout > 0 {
			sess.conn.SetReadDeadline(time.Now().Add(readTimeout))
		} else {
			sess.conn.SetReadDeadline(time.Time{})
		}

		var data []byte
		_, data, err = sess.conn.ReadMessage()
		if err != nil {
			return
		}

		frames, decodeErr := DecodeFrames(data)
		if decodeErr != nil {
			c.logger.Warn("dropping malformed frame", "error", decodeErr, "size", len(data))
			sess.events.error(decodeErr)
		}

		for _, f := range frames {
			switch f.Command {
			case CmdConnected:
				if timeout, ok := c.handleConnected(sess, f); ok {
					readTimeout = timeout
				}
			case CmdMessage:
				c.handleMessage(sess, f)
			case CmdError:
				brokerErr := &BrokerError{Message: f.Get(HdrMessage), Body: string(f.Body)}
				c.logger.Error("stomp error frame", "message", brokerErr.Message)
				sess.events.error(brokerErr)
			case CmdReceipt:
				c.logger.Debug("receipt", "receipt_id", f.Get(HdrReceiptID))
			default:
				c.logger.Debug("ignoring frame", "command", f.Command)
			}
		}
	}
}

// handleConnected negotiates heart-beats and marks the session established.
// It returns the read timeout to use from now on.
func (c *Client) handleConnected(sess *session, f *Frame) (time.Duration, bool) {
	serverOut, serverIn := parseHeartBeat(f.Get(HdrHeartBeat))
	outgoing := negotiateHeartBeat(c.cfg.HeartbeatOutgoing, serverIn)
	incoming := negotiateHeartBeat(c.cfg.HeartbeatIncoming, serverOut)

	c.mu.Lock()
	if c.sess != sess || sess.closing {
		c.mu.Unlock()
		return 0, false
	}
	sess.connected = true
	c.mu.Unlock()

	if outgoing > 0 {
		go c.heartbeatLoop(sess, outgoing)
	}

	c.logger.Info("stomp session established",
		"version", f.Get(HdrVersion),
		"heartbeat_out", outgoing,
		"heartbeat_in", incoming,
	)

	sess.events.connected()

	return 2 * incoming, true
}

// handleMessage routes a MESSAGE frame to its subscription handler.
func (c *Client) handleMessage(sess *session, f *Frame) {
	id := f.Get(HdrSubscription)

	c.mu.Lock()
	sub, ok := c.subs[id]
	if c.sess != sess {
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("message for unknown subscription",
			"subscription", id,
			"destination", f.Get(HdrDestination),
		)
		return
	}

	sub.handler(sub.destination, f.Body)
}

// teardown runs once when the read loop exits.
func (c *Client) teardown(sess *session, err error) {
	c.mu.Lock()
	closing := sess.closing
	if c.sess == sess {
		c.sess = nil
		c.subs = make(map[string]*subscription)
	}
	c.mu.Unlock()

	close(sess.done)
	sess.conn.Close()

	if closing {
		return
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		err = fmt.Errorf("%w: %v", ErrStaleConnection, err)
	}

	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Warn("websocket closed unexpectedly", "error", err)
	} else {
		c.logger.Info("websocket closed", "error", err)
	}

	sess.events.disconnected(err)
}

// heartbeatLoop sends an EOL every interval while the session lives.
func (c *Client) heartbeatLoop(sess *session, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
			if err := c.write(sess, heartbeatFrame); err != nil {
				c.logger.Debug("failed to send heart-beat", "error", err)
				return
			}
		}
	}
}

// BrokerURL rewrites http(s) URLs, as used by SockJS endpoints, to ws(s).
func BrokerURL(raw string) string {
	switch {
	case strings.HasPrefix(raw, "http://"):
		return "ws://" + strings.TrimPrefix(raw, "http://")
	case strings.HasPrefix(raw, "https://"):
		return "wss://" + strings.TrimPrefix(raw, "https://")
	}
	return raw
}

func formatHeartBeat(out, in time.Duration) string {
	return strconv.FormatInt(out.Milliseconds(), 10) + "," + strconv.FormatInt(in.Milliseconds(), 10)
}

// parseHeartBeat parses "cx,cy" in milliseconds. Malformed values mean none.
func parseHeartBeat(v string) (out, in time.Duration) {
	a, b, ok := strings.Cut(v, ",")
	if !ok {
		return 0, 0
	}
	x, errX := strconv.ParseInt(strings.TrimSpace(a), 10, 64)
	y, errY := strconv.ParseInt(strings.TrimSpace(b), 10, 64)
	if errX != nil || errY != nil || x < 0 || y < 0 {
		return 0, 0
	}
	return time.Duration(x) * time.Millisecond, time.Duration(y) * time.Millisecond
}

// negotiateHeartBeat applies the STOMP rule: zero on either side disables the
// beat, otherwise the larger interval wins.
func negotiateHeartBeat(ours, theirs time.Duration) time.Duration {
	if ours <= 0 || theirs <= 0 {
		return 0
	}
	if theirs > ours {
		return theirs
	}
	return ours
}
