package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/liveupdates/internal/auth"
	"github.com/rickgao/liveupdates/internal/connection"
	"github.com/rickgao/liveupdates/internal/model"
)

// wsBroker is a single-connection STOMP broker over WebSocket.
type wsBroker struct {
	server *httptest.Server

	mu      sync.Mutex
	conn    *websocket.Conn
	subs    map[string]string // destination → subscription id
	auth    []string
	subSeen chan string
}

func newWSBroker(t *testing.T) *wsBroker {
	b := &wsBroker{
		subs:    make(map[string]string),
		subSeen: make(chan string, 8),
	}
	upgrader := websocket.Upgrader{Subprotocols: []string{"v12.stomp"}}

	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		b.mu.Lock()
		b.conn = conn
		b.subs = make(map[string]string)
		b.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames, _ := connection.DecodeFrames(data)
			for _, f := range frames {
				switch f.Command {
				case connection.CmdConnect:
					b.mu.Lock()
					b.auth = append(b.auth, f.Get(connection.HdrAuthorization))
					b.mu.Unlock()
					b.send(connection.NewFrame(connection.CmdConnected,
						connection.HdrVersion, "1.2",
						connection.HdrHeartBeat, "0,0",
					))
				case connection.CmdSubscribe:
					dest := f.Get(connection.HdrDestination)
					b.mu.Lock()
					b.subs[dest] = f.Get(connection.HdrID)
					b.mu.Unlock()
					b.subSeen <- dest
				}
			}
		}
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *wsBroker) send(f *connection.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		b.conn.WriteMessage(websocket.TextMessage, f.Encode())
	}
}

func (b *wsBroker) publish(destination, body string) {
	b.mu.Lock()
	id := b.subs[destination]
	b.mu.Unlock()

	msg := connection.NewFrame(connection.CmdMessage,
		connection.HdrDestination, destination,
		connection.HdrSubscription, id,
	)
	msg.Body = []byte(body)
	b.send(msg)
}

// kick closes the current connection from the broker side.
func (b *wsBroker) kick() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}

func waitSubscribed(t *testing.T, b *wsBroker, destination string) {
	t.Helper()
	select {
	case got := <-b.subSeen:
		require.Equal(t, destination, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("broker never saw SUBSCRIBE %s", destination)
	}
}

func TestService_OverWebSocket(t *testing.T) {
	b := newWSBroker(t)

	cfg := DefaultConfig()
	cfg.Client.URL = b.server.URL // http URLs are rewritten to ws
	cfg.Client.HeartbeatOutgoing = 0
	cfg.Client.HeartbeatIncoming = 0
	cfg.Manager.ReconnectBaseDelay = 20 * time.Millisecond

	s := New(cfg, WithTokenSource(auth.StaticToken("tok")))
	defer s.Stop(context.Background())

	got := make(chan model.Update, 4)
	s.Subscribe("/topic/uploads", func(u model.Update) { got <- u })

	require.NoError(t, s.Start(context.Background()))
	waitSubscribed(t, b, "/topic/uploads")
	require.Eventually(t, s.IsConnected, 2*time.Second, 10*time.Millisecond)

	b.publish("/topic/uploads", uploadBody)
	select {
	case u := <-got:
		assert.Equal(t, model.KindUploadProgress, u.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("update not delivered")
	}

	// Broker drops the link; the subscription is replayed after reconnect.
	b.kick()
	waitSubscribed(t, b, "/topic/uploads")
	require.Eventually(t, s.IsConnected, 2*time.Second, 10*time.Millisecond)

	b.publish("/topic/uploads", uploadBody)
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("update not delivered after reconnect")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	require.Len(t, b.auth, 2)
	assert.Equal(t, "Bearer tok", b.auth[0])
	assert.Equal(t, "Bearer tok", b.auth[1])
}
