package statusfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/adityaadpandey/roomlink/internals/state"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func startHub(t *testing.T) (*Hub, string, context.CancelFunc) {
	t.Helper()
	hub := NewHub(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http"), cancel
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readState(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == MessageTypeConnectionState {
			return msg
		}
	}
}

func TestPublishReachesClient(t *testing.T) {
	hub, url, _ := startHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish("lobby", state.Waiting)
	hub.Publish("lobby", state.Active)

	first := readState(t, conn)
	assert.Equal(t, "waiting", first.State)
	assert.Equal(t, "lobby", first.Room)
	assert.False(t, first.Timestamp.IsZero())
	assert.Equal(t, "active", readState(t, conn).State)
}

func TestLateClientGetsLastState(t *testing.T) {
	hub, url, _ := startHub(t)
	hub.Publish("lobby", state.Connecting)
	hub.Publish("lobby", state.Error)

	conn := dial(t, url)
	var got []string
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	for len(got) == 0 || got[len(got)-1] != "error" {
		got = append(got, readState(t, conn).State)
	}
	assert.Equal(t, "error", got[len(got)-1])
}

func TestClientCloseUnregisters(t *testing.T) {
	hub, url, _ := startHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestSlowClientIsDropped(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	c := &Client{ID: "slow", Send: make(chan Message, 1), logger: hub.logger}
	hub.clients[c.ID] = c

	hub.deliver(c, Message{Type: MessageTypeConnectionState, State: "active"})
	hub.deliver(c, Message{Type: MessageTypeConnectionState, State: "offline"})

	assert.Equal(t, 0, hub.Clients())
	assert.True(t, c.closed.Load())
	msg, ok := <-c.Send
	require.True(t, ok)
	assert.Equal(t, "active", msg.State)
	_, ok = <-c.Send
	assert.False(t, ok)
}

func TestShutdownClosesClients(t *testing.T) {
	hub, url, cancel := startHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.Equal(t, 0, hub.Clients())

	hub.Publish("lobby", state.Active)
}
