package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func clientCount(h *Hub) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func TestHub_RegisterAndBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, hub.HasClients, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Broadcast(map[string]string{"type": "funnel_update"}))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(message), "funnel_update")
}

func TestHub_ManyFailedWritesDoNotStallLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	// Register connections that are already closed on the server side, so
	// every broadcast write to them fails at once.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
		hub.register <- conn
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	const clients = wsChannelBuffer + 2
	for i := 0; i < clients; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		defer conn.Close()
	}

	require.Eventually(t, func() bool {
		return clientCount(hub) == clients
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Broadcast(map[string]string{"type": "funnel_update"}))

	// The loop must drop every dead connection and keep serving; more
	// failures than the unregister channel can buffer used to wedge it.
	require.Eventually(t, func() bool {
		return clientCount(hub) == 0
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Broadcast(map[string]string{"type": "funnel_update"}))
	require.Eventually(t, func() bool {
		return len(hub.broadcast) == 0
	}, time.Second, 10*time.Millisecond)
}
