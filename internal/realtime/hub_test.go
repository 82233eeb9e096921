package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, hub *Hub, userID string, streams ...string) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(userID, streams, w, r)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHubBroadcastToUser(t *testing.T) {
	hub := NewHub(nil)
	conn := dialHub(t, hub, "user-1", "Sessions", "unknown")

	require.Eventually(t, func() bool { return hub.Subscribers(StreamSessions, "user-1") == 1 }, time.Second, 5*time.Millisecond)
	require.Zero(t, hub.Subscribers("unknown", "user-1"))

	hub.BroadcastToUser(StreamSessions, "user-2", Message{Event: "ignored"})
	hub.BroadcastToUser(StreamSessions, "user-1", Message{Event: EventSessionsChanged, Data: map[string]any{"count": 2}})

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, StreamSessions, msg.Stream)
	require.Equal(t, EventSessionsChanged, msg.Event)
}

func TestHubControlMessages(t *testing.T) {
	hub := NewHub(nil)
	conn := dialHub(t, hub, "user-1")

	require.NoError(t, conn.WriteJSON(controlMessage{Action: "subscribe", Streams: []string{StreamSessions}}))
	require.Eventually(t, func() bool { return hub.Subscribers(StreamSessions, "user-1") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(controlMessage{Action: "ping"}))
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "pong", msg.Event)

	require.NoError(t, conn.WriteJSON(controlMessage{Action: "unsubscribe", Streams: []string{StreamSessions}}))
	require.Eventually(t, func() bool { return hub.Subscribers(StreamSessions, "user-1") == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	hub := NewHub(nil)
	conn := dialHub(t, hub, "user-1", StreamSessions)
	require.Eventually(t, func() bool { return hub.Subscribers(StreamSessions, "user-1") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Subscribers(StreamSessions, "user-1") == 0 }, time.Second, 5*time.Millisecond)
}

func TestSameOrigin(t *testing.T) {
	cases := []struct {
		origin string
		host   string
		want   bool
	}{
		{"", "app.lensfusion.test", true},
		{"https://app.lensfusion.test", "app.lensfusion.test:443", true},
		{"http://localhost:5173", "api.lensfusion.test", true},
		{"http://127.0.0.1:3000", "api.lensfusion.test", true},
		{"https://evil.example", "app.lensfusion.test", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/realtime", nil)
		req.Host = tc.host
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		require.Equal(t, tc.want, sameOrigin(req), tc.origin)
	}
}

func TestKnownStream(t *testing.T) {
	require.True(t, KnownStream(" SESSIONS "))
	require.False(t, KnownStream("notifications"))
}
