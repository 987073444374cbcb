package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/parkpal/internal/geofence"
)

func dialHub(t *testing.T, hub *Hub, userID string, streams ...string) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(userID, streams, KnownStreams, w, r)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHubPusherDeliversToSubscribedUser(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub, "alice", StreamPush)
	require.Eventually(t, func() bool { return hub.Subscribers(StreamPush, "alice") == 1 }, 2*time.Second, 5*time.Millisecond)

	pusher, err := NewHubPusher(hub)
	require.NoError(t, err)
	require.NoError(t, pusher.Push(context.Background(), "alice", geofence.PushRequest{
		Title: geofence.SpotAvailableTitle,
		Body:  geofence.SpotAvailableBody,
		Data:  geofence.PushData{ReportID: "r1"},
	}))

	msg := readMessage(t, conn)
	require.Equal(t, StreamPush, msg.Stream)
	require.Equal(t, EventPushRequested, msg.Event)
	data, ok := msg.Data.(map[string]any)
	require.True(t, ok)
	require.Equal(t, geofence.SpotAvailableTitle, data["title"])
	require.Equal(t, map[string]any{"reportId": "r1"}, data["data"])
}

func TestHubPusherRejectsCancelledContext(t *testing.T) {
	pusher, err := NewHubPusher(NewHub())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, pusher.Push(ctx, "alice", geofence.PushRequest{}), context.Canceled)
	require.Error(t, pusher.Push(context.Background(), "", geofence.PushRequest{}))
}

func TestNewHubPusherRequiresHub(t *testing.T) {
	_, err := NewHubPusher(nil)
	require.Error(t, err)
}

func TestHubBroadcastStreamAndControlMessages(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub, "bob", StreamReports, "unknown")
	require.Eventually(t, func() bool { return hub.Subscribers(StreamReports, "bob") == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Zero(t, hub.Subscribers("unknown", "bob"))

	hub.BroadcastStream(StreamReports, Message{Event: "reports.snapshot", Data: map[string]any{"seq": 1}})
	msg := readMessage(t, conn)
	require.Equal(t, StreamReports, msg.Stream)
	require.Equal(t, "reports.snapshot", msg.Event)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "ping"}))
	require.Equal(t, "pong", readMessage(t, conn).Event)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "subscribe", "streams": []string{StreamNotifications}}))
	require.Eventually(t, func() bool { return hub.Subscribers(StreamNotifications, "bob") == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "unsubscribe", "streams": []string{StreamReports}}))
	require.Eventually(t, func() bool { return hub.Subscribers(StreamReports, "bob") == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHubUnregistersClosedConnections(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub, "carol", StreamPush)
	require.Eventually(t, func() bool { return hub.Subscribers(StreamPush, "carol") == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Subscribers(StreamPush, "carol") == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHubBroadcastToUserSkipsOtherUsers(t *testing.T) {
	hub := NewHub()
	alice := dialHub(t, hub, "alice", StreamNotifications)
	bob := dialHub(t, hub, "bob", StreamNotifications)
	require.Eventually(t, func() bool {
		return hub.Subscribers(StreamNotifications, "alice") == 1 && hub.Subscribers(StreamNotifications, "bob") == 1
	}, 2*time.Second, 5*time.Millisecond)

	hub.BroadcastToUser(" Notifications ", "bob", Message{Event: "notification.created"})
	require.Equal(t, "notification.created", readMessage(t, bob).Event)

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	var msg Message
	require.Error(t, alice.ReadJSON(&msg))
}

func TestSameOriginOrLoopback(t *testing.T) {
	cases := []struct {
		origin string
		host   string
		want   bool
	}{
		{origin: "", host: "api.parkpal.test", want: true},
		{origin: "https://api.parkpal.test", host: "api.parkpal.test:8080", want: true},
		{origin: "http://localhost:5173", host: "api.parkpal.test", want: true},
		{origin: "http://127.0.0.1:3000", host: "api.parkpal.test", want: true},
		{origin: "https://evil.example", host: "api.parkpal.test", want: false},
		{origin: "://bad", host: "api.parkpal.test", want: false},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.Host = tc.host
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		require.Equal(t, tc.want, sameOriginOrLoopback(req), tc.origin)
	}
}
