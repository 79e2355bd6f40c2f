package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return hub, server
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event Event
	require.NoError(t, json.Unmarshal(data, &event))
	return event
}

func TestHubBroadcastsSegmentsToAllClients(t *testing.T) {
	hub, server := startHub(t)
	conn := dial(t, server, "")

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	hub.BroadcastSegment("s1", SegmentPayload{Text: "hello there", IsFinal: true})

	event := readEvent(t, conn)
	assert.Equal(t, "segment", event.Type)
	assert.Equal(t, "s1", event.SessionID)

	payload := event.Payload.(map[string]interface{})
	assert.Equal(t, "hello there", payload["text"])
	assert.Equal(t, true, payload["is_final"])
}

func TestHubSessionFiltering(t *testing.T) {
	hub, server := startHub(t)
	conn := dial(t, server, "?session_id=s1")

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	hub.BroadcastSegment("other-session", SegmentPayload{Text: "not for you"})
	hub.BroadcastSegment("s1", SegmentPayload{Text: "for you"})

	event := readEvent(t, conn)
	assert.Equal(t, "s1", event.SessionID, "events for other sessions are filtered out")
}

func TestHubQualityEvents(t *testing.T) {
	hub, server := startHub(t)
	conn := dial(t, server, "")

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	hub.BroadcastQuality("s1", QualityPayload{
		Status: "degraded",
		Issues: []string{"system-audio-unavailable"},
	})

	event := readEvent(t, conn)
	assert.Equal(t, "quality", event.Type)

	payload := event.Payload.(map[string]interface{})
	assert.Equal(t, "degraded", payload["status"])
}

func TestHubSurvivesClientDisconnect(t *testing.T) {
	hub, server := startHub(t)
	conn := dial(t, server, "")

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 },
		time.Second, 10*time.Millisecond)

	// Broadcasting with no clients must not block or panic.
	assert.NotPanics(t, func() {
		hub.BroadcastSegment("s1", SegmentPayload{Text: "into the void"})
	})
}
