package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoapply/autoapply/internal/automation"
)

func dialTestWebSocket(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func readServerMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocket_SubscribeReceivesEvents(t *testing.T) {
	s := &Server{broker: automation.NewBroker()}
	conn := dialTestWebSocket(t, s)
	runID := "550e8400-e29b-41d4-a716-446655440000"

	greeting := readServerMessage(t, conn)
	assert.Equal(t, "connected", greeting["type"])

	require.NoError(t, conn.WriteJSON(wsClientMessage{Type: "subscribe", RunID: runID}))
	ack := readServerMessage(t, conn)
	assert.Equal(t, "subscribed", ack["type"])
	assert.Equal(t, runID, ack["runId"])

	// The registered subscriber shows up in the broker, then sees events.
	require.Eventually(t, func() bool {
		return s.broker.SubscriberCount(runID) == 1
	}, time.Second, 10*time.Millisecond)

	step := 2
	total := 4
	s.broker.Publish(runID, automation.Event{
		Type:       automation.EventTypeProgress,
		Step:       &step,
		TotalSteps: &total,
		Action:     "fill_form",
	})

	event := readServerMessage(t, conn)
	assert.Equal(t, "progress", event["type"])
	assert.Equal(t, runID, event["runId"])
	assert.Equal(t, float64(2), event["step"])
	assert.Equal(t, "fill_form", event["action"])
}

func TestWebSocket_UnsubscribeStopsEvents(t *testing.T) {
	s := &Server{broker: automation.NewBroker()}
	conn := dialTestWebSocket(t, s)
	runID := "650e8400-e29b-41d4-a716-446655440000"

	readServerMessage(t, conn) // connected

	require.NoError(t, conn.WriteJSON(wsClientMessage{Type: "subscribe", RunID: runID}))
	readServerMessage(t, conn) // subscribed
	require.Eventually(t, func() bool {
		return s.broker.SubscriberCount(runID) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(wsClientMessage{Type: "unsubscribe", RunID: runID}))
	require.Eventually(t, func() bool {
		return s.broker.SubscriberCount(runID) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestWebSocket_InvalidRunID(t *testing.T) {
	s := &Server{broker: automation.NewBroker()}
	conn := dialTestWebSocket(t, s)

	readServerMessage(t, conn) // connected

	require.NoError(t, conn.WriteJSON(wsClientMessage{Type: "subscribe", RunID: "../etc"}))
	msg := readServerMessage(t, conn)
	assert.Equal(t, "error", msg["type"])
}

func TestWebSocket_DisconnectRemovesSubscriptions(t *testing.T) {
	s := &Server{broker: automation.NewBroker()}
	conn := dialTestWebSocket(t, s)
	runID := "750e8400-e29b-41d4-a716-446655440000"

	readServerMessage(t, conn) // connected
	require.NoError(t, conn.WriteJSON(wsClientMessage{Type: "subscribe", RunID: runID}))
	readServerMessage(t, conn) // subscribed
	require.Eventually(t, func() bool {
		return s.broker.SubscriberCount(runID) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return s.broker.SubscriberCount(runID) == 0
	}, time.Second, 10*time.Millisecond)
}
