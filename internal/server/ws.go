package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/autoapply/autoapply/internal/automation"
)

const wsWriteTimeout = 10 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The desktop client connects from a file:// or app:// origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClientMessage is a control message sent by a connected client.
type wsClientMessage struct {
	Type  string `json:"type"`
	RunID string `json:"runId"`
}

// wsServerMessage is a control message pushed to a connected client.
type wsServerMessage struct {
	Type    string `json:"type"`
	RunID   string `json:"runId,omitempty"`
	Message string `json:"message,omitempty"`
}

// wsClient is one websocket connection with its active run subscriptions.
// Socket writes come from one pump goroutine per subscription plus the
// control path, so they are serialized through a mutex.
type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]*automation.Subscriber
}

// handleWebSocket serves the live run event stream. Clients subscribe and
// unsubscribe to individual runs; disconnecting drops every subscription.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		subs: make(map[string]*automation.Subscriber),
	}
	defer client.close(s.broker)

	if err := client.send(wsServerMessage{Type: "connected"}); err != nil {
		return
	}

	for {
		var msg wsClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] read error: %v", err)
			}
			return
		}

		switch msg.Type {
		case "subscribe":
			s.subscribeClient(client, msg.RunID)
		case "unsubscribe":
			client.unsubscribe(s.broker, msg.RunID)
		default:
			_ = client.send(wsServerMessage{Type: "error", Message: "unknown message type"})
		}
	}
}

// subscribeClient attaches the client to a run's event stream and starts the
// pump goroutine that forwards events to the socket. Subscribing twice to
// the same run is a no-op beyond the ack.
func (s *Server) subscribeClient(client *wsClient, runID string) {
	if !automation.ValidRunID(runID) {
		_ = client.send(wsServerMessage{Type: "error", Message: "invalid run id"})
		return
	}

	client.mu.Lock()
	if _, exists := client.subs[runID]; exists {
		client.mu.Unlock()
		_ = client.send(wsServerMessage{Type: "subscribed", RunID: runID})
		return
	}
	sub := s.broker.Subscribe(runID)
	client.subs[runID] = sub
	client.mu.Unlock()

	go client.pump(sub)

	_ = client.send(wsServerMessage{Type: "subscribed", RunID: runID})
}

// pump forwards broker events to the socket until the subscription closes.
// A write failure abandons the pump; the read loop notices the dead socket
// and tears everything down.
func (c *wsClient) pump(sub *automation.Subscriber) {
	for event := range sub.Events() {
		if err := c.send(event); err != nil {
			return
		}
	}
}

func (c *wsClient) send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsClient) unsubscribe(broker *automation.Broker, runID string) {
	c.mu.Lock()
	sub, exists := c.subs[runID]
	if exists {
		delete(c.subs, runID)
	}
	c.mu.Unlock()

	if exists {
		broker.Unsubscribe(sub)
	}
}

// close removes the connection from every run it observes.
func (c *wsClient) close(broker *automation.Broker) {
	c.mu.Lock()
	subs := make([]*automation.Subscriber, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subs = make(map[string]*automation.Subscriber)
	c.mu.Unlock()

	for _, sub := range subs {
		broker.Unsubscribe(sub)
	}
	_ = c.conn.Close()
}
