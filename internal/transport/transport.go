// Package transport implements the websocket push protocol of spec §6
// (`internal/transport`, spec §4.13): one reader goroutine per connected
// client handling start_streaming/stop_streaming/get_status. Broadcast
// payloads go out through the broadcast.Hub's adaptive per-client rate
// control; command replies are written directly on the connection.
package transport

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/basincorp/seismograph/internal/broadcast"
)

// Command is the inbound push-channel message (spec §6).
type Command struct {
	Command string `json:"command"`
}

// Response is the outbound reply to a Command (spec §6: type "response" or
// "error").
type Response struct {
	Type    string `json:"type"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// StatusProvider supplies the get_status payload; wired at startup to the
// station's telemetry.Counters snapshot.
type StatusProvider func() any

// Server upgrades HTTP connections to websockets and dispatches the command
// protocol. Grounded on other_examples' LiveDataSource.Subscribe(filter)
// (<-chan, cancel) shape, adapted here to a push-command connection instead
// of a pull subscription.
type Server struct {
	upgrader websocket.Upgrader
	registry *broadcast.Hub
	status   StatusProvider
}

func New(registry *broadcast.Hub, status StatusProvider) *Server {
	return &Server{
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		registry: registry,
		status:   status,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	clientID := uuid.NewString()
	sender := newConnSender(conn)
	streaming := false

	defer func() {
		if streaming {
			s.registry.UnregisterClient(clientID)
		}
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			sender.markClosed()
			return
		}
		var cmd Command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			sender.Send(mustMarshal(Response{Type: "error", Message: "malformed command"}))
			continue
		}
		switch cmd.Command {
		case "start_streaming":
			if !streaming {
				s.registry.RegisterClient(clientID, sender)
				streaming = true
			}
			sender.Send(mustMarshal(Response{Type: "response", Status: "streaming"}))
		case "stop_streaming":
			if streaming {
				s.registry.UnregisterClient(clientID)
				streaming = false
			}
			sender.Send(mustMarshal(Response{Type: "response", Status: "stopped"}))
		case "get_status":
			if s.status != nil {
				sender.Send(mustMarshal(s.status()))
			}
		default:
			sender.Send(mustMarshal(Response{Type: "error", Message: "unknown command"}))
		}
	}
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"type":"error","message":"internal encoding error"}`)
	}
	return b
}

// connSender adapts a *websocket.Conn to broadcast.Sender, tracking
// connection closure so the hub can distinguish a transient write failure
// (rate decrement) from a permanently gone client (prune) — spec §7.
type connSender struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func newConnSender(conn *websocket.Conn) *connSender {
	return &connSender{conn: conn}
}

func (c *connSender) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Send serializes writes under mu: gorilla/websocket permits only one
// concurrent writer per connection, and both the hub's broadcast goroutine
// and this connection's own reader goroutine (replying to commands) call
// Send.
func (c *connSender) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return broadcast.ErrClientClosed
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}
