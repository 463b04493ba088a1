package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"macrorec/internal/input"
	"macrorec/internal/protocol"

	"github.com/gorilla/websocket"
)

const broadcastBuffer = 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The server binds to localhost only
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSManager handles WebSocket connections and broadcasting
type WSManager struct {
	server     *Server
	clients    map[*WebSocketClient]bool
	clientsMu  sync.RWMutex
	broadcast  chan protocol.Message
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	shutdown   chan struct{}
	stopOnce   sync.Once
	dropped    atomic.Int64
}

// WebSocketClient represents a connected stream consumer
type WebSocketClient struct {
	manager *WSManager
	conn    *websocket.Conn
	send    chan []byte
	ip      string
}

func newWSManager(s *Server) *WSManager {
	return &WSManager{
		server:     s,
		clients:    make(map[*WebSocketClient]bool),
		broadcast:  make(chan protocol.Message, broadcastBuffer),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
		shutdown:   make(chan struct{}),
	}
}

func (m *WSManager) start() {
	for {
		select {
		case client := <-m.register:
			m.clientsMu.Lock()
			m.clients[client] = true
			n := len(m.clients)
			m.clientsMu.Unlock()
			log.Printf("WS: New client registered from %s. Total clients: %d", client.ip, n)

		case client := <-m.unregister:
			m.clientsMu.Lock()
			if _, ok := m.clients[client]; ok {
				delete(m.clients, client)
				close(client.send)
				log.Printf("WS: Client unregistered from %s. Total clients: %d", client.ip, len(m.clients))
			}
			m.clientsMu.Unlock()

		case message := <-m.broadcast:
			m.broadcastMessage(message)

		case <-m.shutdown:
			m.clientsMu.Lock()
			for client := range m.clients {
				delete(m.clients, client)
				close(client.send)
			}
			m.clientsMu.Unlock()
			return
		}
	}
}

func (m *WSManager) stop() {
	m.stopOnce.Do(func() { close(m.shutdown) })
}

func (m *WSManager) broadcastMessage(message protocol.Message) {
	jsonMsg, err := json.Marshal(message)
	if err != nil {
		log.Printf("WS: Failed to marshal broadcast message: %v", err)
		return
	}

	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()

	for client := range m.clients {
		select {
		case client.send <- jsonMsg:
		default:
			// Slow consumer, drop it rather than stall the stream
			close(client.send)
			delete(m.clients, client)
		}
	}
}

// enqueue never blocks. Events arrive on the hook thread.
func (m *WSManager) enqueue(msg protocol.Message) {
	select {
	case m.broadcast <- msg:
	default:
		m.dropped.Add(1)
	}
}

// BroadcastEvent streams one resolved input event to all clients
func (m *WSManager) BroadcastEvent(ev input.Event) {
	m.enqueue(protocol.NewEventMessage(ev))
}

// BroadcastStatus tells all clients the recording state
func (m *WSManager) BroadcastStatus(status protocol.StatusPayload) {
	m.enqueue(protocol.Message{Type: protocol.TypeStatus, Payload: status})
}

// ClientCount returns the number of connected clients
func (m *WSManager) ClientCount() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

// Dropped returns how many broadcasts were discarded because the hub was saturated
func (m *WSManager) Dropped() int64 {
	return m.dropped.Load()
}

func (m *WSManager) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WS: Failed to upgrade connection: %v", err)
		return
	}

	client := &WebSocketClient{
		manager: m,
		conn:    conn,
		send:    make(chan []byte, 256),
		ip:      r.RemoteAddr,
	}

	// Queued before registration so it is always the first frame
	if data, err := json.Marshal(protocol.Message{Type: protocol.TypeStatus, Payload: m.server.status()}); err == nil {
		client.send <- data
	}

	select {
	case m.register <- client:
	case <-m.shutdown:
		conn.Close()
		return
	}

	// Start pump goroutines
	go client.writePump()
	go client.readPump()
}

// reply queues a message for this client only
func (c *WebSocketClient) reply(msg protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.manager.clientsMu.RLock()
	defer c.manager.clientsMu.RUnlock()
	if !c.manager.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// readPump pumps messages from the websocket connection to the hub.
func (c *WebSocketClient) readPump() {
	defer func() {
		select {
		case c.manager.unregister <- c:
		case <-c.manager.shutdown:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WS: Read error: %v", err)
			}
			break
		}

		c.handleMessage(message)
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(50 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WebSocketClient) handleMessage(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("WS: Invalid message format: %v", err)
		c.replyError("invalid message format")
		return
	}

	switch msg.Type {
	case protocol.TypeAuth:
		var payload protocol.AuthPayload
		if err := protocol.DecodePayload(msg, &payload); err != nil {
			c.replyError(err.Error())
			return
		}
		if token := c.manager.server.token(); token != "" && payload.Token != token {
			log.Printf("WS: Rejected auth from %s", c.ip)
			c.replyError("invalid token")
			return
		}
		log.Printf("WS: Client %s %s authenticated from %s", payload.ClientName, payload.ClientVersion, c.ip)

	case protocol.TypeSuppress:
		var payload protocol.SuppressPayload
		if err := protocol.DecodePayload(msg, &payload); err != nil || payload.DurationMs < 0 {
			c.replyError("invalid suppress payload")
			return
		}
		c.manager.server.recorder.Suppress(time.Duration(payload.DurationMs) * time.Millisecond)

	case protocol.TypePing:
		c.reply(protocol.Message{Type: protocol.TypePing})

	default:
		c.replyError("unsupported message type " + string(msg.Type))
	}
}

func (c *WebSocketClient) replyError(message string) {
	c.reply(protocol.Message{Type: protocol.TypeError, Payload: protocol.ErrorPayload{Message: message}})
}
